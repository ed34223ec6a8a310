package config

import "errors"

// Configuration validation errors.
// These errors are returned by Config.Validate() so callers can use
// errors.Is() while users still get a readable message.
var (
	// ErrNoUser is returned when no single sign-on user name is configured.
	ErrNoUser = errors.New("no user specified: use --user or set \"user\" in the config file")

	// ErrNoPassword is returned when no password is configured and none was entered.
	ErrNoPassword = errors.New("no password specified: use --password or set \"password\" in the config file")

	// ErrNoBaseDir is returned when the download directory is empty.
	ErrNoBaseDir = errors.New("no base directory specified")

	// ErrNoMoodleURL is returned when the Moodle base URL is empty.
	ErrNoMoodleURL = errors.New("no moodle url specified")

	// ErrInvalidTimeout is returned when the timeout is not positive.
	ErrInvalidTimeout = errors.New("invalid timeout: must be positive")

	// ErrInvalidConcurrency is returned when the concurrency is not positive.
	ErrInvalidConcurrency = errors.New("invalid concurrency: must be positive")

	// ErrInvalidRateLimit is returned when the rate limit is negative.
	// Use 0 to disable pacing.
	ErrInvalidRateLimit = errors.New("invalid rate limit: must be non-negative")

	// ErrConflictingReportFormats is returned when both --json and --markdown
	// are specified. Only one output format can be used at a time.
	ErrConflictingReportFormats = errors.New("conflicting report formats: --json and --markdown cannot be used together")

	// ErrConfigNotFound is returned when the configuration file does not exist.
	ErrConfigNotFound = errors.New("configuration file not found")
)
