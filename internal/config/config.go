package config

import (
	"path/filepath"
	"time"

	"github.com/adrg/xdg"
)

// Default configuration values.
const (
	// DefaultMoodleURL is the RWTH Moodle instance.
	DefaultMoodleURL = "https://moodle.rwth-aachen.de"

	// DefaultEngageURL is the Opencast engage server that hosts lecture recordings.
	DefaultEngageURL = "https://engage.streaming.rwth-aachen.de"

	// DefaultScieboURL is the Sciebo instance used for public share links.
	DefaultScieboURL = "https://rwth-aachen.sciebo.de"

	// DefaultCookieFile stores the session cookies between runs.
	// The path is relative to the working directory.
	DefaultCookieFile = "./session"

	// DefaultBaseDir is the directory the course tree is mirrored into.
	DefaultBaseDir = "./"

	// DefaultTimeout applies to each HTTP request.
	// Large lecture recordings stream for a long time, so the download
	// client uses DefaultDownloadTimeout instead.
	DefaultTimeout = 60 * time.Second

	// DefaultDownloadTimeout bounds a single file transfer.
	// Zero would mean no limit; an hour covers multi-gigabyte recordings.
	DefaultDownloadTimeout = time.Hour

	// DefaultConcurrency is the number of courses crawled and files
	// downloaded in parallel.
	DefaultConcurrency = 4

	// DefaultRateLimit is the sustained number of requests per second sent
	// to the Moodle servers. Zero disables pacing.
	DefaultRateLimit = 10.0

	// DefaultRetries is the number of attempts for one file download.
	DefaultRetries = 3

	// AppName is the application name used for XDG directory paths.
	AppName = "syncmymoodle"

	// DefaultUserAgent identifies the client in HTTP requests.
	DefaultUserAgent = "syncMyMoodle (+https://github.com/Romern/syncMyMoodle)"
)

// Config holds all configuration options for syncmymoodle.
// It is populated from the configuration files and CLI flags and passed
// through the application explicitly.
type Config struct {
	// User is the RWTH single sign-on user name (e.g. "ab123456").
	User string

	// Password is the single sign-on password.
	// It is never written to logs; the secure log handler masks it.
	Password string

	// CookieFile is the path where session cookies are persisted.
	// A valid session lets the next run skip the identity provider.
	CookieFile string

	// SelectedCourses restricts the sync to courses whose URL or id is
	// listed here. An entry matches when it contains the course id, so both
	// "12345" and "https://moodle.rwth-aachen.de/course/view.php?id=12345"
	// select course 12345. Empty means all courses.
	SelectedCourses []string

	// SkipCourses lists courses that are never synced, using the same
	// matching rule as SelectedCourses.
	SkipCourses []string

	// OnlySyncSemester limits the sync to semesters such as "22ss" or
	// "21ws". It is ignored when SelectedCourses is non-empty.
	OnlySyncSemester []string

	// BaseDir is the directory the course tree is mirrored into.
	BaseDir string

	// NoLinks disables following links found in pages, labels and
	// descriptions. Directly attached files are still downloaded.
	NoLinks bool

	// ExcludeFileTypes lists file extensions (with or without the leading
	// dot) that are never downloaded, e.g. "mp4".
	ExcludeFileTypes []string

	// ExcludeFiles lists glob patterns matched against file names.
	// Patterns use doublestar syntax, so "**" crosses directory boundaries.
	ExcludeFiles []string

	// Modules controls which Moodle module types are synced.
	Modules UsedModules

	// MoodleURL is the base URL of the Moodle instance.
	MoodleURL string

	// EngageURL is the base URL of the Opencast engage server.
	EngageURL string

	// ScieboURL is the base URL of the Sciebo instance.
	ScieboURL string

	// Timeout is the per-request timeout for API and page requests.
	Timeout time.Duration

	// DownloadTimeout is the per-file timeout for downloads.
	DownloadTimeout time.Duration

	// Concurrency is the number of courses crawled and files downloaded
	// in parallel.
	Concurrency int

	// RateLimit caps the requests per second sent to the servers.
	// Zero disables pacing.
	RateLimit float64

	// Retries is the number of attempts for one file download.
	Retries int

	// Proxy is an optional SOCKS5 proxy in "host:port" format.
	Proxy string

	// UserAgent is the User-Agent header sent with HTTP requests.
	UserAgent string

	// Verbose enables detailed log output using slog.LevelDebug.
	// When false, only warnings and errors are logged.
	Verbose bool

	// ConfigFilePath is an explicit configuration file.
	// When set, the XDG and working directory files are not consulted.
	ConfigFilePath string

	// DryRun lists the files that would be synced without downloading.
	DryRun bool

	// DumpFileTree is a path the crawled tree is written to. A ".dot"
	// extension selects Graphviz output, anything else JSON.
	DumpFileTree string

	// JSONReport enables JSON output of the sync report.
	// Mutually exclusive with MarkdownReport.
	JSONReport bool

	// MarkdownReport enables Markdown output of the sync report.
	// Mutually exclusive with JSONReport.
	MarkdownReport bool

	// ReportFile is the output file path for the report.
	// When empty, the report is written to stdout.
	ReportFile string

	// DBDir is the directory of the sync state database.
	// When empty, sync runs are not recorded.
	DBDir string
}

// NewConfig creates a new Config with default values.
func NewConfig() *Config {
	return &Config{
		CookieFile:      DefaultCookieFile,
		BaseDir:         DefaultBaseDir,
		Modules:         DefaultUsedModules(),
		MoodleURL:       DefaultMoodleURL,
		EngageURL:       DefaultEngageURL,
		ScieboURL:       DefaultScieboURL,
		Timeout:         DefaultTimeout,
		DownloadTimeout: DefaultDownloadTimeout,
		Concurrency:     DefaultConcurrency,
		RateLimit:       DefaultRateLimit,
		Retries:         DefaultRetries,
		UserAgent:       DefaultUserAgent,
	}
}

// XDGDataDir returns the XDG data directory for syncmymoodle.
// On Linux: ~/.local/share/syncmymoodle
// On macOS: ~/Library/Application Support/syncmymoodle
// On Windows: %LOCALAPPDATA%\syncmymoodle
func XDGDataDir() string {
	return filepath.Join(xdg.DataHome, AppName)
}

// XDGConfigDir returns the XDG config directory for syncmymoodle.
// On Linux: ~/.config/syncmymoodle
// On macOS: ~/Library/Application Support/syncmymoodle
// On Windows: %APPDATA%\syncmymoodle
func XDGConfigDir() string {
	return filepath.Join(xdg.ConfigHome, AppName)
}

// XDGCacheDir returns the XDG cache directory for syncmymoodle.
func XDGCacheDir() string {
	return filepath.Join(xdg.CacheHome, AppName)
}

// Validate checks if the configuration is valid.
// It returns the first error found.
func (c *Config) Validate() error {
	if c.User == "" {
		return ErrNoUser
	}
	if c.Password == "" {
		return ErrNoPassword
	}
	if c.BaseDir == "" {
		return ErrNoBaseDir
	}
	if c.MoodleURL == "" {
		return ErrNoMoodleURL
	}
	if c.Timeout <= 0 {
		return ErrInvalidTimeout
	}
	if c.Concurrency <= 0 {
		return ErrInvalidConcurrency
	}
	if c.RateLimit < 0 {
		return ErrInvalidRateLimit
	}
	if c.JSONReport && c.MarkdownReport {
		return ErrConflictingReportFormats
	}
	return nil
}

// ValidateCredentials reports whether user name and password are present.
// It allows the CLI to prompt for a missing password before Validate runs.
func (c *Config) ValidateCredentials() error {
	if c.User == "" {
		return ErrNoUser
	}
	if c.Password == "" {
		return ErrNoPassword
	}
	return nil
}
