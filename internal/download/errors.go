package download

import "errors"

var (
	// ErrToolNotFound is returned when an external program is not installed.
	ErrToolNotFound = errors.New("external tool not found")

	// ErrContentRange is returned when a server resumes at another offset
	// than requested.
	ErrContentRange = errors.New("unexpected content range")

	// ErrNoURL is returned for leaves without a download URL.
	ErrNoURL = errors.New("node has no url")
)
