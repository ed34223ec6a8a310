package download

import (
	"github.com/Romern/syncMyMoodle/internal/filetree"
)

// Outcome is the result class of one leaf.
type Outcome string

// Outcomes.
const (
	OutcomeDownloaded Outcome = "downloaded"
	OutcomeSkipped    Outcome = "skipped"
	OutcomeFailed     Outcome = "failed"
)

// Skip reasons.
const (
	ReasonExists       = "exists"
	ReasonExcludedType = "excluded file type"
	ReasonExcludedName = "excluded file name"
	ReasonNoRenderer   = "wkhtmltopdf not installed"
)

// Result describes what happened to one leaf.
type Result struct {
	// Path is the destination on disk. For YouTube videos it is the
	// directory yt-dlp writes into unless the produced file was found.
	Path string `json:"path"`

	URL      string        `json:"url"`
	Kind     filetree.Kind `json:"kind"`
	CourseID int           `json:"course_id,omitempty"`
	Outcome  Outcome       `json:"outcome"`

	// Reason explains a skip.
	Reason string `json:"reason,omitempty"`

	// Bytes is the size of the finished file.
	Bytes int64 `json:"bytes,omitempty"`

	// Digest is the hex encoded BLAKE2b-256 of the finished file.
	Digest string `json:"digest,omitempty"`

	Err error `json:"-"`
}

// Error returns the failure message, or "" when the leaf did not fail.
func (r Result) Error() string {
	if r.Err == nil {
		return ""
	}
	return r.Err.Error()
}

// Summary aggregates the results of a run in tree order.
type Summary struct {
	Results    []Result
	Downloaded int
	Skipped    int
	Failed     int

	// Bytes counts the bytes of downloaded files.
	Bytes int64
}

func summarize(results []Result) *Summary {
	s := &Summary{Results: results}
	for _, r := range results {
		switch r.Outcome {
		case OutcomeDownloaded:
			s.Downloaded++
			s.Bytes += r.Bytes
		case OutcomeSkipped:
			s.Skipped++
		case OutcomeFailed:
			s.Failed++
		}
	}
	return s
}

// Failures returns the failed results.
func (s *Summary) Failures() []Result {
	var failed []Result
	for _, r := range s.Results {
		if r.Outcome == OutcomeFailed {
			failed = append(failed, r)
		}
	}
	return failed
}
