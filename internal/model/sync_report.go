package model

import "time"

// Status is the overall outcome of a sync run.
type Status string

// Run outcomes.
const (
	StatusSuccess  Status = "success"
	StatusPartial  Status = "partial"
	StatusFailed   Status = "failed"
	StatusCanceled Status = "canceled"
)

// SyncReport collects the results of one sync run.
type SyncReport struct {
	// RunID identifies the run in the state database. It is empty when
	// runs are not recorded.
	RunID string `json:"run_id,omitempty"`

	// User is the single sign-on user name.
	User string `json:"user"`

	// FullName is the name Moodle reports for the user.
	FullName string `json:"full_name,omitempty"`

	MoodleURL  string    `json:"moodle_url"`
	StartedAt  time.Time `json:"started_at"`
	FinishedAt time.Time `json:"finished_at"`

	// DryRun is set when files were listed instead of downloaded.
	DryRun bool `json:"dry_run"`

	// Canceled is set when the run was interrupted.
	Canceled bool `json:"canceled,omitempty"`

	Courses []CourseSummary `json:"courses"`

	// Skipped courses were filtered out by the course selection.
	SkippedCourses int `json:"skipped_courses"`

	// TotalFiles is the number of downloadable leaves in the tree.
	TotalFiles int `json:"total_files"`

	Downloaded int   `json:"downloaded"`
	Skipped    int   `json:"skipped"`
	Failed     int   `json:"failed"`
	Bytes      int64 `json:"bytes"`

	// Files lists every file that was downloaded or failed. Files that
	// already existed are only counted.
	Files []FileResult `json:"files,omitempty"`

	// PerformedSteps lists the pipeline steps that ran, in order.
	PerformedSteps []string `json:"performed_steps"`

	// Error is the error that aborted the run.
	Error error `json:"-"`

	// ErrorMessage is the string form of Error.
	ErrorMessage string `json:"error,omitempty"`
}

// CourseSummary is the crawl result of one course.
type CourseSummary struct {
	ID       int    `json:"id"`
	Name     string `json:"name"`
	Semester string `json:"semester"`

	// Files is the number of downloadable files found in the course.
	Files int `json:"files"`

	ModuleErrors int `json:"module_errors,omitempty"`
	LinkErrors   int `json:"link_errors,omitempty"`

	// Error is set when the course contents could not be fetched.
	Error string `json:"error,omitempty"`
}

// FileResult is the outcome of one file.
type FileResult struct {
	Path    string `json:"path"`
	URL     string `json:"url"`
	Kind    string `json:"kind"`
	Outcome string `json:"outcome"`
	Reason  string `json:"reason,omitempty"`
	Bytes   int64  `json:"bytes,omitempty"`
	Digest  string `json:"digest,omitempty"`
	Error   string `json:"error,omitempty"`
}

// NewSyncReport starts a report for user.
func NewSyncReport(user, moodleURL string, dryRun bool) *SyncReport {
	return &SyncReport{
		User:      user,
		MoodleURL: moodleURL,
		StartedAt: time.Now(),
		DryRun:    dryRun,
	}
}

// Fail records the error that aborted the run.
func (r *SyncReport) Fail(err error) {
	r.Error = err
	if err != nil {
		r.ErrorMessage = err.Error()
	}
}

// Finish sets the finish time.
func (r *SyncReport) Finish() {
	r.FinishedAt = time.Now()
}

// Duration returns the run time of a finished report.
func (r *SyncReport) Duration() time.Duration {
	if r.FinishedAt.IsZero() {
		return 0
	}
	return r.FinishedAt.Sub(r.StartedAt)
}

// CourseErrors returns the number of courses whose contents could not be
// fetched.
func (r *SyncReport) CourseErrors() int {
	n := 0
	for _, c := range r.Courses {
		if c.Error != "" {
			n++
		}
	}
	return n
}

// FailedFiles returns the files that could not be downloaded.
func (r *SyncReport) FailedFiles() []FileResult {
	var failed []FileResult
	for _, f := range r.Files {
		if f.Error != "" {
			failed = append(failed, f)
		}
	}
	return failed
}

// Status derives the overall outcome of the run.
func (r *SyncReport) Status() Status {
	switch {
	case r.Canceled:
		return StatusCanceled
	case r.ErrorMessage != "":
		return StatusFailed
	case r.Failed > 0 || r.CourseErrors() > 0:
		return StatusPartial
	default:
		return StatusSuccess
	}
}
