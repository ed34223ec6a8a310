package report

import (
	"fmt"
	"io"
	"strings"

	"github.com/Romern/syncMyMoodle/internal/model"
)

// SimpleWriter outputs human-readable text reports.
type SimpleWriter struct {
	baseWriter

	// verbose lists every downloaded file, not only failures.
	verbose bool
}

// SimpleWriterOption configures a SimpleWriter.
type SimpleWriterOption func(*SimpleWriter)

// WithVerbose enables verbose output with additional details.
func WithVerbose(verbose bool) SimpleWriterOption {
	return func(w *SimpleWriter) {
		w.verbose = verbose
	}
}

// NewSimpleWriter creates a SimpleWriter that outputs to the given writer.
func NewSimpleWriter(output io.Writer, opts ...SimpleWriterOption) *SimpleWriter {
	w := &SimpleWriter{baseWriter: newBaseWriter(output)}
	for _, opt := range opts {
		opt(w)
	}
	return w
}

// Write outputs the report in human-readable format.
func (w *SimpleWriter) Write(report *model.SyncReport) (int, error) {
	var sb strings.Builder

	w.writeHeader(&sb, report)
	w.writeSummary(&sb, report)
	w.writeCourses(&sb, report)
	w.writeFiles(&sb, report)

	sb.WriteString(strings.Repeat("=", 70))
	sb.WriteString("\n")

	return w.output.Write([]byte(sb.String()))
}

func section(sb *strings.Builder, title string) {
	sb.WriteString(strings.Repeat("-", 70))
	sb.WriteString("\n")
	sb.WriteString(title)
	sb.WriteString("\n")
	sb.WriteString(strings.Repeat("-", 70))
	sb.WriteString("\n\n")
}

func (w *SimpleWriter) writeHeader(sb *strings.Builder, report *model.SyncReport) {
	sb.WriteString("\n")
	sb.WriteString(strings.Repeat("=", 70))
	sb.WriteString("\n")
	sb.WriteString("                        SYNCMYMOODLE REPORT\n")
	sb.WriteString(strings.Repeat("=", 70))
	sb.WriteString("\n\n")

	user := report.User
	if report.FullName != "" {
		user = fmt.Sprintf("%s (%s)", report.FullName, report.User)
	}
	fmt.Fprintf(sb, "User:      %s\n", user)
	fmt.Fprintf(sb, "Moodle:    %s\n", report.MoodleURL)
	fmt.Fprintf(sb, "Started:   %s\n", report.StartedAt.Format(timeLayout))
	fmt.Fprintf(sb, "Duration:  %s\n", formatDuration(report.Duration()))
	if report.RunID != "" {
		fmt.Fprintf(sb, "Run:       %s\n", report.RunID)
	}
	if report.DryRun {
		sb.WriteString("Mode:      dry run\n")
	}
	fmt.Fprintf(sb, "Status:    %s\n\n", statusText(report))
}

func (w *SimpleWriter) writeSummary(sb *strings.Builder, report *model.SyncReport) {
	section(sb, "SUMMARY")
	fmt.Fprintf(sb, "  Courses:     %d (%d skipped)\n", len(report.Courses), report.SkippedCourses)
	fmt.Fprintf(sb, "  Files:       %d\n", report.TotalFiles)
	fmt.Fprintf(sb, "  Downloaded:  %d (%s)\n", report.Downloaded, formatBytes(report.Bytes))
	fmt.Fprintf(sb, "  Up to date:  %d\n", report.Skipped)
	fmt.Fprintf(sb, "  Failed:      %d\n\n", report.Failed)
}

func (w *SimpleWriter) writeCourses(sb *strings.Builder, report *model.SyncReport) {
	if len(report.Courses) == 0 {
		return
	}
	section(sb, "COURSES")
	for _, c := range report.Courses {
		fmt.Fprintf(sb, "  [%s] %s: %d files", c.Semester, c.Name, c.Files)
		if problems := c.ModuleErrors + c.LinkErrors; problems > 0 {
			fmt.Fprintf(sb, ", %d problems", problems)
		}
		sb.WriteString("\n")
		if c.Error != "" {
			fmt.Fprintf(sb, "      error: %s\n", c.Error)
		}
	}
	sb.WriteString("\n")
}

func (w *SimpleWriter) writeFiles(sb *strings.Builder, report *model.SyncReport) {
	if w.verbose {
		var downloaded []model.FileResult
		for _, f := range report.Files {
			if f.Error == "" {
				downloaded = append(downloaded, f)
			}
		}
		if len(downloaded) > 0 {
			section(sb, "DOWNLOADED")
			for _, f := range downloaded {
				fmt.Fprintf(sb, "  [+] %s (%s)\n", f.Path, formatBytes(f.Bytes))
			}
			sb.WriteString("\n")
		}
	}

	failed := report.FailedFiles()
	if len(failed) == 0 {
		return
	}
	section(sb, "FAILED")
	for _, f := range failed {
		fmt.Fprintf(sb, "  [!] %s\n", f.Path)
		fmt.Fprintf(sb, "      %s\n", f.Error)
	}
	sb.WriteString("\n")
}
