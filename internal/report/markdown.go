package report

import (
	"io"
	"strconv"

	"github.com/nao1215/markdown"
	"github.com/nao1215/markdown/mermaid/piechart"

	"github.com/Romern/syncMyMoodle/internal/model"
)

// MarkdownWriter outputs reports in Markdown format.
type MarkdownWriter struct {
	baseWriter
}

// NewMarkdownWriter creates a MarkdownWriter that outputs to the given writer.
func NewMarkdownWriter(output io.Writer) *MarkdownWriter {
	return &MarkdownWriter{baseWriter: newBaseWriter(output)}
}

// Write outputs the report in Markdown format.
func (w *MarkdownWriter) Write(report *model.SyncReport) (int, error) {
	md := markdown.NewMarkdown(w.output)

	w.writeHeader(md, report)
	w.writeSummary(md, report)
	w.writeCourses(md, report)
	w.writeFailures(md, report)

	md.HorizontalRule()
	md.PlainText("")
	md.PlainTextf("*Report generated by [syncMyMoodle](https://github.com/Romern/syncMyMoodle)*")

	return len(md.String()), md.Build()
}

func (w *MarkdownWriter) writeHeader(md *markdown.Markdown, report *model.SyncReport) {
	md.H1("syncMyMoodle Report")
	md.PlainText("")

	rows := [][]string{
		{"User", "`" + report.User + "`"},
		{"Moodle", report.MoodleURL},
		{"Started", report.StartedAt.Format(timeLayout)},
		{"Duration", formatDuration(report.Duration())},
		{"Status", statusText(report)},
	}
	if report.RunID != "" {
		rows = append(rows, []string{"Run", "`" + report.RunID + "`"})
	}
	if report.DryRun {
		rows = append(rows, []string{"Mode", "dry run"})
	}
	md.Table(markdown.TableSet{
		Header: []string{"Property", "Value"},
		Rows:   rows,
	})
	md.PlainText("")
}

func (w *MarkdownWriter) writeSummary(md *markdown.Markdown, report *model.SyncReport) {
	md.H2("Summary")
	md.PlainText("")
	md.Table(markdown.TableSet{
		Header: []string{"Files", "Count"},
		Rows: [][]string{
			{"Downloaded", strconv.Itoa(report.Downloaded) + " (" + formatBytes(report.Bytes) + ")"},
			{"Up to date", strconv.Itoa(report.Skipped)},
			{"Failed", strconv.Itoa(report.Failed)},
			{"**Total**", "**" + strconv.Itoa(report.TotalFiles) + "**"},
		},
	})
	md.PlainText("")

	if report.Downloaded+report.Skipped+report.Failed > 0 {
		chart := piechart.NewPieChart(
			io.Discard,
			piechart.WithTitle("Files"),
			piechart.WithShowData(true),
		)
		if report.Downloaded > 0 {
			chart.LabelAndIntValue("Downloaded", uint64(report.Downloaded))
		}
		if report.Skipped > 0 {
			chart.LabelAndIntValue("Up to date", uint64(report.Skipped))
		}
		if report.Failed > 0 {
			chart.LabelAndIntValue("Failed", uint64(report.Failed))
		}
		md.CodeBlocks(markdown.SyntaxHighlightMermaid, chart.String())
		md.PlainText("")
	}

	switch report.Status() {
	case model.StatusFailed:
		md.Cautionf("The sync was aborted: %s", report.ErrorMessage)
	case model.StatusCanceled:
		md.Warningf("The sync was canceled after %d downloads.", report.Downloaded)
	case model.StatusPartial:
		md.Importantf("%d file(s) and %d course(s) failed.", report.Failed, report.CourseErrors())
	default:
		md.Tip("Everything is in sync.")
	}
	md.PlainText("")
}

func (w *MarkdownWriter) writeCourses(md *markdown.Markdown, report *model.SyncReport) {
	md.H2("Courses")
	md.PlainText("")
	if len(report.Courses) == 0 {
		md.PlainText("No courses synced.")
		md.PlainText("")
		return
	}

	rows := make([][]string, len(report.Courses))
	for i, c := range report.Courses {
		status := "ok"
		if c.Error != "" {
			status = truncateString(c.Error, 60)
		}
		rows[i] = []string{
			c.Semester,
			truncateString(c.Name, 50),
			strconv.Itoa(c.Files),
			strconv.Itoa(c.ModuleErrors + c.LinkErrors),
			status,
		}
	}
	md.Table(markdown.TableSet{
		Header: []string{"Semester", "Course", "Files", "Problems", "Status"},
		Rows:   rows,
	})
	md.PlainText("")
}

func (w *MarkdownWriter) writeFailures(md *markdown.Markdown, report *model.SyncReport) {
	failed := report.FailedFiles()
	if len(failed) == 0 {
		return
	}
	md.H2("Failed Files")
	md.PlainText("")

	rows := make([][]string, len(failed))
	for i, f := range failed {
		rows[i] = []string{
			"`" + truncateString(f.Path, 80) + "`",
			f.Kind,
			truncateString(f.Error, 80),
		}
	}
	md.Table(markdown.TableSet{
		Header: []string{"Path", "Type", "Error"},
		Rows:   rows,
	})
	md.PlainText("")

	for _, f := range failed {
		if f.URL != "" {
			md.Details(f.Path, f.URL)
		}
	}
	md.PlainText("")
}
