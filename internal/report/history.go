package report

import (
	"fmt"
	"io"
	"strconv"
	"strings"
	"text/tabwriter"

	"github.com/dustin/go-humanize"
	"github.com/nao1215/markdown"

	"github.com/Romern/syncMyMoodle/internal/database"
)

// HistoryWriter prints recorded sync runs.
type HistoryWriter struct {
	baseWriter
	format Format
}

// NewHistoryWriter creates a HistoryWriter. FormatJSON writes a JSON array,
// FormatMarkdown a table, anything else aligned text columns.
func NewHistoryWriter(output io.Writer, format Format) *HistoryWriter {
	return &HistoryWriter{baseWriter: newBaseWriter(output), format: format}
}

type historyEntry struct {
	ID         string  `json:"id"`
	StartedAt  string  `json:"started_at"`
	Status     string  `json:"status"`
	DryRun     bool    `json:"dry_run"`
	Courses    int     `json:"courses"`
	Downloaded int     `json:"downloaded"`
	Skipped    int     `json:"skipped"`
	Failed     int     `json:"failed"`
	Seconds    float64 `json:"duration_seconds"`
}

// WriteRuns writes runs in the configured format.
func (w *HistoryWriter) WriteRuns(runs []database.Run) (int, error) {
	switch w.format {
	case FormatJSON:
		entries := make([]historyEntry, len(runs))
		for i, r := range runs {
			entries[i] = historyEntry{
				ID:         r.ID,
				StartedAt:  r.StartedAt.Format("2006-01-02T15:04:05Z07:00"),
				Status:     string(r.Status),
				DryRun:     r.DryRun,
				Courses:    r.Courses,
				Downloaded: r.Downloaded,
				Skipped:    r.Skipped,
				Failed:     r.Failed,
				Seconds:    r.Duration().Seconds(),
			}
		}
		return NewJSONWriter(w.output, WithPrettyPrint()).writeJSON(entries)
	case FormatMarkdown:
		return w.writeMarkdown(runs)
	default:
		return w.writeText(runs)
	}
}

func runRow(r database.Run) []string {
	status := string(r.Status)
	if r.DryRun {
		status += " (dry run)"
	}
	return []string{
		r.ID,
		humanize.Time(r.StartedAt),
		status,
		strconv.Itoa(r.Courses),
		strconv.Itoa(r.Downloaded),
		strconv.Itoa(r.Skipped),
		strconv.Itoa(r.Failed),
		formatDuration(r.Duration()),
	}
}

var historyHeader = []string{"RUN", "STARTED", "STATUS", "COURSES", "DOWNLOADED", "SKIPPED", "FAILED", "DURATION"}

func (w *HistoryWriter) writeText(runs []database.Run) (int, error) {
	if len(runs) == 0 {
		return fmt.Fprintln(w.output, "No sync runs recorded.")
	}
	var sb strings.Builder
	tw := tabwriter.NewWriter(&sb, 0, 0, 2, ' ', 0)
	fmt.Fprintln(tw, strings.Join(historyHeader, "\t"))
	for _, r := range runs {
		fmt.Fprintln(tw, strings.Join(runRow(r), "\t"))
	}
	if err := tw.Flush(); err != nil {
		return 0, err
	}
	return io.WriteString(w.output, sb.String())
}

func (w *HistoryWriter) writeMarkdown(runs []database.Run) (int, error) {
	md := markdown.NewMarkdown(w.output)
	md.H1("Sync History")
	md.PlainText("")
	if len(runs) == 0 {
		md.PlainText("No sync runs recorded.")
		return len(md.String()), md.Build()
	}
	rows := make([][]string, len(runs))
	for i, r := range runs {
		rows[i] = runRow(r)
	}
	md.Table(markdown.TableSet{Header: historyHeader, Rows: rows})
	return len(md.String()), md.Build()
}
