package report

import (
	"io"

	"github.com/goccy/go-json"

	"github.com/Romern/syncMyMoodle/internal/model"
)

// JSONWriter outputs reports in JSON format.
type JSONWriter struct {
	baseWriter

	// indent enables pretty-printed JSON output.
	indent bool

	indentPrefix string
	indentString string
}

// JSONWriterOption configures a JSONWriter.
type JSONWriterOption func(*JSONWriter)

// WithIndent enables pretty-printed JSON output.
// The prefix is prepended to each line, and indent is used for each level.
func WithIndent(prefix, indent string) JSONWriterOption {
	return func(w *JSONWriter) {
		w.indent = true
		w.indentPrefix = prefix
		w.indentString = indent
	}
}

// WithPrettyPrint enables pretty-printed JSON with two space indentation.
func WithPrettyPrint() JSONWriterOption {
	return WithIndent("", "  ")
}

// NewJSONWriter creates a JSONWriter that outputs to the given writer.
func NewJSONWriter(output io.Writer, opts ...JSONWriterOption) *JSONWriter {
	w := &JSONWriter{baseWriter: newBaseWriter(output)}
	for _, opt := range opts {
		opt(w)
	}
	return w
}

// jsonReport adds derived fields to the serialized report.
type jsonReport struct {
	*model.SyncReport

	Status          model.Status `json:"status"`
	DurationSeconds float64      `json:"duration_seconds"`
}

// Write outputs the report in JSON format.
func (w *JSONWriter) Write(report *model.SyncReport) (int, error) {
	return w.writeJSON(jsonReport{
		SyncReport:      report,
		Status:          report.Status(),
		DurationSeconds: report.Duration().Seconds(),
	})
}

// Marshal returns the compact JSON encoding of report. It is stored as the
// run summary in the state database.
func Marshal(report *model.SyncReport) ([]byte, error) {
	return json.Marshal(jsonReport{
		SyncReport:      report,
		Status:          report.Status(),
		DurationSeconds: report.Duration().Seconds(),
	})
}

func (w *JSONWriter) writeJSON(v any) (int, error) {
	var data []byte
	var err error

	if w.indent {
		data, err = json.MarshalIndent(v, w.indentPrefix, w.indentString)
	} else {
		data, err = json.Marshal(v)
	}
	if err != nil {
		return 0, err
	}

	data = append(data, '\n')
	return w.output.Write(data)
}
