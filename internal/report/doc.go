// Package report writes sync reports and file listings.
//
// Writers:
//   - SimpleWriter: plain text for the terminal
//   - MarkdownWriter: Markdown for sharing and archiving
//   - JSONWriter: JSON for scripts
//
// FileListWriter prints the virtual file tree of a dry run, and
// HistoryWriter prints recorded sync runs.
package report
