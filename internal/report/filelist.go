package report

import (
	"bufio"
	"io"

	"github.com/Romern/syncMyMoodle/internal/filetree"
)

// FileListWriter prints the virtual file tree, one path per line.
type FileListWriter struct {
	baseWriter

	// leavesOnly restricts the listing to downloadable files.
	leavesOnly bool
}

// FileListOption configures a FileListWriter.
type FileListOption func(*FileListWriter)

// WithLeavesOnly lists only the files that would be downloaded.
func WithLeavesOnly(leavesOnly bool) FileListOption {
	return func(w *FileListWriter) {
		w.leavesOnly = leavesOnly
	}
}

// NewFileListWriter creates a FileListWriter that outputs to the given writer.
func NewFileListWriter(output io.Writer, opts ...FileListOption) *FileListWriter {
	w := &FileListWriter{baseWriter: newBaseWriter(output)}
	for _, opt := range opts {
		opt(w)
	}
	return w
}

// WriteTree writes the paths of root in pre-order.
func (w *FileListWriter) WriteTree(root *filetree.Node) (int, error) {
	var paths []string
	if w.leavesOnly {
		for _, leaf := range root.Leaves() {
			paths = append(paths, "/"+leaf.RelPath())
		}
	} else {
		paths = root.ListFiles()
	}

	bw := bufio.NewWriter(w.output)
	total := 0
	for _, p := range paths {
		n, err := bw.WriteString(p + "\n")
		total += n
		if err != nil {
			return total, err
		}
	}
	return total, bw.Flush()
}
