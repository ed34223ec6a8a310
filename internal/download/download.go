package download

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"os"
	"path"
	"strings"
	"sync"
	"time"

	"github.com/bmatcuk/doublestar/v4"
	"golang.org/x/sync/errgroup"

	"github.com/Romern/syncMyMoodle/internal/filetree"
	"github.com/Romern/syncMyMoodle/internal/session"
)

const (
	defaultWorkers = 4
	defaultRetries = 3
	defaultBackoff = 500 * time.Millisecond
)

// Doer sends download requests. The download client of *session.Client
// satisfies it.
type Doer interface {
	Do(req *http.Request) (*http.Response, error)
}

// Getter fetches pages with the logged-in session. *session.Client
// satisfies it.
type Getter interface {
	Get(ctx context.Context, rawURL string) (*session.Page, error)
}

// Downloader writes tree leaves below a base directory.
type Downloader struct {
	client Doer
	pages  Getter
	runner Runner

	baseDir string

	// excludeTypes holds file extensions without the leading dot.
	excludeTypes []string

	// excludeFiles holds doublestar patterns matched against node names.
	excludeFiles []string

	workers int
	retries int
	backoff time.Duration

	// ytdlp and wkhtmltopdf are program paths; empty disables them.
	ytdlp       string
	wkhtmltopdf string

	onResult func(Result)
	logger   *slog.Logger

	rendererWarning sync.Once
	paths           pathLocks
}

// Option configures a Downloader.
type Option func(*Downloader)

// WithExcludeFileTypes skips files with the given extensions. Entries may
// carry a leading dot.
func WithExcludeFileTypes(types []string) Option {
	return func(d *Downloader) {
		d.excludeTypes = d.excludeTypes[:0]
		for _, t := range types {
			if t = strings.TrimPrefix(strings.TrimSpace(t), "."); t != "" {
				d.excludeTypes = append(d.excludeTypes, t)
			}
		}
	}
}

// WithExcludeFiles skips files whose name matches one of the glob patterns.
func WithExcludeFiles(patterns []string) Option {
	return func(d *Downloader) {
		d.excludeFiles = patterns
	}
}

// WithConcurrency sets the number of parallel downloads.
func WithConcurrency(n int) Option {
	return func(d *Downloader) {
		if n > 0 {
			d.workers = n
		}
	}
}

// WithRetries sets the number of attempts per file and the base backoff
// between them. The n-th retry waits n times backoff.
func WithRetries(attempts int, backoff time.Duration) Option {
	return func(d *Downloader) {
		if attempts > 0 {
			d.retries = attempts
		}
		if backoff >= 0 {
			d.backoff = backoff
		}
	}
}

// WithYTDLP sets the yt-dlp program.
func WithYTDLP(p string) Option {
	return func(d *Downloader) {
		d.ytdlp = p
	}
}

// WithWKHTMLToPDF sets the wkhtmltopdf program.
func WithWKHTMLToPDF(p string) Option {
	return func(d *Downloader) {
		d.wkhtmltopdf = p
	}
}

// WithRunner replaces the runner for external programs.
func WithRunner(r Runner) Option {
	return func(d *Downloader) {
		d.runner = r
	}
}

// WithResultHandler registers fn to be called after every leaf. Calls may
// come from several goroutines at once.
func WithResultHandler(fn func(Result)) Option {
	return func(d *Downloader) {
		d.onResult = fn
	}
}

// WithLogger sets the logger.
func WithLogger(logger *slog.Logger) Option {
	return func(d *Downloader) {
		if logger != nil {
			d.logger = logger
		}
	}
}

// New returns a Downloader writing below baseDir. yt-dlp and wkhtmltopdf
// are looked up on PATH unless set by options.
func New(client Doer, pages Getter, baseDir string, opts ...Option) *Downloader {
	d := &Downloader{
		client:      client,
		pages:       pages,
		runner:      ExecRunner{},
		baseDir:     baseDir,
		workers:     defaultWorkers,
		retries:     defaultRetries,
		backoff:     defaultBackoff,
		ytdlp:       LookupTool("yt-dlp"),
		wkhtmltopdf: LookupTool("wkhtmltopdf"),
		logger:      slog.Default(),
	}
	for _, opt := range opts {
		opt(d)
	}
	return d
}

// Run downloads every pending leaf of root. Failures are reported in the
// summary; the returned error is only set when ctx ends the run.
func (d *Downloader) Run(ctx context.Context, root *filetree.Node) (*Summary, error) {
	leaves := root.Leaves()
	results := make([]Result, len(leaves))

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(d.workers)
	for i, leaf := range leaves {
		g.Go(func() error {
			if err := gctx.Err(); err != nil {
				return err
			}
			r := d.Download(gctx, leaf)
			if r.Outcome != OutcomeFailed {
				leaf.Downloaded = true
			}
			results[i] = r
			if d.onResult != nil {
				d.onResult(r)
			}
			return nil
		})
	}
	err := g.Wait()

	var done []Result
	for _, r := range results {
		if r.Outcome != "" {
			done = append(done, r)
		}
	}
	return summarize(done), err
}

// Download fetches one leaf.
func (d *Downloader) Download(ctx context.Context, n *filetree.Node) Result {
	r := Result{URL: n.URL, Kind: n.Type, CourseID: n.CourseID}
	if n.URL == "" {
		r.fail(ErrNoURL)
		return r
	}

	switch n.Type {
	case filetree.KindYoutube:
		d.youtube(ctx, n, &r)
	case filetree.KindQuiz:
		d.quiz(ctx, n, &r)
	case filetree.KindOpencast:
		d.file(ctx, renamed(n, OpencastFileName(n.Name, n.URL)), &r)
	default:
		d.file(ctx, n, &r)
	}

	if r.Outcome == OutcomeFailed && !errors.Is(r.Err, context.Canceled) {
		d.logger.Error("download failed", "path", r.Path, "type", string(r.Kind), "error", r.Err)
	}
	return r
}

func (r *Result) fail(err error) {
	r.Outcome = OutcomeFailed
	r.Err = err
}

func (r *Result) skip(reason string) {
	r.Outcome = OutcomeSkipped
	r.Reason = reason
}

// OpencastFileName returns the file name of a recording: the node name
// with ".mp4" appended when it lacks it, or the last URL segment when the
// name is empty.
func OpencastFileName(name, rawURL string) string {
	if strings.Contains(name, ".mp4") {
		return name
	}
	if name != "" {
		return name + ".mp4"
	}
	segment := path.Base(rawURL)
	if i := strings.IndexAny(segment, "?#"); i >= 0 {
		segment = segment[:i]
	}
	return segment
}

// renamed returns a detached copy of n with another name in the same
// directory.
func renamed(n *filetree.Node, name string) *filetree.Node {
	cp := *n
	cp.Name = name
	cp.Children = nil
	return &cp
}

// excluded returns the skip reason for a file name, or "".
func (d *Downloader) excluded(name string) string {
	ext := strings.TrimPrefix(path.Ext(name), ".")
	for _, t := range d.excludeTypes {
		if ext != "" && ext == t {
			return ReasonExcludedType
		}
	}
	base := path.Base(name)
	for _, pattern := range d.excludeFiles {
		if ok, err := doublestar.Match(pattern, name); err == nil && ok {
			return ReasonExcludedName
		}
		if ok, err := doublestar.Match(pattern, base); err == nil && ok {
			return ReasonExcludedName
		}
	}
	return ""
}

func exists(p string) bool {
	_, err := os.Stat(p)
	return err == nil
}
