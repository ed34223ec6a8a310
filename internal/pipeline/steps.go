package pipeline

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"strings"

	"github.com/Romern/syncMyMoodle/internal/auth"
	"github.com/Romern/syncMyMoodle/internal/crawler"
	"github.com/Romern/syncMyMoodle/internal/database"
	"github.com/Romern/syncMyMoodle/internal/download"
	"github.com/Romern/syncMyMoodle/internal/filetree"
	"github.com/Romern/syncMyMoodle/internal/model"
	"github.com/Romern/syncMyMoodle/internal/moodle"
	"github.com/Romern/syncMyMoodle/internal/opencast"
	"github.com/Romern/syncMyMoodle/internal/report"
)

// ErrNoTree is returned by steps that need a crawled tree when the crawl
// step did not run.
var ErrNoTree = errors.New("no file tree: crawl step did not run")

// Authenticator logs in and issues web service tokens.
// *auth.Authenticator satisfies it.
type Authenticator interface {
	Login(ctx context.Context) (string, error)
	Token(ctx context.Context, service string) (string, error)
}

// API is the Moodle web service API used during a sync.
// *moodle.Client satisfies it.
type API interface {
	crawler.API
	opencast.FormSource
	SiteInfo(ctx context.Context) (*moodle.SiteInfo, error)
}

// APIFactory builds the API for a token and session key.
type APIFactory func(token, sesskey string) API

// Syncer crawls the courses of a user. *crawler.Syncer satisfies it.
type Syncer interface {
	Sync(ctx context.Context, userID int) (*crawler.Result, error)
}

// SyncerFactory builds the crawler once the API and tokens are known.
type SyncerFactory func(state *State) Syncer

// Downloader fetches the leaves of a tree. *download.Downloader satisfies it.
type Downloader interface {
	Run(ctx context.Context, root *filetree.Node) (*download.Summary, error)
}

// LoginStep establishes the Moodle session.
type LoginStep struct {
	auth Authenticator
}

// NewLoginStep creates the login step.
func NewLoginStep(a Authenticator) *LoginStep {
	return &LoginStep{auth: a}
}

// Name returns the step name.
func (s *LoginStep) Name() string { return "login" }

// Do logs in and stores the session key.
func (s *LoginStep) Do(ctx context.Context, state *State) error {
	key, err := s.auth.Login(ctx)
	if err != nil {
		return fmt.Errorf("login: %w", err)
	}
	state.SessKey = key
	return nil
}

// TokenStep requests the web service tokens.
type TokenStep struct {
	auth     Authenticator
	opencast bool
	logger   *slog.Logger
}

// NewTokenStep creates the token step. The Opencast token is only requested
// when opencast is set.
func NewTokenStep(a Authenticator, opencast bool, logger *slog.Logger) *TokenStep {
	if logger == nil {
		logger = slog.Default()
	}
	return &TokenStep{auth: a, opencast: opencast, logger: logger}
}

// Name returns the step name.
func (s *TokenStep) Name() string { return "token" }

// Do requests the mobile app token and, if enabled, the Opencast token.
// Only the mobile app token is required.
func (s *TokenStep) Do(ctx context.Context, state *State) error {
	token, err := s.auth.Token(ctx, auth.ServiceMobileApp)
	if err != nil {
		return fmt.Errorf("token: %w", err)
	}
	state.Token = token

	if !s.opencast {
		return nil
	}
	oc, err := s.auth.Token(ctx, auth.ServiceOpencast)
	if err != nil {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		s.logger.Warn("no opencast token, falling back to the session key", "error", err)
		return nil
	}
	state.OpencastToken = oc
	return nil
}

// SiteInfoStep builds the API client and reads the user's site info.
type SiteInfoStep struct {
	newAPI APIFactory
}

// NewSiteInfoStep creates the site info step.
func NewSiteInfoStep(newAPI APIFactory) *SiteInfoStep {
	return &SiteInfoStep{newAPI: newAPI}
}

// Name returns the step name.
func (s *SiteInfoStep) Name() string { return "siteinfo" }

// Do stores the API and the site info in the state.
func (s *SiteInfoStep) Do(ctx context.Context, state *State) error {
	state.API = s.newAPI(state.Token, state.SessKey)
	info, err := state.API.SiteInfo(ctx)
	if err != nil {
		return fmt.Errorf("site info: %w", err)
	}
	state.SiteInfo = info
	state.Report.FullName = info.FullName
	return nil
}

// CrawlStep builds the file tree of all selected courses.
type CrawlStep struct {
	newSyncer SyncerFactory
}

// NewCrawlStep creates the crawl step.
func NewCrawlStep(newSyncer SyncerFactory) *CrawlStep {
	return &CrawlStep{newSyncer: newSyncer}
}

// Name returns the step name.
func (s *CrawlStep) Name() string { return "crawl" }

// Do crawls the courses and summarizes them in the report.
func (s *CrawlStep) Do(ctx context.Context, state *State) error {
	if state.SiteInfo == nil {
		return fmt.Errorf("crawl: %w", moodle.ErrNoUserID)
	}
	result, err := s.newSyncer(state).Sync(ctx, state.SiteInfo.UserID)
	if err != nil {
		return fmt.Errorf("crawl: %w", err)
	}
	state.Crawl = result

	r := state.Report
	r.SkippedCourses = result.Skipped
	r.Courses = make([]model.CourseSummary, 0, len(result.Courses))
	for _, c := range result.Courses {
		summary := model.CourseSummary{
			ID:           c.ID,
			Name:         c.Name,
			Semester:     c.Semester,
			Files:        c.Files,
			ModuleErrors: c.ModuleErrors,
			LinkErrors:   c.LinkErrors,
		}
		if c.Err != nil {
			summary.Error = c.Err.Error()
		}
		r.Courses = append(r.Courses, summary)
	}
	r.TotalFiles = len(result.Root.Leaves())
	return nil
}

// DumpTreeStep writes the crawled tree to a file. A ".dot" extension
// selects Graphviz output, anything else JSON.
type DumpTreeStep struct {
	path string
}

// NewDumpTreeStep creates the dump step.
func NewDumpTreeStep(path string) *DumpTreeStep {
	return &DumpTreeStep{path: path}
}

// Name returns the step name.
func (s *DumpTreeStep) Name() string { return "dump" }

// Do writes the tree.
func (s *DumpTreeStep) Do(_ context.Context, state *State) error {
	if state.Crawl == nil {
		return ErrNoTree
	}
	if dir := filepath.Dir(s.path); dir != "." {
		if err := os.MkdirAll(dir, 0o750); err != nil {
			return fmt.Errorf("dump: %w", err)
		}
	}
	f, err := os.Create(s.path)
	if err != nil {
		return fmt.Errorf("dump: %w", err)
	}
	root := state.Crawl.Root
	if strings.EqualFold(filepath.Ext(s.path), ".dot") {
		err = root.WriteDOT(f)
	} else {
		err = root.WriteJSON(f)
	}
	if cerr := f.Close(); err == nil {
		err = cerr
	}
	if err != nil {
		return fmt.Errorf("dump: %w", err)
	}
	return nil
}

// ListFilesStep prints the virtual file tree instead of downloading it.
type ListFilesStep struct {
	out io.Writer
}

// NewListFilesStep creates the listing step.
func NewListFilesStep(out io.Writer) *ListFilesStep {
	return &ListFilesStep{out: out}
}

// Name returns the step name.
func (s *ListFilesStep) Name() string { return "list" }

// Do writes one path per line.
func (s *ListFilesStep) Do(_ context.Context, state *State) error {
	if state.Crawl == nil {
		return ErrNoTree
	}
	_, err := report.NewFileListWriter(s.out).WriteTree(state.Crawl.Root)
	return err
}

// DownloadStep fetches every pending file of the tree.
type DownloadStep struct {
	downloader Downloader
}

// NewDownloadStep creates the download step.
func NewDownloadStep(d Downloader) *DownloadStep {
	return &DownloadStep{downloader: d}
}

// Name returns the step name.
func (s *DownloadStep) Name() string { return "download" }

// Do downloads the tree and adds the results to the report. The summary
// is kept even when the run is canceled.
func (s *DownloadStep) Do(ctx context.Context, state *State) error {
	if state.Crawl == nil {
		return ErrNoTree
	}
	summary, err := s.downloader.Run(ctx, state.Crawl.Root)
	if summary != nil {
		state.Summary = summary
		applySummary(state.Report, summary)
	}
	if err != nil {
		return fmt.Errorf("download: %w", err)
	}
	return nil
}

func applySummary(r *model.SyncReport, s *download.Summary) {
	r.Downloaded = s.Downloaded
	r.Skipped = s.Skipped
	r.Failed = s.Failed
	r.Bytes = s.Bytes
	r.Files = r.Files[:0]
	for _, res := range s.Results {
		if res.Outcome == download.OutcomeSkipped {
			continue
		}
		r.Files = append(r.Files, model.FileResult{
			Path:    res.Path,
			URL:     res.URL,
			Kind:    string(res.Kind),
			Outcome: string(res.Outcome),
			Reason:  res.Reason,
			Bytes:   res.Bytes,
			Digest:  res.Digest,
			Error:   res.Error(),
		})
	}
}

// RunStore persists sync runs. *database.StateDB satisfies it.
type RunStore interface {
	StartRun(ctx context.Context, dryRun bool) (*database.Run, error)
	FinishRun(ctx context.Context, run *database.Run) error
	RecordDownload(ctx context.Context, d *database.Download) error
}

// RecordStep stores the downloaded files in the state database. Begin and
// Finish bracket the whole pipeline so that aborted runs are recorded too.
type RecordStep struct {
	store    RunStore
	recorded bool
}

// NewRecordStep creates the record step.
func NewRecordStep(store RunStore) *RecordStep {
	return &RecordStep{store: store}
}

// Name returns the step name.
func (s *RecordStep) Name() string { return "record" }

// Begin inserts the run and sets its id in the report.
func (s *RecordStep) Begin(ctx context.Context, state *State) error {
	run, err := s.store.StartRun(ctx, state.Report.DryRun)
	if err != nil {
		return err
	}
	state.Run = run
	state.Report.RunID = run.ID
	return nil
}

// Do records every downloaded file of the run. Later calls are no-ops.
func (s *RecordStep) Do(ctx context.Context, state *State) error {
	if s.recorded || state.Summary == nil || state.Run == nil {
		return nil
	}
	s.recorded = true
	var errs []error
	for _, res := range state.Summary.Results {
		if res.Outcome != download.OutcomeDownloaded {
			continue
		}
		err := s.store.RecordDownload(ctx, &database.Download{
			Path:     res.Path,
			URL:      res.URL,
			Kind:     string(res.Kind),
			CourseID: res.CourseID,
			Size:     res.Bytes,
			Digest:   res.Digest,
			RunID:    state.Run.ID,
		})
		if err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// Finish stores the counters, the status and the JSON report of the run.
// Downloads not yet recorded by Do, because the pipeline stopped before
// reaching it, are recorded first.
func (s *RecordStep) Finish(ctx context.Context, state *State) error {
	if state.Run == nil {
		return nil
	}
	recordErr := s.Do(ctx, state)
	r := state.Report
	run := state.Run
	run.Status = database.RunStatus(r.Status())
	run.Courses = len(r.Courses)
	run.Downloaded = r.Downloaded
	run.Skipped = r.Skipped
	run.Failed = r.Failed
	summary, err := report.Marshal(r)
	if err != nil {
		return err
	}
	run.Summary = string(summary)
	return errors.Join(recordErr, s.store.FinishRun(ctx, run))
}
