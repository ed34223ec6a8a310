package pipeline

import (
	"bytes"
	"context"
	"errors"
	"os"
	"path/filepath"
	"slices"
	"strings"
	"testing"

	"github.com/goccy/go-json"

	"github.com/Romern/syncMyMoodle/internal/auth"
	"github.com/Romern/syncMyMoodle/internal/crawler"
	"github.com/Romern/syncMyMoodle/internal/database"
	"github.com/Romern/syncMyMoodle/internal/download"
	"github.com/Romern/syncMyMoodle/internal/filetree"
	"github.com/Romern/syncMyMoodle/internal/log"
	"github.com/Romern/syncMyMoodle/internal/model"
	"github.com/Romern/syncMyMoodle/internal/moodle"
)

// mockStep is a test helper that implements the Step interface.
type mockStep struct {
	name      string
	doFunc    func(ctx context.Context, state *State) error
	callCount int
}

func (m *mockStep) Do(ctx context.Context, state *State) error {
	m.callCount++
	if m.doFunc != nil {
		return m.doFunc(ctx, state)
	}
	return nil
}

func (m *mockStep) Name() string {
	return m.name
}

func newTestState() *State {
	return NewState(model.NewSyncReport("ab123456", "https://moodle.example", false))
}

func TestPipelineNew(t *testing.T) {
	t.Parallel()

	t.Run("creates pipeline with default settings", func(t *testing.T) {
		t.Parallel()

		p := New()
		if p.StepCount() != 0 {
			t.Errorf("expected 0 steps, got %d", p.StepCount())
		}
		if p.logger == nil {
			t.Error("expected default logger")
		}
	})

	t.Run("applies options", func(t *testing.T) {
		t.Parallel()

		p := New(WithContinueOnError(true), WithLogger(log.Discard()))
		if !p.continueOnError {
			t.Error("expected continueOnError to be true")
		}
	})

	t.Run("lists step names in order", func(t *testing.T) {
		t.Parallel()

		p := New()
		p.AddStep(&mockStep{name: "a"})
		p.AddSteps(&mockStep{name: "b"}, &mockStep{name: "c"})
		if got := strings.Join(p.StepNames(), ","); got != "a,b,c" {
			t.Errorf("StepNames() = %s", got)
		}
	})
}

func TestPipelineExecute(t *testing.T) {
	t.Parallel()

	t.Run("runs all steps", func(t *testing.T) {
		t.Parallel()

		a, b := &mockStep{name: "a"}, &mockStep{name: "b"}
		p := New(WithLogger(log.Discard()))
		p.AddSteps(a, b)

		state := newTestState()
		if err := p.Execute(t.Context(), state); err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		if a.callCount != 1 || b.callCount != 1 {
			t.Errorf("call counts = %d, %d", a.callCount, b.callCount)
		}
		if got := strings.Join(state.Report.PerformedSteps, ","); got != "a,b" {
			t.Errorf("PerformedSteps = %s", got)
		}
	})

	t.Run("stops on first error", func(t *testing.T) {
		t.Parallel()

		boom := errors.New("boom")
		failing := &mockStep{name: "fail", doFunc: func(context.Context, *State) error { return boom }}
		after := &mockStep{name: "after"}
		p := New(WithLogger(log.Discard()))
		p.AddSteps(failing, after)

		state := newTestState()
		if err := p.Execute(t.Context(), state); !errors.Is(err, boom) {
			t.Fatalf("error = %v, want boom", err)
		}
		if after.callCount != 0 {
			t.Error("step after failure ran")
		}
		if state.Report.ErrorMessage != "boom" || state.Report.Status() != model.StatusFailed {
			t.Errorf("report not failed: %+v", state.Report)
		}
	})

	t.Run("continues on error", func(t *testing.T) {
		t.Parallel()

		boom := errors.New("boom")
		p := New(WithLogger(log.Discard()), WithContinueOnError(true))
		after := &mockStep{name: "after"}
		p.AddSteps(&mockStep{name: "fail", doFunc: func(context.Context, *State) error { return boom }}, after)

		state := newTestState()
		if err := p.Execute(t.Context(), state); !errors.Is(err, boom) {
			t.Fatalf("error = %v, want boom", err)
		}
		if after.callCount != 1 {
			t.Error("expected step after failure to run")
		}
		if len(state.Report.PerformedSteps) != 2 {
			t.Errorf("PerformedSteps = %v", state.Report.PerformedSteps)
		}
	})

	t.Run("respects cancellation", func(t *testing.T) {
		t.Parallel()

		ctx, cancel := context.WithCancel(t.Context())
		first := &mockStep{name: "first", doFunc: func(context.Context, *State) error {
			cancel()
			return nil
		}}
		second := &mockStep{name: "second"}
		p := New(WithLogger(log.Discard()))
		p.AddSteps(first, second)

		state := newTestState()
		if err := p.Execute(ctx, state); !errors.Is(err, context.Canceled) {
			t.Fatalf("error = %v, want context.Canceled", err)
		}
		if second.callCount != 0 {
			t.Error("step ran after cancellation")
		}
		if !state.Report.Canceled || state.Report.Status() != model.StatusCanceled {
			t.Errorf("report not canceled: %+v", state.Report)
		}
	})
}

type fakeAuth struct {
	sesskey   string
	loginErr  error
	tokens    map[string]string
	requested []string
}

func (f *fakeAuth) Login(context.Context) (string, error) {
	return f.sesskey, f.loginErr
}

func (f *fakeAuth) Token(_ context.Context, service string) (string, error) {
	f.requested = append(f.requested, service)
	if tok, ok := f.tokens[service]; ok {
		return tok, nil
	}
	return "", auth.ErrTokenNotFound
}

func TestLoginAndTokenSteps(t *testing.T) {
	t.Parallel()

	t.Run("login stores session key", func(t *testing.T) {
		t.Parallel()

		state := newTestState()
		if err := NewLoginStep(&fakeAuth{sesskey: "sk1"}).Do(t.Context(), state); err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		if state.SessKey != "sk1" {
			t.Errorf("SessKey = %q", state.SessKey)
		}
	})

	t.Run("login failure", func(t *testing.T) {
		t.Parallel()

		bad := errors.New("bad credentials")
		err := NewLoginStep(&fakeAuth{loginErr: bad}).Do(t.Context(), newTestState())
		if !errors.Is(err, bad) {
			t.Errorf("error = %v, want bad credentials", err)
		}
	})

	t.Run("tokens", func(t *testing.T) {
		t.Parallel()

		a := &fakeAuth{tokens: map[string]string{
			auth.ServiceMobileApp: "tok-mobile",
			auth.ServiceOpencast:  "tok-opencast",
		}}
		state := newTestState()
		if err := NewTokenStep(a, true, log.Discard()).Do(t.Context(), state); err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		if state.Token != "tok-mobile" || state.OpencastToken != "tok-opencast" {
			t.Errorf("tokens = %q, %q", state.Token, state.OpencastToken)
		}
	})

	t.Run("opencast token is optional", func(t *testing.T) {
		t.Parallel()

		a := &fakeAuth{tokens: map[string]string{auth.ServiceMobileApp: "tok-mobile"}}
		state := newTestState()
		if err := NewTokenStep(a, true, log.Discard()).Do(t.Context(), state); err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		if state.OpencastToken != "" {
			t.Errorf("OpencastToken = %q", state.OpencastToken)
		}
	})

	t.Run("opencast disabled", func(t *testing.T) {
		t.Parallel()

		a := &fakeAuth{tokens: map[string]string{auth.ServiceMobileApp: "tok-mobile"}}
		if err := NewTokenStep(a, false, log.Discard()).Do(t.Context(), newTestState()); err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		if len(a.requested) != 1 {
			t.Errorf("requested = %v", a.requested)
		}
	})

	t.Run("mobile token required", func(t *testing.T) {
		t.Parallel()

		err := NewTokenStep(&fakeAuth{}, false, log.Discard()).Do(t.Context(), newTestState())
		if !errors.Is(err, auth.ErrTokenNotFound) {
			t.Errorf("error = %v, want ErrTokenNotFound", err)
		}
	})
}

type fakeAPI struct {
	crawler.API

	token   string
	sesskey string
	info    *moodle.SiteInfo
	err     error
}

func (f *fakeAPI) SiteInfo(context.Context) (*moodle.SiteInfo, error) {
	return f.info, f.err
}

func (f *fakeAPI) OpencastLTIForm(context.Context, int, string) (string, error) {
	return "", nil
}

func TestSiteInfoStep(t *testing.T) {
	t.Parallel()

	t.Run("stores user", func(t *testing.T) {
		t.Parallel()

		var built *fakeAPI
		step := NewSiteInfoStep(func(token, sesskey string) API {
			built = &fakeAPI{token: token, sesskey: sesskey, info: &moodle.SiteInfo{UserID: 7, FullName: "Ada Lovelace"}}
			return built
		})
		state := newTestState()
		state.Token, state.SessKey = "tok-mobile", "sk1"
		if err := step.Do(t.Context(), state); err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		if built.token != "tok-mobile" || built.sesskey != "sk1" {
			t.Errorf("factory got %q, %q", built.token, built.sesskey)
		}
		if state.SiteInfo.UserID != 7 || state.Report.FullName != "Ada Lovelace" {
			t.Errorf("unexpected state: %+v", state.SiteInfo)
		}
	})

	t.Run("error", func(t *testing.T) {
		t.Parallel()

		step := NewSiteInfoStep(func(string, string) API {
			return &fakeAPI{err: moodle.ErrNoUserID}
		})
		if err := step.Do(t.Context(), newTestState()); !errors.Is(err, moodle.ErrNoUserID) {
			t.Errorf("error = %v, want ErrNoUserID", err)
		}
	})
}

type fakeSyncer struct {
	result *crawler.Result
	err    error
	userID int
}

func (f *fakeSyncer) Sync(_ context.Context, userID int) (*crawler.Result, error) {
	f.userID = userID
	return f.result, f.err
}

func testCrawl() *crawler.Result {
	root := filetree.New("")
	course := root.AddChild("24ss", "", filetree.KindSemester, "").
		AddChild("AN", "1", filetree.KindCourse, "")
	section := course.AddChild("Woche 1", "11", filetree.KindSection, "")
	section.AddChild("a.pdf", "", filetree.KindFolderFile, "https://moodle.example/pluginfile.php/1/a.pdf")
	section.AddChild("b.pdf", "", filetree.KindFolderFile, "https://moodle.example/pluginfile.php/1/b.pdf")
	return &crawler.Result{
		Root: root,
		Courses: []crawler.CourseResult{
			{ID: 1, Name: "AN", Semester: "24ss", Files: 2, LinkErrors: 1},
			{ID: 2, Name: "LA", Semester: "24ss", Err: errors.New("http status 500")},
		},
		Skipped: 3,
	}
}

func TestCrawlStep(t *testing.T) {
	t.Parallel()

	t.Run("summarizes courses", func(t *testing.T) {
		t.Parallel()

		syncer := &fakeSyncer{result: testCrawl()}
		state := newTestState()
		state.SiteInfo = &moodle.SiteInfo{UserID: 7}
		if err := NewCrawlStep(func(*State) Syncer { return syncer }).Do(t.Context(), state); err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		if syncer.userID != 7 {
			t.Errorf("synced user %d, want 7", syncer.userID)
		}
		r := state.Report
		if r.TotalFiles != 2 || r.SkippedCourses != 3 || len(r.Courses) != 2 {
			t.Errorf("unexpected report: %+v", r)
		}
		if r.Courses[0].LinkErrors != 1 || r.Courses[1].Error != "http status 500" {
			t.Errorf("unexpected courses: %+v", r.Courses)
		}
		if r.Status() != model.StatusPartial {
			t.Errorf("Status() = %q, want partial", r.Status())
		}
	})

	t.Run("requires site info", func(t *testing.T) {
		t.Parallel()

		step := NewCrawlStep(func(*State) Syncer { return &fakeSyncer{} })
		if err := step.Do(t.Context(), newTestState()); !errors.Is(err, moodle.ErrNoUserID) {
			t.Errorf("error = %v, want ErrNoUserID", err)
		}
	})
}

func TestDumpAndListSteps(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name  string
		file  string
		check func(t *testing.T, data []byte)
	}{
		{
			name: "dot",
			file: "tree.dot",
			check: func(t *testing.T, data []byte) {
				t.Helper()
				if !strings.HasPrefix(string(data), "strict digraph {") {
					t.Errorf("not a DOT file: %s", data)
				}
			},
		},
		{
			name: "json",
			file: "out/tree.json",
			check: func(t *testing.T, data []byte) {
				t.Helper()
				root, err := filetree.ReadJSON(bytes.NewReader(data))
				if err != nil {
					t.Fatalf("invalid JSON tree: %v", err)
				}
				if len(root.Leaves()) != 2 {
					t.Errorf("got %d leaves, want 2", len(root.Leaves()))
				}
			},
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			path := filepath.Join(t.TempDir(), tt.file)
			state := newTestState()
			state.Crawl = testCrawl()
			if err := NewDumpTreeStep(path).Do(t.Context(), state); err != nil {
				t.Fatalf("unexpected error: %v", err)
			}
			data, err := os.ReadFile(path)
			if err != nil {
				t.Fatalf("dump not written: %v", err)
			}
			tt.check(t, data)
		})
	}

	t.Run("list", func(t *testing.T) {
		t.Parallel()

		var buf bytes.Buffer
		state := newTestState()
		state.Crawl = testCrawl()
		if err := NewListFilesStep(&buf).Do(t.Context(), state); err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		if !strings.Contains(buf.String(), "/24ss/AN/Woche 1/b.pdf\n") {
			t.Errorf("unexpected listing:\n%s", buf.String())
		}
	})

	t.Run("no tree", func(t *testing.T) {
		t.Parallel()

		if err := NewListFilesStep(&bytes.Buffer{}).Do(t.Context(), newTestState()); !errors.Is(err, ErrNoTree) {
			t.Errorf("error = %v, want ErrNoTree", err)
		}
	})
}

type fakeDownloader struct {
	summary *download.Summary
	err     error
}

func (f *fakeDownloader) Run(context.Context, *filetree.Node) (*download.Summary, error) {
	return f.summary, f.err
}

func testSummary() *download.Summary {
	return &download.Summary{
		Results: []download.Result{
			{Path: "/data/a.pdf", URL: "u/a", Kind: filetree.KindFolderFile, CourseID: 1, Outcome: download.OutcomeDownloaded, Bytes: 10, Digest: "d1"},
			{Path: "/data/b.pdf", URL: "u/b", Kind: filetree.KindFolderFile, Outcome: download.OutcomeSkipped, Reason: download.ReasonExists},
			{Path: "/data/c.mp4", URL: "u/c", Kind: filetree.KindOpencast, Outcome: download.OutcomeFailed, Err: errors.New("http status 404")},
		},
		Downloaded: 1,
		Skipped:    1,
		Failed:     1,
		Bytes:      10,
	}
}

func TestDownloadStep(t *testing.T) {
	t.Parallel()

	t.Run("applies summary", func(t *testing.T) {
		t.Parallel()

		state := newTestState()
		state.Crawl = testCrawl()
		if err := NewDownloadStep(&fakeDownloader{summary: testSummary()}).Do(t.Context(), state); err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		r := state.Report
		if r.Downloaded != 1 || r.Skipped != 1 || r.Failed != 1 || r.Bytes != 10 {
			t.Errorf("unexpected counters: %+v", r)
		}
		if len(r.Files) != 2 || r.Files[1].Error != "http status 404" {
			t.Errorf("unexpected files: %+v", r.Files)
		}
	})

	t.Run("keeps partial summary on cancel", func(t *testing.T) {
		t.Parallel()

		state := newTestState()
		state.Crawl = testCrawl()
		d := &fakeDownloader{summary: testSummary(), err: context.Canceled}
		if err := NewDownloadStep(d).Do(t.Context(), state); !errors.Is(err, context.Canceled) {
			t.Fatalf("error = %v, want context.Canceled", err)
		}
		if state.Report.Downloaded != 1 {
			t.Errorf("Downloaded = %d, want 1", state.Report.Downloaded)
		}
	})
}

func TestRecordStep(t *testing.T) {
	t.Parallel()

	db, err := database.Open(t.TempDir(), database.DefaultOptions())
	if err != nil {
		t.Fatalf("failed to open database: %v", err)
	}
	t.Cleanup(func() { _ = db.Close() })

	step := NewRecordStep(db)
	state := newTestState()
	if err := step.Begin(t.Context(), state); err != nil {
		t.Fatalf("Begin failed: %v", err)
	}
	if state.Report.RunID == "" || state.Run == nil {
		t.Fatal("run not started")
	}

	state.Crawl = testCrawl()
	if err := NewCrawlStep(func(*State) Syncer { return &fakeSyncer{result: testCrawl()} }).Do(t.Context(), withUser(state)); err != nil {
		t.Fatalf("crawl failed: %v", err)
	}
	state.Summary = testSummary()
	applySummary(state.Report, state.Summary)

	if err := step.Do(t.Context(), state); err != nil {
		t.Fatalf("Do failed: %v", err)
	}
	if err := step.Finish(t.Context(), state); err != nil {
		t.Fatalf("Finish failed: %v", err)
	}

	downloads, err := db.DownloadsForRun(t.Context(), state.Run.ID)
	if err != nil {
		t.Fatalf("DownloadsForRun failed: %v", err)
	}
	if len(downloads) != 1 || downloads[0].Path != "/data/a.pdf" || downloads[0].Digest != "d1" || downloads[0].CourseID != 1 {
		t.Errorf("unexpected downloads: %+v", downloads)
	}

	run, err := db.GetRun(t.Context(), state.Run.ID)
	if err != nil {
		t.Fatalf("GetRun failed: %v", err)
	}
	if run.Status != database.StatusPartial || run.Courses != 2 || run.Downloaded != 1 || run.Failed != 1 {
		t.Errorf("unexpected run: %+v", run)
	}
	var summary map[string]any
	if err := json.Unmarshal([]byte(run.Summary), &summary); err != nil {
		t.Fatalf("summary is not JSON: %v", err)
	}
	if summary["run_id"] != run.ID {
		t.Errorf("summary run_id = %v, want %s", summary["run_id"], run.ID)
	}
}

func withUser(state *State) *State {
	state.SiteInfo = &moodle.SiteInfo{UserID: 7}
	return state
}

func TestRecordStepAfterCanceledDownload(t *testing.T) {
	t.Parallel()

	db, err := database.Open(t.TempDir(), database.DefaultOptions())
	if err != nil {
		t.Fatalf("failed to open database: %v", err)
	}
	t.Cleanup(func() { _ = db.Close() })

	step := NewRecordStep(db)
	state := newTestState()
	state.Crawl = testCrawl()
	if err := step.Begin(t.Context(), state); err != nil {
		t.Fatalf("Begin failed: %v", err)
	}

	p := New(WithLogger(log.Discard()))
	p.AddSteps(
		NewDownloadStep(&fakeDownloader{summary: testSummary(), err: context.Canceled}),
		step,
	)
	if err := p.Execute(t.Context(), state); !errors.Is(err, context.Canceled) {
		t.Fatalf("Execute() error = %v, want context.Canceled", err)
	}
	if slices.Contains(state.Report.PerformedSteps, "record") {
		t.Fatal("record step ran after the canceled download")
	}

	if err := step.Finish(t.Context(), state); err != nil {
		t.Fatalf("Finish failed: %v", err)
	}
	downloads, err := db.DownloadsForRun(t.Context(), state.Run.ID)
	if err != nil {
		t.Fatalf("DownloadsForRun failed: %v", err)
	}
	if len(downloads) != 1 || downloads[0].Path != "/data/a.pdf" {
		t.Errorf("unexpected downloads: %+v", downloads)
	}
	run, err := db.GetRun(t.Context(), state.Run.ID)
	if err != nil {
		t.Fatalf("GetRun failed: %v", err)
	}
	if run.Status != database.StatusCanceled || run.Downloaded != 1 {
		t.Errorf("unexpected run: %+v", run)
	}
}

func TestRecordStepWithoutRun(t *testing.T) {
	t.Parallel()

	step := NewRecordStep(nil)
	state := newTestState()
	if err := step.Do(t.Context(), state); err != nil {
		t.Errorf("Do without run = %v", err)
	}
	if err := step.Finish(t.Context(), state); err != nil {
		t.Errorf("Finish without run = %v", err)
	}
}
