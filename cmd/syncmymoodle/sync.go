package main

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"net/url"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"sync"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"golang.org/x/term"

	"github.com/Romern/syncMyMoodle/internal/auth"
	"github.com/Romern/syncMyMoodle/internal/config"
	"github.com/Romern/syncMyMoodle/internal/crawler"
	"github.com/Romern/syncMyMoodle/internal/database"
	"github.com/Romern/syncMyMoodle/internal/download"
	"github.com/Romern/syncMyMoodle/internal/log"
	"github.com/Romern/syncMyMoodle/internal/model"
	"github.com/Romern/syncMyMoodle/internal/moodle"
	"github.com/Romern/syncMyMoodle/internal/opencast"
	"github.com/Romern/syncMyMoodle/internal/pipeline"
	"github.com/Romern/syncMyMoodle/internal/report"
	"github.com/Romern/syncMyMoodle/internal/sciebo"
	"github.com/Romern/syncMyMoodle/internal/session"
)

// downloadBackoff is the base delay between download attempts.
const downloadBackoff = 500 * time.Millisecond

// NewSyncCmd creates the sync command.
func NewSyncCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "sync",
		Short: "Download all new course material",
		Long: `Sync logs in, crawls every selected course and downloads all files that
do not exist locally yet.

Examples:
  # Sync everything, prompting for the password
  syncmymoodle sync --user ab123456

  # Only this semester, into ~/Uni
  syncmymoodle sync --semester 24ss --basedir ~/Uni

  # Show what would be downloaded
  syncmymoodle sync --dry-run

  # Write the crawled tree as Graphviz and stop
  syncmymoodle sync --dump-filetree tree.dot

  # Markdown report of the run
  syncmymoodle sync --markdown -o report.md`,
		Args: cobra.NoArgs,
		RunE: runSyncCmd,
	}

	cmd.Flags().StringP("user", "u", "", "RWTH single sign-on user name")
	cmd.Flags().StringP("password", "p", "", "Single sign-on password (prompted when omitted)")
	cmd.Flags().StringP("config", "c", "", "Configuration file path (default: XDG config dir and ./config.yaml)")
	cmd.Flags().String("cookiefile", "", "File the session cookies are stored in (default "+config.DefaultCookieFile+")")

	cmd.Flags().StringSlice("courses", nil, "Only sync these courses (ids or URLs, comma separated)")
	cmd.Flags().StringSlice("skipcourses", nil, "Never sync these courses (ids or URLs, comma separated)")
	cmd.Flags().StringSlice("semester", nil, "Only sync these semesters, e.g. 24ss,23ws")

	cmd.Flags().String("basedir", "", "Directory the courses are synced into (default "+config.DefaultBaseDir+")")
	cmd.Flags().Bool("nolinks", false, "Do not follow links in pages, labels and descriptions")
	cmd.Flags().StringSlice("excludefiletypes", nil, "File extensions that are never downloaded, e.g. mp4,webm")
	cmd.Flags().IntP("concurrency", "n", config.DefaultConcurrency, "Courses crawled and files downloaded in parallel")

	cmd.Flags().String("dump-filetree", "", "Write the crawled tree to this file (.dot for Graphviz, else JSON) and exit")
	cmd.Flags().Bool("dry-run", false, "List the files that would be synced and exit")

	cmd.Flags().BoolP("json", "j", false, "Output JSON report (mutually exclusive with --markdown)")
	cmd.Flags().BoolP("markdown", "m", false, "Output Markdown report (mutually exclusive with --json)")
	cmd.Flags().StringP("output", "o", "", "Write report to specified file path (creates directories if needed)")

	cmd.Flags().Bool("no-history", false, "Do not record this run in the sync history")
	cmd.Flags().String("db-dir", "", "Directory of the sync history database")
	_ = cmd.Flags().MarkHidden("db-dir") //nolint:errcheck // flag exists

	return cmd
}

func runSyncCmd(cmd *cobra.Command, _ []string) error {
	cfg, err := buildConfig(cmd)
	if err != nil {
		return err
	}
	if cfg.User == "" {
		return fmt.Errorf("configuration error: %w", config.ErrNoUser)
	}
	if cfg.Password == "" {
		password, err := promptPassword(cmd.ErrOrStderr())
		if err != nil {
			return fmt.Errorf("configuration error: %w", err)
		}
		cfg.Password = password
	}
	if err := cfg.Validate(); err != nil {
		return fmt.Errorf("configuration error: %w", err)
	}

	logger := log.NewSecureLogger(cmd.ErrOrStderr(), cfg.Verbose)
	if getPersistentBool(cmd, "log-json") {
		logger = log.NewSecureJSONLogger(cmd.ErrOrStderr(), cfg.Verbose)
	}
	slog.SetDefault(logger)

	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	return runSync(ctx, cfg, logger, cmd.OutOrStdout(), cmd.ErrOrStderr())
}

// getVerboseFlag retrieves the verbose flag from the command or its parent.
func getVerboseFlag(cmd *cobra.Command) bool {
	return getPersistentBool(cmd, "verbose")
}

// getPersistentBool reads a boolean flag that may be defined on the root
// command. Missing flags read as false.
func getPersistentBool(cmd *cobra.Command, name string) bool {
	value, err := cmd.Flags().GetBool(name)
	if err != nil {
		value, err = cmd.Root().PersistentFlags().GetBool(name)
		if err != nil {
			return false
		}
	}
	return value
}

// buildConfig loads the configuration files and applies the flags that
// were set explicitly.
func buildConfig(cmd *cobra.Command) (*config.Config, error) {
	flags := cmd.Flags()

	configPath, err := flags.GetString("config")
	if err != nil {
		return nil, err
	}
	cfg, _, err := config.Load(configPath)
	if err != nil {
		return nil, fmt.Errorf("failed to load configuration: %w", err)
	}

	stringFlags := map[string]*string{
		"user":          &cfg.User,
		"password":      &cfg.Password,
		"cookiefile":    &cfg.CookieFile,
		"basedir":       &cfg.BaseDir,
		"dump-filetree": &cfg.DumpFileTree,
		"output":        &cfg.ReportFile,
	}
	for name, dst := range stringFlags {
		if flags.Changed(name) {
			if *dst, err = flags.GetString(name); err != nil {
				return nil, err
			}
		}
	}

	sliceFlags := map[string]*[]string{
		"courses":          &cfg.SelectedCourses,
		"skipcourses":      &cfg.SkipCourses,
		"semester":         &cfg.OnlySyncSemester,
		"excludefiletypes": &cfg.ExcludeFileTypes,
	}
	for name, dst := range sliceFlags {
		if flags.Changed(name) {
			if *dst, err = flags.GetStringSlice(name); err != nil {
				return nil, err
			}
		}
	}

	if flags.Changed("nolinks") {
		if cfg.NoLinks, err = flags.GetBool("nolinks"); err != nil {
			return nil, err
		}
	}
	if flags.Changed("concurrency") {
		if cfg.Concurrency, err = flags.GetInt("concurrency"); err != nil {
			return nil, err
		}
	}
	if cfg.DryRun, err = flags.GetBool("dry-run"); err != nil {
		return nil, err
	}
	if cfg.JSONReport, err = flags.GetBool("json"); err != nil {
		return nil, err
	}
	if cfg.MarkdownReport, err = flags.GetBool("markdown"); err != nil {
		return nil, err
	}

	noHistory, err := flags.GetBool("no-history")
	if err != nil {
		return nil, err
	}
	if !noHistory {
		cfg.DBDir = config.XDGDataDir()
		if dir, _ := flags.GetString("db-dir"); dir != "" { //nolint:errcheck // flag exists
			cfg.DBDir = dir
		}
	}

	cfg.Verbose = getVerboseFlag(cmd)
	return cfg, nil
}

// promptPassword reads the password from the terminal without echo.
func promptPassword(w io.Writer) (string, error) {
	fd := int(os.Stdin.Fd()) //nolint:gosec // file descriptors fit into int
	if !term.IsTerminal(fd) {
		return "", config.ErrNoPassword
	}
	fmt.Fprint(w, "Password: ")
	password, err := term.ReadPassword(fd)
	fmt.Fprintln(w)
	if err != nil {
		return "", fmt.Errorf("failed to read password: %w", err)
	}
	if len(password) == 0 {
		return "", config.ErrNoPassword
	}
	return string(password), nil
}

// disableQuizWithoutRenderer turns off quiz rendering when wkhtmltopdf is
// not installed.
func disableQuizWithoutRenderer(cfg *config.Config, lookup func(string) string, w io.Writer) {
	if cfg.Modules.URL.Quiz && lookup("wkhtmltopdf") == "" {
		cfg.Modules.URL.Quiz = false
		fmt.Fprintln(w, "Warning: wkhtmltopdf is not in your PATH. Quiz PDFs are NOT generated.")
	}
}

// endpoints are the parsed server URLs of a configuration.
type endpoints struct {
	moodle *url.URL
	engage *url.URL
	sciebo *url.URL
}

func parseEndpoints(cfg *config.Config) (*endpoints, error) {
	var e endpoints
	for _, p := range []struct {
		raw string
		dst **url.URL
	}{
		{cfg.MoodleURL, &e.moodle},
		{cfg.EngageURL, &e.engage},
		{cfg.ScieboURL, &e.sciebo},
	} {
		u, err := url.Parse(strings.TrimSuffix(p.raw, "/"))
		if err != nil {
			return nil, fmt.Errorf("invalid url %q: %w", p.raw, err)
		}
		*p.dst = u
	}
	return &e, nil
}

// runSync performs one sync. Progress goes to out, warnings to errOut.
func runSync(ctx context.Context, cfg *config.Config, logger *slog.Logger, out, errOut io.Writer) error {
	disableQuizWithoutRenderer(cfg, download.LookupTool, errOut)

	urls, err := parseEndpoints(cfg)
	if err != nil {
		return err
	}

	client, err := session.New(
		session.WithCookieFile(cfg.CookieFile),
		session.WithTimeout(cfg.Timeout),
		session.WithDownloadTimeout(cfg.DownloadTimeout),
		session.WithUserAgent(cfg.UserAgent),
		session.WithRateLimit(cfg.RateLimit),
		session.WithProxy(cfg.Proxy),
		session.WithLogger(logger),
	)
	if err != nil {
		return fmt.Errorf("failed to create http client: %w", err)
	}

	authenticator, err := auth.New(client, cfg.MoodleURL, cfg.User, cfg.Password, auth.WithLogger(logger))
	if err != nil {
		return err
	}

	syncReport := model.NewSyncReport(cfg.User, cfg.MoodleURL, cfg.DryRun)
	state := pipeline.NewState(syncReport)

	var record *pipeline.RecordStep
	if cfg.DBDir != "" {
		db, err := database.Open(cfg.DBDir, database.DefaultOptions())
		if err != nil {
			logger.Warn("sync history disabled", "dir", cfg.DBDir, "error", err)
		} else {
			defer db.Close()
			record = pipeline.NewRecordStep(db)
			if err := record.Begin(ctx, state); err != nil {
				logger.Warn("failed to record sync run", "error", err)
				record = nil
			}
		}
	}

	p := pipeline.New(pipeline.WithLogger(logger))
	p.AddSteps(
		&progressStep{Step: pipeline.NewLoginStep(authenticator), out: out, message: "Logging in..."},
		pipeline.NewTokenStep(authenticator, cfg.Modules.URL.Opencast, logger),
		pipeline.NewSiteInfoStep(newAPIFactory(client, urls.moodle, logger)),
		&progressStep{Step: pipeline.NewCrawlStep(newSyncerFactory(cfg, client, urls, logger)), out: out, message: "Syncing file tree..."},
	)
	switch {
	case cfg.DumpFileTree != "":
		p.AddStep(pipeline.NewDumpTreeStep(cfg.DumpFileTree))
	case cfg.DryRun:
		p.AddStep(&progressStep{
			Step:    pipeline.NewListFilesStep(out),
			out:     out,
			message: "The following virtual filetree has been generated:",
		})
	default:
		p.AddStep(&progressStep{
			Step:    pipeline.NewDownloadStep(newDownloader(cfg, client, logger, out)),
			out:     out,
			message: "Downloading files...",
		})
		if record != nil {
			p.AddStep(record)
		}
	}

	runErr := p.Execute(ctx, state)
	syncReport.Finish()

	if err := client.SaveCookies(); err != nil {
		logger.Warn("failed to save cookies", "error", err)
	}
	if record != nil {
		if err := record.Finish(context.WithoutCancel(ctx), state); err != nil {
			logger.Warn("failed to record sync run", "error", err)
		}
	}

	if cfg.DumpFileTree != "" && runErr == nil {
		fmt.Fprintf(out, "File tree written to %s\n", cfg.DumpFileTree)
		return nil
	}
	if cfg.DryRun && runErr == nil {
		return nil
	}
	if err := outputReport(cfg, syncReport, out); err != nil {
		logger.Error("report failed", "error", err)
	}
	return runErr
}

// progressStep prints a progress line before running a step.
type progressStep struct {
	pipeline.Step
	out     io.Writer
	message string
}

func (s *progressStep) Do(ctx context.Context, state *pipeline.State) error {
	fmt.Fprintln(s.out, s.message)
	return s.Step.Do(ctx, state)
}

func newAPIFactory(client *session.Client, moodleURL *url.URL, logger *slog.Logger) pipeline.APIFactory {
	return func(token, sesskey string) pipeline.API {
		return moodle.New(client, moodleURL, token,
			moodle.WithLogger(logger),
			moodle.WithSessKey(sesskey),
		)
	}
}

func newSyncerFactory(cfg *config.Config, client *session.Client, urls *endpoints, logger *slog.Logger) pipeline.SyncerFactory {
	return func(state *pipeline.State) pipeline.Syncer {
		opts := []crawler.Option{
			crawler.WithModules(cfg.Modules),
			crawler.WithNoLinks(cfg.NoLinks),
			crawler.WithCourseFilter(cfg.SelectedCourses, cfg.SkipCourses, cfg.OnlySyncSemester),
			crawler.WithEndpoints(urls.engage, urls.sciebo),
			crawler.WithConcurrency(cfg.Concurrency),
			crawler.WithLogger(logger),
		}
		if cfg.Modules.URL.Opencast {
			opts = append(opts, crawler.WithVideoResolver(opencast.NewResolver(client, state.API, urls.engage,
				opencast.WithLogger(logger),
				opencast.WithToken(state.OpencastToken),
			)))
		}
		if cfg.Modules.URL.Sciebo {
			opts = append(opts, crawler.WithShareResolver(sciebo.NewResolver(client, client.HTTPClient(), urls.sciebo, logger)))
		}
		return crawler.New(state.API, client, urls.moodle, opts...)
	}
}

func newDownloader(cfg *config.Config, client *session.Client, logger *slog.Logger, out io.Writer) *download.Downloader {
	var mu sync.Mutex
	return download.New(client.DownloadClient(), client, cfg.BaseDir,
		download.WithExcludeFileTypes(cfg.ExcludeFileTypes),
		download.WithExcludeFiles(cfg.ExcludeFiles),
		download.WithConcurrency(cfg.Concurrency),
		download.WithRetries(cfg.Retries, downloadBackoff),
		download.WithLogger(logger),
		download.WithResultHandler(func(r download.Result) {
			if r.Outcome != download.OutcomeDownloaded {
				return
			}
			mu.Lock()
			defer mu.Unlock()
			fmt.Fprintf(out, "Downloaded %s\n", r.Path)
		}),
	)
}

// outputReport writes the sync report in the requested format to the
// report file or out.
func outputReport(cfg *config.Config, syncReport *model.SyncReport, out io.Writer) error {
	output := out
	if cfg.ReportFile != "" {
		if dir := filepath.Dir(cfg.ReportFile); dir != "" && dir != "." {
			if err := os.MkdirAll(dir, 0750); err != nil {
				return fmt.Errorf("failed to create output directory: %w", err)
			}
		}
		// Reports list course names and file paths.
		f, err := os.OpenFile(cfg.ReportFile, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, 0600)
		if err != nil {
			return fmt.Errorf("failed to create output file: %w", err)
		}
		defer f.Close()
		output = f
	}

	format := reportFormat(cfg.JSONReport, cfg.MarkdownReport)
	w := report.NewWriter(format, output)
	if format == report.FormatText {
		w = report.NewSimpleWriter(output, report.WithVerbose(cfg.Verbose))
	}
	if _, err := w.Write(syncReport); err != nil {
		return err
	}
	if syncReport.Failed > 0 && format == report.FormatText && cfg.ReportFile == "" {
		fmt.Fprintf(out, "%d file(s) failed, run again to retry.\n", syncReport.Failed)
	}
	return nil
}

// reportFormat maps the --json and --markdown flags to a report format.
func reportFormat(jsonOutput, markdownOutput bool) report.Format {
	switch {
	case jsonOutput:
		return report.FormatJSON
	case markdownOutput:
		return report.FormatMarkdown
	default:
		return report.FormatText
	}
}
