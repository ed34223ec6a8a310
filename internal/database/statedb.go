package database

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/google/uuid"
	_ "modernc.org/sqlite" // SQLite driver
)

// FileName is the name of the database file inside the database directory.
const FileName = "syncmymoodle.db"

// ErrRunNotFound is returned when a run id is unknown.
var ErrRunNotFound = errors.New("sync run not found")

// RunStatus is the state of a sync run.
type RunStatus string

// Run states.
const (
	StatusRunning  RunStatus = "running"
	StatusSuccess  RunStatus = "success"
	StatusPartial  RunStatus = "partial"
	StatusFailed   RunStatus = "failed"
	StatusCanceled RunStatus = "canceled"
)

// StateDB stores sync runs and downloaded files.
type StateDB struct {
	db     *sql.DB
	dbPath string
	now    func() time.Time
}

// Options configures StateDB behavior.
type Options struct {
	// CreateIfNotExists creates the database file if it doesn't exist.
	CreateIfNotExists bool

	// EnableWAL enables Write-Ahead Logging.
	EnableWAL bool
}

// DefaultOptions returns the default database options.
func DefaultOptions() Options {
	return Options{
		CreateIfNotExists: true,
		EnableWAL:         true,
	}
}

// Open opens or creates the StateDB in dbDir.
func Open(dbDir string, opts Options) (*StateDB, error) {
	dbPath := filepath.Join(dbDir, FileName)

	if !opts.CreateIfNotExists {
		if _, err := os.Stat(dbPath); os.IsNotExist(err) {
			return nil, fmt.Errorf("database not found at %s (use CreateIfNotExists option to create)", dbPath)
		} else if err != nil {
			return nil, fmt.Errorf("failed to check database path: %w", err)
		}
	} else if err := os.MkdirAll(dbDir, 0750); err != nil {
		return nil, fmt.Errorf("failed to create database directory: %w", err)
	}

	dsn := dbPath + "?mode=rw"
	if opts.CreateIfNotExists {
		dsn = dbPath + "?mode=rwc"
	}
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}
	db.SetMaxOpenConns(1) // SQLite only supports one writer
	db.SetMaxIdleConns(1)
	db.SetConnMaxLifetime(time.Hour)

	sdb := &StateDB{db: db, dbPath: dbPath, now: time.Now}

	if opts.EnableWAL {
		if _, err := db.ExecContext(context.Background(), "PRAGMA journal_mode=WAL"); err != nil {
			_ = db.Close()
			return nil, fmt.Errorf("failed to enable WAL mode: %w", err)
		}
	}
	if err := sdb.createTables(); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("failed to create tables: %w", err)
	}
	return sdb, nil
}

// Path returns the database file path.
func (sdb *StateDB) Path() string {
	return sdb.dbPath
}

// Close closes the database connection.
func (sdb *StateDB) Close() error {
	return sdb.db.Close()
}

func (sdb *StateDB) createTables() error {
	schema := `
	-- One row per invocation of sync
	CREATE TABLE IF NOT EXISTS sync_runs (
		id TEXT PRIMARY KEY,
		started_at TEXT NOT NULL,
		finished_at TEXT,
		status TEXT NOT NULL,
		dry_run INTEGER NOT NULL DEFAULT 0,
		courses INTEGER NOT NULL DEFAULT 0,
		downloaded INTEGER NOT NULL DEFAULT 0,
		skipped INTEGER NOT NULL DEFAULT 0,
		failed INTEGER NOT NULL DEFAULT 0,
		summary TEXT
	);

	CREATE INDEX IF NOT EXISTS idx_runs_started ON sync_runs(started_at);

	-- Latest download of every local path
	CREATE TABLE IF NOT EXISTS downloads (
		path TEXT PRIMARY KEY,
		url TEXT NOT NULL,
		kind TEXT NOT NULL,
		course_id INTEGER NOT NULL DEFAULT 0,
		size INTEGER NOT NULL DEFAULT 0,
		digest TEXT,
		run_id TEXT NOT NULL,
		downloaded_at TEXT NOT NULL
	);

	CREATE INDEX IF NOT EXISTS idx_downloads_run ON downloads(run_id);
	CREATE INDEX IF NOT EXISTS idx_downloads_course ON downloads(course_id);
	`
	_, err := sdb.db.ExecContext(context.Background(), schema)
	return err
}

// Run is a recorded sync run.
type Run struct {
	ID         string
	StartedAt  time.Time
	FinishedAt time.Time
	Status     RunStatus
	DryRun     bool
	Courses    int
	Downloaded int
	Skipped    int
	Failed     int

	// Summary is the JSON encoded sync report.
	Summary string
}

// Duration returns how long a finished run took.
func (r *Run) Duration() time.Duration {
	if r.FinishedAt.IsZero() {
		return 0
	}
	return r.FinishedAt.Sub(r.StartedAt)
}

// StartRun inserts a new running sync run.
func (sdb *StateDB) StartRun(ctx context.Context, dryRun bool) (*Run, error) {
	run := &Run{
		ID:        uuid.NewString(),
		StartedAt: sdb.now().UTC(),
		Status:    StatusRunning,
		DryRun:    dryRun,
	}
	_, err := sdb.db.ExecContext(ctx,
		`INSERT INTO sync_runs (id, started_at, status, dry_run) VALUES (?, ?, ?, ?)`,
		run.ID, formatTimestamp(run.StartedAt), string(run.Status), boolToInt(dryRun))
	if err != nil {
		return nil, fmt.Errorf("failed to start run: %w", err)
	}
	return run, nil
}

// FinishRun stores the final state and counters of run.
func (sdb *StateDB) FinishRun(ctx context.Context, run *Run) error {
	run.FinishedAt = sdb.now().UTC()
	if run.Status == "" || run.Status == StatusRunning {
		run.Status = StatusSuccess
	}
	res, err := sdb.db.ExecContext(ctx, `
	UPDATE sync_runs
	SET finished_at = ?, status = ?, courses = ?, downloaded = ?, skipped = ?, failed = ?, summary = ?
	WHERE id = ?`,
		formatTimestamp(run.FinishedAt), string(run.Status),
		run.Courses, run.Downloaded, run.Skipped, run.Failed,
		nullString(run.Summary), run.ID)
	if err != nil {
		return fmt.Errorf("failed to finish run: %w", err)
	}
	if n, err := res.RowsAffected(); err == nil && n == 0 {
		return fmt.Errorf("%s: %w", run.ID, ErrRunNotFound)
	}
	return nil
}

const runColumns = `id, started_at, finished_at, status, dry_run, courses, downloaded, skipped, failed, summary`

type rowScanner interface {
	Scan(dest ...any) error
}

func scanRun(row rowScanner) (*Run, error) {
	var (
		run      Run
		started  string
		finished sql.NullString
		status   string
		dryRun   int
		summary  sql.NullString
	)
	err := row.Scan(&run.ID, &started, &finished, &status, &dryRun,
		&run.Courses, &run.Downloaded, &run.Skipped, &run.Failed, &summary)
	if err != nil {
		return nil, err
	}
	run.StartedAt = parseTimestamp(started)
	if finished.Valid {
		run.FinishedAt = parseTimestamp(finished.String)
	}
	run.Status = RunStatus(status)
	run.DryRun = dryRun != 0
	run.Summary = summary.String
	return &run, nil
}

// GetRun returns the run with the given id.
func (sdb *StateDB) GetRun(ctx context.Context, id string) (*Run, error) {
	row := sdb.db.QueryRowContext(ctx, `SELECT `+runColumns+` FROM sync_runs WHERE id = ?`, id)
	run, err := scanRun(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("%s: %w", id, ErrRunNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get run: %w", err)
	}
	return run, nil
}

// ListRuns returns the most recent runs, newest first. A limit of zero or
// less returns all runs.
func (sdb *StateDB) ListRuns(ctx context.Context, limit int) ([]Run, error) {
	query := `SELECT ` + runColumns + ` FROM sync_runs ORDER BY started_at DESC, rowid DESC`
	args := []any{}
	if limit > 0 {
		query += ` LIMIT ?`
		args = append(args, limit)
	}
	rows, err := sdb.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to list runs: %w", err)
	}
	defer rows.Close()

	var runs []Run
	for rows.Next() {
		run, err := scanRun(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan run: %w", err)
		}
		runs = append(runs, *run)
	}
	return runs, rows.Err()
}

// Download is the latest recorded download of a local path.
type Download struct {
	Path         string
	URL          string
	Kind         string
	CourseID     int
	Size         int64
	Digest       string
	RunID        string
	DownloadedAt time.Time
}

// RecordDownload inserts or replaces the download record of d.Path.
func (sdb *StateDB) RecordDownload(ctx context.Context, d *Download) error {
	if d.DownloadedAt.IsZero() {
		d.DownloadedAt = sdb.now().UTC()
	}
	query := `
	INSERT INTO downloads (path, url, kind, course_id, size, digest, run_id, downloaded_at)
	VALUES (?, ?, ?, ?, ?, ?, ?, ?)
	ON CONFLICT(path) DO UPDATE SET
		url = excluded.url,
		kind = excluded.kind,
		course_id = excluded.course_id,
		size = excluded.size,
		digest = excluded.digest,
		run_id = excluded.run_id,
		downloaded_at = excluded.downloaded_at
	`
	_, err := sdb.db.ExecContext(ctx, query,
		d.Path, d.URL, d.Kind, d.CourseID, d.Size, nullString(d.Digest), d.RunID, formatTimestamp(d.DownloadedAt))
	if err != nil {
		return fmt.Errorf("failed to record download: %w", err)
	}
	return nil
}

const downloadColumns = `path, url, kind, course_id, size, digest, run_id, downloaded_at`

func scanDownload(row rowScanner) (*Download, error) {
	var (
		d      Download
		digest sql.NullString
		at     string
	)
	if err := row.Scan(&d.Path, &d.URL, &d.Kind, &d.CourseID, &d.Size, &digest, &d.RunID, &at); err != nil {
		return nil, err
	}
	d.Digest = digest.String
	d.DownloadedAt = parseTimestamp(at)
	return &d, nil
}

// GetDownload returns the record of a path, or nil if it was never
// downloaded.
func (sdb *StateDB) GetDownload(ctx context.Context, path string) (*Download, error) {
	row := sdb.db.QueryRowContext(ctx, `SELECT `+downloadColumns+` FROM downloads WHERE path = ?`, path)
	d, err := scanDownload(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get download: %w", err)
	}
	return d, nil
}

// DownloadsForRun returns the files downloaded by a run, ordered by path.
func (sdb *StateDB) DownloadsForRun(ctx context.Context, runID string) ([]Download, error) {
	rows, err := sdb.db.QueryContext(ctx,
		`SELECT `+downloadColumns+` FROM downloads WHERE run_id = ? ORDER BY path`, runID)
	if err != nil {
		return nil, fmt.Errorf("failed to query downloads: %w", err)
	}
	defer rows.Close()

	var downloads []Download
	for rows.Next() {
		d, err := scanDownload(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan download: %w", err)
		}
		downloads = append(downloads, *d)
	}
	return downloads, rows.Err()
}

// timestampFormats contains the timestamp formats that may be stored.
var timestampFormats = []string{
	time.RFC3339Nano,
	time.RFC3339,
	"2006-01-02 15:04:05",     // SQLite default datetime format
	"2006-01-02 15:04:05.999", // SQLite with milliseconds
	"2006-01-02T15:04:05",     // ISO 8601 without timezone
}

func formatTimestamp(t time.Time) string {
	return t.UTC().Format(time.RFC3339Nano)
}

// parseTimestamp parses a stored timestamp. It returns the zero time when
// no format matches.
func parseTimestamp(s string) time.Time {
	for _, format := range timestampFormats {
		if t, err := time.Parse(format, s); err == nil {
			return t
		}
	}
	return time.Time{}
}

func nullString(s string) sql.NullString {
	return sql.NullString{String: s, Valid: s != ""}
}

func boolToInt(b bool) int {
	if b {
		return 1
	}
	return 0
}
