package main

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"text/tabwriter"

	"github.com/dustin/go-humanize"
	"github.com/spf13/cobra"

	"github.com/Romern/syncMyMoodle/internal/config"
	"github.com/Romern/syncMyMoodle/internal/database"
	"github.com/Romern/syncMyMoodle/internal/report"
)

// defaultHistoryLimit is the number of runs shown by default.
const defaultHistoryLimit = 10

// NewHistoryCmd creates the history command.
func NewHistoryCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "history [run-id]",
		Short: "Show recent sync runs",
		Long: `History lists the most recent sync runs recorded in the sync database.
With a run id it lists the files that run downloaded.

Examples:
  # The last ten runs
  syncmymoodle history

  # All runs as JSON
  syncmymoodle history --limit 0 --json

  # Files downloaded by one run
  syncmymoodle history 4f1c2a9e-...

  # When a file was last downloaded
  syncmymoodle history --path "24ss/Analysis/Skript.pdf"`,
		Args: cobra.MaximumNArgs(1),
		RunE: runHistoryCmd,
	}

	cmd.Flags().IntP("limit", "l", defaultHistoryLimit, "Number of runs to show (0 shows all)")
	cmd.Flags().BoolP("json", "j", false, "Output JSON (mutually exclusive with --markdown)")
	cmd.Flags().BoolP("markdown", "m", false, "Output a Markdown table (mutually exclusive with --json)")
	cmd.Flags().String("path", "", "Show the last download of this file path")
	cmd.Flags().String("db-dir", "", "Directory of the sync history database")
	_ = cmd.Flags().MarkHidden("db-dir") //nolint:errcheck // flag exists

	return cmd
}

func runHistoryCmd(cmd *cobra.Command, args []string) error {
	limit, err := cmd.Flags().GetInt("limit")
	if err != nil {
		return err
	}
	jsonOutput, err := cmd.Flags().GetBool("json")
	if err != nil {
		return err
	}
	markdownOutput, err := cmd.Flags().GetBool("markdown")
	if err != nil {
		return err
	}
	if jsonOutput && markdownOutput {
		return config.ErrConflictingReportFormats
	}
	dbDir, err := cmd.Flags().GetString("db-dir")
	if err != nil {
		return err
	}
	if dbDir == "" {
		dbDir = config.XDGDataDir()
	}

	out := cmd.OutOrStdout()
	if _, err := os.Stat(filepath.Join(dbDir, database.FileName)); errors.Is(err, os.ErrNotExist) {
		fmt.Fprintln(out, "No sync runs recorded.")
		return nil
	}
	db, err := database.Open(dbDir, database.Options{CreateIfNotExists: false})
	if err != nil {
		return fmt.Errorf("failed to open sync history: %w", err)
	}
	defer db.Close()

	ctx := cmd.Context()
	if path, _ := cmd.Flags().GetString("path"); path != "" { //nolint:errcheck // flag exists
		return printDownload(cmd, db, path)
	}
	if len(args) == 1 {
		run, err := db.GetRun(ctx, args[0])
		if err != nil {
			return err
		}
		downloads, err := db.DownloadsForRun(ctx, run.ID)
		if err != nil {
			return err
		}
		fmt.Fprintf(out, "Run %s (%s, %s)\n\n", run.ID, run.Status, humanize.Time(run.StartedAt))
		if len(downloads) == 0 {
			fmt.Fprintln(out, "No files downloaded.")
			return nil
		}
		tw := tabwriter.NewWriter(out, 0, 0, 2, ' ', 0)
		for _, d := range downloads {
			fmt.Fprintf(tw, "%s\t%s\t%s\n", d.Path, humanize.Bytes(uint64(max(d.Size, 0))), d.Kind)
		}
		return tw.Flush()
	}

	runs, err := db.ListRuns(ctx, limit)
	if err != nil {
		return err
	}
	_, err = report.NewHistoryWriter(out, reportFormat(jsonOutput, markdownOutput)).WriteRuns(runs)
	return err
}

// printDownload prints the download record of path.
func printDownload(cmd *cobra.Command, db *database.StateDB, path string) error {
	out := cmd.OutOrStdout()
	d, err := db.GetDownload(cmd.Context(), path)
	if err != nil {
		return err
	}
	if d == nil {
		fmt.Fprintf(out, "No download recorded for %s.\n", path)
		return nil
	}
	tw := tabwriter.NewWriter(out, 0, 0, 2, ' ', 0)
	fmt.Fprintf(tw, "Path:\t%s\n", d.Path)
	fmt.Fprintf(tw, "URL:\t%s\n", d.URL)
	fmt.Fprintf(tw, "Kind:\t%s\n", d.Kind)
	fmt.Fprintf(tw, "Size:\t%s\n", humanize.Bytes(uint64(max(d.Size, 0))))
	fmt.Fprintf(tw, "Digest:\t%s\n", d.Digest)
	fmt.Fprintf(tw, "Run:\t%s\n", d.RunID)
	fmt.Fprintf(tw, "Downloaded:\t%s\n", humanize.Time(d.DownloadedAt))
	return tw.Flush()
}
