package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
)

// NewRootCmd creates the root command for syncmymoodle.
func NewRootCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "syncmymoodle",
		Short: "Synchronize your RWTH Moodle courses to a local directory",
		Long: `syncmymoodle logs into RWTH Moodle with your single sign-on account and
mirrors every enrolled course into a local directory tree:
semester / course / section / files.

Files that already exist locally are skipped and interrupted downloads
are resumed, so the sync can be run repeatedly.`,
		Version:       getVersion(),
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	cmd.PersistentFlags().BoolP("verbose", "v", false, "Enable verbose logging")
	cmd.PersistentFlags().Bool("log-json", false, "Write log records to stderr as JSON")

	cmd.AddCommand(NewSyncCmd())
	cmd.AddCommand(NewInitCmd())
	cmd.AddCommand(NewHistoryCmd())
	cmd.AddCommand(NewVersionCmd())

	return cmd
}

// Execute runs the root command.
func Execute() {
	if err := NewRootCmd().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
