// Package cmd defines the CLI commands for the redarc executable.
package cmd

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
)

var cfgFile string

func newRootCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "redarc",
		Short: "Archive issue-tracker pages as PDFs with their attachments",
		Long: `redarc fetches issue pages from a session-authenticated tracker,
downloads their attachments, and renders each page to a named PDF via an
external rendering tool. The session credential is passed verbatim on every
request; redarc never attempts to log in or refresh it.`,
		SilenceUsage: true,
	}

	cmd.PersistentFlags().StringVar(&cfgFile, "config", "", "config file (YAML)")
	cmd.AddCommand(newCrawlCmd())
	return cmd
}

// Execute is the main entry point.
func Execute() {
	if err := newRootCmd().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
