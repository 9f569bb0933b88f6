// Package cli provides the command-line interface for sheetsink.
package cli

import (
	"github.com/spf13/cobra"
)

// Version is set at build time.
var Version = "0.1.0"

// rootCmd represents the base command when called without any subcommands.
var rootCmd = &cobra.Command{
	Use:   "sheetsink",
	Short: "Asynchronous spreadsheet ingestion service",
	Long: `Sheetsink ingests spreadsheet uploads into PostgreSQL: rows are
normalized, persisted in batches, and progress is observable while the
job runs, through polling or push notifications.`,
	Version: Version,
}

// Execute adds all child commands to the root command and runs it.
func Execute() error {
	return rootCmd.Execute()
}
