// Package cmd implements the settlectl command tree.
package cmd

import (
	"github.com/spf13/cobra"
)

var serverURL string

var rootCmd = &cobra.Command{
	Use:   "settlectl",
	Short: "Settlement service CLI",
	Long: `settlectl is the operator command-line interface for the settlement
service.

Inspect agreements, submit records, run access checks, and cancel
agreements from your terminal.`,
	Version:       "0.1.0",
	SilenceUsage:  true,
	SilenceErrors: false,
}

// Execute runs the root command.
func Execute() error {
	return rootCmd.Execute()
}

func init() {
	rootCmd.PersistentFlags().StringVar(&serverURL, "server", "http://localhost:8090", "settlement service base URL")
}
