// Package cmd wires the command-line interface.
package cmd

import (
	"github.com/spf13/cobra"
)

var rootCmd = &cobra.Command{
	Use:   "basketd",
	Short: "basketd - conversational grocery ordering backend",
	Long: `basketd serves the conversational grocery assistant over HTTP.
It routes each chat turn through intent classification, product search,
cart management and preference extraction, and persists chat sessions
in PostgreSQL.

Run "basketd serve" to start the API server.`,
}

// Execute runs the root command.
func Execute() error {
	return rootCmd.Execute()
}
