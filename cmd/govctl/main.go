// Package main implements the govctl CLI tool for Quintet governance
// administration.
package main

import (
	"fmt"
	"os"

	"govctl/internal/governor"

	"github.com/spf13/cobra"
)

var version = "1.0.0"

func main() {
	rootCmd := &cobra.Command{
		Use:     "govctl",
		Short:   "Quintet governance CLI tool",
		Long:    `govctl is a command-line tool for managing skill envelopes, grants and recursion linkages on a Quintet governor.`,
		Version: version,
	}

	// Add subcommands
	rootCmd.AddCommand(envelopeCmd())
	rootCmd.AddCommand(grantsCmd())
	rootCmd.AddCommand(checkCmd())
	rootCmd.AddCommand(linkageCmd())
	rootCmd.AddCommand(orgCmd())

	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

// getClient creates a governor API client from environment variables.
func getClient() *governor.Client {
	baseURL := os.Getenv("GOVERNOR_URL")
	if baseURL == "" {
		baseURL = "http://localhost:8084"
	}
	token := os.Getenv("GOVERNOR_TOKEN")
	actor := os.Getenv("GOVERNOR_ACTOR")
	if actor == "" {
		actor = "govctl"
	}
	return governor.NewClient(baseURL, token, actor)
}
