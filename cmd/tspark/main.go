// Package main provides the tspark CLI, the utility surface for workspaces:
// bootstrap a directory, inspect its configuration, ping its tool servers,
// and report token usage. Chat itself is driven through the agent API by
// embedding front-ends, not from this binary.
//
// # Basic Usage
//
// Initialize a workspace:
//
//	tspark init ./workspace
//
// Inspect it:
//
//	tspark info ./workspace
//
// Ping every configured tool server:
//
//	tspark servers ping ./workspace
package main

import (
	"fmt"
	"log/slog"
	"os"

	"github.com/spf13/cobra"

	"github.com/tsparklabs/tspark/internal/observability"
)

// Build information - populated by ldflags during build.
var (
	version = "dev"
	commit  = "none"
	date    = "unknown"
)

var (
	logLevel  string
	logFormat string
)

func main() {
	rootCmd := buildRootCmd()
	if err := rootCmd.Execute(); err != nil {
		slog.Error("command execution failed", "error", err)
		os.Exit(1)
	}
}

// buildRootCmd creates the root command with all subcommands attached. It is
// separated from main() to facilitate testing.
func buildRootCmd() *cobra.Command {
	rootCmd := &cobra.Command{
		Use:   "tspark",
		Short: "tspark - provider-agnostic agent workspace tooling",
		Long: `tspark manages agent workspaces: the configuration document, rule and
reference fragments, tool-server definitions, and the usage ledger.

Supported model providers: Anthropic (Claude), OpenAI (GPT), Google (Gemini)`,
		Version: fmt.Sprintf("%s (commit: %s, built: %s)", version, commit, date),
		// SilenceUsage prevents printing usage on every error.
		SilenceUsage: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			_, err := observability.SetupDefault(observability.LogConfig{
				Level:  logLevel,
				Format: logFormat,
			})
			return err
		},
	}
	rootCmd.PersistentFlags().StringVar(&logLevel, "log-level", "warn", "Log level (debug, info, warn, error)")
	rootCmd.PersistentFlags().StringVar(&logFormat, "log-format", "text", "Log format (text, json)")

	rootCmd.AddCommand(
		buildInitCmd(),
		buildInfoCmd(),
		buildServersCmd(),
		buildUsageCmd(),
	)
	return rootCmd
}
