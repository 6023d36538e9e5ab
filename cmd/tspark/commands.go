// commands.go contains the cobra command definitions and their flag
// configurations. Each builder creates a command and wires it to its handler.
package main

import (
	"github.com/spf13/cobra"
)

// buildInitCmd creates the "init" command that bootstraps a workspace
// directory with the default document, prompt file, and fragment folders.
func buildInitCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "init [dir]",
		Short: "Initialize a workspace directory",
		Long: `Create the workspace document, system prompt file, and the rules and
references folders under the given directory. Running init on an existing
workspace is harmless; the document is left as it is.`,
		Example: `  tspark init ./workspace`,
		Args:    cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runInit(cmd, args[0])
		},
	}
}

// buildInfoCmd creates the "info" command that prints a workspace summary.
func buildInfoCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "info [dir]",
		Short: "Show a workspace summary",
		Long: `Print the workspace metadata, effective settings, installed providers,
configured tool servers, and the rule and reference fragments.`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runInfo(cmd, args[0])
		},
	}
}

// buildServersCmd creates the "servers" command group.
func buildServersCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "servers",
		Short: "Inspect configured tool servers",
	}
	cmd.AddCommand(buildServersPingCmd())
	return cmd
}

func buildServersPingCmd() *cobra.Command {
	var timeoutSec int
	cmd := &cobra.Command{
		Use:   "ping [dir]",
		Short: "Connect to and ping every configured tool server",
		Long: `Connect to each tool server defined in the workspace, run the protocol
ping, and print the round-trip time and advertised tool count. Servers that
fail to connect are reported with their error.`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runServersPing(cmd, args[0], timeoutSec)
		},
	}
	cmd.Flags().IntVar(&timeoutSec, "timeout", 15, "Per-server timeout in seconds")
	return cmd
}

// buildUsageCmd creates the "usage" command that reports ledger totals.
func buildUsageCmd() *cobra.Command {
	var sessionID string
	cmd := &cobra.Command{
		Use:   "usage [dir]",
		Short: "Show token usage totals from the workspace ledger",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runUsage(cmd, args[0], sessionID)
		},
	}
	cmd.Flags().StringVar(&sessionID, "session", "", "Limit totals to one session ID")
	return cmd
}
