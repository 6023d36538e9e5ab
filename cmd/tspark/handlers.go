// handlers.go contains the RunE handler functions for the CLI commands.
package main

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"sort"
	"time"

	"github.com/spf13/cobra"

	"github.com/tsparklabs/tspark/internal/fragments"
	"github.com/tsparklabs/tspark/internal/mcp"
	"github.com/tsparklabs/tspark/internal/tools"
	"github.com/tsparklabs/tspark/internal/usage"
	"github.com/tsparklabs/tspark/internal/workspace"
	"github.com/tsparklabs/tspark/pkg/models"
)

// runInit bootstraps (or reopens) the workspace at dir.
func runInit(cmd *cobra.Command, dir string) error {
	ws, err := workspace.Open(dir, workspace.Options{Create: true, Logger: slog.Default()})
	if err != nil {
		return fmt.Errorf("initialize workspace: %w", err)
	}
	if _, err := fragments.NewStore(ws.RulesDir(), models.FragmentRule, ws.Bus(), slog.Default()); err != nil {
		return err
	}
	if _, err := fragments.NewStore(ws.ReferencesDir(), models.FragmentReference, ws.Bus(), slog.Default()); err != nil {
		return err
	}

	out := cmd.OutOrStdout()
	fmt.Fprintf(out, "Workspace ready at %s\n", ws.Dir())
	fmt.Fprintf(out, "  rules:      %s\n", ws.RulesDir())
	fmt.Fprintf(out, "  references: %s\n", ws.ReferencesDir())
	return nil
}

// runInfo prints the workspace summary.
func runInfo(cmd *cobra.Command, dir string) error {
	ws, err := workspace.Open(dir, workspace.Options{Logger: slog.Default()})
	if err != nil {
		return err
	}
	out := cmd.OutOrStdout()

	meta := ws.Metadata()
	fmt.Fprintf(out, "Workspace %q (version %s)\n", meta.Name, meta.Version)
	fmt.Fprintf(out, "  dir:     %s\n", ws.Dir())
	fmt.Fprintf(out, "  created: %s\n", meta.Created.Format(time.RFC3339))

	settings := ws.Settings()
	keys := make([]string, 0, len(settings))
	for k := range settings {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	fmt.Fprintln(out, "\nSettings:")
	for _, k := range keys {
		fmt.Fprintf(out, "  %s = %v\n", k, settings[k])
	}

	fmt.Fprintln(out, "\nProviders:")
	providers := ws.ListProviders()
	if len(providers) == 0 {
		fmt.Fprintln(out, "  (none installed)")
	}
	sort.Strings(providers)
	for _, pid := range providers {
		fmt.Fprintf(out, "  %s\n", pid)
	}

	fmt.Fprintln(out, "\nTool servers:")
	servers := ws.ListToolServers()
	if len(servers) == 0 {
		fmt.Fprintln(out, "  (none configured)")
	}
	for _, cfg := range servers {
		fmt.Fprintf(out, "  %s (%s)\n", cfg.Name, cfg.Type)
	}

	if err := printFragments(cmd, ws.RulesDir(), models.FragmentRule, "Rules"); err != nil {
		return err
	}
	return printFragments(cmd, ws.ReferencesDir(), models.FragmentReference, "References")
}

func printFragments(cmd *cobra.Command, dir string, kind models.FragmentKind, title string) error {
	store, err := fragments.NewStore(dir, kind, nil, slog.Default())
	if err != nil {
		return err
	}
	all, err := store.List()
	if err != nil {
		return err
	}

	out := cmd.OutOrStdout()
	fmt.Fprintf(out, "\n%s:\n", title)
	if len(all) == 0 {
		fmt.Fprintln(out, "  (none)")
		return nil
	}
	for _, f := range all {
		state := "enabled"
		if !f.Enabled {
			state = "disabled"
		}
		fmt.Fprintf(out, "  %-20s priority=%-4d include=%-6s %s\n", f.Name, f.PriorityLevel, f.Include, state)
	}
	return nil
}

// runServersPing connects to each configured server and runs the protocol
// ping, printing round-trip times.
func runServersPing(cmd *cobra.Command, dir string, timeoutSec int) error {
	ws, err := workspace.Open(dir, workspace.Options{Logger: slog.Default()})
	if err != nil {
		return err
	}
	servers := ws.ListToolServers()
	out := cmd.OutOrStdout()
	if len(servers) == 0 {
		fmt.Fprintln(out, "No tool servers configured.")
		return nil
	}

	rules, err := fragments.NewStore(ws.RulesDir(), models.FragmentRule, ws.Bus(), slog.Default())
	if err != nil {
		return err
	}
	refs, err := fragments.NewStore(ws.ReferencesDir(), models.FragmentReference, ws.Bus(), slog.Default())
	if err != nil {
		return err
	}

	// Internal servers resolve against the built-in toolsets, so pinging
	// exercises the same wiring the agent uses.
	manager := mcp.NewManager(slog.Default())
	resolver := tools.NewResolver(
		tools.NewFragmentToolset(rules),
		tools.NewFragmentToolset(refs),
		tools.NewInclusionToolset(manager, ws, ws.Bus()),
	)

	var failures int
	for _, cfg := range servers {
		if err := pingServer(cmd.Context(), out, cfg, ws, resolver, timeoutSec); err != nil {
			failures++
		}
	}
	if failures > 0 {
		return fmt.Errorf("%d of %d servers unreachable", failures, len(servers))
	}
	return nil
}

func pingServer(ctx context.Context, out io.Writer, cfg *mcp.ServerConfig, ws *workspace.Workspace, resolver mcp.ToolsetResolver, timeoutSec int) error {
	client, err := mcp.NewClient(cfg, mcp.ClientOptions{
		Logger:     slog.Default(),
		SystemPath: ws.SystemPath(),
		Toolsets:   resolver,
	})
	if err != nil {
		fmt.Fprintf(out, "%-20s ERROR %v\n", cfg.Name, err)
		return err
	}
	defer client.Disconnect()

	cctx, cancel := context.WithTimeout(ctx, time.Duration(timeoutSec)*time.Second)
	defer cancel()

	if ok, err := client.Connect(cctx); !ok {
		fmt.Fprintf(out, "%-20s ERROR connect: %v\n", cfg.Name, err)
		return err
	}
	elapsed, err := client.Ping(cctx)
	if err != nil {
		fmt.Fprintf(out, "%-20s ERROR ping: %v\n", cfg.Name, err)
		return err
	}
	info := client.ServerInfo()
	fmt.Fprintf(out, "%-20s OK    %dms  %d tools  (%s %s)\n",
		cfg.Name, elapsed, len(client.ListTools()), info.Name, info.Version)
	return nil
}

// runUsage prints ledger totals, optionally scoped to one session.
func runUsage(cmd *cobra.Command, dir, sessionID string) error {
	ws, err := workspace.Open(dir, workspace.Options{Logger: slog.Default()})
	if err != nil {
		return err
	}
	ledger, err := usage.Open(ws.Dir(), slog.Default())
	if err != nil {
		return err
	}
	defer ledger.Close()

	out := cmd.OutOrStdout()
	if sessionID != "" {
		t, err := ledger.TotalsBySession(cmd.Context(), sessionID)
		if err != nil {
			return err
		}
		fmt.Fprintf(out, "session %s: %d calls, %d input tokens, %d output tokens\n",
			sessionID, t.Calls, t.InputTokens, t.OutputTokens)
		return nil
	}

	totals, err := ledger.TotalsByModel(cmd.Context())
	if err != nil {
		return err
	}
	if len(totals) == 0 {
		fmt.Fprintln(out, "No usage recorded.")
		return nil
	}
	fmt.Fprintf(out, "%-12s %-28s %8s %12s %12s\n", "PROVIDER", "MODEL", "CALLS", "INPUT", "OUTPUT")
	for _, t := range totals {
		fmt.Fprintf(out, "%-12s %-28s %8d %12d %12d\n",
			t.ProviderID, t.ModelID, t.Calls, t.InputTokens, t.OutputTokens)
	}
	return nil
}
