package main

import (
	"bytes"
	"path/filepath"
	"strings"
	"testing"
)

func TestBuildRootCmdIncludesSubcommands(t *testing.T) {
	cmd := buildRootCmd()
	names := map[string]bool{}
	for _, sub := range cmd.Commands() {
		names[sub.Name()] = true
	}

	required := []string{"init", "info", "servers", "usage"}
	for _, name := range required {
		if !names[name] {
			t.Fatalf("expected subcommand %q to be registered", name)
		}
	}
}

func execute(t *testing.T, args ...string) (string, error) {
	t.Helper()
	cmd := buildRootCmd()
	var buf bytes.Buffer
	cmd.SetOut(&buf)
	cmd.SetErr(&buf)
	cmd.SetArgs(args)
	err := cmd.Execute()
	return buf.String(), err
}

func TestInitThenInfo(t *testing.T) {
	dir := filepath.Join(t.TempDir(), "ws")

	out, err := execute(t, "init", dir)
	if err != nil {
		t.Fatalf("init error = %v", err)
	}
	if !strings.Contains(out, "Workspace ready") {
		t.Errorf("init output = %q", out)
	}

	out, err = execute(t, "info", dir)
	if err != nil {
		t.Fatalf("info error = %v", err)
	}
	for _, want := range []string{"Settings:", "maxChatTurns = 25", "Providers:", "Tool servers:", "Rules:", "References:"} {
		if !strings.Contains(out, want) {
			t.Errorf("info output missing %q:\n%s", want, out)
		}
	}
}

func TestInfoRejectsNonWorkspace(t *testing.T) {
	if _, err := execute(t, "info", t.TempDir()); err == nil {
		t.Fatal("expected error for a directory without a workspace document")
	}
}

func TestServersPingEmptyWorkspace(t *testing.T) {
	dir := filepath.Join(t.TempDir(), "ws")
	if _, err := execute(t, "init", dir); err != nil {
		t.Fatalf("init error = %v", err)
	}

	out, err := execute(t, "servers", "ping", dir)
	if err != nil {
		t.Fatalf("ping error = %v", err)
	}
	if !strings.Contains(out, "No tool servers configured.") {
		t.Errorf("ping output = %q", out)
	}
}

func TestUsageEmptyLedger(t *testing.T) {
	dir := filepath.Join(t.TempDir(), "ws")
	if _, err := execute(t, "init", dir); err != nil {
		t.Fatalf("init error = %v", err)
	}

	out, err := execute(t, "usage", dir)
	if err != nil {
		t.Fatalf("usage error = %v", err)
	}
	if !strings.Contains(out, "No usage recorded.") {
		t.Errorf("usage output = %q", out)
	}
}
