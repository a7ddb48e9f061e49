package main

import (
	"bytes"
	"os"
	"path/filepath"
	"strings"
	"testing"
)

func writeFile(t *testing.T, path, content string) {
	t.Helper()
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		t.Fatalf("mkdir: %v", err)
	}
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatalf("write %s: %v", path, err)
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

func TestRootCommandTree(t *testing.T) {
	cmd := buildRootCmd()
	want := map[string]bool{"run": false, "resume": false, "sessions": false}
	for _, sub := range cmd.Commands() {
		if _, ok := want[sub.Name()]; ok {
			want[sub.Name()] = true
		}
	}
	for name, found := range want {
		if !found {
			t.Errorf("missing subcommand %q", name)
		}
	}
}

func TestRunRequiresTask(t *testing.T) {
	if _, err := execute(t, "run"); err == nil {
		t.Fatal("run without a task should fail")
	}
}

func TestRunRejectsEmptyAgentList(t *testing.T) {
	dir := t.TempDir()
	configPath := filepath.Join(dir, "massgen.yaml")
	writeFile(t, configPath, "storage:\n  bases: [\""+filepath.Join(dir, "store")+"\"]\n")

	_, err := execute(t, "run", "--config", configPath, "do something")
	if err == nil || !strings.Contains(err.Error(), "no agents") {
		t.Fatalf("err = %v, want no-agents error", err)
	}
}

func TestRunFailsOnMissingAPIKey(t *testing.T) {
	t.Setenv("ANTHROPIC_API_KEY", "")
	dir := t.TempDir()
	configPath := filepath.Join(dir, "massgen.yaml")
	writeFile(t, configPath, `
agents:
  - id: claude
    provider: anthropic
    model: claude-sonnet-4-5
storage:
  bases: ["`+filepath.Join(dir, "store")+`"]
  workspace_root: "`+filepath.Join(dir, "work")+`"
`)

	_, err := execute(t, "run", "--config", configPath, "do something")
	if err == nil || !strings.Contains(err.Error(), "claude") {
		t.Fatalf("err = %v, want backend construction failure naming the agent", err)
	}
}

func TestSessionsListEmptyStore(t *testing.T) {
	dir := t.TempDir()
	configPath := filepath.Join(dir, "massgen.yaml")
	writeFile(t, configPath, "storage:\n  bases: [\""+filepath.Join(dir, "store")+"\"]\n")

	out, err := execute(t, "sessions", "list", "--config", configPath)
	if err != nil {
		t.Fatalf("sessions list: %v", err)
	}
	if !strings.Contains(out, "No stored sessions.") {
		t.Errorf("out = %q", out)
	}
}

func TestSessionsShowUnknownSession(t *testing.T) {
	dir := t.TempDir()
	configPath := filepath.Join(dir, "massgen.yaml")
	writeFile(t, configPath, "storage:\n  bases: [\""+filepath.Join(dir, "store")+"\"]\n")

	out, err := execute(t, "sessions", "show", "--config", configPath, "nope")
	if err != nil {
		t.Fatalf("sessions show: %v", err)
	}
	if !strings.Contains(out, "no closed turns") {
		t.Errorf("out = %q", out)
	}
}
