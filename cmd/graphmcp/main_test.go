package main

import (
	"bytes"
	"encoding/json"
	"io"
	"log/slog"
	"path/filepath"
	"strings"
	"testing"
)

// run executes the root command against a fresh data dir and workspace.
func run(t *testing.T, dataDir, workspace string, args ...string) (string, error) {
	t.Helper()
	t.Setenv("OPENAI_API_KEY", "")
	var out bytes.Buffer
	root := newRootCmd()
	root.SetOut(&out)
	root.SetErr(io.Discard)
	root.SetArgs(append([]string{"--data-dir", dataDir, "--workspace", workspace}, args...))
	err := root.Execute()
	return out.String(), err
}

func TestVersionCmd(t *testing.T) {
	out, err := run(t, t.TempDir(), t.TempDir(), "version")
	if err != nil {
		t.Fatalf("version: %v", err)
	}
	if !strings.HasPrefix(out, "graphmcp v") {
		t.Errorf("output = %q", out)
	}
}

func TestSetup_FlagsOverrideEnvironment(t *testing.T) {
	t.Setenv("GRAPHMCP_PROJECT", "from-env")
	t.Setenv("GRAPHMCP_AGENT_ID", "env-agent")
	t.Setenv("GRAPHMCP_LOG_LEVEL", "warn")

	a := &app{dataDir: t.TempDir(), workspace: t.TempDir(), project: "from-flag", logLevel: "debug"}
	if err := a.setup(io.Discard); err != nil {
		t.Fatalf("setup: %v", err)
	}
	if a.cfg.Project != "from-flag" {
		t.Errorf("Project = %q, want from-flag", a.cfg.Project)
	}
	if a.cfg.AgentID != "env-agent" {
		t.Errorf("AgentID = %q, want env-agent", a.cfg.AgentID)
	}
	if a.cfg.LogLevel != slog.LevelDebug {
		t.Errorf("LogLevel = %v, want debug", a.cfg.LogLevel)
	}
	if a.logger == nil {
		t.Error("logger not built")
	}
}

func TestSetup_RejectsBadLogLevel(t *testing.T) {
	a := &app{dataDir: t.TempDir(), workspace: t.TempDir(), logLevel: "loud"}
	if err := a.setup(io.Discard); err == nil {
		t.Error("expected error for unknown log level")
	}
}

func TestNewLogger_JSONWhenNotTerminal(t *testing.T) {
	var buf bytes.Buffer
	newLogger(&buf, slog.LevelInfo).Info("hello", "k", "v")

	var rec map[string]any
	if err := json.Unmarshal(buf.Bytes(), &rec); err != nil {
		t.Fatalf("log line is not JSON: %q", buf.String())
	}
	if rec["msg"] != "hello" || rec["k"] != "v" {
		t.Errorf("record = %v", rec)
	}

	buf.Reset()
	newLogger(&buf, slog.LevelWarn).Info("dropped")
	if buf.Len() != 0 {
		t.Errorf("info logged at warn level: %q", buf.String())
	}
}

func TestBootstrapCmd_Print(t *testing.T) {
	out, err := run(t, t.TempDir(), t.TempDir(), "bootstrap", "--print")
	if err != nil {
		t.Fatalf("bootstrap --print: %v", err)
	}
	if !strings.Contains(out, "node_types:") || !strings.Contains(out, "name: Spec") {
		t.Errorf("seed not printed:\n%s", out)
	}
}

func TestBootstrapCmd_LoadThenExport(t *testing.T) {
	data, ws := t.TempDir(), t.TempDir()

	out, err := run(t, data, ws, "bootstrap")
	if err != nil {
		t.Fatalf("bootstrap: %v", err)
	}
	if !strings.Contains(out, "created") {
		t.Errorf("load report = %q", out)
	}

	// A second load changes nothing.
	out, err = run(t, data, ws, "bootstrap")
	if err != nil {
		t.Fatalf("second bootstrap: %v", err)
	}
	if !strings.HasPrefix(out, "0 fact(s) created, 0 updated") {
		t.Errorf("second load report = %q", out)
	}

	out, err = run(t, data, ws, "bootstrap", "--export")
	if err != nil {
		t.Fatalf("bootstrap --export: %v", err)
	}
	for _, want := range []string{"node_types:", "name: Requirement", "relation: DECOMPOSES"} {
		if !strings.Contains(out, want) {
			t.Errorf("export missing %q:\n%s", want, out)
		}
	}
}

func TestBootstrapCmd_PrintAndExportExclusive(t *testing.T) {
	if _, err := run(t, t.TempDir(), t.TempDir(), "bootstrap", "--print", "--export"); err == nil {
		t.Error("expected error for --print with --export")
	}
}

func TestSyncCmd_All(t *testing.T) {
	out, err := run(t, t.TempDir(), t.TempDir(), "sync")
	if err != nil {
		t.Fatalf("sync: %v", err)
	}
	if !strings.HasPrefix(out, "Synced ") {
		t.Errorf("output = %q", out)
	}
}

func TestSyncCmd_UnknownNode(t *testing.T) {
	if _, err := run(t, t.TempDir(), t.TempDir(), "sync", "TASK-Missing"); err == nil {
		t.Error("expected error for unknown node")
	}
}

func TestIngestCmd_MissingFile(t *testing.T) {
	ws := t.TempDir()
	_, err := run(t, t.TempDir(), ws, "ingest", filepath.Join(ws, "nope.md"))
	if err == nil || !strings.Contains(err.Error(), "nope.md") {
		t.Errorf("err = %v, want it to name the path", err)
	}
}

func TestIngestCmd_RequiresPath(t *testing.T) {
	if _, err := run(t, t.TempDir(), t.TempDir(), "ingest"); err == nil {
		t.Error("expected error without a path")
	}
}
