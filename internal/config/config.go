// Package config resolves process configuration from the environment.
//
// Values come from DefaultConfig, then environment variables, then the
// command-line flags registered by cmd/graphmcp. Only the outermost layer
// (flags) is handled outside this package.
package config

import (
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/HendryAvila/graphmcp/internal/graph"
)

// Environment variable names.
const (
	EnvWorkspaceRoot     = "WORKSPACE_ROOT"
	EnvDataDir           = "GRAPHMCP_DATA_DIR"
	EnvProject           = "GRAPHMCP_PROJECT"
	EnvAgentID           = "GRAPHMCP_AGENT_ID"
	EnvOpenAIKey         = "OPENAI_API_KEY"
	EnvOpenAIBaseURL     = "OPENAI_BASE_URL"
	EnvEmbedModel        = "GRAPHMCP_EMBED_MODEL"
	EnvMetricsAddr       = "GRAPHMCP_METRICS_ADDR"
	EnvReconcileInterval = "GRAPHMCP_RECONCILE_INTERVAL"
	EnvWatch             = "GRAPHMCP_WATCH"
	EnvDiskPriority      = "GRAPHMCP_DISK_PRIORITY"
	EnvLogLevel          = "GRAPHMCP_LOG_LEVEL"
)

// Config is everything the server needs to start.
type Config struct {
	// WorkspaceRoot is where the Graph_Export mirror is written.
	WorkspaceRoot string
	// DataDir holds graph.db and the session file.
	DataDir string
	Project string
	AgentID string

	OpenAIKey     string
	OpenAIBaseURL string
	EmbedModel    string

	// MetricsAddr enables the Prometheus listener when set.
	MetricsAddr string
	// ReconcileInterval runs a full sync periodically; 0 disables it.
	ReconcileInterval time.Duration
	// Watch starts the document watcher inside serve.
	Watch bool
	// DiskPriority overrides the default disk-priority types when non-nil.
	DiskPriority []string
	LogLevel     slog.Level
}

// DefaultConfig returns the configuration used when nothing is set.
func DefaultConfig() Config {
	home, _ := os.UserHomeDir()
	wd, _ := os.Getwd()
	return Config{
		WorkspaceRoot: wd,
		DataDir:       filepath.Join(home, ".graphmcp"),
		Project:       "graphmcp",
		AgentID:       "agent",
		LogLevel:      slog.LevelInfo,
	}
}

// FromEnv layers the process environment over DefaultConfig.
func FromEnv() (Config, error) {
	return fromLookup(os.LookupEnv)
}

func fromLookup(lookup func(string) (string, bool)) (Config, error) {
	cfg := DefaultConfig()
	get := func(key string) (string, bool) {
		v, ok := lookup(key)
		v = strings.TrimSpace(v)
		return v, ok && v != ""
	}

	if v, ok := get(EnvWorkspaceRoot); ok {
		cfg.WorkspaceRoot = v
	}
	if v, ok := get(EnvDataDir); ok {
		cfg.DataDir = v
	}
	if v, ok := get(EnvProject); ok {
		cfg.Project = v
	}
	if v, ok := get(EnvAgentID); ok {
		cfg.AgentID = v
	}
	cfg.OpenAIKey, _ = get(EnvOpenAIKey)
	cfg.OpenAIBaseURL, _ = get(EnvOpenAIBaseURL)
	cfg.EmbedModel, _ = get(EnvEmbedModel)
	cfg.MetricsAddr, _ = get(EnvMetricsAddr)

	if v, ok := get(EnvReconcileInterval); ok {
		d, err := time.ParseDuration(v)
		if err != nil {
			return cfg, fmt.Errorf("%s: %w", EnvReconcileInterval, err)
		}
		cfg.ReconcileInterval = d
	}
	if v, ok := get(EnvWatch); ok {
		b, err := strconv.ParseBool(v)
		if err != nil {
			return cfg, fmt.Errorf("%s: %w", EnvWatch, err)
		}
		cfg.Watch = b
	}
	if v, ok := get(EnvDiskPriority); ok {
		cfg.DiskPriority = SplitList(v)
	}
	if v, ok := get(EnvLogLevel); ok {
		lvl, err := ParseLevel(v)
		if err != nil {
			return cfg, err
		}
		cfg.LogLevel = lvl
	}
	return cfg, cfg.Validate()
}

// Validate reports settings that cannot work.
func (c Config) Validate() error {
	if c.DataDir == "" {
		return fmt.Errorf("data dir is required")
	}
	if c.WorkspaceRoot == "" {
		return fmt.Errorf("workspace root is required")
	}
	if strings.TrimSpace(c.Project) == "" {
		return fmt.Errorf("project is required")
	}
	if strings.TrimSpace(c.AgentID) == "" {
		return fmt.Errorf("agent id is required")
	}
	if c.ReconcileInterval < 0 {
		return fmt.Errorf("reconcile interval must not be negative, got %s", c.ReconcileInterval)
	}
	return nil
}

// Store returns the graph store configuration.
func (c Config) Store() graph.Config {
	sc := graph.DefaultConfig()
	sc.DataDir = c.DataDir
	return sc
}

// ParseLevel accepts debug, info, warn or error in any case.
func ParseLevel(s string) (slog.Level, error) {
	var lvl slog.Level
	if err := lvl.UnmarshalText([]byte(strings.TrimSpace(s))); err != nil {
		return slog.LevelInfo, fmt.Errorf("%s: unknown level %q (want debug|info|warn|error)", EnvLogLevel, s)
	}
	return lvl, nil
}

// SplitList splits a comma-separated list, dropping blanks. It returns an
// empty, non-nil slice for an all-blank input so the caller can tell an
// explicit empty allowlist from an unset one.
func SplitList(s string) []string {
	out := []string{}
	for _, part := range strings.Split(s, ",") {
		if p := strings.TrimSpace(part); p != "" {
			out = append(out, p)
		}
	}
	return out
}
