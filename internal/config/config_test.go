package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

func TestLoadDefaults(t *testing.T) {
	t.Setenv(envConfigFile, "")
	t.Chdir(t.TempDir())

	cfg, err := Load()
	if err != nil {
		t.Fatalf("load failed: %v", err)
	}
	if cfg.Host != "127.0.0.1" || cfg.Port != "8088" {
		t.Fatalf("unexpected listen address %s:%s", cfg.Host, cfg.Port)
	}
	if cfg.Agent.RecursionLimit != DefaultRecursionLimit {
		t.Fatalf("expected default recursion limit %d, got=%d", DefaultRecursionLimit, cfg.Agent.RecursionLimit)
	}
	if cfg.Model.Provider != "demo" {
		t.Fatalf("expected demo provider by default, got=%q", cfg.Model.Provider)
	}
	if cfg.ToolTimeout() != 60*time.Second {
		t.Fatalf("unexpected tool timeout %s", cfg.ToolTimeout())
	}
	prefs := cfg.DefaultToolPreferences()
	if !prefs["web_search"] || !prefs["read_file"] || prefs["browser"] {
		t.Fatalf("unexpected default tool preferences: %#v", prefs)
	}
	if cfg.Source != "" {
		t.Fatalf("expected no config source, got=%q", cfg.Source)
	}
}

func TestLoadTOMLFileThenEnvOverrides(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "gateway.toml")
	raw := `
port = "9000"
workspace_dir = "docs"

[model]
provider = "anthropic"
model = "claude-sonnet-4-5"
timeout_seconds = 30

[agent]
recursion_limit = 12
tools = ["browser"]
`
	if err := os.WriteFile(path, []byte(raw), 0o644); err != nil {
		t.Fatalf("write config failed: %v", err)
	}
	t.Setenv(envConfigFile, path)
	t.Setenv("CHATDESK_PORT", "9100")
	t.Setenv("CHATDESK_TOOLS", "web_search, read_file")

	cfg, err := Load()
	if err != nil {
		t.Fatalf("load failed: %v", err)
	}
	if cfg.Source != path {
		t.Fatalf("expected source %q, got=%q", path, cfg.Source)
	}
	if cfg.Port != "9100" {
		t.Fatalf("expected env port override, got=%q", cfg.Port)
	}
	if cfg.WorkspaceDir != "docs" || cfg.Model.Provider != "anthropic" || cfg.Model.Model != "claude-sonnet-4-5" {
		t.Fatalf("file values not applied: %+v", cfg)
	}
	if cfg.ModelTimeout() != 30*time.Second {
		t.Fatalf("unexpected model timeout %s", cfg.ModelTimeout())
	}
	if cfg.Agent.RecursionLimit != 12 {
		t.Fatalf("expected recursion limit 12, got=%d", cfg.Agent.RecursionLimit)
	}
	prefs := cfg.DefaultToolPreferences()
	if len(prefs) != 2 || !prefs["web_search"] || !prefs["read_file"] {
		t.Fatalf("expected env tools to replace file tools, got=%#v", prefs)
	}
}

func TestLoadExplicitMissingFileFails(t *testing.T) {
	t.Setenv(envConfigFile, filepath.Join(t.TempDir(), "missing.toml"))
	if _, err := Load(); err == nil {
		t.Fatalf("expected error for explicit missing config file")
	}
}

func TestLoadInvalidEnvKeepsDefault(t *testing.T) {
	t.Setenv(envConfigFile, "")
	t.Chdir(t.TempDir())
	t.Setenv("CHATDESK_RECURSION_LIMIT", "-3")
	t.Setenv("CHATDESK_HTTP_WRITE_TIMEOUT", "0")
	t.Setenv("CHATDESK_HTTP_READ_TIMEOUT", "0")

	cfg, err := Load()
	if err != nil {
		t.Fatalf("load failed: %v", err)
	}
	if cfg.Agent.RecursionLimit != DefaultRecursionLimit {
		t.Fatalf("negative limit should be ignored, got=%d", cfg.Agent.RecursionLimit)
	}
	if cfg.HTTP.WriteTimeoutSeconds != 0 {
		t.Fatalf("write timeout allows zero, got=%d", cfg.HTTP.WriteTimeoutSeconds)
	}
	if cfg.HTTP.ReadTimeoutSeconds != 120 {
		t.Fatalf("read timeout zero should be ignored, got=%d", cfg.HTTP.ReadTimeoutSeconds)
	}
}

func TestLoadRejectsInconsistentLimits(t *testing.T) {
	t.Setenv(envConfigFile, "")
	t.Chdir(t.TempDir())
	t.Setenv("CHATDESK_RECURSION_LIMIT", "50")
	t.Setenv("CHATDESK_MAX_RECURSION_LIMIT", "10")

	if _, err := Load(); err == nil {
		t.Fatalf("expected error when max limit is below default limit")
	}
}
