package config

import (
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/alexcabrera/devflow/internal/paths"
)

func TestDefaultPaths(t *testing.T) {
	t.Setenv("DEVFLOW_DB", "")
	cfg := Default()

	if cfg.DatabasePath != paths.DatabasePath() {
		t.Fatalf("database path mismatch: got %s, want %s", cfg.DatabasePath, paths.DatabasePath())
	}
	if cfg.LogFile != paths.LogFile() {
		t.Fatalf("log file mismatch: got %s, want %s", cfg.LogFile, paths.LogFile())
	}
	if len(cfg.WorkflowsDirs) == 0 {
		t.Fatal("expected default workflows dirs")
	}
	if !cfg.AutoCurrent || !cfg.InstallBuiltin {
		t.Fatalf("expected auto_current and install_builtin to default to true: %+v", cfg)
	}
	if !strings.Contains(cfg.DatabasePath, "devflow") {
		t.Fatalf("database path should contain 'devflow': %s", cfg.DatabasePath)
	}
}

func TestDefaultDatabaseFromEnv(t *testing.T) {
	t.Setenv("DEVFLOW_DB", "/tmp/custom.db")
	cfg := Default()
	if cfg.DatabasePath != "/tmp/custom.db" {
		t.Fatalf("expected database path from env, got %q", cfg.DatabasePath)
	}
}

func TestLoadMissingFile(t *testing.T) {
	t.Setenv("DEVFLOW_DB", "")
	cfg, err := Load(filepath.Join(t.TempDir(), "missing.yaml"))
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}
	if cfg.DatabasePath != paths.DatabasePath() {
		t.Fatalf("expected defaults, got %+v", cfg)
	}
}

func TestLoadFile(t *testing.T) {
	t.Setenv("DEVFLOW_DB", "")
	t.Setenv("DEVFLOW_LOG_LEVEL", "")
	path := filepath.Join(t.TempDir(), "config.yaml")
	data := `database_path: ~/flows.db
workflows_dirs:
  - /srv/workflows
log_level: debug
auto_current: false
`
	if err := os.WriteFile(path, []byte(data), 0o644); err != nil {
		t.Fatal(err)
	}

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}
	home := mustUserHome(t)
	if cfg.DatabasePath != filepath.Join(home, "flows.db") {
		t.Errorf("DatabasePath = %q", cfg.DatabasePath)
	}
	if len(cfg.WorkflowsDirs) != 1 || cfg.WorkflowsDirs[0] != "/srv/workflows" {
		t.Errorf("WorkflowsDirs = %v", cfg.WorkflowsDirs)
	}
	if cfg.AutoCurrent {
		t.Error("expected auto_current false")
	}
	if !cfg.InstallBuiltin {
		t.Error("expected install_builtin to keep its default")
	}
	level, err := cfg.Level()
	if err != nil || level != slog.LevelDebug {
		t.Errorf("Level = %v, %v", level, err)
	}
}

func TestLoadEnvOverridesFile(t *testing.T) {
	t.Setenv("DEVFLOW_DB", "/tmp/env.db")
	t.Setenv("DEVFLOW_LOG_LEVEL", "warn")
	path := filepath.Join(t.TempDir(), "config.yaml")
	if err := os.WriteFile(path, []byte("database_path: /tmp/file.db\nlog_level: debug\n"), 0o644); err != nil {
		t.Fatal(err)
	}
	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}
	if cfg.DatabasePath != "/tmp/env.db" || cfg.LogLevel != "warn" {
		t.Errorf("cfg = %+v", cfg)
	}
}

func TestLoadInvalid(t *testing.T) {
	t.Setenv("DEVFLOW_LOG_LEVEL", "")
	dir := t.TempDir()

	bad := filepath.Join(dir, "bad.yaml")
	if err := os.WriteFile(bad, []byte("log_level: [x"), 0o644); err != nil {
		t.Fatal(err)
	}
	if _, err := Load(bad); err == nil || !strings.Contains(err.Error(), "parse config") {
		t.Errorf("err = %v, want parse error", err)
	}

	level := filepath.Join(dir, "level.yaml")
	if err := os.WriteFile(level, []byte("log_level: loud\n"), 0o644); err != nil {
		t.Fatal(err)
	}
	if _, err := Load(level); err == nil {
		t.Error("expected invalid log level error")
	}
}

func mustUserHome(t *testing.T) string {
	t.Helper()
	h, err := os.UserHomeDir()
	if err != nil {
		t.Fatalf("home: %v", err)
	}
	return h
}
