package config

import (
	"fmt"
	"log/slog"
	"os"
	"strings"

	"gopkg.in/yaml.v3"

	"github.com/alexcabrera/devflow/internal/paths"
)

// Config represents the CLI configuration for devflow.
type Config struct {
	DatabasePath  string   `yaml:"database_path"`
	WorkflowsDirs []string `yaml:"workflows_dirs"`
	LogLevel      string   `yaml:"log_level"`
	LogFile       string   `yaml:"log_file"`
	// AutoCurrent makes newly started sessions the current session.
	AutoCurrent bool `yaml:"auto_current"`
	// InstallBuiltin publishes the built-in workflows on first use.
	InstallBuiltin bool `yaml:"install_builtin"`
}

func defaultDatabasePath() string {
	if env := strings.TrimSpace(os.Getenv("DEVFLOW_DB")); env != "" {
		return env
	}
	return paths.DatabasePath()
}

func defaultLogLevel() string {
	if env := strings.TrimSpace(os.Getenv("DEVFLOW_LOG_LEVEL")); env != "" {
		return env
	}
	return "info"
}

// Default returns a Config populated with default values.
func Default() Config {
	return Config{
		DatabasePath:   defaultDatabasePath(),
		WorkflowsDirs:  paths.WorkflowsDirs(),
		LogLevel:       defaultLogLevel(),
		LogFile:        paths.LogFile(),
		AutoCurrent:    true,
		InstallBuiltin: true,
	}
}

// Load reads configuration from the given path, falling back to defaults when missing.
// DEVFLOW_DB and DEVFLOW_LOG_LEVEL take precedence over the file.
func Load(path string) (Config, error) {
	cfg := Default()

	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return cfg, nil
		}
		return cfg, fmt.Errorf("read config: %w", err)
	}

	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return cfg, fmt.Errorf("parse config: %w", err)
	}

	if env := strings.TrimSpace(os.Getenv("DEVFLOW_DB")); env != "" {
		cfg.DatabasePath = env
	}
	if env := strings.TrimSpace(os.Getenv("DEVFLOW_LOG_LEVEL")); env != "" {
		cfg.LogLevel = env
	}
	if strings.TrimSpace(cfg.DatabasePath) == "" {
		cfg.DatabasePath = paths.DatabasePath()
	}
	if strings.TrimSpace(cfg.LogFile) == "" {
		cfg.LogFile = paths.LogFile()
	}
	cfg.DatabasePath = expandHome(cfg.DatabasePath)
	cfg.LogFile = expandHome(cfg.LogFile)
	for i, dir := range cfg.WorkflowsDirs {
		cfg.WorkflowsDirs[i] = expandHome(dir)
	}

	if _, err := cfg.Level(); err != nil {
		return cfg, err
	}
	return cfg, nil
}

// Level parses LogLevel.
func (c Config) Level() (slog.Level, error) {
	text := strings.TrimSpace(c.LogLevel)
	if text == "" {
		return slog.LevelInfo, nil
	}
	var level slog.Level
	if err := level.UnmarshalText([]byte(text)); err != nil {
		return slog.LevelInfo, fmt.Errorf("parse config: invalid log_level %q", c.LogLevel)
	}
	return level, nil
}

func expandHome(p string) string {
	if p != "~" && !strings.HasPrefix(p, "~/") {
		return p
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return p
	}
	return home + strings.TrimPrefix(p, "~")
}
