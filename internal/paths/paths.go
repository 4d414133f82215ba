// Package paths provides directory paths for devflow.
//
// Lookup order for workflow definitions (first found wins by name):
//  1. ./.devflow/workflows (project definitions)
//  2. ~/.config/devflow/workflows (user definitions)
//
// The database and log file live in the data directory:
//   - ~/.local/share/devflow (XDG)
//   - {repo}/.devflow when running from a devflow source checkout
//   - ./.local/share/devflow with SetLocalDevMode
package paths

import (
	"os"
	"path/filepath"
	"runtime"
	"strings"
	"sync"
)

const appName = "devflow"

var (
	devRoot     string
	devRootOnce sync.Once

	// localDevMode is set by SetLocalDevMode to force local directory paths
	localDevMode     bool
	localDevModeOnce sync.Once
)

// IsDevMode returns true if devflow is running from a source checkout.
func IsDevMode() bool {
	return getDevRoot() != ""
}

// DevRoot returns the repository root if running in dev mode, or empty string otherwise.
func DevRoot() string {
	return getDevRoot()
}

// getDevRoot walks up from the executable, then from the working directory,
// looking for the devflow go.mod.
func getDevRoot() string {
	devRootOnce.Do(func() {
		if root := findDevRootFrom(executableDir()); root != "" {
			devRoot = root
			return
		}
		if wd, err := os.Getwd(); err == nil {
			if root := findDevRootFrom(wd); root != "" {
				devRoot = root
			}
		}
	})
	return devRoot
}

func executableDir() string {
	exe, err := os.Executable()
	if err != nil {
		return ""
	}
	exe, err = filepath.EvalSymlinks(exe)
	if err != nil {
		return ""
	}
	return filepath.Dir(exe)
}

func findDevRootFrom(startDir string) string {
	if startDir == "" {
		return ""
	}

	dir := startDir
	for {
		if data, err := os.ReadFile(filepath.Join(dir, "go.mod")); err == nil {
			content := string(data)
			if strings.HasPrefix(content, "module github.com/alexcabrera/devflow") ||
				strings.Contains(content, "\nmodule github.com/alexcabrera/devflow") {
				return dir
			}
		}

		parent := filepath.Dir(dir)
		if parent == dir {
			break
		}
		dir = parent
	}
	return ""
}

// SetLocalDevMode makes every directory resolve under the working directory.
// Must be called before any directory functions are used.
func SetLocalDevMode() {
	localDevModeOnce.Do(func() {
		localDevMode = true
	})
}

// IsLocalDevMode returns true if local dev mode is enabled via SetLocalDevMode.
func IsLocalDevMode() bool {
	return localDevMode
}

// DataDir returns the data directory holding the database and log file.
func DataDir() string {
	if localDevMode {
		wd, _ := os.Getwd()
		return filepath.Join(wd, ".local", "share", appName)
	}

	if root := getDevRoot(); root != "" {
		return filepath.Join(root, "."+appName)
	}

	if runtime.GOOS == "windows" {
		return filepath.Join(localAppData(), appName)
	}
	if xdg := os.Getenv("XDG_DATA_HOME"); xdg != "" {
		return filepath.Join(xdg, appName)
	}
	home, _ := os.UserHomeDir()
	return filepath.Join(home, ".local", "share", appName)
}

// ConfigDir returns the user config directory.
func ConfigDir() string {
	if localDevMode {
		wd, _ := os.Getwd()
		return filepath.Join(wd, ".config", appName)
	}

	if runtime.GOOS == "windows" {
		return filepath.Join(localAppData(), appName)
	}
	if xdg := os.Getenv("XDG_CONFIG_HOME"); xdg != "" {
		return filepath.Join(xdg, appName)
	}
	home, _ := os.UserHomeDir()
	return filepath.Join(home, ".config", appName)
}

func localAppData() string {
	dir := os.Getenv("LOCALAPPDATA")
	if dir == "" {
		home, _ := os.UserHomeDir()
		dir = filepath.Join(home, "AppData", "Local")
	}
	return dir
}

// ConfigFile returns the path to the main config file.
func ConfigFile() string {
	return filepath.Join(ConfigDir(), "config.yaml")
}

// DatabasePath returns the default SQLite database path.
func DatabasePath() string {
	return filepath.Join(DataDir(), appName+".db")
}

// LogFile returns the default log file path.
func LogFile() string {
	return filepath.Join(DataDir(), appName+".log")
}

// WorkflowsDir returns the user workflow definitions directory.
func WorkflowsDir() string {
	return filepath.Join(ConfigDir(), "workflows")
}

// LocalWorkflowsDir returns the project workflow definitions directory
// (./.devflow/workflows), or empty string if the working directory is unknown.
func LocalWorkflowsDir() string {
	wd, err := os.Getwd()
	if err != nil {
		return ""
	}
	return filepath.Join(wd, "."+appName, "workflows")
}

// WorkflowsDirs returns definition directories in lookup priority order:
// project, then user. Directories need not exist.
func WorkflowsDirs() []string {
	var dirs []string
	if local := LocalWorkflowsDir(); local != "" {
		dirs = append(dirs, local)
	}
	return append(dirs, WorkflowsDir())
}
