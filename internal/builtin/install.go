package builtin

import (
	"context"
	"fmt"
	"os"
	"path/filepath"

	"github.com/alexcabrera/devflow/internal/workflow"
)

// Install publishes every built-in workflow whose version is newer than any
// stored workflow of the same name. It returns the workflows it created.
func Install(ctx context.Context, svc *workflow.Service) ([]workflow.Workflow, error) {
	var installed []workflow.Workflow
	for _, name := range List() {
		def, err := Definition(name)
		if err != nil {
			return installed, err
		}

		existing, err := svc.List(ctx, workflow.Filter{Name: def.Name})
		if err != nil {
			return installed, err
		}
		if !needsInstall(def.Version, existing) {
			continue
		}

		w, err := svc.Create(ctx, def)
		if err != nil {
			return installed, fmt.Errorf("install %s: %w", name, err)
		}
		installed = append(installed, w)
	}
	return installed, nil
}

// needsInstall reports whether version is newer than every stored version.
func needsInstall(version string, existing []workflow.Workflow) bool {
	for _, w := range existing {
		if workflow.CompareVersions(w.Version, version) >= 0 {
			return false
		}
	}
	return true
}

// Extract writes the built-in definitions into dir as editable YAML files.
// Existing files are left alone unless force is set. It returns the paths
// written.
func Extract(dir string, force bool) ([]string, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("create workflows dir: %w", err)
	}

	var written []string
	for _, name := range List() {
		target := filepath.Join(dir, name+".yaml")
		if !force {
			if _, err := os.Stat(target); err == nil {
				continue
			}
		}
		data, err := Raw(name)
		if err != nil {
			return written, err
		}
		if err := os.WriteFile(target, data, 0o644); err != nil {
			return written, fmt.Errorf("write %s: %w", target, err)
		}
		written = append(written, target)
	}
	return written, nil
}
