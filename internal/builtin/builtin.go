// Package builtin provides the workflow templates that ship with devflow.
package builtin

import (
	"embed"
	"fmt"
	"path"
	"sort"
	"strings"

	"github.com/alexcabrera/devflow/internal/workflow"
)

//go:embed workflows/*.yaml
var workflowsFS embed.FS

// List returns the names of all built-in workflows.
func List() []string {
	entries, err := workflowsFS.ReadDir("workflows")
	if err != nil {
		return nil
	}
	var names []string
	for _, entry := range entries {
		if entry.IsDir() {
			continue
		}
		names = append(names, strings.TrimSuffix(entry.Name(), path.Ext(entry.Name())))
	}
	sort.Strings(names)
	return names
}

// Has reports whether a built-in workflow exists with the given name.
func Has(name string) bool {
	_, err := Raw(name)
	return err == nil
}

// Raw returns the YAML source of a built-in workflow.
func Raw(name string) ([]byte, error) {
	data, err := workflowsFS.ReadFile(path.Join("workflows", name+".yaml"))
	if err != nil {
		return nil, fmt.Errorf("built-in workflow %q not found", name)
	}
	return data, nil
}

// Definition parses a built-in workflow.
func Definition(name string) (workflow.CreateParams, error) {
	data, err := Raw(name)
	if err != nil {
		return workflow.CreateParams{}, err
	}
	p, err := workflow.ParseDefinition(data)
	if err != nil {
		return workflow.CreateParams{}, fmt.Errorf("built-in workflow %s: %w", name, err)
	}
	return p, nil
}
