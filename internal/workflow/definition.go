package workflow

import (
	_ "embed"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"

	"github.com/kaptinlin/jsonschema"
	"gopkg.in/yaml.v3"

	"github.com/alexcabrera/devflow/internal/flowerr"
)

//go:embed schema.json
var definitionSchema []byte

// Document is the YAML form of a workflow definition.
//
//	name: feature
//	version: 1.0.0
//	stages:
//	  - name: Plan
//	    checklist: [scope agreed]
//	  - name: Ship
//	    end: true
//	transitions:
//	  - {from: plan, to: ship}
//
// Stages without an explicit order take their list position. Stages without
// a key take the slug of their name.
type Document struct {
	Name        string               `yaml:"name"`
	Description string               `yaml:"description,omitempty"`
	Version     string               `yaml:"version,omitempty"`
	FlowType    string               `yaml:"flow_type,omitempty"`
	Stages      []StageDocument      `yaml:"stages"`
	Transitions []TransitionDocument `yaml:"transitions,omitempty"`
}

// StageDocument is one entry of Document.Stages.
type StageDocument struct {
	Key          string   `yaml:"key,omitempty"`
	Name         string   `yaml:"name"`
	Description  string   `yaml:"description,omitempty"`
	Order        *int     `yaml:"order,omitempty"`
	Checklist    []string `yaml:"checklist,omitempty"`
	Deliverables []string `yaml:"deliverables,omitempty"`
	End          bool     `yaml:"end,omitempty"`
}

// TransitionDocument is one entry of Document.Transitions.
type TransitionDocument struct {
	From      string `yaml:"from"`
	To        string `yaml:"to"`
	Condition string `yaml:"condition,omitempty"`
}

// Params converts the document to CreateParams.
func (d Document) Params() CreateParams {
	p := CreateParams{
		Name:        d.Name,
		Description: d.Description,
		Version:     d.Version,
		FlowType:    d.FlowType,
	}
	for i, st := range d.Stages {
		order := i
		if st.Order != nil {
			order = *st.Order
		}
		p.Stages = append(p.Stages, StageParams{
			Key:          st.Key,
			Name:         st.Name,
			Description:  st.Description,
			OrderIndex:   order,
			Checklist:    st.Checklist,
			Deliverables: st.Deliverables,
			IsEnd:        st.End,
		})
	}
	for _, tr := range d.Transitions {
		p.Transitions = append(p.Transitions, TransitionParams{
			From:      tr.From,
			To:        tr.To,
			Condition: tr.Condition,
		})
	}
	return p
}

// DocumentFor renders a stored workflow back to its YAML form.
func DocumentFor(w Workflow) Document {
	d := Document{
		Name:        w.Name,
		Description: w.Description,
		Version:     w.Version,
		FlowType:    w.FlowType,
	}
	for _, st := range w.Stages {
		order := st.OrderIndex
		d.Stages = append(d.Stages, StageDocument{
			Key:          st.Key,
			Name:         st.Name,
			Description:  st.Description,
			Order:        &order,
			Checklist:    st.Checklist,
			Deliverables: st.Deliverables,
			End:          st.IsEnd,
		})
	}
	for _, tr := range w.Transitions {
		from, _ := w.Stage(tr.FromStage)
		to, _ := w.Stage(tr.ToStage)
		d.Transitions = append(d.Transitions, TransitionDocument{
			From:      from.Key,
			To:        to.Key,
			Condition: tr.Condition,
		})
	}
	return d
}

var (
	compileOnce    sync.Once
	compiledSchema *jsonschema.Schema
	compileErr     error
)

func schema() (*jsonschema.Schema, error) {
	compileOnce.Do(func() {
		compiledSchema, compileErr = jsonschema.NewCompiler().Compile(definitionSchema)
	})
	return compiledSchema, compileErr
}

// ParseDefinition decodes a YAML definition, checks it against the
// definition schema and returns the resulting CreateParams. Structural rules
// are checked later by Validate.
func ParseDefinition(data []byte) (CreateParams, error) {
	var raw interface{}
	if err := yaml.Unmarshal(data, &raw); err != nil {
		return CreateParams{}, flowerr.Validation([]string{err.Error()}, "invalid definition YAML")
	}
	if raw == nil {
		return CreateParams{}, flowerr.Validation(nil, "definition is empty")
	}

	// Round-trip through JSON so the validator sees JSON types.
	encoded, err := json.Marshal(raw)
	if err != nil {
		return CreateParams{}, flowerr.Validation([]string{err.Error()}, "definition is not representable as JSON")
	}
	var instance interface{}
	if err := json.Unmarshal(encoded, &instance); err != nil {
		return CreateParams{}, fmt.Errorf("decode definition: %w", err)
	}

	sch, err := schema()
	if err != nil {
		return CreateParams{}, fmt.Errorf("compile definition schema: %w", err)
	}
	result := sch.Validate(instance)
	if !result.IsValid() {
		var details []string
		for field, detail := range result.Errors {
			details = append(details, fmt.Sprintf("%s: %s", field, detail.Message))
		}
		sort.Strings(details)
		return CreateParams{}, flowerr.Validation(details, "definition does not match schema")
	}

	var doc Document
	if err := yaml.Unmarshal(data, &doc); err != nil {
		return CreateParams{}, flowerr.Validation([]string{err.Error()}, "invalid definition YAML")
	}
	return doc.Params(), nil
}

// LoadDefinitionFile reads and parses a definition from disk.
func LoadDefinitionFile(path string) (CreateParams, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return CreateParams{}, fmt.Errorf("read definition: %w", err)
	}
	p, err := ParseDefinition(data)
	if err != nil {
		return CreateParams{}, fmt.Errorf("%s: %w", path, err)
	}
	return p, nil
}

// DefinitionFile is a definition discovered on disk.
type DefinitionFile struct {
	Path   string
	Params CreateParams
	Err    error
}

// Discover finds *.yaml and *.yml definitions in dirs. Missing directories
// are skipped. Files that fail to parse are returned with Err set.
func Discover(dirs []string) ([]DefinitionFile, error) {
	var files []DefinitionFile
	for _, dir := range dirs {
		entries, err := os.ReadDir(dir)
		if err != nil {
			if os.IsNotExist(err) {
				continue
			}
			return nil, err
		}
		for _, entry := range entries {
			if entry.IsDir() {
				continue
			}
			ext := strings.ToLower(filepath.Ext(entry.Name()))
			if ext != ".yaml" && ext != ".yml" {
				continue
			}
			path := filepath.Join(dir, entry.Name())
			p, err := LoadDefinitionFile(path)
			files = append(files, DefinitionFile{Path: path, Params: p, Err: err})
		}
	}
	return files, nil
}
