package main

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"testing"

	"github.com/alexcabrera/devflow/internal/flowerr"
	"github.com/alexcabrera/devflow/internal/kv"
	"github.com/alexcabrera/devflow/internal/session"
	"github.com/alexcabrera/devflow/internal/stage"
	"github.com/alexcabrera/devflow/internal/workflow"
)

type testEnv struct {
	cfgPath      string
	workflowsDir string
}

func setupTestEnv(t *testing.T) testEnv {
	t.Helper()
	dir := t.TempDir()
	workflowsDir := filepath.Join(dir, "workflows")
	if err := os.MkdirAll(workflowsDir, 0o755); err != nil {
		t.Fatalf("failed to create workflows dir: %v", err)
	}

	cfg := fmt.Sprintf("database_path: %s\nlog_file: %s\nworkflows_dirs:\n  - %s\n",
		filepath.Join(dir, "devflow.db"),
		filepath.Join(dir, "devflow.log"),
		workflowsDir,
	)
	cfgPath := filepath.Join(dir, "config.yaml")
	if err := os.WriteFile(cfgPath, []byte(cfg), 0o644); err != nil {
		t.Fatalf("failed to write config: %v", err)
	}
	t.Setenv("DEVFLOW_DB", "")
	t.Setenv("DEVFLOW_LOG_LEVEL", "")
	return testEnv{cfgPath: cfgPath, workflowsDir: workflowsDir}
}

func (e testEnv) run(t *testing.T, args ...string) (string, error) {
	t.Helper()
	cmd := newRootCmd()
	var out bytes.Buffer
	cmd.SetOut(&out)
	cmd.SetErr(&out)
	cmd.SetArgs(append([]string{"--config", e.cfgPath}, args...))
	err := cmd.ExecuteContext(context.Background())
	return out.String(), err
}

func (e testEnv) mustRun(t *testing.T, args ...string) string {
	t.Helper()
	out, err := e.run(t, args...)
	if err != nil {
		t.Fatalf("devflow %s: %v\n%s", strings.Join(args, " "), err, out)
	}
	return out
}

func decode[T any](t *testing.T, data string) T {
	t.Helper()
	var v T
	if err := json.Unmarshal([]byte(data), &v); err != nil {
		t.Fatalf("failed to decode %q: %v", data, err)
	}
	return v
}

func TestWorkflowsListIncludesBuiltins(t *testing.T) {
	env := setupTestEnv(t)

	workflows := decode[[]workflow.Workflow](t, env.mustRun(t, "--json", "workflows", "list"))
	names := map[string]bool{}
	for _, w := range workflows {
		names[w.Name] = true
	}
	if !names["feature"] || !names["bugfix"] {
		t.Fatalf("expected built-in workflows, got %v", names)
	}

	// A second run must not publish the built-ins again.
	again := decode[[]workflow.Workflow](t, env.mustRun(t, "--json", "workflows", "list", "--all"))
	if len(again) != len(workflows) {
		t.Errorf("workflows after second run = %d, want %d", len(again), len(workflows))
	}
}

const releaseYAML = `name: release
version: "1.0.0"
stages:
  - key: prepare
    name: Prepare
    checklist: [changelog]
  - key: publish
    name: Publish
    end: true
`

func TestWorkflowsCreateAndShow(t *testing.T) {
	env := setupTestEnv(t)
	path := filepath.Join(t.TempDir(), "release.yaml")
	if err := os.WriteFile(path, []byte(releaseYAML), 0o644); err != nil {
		t.Fatalf("write: %v", err)
	}

	w := decode[workflow.Workflow](t, env.mustRun(t, "--json", "workflows", "create", "--file", path))
	if w.Name != "release" || len(w.Stages) != 2 {
		t.Fatalf("created = %+v", w)
	}

	_, err := env.run(t, "workflows", "create", "--file", path)
	if !errors.Is(err, flowerr.ErrConflict) {
		t.Errorf("duplicate create error = %v, want conflict", err)
	}

	out := env.mustRun(t, "workflows", "show", "release", "--yaml")
	if !strings.Contains(out, "key: prepare") || !strings.Contains(out, "end: true") {
		t.Errorf("show --yaml = %q", out)
	}
}

func TestWorkflowsCreateFromPipedStdin(t *testing.T) {
	env := setupTestEnv(t)
	doc := `name: review
stages:
  - name: Review
    description: |
      Read the diff.
      Leave comments.
  - name: Review
    end: true
`
	r, w, err := os.Pipe()
	if err != nil {
		t.Fatalf("pipe: %v", err)
	}
	orig := os.Stdin
	os.Stdin = r
	defer func() { os.Stdin = orig }()
	if _, err := w.WriteString(doc); err != nil {
		t.Fatalf("write: %v", err)
	}
	w.Close()

	created := decode[workflow.Workflow](t, env.mustRun(t, "--json", "workflows", "create"))
	if len(created.Stages) != 2 || created.Stages[0].Key != "review" || created.Stages[1].Key != "review-1" {
		t.Fatalf("created = %+v", created)
	}

	out := env.mustRun(t, "workflows", "show", "review")
	if !strings.Contains(out, "      Read the diff.") || !strings.Contains(out, "      Leave comments.") {
		t.Errorf("show output = %q", out)
	}
}

func TestWorkflowsDeleteBuiltinNotice(t *testing.T) {
	env := setupTestEnv(t)

	out := env.mustRun(t, "workflows", "delete", "bugfix", "--force")
	if !strings.Contains(out, "installed again") {
		t.Errorf("delete output = %q", out)
	}
}

func TestWorkflowsCreateRejectsInvalid(t *testing.T) {
	env := setupTestEnv(t)
	path := filepath.Join(t.TempDir(), "broken.yaml")
	broken := "name: broken\nstages:\n  - key: a\n    name: A\n"
	if err := os.WriteFile(path, []byte(broken), 0o644); err != nil {
		t.Fatalf("write: %v", err)
	}

	_, err := env.run(t, "workflows", "create", "--dry-run", "--file", path)
	if !errors.Is(err, flowerr.ErrValidation) {
		t.Fatalf("error = %v, want validation", err)
	}
	if details := flowerr.Details(err); len(details) == 0 {
		t.Error("expected validation details")
	}
}

func TestWorkflowsDiscoveredFromDirs(t *testing.T) {
	env := setupTestEnv(t)
	if err := os.WriteFile(filepath.Join(env.workflowsDir, "release.yaml"), []byte(releaseYAML), 0o644); err != nil {
		t.Fatalf("write: %v", err)
	}

	w := decode[workflow.Workflow](t, env.mustRun(t, "--json", "workflows", "show", "release"))
	if w.Version != "1.0.0" {
		t.Errorf("Version = %q, want 1.0.0", w.Version)
	}
}

func TestSessionWalkthrough(t *testing.T) {
	env := setupTestEnv(t)
	if err := os.WriteFile(filepath.Join(env.workflowsDir, "release.yaml"), []byte(releaseYAML), 0o644); err != nil {
		t.Fatalf("write: %v", err)
	}

	sess := decode[session.Session](t, env.mustRun(t, "--json", "sessions", "start", "release", "--name", "v2", "--set", "attempts=1"))
	if sess.Name != "v2" || !sess.IsCurrent {
		t.Fatalf("started = %+v", sess)
	}
	if got := sess.Context["attempts"]; !got.Equal(kv.Number(1)) {
		t.Errorf("context attempts = %v", got)
	}

	_, err := env.run(t, "stage", "advance")
	if !errors.Is(err, flowerr.ErrIncompleteStage) {
		t.Fatalf("advance error = %v, want incomplete stage", err)
	}

	out := env.mustRun(t, "stage", "check", "changelog", "typo")
	if !strings.Contains(out, "typo") || !strings.Contains(out, "not on the checklist") {
		t.Errorf("check output = %q", out)
	}

	step := decode[session.StepResult](t, env.mustRun(t, "--json", "stage", "advance", "--from", "prepare"))
	if step.Closed.Status != stage.StatusCompleted || step.Entered == nil || step.Entered.Name != "Publish" {
		t.Fatalf("step = %+v", step)
	}

	if _, err := env.run(t, "stage", "advance", "--from", "prepare"); !errors.Is(err, flowerr.ErrConflict) {
		t.Errorf("repeated advance error = %v, want conflict", err)
	}

	env.mustRun(t, "stage", "deliver", "tag", "v2.0.0")
	env.mustRun(t, "context", "set", "channel=stable")
	if out := env.mustRun(t, "context", "get", "channel"); out != "stable\n" {
		t.Errorf("context get = %q", out)
	}

	if _, err := env.run(t, "sessions", "complete"); !errors.Is(err, flowerr.ErrIncompleteWorkflow) {
		t.Errorf("early complete error = %v, want incomplete workflow", err)
	}

	out = env.mustRun(t, "stage", "advance")
	if !strings.Contains(out, "sessions complete") {
		t.Errorf("terminal advance output = %q", out)
	}

	done := decode[session.Session](t, env.mustRun(t, "--json", "sessions", "complete"))
	if done.Status != session.StatusCompleted {
		t.Errorf("Status = %s, want COMPLETED", done.Status)
	}

	snap := decode[session.Snapshot](t, env.mustRun(t, "--json", "sessions", "show", sess.ID[:8]))
	if snap.Guidance.Progress != 1 {
		t.Errorf("Progress = %v, want 1", snap.Guidance.Progress)
	}
	if len(snap.Instances) != 2 {
		t.Errorf("instances = %d, want 2", len(snap.Instances))
	}
}

func TestStageAdvanceVersion(t *testing.T) {
	env := setupTestEnv(t)
	if err := os.WriteFile(filepath.Join(env.workflowsDir, "release.yaml"), []byte(releaseYAML), 0o644); err != nil {
		t.Fatalf("write: %v", err)
	}

	sess := decode[session.Session](t, env.mustRun(t, "--json", "sessions", "start", "release"))
	seen := strconv.FormatInt(sess.Version, 10)

	step := decode[session.StepResult](t, env.mustRun(t, "--json", "stage", "skip", "--version", seen))
	if step.Closed.Status != stage.StatusSkipped || step.Session.Version != sess.Version+1 {
		t.Fatalf("step = %+v", step)
	}

	if _, err := env.run(t, "stage", "advance", "--force", "--version", seen); !errors.Is(err, flowerr.ErrConflict) {
		t.Errorf("stale advance error = %v, want conflict", err)
	}
	snap := decode[session.Snapshot](t, env.mustRun(t, "--json", "sessions", "show", sess.ID))
	if snap.Session.Version != sess.Version+1 {
		t.Errorf("Version = %d, want %d", snap.Session.Version, sess.Version+1)
	}
	for _, inst := range snap.Instances {
		if inst.Name == "Publish" && inst.Status != stage.StatusRunning {
			t.Errorf("Publish status = %s, want RUNNING", inst.Status)
		}
	}
}

func TestSessionCloseAndDelete(t *testing.T) {
	env := setupTestEnv(t)

	sess := decode[session.Session](t, env.mustRun(t, "--json", "sessions", "start", "feature"))

	if _, err := env.run(t, "sessions", "delete", sess.ID); err == nil {
		t.Fatal("expected delete without a terminal or --force to fail")
	}

	closed := decode[session.Session](t, env.mustRun(t, "--json", "sessions", "close", "--reason", "dropped"))
	if closed.Status != session.StatusClosed || closed.CloseReason != "dropped" {
		t.Fatalf("closed = %+v", closed)
	}

	if _, err := env.run(t, "sessions", "pause", sess.ID); !errors.Is(err, flowerr.ErrInvalidState) {
		t.Errorf("pause closed session error = %v, want invalid state", err)
	}

	env.mustRun(t, "sessions", "delete", "--force", sess.ID)
	sessions := decode[[]session.Session](t, env.mustRun(t, "--json", "sessions", "list"))
	if len(sessions) != 0 {
		t.Errorf("sessions after delete = %d, want 0", len(sessions))
	}
}

func TestSessionsSwitchAndCurrent(t *testing.T) {
	env := setupTestEnv(t)

	first := decode[session.Session](t, env.mustRun(t, "--json", "sessions", "start", "feature", "--name", "first"))
	second := decode[session.Session](t, env.mustRun(t, "--json", "sessions", "start", "bugfix", "--name", "second"))

	current := decode[session.Session](t, env.mustRun(t, "--json", "sessions", "current"))
	if current.ID != second.ID {
		t.Fatalf("current = %s, want %s", current.Name, second.Name)
	}

	env.mustRun(t, "sessions", "switch", first.ID)
	current = decode[session.Session](t, env.mustRun(t, "--json", "sessions", "current"))
	if current.ID != first.ID {
		t.Errorf("current after switch = %s, want first", current.Name)
	}

	env.mustRun(t, "sessions", "current", "--clear")
	if _, err := env.run(t, "sessions", "current"); !errors.Is(err, flowerr.ErrNotFound) {
		t.Errorf("current after clear error = %v, want not found", err)
	}
	if _, err := env.run(t, "stage", "status"); !errors.Is(err, flowerr.ErrNotFound) {
		t.Errorf("stage status without current session error = %v, want not found", err)
	}
	env.mustRun(t, "stage", "--session", second.ID[:8], "status")
}

func TestParseAssignments(t *testing.T) {
	got, err := parseAssignments([]string{"a=1", "b=true", "c=hello world", `d={"x":1}`})
	if err != nil {
		t.Fatalf("parseAssignments: %v", err)
	}
	want := kv.Map{
		"a": kv.Number(1),
		"b": kv.Bool(true),
		"c": kv.String("hello world"),
		"d": kv.Object(kv.Map{"x": kv.Number(1)}),
	}
	if !got.Equal(want) {
		t.Errorf("parseAssignments = %v, want %v", got, want)
	}

	for _, bad := range []string{"novalue", "=x"} {
		if _, err := parseAssignments([]string{bad}); err == nil {
			t.Errorf("parseAssignments(%q) should fail", bad)
		}
	}
}
