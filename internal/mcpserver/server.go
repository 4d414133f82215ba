// Package mcpserver exposes workflow sessions to agents as MCP tools.
package mcpserver

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"

	"github.com/mark3labs/mcp-go/mcp"
	"github.com/mark3labs/mcp-go/server"

	"github.com/alexcabrera/devflow/internal/flowerr"
	"github.com/alexcabrera/devflow/internal/kv"
	"github.com/alexcabrera/devflow/internal/session"
	"github.com/alexcabrera/devflow/internal/version"
	"github.com/alexcabrera/devflow/internal/workflow"
)

const instructions = `devflow tracks development work as sessions that move through the stages
of a workflow. Start a session with session_start, check off checklist items with
stage_check, record deliverables with stage_deliver and move on with stage_advance.
Every session tool defaults to the current session when "session" is omitted.
Pass the version from session_status to stage_advance so a stale view is rejected.`

// Server wraps an MCP server bound to the devflow services.
type Server struct {
	mcpServer *server.MCPServer
	services  *session.Services
	logger    *slog.Logger
}

// Option configures a Server.
type Option func(*Server)

// WithLogger sets the logger for tool calls.
func WithLogger(l *slog.Logger) Option {
	return func(s *Server) { s.logger = l }
}

// NewServer registers the devflow tools.
func NewServer(services *session.Services, opts ...Option) *Server {
	s := &Server{
		mcpServer: server.NewMCPServer(
			"devflow",
			version.Version,
			server.WithToolCapabilities(true),
			server.WithRecovery(),
			server.WithInstructions(instructions),
		),
		services: services,
		logger:   slog.Default(),
	}
	for _, opt := range opts {
		opt(s)
	}
	s.registerTools()
	return s
}

// MCPServer returns the underlying server.
func (s *Server) MCPServer() *server.MCPServer {
	return s.mcpServer
}

// Serve speaks MCP over the given streams until ctx is done or in closes.
func (s *Server) Serve(ctx context.Context, in io.Reader, out io.Writer) error {
	return server.NewStdioServer(s.mcpServer).Listen(ctx, in, out)
}

func sessionArg() mcp.ToolOption {
	return mcp.WithString("session", mcp.Description("Session id or id prefix. Defaults to the current session"))
}

func (s *Server) registerTools() {
	s.mcpServer.AddTool(
		mcp.NewTool(
			"workflow_list",
			mcp.WithDescription("List the available workflows (latest version of each)"),
			mcp.WithString("flow_type", mcp.Description("Only workflows of this flow type")),
		),
		s.handleWorkflowList,
	)

	s.mcpServer.AddTool(
		mcp.NewTool(
			"session_start",
			mcp.WithDescription("Start a session on the first stage of a workflow and make it current"),
			mcp.WithString("workflow", mcp.Required(), mcp.Description("Workflow id or name")),
			mcp.WithString("name", mcp.Description("Session name")),
			mcp.WithString("task_id", mcp.Description("External task reference")),
			mcp.WithObject("context", mcp.Description("Initial session context")),
		),
		s.handleSessionStart,
	)

	s.mcpServer.AddTool(
		mcp.NewTool(
			"session_status",
			mcp.WithDescription("Show the current stage, progress, outstanding items and next stages"),
			sessionArg(),
		),
		s.handleSessionStatus,
	)

	s.mcpServer.AddTool(
		mcp.NewTool(
			"stage_check",
			mcp.WithDescription("Mark checklist items of the current stage as done"),
			sessionArg(),
			mcp.WithArray("items", mcp.Required(), mcp.WithStringItems(), mcp.Description("Checklist item texts")),
		),
		s.handleStageCheck,
	)

	s.mcpServer.AddTool(
		mcp.NewTool(
			"stage_deliver",
			mcp.WithDescription("Record a deliverable produced in the current stage"),
			sessionArg(),
			mcp.WithString("description", mcp.Required(), mcp.Description("What was delivered")),
		),
		s.handleStageDeliver,
	)

	s.mcpServer.AddTool(
		mcp.NewTool(
			"stage_advance",
			mcp.WithDescription("Close the current stage and enter the next one"),
			sessionArg(),
			mcp.WithString("from_stage", mcp.Description("Stage the caller believes is current; a mismatch is rejected")),
			mcp.WithNumber("version", mcp.Description("Session version the caller last read; a stale version is rejected")),
			mcp.WithString("target", mcp.Description("Next stage id or key when several are possible")),
			mcp.WithBoolean("force", mcp.Description("Advance even with unchecked items")),
		),
		s.handleStageAdvance,
	)

	s.mcpServer.AddTool(
		mcp.NewTool(
			"session_complete",
			mcp.WithDescription("Complete a session whose terminal stage is done"),
			sessionArg(),
		),
		s.handleSessionComplete,
	)

	s.mcpServer.AddTool(
		mcp.NewTool(
			"context_update",
			mcp.WithDescription("Merge values into the session context"),
			sessionArg(),
			mcp.WithObject("values", mcp.Required(), mcp.Description("Keys to set; values are strings, numbers, booleans or objects")),
		),
		s.handleContextUpdate,
	)
}

func (s *Server) handleWorkflowList(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	workflows, err := s.services.Workflows.List(ctx, workflow.Filter{
		FlowType:   request.GetString("flow_type", ""),
		LatestOnly: true,
	})
	if err != nil {
		return toolError("list workflows", err), nil
	}
	return jsonResult(workflows)
}

func (s *Server) handleSessionStart(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	ref, err := request.RequireString("workflow")
	if err != nil || ref == "" {
		return mcp.NewToolResultError("Missing required parameter: workflow"), nil
	}
	values, err := objectArg(request, "context")
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}

	sess, err := s.services.Sessions.Create(ctx, session.CreateParams{
		Workflow:    ref,
		Name:        request.GetString("name", ""),
		TaskID:      request.GetString("task_id", ""),
		Context:     values,
		MakeCurrent: true,
	})
	if err != nil {
		return toolError("start session", err), nil
	}
	s.logger.Info("session started over mcp", "session_id", sess.ID, "workflow_id", sess.WorkflowID)

	guide, err := s.services.Sessions.Guidance(ctx, sess.ID)
	if err != nil {
		return toolError("load guidance", err), nil
	}
	return jsonResult(map[string]any{"session": sess, "guidance": guide})
}

func (s *Server) handleSessionStatus(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	id, res := s.sessionID(ctx, request)
	if res != nil {
		return res, nil
	}
	snap, err := s.services.Sessions.Status(ctx, id)
	if err != nil {
		return toolError("session status", err), nil
	}
	return jsonResult(map[string]any{"session": snap.Session, "guidance": snap.Guidance})
}

func (s *Server) handleStageCheck(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	id, res := s.sessionID(ctx, request)
	if res != nil {
		return res, nil
	}
	items := request.GetStringSlice("items", nil)
	if len(items) == 0 {
		return mcp.NewToolResultError("Missing required parameter: items"), nil
	}

	inst, ignored, err := s.services.Sessions.RecordItems(ctx, id, items)
	if err != nil {
		return toolError("record items", err), nil
	}
	return jsonResult(map[string]any{"instance": inst, "ignored": ignored})
}

func (s *Server) handleStageDeliver(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	id, res := s.sessionID(ctx, request)
	if res != nil {
		return res, nil
	}
	description, err := request.RequireString("description")
	if err != nil || description == "" {
		return mcp.NewToolResultError("Missing required parameter: description"), nil
	}

	inst, err := s.services.Sessions.RecordDeliverable(ctx, id, description)
	if err != nil {
		return toolError("record deliverable", err), nil
	}
	return jsonResult(inst)
}

func (s *Server) handleStageAdvance(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	sess, res := s.resolveSession(ctx, request)
	if res != nil {
		return res, nil
	}
	version, err := versionArg(request)
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	opts := session.AdvanceOptions{
		Force:   request.GetBool("force", false),
		Target:  request.GetString("target", ""),
		From:    request.GetString("from_stage", ""),
		Version: version,
	}
	if opts.From == "" && opts.Version == 0 {
		opts.Version = sess.Version
	}
	step, err := s.services.Sessions.Advance(ctx, sess.ID, opts)
	if err != nil {
		return toolError("advance", err), nil
	}
	return jsonResult(step)
}

func (s *Server) handleSessionComplete(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	id, res := s.sessionID(ctx, request)
	if res != nil {
		return res, nil
	}
	sess, err := s.services.Sessions.Complete(ctx, id)
	if err != nil {
		return toolError("complete session", err), nil
	}
	return jsonResult(sess)
}

func (s *Server) handleContextUpdate(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	id, res := s.sessionID(ctx, request)
	if res != nil {
		return res, nil
	}
	values, err := objectArg(request, "values")
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	if len(values) == 0 {
		return mcp.NewToolResultError("Missing required parameter: values"), nil
	}

	merged, err := s.services.Sessions.UpdateContext(ctx, id, values)
	if err != nil {
		return toolError("update context", err), nil
	}
	return jsonResult(merged)
}

// sessionID resolves the "session" argument, falling back to the current
// session. A non-nil result is an error to return to the client.
func (s *Server) sessionID(ctx context.Context, request mcp.CallToolRequest) (string, *mcp.CallToolResult) {
	sess, res := s.resolveSession(ctx, request)
	return sess.ID, res
}

func (s *Server) resolveSession(ctx context.Context, request mcp.CallToolRequest) (session.Session, *mcp.CallToolResult) {
	ref := request.GetString("session", "")
	var (
		sess session.Session
		err  error
	)
	if ref == "" {
		sess, err = s.services.Sessions.Current(ctx)
	} else {
		sess, err = s.services.Sessions.Resolve(ctx, ref)
	}
	if err != nil {
		return session.Session{}, toolError("find session", err)
	}
	return sess, nil
}

func versionArg(request mcp.CallToolRequest) (int64, error) {
	raw, ok := request.GetArguments()["version"]
	if !ok || raw == nil {
		return 0, nil
	}
	switch v := raw.(type) {
	case float64:
		if v < 1 || v != float64(int64(v)) {
			return 0, fmt.Errorf("Invalid parameter version: expected a positive integer")
		}
		return int64(v), nil
	case int:
		if v < 1 {
			return 0, fmt.Errorf("Invalid parameter version: expected a positive integer")
		}
		return int64(v), nil
	default:
		return 0, fmt.Errorf("Invalid parameter version: expected a number")
	}
}

func objectArg(request mcp.CallToolRequest, name string) (kv.Map, error) {
	raw, ok := request.GetArguments()[name]
	if !ok || raw == nil {
		return nil, nil
	}
	obj, ok := raw.(map[string]any)
	if !ok {
		return nil, fmt.Errorf("Invalid parameter %s: expected an object", name)
	}
	values, err := kv.MapFromAny(obj)
	if err != nil {
		return nil, fmt.Errorf("Invalid parameter %s: %v", name, err)
	}
	return values, nil
}

// errorPayload is the JSON body of a failed tool call.
type errorPayload struct {
	Error   string   `json:"error"`
	Kind    string   `json:"kind,omitempty"`
	Details []string `json:"details,omitempty"`
}

func toolError(action string, err error) *mcp.CallToolResult {
	payload := errorPayload{
		Error:   fmt.Sprintf("Failed to %s: %v", action, err),
		Details: flowerr.Details(err),
	}
	if kind := flowerr.Kind(err); kind != nil {
		payload.Kind = kindName(kind)
	}
	data, mErr := json.Marshal(payload)
	if mErr != nil {
		return mcp.NewToolResultError(payload.Error)
	}
	return mcp.NewToolResultError(string(data))
}

func kindName(kind error) string {
	switch {
	case errors.Is(kind, flowerr.ErrNotFound):
		return "not_found"
	case errors.Is(kind, flowerr.ErrValidation):
		return "validation"
	case errors.Is(kind, flowerr.ErrInvalidState):
		return "invalid_state"
	case errors.Is(kind, flowerr.ErrConflict):
		return "conflict"
	case errors.Is(kind, flowerr.ErrIncompleteStage):
		return "incomplete_stage"
	case errors.Is(kind, flowerr.ErrIncompleteWorkflow):
		return "incomplete_workflow"
	case errors.Is(kind, flowerr.ErrNoNextStage):
		return "no_next_stage"
	}
	return ""
}

func jsonResult(v any) (*mcp.CallToolResult, error) {
	data, err := json.Marshal(v)
	if err != nil {
		return nil, fmt.Errorf("encode result: %w", err)
	}
	return mcp.NewToolResultText(string(data)), nil
}
