// Package handler exposes the bridge's tool surface over the Model Context
// Protocol. Tool calls arrive on stdin and results leave on stdout, which is
// why nothing else in the process may write there.
package handler

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/MegaGrindStone/go-mcp"
	"github.com/symposium-dev/rabridge/src/rabridge/controller/capabilities"
	"github.com/symposium-dev/rabridge/src/rabridge/controller/obligations"
	"github.com/symposium-dev/rabridge/src/rabridge/controller/workspace"
	"github.com/uber-go/tally"
	"go.uber.org/fx"
	"go.uber.org/zap"
)

// Tool names exposed to MCP clients.
const (
	ToolHover                 = "rust_analyzer_hover"
	ToolDefinition            = "rust_analyzer_definition"
	ToolReferences            = "rust_analyzer_references"
	ToolCompletion            = "rust_analyzer_completion"
	ToolSymbols               = "rust_analyzer_symbols"
	ToolFormat                = "rust_analyzer_format"
	ToolCodeActions           = "rust_analyzer_code_actions"
	ToolSetWorkspace          = "rust_analyzer_set_workspace"
	ToolDiagnostics           = "rust_analyzer_diagnostics"
	ToolWorkspaceDiagnostics  = "rust_analyzer_workspace_diagnostics"
	ToolFailedObligations     = "rust_analyzer_failed_obligations"
	ToolFailedObligationsGoal = "rust_analyzer_failed_obligations_goal"
)

var toolList = mcp.ListToolsResult{
	Tools: []mcp.Tool{
		{
			Name:        ToolHover,
			Description: "Get hover information for a symbol at a specific position in a Rust file",
			InputSchema: filePositionSchema,
		},
		{
			Name:        ToolDefinition,
			Description: "Go to definition of a symbol at a specific position",
			InputSchema: filePositionSchema,
		},
		{
			Name:        ToolReferences,
			Description: "Find all references to a symbol at a specific position",
			InputSchema: filePositionSchema,
		},
		{
			Name:        ToolCompletion,
			Description: "Get code completion suggestions at a specific position",
			InputSchema: filePositionSchema,
		},
		{
			Name:        ToolSymbols,
			Description: "Get document symbols (functions, structs, etc.) for a Rust file",
			InputSchema: fileOnlySchema,
		},
		{
			Name:        ToolFormat,
			Description: "Format a Rust file using rust-analyzer",
			InputSchema: fileOnlySchema,
		},
		{
			Name:        ToolCodeActions,
			Description: "Get available code actions for a range in a Rust file",
			InputSchema: rangeSchema,
		},
		{
			Name:        ToolSetWorkspace,
			Description: "Set the workspace root directory for rust-analyzer",
			InputSchema: workspaceSchema,
		},
		{
			Name:        ToolDiagnostics,
			Description: "Get compiler diagnostics (errors, warnings, hints) for a Rust file",
			InputSchema: fileOnlySchema,
		},
		{
			Name:        ToolWorkspaceDiagnostics,
			Description: "Get compiler diagnostics across the whole workspace",
			InputSchema: emptySchema,
		},
		{
			Name:        ToolFailedObligations,
			Description: "Get failed trait obligations at a position. Returns a goal_index when nested goals exist.",
			InputSchema: filePositionSchema,
		},
		{
			Name:        ToolFailedObligationsGoal,
			Description: "Explore a specific nested_goal (or list of nested_goals) and its candidates.",
			InputSchema: goalIndexSchema,
		},
	},
}

// Params are inbound parameters to initialize a new handler.
type Params struct {
	fx.In

	Capabilities capabilities.Controller
	Workspace    workspace.Controller
	Obligations  obligations.Controller
	Logger       *zap.SugaredLogger
	Stats        tally.Scope
}

// Handler implements mcp.ToolServer over the bridge's controllers.
type Handler struct {
	capabilities capabilities.Controller
	workspace    workspace.Controller
	obligations  obligations.Controller
	logger       *zap.SugaredLogger
	stats        tally.Scope
}

// New constructs a new tool handler.
func New(p Params) *Handler {
	return &Handler{
		capabilities: p.Capabilities,
		workspace:    p.Workspace,
		obligations:  p.Obligations,
		logger:       p.Logger,
		stats:        p.Stats.SubScope("handler"),
	}
}

// ListTools implements mcp.ToolServer.
func (h *Handler) ListTools(
	context.Context,
	mcp.ListToolsParams,
	mcp.ProgressReporter,
	mcp.RequestClientFunc,
) (mcp.ListToolsResult, error) {
	return toolList, nil
}

// CallTool implements mcp.ToolServer. Failures come back as IsError results
// so the client always sees the message.
func (h *Handler) CallTool(
	ctx context.Context,
	params mcp.CallToolParams,
	_ mcp.ProgressReporter,
	_ mcp.RequestClientFunc,
) (mcp.CallToolResult, error) {
	h.stats.Counter("tool_calls").Inc(1)
	h.logger.Debugw("tool call", "tool", params.Name)

	result, err := h.dispatch(ctx, params)
	if err != nil {
		h.stats.Counter("tool_errors").Inc(1)
		h.logger.Warnw("tool call failed", "tool", params.Name, "error", err)
		return errorResult(err), nil
	}
	return result, nil
}

func (h *Handler) dispatch(ctx context.Context, params mcp.CallToolParams) (mcp.CallToolResult, error) {
	switch params.Name {
	case ToolHover:
		return h.filePositionTool(ctx, params, h.capabilities.Hover)
	case ToolDefinition:
		return h.filePositionTool(ctx, params, h.capabilities.Definition)
	case ToolReferences:
		return h.filePositionTool(ctx, params, h.capabilities.References)
	case ToolCompletion:
		return h.filePositionTool(ctx, params, h.capabilities.Completion)
	case ToolSymbols:
		return h.fileOnlyTool(ctx, params, h.capabilities.DocumentSymbols)
	case ToolFormat:
		return h.fileOnlyTool(ctx, params, h.capabilities.Format)
	case ToolCodeActions:
		return h.codeActions(ctx, params)
	case ToolSetWorkspace:
		return h.setWorkspace(ctx, params)
	case ToolDiagnostics:
		return h.diagnostics(ctx, params)
	case ToolWorkspaceDiagnostics:
		return h.workspaceDiagnostics(ctx)
	case ToolFailedObligations:
		return h.failedObligations(ctx, params)
	case ToolFailedObligationsGoal:
		return h.failedObligationsGoal(ctx, params)
	}
	return mcp.CallToolResult{}, fmt.Errorf("unknown tool %q", params.Name)
}

type filePositionArgs struct {
	FilePath  string `json:"file_path"`
	Line      uint32 `json:"line"`
	Character uint32 `json:"character"`
}

type fileOnlyArgs struct {
	FilePath string `json:"file_path"`
}

type rangeArgs struct {
	FilePath     string `json:"file_path"`
	Line         uint32 `json:"line"`
	Character    uint32 `json:"character"`
	EndLine      uint32 `json:"end_line"`
	EndCharacter uint32 `json:"end_character"`
}

type workspaceArgs struct {
	WorkspacePath string `json:"workspace_path"`
}

type goalIndexArgs struct {
	GoalIndex json.RawMessage `json:"goal_index"`
}

func (h *Handler) filePositionTool(
	ctx context.Context,
	params mcp.CallToolParams,
	call func(context.Context, string, uint32, uint32) (json.RawMessage, error),
) (mcp.CallToolResult, error) {
	var args filePositionArgs
	if err := json.Unmarshal(params.Arguments, &args); err != nil {
		return mcp.CallToolResult{}, fmt.Errorf("decoding arguments: %w", err)
	}
	raw, err := call(ctx, args.FilePath, args.Line, args.Character)
	if err != nil {
		return mcp.CallToolResult{}, err
	}
	return textResult(string(raw)), nil
}

func (h *Handler) fileOnlyTool(
	ctx context.Context,
	params mcp.CallToolParams,
	call func(context.Context, string) (json.RawMessage, error),
) (mcp.CallToolResult, error) {
	var args fileOnlyArgs
	if err := json.Unmarshal(params.Arguments, &args); err != nil {
		return mcp.CallToolResult{}, fmt.Errorf("decoding arguments: %w", err)
	}
	raw, err := call(ctx, args.FilePath)
	if err != nil {
		return mcp.CallToolResult{}, err
	}
	return textResult(string(raw)), nil
}

func (h *Handler) codeActions(ctx context.Context, params mcp.CallToolParams) (mcp.CallToolResult, error) {
	var args rangeArgs
	if err := json.Unmarshal(params.Arguments, &args); err != nil {
		return mcp.CallToolResult{}, fmt.Errorf("decoding arguments: %w", err)
	}
	raw, err := h.capabilities.CodeActions(ctx, args.FilePath, args.Line, args.Character, args.EndLine, args.EndCharacter)
	if err != nil {
		return mcp.CallToolResult{}, err
	}
	return textResult(string(raw)), nil
}

func (h *Handler) setWorkspace(ctx context.Context, params mcp.CallToolParams) (mcp.CallToolResult, error) {
	var args workspaceArgs
	if err := json.Unmarshal(params.Arguments, &args); err != nil {
		return mcp.CallToolResult{}, fmt.Errorf("decoding arguments: %w", err)
	}
	if _, err := h.workspace.SetWorkspace(ctx, args.WorkspacePath); err != nil {
		return mcp.CallToolResult{}, err
	}
	return textResult("Workspace set successfully"), nil
}

func (h *Handler) diagnostics(ctx context.Context, params mcp.CallToolParams) (mcp.CallToolResult, error) {
	var args fileOnlyArgs
	if err := json.Unmarshal(params.Arguments, &args); err != nil {
		return mcp.CallToolResult{}, fmt.Errorf("decoding arguments: %w", err)
	}
	d, err := h.capabilities.Diagnostics(ctx, args.FilePath)
	if err != nil {
		return mcp.CallToolResult{}, err
	}
	return jsonResult(d.Diagnostics)
}

func (h *Handler) workspaceDiagnostics(ctx context.Context) (mcp.CallToolResult, error) {
	report, err := h.capabilities.WorkspaceDiagnostics(ctx)
	if err != nil {
		return mcp.CallToolResult{}, err
	}
	return jsonResult(report)
}

func (h *Handler) failedObligations(ctx context.Context, params mcp.CallToolParams) (mcp.CallToolResult, error) {
	var args filePositionArgs
	if err := json.Unmarshal(params.Arguments, &args); err != nil {
		return mcp.CallToolResult{}, fmt.Errorf("decoding arguments: %w", err)
	}
	trees, err := h.obligations.FailedObligations(ctx, args.FilePath, args.Line, args.Character)
	if err != nil {
		return mcp.CallToolResult{}, err
	}
	return jsonResult(trees)
}

func (h *Handler) failedObligationsGoal(ctx context.Context, params mcp.CallToolParams) (mcp.CallToolResult, error) {
	var args goalIndexArgs
	if err := json.Unmarshal(params.Arguments, &args); err != nil {
		return mcp.CallToolResult{}, fmt.Errorf("decoding arguments: %w", err)
	}

	indices, err := goalIndices(args.GoalIndex)
	if err != nil {
		return mcp.CallToolResult{}, err
	}
	result, err := h.obligations.Goal(ctx, indices)
	if err != nil {
		return mcp.CallToolResult{}, err
	}
	return jsonResult(result)
}

// goalIndices accepts a bare string or an array of strings.
func goalIndices(raw json.RawMessage) ([]string, error) {
	var single string
	if err := json.Unmarshal(raw, &single); err == nil {
		return []string{single}, nil
	}
	var many []string
	if err := json.Unmarshal(raw, &many); err != nil {
		return nil, fmt.Errorf("goal_index must be a string or array of strings")
	}
	return many, nil
}

func textResult(text string) mcp.CallToolResult {
	return mcp.CallToolResult{
		Content: []mcp.Content{
			{
				Type: mcp.ContentTypeText,
				Text: text,
			},
		},
		IsError: false,
	}
}

func jsonResult(v interface{}) (mcp.CallToolResult, error) {
	bs, err := json.Marshal(v)
	if err != nil {
		return mcp.CallToolResult{}, fmt.Errorf("encoding result: %w", err)
	}
	return textResult(string(bs)), nil
}

func errorResult(err error) mcp.CallToolResult {
	return mcp.CallToolResult{
		Content: []mcp.Content{
			{
				Type: mcp.ContentTypeText,
				Text: err.Error(),
			},
		},
		IsError: true,
	}
}
