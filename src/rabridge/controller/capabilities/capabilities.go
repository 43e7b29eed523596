// Package capabilities adapts the backend's language capabilities for the
// bridge's callers. Results are relayed as raw JSON: the backend's response
// shapes vary by capability and by server version, and the bridge adds no
// value by re-encoding them.
package capabilities

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/symposium-dev/rabridge/src/rabridge/controller/docsync"
	"github.com/symposium-dev/rabridge/src/rabridge/controller/workspace"
	"github.com/symposium-dev/rabridge/src/rabridge/entity"
	"github.com/symposium-dev/rabridge/src/rabridge/gateway/analyzer"
	"github.com/symposium-dev/rabridge/src/rabridge/internal/clock"
	"github.com/symposium-dev/rabridge/src/rabridge/internal/router"
	"github.com/symposium-dev/rabridge/src/rabridge/mapper"
	"github.com/symposium-dev/rabridge/src/rabridge/repository/diagnostics"
	"github.com/uber-go/tally"
	"go.lsp.dev/protocol"
	"go.lsp.dev/uri"
	"go.uber.org/config"
	"go.uber.org/fx"
	"go.uber.org/zap"
)

const (
	_configKey = "capabilities"

	// Pull diagnostics postdate the protocol version of the generated
	// bindings, so the method names live here.
	MethodTextDocumentDiagnostic = "textDocument/diagnostic"
	MethodWorkspaceDiagnostic    = "workspace/diagnostic"
)

// Module provides a capabilities Controller into an Fx application.
var Module = fx.Options(
	fx.Provide(New),
	fx.Invoke(registerNotificationHandlers),
)

// registerNotificationHandlers wires pushed diagnostics into the cache.
// Registration is persistent, so it survives backend restarts.
func registerNotificationHandlers(r router.Router, repo diagnostics.Repository, clk clock.Clock, logger *zap.SugaredLogger) {
	r.Handle(protocol.MethodTextDocumentPublishDiagnostics, func(n router.Notification) {
		var params protocol.PublishDiagnosticsParams
		if err := json.Unmarshal(n.Params, &params); err != nil {
			logger.Debugw("decoding published diagnostics", "error", err)
			return
		}
		d := &entity.DocumentDiagnostics{
			URI:         params.URI,
			Diagnostics: params.Diagnostics,
			Source:      entity.DiagnosticsSourcePush,
			ReceivedAt:  clk.Now(),
		}
		if err := repo.Set(context.Background(), d); err != nil {
			logger.Debugw("caching published diagnostics", "uri", params.URI, "error", err)
		}
	})
}

// Config tunes diagnostics behavior.
type Config struct {
	// SettleWait is how long to let the backend publish diagnostics before
	// serving from cache when the pull form is unavailable.
	SettleWait time.Duration `yaml:"settleWait"`
}

// Controller exposes the backend's language capabilities.
type Controller interface {
	Hover(ctx context.Context, filePath string, line, character uint32) (json.RawMessage, error)
	Definition(ctx context.Context, filePath string, line, character uint32) (json.RawMessage, error)
	References(ctx context.Context, filePath string, line, character uint32) (json.RawMessage, error)
	Completion(ctx context.Context, filePath string, line, character uint32) (json.RawMessage, error)
	DocumentSymbols(ctx context.Context, filePath string) (json.RawMessage, error)
	Format(ctx context.Context, filePath string) (json.RawMessage, error)
	CodeActions(ctx context.Context, filePath string, line, character, endLine, endCharacter uint32) (json.RawMessage, error)
	// Diagnostics returns the freshest diagnostics for one document,
	// pulling from the backend when supported and falling back to the
	// cache of pushed diagnostics otherwise.
	Diagnostics(ctx context.Context, filePath string) (*entity.DocumentDiagnostics, error)
	// WorkspaceDiagnostics reports diagnostics across the workspace, with
	// the same pull-then-cache degradation.
	WorkspaceDiagnostics(ctx context.Context) (*entity.WorkspaceDiagnosticReport, error)
}

// Params are inbound parameters to initialize a new controller.
type Params struct {
	fx.In

	Analyzer    analyzer.Gateway
	Workspace   workspace.Controller
	DocSync     docsync.Controller
	Diagnostics diagnostics.Repository
	Clock       clock.Clock
	Logger      *zap.SugaredLogger
	Stats       tally.Scope
	Config      config.Provider
}

type controller struct {
	analyzer    analyzer.Gateway
	workspace   workspace.Controller
	docSync     docsync.Controller
	diagnostics diagnostics.Repository
	clk         clock.Clock
	logger      *zap.SugaredLogger
	stats       tally.Scope
	cfg         Config
}

// New constructs a new capabilities controller.
func New(p Params) (Controller, error) {
	cfg := Config{SettleWait: time.Second}
	if err := p.Config.Get(_configKey).Populate(&cfg); err != nil {
		return nil, fmt.Errorf("getting capabilities config: %w", err)
	}

	return &controller{
		analyzer:    p.Analyzer,
		workspace:   p.Workspace,
		docSync:     p.DocSync,
		diagnostics: p.Diagnostics,
		clk:         p.Clock,
		logger:      p.Logger,
		stats:       p.Stats.SubScope("capabilities"),
		cfg:         cfg,
	}, nil
}

func (c *controller) Hover(ctx context.Context, filePath string, line, character uint32) (json.RawMessage, error) {
	docURI, err := c.prepare(ctx, filePath)
	if err != nil {
		return nil, err
	}
	params := &protocol.HoverParams{
		TextDocumentPositionParams: positionParams(docURI, line, character),
	}
	return c.call(ctx, protocol.MethodTextDocumentHover, params)
}

func (c *controller) Definition(ctx context.Context, filePath string, line, character uint32) (json.RawMessage, error) {
	docURI, err := c.prepare(ctx, filePath)
	if err != nil {
		return nil, err
	}
	params := &protocol.DefinitionParams{
		TextDocumentPositionParams: positionParams(docURI, line, character),
	}
	return c.call(ctx, protocol.MethodTextDocumentDefinition, params)
}

func (c *controller) References(ctx context.Context, filePath string, line, character uint32) (json.RawMessage, error) {
	docURI, err := c.prepare(ctx, filePath)
	if err != nil {
		return nil, err
	}
	params := &protocol.ReferenceParams{
		TextDocumentPositionParams: positionParams(docURI, line, character),
		Context:                    protocol.ReferenceContext{IncludeDeclaration: true},
	}
	return c.call(ctx, protocol.MethodTextDocumentReferences, params)
}

func (c *controller) Completion(ctx context.Context, filePath string, line, character uint32) (json.RawMessage, error) {
	docURI, err := c.prepare(ctx, filePath)
	if err != nil {
		return nil, err
	}
	params := &protocol.CompletionParams{
		TextDocumentPositionParams: positionParams(docURI, line, character),
	}
	return c.call(ctx, protocol.MethodTextDocumentCompletion, params)
}

func (c *controller) DocumentSymbols(ctx context.Context, filePath string) (json.RawMessage, error) {
	docURI, err := c.prepare(ctx, filePath)
	if err != nil {
		return nil, err
	}
	params := &protocol.DocumentSymbolParams{
		TextDocument: protocol.TextDocumentIdentifier{URI: docURI},
	}
	return c.call(ctx, protocol.MethodTextDocumentDocumentSymbol, params)
}

func (c *controller) Format(ctx context.Context, filePath string) (json.RawMessage, error) {
	docURI, err := c.prepare(ctx, filePath)
	if err != nil {
		return nil, err
	}
	params := &protocol.DocumentFormattingParams{
		TextDocument: protocol.TextDocumentIdentifier{URI: docURI},
		Options: protocol.FormattingOptions{
			TabSize:      4,
			InsertSpaces: true,
		},
	}
	return c.call(ctx, protocol.MethodTextDocumentFormatting, params)
}

func (c *controller) CodeActions(ctx context.Context, filePath string, line, character, endLine, endCharacter uint32) (json.RawMessage, error) {
	docURI, err := c.prepare(ctx, filePath)
	if err != nil {
		return nil, err
	}
	params := &protocol.CodeActionParams{
		TextDocument: protocol.TextDocumentIdentifier{URI: docURI},
		Range: protocol.Range{
			Start: protocol.Position{Line: line, Character: character},
			End:   protocol.Position{Line: endLine, Character: endCharacter},
		},
		Context: protocol.CodeActionContext{
			Diagnostics: []protocol.Diagnostic{},
		},
	}
	return c.call(ctx, protocol.MethodTextDocumentCodeAction, params)
}

func (c *controller) Diagnostics(ctx context.Context, filePath string) (*entity.DocumentDiagnostics, error) {
	docURI, err := c.prepare(ctx, filePath)
	if err != nil {
		return nil, err
	}

	params := &entity.DocumentDiagnosticParams{
		TextDocument: protocol.TextDocumentIdentifier{URI: docURI},
	}
	var report entity.FullDocumentDiagnosticReport
	pullErr := c.analyzer.Call(ctx, MethodTextDocumentDiagnostic, params, &report)
	if pullErr == nil && report.Kind == "full" {
		d := mapper.PullToDiagnostics(docURI, &report)
		d.ReceivedAt = c.clk.Now()
		if err := c.diagnostics.Set(ctx, d); err != nil {
			c.logger.Debugw("caching pulled diagnostics", "uri", docURI, "error", err)
		}
		return d, nil
	}
	if pullErr != nil {
		c.stats.Counter("diagnostics_pull_failures").Inc(1)
		c.logger.Debugw("pull diagnostics unavailable, serving cache", "uri", docURI, "error", pullErr)
	}

	if d, ok := c.diagnostics.Get(ctx, docURI); ok {
		return d, nil
	}

	// Nothing pushed yet for a freshly opened file; give the backend a
	// moment and check once more.
	c.clk.Sleep(c.cfg.SettleWait)
	if d, ok := c.diagnostics.Get(ctx, docURI); ok {
		return d, nil
	}
	return &entity.DocumentDiagnostics{
		URI:         docURI,
		Diagnostics: []protocol.Diagnostic{},
		Source:      entity.DiagnosticsSourcePush,
		ReceivedAt:  c.clk.Now(),
	}, nil
}

func (c *controller) WorkspaceDiagnostics(ctx context.Context) (*entity.WorkspaceDiagnosticReport, error) {
	if _, err := c.workspace.EnsureSession(ctx); err != nil {
		return nil, err
	}

	params := &entity.WorkspaceDiagnosticParams{
		PreviousResultIDs: []entity.PreviousResultID{},
	}
	var report entity.WorkspaceDiagnosticReport
	if err := c.analyzer.Call(ctx, MethodWorkspaceDiagnostic, params, &report); err != nil {
		c.stats.Counter("diagnostics_pull_failures").Inc(1)
		c.logger.Debugw("workspace diagnostics unavailable, serving cache", "error", err)
		return mapper.CacheToWorkspaceReport(c.diagnostics.Snapshot(ctx)), nil
	}
	return &report, nil
}

// prepare gates a capability call: the session must be ready and the
// document open on the backend.
func (c *controller) prepare(ctx context.Context, filePath string) (uri.URI, error) {
	if _, err := c.workspace.EnsureSession(ctx); err != nil {
		return "", err
	}
	return c.docSync.EnsureOpen(ctx, filePath)
}

func (c *controller) call(ctx context.Context, method string, params interface{}) (json.RawMessage, error) {
	var result json.RawMessage
	if err := c.analyzer.Call(ctx, method, params, &result); err != nil {
		return nil, err
	}
	if len(result) == 0 {
		result = json.RawMessage("null")
	}
	return result, nil
}

func positionParams(docURI uri.URI, line, character uint32) protocol.TextDocumentPositionParams {
	return protocol.TextDocumentPositionParams{
		TextDocument: protocol.TextDocumentIdentifier{URI: docURI},
		Position:     protocol.Position{Line: line, Character: character},
	}
}
