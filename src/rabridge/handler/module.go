package handler

import (
	"context"
	"os"

	"github.com/MegaGrindStone/go-mcp"
	"github.com/symposium-dev/rabridge/src/rabridge/controller/bridge"
	"go.uber.org/fx"
	"go.uber.org/zap"
)

const (
	_serverName    = "rust-analyzer-mcp"
	_serverVersion = "0.1.0"

	_instructions = "Rust analyzer LSP integration for code analysis, navigation, and diagnostics."
)

// Module provides the MCP tool server into an Fx application.
var Module = fx.Options(
	fx.Provide(New),
	fx.Invoke(serve),
)

// serve runs the MCP server over stdio for the lifetime of the application.
// Backend teardown is ordered after server shutdown so in-flight tool calls
// drain before the backend goes away.
func serve(lc fx.Lifecycle, h *Handler, b bridge.Controller, logger *zap.SugaredLogger) {
	srv := mcp.NewServer(mcp.Info{
		Name:    _serverName,
		Version: _serverVersion,
	}, mcp.NewStdIO(os.Stdin, os.Stdout),
		mcp.WithToolServer(h),
		mcp.WithInstructions(_instructions),
	)

	lc.Append(fx.Hook{
		OnStart: func(ctx context.Context) error {
			go srv.Serve()
			logger.Infow("serving MCP over stdio", "name", _serverName)
			return nil
		},
		OnStop: func(ctx context.Context) error {
			if err := srv.Shutdown(ctx); err != nil {
				logger.Warnw("shutting down MCP server", "error", err)
			}
			return b.Shutdown(ctx)
		},
	})
}
