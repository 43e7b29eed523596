// Package app assembles the rabridge application.
package app

import (
	"context"
	"time"

	"github.com/symposium-dev/rabridge/src/rabridge/controller/bridge"
	"github.com/symposium-dev/rabridge/src/rabridge/controller/capabilities"
	"github.com/symposium-dev/rabridge/src/rabridge/controller/docsync"
	"github.com/symposium-dev/rabridge/src/rabridge/controller/obligations"
	"github.com/symposium-dev/rabridge/src/rabridge/controller/workspace"
	"github.com/symposium-dev/rabridge/src/rabridge/gateway/analyzer"
	"github.com/symposium-dev/rabridge/src/rabridge/handler"
	"github.com/symposium-dev/rabridge/src/rabridge/internal/clock"
	"github.com/symposium-dev/rabridge/src/rabridge/internal/core"
	"github.com/symposium-dev/rabridge/src/rabridge/internal/fs"
	"github.com/symposium-dev/rabridge/src/rabridge/internal/router"
	"github.com/symposium-dev/rabridge/src/rabridge/internal/supervisor"
	"github.com/symposium-dev/rabridge/src/rabridge/repository/diagnostics"
	"github.com/symposium-dev/rabridge/src/rabridge/repository/documents"
	obligationsrepo "github.com/symposium-dev/rabridge/src/rabridge/repository/obligations"
	"github.com/symposium-dev/rabridge/src/rabridge/repository/session"
	"github.com/uber-go/tally"
	"go.uber.org/fx"
	"go.uber.org/fx/fxevent"
	"go.uber.org/zap"
)

// Module defines the rabridge application module.
var Module = fx.Options(
	core.ConfigModule,
	core.LoggerModule,
	fs.Module,
	supervisor.Module,
	analyzer.Module, // backend transport
	handler.Module,  // MCP inbound
	bridge.Module,
	workspace.Module,
	capabilities.Module,
	docsync.Module,
	obligations.Module,
	fx.Provide(clock.New),
	fx.Provide(router.New),
	fx.Provide(session.New),
	fx.Provide(diagnostics.New),
	fx.Provide(documents.New),
	fx.Provide(obligationsrepo.New),
	fx.Provide(newRootScope),
	fx.WithLogger(fxLogger),
)

func newRootScope(lc fx.Lifecycle) tally.Scope {
	rs, closer := tally.NewRootScope(tally.ScopeOptions{
		Tags: map[string]string{
			"service": "rabridge",
		},
	}, 1*time.Second)

	lc.Append(fx.Hook{
		OnStop: func(ctx context.Context) error {
			return closer.Close()
		},
	})

	return rs
}

// fxLogger keeps Fx's own output off stdout, which carries the MCP wire.
func fxLogger(logger *zap.Logger) fxevent.Logger {
	return &fxevent.ZapLogger{Logger: logger}
}
