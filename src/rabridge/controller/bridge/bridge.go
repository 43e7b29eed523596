// Package bridge implements the backend session lifecycle: spawn, handshake,
// readiness, fault handling, and graceful shutdown. Capability controllers go
// through RequireReady before touching the backend.
package bridge

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/gofrs/uuid"
	"github.com/symposium-dev/rabridge/src/rabridge/entity"
	"github.com/symposium-dev/rabridge/src/rabridge/gateway/analyzer"
	"github.com/symposium-dev/rabridge/src/rabridge/internal/errors"
	"github.com/symposium-dev/rabridge/src/rabridge/internal/router"
	"github.com/symposium-dev/rabridge/src/rabridge/mapper"
	"github.com/symposium-dev/rabridge/src/rabridge/repository/session"
	"github.com/uber-go/tally"
	"go.lsp.dev/protocol"
	"go.uber.org/config"
	"go.uber.org/fx"
	"go.uber.org/multierr"
	"go.uber.org/zap"
)

const (
	_configKey = "bridge"

	// Default readiness signal. rust-analyzer reports quiescent:true on
	// experimental/serverStatus once indexing settles.
	_defaultReadyNotification = "experimental/serverStatus"
)

// Module provides a bridge Controller into an Fx application.
var Module = fx.Options(
	fx.Provide(New),
)

// Config controls handshake and shutdown behavior.
type Config struct {
	// ReadyNotification names the notification that marks the backend
	// usable. Empty string skips the readiness wait entirely.
	ReadyNotification string        `yaml:"readyNotification"`
	StartupTimeout    time.Duration `yaml:"startupTimeout"`
	ShutdownGrace     time.Duration `yaml:"shutdownGrace"`
}

// Controller owns the backend session lifecycle.
type Controller interface {
	// Start spawns the backend against workspaceRoot and runs the full
	// handshake. The returned session is Ready.
	Start(ctx context.Context, workspaceRoot string) (*entity.Session, error)
	// EnsureStarted starts a session if none is live, reusing the current
	// one otherwise.
	EnsureStarted(ctx context.Context, workspaceRoot string) (*entity.Session, error)
	// Restart tears the current backend down and hands the session a fresh
	// backend rooted at workspaceRoot.
	Restart(ctx context.Context, workspaceRoot string) (*entity.Session, error)
	// RequireReady returns the current session if it accepts calls.
	RequireReady(ctx context.Context) (*entity.Session, error)
	// Session returns the current session regardless of state.
	Session(ctx context.Context) (*entity.Session, error)
	// Shutdown runs the graceful teardown sequence.
	Shutdown(ctx context.Context) error
}

// Params are inbound parameters to initialize a new controller.
type Params struct {
	fx.In

	Sessions session.Repository
	Analyzer analyzer.Gateway
	Router   router.Router
	Logger   *zap.SugaredLogger
	Stats    tally.Scope
	Config   config.Provider
}

type controller struct {
	sessions session.Repository
	analyzer analyzer.Gateway
	router   router.Router
	logger   *zap.SugaredLogger
	stats    tally.Scope
	cfg      Config

	// lifecycleMu serializes start, restart, and shutdown. Capability calls
	// do not take it.
	lifecycleMu sync.Mutex
}

// New constructs a new bridge controller.
func New(p Params) (Controller, error) {
	cfg := Config{
		ReadyNotification: _defaultReadyNotification,
		StartupTimeout:    2 * time.Minute,
		ShutdownGrace:     5 * time.Second,
	}
	if err := p.Config.Get(_configKey).Populate(&cfg); err != nil {
		return nil, fmt.Errorf("getting bridge config: %w", err)
	}

	return &controller{
		sessions: p.Sessions,
		analyzer: p.Analyzer,
		router:   p.Router,
		logger:   p.Logger,
		stats:    p.Stats.SubScope("bridge"),
		cfg:      cfg,
	}, nil
}

func (c *controller) Start(ctx context.Context, workspaceRoot string) (*entity.Session, error) {
	c.lifecycleMu.Lock()
	defer c.lifecycleMu.Unlock()
	return c.startLocked(ctx, workspaceRoot)
}

func (c *controller) EnsureStarted(ctx context.Context, workspaceRoot string) (*entity.Session, error) {
	c.lifecycleMu.Lock()
	defer c.lifecycleMu.Unlock()

	if s, err := c.sessions.Current(ctx); err == nil && s.AcceptsCalls() && c.analyzer.Alive() {
		return s, nil
	}
	return c.startLocked(ctx, workspaceRoot)
}

func (c *controller) Restart(ctx context.Context, workspaceRoot string) (*entity.Session, error) {
	c.lifecycleMu.Lock()
	defer c.lifecycleMu.Unlock()

	if s, err := c.sessions.Current(ctx); err == nil && s.State != entity.StateTerminated {
		c.notifyFolderChange(ctx, s, workspaceRoot)
		if terr := c.teardownLocked(ctx, s); terr != nil {
			c.logger.Warnw("tearing down before restart", "error", terr)
		}
	}
	return c.startLocked(ctx, workspaceRoot)
}

func (c *controller) RequireReady(ctx context.Context) (*entity.Session, error) {
	s, err := c.sessions.Current(ctx)
	if err != nil {
		return nil, &errors.SessionNotReadyError{State: entity.StateUninitialized.String()}
	}
	if s.State == entity.StateTerminated {
		return nil, &errors.SessionTerminatedError{}
	}
	if !s.AcceptsCalls() {
		return nil, &errors.SessionNotReadyError{State: s.State.String()}
	}
	return s, nil
}

func (c *controller) Session(ctx context.Context) (*entity.Session, error) {
	return c.sessions.Current(ctx)
}

func (c *controller) Shutdown(ctx context.Context) error {
	c.lifecycleMu.Lock()
	defer c.lifecycleMu.Unlock()

	s, err := c.sessions.Current(ctx)
	if err != nil {
		return nil
	}
	if s.State == entity.StateTerminated {
		return nil
	}
	return c.teardownLocked(ctx, s)
}

// startLocked runs the spawn and handshake sequence. The caller holds
// lifecycleMu.
func (c *controller) startLocked(ctx context.Context, workspaceRoot string) (*entity.Session, error) {
	id, err := uuid.NewV4()
	if err != nil {
		return nil, fmt.Errorf("generating session id: %w", err)
	}

	s := &entity.Session{
		UUID:          id,
		State:         entity.StateUninitialized,
		WorkspaceRoot: workspaceRoot,
	}
	if err := c.sessions.Set(ctx, s); err != nil {
		return nil, err
	}

	c.transition(ctx, s, entity.StateInitializing)

	if err := c.analyzer.Spawn(ctx); err != nil {
		c.transition(ctx, s, entity.StateTerminated)
		return nil, err
	}
	go c.watchFaults(s.UUID, c.analyzer.Faults())

	// Subscribe before initialize so a fast backend cannot report readiness
	// into the void.
	var readySub *router.Subscription
	if c.cfg.ReadyNotification != "" {
		readySub = c.router.Subscribe(c.cfg.ReadyNotification, quiescentOnly(c.cfg.ReadyNotification))
		defer readySub.Cancel()
	}

	var initResult protocol.InitializeResult
	if err := c.analyzer.Call(ctx, protocol.MethodInitialize, mapper.InitializeParams(workspaceRoot), &initResult); err != nil {
		c.failStartup(ctx, s, err)
		return nil, fmt.Errorf("initializing backend: %w", err)
	}
	s.InitializeResult = &initResult

	if err := c.analyzer.Notify(ctx, protocol.MethodInitialized, &protocol.InitializedParams{}); err != nil {
		c.failStartup(ctx, s, err)
		return nil, fmt.Errorf("confirming initialization: %w", err)
	}

	if readySub != nil {
		if err := c.awaitReadiness(ctx, readySub); err != nil {
			c.failStartup(ctx, s, err)
			return nil, err
		}
	}

	c.transition(ctx, s, entity.StateReady)
	c.stats.Counter("sessions_started").Inc(1)
	c.logger.Infow("session ready", "uuid", s.UUID, "workspaceRoot", workspaceRoot)
	return s, nil
}

func (c *controller) awaitReadiness(ctx context.Context, sub *router.Subscription) error {
	select {
	case _, ok := <-sub.C():
		if !ok {
			if err := sub.Err(); err != nil {
				return err
			}
			return &errors.SessionTerminatedError{}
		}
		return nil
	case <-time.After(c.cfg.StartupTimeout):
		return &errors.NotificationTimeoutError{Method: c.cfg.ReadyNotification, Elapsed: c.cfg.StartupTimeout}
	case <-ctx.Done():
		return ctx.Err()
	}
}

// teardownLocked runs the graceful shutdown sequence against the live
// backend: drain, shutdown request, exit notification, then process stop.
// Failures along the way are collected rather than aborting the teardown.
func (c *controller) teardownLocked(ctx context.Context, s *entity.Session) error {
	c.transition(ctx, s, entity.StateShuttingDown)

	c.analyzer.Drain(&errors.SessionTerminatedError{})

	var result error
	if c.analyzer.Alive() {
		shutdownCtx, cancel := context.WithTimeout(ctx, c.cfg.ShutdownGrace)
		if err := c.analyzer.Call(shutdownCtx, protocol.MethodShutdown, nil, nil); err != nil {
			c.logger.Debugw("shutdown request failed", "error", err)
			result = multierr.Append(result, fmt.Errorf("requesting shutdown: %w", err))
		}
		if err := c.analyzer.Notify(ctx, protocol.MethodExit, nil); err != nil {
			c.logger.Debugw("exit notification failed", "error", err)
			result = multierr.Append(result, fmt.Errorf("sending exit: %w", err))
		}
		cancel()

		if err := c.analyzer.Terminate(ctx, c.cfg.ShutdownGrace); err != nil {
			c.logger.Warnw("terminating backend", "error", err)
			result = multierr.Append(result, fmt.Errorf("terminating backend: %w", err))
		}
	}

	c.transition(ctx, s, entity.StateTerminated)
	c.stats.Counter("sessions_ended").Inc(1)
	c.logger.Infow("session terminated", "uuid", s.UUID)
	return result
}

// notifyFolderChange tells a backend that advertised workspace-folder support
// about the root swap before it is torn down. rust-analyzer does not re-root
// from the notification alone, so the restart still follows.
func (c *controller) notifyFolderChange(ctx context.Context, s *entity.Session, newRoot string) {
	if newRoot == s.WorkspaceRoot || !s.AcceptsCalls() || !c.analyzer.Alive() {
		return
	}
	if !supportsFolderChangeNotifications(s.InitializeResult) {
		return
	}
	params := mapper.WorkspaceFoldersChange(s.WorkspaceRoot, newRoot)
	if err := c.analyzer.Notify(ctx, protocol.MethodWorkspaceDidChangeWorkspaceFolders, params); err != nil {
		c.logger.Debugw("notifying workspace folder change", "error", err)
	}
}

func supportsFolderChangeNotifications(result *protocol.InitializeResult) bool {
	if result == nil || result.Capabilities.Workspace == nil {
		return false
	}
	folders := result.Capabilities.Workspace.WorkspaceFolders
	return folders != nil && folders.Supported
}

func (c *controller) failStartup(ctx context.Context, s *entity.Session, cause error) {
	c.logger.Errorw("session startup failed", "uuid", s.UUID, "error", cause)
	if c.analyzer.Alive() {
		if err := c.analyzer.Terminate(ctx, c.cfg.ShutdownGrace); err != nil {
			c.logger.Debugw("terminating backend after failed startup", "error", err)
		}
	}
	c.transition(ctx, s, entity.StateTerminated)
	c.stats.Counter("startup_failures").Inc(1)
}

// watchFaults marks the session dead when the gateway reports a fatal fault.
// In-flight requests were already failed by the gateway.
func (c *controller) watchFaults(id uuid.UUID, faults <-chan error) {
	err, ok := <-faults
	if !ok || err == nil {
		return
	}

	ctx := context.Background()
	s, gerr := c.sessions.Get(ctx, id)
	if gerr != nil || s.State == entity.StateTerminated {
		return
	}
	c.transition(ctx, s, entity.StateTerminated)
	c.stats.Counter("session_faults").Inc(1)
	c.logger.Errorw("session lost to backend fault", "uuid", id, "error", err)
}

// transition applies a state change, logging any illegal jump rather than
// failing. Terminated is reachable from everywhere.
func (c *controller) transition(ctx context.Context, s *entity.Session, next entity.SessionState) {
	if !s.State.CanTransition(next) {
		c.logger.Warnw("illegal session state transition", "from", s.State, "to", next)
	}
	s.State = next
	if err := c.sessions.Set(ctx, s); err != nil {
		c.logger.Errorw("persisting session state", "error", err)
	}
}

// quiescentOnly filters serverStatus-style notifications down to the one that
// reports an idle backend.
func quiescentOnly(method string) router.Predicate {
	if method != _defaultReadyNotification {
		return nil
	}
	return func(n router.Notification) bool {
		var status struct {
			Quiescent bool `json:"quiescent"`
		}
		if err := json.Unmarshal(n.Params, &status); err != nil {
			return false
		}
		return status.Quiescent
	}
}
