// Package workspace manages the active workspace root. Changing the root is
// a heavyweight operation: the backend is restarted against the new root and
// every per-root cache is invalidated.
package workspace

import (
	"context"
	"fmt"
	"os"
	"sync"

	"github.com/symposium-dev/rabridge/src/rabridge/controller/bridge"
	"github.com/symposium-dev/rabridge/src/rabridge/entity"
	"github.com/symposium-dev/rabridge/src/rabridge/internal/errors"
	"github.com/symposium-dev/rabridge/src/rabridge/internal/fs"
	"github.com/symposium-dev/rabridge/src/rabridge/repository/diagnostics"
	"github.com/symposium-dev/rabridge/src/rabridge/repository/documents"
	"github.com/symposium-dev/rabridge/src/rabridge/repository/obligations"
	"go.uber.org/config"
	"go.uber.org/fx"
	"go.uber.org/zap"
)

const _configKey = "workspace"

// Module provides a workspace Controller into an Fx application.
var Module = fx.Options(
	fx.Provide(New),
)

// Config carries the initial workspace root. Empty means current directory.
type Config struct {
	Root string `yaml:"root"`
}

// Controller tracks and switches the active workspace root.
type Controller interface {
	// SetWorkspace validates root and points the backend at it, restarting
	// the backend when the root actually changes.
	SetWorkspace(ctx context.Context, root string) (*entity.Session, error)
	// CurrentRoot returns the root the backend is operating against.
	CurrentRoot(ctx context.Context) string
	// EnsureSession lazily starts a session against the current root.
	EnsureSession(ctx context.Context) (*entity.Session, error)
}

// Params are inbound parameters to initialize a new controller.
type Params struct {
	fx.In

	Bridge      bridge.Controller
	Diagnostics diagnostics.Repository
	Documents   documents.Repository
	Obligations obligations.Repository
	FS          fs.BridgeFS
	Logger      *zap.SugaredLogger
	Config      config.Provider
}

type controller struct {
	bridge      bridge.Controller
	diagnostics diagnostics.Repository
	documents   documents.Repository
	obligations obligations.Repository
	fs          fs.BridgeFS
	logger      *zap.SugaredLogger

	mu   sync.Mutex
	root string
}

// New constructs a new workspace controller.
func New(p Params) (Controller, error) {
	var cfg Config
	if err := p.Config.Get(_configKey).Populate(&cfg); err != nil {
		return nil, fmt.Errorf("getting workspace config: %w", err)
	}

	root := cfg.Root
	if root == "" {
		wd, err := os.Getwd()
		if err != nil {
			return nil, fmt.Errorf("resolving working directory: %w", err)
		}
		root = wd
	}

	return &controller{
		bridge:      p.Bridge,
		diagnostics: p.Diagnostics,
		documents:   p.Documents,
		obligations: p.Obligations,
		fs:          p.FS,
		logger:      p.Logger,
		root:        root,
	}, nil
}

func (c *controller) SetWorkspace(ctx context.Context, root string) (*entity.Session, error) {
	if root == "" {
		return nil, &errors.InvalidParameterError{Parameter: "workspace_root", Reason: "root must not be empty"}
	}
	if !c.fs.IsAbs(root) {
		return nil, &errors.InvalidParameterError{Parameter: "workspace_root", Reason: "root must be an absolute path"}
	}
	exists, err := c.fs.DirExists(root)
	if err != nil {
		return nil, fmt.Errorf("checking workspace root: %w", err)
	}
	if !exists {
		return nil, &errors.InvalidParameterError{Parameter: "workspace_root", Reason: "root is not an existing directory"}
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	if root == c.root {
		if s, err := c.bridge.Session(ctx); err == nil && s.AcceptsCalls() {
			return s, nil
		}
	}

	// Everything cached is scoped to the old root.
	c.diagnostics.Clear(ctx)
	c.documents.Clear(ctx)
	c.obligations.Clear(ctx)

	s, err := c.bridge.Restart(ctx, root)
	if err != nil {
		return nil, err
	}
	c.root = root
	c.logger.Infow("workspace root changed", "root", root)
	return s, nil
}

func (c *controller) CurrentRoot(ctx context.Context) string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.root
}

func (c *controller) EnsureSession(ctx context.Context) (*entity.Session, error) {
	c.mu.Lock()
	root := c.root
	c.mu.Unlock()
	return c.bridge.EnsureStarted(ctx, root)
}
