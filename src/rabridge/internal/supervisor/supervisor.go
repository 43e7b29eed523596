// Package supervisor owns the backend subprocess lifecycle: spawn, liveness,
// exit observation, and termination with escalation. Restart is never
// automatic; a dead process is reported through the exit channel and it is the
// session owner's decision what happens next.
package supervisor

import (
	"context"
	"fmt"
	"io"
	"os/exec"
	"sync"
	"time"

	"github.com/symposium-dev/rabridge/src/rabridge/internal/errors"
	"go.uber.org/fx"
	"go.uber.org/zap"
)

// Module provides a Supervisor to inject using fx.
var Module = fx.Options(
	fx.Provide(func(logger *zap.SugaredLogger) Supervisor {
		return New(WithLogger(logger))
	}),
)

// ExitEvent describes the termination of a supervised process.
type ExitEvent struct {
	Code int
	Err  error
}

// Supervisor spawns supervised subprocesses.
type Supervisor interface {
	// Start resolves and launches the executable with piped standard streams.
	// It fails with a SpawnError if the executable cannot be resolved or started.
	Start(ctx context.Context, command string, args []string, env []string) (Handle, error)
}

// Handle is one live (or exited) subprocess.
type Handle interface {
	// Stdin is the process's standard input.
	Stdin() io.WriteCloser
	// Stdout is the process's standard output.
	Stdout() io.Reader
	// Stderr is the process's standard error.
	Stderr() io.Reader
	// Pid returns the OS process id.
	Pid() int
	// Alive reports whether the process has not yet exited.
	Alive() bool
	// Exits delivers exactly one ExitEvent, then is closed.
	Exits() <-chan ExitEvent
	// Terminate waits up to grace for the process to exit on its own, then
	// kills it. Callers wanting a polite shutdown send their protocol-level
	// shutdown exchange first.
	Terminate(ctx context.Context, grace time.Duration) error
}

type supervisorImpl struct {
	logger *zap.SugaredLogger
}

// Option customizes a Supervisor.
type Option func(*supervisorImpl)

// WithLogger overrides the default noop logger.
func WithLogger(logger *zap.SugaredLogger) Option {
	return func(s *supervisorImpl) {
		s.logger = logger
	}
}

// New creates a Supervisor.
func New(opts ...Option) Supervisor {
	s := &supervisorImpl{
		logger: zap.NewNop().Sugar(),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

func (s *supervisorImpl) Start(ctx context.Context, command string, args []string, env []string) (Handle, error) {
	path, err := exec.LookPath(command)
	if err != nil {
		return nil, &errors.SpawnError{Command: command, Err: err}
	}

	cmd := exec.Command(path, args...)
	if len(env) > 0 {
		cmd.Env = env
	}

	stdin, err := cmd.StdinPipe()
	if err != nil {
		return nil, &errors.SpawnError{Command: command, Err: fmt.Errorf("opening stdin pipe: %w", err)}
	}
	stdout, err := cmd.StdoutPipe()
	if err != nil {
		return nil, &errors.SpawnError{Command: command, Err: fmt.Errorf("opening stdout pipe: %w", err)}
	}
	stderr, err := cmd.StderrPipe()
	if err != nil {
		return nil, &errors.SpawnError{Command: command, Err: fmt.Errorf("opening stderr pipe: %w", err)}
	}

	if err := cmd.Start(); err != nil {
		return nil, &errors.SpawnError{Command: command, Err: err}
	}

	s.logger.Infow("started backend process", "command", path, "args", args, "pid", cmd.Process.Pid)

	h := &handle{
		cmd:    cmd,
		stdin:  stdin,
		stdout: stdout,
		stderr: stderr,
		exits:  make(chan ExitEvent, 1),
		done:   make(chan struct{}),
		logger: s.logger,
	}
	go h.wait()
	return h, nil
}

type handle struct {
	cmd    *exec.Cmd
	stdin  io.WriteCloser
	stdout io.Reader
	stderr io.Reader
	logger *zap.SugaredLogger

	exits chan ExitEvent
	done  chan struct{}

	mu   sync.Mutex
	exit ExitEvent
}

func (h *handle) wait() {
	err := h.cmd.Wait()
	code := h.cmd.ProcessState.ExitCode()

	h.mu.Lock()
	h.exit = ExitEvent{Code: code, Err: err}
	h.mu.Unlock()
	close(h.done)

	h.logger.Infow("backend process exited", "pid", h.cmd.Process.Pid, "code", code)
	h.exits <- ExitEvent{Code: code, Err: err}
	close(h.exits)
}

func (h *handle) Stdin() io.WriteCloser   { return h.stdin }
func (h *handle) Stdout() io.Reader       { return h.stdout }
func (h *handle) Stderr() io.Reader       { return h.stderr }
func (h *handle) Pid() int                { return h.cmd.Process.Pid }
func (h *handle) Exits() <-chan ExitEvent { return h.exits }

func (h *handle) Alive() bool {
	select {
	case <-h.done:
		return false
	default:
		return true
	}
}

func (h *handle) Terminate(ctx context.Context, grace time.Duration) error {
	select {
	case <-h.done:
		return nil
	default:
	}

	// Closing stdin is the strongest polite hint for a stdio server.
	h.stdin.Close()

	select {
	case <-h.done:
		return nil
	case <-ctx.Done():
	case <-time.After(grace):
	}

	h.logger.Warnw("backend did not exit within grace period, killing", "pid", h.cmd.Process.Pid, "grace", grace)
	if err := h.cmd.Process.Kill(); err != nil {
		return fmt.Errorf("killing backend process: %w", err)
	}
	<-h.done
	return nil
}
