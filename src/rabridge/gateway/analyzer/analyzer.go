// Package analyzer owns the rust-analyzer subprocess transport: it spawns the
// process, frames outbound traffic onto its stdin, demultiplexes its stdout
// into responses and notifications, and surfaces process faults. One backend
// instance is live at a time.
package analyzer

import (
	"bufio"
	"context"
	"encoding/json"
	"io"
	"sync"
	"time"

	"github.com/symposium-dev/rabridge/src/rabridge/internal/clock"
	"github.com/symposium-dev/rabridge/src/rabridge/internal/correlator"
	"github.com/symposium-dev/rabridge/src/rabridge/internal/errors"
	"github.com/symposium-dev/rabridge/src/rabridge/internal/framer"
	"github.com/symposium-dev/rabridge/src/rabridge/internal/router"
	"github.com/symposium-dev/rabridge/src/rabridge/internal/supervisor"
	"github.com/uber-go/tally"
	"go.uber.org/config"
	"go.uber.org/fx"
	"go.uber.org/zap"
)

const _configKey = "analyzer"

// Module provides an analyzer Gateway into an Fx application.
var Module = fx.Options(
	fx.Provide(New),
)

// Config controls how the backend process is spawned and how long requests
// may stay outstanding.
type Config struct {
	Command string   `yaml:"command"`
	Args    []string `yaml:"args"`
	Env     []string `yaml:"env"`

	DefaultTimeout time.Duration            `yaml:"defaultTimeout"`
	MethodTimeouts map[string]time.Duration `yaml:"methodTimeouts"`
}

// Gateway is the bridge's only path to the backend process.
type Gateway interface {
	// Spawn starts the backend and its reader goroutines. Calling Spawn while
	// a backend is live is an error.
	Spawn(ctx context.Context) error
	// Call issues a request and blocks for its response, unmarshalling into
	// result when result is non-nil.
	Call(ctx context.Context, method string, params interface{}, result interface{}) error
	// Notify writes a notification. No response is expected.
	Notify(ctx context.Context, method string, params interface{}) error
	// Alive reports whether the backend process is running.
	Alive() bool
	// Faults delivers the first fatal transport or process error per spawn.
	Faults() <-chan error
	// Drain marks the backend as stopping and fails every pending request
	// with err. Called at the start of a graceful teardown, so an exit the
	// backend performs on its own before Terminate is not treated as a crash.
	Drain(err error)
	// PendingCount returns the number of outstanding requests.
	PendingCount() int
	// Terminate stops the backend, waiting up to grace before killing it.
	Terminate(ctx context.Context, grace time.Duration) error
}

// Params defines the dependencies of this gateway.
type Params struct {
	fx.In

	Config     config.Provider
	Logger     *zap.SugaredLogger
	Stats      tally.Scope
	Clock      clock.Clock
	Supervisor supervisor.Supervisor
	Router     router.Router
}

type gateway struct {
	cfg    Config
	logger *zap.SugaredLogger
	stats  tally.Scope
	clk    clock.Clock
	super  supervisor.Supervisor
	router router.Router

	mu          sync.Mutex
	handle      supervisor.Handle
	writer      *framer.Writer
	corr        correlator.Correlator
	faults      chan error
	fatalOnce   *sync.Once
	terminating bool
}

// New constructs a Gateway from the analyzer section of configuration.
func New(p Params) (Gateway, error) {
	cfg := Config{
		Command:        "rust-analyzer",
		DefaultTimeout: 30 * time.Second,
	}
	if err := p.Config.Get(_configKey).Populate(&cfg); err != nil {
		return nil, err
	}

	return &gateway{
		cfg:    cfg,
		logger: p.Logger,
		stats:  p.Stats.SubScope("analyzer"),
		clk:    p.Clock,
		super:  p.Supervisor,
		router: p.Router,
	}, nil
}

func (g *gateway) Spawn(ctx context.Context) error {
	g.mu.Lock()
	defer g.mu.Unlock()

	if g.handle != nil && g.handle.Alive() {
		return errors.New("backend is already running")
	}

	handle, err := g.super.Start(ctx, g.cfg.Command, g.cfg.Args, g.cfg.Env)
	if err != nil {
		return err
	}

	writer := framer.NewWriter(handle.Stdin())
	timeouts := correlator.Timeouts{
		Default:   g.cfg.DefaultTimeout,
		PerMethod: g.cfg.MethodTimeouts,
	}
	corr := correlator.New(writer.Write, timeouts, g.clk, g.logger, g.stats)

	g.handle = handle
	g.writer = writer
	g.corr = corr
	g.faults = make(chan error, 1)
	g.fatalOnce = &sync.Once{}
	g.terminating = false
	g.router.Reset()

	go g.readLoop(handle, corr)
	go g.stderrLoop(handle)
	go g.exitLoop(handle)

	g.logger.Infow("backend spawned", "command", g.cfg.Command, "pid", handle.Pid())
	g.stats.Counter("spawns").Inc(1)
	return nil
}

func (g *gateway) Call(ctx context.Context, method string, params interface{}, result interface{}) error {
	g.mu.Lock()
	corr := g.corr
	g.mu.Unlock()
	if corr == nil {
		return &errors.SessionNotReadyError{State: "uninitialized"}
	}

	pending, err := corr.Send(ctx, method, params)
	if err != nil {
		return err
	}
	raw, err := pending.Await(ctx)
	if err != nil {
		return err
	}
	if result == nil || len(raw) == 0 || string(raw) == "null" {
		return nil
	}
	if err := json.Unmarshal(raw, result); err != nil {
		return &errors.FramingError{Reason: "decoding response for " + method, Err: err}
	}
	return nil
}

func (g *gateway) Notify(ctx context.Context, method string, params interface{}) error {
	g.mu.Lock()
	writer := g.writer
	g.mu.Unlock()
	if writer == nil {
		return &errors.SessionNotReadyError{State: "uninitialized"}
	}

	msg, err := framer.NewNotification(method, params)
	if err != nil {
		return err
	}
	return writer.Write(msg)
}

func (g *gateway) Alive() bool {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.handle != nil && g.handle.Alive()
}

func (g *gateway) Faults() <-chan error {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.faults
}

func (g *gateway) Drain(err error) {
	g.mu.Lock()
	corr := g.corr
	g.terminating = true
	g.mu.Unlock()
	if corr != nil {
		corr.FailAll(err)
	}
}

func (g *gateway) PendingCount() int {
	g.mu.Lock()
	corr := g.corr
	g.mu.Unlock()
	if corr == nil {
		return 0
	}
	return corr.PendingCount()
}

func (g *gateway) Terminate(ctx context.Context, grace time.Duration) error {
	g.mu.Lock()
	handle := g.handle
	g.terminating = true
	g.mu.Unlock()
	if handle == nil {
		return nil
	}
	return handle.Terminate(ctx, grace)
}

// readLoop demultiplexes frames off the backend's stdout until the stream
// ends. Responses resolve pending requests, notifications go to the router,
// and the rare server-initiated request is answered with a null result so the
// backend never stalls waiting on us.
func (g *gateway) readLoop(handle supervisor.Handle, corr correlator.Correlator) {
	reader := framer.NewReader(handle.Stdout())
	for {
		msg, err := reader.Read()
		if err != nil {
			if err == io.EOF {
				// Exit classification happens in exitLoop.
				return
			}
			g.fatal(err)
			return
		}

		switch msg.Kind() {
		case framer.KindResponse:
			corr.Complete(*msg.ID, msg.Result, msg.Error)
		case framer.KindNotification:
			g.router.Dispatch(router.Notification{Method: msg.Method, Params: msg.Params})
		case framer.KindRequest:
			g.answerServerRequest(msg)
		}
	}
}

func (g *gateway) answerServerRequest(msg framer.Message) {
	g.logger.Debugw("answering server-initiated request with null", "method", msg.Method, "id", *msg.ID)
	reply, err := framer.NewResponse(*msg.ID, nil)
	if err != nil {
		return
	}
	g.mu.Lock()
	writer := g.writer
	g.mu.Unlock()
	if writer != nil {
		if err := writer.Write(reply); err != nil {
			g.logger.Debugw("replying to server request", "method", msg.Method, "error", err)
		}
	}
}

// stderrLoop forwards backend stderr lines into the bridge log.
func (g *gateway) stderrLoop(handle supervisor.Handle) {
	scanner := bufio.NewScanner(handle.Stderr())
	scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)
	for scanner.Scan() {
		g.logger.Infow("rust-analyzer", "stderr", scanner.Text())
	}
}

func (g *gateway) exitLoop(handle supervisor.Handle) {
	ev, ok := <-handle.Exits()
	if !ok {
		return
	}

	g.mu.Lock()
	expected := g.terminating
	g.mu.Unlock()
	if expected {
		g.logger.Infow("backend exited", "code", ev.Code)
		return
	}

	g.stats.Counter("crashes").Inc(1)
	g.logger.Errorw("backend exited unexpectedly", "code", ev.Code, "error", ev.Err)
	g.fatal(&errors.BackendCrashedError{ExitCode: ev.Code, Err: ev.Err})
}

// fatal fails every in-flight request and waiter with err and reports it once
// on the faults channel.
func (g *gateway) fatal(err error) {
	g.mu.Lock()
	once := g.fatalOnce
	corr := g.corr
	faults := g.faults
	g.mu.Unlock()
	if once == nil {
		return
	}

	once.Do(func() {
		if corr != nil {
			corr.FailAll(err)
		}
		g.router.CloseAll(err)
		select {
		case faults <- err:
		default:
		}
	})
}
