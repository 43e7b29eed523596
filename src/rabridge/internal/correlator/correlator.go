// Package correlator assigns request ids, tracks pending requests, and
// matches incoming responses back to their callers. Correctness depends only
// on id matching; responses may arrive in any order.
package correlator

import (
	"context"
	"encoding/json"
	"sync"
	"time"

	"github.com/symposium-dev/rabridge/src/rabridge/internal/clock"
	"github.com/symposium-dev/rabridge/src/rabridge/internal/errors"
	"github.com/symposium-dev/rabridge/src/rabridge/internal/framer"
	"github.com/uber-go/tally"
	"go.uber.org/zap"
)

// MethodCancelRequest is the notification sent for best-effort backend-side cancellation.
const MethodCancelRequest = "$/cancelRequest"

// WriteFunc writes one framed message to the backend.
type WriteFunc func(m framer.Message) error

// Timeouts selects a deadline per method, with a default for unlisted methods.
type Timeouts struct {
	Default   time.Duration
	PerMethod map[string]time.Duration
}

// ForMethod returns the deadline to apply to the given method.
func (t Timeouts) ForMethod(method string) time.Duration {
	if d, ok := t.PerMethod[method]; ok {
		return d
	}
	if t.Default > 0 {
		return t.Default
	}
	return 30 * time.Second
}

// Correlator issues requests and resolves them against incoming responses.
type Correlator interface {
	// Send allocates the next id, registers a PendingRequest, and writes the
	// request. The returned Pending can be awaited or cancelled.
	Send(ctx context.Context, method string, params interface{}) (*Pending, error)
	// Complete resolves the pending entry matching id. A response with no
	// matching entry is logged and discarded.
	Complete(id int64, result json.RawMessage, rerr *framer.ResponseError)
	// Cancel resolves the pending entry with Cancelled and sends a
	// best-effort cancellation notification to the backend.
	Cancel(id int64)
	// FailAll resolves every pending entry with err. Used on fatal transport
	// or process faults and on shutdown drain.
	FailAll(err error)
	// PendingCount returns the number of outstanding requests.
	PendingCount() int
}

type correlator struct {
	write  WriteFunc
	clk    clock.Clock
	logger *zap.SugaredLogger
	stats  tally.Scope

	timeouts Timeouts

	mu      sync.Mutex
	nextID  int64
	pending map[int64]*Pending
}

// New returns a Correlator writing through write.
func New(write WriteFunc, timeouts Timeouts, clk clock.Clock, logger *zap.SugaredLogger, stats tally.Scope) Correlator {
	return &correlator{
		write:    write,
		clk:      clk,
		logger:   logger,
		stats:    stats,
		timeouts: timeouts,
		nextID:   1,
		pending:  make(map[int64]*Pending),
	}
}

// Pending is one outstanding request. It resolves exactly once, with a result
// or with one of Timeout, Cancelled, BackendError, or a session-fatal error.
type Pending struct {
	ID       int64
	Method   string
	IssuedAt time.Time

	c     *correlator
	timer *time.Timer

	once   sync.Once
	done   chan struct{}
	result json.RawMessage
	err    error
}

// Done is closed once the request has resolved.
func (p *Pending) Done() <-chan struct{} {
	return p.done
}

// Result returns the outcome. Valid only after Done is closed.
func (p *Pending) Result() (json.RawMessage, error) {
	return p.result, p.err
}

// Await blocks until the request resolves or ctx ends. Context cancellation
// cancels the request.
func (p *Pending) Await(ctx context.Context) (json.RawMessage, error) {
	select {
	case <-p.done:
		return p.result, p.err
	case <-ctx.Done():
		p.c.Cancel(p.ID)
		<-p.done
		return p.result, p.err
	}
}

// Cancel resolves this request with Cancelled.
func (p *Pending) Cancel() {
	p.c.Cancel(p.ID)
}

func (p *Pending) resolve(result json.RawMessage, err error) {
	p.once.Do(func() {
		if p.timer != nil {
			p.timer.Stop()
		}
		p.result = result
		p.err = err
		close(p.done)
	})
}

func (c *correlator) Send(ctx context.Context, method string, params interface{}) (*Pending, error) {
	msg, err := framer.NewRequest(0, method, params)
	if err != nil {
		return nil, err
	}

	c.mu.Lock()
	id := c.nextID
	c.nextID++
	p := &Pending{
		ID:       id,
		Method:   method,
		IssuedAt: c.clk.Now(),
		c:        c,
		done:     make(chan struct{}),
	}
	c.pending[id] = p
	// The timer is armed before the request leaves, under the same lock that
	// guards the pending table: any resolver that finds the entry also sees
	// the timer and can stop it.
	timeout := c.timeouts.ForMethod(method)
	p.timer = time.AfterFunc(timeout, func() {
		if c.remove(id) == nil {
			return
		}
		c.stats.Counter("request_timeouts").Inc(1)
		c.logger.Warnw("request timed out", "id", id, "method", method, "timeout", timeout)
		c.sendCancelNotification(id)
		p.resolve(nil, &errors.TimeoutError{Method: method, Elapsed: timeout})
	})
	c.updateGaugeLocked()
	c.mu.Unlock()

	msg.ID = &id
	if err := c.write(msg); err != nil {
		c.remove(id)
		p.resolve(nil, err)
		return nil, err
	}

	return p, nil
}

func (c *correlator) Complete(id int64, result json.RawMessage, rerr *framer.ResponseError) {
	p := c.remove(id)
	if p == nil {
		// Duplicate or late response; never a crash.
		c.stats.Counter("stray_responses").Inc(1)
		c.logger.Debugw("discarding response with no pending request", "id", id)
		return
	}

	if rerr != nil {
		p.resolve(nil, &errors.BackendError{Code: rerr.Code, Message: rerr.Message})
		return
	}
	p.resolve(result, nil)
}

func (c *correlator) Cancel(id int64) {
	p := c.remove(id)
	if p == nil {
		return
	}
	c.stats.Counter("request_cancellations").Inc(1)
	c.sendCancelNotification(id)
	p.resolve(nil, &errors.CancelledError{Method: p.Method})
}

func (c *correlator) FailAll(err error) {
	c.mu.Lock()
	drained := make([]*Pending, 0, len(c.pending))
	for _, p := range c.pending {
		drained = append(drained, p)
	}
	c.pending = make(map[int64]*Pending)
	c.updateGaugeLocked()
	c.mu.Unlock()

	for _, p := range drained {
		p.resolve(nil, err)
	}
}

func (c *correlator) PendingCount() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.pending)
}

func (c *correlator) remove(id int64) *Pending {
	c.mu.Lock()
	defer c.mu.Unlock()
	p, ok := c.pending[id]
	if !ok {
		return nil
	}
	delete(c.pending, id)
	c.updateGaugeLocked()
	return p
}

// sendCancelNotification is best effort: local state is already resolved and
// the backend's acknowledgement is advisory.
func (c *correlator) sendCancelNotification(id int64) {
	msg, err := framer.NewNotification(MethodCancelRequest, map[string]int64{"id": id})
	if err != nil {
		return
	}
	if err := c.write(msg); err != nil {
		c.logger.Debugw("sending cancellation notification", "id", id, "error", err)
	}
}

func (c *correlator) updateGaugeLocked() {
	c.stats.Gauge("pending_requests").Update(float64(len(c.pending)))
}
