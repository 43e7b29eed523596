// Package router fans incoming backend notifications out to persistent
// handlers and to one-shot waiters. Requests and responses never pass through
// here; the router only sees method+params pairs.
package router

import (
	"context"
	"encoding/json"
	"sync"
	"time"

	"github.com/symposium-dev/rabridge/src/rabridge/internal/errors"
	"github.com/uber-go/tally"
	"go.uber.org/zap"
)

const _subscriptionBuffer = 16

// Notification is one server-initiated message without an id.
type Notification struct {
	Method string
	Params json.RawMessage
}

// Predicate filters notifications within a method. A nil predicate matches all.
type Predicate func(Notification) bool

// HandlerFunc is a persistent sink for one method. Handlers run on the
// dispatching goroutine and must not block.
type HandlerFunc func(Notification)

// Router routes notifications by method name.
type Router interface {
	// Handle registers a persistent handler for method. Handlers survive
	// session restarts.
	Handle(method string, fn HandlerFunc)
	// Subscribe registers a waiter for method. The subscription stays live
	// until cancelled or the router is closed.
	Subscribe(method string, pred Predicate) *Subscription
	// AwaitFirst blocks until one matching notification arrives, the timeout
	// elapses, ctx ends, or the router is closed with an error.
	AwaitFirst(ctx context.Context, method string, pred Predicate, timeout time.Duration) (Notification, error)
	// Dispatch delivers one notification to handlers and subscriptions.
	Dispatch(n Notification)
	// CloseAll terminates every subscription with err. Later AwaitFirst calls
	// fail immediately with the same error until Reset.
	CloseAll(err error)
	// Reset clears the terminal error after a restart. Handlers are kept.
	Reset()
}

// Subscription is one registered waiter. Receive from C; a closed C means the
// router was closed and Err carries the cause.
type Subscription struct {
	method string
	pred   Predicate

	r      *router
	ch     chan Notification
	closed bool
	err    error
}

// C returns the delivery channel.
func (s *Subscription) C() <-chan Notification {
	return s.ch
}

// Err returns the terminal error after C is closed.
func (s *Subscription) Err() error {
	s.r.mu.Lock()
	defer s.r.mu.Unlock()
	return s.err
}

// Cancel removes the subscription and closes its channel.
func (s *Subscription) Cancel() {
	s.r.mu.Lock()
	defer s.r.mu.Unlock()
	s.r.removeLocked(s, nil)
}

type router struct {
	logger *zap.SugaredLogger
	stats  tally.Scope

	mu       sync.Mutex
	handlers map[string][]HandlerFunc
	subs     map[*Subscription]struct{}
	termErr  error
}

// New returns an empty Router.
func New(logger *zap.SugaredLogger, stats tally.Scope) Router {
	return &router{
		logger:   logger,
		stats:    stats,
		handlers: make(map[string][]HandlerFunc),
		subs:     make(map[*Subscription]struct{}),
	}
}

func (r *router) Handle(method string, fn HandlerFunc) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.handlers[method] = append(r.handlers[method], fn)
}

func (r *router) Subscribe(method string, pred Predicate) *Subscription {
	s := &Subscription{
		method: method,
		pred:   pred,
		r:      r,
		ch:     make(chan Notification, _subscriptionBuffer),
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	if r.termErr != nil {
		s.closed = true
		s.err = r.termErr
		close(s.ch)
		return s
	}
	r.subs[s] = struct{}{}
	return s
}

func (r *router) AwaitFirst(ctx context.Context, method string, pred Predicate, timeout time.Duration) (Notification, error) {
	s := r.Subscribe(method, pred)
	defer s.Cancel()

	select {
	case n, ok := <-s.ch:
		if !ok {
			return Notification{}, s.Err()
		}
		return n, nil
	case <-time.After(timeout):
		return Notification{}, &errors.NotificationTimeoutError{Method: method, Elapsed: timeout}
	case <-ctx.Done():
		return Notification{}, ctx.Err()
	}
}

func (r *router) Dispatch(n Notification) {
	// Sends happen under the lock: Cancel and CloseAll close subscription
	// channels under the same lock, so a send can never race a close.
	r.mu.Lock()
	handlers := r.handlers[n.Method]
	for s := range r.subs {
		if s.method != n.Method {
			continue
		}
		if s.pred != nil && !s.pred(n) {
			continue
		}
		select {
		case s.ch <- n:
		default:
			// A waiter that stopped receiving loses messages rather than
			// stalling the reader.
			r.stats.Counter("dropped_notifications").Inc(1)
			r.logger.Debugw("dropping notification for slow subscriber", "method", n.Method)
		}
	}
	r.mu.Unlock()

	for _, fn := range handlers {
		fn(n)
	}
}

func (r *router) CloseAll(err error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.termErr = err
	for s := range r.subs {
		r.removeLocked(s, err)
	}
}

func (r *router) Reset() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.termErr = nil
}

func (r *router) removeLocked(s *Subscription, err error) {
	if s.closed {
		return
	}
	s.closed = true
	s.err = err
	delete(r.subs, s)
	close(s.ch)
}
