package correlator

import (
	"context"
	"encoding/json"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/symposium-dev/rabridge/src/rabridge/internal/clock"
	bridgeerrors "github.com/symposium-dev/rabridge/src/rabridge/internal/errors"
	"github.com/symposium-dev/rabridge/src/rabridge/internal/framer"
	"github.com/uber-go/tally"
	"go.uber.org/goleak"
	"go.uber.org/zap"
)

type capturingWriter struct {
	mu   sync.Mutex
	msgs []framer.Message
	err  error
}

func (w *capturingWriter) write(m framer.Message) error {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.err != nil {
		return w.err
	}
	w.msgs = append(w.msgs, m)
	return nil
}

func (w *capturingWriter) sent() []framer.Message {
	w.mu.Lock()
	defer w.mu.Unlock()
	out := make([]framer.Message, len(w.msgs))
	copy(out, w.msgs)
	return out
}

func newTestCorrelator(w *capturingWriter, timeouts Timeouts) Correlator {
	return New(w.write, timeouts, clock.New(), zap.NewNop().Sugar(), tally.NewTestScope("", nil))
}

func TestSendAssignsSequentialIDs(t *testing.T) {
	w := &capturingWriter{}
	c := newTestCorrelator(w, Timeouts{Default: time.Minute})

	p1, err := c.Send(context.Background(), "textDocument/hover", nil)
	require.NoError(t, err)
	p2, err := c.Send(context.Background(), "textDocument/definition", nil)
	require.NoError(t, err)

	assert.Equal(t, int64(1), p1.ID)
	assert.Equal(t, int64(2), p2.ID)
	assert.Equal(t, 2, c.PendingCount())

	c.FailAll(bridgeerrors.New("test over"))
}

func TestOutOfOrderCompletion(t *testing.T) {
	w := &capturingWriter{}
	c := newTestCorrelator(w, Timeouts{Default: time.Minute})

	p1, err := c.Send(context.Background(), "slow", nil)
	require.NoError(t, err)
	p2, err := c.Send(context.Background(), "fast", nil)
	require.NoError(t, err)

	c.Complete(p2.ID, json.RawMessage(`"second"`), nil)
	c.Complete(p1.ID, json.RawMessage(`"first"`), nil)

	r1, err := p1.Await(context.Background())
	require.NoError(t, err)
	assert.Equal(t, `"first"`, string(r1))

	r2, err := p2.Await(context.Background())
	require.NoError(t, err)
	assert.Equal(t, `"second"`, string(r2))

	assert.Equal(t, 0, c.PendingCount())
}

func TestCompleteWithErrorResponse(t *testing.T) {
	w := &capturingWriter{}
	c := newTestCorrelator(w, Timeouts{Default: time.Minute})

	p, err := c.Send(context.Background(), "textDocument/hover", nil)
	require.NoError(t, err)

	c.Complete(p.ID, nil, &framer.ResponseError{Code: -32602, Message: "invalid params"})

	_, err = p.Await(context.Background())
	var backendErr *bridgeerrors.BackendError
	require.ErrorAs(t, err, &backendErr)
	assert.Equal(t, int64(-32602), backendErr.Code)
}

func TestStrayResponseIsDiscarded(t *testing.T) {
	w := &capturingWriter{}
	c := newTestCorrelator(w, Timeouts{Default: time.Minute})

	assert.NotPanics(t, func() {
		c.Complete(999, json.RawMessage(`{}`), nil)
	})
	assert.Equal(t, 0, c.PendingCount())
}

func TestTimeoutResolvesOnceAndCancels(t *testing.T) {
	w := &capturingWriter{}
	c := newTestCorrelator(w, Timeouts{Default: 20 * time.Millisecond})

	p, err := c.Send(context.Background(), "textDocument/hover", nil)
	require.NoError(t, err)

	_, err = p.Await(context.Background())
	var timeoutErr *bridgeerrors.TimeoutError
	require.ErrorAs(t, err, &timeoutErr)
	assert.Equal(t, "textDocument/hover", timeoutErr.Method)

	// A late response after the timeout must be ignored.
	c.Complete(p.ID, json.RawMessage(`"late"`), nil)
	result, err := p.Result()
	assert.Nil(t, result)
	assert.ErrorAs(t, err, &timeoutErr)

	// The backend was told to cancel.
	var sawCancel bool
	for _, m := range w.sent() {
		if m.Method == MethodCancelRequest {
			sawCancel = true
		}
	}
	assert.True(t, sawCancel)
}

func TestPerMethodTimeoutOverride(t *testing.T) {
	timeouts := Timeouts{
		Default:   time.Minute,
		PerMethod: map[string]time.Duration{"initialize": 2 * time.Minute},
	}
	assert.Equal(t, 2*time.Minute, timeouts.ForMethod("initialize"))
	assert.Equal(t, time.Minute, timeouts.ForMethod("textDocument/hover"))

	var zero Timeouts
	assert.Equal(t, 30*time.Second, zero.ForMethod("anything"))
}

func TestCancelSendsNotification(t *testing.T) {
	w := &capturingWriter{}
	c := newTestCorrelator(w, Timeouts{Default: time.Minute})

	p, err := c.Send(context.Background(), "textDocument/references", nil)
	require.NoError(t, err)

	p.Cancel()

	_, err = p.Await(context.Background())
	var cancelledErr *bridgeerrors.CancelledError
	require.ErrorAs(t, err, &cancelledErr)

	msgs := w.sent()
	require.Len(t, msgs, 2)
	assert.Equal(t, MethodCancelRequest, msgs[1].Method)
	assert.JSONEq(t, `{"id":1}`, string(msgs[1].Params))
}

func TestAwaitContextCancellation(t *testing.T) {
	w := &capturingWriter{}
	c := newTestCorrelator(w, Timeouts{Default: time.Minute})

	p, err := c.Send(context.Background(), "textDocument/hover", nil)
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err = p.Await(ctx)
	var cancelledErr *bridgeerrors.CancelledError
	assert.ErrorAs(t, err, &cancelledErr)
}

func TestFailAllResolvesEverything(t *testing.T) {
	w := &capturingWriter{}
	c := newTestCorrelator(w, Timeouts{Default: time.Minute})

	var pendings []*Pending
	for i := 0; i < 5; i++ {
		p, err := c.Send(context.Background(), "textDocument/hover", nil)
		require.NoError(t, err)
		pendings = append(pendings, p)
	}

	crash := &bridgeerrors.BackendCrashedError{ExitCode: 101}
	c.FailAll(crash)

	for _, p := range pendings {
		_, err := p.Await(context.Background())
		var crashed *bridgeerrors.BackendCrashedError
		assert.ErrorAs(t, err, &crashed)
	}
	assert.Equal(t, 0, c.PendingCount())
}

func TestResponseArrivingDuringSendStopsTimer(t *testing.T) {
	// The backend answers before Send returns: the write hook completes the
	// request synchronously. The timeout timer must already be registered so
	// the completion stops it; otherwise it fires later as a spurious timeout.
	w := &capturingWriter{}
	var c Correlator
	write := func(m framer.Message) error {
		if err := w.write(m); err != nil {
			return err
		}
		if m.Kind() == framer.KindRequest {
			c.Complete(*m.ID, json.RawMessage(`"fast"`), nil)
		}
		return nil
	}
	c = New(write, Timeouts{Default: 20 * time.Millisecond}, clock.New(), zap.NewNop().Sugar(), tally.NewTestScope("", nil))

	for i := 0; i < 50; i++ {
		p, err := c.Send(context.Background(), "textDocument/hover", nil)
		require.NoError(t, err)
		result, err := p.Await(context.Background())
		require.NoError(t, err)
		assert.Equal(t, `"fast"`, string(result))
	}
	assert.Equal(t, 0, c.PendingCount())

	// Past the deadline, no stopped timer may have fired a cancellation.
	time.Sleep(50 * time.Millisecond)
	for _, m := range w.sent() {
		assert.NotEqual(t, MethodCancelRequest, m.Method)
	}
}

func TestWriteFailureResolvesPending(t *testing.T) {
	w := &capturingWriter{err: bridgeerrors.New("pipe closed")}
	c := newTestCorrelator(w, Timeouts{Default: time.Minute})

	_, err := c.Send(context.Background(), "textDocument/hover", nil)
	require.Error(t, err)
	assert.Equal(t, 0, c.PendingCount())
}

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m)
}
