package supervisor

import (
	"bufio"
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	bridgeerrors "github.com/symposium-dev/rabridge/src/rabridge/internal/errors"
	"go.uber.org/goleak"
)

func TestStartUnknownExecutable(t *testing.T) {
	s := New()

	_, err := s.Start(context.Background(), "definitely-not-a-real-binary-rabridge", nil, nil)
	require.Error(t, err)
	var spawnErr *bridgeerrors.SpawnError
	require.ErrorAs(t, err, &spawnErr)
	assert.Equal(t, "definitely-not-a-real-binary-rabridge", spawnErr.Command)
}

func TestStartAndEcho(t *testing.T) {
	s := New()

	h, err := s.Start(context.Background(), "cat", nil, nil)
	require.NoError(t, err)
	assert.True(t, h.Alive())
	assert.Greater(t, h.Pid(), 0)

	_, err = h.Stdin().Write([]byte("hello\n"))
	require.NoError(t, err)

	line, err := bufio.NewReader(h.Stdout()).ReadString('\n')
	require.NoError(t, err)
	assert.Equal(t, "hello\n", line)

	require.NoError(t, h.Terminate(context.Background(), time.Second))
	assert.False(t, h.Alive())
}

func TestExitEventDelivered(t *testing.T) {
	s := New()

	h, err := s.Start(context.Background(), "true", nil, nil)
	require.NoError(t, err)

	select {
	case ev := <-h.Exits():
		assert.Equal(t, 0, ev.Code)
	case <-time.After(5 * time.Second):
		t.Fatal("no exit event delivered")
	}

	// Channel closes after its single event.
	_, ok := <-h.Exits()
	assert.False(t, ok)
	assert.False(t, h.Alive())
}

func TestExitEventNonZeroCode(t *testing.T) {
	s := New()

	h, err := s.Start(context.Background(), "false", nil, nil)
	require.NoError(t, err)

	select {
	case ev := <-h.Exits():
		assert.Equal(t, 1, ev.Code)
		assert.Error(t, ev.Err)
	case <-time.After(5 * time.Second):
		t.Fatal("no exit event delivered")
	}
}

func TestTerminateClosesStdinFirst(t *testing.T) {
	s := New()

	// cat exits on its own once stdin closes, well within the grace period.
	h, err := s.Start(context.Background(), "cat", nil, nil)
	require.NoError(t, err)

	start := time.Now()
	require.NoError(t, h.Terminate(context.Background(), 5*time.Second))
	assert.Less(t, time.Since(start), 5*time.Second)

	select {
	case ev := <-h.Exits():
		assert.Equal(t, 0, ev.Code)
	case <-time.After(time.Second):
		t.Fatal("no exit event delivered")
	}
}

func TestTerminateKillsStubbornProcess(t *testing.T) {
	s := New()

	// sleep ignores stdin, so the grace period elapses and the kill path runs.
	h, err := s.Start(context.Background(), "sleep", []string{"60"}, nil)
	require.NoError(t, err)

	require.NoError(t, h.Terminate(context.Background(), 50*time.Millisecond))
	assert.False(t, h.Alive())
}

func TestTerminateAfterExitIsNoop(t *testing.T) {
	s := New()

	h, err := s.Start(context.Background(), "true", nil, nil)
	require.NoError(t, err)
	<-h.Exits()

	assert.NoError(t, h.Terminate(context.Background(), time.Second))
}

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m)
}
