package diagnostics

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/symposium-dev/rabridge/src/rabridge/entity"
	"github.com/uber-go/tally"
	"go.lsp.dev/protocol"
	"go.lsp.dev/uri"
	"go.uber.org/goleak"
)

func docSet(docURI string, at time.Time, messages ...string) *entity.DocumentDiagnostics {
	items := make([]protocol.Diagnostic, 0, len(messages))
	for _, m := range messages {
		items = append(items, protocol.Diagnostic{Message: m})
	}
	return &entity.DocumentDiagnostics{
		URI:         uri.URI(docURI),
		Diagnostics: items,
		Source:      entity.DiagnosticsSourcePush,
		ReceivedAt:  at,
	}
}

func TestSetAndGet(t *testing.T) {
	r := New(tally.NewTestScope("", nil))
	ctx := context.Background()
	now := time.Now()

	require.NoError(t, r.Set(ctx, docSet("file:///a/main.rs", now, "unused variable")))

	got, ok := r.Get(ctx, uri.URI("file:///a/main.rs"))
	require.True(t, ok)
	assert.Len(t, got.Diagnostics, 1)
	assert.Equal(t, "unused variable", got.Diagnostics[0].Message)
	assert.Equal(t, entity.DiagnosticsSourcePush, got.Source)

	_, ok = r.Get(ctx, uri.URI("file:///a/other.rs"))
	assert.False(t, ok)
}

func TestNewerSetWins(t *testing.T) {
	r := New(tally.NewTestScope("", nil))
	ctx := context.Background()
	now := time.Now()

	require.NoError(t, r.Set(ctx, docSet("file:///a/main.rs", now, "old")))
	require.NoError(t, r.Set(ctx, docSet("file:///a/main.rs", now.Add(time.Second), "new")))

	got, ok := r.Get(ctx, uri.URI("file:///a/main.rs"))
	require.True(t, ok)
	assert.Equal(t, "new", got.Diagnostics[0].Message)
}

func TestStaleSetIgnored(t *testing.T) {
	r := New(tally.NewTestScope("", nil))
	ctx := context.Background()
	now := time.Now()

	require.NoError(t, r.Set(ctx, docSet("file:///a/main.rs", now, "fresh")))
	require.NoError(t, r.Set(ctx, docSet("file:///a/main.rs", now.Add(-time.Minute), "stale")))

	got, ok := r.Get(ctx, uri.URI("file:///a/main.rs"))
	require.True(t, ok)
	assert.Equal(t, "fresh", got.Diagnostics[0].Message)
}

func TestSetNilNoop(t *testing.T) {
	r := New(tally.NewTestScope("", nil))
	ctx := context.Background()

	require.NoError(t, r.Set(ctx, nil))
	assert.Equal(t, 0, r.DocumentCount(ctx))
}

func TestSnapshotOrderedByURI(t *testing.T) {
	r := New(tally.NewTestScope("", nil))
	ctx := context.Background()
	now := time.Now()

	require.NoError(t, r.Set(ctx, docSet("file:///b.rs", now)))
	require.NoError(t, r.Set(ctx, docSet("file:///a.rs", now)))
	require.NoError(t, r.Set(ctx, docSet("file:///c.rs", now)))

	snap := r.Snapshot(ctx)
	require.Len(t, snap, 3)
	assert.Equal(t, uri.URI("file:///a.rs"), snap[0].URI)
	assert.Equal(t, uri.URI("file:///b.rs"), snap[1].URI)
	assert.Equal(t, uri.URI("file:///c.rs"), snap[2].URI)
}

func TestClear(t *testing.T) {
	r := New(tally.NewTestScope("", nil))
	ctx := context.Background()

	require.NoError(t, r.Set(ctx, docSet("file:///a.rs", time.Now(), "x")))
	require.Equal(t, 1, r.DocumentCount(ctx))

	r.Clear(ctx)
	assert.Equal(t, 0, r.DocumentCount(ctx))
	assert.Empty(t, r.Snapshot(ctx))
}

func TestStoredCopyIsIsolated(t *testing.T) {
	r := New(tally.NewTestScope("", nil))
	ctx := context.Background()

	d := docSet("file:///a.rs", time.Now(), "original")
	require.NoError(t, r.Set(ctx, d))

	d.Diagnostics[0].Message = "mutated"

	got, ok := r.Get(ctx, uri.URI("file:///a.rs"))
	require.True(t, ok)
	assert.Equal(t, "original", got.Diagnostics[0].Message)
}

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m)
}
