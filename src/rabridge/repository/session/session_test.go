package session

import (
	"context"
	"testing"

	"github.com/gofrs/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/symposium-dev/rabridge/src/rabridge/entity"
	"github.com/symposium-dev/rabridge/src/rabridge/internal/errors"
	"github.com/uber-go/tally"
	"go.uber.org/goleak"
)

func newSession(t *testing.T) *entity.Session {
	id, err := uuid.NewV4()
	require.NoError(t, err)
	return &entity.Session{
		UUID:          id,
		State:         entity.StateInitializing,
		WorkspaceRoot: "/tmp/project",
	}
}

func TestSetAndGet(t *testing.T) {
	r := New(tally.NewTestScope("", nil))
	ctx := context.Background()

	s := newSession(t)
	require.NoError(t, r.Set(ctx, s))

	got, err := r.Get(ctx, s.UUID)
	require.NoError(t, err)
	assert.Equal(t, s.UUID, got.UUID)
	assert.Equal(t, entity.StateInitializing, got.State)
	assert.Equal(t, "/tmp/project", got.WorkspaceRoot)
}

func TestGetUnknownUUID(t *testing.T) {
	r := New(tally.NewTestScope("", nil))

	id, err := uuid.NewV4()
	require.NoError(t, err)

	_, err = r.Get(context.Background(), id)
	var notFound *errors.UUIDNotFoundError
	assert.ErrorAs(t, err, &notFound)
}

func TestSetNil(t *testing.T) {
	r := New(tally.NewTestScope("", nil))
	assert.Error(t, r.Set(context.Background(), nil))
}

func TestCurrentFollowsLatestSet(t *testing.T) {
	r := New(tally.NewTestScope("", nil))
	ctx := context.Background()

	_, err := r.Current(ctx)
	var noSession *errors.NoSessionFoundError
	require.ErrorAs(t, err, &noSession)

	first := newSession(t)
	second := newSession(t)
	require.NoError(t, r.Set(ctx, first))
	require.NoError(t, r.Set(ctx, second))

	got, err := r.Current(ctx)
	require.NoError(t, err)
	assert.Equal(t, second.UUID, got.UUID)
}

func TestGetFromContext(t *testing.T) {
	r := New(tally.NewTestScope("", nil))
	ctx := context.Background()

	s := newSession(t)
	require.NoError(t, r.Set(ctx, s))

	withID := context.WithValue(ctx, entity.SessionContextKey, s.UUID)
	got, err := r.GetFromContext(withID)
	require.NoError(t, err)
	assert.Equal(t, s.UUID, got.UUID)

	_, err = r.GetFromContext(ctx)
	var noSession *errors.NoSessionFoundError
	assert.ErrorAs(t, err, &noSession)
}

func TestDeleteClearsCurrent(t *testing.T) {
	r := New(tally.NewTestScope("", nil))
	ctx := context.Background()

	s := newSession(t)
	require.NoError(t, r.Set(ctx, s))
	require.NoError(t, r.Delete(ctx, s.UUID))

	_, err := r.Get(ctx, s.UUID)
	assert.Error(t, err)
	_, err = r.Current(ctx)
	assert.Error(t, err)

	count, err := r.SessionCount(ctx)
	require.NoError(t, err)
	assert.Equal(t, 0, count)
}

func TestStoredCopyIsIsolated(t *testing.T) {
	r := New(tally.NewTestScope("", nil))
	ctx := context.Background()

	s := newSession(t)
	require.NoError(t, r.Set(ctx, s))

	s.State = entity.StateTerminated

	got, err := r.Get(ctx, s.UUID)
	require.NoError(t, err)
	assert.Equal(t, entity.StateInitializing, got.State)
}

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m)
}
