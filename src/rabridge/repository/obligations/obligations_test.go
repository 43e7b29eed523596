package obligations

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/symposium-dev/rabridge/src/rabridge/entity"
	"github.com/uber-go/tally"
	"go.uber.org/goleak"
)

func TestSetAndGet(t *testing.T) {
	r := New(tally.NewTestScope("", nil))
	ctx := context.Background()

	r.Set(ctx, "goal-1", &entity.GoalTree{
		Goal:       "Foo: Send",
		Result:     "no",
		Candidates: entity.CandidateCount(2),
	})

	got, ok := r.Get(ctx, "goal-1")
	require.True(t, ok)
	assert.Equal(t, "Foo: Send", got.Goal)
	require.NotNil(t, got.Candidates.Count)
	assert.Equal(t, 2, *got.Candidates.Count)

	_, ok = r.Get(ctx, "goal-2")
	assert.False(t, ok)
}

func TestSetNilNoop(t *testing.T) {
	r := New(tally.NewTestScope("", nil))
	ctx := context.Background()

	r.Set(ctx, "goal-1", nil)
	assert.Equal(t, 0, r.GoalCount(ctx))
}

func TestClear(t *testing.T) {
	r := New(tally.NewTestScope("", nil))
	ctx := context.Background()

	r.Set(ctx, "goal-1", &entity.GoalTree{Goal: "a"})
	r.Set(ctx, "goal-2", &entity.GoalTree{Goal: "b"})
	require.Equal(t, 2, r.GoalCount(ctx))

	r.Clear(ctx)
	assert.Equal(t, 0, r.GoalCount(ctx))
	_, ok := r.Get(ctx, "goal-1")
	assert.False(t, ok)
}

func TestStoredCopyIsIsolated(t *testing.T) {
	r := New(tally.NewTestScope("", nil))
	ctx := context.Background()

	tree := &entity.GoalTree{Goal: "original"}
	r.Set(ctx, "goal-1", tree)
	tree.Goal = "mutated"

	got, ok := r.Get(ctx, "goal-1")
	require.True(t, ok)
	assert.Equal(t, "original", got.Goal)
}

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m)
}
