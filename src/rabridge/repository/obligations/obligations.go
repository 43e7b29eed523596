// Package obligations stores flattened proof-tree goals keyed by their
// generated goal index, so nested goals can be fetched on demand.
package obligations

import (
	"context"
	"sync"

	"github.com/symposium-dev/rabridge/src/rabridge/entity"
	"github.com/uber-go/tally"
)

// Repository is an entity-scoped repository.
type Repository interface {
	Get(ctx context.Context, goalIndex string) (*entity.GoalTree, bool)
	Set(ctx context.Context, goalIndex string, tree *entity.GoalTree)
	Clear(ctx context.Context)
	GoalCount(ctx context.Context) int
}

type repository struct {
	mu       sync.Mutex
	memstore map[string]*entity.GoalTree
	stats    tally.Scope
}

// New returns a repository to a key-value goal tree store.
func New(stats tally.Scope) Repository {
	return &repository{
		memstore: make(map[string]*entity.GoalTree),
		stats:    stats,
	}
}

func (r *repository) Get(ctx context.Context, goalIndex string) (*entity.GoalTree, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()

	t, ok := r.memstore[goalIndex]
	if !ok {
		return nil, false
	}
	cp := *t
	return &cp, true
}

func (r *repository) Set(ctx context.Context, goalIndex string, tree *entity.GoalTree) {
	if tree == nil {
		return
	}
	r.mu.Lock()
	defer r.mu.Unlock()

	cp := *tree
	r.memstore[goalIndex] = &cp
	r.stats.Gauge("stored_goals").Update(float64(len(r.memstore)))
}

// Clear drops all stored goals. Called when the workspace root changes.
func (r *repository) Clear(ctx context.Context) {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.memstore = make(map[string]*entity.GoalTree)
	r.stats.Gauge("stored_goals").Update(0)
}

func (r *repository) GoalCount(ctx context.Context) int {
	r.mu.Lock()
	defer r.mu.Unlock()

	return len(r.memstore)
}
