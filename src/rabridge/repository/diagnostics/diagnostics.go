// Package diagnostics caches the most recent diagnostics set per document.
// Push notifications and pull responses both land here; the freshest set wins.
package diagnostics

import (
	"context"
	"sort"
	"sync"

	"github.com/symposium-dev/rabridge/src/rabridge/entity"
	"github.com/symposium-dev/rabridge/src/rabridge/mapper"
	"github.com/symposium-dev/rabridge/src/rabridge/model"
	"github.com/uber-go/tally"
	"go.lsp.dev/uri"
)

// Repository is an entity-scoped repository.
type Repository interface {
	Get(ctx context.Context, docURI uri.URI) (*entity.DocumentDiagnostics, bool)
	Set(ctx context.Context, d *entity.DocumentDiagnostics) error
	Snapshot(ctx context.Context) []*entity.DocumentDiagnostics
	Clear(ctx context.Context)
	DocumentCount(ctx context.Context) int
}

type repository struct {
	mu       sync.Mutex
	memstore map[uri.URI]*model.DocumentDiagnostics
	stats    tally.Scope
}

// New returns a repository to a key-value diagnostics cache.
func New(stats tally.Scope) Repository {
	return &repository{
		memstore: make(map[uri.URI]*model.DocumentDiagnostics),
		stats:    stats,
	}
}

// Get returns the cached diagnostics for the given document, if any.
func (r *repository) Get(ctx context.Context, docURI uri.URI) (*entity.DocumentDiagnostics, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()

	d, ok := r.memstore[docURI]
	if !ok {
		return nil, false
	}
	return mapper.ModelToDiagnostics(d), true
}

// Set stores d unless a strictly newer set is already cached for the document.
func (r *repository) Set(ctx context.Context, d *entity.DocumentDiagnostics) error {
	if d == nil {
		return nil
	}
	r.mu.Lock()
	defer r.mu.Unlock()

	if prev, ok := r.memstore[d.URI]; ok && prev.ReceivedAt.After(d.ReceivedAt) {
		return nil
	}
	r.memstore[d.URI] = mapper.DiagnosticsToModel(d)
	r.stats.Gauge("cached_documents").Update(float64(len(r.memstore)))
	return nil
}

// Snapshot returns the cached diagnostics of every document, ordered by URI.
func (r *repository) Snapshot(ctx context.Context) []*entity.DocumentDiagnostics {
	r.mu.Lock()
	defer r.mu.Unlock()

	out := make([]*entity.DocumentDiagnostics, 0, len(r.memstore))
	for _, d := range r.memstore {
		out = append(out, mapper.ModelToDiagnostics(d))
	}
	sort.Slice(out, func(i, j int) bool { return out[i].URI < out[j].URI })
	return out
}

// Clear drops the whole cache. Called when the workspace root changes.
func (r *repository) Clear(ctx context.Context) {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.memstore = make(map[uri.URI]*model.DocumentDiagnostics)
	r.stats.Gauge("cached_documents").Update(0)
}

// DocumentCount returns the number of documents with cached diagnostics.
func (r *repository) DocumentCount(ctx context.Context) int {
	r.mu.Lock()
	defer r.mu.Unlock()

	return len(r.memstore)
}
