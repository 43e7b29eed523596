// Package documents tracks which files have been opened on the backend and
// the version number last sent for each.
package documents

import (
	"context"
	"sort"
	"sync"

	"github.com/uber-go/tally"
	"go.lsp.dev/uri"
)

// Repository is an entity-scoped repository.
type Repository interface {
	IsOpen(ctx context.Context, docURI uri.URI) bool
	MarkOpen(ctx context.Context, docURI uri.URI)
	// NextVersion bumps and returns the version to use for the next didChange.
	NextVersion(ctx context.Context, docURI uri.URI) int32
	Remove(ctx context.Context, docURI uri.URI)
	Clear(ctx context.Context)
	OpenDocuments(ctx context.Context) []uri.URI
}

type repository struct {
	mu       sync.Mutex
	versions map[uri.URI]int32
	stats    tally.Scope
}

// New returns a repository tracking opened documents.
func New(stats tally.Scope) Repository {
	return &repository{
		versions: make(map[uri.URI]int32),
		stats:    stats,
	}
}

func (r *repository) IsOpen(ctx context.Context, docURI uri.URI) bool {
	r.mu.Lock()
	defer r.mu.Unlock()

	_, ok := r.versions[docURI]
	return ok
}

func (r *repository) MarkOpen(ctx context.Context, docURI uri.URI) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, ok := r.versions[docURI]; ok {
		return
	}
	r.versions[docURI] = 1
	r.stats.Gauge("open_documents").Update(float64(len(r.versions)))
}

func (r *repository) NextVersion(ctx context.Context, docURI uri.URI) int32 {
	r.mu.Lock()
	defer r.mu.Unlock()

	v := r.versions[docURI] + 1
	r.versions[docURI] = v
	return v
}

func (r *repository) Remove(ctx context.Context, docURI uri.URI) {
	r.mu.Lock()
	defer r.mu.Unlock()

	delete(r.versions, docURI)
	r.stats.Gauge("open_documents").Update(float64(len(r.versions)))
}

func (r *repository) Clear(ctx context.Context) {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.versions = make(map[uri.URI]int32)
	r.stats.Gauge("open_documents").Update(0)
}

func (r *repository) OpenDocuments(ctx context.Context) []uri.URI {
	r.mu.Lock()
	defer r.mu.Unlock()

	out := make([]uri.URI, 0, len(r.versions))
	for u := range r.versions {
		out = append(out, u)
	}
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out
}
