package audit

import (
	"context"
	"strconv"
	"sync"
)

// Resource type tags.
const (
	ResourceCase    = "case"
	ResourceSuspect = "suspect"
	ResourcePiece   = "piece"
	ResourceUser    = "user"
)

// LookupFunc returns the display label of the resource with the given id.
type LookupFunc func(ctx context.Context, id int64) (string, error)

// Registry maps resource type tags to their lookup functions.
type Registry struct {
	mu      sync.RWMutex
	lookups map[string]LookupFunc
}

// NewRegistry returns an empty registry.
func NewRegistry() *Registry {
	return &Registry{lookups: make(map[string]LookupFunc)}
}

// Register sets the lookup for tag, replacing any previous one.
func (r *Registry) Register(tag string, fn LookupFunc) {
	r.mu.Lock()
	r.lookups[tag] = fn
	r.mu.Unlock()
}

// Known reports whether tag has a lookup.
func (r *Registry) Known(tag string) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	_, ok := r.lookups[tag]
	return ok
}

// Label resolves (tag, id). It returns "" for unknown tags, non-numeric ids
// and failed lookups, leaving the "type #id" fallback to the caller.
func (r *Registry) Label(ctx context.Context, tag, id string) string {
	if r == nil || tag == "" {
		return ""
	}
	r.mu.RLock()
	fn, ok := r.lookups[tag]
	r.mu.RUnlock()
	if !ok {
		return ""
	}
	n, err := strconv.ParseInt(id, 10, 64)
	if err != nil {
		return ""
	}
	label, err := fn(ctx, n)
	if err != nil {
		return ""
	}
	return label
}
