package compositor

import (
	"sync"

	"github.com/couchcryptid/hawaii-climate-dashboard/internal/domain"
	"github.com/couchcryptid/hawaii-climate-dashboard/internal/observability"
	"github.com/google/uuid"
)

// Registry tracks live layer image handles. A session acquires a handle when
// a decode completes and releases it when the layer is replaced or the
// session closes, so the count of live handles is observable.
type Registry struct {
	mu      sync.Mutex
	handles map[string]*Layer
	metrics *observability.Metrics
}

// NewRegistry creates an empty registry. metrics may be nil.
func NewRegistry(metrics *observability.Metrics) *Registry {
	return &Registry{handles: make(map[string]*Layer), metrics: metrics}
}

// Acquire registers layer and returns its handle id.
func (r *Registry) Acquire(layer *Layer) string {
	id := uuid.NewString()
	r.mu.Lock()
	r.handles[id] = layer
	n := len(r.handles)
	r.mu.Unlock()
	r.observe(n)
	return id
}

// Release drops a handle. Releasing an unknown or already released id is a no-op
// and reports false.
func (r *Registry) Release(id string) bool {
	r.mu.Lock()
	_, ok := r.handles[id]
	delete(r.handles, id)
	n := len(r.handles)
	r.mu.Unlock()
	if ok {
		r.observe(n)
	}
	return ok
}

// Get returns the layer behind a live handle.
func (r *Registry) Get(id string) (*Layer, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	l, ok := r.handles[id]
	return l, ok
}

// Holds reports whether any live handle references a layer for key.
func (r *Registry) Holds(key domain.DatasetKey) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, l := range r.handles {
		if l.Key == key {
			return true
		}
	}
	return false
}

// Len reports the number of live handles.
func (r *Registry) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.handles)
}

func (r *Registry) observe(n int) {
	if r.metrics != nil {
		r.metrics.LayerHandles.Set(float64(n))
	}
}
