package preview

import (
	"errors"
	"sync"

	"github.com/google/uuid"
)

// ErrUnknownHandle is returned for handles that were never created or have
// been released.
var ErrUnknownHandle = errors.New("unknown preview handle")

// Handle identifies one previewable resource. The zero Handle means "none".
type Handle string

// Resource is what a handle points at: either local bytes or a remote URL.
type Resource struct {
	MediaType string
	Data      []byte
	URL       string
}

// Remote reports whether the resource lives behind a URL.
func (r Resource) Remote() bool {
	return r.URL != ""
}

// Registry hands out preview handles and frees them on Release.
type Registry struct {
	mu        sync.RWMutex
	resources map[Handle]Resource
}

// NewRegistry creates an empty registry.
func NewRegistry() *Registry {
	return &Registry{resources: make(map[Handle]Resource)}
}

// Create registers local bytes.
func (r *Registry) Create(data []byte, mediaType string) Handle {
	return r.add(Resource{MediaType: mediaType, Data: data})
}

// Link registers a remote resource.
func (r *Registry) Link(url, mediaType string) Handle {
	return r.add(Resource{MediaType: mediaType, URL: url})
}

func (r *Registry) add(res Resource) Handle {
	h := Handle(uuid.NewString())
	r.mu.Lock()
	r.resources[h] = res
	r.mu.Unlock()
	return h
}

// Resolve looks a handle up.
func (r *Registry) Resolve(h Handle) (Resource, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	res, ok := r.resources[h]
	if !ok {
		return Resource{}, ErrUnknownHandle
	}
	return res, nil
}

// Release frees a handle. Releasing twice or releasing the zero Handle is a no-op.
func (r *Registry) Release(h Handle) {
	if h == "" {
		return
	}
	r.mu.Lock()
	delete(r.resources, h)
	r.mu.Unlock()
}

// Len returns the number of live handles.
func (r *Registry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.resources)
}
