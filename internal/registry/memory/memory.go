// Package memory is an in-process Registry used for single-node deployments and tests.
package memory

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/MrSnakeDoc/discovery/internal/domain"
	"github.com/MrSnakeDoc/discovery/internal/registry"
)

// Option configures a Registry.
type Option func(*Registry)

// WithClock overrides the time source used for UpdatedAt.
func WithClock(now func() time.Time) Option {
	return func(r *Registry) { r.now = now }
}

// Registry keeps descriptors in maps guarded by one RWMutex. Mutations and the
// resulting watch notifications are ordered under the write lock.
type Registry struct {
	mu          sync.RWMutex
	descriptors map[string]*domain.Descriptor // ID -> Descriptor
	byEndpoint  map[string]string             // Endpoint -> ID
	watchers    map[string]*watcher
	now         func() time.Time
}

var _ registry.Registry = (*Registry)(nil)

func New(opts ...Option) *Registry {
	r := &Registry{
		descriptors: make(map[string]*domain.Descriptor),
		byEndpoint:  make(map[string]string),
		watchers:    make(map[string]*watcher),
		now:         time.Now,
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

func (r *Registry) FindByEndpoint(_ context.Context, endpoint string) (*domain.Descriptor, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	id, ok := r.byEndpoint[endpoint]
	if !ok {
		return nil, fmt.Errorf("descriptor with endpoint %s: %w", endpoint, domain.ErrNotFound)
	}
	return r.descriptors[id].Clone(), nil
}

func (r *Registry) FindByID(_ context.Context, id string) (*domain.Descriptor, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	d, ok := r.descriptors[id]
	if !ok {
		return nil, fmt.Errorf("descriptor %s: %w", id, domain.ErrNotFound)
	}
	return d.Clone(), nil
}

func (r *Registry) FindByTypes(_ context.Context, types []string, req registry.PageRequest) (registry.Page, error) {
	req = req.Normalize()

	r.mu.RLock()
	matches := make([]*domain.Descriptor, 0)
	for _, d := range r.descriptors {
		if d.MatchesAny(types) {
			matches = append(matches, d.Clone())
		}
	}
	r.mu.RUnlock()

	sort.Slice(matches, func(i, j int) bool { return matches[i].ID < matches[j].ID })
	lo, hi := req.Window(len(matches))

	return registry.Page{
		Elements: matches[lo:hi],
		Page:     req.Page,
		Size:     req.Size,
		Total:    len(matches),
	}, nil
}

func (r *Registry) All(_ context.Context) ([]*domain.Descriptor, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	out := make([]*domain.Descriptor, 0, len(r.descriptors))
	for _, d := range r.descriptors {
		out = append(out, d.Clone())
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

func (r *Registry) Save(_ context.Context, d *domain.Descriptor) (*domain.Descriptor, error) {
	stored := d.Clone()
	if stored.ID == "" {
		stored.ID = uuid.NewString()
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	if prev, ok := r.descriptors[stored.ID]; ok && prev.Endpoint != stored.Endpoint {
		delete(r.byEndpoint, prev.Endpoint)
	}
	stored.UpdatedAt = r.now()
	r.descriptors[stored.ID] = stored
	r.byEndpoint[stored.Endpoint] = stored.ID
	r.notifyLocked(domain.ChangeAdded, stored)

	return stored.Clone(), nil
}

func (r *Registry) Update(_ context.Context, d *domain.Descriptor) (*domain.Descriptor, error) {
	stored := d.Clone()

	r.mu.Lock()
	defer r.mu.Unlock()

	prev, ok := r.descriptors[stored.ID]
	if !ok {
		return nil, fmt.Errorf("update descriptor %s: %w", stored.ID, domain.ErrNotFound)
	}
	if prev.Endpoint != stored.Endpoint {
		delete(r.byEndpoint, prev.Endpoint)
	}
	stored.UpdatedAt = r.now()
	r.descriptors[stored.ID] = stored
	r.byEndpoint[stored.Endpoint] = stored.ID
	if prev.Type != stored.Type {
		// Watchers of the old type lose sight of it.
		r.notifyLocked(domain.ChangeRemoved, prev)
	}
	r.notifyLocked(domain.ChangeUpdated, stored)

	return stored.Clone(), nil
}

func (r *Registry) Delete(_ context.Context, id string) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	prev, ok := r.descriptors[id]
	if !ok {
		return nil
	}
	delete(r.descriptors, id)
	if r.byEndpoint[prev.Endpoint] == id {
		delete(r.byEndpoint, prev.Endpoint)
	}
	r.notifyLocked(domain.ChangeRemoved, prev)
	return nil
}

func (r *Registry) Ping(context.Context) error { return nil }

// Count returns the number of stored descriptors.
func (r *Registry) Count() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.descriptors)
}

// WatcherCount returns the number of open watches.
func (r *Registry) WatcherCount() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.watchers)
}

// notifyLocked must be called with r.mu held for writing.
func (r *Registry) notifyLocked(kind domain.ChangeKind, d *domain.Descriptor) {
	for _, w := range r.watchers {
		if _, ok := w.types[d.Type]; !ok {
			continue
		}
		w.push(domain.ChangeEvent{Kind: kind, Descriptor: d.Clone()})
	}
}
