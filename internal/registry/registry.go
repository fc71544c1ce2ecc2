// Package registry defines the storage contract the discovery core talks to.
//
// Implementations must deliver watch callbacks for one handle sequentially, in
// the order mutations were applied, until the handle is closed.
package registry

import (
	"context"

	"github.com/MrSnakeDoc/discovery/internal/domain"
)

// DefaultPageSize is used when a PageRequest carries no size.
const DefaultPageSize = 50

// ChangeFunc receives changes from a watch.
type ChangeFunc func(domain.ChangeEvent)

// FeedHandle is a live watch. Close is idempotent.
type FeedHandle interface {
	Close() error
}

// PageRequest selects a window of a type query. Page is zero-based.
type PageRequest struct {
	Page int
	Size int
}

// Page is one window of a type query, ordered by descriptor id.
type Page struct {
	Elements []*domain.Descriptor `json:"elements"`
	Page     int                  `json:"page"`
	Size     int                  `json:"size"`
	Total    int                  `json:"total"`
}

// HasNext reports whether another page follows this one.
func (p Page) HasNext() bool {
	return (p.Page+1)*p.Size < p.Total
}

type Registry interface {
	FindByEndpoint(ctx context.Context, endpoint string) (*domain.Descriptor, error)
	FindByID(ctx context.Context, id string) (*domain.Descriptor, error)
	FindByTypes(ctx context.Context, types []string, page PageRequest) (Page, error)
	All(ctx context.Context) ([]*domain.Descriptor, error)

	// Save stores a new descriptor, assigning an id when empty.
	Save(ctx context.Context, d *domain.Descriptor) (*domain.Descriptor, error)
	// Update replaces an existing descriptor. Unknown ids yield domain.ErrNotFound.
	Update(ctx context.Context, d *domain.Descriptor) (*domain.Descriptor, error)
	// Delete removes a descriptor. Unknown ids are a no-op.
	Delete(ctx context.Context, id string) error

	// Watch streams changes to descriptors whose type is in types.
	// ctx only bounds the setup; the watch lives until the handle is closed.
	Watch(ctx context.Context, types []string, onChange ChangeFunc) (FeedHandle, error)

	Ping(ctx context.Context) error
}

// CollectByTypes walks every page of a type query.
func CollectByTypes(ctx context.Context, reg Registry, types []string, size int) ([]*domain.Descriptor, error) {
	if size <= 0 {
		size = DefaultPageSize
	}
	var out []*domain.Descriptor
	for page := 0; ; page++ {
		p, err := reg.FindByTypes(ctx, types, PageRequest{Page: page, Size: size})
		if err != nil {
			return out, err
		}
		out = append(out, p.Elements...)
		if !p.HasNext() || len(p.Elements) == 0 {
			return out, nil
		}
	}
}

// Normalize fills the defaults of a PageRequest.
func (r PageRequest) Normalize() PageRequest {
	if r.Page < 0 {
		r.Page = 0
	}
	if r.Size <= 0 {
		r.Size = DefaultPageSize
	}
	return r
}

// Window returns the [lo, hi) bounds of the page within total elements.
func (r PageRequest) Window(total int) (lo, hi int) {
	lo = r.Page * r.Size
	if lo > total {
		lo = total
	}
	hi = lo + r.Size
	if hi > total {
		hi = total
	}
	return lo, hi
}
