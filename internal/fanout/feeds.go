package fanout

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/MrSnakeDoc/discovery/internal/domain"
	"github.com/MrSnakeDoc/discovery/internal/logger"
	"github.com/MrSnakeDoc/discovery/internal/registry"
)

// Feed is the single registry watch serving one query key.
type Feed struct {
	Key      domain.QueryKey
	Query    domain.Query
	OpenedAt time.Time

	handle registry.FeedHandle
}

// FeedManager owns at most one Feed per key.
type FeedManager struct {
	mu       sync.Mutex
	feeds    map[domain.QueryKey]*Feed
	registry registry.Registry
	onChange func(domain.QueryKey, domain.ChangeEvent)
	logger   logger.Logger
}

func NewFeedManager(reg registry.Registry, onChange func(domain.QueryKey, domain.ChangeEvent), log logger.Logger) *FeedManager {
	return &FeedManager{
		feeds:    make(map[domain.QueryKey]*Feed),
		registry: reg,
		onChange: onChange,
		logger:   log,
	}
}

// Ensure opens a watch for key unless one is already open. The feed is
// registered before the watch starts so no change is lost in between.
func (m *FeedManager) Ensure(ctx context.Context, key domain.QueryKey, q domain.Query) error {
	f := &Feed{Key: key, Query: q, OpenedAt: time.Now()}

	m.mu.Lock()
	if _, exists := m.feeds[key]; exists {
		m.mu.Unlock()
		return nil
	}
	m.feeds[key] = f
	m.mu.Unlock()

	handle, err := m.registry.Watch(ctx, q.Types, func(ev domain.ChangeEvent) {
		// A callback racing a Destroy must not leak into a newer feed for the same key.
		if m.current(key, f) {
			m.onChange(key, ev)
		}
	})
	if err != nil {
		m.mu.Lock()
		if m.feeds[key] == f {
			delete(m.feeds, key)
		}
		m.mu.Unlock()
		return fmt.Errorf("%w: watch %v: %v", domain.ErrFeedUnavailable, q.Types, err)
	}

	m.mu.Lock()
	live := m.feeds[key] == f
	if live {
		f.handle = handle
	}
	m.mu.Unlock()
	if !live {
		// Torn down while the watch was opening.
		m.closeHandle(key, handle)
		return nil
	}

	m.logger.Debug("feed opened",
		logger.String("key", key.Short()),
		logger.Strings("types", q.Types))
	return nil
}

// Destroy closes and forgets the feed for key. Unknown keys are a no-op.
func (m *FeedManager) Destroy(key domain.QueryKey) {
	m.mu.Lock()
	f, ok := m.feeds[key]
	delete(m.feeds, key)
	var handle registry.FeedHandle
	if ok {
		handle = f.handle
	}
	m.mu.Unlock()

	if !ok {
		return
	}
	m.closeHandle(key, handle)
	m.logger.Debug("feed closed",
		logger.String("key", key.Short()),
		logger.Duration("lifetime", time.Since(f.OpenedAt)))
}

// DestroyAll closes every feed. Used on shutdown.
func (m *FeedManager) DestroyAll() {
	m.mu.Lock()
	handles := make(map[domain.QueryKey]registry.FeedHandle, len(m.feeds))
	for key, f := range m.feeds {
		handles[key] = f.handle
	}
	m.feeds = make(map[domain.QueryKey]*Feed)
	m.mu.Unlock()

	for key, h := range handles {
		m.closeHandle(key, h)
	}
}

func (m *FeedManager) closeHandle(key domain.QueryKey, h registry.FeedHandle) {
	if h == nil {
		return
	}
	if err := h.Close(); err != nil {
		m.logger.Warn("failed to close feed",
			logger.String("key", key.Short()),
			logger.Error(err))
	}
}

func (m *FeedManager) current(key domain.QueryKey, f *Feed) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.feeds[key] == f
}

func (m *FeedManager) Has(key domain.QueryKey) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	_, ok := m.feeds[key]
	return ok
}

func (m *FeedManager) Len() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.feeds)
}

// Snapshot returns a copy of every open feed.
func (m *FeedManager) Snapshot() []Feed {
	m.mu.Lock()
	defer m.mu.Unlock()

	out := make([]Feed, 0, len(m.feeds))
	for _, f := range m.feeds {
		out = append(out, Feed{Key: f.Key, Query: f.Query, OpenedAt: f.OpenedAt})
	}
	return out
}
