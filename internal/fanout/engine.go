package fanout

import (
	"context"

	"github.com/MrSnakeDoc/discovery/internal/domain"
	"github.com/MrSnakeDoc/discovery/internal/logger"
	"github.com/MrSnakeDoc/discovery/internal/registry"
	"github.com/MrSnakeDoc/discovery/internal/syncx"
)

// Engine ties the subscription table to the feeds. Every operation on a key
// runs under that key's lock, so "first subscriber" and "last unsubscriber"
// can never both fire for overlapping operations and a feed exists exactly
// when its key has subscribers.
type Engine struct {
	table      *Table
	feeds      *FeedManager
	peers      *Peers
	dispatcher *Dispatcher
	locks      *syncx.KeyedMutex[domain.QueryKey]
	logger     logger.Logger
}

// Stats is a point-in-time view for the infra endpoint.
type Stats struct {
	Connections   int `json:"connections"`
	Queries       int `json:"queries"`
	Feeds         int `json:"feeds"`
	Subscriptions int `json:"subscriptions"`
}

func NewEngine(reg registry.Registry, log logger.Logger) *Engine {
	e := &Engine{
		table:  NewTable(),
		peers:  NewPeers(log),
		locks:  syncx.NewKeyedMutex[domain.QueryKey](),
		logger: log,
	}
	e.dispatcher = NewDispatcher(e.table, e.peers, log)
	e.feeds = NewFeedManager(reg, func(key domain.QueryKey, ev domain.ChangeEvent) {
		e.dispatcher.Dispatch(key, ev)
	}, log)
	return e
}

func (e *Engine) Peers() *Peers { return e.peers }

// Subscribe registers connID's interest in q and makes sure a feed serves it.
// On feed failure the membership is rolled back and the error wraps
// domain.ErrFeedUnavailable.
func (e *Engine) Subscribe(ctx context.Context, connID string, q domain.Query) (domain.QueryKey, error) {
	key, err := q.Key()
	if err != nil {
		return "", err
	}
	q = q.Canonical()

	unlock := e.locks.Lock(key)
	defer unlock()

	if e.table.Subscribe(key, connID) {
		if err := e.feeds.Ensure(ctx, key, q); err != nil {
			e.table.Unsubscribe(key, connID)
			e.logger.Warn("subscribe rolled back",
				logger.String("conn_id", connID),
				logger.String("key", key.Short()),
				logger.Error(err))
			return "", err
		}
	}

	// The connection may have left while we waited for the lock; its cleanup
	// could have missed this membership.
	if _, live := e.peers.Get(connID); !live {
		e.unsubscribeLocked(key, connID)
		return "", ErrConnClosed
	}

	e.logger.Debug("subscribed",
		logger.String("conn_id", connID),
		logger.String("key", key.Short()),
		logger.Strings("types", q.Types))
	return key, nil
}

// Unsubscribe drops connID from key, closing the feed when it was the last member.
func (e *Engine) Unsubscribe(key domain.QueryKey, connID string) {
	unlock := e.locks.Lock(key)
	defer unlock()
	e.unsubscribeLocked(key, connID)
}

func (e *Engine) unsubscribeLocked(key domain.QueryKey, connID string) {
	if e.table.Unsubscribe(key, connID) {
		e.feeds.Destroy(key)
	}
}

// DropConnection removes every membership of connID. Safe to call repeatedly.
func (e *Engine) DropConnection(connID string) {
	for _, key := range e.table.KeysOf(connID) {
		e.Unsubscribe(key, connID)
	}
}

// Dispatch pushes ev to the subscribers of key.
func (e *Engine) Dispatch(key domain.QueryKey, ev domain.ChangeEvent) int {
	return e.dispatcher.Dispatch(key, ev)
}

func (e *Engine) HasFeed(key domain.QueryKey) bool { return e.feeds.Has(key) }

func (e *Engine) Subscribers(key domain.QueryKey) []string { return e.table.SubscribersOf(key) }

func (e *Engine) Feeds() []Feed { return e.feeds.Snapshot() }

func (e *Engine) Stats() Stats {
	return Stats{
		Connections:   e.peers.Len(),
		Queries:       e.table.Len(),
		Feeds:         e.feeds.Len(),
		Subscriptions: e.table.Subscriptions(),
	}
}

// Close tears down every feed.
func (e *Engine) Close() {
	e.feeds.DestroyAll()
}
