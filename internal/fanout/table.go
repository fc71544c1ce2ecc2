package fanout

import (
	"sync"

	"github.com/MrSnakeDoc/discovery/internal/domain"
)

// subscriberSet keeps insertion order for deterministic fan-out.
type subscriberSet struct {
	order []string
	index map[string]struct{}
}

func (s *subscriberSet) add(id string) bool {
	if _, ok := s.index[id]; ok {
		return false
	}
	s.index[id] = struct{}{}
	s.order = append(s.order, id)
	return true
}

func (s *subscriberSet) remove(id string) bool {
	if _, ok := s.index[id]; !ok {
		return false
	}
	delete(s.index, id)
	for i, v := range s.order {
		if v == id {
			s.order = append(s.order[:i], s.order[i+1:]...)
			break
		}
	}
	return true
}

// Table maps query keys to the connections subscribed to them, plus the
// reverse index used to clean up after a disconnect. A key with no members
// is never stored.
type Table struct {
	mu     sync.RWMutex
	byKey  map[domain.QueryKey]*subscriberSet
	byConn map[string]map[domain.QueryKey]struct{}
}

func NewTable() *Table {
	return &Table{
		byKey:  make(map[domain.QueryKey]*subscriberSet),
		byConn: make(map[string]map[domain.QueryKey]struct{}),
	}
}

// Subscribe adds connID to key. created is true only when key had no members.
// Re-subscribing an existing member is a no-op.
func (t *Table) Subscribe(key domain.QueryKey, connID string) (created bool) {
	t.mu.Lock()
	defer t.mu.Unlock()

	set, ok := t.byKey[key]
	if !ok {
		set = &subscriberSet{index: make(map[string]struct{})}
		t.byKey[key] = set
		created = true
	}
	if set.add(connID) {
		keys := t.byConn[connID]
		if keys == nil {
			keys = make(map[domain.QueryKey]struct{})
			t.byConn[connID] = keys
		}
		keys[key] = struct{}{}
	}
	return created
}

// Unsubscribe removes connID from key. emptied is true when that removal
// deleted the last member, in which case key itself is gone.
func (t *Table) Unsubscribe(key domain.QueryKey, connID string) (emptied bool) {
	t.mu.Lock()
	defer t.mu.Unlock()

	set, ok := t.byKey[key]
	if !ok || !set.remove(connID) {
		return false
	}

	if keys := t.byConn[connID]; keys != nil {
		delete(keys, key)
		if len(keys) == 0 {
			delete(t.byConn, connID)
		}
	}

	if len(set.order) == 0 {
		delete(t.byKey, key)
		return true
	}
	return false
}

// SubscribersOf returns a snapshot of key's members in subscription order.
func (t *Table) SubscribersOf(key domain.QueryKey) []string {
	t.mu.RLock()
	defer t.mu.RUnlock()

	set, ok := t.byKey[key]
	if !ok {
		return nil
	}
	return append([]string(nil), set.order...)
}

// KeysOf returns every key connID is subscribed to.
func (t *Table) KeysOf(connID string) []domain.QueryKey {
	t.mu.RLock()
	defer t.mu.RUnlock()

	keys := make([]domain.QueryKey, 0, len(t.byConn[connID]))
	for k := range t.byConn[connID] {
		keys = append(keys, k)
	}
	return keys
}

// Has reports whether key currently has members.
func (t *Table) Has(key domain.QueryKey) bool {
	t.mu.RLock()
	defer t.mu.RUnlock()
	_, ok := t.byKey[key]
	return ok
}

// Len returns the number of distinct keys.
func (t *Table) Len() int {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return len(t.byKey)
}

// Count returns how many connections are subscribed to key.
func (t *Table) Count(key domain.QueryKey) int {
	t.mu.RLock()
	defer t.mu.RUnlock()
	if set, ok := t.byKey[key]; ok {
		return len(set.order)
	}
	return 0
}

// Subscriptions returns the total number of (key, connection) memberships.
func (t *Table) Subscriptions() int {
	t.mu.RLock()
	defer t.mu.RUnlock()

	n := 0
	for _, set := range t.byKey {
		n += len(set.order)
	}
	return n
}
