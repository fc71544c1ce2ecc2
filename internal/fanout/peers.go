// Package fanout groups connections by query, keeps one registry watch per
// distinct query and pushes every change to the connections interested in it.
package fanout

import (
	"errors"
	"sync"

	"github.com/MrSnakeDoc/discovery/internal/logger"
)

// ErrConnClosed is returned by Conn.Emit once the connection is gone.
var ErrConnClosed = errors.New("connection closed")

// Conn is a client session able to receive named events.
type Conn interface {
	ID() string
	Emit(event string, payload any) error
}

// Peers tracks every live connection by id.
type Peers struct {
	mu     sync.RWMutex
	conns  map[string]Conn
	logger logger.Logger
}

func NewPeers(log logger.Logger) *Peers {
	return &Peers{conns: make(map[string]Conn), logger: log}
}

func (p *Peers) Add(c Conn) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.conns[c.ID()] = c
}

// Remove forgets a connection. It reports whether the id was known.
func (p *Peers) Remove(id string) bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	_, ok := p.conns[id]
	delete(p.conns, id)
	return ok
}

func (p *Peers) Get(id string) (Conn, bool) {
	p.mu.RLock()
	defer p.mu.RUnlock()
	c, ok := p.conns[id]
	return c, ok
}

func (p *Peers) Len() int {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return len(p.conns)
}

// Broadcast emits to every connection except exceptID. Delivery is best
// effort; it returns how many connections accepted the event.
func (p *Peers) Broadcast(exceptID, event string, payload any) int {
	p.mu.RLock()
	targets := make([]Conn, 0, len(p.conns))
	for id, c := range p.conns {
		if id != exceptID {
			targets = append(targets, c)
		}
	}
	p.mu.RUnlock()

	sent := 0
	for _, c := range targets {
		if err := c.Emit(event, payload); err != nil {
			p.logger.Debug("broadcast delivery failed",
				logger.String("conn_id", c.ID()),
				logger.String("event", event),
				logger.Error(err))
			continue
		}
		sent++
	}
	return sent
}
