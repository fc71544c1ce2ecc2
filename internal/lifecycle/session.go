package lifecycle

import (
	"context"
	"sync"

	"github.com/MrSnakeDoc/discovery/internal/fanout"
)

// Session is the lifecycle state of one connection. Its context is
// cancelled on disconnect so in-flight work can notice and stop.
type Session struct {
	conn   fanout.Conn
	ctx    context.Context
	cancel context.CancelFunc

	mu        sync.Mutex
	live      bool
	serviceID string
}

func newSession(conn fanout.Conn) *Session {
	ctx, cancel := context.WithCancel(context.Background())
	return &Session{conn: conn, ctx: ctx, cancel: cancel, live: true}
}

func (s *Session) ID() string { return s.conn.ID() }

func (s *Session) Context() context.Context { return s.ctx }

func (s *Session) Live() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.live
}

// ServiceID is the descriptor this connection registered, if any.
func (s *Session) ServiceID() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.serviceID
}

// bind records id as this session's descriptor. It fails once the session is closed
// and returns the id it replaced.
func (s *Session) bind(id string) (prev string, ok bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.live {
		return "", false
	}
	prev, s.serviceID = s.serviceID, id
	return prev, true
}

// close marks the session dead. first is false on repeated calls.
func (s *Session) close() (serviceID string, first bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.live {
		return "", false
	}
	s.live = false
	s.cancel()
	return s.serviceID, true
}
