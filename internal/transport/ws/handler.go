// Package ws carries the discovery protocol over websocket connections.
package ws

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"golang.org/x/time/rate"

	"github.com/MrSnakeDoc/discovery/internal/domain"
	"github.com/MrSnakeDoc/discovery/internal/lifecycle"
	"github.com/MrSnakeDoc/discovery/internal/logger"
)

type Options struct {
	SendBuffer     int
	Rate           float64 // inbound messages per second
	Burst          int
	WriteWait      time.Duration
	PongWait       time.Duration
	PingPeriod     time.Duration
	MaxMessageSize int64
}

func (o Options) withDefaults() Options {
	if o.SendBuffer <= 0 {
		o.SendBuffer = 64
	}
	if o.Rate <= 0 {
		o.Rate = 20
	}
	if o.Burst <= 0 {
		o.Burst = 40
	}
	if o.WriteWait <= 0 {
		o.WriteWait = 10 * time.Second
	}
	if o.PongWait <= 0 {
		o.PongWait = 60 * time.Second
	}
	if o.PingPeriod <= 0 || o.PingPeriod >= o.PongWait {
		o.PingPeriod = o.PongWait * 9 / 10
	}
	if o.MaxMessageSize <= 0 {
		o.MaxMessageSize = 64 << 10
	}
	return o
}

// Handler upgrades requests and runs one read loop per connection.
type Handler struct {
	lifecycle *lifecycle.Handler
	upgrader  websocket.Upgrader
	opts      Options
	logger    logger.Logger

	mu    sync.Mutex
	conns map[string]*Conn
	wg    sync.WaitGroup
}

func NewHandler(lc *lifecycle.Handler, opts Options, log logger.Logger) *Handler {
	return &Handler{
		lifecycle: lc,
		opts:      opts.withDefaults(),
		logger:    log,
		conns:     make(map[string]*Conn),
		upgrader: websocket.Upgrader{
			ReadBufferSize:  4096,
			WriteBufferSize: 4096,
			// Peers are services, not browsers; host and CIDR filtering happen in middleware.
			CheckOrigin: func(*http.Request) bool { return true },
		},
	}
}

func (h *Handler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	wsConn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.logger.Debug("websocket upgrade failed", logger.Error(err))
		return
	}

	conn := newConn(uuid.NewString(), wsConn, h.opts, h.logger)
	h.track(conn)
	defer h.untrack(conn)

	session := h.lifecycle.Connect(conn)
	go conn.writePump()

	conn.logger.Info("client connected", logger.String("remote_ip", r.RemoteAddr))

	// Requests of one connection are handled in order by a single worker so
	// the read loop keeps watching the socket while a request is in flight.
	inbox := make(chan Envelope, h.opts.Burst)
	worked := make(chan struct{})
	go func() {
		defer close(worked)
		for env := range inbox {
			h.handle(conn, session, env)
		}
	}()

	h.readLoop(conn, inbox)
	close(inbox)

	h.lifecycle.Disconnect(session)
	<-worked
	conn.Close()
	conn.logger.Info("client disconnected")
}

func (h *Handler) track(c *Conn) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.conns[c.ID()] = c
	h.wg.Add(1)
}

func (h *Handler) untrack(c *Conn) {
	h.mu.Lock()
	delete(h.conns, c.ID())
	h.mu.Unlock()
	h.wg.Done()
}

// CloseAll closes every open connection and waits for their teardown.
func (h *Handler) CloseAll() {
	h.mu.Lock()
	open := make([]*Conn, 0, len(h.conns))
	for _, c := range h.conns {
		open = append(open, c)
	}
	h.mu.Unlock()

	for _, c := range open {
		c.Close()
	}
	h.wg.Wait()
}

// Len returns the number of open connections.
func (h *Handler) Len() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.conns)
}

func (h *Handler) readLoop(conn *Conn, inbox chan<- Envelope) {
	ws := conn.ws
	ws.SetReadLimit(h.opts.MaxMessageSize)
	_ = ws.SetReadDeadline(time.Now().Add(h.opts.PongWait))
	ws.SetPongHandler(func(string) error {
		return ws.SetReadDeadline(time.Now().Add(h.opts.PongWait))
	})

	limiter := rate.NewLimiter(rate.Limit(h.opts.Rate), h.opts.Burst)

	for {
		_, raw, err := ws.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
				conn.logger.Debug("read failed", logger.Error(err))
			}
			return
		}
		_ = ws.SetReadDeadline(time.Now().Add(h.opts.PongWait))

		var env Envelope
		if err := json.Unmarshal(raw, &env); err != nil || env.Event == "" {
			h.reject(conn, "", domain.CodeInvalidQuery, "malformed frame")
			continue
		}
		if !limiter.Allow() {
			h.reject(conn, env.Event, domain.CodeRateLimited, "too many messages")
			continue
		}

		select {
		case inbox <- env:
		default:
			h.reject(conn, env.Event, domain.CodeRateLimited, "too many pending requests")
		}
	}
}

func (h *Handler) handle(conn *Conn, session *lifecycle.Session, env Envelope) {
	if !session.Live() {
		return
	}
	err := h.route(session.Context(), session, env)
	if err == nil {
		return
	}
	var rej *domain.Rejection
	if !errors.As(err, &rej) {
		rej = domain.Reject(env.Event, err)
	}
	conn.logger.Debug("request rejected",
		logger.String("event", rej.Event),
		logger.String("code", rej.Code),
		logger.String("reason", rej.Reason))
	_ = conn.Emit(domain.EventRejected, rej)
}

func (h *Handler) route(ctx context.Context, s *lifecycle.Session, env Envelope) error {
	switch env.Event {
	case lifecycle.EventSubscribe:
		var req lifecycle.SubscribeRequest
		if err := decode(env, &req); err != nil {
			return err
		}
		return h.lifecycle.Subscribe(ctx, s, req)
	case lifecycle.EventInit:
		var req lifecycle.InitRequest
		if err := decode(env, &req); err != nil {
			return err
		}
		return h.lifecycle.Init(ctx, s, req)
	case lifecycle.EventOnline, lifecycle.EventOffline:
		var req lifecycle.StatusRequest
		if err := decode(env, &req); err != nil {
			return err
		}
		if env.Event == lifecycle.EventOnline {
			return h.lifecycle.Online(ctx, s, req)
		}
		return h.lifecycle.Offline(ctx, s, req)
	case lifecycle.EventMetrics:
		var req lifecycle.MetricsRequest
		if err := decode(env, &req); err != nil {
			return err
		}
		return h.lifecycle.Metrics(ctx, s, req)
	default:
		return &domain.Rejection{Event: env.Event, Code: domain.CodeUnknownEvent, Reason: "unknown event"}
	}
}

func decode(env Envelope, v any) error {
	if len(env.Data) == 0 {
		return fmt.Errorf("%w: %s carries no data", domain.ErrInvalidQuery, env.Event)
	}
	if err := json.Unmarshal(env.Data, v); err != nil {
		return fmt.Errorf("%w: %s: %v", domain.ErrInvalidQuery, env.Event, err)
	}
	return nil
}

func (h *Handler) reject(conn *Conn, event, code, reason string) {
	_ = conn.Emit(domain.EventRejected, &domain.Rejection{Event: event, Code: code, Reason: reason})
}
