// Package lifecycle turns connection events into registry writes, feed
// memberships and refresh notifications.
package lifecycle

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/MrSnakeDoc/discovery/internal/domain"
	"github.com/MrSnakeDoc/discovery/internal/fanout"
	"github.com/MrSnakeDoc/discovery/internal/logger"
	"github.com/MrSnakeDoc/discovery/internal/registry"
	"github.com/MrSnakeDoc/discovery/internal/syncx"
)

// Validator accepts or refuses an announced descriptor.
type Validator interface {
	Validate(ctx context.Context, d *domain.Descriptor) error
}

type Option func(*Handler)

// WithPageSize sets the page size used to build the init snapshot.
func WithPageSize(n int) Option {
	return func(h *Handler) {
		if n > 0 {
			h.pageSize = n
		}
	}
}

// WithCleanupTimeout bounds the registry calls made on disconnect.
func WithCleanupTimeout(d time.Duration) Option {
	return func(h *Handler) {
		if d > 0 {
			h.cleanupTimeout = d
		}
	}
}

func WithClock(now func() time.Time) Option {
	return func(h *Handler) { h.now = now }
}

type Handler struct {
	registry  registry.Registry
	engine    *fanout.Engine
	validator Validator
	logger    logger.Logger

	byEndpoint *syncx.KeyedMutex[string]
	byService  *syncx.KeyedMutex[string]

	// owners maps a service id to the connection that registered it last.
	mu     sync.Mutex
	owners map[string]string

	pageSize       int
	cleanupTimeout time.Duration
	now            func() time.Time
}

func New(reg registry.Registry, engine *fanout.Engine, validator Validator, log logger.Logger, opts ...Option) *Handler {
	h := &Handler{
		registry:       reg,
		engine:         engine,
		validator:      validator,
		logger:         log,
		byEndpoint:     syncx.NewKeyedMutex[string](),
		byService:      syncx.NewKeyedMutex[string](),
		owners:         make(map[string]string),
		pageSize:       registry.DefaultPageSize,
		cleanupTimeout: 5 * time.Second,
		now:            time.Now,
	}
	for _, opt := range opts {
		opt(h)
	}
	return h
}

// Connect makes conn reachable for dispatch and broadcasts.
func (h *Handler) Connect(conn fanout.Conn) *Session {
	h.engine.Peers().Add(conn)
	h.logger.Debug("connection opened", logger.String("conn_id", conn.ID()))
	return newSession(conn)
}

func (h *Handler) Subscribe(ctx context.Context, s *Session, req SubscribeRequest) error {
	_, err := h.engine.Subscribe(ctx, s.ID(), domain.Query{Types: req.Types})
	return err
}

// Init registers the caller's descriptor, if any, then pushes a snapshot of
// every descriptor matching req.Types.
func (h *Handler) Init(ctx context.Context, s *Session, req InitRequest) error {
	if req.Descriptor != nil {
		if err := h.register(ctx, s, req.Descriptor.Clone()); err != nil {
			return err
		}
	}

	if len(req.Types) == 0 {
		return nil
	}

	found, err := registry.CollectByTypes(ctx, h.registry, req.Types, h.pageSize)
	if err != nil {
		h.logger.Warn("init snapshot incomplete",
			logger.String("conn_id", s.ID()),
			logger.Strings("types", req.Types),
			logger.Error(err))
	}
	for _, d := range found {
		if err := s.conn.Emit(domain.EventServiceInit, d); err != nil {
			h.logger.Debug("init snapshot aborted",
				logger.String("conn_id", s.ID()),
				logger.Error(err))
			return nil
		}
	}
	return nil
}

func (h *Handler) register(ctx context.Context, s *Session, d *domain.Descriptor) error {
	if err := h.validator.Validate(s.Context(), d); err != nil {
		if !s.Live() {
			return nil
		}
		return err
	}
	if !s.Live() {
		h.logger.Debug("discarding registration of closed connection",
			logger.String("conn_id", s.ID()),
			logger.String("endpoint", d.Endpoint))
		return nil
	}

	saved, err := h.upsert(ctx, d, s.ID())
	if err != nil {
		return err
	}

	prev, ok := s.bind(saved.ID)
	if !ok {
		// Disconnect already ran and could not see this descriptor.
		h.removeOwned(saved.ID, s.ID())
		return nil
	}
	if prev != "" && prev != saved.ID {
		// A connection owns one descriptor; the one it moved away from goes.
		h.removeOwned(prev, s.ID())
	}

	h.engine.Peers().Broadcast(s.ID(), domain.EventRefresh, domain.RefreshNotice{ServiceID: saved.ID})
	h.logger.Info("service registered",
		logger.String("id", saved.ID),
		logger.String("type", saved.Type),
		logger.String("endpoint", saved.Endpoint),
		logger.String("conn_id", s.ID()))
	return nil
}

// Upsert stores d keyed by its endpoint without binding it to a connection,
// then broadcasts refresh_event to every connection. An existing record
// keeps its id and metrics; every other field comes from d.
func (h *Handler) Upsert(ctx context.Context, d *domain.Descriptor) (*domain.Descriptor, error) {
	saved, err := h.upsert(ctx, d, "")
	if err != nil {
		return nil, err
	}
	h.engine.Peers().Broadcast("", domain.EventRefresh, domain.RefreshNotice{ServiceID: saved.ID})
	return saved, nil
}

// Remove deletes id whichever connection owns it and broadcasts
// refresh_event to every connection. Unknown ids are a no-op.
func (h *Handler) Remove(ctx context.Context, id string) error {
	unlock := h.byService.Lock(id)
	defer unlock()

	if _, err := h.registry.FindByID(ctx, id); errors.Is(err, domain.ErrNotFound) {
		return nil
	} else if err != nil {
		return err
	}

	h.mu.Lock()
	delete(h.owners, id)
	h.mu.Unlock()

	if err := h.registry.Delete(ctx, id); err != nil {
		return err
	}

	h.engine.Peers().Broadcast("", domain.EventRefresh, domain.RefreshNotice{ServiceID: id})
	h.logger.Info("service removed", logger.String("id", id))
	return nil
}

// upsert writes d and, when owner is set, hands ownership to that connection
// while the endpoint is still locked.
func (h *Handler) upsert(ctx context.Context, d *domain.Descriptor, owner string) (*domain.Descriptor, error) {
	unlock := h.byEndpoint.Lock(d.Endpoint)
	defer unlock()

	if d.Status == "" {
		d.Status = domain.StatusOnline
	}
	if d.Timestamp.IsZero() {
		d.Timestamp = h.now()
	}

	var saved *domain.Descriptor
	existing, err := h.registry.FindByEndpoint(ctx, d.Endpoint)
	switch {
	case errors.Is(err, domain.ErrNotFound):
		d.ID = ""
		saved, err = h.registry.Save(ctx, d)
	case err != nil:
		return nil, err
	default:
		d.ID = existing.ID
		if len(d.RTimes) == 0 {
			d.RTimes = existing.RTimes
			d.AvgTime = existing.AvgTime
		}
		saved, err = h.registry.Update(ctx, d)
	}
	if err != nil {
		return nil, err
	}

	if owner != "" {
		h.mu.Lock()
		h.owners[saved.ID] = owner
		h.mu.Unlock()
	}
	return saved, nil
}

func (h *Handler) Online(ctx context.Context, s *Session, req StatusRequest) error {
	return h.setStatus(ctx, s, req.ServiceID, domain.StatusOnline)
}

func (h *Handler) Offline(ctx context.Context, s *Session, req StatusRequest) error {
	return h.setStatus(ctx, s, req.ServiceID, domain.StatusOffline)
}

func (h *Handler) setStatus(ctx context.Context, s *Session, id string, status domain.Status) error {
	unlock := h.byService.Lock(id)
	defer unlock()

	d, err := h.registry.FindByID(ctx, id)
	if errors.Is(err, domain.ErrNotFound) {
		h.logger.Debug("status change for unknown service",
			logger.String("id", id),
			logger.String("status", string(status)))
		return nil
	}
	if err != nil {
		return err
	}

	d.Status = status
	if _, err := h.registry.Update(ctx, d); err != nil {
		return err
	}

	h.engine.Peers().Broadcast(s.ID(), domain.EventRefresh, domain.RefreshNotice{ServiceID: d.ID})
	h.logger.Info("service status changed",
		logger.String("id", d.ID),
		logger.String("status", string(status)))
	return nil
}

// Metrics folds a sample into the service's rolling window.
func (h *Handler) Metrics(ctx context.Context, _ *Session, req MetricsRequest) error {
	if req.Type != domain.MetricResponseTime {
		h.logger.Debug("ignoring metric", logger.String("type", req.Type))
		return nil
	}

	unlock := h.byService.Lock(req.ServiceID)
	defer unlock()

	d, err := h.registry.FindByID(ctx, req.ServiceID)
	if errors.Is(err, domain.ErrNotFound) {
		h.logger.Debug("metric for unknown service", logger.String("id", req.ServiceID))
		return nil
	}
	if err != nil {
		return err
	}

	d.RecordResponseTime(req.Value)
	if _, err := h.registry.Update(ctx, d); err != nil {
		return fmt.Errorf("record %s: %w", req.Type, err)
	}
	return nil
}

// Disconnect tears a connection down. It is idempotent and every step runs
// even when an earlier one fails.
func (h *Handler) Disconnect(s *Session) {
	serviceID, first := s.close()
	if !first {
		return
	}

	h.engine.Peers().Remove(s.ID())
	h.engine.DropConnection(s.ID())

	if serviceID != "" {
		h.removeOwned(serviceID, s.ID())
	}
	h.logger.Debug("connection closed", logger.String("conn_id", s.ID()))
}

// removeOwned deletes id if connID still owns it and tells everybody else.
func (h *Handler) removeOwned(id, connID string) {
	if !h.release(id, connID) {
		h.logger.Debug("service owned by another connection, keeping it",
			logger.String("id", id),
			logger.String("conn_id", connID))
		return
	}

	ctx, cancel := context.WithTimeout(context.Background(), h.cleanupTimeout)
	defer cancel()

	if err := h.registry.Delete(ctx, id); err != nil {
		h.logger.Error("failed to remove service of closed connection",
			logger.String("id", id),
			logger.String("conn_id", connID),
			logger.Error(err))
		return
	}

	h.engine.Peers().Broadcast(connID, domain.EventRefresh, domain.RefreshNotice{ServiceID: id})
	h.logger.Info("service deregistered",
		logger.String("id", id),
		logger.String("conn_id", connID))
}

// release drops the ownership record of id when connID holds it.
func (h *Handler) release(id, connID string) bool {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.owners[id] != connID {
		return false
	}
	delete(h.owners, id)
	return true
}

// Owned returns how many services are bound to a live connection.
func (h *Handler) Owned() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.owners)
}
