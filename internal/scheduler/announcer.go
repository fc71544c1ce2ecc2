package scheduler

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/MrSnakeDoc/discovery/internal/announce"
	"github.com/MrSnakeDoc/discovery/internal/domain"
	"github.com/MrSnakeDoc/discovery/internal/logger"
)

// Registrar writes a descriptor keyed by its endpoint.
type Registrar interface {
	Upsert(ctx context.Context, d *domain.Descriptor) (*domain.Descriptor, error)
}

// Deleter removes a descriptor by id.
type Deleter interface {
	Delete(ctx context.Context, id string) error
}

// Announcer keeps the registry's own descriptor registered. The file is
// re-read on every pass so edits show up without a restart. With the
// lifecycle handler as registrar and deleter, every announce and the final
// withdraw broadcast refresh_event like connection-driven writes do.
type Announcer struct {
	loader    *announce.Loader
	endpoint  string
	registrar Registrar
	deleter   Deleter
	logger    logger.Logger
	interval  time.Duration
	now       func() time.Time
	trigger   <-chan struct{}
	stopCh    chan struct{}
	stopOnce  sync.Once
	wg        sync.WaitGroup

	mu sync.Mutex
	id string
}

func NewAnnouncer(
	announceFile string,
	endpoint string,
	registrar Registrar,
	deleter Deleter,
	log logger.Logger,
	interval time.Duration,
	manualTrigger <-chan struct{},
) *Announcer {
	return &Announcer{
		loader:    announce.NewLoader(announceFile),
		endpoint:  endpoint,
		registrar: registrar,
		deleter:   deleter,
		logger:    log,
		interval:  interval,
		now:       time.Now,
		trigger:   manualTrigger,
		stopCh:    make(chan struct{}),
	}
}

// Start announces once, then every interval. A broken announce file fails
// Start; registry errors are only logged and retried on the next tick.
func (a *Announcer) Start(ctx context.Context) error {
	if _, err := a.loader.Load(); err != nil {
		return fmt.Errorf("initial announce failed: %w", err)
	}
	if a.interval <= 0 {
		return fmt.Errorf("announce interval must be positive, got %s", a.interval)
	}

	if err := a.Announce(ctx); err != nil {
		a.logger.Warn("initial announce failed, will retry",
			logger.Error(err))
	}

	ticker := time.NewTicker(a.interval)
	a.wg.Add(1)
	go func() {
		defer a.wg.Done()
		defer ticker.Stop()
		for {
			select {
			case <-ticker.C:
				if err := a.Announce(ctx); err != nil {
					a.logger.Error("failed to announce",
						logger.Error(err))
				}
			case <-a.trigger:
				a.logger.Info("manual announce triggered")
				if err := a.Announce(ctx); err != nil {
					a.logger.Error("failed to announce",
						logger.Error(err))
				}
			case <-a.stopCh:
				return
			case <-ctx.Done():
				return
			}
		}
	}()

	return nil
}

// Stop ends the periodic announce and waits for a running one.
func (a *Announcer) Stop() {
	a.stopOnce.Do(func() { close(a.stopCh) })
	a.wg.Wait()
}

// Announce registers (or refreshes) the descriptor once.
func (a *Announcer) Announce(ctx context.Context) error {
	f, err := a.loader.Load()
	if err != nil {
		return err
	}

	saved, err := a.registrar.Upsert(ctx, announce.Descriptor(f, a.endpoint, a.now()))
	if err != nil {
		return fmt.Errorf("failed to register self: %w", err)
	}

	a.mu.Lock()
	first := a.id == ""
	a.id = saved.ID
	a.mu.Unlock()

	if first {
		a.logger.Info("announced self",
			logger.String("id", saved.ID),
			logger.String("type", saved.Type),
			logger.String("endpoint", saved.Endpoint))
	} else {
		a.logger.Debug("re-announced self", logger.String("id", saved.ID))
	}
	return nil
}

// Withdraw deletes the announced descriptor. It is a no-op before the first announce.
func (a *Announcer) Withdraw(ctx context.Context) error {
	a.mu.Lock()
	id := a.id
	a.id = ""
	a.mu.Unlock()

	if id == "" {
		return nil
	}
	if err := a.deleter.Delete(ctx, id); err != nil {
		return fmt.Errorf("failed to withdraw self: %w", err)
	}
	a.logger.Info("withdrew self", logger.String("id", id))
	return nil
}

// ID is the id of the announced descriptor, empty before the first announce.
func (a *Announcer) ID() string {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.id
}
