package scheduler

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/MrSnakeDoc/discovery/internal/domain"
	"github.com/MrSnakeDoc/discovery/internal/logger"
	"github.com/MrSnakeDoc/discovery/internal/registry"
)

const (
	// DefaultReapThreshold is how long a descriptor may stay Offline before it is deleted.
	DefaultReapThreshold = 10 * time.Minute
)

// Reaper deletes descriptors that have been Offline for too long. Deletes go
// through deleter; with the lifecycle handler, subscribers see service.removed
// and every connection gets refresh_event.
type Reaper struct {
	registry  registry.Registry
	deleter   Deleter
	logger    logger.Logger
	interval  time.Duration
	threshold time.Duration
	now       func() time.Time
	stopCh    chan struct{}
	stopOnce  sync.Once
	wg        sync.WaitGroup
}

func NewReaper(
	reg registry.Registry,
	deleter Deleter,
	log logger.Logger,
	interval time.Duration,
	threshold time.Duration,
) *Reaper {
	if threshold == 0 {
		threshold = DefaultReapThreshold
	}

	if deleter == nil {
		deleter = reg
	}

	return &Reaper{
		registry:  reg,
		deleter:   deleter,
		logger:    log,
		interval:  interval,
		threshold: threshold,
		now:       time.Now,
		stopCh:    make(chan struct{}),
	}
}

// Start runs a first pass, then one every interval.
func (rp *Reaper) Start(ctx context.Context) error {
	if rp.interval <= 0 {
		return fmt.Errorf("reaper interval must be positive, got %s", rp.interval)
	}

	if _, err := rp.Collect(ctx); err != nil {
		rp.logger.Warn("initial reap failed",
			logger.Error(err))
	}

	ticker := time.NewTicker(rp.interval)
	rp.wg.Add(1)
	go func() {
		defer rp.wg.Done()
		defer ticker.Stop()
		for {
			select {
			case <-ticker.C:
				if _, err := rp.Collect(ctx); err != nil {
					rp.logger.Error("reap failed",
						logger.Error(err))
				}
			case <-rp.stopCh:
				return
			case <-ctx.Done():
				return
			}
		}
	}()

	return nil
}

// Stop ends the periodic pass and waits for a running one.
func (rp *Reaper) Stop() {
	rp.stopOnce.Do(func() { close(rp.stopCh) })
	rp.wg.Wait()
}

// Collect deletes every descriptor Offline for at least the threshold and
// returns how many went away.
func (rp *Reaper) Collect(ctx context.Context) (int, error) {
	all, err := rp.registry.All(ctx)
	if err != nil {
		return 0, fmt.Errorf("list descriptors: %w", err)
	}

	now := rp.now()
	deleted := 0
	for _, d := range all {
		if d.Status != domain.StatusOffline || d.UpdatedAt.IsZero() {
			continue
		}

		offlineFor := now.Sub(d.UpdatedAt)
		if offlineFor < rp.threshold {
			continue
		}

		if err := rp.deleter.Delete(ctx, d.ID); err != nil {
			rp.logger.Warn("failed to reap service",
				logger.String("service_id", d.ID),
				logger.Error(err))
			continue
		}

		rp.logger.Info("reaped offline service",
			logger.String("service_id", d.ID),
			logger.String("type", d.Type),
			logger.String("endpoint", d.Endpoint),
			logger.String("offline_for", offlineFor.String()))
		deleted++
	}

	if deleted == 0 {
		rp.logger.Debug("nothing to reap")
	}
	return deleted, nil
}
