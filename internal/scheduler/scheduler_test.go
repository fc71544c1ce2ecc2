package scheduler

import (
	"context"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/MrSnakeDoc/discovery/internal/announce"
	"github.com/MrSnakeDoc/discovery/internal/domain"
	"github.com/MrSnakeDoc/discovery/internal/fanout"
	"github.com/MrSnakeDoc/discovery/internal/lifecycle"
	"github.com/MrSnakeDoc/discovery/internal/logger"
	"github.com/MrSnakeDoc/discovery/internal/registry/memory"
)

func TestReaper_Collect(t *testing.T) {
	now := time.Now()
	ctx := context.Background()

	clock := now
	reg := memory.New(memory.WithClock(func() time.Time { return clock }))

	save := func(endpoint string, status domain.Status, age time.Duration) *domain.Descriptor {
		clock = now.Add(-age)
		d, err := reg.Save(ctx, &domain.Descriptor{Type: "Foo", Endpoint: endpoint, Status: status})
		require.NoError(t, err)
		return d
	}

	online := save("http://online", domain.StatusOnline, time.Hour)
	recent := save("http://recent", domain.StatusOffline, 2*time.Minute)
	stale := save("http://stale", domain.StatusOffline, 30*time.Minute)
	clock = now

	rp := NewReaper(reg, reg, logger.Nop(), time.Minute, 10*time.Minute)
	deleted, err := rp.Collect(ctx)
	require.NoError(t, err)
	require.Equal(t, 1, deleted)

	_, err = reg.FindByID(ctx, online.ID)
	require.NoError(t, err)
	_, err = reg.FindByID(ctx, recent.ID)
	require.NoError(t, err)
	_, err = reg.FindByID(ctx, stale.ID)
	require.ErrorIs(t, err, domain.ErrNotFound)
}

func TestReaper_DefaultThreshold(t *testing.T) {
	rp := NewReaper(memory.New(), nil, logger.Nop(), time.Minute, 0)
	require.Equal(t, DefaultReapThreshold, rp.threshold)
}

func TestReaper_StartStop(t *testing.T) {
	rp := NewReaper(memory.New(), nil, logger.Nop(), 10*time.Millisecond, time.Minute)
	require.NoError(t, rp.Start(context.Background()))
	time.Sleep(30 * time.Millisecond)
	rp.Stop()
	rp.Stop()

	require.Error(t, NewReaper(memory.New(), nil, logger.Nop(), 0, time.Minute).Start(context.Background()))
}

func TestReaper_DeleteNotifiesSubscribers(t *testing.T) {
	ctx := context.Background()
	clock := time.Now().Add(-time.Hour)
	reg := memory.New(memory.WithClock(func() time.Time { return clock }))

	removed := make(chan string, 1)
	feed, err := reg.Watch(ctx, []string{"Foo"}, func(ev domain.ChangeEvent) {
		if ev.Kind == domain.ChangeRemoved {
			removed <- ev.Descriptor.ID
		}
	})
	require.NoError(t, err)
	defer func() { _ = feed.Close() }()

	d, err := reg.Save(ctx, &domain.Descriptor{Type: "Foo", Endpoint: "http://gone", Status: domain.StatusOffline})
	require.NoError(t, err)

	rp := NewReaper(reg, reg, logger.Nop(), time.Minute, time.Minute)
	rp.now = func() time.Time { return clock.Add(time.Hour) }
	_, err = rp.Collect(ctx)
	require.NoError(t, err)

	select {
	case id := <-removed:
		require.Equal(t, d.ID, id)
	case <-time.After(time.Second):
		t.Fatal("no removal delivered")
	}
}

func newLifecycle(t *testing.T) (*memory.Registry, *lifecycle.Handler) {
	t.Helper()
	reg := memory.New()
	engine := fanout.NewEngine(reg, logger.Nop())
	t.Cleanup(engine.Close)
	return reg, lifecycle.New(reg, engine, nil, logger.Nop())
}

func TestAnnouncer_AnnounceAndWithdraw(t *testing.T) {
	reg, lc := newLifecycle(t)
	ctx := context.Background()

	a := NewAnnouncer("", "http://10.0.0.1:8080", lc, lc, logger.Nop(), time.Minute, nil)
	require.NoError(t, a.Withdraw(ctx), "withdraw before announce is a no-op")

	require.NoError(t, a.Announce(ctx))
	id := a.ID()
	require.NotEmpty(t, id)

	// re-announcing keeps one record
	require.NoError(t, a.Announce(ctx))
	require.Equal(t, id, a.ID())
	require.Equal(t, 1, reg.Count())

	d, err := reg.FindByID(ctx, id)
	require.NoError(t, err)
	require.Equal(t, announce.DefaultType, d.Type)
	require.Equal(t, "http://10.0.0.1:8080", d.Endpoint)

	require.NoError(t, a.Withdraw(ctx))
	require.Equal(t, 0, reg.Count())
	require.Empty(t, a.ID())
}

func TestAnnouncer_PicksUpFileChanges(t *testing.T) {
	reg, lc := newLifecycle(t)
	ctx := context.Background()
	path := filepath.Join(t.TempDir(), "announce.yaml")
	require.NoError(t, os.WriteFile(path, []byte("version: 1.0.0\n"), 0o644))

	a := NewAnnouncer(path, "http://self", lc, lc, logger.Nop(), time.Minute, nil)
	require.NoError(t, a.Announce(ctx))

	require.NoError(t, os.WriteFile(path, []byte("version: 1.1.0\n"), 0o644))
	require.NoError(t, a.Announce(ctx))

	d, err := reg.FindByID(ctx, a.ID())
	require.NoError(t, err)
	require.Equal(t, "1.1.0", d.Version)
}

func TestAnnouncer_StartFailsOnBrokenFile(t *testing.T) {
	_, lc := newLifecycle(t)
	path := filepath.Join(t.TempDir(), "announce.yaml")
	require.NoError(t, os.WriteFile(path, []byte("unknown: field\n"), 0o644))

	a := NewAnnouncer(path, "http://self", lc, lc, logger.Nop(), time.Minute, nil)
	require.Error(t, a.Start(context.Background()))
}

func TestAnnouncer_StartStop(t *testing.T) {
	reg, lc := newLifecycle(t)
	a := NewAnnouncer("", "http://self", lc, lc, logger.Nop(), 10*time.Millisecond, nil)

	require.NoError(t, a.Start(context.Background()))
	time.Sleep(30 * time.Millisecond)
	a.Stop()
	a.Stop()
	require.Equal(t, 1, reg.Count())
}

func TestAnnouncer_ManualTrigger(t *testing.T) {
	reg, lc := newLifecycle(t)
	trigger := make(chan struct{}, 1)
	a := NewAnnouncer("", "http://self", lc, lc, logger.Nop(), time.Hour, trigger)

	require.NoError(t, a.Start(context.Background()))
	defer a.Stop()
	id := a.ID()

	// drop the record behind the announcer's back; a trigger restores it
	require.NoError(t, reg.Delete(context.Background(), id))
	require.Equal(t, 0, reg.Count())

	trigger <- struct{}{}
	require.Eventually(t, func() bool { return reg.Count() == 1 }, time.Second, 5*time.Millisecond)
}

type refreshCounter struct {
	mu  sync.Mutex
	ids []string
}

func (c *refreshCounter) ID() string { return "watcher" }

func (c *refreshCounter) Emit(event string, payload any) error {
	if event != domain.EventRefresh {
		return nil
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	c.ids = append(c.ids, payload.(domain.RefreshNotice).ServiceID)
	return nil
}

func (c *refreshCounter) seen() []string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]string(nil), c.ids...)
}

func TestAnnouncer_BroadcastsRefresh(t *testing.T) {
	_, lc := newLifecycle(t)
	watcher := &refreshCounter{}
	lc.Connect(watcher)
	ctx := context.Background()

	a := NewAnnouncer("", "http://self", lc, lc, logger.Nop(), time.Minute, nil)
	require.NoError(t, a.Announce(ctx))
	require.NoError(t, a.Announce(ctx))
	id := a.ID()
	require.NoError(t, a.Withdraw(ctx))

	require.Equal(t, []string{id, id, id}, watcher.seen())
}

func TestReaper_BroadcastsRefreshThroughLifecycle(t *testing.T) {
	reg, lc := newLifecycle(t)
	watcher := &refreshCounter{}
	lc.Connect(watcher)
	ctx := context.Background()

	d, err := reg.Save(ctx, &domain.Descriptor{Type: "Foo", Endpoint: "http://gone", Status: domain.StatusOffline})
	require.NoError(t, err)

	rp := NewReaper(reg, lc, logger.Nop(), time.Minute, time.Minute)
	rp.now = func() time.Time { return d.UpdatedAt.Add(time.Hour) }
	deleted, err := rp.Collect(ctx)
	require.NoError(t, err)
	require.Equal(t, 1, deleted)
	require.Equal(t, 0, reg.Count())
	require.Equal(t, []string{d.ID}, watcher.seen())
}
