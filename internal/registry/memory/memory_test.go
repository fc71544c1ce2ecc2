package memory

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/MrSnakeDoc/discovery/internal/domain"
	"github.com/MrSnakeDoc/discovery/internal/registry"
)

func descriptor(typ, endpoint string) *domain.Descriptor {
	return &domain.Descriptor{Type: typ, Endpoint: endpoint, Status: domain.StatusOnline}
}

func TestNewRegistry(t *testing.T) {
	r := New()
	require.NotNil(t, r)
	require.Equal(t, 0, r.Count())
}

func TestSaveAssignsID(t *testing.T) {
	r := New()
	ctx := context.Background()

	saved, err := r.Save(ctx, descriptor("Foo", "http://foo:1"))
	require.NoError(t, err)
	require.NotEmpty(t, saved.ID)

	byID, err := r.FindByID(ctx, saved.ID)
	require.NoError(t, err)
	require.Equal(t, "http://foo:1", byID.Endpoint)

	byEndpoint, err := r.FindByEndpoint(ctx, "http://foo:1")
	require.NoError(t, err)
	require.Equal(t, saved.ID, byEndpoint.ID)
}

func TestFindMissing(t *testing.T) {
	r := New()
	ctx := context.Background()

	_, err := r.FindByID(ctx, "nope")
	require.True(t, errors.Is(err, domain.ErrNotFound))

	_, err = r.FindByEndpoint(ctx, "http://nope")
	require.True(t, errors.Is(err, domain.ErrNotFound))
}

func TestUpdateUnknown(t *testing.T) {
	r := New()
	_, err := r.Update(context.Background(), &domain.Descriptor{ID: "ghost"})
	require.True(t, errors.Is(err, domain.ErrNotFound))
}

func TestUpdateMovesEndpointIndex(t *testing.T) {
	r := New()
	ctx := context.Background()

	saved, err := r.Save(ctx, descriptor("Foo", "http://old"))
	require.NoError(t, err)

	saved.Endpoint = "http://new"
	_, err = r.Update(ctx, saved)
	require.NoError(t, err)

	_, err = r.FindByEndpoint(ctx, "http://old")
	require.True(t, errors.Is(err, domain.ErrNotFound))
	got, err := r.FindByEndpoint(ctx, "http://new")
	require.NoError(t, err)
	require.Equal(t, saved.ID, got.ID)
}

func TestDeleteIsIdempotent(t *testing.T) {
	r := New()
	ctx := context.Background()

	saved, _ := r.Save(ctx, descriptor("Foo", "http://foo"))
	require.NoError(t, r.Delete(ctx, saved.ID))
	require.NoError(t, r.Delete(ctx, saved.ID))
	require.Equal(t, 0, r.Count())
}

func TestReturnedDescriptorsAreCopies(t *testing.T) {
	r := New()
	ctx := context.Background()

	saved, _ := r.Save(ctx, descriptor("Foo", "http://foo"))
	saved.Status = domain.StatusOffline

	got, _ := r.FindByID(ctx, saved.ID)
	require.Equal(t, domain.StatusOnline, got.Status)
}

func TestFindByTypesPaging(t *testing.T) {
	r := New()
	ctx := context.Background()

	for i := 0; i < 7; i++ {
		_, err := r.Save(ctx, descriptor("Foo", fmt.Sprintf("http://foo:%d", i)))
		require.NoError(t, err)
	}
	_, _ = r.Save(ctx, descriptor("Bar", "http://bar"))

	p, err := r.FindByTypes(ctx, []string{"Foo"}, registry.PageRequest{Page: 0, Size: 5})
	require.NoError(t, err)
	require.Len(t, p.Elements, 5)
	require.Equal(t, 7, p.Total)
	require.True(t, p.HasNext())

	all, err := registry.CollectByTypes(ctx, r, []string{"Foo", "Bar"}, 3)
	require.NoError(t, err)
	require.Len(t, all, 8)
}

func TestWatchDeliversMatchingChangesInOrder(t *testing.T) {
	r := New()
	ctx := context.Background()

	var (
		mu   sync.Mutex
		got  []domain.ChangeKind
		done = make(chan struct{})
	)
	h, err := r.Watch(ctx, []string{"Foo"}, func(ev domain.ChangeEvent) {
		mu.Lock()
		defer mu.Unlock()
		got = append(got, ev.Kind)
		if len(got) == 3 {
			close(done)
		}
	})
	require.NoError(t, err)
	defer func() { _ = h.Close() }()

	foo, _ := r.Save(ctx, descriptor("Foo", "http://foo"))
	_, _ = r.Save(ctx, descriptor("Bar", "http://bar"))
	foo.Status = domain.StatusOffline
	_, _ = r.Update(ctx, foo)
	_ = r.Delete(ctx, foo.ID)

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("timed out waiting for changes")
	}

	mu.Lock()
	defer mu.Unlock()
	require.Equal(t, []domain.ChangeKind{domain.ChangeAdded, domain.ChangeUpdated, domain.ChangeRemoved}, got)
}

func TestTypeChangeRemovesFromOldWatchers(t *testing.T) {
	r := New()
	ctx := context.Background()

	calls := make(chan domain.ChangeEvent, 10)
	h, err := r.Watch(ctx, []string{"Foo"}, func(ev domain.ChangeEvent) { calls <- ev })
	require.NoError(t, err)
	defer func() { _ = h.Close() }()

	saved, err := r.Save(ctx, descriptor("Foo", "http://svc"))
	require.NoError(t, err)
	saved.Type = "Bar"
	_, err = r.Update(ctx, saved)
	require.NoError(t, err)

	for _, want := range []domain.ChangeKind{domain.ChangeAdded, domain.ChangeRemoved} {
		select {
		case ev := <-calls:
			require.Equal(t, want, ev.Kind)
			require.Equal(t, "Foo", ev.Descriptor.Type)
		case <-time.After(time.Second):
			t.Fatalf("timed out waiting for %s", want)
		}
	}
	select {
	case ev := <-calls:
		t.Fatalf("unexpected change for the new type: %+v", ev)
	case <-time.After(50 * time.Millisecond):
	}
}

func TestWatchCloseStopsDelivery(t *testing.T) {
	r := New()
	ctx := context.Background()

	calls := make(chan domain.ChangeEvent, 10)
	h, err := r.Watch(ctx, []string{"Foo"}, func(ev domain.ChangeEvent) { calls <- ev })
	require.NoError(t, err)
	require.Equal(t, 1, r.WatcherCount())

	require.NoError(t, h.Close())
	require.NoError(t, h.Close())
	require.Equal(t, 0, r.WatcherCount())

	_, _ = r.Save(ctx, descriptor("Foo", "http://foo"))
	select {
	case ev := <-calls:
		t.Fatalf("unexpected change after close: %+v", ev)
	case <-time.After(50 * time.Millisecond):
	}
}

func TestClockOption(t *testing.T) {
	at := time.Date(2024, 1, 2, 3, 4, 5, 0, time.UTC)
	r := New(WithClock(func() time.Time { return at }))

	saved, _ := r.Save(context.Background(), descriptor("Foo", "http://foo"))
	require.Equal(t, at, saved.UpdatedAt)
}

func TestConcurrentAccess(t *testing.T) {
	r := New()
	ctx := context.Background()

	var wg sync.WaitGroup
	for i := 0; i < 50; i++ {
		wg.Add(2)
		go func(i int) {
			defer wg.Done()
			_, _ = r.Save(ctx, descriptor("Foo", fmt.Sprintf("http://foo:%d", i)))
		}(i)
		go func() {
			defer wg.Done()
			_, _ = r.All(ctx)
		}()
	}
	wg.Wait()

	require.Equal(t, 50, r.Count())
}
