package memory

import (
	"context"
	"sync"

	"github.com/google/uuid"

	"github.com/MrSnakeDoc/discovery/internal/domain"
	"github.com/MrSnakeDoc/discovery/internal/registry"
)

// watcher buffers events in an unbounded queue so mutations never block on a
// slow consumer; one goroutine drains it in order.
type watcher struct {
	id       string
	types    map[string]struct{}
	onChange registry.ChangeFunc
	owner    *Registry

	mu     sync.Mutex
	queue  []domain.ChangeEvent
	notify chan struct{}

	done      chan struct{}
	closeOnce sync.Once
}

func (r *Registry) Watch(_ context.Context, types []string, onChange registry.ChangeFunc) (registry.FeedHandle, error) {
	w := &watcher{
		id:       uuid.NewString(),
		types:    make(map[string]struct{}, len(types)),
		onChange: onChange,
		owner:    r,
		notify:   make(chan struct{}, 1),
		done:     make(chan struct{}),
	}
	for _, t := range types {
		w.types[t] = struct{}{}
	}

	r.mu.Lock()
	r.watchers[w.id] = w
	r.mu.Unlock()

	go w.run()
	return w, nil
}

func (w *watcher) push(ev domain.ChangeEvent) {
	w.mu.Lock()
	w.queue = append(w.queue, ev)
	w.mu.Unlock()

	select {
	case w.notify <- struct{}{}:
	default:
	}
}

func (w *watcher) run() {
	for {
		select {
		case <-w.done:
			return
		case <-w.notify:
		}

		for {
			w.mu.Lock()
			if len(w.queue) == 0 {
				w.mu.Unlock()
				break
			}
			ev := w.queue[0]
			w.queue = w.queue[1:]
			w.mu.Unlock()

			select {
			case <-w.done:
				return
			default:
			}
			w.onChange(ev)
		}
	}
}

func (w *watcher) Close() error {
	w.closeOnce.Do(func() {
		close(w.done)
		w.owner.mu.Lock()
		delete(w.owner.watchers, w.id)
		w.owner.mu.Unlock()
	})
	return nil
}
