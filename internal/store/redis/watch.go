package redis

import (
	"context"
	"encoding/json"
	"sync"

	"github.com/redis/go-redis/v9"

	"github.com/MrSnakeDoc/discovery/internal/domain"
	"github.com/MrSnakeDoc/discovery/internal/logger"
	"github.com/MrSnakeDoc/discovery/internal/registry"
	"github.com/MrSnakeDoc/discovery/internal/utils"
)

// publish announces a committed write. A failed publish is a missed update for
// subscribers, not a failed write, so it is logged and swallowed.
func (s *Store) publish(ctx context.Context, kind domain.ChangeKind, d *domain.Descriptor) {
	payload, err := json.Marshal(domain.ChangeEvent{Kind: kind, Descriptor: d})
	if err != nil {
		s.logger.Error("failed to marshal change event",
			logger.String("service_id", d.ID),
			logger.Error(err))
		return
	}
	if err := s.client.Publish(ctx, ChangesChannel(d.Type), payload).Err(); err != nil {
		s.logger.Warn("failed to publish change event",
			logger.String("service_id", d.ID),
			logger.String("kind", string(kind)),
			logger.Error(err))
	}
}

// feed is one pub/sub subscription over the change channels of a type set.
type feed struct {
	pubsub    *redis.PubSub
	closeOnce sync.Once
	closeErr  error
}

// Watch subscribes to the change channel of every type and relays decoded
// events to onChange from a single goroutine, preserving channel order.
func (s *Store) Watch(ctx context.Context, types []string, onChange registry.ChangeFunc) (registry.FeedHandle, error) {
	channels := make([]string, 0, len(types))
	for _, t := range types {
		channels = append(channels, ChangesChannel(t))
	}

	ps := s.client.Subscribe(ctx, channels...)
	// Wait for the subscription to be confirmed so setup failures surface here.
	if _, err := ps.Receive(ctx); err != nil {
		utils.Close(ps)
		return nil, unavailable("subscribe to changes", err)
	}

	f := &feed{pubsub: ps}
	msgs := ps.Channel()

	go func() {
		for msg := range msgs {
			var ev domain.ChangeEvent
			if err := json.Unmarshal([]byte(msg.Payload), &ev); err != nil || ev.Descriptor == nil {
				s.logger.Warn("dropping malformed change event",
					logger.String("channel", msg.Channel),
					logger.Error(err))
				continue
			}
			onChange(ev)
		}
	}()

	return f, nil
}

func (f *feed) Close() error {
	f.closeOnce.Do(func() {
		f.closeErr = f.pubsub.Close()
	})
	return f.closeErr
}
