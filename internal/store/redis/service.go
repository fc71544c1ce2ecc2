package redis

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"

	"github.com/MrSnakeDoc/discovery/internal/domain"
	"github.com/MrSnakeDoc/discovery/internal/logger"
	"github.com/MrSnakeDoc/discovery/internal/registry"
)

// Store is the Redis-backed registry. Descriptors are JSON blobs; type sets and
// an endpoint hash index them; every write publishes a ChangeEvent on the
// channel of the descriptor's type.
type Store struct {
	client *redis.Client
	logger logger.Logger
	now    func() time.Time
}

var _ registry.Registry = (*Store)(nil)

// NewStore creates a new Redis store
func NewStore(client *redis.Client, log logger.Logger) *Store {
	return &Store{
		client: client,
		logger: log,
		now:    time.Now,
	}
}

func unavailable(op string, err error) error {
	return fmt.Errorf("%s: %w: %v", op, domain.ErrRegistryUnavailable, err)
}

// FindByID retrieves a descriptor from Redis by ID
func (s *Store) FindByID(ctx context.Context, id string) (*domain.Descriptor, error) {
	data, err := s.client.Get(ctx, ServiceKey(id)).Bytes()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return nil, fmt.Errorf("descriptor %s: %w", id, domain.ErrNotFound)
		}
		return nil, unavailable("get descriptor", err)
	}

	var d domain.Descriptor
	if err := json.Unmarshal(data, &d); err != nil {
		return nil, fmt.Errorf("failed to unmarshal descriptor %s: %w", id, err)
	}
	return &d, nil
}

// FindByEndpoint resolves the endpoint index then loads the descriptor
func (s *Store) FindByEndpoint(ctx context.Context, endpoint string) (*domain.Descriptor, error) {
	id, err := s.client.HGet(ctx, KeyEndpoints, endpoint).Result()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return nil, fmt.Errorf("descriptor with endpoint %s: %w", endpoint, domain.ErrNotFound)
		}
		return nil, unavailable("lookup endpoint", err)
	}
	return s.FindByID(ctx, id)
}

// FindByTypes returns one page of descriptors whose type is in types, ordered by ID
func (s *Store) FindByTypes(ctx context.Context, types []string, req registry.PageRequest) (registry.Page, error) {
	req = req.Normalize()
	page := registry.Page{Elements: []*domain.Descriptor{}, Page: req.Page, Size: req.Size}
	if len(types) == 0 {
		return page, nil
	}

	keys := make([]string, 0, len(types))
	for _, t := range types {
		keys = append(keys, TypeKey(t))
	}
	ids, err := s.client.SUnion(ctx, keys...).Result()
	if err != nil {
		return page, unavailable("union type sets", err)
	}
	sort.Strings(ids)

	page.Total = len(ids)
	lo, hi := req.Window(len(ids))
	page.Elements, err = s.loadMany(ctx, ids[lo:hi])
	return page, err
}

// All retrieves every descriptor from Redis
func (s *Store) All(ctx context.Context) ([]*domain.Descriptor, error) {
	ids, err := s.client.SMembers(ctx, AllServicesKey()).Result()
	if err != nil {
		return nil, unavailable("list descriptor ids", err)
	}
	sort.Strings(ids)
	return s.loadMany(ctx, ids)
}

func (s *Store) loadMany(ctx context.Context, ids []string) ([]*domain.Descriptor, error) {
	out := make([]*domain.Descriptor, 0, len(ids))
	if len(ids) == 0 {
		return out, nil
	}

	keys := make([]string, len(ids))
	for i, id := range ids {
		keys[i] = ServiceKey(id)
	}
	vals, err := s.client.MGet(ctx, keys...).Result()
	if err != nil {
		return out, unavailable("load descriptors", err)
	}

	for _, v := range vals {
		raw, ok := v.(string)
		if !ok {
			// Index entry outlived its descriptor
			continue
		}
		var d domain.Descriptor
		if err := json.Unmarshal([]byte(raw), &d); err != nil {
			continue
		}
		out = append(out, &d)
	}
	return out, nil
}

// Save stores a new descriptor and publishes an added change
func (s *Store) Save(ctx context.Context, d *domain.Descriptor) (*domain.Descriptor, error) {
	stored := d.Clone()
	if stored.ID == "" {
		stored.ID = uuid.NewString()
	}
	stored.UpdatedAt = s.now()

	if err := s.write(ctx, nil, stored); err != nil {
		return nil, err
	}
	s.publish(ctx, domain.ChangeAdded, stored)
	return stored, nil
}

// Update replaces an existing descriptor and publishes an updated change
func (s *Store) Update(ctx context.Context, d *domain.Descriptor) (*domain.Descriptor, error) {
	prev, err := s.FindByID(ctx, d.ID)
	if err != nil {
		return nil, err
	}

	stored := d.Clone()
	stored.UpdatedAt = s.now()

	if err := s.write(ctx, prev, stored); err != nil {
		return nil, err
	}
	if prev.Type != stored.Type {
		// Watchers of the old type lose sight of it.
		s.publish(ctx, domain.ChangeRemoved, prev)
	}
	s.publish(ctx, domain.ChangeUpdated, stored)
	return stored, nil
}

// write stores next and moves its index entries away from prev when set
func (s *Store) write(ctx context.Context, prev, next *domain.Descriptor) error {
	data, err := json.Marshal(next)
	if err != nil {
		return fmt.Errorf("failed to marshal descriptor: %w", err)
	}

	_, err = s.client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		if prev != nil && prev.Type != next.Type {
			pipe.SRem(ctx, TypeKey(prev.Type), prev.ID)
		}
		if prev != nil && prev.Endpoint != next.Endpoint {
			pipe.HDel(ctx, KeyEndpoints, prev.Endpoint)
		}
		pipe.Set(ctx, ServiceKey(next.ID), data, 0)
		pipe.SAdd(ctx, AllServicesKey(), next.ID)
		pipe.SAdd(ctx, TypeKey(next.Type), next.ID)
		pipe.HSet(ctx, KeyEndpoints, next.Endpoint, next.ID)
		return nil
	})
	if err != nil {
		return unavailable("save descriptor", err)
	}
	return nil
}

// Delete removes a descriptor and its index entries, then publishes a removed change
func (s *Store) Delete(ctx context.Context, id string) error {
	prev, err := s.FindByID(ctx, id)
	if errors.Is(err, domain.ErrNotFound) {
		return nil
	}
	if err != nil {
		return err
	}

	owner, err := s.client.HGet(ctx, KeyEndpoints, prev.Endpoint).Result()
	if err != nil && !errors.Is(err, redis.Nil) {
		return unavailable("lookup endpoint", err)
	}

	_, err = s.client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.Del(ctx, ServiceKey(id))
		pipe.SRem(ctx, AllServicesKey(), id)
		pipe.SRem(ctx, TypeKey(prev.Type), id)
		if owner == id {
			pipe.HDel(ctx, KeyEndpoints, prev.Endpoint)
		}
		return nil
	})
	if err != nil {
		return unavailable("delete descriptor", err)
	}

	s.publish(ctx, domain.ChangeRemoved, prev)
	return nil
}

// Ping checks the connection
func (s *Store) Ping(ctx context.Context) error {
	if err := s.client.Ping(ctx).Err(); err != nil {
		return unavailable("ping", err)
	}
	return nil
}
