package presence

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

// ErrNotFound is returned by Get when no node holds the station.
var ErrNotFound = errors.New("presence: not found")

// Record says which node currently holds a station connection.
type Record struct {
	Identity     string    `json:"identity"`
	NodeID       string    `json:"node_id"`
	ConnectionID string    `json:"connection_id"`
	RemoteAddr   string    `json:"remote_addr"`
	ConnectedAt  time.Time `json:"connected_at"`
}

// Backend is the key/value subset of redis the store needs.
type Backend interface {
	Set(ctx context.Context, key string, value []byte, ttl time.Duration) error
	Get(ctx context.Context, key string) ([]byte, error)
	Del(ctx context.Context, key string) error
}

type redisBackend struct {
	client redis.Cmdable
}

// NewRedisBackend adapts a go-redis client.
func NewRedisBackend(client redis.Cmdable) Backend {
	return &redisBackend{client: client}
}

func (b *redisBackend) Set(ctx context.Context, key string, value []byte, ttl time.Duration) error {
	return b.client.Set(ctx, key, value, ttl).Err()
}

func (b *redisBackend) Get(ctx context.Context, key string) ([]byte, error) {
	data, err := b.client.Get(ctx, key).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, ErrNotFound
	}
	return data, err
}

func (b *redisBackend) Del(ctx context.Context, key string) error {
	return b.client.Del(ctx, key).Err()
}

// Store keeps presence records with a TTL so a crashed node's stations expire.
type Store struct {
	backend Backend
	ttl     time.Duration
}

// NewStore returns redis-backed store.
func NewStore(backend Backend, ttl time.Duration) *Store {
	return &Store{backend: backend, ttl: ttl}
}

func (s *Store) key(identity string) string {
	return fmt.Sprintf("ocpp:presence:%s", identity)
}

// TTL reports the record lifetime.
func (s *Store) TTL() time.Duration {
	return s.ttl
}

// Save writes or refreshes rec.
func (s *Store) Save(ctx context.Context, rec Record) error {
	data, err := json.Marshal(rec)
	if err != nil {
		return err
	}
	return s.backend.Set(ctx, s.key(rec.Identity), data, s.ttl)
}

// Get returns the record of identity.
func (s *Store) Get(ctx context.Context, identity string) (*Record, error) {
	data, err := s.backend.Get(ctx, s.key(identity))
	if err != nil {
		return nil, err
	}
	var rec Record
	if err := json.Unmarshal(data, &rec); err != nil {
		return nil, err
	}
	return &rec, nil
}

// Delete removes the record of identity.
func (s *Store) Delete(ctx context.Context, identity string) error {
	return s.backend.Del(ctx, s.key(identity))
}
