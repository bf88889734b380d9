package presence

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"ocppgate/backend/services/ocpp-server/internal/events"
	"ocppgate/backend/services/ocpp-server/internal/registry"
)

type memoryBackend struct {
	mu   sync.Mutex
	data map[string][]byte
	ttls map[string]time.Duration
	sets int
}

func newMemoryBackend() *memoryBackend {
	return &memoryBackend{data: make(map[string][]byte), ttls: make(map[string]time.Duration)}
}

func (b *memoryBackend) Set(_ context.Context, key string, value []byte, ttl time.Duration) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.data[key] = value
	b.ttls[key] = ttl
	b.sets++
	return nil
}

func (b *memoryBackend) Get(_ context.Context, key string) ([]byte, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	v, ok := b.data[key]
	if !ok {
		return nil, ErrNotFound
	}
	return v, nil
}

func (b *memoryBackend) Del(_ context.Context, key string) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	delete(b.data, key)
	return nil
}

func (b *memoryBackend) setCount() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.sets
}

type fakeConn struct {
	id   string
	mu   sync.Mutex
	tags map[string]string
}

func newFakeConn(id string) *fakeConn {
	return &fakeConn{id: id, tags: make(map[string]string)}
}

func (c *fakeConn) ID() string                         { return c.id }
func (c *fakeConn) RemoteAddr() string                 { return "10.0.0.1:5000" }
func (c *fakeConn) State() registry.State              { return registry.StateOpen }
func (c *fakeConn) Send(context.Context, []byte) error { return nil }
func (c *fakeConn) Close() error                       { return nil }

func (c *fakeConn) Tag(key string) (string, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	v, ok := c.tags[key]
	return v, ok
}

func (c *fakeConn) SetTag(key, value string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.tags[key] = value
}

func waitFor(t *testing.T, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatal("condition not met")
}

func TestStoreRoundTrip(t *testing.T) {
	backend := newMemoryBackend()
	store := NewStore(backend, time.Minute)
	ctx := context.Background()

	require.NoError(t, store.Save(ctx, Record{Identity: "CP-1", NodeID: "node-a", ConnectionID: "c1"}))
	assert.Equal(t, time.Minute, backend.ttls["ocpp:presence:CP-1"])

	rec, err := store.Get(ctx, "CP-1")
	require.NoError(t, err)
	assert.Equal(t, "node-a", rec.NodeID)

	require.NoError(t, store.Delete(ctx, "CP-1"))
	_, err = store.Get(ctx, "CP-1")
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestTrackerFollowsRegistry(t *testing.T) {
	bus := events.NewBus(zap.NewNop())
	reg := registry.New(bus, zap.NewNop())
	backend := newMemoryBackend()
	store := NewStore(backend, time.Minute)
	tracker := NewTracker(store, reg, "node-a", zap.NewNop())
	defer tracker.Attach(bus)()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go tracker.Run(ctx)

	conn := newFakeConn("c1")
	reg.Register("CP-1", conn)
	waitFor(t, func() bool {
		rec, err := store.Get(ctx, "CP-1")
		return err == nil && rec.ConnectionID == "c1"
	})

	reg.Unregister(conn)
	waitFor(t, func() bool {
		_, err := store.Get(ctx, "CP-1")
		return err == ErrNotFound
	})
}

func TestTrackerKeepsRecordAfterTakeover(t *testing.T) {
	bus := events.NewBus(zap.NewNop())
	reg := registry.New(bus, zap.NewNop())
	store := NewStore(newMemoryBackend(), time.Minute)
	tracker := NewTracker(store, reg, "node-a", zap.NewNop())
	ctx := context.Background()

	reg.Register("CP-1", newFakeConn("new"))
	tracker.apply(ctx, op{identity: "CP-1"})
	tracker.apply(ctx, op{identity: "CP-1", remove: true})

	rec, err := store.Get(ctx, "CP-1")
	require.NoError(t, err)
	assert.Equal(t, "new", rec.ConnectionID)
}

func TestTrackerRefresh(t *testing.T) {
	reg := registry.New(nil, zap.NewNop())
	backend := newMemoryBackend()
	tracker := NewTracker(NewStore(backend, time.Minute), reg, "node-a", zap.NewNop())

	reg.Register("CP-1", newFakeConn("c1"))
	reg.Register("CP-2", newFakeConn("c2"))
	tracker.Refresh(context.Background())

	assert.Equal(t, 2, backend.setCount())
}
