package presence

import (
	"context"
	"time"

	"go.uber.org/zap"

	"ocppgate/backend/services/ocpp-server/internal/events"
	"ocppgate/backend/services/ocpp-server/internal/registry"
)

const opQueueSize = 256

// Connections is the registry view the tracker reads.
type Connections interface {
	Lookup(identity string) (registry.Connection, bool)
	Entries() []registry.Entry
}

type op struct {
	identity string
	remove   bool
}

// Tracker mirrors registry membership into the presence store. Bus handlers only
// enqueue; Run does the redis work.
type Tracker struct {
	store  *Store
	conns  Connections
	nodeID string
	ops    chan op
	logger *zap.Logger
}

// NewTracker builds a tracker for the node nodeID.
func NewTracker(store *Store, conns Connections, nodeID string, logger *zap.Logger) *Tracker {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Tracker{
		store:  store,
		conns:  conns,
		nodeID: nodeID,
		ops:    make(chan op, opQueueSize),
		logger: logger.Named("presence"),
	}
}

// Attach subscribes the tracker to connection events and returns the unsubscribe func.
func (t *Tracker) Attach(bus *events.Bus) func() {
	offReg := bus.Subscribe(events.ConnectionRegistered, func(ev events.Event) {
		t.enqueue(op{identity: ev.Identity})
	})
	offUnreg := bus.Subscribe(events.ConnectionUnregistered, func(ev events.Event) {
		t.enqueue(op{identity: ev.Identity, remove: true})
	})
	return func() {
		offReg()
		offUnreg()
	}
}

func (t *Tracker) enqueue(o op) {
	select {
	case t.ops <- o:
	default:
		t.logger.Warn("presence queue full, update dropped", zap.String("station_id", o.identity))
	}
}

// Run applies queued updates and refreshes every live record at a third of the TTL.
func (t *Tracker) Run(ctx context.Context) error {
	interval := t.store.TTL() / 3
	if interval <= 0 {
		interval = time.Second
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return nil
		case o := <-t.ops:
			t.apply(ctx, o)
		case <-ticker.C:
			t.Refresh(ctx)
		}
	}
}

// Refresh rewrites the record of every registered connection.
func (t *Tracker) Refresh(ctx context.Context) {
	for _, entry := range t.conns.Entries() {
		if err := t.store.Save(ctx, t.record(entry.Identity, entry.Conn, entry.RegisteredAt)); err != nil {
			t.logger.Warn("refresh presence failed", zap.String("station_id", entry.Identity), zap.Error(err))
		}
	}
}

func (t *Tracker) apply(ctx context.Context, o op) {
	conn, live := t.conns.Lookup(o.identity)
	if o.remove || !live {
		// a takeover may already have registered a newer connection
		if live {
			return
		}
		if err := t.store.Delete(ctx, o.identity); err != nil {
			t.logger.Warn("delete presence failed", zap.String("station_id", o.identity), zap.Error(err))
		}
		return
	}
	if err := t.store.Save(ctx, t.record(o.identity, conn, time.Now().UTC())); err != nil {
		t.logger.Warn("save presence failed", zap.String("station_id", o.identity), zap.Error(err))
	}
}

func (t *Tracker) record(identity string, conn registry.Connection, at time.Time) Record {
	return Record{
		Identity:     identity,
		NodeID:       t.nodeID,
		ConnectionID: conn.ID(),
		RemoteAddr:   conn.RemoteAddr(),
		ConnectedAt:  at,
	}
}
