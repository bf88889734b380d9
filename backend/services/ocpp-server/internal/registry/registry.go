// Package registry maps charging station identities to their live connection.
package registry

import (
	"context"
	"sort"
	"sync"
	"time"

	"go.uber.org/zap"

	"ocppgate/backend/services/ocpp-server/internal/events"
)

// TagIdentity is the connection tag holding the station identity once registered.
const TagIdentity = "identity"

// State is the lifecycle stage of a Connection.
type State int32

const (
	StateConnecting State = iota
	StateOpen
	StateClosed
)

func (s State) String() string {
	switch s {
	case StateConnecting:
		return "connecting"
	case StateOpen:
		return "open"
	case StateClosed:
		return "closed"
	default:
		return "unknown"
	}
}

// Connection is the transport handle the registry and correlation engine operate on.
type Connection interface {
	ID() string
	RemoteAddr() string
	Tag(key string) (string, bool)
	SetTag(key, value string)
	State() State
	Send(ctx context.Context, frame []byte) error
	Close() error
}

// Entry is a registered connection.
type Entry struct {
	Identity     string
	Conn         Connection
	RegisteredAt time.Time
}

// Registry holds at most one live connection per identity. A connection that is
// replaced by a newer one for the same identity is closed in the background and stays
// reachable through LookupAll until that close returns.
type Registry struct {
	mu       sync.RWMutex
	entries  map[string]*Entry
	draining map[string][]Connection

	bus    *events.Bus
	logger *zap.Logger
}

// New builds a registry. bus may be nil.
func New(bus *events.Bus, logger *zap.Logger) *Registry {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Registry{
		entries:  make(map[string]*Entry),
		draining: make(map[string][]Connection),
		bus:      bus,
		logger:   logger,
	}
}

// Register makes conn the live connection for identity. It does not wait for a
// replaced connection to close.
func (r *Registry) Register(identity string, conn Connection) {
	conn.SetTag(TagIdentity, identity)

	r.mu.Lock()
	prev := r.entries[identity]
	r.entries[identity] = &Entry{Identity: identity, Conn: conn, RegisteredAt: time.Now().UTC()}
	replaced := prev != nil && prev.Conn != conn
	if replaced {
		r.draining[identity] = append(r.draining[identity], prev.Conn)
	}
	r.mu.Unlock()

	if replaced {
		r.logger.Info("station connection replaced",
			zap.String("station_id", identity),
			zap.String("old_conn", prev.Conn.ID()),
			zap.String("new_conn", conn.ID()))
		r.bus.Publish(events.Event{Type: events.ConnectionReplaced, Identity: identity})
		go r.evict(identity, prev.Conn)
	}
	r.bus.Publish(events.Event{Type: events.ConnectionRegistered, Identity: identity})
}

func (r *Registry) evict(identity string, conn Connection) {
	if err := conn.Close(); err != nil {
		r.logger.Warn("close replaced connection failed",
			zap.String("station_id", identity),
			zap.String("conn", conn.ID()),
			zap.Error(err))
	}
	r.mu.Lock()
	r.dropDraining(identity, conn)
	r.mu.Unlock()
}

// dropDraining must be called with mu held.
func (r *Registry) dropDraining(identity string, conn Connection) bool {
	list := r.draining[identity]
	for i, c := range list {
		if c == conn {
			list = append(list[:i:i], list[i+1:]...)
			if len(list) == 0 {
				delete(r.draining, identity)
			} else {
				r.draining[identity] = list
			}
			return true
		}
	}
	return false
}

// Lookup returns the live connection for identity.
func (r *Registry) Lookup(identity string) (Connection, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	entry, ok := r.entries[identity]
	if !ok {
		return nil, false
	}
	return entry.Conn, true
}

// LookupAll returns the live connection first, followed by replaced connections that
// are still closing.
func (r *Registry) LookupAll(identity string) []Connection {
	r.mu.RLock()
	defer r.mu.RUnlock()
	var conns []Connection
	if entry, ok := r.entries[identity]; ok {
		conns = append(conns, entry.Conn)
	}
	return append(conns, r.draining[identity]...)
}

// Unregister removes conn. The entry for its identity is only removed if it still
// points at conn, so a late close of a replaced connection cannot evict its successor.
func (r *Registry) Unregister(conn Connection) bool {
	identity, ok := conn.Tag(TagIdentity)
	if !ok {
		return false
	}

	r.mu.Lock()
	entry, exists := r.entries[identity]
	live := exists && entry.Conn == conn
	if live {
		delete(r.entries, identity)
	} else {
		r.dropDraining(identity, conn)
	}
	r.mu.Unlock()

	if live {
		r.bus.Publish(events.Event{Type: events.ConnectionUnregistered, Identity: identity})
	}
	return live
}

// Entries returns a snapshot of live entries ordered by identity.
func (r *Registry) Entries() []Entry {
	r.mu.RLock()
	out := make([]Entry, 0, len(r.entries))
	for _, e := range r.entries {
		out = append(out, *e)
	}
	r.mu.RUnlock()
	sort.Slice(out, func(i, j int) bool { return out[i].Identity < out[j].Identity })
	return out
}

// Len returns the number of live entries.
func (r *Registry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.entries)
}
