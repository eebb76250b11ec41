package relay

import (
	"context"
	"log/slog"
	"sync"
	"time"
)

// EventKind discriminates registry lifecycle events.
type EventKind uint8

const (
	// EventRoomClosed fires after a room has been destroyed, whatever the
	// cause (both participants gone, idle sweep, shutdown).
	EventRoomClosed EventKind = iota
)

// Event is a room lifecycle notification. Consumers react to room
// destruction (message-limiter and token-store cleanup) without the registry
// knowing who they are.
type Event struct {
	Kind   EventKind
	RoomID string
}

// RegistryConfig tunes room reclamation. Zero fields fall back to defaults.
type RegistryConfig struct {
	IdleGrace     time.Duration
	SweepInterval time.Duration
	EventBuffer   int
}

func (c RegistryConfig) withDefaults() RegistryConfig {
	if c.IdleGrace <= 0 {
		c.IdleGrace = defaultRoomIdleGrace
	}
	if c.SweepInterval <= 0 {
		c.SweepInterval = defaultRoomSweepInterval
	}
	if c.EventBuffer <= 0 {
		c.EventBuffer = defaultEventBuffer
	}
	return c
}

// Registry owns the set of live rooms. It is the single source of truth for
// room lifecycle; everything it holds is memory-only and vanishes with the
// process.
//
// Locking is two-level: the registry RWMutex only guards map insert, delete
// and lookup, while membership changes serialize on the per-room mutex. Two
// rooms never contend with each other.
type Registry struct {
	log *slog.Logger
	cfg RegistryConfig

	mu    sync.RWMutex
	rooms map[string]*Room

	events chan Event
}

// NewRegistry constructs an empty Registry.
func NewRegistry(log *slog.Logger, cfg RegistryConfig) *Registry {
	cfg = cfg.withDefaults()
	return &Registry{
		log:    log,
		cfg:    cfg,
		rooms:  make(map[string]*Room),
		events: make(chan Event, cfg.EventBuffer),
	}
}

// Events returns the lifecycle event stream. A single consumer is expected.
func (reg *Registry) Events() <-chan Event {
	return reg.events
}

// CreateRoom registers a fresh empty room and returns its ID.
func (reg *Registry) CreateRoom() string {
	now := time.Now().UTC()
	id := newRoomID(now)

	reg.mu.Lock()
	reg.rooms[id] = newRoom(id, now)
	reg.mu.Unlock()

	reg.log.Info("room.created", "room", shortRef(id))
	return id
}

// RoomExists reports whether roomID is live.
func (reg *Registry) RoomExists(roomID string) bool {
	reg.mu.RLock()
	_, ok := reg.rooms[roomID]
	reg.mu.RUnlock()
	return ok
}

// RoomCount returns the number of live rooms (for metrics).
func (reg *Registry) RoomCount() int {
	reg.mu.RLock()
	defer reg.mu.RUnlock()
	return len(reg.rooms)
}

// Occupancy returns the number of live participants in roomID, or -1 when
// the room does not exist.
func (reg *Registry) Occupancy(roomID string) int {
	reg.mu.RLock()
	room := reg.rooms[roomID]
	reg.mu.RUnlock()

	if room == nil {
		return -1
	}
	return room.occupancy()
}

// JoinRoom atomically binds a connection to the first free slot of roomID.
// Exactly one concurrent caller can win each slot.
func (reg *Registry) JoinRoom(roomID string, c *Client) (Role, error) {
	reg.mu.RLock()
	room := reg.rooms[roomID]
	reg.mu.RUnlock()

	if room == nil {
		return "", ErrRoomNotFound
	}
	role, err := room.join(c)
	if err != nil {
		return "", err
	}

	reg.log.Info("room.member.join", "room", shortRef(roomID), "conn", shortRef(c.ConnID), "role", role)
	return role, nil
}

// LeaveRoom releases a connection's slot. Idempotent: unknown rooms or
// connections are a no-op. A room that held participants and is now empty is
// destroyed immediately.
func (reg *Registry) LeaveRoom(roomID, connID string) {
	reg.mu.RLock()
	room := reg.rooms[roomID]
	reg.mu.RUnlock()

	if room == nil {
		return
	}
	removed, emptiedOut := room.leave(connID, time.Now().UTC())
	if removed {
		reg.log.Info("room.member.leave", "room", shortRef(roomID), "conn", shortRef(connID))
	}
	if emptiedOut {
		reg.destroyIfEmpty(roomID, "empty")
	}
}

// RelayTo forwards frame verbatim from sender to the room's other
// participant. Returns whether a peer accepted it; a relay racing a leave is
// silently a no-op.
func (reg *Registry) RelayTo(roomID, senderID string, frame Frame) bool {
	reg.mu.RLock()
	room := reg.rooms[roomID]
	reg.mu.RUnlock()

	if room == nil {
		return false
	}
	return room.relayFrom(senderID, frame)
}

// Sweep destroys rooms that have sat empty longer than the idle grace window
// and returns how many were removed. Exposed for tests; Run calls it
// periodically.
func (reg *Registry) Sweep(now time.Time) int {
	reg.mu.RLock()
	var stale []string
	for id, room := range reg.rooms {
		if room.idleEmpty(now, reg.cfg.IdleGrace) {
			stale = append(stale, id)
		}
	}
	reg.mu.RUnlock()

	n := 0
	for _, id := range stale {
		if reg.destroyIfEmpty(id, "idle") {
			n++
		}
	}
	return n
}

// Run drives the idle-room sweep until ctx is done.
func (reg *Registry) Run(ctx context.Context) error {
	t := time.NewTicker(reg.cfg.SweepInterval)
	defer t.Stop()

	for {
		select {
		case <-ctx.Done():
			return nil
		case <-t.C:
			if n := reg.Sweep(time.Now().UTC()); n > 0 {
				reg.log.Info("room.sweep", "removed", n)
			}
		}
	}
}

// destroyIfEmpty removes roomID when it (still) has no participants. The
// emptiness re-check under the map write lock closes the race between a
// sweep decision and a concurrent join.
func (reg *Registry) destroyIfEmpty(roomID, reason string) bool {
	reg.mu.Lock()
	room, ok := reg.rooms[roomID]
	if !ok {
		reg.mu.Unlock()
		return false
	}
	if room.occupancy() != 0 {
		reg.mu.Unlock()
		return false
	}
	delete(reg.rooms, roomID)
	reg.mu.Unlock()

	// A join that grabbed the room pointer before the delete may have
	// slipped a member in; close collects and shuts those clients down so
	// their gateways tear down normally.
	room.close()
	reg.emit(Event{Kind: EventRoomClosed, RoomID: roomID})
	reg.log.Info("room.closed", "room", shortRef(roomID), "reason", reason)
	return true
}

func (reg *Registry) emit(ev Event) {
	select {
	case reg.events <- ev:
	default:
		// Dropping is tolerable: the limiter and token-store idle sweeps
		// reclaim anything a lost event would have cleaned up.
		reg.log.Debug("registry.event.dropped", "room", shortRef(ev.RoomID))
	}
}
