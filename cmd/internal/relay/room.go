package relay

import (
	"sync"
	"time"
)

// Role identifies a participant's slot in a room. The first joiner is the
// host, the second the guest; clients never assert a role themselves.
type Role string

const (
	RoleHost  Role = "host"
	RoleGuest Role = "guest"
)

// Room pairs at most two live connections for opaque frame relay.
//
// Concurrency guarantees:
// - join/leave are linearized under the room mutex: exactly one caller can
//   win each slot.
// - relayFrom never blocks (drops under backpressure) and is panic-safe
//   because Client.Send is never closed by the server.
// - All methods are safe after the room has been destroyed; they report
//   failure instead of acting on a dead room.
type Room struct {
	ID        string
	createdAt time.Time

	mu         sync.Mutex
	host       *Client
	guest      *Client
	everJoined bool
	emptySince time.Time
	closed     bool
}

func newRoom(id string, now time.Time) *Room {
	return &Room{ID: id, createdAt: now, emptySince: now}
}

// join assigns the caller the first free slot: host, then guest.
func (r *Room) join(c *Client) (Role, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.closed {
		return "", ErrRoomNotFound
	}
	switch {
	case r.host == nil:
		r.host = c
		r.everJoined = true
		return RoleHost, nil
	case r.guest == nil:
		r.guest = c
		r.everJoined = true
		return RoleGuest, nil
	default:
		return "", ErrRoomFull
	}
}

// leave removes connID from its slot. It reports whether the connection was a
// member and whether the room emptied out after having held participants
// (the caller destroys it in that case). Unknown connIDs are a safe no-op,
// which makes repeated disconnect handling idempotent.
func (r *Room) leave(connID string, now time.Time) (removed, emptiedOut bool) {
	var cl *Client

	r.mu.Lock()
	switch {
	case r.host != nil && r.host.ConnID == connID:
		cl, r.host = r.host, nil
	case r.guest != nil && r.guest.ConnID == connID:
		cl, r.guest = r.guest, nil
	}
	if cl != nil && r.host == nil && r.guest == nil {
		r.emptySince = now
		emptiedOut = r.everJoined
	}
	r.mu.Unlock()

	// Signal client shutdown after removing it from membership, so a
	// concurrent relayFrom never enqueues into a torn-down client.
	if cl != nil {
		cl.Close()
	}
	return cl != nil, emptiedOut
}

// relayFrom forwards f verbatim to the sender's counterpart. Reports whether
// the frame was handed to the peer's queue; a missing or departing peer makes
// this a no-op rather than an error (fire-and-forget, never buffered).
func (r *Room) relayFrom(senderID string, f Frame) bool {
	var peer *Client

	r.mu.Lock()
	switch {
	case r.host != nil && r.host.ConnID == senderID:
		peer = r.guest
	case r.guest != nil && r.guest.ConnID == senderID:
		peer = r.host
	}
	r.mu.Unlock()

	if peer == nil {
		return false
	}
	select {
	case <-peer.Done():
		return false
	default:
	}
	select {
	case peer.Send <- f:
		return true
	default:
		// Drop rather than block the sender's read loop on a stalled peer.
		return false
	}
}

func (r *Room) occupancy() int {
	r.mu.Lock()
	defer r.mu.Unlock()

	n := 0
	if r.host != nil {
		n++
	}
	if r.guest != nil {
		n++
	}
	return n
}

// idleEmpty reports whether the room has been empty longer than grace.
func (r *Room) idleEmpty(now time.Time, grace time.Duration) bool {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.host != nil || r.guest != nil {
		return false
	}
	return now.Sub(r.emptySince) > grace
}

// close marks the room dead and returns any clients that were still attached
// (possible when a join raced the destruction) so the caller can shut them
// down.
func (r *Room) close() []*Client {
	r.mu.Lock()
	r.closed = true
	var stranded []*Client
	if r.host != nil {
		stranded = append(stranded, r.host)
		r.host = nil
	}
	if r.guest != nil {
		stranded = append(stranded, r.guest)
		r.guest = nil
	}
	r.mu.Unlock()

	for _, cl := range stranded {
		cl.Close()
	}
	return stranded
}
