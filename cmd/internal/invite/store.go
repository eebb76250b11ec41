// Package invite manages single-use, expiring room-invite tokens.
//
// The token is the capability: an unguessable 32-byte random string handed
// out exactly once at creation. The store keeps only its HMAC-SHA256 hash,
// bound to a room and a single absolute expiry instant. Everything lives in
// process memory; a restart revokes all outstanding invites by construction.
package invite

import (
	"context"
	"crypto/rand"
	"encoding/base64"
	"log/slog"
	"strings"
	"sync"
	"time"

	"hush/cmd/security/token"
)

const (
	defaultTokenBytes    = 32
	defaultTTL           = 24 * time.Hour
	defaultSweepInterval = 5 * time.Minute
)

// Rooms is the slice of the room registry the store needs: a token is only
// valid while its room exists.
type Rooms interface {
	RoomExists(roomID string) bool
}

// Token is the caller-visible view of a minted invite. The plain token value
// travels separately and is never retained.
type Token struct {
	RoomID    string
	CreatedAt time.Time
	ExpiresAt time.Time
}

type record struct {
	roomID    string
	createdAt time.Time
	expiresAt time.Time
	used      bool
}

// Config tunes the Store. Zero fields fall back to defaults.
type Config struct {
	DefaultTTL    time.Duration
	TokenBytes    int
	SweepInterval time.Duration
}

func (c Config) withDefaults() Config {
	if c.DefaultTTL <= 0 {
		c.DefaultTTL = defaultTTL
	}
	if c.TokenBytes <= 0 {
		c.TokenBytes = defaultTokenBytes
	}
	if c.SweepInterval <= 0 {
		c.SweepInterval = defaultSweepInterval
	}
	return c
}

// Store mints, validates and consumes invite tokens.
type Store struct {
	log   *slog.Logger
	rooms Rooms
	cfg   Config

	mu     sync.Mutex
	byHash map[string]*record
}

// NewStore constructs an empty Store backed by rooms for existence checks.
func NewStore(log *slog.Logger, rooms Rooms, cfg Config) *Store {
	return &Store{
		log:    log,
		rooms:  rooms,
		cfg:    cfg.withDefaults(),
		byHash: make(map[string]*record),
	}
}

// CreateToken mints a token bound to roomID. ttl <= 0 selects the default
// lifetime; a zero now means the current time. The plain token is returned
// exactly once.
func (s *Store) CreateToken(roomID string, ttl time.Duration, now time.Time) (string, Token, error) {
	if now.IsZero() {
		now = time.Now().UTC()
	}
	if ttl <= 0 {
		ttl = s.cfg.DefaultTTL
	}
	if s.rooms == nil || !s.rooms.RoomExists(roomID) {
		return "", Token{}, ErrRoomNotFound
	}

	plain, err := newOpaqueToken(s.cfg.TokenBytes)
	if err != nil {
		return "", Token{}, err
	}
	rec := &record{
		roomID:    roomID,
		createdAt: now,
		expiresAt: now.Add(ttl),
	}

	s.mu.Lock()
	s.byHash[token.HashInviteTokenHex(plain)] = rec
	s.mu.Unlock()

	s.log.Info("invite.created", "room", shortRef(roomID), "expires_at", rec.expiresAt)
	return plain, Token{RoomID: roomID, CreatedAt: now, ExpiresAt: rec.expiresAt}, nil
}

// ValidateToken is a pure check: it reports the room a valid token grants
// entry to without consuming it.
func (s *Store) ValidateToken(tokenStr string, now time.Time) (string, error) {
	return s.lookup(tokenStr, now, false)
}

// ConsumeToken atomically checks validity and marks the token used. Exactly
// one concurrent caller can ever succeed for a given token.
func (s *Store) ConsumeToken(tokenStr string, now time.Time) (string, error) {
	return s.lookup(tokenStr, now, true)
}

func (s *Store) lookup(tokenStr string, now time.Time, consume bool) (string, error) {
	tokenStr = strings.TrimSpace(tokenStr)
	if tokenStr == "" {
		return "", ErrTokenNotFound
	}
	if now.IsZero() {
		now = time.Now().UTC()
	}
	hash := token.HashInviteTokenHex(tokenStr)

	s.mu.Lock()
	defer s.mu.Unlock()

	rec, ok := s.byHash[hash]
	if !ok {
		return "", ErrTokenNotFound
	}
	// Valid iff now < expiresAt && !used && the room still exists.
	if !now.Before(rec.expiresAt) {
		return "", ErrTokenExpired
	}
	if rec.used {
		return "", ErrTokenAlreadyUsed
	}
	if s.rooms == nil || !s.rooms.RoomExists(rec.roomID) {
		return "", ErrRoomNotFound
	}
	if consume {
		rec.used = true
		s.log.Info("invite.consumed", "room", shortRef(rec.roomID))
	}
	return rec.roomID, nil
}

// RemoveRoom deletes every token bound to a destroyed room and returns how
// many were removed.
func (s *Store) RemoveRoom(roomID string) int {
	s.mu.Lock()
	defer s.mu.Unlock()

	n := 0
	for hash, rec := range s.byHash {
		if rec.roomID == roomID {
			delete(s.byHash, hash)
			n++
		}
	}
	return n
}

// Sweep deletes tokens past their expiry and returns how many were removed.
// Used tokens survive until expiry so repeat consumers keep seeing
// ErrTokenAlreadyUsed rather than ErrTokenNotFound.
func (s *Store) Sweep(now time.Time) int {
	s.mu.Lock()
	defer s.mu.Unlock()

	n := 0
	for hash, rec := range s.byHash {
		if !now.Before(rec.expiresAt) {
			delete(s.byHash, hash)
			n++
		}
	}
	return n
}

// Len returns the number of live token records (for tests and metrics).
func (s *Store) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.byHash)
}

// Run drives the expiry sweep until ctx is done.
func (s *Store) Run(ctx context.Context) error {
	t := time.NewTicker(s.cfg.SweepInterval)
	defer t.Stop()

	for {
		select {
		case <-ctx.Done():
			return nil
		case <-t.C:
			if n := s.Sweep(time.Now().UTC()); n > 0 {
				s.log.Debug("invite.sweep", "removed", n)
			}
		}
	}
}

func newOpaqueToken(nBytes int) (string, error) {
	b := make([]byte, nBytes)
	if _, err := rand.Read(b); err != nil {
		return "", err
	}
	return base64.RawURLEncoding.EncodeToString(b), nil
}

// shortRef truncates an identifier for logging; room IDs never appear whole.
func shortRef(s string) string {
	if len(s) <= 8 {
		return s
	}
	return s[:8] + "..."
}
