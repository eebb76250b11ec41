// Package ratelimit implements keyed token-bucket throttling.
//
// One Limiter instance serves one concern: the connection limiter is keyed by
// source IP, the message limiter by roomID:clientID (see RoomKey). The
// algorithm is a classic lazy-refill bucket: no per-bucket timers, refill is
// derived from elapsed time at call time, and critical sections contain token
// math only.
package ratelimit

import (
	"context"
	"log/slog"
	"strings"
	"sync"
	"time"
)

const (
	defaultRate  = 10.0
	defaultBurst = 20.0

	defaultIdleAfter     = 5 * time.Minute
	defaultSweepInterval = time.Minute
)

// RoomKey builds the message-limiter key for a client inside a room.
// The ":" separator is load-bearing: RemoveRoom matches on the
// "roomID:" boundary, so room IDs that are prefixes of one another
// ("room1", "room10") never collide.
func RoomKey(roomID, clientID string) string {
	return roomID + ":" + clientID
}

type bucket struct {
	tokens     float64
	lastRefill time.Time
	lastSeen   time.Time
}

// Config tunes a Limiter. Zero or negative fields fall back to defaults.
type Config struct {
	// Rate is tokens refilled per second.
	Rate float64
	// Burst is the bucket capacity; tokens never exceed it.
	Burst float64
	// IdleAfter is how long an untouched bucket survives before the
	// sweep evicts it.
	IdleAfter time.Duration
	// SweepInterval is the cadence of the background eviction pass.
	SweepInterval time.Duration
}

func (c Config) withDefaults() Config {
	if c.Rate <= 0 {
		c.Rate = defaultRate
	}
	if c.Burst <= 0 {
		c.Burst = defaultBurst
	}
	if c.IdleAfter <= 0 {
		c.IdleAfter = defaultIdleAfter
	}
	if c.SweepInterval <= 0 {
		c.SweepInterval = defaultSweepInterval
	}
	return c
}

// Limiter is a thread-safe map of token buckets.
type Limiter struct {
	log *slog.Logger
	cfg Config

	mu      sync.Mutex
	buckets map[string]*bucket
}

// New constructs a Limiter with safe defaults for invalid config.
func New(log *slog.Logger, cfg Config) *Limiter {
	return &Limiter{
		log:     log,
		cfg:     cfg.withDefaults(),
		buckets: make(map[string]*bucket),
	}
}

// Allow reports whether one event for key at time now fits the budget,
// withdrawing a token when it does.
func (l *Limiter) Allow(key string, now time.Time) bool {
	l.mu.Lock()
	defer l.mu.Unlock()

	b, ok := l.buckets[key]
	if !ok {
		b = &bucket{tokens: l.cfg.Burst, lastRefill: now}
		l.buckets[key] = b
	} else if elapsed := now.Sub(b.lastRefill); elapsed > 0 {
		b.tokens = min(l.cfg.Burst, b.tokens+elapsed.Seconds()*l.cfg.Rate)
		b.lastRefill = now
	}
	b.lastSeen = now

	if b.tokens < 1 {
		return false
	}
	b.tokens--
	return true
}

// RemoveRoom evicts every bucket whose key belongs to roomID and returns how
// many were removed. Matching is exact on the "roomID:" boundary.
func (l *Limiter) RemoveRoom(roomID string) int {
	prefix := roomID + ":"

	l.mu.Lock()
	defer l.mu.Unlock()

	n := 0
	for key := range l.buckets {
		if strings.HasPrefix(key, prefix) {
			delete(l.buckets, key)
			n++
		}
	}
	return n
}

// Sweep evicts buckets idle longer than IdleAfter and returns how many were
// removed. Exposed for tests; Run calls it periodically.
func (l *Limiter) Sweep(now time.Time) int {
	cut := now.Add(-l.cfg.IdleAfter)

	l.mu.Lock()
	defer l.mu.Unlock()

	n := 0
	for key, b := range l.buckets {
		if b.lastSeen.Before(cut) {
			delete(l.buckets, key)
			n++
		}
	}
	return n
}

// Len returns the number of live buckets (for metrics and tests).
func (l *Limiter) Len() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.buckets)
}

// Run drives the background eviction sweep until ctx is done.
func (l *Limiter) Run(ctx context.Context) error {
	t := time.NewTicker(l.cfg.SweepInterval)
	defer t.Stop()

	for {
		select {
		case <-ctx.Done():
			return nil
		case <-t.C:
			if n := l.Sweep(time.Now().UTC()); n > 0 {
				l.log.Debug("ratelimit.sweep", "evicted", n)
			}
		}
	}
}
