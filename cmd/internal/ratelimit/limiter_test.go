package ratelimit

import (
	"io"
	"log/slog"
	"testing"
	"time"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func TestAllowBurstThenDeny(t *testing.T) {
	t.Parallel()

	l := New(testLogger(), Config{Rate: 10, Burst: 20})
	now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

	for i := 0; i < 20; i++ {
		if !l.Allow("10.0.0.1", now) {
			t.Fatalf("call %d should be allowed within burst", i+1)
		}
	}
	if l.Allow("10.0.0.1", now) {
		t.Fatalf("call 21 should be denied")
	}
}

func TestAllowRefillsOverTime(t *testing.T) {
	t.Parallel()

	l := New(testLogger(), Config{Rate: 10, Burst: 20})
	now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

	for i := 0; i < 20; i++ {
		l.Allow("k", now)
	}
	if l.Allow("k", now) {
		t.Fatalf("bucket should be empty")
	}

	// At 10 tokens/s, 150ms refills 1.5 tokens: one withdrawal fits, two do not.
	now = now.Add(150 * time.Millisecond)
	if !l.Allow("k", now) {
		t.Fatalf("expected refill after 150ms")
	}
	if l.Allow("k", now) {
		t.Fatalf("second withdrawal should fail, only 0.5 tokens remain")
	}
}

func TestAllowNeverExceedsBurst(t *testing.T) {
	t.Parallel()

	l := New(testLogger(), Config{Rate: 10, Burst: 20})
	now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

	l.Allow("k", now)

	// An hour of refill still caps the bucket at burst.
	now = now.Add(time.Hour)
	for i := 0; i < 20; i++ {
		if !l.Allow("k", now) {
			t.Fatalf("call %d should be allowed within burst", i+1)
		}
	}
	if l.Allow("k", now) {
		t.Fatalf("burst capacity must not be exceeded")
	}
}

func TestAllowKeysAreIndependent(t *testing.T) {
	t.Parallel()

	l := New(testLogger(), Config{Rate: 1, Burst: 1})
	now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

	if !l.Allow("a", now) {
		t.Fatalf("first call for key a should pass")
	}
	if l.Allow("a", now) {
		t.Fatalf("key a should be exhausted")
	}
	if !l.Allow("b", now) {
		t.Fatalf("key b must have its own bucket")
	}
}

func TestRemoveRoomMatchesPrefixBoundary(t *testing.T) {
	t.Parallel()

	l := New(testLogger(), Config{Rate: 10, Burst: 20})
	now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

	for _, key := range []string{
		RoomKey("room1", "alice"),
		RoomKey("room1", "bob"),
		RoomKey("room10", "carol"),
		RoomKey("room1x", "dave"),
	} {
		l.Allow(key, now)
	}

	if got := l.RemoveRoom("room1"); got != 2 {
		t.Fatalf("RemoveRoom(room1)=%d want 2", got)
	}
	if got := l.Len(); got != 2 {
		t.Fatalf("expected room10 and room1x buckets to survive, have %d", got)
	}
}

func TestSweepEvictsIdleBuckets(t *testing.T) {
	t.Parallel()

	l := New(testLogger(), Config{Rate: 10, Burst: 20, IdleAfter: time.Minute})
	now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

	l.Allow("old", now)
	l.Allow("fresh", now.Add(90*time.Second))

	if got := l.Sweep(now.Add(2 * time.Minute)); got != 1 {
		t.Fatalf("Sweep()=%d want 1", got)
	}
	if got := l.Len(); got != 1 {
		t.Fatalf("Len()=%d want 1", got)
	}

	// The surviving bucket keeps its state.
	if !l.Allow("fresh", now.Add(2*time.Minute)) {
		t.Fatalf("fresh bucket should still allow")
	}
}

func TestRoomKey(t *testing.T) {
	t.Parallel()

	if got := RoomKey("r1", "c9"); got != "r1:c9" {
		t.Fatalf("RoomKey=%q want %q", got, "r1:c9")
	}
}
