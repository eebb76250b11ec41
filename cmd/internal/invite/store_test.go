package invite

import (
	"errors"
	"io"
	"log/slog"
	"sync"
	"testing"
	"time"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

type fakeRooms struct {
	mu   sync.Mutex
	live map[string]bool
}

func newFakeRooms(ids ...string) *fakeRooms {
	r := &fakeRooms{live: make(map[string]bool)}
	for _, id := range ids {
		r.live[id] = true
	}
	return r
}

func (r *fakeRooms) RoomExists(roomID string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.live[roomID]
}

func (r *fakeRooms) destroy(roomID string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.live, roomID)
}

func TestCreateTokenBindsRoomAndExpiry(t *testing.T) {
	now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	s := NewStore(testLogger(), newFakeRooms("room-1"), Config{})

	plain, tok, err := s.CreateToken("room-1", 0, now)
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	if plain == "" {
		t.Fatalf("expected a plain token")
	}
	if tok.RoomID != "room-1" {
		t.Fatalf("token room = %q, want room-1", tok.RoomID)
	}
	if want := now.Add(24 * time.Hour); !tok.ExpiresAt.Equal(want) {
		t.Fatalf("expires at %v, want %v", tok.ExpiresAt, want)
	}

	roomID, err := s.ValidateToken(plain, now.Add(time.Hour))
	if err != nil {
		t.Fatalf("validate: %v", err)
	}
	if roomID != "room-1" {
		t.Fatalf("validate room = %q, want room-1", roomID)
	}
}

func TestCreateTokenUnknownRoom(t *testing.T) {
	s := NewStore(testLogger(), newFakeRooms(), Config{})

	if _, _, err := s.CreateToken("ghost", 0, time.Now().UTC()); !errors.Is(err, ErrRoomNotFound) {
		t.Fatalf("err = %v, want ErrRoomNotFound", err)
	}
}

func TestValidateDoesNotConsume(t *testing.T) {
	now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	s := NewStore(testLogger(), newFakeRooms("room-1"), Config{})

	plain, _, err := s.CreateToken("room-1", time.Hour, now)
	if err != nil {
		t.Fatalf("create: %v", err)
	}

	for range 3 {
		if _, err := s.ValidateToken(plain, now); err != nil {
			t.Fatalf("validate should be repeatable: %v", err)
		}
	}
	if _, err := s.ConsumeToken(plain, now); err != nil {
		t.Fatalf("consume after validates: %v", err)
	}
}

func TestConsumeIsSingleUse(t *testing.T) {
	now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	s := NewStore(testLogger(), newFakeRooms("room-1"), Config{})

	plain, _, err := s.CreateToken("room-1", time.Hour, now)
	if err != nil {
		t.Fatalf("create: %v", err)
	}

	if _, err := s.ConsumeToken(plain, now); err != nil {
		t.Fatalf("first consume: %v", err)
	}
	if _, err := s.ConsumeToken(plain, now); !errors.Is(err, ErrTokenAlreadyUsed) {
		t.Fatalf("second consume err = %v, want ErrTokenAlreadyUsed", err)
	}
	if _, err := s.ValidateToken(plain, now); !errors.Is(err, ErrTokenAlreadyUsed) {
		t.Fatalf("validate after consume err = %v, want ErrTokenAlreadyUsed", err)
	}
}

func TestConsumeConcurrentSingleWinner(t *testing.T) {
	now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	s := NewStore(testLogger(), newFakeRooms("room-1"), Config{})

	plain, _, err := s.CreateToken("room-1", time.Hour, now)
	if err != nil {
		t.Fatalf("create: %v", err)
	}

	const callers = 16
	var wg sync.WaitGroup
	wins := make(chan struct{}, callers)

	for range callers {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if _, err := s.ConsumeToken(plain, now); err == nil {
				wins <- struct{}{}
			}
		}()
	}
	wg.Wait()
	close(wins)

	if got := len(wins); got != 1 {
		t.Fatalf("%d consumers succeeded, want exactly 1", got)
	}
}

func TestTokenExpiry(t *testing.T) {
	now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	s := NewStore(testLogger(), newFakeRooms("room-1"), Config{})

	plain, _, err := s.CreateToken("room-1", time.Hour, now)
	if err != nil {
		t.Fatalf("create: %v", err)
	}

	if _, err := s.ValidateToken(plain, now.Add(59*time.Minute)); err != nil {
		t.Fatalf("validate before expiry: %v", err)
	}
	// Expiry instant itself is already invalid.
	if _, err := s.ValidateToken(plain, now.Add(time.Hour)); !errors.Is(err, ErrTokenExpired) {
		t.Fatalf("validate at expiry err = %v, want ErrTokenExpired", err)
	}
	if _, err := s.ConsumeToken(plain, now.Add(2*time.Hour)); !errors.Is(err, ErrTokenExpired) {
		t.Fatalf("consume after expiry err = %v, want ErrTokenExpired", err)
	}
}

func TestTokenInvalidWhenRoomGone(t *testing.T) {
	now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	rooms := newFakeRooms("room-1")
	s := NewStore(testLogger(), rooms, Config{})

	plain, _, err := s.CreateToken("room-1", time.Hour, now)
	if err != nil {
		t.Fatalf("create: %v", err)
	}

	rooms.destroy("room-1")
	if _, err := s.ConsumeToken(plain, now); !errors.Is(err, ErrRoomNotFound) {
		t.Fatalf("err = %v, want ErrRoomNotFound", err)
	}
}

func TestUnknownAndBlankTokens(t *testing.T) {
	s := NewStore(testLogger(), newFakeRooms("room-1"), Config{})

	if _, err := s.ValidateToken("never-minted", time.Now().UTC()); !errors.Is(err, ErrTokenNotFound) {
		t.Fatalf("err = %v, want ErrTokenNotFound", err)
	}
	if _, err := s.ConsumeToken("   ", time.Now().UTC()); !errors.Is(err, ErrTokenNotFound) {
		t.Fatalf("blank token err = %v, want ErrTokenNotFound", err)
	}
}

func TestSweepRemovesOnlyExpired(t *testing.T) {
	now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	s := NewStore(testLogger(), newFakeRooms("room-1"), Config{})

	if _, _, err := s.CreateToken("room-1", time.Hour, now); err != nil {
		t.Fatalf("create short: %v", err)
	}
	usedPlain, _, err := s.CreateToken("room-1", time.Hour, now)
	if err != nil {
		t.Fatalf("create used: %v", err)
	}
	if _, err := s.ConsumeToken(usedPlain, now); err != nil {
		t.Fatalf("consume: %v", err)
	}
	if _, _, err := s.CreateToken("room-1", 48*time.Hour, now); err != nil {
		t.Fatalf("create long: %v", err)
	}

	// Used tokens stay resident until expiry so reuse keeps reporting
	// already-used.
	if n := s.Sweep(now.Add(30 * time.Minute)); n != 0 {
		t.Fatalf("early sweep removed %d, want 0", n)
	}
	if _, err := s.ConsumeToken(usedPlain, now.Add(30*time.Minute)); !errors.Is(err, ErrTokenAlreadyUsed) {
		t.Fatalf("err = %v, want ErrTokenAlreadyUsed", err)
	}

	if n := s.Sweep(now.Add(2 * time.Hour)); n != 2 {
		t.Fatalf("sweep removed %d, want 2", n)
	}
	if got := s.Len(); got != 1 {
		t.Fatalf("len = %d, want 1", got)
	}
}

func TestRemoveRoomDropsItsTokens(t *testing.T) {
	now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	s := NewStore(testLogger(), newFakeRooms("room-1", "room-2"), Config{})

	if _, _, err := s.CreateToken("room-1", time.Hour, now); err != nil {
		t.Fatalf("create: %v", err)
	}
	if _, _, err := s.CreateToken("room-1", time.Hour, now); err != nil {
		t.Fatalf("create: %v", err)
	}
	keep, _, err := s.CreateToken("room-2", time.Hour, now)
	if err != nil {
		t.Fatalf("create: %v", err)
	}

	if n := s.RemoveRoom("room-1"); n != 2 {
		t.Fatalf("removed %d tokens, want 2", n)
	}
	if _, err := s.ValidateToken(keep, now); err != nil {
		t.Fatalf("other room's token must survive: %v", err)
	}
}

func TestTokensAreUnique(t *testing.T) {
	now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	s := NewStore(testLogger(), newFakeRooms("room-1"), Config{})

	seen := make(map[string]bool)
	for range 100 {
		plain, _, err := s.CreateToken("room-1", time.Hour, now)
		if err != nil {
			t.Fatalf("create: %v", err)
		}
		if seen[plain] {
			t.Fatalf("duplicate token minted")
		}
		seen[plain] = true
	}
}
