// Package inviteapi exposes the room and invite management surface over
// HTTP. It is a thin JSON boundary: all decisions live in the invite store
// and the room registry.
package inviteapi

import (
	"errors"
	"log/slog"
	"net"
	"net/http"
	"time"

	"hush/cmd/internal/invite"
)

// RoomCreator is the slice of the room registry the handler needs.
type RoomCreator interface {
	CreateRoom() string
}

// TokenStore is the invite store surface the handler drives.
type TokenStore interface {
	CreateToken(roomID string, ttl time.Duration, now time.Time) (string, invite.Token, error)
	ValidateToken(token string, now time.Time) (string, error)
}

// Limiter gates requests per source IP.
type Limiter interface {
	Allow(key string, now time.Time) bool
}

// Metrics receives handler events. Implementations must be safe for
// concurrent use.
type Metrics interface {
	RoomCreated()
	TokenIssued()
	RateLimited()
}

type nopMetrics struct{}

func (nopMetrics) RoomCreated() {}
func (nopMetrics) TokenIssued() {}
func (nopMetrics) RateLimited() {}

// Handler serves the invite and room-creation endpoints.
type Handler struct {
	log     *slog.Logger
	rooms   RoomCreator
	store   TokenStore
	limiter Limiter
	metrics Metrics
}

// NewHandler constructs the HTTP surface. metrics may be nil.
func NewHandler(log *slog.Logger, rooms RoomCreator, store TokenStore, limiter Limiter, metrics Metrics) *Handler {
	if metrics == nil {
		metrics = nopMetrics{}
	}
	return &Handler{log: log, rooms: rooms, store: store, limiter: limiter, metrics: metrics}
}

// Register mounts the handler's routes on mux.
func (h *Handler) Register(mux *http.ServeMux) {
	mux.HandleFunc("POST /rooms/create", h.handleCreateRoom)
	mux.HandleFunc("POST /invite/create/{roomId}", h.handleCreateInvite)
	mux.HandleFunc("GET /invite/validate/{token}", h.handleValidateInvite)
}

type createRoomResponse struct {
	RoomID string `json:"roomId"`
}

func (h *Handler) handleCreateRoom(w http.ResponseWriter, r *http.Request) {
	if !h.allow(r) {
		writeRateLimited(w)
		return
	}

	id := h.rooms.CreateRoom()
	h.metrics.RoomCreated()
	writeJSON(w, http.StatusCreated, createRoomResponse{RoomID: id})
}

type createInviteResponse struct {
	Token     string `json:"token"`
	RoomID    string `json:"roomId"`
	ExpiresIn int64  `json:"expiresIn"` // seconds until expiry
}

func (h *Handler) handleCreateInvite(w http.ResponseWriter, r *http.Request) {
	if !h.allow(r) {
		writeRateLimited(w)
		return
	}

	roomID := r.PathValue("roomId")
	now := time.Now().UTC()

	plain, tok, err := h.store.CreateToken(roomID, 0, now)
	if err != nil {
		if errors.Is(err, invite.ErrRoomNotFound) {
			writeError(w, http.StatusNotFound, "room_not_found", "room not found")
			return
		}
		h.log.Error("invite.create.fail", "err", err)
		writeError(w, http.StatusInternalServerError, "internal", "could not create invite")
		return
	}

	h.metrics.TokenIssued()
	writeJSON(w, http.StatusCreated, createInviteResponse{
		Token:     plain,
		RoomID:    tok.RoomID,
		ExpiresIn: int64(tok.ExpiresAt.Sub(now).Seconds()),
	})
}

type validateInviteResponse struct {
	Valid  bool   `json:"valid"`
	RoomID string `json:"roomId,omitempty"`
	Error  string `json:"error,omitempty"`
}

func (h *Handler) handleValidateInvite(w http.ResponseWriter, r *http.Request) {
	if !h.allow(r) {
		writeRateLimited(w)
		return
	}

	roomID, err := h.store.ValidateToken(r.PathValue("token"), time.Now().UTC())
	if err != nil {
		writeJSON(w, http.StatusOK, validateInviteResponse{Valid: false, Error: validationCode(err)})
		return
	}
	writeJSON(w, http.StatusOK, validateInviteResponse{Valid: true, RoomID: roomID})
}

func validationCode(err error) string {
	switch {
	case errors.Is(err, invite.ErrTokenExpired):
		return "token_expired"
	case errors.Is(err, invite.ErrTokenAlreadyUsed):
		return "token_already_used"
	case errors.Is(err, invite.ErrRoomNotFound):
		return "room_not_found"
	default:
		return "token_not_found"
	}
}

func (h *Handler) allow(r *http.Request) bool {
	if h.limiter == nil {
		return true
	}
	if h.limiter.Allow(remoteHost(r.RemoteAddr), time.Now().UTC()) {
		return true
	}
	h.metrics.RateLimited()
	h.log.Info("invite.api.rate_limited", "remote", remoteHost(r.RemoteAddr), "path", r.URL.Path)
	return false
}

func remoteHost(addr string) string {
	if host, _, err := net.SplitHostPort(addr); err == nil {
		return host
	}
	return addr
}
