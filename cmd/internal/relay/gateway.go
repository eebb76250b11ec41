package relay

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"net"
	"net/http"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"hush/cmd/internal/ratelimit"

	"github.com/coder/websocket"
)

// TokenConsumer burns a single-use invite token and returns the room it
// authorizes. Implemented by the invite store; the gateway never touches
// tokens again after the join check.
type TokenConsumer interface {
	ConsumeToken(token string, now time.Time) (roomID string, err error)
}

// KeyLimiter is the slice of the rate limiter the gateway needs.
type KeyLimiter interface {
	Allow(key string, now time.Time) bool
}

// Counters receives gateway events for metrics export. Implementations must
// be safe for concurrent use.
type Counters interface {
	UpgradeRejected(reason string)
	ConnectionOpened()
	ConnectionClosed()
	FrameRelayed()
	FrameDropped()
}

type nopCounters struct{}

func (nopCounters) UpgradeRejected(string) {}
func (nopCounters) ConnectionOpened()      {}
func (nopCounters) ConnectionClosed()      {}
func (nopCounters) FrameRelayed()          {}
func (nopCounters) FrameDropped()          {}

// GatewayConfig tunes the relay handler. Zero fields fall back to defaults.
type GatewayConfig struct {
	MaxFrameBytes int64
	SendQueueSize int
	WriteTimeout  time.Duration

	HeartbeatInterval time.Duration
	HeartbeatTimeout  time.Duration

	Counters Counters
}

func (c GatewayConfig) withDefaults() GatewayConfig {
	if c.MaxFrameBytes <= 0 {
		c.MaxFrameBytes = defaultMaxFrameBytes
	}
	if c.SendQueueSize < minSendQueueSize {
		c.SendQueueSize = defaultSendQueueSize
	}
	if c.WriteTimeout <= 0 {
		c.WriteTimeout = defaultWriteTimeout
	}
	if c.HeartbeatInterval <= 0 {
		c.HeartbeatInterval = defaultHeartbeatInterval
	}
	if c.HeartbeatTimeout <= 0 {
		c.HeartbeatTimeout = 2 * c.HeartbeatInterval
	}
	if c.Counters == nil {
		c.Counters = nopCounters{}
	}
	return c
}

// Gateway is the WebSocket entrypoint of the relay.
//
// It enforces per-IP connection budgets, token-gated guest joins, frame size
// limits, per-room-per-client message budgets, and the heartbeat liveness
// protocol, and hands validated frames to the Registry untouched.
type Gateway struct {
	log      *slog.Logger
	registry *Registry
	tokens   TokenConsumer

	conns KeyLimiter
	msgs  KeyLimiter

	cfg GatewayConfig
}

// NewGateway constructs a gateway. tokens gates the guest slot; conns and
// msgs are the connection and message limiters.
func NewGateway(log *slog.Logger, registry *Registry, tokens TokenConsumer, conns, msgs KeyLimiter, cfg GatewayConfig) *Gateway {
	return &Gateway{
		log:      log,
		registry: registry,
		tokens:   tokens,
		conns:    conns,
		msgs:     msgs,
		cfg:      cfg.withDefaults(),
	}
}

// ServeHTTP adapter so the gateway can be mounted as http.Handler.
func (g *Gateway) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	g.HandleWS(w, r)
}

// HandleWS upgrades an HTTP request to a WebSocket session and runs the
// relay loop until the connection dies.
func (g *Gateway) HandleWS(w http.ResponseWriter, r *http.Request) {
	now := time.Now().UTC()
	ip := remoteHost(r.RemoteAddr)

	if !g.conns.Allow(ip, now) {
		g.cfg.Counters.UpgradeRejected("rate_limited")
		g.log.Info("ws.reject.rate_limited", "remote", ip)
		w.Header().Set("Retry-After", "1")
		http.Error(w, "too many requests", http.StatusTooManyRequests)
		return
	}

	roomID := r.PathValue("roomId")
	if roomID == "" || !g.registry.RoomExists(roomID) {
		g.cfg.Counters.UpgradeRejected("room_not_found")
		http.Error(w, "room not found", http.StatusNotFound)
		return
	}

	occupancy := g.registry.Occupancy(roomID)
	if occupancy >= 2 {
		// Cheap pre-upgrade rejection; the join after the upgrade re-checks
		// under the room lock and remains the definitive answer.
		g.cfg.Counters.UpgradeRejected("room_full")
		http.Error(w, "room full", http.StatusConflict)
		return
	}

	// The guest slot is token-gated: any join that is not the first needs a
	// consumable invite. The definitive check happens again after the join
	// (the room may fill or empty between here and there).
	inviteToken := strings.TrimSpace(r.URL.Query().Get("invite"))
	if inviteToken == "" && occupancy > 0 {
		g.cfg.Counters.UpgradeRejected("invite_required")
		http.Error(w, "invite required", http.StatusForbidden)
		return
	}

	// Join-as-consumption: the token is burnt before the slot is taken, so
	// exactly one join per token can ever happen. A join that loses the
	// slot race afterwards does not refund it.
	consumed := false
	if inviteToken != "" {
		if g.tokens == nil {
			g.cfg.Counters.UpgradeRejected("invite_rejected")
			http.Error(w, "invite rejected", http.StatusForbidden)
			return
		}
		grantedRoom, err := g.tokens.ConsumeToken(inviteToken, now)
		if err != nil {
			g.cfg.Counters.UpgradeRejected("invite_rejected")
			g.log.Info("ws.reject.invite", "remote", ip, "err", err)
			http.Error(w, "invite rejected", http.StatusForbidden)
			return
		}
		if grantedRoom != roomID {
			g.cfg.Counters.UpgradeRejected("invite_rejected")
			http.Error(w, "invite rejected", http.StatusForbidden)
			return
		}
		consumed = true
	}

	conn, err := websocket.Accept(w, r, nil)
	if err != nil {
		g.log.Info("ws.accept.fail", "err", err)
		return
	}
	defer func() { _ = conn.Close(websocket.StatusNormalClosure, "bye") }()

	conn.SetReadLimit(g.cfg.MaxFrameBytes)

	connID := newConnID(now)
	client := NewClient(connID, g.cfg.SendQueueSize)

	role, err := g.registry.JoinRoom(roomID, client)
	if err != nil {
		g.cfg.Counters.UpgradeRejected("room_unavailable")
		switch {
		case errors.Is(err, ErrRoomFull):
			_ = conn.Close(websocket.StatusTryAgainLater, "room full")
		default:
			_ = conn.Close(websocket.StatusGoingAway, "room gone")
		}
		return
	}
	if role == RoleGuest && !consumed {
		// Lost a race: the room looked empty before the upgrade but another
		// participant won the host slot meanwhile.
		g.registry.LeaveRoom(roomID, connID)
		g.cfg.Counters.UpgradeRejected("invite_required")
		_ = conn.Close(websocket.StatusPolicyViolation, "invite required")
		return
	}

	g.cfg.Counters.ConnectionOpened()
	g.runSession(r.Context(), conn, client, roomID)
}

// session-local liveness state, shared between the read loop and the
// heartbeat watchdog.
type liveness struct {
	lastSeen  atomic.Int64 // unix nanos of the last inbound frame
	heartbeat atomic.Bool  // set once the peer opts into the protocol
}

func (g *Gateway) runSession(parent context.Context, conn *websocket.Conn, client *Client, roomID string) {
	ctx, cancel := context.WithCancel(parent)
	defer cancel()

	var closeOnce sync.Once
	connID := client.ConnID

	// shutdown is idempotent and always: releases the room slot, stops the
	// goroutines, closes the socket. It does NOT close client.Send.
	shutdown := func(code websocket.StatusCode, reason string) {
		closeOnce.Do(func() {
			g.registry.LeaveRoom(roomID, connID)
			client.Close()
			_ = conn.Close(code, reason)
			cancel()
			g.cfg.Counters.ConnectionClosed()
			g.log.Info("ws.session.end", "room", shortRef(roomID), "conn", shortRef(connID), "reason", reason)
		})
	}

	live := &liveness{}
	live.lastSeen.Store(time.Now().UnixNano())

	writerDone := make(chan struct{})
	go func() {
		defer close(writerDone)

		for {
			select {
			case <-ctx.Done():
				return
			case <-client.Done():
				// The slot was released elsewhere (peer-driven room
				// destruction, shutdown sweep); finish tearing down.
				shutdown(websocket.StatusGoingAway, "room closed")
				return
			case f := <-client.Send:
				if err := g.writeFrame(ctx, conn, f); err != nil {
					g.log.Info("ws.write.fail", "conn", shortRef(connID), "close_status", websocket.CloseStatus(err), "err", err)
					shutdown(websocket.StatusAbnormalClosure, "write failed")
					return
				}
			}
		}
	}()

	watchdogDone := make(chan struct{})
	go func() {
		defer close(watchdogDone)

		t := time.NewTicker(g.cfg.HeartbeatInterval)
		defer t.Stop()

		for {
			select {
			case <-ctx.Done():
				return
			case <-client.Done():
				return
			case <-t.C:
				if !live.heartbeat.Load() {
					continue
				}
				last := time.Unix(0, live.lastSeen.Load())
				if time.Since(last) > g.cfg.HeartbeatTimeout {
					g.log.Info("ws.heartbeat.timeout", "conn", shortRef(connID))
					shutdown(websocket.StatusGoingAway, "heartbeat timeout")
					return
				}
			}
		}
	}()

	msgKey := ratelimit.RoomKey(roomID, connID)

readLoop:
	for {
		kind, data, err := conn.Read(ctx)
		if err != nil {
			switch classifyReadErr(err) {
			case readErrTooBig:
				g.log.Info("ws.protocol_violation", "conn", shortRef(connID), "reason", "frame too large")
				shutdown(websocket.StatusMessageTooBig, "frame exceeds limit")
			case readErrPeerClosed, readErrCtxDone:
				shutdown(websocket.StatusNormalClosure, "peer closed")
			default:
				g.log.Info("ws.read.fail", "conn", shortRef(connID), "err", err)
				shutdown(websocket.StatusAbnormalClosure, "read failed")
			}
			break readLoop
		}

		// Any inbound frame is an implicit liveness ack.
		live.lastSeen.Store(time.Now().UnixNano())

		if isHeartbeat(kind, data) {
			// First heartbeat opts the connection into the protocol.
			// Heartbeats are exempt from message-rate limiting and are
			// relayed so the counterpart can acknowledge.
			live.heartbeat.Store(true)
			g.registry.RelayTo(roomID, connID, Frame{Kind: kind, Data: data})
			continue
		}

		if !g.msgs.Allow(msgKey, time.Now().UTC()) {
			// Deliberately silent: a flooding sender gets no signal to
			// adapt its rate to.
			g.cfg.Counters.FrameDropped()
			continue
		}

		if g.registry.RelayTo(roomID, connID, Frame{Kind: kind, Data: data}) {
			g.cfg.Counters.FrameRelayed()
		}
	}

	shutdown(websocket.StatusNormalClosure, "bye")
	<-writerDone
	<-watchdogDone
}

func (g *Gateway) writeFrame(parent context.Context, conn *websocket.Conn, f Frame) error {
	ctx, cancel := context.WithTimeout(parent, g.cfg.WriteTimeout)
	defer cancel()
	return conn.Write(ctx, f.Kind, f.Data)
}

// ---- read error classification ----

type readErrKind uint8

const (
	readErrUnknown readErrKind = iota
	readErrPeerClosed
	readErrCtxDone
	readErrTooBig
)

func classifyReadErr(err error) readErrKind {
	if websocket.CloseStatus(err) == websocket.StatusMessageTooBig {
		return readErrTooBig
	}
	if websocket.CloseStatus(err) != -1 {
		return readErrPeerClosed
	}
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return readErrCtxDone
	}
	if errors.Is(err, net.ErrClosed) || errors.Is(err, io.EOF) {
		return readErrPeerClosed
	}

	// The library reports a breached read limit as a plain error; match it
	// by message as a fallback.
	if strings.Contains(err.Error(), "read limited at") {
		return readErrTooBig
	}
	return readErrUnknown
}

func remoteHost(addr string) string {
	if host, _, err := net.SplitHostPort(addr); err == nil {
		return host
	}
	return addr
}
