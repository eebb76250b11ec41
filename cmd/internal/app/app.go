// Package app wires the hush relay runtime: config, logging, metrics, HTTP
// routes, and the WebSocket gateway.
//
// Every component it assembles is memory-only; the process carries no state
// across restarts and that is the point.
package app

import (
	"context"
	"errors"
	"net/http"
	"time"

	"hush/cmd/internal/invite"
	inviteapi "hush/cmd/internal/invite/api"
	"hush/cmd/internal/ratelimit"
	"hush/cmd/internal/relay"

	"golang.org/x/sync/errgroup"
)

// App is the hush server runtime: it owns the room registry, the limiters,
// the invite store, and both HTTP listeners.
type App struct {
	cfg Config
	log Logger

	registry *relay.Registry
	conns    *ratelimit.Limiter
	msgs     *ratelimit.Limiter
	store    *invite.Store
	metrics  *Metrics

	gw      *relay.Gateway
	invites *inviteapi.Handler
}

// New constructs a fully wired App instance from config and logger.
func New(cfg Config, log Logger) (*App, error) {
	if log == nil {
		log = NewLogger(cfg.LogLevel)
	}

	if err := ValidateSecurityConfig(cfg); err != nil {
		return nil, err
	}

	registry := relay.NewRegistry(log, relay.RegistryConfig{
		IdleGrace:     cfg.RoomIdleGrace,
		SweepInterval: cfg.RoomSweepEvery,
	})

	conns := ratelimit.New(log, ratelimit.Config{
		Rate:          cfg.ConnRate,
		Burst:         cfg.ConnBurst,
		IdleAfter:     cfg.LimiterIdleAfter,
		SweepInterval: cfg.LimiterSweepEvery,
	})
	msgs := ratelimit.New(log, ratelimit.Config{
		Rate:          cfg.MsgRate,
		Burst:         cfg.MsgBurst,
		IdleAfter:     cfg.LimiterIdleAfter,
		SweepInterval: cfg.LimiterSweepEvery,
	})

	store := invite.NewStore(log, registry, invite.Config{
		DefaultTTL:    cfg.InviteTTL,
		SweepInterval: cfg.InviteSweepEvery,
	})

	metrics := NewMetrics(registry.RoomCount)

	gw := relay.NewGateway(log, registry, store, conns, msgs, relay.GatewayConfig{
		MaxFrameBytes:     cfg.MaxFrameBytes,
		SendQueueSize:     cfg.SendQueueSize,
		WriteTimeout:      cfg.WriteTimeout,
		HeartbeatInterval: cfg.HeartbeatInterval,
		HeartbeatTimeout:  cfg.HeartbeatTimeout,
		Counters:          metrics,
	})

	// One connection limiter governs both the invite endpoints and upgrade
	// attempts: a caller hammering one surface spends the same budget.
	invites := inviteapi.NewHandler(log, registry, store, conns, metrics)

	return &App{
		cfg:      cfg,
		log:      log,
		registry: registry,
		conns:    conns,
		msgs:     msgs,
		store:    store,
		metrics:  metrics,
		gw:       gw,
		invites:  invites,
	}, nil
}

// Run starts both listeners and the background sweeps, then blocks until
// context cancellation or a fatal server error.
func (a *App) Run(ctx context.Context) error {
	mux := http.NewServeMux()
	registerHTTP(mux, a.gw, a.invites)

	srv := &http.Server{
		Addr:              a.cfg.HTTPAddr,
		Handler:           WithSecurityHeaders(WithRequestLogging(mux, a.log)),
		ReadHeaderTimeout: nonZeroDuration(a.cfg.ReadHeaderTimeout, 5*time.Second),
		ReadTimeout:       nonZeroDuration(a.cfg.ReadTimeout, 15*time.Second),
		IdleTimeout:       nonZeroDuration(a.cfg.IdleTimeout, 60*time.Second),
		MaxHeaderBytes:    nonZeroInt(a.cfg.MaxHeaderBytes, 1<<20),
	}

	metricsMux := http.NewServeMux()
	metricsMux.Handle("GET /metrics", a.metrics.Handler())
	metricsSrv := &http.Server{
		Addr:              a.cfg.MetricsAddr,
		Handler:           metricsMux,
		ReadHeaderTimeout: 5 * time.Second,
	}

	g, ctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		a.log.Info("server.start", "addr", a.cfg.HTTPAddr, "tls", !a.cfg.Insecure)
		var err error
		if a.cfg.Insecure {
			err = srv.ListenAndServe()
		} else {
			err = srv.ListenAndServeTLS(a.cfg.TLSCertFile, a.cfg.TLSKeyFile)
		}
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})

	g.Go(func() error {
		a.log.Info("metrics.start", "addr", a.cfg.MetricsAddr)
		if err := metricsSrv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})

	g.Go(func() error { return a.registry.Run(ctx) })
	g.Go(func() error { return a.conns.Run(ctx) })
	g.Go(func() error { return a.msgs.Run(ctx) })
	g.Go(func() error { return a.store.Run(ctx) })
	g.Go(func() error { return a.pumpRoomEvents(ctx) })

	g.Go(func() error {
		<-ctx.Done()
		a.log.Info("server.stop", "reason", "context_done")

		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()

		if err := srv.Shutdown(shutdownCtx); err != nil {
			a.log.Error("server.shutdown.fail", "err", err)
		}
		if err := metricsSrv.Shutdown(shutdownCtx); err != nil {
			a.log.Error("metrics.shutdown.fail", "err", err)
		}
		return nil
	})

	err := g.Wait()
	if err != nil {
		a.log.Error("server.fail", "err", err)
		return err
	}

	a.log.Info("server.stopped")
	return nil
}

// pumpRoomEvents keeps the limiter and the token store aligned with room
// lifecycle: a destroyed room's message buckets and outstanding invites are
// gone the moment the room is.
func (a *App) pumpRoomEvents(ctx context.Context) error {
	for {
		select {
		case <-ctx.Done():
			return nil
		case ev := <-a.registry.Events():
			if ev.Kind != relay.EventRoomClosed {
				continue
			}
			a.msgs.RemoveRoom(ev.RoomID)
			a.store.RemoveRoom(ev.RoomID)
		}
	}
}

func nonZeroDuration(v, def time.Duration) time.Duration {
	if v <= 0 {
		return def
	}
	return v
}

func nonZeroInt(v, def int) int {
	if v <= 0 {
		return def
	}
	return v
}
