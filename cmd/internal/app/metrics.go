package app

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics exports relay and invite counters to Prometheus. It deliberately
// carries no per-room labels: cardinality stays flat and room IDs stay out of
// the metrics surface.
type Metrics struct {
	reg *prometheus.Registry

	roomsActive       prometheus.GaugeFunc
	connectionsActive prometheus.Gauge
	framesRelayed     prometheus.Counter
	framesDropped     prometheus.Counter
	wsRejected        *prometheus.CounterVec
	tokensIssued      prometheus.Counter
	roomsCreated      prometheus.Counter
	httpRateLimited   prometheus.Counter
}

// NewMetrics builds the registry. roomCount feeds the active-rooms gauge on
// every scrape.
func NewMetrics(roomCount func() int) *Metrics {
	reg := prometheus.NewRegistry()
	reg.MustRegister(collectors.NewGoCollector())
	reg.MustRegister(collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))

	m := &Metrics{
		reg: reg,
		roomsActive: prometheus.NewGaugeFunc(prometheus.GaugeOpts{
			Name: "hush_rooms_active",
			Help: "Number of live rooms.",
		}, func() float64 { return float64(roomCount()) }),
		connectionsActive: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "hush_connections_active",
			Help: "Number of open WebSocket sessions.",
		}),
		framesRelayed: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "hush_frames_relayed_total",
			Help: "Frames handed to a peer's send queue.",
		}),
		framesDropped: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "hush_frames_dropped_total",
			Help: "Frames dropped by the message rate limiter.",
		}),
		wsRejected: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "hush_ws_rejected_total",
			Help: "WebSocket joins rejected before or during upgrade.",
		}, []string{"reason"}),
		tokensIssued: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "hush_invite_tokens_issued_total",
			Help: "Invite tokens minted.",
		}),
		roomsCreated: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "hush_rooms_created_total",
			Help: "Rooms created over the HTTP surface.",
		}),
		httpRateLimited: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "hush_http_rate_limited_total",
			Help: "Invite/room HTTP requests rejected by the rate limiter.",
		}),
	}

	reg.MustRegister(
		m.roomsActive,
		m.connectionsActive,
		m.framesRelayed,
		m.framesDropped,
		m.wsRejected,
		m.tokensIssued,
		m.roomsCreated,
		m.httpRateLimited,
	)
	return m
}

// Handler returns the scrape endpoint for the metrics listener.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.reg, promhttp.HandlerOpts{})
}

// relay.Counters

func (m *Metrics) UpgradeRejected(reason string) { m.wsRejected.WithLabelValues(reason).Inc() }
func (m *Metrics) ConnectionOpened()             { m.connectionsActive.Inc() }
func (m *Metrics) ConnectionClosed()             { m.connectionsActive.Dec() }
func (m *Metrics) FrameRelayed()                 { m.framesRelayed.Inc() }
func (m *Metrics) FrameDropped()                 { m.framesDropped.Inc() }

// inviteapi.Metrics

func (m *Metrics) RoomCreated() { m.roomsCreated.Inc() }
func (m *Metrics) TokenIssued() { m.tokensIssued.Inc() }
func (m *Metrics) RateLimited() { m.httpRateLimited.Inc() }
