package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/fx"
)

// Metrics owns a private registry so that independent instances (tests, multiple
// servers in one process) never collide on registration.
type Metrics struct {
	registry *prometheus.Registry

	TickDuration      prometheus.Histogram
	TickOverruns      prometheus.Counter
	ActiveSessions    prometheus.Gauge
	QueueSize         prometheus.Gauge
	Pairings          prometheus.Counter
	MatchesCompleted  *prometheus.CounterVec
	DroppedInputs     prometheus.Counter
	LeaderboardReads  *prometheus.CounterVec
	CacheErrors       prometheus.Counter
	RatingStoreErrors prometheus.Counter
}

func New() *Metrics {
	reg := prometheus.NewPedanticRegistry()
	m := &Metrics{
		registry: reg,
		TickDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "arena_tick_duration_seconds",
			Help:    "Wall time spent simulating one session tick",
			Buckets: []float64{.0005, .001, .0025, .005, .01, .025, .05, .1},
		}),
		TickOverruns: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "arena_tick_overruns_total",
			Help: "Ticks whose work exceeded the tick period",
		}),
		ActiveSessions: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "arena_sessions_active",
			Help: "Match sessions currently running",
		}),
		QueueSize: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "arena_queue_size",
			Help: "Players waiting in the matchmaking pool",
		}),
		Pairings: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "arena_pairings_total",
			Help: "Pairs produced by the matchmaker",
		}),
		MatchesCompleted: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "arena_matches_completed_total",
			Help: "Completed matches by end reason",
		}, []string{"end_reason"}),
		DroppedInputs: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "arena_inputs_dropped_total",
			Help: "Input samples discarded as out of order or invalid",
		}),
		LeaderboardReads: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "arena_leaderboard_reads_total",
			Help: "Leaderboard page reads by source",
		}, []string{"source"}),
		CacheErrors: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "arena_cache_errors_total",
			Help: "Leaderboard cache operations that failed and fell back",
		}),
		RatingStoreErrors: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "arena_rating_store_errors_total",
			Help: "Matches left completed but unrated after a store failure",
		}),
	}

	reg.MustRegister(
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
		collectors.NewGoCollector(),
		m.TickDuration,
		m.TickOverruns,
		m.ActiveSessions,
		m.QueueSize,
		m.Pairings,
		m.MatchesCompleted,
		m.DroppedInputs,
		m.LeaderboardReads,
		m.CacheErrors,
		m.RatingStoreErrors,
	)
	return m
}

func (m *Metrics) ObserveTick(d time.Duration) {
	m.TickDuration.Observe(d.Seconds())
}

func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{Registry: m.registry})
}

func (m *Metrics) Registry() *prometheus.Registry {
	return m.registry
}

var Module = fx.Provide(New)
