// Package metrics exposes Prometheus metrics and a /healthz endpoint for the
// refresh engine.
package metrics

import (
	"context"
	"database/sql"
	"encoding/json"
	"log/slog"
	"net/http"
	"sync"
	"time"

	goredis "github.com/go-redis/redis/v8"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Failure reasons used as the "reason" label of KeyFailures.
const (
	ReasonMalformed = "malformed"
	ReasonEmpty     = "empty"
	ReasonFetch     = "fetch"
	ReasonOther     = "other"
)

// Metrics holds all Prometheus metrics for the engine.
type Metrics struct {
	CyclesTotal   prometheus.Counter
	CycleDur      prometheus.Histogram
	KeyFailures   *prometheus.CounterVec // labels: reason
	KeysAnalyzed  prometheus.Counter
	TrackedKeys   prometheus.Gauge
	FetchDur      prometheus.Histogram
	AlertsTotal   *prometheus.CounterVec // labels: kind
	NotifyErrors  prometheus.Counter
	AlertQueueLen prometheus.Gauge

	// Ring buffer overflow
	RingBufOverflow prometheus.Counter

	// Circuit breaker
	RedisCircuitBreakerState prometheus.Gauge // 0=closed, 1=open, 2=half-open
	RedisCircuitBreakerTrips prometheus.Counter
	RedisBufferedEvents      prometheus.Counter

	WSClients    prometheus.Gauge
	AlertLatency prometheus.Histogram
}

// NewMetrics registers all metrics with the default registry.
func NewMetrics() *Metrics {
	return New(prometheus.DefaultRegisterer)
}

// New registers all metrics with reg.
func New(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		CyclesTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "scope_cycles_total",
			Help: "Refresh cycles completed",
		}),
		CycleDur: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "scope_cycle_duration_seconds",
			Help:    "Wall time of a full refresh cycle",
			Buckets: []float64{0.1, 0.25, 0.5, 1, 2.5, 5, 10, 30, 60},
		}),
		KeyFailures: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "scope_key_failures_total",
			Help: "Keys that failed to refresh, by reason",
		}, []string{"reason"}),
		KeysAnalyzed: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "scope_keys_analyzed_total",
			Help: "Keys successfully analyzed",
		}),
		TrackedKeys: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "scope_tracked_keys",
			Help: "Number of (symbol, timeframe) keys with an installed snapshot",
		}),
		FetchDur: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "scope_fetch_duration_seconds",
			Help:    "Kline fetch latency per request",
			Buckets: prometheus.DefBuckets,
		}),
		AlertsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "scope_alerts_total",
			Help: "Edge events emitted, by kind",
		}, []string{"kind"}),
		NotifyErrors: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "scope_notify_errors_total",
			Help: "Alert deliveries that failed on at least one sink",
		}),
		AlertQueueLen: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "scope_alert_queue_len",
			Help: "Alert events waiting in the dispatch ring",
		}),
		RingBufOverflow: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "scope_ringbuf_overflow_total",
			Help: "Alert events dropped because the dispatch ring was full",
		}),
		RedisCircuitBreakerState: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "scope_redis_circuit_breaker_state",
			Help: "Redis circuit breaker state (0=closed, 1=open, 2=half-open)",
		}),
		RedisCircuitBreakerTrips: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "scope_redis_circuit_breaker_trips_total",
			Help: "Times the Redis circuit breaker tripped open",
		}),
		RedisBufferedEvents: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "scope_redis_buffered_events_total",
			Help: "Alert events buffered locally while the Redis circuit was open",
		}),
		WSClients: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "scope_ws_clients",
			Help: "Connected dashboard websocket clients",
		}),
		AlertLatency: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "scope_alert_delivery_seconds",
			Help:    "Delay between an edge event and its websocket broadcast",
			Buckets: []float64{0.001, 0.005, 0.01, 0.05, 0.1, 0.5, 1, 5},
		}),
	}

	reg.MustRegister(
		m.CyclesTotal,
		m.CycleDur,
		m.KeyFailures,
		m.KeysAnalyzed,
		m.TrackedKeys,
		m.FetchDur,
		m.AlertsTotal,
		m.NotifyErrors,
		m.AlertQueueLen,
		m.RingBufOverflow,
		m.RedisCircuitBreakerState,
		m.RedisCircuitBreakerTrips,
		m.RedisBufferedEvents,
		m.WSClients,
		m.AlertLatency,
	)

	return m
}

// HealthStatus represents the system health.
type HealthStatus struct {
	mu sync.RWMutex

	LastCycleAt       time.Time `json:"last_cycle_at"`
	LastCycleKeys     int       `json:"last_cycle_keys"`
	LastCycleFailures int       `json:"last_cycle_failures"`
	RedisEnabled      bool      `json:"redis_enabled"`
	RedisConnected    bool      `json:"redis_connected"`
	SQLiteOK          bool      `json:"sqlite_ok"`

	// Liveness probe results
	RedisLatencyMs  float64   `json:"redis_latency_ms"`
	SQLiteLatencyMs float64   `json:"sqlite_latency_ms"`
	LastCheckAt     time.Time `json:"last_check_at"`
	StartedAt       time.Time `json:"started_at"`

	// StaleAfter marks the engine degraded when no cycle finished for this long.
	StaleAfter time.Duration `json:"-"`
	now        func() time.Time
}

// NewHealthStatus returns a default health status.
func NewHealthStatus(staleAfter time.Duration) *HealthStatus {
	return &HealthStatus{
		StartedAt:  time.Now(),
		StaleAfter: staleAfter,
		now:        time.Now,
	}
}

// RecordCycle notes a finished refresh cycle.
func (h *HealthStatus) RecordCycle(at time.Time, keys, failures int) {
	h.mu.Lock()
	h.LastCycleAt = at
	h.LastCycleKeys = keys
	h.LastCycleFailures = failures
	h.mu.Unlock()
}

func (h *HealthStatus) SetRedisEnabled(v bool) {
	h.mu.Lock()
	h.RedisEnabled = v
	h.mu.Unlock()
}

func (h *HealthStatus) SetRedisConnected(v bool) {
	h.mu.Lock()
	h.RedisConnected = v
	h.mu.Unlock()
}

func (h *HealthStatus) SetSQLiteOK(v bool) {
	h.mu.Lock()
	h.SQLiteOK = v
	h.mu.Unlock()
}

// CheckRedis pings Redis and records latency + connectivity.
func (h *HealthStatus) CheckRedis(ctx context.Context, rdb *goredis.Client) {
	start := time.Now()
	err := rdb.Ping(ctx).Err()
	latency := time.Since(start)

	h.mu.Lock()
	h.RedisConnected = err == nil
	h.RedisLatencyMs = float64(latency.Microseconds()) / 1000.0
	h.LastCheckAt = time.Now()
	h.mu.Unlock()
}

// CheckSQLite pings the database and records latency + health.
func (h *HealthStatus) CheckSQLite(ctx context.Context, db *sql.DB) {
	start := time.Now()
	err := db.PingContext(ctx)
	latency := time.Since(start)

	h.mu.Lock()
	h.SQLiteOK = err == nil
	h.SQLiteLatencyMs = float64(latency.Microseconds()) / 1000.0
	h.LastCheckAt = time.Now()
	h.mu.Unlock()
}

// StartLivenessChecker runs periodic dependency checks. rdb may be nil.
func (h *HealthStatus) StartLivenessChecker(ctx context.Context, rdb *goredis.Client, sqlDB *sql.DB, interval time.Duration) {
	go func() {
		ticker := time.NewTicker(interval)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				probeCtx, cancel := context.WithTimeout(ctx, 3*time.Second)
				if rdb != nil {
					h.CheckRedis(probeCtx, rdb)
				}
				if sqlDB != nil {
					h.CheckSQLite(probeCtx, sqlDB)
				}
				cancel()
			}
		}
	}()
}

// status computes the overall status under the read lock.
func (h *HealthStatus) status() (string, int) {
	now := h.now()
	stale := h.LastCycleAt.IsZero() || (h.StaleAfter > 0 && now.Sub(h.LastCycleAt) > h.StaleAfter)
	redisDown := h.RedisEnabled && !h.RedisConnected

	switch {
	case stale && !h.SQLiteOK:
		return "unhealthy", http.StatusServiceUnavailable
	case stale || redisDown || !h.SQLiteOK:
		return "degraded", http.StatusServiceUnavailable
	default:
		return "healthy", http.StatusOK
	}
}

// ServeHTTP handles the /healthz endpoint.
func (h *HealthStatus) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	h.mu.RLock()
	defer h.mu.RUnlock()

	overall, code := h.status()

	cycleAge := ""
	if !h.LastCycleAt.IsZero() {
		cycleAge = h.now().Sub(h.LastCycleAt).Round(time.Millisecond).String()
	}

	status := struct {
		Status            string  `json:"status"`
		Uptime            string  `json:"uptime"`
		LastCycleAt       string  `json:"last_cycle_at"`
		CycleAge          string  `json:"cycle_age"`
		LastCycleKeys     int     `json:"last_cycle_keys"`
		LastCycleFailures int     `json:"last_cycle_failures"`
		RedisEnabled      bool    `json:"redis_enabled"`
		RedisConnected    bool    `json:"redis_connected"`
		RedisLatencyMs    float64 `json:"redis_latency_ms"`
		SQLiteOK          bool    `json:"sqlite_ok"`
		SQLiteLatencyMs   float64 `json:"sqlite_latency_ms"`
		LastCheckAt       string  `json:"last_check_at"`
	}{
		Status:            overall,
		Uptime:            h.now().Sub(h.StartedAt).Round(time.Second).String(),
		LastCycleAt:       h.LastCycleAt.Format(time.RFC3339),
		CycleAge:          cycleAge,
		LastCycleKeys:     h.LastCycleKeys,
		LastCycleFailures: h.LastCycleFailures,
		RedisEnabled:      h.RedisEnabled,
		RedisConnected:    h.RedisConnected,
		RedisLatencyMs:    h.RedisLatencyMs,
		SQLiteOK:          h.SQLiteOK,
		SQLiteLatencyMs:   h.SQLiteLatencyMs,
		LastCheckAt:       h.LastCheckAt.Format(time.RFC3339),
	}

	w.Header().Set("Content-Type", "application/json")
	if code != http.StatusOK {
		w.WriteHeader(code)
	}
	json.NewEncoder(w).Encode(status)
}

// Server runs an HTTP server exposing /metrics and /healthz.
type Server struct {
	addr string
	srv  *http.Server
	log  *slog.Logger
}

// NewServer creates a metrics and health server.
func NewServer(addr string, health *HealthStatus, log *slog.Logger) *Server {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.Handler())
	mux.Handle("/healthz", health)

	return &Server{
		addr: addr,
		log:  log.With("component", "metrics"),
		srv: &http.Server{
			Addr:              addr,
			Handler:           mux,
			ReadHeaderTimeout: 5 * time.Second,
		},
	}
}

// Start launches the HTTP server in a goroutine.
func (s *Server) Start() {
	go func() {
		s.log.Info("server listening", "addr", s.addr)
		if err := s.srv.ListenAndServe(); err != http.ErrServerClosed {
			s.log.Error("server error", "error", err)
		}
	}()
}

// Stop gracefully shuts down the metrics server.
func (s *Server) Stop(ctx context.Context) error {
	return s.srv.Shutdown(ctx)
}
