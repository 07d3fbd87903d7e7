// Package health is the pipeline's metrics and readiness surface:
// queue-depth, latency, lag, redelivery, resync, and session-state
// collectors plus per-component readiness bookkeeping. Registration
// happens against a dedicated *prometheus.Registry rather than the
// global DefaultRegisterer, so more than one Registry can exist per
// process (e.g. in tests) without a duplicate-registration panic.
//
// The HTTP /health and /metrics endpoints themselves are external
// collaborators out of this repo's scope; Registry exposes the Go API
// (Snapshot, prometheus.Registerer) an external HTTP layer would wrap.
package health

import (
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// Registry holds every pipeline metric plus the component readiness
// bookkeeping the minimal health surface needs.
type Registry struct {
	prom *prometheus.Registry

	QueueDepth      *prometheus.GaugeVec
	InsertLatency   *prometheus.HistogramVec
	AckLatency      *prometheus.HistogramVec
	ReplicationLag  *prometheus.GaugeVec
	RedeliveryCount *prometheus.CounterVec
	ResyncCount     *prometheus.CounterVec
	SessionState    *prometheus.GaugeVec
	PublishFailures *prometheus.CounterVec

	mu             sync.RWMutex
	components     map[string]ComponentStatus
	cleanupEnabled bool
}

// ComponentStatus is one component's current readiness.
type ComponentStatus struct {
	Ready   bool      `json:"ready"`
	Message string    `json:"message,omitempty"`
	Since   time.Time `json:"since"`
}

// New builds a Registry with every metric registered against its own
// prometheus.Registry.
func New() *Registry {
	r := &Registry{
		prom:       prometheus.NewRegistry(),
		components: make(map[string]ComponentStatus),

		QueueDepth: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Name: "marketprism_queue_depth",
			Help: "Current writer queue depth per record type",
		}, []string{"data_type"}),

		InsertLatency: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "marketprism_insert_latency_seconds",
			Help:    "Hot store batch insert latency per record type",
			Buckets: []float64{0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10},
		}, []string{"data_type"}),

		AckLatency: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "marketprism_ack_latency_seconds",
			Help:    "Bus publish-to-ack latency per subject",
			Buckets: []float64{0.001, 0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1, 2.5},
		}, []string{"subject"}),

		ReplicationLag: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Name: "marketprism_replication_lag_ms",
			Help: "Replication lag in milliseconds per record type (now - cold watermark)",
		}, []string{"data_type"}),

		RedeliveryCount: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "marketprism_redelivery_total",
			Help: "Count of redelivered bus messages per subject",
		}, []string{"subject"}),

		ResyncCount: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "marketprism_orderbook_resync_total",
			Help: "Count of orderbook resyncs per exchange/symbol",
		}, []string{"exchange", "symbol"}),

		SessionState: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Name: "marketprism_exchange_session_state",
			Help: "Current exchange client state (1 for the active state, 0 otherwise) per exchange/market_type/data_type/state",
		}, []string{"exchange", "market_type", "data_type", "state"}),

		PublishFailures: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "marketprism_publish_failures_total",
			Help: "Count of publishes that exhausted retries and were sent to the dead-letter queue",
		}, []string{"subject"}),
	}

	r.prom.MustRegister(
		r.QueueDepth, r.InsertLatency, r.AckLatency, r.ReplicationLag,
		r.RedeliveryCount, r.ResyncCount, r.SessionState, r.PublishFailures,
	)
	return r
}

// Registerer exposes the backing prometheus.Registry so an external HTTP
// layer can wrap it with promhttp.HandlerFor.
func (r *Registry) Registerer() *prometheus.Registry {
	return r.prom
}

// SetComponent records name's current readiness.
func (r *Registry) SetComponent(name string, ready bool, message string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.components[name] = ComponentStatus{Ready: ready, Message: message, Since: time.Now().UTC()}
}

// SetCleanupEnabled records the replicator's configured cleanup flag, part
// of the minimal health surface's top-level JSON.
func (r *Registry) SetCleanupEnabled(enabled bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.cleanupEnabled = enabled
}

// Snapshot is the JSON shape of the minimal health surface:
// { status, components: {...}, cleanup_enabled }.
type Snapshot struct {
	Status         string                     `json:"status"`
	Components     map[string]ComponentStatus `json:"components"`
	CleanupEnabled bool                       `json:"cleanup_enabled"`
}

// Snapshot returns the current aggregate health: "healthy" if every
// tracked component is ready, "degraded" otherwise (no component ever
// flips the process to "unhealthy" on its own; that judgment belongs to
// an external monitoring layer).
func (r *Registry) Snapshot() Snapshot {
	r.mu.RLock()
	defer r.mu.RUnlock()

	status := "healthy"
	components := make(map[string]ComponentStatus, len(r.components))
	for name, c := range r.components {
		components[name] = c
		if !c.Ready {
			status = "degraded"
		}
	}
	return Snapshot{Status: status, Components: components, CleanupEnabled: r.cleanupEnabled}
}

// RecordQueueDepth reports the current buffered-item count for dataType.
func (r *Registry) RecordQueueDepth(dataType string, depth int) {
	r.QueueDepth.WithLabelValues(dataType).Set(float64(depth))
}

// RecordInsertLatency reports one batch insert's duration for dataType.
func (r *Registry) RecordInsertLatency(dataType string, d time.Duration) {
	r.InsertLatency.WithLabelValues(dataType).Observe(d.Seconds())
}

// RecordAckLatency reports the publish-to-ack duration for subject.
func (r *Registry) RecordAckLatency(subject string, d time.Duration) {
	r.AckLatency.WithLabelValues(subject).Observe(d.Seconds())
}

// RecordReplicationLag reports dataType's replication lag in milliseconds:
// the time from the newest replicated hot row to now.
func (r *Registry) RecordReplicationLag(dataType string, lagMs int64) {
	r.ReplicationLag.WithLabelValues(dataType).Set(float64(lagMs))
}

// RecordRedelivery increments subject's redelivery counter.
func (r *Registry) RecordRedelivery(subject string) {
	r.RedeliveryCount.WithLabelValues(subject).Inc()
}

// RecordResync increments the resync counter for one exchange/symbol.
func (r *Registry) RecordResync(exchange, symbol string) {
	r.ResyncCount.WithLabelValues(exchange, symbol).Inc()
}

// RecordSessionState sets state as the active gauge value (1) for one
// exchange/market_type/data_type session, zeroing every other known
// state label combination for that session so only one state reads 1
// at a time.
func (r *Registry) RecordSessionState(exchange, marketType, dataType, state string) {
	for _, s := range []string{"idle", "connecting", "handshaking", "subscribing", "streaming", "degraded", "closing", "closed"} {
		v := 0.0
		if s == state {
			v = 1.0
		}
		r.SessionState.WithLabelValues(exchange, marketType, dataType, s).Set(v)
	}
}

// PublishFailed implements internal/bus.FailureNotifier: a publish
// exhausted its retries and was pushed to the dead-letter queue.
func (r *Registry) PublishFailed(subject string, err error) {
	r.PublishFailures.WithLabelValues(subject).Inc()
}
