package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	// StorageQueriesTotal counts every storage-backend operation by name
	// and outcome, the way warren_api_requests_total counted API calls.
	StorageQueriesTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "erxstore_storage_queries_total",
			Help: "Total number of storage backend operations by name and outcome",
		},
		[]string{"operation", "status"},
	)

	// StorageQueryDuration records how long each storage operation takes.
	StorageQueryDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "erxstore_storage_query_duration_seconds",
			Help:    "Storage backend operation duration in seconds",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"operation"},
	)

	// KeyDerivationsTotal counts every HSM key-derivation call by purpose,
	// distinguishing an initial derivation (new account/generation) from a
	// subsequent one (existing generation re-derived) and from a lost-race
	// re-derivation under another writer's generation.
	KeyDerivationsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "erxstore_key_derivations_total",
			Help: "Total number of HSM key derivations by purpose and kind",
		},
		[]string{"purpose", "kind"},
	)

	// AuditEventsTotal counts audit rows appended by action.
	AuditEventsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "erxstore_audit_events_total",
			Help: "Total number of audit events appended by action",
		},
		[]string{"action"},
	)
)

func init() {
	prometheus.MustRegister(StorageQueriesTotal)
	prometheus.MustRegister(StorageQueryDuration)
	prometheus.MustRegister(KeyDerivationsTotal)
	prometheus.MustRegister(AuditEventsTotal)
}

// Handler returns the Prometheus HTTP handler.
func Handler() http.Handler {
	return promhttp.Handler()
}

// ObserveStorageQuery records one storage operation's outcome and
// duration. Called via defer at the top of a storage method, the timer
// started before the operation runs.
func ObserveStorageQuery(operation string, timer *Timer, err error) {
	status := "ok"
	if err != nil {
		status = "error"
	}
	StorageQueriesTotal.WithLabelValues(operation, status).Inc()
	timer.ObserveDurationVec(StorageQueryDuration, operation)
}

// Timer is a helper for timing operations.
type Timer struct {
	start time.Time
}

// NewTimer creates a new timer.
func NewTimer() *Timer {
	return &Timer{start: time.Now()}
}

// ObserveDuration records the duration to a histogram.
func (t *Timer) ObserveDuration(histogram prometheus.Histogram) {
	duration := time.Since(t.start).Seconds()
	histogram.Observe(duration)
}

// ObserveDurationVec records the duration to a histogram vec with labels.
func (t *Timer) ObserveDurationVec(histogram prometheus.ObserverVec, labels ...string) {
	duration := time.Since(t.start).Seconds()
	histogram.WithLabelValues(labels...).Observe(duration)
}

// Duration returns the elapsed time since timer started.
func (t *Timer) Duration() time.Duration {
	return time.Since(t.start)
}
