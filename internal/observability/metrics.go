package observability

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	dto "github.com/prometheus/client_model/go"
)

// Metrics holds all Prometheus metrics for the ledger.
type Metrics struct {
	// Registry is the Prometheus registry that owns these metrics.
	// Exposed so the /metrics endpoint can use it.
	Registry *prometheus.Registry

	reconciliations   *prometheus.CounterVec
	conflictRetries   *prometheus.CounterVec
	operationDuration *prometheus.HistogramVec
	uploads           *prometheus.CounterVec
	lateMarked        prometheus.Counter
	aggregateHeals    prometheus.Counter
	cacheHits         *prometheus.CounterVec
	cacheMisses       *prometheus.CounterVec
}

// NewMetrics creates a dedicated Prometheus registry and registers all
// ledger metrics in it, so tests can build as many as they like.
func NewMetrics() *Metrics {
	reg := prometheus.NewRegistry()
	factory := promauto.With(reg)

	return &Metrics{
		Registry: reg,

		reconciliations: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "ledger_reconciliations_total",
				Help: "Ledger applications by result.",
			},
			[]string{"result"},
		),
		conflictRetries: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "ledger_conflict_retries_total",
				Help: "Optimistic concurrency conflicts that were retried.",
			},
			[]string{"operation"},
		),
		operationDuration: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "ledger_operation_duration_seconds",
				Help:    "Duration of service operations.",
				Buckets: prometheus.DefBuckets,
			},
			[]string{"operation"},
		),
		uploads: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "ledger_uploads_total",
				Help: "Receipt uploads by result.",
			},
			[]string{"result"},
		),
		lateMarked: factory.NewCounter(
			prometheus.CounterOpts{
				Name: "ledger_late_marked_total",
				Help: "Loans moved from active to late.",
			},
		),
		aggregateHeals: factory.NewCounter(
			prometheus.CounterOpts{
				Name: "ledger_aggregate_heals_total",
				Help: "Client aggregates rewritten by the reconciliation job.",
			},
		),
		cacheHits: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "ledger_cache_hits_total",
				Help: "Total cache hits.",
			},
			[]string{"cache"},
		),
		cacheMisses: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "ledger_cache_misses_total",
				Help: "Total cache misses.",
			},
			[]string{"cache"},
		),
	}
}

func (m *Metrics) IncrReconciliation(result string) {
	m.reconciliations.WithLabelValues(result).Inc()
}

func (m *Metrics) IncrConflictRetry(operation string) {
	m.conflictRetries.WithLabelValues(operation).Inc()
}

// RecordDuration records the duration of an operation.
func (m *Metrics) RecordDuration(operation string, d time.Duration) {
	m.operationDuration.WithLabelValues(operation).Observe(d.Seconds())
}

func (m *Metrics) IncrUpload(result string) {
	m.uploads.WithLabelValues(result).Inc()
}

func (m *Metrics) AddLateMarked(n int) {
	m.lateMarked.Add(float64(n))
}

func (m *Metrics) AddAggregateHeals(n int) {
	m.aggregateHeals.Add(float64(n))
}

func (m *Metrics) IncrCacheHit(cache string) {
	m.cacheHits.WithLabelValues(cache).Inc()
}

func (m *Metrics) IncrCacheMiss(cache string) {
	m.cacheMisses.WithLabelValues(cache).Inc()
}

// Snapshot is a JSON-friendly summary of the ledger counters.
type Snapshot struct {
	ReconciliationsApplied  float64 `json:"reconciliations_applied"`
	ReconciliationsRejected float64 `json:"reconciliations_rejected"`
	ReconciliationsOverpaid float64 `json:"reconciliations_overpaid"`
	ConflictRetries         float64 `json:"conflict_retries"`
	UploadsFailed           float64 `json:"uploads_failed"`
	LateMarked              float64 `json:"late_marked"`
	AggregateHeals          float64 `json:"aggregate_heals"`
	CacheHitRate            float64 `json:"cache_hit_rate"`
}

// Snapshot reads the current counter values.
func (m *Metrics) Snapshot() Snapshot {
	hits := counterValue(m.cacheHits.WithLabelValues("loan"))
	misses := counterValue(m.cacheMisses.WithLabelValues("loan"))
	hitRate := float64(0)
	if hits+misses > 0 {
		hitRate = hits / (hits + misses)
	}

	retries := float64(0)
	for _, op := range []string{"confirm_payment", "reject_payment", "correct_payment", "attach_receipt", "update_terms", "delete_loan", "mark_late", "reconcile_clients"} {
		retries += counterValue(m.conflictRetries.WithLabelValues(op))
	}

	return Snapshot{
		ReconciliationsApplied:  counterValue(m.reconciliations.WithLabelValues("applied")),
		ReconciliationsRejected: counterValue(m.reconciliations.WithLabelValues("rejected")),
		ReconciliationsOverpaid: counterValue(m.reconciliations.WithLabelValues("overpaid")),
		ConflictRetries:         retries,
		UploadsFailed:           counterValue(m.uploads.WithLabelValues("failed")),
		LateMarked:              counterValue(m.lateMarked),
		AggregateHeals:          counterValue(m.aggregateHeals),
		CacheHitRate:            hitRate,
	}
}

// counterValue extracts the current float64 value of a counter.
func counterValue(c prometheus.Counter) float64 {
	m := &dto.Metric{}
	if err := c.Write(m); err != nil {
		return 0
	}
	if m.Counter != nil && m.Counter.Value != nil {
		return *m.Counter.Value
	}
	return 0
}
