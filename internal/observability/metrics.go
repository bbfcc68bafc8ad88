package observability

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics holds all Prometheus metrics for the settlement engine.
type Metrics struct {
	// --- Entry points ---
	EntryPointsApplied  *prometheus.CounterVec
	EntryPointsRejected *prometheus.CounterVec
	EntryPointDuration  *prometheus.HistogramVec
	StateTransitions    *prometheus.CounterVec
	CoreSequence        prometheus.Gauge

	// --- Settlement ---
	PayoutsTotal       *prometheus.CounterVec
	MintedTotal        *prometheus.CounterVec
	RosterSize         *prometheus.GaugeVec
	ExternalCallErrors *prometheus.CounterVec
	Compensations      *prometheus.CounterVec

	// --- Latency ---
	IngestToApply       *prometheus.HistogramVec
	ApplyToPersist      prometheus.Histogram
	PersistBatchDur     prometheus.Histogram
	ProjectionUpdateDur *prometheus.HistogramVec

	// --- Channel & Backpressure ---
	ChannelSize         *prometheus.GaugeVec
	ChannelCapacity     *prometheus.GaugeVec
	ChannelUtilization  *prometheus.GaugeVec
	ProjectionDrops     *prometheus.CounterVec
	PublishDrops        prometheus.Counter
	PersistBackpressure prometheus.Counter

	// --- Idempotency ---
	IdempotencyDuplicates *prometheus.CounterVec
	DedupLRUSize          prometheus.Gauge
	DedupLRUEvictions     prometheus.Counter
	DedupTier2Duration    prometheus.Histogram

	// --- Locks & rate limits ---
	LockWait    *prometheus.HistogramVec
	LockErrors  *prometheus.CounterVec
	RateLimited *prometheus.CounterVec

	// --- Persistence ---
	PersistEventsWritten prometheus.Counter
	PersistBatchSize     prometheus.Histogram
	PersistErrors        *prometheus.CounterVec
	PersistRetry         prometheus.Counter
	PersistLastSequence  prometheus.Gauge

	// --- Snapshot ---
	SnapshotTaken     prometheus.Counter
	SnapshotDuration  prometheus.Histogram
	SnapshotSizeBytes prometheus.Gauge
	SnapshotLastSeq   prometheus.Gauge
	SnapshotUploads   *prometheus.CounterVec

	// --- Query API ---
	QueryRequests *prometheus.CounterVec
	QueryDuration *prometheus.HistogramVec
	QueryErrors   *prometheus.CounterVec
}

// NewMetrics creates and registers all Prometheus metrics on the default registry.
func NewMetrics() *Metrics {
	return NewMetricsWith(prometheus.DefaultRegisterer)
}

// NewMetricsWith registers on reg; tests pass a fresh prometheus.NewRegistry().
func NewMetricsWith(reg prometheus.Registerer) *Metrics {
	factory := promauto.With(reg)

	latencyBuckets := []float64{
		0.00001, 0.00005, 0.0001, 0.00025, 0.0005,
		0.001, 0.0025, 0.005, 0.01, 0.025, 0.05, 0.1,
	}

	return &Metrics{
		// Entry points
		EntryPointsApplied: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "pari_entrypoints_applied_total",
			Help: "Entry point calls committed",
		}, []string{"operation"}),

		EntryPointsRejected: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "pari_entrypoints_rejected_total",
			Help: "Entry point calls rejected, by error code",
		}, []string{"operation", "code"}),

		EntryPointDuration: factory.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "pari_entrypoint_duration_seconds",
			Help:    "Time spent in one entry point call, lock wait included",
			Buckets: latencyBuckets,
		}, []string{"operation"}),

		StateTransitions: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "pari_market_state_transitions_total",
			Help: "Market lifecycle transitions",
		}, []string{"from", "to"}),

		CoreSequence: factory.NewGauge(prometheus.GaugeOpts{
			Name: "pari_core_sequence",
			Help: "Next global event sequence",
		}),

		// Settlement
		PayoutsTotal: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "pari_payouts_lamports_total",
			Help: "Lamports reimbursed from custody",
		}, []string{"kind"}),

		MintedTotal: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "pari_voting_tokens_minted_total",
			Help: "Voting tokens minted",
		}, []string{"reason"}),

		RosterSize: factory.NewGaugeVec(prometheus.GaugeOpts{
			Name: "pari_roster_size",
			Help: "Current roster sizes per market facet",
		}, []string{"token", "facet", "roster"}),

		ExternalCallErrors: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "pari_external_call_errors_total",
			Help: "Treasury or mint call failures",
		}, []string{"call"}),

		Compensations: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "pari_compensations_total",
			Help: "Inflows returned or records restored after a failed step",
		}, []string{"operation"}),

		// Latency
		IngestToApply: factory.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "pari_ingest_to_apply_seconds",
			Help:    "NATS receive to entry point complete",
			Buckets: latencyBuckets,
		}, []string{"operation"}),

		ApplyToPersist: factory.NewHistogram(prometheus.HistogramOpts{
			Name:    "pari_apply_to_persist_seconds",
			Help:    "Core emit to event log commit",
			Buckets: latencyBuckets,
		}),

		PersistBatchDur: factory.NewHistogram(prometheus.HistogramOpts{
			Name:    "pari_persist_batch_duration_seconds",
			Help:    "Event log batch write duration",
			Buckets: []float64{0.0001, 0.0005, 0.001, 0.005, 0.01, 0.025, 0.05, 0.1, 0.25},
		}),

		ProjectionUpdateDur: factory.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "pari_projection_update_duration_seconds",
			Help:    "Projection table update duration",
			Buckets: []float64{0.0001, 0.0005, 0.001, 0.005, 0.01, 0.025, 0.05, 0.1},
		}, []string{"projection"}),

		// Channel & Backpressure
		ChannelSize: factory.NewGaugeVec(prometheus.GaugeOpts{
			Name: "pari_channel_size",
			Help: "Current items in channel",
		}, []string{"name"}),

		ChannelCapacity: factory.NewGaugeVec(prometheus.GaugeOpts{
			Name: "pari_channel_capacity",
			Help: "Channel capacity (constant)",
		}, []string{"name"}),

		ChannelUtilization: factory.NewGaugeVec(prometheus.GaugeOpts{
			Name: "pari_channel_utilization",
			Help: "Channel size / capacity (0.0-1.0)",
		}, []string{"name"}),

		ProjectionDrops: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "pari_projection_drops_total",
			Help: "Events dropped due to full projection channel",
		}, []string{"projection"}),

		PublishDrops: factory.NewCounter(prometheus.CounterOpts{
			Name: "pari_publish_drops_total",
			Help: "Events dropped due to full publish channel",
		}),

		PersistBackpressure: factory.NewCounter(prometheus.CounterOpts{
			Name: "pari_persist_backpressure_total",
			Help: "Times core blocked on persist channel",
		}),

		// Idempotency
		IdempotencyDuplicates: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "pari_idempotency_duplicates_total",
			Help: "Duplicate commands caught (lru/postgres)",
		}, []string{"operation", "tier"}),

		DedupLRUSize: factory.NewGauge(prometheus.GaugeOpts{
			Name: "pari_dedup_lru_size",
			Help: "Current LRU occupancy",
		}),

		DedupLRUEvictions: factory.NewCounter(prometheus.CounterOpts{
			Name: "pari_dedup_lru_evictions_total",
			Help: "LRU evictions",
		}),

		DedupTier2Duration: factory.NewHistogram(prometheus.HistogramOpts{
			Name:    "pari_dedup_tier2_duration_seconds",
			Help:    "Postgres dedup lookup latency",
			Buckets: latencyBuckets,
		}),

		// Locks & rate limits
		LockWait: factory.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "pari_lock_wait_seconds",
			Help:    "Time to acquire the per-market lock",
			Buckets: latencyBuckets,
		}, []string{"backend"}),

		LockErrors: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "pari_lock_errors_total",
			Help: "Failed lock acquisitions",
		}, []string{"backend"}),

		RateLimited: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "pari_rate_limited_total",
			Help: "RPC calls refused by the rate limiter",
		}, []string{"method"}),

		// Persistence
		PersistEventsWritten: factory.NewCounter(prometheus.CounterOpts{
			Name: "pari_persist_events_written_total",
			Help: "Events written to the event log",
		}),

		PersistBatchSize: factory.NewHistogram(prometheus.HistogramOpts{
			Name:    "pari_persist_batch_size",
			Help:    "Events per batch",
			Buckets: []float64{1, 5, 10, 25, 50, 100, 250, 500},
		}),

		PersistErrors: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "pari_persist_errors_total",
			Help: "Persistence errors",
		}, []string{"error_type"}),

		PersistRetry: factory.NewCounter(prometheus.CounterOpts{
			Name: "pari_persist_retry_total",
			Help: "Persistence retries",
		}),

		PersistLastSequence: factory.NewGauge(prometheus.GaugeOpts{
			Name: "pari_persist_last_sequence",
			Help: "Last persisted sequence",
		}),

		// Snapshot
		SnapshotTaken: factory.NewCounter(prometheus.CounterOpts{
			Name: "pari_snapshot_taken_total",
			Help: "Snapshots created",
		}),

		SnapshotDuration: factory.NewHistogram(prometheus.HistogramOpts{
			Name:    "pari_snapshot_duration_seconds",
			Help:    "Snapshot creation time",
			Buckets: []float64{0.01, 0.05, 0.1, 0.5, 1.0, 5.0, 10.0},
		}),

		SnapshotSizeBytes: factory.NewGauge(prometheus.GaugeOpts{
			Name: "pari_snapshot_size_bytes",
			Help: "Last snapshot size",
		}),

		SnapshotLastSeq: factory.NewGauge(prometheus.GaugeOpts{
			Name: "pari_snapshot_last_sequence",
			Help: "Sequence of last snapshot",
		}),

		SnapshotUploads: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "pari_snapshot_uploads_total",
			Help: "Snapshot archive uploads",
		}, []string{"status"}),

		// Query API
		QueryRequests: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "pari_query_requests_total",
			Help: "Query requests",
		}, []string{"endpoint", "status"}),

		QueryDuration: factory.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "pari_query_duration_seconds",
			Help:    "Query latency",
			Buckets: []float64{0.0001, 0.0005, 0.001, 0.005, 0.01, 0.05, 0.1, 0.5},
		}, []string{"endpoint"}),

		QueryErrors: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "pari_query_errors_total",
			Help: "Query errors",
		}, []string{"endpoint", "code"}),
	}
}

// SetChannelMetrics updates channel utilization metrics.
func (m *Metrics) SetChannelMetrics(name string, size, capacity int) {
	m.ChannelSize.WithLabelValues(name).Set(float64(size))
	m.ChannelCapacity.WithLabelValues(name).Set(float64(capacity))
	if capacity > 0 {
		m.ChannelUtilization.WithLabelValues(name).Set(float64(size) / float64(capacity))
	}
}
