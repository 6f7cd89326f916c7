package observability

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics holds all Prometheus metrics for the credit ledger.
type Metrics struct {
	// --- Core Processing ---
	CoreEventsApplied  *prometheus.CounterVec
	CoreEventsRejected *prometheus.CounterVec
	CoreEventDuration  *prometheus.HistogramVec
	CoreJournals       *prometheus.CounterVec
	CoreSequence       prometheus.Gauge

	// --- Latency ---
	IngestToApply       *prometheus.HistogramVec
	ApplyToPersist      prometheus.Histogram
	ProjectionUpdateDur *prometheus.HistogramVec

	// --- Channel & Backpressure ---
	ChannelSize        *prometheus.GaugeVec
	ChannelCapacity    *prometheus.GaugeVec
	ChannelUtilization *prometheus.GaugeVec
	ProjectionDrops    *prometheus.CounterVec
	IngestThrottled    *prometheus.CounterVec

	// --- Idempotency & Ordering ---
	IdempotencyDuplicates *prometheus.CounterVec
	DedupLRUSize          prometheus.Gauge
	EventSequenceGap      *prometheus.CounterVec
	EventOutOfOrder       *prometheus.CounterVec

	// --- Credit markets ---
	MarketSupplyAssets   *prometheus.GaugeVec
	MarketBorrowAssets   *prometheus.GaugeVec
	MarketMarkdown       *prometheus.GaugeVec
	MarketUtilization    *prometheus.GaugeVec
	MarketFrozen         *prometheus.GaugeVec
	CyclesClosed         *prometheus.CounterVec
	ObligationsPosted    *prometheus.CounterVec
	SettlementsTotal     *prometheus.CounterVec
	WrittenOffTotal      *prometheus.CounterVec
	InsuranceCovered     *prometheus.CounterVec
	InsuranceFundBalance *prometheus.GaugeVec

	// --- Persistence ---
	PersistEventsWritten   prometheus.Counter
	PersistJournalsWritten prometheus.Counter
	PersistBatchSize       prometheus.Histogram
	PersistBatchDur        prometheus.Histogram
	PersistErrors          *prometheus.CounterVec
	PersistLastSequence    prometheus.Gauge

	// --- Snapshot ---
	SnapshotTaken     prometheus.Counter
	SnapshotSizeBytes prometheus.Gauge
	SnapshotLastSeq   prometheus.Gauge
	ReplayEventsTotal prometheus.Counter
	ReplayDuration    prometheus.Gauge

	// --- Outbound ---
	PublishedEvents *prometheus.CounterVec

	// --- Query API ---
	QueryRequests *prometheus.CounterVec
	QueryDuration *prometheus.HistogramVec
}

// NewMetrics creates all metrics and registers them with reg. Pass
// prometheus.DefaultRegisterer in the service and a fresh registry in tests.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	factory := promauto.With(reg)

	latencyBuckets := []float64{
		0.000001, 0.000005, 0.00001, 0.000025, 0.00005,
		0.0001, 0.00025, 0.0005, 0.001, 0.002, 0.005, 0.01,
	}

	return &Metrics{
		// Core Processing
		CoreEventsApplied: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "credit_core_events_applied_total",
			Help: "Events successfully applied by core",
		}, []string{"event_type"}),

		CoreEventsRejected: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "credit_core_events_rejected_total",
			Help: "Events rejected (dedup, gap, validation, ledger error)",
		}, []string{"event_type", "reason"}),

		CoreEventDuration: factory.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "credit_core_event_apply_duration_seconds",
			Help:    "Time to apply a single event in core",
			Buckets: latencyBuckets,
		}, []string{"event_type"}),

		CoreJournals: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "credit_core_journals_generated_total",
			Help: "Journal entries generated",
		}, []string{"journal_type"}),

		CoreSequence: factory.NewGauge(prometheus.GaugeOpts{
			Name: "credit_core_sequence",
			Help: "Current global sequence number",
		}),

		// Latency
		IngestToApply: factory.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "credit_ingest_to_apply_seconds",
			Help:    "Ingest receive to core apply complete",
			Buckets: []float64{0.00001, 0.000025, 0.00005, 0.0001, 0.00025, 0.0005, 0.001, 0.002, 0.005, 0.01},
		}, []string{"event_type"}),

		ApplyToPersist: factory.NewHistogram(prometheus.HistogramOpts{
			Name:    "credit_apply_to_persist_seconds",
			Help:    "Core emit to Postgres commit",
			Buckets: latencyBuckets,
		}),

		ProjectionUpdateDur: factory.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "credit_projection_update_duration_seconds",
			Help:    "Projection table update duration",
			Buckets: []float64{0.0001, 0.0005, 0.001, 0.005, 0.01, 0.025, 0.05, 0.1},
		}, []string{"projection"}),

		// Channel & Backpressure
		ChannelSize: factory.NewGaugeVec(prometheus.GaugeOpts{
			Name: "credit_channel_size",
			Help: "Current items in channel",
		}, []string{"name"}),

		ChannelCapacity: factory.NewGaugeVec(prometheus.GaugeOpts{
			Name: "credit_channel_capacity",
			Help: "Channel capacity (constant)",
		}, []string{"name"}),

		ChannelUtilization: factory.NewGaugeVec(prometheus.GaugeOpts{
			Name: "credit_channel_utilization",
			Help: "Channel size / capacity (0.0-1.0)",
		}, []string{"name"}),

		ProjectionDrops: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "credit_projection_drops_total",
			Help: "Events dropped due to full projection channel",
		}, []string{"projection"}),

		IngestThrottled: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "credit_ingest_throttled_total",
			Help: "Commands refused by the ingest rate limiter",
		}, []string{"surface"}),

		// Idempotency & Ordering
		IdempotencyDuplicates: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "credit_idempotency_duplicates_total",
			Help: "Duplicates caught (lru/postgres)",
		}, []string{"event_type", "tier"}),

		DedupLRUSize: factory.NewGauge(prometheus.GaugeOpts{
			Name: "credit_dedup_lru_size",
			Help: "Current LRU occupancy",
		}),

		EventSequenceGap: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "credit_event_sequence_gap_total",
			Help: "Source sequence gaps",
		}, []string{"partition"}),

		EventOutOfOrder: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "credit_event_out_of_order_total",
			Help: "Out-of-order rejections",
		}, []string{"partition"}),

		// Credit markets
		MarketSupplyAssets: factory.NewGaugeVec(prometheus.GaugeOpts{
			Name: "credit_market_supply_assets",
			Help: "Total supply assets (loan token units)",
		}, []string{"market_id"}),

		MarketBorrowAssets: factory.NewGaugeVec(prometheus.GaugeOpts{
			Name: "credit_market_borrow_assets",
			Help: "Total borrow assets (loan token units)",
		}, []string{"market_id"}),

		MarketMarkdown: factory.NewGaugeVec(prometheus.GaugeOpts{
			Name: "credit_market_markdown_assets",
			Help: "Total markdown of defaulted borrowers",
		}, []string{"market_id"}),

		MarketUtilization: factory.NewGaugeVec(prometheus.GaugeOpts{
			Name: "credit_market_utilization",
			Help: "Borrow / supply (0.0-1.0)",
		}, []string{"market_id"}),

		MarketFrozen: factory.NewGaugeVec(prometheus.GaugeOpts{
			Name: "credit_market_frozen",
			Help: "1 when the market is frozen for want of a payment cycle",
		}, []string{"market_id"}),

		CyclesClosed: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "credit_cycles_closed_total",
			Help: "Payment cycles closed",
		}, []string{"market_id"}),

		ObligationsPosted: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "credit_obligations_posted_total",
			Help: "Repayment obligations posted at cycle close",
		}, []string{"market_id"}),

		SettlementsTotal: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "credit_settlements_total",
			Help: "Accounts settled",
		}, []string{"market_id"}),

		WrittenOffTotal: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "credit_written_off_assets_total",
			Help: "Debt written off against suppliers",
		}, []string{"market_id"}),

		InsuranceCovered: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "credit_insurance_covered_assets_total",
			Help: "Debt repaid by insurance funds at settlement",
		}, []string{"market_id"}),

		InsuranceFundBalance: factory.NewGaugeVec(prometheus.GaugeOpts{
			Name: "credit_insurance_fund_balance",
			Help: "Current insurance fund balance",
		}, []string{"asset"}),

		// Persistence
		PersistEventsWritten: factory.NewCounter(prometheus.CounterOpts{
			Name: "credit_persist_events_written_total",
			Help: "Events written to Postgres",
		}),

		PersistJournalsWritten: factory.NewCounter(prometheus.CounterOpts{
			Name: "credit_persist_journals_written_total",
			Help: "Journal entries written to Postgres",
		}),

		PersistBatchSize: factory.NewHistogram(prometheus.HistogramOpts{
			Name:    "credit_persist_batch_size",
			Help:    "Events per batch",
			Buckets: []float64{1, 5, 10, 25, 50, 100, 250, 500},
		}),

		PersistBatchDur: factory.NewHistogram(prometheus.HistogramOpts{
			Name:    "credit_persist_batch_duration_seconds",
			Help:    "Postgres batch write duration",
			Buckets: []float64{0.0001, 0.0005, 0.001, 0.005, 0.01, 0.025, 0.05, 0.1, 0.25},
		}),

		PersistErrors: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "credit_persist_errors_total",
			Help: "Persistence errors",
		}, []string{"error_type"}),

		PersistLastSequence: factory.NewGauge(prometheus.GaugeOpts{
			Name: "credit_persist_last_sequence",
			Help: "Last persisted sequence",
		}),

		// Snapshot
		SnapshotTaken: factory.NewCounter(prometheus.CounterOpts{
			Name: "credit_snapshot_taken_total",
			Help: "Snapshots created",
		}),

		SnapshotSizeBytes: factory.NewGauge(prometheus.GaugeOpts{
			Name: "credit_snapshot_size_bytes",
			Help: "Last snapshot size",
		}),

		SnapshotLastSeq: factory.NewGauge(prometheus.GaugeOpts{
			Name: "credit_snapshot_last_sequence",
			Help: "Sequence of last snapshot",
		}),

		ReplayEventsTotal: factory.NewCounter(prometheus.CounterOpts{
			Name: "credit_replay_events_total",
			Help: "Events replayed on startup",
		}),

		ReplayDuration: factory.NewGauge(prometheus.GaugeOpts{
			Name: "credit_replay_duration_seconds",
			Help: "Total replay time",
		}),

		PublishedEvents: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "credit_outbound_events_total",
			Help: "Ledger events handed to the outbound stream, by outcome",
		}, []string{"outcome"}),

		// Query API
		QueryRequests: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "credit_query_requests_total",
			Help: "Query requests",
		}, []string{"endpoint", "status"}),

		QueryDuration: factory.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "credit_query_duration_seconds",
			Help:    "Query latency",
			Buckets: []float64{0.0001, 0.0005, 0.001, 0.005, 0.01, 0.05, 0.1, 0.5},
		}, []string{"endpoint"}),
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
