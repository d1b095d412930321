package observability

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics holds all Prometheus metrics for VaultLedger.
type Metrics struct {
	// --- Core processing ---
	OperationsTotal   *prometheus.CounterVec
	OperationDuration *prometheus.HistogramVec
	StateHashDur      prometheus.Histogram
	Sequence          prometheus.Gauge
	Price             prometheus.Gauge
	Liquidations      prometheus.Counter

	// --- Channel & backpressure ---
	ChannelSize         *prometheus.GaugeVec
	ChannelCapacity     *prometheus.GaugeVec
	ChannelUtilization  *prometheus.GaugeVec
	PublishDrops        prometheus.Counter
	JournalBackpressure prometheus.Counter

	// --- Idempotency ---
	IdempotencyDuplicates *prometheus.CounterVec
	DedupLRUSize          prometheus.Gauge
	DedupLRUEvictions     prometheus.Counter
	DedupTier2Errors      prometheus.Counter

	// --- Price feed ---
	PriceUpdates     *prometheus.CounterVec
	PriceSequenceGap *prometheus.CounterVec

	// --- Persistence ---
	PersistOpsWritten   prometheus.Counter
	PersistBatchSize    prometheus.Histogram
	PersistBatchDur     prometheus.Histogram
	PersistErrors       *prometheus.CounterVec
	PersistRetry        prometheus.Counter
	PersistLastSequence prometheus.Gauge

	// --- Messaging ---
	PublishedEvents *prometheus.CounterVec
	PublishErrors   *prometheus.CounterVec

	// --- API ---
	Requests        *prometheus.CounterVec
	RequestDuration *prometheus.HistogramVec
}

// NewMetrics creates all metrics and registers them with reg. A nil reg uses
// the Prometheus default registerer.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	f := promauto.With(reg)

	latencyBuckets := []float64{
		0.000005, 0.00001, 0.000025, 0.00005, 0.0001, 0.00025,
		0.0005, 0.001, 0.0025, 0.005, 0.01, 0.025, 0.05,
	}

	return &Metrics{
		// Core processing
		OperationsTotal: f.NewCounterVec(prometheus.CounterOpts{
			Name: "vault_operations_total",
			Help: "Operations processed by outcome (ok, rejected, error, replayed)",
		}, []string{"op", "outcome"}),

		OperationDuration: f.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "vault_operation_duration_seconds",
			Help:    "Time to apply a single operation including the store round trip",
			Buckets: latencyBuckets,
		}, []string{"op"}),

		StateHashDur: f.NewHistogram(prometheus.HistogramOpts{
			Name:    "vault_state_hash_duration_seconds",
			Help:    "Time to compute the chained state hash",
			Buckets: latencyBuckets,
		}),

		Sequence: f.NewGauge(prometheus.GaugeOpts{
			Name: "vault_sequence",
			Help: "Current global operation sequence",
		}),

		Price: f.NewGauge(prometheus.GaugeOpts{
			Name: "vault_price",
			Help: "Current collateral price in debt units",
		}),

		Liquidations: f.NewCounter(prometheus.CounterOpts{
			Name: "vault_liquidations_total",
			Help: "Successful liquidations",
		}),

		// Channel & backpressure
		ChannelSize: f.NewGaugeVec(prometheus.GaugeOpts{
			Name: "vault_channel_size",
			Help: "Current items in channel",
		}, []string{"name"}),

		ChannelCapacity: f.NewGaugeVec(prometheus.GaugeOpts{
			Name: "vault_channel_capacity",
			Help: "Channel capacity (constant)",
		}, []string{"name"}),

		ChannelUtilization: f.NewGaugeVec(prometheus.GaugeOpts{
			Name: "vault_channel_utilization",
			Help: "Channel size / capacity (0.0-1.0)",
		}, []string{"name"}),

		PublishDrops: f.NewCounter(prometheus.CounterOpts{
			Name: "vault_publish_drops_total",
			Help: "Envelopes dropped due to full publish channel",
		}),

		JournalBackpressure: f.NewCounter(prometheus.CounterOpts{
			Name: "vault_journal_backpressure_total",
			Help: "Times the processor blocked on the journal channel",
		}),

		// Idempotency
		IdempotencyDuplicates: f.NewCounterVec(prometheus.CounterOpts{
			Name: "vault_idempotency_duplicates_total",
			Help: "Replayed requests (lru/postgres)",
		}, []string{"op", "tier"}),

		DedupLRUSize: f.NewGauge(prometheus.GaugeOpts{
			Name: "vault_dedup_lru_size",
			Help: "Current LRU occupancy",
		}),

		DedupLRUEvictions: f.NewCounter(prometheus.CounterOpts{
			Name: "vault_dedup_lru_evictions_total",
			Help: "LRU evictions",
		}),

		DedupTier2Errors: f.NewCounter(prometheus.CounterOpts{
			Name: "vault_dedup_tier2_errors_total",
			Help: "Postgres dedup lookups that failed",
		}),

		// Price feed
		PriceUpdates: f.NewCounterVec(prometheus.CounterOpts{
			Name: "vault_price_updates_total",
			Help: "Price feed messages by outcome (applied, stale, invalid, error)",
		}, []string{"outcome"}),

		PriceSequenceGap: f.NewCounterVec(prometheus.CounterOpts{
			Name: "vault_price_sequence_gap_total",
			Help: "Price feed sequence gaps (tolerated)",
		}, []string{"source"}),

		// Persistence
		PersistOpsWritten: f.NewCounter(prometheus.CounterOpts{
			Name: "vault_persist_operations_written_total",
			Help: "Operations written to Postgres",
		}),

		PersistBatchSize: f.NewHistogram(prometheus.HistogramOpts{
			Name:    "vault_persist_batch_size",
			Help:    "Operations per batch",
			Buckets: []float64{1, 5, 10, 25, 50, 100, 250, 500},
		}),

		PersistBatchDur: f.NewHistogram(prometheus.HistogramOpts{
			Name:    "vault_persist_batch_duration_seconds",
			Help:    "Postgres batch write duration",
			Buckets: []float64{0.0001, 0.0005, 0.001, 0.005, 0.01, 0.025, 0.05, 0.1, 0.25},
		}),

		PersistErrors: f.NewCounterVec(prometheus.CounterOpts{
			Name: "vault_persist_errors_total",
			Help: "Persistence errors",
		}, []string{"error_type"}),

		PersistRetry: f.NewCounter(prometheus.CounterOpts{
			Name: "vault_persist_retry_total",
			Help: "Persistence retries",
		}),

		PersistLastSequence: f.NewGauge(prometheus.GaugeOpts{
			Name: "vault_persist_last_sequence",
			Help: "Last persisted sequence",
		}),

		// Messaging
		PublishedEvents: f.NewCounterVec(prometheus.CounterOpts{
			Name: "vault_published_events_total",
			Help: "Envelopes published to NATS",
		}, []string{"op"}),

		PublishErrors: f.NewCounterVec(prometheus.CounterOpts{
			Name: "vault_publish_errors_total",
			Help: "NATS publish failures",
		}, []string{"op"}),

		// API
		Requests: f.NewCounterVec(prometheus.CounterOpts{
			Name: "vault_api_requests_total",
			Help: "API requests",
		}, []string{"transport", "method", "code"}),

		RequestDuration: f.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "vault_api_request_duration_seconds",
			Help:    "API request latency",
			Buckets: []float64{0.0001, 0.0005, 0.001, 0.005, 0.01, 0.05, 0.1, 0.5},
		}, []string{"transport", "method"}),
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
