package observability

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics holds all Prometheus metrics for PariLedger.
type Metrics struct {
	// --- Settlement engine ---
	MarketsCreated  *prometheus.CounterVec
	MarketsResolved *prometheus.CounterVec
	Deposits        *prometheus.CounterVec
	Claims          *prometheus.CounterVec
	Refunds         *prometheus.CounterVec
	RakeSweeps      *prometheus.CounterVec
	EngineRejects   *prometheus.CounterVec
	EngineSequence  prometheus.Gauge

	// --- Fact pipeline ---
	PublishDrops        prometheus.Counter
	PersistBackpressure prometheus.Counter
	PersistBatchDur     prometheus.Histogram
	PersistBatchSize    prometheus.Histogram
	PersistFactsWritten prometheus.Counter
	PersistErrors       *prometheus.CounterVec
	PersistRetry        prometheus.Counter
	PersistLastSequence prometheus.Gauge
	ProjectionUpdateDur prometheus.Histogram
	ProjectionDrops     prometheus.Counter
	ProjectionLastSeq   prometheus.Gauge
	FeedPublished       *prometheus.CounterVec
	FeedPublishErrors   prometheus.Counter

	// --- HTTP API ---
	HTTPRequests *prometheus.CounterVec
	HTTPDuration *prometheus.HistogramVec
}

// NewMetrics creates and registers all Prometheus metrics.
func NewMetrics() *Metrics {
	writeBuckets := []float64{0.0001, 0.0005, 0.001, 0.005, 0.01, 0.025, 0.05, 0.1, 0.25}

	return &Metrics{
		MarketsCreated: promauto.NewCounterVec(prometheus.CounterOpts{
			Name: "pari_markets_created_total",
			Help: "Settlement markets created",
		}, []string{"pair", "window_type"}),

		MarketsResolved: promauto.NewCounterVec(prometheus.CounterOpts{
			Name: "pari_markets_resolved_total",
			Help: "Markets resolved by outcome",
		}, []string{"pair", "outcome"}),

		Deposits: promauto.NewCounterVec(prometheus.CounterOpts{
			Name: "pari_deposits_total",
			Help: "Deposits accepted",
		}, []string{"pair", "side"}),

		Claims: promauto.NewCounterVec(prometheus.CounterOpts{
			Name: "pari_claims_total",
			Help: "Winning claims paid out",
		}, []string{"pair"}),

		Refunds: promauto.NewCounterVec(prometheus.CounterOpts{
			Name: "pari_refunds_total",
			Help: "Emergency refunds paid out",
		}, []string{"pair"}),

		RakeSweeps: promauto.NewCounterVec(prometheus.CounterOpts{
			Name: "pari_rake_sweeps_total",
			Help: "Rake withdrawals",
		}, []string{"pair"}),

		EngineRejects: promauto.NewCounterVec(prometheus.CounterOpts{
			Name: "pari_engine_rejects_total",
			Help: "Operations rejected by the engine",
		}, []string{"operation", "reason"}),

		EngineSequence: promauto.NewGauge(prometheus.GaugeOpts{
			Name: "pari_engine_sequence",
			Help: "Current global fact sequence",
		}),

		PublishDrops: promauto.NewCounter(prometheus.CounterOpts{
			Name: "pari_publish_drops_total",
			Help: "Facts dropped due to full publish channel",
		}),

		PersistBackpressure: promauto.NewCounter(prometheus.CounterOpts{
			Name: "pari_persist_backpressure_total",
			Help: "Times the engine blocked on the persist channel",
		}),

		PersistBatchDur: promauto.NewHistogram(prometheus.HistogramOpts{
			Name:    "pari_persist_batch_duration_seconds",
			Help:    "Postgres batch write duration",
			Buckets: writeBuckets,
		}),

		PersistBatchSize: promauto.NewHistogram(prometheus.HistogramOpts{
			Name:    "pari_persist_batch_size",
			Help:    "Facts per batch",
			Buckets: []float64{1, 5, 10, 25, 50, 100, 250, 500},
		}),

		PersistFactsWritten: promauto.NewCounter(prometheus.CounterOpts{
			Name: "pari_persist_facts_written_total",
			Help: "Facts written to Postgres",
		}),

		PersistErrors: promauto.NewCounterVec(prometheus.CounterOpts{
			Name: "pari_persist_errors_total",
			Help: "Persistence errors",
		}, []string{"error_type"}),

		PersistRetry: promauto.NewCounter(prometheus.CounterOpts{
			Name: "pari_persist_retry_total",
			Help: "Persistence retries",
		}),

		PersistLastSequence: promauto.NewGauge(prometheus.GaugeOpts{
			Name: "pari_persist_last_sequence",
			Help: "Last persisted fact sequence",
		}),

		ProjectionUpdateDur: promauto.NewHistogram(prometheus.HistogramOpts{
			Name:    "pari_projection_update_duration_seconds",
			Help:    "Market state projection update duration",
			Buckets: writeBuckets,
		}),

		ProjectionDrops: promauto.NewCounter(prometheus.CounterOpts{
			Name: "pari_projection_drops_total",
			Help: "Facts dropped due to full projection channel",
		}),

		ProjectionLastSeq: promauto.NewGauge(prometheus.GaugeOpts{
			Name: "pari_projection_last_sequence",
			Help: "Projection watermark sequence",
		}),

		FeedPublished: promauto.NewCounterVec(prometheus.CounterOpts{
			Name: "pari_feed_published_total",
			Help: "Facts published to NATS",
		}, []string{"fact_type"}),

		FeedPublishErrors: promauto.NewCounter(prometheus.CounterOpts{
			Name: "pari_feed_publish_errors_total",
			Help: "NATS publish failures",
		}),

		HTTPRequests: promauto.NewCounterVec(prometheus.CounterOpts{
			Name: "pari_http_requests_total",
			Help: "HTTP API requests",
		}, []string{"route", "method", "status"}),

		HTTPDuration: promauto.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "pari_http_request_duration_seconds",
			Help:    "HTTP API request latency",
			Buckets: []float64{0.0001, 0.0005, 0.001, 0.005, 0.01, 0.05, 0.1, 0.5},
		}, []string{"route"}),
	}
}

// PublishDropped satisfies the recorder's drop counter.
func (m *Metrics) PublishDropped(factType string) {
	m.PublishDrops.Inc()
}
