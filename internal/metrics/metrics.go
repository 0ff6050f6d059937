package metrics

import (
	"math/big"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"

	"github.com/Checker-Finance/settlement/pkg/model"
)

var (
	// Settlement attempts by trade model and outcome reason.
	SettlementsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "settlement_attempts_total",
			Help: "Total number of settlement attempts by trade model and result.",
		},
		[]string{"model", "result"}, // result = "ok" | engine reason code
	)

	SettlementDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "settlement_duration_seconds",
			Help:    "Time spent inside the engine per settlement attempt.",
			Buckets: prometheus.ExponentialBuckets(0.0001, 2, 15), // 100µs → ~1.6s
		},
		[]string{"model"},
	)

	// Accrued fees, in the asset's smallest unit, per asset address.
	FeesAccrued = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "settlement_fees_accrued_total",
			Help: "Protocol fees accrued by asset (smallest units, float approximation).",
		},
		[]string{"asset"},
	)

	FeeRateBps = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "settlement_fee_rate_bps",
			Help: "Current protocol fee rate in basis points.",
		},
	)

	HTTPRequestsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "settlement_http_requests_total",
			Help: "HTTP requests served by route and status.",
		},
		[]string{"route", "method", "status"},
	)

	// Tracks NATS messages processed by subject and result.
	NATSMessageCount = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "nats_messages_total",
			Help: "Total number of NATS messages processed.",
		},
		[]string{"subject", "result"}, // result = "ok" | "error"
	)

	NATSMessageLatency = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "nats_message_latency_seconds",
			Help:    "Time taken to publish NATS messages",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"subject"},
	)

	// Relayer queue deliveries by result.
	QueueMessagesTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "settlement_queue_messages_total",
			Help: "Relayer queue deliveries processed.",
		},
		[]string{"queue", "result"},
	)

	SecretsCacheHits = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "secrets_cache_access_total",
			Help: "Number of cache hits/misses in secret cache.",
		},
		[]string{"result"}, // hit | miss
	)

	ErrorsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "settlement_errors_total",
			Help: "Count of service-level errors by component.",
		},
		[]string{"component", "reason"},
	)

	LastFeeSnapshot = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "settlement_last_fee_snapshot_timestamp",
			Help: "Timestamp (unix seconds) of the last successful fee snapshot.",
		},
	)
)

// ObserveDuration records the time taken for a function and updates the given histogram.
func ObserveDuration(v interface{}, start time.Time, labels ...string) {
	duration := time.Since(start).Seconds()

	switch metric := v.(type) {
	case *prometheus.HistogramVec:
		metric.WithLabelValues(labels...).Observe(duration)
	case *prometheus.SummaryVec:
		metric.WithLabelValues(labels...).Observe(duration)
	default:
	}
}

// EngineObserver feeds engine outcomes into the settlement metrics.
type EngineObserver struct{}

func (EngineObserver) ObserveSettlement(m model.TradeModel, result string, elapsed time.Duration) {
	SettlementsTotal.WithLabelValues(m.Label(), result).Inc()
	SettlementDuration.WithLabelValues(m.Label()).Observe(elapsed.Seconds())
}

func AddFee(asset string, amount *big.Int) {
	if amount == nil || amount.Sign() <= 0 {
		return
	}
	f, _ := new(big.Float).SetInt(amount).Float64()
	FeesAccrued.WithLabelValues(asset).Add(f)
}

func SetFeeRate(bps uint64) {
	FeeRateBps.Set(float64(bps))
}

func IncHTTPRequest(route, method, status string) {
	HTTPRequestsTotal.WithLabelValues(route, method, status).Inc()
}

func IncNATSMessage(subject, result string) {
	NATSMessageCount.WithLabelValues(subject, result).Inc()
}

func IncQueueMessage(queue, result string) {
	QueueMessagesTotal.WithLabelValues(queue, result).Inc()
}

func IncCacheHit(result string) {
	SecretsCacheHits.WithLabelValues(result).Inc()
}

func IncError(component, reason string) {
	ErrorsTotal.WithLabelValues(component, reason).Inc()
}

func SetLastFeeSnapshot(t time.Time) {
	LastFeeSnapshot.Set(float64(t.Unix()))
}
