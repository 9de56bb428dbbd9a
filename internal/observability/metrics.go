package observability

import (
	"github.com/prometheus/client_golang/prometheus"
)

const metricsNamespace = "paygate"

// Metrics holds the gateway's Prometheus collectors. Components accept a nil
// *Metrics and skip recording.
type Metrics struct {
	WebhooksReceived  *prometheus.CounterVec
	WebhookDuration   *prometheus.HistogramVec
	ReconcileOutcomes *prometheus.CounterVec
	ProviderCalls     *prometheus.CounterVec
	ProviderDuration  *prometheus.HistogramVec
	SweepReplays      *prometheus.CounterVec
	ConflictsRecorded *prometheus.CounterVec
	SignatureFailures *prometheus.CounterVec
}

func NewMetrics(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		WebhooksReceived: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: metricsNamespace,
				Subsystem: "webhook",
				Name:      "received_total",
				Help:      "Webhook deliveries by provider and result",
			},
			[]string{"provider", "result"},
		),
		WebhookDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: metricsNamespace,
				Subsystem: "webhook",
				Name:      "duration_seconds",
				Help:      "Webhook ingestion latency",
				Buckets:   []float64{0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5},
			},
			[]string{"provider"},
		),
		ReconcileOutcomes: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: metricsNamespace,
				Subsystem: "reconciler",
				Name:      "outcomes_total",
				Help:      "Reconciler outcomes by entity and outcome",
			},
			[]string{"entity", "outcome"},
		),
		ProviderCalls: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: metricsNamespace,
				Subsystem: "provider",
				Name:      "calls_total",
				Help:      "Outbound provider calls by provider, operation and status",
			},
			[]string{"provider", "operation", "status"},
		),
		ProviderDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: metricsNamespace,
				Subsystem: "provider",
				Name:      "call_duration_seconds",
				Help:      "Outbound provider call latency",
				Buckets:   prometheus.DefBuckets,
			},
			[]string{"provider", "operation"},
		),
		SweepReplays: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: metricsNamespace,
				Subsystem: "scheduler",
				Name:      "replays_total",
				Help:      "Webhook events replayed by the sweep",
			},
			[]string{"result"},
		),
		ConflictsRecorded: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: metricsNamespace,
				Subsystem: "reconciler",
				Name:      "conflicts_total",
				Help:      "Semantic conflicts flagged for manual review",
			},
			[]string{"entity"},
		),
		SignatureFailures: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: metricsNamespace,
				Subsystem: "webhook",
				Name:      "signature_failures_total",
				Help:      "Rejected webhook signatures",
			},
			[]string{"provider"},
		),
	}

	if reg != nil {
		reg.MustRegister(
			m.WebhooksReceived,
			m.WebhookDuration,
			m.ReconcileOutcomes,
			m.ProviderCalls,
			m.ProviderDuration,
			m.SweepReplays,
			m.ConflictsRecorded,
			m.SignatureFailures,
		)
	}
	return m
}
