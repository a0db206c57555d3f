package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
)

// SettlementMetrics counts processed payments and rejected webhooks.
type SettlementMetrics struct {
	outcomes   *prometheus.CounterVec
	duplicates prometheus.Counter
	rejections *prometheus.CounterVec
}

// NewSettlementMetrics registers the settlement counters on the provided registerer.
func NewSettlementMetrics(reg prometheus.Registerer) *SettlementMetrics {
	if reg == nil {
		return &SettlementMetrics{}
	}
	outcomes := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "settlement_payments_total",
		Help: "Settled processor payments by validator outcome.",
	}, []string{"outcome"})
	duplicates := prometheus.NewCounter(prometheus.CounterOpts{
		Name: "settlement_duplicate_payments_total",
		Help: "Processor payments ignored because they were already recorded.",
	})
	rejections := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "settlement_webhook_rejections_total",
		Help: "Processor webhooks rejected before settlement.",
	}, []string{"reason"})
	reg.MustRegister(outcomes, duplicates, rejections)
	return &SettlementMetrics{
		outcomes:   outcomes,
		duplicates: duplicates,
		rejections: rejections,
	}
}

// IncOutcome counts one committed settlement.
func (m *SettlementMetrics) IncOutcome(outcome string) {
	if m == nil || m.outcomes == nil {
		return
	}
	m.outcomes.WithLabelValues(normalizeLabel(outcome)).Inc()
}

// IncDuplicate counts a redelivered payment that changed nothing.
func (m *SettlementMetrics) IncDuplicate() {
	if m == nil || m.duplicates == nil {
		return
	}
	m.duplicates.Inc()
}

// IncWebhookRejected counts a webhook refused at ingress.
func (m *SettlementMetrics) IncWebhookRejected(reason string) {
	if m == nil || m.rejections == nil {
		return
	}
	m.rejections.WithLabelValues(normalizeLabel(reason)).Inc()
}
