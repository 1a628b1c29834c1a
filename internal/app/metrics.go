/**
 * @description
 * Prometheus instrumentation for the payment workflow. All observe methods are
 * nil-safe so the service can run without metrics wired (tests, local dev).
 */

package app

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

type Metrics struct {
	initiationsTotal *prometheus.CounterVec
	callbacksTotal   *prometheus.CounterVec
	refundsTotal     prometheus.Counter
	pendingSettled   *prometheus.CounterVec
}

func NewMetrics() *Metrics {
	return &Metrics{
		initiationsTotal: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: "banking",
				Subsystem: "payments",
				Name:      "initiations_total",
				Help:      "Total payment initiations by kind and result.",
			},
			[]string{"kind", "result"},
		),
		callbacksTotal: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: "banking",
				Subsystem: "payments",
				Name:      "callbacks_total",
				Help:      "Total gateway callbacks received by kind and outcome.",
			},
			[]string{"kind", "outcome"},
		),
		refundsTotal: promauto.NewCounter(
			prometheus.CounterOpts{
				Namespace: "banking",
				Subsystem: "payments",
				Name:      "refunds_total",
				Help:      "Total withdrawal refunds applied after failed disbursements.",
			},
		),
		pendingSettled: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: "banking",
				Subsystem: "payments",
				Name:      "settlements_total",
				Help:      "Total pending transactions settled by kind and final status.",
			},
			[]string{"kind", "status"},
		),
	}
}

func (m *Metrics) ObserveInitiation(kind, result string) {
	if m == nil {
		return
	}
	m.initiationsTotal.WithLabelValues(kind, result).Inc()
}

func (m *Metrics) ObserveCallback(kind, outcome string) {
	if m == nil {
		return
	}
	m.callbacksTotal.WithLabelValues(kind, outcome).Inc()
}

func (m *Metrics) ObserveRefund() {
	if m == nil {
		return
	}
	m.refundsTotal.Inc()
}

func (m *Metrics) ObserveSettlement(kind, status string) {
	if m == nil {
		return
	}
	m.pendingSettled.WithLabelValues(kind, status).Inc()
}
