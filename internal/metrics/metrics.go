// Package metrics exposes the ledger's Prometheus collectors. A nil *Metrics is valid and records
// nothing, so services can be built without a registry in tests.
package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "ledger"

type Metrics struct {
	registry *prometheus.Registry

	operations         *prometheus.CounterVec
	insufficientFunds  *prometheus.CounterVec
	paymentTransitions *prometheus.CounterVec
	settlementSkipped  *prometheus.CounterVec
	rewardsGranted     *prometheus.CounterVec
	notificationErrors prometheus.Counter
	walletSyncs        *prometheus.CounterVec
}

// New builds the collectors on a fresh registry, with Go and process collectors attached.
func New() *Metrics {
	reg := prometheus.NewRegistry()
	reg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))

	m := &Metrics{
		registry: reg,
		operations: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "balance_operations_total",
			Help:      "Balance mutations by operation and currency.",
		}, []string{"operation", "currency"}),
		insufficientFunds: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "insufficient_funds_total",
			Help:      "Debits rejected for insufficient funds.",
		}, []string{"currency"}),
		paymentTransitions: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "payment_transitions_total",
			Help:      "Payment status transitions by payment type and target status.",
		}, []string{"payment_type", "status"}),
		settlementSkipped: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "settlement_skipped_total",
			Help:      "Business effects skipped because the target was missing or already in state.",
		}, []string{"payment_type", "reason"}),
		rewardsGranted: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "rewards_granted_total",
			Help:      "Rewards credited by reward key.",
		}, []string{"reward_key"}),
		notificationErrors: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "notification_errors_total",
			Help:      "Notifications that could not be delivered.",
		}),
		walletSyncs: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "wallet_syncs_total",
			Help:      "External wallet balance lookups by network and outcome.",
		}, []string{"network", "outcome"}),
	}

	reg.MustRegister(m.operations, m.insufficientFunds, m.paymentTransitions, m.settlementSkipped,
		m.rewardsGranted, m.notificationErrors, m.walletSyncs)
	return m
}

// Handler serves the registry in the Prometheus exposition format.
func (m *Metrics) Handler() http.Handler {
	if m == nil {
		return promhttp.Handler()
	}
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

func (m *Metrics) BalanceOperation(op, currency string) {
	if m == nil {
		return
	}
	m.operations.WithLabelValues(op, currency).Inc()
}

func (m *Metrics) InsufficientFunds(currency string) {
	if m == nil {
		return
	}
	m.insufficientFunds.WithLabelValues(currency).Inc()
}

func (m *Metrics) PaymentTransition(paymentType, status string) {
	if m == nil {
		return
	}
	m.paymentTransitions.WithLabelValues(paymentType, status).Inc()
}

func (m *Metrics) SettlementSkipped(paymentType, reason string) {
	if m == nil {
		return
	}
	m.settlementSkipped.WithLabelValues(paymentType, reason).Inc()
}

func (m *Metrics) RewardGranted(key string) {
	if m == nil {
		return
	}
	m.rewardsGranted.WithLabelValues(key).Inc()
}

func (m *Metrics) NotificationFailed() {
	if m == nil {
		return
	}
	m.notificationErrors.Inc()
}

func (m *Metrics) WalletSync(network, outcome string) {
	if m == nil {
		return
	}
	m.walletSyncs.WithLabelValues(network, outcome).Inc()
}
