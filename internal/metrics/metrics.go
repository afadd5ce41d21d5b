// Package metrics holds the Prometheus collectors of the financial core.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	LedgerOperations = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "ledger_operations_total",
			Help: "Wallet ledger operations by operation and outcome",
		},
		[]string{"operation", "outcome"},
	)

	WithdrawalTransitions = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "withdrawal_transitions_total",
			Help: "Withdrawal state transitions",
		},
		[]string{"transition", "outcome"},
	)

	CommissionPayouts = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "referral_commission_payouts_total",
			Help: "Referral commission levels processed",
		},
		[]string{"level", "outcome"},
	)

	PaymentVerifications = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "payment_verifications_total",
			Help: "Gateway payment verifications by outcome",
		},
		[]string{"outcome"},
	)

	HTTPRequestDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "http_request_duration_seconds",
			Help:    "Duration of HTTP requests",
			Buckets: []float64{.005, .01, .025, .05, .1, .25, .5, 1, 2.5, 5, 10},
		},
		[]string{"method", "route", "status"},
	)
)

// Outcome maps an error to the "outcome" label.
func Outcome(err error) string {
	if err != nil {
		return "error"
	}
	return "ok"
}
