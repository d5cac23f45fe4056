package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

type Metrics struct {
	BatchesTotal       *prometheus.CounterVec
	ItemsTotal         *prometheus.CounterVec
	QuarantinedTotal   prometheus.Counter
	KeyDebitsTotal     prometheus.Counter
	KeyDebitCoinsTotal prometheus.Counter
	RealizedSpendTotal prometheus.Counter
}

// New registers all collectors with reg. Pass prometheus.DefaultRegisterer in
// production and a fresh registry in tests.
func New(reg prometheus.Registerer) *Metrics {
	factory := promauto.With(reg)
	return &Metrics{
		BatchesTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: "giftpool",
				Subsystem: "gifts",
				Name:      "batches_total",
				Help:      "Total processed batches partitioned by result.",
			},
			[]string{"result"},
		),
		ItemsTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: "giftpool",
				Subsystem: "gifts",
				Name:      "items_total",
				Help:      "Total item outcomes partitioned by status.",
			},
			[]string{"status"},
		),
		QuarantinedTotal: factory.NewCounter(
			prometheus.CounterOpts{
				Namespace: "giftpool",
				Subsystem: "accounts",
				Name:      "quarantined_total",
				Help:      "Total accounts quarantined after a remote abuse limit.",
			},
		),
		KeyDebitsTotal: factory.NewCounter(
			prometheus.CounterOpts{
				Namespace: "giftpool",
				Subsystem: "ledger",
				Name:      "key_debits_total",
				Help:      "Total aggregate key debits applied.",
			},
		),
		KeyDebitCoinsTotal: factory.NewCounter(
			prometheus.CounterOpts{
				Namespace: "giftpool",
				Subsystem: "ledger",
				Name:      "key_debit_coins_total",
				Help:      "Total coins debited from prepaid keys.",
			},
		),
		RealizedSpendTotal: factory.NewCounter(
			prometheus.CounterOpts{
				Namespace: "giftpool",
				Subsystem: "gifts",
				Name:      "realized_spend_coins_total",
				Help:      "Total coins actually spent by pool accounts.",
			},
		),
	}
}
