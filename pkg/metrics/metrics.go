package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
)

// QuotesPriced counts priced quotes by size class and side
var QuotesPriced = prometheus.NewCounterVec(
	prometheus.CounterOpts{
		Name: "otcdesk_quotes_priced_total",
		Help: "Total number of quotes priced by the pricing engine",
	},
	[]string{"size_class", "side"},
)

// DealTransitions counts deal status transitions by target status
var DealTransitions = prometheus.NewCounterVec(
	prometheus.CounterOpts{
		Name: "otcdesk_deal_transitions_total",
		Help: "Deal lifecycle transitions",
	},
	[]string{"status"},
)

// Settlement metrics
var (
	SettlementTransitions = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "otcdesk_settlement_transitions_total",
			Help: "Settlement lifecycle transitions",
		},
		[]string{"status"},
	)

	RailLatency = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "otcdesk_rail_submit_latency_seconds",
			Help:    "Latency of rail gateway submissions",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"method", "outcome"},
	)
)

// ComplianceDecisions counts compliance gate outcomes
var ComplianceDecisions = prometheus.NewCounterVec(
	prometheus.CounterOpts{
		Name: "otcdesk_compliance_decisions_total",
		Help: "Compliance gate decisions by outcome and risk level",
	},
	[]string{"outcome", "risk_level"},
)

// Custody metrics
var (
	Withdrawals = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "otcdesk_withdrawals_total",
			Help: "Withdrawals by resulting status",
		},
		[]string{"status"},
	)

	Sweeps = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "otcdesk_sweeps_total",
			Help: "Hot to cold sweeps by currency and outcome",
		},
		[]string{"currency", "status"},
	)

	DepositsCredited = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "otcdesk_deposits_credited_total",
			Help: "Deposits credited after reaching confirmation depth",
		},
		[]string{"currency"},
	)
)

func init() {
	prometheus.MustRegister(QuotesPriced, DealTransitions)
	prometheus.MustRegister(SettlementTransitions, RailLatency)
	prometheus.MustRegister(ComplianceDecisions)
	prometheus.MustRegister(Withdrawals, Sweeps, DepositsCredited)
}
