package observability

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// Reconciliation metrics
	reconciliationOutcomesTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "reconciliation_outcomes_total",
		Help: "Total invoices classified by the matching engine",
	}, []string{
		"outcome",  // matched, exception
		"severity", // none, low, medium, high
	})

	reconciliationConfidence = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "reconciliation_confidence_score",
		Help:    "Distribution of confidence scores per outcome",
		Buckets: []float64{0, 50, 70, 80, 90, 95, 99, 100},
	}, []string{
		"outcome",
	})

	disputesRaisedTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "disputes_raised_total",
		Help: "Total disputes auto-raised by the matching engine",
	}, []string{
		"reason",
	})

	// Netting metrics
	nettingLegs = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "netting_legs",
		Help:    "Settlement legs per netting run, gross vs net",
		Buckets: []float64{0, 1, 2, 5, 10, 25, 50, 100, 250},
	}, []string{
		"kind", // gross, net
	})

	nettingEfficiencyGain = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "netting_efficiency_gain_percent",
		Help:    "Leg-count reduction achieved by multilateral netting",
		Buckets: []float64{0, 10, 25, 50, 66, 75, 90, 100},
	})

	// Settlement lifecycle metrics
	settlementBatchesTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "settlement_batches_total",
		Help: "Settlement batch state transitions",
	}, []string{
		"status", // computed, approved, executed, rejected, failed
	})

	// Ledger metrics
	paymentsRecordedTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "payments_recorded_total",
		Help: "Invoice payments recorded through the ledger",
	}, []string{
		"result", // recorded, rejected_overpayment
	})

	// Escrow gateway metrics
	escrowCallsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "escrow_calls_total",
		Help: "Calls to the external escrow/funds service",
	}, []string{
		"operation", // reserve, release
		"result",    // ok, failed
	})
)

// RecordReconciliationOutcome records one invoice classification
func RecordReconciliationOutcome(outcome, severity string, confidenceScore float64) {
	reconciliationOutcomesTotal.WithLabelValues(outcome, severity).Inc()
	reconciliationConfidence.WithLabelValues(outcome).Observe(confidenceScore)
}

// RecordDisputeRaised records an auto-raised dispute
func RecordDisputeRaised(reason string) {
	disputesRaisedTotal.WithLabelValues(reason).Inc()
}

// RecordNettingRun records the leg reduction of one netting run
func RecordNettingRun(grossLegs, netLegs int, efficiencyGain float64) {
	nettingLegs.WithLabelValues("gross").Observe(float64(grossLegs))
	nettingLegs.WithLabelValues("net").Observe(float64(netLegs))
	nettingEfficiencyGain.Observe(efficiencyGain)
}

// RecordSettlementBatch records a batch state transition
func RecordSettlementBatch(status string) {
	settlementBatchesTotal.WithLabelValues(status).Inc()
}

// RecordPaymentRecorded records the outcome of a payment recording attempt
func RecordPaymentRecorded(result string) {
	paymentsRecordedTotal.WithLabelValues(result).Inc()
}

// RecordEscrowCall records one call to the escrow service
func RecordEscrowCall(operation, result string) {
	escrowCallsTotal.WithLabelValues(operation, result).Inc()
}
