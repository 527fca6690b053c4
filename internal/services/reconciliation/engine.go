// Package reconciliation matches invoices against metered delivery records
// within a time window and quantity tolerance band, scores confidence, and
// raises exceptions and disputes on mismatch.
package reconciliation

import (
	"fmt"
	"math"

	"github.com/shopspring/decimal"

	"github.com/gridsettle/clearing-service/internal/domain/models"
	"github.com/gridsettle/clearing-service/internal/services/aging"
)

// Exception reason codes
const (
	ReasonNoMatchingDeliveries = "NO_MATCHING_DELIVERIES"
	ReasonQuantityVariance     = "QUANTITY_VARIANCE"
)

// Match records one invoice successfully reconciled against deliveries
type Match struct {
	InvoiceID          string
	MatchedDeliveryIDs []string
	ConfidenceScore    float64
	MatchedAmount      decimal.Decimal
	VariancePct        float64
}

// Exception records one invoice that could not be automatically matched
type Exception struct {
	InvoiceID      string
	Reason         string
	Severity       aging.Severity
	VariancePct    float64
	Recommendation string

	// Nil for NO_MATCHING_DELIVERIES exceptions
	ConfidenceScore *float64
}

// Summary aggregates one reconciliation run
type Summary struct {
	TotalInvoices  int
	MatchedCount   int
	ExceptionCount int
	MatchRatePct   float64
	MatchedAmount  decimal.Decimal
}

// Result is the outcome of the pure matching computation
type Result struct {
	Matches    []Match
	Exceptions []Exception
	Summary    Summary
}

// Reconcile classifies every invoice against the deliveries under the given
// rules. It is pure and deterministic: identical inputs produce identical
// classification and confidence scores. Malformed line items downgrade to
// an exception instead of failing the run.
func Reconcile(invoices []*models.Invoice, deliveries []*models.Delivery, rules RuleSet) *Result {
	result := &Result{
		Summary: Summary{
			TotalInvoices: len(invoices),
			MatchedAmount: decimal.Zero,
		},
	}

	for _, inv := range invoices {
		windowStart := inv.PeriodStart.Add(-rules.TimeWindow)
		windowEnd := inv.PeriodEnd.Add(rules.TimeWindow)

		var matched []*models.Delivery
		totalDelivered := 0.0
		for _, d := range deliveries {
			if d.ContractID != inv.ContractID {
				continue
			}
			if d.Timestamp.Before(windowStart) || d.Timestamp.After(windowEnd) {
				continue
			}
			matched = append(matched, d)
			totalDelivered += d.Quantity
		}

		if len(matched) == 0 {
			result.Exceptions = append(result.Exceptions, Exception{
				InvoiceID: inv.ID,
				Reason:    ReasonNoMatchingDeliveries,
				Severity:  aging.SeverityHigh,
				Recommendation: fmt.Sprintf(
					"no deliveries found for contract %s within the %s matching window; verify metering data feed",
					inv.ContractID, rules.TimeWindow),
			})
			continue
		}

		expected := inv.ExpectedQuantity() * rules.ContractTermsFactor

		// Zero expected quantity cannot be matched; variance is defined
		// as 100 so the exception path always triggers.
		variance := 100.0
		if expected > 0 {
			variance = math.Abs(totalDelivered-expected) / expected * 100
		}
		confidence := math.Max(0, 100-variance)

		if variance <= rules.ToleranceBand {
			result.Matches = append(result.Matches, Match{
				InvoiceID:          inv.ID,
				MatchedDeliveryIDs: deliveryIDs(matched),
				ConfidenceScore:    confidence,
				MatchedAmount:      inv.TotalAmount,
				VariancePct:        variance,
			})
			result.Summary.MatchedAmount = result.Summary.MatchedAmount.Add(inv.TotalAmount)
			continue
		}

		score := confidence
		result.Exceptions = append(result.Exceptions, Exception{
			InvoiceID:       inv.ID,
			Reason:          ReasonQuantityVariance,
			Severity:        aging.SeverityForVariance(variance),
			VariancePct:     variance,
			ConfidenceScore: &score,
			Recommendation: fmt.Sprintf(
				"delivered quantity %.2f deviates %.2f%% from declared %.2f (tolerance %.2f%%); review meter readings and invoice line items",
				totalDelivered, variance, expected, rules.ToleranceBand),
		})
	}

	result.Summary.MatchedCount = len(result.Matches)
	result.Summary.ExceptionCount = len(result.Exceptions)
	if result.Summary.TotalInvoices > 0 {
		result.Summary.MatchRatePct = float64(result.Summary.MatchedCount) / float64(result.Summary.TotalInvoices) * 100
	}
	return result
}

func deliveryIDs(deliveries []*models.Delivery) []string {
	ids := make([]string, len(deliveries))
	for i, d := range deliveries {
		ids[i] = d.ID
	}
	return ids
}
