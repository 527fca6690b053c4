package reconciliation_test

import (
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/gridsettle/clearing-service/internal/domain/models"
	"github.com/gridsettle/clearing-service/internal/services/aging"
	"github.com/gridsettle/clearing-service/internal/services/reconciliation"
)

var (
	periodStart = time.Date(2026, 5, 1, 0, 0, 0, 0, time.UTC)
	periodEnd   = time.Date(2026, 5, 31, 23, 59, 59, 0, time.UTC)
)

func testInvoice(id string, expected float64) *models.Invoice {
	return &models.Invoice{
		ID:             id,
		ContractID:     "contract-1",
		IssuerID:       "party-gen",
		CounterpartyID: "party-dist",
		PeriodStart:    periodStart,
		PeriodEnd:      periodEnd,
		TotalAmount:    decimal.NewFromInt(50000),
		Currency:       "EUR",
		LineItem:       models.CommodityQuantity{Commodity: models.CommodityEnergy, Quantity: expected},
		Status:         models.InvoicePending,
	}
}

func testDelivery(id string, ts time.Time, quantity float64) *models.Delivery {
	return &models.Delivery{
		ID:         id,
		ContractID: "contract-1",
		Timestamp:  ts,
		Quantity:   quantity,
	}
}

func TestReconcile_WithinTolerance(t *testing.T) {
	// 1000 declared, 1030 delivered: 3% variance, within the 5% band.
	invoices := []*models.Invoice{testInvoice("inv-1", 1000)}
	deliveries := []*models.Delivery{
		testDelivery("del-1", periodStart.AddDate(0, 0, 10), 600),
		testDelivery("del-2", periodStart.AddDate(0, 0, 20), 430),
	}

	result := reconciliation.Reconcile(invoices, deliveries, reconciliation.DefaultRuleSet())

	require.Len(t, result.Matches, 1)
	assert.Empty(t, result.Exceptions)
	match := result.Matches[0]
	assert.Equal(t, "inv-1", match.InvoiceID)
	assert.ElementsMatch(t, []string{"del-1", "del-2"}, match.MatchedDeliveryIDs)
	assert.InDelta(t, 97.0, match.ConfidenceScore, 0.001)
	assert.True(t, match.MatchedAmount.Equal(decimal.NewFromInt(50000)))
	assert.Equal(t, 1, result.Summary.MatchedCount)
	assert.InDelta(t, 100.0, result.Summary.MatchRatePct, 0.001)
}

func TestReconcile_HighVarianceRaisesException(t *testing.T) {
	// 1000 declared, 700 delivered: 30% variance, high severity.
	invoices := []*models.Invoice{testInvoice("inv-1", 1000)}
	deliveries := []*models.Delivery{
		testDelivery("del-1", periodStart.AddDate(0, 0, 5), 700),
	}

	result := reconciliation.Reconcile(invoices, deliveries, reconciliation.DefaultRuleSet())

	assert.Empty(t, result.Matches)
	require.Len(t, result.Exceptions, 1)
	exc := result.Exceptions[0]
	assert.Equal(t, reconciliation.ReasonQuantityVariance, exc.Reason)
	assert.Equal(t, aging.SeverityHigh, exc.Severity)
	assert.InDelta(t, 30.0, exc.VariancePct, 0.001)
	require.NotNil(t, exc.ConfidenceScore)
	assert.InDelta(t, 70.0, *exc.ConfidenceScore, 0.001)
	assert.Contains(t, exc.Recommendation, "30.00%")
}

func TestReconcile_ToleranceBoundaryInclusive(t *testing.T) {
	rules := reconciliation.DefaultRuleSet()

	tests := []struct {
		name      string
		delivered float64
		matched   bool
	}{
		{"variance exactly at band matches", 1050, true},
		{"variance just above band is exception", 1051, false},
		{"variance below band matches", 1049, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			invoices := []*models.Invoice{testInvoice("inv-1", 1000)}
			deliveries := []*models.Delivery{
				testDelivery("del-1", periodStart.AddDate(0, 0, 3), tt.delivered),
			}

			result := reconciliation.Reconcile(invoices, deliveries, rules)

			if tt.matched {
				assert.Len(t, result.Matches, 1)
				assert.Empty(t, result.Exceptions)
			} else {
				assert.Empty(t, result.Matches)
				assert.Len(t, result.Exceptions, 1)
			}
		})
	}
}

func TestReconcile_NoMatchingDeliveries(t *testing.T) {
	invoices := []*models.Invoice{testInvoice("inv-1", 1000)}

	// Delivery exists but for a different contract.
	other := testDelivery("del-1", periodStart.AddDate(0, 0, 5), 1000)
	other.ContractID = "contract-other"

	result := reconciliation.Reconcile(invoices, []*models.Delivery{other}, reconciliation.DefaultRuleSet())

	require.Len(t, result.Exceptions, 1)
	exc := result.Exceptions[0]
	assert.Equal(t, reconciliation.ReasonNoMatchingDeliveries, exc.Reason)
	assert.Equal(t, aging.SeverityHigh, exc.Severity)
	assert.Nil(t, exc.ConfidenceScore)
}

func TestReconcile_TimeWindow(t *testing.T) {
	rules := reconciliation.DefaultRuleSet()

	tests := []struct {
		name     string
		ts       time.Time
		eligible bool
	}{
		{"inside period", periodStart.AddDate(0, 0, 15), true},
		{"six days before period start", periodStart.AddDate(0, 0, -6), true},
		{"six days after period end", periodEnd.AddDate(0, 0, 6), true},
		{"eight days before period start", periodStart.AddDate(0, 0, -8), false},
		{"eight days after period end", periodEnd.AddDate(0, 0, 8), false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			invoices := []*models.Invoice{testInvoice("inv-1", 1000)}
			deliveries := []*models.Delivery{testDelivery("del-1", tt.ts, 1000)}

			result := reconciliation.Reconcile(invoices, deliveries, rules)

			if tt.eligible {
				assert.Len(t, result.Matches, 1)
			} else {
				require.Len(t, result.Exceptions, 1)
				assert.Equal(t, reconciliation.ReasonNoMatchingDeliveries, result.Exceptions[0].Reason)
			}
		})
	}
}

func TestReconcile_MalformedLineItemFailsSoft(t *testing.T) {
	// Zero declared quantity: variance defined as 100, always an exception.
	invoices := []*models.Invoice{testInvoice("inv-1", 0)}
	deliveries := []*models.Delivery{
		testDelivery("del-1", periodStart.AddDate(0, 0, 5), 500),
	}

	result := reconciliation.Reconcile(invoices, deliveries, reconciliation.DefaultRuleSet())

	require.Len(t, result.Exceptions, 1)
	exc := result.Exceptions[0]
	assert.Equal(t, reconciliation.ReasonQuantityVariance, exc.Reason)
	assert.Equal(t, aging.SeverityHigh, exc.Severity)
	assert.InDelta(t, 100.0, exc.VariancePct, 0.001)
	require.NotNil(t, exc.ConfidenceScore)
	assert.InDelta(t, 0.0, *exc.ConfidenceScore, 0.001)
}

func TestReconcile_Idempotent(t *testing.T) {
	invoices := []*models.Invoice{
		testInvoice("inv-1", 1000),
		testInvoice("inv-2", 2500),
		testInvoice("inv-3", 800),
	}
	deliveries := []*models.Delivery{
		testDelivery("del-1", periodStart.AddDate(0, 0, 4), 980),
		testDelivery("del-2", periodStart.AddDate(0, 0, 12), 1900),
		testDelivery("del-3", periodStart.AddDate(0, 0, 25), 600),
	}
	rules := reconciliation.DefaultRuleSet()

	first := reconciliation.Reconcile(invoices, deliveries, rules)
	second := reconciliation.Reconcile(invoices, deliveries, rules)

	require.Equal(t, len(first.Matches), len(second.Matches))
	require.Equal(t, len(first.Exceptions), len(second.Exceptions))
	for i := range first.Matches {
		assert.Equal(t, first.Matches[i].InvoiceID, second.Matches[i].InvoiceID)
		assert.Equal(t, first.Matches[i].ConfidenceScore, second.Matches[i].ConfidenceScore)
	}
	for i := range first.Exceptions {
		assert.Equal(t, first.Exceptions[i].InvoiceID, second.Exceptions[i].InvoiceID)
		assert.Equal(t, first.Exceptions[i].Severity, second.Exceptions[i].Severity)
		assert.Equal(t, first.Exceptions[i].VariancePct, second.Exceptions[i].VariancePct)
	}
}

func TestReconcile_EmptyInputs(t *testing.T) {
	result := reconciliation.Reconcile(nil, nil, reconciliation.DefaultRuleSet())

	assert.Empty(t, result.Matches)
	assert.Empty(t, result.Exceptions)
	assert.Zero(t, result.Summary.TotalInvoices)
	assert.Zero(t, result.Summary.MatchRatePct)
}
