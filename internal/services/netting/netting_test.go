package netting_test

import (
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/gridsettle/clearing-service/internal/domain/models"
	"github.com/gridsettle/clearing-service/internal/services/netting"
)

func invoice(id, issuer, counterparty string, amount int64) *models.Invoice {
	return &models.Invoice{
		ID:             id,
		IssuerID:       issuer,
		CounterpartyID: counterparty,
		TotalAmount:    decimal.NewFromInt(amount),
		PeriodStart:    time.Date(2026, 5, 1, 0, 0, 0, 0, time.UTC),
		PeriodEnd:      time.Date(2026, 5, 31, 0, 0, 0, 0, time.UTC),
		Status:         models.InvoiceMatched,
	}
}

func sumNet(positions []models.NetPosition) decimal.Decimal {
	total := decimal.Zero
	for _, p := range positions {
		total = total.Add(p.Net)
	}
	return total
}

func TestComputeNetPositions_Conservation(t *testing.T) {
	invoices := []*models.Invoice{
		invoice("i1", "A", "B", 100),
		invoice("i2", "B", "C", 250),
		invoice("i3", "C", "A", 40),
		invoice("i4", "A", "C", 75),
		invoice("i5", "B", "A", 130),
	}

	positions := netting.ComputeNetPositions(invoices, nil)

	assert.True(t, sumNet(positions).IsZero(),
		"net positions must sum to zero, got %s", sumNet(positions))
}

func TestComputeNetPositions_PartialPaymentsReduceOutstanding(t *testing.T) {
	invoices := []*models.Invoice{invoice("i1", "A", "B", 100)}
	payments := []*models.Payment{
		{InvoiceID: "i1", Amount: decimal.NewFromInt(60), Status: models.PaymentCompleted},
		{InvoiceID: "i1", Amount: decimal.NewFromInt(15), Status: models.PaymentPending},
	}

	positions := netting.ComputeNetPositions(invoices, payments)

	require.Len(t, positions, 2)
	// Sorted by party id: A then B
	assert.Equal(t, "A", positions[0].PartyID)
	assert.True(t, positions[0].Net.Equal(decimal.NewFromInt(40)))
	assert.True(t, positions[1].Net.Equal(decimal.NewFromInt(-40)))
}

func TestComputeNetPositions_FullyPaidInvoiceExcluded(t *testing.T) {
	invoices := []*models.Invoice{invoice("i1", "A", "B", 100)}
	payments := []*models.Payment{
		{InvoiceID: "i1", Amount: decimal.NewFromInt(100), Status: models.PaymentCompleted},
	}

	positions := netting.ComputeNetPositions(invoices, payments)

	assert.Empty(t, positions)
}

func TestGenerateSettlementLegs_TriangleNetsToOneLeg(t *testing.T) {
	// A owes B 100, B owes C 100, C owes A 40:
	// nets A:-60, B:0, C:+60 -> exactly one leg, A pays C 60.
	invoices := []*models.Invoice{
		invoice("i1", "B", "A", 100),
		invoice("i2", "C", "B", 100),
		invoice("i3", "A", "C", 40),
	}

	positions := netting.ComputeNetPositions(invoices, nil)
	legs := netting.GenerateSettlementLegs(positions)

	require.Len(t, legs, 1)
	assert.Equal(t, "A", legs[0].PayerID)
	assert.Equal(t, "C", legs[0].PayeeID)
	assert.True(t, legs[0].Amount.Equal(decimal.NewFromInt(60)))
}

func TestGenerateSettlementLegs_Coverage(t *testing.T) {
	invoices := []*models.Invoice{
		invoice("i1", "A", "B", 300),
		invoice("i2", "A", "C", 120),
		invoice("i3", "B", "D", 95),
		invoice("i4", "C", "D", 410),
		invoice("i5", "D", "A", 50),
	}

	positions := netting.ComputeNetPositions(invoices, nil)
	legs := netting.GenerateSettlementLegs(positions)

	positive := decimal.Zero
	negative := decimal.Zero
	for _, p := range positions {
		if p.Net.IsPositive() {
			positive = positive.Add(p.Net)
		} else {
			negative = negative.Add(p.Net.Neg())
		}
	}

	legTotal := decimal.Zero
	for _, leg := range legs {
		legTotal = legTotal.Add(leg.Amount)
	}

	assert.True(t, legTotal.Equal(positive), "legs %s != receivables %s", legTotal, positive)
	assert.True(t, legTotal.Equal(negative), "legs %s != payables %s", legTotal, negative)

	debtors, creditors := 0, 0
	for _, p := range positions {
		if p.Net.IsNegative() {
			debtors++
		} else if p.Net.IsPositive() {
			creditors++
		}
	}
	assert.LessOrEqual(t, len(legs), debtors+creditors-1)
}

func TestGenerateSettlementLegs_Deterministic(t *testing.T) {
	invoices := []*models.Invoice{
		invoice("i1", "A", "B", 300),
		invoice("i2", "C", "D", 300),
		invoice("i3", "E", "F", 120),
	}

	positions := netting.ComputeNetPositions(invoices, nil)
	first := netting.GenerateSettlementLegs(positions)
	second := netting.GenerateSettlementLegs(netting.ComputeNetPositions(invoices, nil))

	require.Equal(t, len(first), len(second))
	for i := range first {
		assert.Equal(t, first[i].PayerID, second[i].PayerID)
		assert.Equal(t, first[i].PayeeID, second[i].PayeeID)
		assert.True(t, first[i].Amount.Equal(second[i].Amount))
	}
}

func TestGenerateSettlementLegs_EmptyPositions(t *testing.T) {
	legs := netting.GenerateSettlementLegs(nil)
	assert.Empty(t, legs)

	summary := netting.Summarize(nil, legs)
	assert.Zero(t, summary.GrossLegs)
	assert.Zero(t, summary.NetLegs)
	assert.Zero(t, summary.EfficiencyGain)
}

func TestSummarize_EfficiencyGain(t *testing.T) {
	invoices := []*models.Invoice{
		invoice("i1", "B", "A", 100),
		invoice("i2", "C", "B", 100),
		invoice("i3", "A", "C", 40),
	}

	positions := netting.ComputeNetPositions(invoices, nil)
	legs := netting.GenerateSettlementLegs(positions)
	summary := netting.Summarize(positions, legs)

	// Three parties with activity, one net leg.
	assert.Equal(t, 3, summary.GrossLegs)
	assert.Equal(t, 1, summary.NetLegs)
	assert.True(t, summary.GrossAmount.Equal(decimal.NewFromInt(240)))
	assert.True(t, summary.NetAmount.Equal(decimal.NewFromInt(60)))
	assert.InDelta(t, 66.67, summary.EfficiencyGain, 0.01)
}
