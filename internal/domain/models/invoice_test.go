package models

import (
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
)

func validInvoice() *Invoice {
	return &Invoice{
		ID:             "inv-1",
		ContractID:     "contract-1",
		IssuerID:       "party-a",
		CounterpartyID: "party-b",
		PeriodStart:    time.Date(2026, 5, 1, 0, 0, 0, 0, time.UTC),
		PeriodEnd:      time.Date(2026, 5, 31, 23, 59, 59, 0, time.UTC),
		TotalAmount:    decimal.RequireFromString("1000.00"),
		TaxAmount:      decimal.RequireFromString("190.00"),
		Currency:       "EUR",
		LineItem:       CommodityQuantity{Commodity: CommodityEnergy, Quantity: 500},
		Status:         InvoicePending,
	}
}

func TestInvoiceStatusTransitions(t *testing.T) {
	tests := []struct {
		from    InvoiceStatus
		to      InvoiceStatus
		allowed bool
	}{
		{InvoicePending, InvoiceMatched, true},
		{InvoicePending, InvoicePartiallyMatched, true},
		{InvoicePending, InvoiceDisputed, true},
		{InvoicePending, InvoicePaid, false},
		{InvoiceMatched, InvoicePaid, true},
		{InvoiceMatched, InvoicePending, false},
		{InvoicePartiallyMatched, InvoiceMatched, true},
		{InvoicePartiallyMatched, InvoicePartiallyMatched, true},
		{InvoicePartiallyMatched, InvoiceDisputed, true},
		{InvoiceDisputed, InvoiceMatched, true},
		{InvoicePartiallyPaid, InvoicePaid, true},
		{InvoicePaid, InvoiceMatched, false},
	}

	for _, tt := range tests {
		got := tt.from.CanTransitionTo(tt.to)
		assert.Equal(t, tt.allowed, got, "%s -> %s", tt.from, tt.to)
	}
}

func TestInvoicePaidIsTerminal(t *testing.T) {
	assert.True(t, InvoicePaid.IsTerminal())
	assert.False(t, InvoicePending.IsTerminal())
	assert.False(t, InvoicePartiallyPaid.IsTerminal())
}

func TestInvoiceValidate(t *testing.T) {
	inv := validInvoice()
	assert.NoError(t, inv.Validate())

	inv = validInvoice()
	inv.TotalAmount = decimal.Zero
	assert.ErrorIs(t, inv.Validate(), ErrNonPositiveAmount)

	inv = validInvoice()
	inv.PeriodStart, inv.PeriodEnd = inv.PeriodEnd, inv.PeriodStart
	assert.ErrorIs(t, inv.Validate(), ErrInvalidPeriod)
}

func TestExpectedQuantity(t *testing.T) {
	inv := validInvoice()
	assert.Equal(t, 500.0, inv.ExpectedQuantity())

	inv.LineItem.Quantity = -10
	assert.Equal(t, 0.0, inv.ExpectedQuantity())

	inv.LineItem = CommodityQuantity{Commodity: "plutonium", Quantity: 100}
	assert.Equal(t, 0.0, inv.ExpectedQuantity())
}

func TestContentHashStableAcrossMutableFields(t *testing.T) {
	inv := validInvoice()
	hash := inv.ComputeContentHash()
	assert.Len(t, hash, 64)

	// Status and reconciliation outcome are mutable and must not move the hash
	inv.Status = InvoiceMatched
	score := 97.5
	inv.ConfidenceScore = &score
	inv.Version = 3
	assert.Equal(t, hash, inv.ComputeContentHash())

	// Changing an immutable billing field must
	inv.TotalAmount = decimal.RequireFromString("1000.01")
	assert.NotEqual(t, hash, inv.ComputeContentHash())
}

func TestOutstandingAmount(t *testing.T) {
	inv := validInvoice()

	payments := []*Payment{
		{ID: "pay-1", InvoiceID: "inv-1", Amount: decimal.RequireFromString("400.00"), Status: PaymentCompleted},
		{ID: "pay-2", InvoiceID: "inv-1", Amount: decimal.RequireFromString("100.00"), Status: PaymentPending},
		{ID: "pay-3", InvoiceID: "inv-other", Amount: decimal.RequireFromString("300.00"), Status: PaymentCompleted},
	}

	// Only completed payments against this invoice count
	outstanding := OutstandingAmount(inv, payments)
	assert.True(t, outstanding.Equal(decimal.RequireFromString("600.00")), "got %s", outstanding)
}

func TestOutstandingAmountNeverNegative(t *testing.T) {
	inv := validInvoice()
	payments := []*Payment{
		{ID: "pay-1", InvoiceID: "inv-1", Amount: decimal.RequireFromString("1500.00"), Status: PaymentCompleted},
	}
	assert.True(t, OutstandingAmount(inv, payments).IsZero())
}
