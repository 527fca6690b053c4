package models

import (
	"time"

	"github.com/shopspring/decimal"
)

// PaymentStatus represents the current state of a payment
type PaymentStatus string

const (
	PaymentPending    PaymentStatus = "pending"
	PaymentProcessing PaymentStatus = "processing"
	PaymentCompleted  PaymentStatus = "completed"
	PaymentFailed     PaymentStatus = "failed"
	PaymentReversed   PaymentStatus = "reversed"
)

// Payment represents a transfer record. InvoiceID is empty for
// settlement-generated payments, which clear net positions rather than a
// single invoice; those carry the settlement batch id instead.
type Payment struct {
	ID                string
	InvoiceID         string
	SettlementBatchID string
	PayerID           string
	PayeeID           string
	Amount            decimal.Decimal
	Currency          string
	ValueDate         time.Time
	BankReference     string
	Status            PaymentStatus
	CreatedAt         time.Time
	UpdatedAt         time.Time
}

// OutstandingAmount returns what remains unpaid on an invoice given the
// completed payments recorded against it. Never negative.
func OutstandingAmount(inv *Invoice, payments []*Payment) decimal.Decimal {
	paid := decimal.Zero
	for _, p := range payments {
		if p.Status == PaymentCompleted && p.InvoiceID == inv.ID {
			paid = paid.Add(p.Amount)
		}
	}
	outstanding := inv.TotalAmount.Sub(paid)
	if outstanding.IsNegative() {
		return decimal.Zero
	}
	return outstanding
}
