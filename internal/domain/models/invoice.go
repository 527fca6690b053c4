package models

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"time"

	"github.com/shopspring/decimal"
)

// InvoiceStatus represents the current state of an invoice
type InvoiceStatus string

const (
	InvoicePending          InvoiceStatus = "pending"
	InvoiceMatched          InvoiceStatus = "matched"
	InvoicePartiallyMatched InvoiceStatus = "partially_matched"
	InvoiceDisputed         InvoiceStatus = "disputed"
	InvoicePaid             InvoiceStatus = "paid"
	InvoicePartiallyPaid    InvoiceStatus = "partially_paid"
)

// invoiceTransitions encodes the invoice lifecycle:
// pending -> {matched | partially_matched | disputed} -> {paid | partially_paid}.
// A partially matched invoice stays eligible for later reconciliation runs, so
// it may re-enter partially_matched when the variance persists.
var invoiceTransitions = map[InvoiceStatus][]InvoiceStatus{
	InvoicePending:          {InvoiceMatched, InvoicePartiallyMatched, InvoiceDisputed},
	InvoiceMatched:          {InvoicePaid, InvoicePartiallyPaid},
	InvoicePartiallyMatched: {InvoicePartiallyMatched, InvoiceMatched, InvoiceDisputed, InvoicePaid, InvoicePartiallyPaid},
	InvoiceDisputed:         {InvoiceMatched, InvoicePaid, InvoicePartiallyPaid},
	InvoicePartiallyPaid:    {InvoicePaid},
}

// CanTransitionTo reports whether moving from s to next is a legal transition
func (s InvoiceStatus) CanTransitionTo(next InvoiceStatus) bool {
	for _, allowed := range invoiceTransitions[s] {
		if allowed == next {
			return true
		}
	}
	return false
}

// IsTerminal reports whether the status admits no further transitions
func (s InvoiceStatus) IsTerminal() bool {
	return len(invoiceTransitions[s]) == 0
}

// Commodity identifies the physical good an invoice line covers
type Commodity string

const (
	CommodityEnergy Commodity = "energy"
	CommodityGas    Commodity = "gas"
	CommodityFuel   Commodity = "fuel"
)

// CommodityQuantity is the declared quantity for a single commodity.
// Exactly one commodity is populated per invoice; the tagged form makes
// that structural instead of three parallel optional fields.
type CommodityQuantity struct {
	Commodity Commodity
	Quantity  float64
}

// Invoice represents a billing document issued by one party to a counterparty
type Invoice struct {
	ID             string
	ContractID     string
	IssuerID       string
	CounterpartyID string
	PeriodStart    time.Time
	PeriodEnd      time.Time
	TotalAmount    decimal.Decimal
	TaxAmount      decimal.Decimal
	Currency       string
	LineItem       CommodityQuantity
	Status         InvoiceStatus

	// Populated by the matching engine once reconciled
	ConfidenceScore    *float64
	MatchedDeliveryIDs []string

	// Content digest over the immutable fields, computed at creation and
	// never recomputed. Detects tampering; not a primary key.
	ContentHash string

	// Optimistic concurrency version for status writes
	Version int32

	CreatedAt time.Time
	UpdatedAt time.Time
}

// Validate checks the invoice's structural invariants
func (i *Invoice) Validate() error {
	if !i.TotalAmount.IsPositive() {
		return ErrNonPositiveAmount
	}
	if i.PeriodStart.After(i.PeriodEnd) {
		return ErrInvalidPeriod
	}
	return nil
}

// ExpectedQuantity returns the declared quantity to reconcile against.
// Malformed or absent line data yields zero, which downstream forces an
// exception rather than an error (fail-soft).
func (i *Invoice) ExpectedQuantity() float64 {
	if i.LineItem.Quantity <= 0 {
		return 0
	}
	switch i.LineItem.Commodity {
	case CommodityEnergy, CommodityGas, CommodityFuel:
		return i.LineItem.Quantity
	default:
		return 0
	}
}

// ComputeContentHash digests the invoice's immutable fields.
// Called once at creation; stored in ContentHash.
func (i *Invoice) ComputeContentHash() string {
	payload := fmt.Sprintf("%s|%s|%s|%s|%d|%d|%s|%s|%s|%s|%f",
		i.ID,
		i.ContractID,
		i.IssuerID,
		i.CounterpartyID,
		i.PeriodStart.Unix(),
		i.PeriodEnd.Unix(),
		i.TotalAmount.String(),
		i.TaxAmount.String(),
		i.Currency,
		i.LineItem.Commodity,
		i.LineItem.Quantity,
	)
	sum := sha256.Sum256([]byte(payload))
	return hex.EncodeToString(sum[:])
}
