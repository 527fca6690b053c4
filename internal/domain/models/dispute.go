package models

import (
	"time"

	"github.com/shopspring/decimal"
)

// DisputeReason is the fixed enumeration of reasons a dispute may cite
type DisputeReason string

const (
	ReasonQuantityVariance     DisputeReason = "quantity_variance"
	ReasonPriceVariance        DisputeReason = "price_variance"
	ReasonMissingDeliveryProof DisputeReason = "missing_delivery_proof"
	ReasonLateDelivery         DisputeReason = "late_delivery"
	ReasonQualityIssue         DisputeReason = "quality_issue"
	ReasonDuplicateInvoice     DisputeReason = "duplicate_invoice"
	ReasonFXMismatch           DisputeReason = "fx_mismatch"
	ReasonContractBreach       DisputeReason = "contract_breach"
	ReasonOther                DisputeReason = "other"
)

// DisputeStatus represents the current state of a dispute
type DisputeStatus string

const (
	DisputeOpen              DisputeStatus = "open"
	DisputeUnderReview       DisputeStatus = "under_review"
	DisputeEvidenceRequested DisputeStatus = "evidence_requested"
	DisputeResolved          DisputeStatus = "resolved"
	DisputeEscalated         DisputeStatus = "escalated"
	DisputeClosed            DisputeStatus = "closed"
)

// disputeTransitions encodes the dispute lifecycle:
// open -> under_review -> (evidence_requested -> under_review)* ->
// {resolved | escalated | closed}
var disputeTransitions = map[DisputeStatus][]DisputeStatus{
	DisputeOpen:              {DisputeUnderReview},
	DisputeUnderReview:       {DisputeEvidenceRequested, DisputeResolved, DisputeEscalated, DisputeClosed},
	DisputeEvidenceRequested: {DisputeUnderReview},
}

// CanTransitionTo reports whether moving from s to next is a legal transition
func (s DisputeStatus) CanTransitionTo(next DisputeStatus) bool {
	for _, allowed := range disputeTransitions[s] {
		if allowed == next {
			return true
		}
	}
	return false
}

// Active reports whether the dispute still awaits an outcome. Escalated
// disputes count as active until the external ruling lands.
func (s DisputeStatus) Active() bool {
	return s != DisputeResolved && s != DisputeClosed
}

// Dispute represents a disagreement raised against an invoice or contract.
// Disputes are never silently deleted.
type Dispute struct {
	ID           string
	InvoiceID    string
	ContractID   string
	RaisedByID   string // counterparty or issuer of the invoice
	AgainstID    string
	Reason       DisputeReason
	Status       DisputeStatus
	Description  string
	SLADeadline  time.Time
	RulingAmount *decimal.Decimal // adjusted settlement amount if resolved in raiser's favor
	CreatedAt    time.Time
	UpdatedAt    time.Time
}
