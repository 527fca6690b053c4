package models

import (
	"time"

	"github.com/shopspring/decimal"
)

// BatchStatus represents the lifecycle state of a settlement batch
type BatchStatus string

const (
	BatchComputed  BatchStatus = "computed"
	BatchApproved  BatchStatus = "approved"
	BatchExecuting BatchStatus = "executing"
	BatchExecuted  BatchStatus = "executed"
	BatchRejected  BatchStatus = "rejected"
	BatchFailed    BatchStatus = "failed"
)

// batchTransitions encodes the batch lifecycle:
// computed -> approved -> executing -> executed, with terminal
// rejected/failed branches. Executing may fall back to approved when the
// escrow reservation never happened, so the batch stays retryable.
var batchTransitions = map[BatchStatus][]BatchStatus{
	BatchComputed:  {BatchApproved, BatchRejected},
	BatchApproved:  {BatchExecuting},
	BatchExecuting: {BatchExecuted, BatchFailed, BatchApproved},
}

// CanTransitionTo reports whether moving from s to next is a legal transition
func (s BatchStatus) CanTransitionTo(next BatchStatus) bool {
	for _, allowed := range batchTransitions[s] {
		if allowed == next {
			return true
		}
	}
	return false
}

// IsTerminal reports whether the batch admits no further transitions
func (s BatchStatus) IsTerminal() bool {
	return len(batchTransitions[s]) == 0
}

// NetPosition is a party's aggregate receivable minus payable for a period.
// Positive means the party is owed money; negative means it owes.
type NetPosition struct {
	PartyID         string
	TotalReceivable decimal.Decimal
	TotalPayable    decimal.Decimal
	Net             decimal.Decimal
}

// SettlementLeg is one directed payer -> payee transfer required to
// realize the computed net positions.
type SettlementLeg struct {
	PayerID string
	PayeeID string
	Amount  decimal.Decimal
}

// BatchApproval records one approver's sign-off on a computed batch
type BatchApproval struct {
	BatchID    string
	ApproverID string
	Role       string
	ApprovedAt time.Time
}

// RequiredApprovals is the fixed quorum for settlement batch approval:
// three distinct institutional approvers, not a percentage of participants.
const RequiredApprovals = 3

// SettlementBatch represents one netting run for a calendar period (YYYY-MM).
// The positions and legs are recomputable from invoice/payment state, but
// the batch snapshots what was approved; the snapshot must not change
// between approval and execution.
type SettlementBatch struct {
	ID             string
	Period         string // YYYY-MM
	FXRate         decimal.Decimal
	Currency       string
	TotalNetAmount decimal.Decimal
	Status         BatchStatus

	Positions []NetPosition
	Legs      []SettlementLeg
	Approvals []BatchApproval

	FailureReason string
	CreatedAt     time.Time
	UpdatedAt     time.Time
	ExecutedAt    *time.Time
}

// HasApprover reports whether the approver already signed off on the batch
func (b *SettlementBatch) HasApprover(approverID string) bool {
	for _, a := range b.Approvals {
		if a.ApproverID == approverID {
			return true
		}
	}
	return false
}

// NettingSummary reports the leg-count and amount reduction a netting run
// achieved versus gross bilateral settlement.
type NettingSummary struct {
	GrossLegs      int
	NetLegs        int
	GrossAmount    decimal.Decimal
	NetAmount      decimal.Decimal
	EfficiencyGain float64 // percent reduction in legs
}
