// Package settlement drives settlement batches through their lifecycle:
// computed -> approved -> executed, with quorum approval, escrow fund
// reservation, and compensating rollback on partial execution failure.
package settlement

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/shopspring/decimal"

	"github.com/gridsettle/clearing-service/internal/domain/models"
	"github.com/gridsettle/clearing-service/internal/domain/ports"
	"github.com/gridsettle/clearing-service/internal/services/netting"
	clearingerrors "github.com/gridsettle/clearing-service/pkg/errors"
	"github.com/gridsettle/clearing-service/pkg/observability"
	"github.com/gridsettle/clearing-service/pkg/timeutil"
)

// DefaultReservationTTL bounds how long escrow funds stay reserved for one
// execution attempt. The reservation expiry is the authoritative execution
// timeout: once it passes, execution takes the rollback path.
const DefaultReservationTTL = 24 * time.Hour

// LegStatus is the per-leg outcome of an execution attempt
type LegStatus string

const (
	LegSucceeded  LegStatus = "succeeded"
	LegFailed     LegStatus = "failed"
	LegRolledBack LegStatus = "rolled_back"
)

// LegResult records one settlement leg's execution outcome
type LegResult struct {
	Leg       models.SettlementLeg
	PaymentID string
	Status    LegStatus
	Err       string
}

// ExecutionResult is the structured outcome of an Execute call. Callers
// always learn exactly which legs committed, failed, or were rolled back.
type ExecutionResult struct {
	BatchID        string
	BatchStatus    models.BatchStatus
	Reserved       bool
	ReservationRef string
	Legs           []LegResult
	FailedLegs     int
	RolledBackLegs int
}

// Orchestrator coordinates netting runs and the settlement batch state
// machine against the ledger store and the external escrow service.
type Orchestrator struct {
	db          ports.DBPort
	settlements ports.SettlementRepository
	invoices    ports.InvoiceRepository
	payments    ports.PaymentRepository
	locks       ports.PeriodLockRepository
	escrow      ports.EscrowGateway
	audit       ports.AuditSink
	logger      ports.Logger

	reservationTTL time.Duration
	now            func() time.Time
}

// NewOrchestrator creates a new settlement orchestrator
func NewOrchestrator(
	db ports.DBPort,
	settlements ports.SettlementRepository,
	invoices ports.InvoiceRepository,
	payments ports.PaymentRepository,
	locks ports.PeriodLockRepository,
	escrow ports.EscrowGateway,
	audit ports.AuditSink,
	logger ports.Logger,
) *Orchestrator {
	return &Orchestrator{
		db:             db,
		settlements:    settlements,
		invoices:       invoices,
		payments:       payments,
		locks:          locks,
		escrow:         escrow,
		audit:          audit,
		logger:         logger,
		reservationTTL: DefaultReservationTTL,
		now:            timeutil.Now,
	}
}

// Compute runs the netting engine for a period and persists a new batch in
// computed state, holding the period lock until the batch reaches a
// terminal state. A period with an active batch returns a conflict.
func (o *Orchestrator) Compute(ctx context.Context, period string, fxRate decimal.Decimal, currency string) (*models.SettlementBatch, error) {
	start, end, err := timeutil.ParsePeriod(period)
	if err != nil {
		return nil, err
	}
	if !fxRate.IsPositive() {
		return nil, clearingerrors.NewValidationError("fx_rate", "must be positive")
	}

	invoices, err := o.invoices.ListInPeriod(ctx, nil, start, end, nil)
	if err != nil {
		return nil, fmt.Errorf("list invoices for period %s: %w", period, err)
	}
	invoiceIDs := make([]string, len(invoices))
	for i, inv := range invoices {
		invoiceIDs[i] = inv.ID
	}
	completed, err := o.payments.ListCompletedForInvoices(ctx, nil, invoiceIDs)
	if err != nil {
		return nil, fmt.Errorf("list completed payments: %w", err)
	}

	positions := netting.ComputeNetPositions(invoices, completed)
	legs := netting.GenerateSettlementLegs(positions)
	summary := netting.Summarize(positions, legs)

	totalNet := decimal.Zero
	for _, leg := range legs {
		totalNet = totalNet.Add(leg.Amount)
	}

	now := o.now()
	batch := &models.SettlementBatch{
		ID:             uuid.New().String(),
		Period:         period,
		FXRate:         fxRate,
		Currency:       currency,
		TotalNetAmount: totalNet,
		Status:         models.BatchComputed,
		Positions:      positions,
		Legs:           legs,
		CreatedAt:      now,
		UpdatedAt:      now,
	}

	err = o.db.WithTransaction(ctx, func(ctx context.Context, tx pgx.Tx) error {
		existing, err := o.settlements.GetActiveBatchForPeriod(ctx, tx, period)
		if err != nil {
			return fmt.Errorf("check active batch: %w", err)
		}
		if existing != nil {
			return clearingerrors.New("PERIOD_LOCKED",
				fmt.Sprintf("period %s already has batch %s in %s state", period, existing.ID, existing.Status),
				clearingerrors.CategoryConflict, false)
		}

		if err := o.locks.Acquire(ctx, tx, period, batch.ID); err != nil {
			return fmt.Errorf("acquire period lock: %w", err)
		}
		if err := o.settlements.CreateBatch(ctx, tx, batch); err != nil {
			return fmt.Errorf("create batch: %w", err)
		}

		event := &models.AuditEvent{
			ID:         uuid.New().String(),
			Action:     "settlement.computed",
			EntityType: "settlement_batch",
			EntityID:   batch.ID,
			NewValues: map[string]string{
				"period":           period,
				"status":           string(models.BatchComputed),
				"total_net_amount": totalNet.String(),
				"legs":             fmt.Sprintf("%d", len(legs)),
			},
			Timestamp: now,
		}
		return o.audit.Append(ctx, tx, event)
	})
	if err != nil {
		return nil, err
	}

	observability.RecordSettlementBatch(string(models.BatchComputed))
	observability.RecordNettingRun(summary.GrossLegs, summary.NetLegs, summary.EfficiencyGain)

	o.logger.Info("settlement batch computed",
		ports.String("batch_id", batch.ID),
		ports.String("period", period),
		ports.Int("positions", len(positions)),
		ports.Int("legs", len(legs)),
		ports.String("total_net_amount", totalNet.String()),
		ports.Float64("efficiency_gain_pct", summary.EfficiencyGain),
	)
	return batch, nil
}

// Approve records one approver's sign-off. The batch transitions to
// approved exactly once, when the fixed quorum of distinct approvers is
// reached; a duplicate approver is rejected with a conflict. The batch
// row stays locked for the transaction, so two approvers racing to the
// quorum serialize and only one of them flips the status.
func (o *Orchestrator) Approve(ctx context.Context, batchID uuid.UUID, approverID, role string) (*models.SettlementBatch, error) {
	var batch *models.SettlementBatch

	err := o.db.WithTransaction(ctx, func(ctx context.Context, tx pgx.Tx) error {
		var err error
		batch, err = o.settlements.GetBatchByIDForUpdate(ctx, tx, batchID)
		if err != nil {
			return fmt.Errorf("get batch: %w", err)
		}
		if batch.Status != models.BatchComputed {
			return clearingerrors.New("INVALID_BATCH_STATE",
				fmt.Sprintf("batch %s is %s, approvals only apply to computed batches", batch.ID, batch.Status),
				clearingerrors.CategoryInvalidState, false)
		}
		if batch.HasApprover(approverID) {
			return clearingerrors.New("DUPLICATE_APPROVAL",
				fmt.Sprintf("approver %s already approved batch %s", approverID, batch.ID),
				clearingerrors.CategoryConflict, false)
		}

		now := o.now()
		approval := &models.BatchApproval{
			BatchID:    batch.ID,
			ApproverID: approverID,
			Role:       role,
			ApprovedAt: now,
		}
		if err := o.settlements.AddApproval(ctx, tx, approval); err != nil {
			return fmt.Errorf("add approval: %w", err)
		}
		batch.Approvals = append(batch.Approvals, *approval)

		if len(batch.Approvals) < models.RequiredApprovals {
			return nil
		}

		if err := o.settlements.UpdateBatchStatus(ctx, tx, batchID, models.BatchApproved, nil, ""); err != nil {
			return fmt.Errorf("update batch status: %w", err)
		}
		batch.Status = models.BatchApproved

		event := &models.AuditEvent{
			ID:         uuid.New().String(),
			Action:     "settlement.approved",
			EntityType: "settlement_batch",
			EntityID:   batch.ID,
			OldValues:  map[string]string{"status": string(models.BatchComputed)},
			NewValues: map[string]string{
				"status":    string(models.BatchApproved),
				"approvals": fmt.Sprintf("%d", len(batch.Approvals)),
			},
			Timestamp: now,
		}
		return o.audit.Append(ctx, tx, event)
	})
	if err != nil {
		return nil, err
	}

	if batch.Status == models.BatchApproved {
		observability.RecordSettlementBatch(string(models.BatchApproved))
	}
	o.logger.Info("settlement approval recorded",
		ports.String("batch_id", batch.ID),
		ports.String("approver_id", approverID),
		ports.Int("approvals", len(batch.Approvals)),
		ports.Bool("quorum_reached", batch.Status == models.BatchApproved),
	)
	return batch, nil
}

// Reject moves a computed batch to the terminal rejected state and frees
// the period for a fresh compute.
func (o *Orchestrator) Reject(ctx context.Context, batchID uuid.UUID, rejectedBy, reason string) error {
	err := o.db.WithTransaction(ctx, func(ctx context.Context, tx pgx.Tx) error {
		batch, err := o.settlements.GetBatchByIDForUpdate(ctx, tx, batchID)
		if err != nil {
			return fmt.Errorf("get batch: %w", err)
		}
		if !batch.Status.CanTransitionTo(models.BatchRejected) {
			return clearingerrors.New("INVALID_BATCH_STATE",
				fmt.Sprintf("batch %s is %s and cannot be rejected", batch.ID, batch.Status),
				clearingerrors.CategoryInvalidState, false)
		}

		if err := o.settlements.UpdateBatchStatus(ctx, tx, batchID, models.BatchRejected, nil, reason); err != nil {
			return fmt.Errorf("update batch status: %w", err)
		}
		if err := o.locks.Release(ctx, tx, batch.Period); err != nil {
			return fmt.Errorf("release period lock: %w", err)
		}

		event := &models.AuditEvent{
			ID:         uuid.New().String(),
			Action:     "settlement.rejected",
			EntityType: "settlement_batch",
			EntityID:   batch.ID,
			OldValues:  map[string]string{"status": string(batch.Status)},
			NewValues: map[string]string{
				"status":      string(models.BatchRejected),
				"rejected_by": rejectedBy,
				"reason":      reason,
			},
			Timestamp: o.now(),
		}
		return o.audit.Append(ctx, tx, event)
	})
	if err != nil {
		return err
	}

	observability.RecordSettlementBatch(string(models.BatchRejected))
	return nil
}

// Execute settles an approved batch: claim the batch, reserve escrow
// funds, execute each leg with a durable per-leg payment record, and
// either finalize the batch or roll back every committed leg.
//
// The claim moves the batch to executing with a status-guarded update, so
// concurrent Execute calls for the same batch resolve to exactly one
// winner; the losers get a conflict. A reservation failure returns the
// batch to approved with no side effects so the caller can retry once
// funds are available. A failed batch has all its financial side effects
// reversed and must be recomputed from scratch.
func (o *Orchestrator) Execute(ctx context.Context, batchID uuid.UUID) (*ExecutionResult, error) {
	var batch *models.SettlementBatch
	err := o.db.WithTransaction(ctx, func(ctx context.Context, tx pgx.Tx) error {
		var err error
		batch, err = o.settlements.GetBatchByID(ctx, tx, batchID)
		if err != nil {
			return fmt.Errorf("get batch: %w", err)
		}
		if batch.Status != models.BatchApproved {
			return clearingerrors.New("INVALID_BATCH_STATE",
				fmt.Sprintf("batch %s is %s, only approved batches execute", batch.ID, batch.Status),
				clearingerrors.CategoryInvalidState, false)
		}
		// The status-guarded claim is the actual exclusion; the check
		// above only shapes the error for plainly wrong states.
		return o.settlements.ClaimBatchForExecution(ctx, tx, batchID)
	})
	if err != nil {
		return nil, err
	}
	batch.Status = models.BatchExecuting

	result := &ExecutionResult{
		BatchID:        batch.ID,
		BatchStatus:    batch.Status,
		ReservationRef: fmt.Sprintf("settlement-%s", batch.ID),
	}

	reservation, err := o.escrow.Reserve(ctx, batch.TotalNetAmount, batch.Currency, result.ReservationRef, o.reservationTTL)
	if err != nil {
		observability.RecordEscrowCall("reserve", "failed")
		o.logger.Warn("escrow reservation failed, batch returns to approved",
			ports.String("batch_id", batch.ID),
			ports.String("amount", batch.TotalNetAmount.String()),
			ports.Err(err),
		)
		// No financial side effects yet: release the claim for retry.
		o.releaseClaim(ctx, batch)
		result.BatchStatus = models.BatchApproved
		return result, fmt.Errorf("reserve escrow funds: %w", err)
	}
	observability.RecordEscrowCall("reserve", "ok")
	result.Reserved = true

	// Legs run sequentially with a durable payment record per leg, so an
	// interruption always leaves an exact record of what committed.
	failed := false
	for _, leg := range batch.Legs {
		if o.now().After(reservation.ExpiresAt) {
			result.Legs = append(result.Legs, LegResult{
				Leg:    leg,
				Status: LegFailed,
				Err:    "escrow reservation expired before leg execution",
			})
			failed = true
			break
		}

		legResult := o.executeLeg(ctx, batch, leg)
		result.Legs = append(result.Legs, legResult)
		if legResult.Status == LegFailed {
			failed = true
			break
		}
	}

	if failed {
		o.rollback(ctx, batch, result)
		result.BatchStatus = models.BatchFailed
		observability.RecordSettlementBatch(string(models.BatchFailed))
		return result, clearingerrors.New("PARTIAL_EXECUTION",
			fmt.Sprintf("batch %s execution failed, committed legs rolled back", batch.ID),
			clearingerrors.CategoryPartialExecution, false).
			WithDetail("failed_legs", result.FailedLegs)
	}

	if err := o.finalize(ctx, batch); err != nil {
		// Payments are durable but the batch row did not flip; roll back
		// so no executed funds movement survives an unexecuted batch.
		o.logger.Error("failed to finalize executed batch, rolling back",
			ports.String("batch_id", batch.ID),
			ports.Err(err),
		)
		o.rollback(ctx, batch, result)
		result.BatchStatus = models.BatchFailed
		observability.RecordSettlementBatch(string(models.BatchFailed))
		return result, fmt.Errorf("finalize batch: %w", err)
	}

	if err := o.escrow.Release(ctx, result.ReservationRef); err != nil {
		// The batch is executed; a failed release is escrow-side cleanup
		// handled by the reservation TTL.
		observability.RecordEscrowCall("release", "failed")
		o.logger.Warn("failed to release escrow reservation after execution",
			ports.String("batch_id", batch.ID),
			ports.String("reference", result.ReservationRef),
			ports.Err(err),
		)
	} else {
		observability.RecordEscrowCall("release", "ok")
	}

	result.BatchStatus = models.BatchExecuted
	observability.RecordSettlementBatch(string(models.BatchExecuted))
	o.logger.Info("settlement batch executed",
		ports.String("batch_id", batch.ID),
		ports.Int("legs", len(result.Legs)),
		ports.String("total_net_amount", batch.TotalNetAmount.String()),
	)
	return result, nil
}

// executeLeg creates the completed payment for one leg in its own
// transaction, so the commit is durably acknowledged before the next leg.
func (o *Orchestrator) executeLeg(ctx context.Context, batch *models.SettlementBatch, leg models.SettlementLeg) LegResult {
	now := o.now()
	payment := &models.Payment{
		ID:                uuid.New().String(),
		SettlementBatchID: batch.ID,
		PayerID:           leg.PayerID,
		PayeeID:           leg.PayeeID,
		Amount:            leg.Amount,
		Currency:          batch.Currency,
		ValueDate:         now,
		BankReference:     fmt.Sprintf("settlement-%s-%s-%s", batch.ID, leg.PayerID, leg.PayeeID),
		Status:            models.PaymentCompleted,
		CreatedAt:         now,
		UpdatedAt:         now,
	}

	err := o.db.WithTransaction(ctx, func(ctx context.Context, tx pgx.Tx) error {
		return o.payments.Create(ctx, tx, payment)
	})
	if err != nil {
		return LegResult{Leg: leg, Status: LegFailed, Err: err.Error()}
	}
	return LegResult{Leg: leg, PaymentID: payment.ID, Status: LegSucceeded}
}

// releaseClaim returns a claimed batch to approved after a reservation
// failure. Nothing financial happened yet, so the batch stays retryable.
func (o *Orchestrator) releaseClaim(ctx context.Context, batch *models.SettlementBatch) {
	batchID, err := uuid.Parse(batch.ID)
	if err == nil {
		err = o.db.WithTransaction(ctx, func(ctx context.Context, tx pgx.Tx) error {
			return o.settlements.UpdateBatchStatus(ctx, tx, batchID, models.BatchApproved, nil, "")
		})
	}
	if err != nil {
		o.logger.Error("failed to return claimed batch to approved",
			ports.String("batch_id", batch.ID),
			ports.Err(err),
		)
		return
	}
	batch.Status = models.BatchApproved
}

// rollback reverses every committed leg, releases the escrow reservation
// exactly once, and moves the batch to failed with the period lock freed.
func (o *Orchestrator) rollback(ctx context.Context, batch *models.SettlementBatch, result *ExecutionResult) {
	for i := range result.Legs {
		lr := &result.Legs[i]
		switch lr.Status {
		case LegFailed:
			result.FailedLegs++
		case LegSucceeded:
			paymentID, err := uuid.Parse(lr.PaymentID)
			if err == nil {
				err = o.db.WithTransaction(ctx, func(ctx context.Context, tx pgx.Tx) error {
					return o.payments.UpdateStatus(ctx, tx, paymentID, models.PaymentReversed)
				})
			}
			if err != nil {
				// Surfaced for operator remediation; the leg stays
				// recorded as succeeded so nothing is hidden.
				lr.Err = fmt.Sprintf("rollback failed: %v", err)
				o.logger.Error("failed to reverse committed settlement leg",
					ports.String("batch_id", batch.ID),
					ports.String("payment_id", lr.PaymentID),
					ports.Err(err),
				)
				continue
			}
			lr.Status = LegRolledBack
			result.RolledBackLegs++
		}
	}

	if result.Reserved {
		if err := o.escrow.Release(ctx, result.ReservationRef); err != nil {
			observability.RecordEscrowCall("release", "failed")
			o.logger.Error("failed to release escrow reservation during rollback",
				ports.String("batch_id", batch.ID),
				ports.String("reference", result.ReservationRef),
				ports.Err(err),
			)
		} else {
			observability.RecordEscrowCall("release", "ok")
			result.Reserved = false
		}
	}

	batchID, err := uuid.Parse(batch.ID)
	if err != nil {
		o.logger.Error("invalid batch id during rollback", ports.String("batch_id", batch.ID), ports.Err(err))
		return
	}
	err = o.db.WithTransaction(ctx, func(ctx context.Context, tx pgx.Tx) error {
		reason := fmt.Sprintf("%d legs failed, %d rolled back", result.FailedLegs, result.RolledBackLegs)
		if err := o.settlements.UpdateBatchStatus(ctx, tx, batchID, models.BatchFailed, nil, reason); err != nil {
			return fmt.Errorf("update batch status: %w", err)
		}
		if err := o.locks.Release(ctx, tx, batch.Period); err != nil {
			return fmt.Errorf("release period lock: %w", err)
		}

		event := &models.AuditEvent{
			ID:         uuid.New().String(),
			Action:     "settlement.execution_failed",
			EntityType: "settlement_batch",
			EntityID:   batch.ID,
			OldValues:  map[string]string{"status": string(models.BatchExecuting)},
			NewValues: map[string]string{
				"status":           string(models.BatchFailed),
				"failed_legs":      fmt.Sprintf("%d", result.FailedLegs),
				"rolled_back_legs": fmt.Sprintf("%d", result.RolledBackLegs),
			},
			Timestamp: o.now(),
		}
		return o.audit.Append(ctx, tx, event)
	})
	if err != nil {
		o.logger.Error("failed to persist batch failure",
			ports.String("batch_id", batch.ID),
			ports.Err(err),
		)
	}
}

// finalize flips the batch to executed and frees the period lock, with the
// audit event in the same transaction.
func (o *Orchestrator) finalize(ctx context.Context, batch *models.SettlementBatch) error {
	batchID, err := uuid.Parse(batch.ID)
	if err != nil {
		return fmt.Errorf("invalid batch ID: %w", err)
	}
	executedAt := o.now()

	return o.db.WithTransaction(ctx, func(ctx context.Context, tx pgx.Tx) error {
		if err := o.settlements.UpdateBatchStatus(ctx, tx, batchID, models.BatchExecuted, &executedAt, ""); err != nil {
			return fmt.Errorf("update batch status: %w", err)
		}
		if err := o.locks.Release(ctx, tx, batch.Period); err != nil {
			return fmt.Errorf("release period lock: %w", err)
		}

		event := &models.AuditEvent{
			ID:         uuid.New().String(),
			Action:     "settlement.executed",
			EntityType: "settlement_batch",
			EntityID:   batch.ID,
			OldValues:  map[string]string{"status": string(models.BatchExecuting)},
			NewValues: map[string]string{
				"status":           string(models.BatchExecuted),
				"executed_at":      executedAt.Format(time.RFC3339),
				"total_net_amount": batch.TotalNetAmount.String(),
			},
			Timestamp: executedAt,
		}
		return o.audit.Append(ctx, tx, event)
	})
}
