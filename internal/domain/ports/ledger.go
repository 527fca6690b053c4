package ports

import (
	"context"
	"time"

	"github.com/google/uuid"
	"github.com/gridsettle/clearing-service/internal/domain/models"
)

// PartyRepository defines the interface for party persistence
type PartyRepository interface {
	Create(ctx context.Context, tx DBTX, party *models.Party) error
	GetByID(ctx context.Context, db DBTX, id uuid.UUID) (*models.Party, error)
	List(ctx context.Context, db DBTX) ([]*models.Party, error)
}

// ContractRepository defines the interface for contract persistence
type ContractRepository interface {
	Create(ctx context.Context, tx DBTX, contract *models.Contract) error
	GetByID(ctx context.Context, db DBTX, id uuid.UUID) (*models.Contract, error)
	ListActiveAt(ctx context.Context, db DBTX, at time.Time) ([]*models.Contract, error)
}

// InvoiceRepository defines the interface for invoice persistence
type InvoiceRepository interface {
	Create(ctx context.Context, tx DBTX, invoice *models.Invoice) error

	GetByID(ctx context.Context, db DBTX, id uuid.UUID) (*models.Invoice, error)

	// ListInPeriod lists invoices whose billing period overlaps
	// [start, end], optionally filtered to the given statuses.
	ListInPeriod(ctx context.Context, db DBTX, start, end time.Time, statuses []models.InvoiceStatus) ([]*models.Invoice, error)

	// UpdateStatus transitions an invoice and persists the reconciliation
	// outcome. The update is guarded by the optimistic version: a stale
	// version returns a conflict error and writes nothing.
	UpdateStatus(ctx context.Context, tx DBTX, id uuid.UUID, version int32, status models.InvoiceStatus, confidenceScore *float64, matchedDeliveryIDs []string) error
}

// DeliveryRepository defines the interface for delivery persistence.
// Deliveries are append-only; there is no update operation.
type DeliveryRepository interface {
	Create(ctx context.Context, tx DBTX, delivery *models.Delivery) error

	// ListInRange lists deliveries with timestamps in [start, end].
	// A non-empty contractID narrows the result to one contract.
	ListInRange(ctx context.Context, db DBTX, start, end time.Time, contractID string) ([]*models.Delivery, error)
}

// PaymentRepository defines the interface for payment persistence
type PaymentRepository interface {
	Create(ctx context.Context, tx DBTX, payment *models.Payment) error

	GetByID(ctx context.Context, db DBTX, id uuid.UUID) (*models.Payment, error)

	// ListCompletedByInvoice lists completed payments recorded against an invoice
	ListCompletedByInvoice(ctx context.Context, db DBTX, invoiceID string) ([]*models.Payment, error)

	// ListCompletedForInvoices lists completed payments for a set of invoices
	ListCompletedForInvoices(ctx context.Context, db DBTX, invoiceIDs []string) ([]*models.Payment, error)

	// ListByBatch lists payments created by a settlement batch execution
	ListByBatch(ctx context.Context, db DBTX, batchID string) ([]*models.Payment, error)

	// UpdateStatus transitions a payment (used for compensating reversals)
	UpdateStatus(ctx context.Context, tx DBTX, id uuid.UUID, status models.PaymentStatus) error
}

// DisputeRepository defines the interface for dispute persistence
type DisputeRepository interface {
	Create(ctx context.Context, tx DBTX, dispute *models.Dispute) error
	GetByID(ctx context.Context, db DBTX, id uuid.UUID) (*models.Dispute, error)
	ListByInvoice(ctx context.Context, db DBTX, invoiceID string) ([]*models.Dispute, error)
	UpdateStatus(ctx context.Context, tx DBTX, id uuid.UUID, status models.DisputeStatus) error
}

// SettlementRepository defines the interface for settlement batch persistence
type SettlementRepository interface {
	// CreateBatch persists a computed batch together with its position and
	// leg snapshot. The snapshot is what gets approved and executed.
	CreateBatch(ctx context.Context, tx DBTX, batch *models.SettlementBatch) error

	GetBatchByID(ctx context.Context, db DBTX, id uuid.UUID) (*models.SettlementBatch, error)

	// GetBatchByIDForUpdate reads a batch holding its row lock for the
	// duration of the surrounding transaction, serializing concurrent
	// approvals and rejections.
	GetBatchByIDForUpdate(ctx context.Context, tx DBTX, id uuid.UUID) (*models.SettlementBatch, error)

	// GetActiveBatchForPeriod returns the batch currently holding the
	// period (status computed/approved/executing), or nil when none exists.
	GetActiveBatchForPeriod(ctx context.Context, db DBTX, period string) (*models.SettlementBatch, error)

	// AddApproval records one approver's sign-off. A duplicate approver
	// for the same batch returns a conflict error.
	AddApproval(ctx context.Context, tx DBTX, approval *models.BatchApproval) error

	// ClaimBatchForExecution atomically moves an approved batch to
	// executing. Losing a race for the claim returns a conflict error, so
	// at most one caller ever runs a batch's legs.
	ClaimBatchForExecution(ctx context.Context, tx DBTX, id uuid.UUID) error

	UpdateBatchStatus(ctx context.Context, tx DBTX, id uuid.UUID, status models.BatchStatus, executedAt *time.Time, failureReason string) error
}

// PeriodLockRepository serializes settlement runs per calendar period.
// A period is locked while a batch for it is computed, approved, or
// executing; concurrent computes for the same period must conflict.
type PeriodLockRepository interface {
	// Acquire takes the lock for a period; a held lock returns a conflict error
	Acquire(ctx context.Context, tx DBTX, period string, batchID string) error

	// Release frees the lock for a period
	Release(ctx context.Context, tx DBTX, period string) error
}
