package postgres

import (
	"context"
	"fmt"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgtype"

	"github.com/gridsettle/clearing-service/internal/domain/models"
	"github.com/gridsettle/clearing-service/internal/domain/ports"
)

// DisputeRepository implements ports.DisputeRepository
type DisputeRepository struct {
	db ports.DBTX
}

// NewDisputeRepository creates a new dispute repository
func NewDisputeRepository(db ports.DBPort) *DisputeRepository {
	return &DisputeRepository{db: db.GetDB()}
}

// Create inserts a new dispute
func (r *DisputeRepository) Create(ctx context.Context, tx ports.DBTX, dispute *models.Dispute) error {
	q := executor(tx, r.db)

	id, err := uuid.Parse(dispute.ID)
	if err != nil {
		return fmt.Errorf("invalid dispute ID: %w", err)
	}

	var ruling *pgtype.Numeric
	if dispute.RulingAmount != nil {
		n, err := numericFromDecimal(*dispute.RulingAmount)
		if err != nil {
			return fmt.Errorf("convert ruling amount: %w", err)
		}
		ruling = &n
	}

	_, err = q.Exec(ctx, `
		INSERT INTO disputes (
			id, invoice_id, contract_id, raised_by_id, against_id,
			reason, status, description, sla_deadline, ruling_amount,
			created_at, updated_at
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12)`,
		id, dispute.InvoiceID, dispute.ContractID, dispute.RaisedByID, dispute.AgainstID,
		string(dispute.Reason), string(dispute.Status), dispute.Description,
		dispute.SLADeadline, ruling, dispute.CreatedAt, dispute.UpdatedAt,
	)
	if err != nil {
		return fmt.Errorf("create dispute: %w", err)
	}
	return nil
}

// GetByID retrieves a dispute by its ID
func (r *DisputeRepository) GetByID(ctx context.Context, db ports.DBTX, id uuid.UUID) (*models.Dispute, error) {
	q := executor(db, r.db)

	row := q.QueryRow(ctx, disputeSelect+` WHERE id = $1`, id)
	d, err := scanDispute(row)
	if err != nil {
		return nil, fmt.Errorf("get dispute by id: %w", err)
	}
	return d, nil
}

// ListByInvoice lists disputes raised against an invoice
func (r *DisputeRepository) ListByInvoice(ctx context.Context, db ports.DBTX, invoiceID string) ([]*models.Dispute, error) {
	q := executor(db, r.db)

	rows, err := q.Query(ctx, disputeSelect+`
		WHERE invoice_id = $1 ORDER BY created_at`, invoiceID)
	if err != nil {
		return nil, fmt.Errorf("list disputes by invoice: %w", err)
	}
	defer rows.Close()

	var disputes []*models.Dispute
	for rows.Next() {
		d, err := scanDispute(rows)
		if err != nil {
			return nil, err
		}
		disputes = append(disputes, d)
	}
	return disputes, rows.Err()
}

// UpdateStatus transitions a dispute
func (r *DisputeRepository) UpdateStatus(ctx context.Context, tx ports.DBTX, id uuid.UUID, status models.DisputeStatus) error {
	q := executor(tx, r.db)

	tag, err := q.Exec(ctx, `
		UPDATE disputes SET status = $1, updated_at = now()
		WHERE id = $2`, string(status), id)
	if err != nil {
		return fmt.Errorf("update dispute status: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("dispute %s not found", id)
	}
	return nil
}

const disputeSelect = `
	SELECT id, invoice_id, contract_id, raised_by_id, against_id,
	       reason, status, description, sla_deadline, ruling_amount,
	       created_at, updated_at
	FROM disputes`

func scanDispute(row rowScanner) (*models.Dispute, error) {
	var d models.Dispute
	var id uuid.UUID
	var reason, status string
	var ruling pgtype.Numeric

	err := row.Scan(&id, &d.InvoiceID, &d.ContractID, &d.RaisedByID, &d.AgainstID,
		&reason, &status, &d.Description, &d.SLADeadline, &ruling,
		&d.CreatedAt, &d.UpdatedAt)
	if err != nil {
		return nil, fmt.Errorf("scan dispute: %w", err)
	}

	d.ID = id.String()
	d.Reason = models.DisputeReason(reason)
	d.Status = models.DisputeStatus(status)
	if ruling.Valid {
		amount, err := decimalFromNumeric(ruling)
		if err != nil {
			return nil, fmt.Errorf("convert ruling amount: %w", err)
		}
		d.RulingAmount = &amount
	}
	return &d, nil
}
