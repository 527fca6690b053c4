package postgres

import (
	"context"
	"fmt"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgtype"

	"github.com/gridsettle/clearing-service/internal/domain/models"
	"github.com/gridsettle/clearing-service/internal/domain/ports"
)

// PaymentRepository implements ports.PaymentRepository
type PaymentRepository struct {
	db ports.DBTX
}

// NewPaymentRepository creates a new payment repository
func NewPaymentRepository(db ports.DBPort) *PaymentRepository {
	return &PaymentRepository{db: db.GetDB()}
}

// Create inserts a new payment
func (r *PaymentRepository) Create(ctx context.Context, tx ports.DBTX, payment *models.Payment) error {
	q := executor(tx, r.db)

	id, err := uuid.Parse(payment.ID)
	if err != nil {
		return fmt.Errorf("invalid payment ID: %w", err)
	}
	amount, err := numericFromDecimal(payment.Amount)
	if err != nil {
		return fmt.Errorf("convert amount: %w", err)
	}

	_, err = q.Exec(ctx, `
		INSERT INTO payments (
			id, invoice_id, settlement_batch_id, payer_id, payee_id,
			amount, currency, value_date, bank_reference, status,
			created_at, updated_at
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12)`,
		id, nullText(payment.InvoiceID), nullText(payment.SettlementBatchID),
		payment.PayerID, payment.PayeeID, amount, payment.Currency,
		payment.ValueDate, nullText(payment.BankReference), string(payment.Status),
		payment.CreatedAt, payment.UpdatedAt,
	)
	if err != nil {
		return fmt.Errorf("create payment: %w", err)
	}
	return nil
}

// GetByID retrieves a payment by its ID
func (r *PaymentRepository) GetByID(ctx context.Context, db ports.DBTX, id uuid.UUID) (*models.Payment, error) {
	q := executor(db, r.db)

	row := q.QueryRow(ctx, paymentSelect+` WHERE id = $1`, id)
	p, err := scanPayment(row)
	if err != nil {
		return nil, fmt.Errorf("get payment by id: %w", err)
	}
	return p, nil
}

// ListCompletedByInvoice lists completed payments recorded against an invoice
func (r *PaymentRepository) ListCompletedByInvoice(ctx context.Context, db ports.DBTX, invoiceID string) ([]*models.Payment, error) {
	q := executor(db, r.db)

	rows, err := q.Query(ctx, paymentSelect+`
		WHERE invoice_id = $1 AND status = $2
		ORDER BY value_date`, invoiceID, string(models.PaymentCompleted))
	if err != nil {
		return nil, fmt.Errorf("list payments by invoice: %w", err)
	}
	return collectPayments(rows)
}

// ListCompletedForInvoices lists completed payments for a set of invoices
func (r *PaymentRepository) ListCompletedForInvoices(ctx context.Context, db ports.DBTX, invoiceIDs []string) ([]*models.Payment, error) {
	if len(invoiceIDs) == 0 {
		return nil, nil
	}
	q := executor(db, r.db)

	rows, err := q.Query(ctx, paymentSelect+`
		WHERE invoice_id = ANY($1) AND status = $2
		ORDER BY value_date`, invoiceIDs, string(models.PaymentCompleted))
	if err != nil {
		return nil, fmt.Errorf("list payments for invoices: %w", err)
	}
	return collectPayments(rows)
}

// ListByBatch lists payments created by a settlement batch execution
func (r *PaymentRepository) ListByBatch(ctx context.Context, db ports.DBTX, batchID string) ([]*models.Payment, error) {
	q := executor(db, r.db)

	rows, err := q.Query(ctx, paymentSelect+`
		WHERE settlement_batch_id = $1
		ORDER BY created_at`, batchID)
	if err != nil {
		return nil, fmt.Errorf("list payments by batch: %w", err)
	}
	return collectPayments(rows)
}

// UpdateStatus transitions a payment
func (r *PaymentRepository) UpdateStatus(ctx context.Context, tx ports.DBTX, id uuid.UUID, status models.PaymentStatus) error {
	q := executor(tx, r.db)

	tag, err := q.Exec(ctx, `
		UPDATE payments SET status = $1, updated_at = now()
		WHERE id = $2`, string(status), id)
	if err != nil {
		return fmt.Errorf("update payment status: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("payment %s not found", id)
	}
	return nil
}

const paymentSelect = `
	SELECT id, invoice_id, settlement_batch_id, payer_id, payee_id,
	       amount, currency, value_date, bank_reference, status,
	       created_at, updated_at
	FROM payments`

func scanPayment(row rowScanner) (*models.Payment, error) {
	var p models.Payment
	var id uuid.UUID
	var invoiceID, batchID, bankRef pgtype.Text
	var amount pgtype.Numeric
	var status string

	err := row.Scan(&id, &invoiceID, &batchID, &p.PayerID, &p.PayeeID,
		&amount, &p.Currency, &p.ValueDate, &bankRef, &status,
		&p.CreatedAt, &p.UpdatedAt)
	if err != nil {
		return nil, fmt.Errorf("scan payment: %w", err)
	}

	p.ID = id.String()
	p.InvoiceID = invoiceID.String
	p.SettlementBatchID = batchID.String
	p.BankReference = bankRef.String
	p.Status = models.PaymentStatus(status)
	if p.Amount, err = decimalFromNumeric(amount); err != nil {
		return nil, fmt.Errorf("convert amount: %w", err)
	}
	return &p, nil
}

func collectPayments(rows pgx.Rows) ([]*models.Payment, error) {
	defer rows.Close()

	var payments []*models.Payment
	for rows.Next() {
		p, err := scanPayment(rows)
		if err != nil {
			return nil, err
		}
		payments = append(payments, p)
	}
	return payments, rows.Err()
}
