package postgres

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgtype"

	"github.com/gridsettle/clearing-service/internal/domain/models"
	"github.com/gridsettle/clearing-service/internal/domain/ports"
	clearingerrors "github.com/gridsettle/clearing-service/pkg/errors"
)

// InvoiceRepository implements ports.InvoiceRepository
type InvoiceRepository struct {
	db ports.DBTX
}

// NewInvoiceRepository creates a new invoice repository
func NewInvoiceRepository(db ports.DBPort) *InvoiceRepository {
	return &InvoiceRepository{db: db.GetDB()}
}

// Create inserts a new invoice. The content hash is computed here if the
// caller did not set it, so every stored invoice carries one.
func (r *InvoiceRepository) Create(ctx context.Context, tx ports.DBTX, invoice *models.Invoice) error {
	q := executor(tx, r.db)

	if err := invoice.Validate(); err != nil {
		return err
	}
	id, err := uuid.Parse(invoice.ID)
	if err != nil {
		return fmt.Errorf("invalid invoice ID: %w", err)
	}
	total, err := numericFromDecimal(invoice.TotalAmount)
	if err != nil {
		return fmt.Errorf("convert total amount: %w", err)
	}
	tax, err := numericFromDecimal(invoice.TaxAmount)
	if err != nil {
		return fmt.Errorf("convert tax amount: %w", err)
	}
	if invoice.ContentHash == "" {
		invoice.ContentHash = invoice.ComputeContentHash()
	}

	_, err = q.Exec(ctx, `
		INSERT INTO invoices (
			id, contract_id, issuer_id, counterparty_id,
			period_start, period_end, total_amount, tax_amount, currency,
			commodity, quantity, status, confidence_score, matched_delivery_ids,
			content_hash, version, created_at, updated_at
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15, $16, $17, $18)`,
		id, invoice.ContractID, invoice.IssuerID, invoice.CounterpartyID,
		invoice.PeriodStart, invoice.PeriodEnd, total, tax, invoice.Currency,
		string(invoice.LineItem.Commodity), invoice.LineItem.Quantity,
		string(invoice.Status), invoice.ConfidenceScore, invoice.MatchedDeliveryIDs,
		invoice.ContentHash, invoice.Version, invoice.CreatedAt, invoice.UpdatedAt,
	)
	if err != nil {
		return fmt.Errorf("create invoice: %w", err)
	}
	return nil
}

// GetByID retrieves an invoice by its ID
func (r *InvoiceRepository) GetByID(ctx context.Context, db ports.DBTX, id uuid.UUID) (*models.Invoice, error) {
	q := executor(db, r.db)

	row := q.QueryRow(ctx, invoiceSelect+` WHERE id = $1`, id)
	inv, err := scanInvoice(row)
	if err != nil {
		return nil, fmt.Errorf("get invoice by id: %w", err)
	}
	return inv, nil
}

// ListInPeriod lists invoices whose billing period overlaps [start, end],
// optionally filtered to the given statuses.
func (r *InvoiceRepository) ListInPeriod(ctx context.Context, db ports.DBTX, start, end time.Time, statuses []models.InvoiceStatus) ([]*models.Invoice, error) {
	q := executor(db, r.db)

	query := invoiceSelect + ` WHERE period_start <= $2 AND period_end >= $1`
	args := []interface{}{start, end}
	if len(statuses) > 0 {
		strs := make([]string, len(statuses))
		for i, s := range statuses {
			strs[i] = string(s)
		}
		query += ` AND status = ANY($3)`
		args = append(args, strs)
	}
	query += ` ORDER BY period_start, id`

	rows, err := q.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("list invoices in period: %w", err)
	}
	defer rows.Close()

	var invoices []*models.Invoice
	for rows.Next() {
		inv, err := scanInvoice(rows)
		if err != nil {
			return nil, err
		}
		invoices = append(invoices, inv)
	}
	return invoices, rows.Err()
}

// UpdateStatus transitions an invoice and persists the reconciliation
// outcome, guarded by the optimistic version. A stale version writes
// nothing and returns a conflict.
func (r *InvoiceRepository) UpdateStatus(ctx context.Context, tx ports.DBTX, id uuid.UUID, version int32, status models.InvoiceStatus, confidenceScore *float64, matchedDeliveryIDs []string) error {
	q := executor(tx, r.db)

	tag, err := q.Exec(ctx, `
		UPDATE invoices
		SET status = $1,
		    confidence_score = $2,
		    matched_delivery_ids = $3,
		    version = version + 1,
		    updated_at = now()
		WHERE id = $4 AND version = $5`,
		string(status), confidenceScore, matchedDeliveryIDs, id, version,
	)
	if err != nil {
		return fmt.Errorf("update invoice status: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return clearingerrors.New("STALE_INVOICE_VERSION",
			fmt.Sprintf("invoice %s version %d no longer current", id, version),
			clearingerrors.CategoryConflict, true)
	}
	return nil
}

const invoiceSelect = `
	SELECT id, contract_id, issuer_id, counterparty_id,
	       period_start, period_end, total_amount, tax_amount, currency,
	       commodity, quantity, status, confidence_score, matched_delivery_ids,
	       content_hash, version, created_at, updated_at
	FROM invoices`

func scanInvoice(row rowScanner) (*models.Invoice, error) {
	var inv models.Invoice
	var id uuid.UUID
	var total, tax pgtype.Numeric
	var commodity, status string

	err := row.Scan(&id, &inv.ContractID, &inv.IssuerID, &inv.CounterpartyID,
		&inv.PeriodStart, &inv.PeriodEnd, &total, &tax, &inv.Currency,
		&commodity, &inv.LineItem.Quantity, &status,
		&inv.ConfidenceScore, &inv.MatchedDeliveryIDs,
		&inv.ContentHash, &inv.Version, &inv.CreatedAt, &inv.UpdatedAt)
	if err != nil {
		return nil, fmt.Errorf("scan invoice: %w", err)
	}

	inv.ID = id.String()
	inv.LineItem.Commodity = models.Commodity(commodity)
	inv.Status = models.InvoiceStatus(status)
	if inv.TotalAmount, err = decimalFromNumeric(total); err != nil {
		return nil, fmt.Errorf("convert total amount: %w", err)
	}
	if inv.TaxAmount, err = decimalFromNumeric(tax); err != nil {
		return nil, fmt.Errorf("convert tax amount: %w", err)
	}
	return &inv, nil
}
