package postgres

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgtype"
	"github.com/shopspring/decimal"

	"github.com/gridsettle/clearing-service/internal/domain/models"
	"github.com/gridsettle/clearing-service/internal/domain/ports"
	clearingerrors "github.com/gridsettle/clearing-service/pkg/errors"
)

// pgUniqueViolation is the PostgreSQL error code for unique constraint violations
const pgUniqueViolation = "23505"

// SettlementRepository implements ports.SettlementRepository. The position
// and leg snapshot is stored as JSONB on the batch row so what was approved
// is exactly what executes; approvals live in their own table with a
// uniqueness constraint enforcing one sign-off per approver per batch.
type SettlementRepository struct {
	db ports.DBTX
}

// NewSettlementRepository creates a new settlement repository
func NewSettlementRepository(db ports.DBPort) *SettlementRepository {
	return &SettlementRepository{db: db.GetDB()}
}

// positionRecord is the JSONB form of a net position snapshot entry
type positionRecord struct {
	PartyID         string          `json:"party_id"`
	TotalReceivable decimal.Decimal `json:"total_receivable"`
	TotalPayable    decimal.Decimal `json:"total_payable"`
	Net             decimal.Decimal `json:"net"`
}

// legRecord is the JSONB form of a settlement leg snapshot entry
type legRecord struct {
	PayerID string          `json:"payer_id"`
	PayeeID string          `json:"payee_id"`
	Amount  decimal.Decimal `json:"amount"`
}

// CreateBatch persists a computed batch together with its snapshot
func (r *SettlementRepository) CreateBatch(ctx context.Context, tx ports.DBTX, batch *models.SettlementBatch) error {
	q := executor(tx, r.db)

	id, err := uuid.Parse(batch.ID)
	if err != nil {
		return fmt.Errorf("invalid batch ID: %w", err)
	}
	fxRate, err := numericFromDecimal(batch.FXRate)
	if err != nil {
		return fmt.Errorf("convert fx rate: %w", err)
	}
	totalNet, err := numericFromDecimal(batch.TotalNetAmount)
	if err != nil {
		return fmt.Errorf("convert total net amount: %w", err)
	}

	positions := make([]positionRecord, len(batch.Positions))
	for i, p := range batch.Positions {
		positions[i] = positionRecord{
			PartyID:         p.PartyID,
			TotalReceivable: p.TotalReceivable,
			TotalPayable:    p.TotalPayable,
			Net:             p.Net,
		}
	}
	positionsJSON, err := json.Marshal(positions)
	if err != nil {
		return fmt.Errorf("marshal positions: %w", err)
	}

	legs := make([]legRecord, len(batch.Legs))
	for i, l := range batch.Legs {
		legs[i] = legRecord{PayerID: l.PayerID, PayeeID: l.PayeeID, Amount: l.Amount}
	}
	legsJSON, err := json.Marshal(legs)
	if err != nil {
		return fmt.Errorf("marshal legs: %w", err)
	}

	_, err = q.Exec(ctx, `
		INSERT INTO settlement_batches (
			id, period, fx_rate, currency, total_net_amount, status,
			positions, legs, failure_reason, created_at, updated_at, executed_at
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12)`,
		id, batch.Period, fxRate, batch.Currency, totalNet, string(batch.Status),
		positionsJSON, legsJSON, nullText(batch.FailureReason),
		batch.CreatedAt, batch.UpdatedAt, batch.ExecutedAt,
	)
	if err != nil {
		return fmt.Errorf("create settlement batch: %w", err)
	}
	return nil
}

// GetBatchByID retrieves a batch with its snapshot and approvals
func (r *SettlementRepository) GetBatchByID(ctx context.Context, db ports.DBTX, id uuid.UUID) (*models.SettlementBatch, error) {
	q := executor(db, r.db)

	row := q.QueryRow(ctx, batchSelect+` WHERE id = $1`, id)
	batch, err := scanBatch(row)
	if err != nil {
		return nil, fmt.Errorf("get batch by id: %w", err)
	}
	if err := r.loadApprovals(ctx, q, batch); err != nil {
		return nil, err
	}
	return batch, nil
}

// GetBatchByIDForUpdate retrieves a batch like GetBatchByID but locks the
// batch row until the surrounding transaction ends.
func (r *SettlementRepository) GetBatchByIDForUpdate(ctx context.Context, tx ports.DBTX, id uuid.UUID) (*models.SettlementBatch, error) {
	q := executor(tx, r.db)

	row := q.QueryRow(ctx, batchSelect+` WHERE id = $1 FOR UPDATE`, id)
	batch, err := scanBatch(row)
	if err != nil {
		return nil, fmt.Errorf("get batch by id for update: %w", err)
	}
	if err := r.loadApprovals(ctx, q, batch); err != nil {
		return nil, err
	}
	return batch, nil
}

// GetActiveBatchForPeriod returns the batch currently holding the period,
// or nil when the period is free.
func (r *SettlementRepository) GetActiveBatchForPeriod(ctx context.Context, db ports.DBTX, period string) (*models.SettlementBatch, error) {
	q := executor(db, r.db)

	row := q.QueryRow(ctx, batchSelect+`
		WHERE period = $1 AND status = ANY($2)
		ORDER BY created_at DESC LIMIT 1`,
		period, []string{string(models.BatchComputed), string(models.BatchApproved), string(models.BatchExecuting)})
	batch, err := scanBatch(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("get active batch for period: %w", err)
	}
	if err := r.loadApprovals(ctx, q, batch); err != nil {
		return nil, err
	}
	return batch, nil
}

// AddApproval records one approver's sign-off. The uniqueness constraint on
// (batch_id, approver_id) turns a duplicate into a conflict.
func (r *SettlementRepository) AddApproval(ctx context.Context, tx ports.DBTX, approval *models.BatchApproval) error {
	q := executor(tx, r.db)

	_, err := q.Exec(ctx, `
		INSERT INTO batch_approvals (batch_id, approver_id, role, approved_at)
		VALUES ($1, $2, $3, $4)`,
		approval.BatchID, approval.ApproverID, approval.Role, approval.ApprovedAt,
	)
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) && pgErr.Code == pgUniqueViolation {
		return clearingerrors.New("DUPLICATE_APPROVAL",
			fmt.Sprintf("approver %s already approved batch %s", approval.ApproverID, approval.BatchID),
			clearingerrors.CategoryConflict, false)
	}
	if err != nil {
		return fmt.Errorf("add approval: %w", err)
	}
	return nil
}

// ClaimBatchForExecution flips an approved batch to executing. The status
// guard in the WHERE clause makes the claim atomic: of any number of
// concurrent callers, exactly one sees a row updated.
func (r *SettlementRepository) ClaimBatchForExecution(ctx context.Context, tx ports.DBTX, id uuid.UUID) error {
	q := executor(tx, r.db)

	tag, err := q.Exec(ctx, `
		UPDATE settlement_batches
		SET status = $1, updated_at = now()
		WHERE id = $2 AND status = $3`,
		string(models.BatchExecuting), id, string(models.BatchApproved),
	)
	if err != nil {
		return fmt.Errorf("claim batch for execution: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return clearingerrors.New("BATCH_NOT_CLAIMABLE",
			fmt.Sprintf("batch %s is not in approved status", id),
			clearingerrors.CategoryConflict, false)
	}
	return nil
}

// UpdateBatchStatus transitions a batch
func (r *SettlementRepository) UpdateBatchStatus(ctx context.Context, tx ports.DBTX, id uuid.UUID, status models.BatchStatus, executedAt *time.Time, failureReason string) error {
	q := executor(tx, r.db)

	tag, err := q.Exec(ctx, `
		UPDATE settlement_batches
		SET status = $1, executed_at = $2, failure_reason = $3, updated_at = now()
		WHERE id = $4`,
		string(status), executedAt, nullText(failureReason), id,
	)
	if err != nil {
		return fmt.Errorf("update batch status: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("settlement batch %s not found", id)
	}
	return nil
}

const batchSelect = `
	SELECT id, period, fx_rate, currency, total_net_amount, status,
	       positions, legs, failure_reason, created_at, updated_at, executed_at
	FROM settlement_batches`

func scanBatch(row rowScanner) (*models.SettlementBatch, error) {
	var b models.SettlementBatch
	var id uuid.UUID
	var fxRate, totalNet pgtype.Numeric
	var status string
	var positionsJSON, legsJSON []byte
	var failureReason pgtype.Text

	err := row.Scan(&id, &b.Period, &fxRate, &b.Currency, &totalNet, &status,
		&positionsJSON, &legsJSON, &failureReason, &b.CreatedAt, &b.UpdatedAt, &b.ExecutedAt)
	if err != nil {
		return nil, err
	}

	b.ID = id.String()
	b.Status = models.BatchStatus(status)
	b.FailureReason = failureReason.String
	if b.FXRate, err = decimalFromNumeric(fxRate); err != nil {
		return nil, fmt.Errorf("convert fx rate: %w", err)
	}
	if b.TotalNetAmount, err = decimalFromNumeric(totalNet); err != nil {
		return nil, fmt.Errorf("convert total net amount: %w", err)
	}

	var positions []positionRecord
	if err := json.Unmarshal(positionsJSON, &positions); err != nil {
		return nil, fmt.Errorf("unmarshal positions: %w", err)
	}
	b.Positions = make([]models.NetPosition, len(positions))
	for i, p := range positions {
		b.Positions[i] = models.NetPosition{
			PartyID:         p.PartyID,
			TotalReceivable: p.TotalReceivable,
			TotalPayable:    p.TotalPayable,
			Net:             p.Net,
		}
	}

	var legs []legRecord
	if err := json.Unmarshal(legsJSON, &legs); err != nil {
		return nil, fmt.Errorf("unmarshal legs: %w", err)
	}
	b.Legs = make([]models.SettlementLeg, len(legs))
	for i, l := range legs {
		b.Legs[i] = models.SettlementLeg{PayerID: l.PayerID, PayeeID: l.PayeeID, Amount: l.Amount}
	}

	return &b, nil
}

func (r *SettlementRepository) loadApprovals(ctx context.Context, q ports.DBTX, batch *models.SettlementBatch) error {
	rows, err := q.Query(ctx, `
		SELECT batch_id, approver_id, role, approved_at
		FROM batch_approvals WHERE batch_id = $1
		ORDER BY approved_at`, batch.ID)
	if err != nil {
		return fmt.Errorf("list approvals: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		var a models.BatchApproval
		if err := rows.Scan(&a.BatchID, &a.ApproverID, &a.Role, &a.ApprovedAt); err != nil {
			return fmt.Errorf("scan approval: %w", err)
		}
		batch.Approvals = append(batch.Approvals, a)
	}
	return rows.Err()
}
