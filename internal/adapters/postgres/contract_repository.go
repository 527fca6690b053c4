package postgres

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgtype"

	"github.com/gridsettle/clearing-service/internal/domain/models"
	"github.com/gridsettle/clearing-service/internal/domain/ports"
)

// ContractRepository implements ports.ContractRepository
type ContractRepository struct {
	db ports.DBTX
}

// NewContractRepository creates a new contract repository
func NewContractRepository(db ports.DBPort) *ContractRepository {
	return &ContractRepository{db: db.GetDB()}
}

// Create inserts a new contract
func (r *ContractRepository) Create(ctx context.Context, tx ports.DBTX, contract *models.Contract) error {
	q := executor(tx, r.db)

	id, err := uuid.Parse(contract.ID)
	if err != nil {
		return fmt.Errorf("invalid contract ID: %w", err)
	}
	price, err := numericFromDecimal(contract.PricePerUnit)
	if err != nil {
		return fmt.Errorf("convert price: %w", err)
	}

	_, err = q.Exec(ctx, `
		INSERT INTO contracts (
			id, party_a_id, party_b_id, type, price_per_unit,
			metering_points, sla_hours, currency, start_date, end_date, created_at
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)`,
		id, contract.PartyAID, contract.PartyBID, string(contract.Type), price,
		contract.MeteringPoints, contract.SLAHours, contract.Currency,
		contract.StartDate, contract.EndDate, contract.CreatedAt,
	)
	if err != nil {
		return fmt.Errorf("create contract: %w", err)
	}
	return nil
}

// GetByID retrieves a contract by its ID
func (r *ContractRepository) GetByID(ctx context.Context, db ports.DBTX, id uuid.UUID) (*models.Contract, error) {
	q := executor(db, r.db)

	row := q.QueryRow(ctx, `
		SELECT id, party_a_id, party_b_id, type, price_per_unit,
		       metering_points, sla_hours, currency, start_date, end_date, created_at
		FROM contracts WHERE id = $1`, id)
	return scanContract(row)
}

// ListActiveAt lists contracts whose validity window contains at
func (r *ContractRepository) ListActiveAt(ctx context.Context, db ports.DBTX, at time.Time) ([]*models.Contract, error) {
	q := executor(db, r.db)

	rows, err := q.Query(ctx, `
		SELECT id, party_a_id, party_b_id, type, price_per_unit,
		       metering_points, sla_hours, currency, start_date, end_date, created_at
		FROM contracts
		WHERE start_date <= $1 AND (end_date IS NULL OR end_date >= $1)
		ORDER BY start_date`, at)
	if err != nil {
		return nil, fmt.Errorf("list active contracts: %w", err)
	}
	defer rows.Close()

	var contracts []*models.Contract
	for rows.Next() {
		c, err := scanContract(rows)
		if err != nil {
			return nil, err
		}
		contracts = append(contracts, c)
	}
	return contracts, rows.Err()
}

type rowScanner interface {
	Scan(dest ...interface{}) error
}

func scanContract(row rowScanner) (*models.Contract, error) {
	var c models.Contract
	var id uuid.UUID
	var ctype string
	var price pgtype.Numeric

	err := row.Scan(&id, &c.PartyAID, &c.PartyBID, &ctype, &price,
		&c.MeteringPoints, &c.SLAHours, &c.Currency, &c.StartDate, &c.EndDate, &c.CreatedAt)
	if err != nil {
		return nil, fmt.Errorf("scan contract: %w", err)
	}

	c.ID = id.String()
	c.Type = models.ContractType(ctype)
	c.PricePerUnit, err = decimalFromNumeric(price)
	if err != nil {
		return nil, fmt.Errorf("convert price: %w", err)
	}
	return &c, nil
}
