package postgres

import (
	"context"
	"fmt"

	"github.com/google/uuid"

	"github.com/gridsettle/clearing-service/internal/domain/models"
	"github.com/gridsettle/clearing-service/internal/domain/ports"
)

// PartyRepository implements ports.PartyRepository
type PartyRepository struct {
	db ports.DBTX
}

// NewPartyRepository creates a new party repository
func NewPartyRepository(db ports.DBPort) *PartyRepository {
	return &PartyRepository{db: db.GetDB()}
}

// Create inserts a new party
func (r *PartyRepository) Create(ctx context.Context, tx ports.DBTX, party *models.Party) error {
	q := executor(tx, r.db)

	id, err := uuid.Parse(party.ID)
	if err != nil {
		return fmt.Errorf("invalid party ID: %w", err)
	}

	_, err = q.Exec(ctx, `
		INSERT INTO parties (id, display_name, role, created_at)
		VALUES ($1, $2, $3, $4)`,
		id, party.DisplayName, string(party.Role), party.CreatedAt,
	)
	if err != nil {
		return fmt.Errorf("create party: %w", err)
	}
	return nil
}

// GetByID retrieves a party by its ID
func (r *PartyRepository) GetByID(ctx context.Context, db ports.DBTX, id uuid.UUID) (*models.Party, error) {
	q := executor(db, r.db)

	var p models.Party
	var pid uuid.UUID
	var role string
	err := q.QueryRow(ctx, `
		SELECT id, display_name, role, created_at
		FROM parties WHERE id = $1`, id,
	).Scan(&pid, &p.DisplayName, &role, &p.CreatedAt)
	if err != nil {
		return nil, fmt.Errorf("get party by id: %w", err)
	}
	p.ID = pid.String()
	p.Role = models.PartyRole(role)
	return &p, nil
}

// List returns all parties ordered by display name
func (r *PartyRepository) List(ctx context.Context, db ports.DBTX) ([]*models.Party, error) {
	q := executor(db, r.db)

	rows, err := q.Query(ctx, `
		SELECT id, display_name, role, created_at
		FROM parties ORDER BY display_name`)
	if err != nil {
		return nil, fmt.Errorf("list parties: %w", err)
	}
	defer rows.Close()

	var parties []*models.Party
	for rows.Next() {
		var p models.Party
		var pid uuid.UUID
		var role string
		if err := rows.Scan(&pid, &p.DisplayName, &role, &p.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan party: %w", err)
		}
		p.ID = pid.String()
		p.Role = models.PartyRole(role)
		parties = append(parties, &p)
	}
	return parties, rows.Err()
}
