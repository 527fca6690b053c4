package postgres

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/gridsettle/clearing-service/internal/domain/models"
	"github.com/gridsettle/clearing-service/internal/domain/ports"
)

// DeliveryRepository implements ports.DeliveryRepository. Deliveries are
// append-only ground truth; there is no update or delete path.
type DeliveryRepository struct {
	db ports.DBTX
}

// NewDeliveryRepository creates a new delivery repository
func NewDeliveryRepository(db ports.DBPort) *DeliveryRepository {
	return &DeliveryRepository{db: db.GetDB()}
}

// Create inserts a new delivery record
func (r *DeliveryRepository) Create(ctx context.Context, tx ports.DBTX, delivery *models.Delivery) error {
	q := executor(tx, r.db)

	if err := delivery.Validate(); err != nil {
		return err
	}
	id, err := uuid.Parse(delivery.ID)
	if err != nil {
		return fmt.Errorf("invalid delivery ID: %w", err)
	}

	_, err = q.Exec(ctx, `
		INSERT INTO deliveries (
			id, contract_id, timestamp, meter_read_start, meter_read_end,
			quantity, source_system, quality_score, created_at
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)`,
		id, delivery.ContractID, delivery.Timestamp,
		delivery.MeterReadStart, delivery.MeterReadEnd, delivery.Quantity,
		delivery.SourceSystem, delivery.QualityScore, delivery.CreatedAt,
	)
	if err != nil {
		return fmt.Errorf("create delivery: %w", err)
	}
	return nil
}

// ListInRange lists deliveries with timestamps in [start, end], optionally
// narrowed to one contract.
func (r *DeliveryRepository) ListInRange(ctx context.Context, db ports.DBTX, start, end time.Time, contractID string) ([]*models.Delivery, error) {
	q := executor(db, r.db)

	query := `
		SELECT id, contract_id, timestamp, meter_read_start, meter_read_end,
		       quantity, source_system, quality_score, created_at
		FROM deliveries
		WHERE timestamp >= $1 AND timestamp <= $2`
	args := []interface{}{start, end}
	if contractID != "" {
		query += ` AND contract_id = $3`
		args = append(args, contractID)
	}
	query += ` ORDER BY timestamp`

	rows, err := q.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("list deliveries in range: %w", err)
	}
	defer rows.Close()

	var deliveries []*models.Delivery
	for rows.Next() {
		var d models.Delivery
		var id uuid.UUID
		if err := rows.Scan(&id, &d.ContractID, &d.Timestamp,
			&d.MeterReadStart, &d.MeterReadEnd, &d.Quantity,
			&d.SourceSystem, &d.QualityScore, &d.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan delivery: %w", err)
		}
		d.ID = id.String()
		deliveries = append(deliveries, &d)
	}
	return deliveries, rows.Err()
}
