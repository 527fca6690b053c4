package postgres

import (
	"context"
	"fmt"

	"github.com/gridsettle/clearing-service/internal/domain/ports"
	clearingerrors "github.com/gridsettle/clearing-service/pkg/errors"
)

// PeriodLockRepository implements ports.PeriodLockRepository using a table
// keyed on the period. The primary key makes concurrent acquires for the
// same period serialize at the database.
type PeriodLockRepository struct {
	db ports.DBTX
}

// NewPeriodLockRepository creates a new period lock repository
func NewPeriodLockRepository(db ports.DBPort) *PeriodLockRepository {
	return &PeriodLockRepository{db: db.GetDB()}
}

// Acquire takes the lock for a period. A held lock returns a conflict.
func (r *PeriodLockRepository) Acquire(ctx context.Context, tx ports.DBTX, period string, batchID string) error {
	q := executor(tx, r.db)

	tag, err := q.Exec(ctx, `
		INSERT INTO period_locks (period, batch_id, locked_at)
		VALUES ($1, $2, now())
		ON CONFLICT (period) DO NOTHING`, period, batchID)
	if err != nil {
		return fmt.Errorf("acquire period lock: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return clearingerrors.New("PERIOD_LOCKED",
			fmt.Sprintf("period %s is locked by another settlement run", period),
			clearingerrors.CategoryConflict, false)
	}
	return nil
}

// Release frees the lock for a period. Releasing a free period is a no-op.
func (r *PeriodLockRepository) Release(ctx context.Context, tx ports.DBTX, period string) error {
	q := executor(tx, r.db)

	if _, err := q.Exec(ctx, `DELETE FROM period_locks WHERE period = $1`, period); err != nil {
		return fmt.Errorf("release period lock: %w", err)
	}
	return nil
}
