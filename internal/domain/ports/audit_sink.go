package ports

import (
	"context"

	"github.com/gridsettle/clearing-service/internal/domain/models"
)

// AuditSink is the append-only event log every state transition in the
// matching engine and settlement orchestrator writes to. Implementations
// must be append-only; events are never updated or deleted.
type AuditSink interface {
	Append(ctx context.Context, tx DBTX, event *models.AuditEvent) error
}
