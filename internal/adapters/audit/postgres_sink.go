// Package audit implements the append-only audit log. Events form a hash
// chain: each event's hash digests its payload concatenated with the
// previous event's hash, so any retroactive edit breaks every later link.
package audit

import (
	"context"
	"crypto/ed25519"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"

	"github.com/gridsettle/clearing-service/internal/domain/models"
	"github.com/gridsettle/clearing-service/internal/domain/ports"
	"github.com/gridsettle/clearing-service/pkg/crypto"
)

// genesisHash anchors the chain before the first event
const genesisHash = "0000000000000000000000000000000000000000000000000000000000000000"

// PostgresSink implements ports.AuditSink against the audit_events table.
// When constructed with a signing key, each event's hash is additionally
// signed so the chain can be verified without trusting the database.
type PostgresSink struct {
	db         ports.DBTX
	signingKey ed25519.PrivateKey
}

// NewPostgresSink creates an audit sink without signing
func NewPostgresSink(db ports.DBPort) *PostgresSink {
	return &PostgresSink{db: db.GetDB()}
}

// NewSigningSink creates an audit sink that signs each event's hash with
// the given PEM-encoded Ed25519 private key.
func NewSigningSink(db ports.DBPort, privateKeyPEM string) (*PostgresSink, error) {
	key, err := crypto.ParsePrivateKey(privateKeyPEM)
	if err != nil {
		return nil, fmt.Errorf("parse audit signing key: %w", err)
	}
	return &PostgresSink{db: db.GetDB(), signingKey: key}, nil
}

// Append writes one event to the log, linking it to the chain head.
// Callers append inside the same transaction as the state change the event
// records, so the event and the change commit or roll back together.
func (s *PostgresSink) Append(ctx context.Context, tx ports.DBTX, event *models.AuditEvent) error {
	q := tx
	if q == nil {
		q = s.db
	}

	if event.ID == "" {
		event.ID = uuid.New().String()
	}
	id, err := uuid.Parse(event.ID)
	if err != nil {
		return fmt.Errorf("invalid event ID: %w", err)
	}

	prevHash, err := s.chainHead(ctx, q)
	if err != nil {
		return err
	}
	event.PrevHash = prevHash
	event.Hash, err = eventHash(event)
	if err != nil {
		return err
	}
	if s.signingKey != nil {
		event.Signature = crypto.Sign(s.signingKey, []byte(event.Hash))
	}

	oldValues, err := json.Marshal(event.OldValues)
	if err != nil {
		return fmt.Errorf("marshal old values: %w", err)
	}
	newValues, err := json.Marshal(event.NewValues)
	if err != nil {
		return fmt.Errorf("marshal new values: %w", err)
	}

	_, err = q.Exec(ctx, `
		INSERT INTO audit_events (
			id, action, entity_type, entity_id, old_values, new_values,
			timestamp, prev_hash, hash, signature
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)`,
		id, event.Action, event.EntityType, event.EntityID,
		oldValues, newValues, event.Timestamp,
		event.PrevHash, event.Hash, event.Signature,
	)
	if err != nil {
		return fmt.Errorf("append audit event: %w", err)
	}
	return nil
}

// chainLockKey is the advisory lock key serializing chain appends.
// Row locks cannot do this: inserts from a committed competitor are not
// blocked by a lock on the old head, and an empty log has no row to lock.
const chainLockKey = 0x636c6561725f6175 // "clear_au"

// chainHead returns the hash of the most recent event, or the genesis hash
// for an empty log. The transaction-scoped advisory lock serializes
// concurrent appenders so two events never claim the same predecessor; it
// releases automatically on commit or rollback.
func (s *PostgresSink) chainHead(ctx context.Context, q ports.DBTX) (string, error) {
	if _, err := q.Exec(ctx, `SELECT pg_advisory_xact_lock($1)`, int64(chainLockKey)); err != nil {
		return "", fmt.Errorf("lock audit chain: %w", err)
	}

	var head string
	err := q.QueryRow(ctx, `
		SELECT hash FROM audit_events
		ORDER BY timestamp DESC, id DESC
		LIMIT 1`).Scan(&head)
	if errors.Is(err, pgx.ErrNoRows) {
		return genesisHash, nil
	}
	if err != nil {
		return "", fmt.Errorf("read audit chain head: %w", err)
	}
	return head, nil
}

// eventHash digests the event payload concatenated with the previous hash
func eventHash(event *models.AuditEvent) (string, error) {
	oldValues, err := json.Marshal(event.OldValues)
	if err != nil {
		return "", fmt.Errorf("marshal old values: %w", err)
	}
	newValues, err := json.Marshal(event.NewValues)
	if err != nil {
		return "", fmt.Errorf("marshal new values: %w", err)
	}

	payload := fmt.Sprintf("%s|%s|%s|%s|%s|%s|%d|%s",
		event.ID,
		event.Action,
		event.EntityType,
		event.EntityID,
		oldValues,
		newValues,
		event.Timestamp.UnixNano(),
		event.PrevHash,
	)
	sum := sha256.Sum256([]byte(payload))
	return hex.EncodeToString(sum[:]), nil
}

// VerifyChain walks the full log in chain order and reports the first
// broken link, if any. Intended for offline integrity checks.
func (s *PostgresSink) VerifyChain(ctx context.Context) error {
	rows, err := s.db.Query(ctx, `
		SELECT id, action, entity_type, entity_id, old_values, new_values,
		       timestamp, prev_hash, hash, signature
		FROM audit_events
		ORDER BY timestamp, id`)
	if err != nil {
		return fmt.Errorf("list audit events: %w", err)
	}
	defer rows.Close()

	prev := genesisHash
	for rows.Next() {
		var e models.AuditEvent
		var id uuid.UUID
		var oldValues, newValues []byte
		if err := rows.Scan(&id, &e.Action, &e.EntityType, &e.EntityID,
			&oldValues, &newValues, &e.Timestamp, &e.PrevHash, &e.Hash, &e.Signature); err != nil {
			return fmt.Errorf("scan audit event: %w", err)
		}
		e.ID = id.String()
		if err := json.Unmarshal(oldValues, &e.OldValues); err != nil {
			return fmt.Errorf("unmarshal old values for %s: %w", e.ID, err)
		}
		if err := json.Unmarshal(newValues, &e.NewValues); err != nil {
			return fmt.Errorf("unmarshal new values for %s: %w", e.ID, err)
		}

		if e.PrevHash != prev {
			return fmt.Errorf("audit chain broken at event %s: prev_hash %s, expected %s", e.ID, e.PrevHash, prev)
		}
		want, err := eventHash(&e)
		if err != nil {
			return err
		}
		if e.Hash != want {
			return fmt.Errorf("audit event %s hash mismatch", e.ID)
		}
		prev = e.Hash
	}
	return rows.Err()
}
