package models

import "time"

// AuditEvent is one immutable entry in the append-only audit log.
// Every status transition driven by the matching engine or the settlement
// orchestrator appends exactly one event.
type AuditEvent struct {
	ID         string
	Action     string
	EntityType string
	EntityID   string
	OldValues  map[string]string
	NewValues  map[string]string
	Timestamp  time.Time

	// Hash chain: digest of this event's payload concatenated with the
	// previous event's hash. Written by the audit sink, not the caller.
	PrevHash string
	Hash     string
	// Optional Ed25519 signature over Hash
	Signature string
}
