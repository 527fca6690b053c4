package ports

import (
	"context"
	"time"

	"github.com/shopspring/decimal"
)

// ReservationResult is the escrow service's answer to a reserve request
type ReservationResult struct {
	Reference string
	Amount    decimal.Decimal
	Currency  string
	ExpiresAt time.Time
}

// EscrowGateway defines the interface to the external escrow/funds service.
// A reservation guarantees the settlement legs can be paid before any leg
// is committed; the reservation expiry is the authoritative execution
// timeout.
type EscrowGateway interface {
	// Reserve places a hold on funds. Reservations are idempotent by
	// reference: re-reserving an existing live reference returns the
	// existing reservation. Insufficient available balance returns
	// an insufficient-funds error with no side effects.
	Reserve(ctx context.Context, amount decimal.Decimal, currency, reference string, ttl time.Duration) (*ReservationResult, error)

	// Release frees a reservation. Releasing an unknown or already
	// released reference is a no-op.
	Release(ctx context.Context, reference string) error
}
