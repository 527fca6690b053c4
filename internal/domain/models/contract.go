package models

import (
	"time"

	"github.com/shopspring/decimal"
)

// ContractType identifies the commodity a contract covers
type ContractType string

const (
	ContractEnergy ContractType = "energy"
	ContractGas    ContractType = "gas"
	ContractFuel   ContractType = "fuel"
)

// Contract represents a bilateral agreement between two parties.
// PartyA is the seller/issuer side, PartyB the buyer/counterparty side.
// The currency is fixed for the contract's lifetime.
type Contract struct {
	ID             string
	PartyAID       string
	PartyBID       string
	Type           ContractType
	PricePerUnit   decimal.Decimal
	MeteringPoints []string
	SLAHours       int // agreed delivery/response SLA threshold
	Currency       string
	StartDate      time.Time
	EndDate        *time.Time
	CreatedAt      time.Time
}

// Validate checks the contract's structural invariants
func (c *Contract) Validate() error {
	if c.PartyAID == c.PartyBID {
		return ErrSameParty
	}
	if c.EndDate != nil && c.EndDate.Before(c.StartDate) {
		return ErrInvalidValidityWindow
	}
	return nil
}

// ActiveAt reports whether the contract is within its validity window at t
func (c *Contract) ActiveAt(t time.Time) bool {
	if t.Before(c.StartDate) {
		return false
	}
	if c.EndDate != nil && t.After(*c.EndDate) {
		return false
	}
	return true
}
