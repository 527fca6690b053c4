package models

import "time"

// PartyRole categorizes a participant in the clearing network
type PartyRole string

const (
	RoleGenerator    PartyRole = "generator"
	RoleDistributor  PartyRole = "distributor"
	RoleTransmission PartyRole = "transmission"
	RoleFuelSupplier PartyRole = "fuel_supplier"
	RoleFinancial    PartyRole = "financial"
	RoleRegulator    PartyRole = "regulator"
)

// Party represents a participant in the clearing network.
// Parties are created by administrative import and are never deleted
// once they carry financial history.
type Party struct {
	ID          string
	DisplayName string
	Role        PartyRole
	CreatedAt   time.Time
}
