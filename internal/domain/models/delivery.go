package models

import "time"

// Delivery represents one metered reading event tied to a contract.
// Deliveries are append-only ground truth: they are never mutated after
// creation, and the matching engine reconciles invoices against them.
type Delivery struct {
	ID             string
	ContractID     string
	Timestamp      time.Time
	MeterReadStart float64
	MeterReadEnd   float64
	Quantity       float64 // physical units delivered; unit implied by contract type
	SourceSystem   string
	QualityScore   int // 0-100 meter data quality
	CreatedAt      time.Time
}

// Validate checks the delivery's structural invariants
func (d *Delivery) Validate() error {
	if d.MeterReadEnd < d.MeterReadStart {
		return ErrMeterReadingsInverted
	}
	if d.Quantity < 0 {
		return ErrNegativeQuantity
	}
	if d.QualityScore < 0 || d.QualityScore > 100 {
		return ErrQualityScoreRange
	}
	return nil
}
