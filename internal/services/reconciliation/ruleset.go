package reconciliation

import "time"

// RuleSet carries the typed parameters a reconciliation run is governed by
type RuleSet struct {
	// TimeWindow widens the eligibility window around an invoice's billing
	// period: a delivery matches if its timestamp falls within
	// [periodStart - window, periodEnd + window].
	TimeWindow time.Duration

	// ToleranceBand is the maximum allowed variance (percent) between
	// declared and delivered quantity for an automatic match. The band is
	// inclusive: variance exactly equal to the band still matches.
	ToleranceBand float64

	// ContractTermsFactor is reserved for contract-specific quantity
	// adjustment. Currently a pass-through multiplier of 1.
	ContractTermsFactor float64
}

// DefaultRuleSet returns the standard reconciliation parameters
func DefaultRuleSet() RuleSet {
	return RuleSet{
		TimeWindow:          7 * 24 * time.Hour,
		ToleranceBand:       5.0,
		ContractTermsFactor: 1.0,
	}
}
