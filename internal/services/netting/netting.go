// Package netting aggregates outstanding obligations into per-party net
// positions and derives the settlement legs that clear them.
//
// The leg generation is a greedy pairing over positions sorted by
// magnitude. It is deterministic and bounded by debtors+creditors-1 legs,
// which is the required baseline behavior; it is not proven globally
// optimal across all pairings.
package netting

import (
	"sort"

	"github.com/shopspring/decimal"

	"github.com/gridsettle/clearing-service/internal/domain/models"
)

// legEpsilon is the residual (in currency units) below which a position is
// considered cleared during leg generation.
var legEpsilon = decimal.NewFromFloat(0.01)

// ComputeNetPositions aggregates every invoice with a strictly positive
// outstanding amount into one signed net position per party touched.
//
// Conservation holds by construction: each outstanding amount is added to
// the issuer's position and subtracted from the counterparty's, so the
// positions sum to zero exactly. The output is sorted by party id for
// deterministic runs.
func ComputeNetPositions(invoices []*models.Invoice, payments []*models.Payment) []models.NetPosition {
	byParty := make(map[string]*models.NetPosition)

	touch := func(partyID string) *models.NetPosition {
		if p, ok := byParty[partyID]; ok {
			return p
		}
		p := &models.NetPosition{
			PartyID:         partyID,
			TotalReceivable: decimal.Zero,
			TotalPayable:    decimal.Zero,
			Net:             decimal.Zero,
		}
		byParty[partyID] = p
		return p
	}

	for _, inv := range invoices {
		outstanding := models.OutstandingAmount(inv, payments)
		if !outstanding.IsPositive() {
			continue
		}

		issuer := touch(inv.IssuerID)
		issuer.TotalReceivable = issuer.TotalReceivable.Add(outstanding)
		issuer.Net = issuer.Net.Add(outstanding)

		counterparty := touch(inv.CounterpartyID)
		counterparty.TotalPayable = counterparty.TotalPayable.Add(outstanding)
		counterparty.Net = counterparty.Net.Sub(outstanding)
	}

	positions := make([]models.NetPosition, 0, len(byParty))
	for _, p := range byParty {
		positions = append(positions, *p)
	}
	sort.Slice(positions, func(i, j int) bool {
		return positions[i].PartyID < positions[j].PartyID
	})
	return positions
}

// GenerateSettlementLegs derives the transfers that clear the given
// positions. Debtors are walked most-negative-first against creditors
// most-positive-first; each pairing transfers the smaller of the two
// remaining positions, and a pointer advances when its side clears to
// within the epsilon.
func GenerateSettlementLegs(positions []models.NetPosition) []models.SettlementLeg {
	type working struct {
		partyID   string
		remaining decimal.Decimal
	}

	var debtors, creditors []working
	for _, p := range positions {
		switch {
		case p.Net.IsNegative():
			debtors = append(debtors, working{p.PartyID, p.Net.Neg()})
		case p.Net.IsPositive():
			creditors = append(creditors, working{p.PartyID, p.Net})
		}
	}

	// Most negative debtor first, most positive creditor first.
	sort.Slice(debtors, func(i, j int) bool {
		if !debtors[i].remaining.Equal(debtors[j].remaining) {
			return debtors[i].remaining.GreaterThan(debtors[j].remaining)
		}
		return debtors[i].partyID < debtors[j].partyID
	})
	sort.Slice(creditors, func(i, j int) bool {
		if !creditors[i].remaining.Equal(creditors[j].remaining) {
			return creditors[i].remaining.GreaterThan(creditors[j].remaining)
		}
		return creditors[i].partyID < creditors[j].partyID
	})

	var legs []models.SettlementLeg
	di, ci := 0, 0
	for di < len(debtors) && ci < len(creditors) {
		amount := decimal.Min(debtors[di].remaining, creditors[ci].remaining)
		if amount.IsPositive() {
			legs = append(legs, models.SettlementLeg{
				PayerID: debtors[di].partyID,
				PayeeID: creditors[ci].partyID,
				Amount:  amount,
			})
			debtors[di].remaining = debtors[di].remaining.Sub(amount)
			creditors[ci].remaining = creditors[ci].remaining.Sub(amount)
		}

		if debtors[di].remaining.LessThanOrEqual(legEpsilon) {
			di++
		}
		if creditors[ci].remaining.LessThanOrEqual(legEpsilon) {
			ci++
		}
	}

	return legs
}

// Summarize reports how much the netting run reduced settlement traffic:
// gross legs are one per party with nonzero activity, gross amount is the
// total outstanding obligations, net amount the total over the legs.
func Summarize(positions []models.NetPosition, legs []models.SettlementLeg) models.NettingSummary {
	grossLegs := 0
	grossAmount := decimal.Zero
	for _, p := range positions {
		if !p.TotalReceivable.IsZero() || !p.TotalPayable.IsZero() {
			grossLegs++
		}
		grossAmount = grossAmount.Add(p.TotalReceivable)
	}

	netAmount := decimal.Zero
	for _, leg := range legs {
		netAmount = netAmount.Add(leg.Amount)
	}

	summary := models.NettingSummary{
		GrossLegs:   grossLegs,
		NetLegs:     len(legs),
		GrossAmount: grossAmount,
		NetAmount:   netAmount,
	}
	if grossLegs > 0 {
		summary.EfficiencyGain = float64(grossLegs-len(legs)) / float64(grossLegs) * 100
	}
	return summary
}
