package models

import (
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
)

func TestContractValidate(t *testing.T) {
	end := time.Date(2026, 12, 31, 0, 0, 0, 0, time.UTC)
	contract := &Contract{
		ID:           "contract-1",
		PartyAID:     "party-a",
		PartyBID:     "party-b",
		Type:         ContractEnergy,
		PricePerUnit: decimal.RequireFromString("42.50"),
		Currency:     "EUR",
		StartDate:    time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC),
		EndDate:      &end,
	}
	assert.NoError(t, contract.Validate())

	contract.PartyBID = contract.PartyAID
	assert.ErrorIs(t, contract.Validate(), ErrSameParty)

	contract.PartyBID = "party-b"
	before := contract.StartDate.Add(-time.Hour)
	contract.EndDate = &before
	assert.ErrorIs(t, contract.Validate(), ErrInvalidValidityWindow)
}

func TestContractActiveAt(t *testing.T) {
	start := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	end := time.Date(2026, 6, 30, 0, 0, 0, 0, time.UTC)

	bounded := &Contract{StartDate: start, EndDate: &end}
	assert.False(t, bounded.ActiveAt(start.Add(-time.Second)))
	assert.True(t, bounded.ActiveAt(start))
	assert.True(t, bounded.ActiveAt(end))
	assert.False(t, bounded.ActiveAt(end.Add(time.Second)))

	openEnded := &Contract{StartDate: start}
	assert.True(t, openEnded.ActiveAt(start.AddDate(10, 0, 0)))
}

func TestDeliveryValidate(t *testing.T) {
	delivery := &Delivery{
		ID:             "del-1",
		ContractID:     "contract-1",
		MeterReadStart: 1000,
		MeterReadEnd:   1480,
		Quantity:       480,
		QualityScore:   98,
	}
	assert.NoError(t, delivery.Validate())

	delivery.MeterReadEnd = 900
	assert.ErrorIs(t, delivery.Validate(), ErrMeterReadingsInverted)

	delivery.MeterReadEnd = 1480
	delivery.Quantity = -1
	assert.ErrorIs(t, delivery.Validate(), ErrNegativeQuantity)

	delivery.Quantity = 480
	delivery.QualityScore = 101
	assert.ErrorIs(t, delivery.Validate(), ErrQualityScoreRange)
}
