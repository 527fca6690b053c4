package aging_test

import (
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"

	"github.com/gridsettle/clearing-service/internal/domain/models"
	"github.com/gridsettle/clearing-service/internal/services/aging"
)

func TestSeverityForVariance(t *testing.T) {
	tests := []struct {
		name     string
		variance float64
		want     aging.Severity
	}{
		{"zero variance is low", 0, aging.SeverityLow},
		{"exactly 10 is low", 10, aging.SeverityLow},
		{"just above 10 is medium", 10.01, aging.SeverityMedium},
		{"exactly 20 is medium", 20, aging.SeverityMedium},
		{"just above 20 is high", 20.01, aging.SeverityHigh},
		{"missing deliveries variance is high", 100, aging.SeverityHigh},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, aging.SeverityForVariance(tt.variance))
		})
	}
}

func TestBucketFor(t *testing.T) {
	asOf := time.Date(2026, 6, 15, 0, 0, 0, 0, time.UTC)

	tests := []struct {
		name      string
		periodEnd time.Time
		want      aging.Bucket
	}{
		{"period still open", asOf.AddDate(0, 0, 5), aging.BucketCurrent},
		{"ended today", asOf, aging.BucketCurrent},
		{"ended 10 days ago", asOf.AddDate(0, 0, -10), aging.Bucket1To30},
		{"ended 30 days ago", asOf.AddDate(0, 0, -30), aging.Bucket1To30},
		{"ended 45 days ago", asOf.AddDate(0, 0, -45), aging.Bucket31To60},
		{"ended 75 days ago", asOf.AddDate(0, 0, -75), aging.Bucket61To90},
		{"ended 120 days ago", asOf.AddDate(0, 0, -120), aging.BucketOver90},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			inv := &models.Invoice{PeriodEnd: tt.periodEnd}
			assert.Equal(t, tt.want, aging.BucketFor(inv, asOf))
		})
	}
}

func TestClassify(t *testing.T) {
	asOf := time.Date(2026, 6, 15, 0, 0, 0, 0, time.UTC)

	inv1 := &models.Invoice{
		ID:          "inv-1",
		TotalAmount: decimal.NewFromInt(1000),
		PeriodEnd:   asOf.AddDate(0, 0, -5), // 1-30
	}
	inv2 := &models.Invoice{
		ID:          "inv-2",
		TotalAmount: decimal.NewFromInt(500),
		PeriodEnd:   asOf.AddDate(0, 0, -100), // 90+
	}
	inv3 := &models.Invoice{
		ID:          "inv-3",
		TotalAmount: decimal.NewFromInt(200),
		PeriodEnd:   asOf.AddDate(0, 0, -40), // fully paid, excluded
	}

	payments := []*models.Payment{
		{InvoiceID: "inv-1", Amount: decimal.NewFromInt(400), Status: models.PaymentCompleted},
		{InvoiceID: "inv-3", Amount: decimal.NewFromInt(200), Status: models.PaymentCompleted},
		// Pending payment must not reduce outstanding
		{InvoiceID: "inv-2", Amount: decimal.NewFromInt(500), Status: models.PaymentPending},
	}

	report := aging.Classify([]*models.Invoice{inv1, inv2, inv3}, payments, asOf)

	assert.True(t, report.Outstanding[aging.Bucket1To30].Equal(decimal.NewFromInt(600)))
	assert.True(t, report.Outstanding[aging.BucketOver90].Equal(decimal.NewFromInt(500)))
	assert.Equal(t, 1, report.Counts[aging.Bucket1To30])
	assert.Equal(t, 1, report.Counts[aging.BucketOver90])
	assert.Zero(t, report.Counts[aging.Bucket31To60])
	assert.True(t, report.Total.Equal(decimal.NewFromInt(1100)))
}
