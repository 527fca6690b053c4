// Package aging derives invoice aging buckets and exception severities.
// It is shared by the reconciliation engine (severity of quantity
// variances) and by netting risk reporting (aged outstanding balances).
package aging

import (
	"time"

	"github.com/shopspring/decimal"

	"github.com/gridsettle/clearing-service/internal/domain/models"
)

// Severity grades an exception for operator triage
type Severity string

const (
	SeverityLow    Severity = "low"
	SeverityMedium Severity = "medium"
	SeverityHigh   Severity = "high"
)

// Severity thresholds on quantity variance percentage
const (
	highVarianceThreshold   = 20.0
	mediumVarianceThreshold = 10.0
)

// SeverityForVariance grades a quantity variance percentage.
// Above 20% is high, above 10% medium, otherwise low.
func SeverityForVariance(variancePct float64) Severity {
	switch {
	case variancePct > highVarianceThreshold:
		return SeverityHigh
	case variancePct > mediumVarianceThreshold:
		return SeverityMedium
	default:
		return SeverityLow
	}
}

// Bucket is an aging band for outstanding invoice balances
type Bucket string

const (
	BucketCurrent Bucket = "current"
	Bucket1To30   Bucket = "1-30"
	Bucket31To60  Bucket = "31-60"
	Bucket61To90  Bucket = "61-90"
	BucketOver90  Bucket = "90+"
)

// BucketFor places an invoice in an aging band by days elapsed since its
// billing period ended.
func BucketFor(inv *models.Invoice, asOf time.Time) Bucket {
	days := int(asOf.Sub(inv.PeriodEnd).Hours() / 24)
	switch {
	case days <= 0:
		return BucketCurrent
	case days <= 30:
		return Bucket1To30
	case days <= 60:
		return Bucket31To60
	case days <= 90:
		return Bucket61To90
	default:
		return BucketOver90
	}
}

// Report summarizes outstanding balances by aging band
type Report struct {
	AsOf        time.Time
	Outstanding map[Bucket]decimal.Decimal
	Counts      map[Bucket]int
	Total       decimal.Decimal
}

// Classify builds an aging report over invoices and their completed
// payments. Fully settled invoices do not appear.
func Classify(invoices []*models.Invoice, payments []*models.Payment, asOf time.Time) *Report {
	report := &Report{
		AsOf:        asOf,
		Outstanding: make(map[Bucket]decimal.Decimal),
		Counts:      make(map[Bucket]int),
		Total:       decimal.Zero,
	}

	for _, inv := range invoices {
		outstanding := models.OutstandingAmount(inv, payments)
		if !outstanding.IsPositive() {
			continue
		}
		bucket := BucketFor(inv, asOf)
		report.Outstanding[bucket] = report.Outstanding[bucket].Add(outstanding)
		report.Counts[bucket]++
		report.Total = report.Total.Add(outstanding)
	}

	return report
}
