package models

import "errors"

var (
	ErrSameParty             = errors.New("contract parties must be distinct")
	ErrInvalidValidityWindow = errors.New("contract end date precedes start date")
	ErrMeterReadingsInverted = errors.New("meter read end precedes meter read start")
	ErrNegativeQuantity      = errors.New("delivered quantity cannot be negative")
	ErrQualityScoreRange     = errors.New("quality score must be between 0 and 100")
	ErrNonPositiveAmount     = errors.New("total amount must be positive")
	ErrInvalidPeriod         = errors.New("period start is after period end")
	ErrInvalidTransition     = errors.New("invalid status transition")
)
