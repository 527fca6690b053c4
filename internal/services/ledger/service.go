// Package ledger records inbound payments against invoices and enforces
// the over-payment cap before they become part of netting inputs.
package ledger

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/shopspring/decimal"

	"github.com/gridsettle/clearing-service/internal/domain/models"
	"github.com/gridsettle/clearing-service/internal/domain/ports"
	clearingerrors "github.com/gridsettle/clearing-service/pkg/errors"
	"github.com/gridsettle/clearing-service/pkg/observability"
	"github.com/gridsettle/clearing-service/pkg/timeutil"
)

// DefaultOverpaymentTolerance caps cumulative completed payments at
// totalAmount * (1 + tolerance). Bank transfers routinely arrive a few
// cents over due to FX rounding; a half percent absorbs that without
// letting real double-payments through.
var DefaultOverpaymentTolerance = decimal.RequireFromString("0.005")

// PaymentInput describes one bank-confirmed transfer to record
type PaymentInput struct {
	InvoiceID     string
	PayerID       string
	PayeeID       string
	Amount        decimal.Decimal
	Currency      string
	ValueDate     time.Time
	BankReference string
}

// Service records payments against invoices. Settlement-generated
// payments bypass it: those clear net positions, not a single invoice,
// and are written by the settlement orchestrator directly.
type Service struct {
	db       ports.DBPort
	invoices ports.InvoiceRepository
	payments ports.PaymentRepository
	audit    ports.AuditSink
	logger   ports.Logger

	tolerance decimal.Decimal
	now       func() time.Time
}

// NewService creates a new ledger service
func NewService(
	db ports.DBPort,
	invoices ports.InvoiceRepository,
	payments ports.PaymentRepository,
	audit ports.AuditSink,
	logger ports.Logger,
) *Service {
	return &Service{
		db:        db,
		invoices:  invoices,
		payments:  payments,
		audit:     audit,
		logger:    logger,
		tolerance: DefaultOverpaymentTolerance,
		now:       timeutil.Now,
	}
}

// RecordPayment persists a completed payment against an invoice. A payment
// that would push cumulative completed payments past the over-payment cap
// is rejected with a conflict; nothing is written. When the invoice is
// fully covered it transitions to paid, otherwise to partially paid, but
// only where its state machine allows it (a still-pending invoice keeps
// its status and the payment simply waits for reconciliation).
func (s *Service) RecordPayment(ctx context.Context, input PaymentInput) (*models.Payment, error) {
	if !input.Amount.IsPositive() {
		return nil, clearingerrors.NewValidationError("amount", "must be positive")
	}
	if input.InvoiceID == "" {
		return nil, clearingerrors.NewValidationError("invoice_id", "is required")
	}
	invoiceID, err := uuid.Parse(input.InvoiceID)
	if err != nil {
		return nil, clearingerrors.NewValidationError("invoice_id", "must be a valid UUID")
	}

	now := s.now()
	payment := &models.Payment{
		ID:            uuid.New().String(),
		InvoiceID:     input.InvoiceID,
		PayerID:       input.PayerID,
		PayeeID:       input.PayeeID,
		Amount:        input.Amount,
		Currency:      input.Currency,
		ValueDate:     input.ValueDate,
		BankReference: input.BankReference,
		Status:        models.PaymentCompleted,
		CreatedAt:     now,
		UpdatedAt:     now,
	}

	err = s.db.WithTransaction(ctx, func(ctx context.Context, tx pgx.Tx) error {
		invoice, err := s.invoices.GetByID(ctx, tx, invoiceID)
		if err != nil {
			return fmt.Errorf("get invoice: %w", err)
		}

		completed, err := s.payments.ListCompletedByInvoice(ctx, tx, invoice.ID)
		if err != nil {
			return fmt.Errorf("list completed payments: %w", err)
		}
		alreadyPaid := decimal.Zero
		for _, p := range completed {
			alreadyPaid = alreadyPaid.Add(p.Amount)
		}

		limit := invoice.TotalAmount.Mul(decimal.NewFromInt(1).Add(s.tolerance))
		if alreadyPaid.Add(input.Amount).GreaterThan(limit) {
			observability.RecordPaymentRecorded("rejected_overpayment")
			return clearingerrors.New("OVERPAYMENT",
				fmt.Sprintf("payment of %s would exceed invoice %s total %s beyond tolerance",
					input.Amount.String(), invoice.ID, invoice.TotalAmount.String()),
				clearingerrors.CategoryConflict, false).
				WithDetail("already_paid", alreadyPaid.String()).
				WithDetail("limit", limit.String())
		}

		if err := s.payments.Create(ctx, tx, payment); err != nil {
			return fmt.Errorf("create payment: %w", err)
		}

		target := models.InvoicePartiallyPaid
		if alreadyPaid.Add(input.Amount).GreaterThanOrEqual(invoice.TotalAmount) {
			target = models.InvoicePaid
		}
		if invoice.Status.CanTransitionTo(target) {
			if err := s.invoices.UpdateStatus(ctx, tx, invoiceID, invoice.Version, target, invoice.ConfidenceScore, invoice.MatchedDeliveryIDs); err != nil {
				return fmt.Errorf("update invoice status: %w", err)
			}
		}

		event := &models.AuditEvent{
			ID:         uuid.New().String(),
			Action:     "payment.recorded",
			EntityType: "payment",
			EntityID:   payment.ID,
			NewValues: map[string]string{
				"invoice_id":     invoice.ID,
				"amount":         input.Amount.String(),
				"currency":       input.Currency,
				"bank_reference": input.BankReference,
			},
			Timestamp: now,
		}
		return s.audit.Append(ctx, tx, event)
	})
	if err != nil {
		return nil, err
	}

	observability.RecordPaymentRecorded("recorded")
	s.logger.Info("payment recorded",
		ports.String("payment_id", payment.ID),
		ports.String("invoice_id", input.InvoiceID),
		ports.String("amount", input.Amount.String()),
	)
	return payment, nil
}
