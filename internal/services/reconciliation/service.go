package reconciliation

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"

	"github.com/gridsettle/clearing-service/internal/domain/models"
	"github.com/gridsettle/clearing-service/internal/domain/ports"
	"github.com/gridsettle/clearing-service/internal/services/aging"
	"github.com/gridsettle/clearing-service/pkg/observability"
	"github.com/gridsettle/clearing-service/pkg/timeutil"
)

// SLA window granted to the counterparty on auto-raised disputes
const disputeSLA = 7 * 24 * time.Hour

// ItemError records a per-invoice failure that did not abort the run
type ItemError struct {
	InvoiceID string
	Err       string
}

// RunResult is what a reconciliation run returns to its caller: the
// classification, the side effects that were applied, and the per-invoice
// errors that were skipped. Callers never lose track of partial progress.
type RunResult struct {
	Result         *Result
	AppliedMatches int
	AppliedErrors  []ItemError
	DisputesRaised []string
	StartedAt      time.Time
	FinishedAt     time.Time
}

// Service drives reconciliation runs: it loads invoices and deliveries
// from the ledger, runs the pure matching computation, and applies the
// resulting status transitions and auto-disputes.
type Service struct {
	db         ports.DBPort
	invoices   ports.InvoiceRepository
	deliveries ports.DeliveryRepository
	disputes   ports.DisputeRepository
	audit      ports.AuditSink
	logger     ports.Logger
	rules      RuleSet
}

// NewService creates a new reconciliation service
func NewService(
	db ports.DBPort,
	invoices ports.InvoiceRepository,
	deliveries ports.DeliveryRepository,
	disputes ports.DisputeRepository,
	audit ports.AuditSink,
	logger ports.Logger,
	rules RuleSet,
) *Service {
	return &Service{
		db:         db,
		invoices:   invoices,
		deliveries: deliveries,
		disputes:   disputes,
		audit:      audit,
		logger:     logger,
		rules:      rules,
	}
}

// Run reconciles all open invoices whose billing period overlaps
// [periodStart, periodEnd]. Each invoice's status write and any
// auto-dispute are applied atomically; a failure on one invoice is
// recorded and the run continues.
func (s *Service) Run(ctx context.Context, periodStart, periodEnd time.Time) (*RunResult, error) {
	startedAt := timeutil.Now()

	openStatuses := []models.InvoiceStatus{models.InvoicePending, models.InvoicePartiallyMatched}
	invoices, err := s.invoices.ListInPeriod(ctx, nil, periodStart, periodEnd, openStatuses)
	if err != nil {
		return nil, fmt.Errorf("list invoices in period: %w", err)
	}

	// Widen the delivery query by the matching window so edge-of-period
	// deliveries are visible to every invoice in the run.
	deliveries, err := s.deliveries.ListInRange(ctx, nil,
		periodStart.Add(-s.rules.TimeWindow), periodEnd.Add(s.rules.TimeWindow), "")
	if err != nil {
		return nil, fmt.Errorf("list deliveries in range: %w", err)
	}

	s.logger.Info("reconciliation run started",
		ports.Time("period_start", periodStart),
		ports.Time("period_end", periodEnd),
		ports.Int("invoices", len(invoices)),
		ports.Int("deliveries", len(deliveries)),
	)

	result := Reconcile(invoices, deliveries, s.rules)
	run := &RunResult{Result: result, StartedAt: startedAt}

	byID := make(map[string]*models.Invoice, len(invoices))
	for _, inv := range invoices {
		byID[inv.ID] = inv
	}

	for _, match := range result.Matches {
		if err := s.applyMatch(ctx, byID[match.InvoiceID], match); err != nil {
			run.AppliedErrors = append(run.AppliedErrors, ItemError{InvoiceID: match.InvoiceID, Err: err.Error()})
			s.logger.Warn("failed to apply match",
				ports.String("invoice_id", match.InvoiceID),
				ports.Err(err),
			)
			continue
		}
		run.AppliedMatches++
		observability.RecordReconciliationOutcome("matched", "none", match.ConfidenceScore)
	}

	for _, exc := range result.Exceptions {
		disputeID, err := s.applyException(ctx, byID[exc.InvoiceID], exc)
		if err != nil {
			run.AppliedErrors = append(run.AppliedErrors, ItemError{InvoiceID: exc.InvoiceID, Err: err.Error()})
			s.logger.Warn("failed to apply exception",
				ports.String("invoice_id", exc.InvoiceID),
				ports.Err(err),
			)
			continue
		}
		if disputeID != "" {
			run.DisputesRaised = append(run.DisputesRaised, disputeID)
			observability.RecordDisputeRaised(string(models.ReasonQuantityVariance))
		}
		confidence := 0.0
		if exc.ConfidenceScore != nil {
			confidence = *exc.ConfidenceScore
		}
		observability.RecordReconciliationOutcome("exception", string(exc.Severity), confidence)
	}

	run.FinishedAt = timeutil.Now()
	s.logger.Info("reconciliation run finished",
		ports.Int("matched", run.AppliedMatches),
		ports.Int("exceptions", len(result.Exceptions)),
		ports.Int("disputes_raised", len(run.DisputesRaised)),
		ports.Int("item_errors", len(run.AppliedErrors)),
		ports.Float64("match_rate_pct", result.Summary.MatchRatePct),
	)
	return run, nil
}

// applyMatch transitions the invoice to matched and persists confidence
// and matched delivery ids, with the audit event in the same transaction.
func (s *Service) applyMatch(ctx context.Context, inv *models.Invoice, match Match) error {
	if inv == nil {
		return fmt.Errorf("invoice %s not loaded", match.InvoiceID)
	}
	if !inv.Status.CanTransitionTo(models.InvoiceMatched) {
		return fmt.Errorf("invoice %s: %s -> %s: %w", inv.ID, inv.Status, models.InvoiceMatched, models.ErrInvalidTransition)
	}

	invID, err := uuid.Parse(inv.ID)
	if err != nil {
		return fmt.Errorf("invalid invoice ID: %w", err)
	}

	return s.db.WithTransaction(ctx, func(ctx context.Context, tx pgx.Tx) error {
		score := match.ConfidenceScore
		if err := s.invoices.UpdateStatus(ctx, tx, invID, inv.Version, models.InvoiceMatched, &score, match.MatchedDeliveryIDs); err != nil {
			return fmt.Errorf("update invoice status: %w", err)
		}

		event := &models.AuditEvent{
			ID:         uuid.New().String(),
			Action:     "invoice.matched",
			EntityType: "invoice",
			EntityID:   inv.ID,
			OldValues:  map[string]string{"status": string(inv.Status)},
			NewValues: map[string]string{
				"status":           string(models.InvoiceMatched),
				"confidence_score": fmt.Sprintf("%.2f", match.ConfidenceScore),
			},
			Timestamp: timeutil.Now(),
		}
		if err := s.audit.Append(ctx, tx, event); err != nil {
			return fmt.Errorf("append audit event: %w", err)
		}
		return nil
	})
}

// applyException transitions the invoice to partially_matched and, for
// high-severity exceptions, raises a quantity-variance dispute in the same
// transaction unless one is already active for the invoice. Returns the
// dispute id when one was created.
func (s *Service) applyException(ctx context.Context, inv *models.Invoice, exc Exception) (string, error) {
	if inv == nil {
		return "", fmt.Errorf("invoice %s not loaded", exc.InvoiceID)
	}
	if !inv.Status.CanTransitionTo(models.InvoicePartiallyMatched) {
		return "", fmt.Errorf("invoice %s: %s -> %s: %w", inv.ID, inv.Status, models.InvoicePartiallyMatched, models.ErrInvalidTransition)
	}

	invID, err := uuid.Parse(inv.ID)
	if err != nil {
		return "", fmt.Errorf("invalid invoice ID: %w", err)
	}

	disputeID := ""
	err = s.db.WithTransaction(ctx, func(ctx context.Context, tx pgx.Tx) error {
		if err := s.invoices.UpdateStatus(ctx, tx, invID, inv.Version, models.InvoicePartiallyMatched, exc.ConfidenceScore, nil); err != nil {
			return fmt.Errorf("update invoice status: %w", err)
		}

		newValues := map[string]string{
			"status":   string(models.InvoicePartiallyMatched),
			"reason":   exc.Reason,
			"severity": string(exc.Severity),
		}

		if exc.Severity == aging.SeverityHigh {
			// Invoices that stay partially matched across runs keep their
			// original dispute; only raise a new one when none is active.
			existing, err := s.disputes.ListByInvoice(ctx, tx, inv.ID)
			if err != nil {
				return fmt.Errorf("list disputes: %w", err)
			}
			if active := activeDispute(existing); active != nil {
				newValues["dispute_id"] = active.ID
			} else {
				now := timeutil.Now()
				dispute := &models.Dispute{
					ID:          uuid.New().String(),
					InvoiceID:   inv.ID,
					ContractID:  inv.ContractID,
					RaisedByID:  inv.CounterpartyID,
					AgainstID:   inv.IssuerID,
					Reason:      models.ReasonQuantityVariance,
					Status:      models.DisputeOpen,
					Description: exc.Recommendation,
					SLADeadline: now.Add(disputeSLA),
					CreatedAt:   now,
					UpdatedAt:   now,
				}
				if err := s.disputes.Create(ctx, tx, dispute); err != nil {
					return fmt.Errorf("create dispute: %w", err)
				}
				disputeID = dispute.ID
				newValues["dispute_id"] = dispute.ID

				disputeEvent := &models.AuditEvent{
					ID:         uuid.New().String(),
					Action:     "dispute.created",
					EntityType: "dispute",
					EntityID:   dispute.ID,
					NewValues: map[string]string{
						"invoice_id": inv.ID,
						"reason":     string(models.ReasonQuantityVariance),
						"status":     string(models.DisputeOpen),
					},
					Timestamp: now,
				}
				if err := s.audit.Append(ctx, tx, disputeEvent); err != nil {
					return fmt.Errorf("append dispute audit event: %w", err)
				}
			}
		}

		event := &models.AuditEvent{
			ID:         uuid.New().String(),
			Action:     "invoice.exception",
			EntityType: "invoice",
			EntityID:   inv.ID,
			OldValues:  map[string]string{"status": string(inv.Status)},
			NewValues:  newValues,
			Timestamp:  timeutil.Now(),
		}
		if err := s.audit.Append(ctx, tx, event); err != nil {
			return fmt.Errorf("append audit event: %w", err)
		}
		return nil
	})
	if err != nil {
		return "", err
	}
	return disputeID, nil
}

// activeDispute returns the first dispute that still awaits an outcome, or nil.
func activeDispute(disputes []*models.Dispute) *models.Dispute {
	for _, d := range disputes {
		if d.Status.Active() {
			return d
		}
	}
	return nil
}
