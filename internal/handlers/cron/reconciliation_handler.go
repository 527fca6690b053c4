// Package cron exposes the HTTP endpoints the scheduler calls to trigger
// reconciliation and settlement runs. Requests authenticate with a shared
// secret; these endpoints are not exposed to participants.
package cron

import (
	"encoding/json"
	"net/http"
	"time"

	"go.uber.org/zap"

	"github.com/gridsettle/clearing-service/internal/services/reconciliation"
	"github.com/gridsettle/clearing-service/pkg/resilience"
	"github.com/gridsettle/clearing-service/pkg/timeutil"
)

// ReconciliationHandler handles cron job endpoints for reconciliation runs
type ReconciliationHandler struct {
	service    *reconciliation.Service
	logger     *zap.Logger
	cronSecret string
}

// NewReconciliationHandler creates a new reconciliation cron handler
func NewReconciliationHandler(service *reconciliation.Service, logger *zap.Logger, cronSecret string) *ReconciliationHandler {
	return &ReconciliationHandler{
		service:    service,
		logger:     logger,
		cronSecret: cronSecret,
	}
}

// RunReconciliationRequest represents the request body for a manual run
type RunReconciliationRequest struct {
	Period *string `json:"period"` // Optional: YYYY-MM, defaults to the previous month
}

// RunReconciliationResponse represents the response from a reconciliation run
type RunReconciliationResponse struct {
	Success        bool     `json:"success"`
	Period         string   `json:"period"`
	TotalInvoices  int      `json:"total_invoices"`
	MatchedCount   int      `json:"matched_count"`
	ExceptionCount int      `json:"exception_count"`
	MatchRatePct   float64  `json:"match_rate_pct"`
	AppliedMatches int      `json:"applied_matches"`
	DisputesRaised []string `json:"disputes_raised,omitempty"`
	Errors         []string `json:"errors,omitempty"`
	ProcessedAt    string   `json:"processed_at"`
}

// RunReconciliation handles the POST /cron/run-reconciliation endpoint.
// Called by the scheduler after each billing period closes.
func (h *ReconciliationHandler) RunReconciliation(w http.ResponseWriter, r *http.Request) {
	h.logger.Info("Reconciliation cron job triggered",
		zap.String("method", r.Method),
		zap.String("remote_addr", r.RemoteAddr),
	)

	if r.Method != http.MethodPost {
		h.respondError(w, http.StatusMethodNotAllowed, "only POST method is allowed")
		return
	}
	if !authenticateRequest(r, h.cronSecret) {
		h.logger.Warn("Unauthorized cron request", zap.String("remote_addr", r.RemoteAddr))
		h.respondError(w, http.StatusUnauthorized, "unauthorized")
		return
	}

	var req RunReconciliationRequest
	if r.Body != nil && r.ContentLength > 0 {
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			h.logger.Warn("Failed to parse request body", zap.Error(err))
			// Continue with defaults if parsing fails
		}
	}

	// Default to the most recently closed period
	period := timeutil.PeriodOf(timeutil.Now().AddDate(0, -1, 0))
	if req.Period != nil {
		period = *req.Period
	}
	periodStart, periodEnd, err := timeutil.ParsePeriod(period)
	if err != nil {
		h.respondError(w, http.StatusBadRequest, err.Error())
		return
	}

	ctx, cancel := resilience.DefaultTimeoutConfig().CronContext(r.Context())
	defer cancel()

	result, err := h.service.Run(ctx, periodStart, periodEnd)
	if err != nil {
		h.logger.Error("Reconciliation run failed", zap.String("period", period), zap.Error(err))
		h.respondError(w, http.StatusInternalServerError, err.Error())
		return
	}

	resp := RunReconciliationResponse{
		Success:        len(result.AppliedErrors) == 0,
		Period:         period,
		TotalInvoices:  result.Result.Summary.TotalInvoices,
		MatchedCount:   result.Result.Summary.MatchedCount,
		ExceptionCount: result.Result.Summary.ExceptionCount,
		MatchRatePct:   result.Result.Summary.MatchRatePct,
		AppliedMatches: result.AppliedMatches,
		DisputesRaised: result.DisputesRaised,
		ProcessedAt:    result.FinishedAt.Format(time.RFC3339),
	}
	for _, itemErr := range result.AppliedErrors {
		resp.Errors = append(resp.Errors, itemErr.InvoiceID+": "+itemErr.Err)
	}

	h.logger.Info("Reconciliation run completed",
		zap.String("period", period),
		zap.Int("matched", resp.MatchedCount),
		zap.Int("exceptions", resp.ExceptionCount),
		zap.Int("errors", len(resp.Errors)),
	)

	w.Header().Set("Content-Type", "application/json")
	if resp.Success {
		w.WriteHeader(http.StatusOK)
	} else {
		w.WriteHeader(http.StatusPartialContent)
	}
	if err := json.NewEncoder(w).Encode(resp); err != nil {
		h.logger.Error("Failed to encode response", zap.Error(err))
	}
}

// HealthCheck handles GET /cron/health for monitoring
func (h *ReconciliationHandler) HealthCheck(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	json.NewEncoder(w).Encode(map[string]interface{}{
		"status": "healthy",
		"time":   time.Now().Format(time.RFC3339),
	})
}

// respondError sends an error response
func (h *ReconciliationHandler) respondError(w http.ResponseWriter, statusCode int, message string) {
	respondError(w, h.logger, statusCode, message)
}

// authenticateRequest verifies the cron request carries the shared secret
func authenticateRequest(r *http.Request, cronSecret string) bool {
	if cronSecret == "" {
		return false
	}
	if r.Header.Get("X-Cron-Secret") == cronSecret {
		return true
	}
	if r.Header.Get("Authorization") == "Bearer "+cronSecret {
		return true
	}
	return false
}

func respondError(w http.ResponseWriter, logger *zap.Logger, statusCode int, message string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(statusCode)
	resp := map[string]interface{}{
		"success": false,
		"error":   message,
	}
	if err := json.NewEncoder(w).Encode(resp); err != nil {
		logger.Error("Failed to encode error response", zap.Error(err))
	}
}
