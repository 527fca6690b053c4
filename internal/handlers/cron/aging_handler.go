package cron

import (
	"encoding/json"
	"net/http"
	"time"

	"go.uber.org/zap"

	"github.com/gridsettle/clearing-service/internal/domain/ports"
	"github.com/gridsettle/clearing-service/internal/services/aging"
	"github.com/gridsettle/clearing-service/pkg/timeutil"
)

// AgingHandler serves aging reports over outstanding receivables
type AgingHandler struct {
	invoices   ports.InvoiceRepository
	payments   ports.PaymentRepository
	logger     *zap.Logger
	cronSecret string
}

// NewAgingHandler creates a new aging report handler
func NewAgingHandler(invoices ports.InvoiceRepository, payments ports.PaymentRepository, logger *zap.Logger, cronSecret string) *AgingHandler {
	return &AgingHandler{
		invoices:   invoices,
		payments:   payments,
		logger:     logger,
		cronSecret: cronSecret,
	}
}

// AgingReportResponse is the JSON form of an aging report
type AgingReportResponse struct {
	Success     bool              `json:"success"`
	AsOf        string            `json:"as_of"`
	Outstanding map[string]string `json:"outstanding"`
	Counts      map[string]int    `json:"counts"`
	Total       string            `json:"total"`
}

// Report handles GET /reports/aging?as_of=2026-06-15&from=2026-01&to=2026-05
func (h *AgingHandler) Report(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		h.respondError(w, http.StatusMethodNotAllowed, "only GET method is allowed")
		return
	}
	if !authenticateRequest(r, h.cronSecret) {
		h.respondError(w, http.StatusUnauthorized, "unauthorized")
		return
	}

	asOf := timeutil.Now()
	if raw := r.URL.Query().Get("as_of"); raw != "" {
		parsed, err := time.Parse("2006-01-02", raw)
		if err != nil {
			h.respondError(w, http.StatusBadRequest, "invalid as_of date")
			return
		}
		asOf = parsed
	}

	// Default lookup window: the trailing year
	start := asOf.AddDate(-1, 0, 0)
	end := asOf
	if raw := r.URL.Query().Get("from"); raw != "" {
		s, _, err := timeutil.ParsePeriod(raw)
		if err != nil {
			h.respondError(w, http.StatusBadRequest, "invalid from period")
			return
		}
		start = s
	}
	if raw := r.URL.Query().Get("to"); raw != "" {
		_, e, err := timeutil.ParsePeriod(raw)
		if err != nil {
			h.respondError(w, http.StatusBadRequest, "invalid to period")
			return
		}
		end = e
	}

	invoices, err := h.invoices.ListInPeriod(r.Context(), nil, start, end, nil)
	if err != nil {
		h.logger.Error("Failed to list invoices for aging report", zap.Error(err))
		h.respondError(w, http.StatusInternalServerError, "failed to load invoices")
		return
	}
	invoiceIDs := make([]string, len(invoices))
	for i, inv := range invoices {
		invoiceIDs[i] = inv.ID
	}
	payments, err := h.payments.ListCompletedForInvoices(r.Context(), nil, invoiceIDs)
	if err != nil {
		h.logger.Error("Failed to list payments for aging report", zap.Error(err))
		h.respondError(w, http.StatusInternalServerError, "failed to load payments")
		return
	}

	report := aging.Classify(invoices, payments, asOf)

	resp := AgingReportResponse{
		Success:     true,
		AsOf:        report.AsOf.Format("2006-01-02"),
		Outstanding: make(map[string]string, len(report.Outstanding)),
		Counts:      make(map[string]int, len(report.Counts)),
		Total:       report.Total.String(),
	}
	for bucket, amount := range report.Outstanding {
		resp.Outstanding[string(bucket)] = amount.String()
	}
	for bucket, count := range report.Counts {
		resp.Counts[string(bucket)] = count
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	if err := json.NewEncoder(w).Encode(resp); err != nil {
		h.logger.Error("Failed to encode response", zap.Error(err))
	}
}

func (h *AgingHandler) respondError(w http.ResponseWriter, statusCode int, message string) {
	respondError(w, h.logger, statusCode, message)
}
