package cron

import (
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"github.com/gridsettle/clearing-service/internal/services/settlement"
	"github.com/gridsettle/clearing-service/pkg/encoding"
	clearingerrors "github.com/gridsettle/clearing-service/pkg/errors"
)

// SettlementHandler handles the settlement batch lifecycle endpoints:
// compute is scheduler-triggered, approve/reject/execute are called by
// operator tooling with the same shared-secret auth.
type SettlementHandler struct {
	orchestrator *settlement.Orchestrator
	logger       *zap.Logger
	cronSecret   string
}

// NewSettlementHandler creates a new settlement handler
func NewSettlementHandler(orchestrator *settlement.Orchestrator, logger *zap.Logger, cronSecret string) *SettlementHandler {
	return &SettlementHandler{
		orchestrator: orchestrator,
		logger:       logger,
		cronSecret:   cronSecret,
	}
}

// ComputeRequest represents the request body for a netting run
type ComputeRequest struct {
	Period   string `json:"period"`  // YYYY-MM
	FXRate   string `json:"fx_rate"` // decimal string, "1" for single-currency networks
	Currency string `json:"currency"`
}

// ComputeResponse represents the response from a netting run
type ComputeResponse struct {
	Success        bool   `json:"success"`
	BatchID        string `json:"batch_id"`
	Period         string `json:"period"`
	Status         string `json:"status"`
	Positions      int    `json:"positions"`
	Legs           int    `json:"legs"`
	TotalNetAmount string `json:"total_net_amount"`
	ComputedAt     string `json:"computed_at"`
}

// Compute handles POST /cron/compute-settlement
func (h *SettlementHandler) Compute(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		h.respondError(w, http.StatusMethodNotAllowed, "only POST method is allowed")
		return
	}
	if !authenticateRequest(r, h.cronSecret) {
		h.logger.Warn("Unauthorized settlement request", zap.String("remote_addr", r.RemoteAddr))
		h.respondError(w, http.StatusUnauthorized, "unauthorized")
		return
	}

	var req ComputeRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.respondError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	fxRate := decimal.NewFromInt(1)
	if req.FXRate != "" {
		parsed, err := decimal.NewFromString(req.FXRate)
		if err != nil {
			h.respondError(w, http.StatusBadRequest, "invalid fx_rate")
			return
		}
		fxRate = parsed
	}
	if req.Currency == "" {
		h.respondError(w, http.StatusBadRequest, "currency is required")
		return
	}

	batch, err := h.orchestrator.Compute(r.Context(), req.Period, fxRate, req.Currency)
	if err != nil {
		h.respondDomainError(w, err)
		return
	}

	h.respondJSON(w, http.StatusCreated, ComputeResponse{
		Success:        true,
		BatchID:        batch.ID,
		Period:         batch.Period,
		Status:         string(batch.Status),
		Positions:      len(batch.Positions),
		Legs:           len(batch.Legs),
		TotalNetAmount: batch.TotalNetAmount.String(),
		ComputedAt:     batch.CreatedAt.Format(time.RFC3339),
	})
}

// ApprovalRequest represents an approve or reject call
type ApprovalRequest struct {
	BatchID    string `json:"batch_id"`
	ApproverID string `json:"approver_id"`
	Role       string `json:"role"`
	Reason     string `json:"reason"` // reject only
}

// ApprovalResponse reports the batch state after the sign-off
type ApprovalResponse struct {
	Success       bool   `json:"success"`
	BatchID       string `json:"batch_id"`
	Status        string `json:"status"`
	Approvals     int    `json:"approvals"`
	QuorumReached bool   `json:"quorum_reached"`
}

// Approve handles POST /settlement/approve
func (h *SettlementHandler) Approve(w http.ResponseWriter, r *http.Request) {
	req, batchID, ok := h.decodeApproval(w, r)
	if !ok {
		return
	}
	if req.ApproverID == "" {
		h.respondError(w, http.StatusBadRequest, "approver_id is required")
		return
	}

	batch, err := h.orchestrator.Approve(r.Context(), batchID, req.ApproverID, req.Role)
	if err != nil {
		h.respondDomainError(w, err)
		return
	}

	h.respondJSON(w, http.StatusOK, ApprovalResponse{
		Success:       true,
		BatchID:       batch.ID,
		Status:        string(batch.Status),
		Approvals:     len(batch.Approvals),
		QuorumReached: batch.Status != "computed",
	})
}

// Reject handles POST /settlement/reject
func (h *SettlementHandler) Reject(w http.ResponseWriter, r *http.Request) {
	req, batchID, ok := h.decodeApproval(w, r)
	if !ok {
		return
	}

	if err := h.orchestrator.Reject(r.Context(), batchID, req.ApproverID, req.Reason); err != nil {
		h.respondDomainError(w, err)
		return
	}

	h.respondJSON(w, http.StatusOK, map[string]interface{}{
		"success":  true,
		"batch_id": batchID.String(),
		"status":   "rejected",
	})
}

// ExecuteRequest represents an execute call
type ExecuteRequest struct {
	BatchID string `json:"batch_id"`
}

// ExecuteResponse reports the per-leg outcome of an execution
type ExecuteResponse struct {
	Success        bool   `json:"success"`
	BatchID        string `json:"batch_id"`
	Status         string `json:"status"`
	Legs           int    `json:"legs"`
	FailedLegs     int    `json:"failed_legs"`
	RolledBackLegs int    `json:"rolled_back_legs"`
	Error          string `json:"error,omitempty"`
}

// Execute handles POST /settlement/execute
func (h *SettlementHandler) Execute(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		h.respondError(w, http.StatusMethodNotAllowed, "only POST method is allowed")
		return
	}
	if !authenticateRequest(r, h.cronSecret) {
		h.respondError(w, http.StatusUnauthorized, "unauthorized")
		return
	}

	var req ExecuteRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.respondError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	batchID, err := uuid.Parse(req.BatchID)
	if err != nil {
		h.respondError(w, http.StatusBadRequest, "invalid batch_id")
		return
	}

	result, execErr := h.orchestrator.Execute(r.Context(), batchID)
	if execErr != nil && result == nil {
		h.respondDomainError(w, execErr)
		return
	}

	resp := ExecuteResponse{
		Success:        execErr == nil,
		BatchID:        result.BatchID,
		Status:         string(result.BatchStatus),
		Legs:           len(result.Legs),
		FailedLegs:     result.FailedLegs,
		RolledBackLegs: result.RolledBackLegs,
	}
	status := http.StatusOK
	if execErr != nil {
		resp.Error = execErr.Error()
		// A reservation failure leaves the batch retriable; a partial
		// execution does not.
		if clearingerrors.CategoryOf(execErr) == clearingerrors.CategoryPartialExecution {
			status = http.StatusConflict
		} else {
			status = http.StatusServiceUnavailable
		}
	}
	h.respondJSON(w, status, resp)
}

func (h *SettlementHandler) decodeApproval(w http.ResponseWriter, r *http.Request) (*ApprovalRequest, uuid.UUID, bool) {
	if r.Method != http.MethodPost {
		h.respondError(w, http.StatusMethodNotAllowed, "only POST method is allowed")
		return nil, uuid.Nil, false
	}
	if !authenticateRequest(r, h.cronSecret) {
		h.respondError(w, http.StatusUnauthorized, "unauthorized")
		return nil, uuid.Nil, false
	}

	var req ApprovalRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.respondError(w, http.StatusBadRequest, "invalid request body")
		return nil, uuid.Nil, false
	}
	batchID, err := uuid.Parse(req.BatchID)
	if err != nil {
		h.respondError(w, http.StatusBadRequest, "invalid batch_id")
		return nil, uuid.Nil, false
	}
	return &req, batchID, true
}

// respondDomainError maps domain error categories onto HTTP status codes
func (h *SettlementHandler) respondDomainError(w http.ResponseWriter, err error) {
	status := http.StatusInternalServerError
	switch clearingerrors.CategoryOf(err) {
	case clearingerrors.CategoryConflict:
		status = http.StatusConflict
	case clearingerrors.CategoryNotFound:
		status = http.StatusNotFound
	case clearingerrors.CategoryInvalidState:
		status = http.StatusUnprocessableEntity
	case clearingerrors.CategoryInsufficientFunds:
		status = http.StatusServiceUnavailable
	case clearingerrors.CategoryData:
		status = http.StatusBadRequest
	}

	var ve *clearingerrors.ValidationError
	if errors.As(err, &ve) {
		status = http.StatusBadRequest
	}

	h.respondError(w, status, err.Error())
}

func (h *SettlementHandler) respondJSON(w http.ResponseWriter, statusCode int, body interface{}) {
	payload, err := encoding.EncodeJSON(body)
	if err != nil {
		h.logger.Error("Failed to encode response", zap.Error(err))
		respondError(w, h.logger, http.StatusInternalServerError, "failed to encode response")
		return
	}
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(statusCode)
	if _, err := w.Write(payload); err != nil {
		h.logger.Error("Failed to write response", zap.Error(err))
	}
}

func (h *SettlementHandler) respondError(w http.ResponseWriter, statusCode int, message string) {
	respondError(w, h.logger, statusCode, message)
}
