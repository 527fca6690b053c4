package cron

import (
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"github.com/gridsettle/clearing-service/internal/services/ledger"
	clearingerrors "github.com/gridsettle/clearing-service/pkg/errors"
)

// PaymentHandler records bank-confirmed transfers against invoices.
// Called by the bank statement import job with the shared-secret auth.
type PaymentHandler struct {
	ledger     *ledger.Service
	logger     *zap.Logger
	cronSecret string
}

// NewPaymentHandler creates a new payment handler
func NewPaymentHandler(ledgerService *ledger.Service, logger *zap.Logger, cronSecret string) *PaymentHandler {
	return &PaymentHandler{
		ledger:     ledgerService,
		logger:     logger,
		cronSecret: cronSecret,
	}
}

// RecordPaymentRequest represents one transfer from a bank statement
type RecordPaymentRequest struct {
	InvoiceID     string `json:"invoice_id"`
	PayerID       string `json:"payer_id"`
	PayeeID       string `json:"payee_id"`
	Amount        string `json:"amount"`
	Currency      string `json:"currency"`
	ValueDate     string `json:"value_date"` // YYYY-MM-DD
	BankReference string `json:"bank_reference"`
}

// RecordPaymentResponse reports the recorded payment
type RecordPaymentResponse struct {
	Success   bool   `json:"success"`
	PaymentID string `json:"payment_id"`
	InvoiceID string `json:"invoice_id"`
	Amount    string `json:"amount"`
	Status    string `json:"status"`
}

// Record handles POST /payments/record
func (h *PaymentHandler) Record(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		h.respondError(w, http.StatusMethodNotAllowed, "only POST method is allowed")
		return
	}
	if !authenticateRequest(r, h.cronSecret) {
		h.logger.Warn("Unauthorized payment request", zap.String("remote_addr", r.RemoteAddr))
		h.respondError(w, http.StatusUnauthorized, "unauthorized")
		return
	}

	var req RecordPaymentRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.respondError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	amount, err := decimal.NewFromString(req.Amount)
	if err != nil {
		h.respondError(w, http.StatusBadRequest, "invalid amount")
		return
	}
	valueDate := time.Now().UTC()
	if req.ValueDate != "" {
		valueDate, err = time.Parse("2006-01-02", req.ValueDate)
		if err != nil {
			h.respondError(w, http.StatusBadRequest, "invalid value_date, expected YYYY-MM-DD")
			return
		}
	}

	payment, err := h.ledger.RecordPayment(r.Context(), ledger.PaymentInput{
		InvoiceID:     req.InvoiceID,
		PayerID:       req.PayerID,
		PayeeID:       req.PayeeID,
		Amount:        amount,
		Currency:      req.Currency,
		ValueDate:     valueDate,
		BankReference: req.BankReference,
	})
	if err != nil {
		h.respondDomainError(w, err)
		return
	}

	h.respondJSON(w, http.StatusCreated, RecordPaymentResponse{
		Success:   true,
		PaymentID: payment.ID,
		InvoiceID: payment.InvoiceID,
		Amount:    payment.Amount.String(),
		Status:    string(payment.Status),
	})
}

func (h *PaymentHandler) respondDomainError(w http.ResponseWriter, err error) {
	status := http.StatusInternalServerError
	switch clearingerrors.CategoryOf(err) {
	case clearingerrors.CategoryConflict:
		status = http.StatusConflict
	case clearingerrors.CategoryNotFound:
		status = http.StatusNotFound
	case clearingerrors.CategoryInvalidState:
		status = http.StatusUnprocessableEntity
	case clearingerrors.CategoryData:
		status = http.StatusBadRequest
	}

	var ve *clearingerrors.ValidationError
	if errors.As(err, &ve) {
		status = http.StatusBadRequest
	}

	h.respondError(w, status, err.Error())
}

func (h *PaymentHandler) respondJSON(w http.ResponseWriter, statusCode int, body interface{}) {
	payload, err := json.Marshal(body)
	if err != nil {
		h.respondError(w, http.StatusInternalServerError, "failed to encode response")
		return
	}
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(statusCode)
	if _, err := w.Write(payload); err != nil {
		h.logger.Error("Failed to write response", zap.Error(err))
	}
}

func (h *PaymentHandler) respondError(w http.ResponseWriter, statusCode int, message string) {
	respondError(w, h.logger, statusCode, message)
}
