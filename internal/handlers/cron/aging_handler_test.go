package cron_test

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/gridsettle/clearing-service/internal/domain/models"
	"github.com/gridsettle/clearing-service/internal/domain/ports"
	"github.com/gridsettle/clearing-service/internal/handlers/cron"
)

type MockInvoiceRepository struct {
	mock.Mock
}

func (m *MockInvoiceRepository) Create(ctx context.Context, db ports.DBTX, inv *models.Invoice) error {
	args := m.Called(ctx, db, inv)
	return args.Error(0)
}

func (m *MockInvoiceRepository) GetByID(ctx context.Context, db ports.DBTX, id uuid.UUID) (*models.Invoice, error) {
	args := m.Called(ctx, db, id)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*models.Invoice), args.Error(1)
}

func (m *MockInvoiceRepository) UpdateStatus(ctx context.Context, tx ports.DBTX, id uuid.UUID, version int32, status models.InvoiceStatus, confidenceScore *float64, matchedDeliveryIDs []string) error {
	args := m.Called(ctx, tx, id, version, status, confidenceScore, matchedDeliveryIDs)
	return args.Error(0)
}

func (m *MockInvoiceRepository) ListInPeriod(ctx context.Context, db ports.DBTX, start, end time.Time, statuses []models.InvoiceStatus) ([]*models.Invoice, error) {
	args := m.Called(ctx, db, start, end, statuses)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]*models.Invoice), args.Error(1)
}

type MockPaymentRepository struct {
	mock.Mock
}

func (m *MockPaymentRepository) Create(ctx context.Context, db ports.DBTX, p *models.Payment) error {
	args := m.Called(ctx, db, p)
	return args.Error(0)
}

func (m *MockPaymentRepository) GetByID(ctx context.Context, db ports.DBTX, id uuid.UUID) (*models.Payment, error) {
	args := m.Called(ctx, db, id)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*models.Payment), args.Error(1)
}

func (m *MockPaymentRepository) UpdateStatus(ctx context.Context, tx ports.DBTX, id uuid.UUID, status models.PaymentStatus) error {
	args := m.Called(ctx, tx, id, status)
	return args.Error(0)
}

func (m *MockPaymentRepository) ListCompletedByInvoice(ctx context.Context, db ports.DBTX, invoiceID string) ([]*models.Payment, error) {
	args := m.Called(ctx, db, invoiceID)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]*models.Payment), args.Error(1)
}

func (m *MockPaymentRepository) ListByBatch(ctx context.Context, db ports.DBTX, batchID string) ([]*models.Payment, error) {
	args := m.Called(ctx, db, batchID)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]*models.Payment), args.Error(1)
}

func (m *MockPaymentRepository) ListCompletedForInvoices(ctx context.Context, db ports.DBTX, invoiceIDs []string) ([]*models.Payment, error) {
	args := m.Called(ctx, db, invoiceIDs)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]*models.Payment), args.Error(1)
}

const testCronSecret = "test-cron-secret"

func agingInvoice(id string, periodEnd time.Time, amount string) *models.Invoice {
	return &models.Invoice{
		ID:             id,
		ContractID:     "contract-1",
		IssuerID:       "party-a",
		CounterpartyID: "party-b",
		PeriodStart:    periodEnd.AddDate(0, -1, 0),
		PeriodEnd:      periodEnd,
		TotalAmount:    decimal.RequireFromString(amount),
		Currency:       "EUR",
		Status:         models.InvoiceMatched,
	}
}

func TestAgingReport_BucketsOutstandingBalances(t *testing.T) {
	invoices := new(MockInvoiceRepository)
	payments := new(MockPaymentRepository)
	handler := cron.NewAgingHandler(invoices, payments, zap.NewNop(), testCronSecret)

	asOf := time.Date(2026, 6, 15, 0, 0, 0, 0, time.UTC)
	invs := []*models.Invoice{
		agingInvoice("inv-1", asOf.AddDate(0, 0, -10), "500.00"),
		agingInvoice("inv-2", asOf.AddDate(0, 0, -45), "300.00"),
		agingInvoice("inv-3", asOf.AddDate(0, 0, -5), "200.00"),
	}
	invoices.On("ListInPeriod", mock.Anything, nil, mock.Anything, mock.Anything, []models.InvoiceStatus(nil)).
		Return(invs, nil)
	payments.On("ListCompletedForInvoices", mock.Anything, nil, []string{"inv-1", "inv-2", "inv-3"}).
		Return([]*models.Payment{
			{ID: "pay-1", InvoiceID: "inv-3", Amount: decimal.RequireFromString("200.00"), Status: models.PaymentCompleted},
		}, nil)

	req := httptest.NewRequest(http.MethodGet, "/reports/aging?as_of=2026-06-15", nil)
	req.Header.Set("X-Cron-Secret", testCronSecret)
	rec := httptest.NewRecorder()

	handler.Report(rec, req)

	require.Equal(t, http.StatusOK, rec.Code)
	var resp cron.AgingReportResponse
	require.NoError(t, json.NewDecoder(rec.Body).Decode(&resp))
	assert.True(t, resp.Success)
	assert.Equal(t, "2026-06-15", resp.AsOf)
	assert.Equal(t, "500", resp.Outstanding["1-30"])
	assert.Equal(t, "300", resp.Outstanding["31-60"])
	assert.Equal(t, 1, resp.Counts["1-30"])
	assert.Equal(t, 1, resp.Counts["31-60"])
	// inv-3 is fully paid and must not appear
	assert.NotContains(t, resp.Outstanding, "current")
	assert.Equal(t, "800", resp.Total)
}

func TestAgingReport_RejectsMissingSecret(t *testing.T) {
	invoices := new(MockInvoiceRepository)
	payments := new(MockPaymentRepository)
	handler := cron.NewAgingHandler(invoices, payments, zap.NewNop(), testCronSecret)

	req := httptest.NewRequest(http.MethodGet, "/reports/aging", nil)
	rec := httptest.NewRecorder()

	handler.Report(rec, req)

	assert.Equal(t, http.StatusUnauthorized, rec.Code)
	invoices.AssertNotCalled(t, "ListInPeriod", mock.Anything, mock.Anything, mock.Anything, mock.Anything, mock.Anything)
}

func TestAgingReport_AcceptsBearerToken(t *testing.T) {
	invoices := new(MockInvoiceRepository)
	payments := new(MockPaymentRepository)
	handler := cron.NewAgingHandler(invoices, payments, zap.NewNop(), testCronSecret)

	invoices.On("ListInPeriod", mock.Anything, nil, mock.Anything, mock.Anything, []models.InvoiceStatus(nil)).
		Return([]*models.Invoice{}, nil)
	payments.On("ListCompletedForInvoices", mock.Anything, nil, []string{}).
		Return([]*models.Payment{}, nil)

	req := httptest.NewRequest(http.MethodGet, "/reports/aging", nil)
	req.Header.Set("Authorization", "Bearer "+testCronSecret)
	rec := httptest.NewRecorder()

	handler.Report(rec, req)

	assert.Equal(t, http.StatusOK, rec.Code)
}

func TestAgingReport_RejectsBadAsOfDate(t *testing.T) {
	handler := cron.NewAgingHandler(new(MockInvoiceRepository), new(MockPaymentRepository), zap.NewNop(), testCronSecret)

	req := httptest.NewRequest(http.MethodGet, "/reports/aging?as_of=not-a-date", nil)
	req.Header.Set("X-Cron-Secret", testCronSecret)
	rec := httptest.NewRecorder()

	handler.Report(rec, req)

	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestAgingReport_RejectsPost(t *testing.T) {
	handler := cron.NewAgingHandler(new(MockInvoiceRepository), new(MockPaymentRepository), zap.NewNop(), testCronSecret)

	req := httptest.NewRequest(http.MethodPost, "/reports/aging", nil)
	req.Header.Set("X-Cron-Secret", testCronSecret)
	rec := httptest.NewRecorder()

	handler.Report(rec, req)

	assert.Equal(t, http.StatusMethodNotAllowed, rec.Code)
}
