package reconciliation_test

import (
	"context"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"github.com/gridsettle/clearing-service/internal/domain/models"
	"github.com/gridsettle/clearing-service/internal/domain/ports"
	"github.com/gridsettle/clearing-service/internal/services/reconciliation"
)

// MockDBPort mocks the database port
type MockDBPort struct {
	mock.Mock
}

func (m *MockDBPort) GetDB() *pgxpool.Pool {
	return nil
}

func (m *MockDBPort) WithTransaction(ctx context.Context, fn func(ctx context.Context, tx pgx.Tx) error) error {
	// Execute the function with a nil transaction for testing
	return fn(ctx, nil)
}

func (m *MockDBPort) WithReadOnlyTransaction(ctx context.Context, fn func(ctx context.Context, tx pgx.Tx) error) error {
	return fn(ctx, nil)
}

// MockInvoiceRepository mocks the invoice repository
type MockInvoiceRepository struct {
	mock.Mock
}

func (m *MockInvoiceRepository) Create(ctx context.Context, tx ports.DBTX, invoice *models.Invoice) error {
	args := m.Called(ctx, tx, invoice)
	return args.Error(0)
}

func (m *MockInvoiceRepository) GetByID(ctx context.Context, db ports.DBTX, id uuid.UUID) (*models.Invoice, error) {
	args := m.Called(ctx, db, id)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*models.Invoice), args.Error(1)
}

func (m *MockInvoiceRepository) ListInPeriod(ctx context.Context, db ports.DBTX, start, end time.Time, statuses []models.InvoiceStatus) ([]*models.Invoice, error) {
	args := m.Called(ctx, db, start, end, statuses)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]*models.Invoice), args.Error(1)
}

func (m *MockInvoiceRepository) UpdateStatus(ctx context.Context, tx ports.DBTX, id uuid.UUID, version int32, status models.InvoiceStatus, confidenceScore *float64, matchedDeliveryIDs []string) error {
	args := m.Called(ctx, tx, id, version, status, confidenceScore, matchedDeliveryIDs)
	return args.Error(0)
}

// MockDeliveryRepository mocks the delivery repository
type MockDeliveryRepository struct {
	mock.Mock
}

func (m *MockDeliveryRepository) Create(ctx context.Context, tx ports.DBTX, delivery *models.Delivery) error {
	args := m.Called(ctx, tx, delivery)
	return args.Error(0)
}

func (m *MockDeliveryRepository) ListInRange(ctx context.Context, db ports.DBTX, start, end time.Time, contractID string) ([]*models.Delivery, error) {
	args := m.Called(ctx, db, start, end, contractID)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]*models.Delivery), args.Error(1)
}

// MockDisputeRepository mocks the dispute repository
type MockDisputeRepository struct {
	mock.Mock
}

func (m *MockDisputeRepository) Create(ctx context.Context, tx ports.DBTX, dispute *models.Dispute) error {
	args := m.Called(ctx, tx, dispute)
	return args.Error(0)
}

func (m *MockDisputeRepository) GetByID(ctx context.Context, db ports.DBTX, id uuid.UUID) (*models.Dispute, error) {
	args := m.Called(ctx, db, id)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*models.Dispute), args.Error(1)
}

func (m *MockDisputeRepository) ListByInvoice(ctx context.Context, db ports.DBTX, invoiceID string) ([]*models.Dispute, error) {
	args := m.Called(ctx, db, invoiceID)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]*models.Dispute), args.Error(1)
}

func (m *MockDisputeRepository) UpdateStatus(ctx context.Context, tx ports.DBTX, id uuid.UUID, status models.DisputeStatus) error {
	args := m.Called(ctx, tx, id, status)
	return args.Error(0)
}

// MockAuditSink mocks the audit sink
type MockAuditSink struct {
	mock.Mock
}

func (m *MockAuditSink) Append(ctx context.Context, tx ports.DBTX, event *models.AuditEvent) error {
	args := m.Called(ctx, tx, event)
	return args.Error(0)
}

// MockLogger mocks the logger
type MockLogger struct {
	mock.Mock
}

func (m *MockLogger) Info(msg string, fields ...ports.Field)  { m.Called(msg, fields) }
func (m *MockLogger) Error(msg string, fields ...ports.Field) { m.Called(msg, fields) }
func (m *MockLogger) Warn(msg string, fields ...ports.Field)  { m.Called(msg, fields) }
func (m *MockLogger) Debug(msg string, fields ...ports.Field) { m.Called(msg, fields) }

func newQuietLogger() *MockLogger {
	logger := new(MockLogger)
	logger.On("Info", mock.Anything, mock.Anything).Return().Maybe()
	logger.On("Warn", mock.Anything, mock.Anything).Return().Maybe()
	logger.On("Error", mock.Anything, mock.Anything).Return().Maybe()
	logger.On("Debug", mock.Anything, mock.Anything).Return().Maybe()
	return logger
}

func storedInvoice(id uuid.UUID, expected float64) *models.Invoice {
	inv := &models.Invoice{
		ID:             id.String(),
		ContractID:     "contract-1",
		IssuerID:       "party-gen",
		CounterpartyID: "party-dist",
		PeriodStart:    periodStart,
		PeriodEnd:      periodEnd,
		TotalAmount:    decimal.NewFromInt(50000),
		Currency:       "EUR",
		LineItem:       models.CommodityQuantity{Commodity: models.CommodityEnergy, Quantity: expected},
		Status:         models.InvoicePending,
		Version:        1,
	}
	return inv
}

func TestService_Run_AppliesMatch(t *testing.T) {
	mockDB := new(MockDBPort)
	mockInvoices := new(MockInvoiceRepository)
	mockDeliveries := new(MockDeliveryRepository)
	mockDisputes := new(MockDisputeRepository)
	mockAudit := new(MockAuditSink)
	logger := newQuietLogger()

	invID := uuid.New()
	inv := storedInvoice(invID, 1000)

	mockInvoices.On("ListInPeriod", mock.Anything, mock.Anything, periodStart, periodEnd,
		[]models.InvoiceStatus{models.InvoicePending, models.InvoicePartiallyMatched}).
		Return([]*models.Invoice{inv}, nil)

	mockDeliveries.On("ListInRange", mock.Anything, mock.Anything, mock.Anything, mock.Anything, "").
		Return([]*models.Delivery{
			{ID: "del-1", ContractID: "contract-1", Timestamp: periodStart.AddDate(0, 0, 10), Quantity: 1030},
		}, nil)

	mockInvoices.On("UpdateStatus", mock.Anything, mock.Anything, invID, int32(1),
		models.InvoiceMatched, mock.AnythingOfType("*float64"), []string{"del-1"}).
		Return(nil)

	mockAudit.On("Append", mock.Anything, mock.Anything, mock.MatchedBy(func(e *models.AuditEvent) bool {
		return e.Action == "invoice.matched" && e.EntityID == inv.ID
	})).Return(nil)

	service := reconciliation.NewService(mockDB, mockInvoices, mockDeliveries, mockDisputes, mockAudit, logger, reconciliation.DefaultRuleSet())

	run, err := service.Run(context.Background(), periodStart, periodEnd)
	require.NoError(t, err)

	assert.Equal(t, 1, run.AppliedMatches)
	assert.Empty(t, run.AppliedErrors)
	assert.Empty(t, run.DisputesRaised)
	mockInvoices.AssertExpectations(t)
	mockAudit.AssertExpectations(t)
	mockDisputes.AssertNotCalled(t, "Create", mock.Anything, mock.Anything, mock.Anything)
}

func TestService_Run_HighSeverityExceptionRaisesDispute(t *testing.T) {
	mockDB := new(MockDBPort)
	mockInvoices := new(MockInvoiceRepository)
	mockDeliveries := new(MockDeliveryRepository)
	mockDisputes := new(MockDisputeRepository)
	mockAudit := new(MockAuditSink)
	logger := newQuietLogger()

	invID := uuid.New()
	inv := storedInvoice(invID, 1000)

	mockInvoices.On("ListInPeriod", mock.Anything, mock.Anything, periodStart, periodEnd, mock.Anything).
		Return([]*models.Invoice{inv}, nil)

	// 30% variance: high severity, dispute required.
	mockDeliveries.On("ListInRange", mock.Anything, mock.Anything, mock.Anything, mock.Anything, "").
		Return([]*models.Delivery{
			{ID: "del-1", ContractID: "contract-1", Timestamp: periodStart.AddDate(0, 0, 10), Quantity: 700},
		}, nil)

	mockInvoices.On("UpdateStatus", mock.Anything, mock.Anything, invID, int32(1),
		models.InvoicePartiallyMatched, mock.Anything, mock.Anything).
		Return(nil)

	mockDisputes.On("ListByInvoice", mock.Anything, mock.Anything, inv.ID).
		Return([]*models.Dispute{}, nil)

	var created *models.Dispute
	mockDisputes.On("Create", mock.Anything, mock.Anything, mock.AnythingOfType("*models.Dispute")).
		Run(func(args mock.Arguments) {
			created = args.Get(2).(*models.Dispute)
		}).
		Return(nil)

	mockAudit.On("Append", mock.Anything, mock.Anything, mock.Anything).Return(nil)

	service := reconciliation.NewService(mockDB, mockInvoices, mockDeliveries, mockDisputes, mockAudit, logger, reconciliation.DefaultRuleSet())

	run, err := service.Run(context.Background(), periodStart, periodEnd)
	require.NoError(t, err)

	require.Len(t, run.DisputesRaised, 1)
	require.NotNil(t, created)
	assert.Equal(t, models.ReasonQuantityVariance, created.Reason)
	assert.Equal(t, models.DisputeOpen, created.Status)
	assert.Equal(t, inv.CounterpartyID, created.RaisedByID)
	assert.Equal(t, inv.IssuerID, created.AgainstID)
	assert.Contains(t, created.Description, "30.00%")
	assert.WithinDuration(t, time.Now().UTC().Add(7*24*time.Hour), created.SLADeadline, time.Minute)
}

func TestService_Run_MediumSeverityDoesNotRaiseDispute(t *testing.T) {
	mockDB := new(MockDBPort)
	mockInvoices := new(MockInvoiceRepository)
	mockDeliveries := new(MockDeliveryRepository)
	mockDisputes := new(MockDisputeRepository)
	mockAudit := new(MockAuditSink)
	logger := newQuietLogger()

	invID := uuid.New()
	inv := storedInvoice(invID, 1000)

	mockInvoices.On("ListInPeriod", mock.Anything, mock.Anything, periodStart, periodEnd, mock.Anything).
		Return([]*models.Invoice{inv}, nil)

	// 15% variance: medium severity, no dispute.
	mockDeliveries.On("ListInRange", mock.Anything, mock.Anything, mock.Anything, mock.Anything, "").
		Return([]*models.Delivery{
			{ID: "del-1", ContractID: "contract-1", Timestamp: periodStart.AddDate(0, 0, 10), Quantity: 850},
		}, nil)

	mockInvoices.On("UpdateStatus", mock.Anything, mock.Anything, invID, int32(1),
		models.InvoicePartiallyMatched, mock.Anything, mock.Anything).
		Return(nil)

	mockAudit.On("Append", mock.Anything, mock.Anything, mock.MatchedBy(func(e *models.AuditEvent) bool {
		return e.Action == "invoice.exception"
	})).Return(nil)

	service := reconciliation.NewService(mockDB, mockInvoices, mockDeliveries, mockDisputes, mockAudit, logger, reconciliation.DefaultRuleSet())

	run, err := service.Run(context.Background(), periodStart, periodEnd)
	require.NoError(t, err)

	assert.Empty(t, run.DisputesRaised)
	mockDisputes.AssertNotCalled(t, "Create", mock.Anything, mock.Anything, mock.Anything)
}

func TestService_Run_ReappliesExceptionToPartiallyMatchedInvoice(t *testing.T) {
	mockDB := new(MockDBPort)
	mockInvoices := new(MockInvoiceRepository)
	mockDeliveries := new(MockDeliveryRepository)
	mockDisputes := new(MockDisputeRepository)
	mockAudit := new(MockAuditSink)
	logger := newQuietLogger()

	invID := uuid.New()
	inv := storedInvoice(invID, 1000)
	inv.Status = models.InvoicePartiallyMatched
	inv.Version = 2

	mockInvoices.On("ListInPeriod", mock.Anything, mock.Anything, periodStart, periodEnd, mock.Anything).
		Return([]*models.Invoice{inv}, nil)

	// 15% variance persists from the previous run.
	mockDeliveries.On("ListInRange", mock.Anything, mock.Anything, mock.Anything, mock.Anything, "").
		Return([]*models.Delivery{
			{ID: "del-1", ContractID: "contract-1", Timestamp: periodStart.AddDate(0, 0, 10), Quantity: 850},
		}, nil)

	mockInvoices.On("UpdateStatus", mock.Anything, mock.Anything, invID, int32(2),
		models.InvoicePartiallyMatched, mock.Anything, mock.Anything).
		Return(nil)

	mockAudit.On("Append", mock.Anything, mock.Anything, mock.Anything).Return(nil)

	service := reconciliation.NewService(mockDB, mockInvoices, mockDeliveries, mockDisputes, mockAudit, logger, reconciliation.DefaultRuleSet())

	run, err := service.Run(context.Background(), periodStart, periodEnd)
	require.NoError(t, err)

	assert.Empty(t, run.AppliedErrors)
	assert.Empty(t, run.DisputesRaised)
	mockInvoices.AssertExpectations(t)
}

func TestService_Run_KeepsExistingDisputeOnRerun(t *testing.T) {
	mockDB := new(MockDBPort)
	mockInvoices := new(MockInvoiceRepository)
	mockDeliveries := new(MockDeliveryRepository)
	mockDisputes := new(MockDisputeRepository)
	mockAudit := new(MockAuditSink)
	logger := newQuietLogger()

	invID := uuid.New()
	inv := storedInvoice(invID, 1000)
	inv.Status = models.InvoicePartiallyMatched
	inv.Version = 2

	mockInvoices.On("ListInPeriod", mock.Anything, mock.Anything, periodStart, periodEnd, mock.Anything).
		Return([]*models.Invoice{inv}, nil)

	// 30% variance persists, and the first run already raised a dispute.
	mockDeliveries.On("ListInRange", mock.Anything, mock.Anything, mock.Anything, mock.Anything, "").
		Return([]*models.Delivery{
			{ID: "del-1", ContractID: "contract-1", Timestamp: periodStart.AddDate(0, 0, 10), Quantity: 700},
		}, nil)

	mockInvoices.On("UpdateStatus", mock.Anything, mock.Anything, invID, int32(2),
		models.InvoicePartiallyMatched, mock.Anything, mock.Anything).
		Return(nil)

	mockDisputes.On("ListByInvoice", mock.Anything, mock.Anything, inv.ID).
		Return([]*models.Dispute{
			{ID: uuid.New().String(), InvoiceID: inv.ID, Reason: models.ReasonQuantityVariance, Status: models.DisputeUnderReview},
		}, nil)

	mockAudit.On("Append", mock.Anything, mock.Anything, mock.Anything).Return(nil)

	service := reconciliation.NewService(mockDB, mockInvoices, mockDeliveries, mockDisputes, mockAudit, logger, reconciliation.DefaultRuleSet())

	run, err := service.Run(context.Background(), periodStart, periodEnd)
	require.NoError(t, err)

	assert.Empty(t, run.AppliedErrors)
	assert.Empty(t, run.DisputesRaised)
	mockDisputes.AssertNotCalled(t, "Create", mock.Anything, mock.Anything, mock.Anything)
}

func TestService_Run_ItemErrorDoesNotAbortRun(t *testing.T) {
	mockDB := new(MockDBPort)
	mockInvoices := new(MockInvoiceRepository)
	mockDeliveries := new(MockDeliveryRepository)
	mockDisputes := new(MockDisputeRepository)
	mockAudit := new(MockAuditSink)
	logger := newQuietLogger()

	badID := uuid.New()
	goodID := uuid.New()
	bad := storedInvoice(badID, 1000)
	bad.ContractID = "contract-bad"
	good := storedInvoice(goodID, 1000)

	mockInvoices.On("ListInPeriod", mock.Anything, mock.Anything, periodStart, periodEnd, mock.Anything).
		Return([]*models.Invoice{bad, good}, nil)

	mockDeliveries.On("ListInRange", mock.Anything, mock.Anything, mock.Anything, mock.Anything, "").
		Return([]*models.Delivery{
			{ID: "del-bad", ContractID: "contract-bad", Timestamp: periodStart.AddDate(0, 0, 2), Quantity: 1000},
			{ID: "del-good", ContractID: "contract-1", Timestamp: periodStart.AddDate(0, 0, 2), Quantity: 1000},
		}, nil)

	// The first invoice's status write is lost to a concurrent writer.
	mockInvoices.On("UpdateStatus", mock.Anything, mock.Anything, badID, int32(1),
		models.InvoiceMatched, mock.Anything, mock.Anything).
		Return(assert.AnError)
	mockInvoices.On("UpdateStatus", mock.Anything, mock.Anything, goodID, int32(1),
		models.InvoiceMatched, mock.Anything, mock.Anything).
		Return(nil)

	mockAudit.On("Append", mock.Anything, mock.Anything, mock.Anything).Return(nil)

	service := reconciliation.NewService(mockDB, mockInvoices, mockDeliveries, mockDisputes, mockAudit, logger, reconciliation.DefaultRuleSet())

	run, err := service.Run(context.Background(), periodStart, periodEnd)
	require.NoError(t, err)

	assert.Equal(t, 1, run.AppliedMatches)
	require.Len(t, run.AppliedErrors, 1)
	assert.Equal(t, bad.ID, run.AppliedErrors[0].InvoiceID)
}
