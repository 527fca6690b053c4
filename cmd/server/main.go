package main

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"github.com/gridsettle/clearing-service/internal/adapters/audit"
	"github.com/gridsettle/clearing-service/internal/adapters/escrow"
	"github.com/gridsettle/clearing-service/internal/adapters/logging"
	"github.com/gridsettle/clearing-service/internal/adapters/postgres"
	"github.com/gridsettle/clearing-service/internal/config"
	"github.com/gridsettle/clearing-service/internal/domain/ports"
	cronHandler "github.com/gridsettle/clearing-service/internal/handlers/cron"
	"github.com/gridsettle/clearing-service/internal/services/ledger"
	"github.com/gridsettle/clearing-service/internal/services/reconciliation"
	"github.com/gridsettle/clearing-service/internal/services/settlement"
	pkghttp "github.com/gridsettle/clearing-service/pkg/http"
	"github.com/gridsettle/clearing-service/pkg/middleware"
	"github.com/gridsettle/clearing-service/pkg/observability"
	"github.com/gridsettle/clearing-service/pkg/shutdown"
)

func main() {
	cfg, err := config.LoadFromEnv()
	if err != nil {
		fmt.Printf("Failed to load configuration: %v\n", err)
		return
	}

	logger := initLogger(cfg.Logger)
	defer logger.Sync()

	logger.Info("Starting clearing service",
		zap.String("version", "0.1.0"),
	)

	ctx := context.Background()

	// Database connection pool
	pool, err := postgres.NewPool(ctx, cfg.Database.ConnectionString(), cfg.Database.MaxConns)
	if err != nil {
		logger.Fatal("Failed to initialize database", zap.Error(err))
	}
	defer pool.Close()

	logger.Info("Database connection established",
		zap.String("database", cfg.Database.Database),
	)

	deps, err := initDependencies(ctx, cfg, pool, logger)
	if err != nil {
		logger.Fatal("Failed to initialize dependencies", zap.Error(err))
	}

	// Operator/cron listener
	mux := http.NewServeMux()
	mux.HandleFunc("/cron/reconciliation/run", deps.reconciliationHandler.RunReconciliation)
	mux.HandleFunc("/settlement/compute", deps.settlementHandler.Compute)
	mux.HandleFunc("/settlement/approve", deps.settlementHandler.Approve)
	mux.HandleFunc("/settlement/reject", deps.settlementHandler.Reject)
	mux.HandleFunc("/settlement/execute", deps.settlementHandler.Execute)
	mux.HandleFunc("/payments/record", deps.paymentHandler.Record)
	mux.HandleFunc("/reports/aging", deps.agingHandler.Report)
	mux.HandleFunc("/health", deps.reconciliationHandler.HealthCheck)

	rateLimiter := middleware.NewRateLimiter(10, 20)
	server := &http.Server{
		Addr:         fmt.Sprintf("%s:%d", cfg.Server.Host, cfg.Server.Port),
		Handler:      rateLimiter.Middleware(mux),
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 60 * time.Second,
		IdleTimeout:  120 * time.Second,
	}

	// Metrics and health on a separate port
	healthChecker := observability.NewHealthChecker(pool)
	metricsServer := observability.StartMetricsServer(fmt.Sprintf("%d", cfg.Server.MetricsPort), healthChecker)
	logger.Info("Metrics server started", zap.Int("port", cfg.Server.MetricsPort))

	go func() {
		logger.Info("HTTP server listening", zap.String("addr", server.Addr))
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Error("HTTP server error", zap.Error(err))
		}
	}()

	shutdownManager := shutdown.NewManager(logger, 30*time.Second)
	shutdownManager.RegisterHTTPServer("http-server", server)
	shutdownManager.RegisterHTTPServer("metrics-server", metricsServer)
	shutdownManager.RegisterNoErr("rate-limiter", rateLimiter.Shutdown)
	shutdownManager.RegisterNoErr("database-pool", pool.Close)

	shutdownManager.WaitForShutdown()
}

// dependencies bundles the wired handlers
type dependencies struct {
	reconciliationHandler *cronHandler.ReconciliationHandler
	settlementHandler     *cronHandler.SettlementHandler
	paymentHandler        *cronHandler.PaymentHandler
	agingHandler          *cronHandler.AgingHandler
}

func initDependencies(ctx context.Context, cfg *config.Config, pool *pgxpool.Pool, logger *zap.Logger) (*dependencies, error) {
	db := postgres.NewDBExecutor(pool)
	portLogger := logging.NewZapLogger(logger)

	// Repositories
	invoices := postgres.NewInvoiceRepository(db)
	deliveries := postgres.NewDeliveryRepository(db)
	disputes := postgres.NewDisputeRepository(db)
	payments := postgres.NewPaymentRepository(db)
	settlements := postgres.NewSettlementRepository(db)
	locks := postgres.NewPeriodLockRepository(db)

	// Audit log, signed when a key is provisioned
	auditSink, err := initAuditSink(ctx, cfg, db, logger)
	if err != nil {
		return nil, fmt.Errorf("init audit sink: %w", err)
	}

	// Escrow gateway
	escrowClient := pkghttp.NewHTTPClient(pkghttp.EscrowClientConfig(), time.Duration(cfg.Escrow.Timeout)*time.Second)
	escrowGateway := escrow.NewHTTPGateway(escrow.Config{
		BaseURL:    cfg.Escrow.BaseURL,
		AccountID:  cfg.Escrow.AccountID,
		SigningKey: cfg.Escrow.SigningKey,
	}, escrowClient, portLogger)

	// Services
	rules := reconciliation.RuleSet{
		TimeWindow:          time.Duration(cfg.Reconciliation.TimeWindowDays) * 24 * time.Hour,
		ToleranceBand:       cfg.Reconciliation.ToleranceBandPct,
		ContractTermsFactor: 1.0,
	}
	reconService := reconciliation.NewService(db, invoices, deliveries, disputes, auditSink, portLogger, rules)
	orchestrator := settlement.NewOrchestrator(db, settlements, invoices, payments, locks, escrowGateway, auditSink, portLogger)
	ledgerService := ledger.NewService(db, invoices, payments, auditSink, portLogger)

	return &dependencies{
		reconciliationHandler: cronHandler.NewReconciliationHandler(reconService, logger, cfg.Server.CronAuthToken),
		settlementHandler:     cronHandler.NewSettlementHandler(orchestrator, logger, cfg.Server.CronAuthToken),
		paymentHandler:        cronHandler.NewPaymentHandler(ledgerService, logger, cfg.Server.CronAuthToken),
		agingHandler:          cronHandler.NewAgingHandler(invoices, payments, logger, cfg.Server.CronAuthToken),
	}, nil
}

// initAuditSink builds the hash-chained audit sink. If the configured
// signing key exists in the secret backend the chain is also signed;
// otherwise events carry hashes only.
func initAuditSink(ctx context.Context, cfg *config.Config, db ports.DBPort, logger *zap.Logger) (ports.AuditSink, error) {
	secretManager, err := initSecretManager(ctx, cfg, logger)
	if err != nil {
		return nil, err
	}

	secret, err := secretManager.GetSecret(ctx, cfg.Secrets.AuditSigningKeyPath)
	if err != nil {
		logger.Warn("Audit signing key unavailable, events will be unsigned",
			zap.String("path", cfg.Secrets.AuditSigningKeyPath),
			zap.Error(err),
		)
		return audit.NewPostgresSink(db), nil
	}

	sink, err := audit.NewSigningSink(db, secret.Value)
	if err != nil {
		return nil, fmt.Errorf("parse audit signing key: %w", err)
	}
	logger.Info("Audit log signing enabled")
	return sink, nil
}

func initLogger(cfg config.LoggerConfig) *zap.Logger {
	var zapCfg zap.Config
	if cfg.Development {
		zapCfg = zap.NewDevelopmentConfig()
	} else {
		zapCfg = zap.NewProductionConfig()
	}

	level, err := zapcore.ParseLevel(cfg.Level)
	if err != nil {
		level = zapcore.InfoLevel
	}
	zapCfg.Level = zap.NewAtomicLevelAt(level)

	logger, err := zapCfg.Build()
	if err != nil {
		panic(fmt.Sprintf("failed to initialize logger: %v", err))
	}
	return logger
}
