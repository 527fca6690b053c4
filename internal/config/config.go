package config

import (
	"fmt"
	"os"
	"strconv"
	"time"
)

// Config holds all application configuration
type Config struct {
	Server         ServerConfig
	Database       DatabaseConfig
	Escrow         EscrowConfig
	Reconciliation ReconciliationConfig
	Settlement     SettlementConfig
	Secrets        SecretsConfig
	Logger         LoggerConfig
}

// ServerConfig holds HTTP server configuration
type ServerConfig struct {
	Port        int
	Host        string
	MetricsPort int

	// Shared secret required on cron trigger endpoints
	CronAuthToken string
}

// DatabaseConfig holds PostgreSQL configuration
type DatabaseConfig struct {
	Host     string
	Port     int
	User     string
	Password string
	Database string
	SSLMode  string
	MaxConns int32
	MinConns int32
}

// EscrowConfig holds escrow service configuration
type EscrowConfig struct {
	BaseURL    string
	AccountID  string
	SigningKey string // shared secret for HMAC-SHA256 request signing
	Timeout    int    // request timeout in seconds
}

// ReconciliationConfig holds matching engine tuning
type ReconciliationConfig struct {
	TimeWindowDays   int     // delivery lookup window around the billing period
	ToleranceBandPct float64 // quantity variance accepted as a full match
}

// SettlementConfig holds settlement orchestrator tuning
type SettlementConfig struct {
	ReservationTTL time.Duration // escrow hold duration per execution attempt
	Currency       string        // settlement currency for netting runs
}

// SecretsConfig selects and configures the secret manager backend
type SecretsConfig struct {
	// Backend: "aws", "vault", or "local"
	Backend string

	AWSRegion   string
	AWSEndpoint string

	VaultAddress string
	VaultToken   string

	LocalPath string

	// Path of the audit log signing key within the backend
	AuditSigningKeyPath string
}

// LoggerConfig holds logging configuration
type LoggerConfig struct {
	Level       string // debug, info, warn, error
	Development bool
}

// LoadFromEnv loads configuration from environment variables
func LoadFromEnv() (*Config, error) {
	cfg := &Config{
		Server: ServerConfig{
			Port:          getEnvAsInt("SERVER_PORT", 8080),
			Host:          getEnv("SERVER_HOST", "0.0.0.0"),
			MetricsPort:   getEnvAsInt("METRICS_PORT", 9090),
			CronAuthToken: getEnv("CRON_AUTH_TOKEN", ""),
		},
		Database: DatabaseConfig{
			Host:     getEnv("DB_HOST", "localhost"),
			Port:     getEnvAsInt("DB_PORT", 5432),
			User:     getEnv("DB_USER", "postgres"),
			Password: getEnv("DB_PASSWORD", ""),
			Database: getEnv("DB_NAME", "clearing_service"),
			SSLMode:  getEnv("DB_SSL_MODE", "disable"),
			MaxConns: int32(getEnvAsInt("DB_MAX_CONNS", 25)),
			MinConns: int32(getEnvAsInt("DB_MIN_CONNS", 5)),
		},
		Escrow: EscrowConfig{
			BaseURL:    getEnv("ESCROW_BASE_URL", ""),
			AccountID:  getEnv("ESCROW_ACCOUNT_ID", ""),
			SigningKey: getEnv("ESCROW_SIGNING_KEY", ""),
			Timeout:    getEnvAsInt("ESCROW_TIMEOUT", 30),
		},
		Reconciliation: ReconciliationConfig{
			TimeWindowDays:   getEnvAsInt("RECON_TIME_WINDOW_DAYS", 7),
			ToleranceBandPct: getEnvAsFloat("RECON_TOLERANCE_PCT", 5.0),
		},
		Settlement: SettlementConfig{
			ReservationTTL: time.Duration(getEnvAsInt("SETTLEMENT_RESERVATION_TTL_HOURS", 24)) * time.Hour,
			Currency:       getEnv("SETTLEMENT_CURRENCY", "EUR"),
		},
		Secrets: SecretsConfig{
			Backend:             getEnv("SECRETS_BACKEND", "local"),
			AWSRegion:           getEnv("AWS_REGION", "eu-central-1"),
			AWSEndpoint:         getEnv("AWS_SECRETS_ENDPOINT", ""),
			VaultAddress:        getEnv("VAULT_ADDR", ""),
			VaultToken:          getEnv("VAULT_TOKEN", ""),
			LocalPath:           getEnv("SECRETS_LOCAL_PATH", "./secrets"),
			AuditSigningKeyPath: getEnv("AUDIT_SIGNING_KEY_PATH", "clearing-service/audit/signing-key"),
		},
		Logger: LoggerConfig{
			Level:       getEnv("LOG_LEVEL", "info"),
			Development: getEnvAsBool("LOG_DEVELOPMENT", false),
		},
	}

	// Validate required fields
	if cfg.Database.Password == "" {
		return nil, fmt.Errorf("DB_PASSWORD is required")
	}
	if cfg.Escrow.BaseURL == "" {
		return nil, fmt.Errorf("ESCROW_BASE_URL is required")
	}
	if cfg.Escrow.SigningKey == "" {
		return nil, fmt.Errorf("ESCROW_SIGNING_KEY is required")
	}
	if cfg.Reconciliation.ToleranceBandPct < 0 {
		return nil, fmt.Errorf("RECON_TOLERANCE_PCT must not be negative")
	}

	return cfg, nil
}

// ConnectionString returns PostgreSQL connection string
func (c *DatabaseConfig) ConnectionString() string {
	return fmt.Sprintf(
		"host=%s port=%d user=%s password=%s dbname=%s sslmode=%s",
		c.Host, c.Port, c.User, c.Password, c.Database, c.SSLMode,
	)
}

// Helper functions

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvAsInt(key string, defaultValue int) int {
	valueStr := os.Getenv(key)
	if valueStr == "" {
		return defaultValue
	}
	value, err := strconv.Atoi(valueStr)
	if err != nil {
		return defaultValue
	}
	return value
}

func getEnvAsFloat(key string, defaultValue float64) float64 {
	valueStr := os.Getenv(key)
	if valueStr == "" {
		return defaultValue
	}
	value, err := strconv.ParseFloat(valueStr, 64)
	if err != nil {
		return defaultValue
	}
	return value
}

func getEnvAsBool(key string, defaultValue bool) bool {
	valueStr := os.Getenv(key)
	if valueStr == "" {
		return defaultValue
	}
	value, err := strconv.ParseBool(valueStr)
	if err != nil {
		return defaultValue
	}
	return value
}
