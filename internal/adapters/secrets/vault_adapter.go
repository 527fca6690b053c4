package secrets

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	vault "github.com/hashicorp/vault/api"
	"go.uber.org/zap"

	"github.com/gridsettle/clearing-service/internal/domain/ports"
)

// VaultConfig contains configuration for the HashiCorp Vault backend
type VaultConfig struct {
	// Vault server address (e.g., "https://vault.example.com:8200")
	Address string

	// Authentication method: "token" or "approle"
	AuthMethod string

	// Token for token authentication
	Token string

	// AppRole credentials
	RoleID   string
	SecretID string

	// Vault namespace (Vault Enterprise)
	Namespace string

	// KV secrets engine mount path (default: "secret"), KV v2 layout
	MountPath string

	CacheTTL    time.Duration
	EnableCache bool

	TLSSkipVerify bool
}

// DefaultVaultConfig returns default configuration for the Vault backend
func DefaultVaultConfig(address string) *VaultConfig {
	return &VaultConfig{
		Address:     address,
		AuthMethod:  "token",
		MountPath:   "secret",
		CacheTTL:    5 * time.Minute,
		EnableCache: true,
	}
}

// vaultSecretManager implements the SecretManager port for Vault KV v2
type vaultSecretManager struct {
	client *vault.Client
	config *VaultConfig
	logger *zap.Logger
	cache  *secretCache
}

// NewVaultSecretManager creates a new Vault backend
func NewVaultSecretManager(ctx context.Context, cfg *VaultConfig, logger *zap.Logger) (ports.SecretManager, error) {
	vaultConfig := vault.DefaultConfig()
	vaultConfig.Address = cfg.Address

	if cfg.TLSSkipVerify {
		if err := vaultConfig.ConfigureTLS(&vault.TLSConfig{Insecure: true}); err != nil {
			return nil, fmt.Errorf("failed to configure TLS: %w", err)
		}
	}

	client, err := vault.NewClient(vaultConfig)
	if err != nil {
		return nil, fmt.Errorf("failed to create Vault client: %w", err)
	}
	if cfg.Namespace != "" {
		client.SetNamespace(cfg.Namespace)
	}
	if err := authenticateVault(client, cfg); err != nil {
		return nil, fmt.Errorf("failed to authenticate with Vault: %w", err)
	}

	logger.Info("Vault backend initialized",
		zap.String("address", cfg.Address),
		zap.String("auth_method", cfg.AuthMethod),
		zap.String("mount_path", cfg.MountPath),
	)

	return &vaultSecretManager{
		client: client,
		config: cfg,
		logger: logger,
		cache:  newSecretCache(cfg.EnableCache, cfg.CacheTTL),
	}, nil
}

func authenticateVault(client *vault.Client, cfg *VaultConfig) error {
	switch cfg.AuthMethod {
	case "token":
		if cfg.Token == "" {
			return fmt.Errorf("token is required for token auth")
		}
		client.SetToken(cfg.Token)
		return nil

	case "approle":
		if cfg.RoleID == "" || cfg.SecretID == "" {
			return fmt.Errorf("role_id and secret_id are required for AppRole auth")
		}
		resp, err := client.Logical().Write("auth/approle/login", map[string]interface{}{
			"role_id":   cfg.RoleID,
			"secret_id": cfg.SecretID,
		})
		if err != nil {
			return fmt.Errorf("AppRole login failed: %w", err)
		}
		if resp.Auth == nil {
			return fmt.Errorf("AppRole login returned no auth info")
		}
		client.SetToken(resp.Auth.ClientToken)
		return nil

	default:
		return fmt.Errorf("unsupported auth method: %s", cfg.AuthMethod)
	}
}

// GetSecret retrieves a secret by its path under the KV mount
func (a *vaultSecretManager) GetSecret(ctx context.Context, path string) (*ports.Secret, error) {
	if cached := a.cache.get(path); cached != nil {
		return cached, nil
	}

	fullPath := fmt.Sprintf("%s/data/%s", a.config.MountPath, path)
	secret, err := a.client.Logical().ReadWithContext(ctx, fullPath)
	if err != nil {
		a.logger.Error("Failed to retrieve secret from Vault", zap.String("path", path), zap.Error(err))
		return nil, fmt.Errorf("failed to read secret from Vault: %w", err)
	}
	if secret == nil {
		return nil, fmt.Errorf("secret not found: %s", path)
	}

	// KV v2 wraps data in a "data" field
	data, ok := secret.Data["data"].(map[string]interface{})
	if !ok {
		return nil, fmt.Errorf("invalid secret format from Vault")
	}

	var version, createdTime string
	if metadata, ok := secret.Data["metadata"].(map[string]interface{}); ok {
		if v, ok := metadata["version"].(json.Number); ok {
			version = v.String()
		}
		if ct, ok := metadata["created_time"].(string); ok {
			createdTime = ct
		}
	}

	value, _ := data["value"].(string)
	if value == "" {
		return nil, fmt.Errorf("secret %s has no value", path)
	}

	result := &ports.Secret{
		Value:     value,
		Version:   version,
		CreatedAt: createdTime,
		Metadata:  make(map[string]string),
	}
	for k, v := range data {
		if str, ok := v.(string); ok && k != "value" {
			result.Metadata[k] = str
		}
	}

	a.cache.set(path, result)
	return result, nil
}

// PutSecret creates or updates a secret
func (a *vaultSecretManager) PutSecret(ctx context.Context, path string, value string, metadata map[string]string) (string, error) {
	secretData := map[string]interface{}{"value": value}
	for k, v := range metadata {
		secretData[k] = v
	}

	fullPath := fmt.Sprintf("%s/data/%s", a.config.MountPath, path)
	resp, err := a.client.Logical().WriteWithContext(ctx, fullPath, map[string]interface{}{
		"data": secretData,
	})
	if err != nil {
		a.logger.Error("Failed to write secret to Vault", zap.String("path", path), zap.Error(err))
		return "", fmt.Errorf("failed to write secret: %w", err)
	}

	version := "1"
	if resp != nil && resp.Data != nil {
		if v, ok := resp.Data["version"].(json.Number); ok {
			version = v.String()
		}
	}

	a.cache.invalidate(path)
	return version, nil
}

// RotateSecret writes a new version and reports the one it replaced
func (a *vaultSecretManager) RotateSecret(ctx context.Context, path string, newValue string) (*ports.SecretRotationInfo, error) {
	current, err := a.GetSecret(ctx, path)
	if err != nil {
		return nil, fmt.Errorf("failed to get current secret: %w", err)
	}

	newVersion, err := a.PutSecret(ctx, path, newValue, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to write new secret version: %w", err)
	}

	a.logger.Info("Secret rotated",
		zap.String("path", path),
		zap.String("previous_version", current.Version),
		zap.String("new_version", newVersion),
	)

	return &ports.SecretRotationInfo{
		CurrentVersion:  newVersion,
		PreviousVersion: current.Version,
	}, nil
}
