package main

import (
	"context"
	"fmt"

	"go.uber.org/zap"

	"github.com/gridsettle/clearing-service/internal/adapters/secrets"
	"github.com/gridsettle/clearing-service/internal/config"
	"github.com/gridsettle/clearing-service/internal/domain/ports"
)

// initSecretManager selects the secret backend from configuration.
// Supports:
//   - AWS Secrets Manager (production): SECRETS_BACKEND=aws
//   - HashiCorp Vault: SECRETS_BACKEND=vault
//   - Local files (development/testing): SECRETS_BACKEND=local (default)
func initSecretManager(ctx context.Context, cfg *config.Config, logger *zap.Logger) (ports.SecretManager, error) {
	switch cfg.Secrets.Backend {
	case "aws":
		return secrets.NewAWSSecretsManager(ctx, &secrets.AWSSecretsManagerConfig{
			Region:      cfg.Secrets.AWSRegion,
			Endpoint:    cfg.Secrets.AWSEndpoint,
			EnableCache: true,
		}, logger)
	case "vault":
		vaultCfg := secrets.DefaultVaultConfig(cfg.Secrets.VaultAddress)
		vaultCfg.Token = cfg.Secrets.VaultToken
		return secrets.NewVaultSecretManager(ctx, vaultCfg, logger)
	case "local":
		logger.Warn("Using local file secret manager, not suitable for production")
		return secrets.NewLocalSecretManager(cfg.Secrets.LocalPath, logger), nil
	default:
		return nil, fmt.Errorf("unknown secrets backend %q", cfg.Secrets.Backend)
	}
}
