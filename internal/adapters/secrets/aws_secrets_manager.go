package secrets

import (
	"context"
	"fmt"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/secretsmanager"
	secretsmanagertypes "github.com/aws/aws-sdk-go-v2/service/secretsmanager/types"
	"go.uber.org/zap"

	"github.com/gridsettle/clearing-service/internal/domain/ports"
)

// AWSSecretsManagerConfig contains configuration for the AWS backend
type AWSSecretsManagerConfig struct {
	Region string

	// Optional profile name for local development
	Profile string

	// Optional custom endpoint (LocalStack)
	Endpoint string

	CacheTTL    time.Duration
	EnableCache bool
}

// DefaultAWSSecretsManagerConfig returns default configuration
func DefaultAWSSecretsManagerConfig(region string) *AWSSecretsManagerConfig {
	return &AWSSecretsManagerConfig{
		Region:      region,
		CacheTTL:    5 * time.Minute,
		EnableCache: true,
	}
}

// awsSecretsManager implements the SecretManager port for AWS Secrets Manager
type awsSecretsManager struct {
	client *secretsmanager.Client
	config *AWSSecretsManagerConfig
	logger *zap.Logger
	cache  *secretCache
}

// NewAWSSecretsManager creates a new AWS Secrets Manager backend
func NewAWSSecretsManager(ctx context.Context, cfg *AWSSecretsManagerConfig, logger *zap.Logger) (ports.SecretManager, error) {
	opts := []func(*config.LoadOptions) error{config.WithRegion(cfg.Region)}
	if cfg.Profile != "" {
		opts = append(opts, config.WithSharedConfigProfile(cfg.Profile))
	}
	awsConfig, err := config.LoadDefaultConfig(ctx, opts...)
	if err != nil {
		return nil, fmt.Errorf("failed to load AWS config: %w", err)
	}

	clientOptions := []func(*secretsmanager.Options){}
	if cfg.Endpoint != "" {
		clientOptions = append(clientOptions, func(o *secretsmanager.Options) {
			o.BaseEndpoint = aws.String(cfg.Endpoint)
		})
	}
	client := secretsmanager.NewFromConfig(awsConfig, clientOptions...)

	logger.Info("AWS Secrets Manager backend initialized",
		zap.String("region", cfg.Region),
		zap.Bool("cache_enabled", cfg.EnableCache),
	)

	return &awsSecretsManager{
		client: client,
		config: cfg,
		logger: logger,
		cache:  newSecretCache(cfg.EnableCache, cfg.CacheTTL),
	}, nil
}

// GetSecret retrieves a secret by its path or full ARN
func (a *awsSecretsManager) GetSecret(ctx context.Context, path string) (*ports.Secret, error) {
	if cached := a.cache.get(path); cached != nil {
		return cached, nil
	}

	result, err := a.client.GetSecretValue(ctx, &secretsmanager.GetSecretValueInput{
		SecretId: aws.String(path),
	})
	if err != nil {
		a.logger.Error("Failed to retrieve secret", zap.String("path", path), zap.Error(err))
		return nil, fmt.Errorf("failed to get secret %s: %w", path, err)
	}

	secret := &ports.Secret{
		Value:    aws.ToString(result.SecretString),
		Version:  aws.ToString(result.VersionId),
		Metadata: make(map[string]string),
	}
	if result.CreatedDate != nil {
		secret.CreatedAt = result.CreatedDate.Format(time.RFC3339)
	}
	if result.ARN != nil {
		secret.Metadata["arn"] = *result.ARN
	}

	a.cache.set(path, secret)
	return secret, nil
}

// PutSecret creates or updates a secret
func (a *awsSecretsManager) PutSecret(ctx context.Context, path string, value string, metadata map[string]string) (string, error) {
	result, err := a.client.PutSecretValue(ctx, &secretsmanager.PutSecretValueInput{
		SecretId:     aws.String(path),
		SecretString: aws.String(value),
	})
	if err == nil {
		a.cache.invalidate(path)
		return aws.ToString(result.VersionId), nil
	}

	// Secret does not exist yet; create it with metadata as tags
	createInput := &secretsmanager.CreateSecretInput{
		Name:         aws.String(path),
		SecretString: aws.String(value),
		Description:  aws.String("Clearing service signing secret"),
	}
	if len(metadata) > 0 {
		tags := make([]secretsmanagertypes.Tag, 0, len(metadata))
		for key, val := range metadata {
			tags = append(tags, secretsmanagertypes.Tag{
				Key:   aws.String(key),
				Value: aws.String(val),
			})
		}
		createInput.Tags = tags
	}

	created, createErr := a.client.CreateSecret(ctx, createInput)
	if createErr != nil {
		a.logger.Error("Failed to create secret", zap.String("path", path), zap.Error(createErr))
		return "", fmt.Errorf("failed to create secret: %w", createErr)
	}

	a.cache.invalidate(path)
	return aws.ToString(created.VersionId), nil
}

// RotateSecret writes a new version and reports the one it replaced
func (a *awsSecretsManager) RotateSecret(ctx context.Context, path string, newValue string) (*ports.SecretRotationInfo, error) {
	current, err := a.GetSecret(ctx, path)
	if err != nil {
		return nil, fmt.Errorf("failed to get current secret: %w", err)
	}

	newVersion, err := a.PutSecret(ctx, path, newValue, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to put new secret version: %w", err)
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
