package secrets

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"go.uber.org/zap"

	"github.com/gridsettle/clearing-service/internal/domain/ports"
)

// localSecretManager implements the SecretManager port on the local
// filesystem. Development only; production uses AWS or Vault.
type localSecretManager struct {
	basePath string
	logger   *zap.Logger
}

// NewLocalSecretManager creates a filesystem-backed secret manager
func NewLocalSecretManager(basePath string, logger *zap.Logger) ports.SecretManager {
	return &localSecretManager{basePath: basePath, logger: logger}
}

type localSecretFile struct {
	Value     string            `json:"value"`
	Tags      map[string]string `json:"tags,omitempty"`
	CreatedAt string            `json:"created_at"`
}

// GetSecret reads a secret file; plain-text files are accepted too
func (m *localSecretManager) GetSecret(ctx context.Context, secretPath string) (*ports.Secret, error) {
	filePath := filepath.Join(m.basePath, secretPath)

	data, err := os.ReadFile(filePath)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, fmt.Errorf("secret not found: %s", secretPath)
		}
		return nil, fmt.Errorf("failed to read secret: %w", err)
	}

	var f localSecretFile
	if err := json.Unmarshal(data, &f); err == nil && f.Value != "" {
		return &ports.Secret{
			Value:     f.Value,
			Version:   "v1",
			Metadata:  f.Tags,
			CreatedAt: f.CreatedAt,
		}, nil
	}

	return &ports.Secret{
		Value:   string(data),
		Version: "v1",
	}, nil
}

// PutSecret writes a secret file with restrictive permissions
func (m *localSecretManager) PutSecret(ctx context.Context, secretPath, secretValue string, tags map[string]string) (string, error) {
	filePath := filepath.Join(m.basePath, secretPath)

	if err := os.MkdirAll(filepath.Dir(filePath), 0700); err != nil {
		return "", fmt.Errorf("failed to create directory: %w", err)
	}

	data, err := json.MarshalIndent(localSecretFile{
		Value:     secretValue,
		Tags:      tags,
		CreatedAt: time.Now().UTC().Format(time.RFC3339),
	}, "", "  ")
	if err != nil {
		return "", fmt.Errorf("failed to marshal secret: %w", err)
	}

	if err := os.WriteFile(filePath, data, 0600); err != nil {
		return "", fmt.Errorf("failed to write secret: %w", err)
	}

	m.logger.Info("Stored secret to filesystem", zap.String("path", secretPath))
	return "v1", nil
}

// RotateSecret overwrites the secret; the filesystem keeps no history
func (m *localSecretManager) RotateSecret(ctx context.Context, secretPath, newValue string) (*ports.SecretRotationInfo, error) {
	if _, err := m.PutSecret(ctx, secretPath, newValue, nil); err != nil {
		return nil, err
	}
	return &ports.SecretRotationInfo{
		CurrentVersion:  "v1",
		PreviousVersion: "v0",
	}, nil
}
