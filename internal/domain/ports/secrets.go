package ports

import "context"

// Secret represents a retrieved secret with metadata
type Secret struct {
	Value     string
	Version   string
	Metadata  map[string]string
	CreatedAt string
}

// SecretRotationInfo reports the versions involved in a rotation
type SecretRotationInfo struct {
	CurrentVersion  string
	PreviousVersion string
}

// SecretManager retrieves and rotates secrets: the escrow signing key, the
// audit signing key, and database credentials. Backends: AWS Secrets
// Manager, HashiCorp Vault, or a local store for development.
//
// Path format depends on the backend:
//   - AWS: "clearing-service/escrow/signing-key"
//   - Vault: "clearing-service/escrow/signing-key" under the KV mount
type SecretManager interface {
	// GetSecret retrieves a secret by its path
	GetSecret(ctx context.Context, path string) (*Secret, error)

	// PutSecret creates or updates a secret, returning the new version
	PutSecret(ctx context.Context, path string, value string, metadata map[string]string) (version string, err error)

	// RotateSecret writes a new version while reporting the previous one,
	// so consumers holding the old key can drain gracefully.
	RotateSecret(ctx context.Context, path string, newValue string) (*SecretRotationInfo, error)
}
