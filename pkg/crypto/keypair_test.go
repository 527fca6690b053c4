package crypto_test

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/gridsettle/clearing-service/pkg/crypto"
)

func TestGenerateKeyPair(t *testing.T) {
	kp, err := crypto.GenerateKeyPair()
	require.NoError(t, err)

	assert.Contains(t, kp.PrivateKeyPEM, "PRIVATE KEY")
	assert.Contains(t, kp.PublicKeyPEM, "PUBLIC KEY")
	assert.Len(t, kp.Fingerprint, 64)
}

func TestSignAndVerify(t *testing.T) {
	kp, err := crypto.GenerateKeyPair()
	require.NoError(t, err)

	priv, err := crypto.ParsePrivateKey(kp.PrivateKeyPEM)
	require.NoError(t, err)
	pub, err := crypto.ParsePublicKey(kp.PublicKeyPEM)
	require.NoError(t, err)

	message := []byte("settlement batch digest")
	sig := crypto.Sign(priv, message)

	assert.True(t, crypto.Verify(pub, message, sig))
	assert.False(t, crypto.Verify(pub, []byte("tampered"), sig))
	assert.False(t, crypto.Verify(pub, message, "not-hex"))
}

func TestParsePublicKey_RejectsGarbage(t *testing.T) {
	_, err := crypto.ParsePublicKey("not a pem block")
	assert.Error(t, err)
}

func TestComputeFingerprint_Stable(t *testing.T) {
	kp, err := crypto.GenerateKeyPair()
	require.NoError(t, err)

	fp, err := crypto.ComputeFingerprint(kp.PublicKeyPEM)
	require.NoError(t, err)
	assert.Equal(t, kp.Fingerprint, fp)
}
