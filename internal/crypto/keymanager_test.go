package crypto

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestEncryptDecryptSecretRoundTrip(t *testing.T) {
	blob, err := EncryptSecret("super-secret-api-key", "correct-password")
	require.NoError(t, err)

	got, err := DecryptSecret(blob, "correct-password")
	require.NoError(t, err)
	assert.Equal(t, "super-secret-api-key", got)
}

func TestDecryptSecretWrongPasswordFails(t *testing.T) {
	blob, err := EncryptSecret("super-secret-api-key", "correct-password")
	require.NoError(t, err)

	_, err = DecryptSecret(blob, "wrong-password")
	assert.Error(t, err)
}

func TestEncryptSecretRejectsEmptyInputs(t *testing.T) {
	_, err := EncryptSecret("", "password")
	assert.Error(t, err)

	_, err = EncryptSecret("secret", "")
	assert.Error(t, err)
}

func TestDecryptSecretRejectsUnsupportedVersion(t *testing.T) {
	_, err := DecryptSecret([]byte(`{"version":99,"salt":"","nonce":"","ciphertext":""}`), "password")
	assert.Error(t, err)
}

func TestLoadWalletSecretReadsAndDecryptsFile(t *testing.T) {
	blob, err := EncryptSecret("on-disk-secret", "file-password")
	require.NoError(t, err)

	path := filepath.Join(t.TempDir(), "wallet.json")
	require.NoError(t, os.WriteFile(path, blob, 0o600))

	got, err := LoadWalletSecret(WalletConfig{EncryptedKeyPath: path, KeyPassword: "file-password"})
	require.NoError(t, err)
	assert.Equal(t, "on-disk-secret", got)
}

func TestLoadWalletSecretRequiresPath(t *testing.T) {
	_, err := LoadWalletSecret(WalletConfig{})
	assert.Error(t, err)
}
