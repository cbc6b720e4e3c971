package credvault_test

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tolgayilmaz86/NerveMind-sub000/internal/credvault"
)

func testKey(t *testing.T) []byte {
	t.Helper()
	key, err := credvault.GenerateKey()
	require.NoError(t, err)
	return key
}

func TestMemoryVaultPutAndGetByID(t *testing.T) {
	v, err := credvault.NewMemoryVault(testKey(t))
	require.NoError(t, err)
	require.NoError(t, v.Put(1, "openai-default", "sk-test-123"))

	secret, err := v.GetByID(context.Background(), 1)
	require.NoError(t, err)
	assert.Equal(t, "sk-test-123", secret.Value)
	assert.True(t, secret.Secret)
}

func TestMemoryVaultGetByName(t *testing.T) {
	v, err := credvault.NewMemoryVault(testKey(t))
	require.NoError(t, err)
	require.NoError(t, v.Put(2, "slack-webhook", "https://hooks.example/abc"))

	secret, err := v.GetByName(context.Background(), "slack-webhook")
	require.NoError(t, err)
	assert.Equal(t, "https://hooks.example/abc", secret.Value)
}

func TestMemoryVaultUnknownIDErrors(t *testing.T) {
	v, err := credvault.NewMemoryVault(testKey(t))
	require.NoError(t, err)
	_, err = v.GetByID(context.Background(), 999)
	assert.Error(t, err)
}

func TestNewMemoryVaultRejectsWrongKeySize(t *testing.T) {
	_, err := credvault.NewMemoryVault([]byte("too-short"))
	assert.Error(t, err)
}
