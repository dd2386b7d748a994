package encryption

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"
)

func newTestContext(t *testing.T) *Context {
	t.Helper()
	keyFile := filepath.Join(t.TempDir(), "test.key")
	ctx, err := New(keyFile, true)
	require.NoError(t, err)
	return ctx
}

func TestEncryptDecryptRoundtrip(t *testing.T) {
	ctx := newTestContext(t)

	plaintext := "hello world"
	encrypted, err := ctx.Encrypt(plaintext)
	require.NoError(t, err)
	require.True(t, IsEncrypted(encrypted))

	decrypted, err := ctx.Decrypt(encrypted)
	require.NoError(t, err)
	require.Equal(t, plaintext, decrypted)
}

func TestEncryptionIsRandomized(t *testing.T) {
	ctx := newTestContext(t)

	a, err := ctx.Encrypt("same message")
	require.NoError(t, err)
	b, err := ctx.Encrypt("same message")
	require.NoError(t, err)

	require.NotEqual(t, a, b, "two encryptions of the same plaintext must differ")

	da, err := ctx.Decrypt(a)
	require.NoError(t, err)
	db, err := ctx.Decrypt(b)
	require.NoError(t, err)
	require.Equal(t, da, db)
}

func TestDecryptPassesThroughLegacyPlaintext(t *testing.T) {
	ctx := newTestContext(t)

	got, err := ctx.Decrypt("legacy-plaintext-value")
	require.NoError(t, err)
	require.Equal(t, "legacy-plaintext-value", got)
}

func TestEncodeAtRestDoesNotDoubleEncrypt(t *testing.T) {
	ctx := newTestContext(t)

	once, err := ctx.EncodeAtRest("a secret")
	require.NoError(t, err)

	twice, err := ctx.EncodeAtRest(once)
	require.NoError(t, err)

	require.Equal(t, once, twice)
}

func TestKeyFileIsReusedAcrossInit(t *testing.T) {
	keyFile := filepath.Join(t.TempDir(), "nested", "dir", "key.bin")

	first, err := New(keyFile, true)
	require.NoError(t, err)

	encrypted, err := first.Encrypt("value")
	require.NoError(t, err)

	second, err := New(keyFile, false)
	require.NoError(t, err)

	decrypted, err := second.Decrypt(encrypted)
	require.NoError(t, err)
	require.Equal(t, "value", decrypted)
}

func TestInvalidKeySizeIsRejected(t *testing.T) {
	keyFile := filepath.Join(t.TempDir(), "bad.key")
	require.NoError(t, os.WriteFile(keyFile, []byte("too-short"), 0o600))

	_, err := New(keyFile, false)
	require.Error(t, err)
}
