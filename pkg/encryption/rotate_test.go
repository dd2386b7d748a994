package encryption

import (
	"context"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"
)

type fakeSecretStore struct {
	rows map[string]string
}

func (f *fakeSecretStore) ListPlaintextSecrets(ctx context.Context) ([]SecretRow, error) {
	var out []SecretRow
	for ref, v := range f.rows {
		if !IsEncrypted(v) {
			out = append(out, SecretRow{Ref: ref, Value: v})
		}
	}
	return out, nil
}

func (f *fakeSecretStore) ListSecrets(ctx context.Context) ([]SecretRow, error) {
	var out []SecretRow
	for ref, v := range f.rows {
		out = append(out, SecretRow{Ref: ref, Value: v})
	}
	return out, nil
}

func (f *fakeSecretStore) UpdateSecret(ctx context.Context, ref, encoded string) error {
	f.rows[ref] = encoded
	return nil
}

func TestDeriveRotatedKeyIsDeterministicAndFullSize(t *testing.T) {
	current := make([]byte, keySize)
	a, err := DeriveRotatedKey(current, "lnvpsd-encryption-rotation")
	require.NoError(t, err)
	require.Len(t, a, keySize)

	b, err := DeriveRotatedKey(current, "lnvpsd-encryption-rotation")
	require.NoError(t, err)
	require.Equal(t, a, b, "same input key and info must derive the same rotated key")

	c, err := DeriveRotatedKey(current, "a-different-rotation")
	require.NoError(t, err)
	require.NotEqual(t, a, c, "different info must derive a different rotated key")
}

func TestRotateReencryptsUnderNextKey(t *testing.T) {
	cur := newTestContext(t)
	curEncrypted, err := cur.Encrypt("super secret")
	require.NoError(t, err)

	store := &fakeSecretStore{rows: map[string]string{
		"hosts:1":  curEncrypted,
		"users:7":  "legacy-plaintext-email@example.com",
	}}

	nextKeyFile := filepath.Join(t.TempDir(), "next.key")
	next, err := New(nextKeyFile, true)
	require.NoError(t, err)

	rotated, err := cur.Rotate(context.Background(), store, next)
	require.NoError(t, err)
	require.Equal(t, 2, rotated)

	gotHost, err := next.Decrypt(store.rows["hosts:1"])
	require.NoError(t, err)
	require.Equal(t, "super secret", gotHost)

	gotUser, err := next.Decrypt(store.rows["users:7"])
	require.NoError(t, err)
	require.Equal(t, "legacy-plaintext-email@example.com", gotUser)

	_, err = cur.Decrypt(store.rows["hosts:1"])
	require.Error(t, err, "re-encrypted value should no longer decrypt under the old key")
}

func TestFromKeyRejectsWrongSize(t *testing.T) {
	_, err := FromKey([]byte("too-short"))
	require.Error(t, err)
}
