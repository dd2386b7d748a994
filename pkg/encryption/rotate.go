package encryption

import (
	"context"
	"crypto/sha256"
	"io"

	"golang.org/x/crypto/hkdf"

	"github.com/lnvps/lnvpsd/pkg/lnvpserr"
)

// RotatableStore extends Store with the ability to enumerate every secret
// row regardless of its current encryption state, needed to re-encrypt
// already-ENC:-encoded rows under a freshly rotated key.
type RotatableStore interface {
	Store
	ListSecrets(ctx context.Context) ([]SecretRow, error)
}

// DeriveRotatedKey derives the next-generation 256-bit key from currentKey
// via HKDF-SHA256. Deriving deterministically from the current key, rather
// than drawing fresh OS entropy, lets info bind the derivation to one named
// rotation; calling DeriveRotatedKey again with the same key and info
// reproduces the same next key.
func DeriveRotatedKey(currentKey []byte, info string) ([]byte, error) {
	h := hkdf.New(sha256.New, currentKey, nil, []byte(info))
	next := make([]byte, keySize)
	if _, err := io.ReadFull(h, next); err != nil {
		return nil, lnvpserr.Fatal(err, "deriving rotated key")
	}
	return next, nil
}

// FromKey builds a standalone Context directly from raw key bytes,
// bypassing the key-file-backed constructors. Rotate uses it to hold the
// current and next keys side by side during re-encryption.
func FromKey(key []byte) (*Context, error) {
	return contextFromKey(key)
}

// Rotate re-encrypts every secret store exposes from c's key to next's:
// each row is decrypted under c and re-encrypted under next. The caller
// must persist next's key material only after Rotate returns successfully
// — a failure partway through leaves every row still decryptable under the
// key file on disk, since that file is untouched until then.
func (c *Context) Rotate(ctx context.Context, store RotatableStore, next *Context) (rotated int, err error) {
	rows, err := store.ListSecrets(ctx)
	if err != nil {
		return 0, err
	}

	for _, row := range rows {
		plain, err := c.Decrypt(row.Value)
		if err != nil {
			return rotated, err
		}
		encoded, err := next.Encrypt(plain)
		if err != nil {
			return rotated, err
		}
		if err := store.UpdateSecret(ctx, row.Ref, encoded); err != nil {
			return rotated, err
		}
		rotated++
	}

	return rotated, nil
}
