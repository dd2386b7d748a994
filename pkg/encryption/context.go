// Package encryption implements the process-wide symmetric envelope for
// at-rest secrets: API tokens, SSH keys, user email, router
// credentials. AES-256-GCM with an "ENC:" sentinel prefix on encrypted
// values, a 0600-permissioned key file, and idempotent global init via a
// sync.Once-guarded package-level singleton. Uses the standard library's
// crypto/aes + crypto/cipher for AEAD: no third-party symmetric-encryption
// library fits this narrowly-scoped a use case better than stdlib crypto.
// rotate.go adds key rotation on top, deriving the next key via HKDF.
package encryption

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"encoding/base64"
	"fmt"
	"os"
	"path/filepath"
	"sync"

	"github.com/lnvps/lnvpsd/pkg/lnvpserr"
)

// Sentinel is the literal prefix marking ciphertext at rest.
const Sentinel = "ENC:"

const keySize = 32 // AES-256
const nonceSize = 12

// Context holds the process-wide AEAD cipher. Exactly one Context is ever
// active per process; Init is idempotent so test harnesses and repeated
// boot sequences may call it more than once.
type Context struct {
	aead cipher.AEAD
}

var (
	global     *Context
	globalOnce sync.Once
	globalErr  error
)

// Init initializes the global encryption Context from a key file. If
// autoGenerate is true and the key file does not exist, a new 256-bit key
// is generated and written with 0600 permissions. Subsequent calls are
// no-ops: the first call's outcome wins.
func Init(keyFile string, autoGenerate bool) error {
	globalOnce.Do(func() {
		global, globalErr = newContext(keyFile, autoGenerate)
	})
	return globalErr
}

// Get returns the global Context, or a Fatal error if Init was never
// called successfully.
func Get() (*Context, error) {
	if global == nil {
		return nil, lnvpserr.Fatal(nil, "encryption context not initialized")
	}
	return global, nil
}

// New constructs a standalone Context, bypassing the global singleton.
// Used by tests that need isolated keys.
func New(keyFile string, autoGenerate bool) (*Context, error) {
	return newContext(keyFile, autoGenerate)
}

func newContext(keyFile string, autoGenerate bool) (*Context, error) {
	key, err := loadOrGenerateKey(keyFile, autoGenerate)
	if err != nil {
		return nil, err
	}
	return contextFromKey(key)
}

// contextFromKey builds a Context directly from raw key bytes, skipping
// key-file I/O. Shared by newContext and key rotation, which needs the
// current and next keys live side by side during re-encryption.
func contextFromKey(key []byte) (*Context, error) {
	if len(key) != keySize {
		return nil, lnvpserr.Fatal(nil, "invalid key: expected %d bytes, got %d", keySize, len(key))
	}

	block, err := aes.NewCipher(key)
	if err != nil {
		return nil, lnvpserr.Fatal(err, "constructing AES cipher")
	}
	aead, err := cipher.NewGCM(block)
	if err != nil {
		return nil, lnvpserr.Fatal(err, "constructing AES-GCM AEAD")
	}

	return &Context{aead: aead}, nil
}

func loadOrGenerateKey(keyFile string, autoGenerate bool) ([]byte, error) {
	key, err := os.ReadFile(keyFile)
	switch {
	case err == nil:
		if len(key) != keySize {
			return nil, lnvpserr.Fatal(nil, "invalid key file: expected %d bytes, got %d", keySize, len(key))
		}
		return key, nil
	case !os.IsNotExist(err):
		return nil, lnvpserr.Fatal(err, "reading encryption key file")
	case !autoGenerate:
		return nil, lnvpserr.Fatal(err, "encryption key file does not exist and auto-generate is disabled")
	}

	newKey := make([]byte, keySize)
	if _, err := rand.Read(newKey); err != nil {
		return nil, lnvpserr.Fatal(err, "generating encryption key")
	}

	if dir := filepath.Dir(keyFile); dir != "" {
		if err := os.MkdirAll(dir, 0o700); err != nil {
			return nil, lnvpserr.Fatal(err, "creating key directory")
		}
	}
	if err := os.WriteFile(keyFile, newKey, 0o600); err != nil {
		return nil, lnvpserr.Fatal(err, "writing encryption key file")
	}
	// os.WriteFile honors the mode only subject to umask; force it.
	if err := os.Chmod(keyFile, 0o600); err != nil {
		return nil, lnvpserr.Fatal(err, "setting encryption key file permissions")
	}

	return newKey, nil
}

// ReadKeyFile loads raw key bytes from keyFile, used by key rotation to get
// at the current key material a *Context never retains after construction.
func ReadKeyFile(keyFile string) ([]byte, error) {
	key, err := os.ReadFile(keyFile)
	if err != nil {
		return nil, lnvpserr.Fatal(err, "reading encryption key file")
	}
	if len(key) != keySize {
		return nil, lnvpserr.Fatal(nil, "invalid key file: expected %d bytes, got %d", keySize, len(key))
	}
	return key, nil
}

// WriteKeyFile persists key to keyFile with 0600 permissions, the same
// layout loadOrGenerateKey writes for a freshly generated key.
func WriteKeyFile(keyFile string, key []byte) error {
	if dir := filepath.Dir(keyFile); dir != "" {
		if err := os.MkdirAll(dir, 0o700); err != nil {
			return lnvpserr.Fatal(err, "creating key directory")
		}
	}
	if err := os.WriteFile(keyFile, key, 0o600); err != nil {
		return lnvpserr.Fatal(err, "writing encryption key file")
	}
	if err := os.Chmod(keyFile, 0o600); err != nil {
		return lnvpserr.Fatal(err, "setting encryption key file permissions")
	}
	return nil
}

// IsEncrypted reports whether s carries the ENC: sentinel.
func IsEncrypted(s string) bool {
	return len(s) >= len(Sentinel) && s[:len(Sentinel)] == Sentinel
}

// Encrypt encrypts plaintext and returns "ENC:" + base64(nonce ‖ ciphertext
// ‖ tag). Encrypting an already-encrypted value re-encrypts its ciphertext
// bytes as a new plaintext blob — callers must check IsEncrypted first if
// they want to avoid double-encryption (the encode path at the catalog
// boundary does this).
func (c *Context) Encrypt(plaintext string) (string, error) {
	nonce := make([]byte, nonceSize)
	if _, err := rand.Read(nonce); err != nil {
		return "", lnvpserr.Fatal(err, "generating nonce")
	}

	sealed := c.aead.Seal(nil, nonce, []byte(plaintext), nil)
	out := make([]byte, 0, len(nonce)+len(sealed))
	out = append(out, nonce...)
	out = append(out, sealed...)

	return Sentinel + base64.StdEncoding.EncodeToString(out), nil
}

// Decrypt reverses Encrypt. If s lacks the sentinel, it is returned
// unchanged (legacy plaintext pass-through).
func (c *Context) Decrypt(s string) (string, error) {
	if !IsEncrypted(s) {
		return s, nil
	}

	raw, err := base64.StdEncoding.DecodeString(s[len(Sentinel):])
	if err != nil {
		return "", lnvpserr.Validation("invalid base64 in encrypted value: %v", err)
	}
	if len(raw) < nonceSize {
		return "", lnvpserr.Validation("encrypted value too short")
	}

	nonce, ciphertext := raw[:nonceSize], raw[nonceSize:]
	plaintext, err := c.aead.Open(nil, nonce, ciphertext, nil)
	if err != nil {
		return "", lnvpserr.Wrap(lnvpserr.KindFatal, "decrypting value", err)
	}

	return string(plaintext), nil
}

// EncodeAtRest encrypts plaintext only if it is not already in ENC: form,
// so repeated encode passes (e.g. re-saving an unchanged row) never
// double-encrypt.
func (c *Context) EncodeAtRest(plaintext string) (string, error) {
	if IsEncrypted(plaintext) {
		return plaintext, nil
	}
	return c.Encrypt(plaintext)
}

// String implements fmt.Stringer without leaking key material into logs.
func (c *Context) String() string {
	return fmt.Sprintf("encryption.Context{initialized: %v}", c != nil)
}
