// Package authn implements authentication and authorization: verification
// of the signed, short-lived NIP-98-pattern HTTP auth event, user
// upsert-by-pubkey, and the RBAC permission gate in front of admin
// endpoints.
package authn

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"

	"github.com/btcsuite/btcd/btcec/v2/schnorr"

	"github.com/lnvps/lnvpsd/pkg/lnvpserr"
)

// KindHTTPAuth is the event kind NIP-98 reserves for signed HTTP requests.
const KindHTTPAuth = 27235

// Event is a Nostr event carrying the signed HTTP-auth claim. Field order
// matches NIP-01 JSON serialization; Tags is a list of [name, value, ...]
// arrays, with "u" (request URL path) and "method" (HTTP method) required
// by NIP-98.
type Event struct {
	ID        string     `json:"id"`
	Pubkey    string     `json:"pubkey"`
	CreatedAt int64      `json:"created_at"`
	Kind      int        `json:"kind"`
	Tags      [][]string `json:"tags"`
	Content   string     `json:"content"`
	Sig       string     `json:"sig"`
}

// Tag returns the first value of the first tag named key, if any.
func (e Event) Tag(key string) (string, bool) {
	for _, t := range e.Tags {
		if len(t) >= 2 && t[0] == key {
			return t[1], true
		}
	}
	return "", false
}

// serialize reproduces the NIP-01 canonical form event IDs are hashed from:
// [0, pubkey, created_at, kind, tags, content], with no whitespace.
func (e Event) serialize() ([]byte, error) {
	arr := []any{0, e.Pubkey, e.CreatedAt, e.Kind, e.Tags, e.Content}
	return json.Marshal(arr)
}

// id computes the event ID (sha256 of the serialized form) independently of
// whatever ID the caller supplied, so a forged ID can't smuggle a different
// signed payload past verification.
func (e Event) id() ([32]byte, error) {
	raw, err := e.serialize()
	if err != nil {
		return [32]byte{}, fmt.Errorf("serializing event: %w", err)
	}
	return sha256.Sum256(raw), nil
}

// Verify checks the event's signature against its own recomputed ID and
// pubkey. It does not check kind, timestamp, or tags — callers do that
// against the specific request they're authenticating.
func (e Event) Verify() error {
	want, err := e.id()
	if err != nil {
		return err
	}
	if hex.EncodeToString(want[:]) != e.ID {
		return lnvpserr.Auth("event id does not match its contents")
	}

	pubkeyBytes, err := hex.DecodeString(e.Pubkey)
	if err != nil || len(pubkeyBytes) != 32 {
		return lnvpserr.Auth("invalid event pubkey")
	}
	pubkey, err := schnorr.ParsePubKey(pubkeyBytes)
	if err != nil {
		return lnvpserr.Auth("invalid event pubkey: %v", err)
	}

	sigBytes, err := hex.DecodeString(e.Sig)
	if err != nil {
		return lnvpserr.Auth("invalid event signature encoding")
	}
	sig, err := schnorr.ParseSignature(sigBytes)
	if err != nil {
		return lnvpserr.Auth("invalid event signature: %v", err)
	}

	if !sig.Verify(want[:], pubkey) {
		return lnvpserr.Auth("event signature does not verify")
	}
	return nil
}

// PubkeyBytes decodes the hex pubkey into the [32]byte form catalog.User
// keys users by.
func (e Event) PubkeyBytes() ([32]byte, error) {
	var out [32]byte
	raw, err := hex.DecodeString(e.Pubkey)
	if err != nil || len(raw) != 32 {
		return out, lnvpserr.Auth("invalid event pubkey")
	}
	copy(out[:], raw)
	return out, nil
}
