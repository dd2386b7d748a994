package authn

import (
	"crypto/rand"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"testing"
	"time"

	"github.com/btcsuite/btcd/btcec/v2"
	"github.com/btcsuite/btcd/btcec/v2/schnorr"
	"github.com/stretchr/testify/require"
)

// signEvent builds and signs an Event the way a real Nostr client would:
// serialize per NIP-01, hash, sign the hash with the given key.
func signEvent(t *testing.T, priv *btcec.PrivateKey, created int64, tags [][]string) Event {
	t.Helper()
	pubkey := hex.EncodeToString(schnorr.SerializePubKey(priv.PubKey()))

	ev := Event{
		Pubkey:    pubkey,
		CreatedAt: created,
		Kind:      KindHTTPAuth,
		Tags:      tags,
		Content:   "",
	}
	raw, err := ev.serialize()
	require.NoError(t, err)
	id := sha256.Sum256(raw)
	ev.ID = hex.EncodeToString(id[:])

	sig, err := schnorr.Sign(priv, id[:])
	require.NoError(t, err)
	ev.Sig = hex.EncodeToString(sig.Serialize())

	return ev
}

func TestEventVerifyAcceptsValidSignature(t *testing.T) {
	priv, err := btcec.NewPrivateKey()
	require.NoError(t, err)

	ev := signEvent(t, priv, time.Now().Unix(), [][]string{{"u", "/api/v1/vm"}, {"method", "GET"}})
	require.NoError(t, ev.Verify())
}

func TestEventVerifyRejectsTamperedContent(t *testing.T) {
	priv, err := btcec.NewPrivateKey()
	require.NoError(t, err)

	ev := signEvent(t, priv, time.Now().Unix(), [][]string{{"u", "/api/v1/vm"}, {"method", "GET"}})
	ev.Content = "tampered"
	require.Error(t, ev.Verify())
}

func TestEventVerifyRejectsForgedID(t *testing.T) {
	priv, err := btcec.NewPrivateKey()
	require.NoError(t, err)

	ev := signEvent(t, priv, time.Now().Unix(), [][]string{{"u", "/api/v1/vm"}, {"method", "GET"}})
	forged := sha256.Sum256([]byte("not the real event"))
	ev.ID = hex.EncodeToString(forged[:])
	require.Error(t, ev.Verify())
}

func TestEventTagLookup(t *testing.T) {
	ev := Event{Tags: [][]string{{"u", "/api/v1/vm"}, {"method", "POST"}}}
	v, ok := ev.Tag("method")
	require.True(t, ok)
	require.Equal(t, "POST", v)

	_, ok = ev.Tag("missing")
	require.False(t, ok)
}

func TestEventSerializeIsDeterministic(t *testing.T) {
	ev := Event{Pubkey: "abc", CreatedAt: 1000, Kind: KindHTTPAuth, Tags: [][]string{{"u", "/x"}}, Content: ""}
	a, err := ev.serialize()
	require.NoError(t, err)
	b, err := ev.serialize()
	require.NoError(t, err)
	require.Equal(t, a, b)

	var decoded []any
	require.NoError(t, json.Unmarshal(a, &decoded))
	require.Len(t, decoded, 6)
}

func TestEventPubkeyBytesRejectsBadLength(t *testing.T) {
	ev := Event{Pubkey: hex.EncodeToString(make([]byte, 16))}
	_, err := ev.PubkeyBytes()
	require.Error(t, err)
}

func TestEventPubkeyBytesRoundtrip(t *testing.T) {
	raw := make([]byte, 32)
	_, err := rand.Read(raw)
	require.NoError(t, err)
	ev := Event{Pubkey: hex.EncodeToString(raw)}
	got, err := ev.PubkeyBytes()
	require.NoError(t, err)
	require.Equal(t, raw, got[:])
}
