package routerdriver

import (
	"context"
	"io"
	"net/http"
	"strconv"
	"testing"

	"github.com/jarcoal/httpmock"
	"github.com/stretchr/testify/require"
)

func newTestOvh(t *testing.T) *OvhAdditionalIp {
	o := NewOvhAdditionalIp("https://eu.api.ovh.com/1.0", "ns123456.ip-1-2-3.eu", "app", "secret", "consumer")
	httpmock.ActivateNonDefault(o.Client)
	t.Cleanup(httpmock.DeactivateAndReset)
	return o
}

func TestOvhListIsUnsupported(t *testing.T) {
	o := newTestOvh(t)
	entries, err := o.List(context.Background())
	require.NoError(t, err)
	require.Nil(t, entries)
}

func TestOvhGenerateMac(t *testing.T) {
	o := newTestOvh(t)
	const url = "https://eu.api.ovh.com/1.0/dedicated/server/ns123456.ip-1-2-3.eu/virtualMac"
	respond := httpmock.NewJsonResponderOrPanic(200, ovhVirtualMacResponse{VirtualMac: "02:00:00:aa:bb:cc"})
	var gotSig, gotTS string
	var gotBody []byte
	httpmock.RegisterResponder(http.MethodPost, url, func(req *http.Request) (*http.Response, error) {
		gotSig = req.Header.Get("X-Ovh-Signature")
		gotTS = req.Header.Get("X-Ovh-Timestamp")
		gotBody, _ = io.ReadAll(req.Body)
		return respond(req)
	})

	entry, ok, err := o.GenerateMac(context.Background(), "1.2.3.4", "vm-1")
	require.NoError(t, err)
	require.True(t, ok)
	require.Equal(t, "02:00:00:aa:bb:cc", entry.Mac)

	// each request must carry a signature header computed from the
	// configured app/consumer secrets, not a default or empty value.
	requests := httpmock.GetCallCountInfo()
	require.NotEmpty(t, requests)
	ts, err := strconv.ParseInt(gotTS, 10, 64)
	require.NoError(t, err)
	require.Equal(t, o.sign(http.MethodPost, url, gotBody, ts), gotSig)
}

func TestOvhRemoveNotFoundIsSuccess(t *testing.T) {
	o := newTestOvh(t)
	httpmock.RegisterResponder(http.MethodDelete,
		"https://eu.api.ovh.com/1.0/dedicated/server/ns123456.ip-1-2-3.eu/virtualMac/02:00:00:aa:bb:cc/virtualAddress/02:00:00:aa:bb:cc",
		httpmock.NewStringResponder(404, ""))

	require.NoError(t, o.Remove(context.Background(), "02:00:00:aa:bb:cc"))
}

func TestOvhSignatureIsDeterministic(t *testing.T) {
	o := newTestOvh(t)
	sig1 := o.sign(http.MethodGet, "https://eu.api.ovh.com/1.0/foo", nil, 1000)
	sig2 := o.sign(http.MethodGet, "https://eu.api.ovh.com/1.0/foo", nil, 1000)
	require.Equal(t, sig1, sig2)
	require.Contains(t, sig1, "$1$")

	sig3 := o.sign(http.MethodGet, "https://eu.api.ovh.com/1.0/foo", nil, 1001)
	require.NotEqual(t, sig1, sig3)
}

func TestOvhUpdateIsNoop(t *testing.T) {
	o := newTestOvh(t)
	entry := ArpEntry{ID: "x", IP: "1.2.3.4"}
	out, err := o.Update(context.Background(), entry)
	require.NoError(t, err)
	require.Equal(t, entry, out)
}
