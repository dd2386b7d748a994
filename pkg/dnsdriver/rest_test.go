package dnsdriver

import (
	"context"
	"net"
	"net/http"
	"testing"

	"github.com/jarcoal/httpmock"
	"github.com/stretchr/testify/require"

	"github.com/lnvps/lnvpsd/pkg/lnvpserr"
)

func newTestRestZone(t *testing.T) *RestZone {
	z := NewRestZone("https://dns.lnvps.test", "key", "lnvps.test.")
	httpmock.ActivateNonDefault(z.Client)
	t.Cleanup(httpmock.DeactivateAndReset)
	return z
}

func TestRestZoneAddForwardIPv4(t *testing.T) {
	z := newTestRestZone(t)
	httpmock.RegisterResponder(http.MethodPatch, "https://dns.lnvps.test/zones/lnvps.test.",
		httpmock.NewStringResponder(200, ""))

	ref, err := z.AddForward(context.Background(), "vm1.lnvps.test", net.ParseIP("10.0.0.5"))
	require.NoError(t, err)
	require.Equal(t, "A:vm1.lnvps.test", ref)
}

func TestRestZoneAddForwardIPv6(t *testing.T) {
	z := newTestRestZone(t)
	httpmock.RegisterResponder(http.MethodPatch, "https://dns.lnvps.test/zones/lnvps.test.",
		httpmock.NewStringResponder(200, ""))

	ref, err := z.AddForward(context.Background(), "vm1.lnvps.test", net.ParseIP("2001:db8::1"))
	require.NoError(t, err)
	require.Equal(t, "AAAA:vm1.lnvps.test", ref)
}

func TestRestZoneDeleteForwardMalformedRefIsNoop(t *testing.T) {
	z := newTestRestZone(t)
	require.NoError(t, z.DeleteForward(context.Background(), "not-a-ref"))
}

func TestRestZoneDeleteForwardNotFoundIsSuccess(t *testing.T) {
	z := newTestRestZone(t)
	httpmock.RegisterResponder(http.MethodPatch, "https://dns.lnvps.test/zones/lnvps.test.",
		httpmock.NewStringResponder(404, ""))

	require.NoError(t, z.DeleteForward(context.Background(), "A:vm1.lnvps.test"))
}

func TestRestZoneServerErrorIsTransient(t *testing.T) {
	z := newTestRestZone(t)
	httpmock.RegisterResponder(http.MethodPatch, "https://dns.lnvps.test/zones/lnvps.test.",
		httpmock.NewStringResponder(503, ""))

	_, err := z.AddForward(context.Background(), "vm1.lnvps.test", net.ParseIP("10.0.0.5"))
	require.Error(t, err)
	require.Equal(t, lnvpserr.KindTransientRemote, lnvpserr.KindOf(err))
}

func TestRestZoneClientErrorIsTerminal(t *testing.T) {
	z := newTestRestZone(t)
	httpmock.RegisterResponder(http.MethodPatch, "https://dns.lnvps.test/zones/lnvps.test.",
		httpmock.NewStringResponder(400, ""))

	_, err := z.AddForward(context.Background(), "vm1.lnvps.test", net.ParseIP("10.0.0.5"))
	require.Error(t, err)
	require.Equal(t, lnvpserr.KindTerminalRemote, lnvpserr.KindOf(err))
}

func TestSplitRef(t *testing.T) {
	recordType, name, err := splitRef("PTR:5.0.0.10.in-addr.arpa")
	require.NoError(t, err)
	require.Equal(t, "PTR", recordType)
	require.Equal(t, "5.0.0.10.in-addr.arpa", name)

	_, _, err = splitRef("malformed")
	require.Error(t, err)
}
