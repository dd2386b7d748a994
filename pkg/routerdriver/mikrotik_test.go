package routerdriver

import (
	"context"
	"net/http"
	"testing"

	"github.com/jarcoal/httpmock"
	"github.com/stretchr/testify/require"

	"github.com/lnvps/lnvpsd/pkg/lnvpserr"
)

func newTestMikrotik(t *testing.T) *Mikrotik {
	m := NewMikrotik("http://10.0.0.1", "admin", "secret")
	httpmock.ActivateNonDefault(m.Client)
	t.Cleanup(httpmock.DeactivateAndReset)
	return m
}

func TestMikrotikList(t *testing.T) {
	m := newTestMikrotik(t)
	httpmock.RegisterResponder(http.MethodGet, "http://10.0.0.1/rest/ip/arp",
		httpmock.NewJsonResponderOrPanic(200, []mikrotikArp{
			{ID: "*1", Address: "10.0.0.5", MacAddr: "aa:bb:cc:dd:ee:ff"},
		}))

	entries, err := m.List(context.Background())
	require.NoError(t, err)
	require.Len(t, entries, 1)
	require.Equal(t, "10.0.0.5", entries[0].IP)
}

func TestMikrotikAddRejectsBroadcastMac(t *testing.T) {
	m := newTestMikrotik(t)
	_, err := m.Add(context.Background(), ArpEntry{IP: "10.0.0.5", Mac: BroadcastMac})
	require.Error(t, err)
	require.Equal(t, lnvpserr.KindValidation, lnvpserr.KindOf(err))
}

func TestMikrotikAdd(t *testing.T) {
	m := newTestMikrotik(t)
	httpmock.RegisterResponder(http.MethodPut, "http://10.0.0.1/rest/ip/arp",
		httpmock.NewJsonResponderOrPanic(200, mikrotikArp{ID: "*7", Address: "10.0.0.9", MacAddr: "11:22:33:44:55:66"}))

	out, err := m.Add(context.Background(), ArpEntry{IP: "10.0.0.9", Mac: "11:22:33:44:55:66"})
	require.NoError(t, err)
	require.Equal(t, "*7", out.ID)
}

func TestMikrotikRemoveNotFoundIsSuccess(t *testing.T) {
	m := newTestMikrotik(t)
	httpmock.RegisterResponder(http.MethodDelete, "http://10.0.0.1/rest/ip/arp/*9",
		httpmock.NewStringResponder(404, ""))

	require.NoError(t, m.Remove(context.Background(), "*9"))
}

func TestMikrotikRemoveServerErrorIsTransient(t *testing.T) {
	m := newTestMikrotik(t)
	httpmock.RegisterResponder(http.MethodDelete, "http://10.0.0.1/rest/ip/arp/*9",
		httpmock.NewStringResponder(503, ""))

	err := m.Remove(context.Background(), "*9")
	require.Error(t, err)
	require.Equal(t, lnvpserr.KindTransientRemote, lnvpserr.KindOf(err))
}

func TestMikrotikGenerateMacIsNoop(t *testing.T) {
	m := newTestMikrotik(t)
	_, ok, err := m.GenerateMac(context.Background(), "10.0.0.1", "")
	require.NoError(t, err)
	require.False(t, ok)
}
