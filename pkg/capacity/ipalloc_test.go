package capacity

import (
	"context"
	"net"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/lnvps/lnvpsd/pkg/catalog"
)

type fixedChecker map[string]bool

func (f fixedChecker) IsAssigned(ctx context.Context, rangeID catalog.ID, ip string) (bool, error) {
	return f[ip], nil
}

func TestAllocateIPSequentialSkipsGatewayAndAssigned(t *testing.T) {
	rng := catalog.IpRange{
		ID: 1, CIDR: "10.0.0.0/29", Gateway: "10.0.0.1",
		AllocationMode: catalog.AllocationSequential,
	}
	checker := fixedChecker{"10.0.0.2": true} // already taken

	ip, err := AllocateIP(context.Background(), rng, checker, nil)
	require.NoError(t, err)
	require.Equal(t, "10.0.0.3", ip)
}

func TestAllocateIPSequentialExhausted(t *testing.T) {
	rng := catalog.IpRange{
		ID: 1, CIDR: "10.0.0.0/30", Gateway: "10.0.0.1",
		AllocationMode: catalog.AllocationSequential,
	}
	checker := fixedChecker{"10.0.0.2": true}

	_, err := AllocateIP(context.Background(), rng, checker, nil)
	require.Error(t, err)
}

func TestAllocateIPRandomStaysInRange(t *testing.T) {
	rng := catalog.IpRange{
		ID: 1, CIDR: "10.1.0.0/24", Gateway: "10.1.0.1",
		AllocationMode: catalog.AllocationRandom,
	}
	checker := fixedChecker{}

	ip, err := AllocateIP(context.Background(), rng, checker, nil)
	require.NoError(t, err)

	_, ipnet, _ := net.ParseCIDR(rng.CIDR)
	require.True(t, ipnet.Contains(net.ParseIP(ip)))
}

func TestAllocateIPSLAACEUI64(t *testing.T) {
	rng := catalog.IpRange{
		ID: 1, CIDR: "2001:db8::/64",
		AllocationMode: catalog.AllocationSLAACEUI64,
	}
	mac, err := net.ParseMAC("02:42:ac:11:00:02")
	require.NoError(t, err)

	ip, err := AllocateIP(context.Background(), rng, fixedChecker{}, mac)
	require.NoError(t, err)
	require.Equal(t, "2001:db8::42:acff:fe11:2", ip)
}

func TestAllocateIPSLAACRejectsNonSlash64(t *testing.T) {
	rng := catalog.IpRange{ID: 1, CIDR: "2001:db8::/48", AllocationMode: catalog.AllocationSLAACEUI64}
	mac, _ := net.ParseMAC("02:42:ac:11:00:02")

	_, err := AllocateIP(context.Background(), rng, fixedChecker{}, mac)
	require.Error(t, err)
}
