package capacity

import (
	"context"
	"crypto/rand"
	"encoding/binary"
	"fmt"
	"math/big"
	"net"

	"github.com/lnvps/lnvpsd/pkg/catalog"
	"github.com/lnvps/lnvpsd/pkg/lnvpserr"
)

// IPChecker reports whether a candidate address within a range is already
// assigned. The Provisioner backs this with catalog.Store.IsAssignedIP, a
// plain read outside any transaction; a concurrent allocation of the same
// address is caught by the unique index when the VmIpAssignment is inserted.
type IPChecker interface {
	IsAssigned(ctx context.Context, rangeID catalog.ID, ip string) (bool, error)
}

// maxAllocAttempts bounds the retry-with-next-candidate loop so a
// nearly-exhausted range fails fast with CapacityExhausted instead of
// looping toward the CIDR's full address count.
const maxAllocAttempts = 64

// AllocateIP picks a free address in rng according to its AllocationMode:
// Sequential walks the CIDR from the first usable host address, Random
// samples uniformly, SLAAC_EUI64 derives a /64 host identifier from the
// VM's MAC. Network, broadcast, and gateway addresses
// are always excluded. A UniqueViolation on insert (raced by a concurrent
// allocation) should be retried by the caller against the next candidate;
// this function itself also retries while consulting IPChecker.
func AllocateIP(ctx context.Context, rng catalog.IpRange, checker IPChecker, mac net.HardwareAddr) (string, error) {
	_, ipnet, err := net.ParseCIDR(rng.CIDR)
	if err != nil {
		return "", lnvpserr.Fatal(err, "parsing ip range %d cidr %q", rng.ID, rng.CIDR)
	}

	switch rng.AllocationMode {
	case catalog.AllocationSLAACEUI64:
		return allocateSLAAC(ipnet, mac)
	case catalog.AllocationRandom:
		return allocateRetrying(ctx, rng, ipnet, checker, randomHostGenerator(ipnet))
	default: // Sequential
		return allocateRetrying(ctx, rng, ipnet, checker, sequentialHostGenerator(ipnet))
	}
}

// hostGenerator yields successive host-address candidates within ipnet,
// skipping network/broadcast addresses; it returns ok=false once exhausted.
type hostGenerator func(attempt int) (net.IP, bool)

func allocateRetrying(ctx context.Context, rng catalog.IpRange, ipnet *net.IPNet, checker IPChecker, gen hostGenerator) (string, error) {
	for attempt := 0; attempt < maxAllocAttempts; attempt++ {
		ip, ok := gen(attempt)
		if !ok {
			break
		}
		if ip.Equal(net.ParseIP(rng.Gateway)) {
			continue
		}
		candidate := ip.String()
		assigned, err := checker.IsAssigned(ctx, rng.ID, candidate)
		if err != nil {
			return "", err
		}
		if !assigned {
			return candidate, nil
		}
	}
	return "", lnvpserr.CapacityExhausted("ip range %d exhausted after %d attempts", rng.ID, maxAllocAttempts)
}

func sequentialHostGenerator(ipnet *net.IPNet) hostGenerator {
	base := firstUsable(ipnet)
	return func(attempt int) (net.IP, bool) {
		ip := addOffset(base, uint64(attempt))
		if !ipnet.Contains(ip) || isBroadcast(ipnet, ip) {
			return nil, false
		}
		return ip, true
	}
}

func randomHostGenerator(ipnet *net.IPNet) hostGenerator {
	ones, bits := ipnet.Mask.Size()
	hostBits := bits - ones
	return func(attempt int) (net.IP, bool) {
		if hostBits <= 0 {
			return nil, false
		}
		max := new(big.Int).Lsh(big.NewInt(1), uint(hostBits))
		for i := 0; i < maxAllocAttempts; i++ {
			offset, err := rand.Int(rand.Reader, max)
			if err != nil {
				return nil, false
			}
			ip := addOffset(ipnet.IP, offset.Uint64())
			if !ipnet.Contains(ip) || ip.Equal(ipnet.IP) || isBroadcast(ipnet, ip) {
				continue
			}
			return ip, true
		}
		return nil, false
	}
}

// allocateSLAAC derives a /64 IPv6 address's interface identifier from the
// VM's MAC address using the modified EUI-64 algorithm (RFC 4291 Appendix A):
// split the 48-bit MAC, insert 0xfffe, flip the universal/local bit.
func allocateSLAAC(ipnet *net.IPNet, mac net.HardwareAddr) (string, error) {
	if len(mac) != 6 {
		return "", lnvpserr.Validation("slaac_eui64 allocation requires a 6-byte MAC, got %d bytes", len(mac))
	}
	ones, bits := ipnet.Mask.Size()
	if bits != 128 || ones != 64 {
		return "", lnvpserr.Fatal(fmt.Errorf("not a /64 IPv6 prefix"), "slaac_eui64 requires a /64 range")
	}

	eui := make([]byte, 8)
	copy(eui[0:3], mac[0:3])
	eui[3] = 0xff
	eui[4] = 0xfe
	copy(eui[5:8], mac[3:6])
	eui[0] ^= 0x02 // flip universal/local bit

	ip := make(net.IP, 16)
	copy(ip[0:8], ipnet.IP.To16()[0:8])
	copy(ip[8:16], eui)
	return ip.String(), nil
}

func firstUsable(ipnet *net.IPNet) net.IP {
	return addOffset(ipnet.IP, 1)
}

func addOffset(ip net.IP, offset uint64) net.IP {
	ip4 := ip.To4()
	if ip4 != nil {
		base := binary.BigEndian.Uint32(ip4)
		out := make(net.IP, 4)
		binary.BigEndian.PutUint32(out, base+uint32(offset))
		return out
	}

	ip16 := ip.To16()
	base := new(big.Int).SetBytes(ip16)
	base.Add(base, new(big.Int).SetUint64(offset))
	out := make(net.IP, 16)
	b := base.Bytes()
	copy(out[16-len(b):], b)
	return out
}

func isBroadcast(ipnet *net.IPNet, ip net.IP) bool {
	ip4 := ip.To4()
	if ip4 == nil {
		return false // no broadcast concept in IPv6
	}
	mask := ipnet.Mask
	network := ipnet.IP.To4()
	bcast := make(net.IP, 4)
	for i := range bcast {
		bcast[i] = network[i] | ^mask[i]
	}
	return ip4.Equal(bcast)
}
