package routerdriver

import (
	"context"
	"fmt"
	"sync"

	"github.com/lnvps/lnvpsd/pkg/lnvpserr"
)

// Mock is a test-substitutable Driver holding entries in memory.
type Mock struct {
	mu      sync.Mutex
	entries map[string]ArpEntry
	next    int
	Fault   error
	MintsMac bool
}

func NewMock() *Mock {
	return &Mock{entries: make(map[string]ArpEntry)}
}

func (m *Mock) Kind() string { return "mock" }

func (m *Mock) List(ctx context.Context) ([]ArpEntry, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]ArpEntry, 0, len(m.entries))
	for _, e := range m.entries {
		out = append(out, e)
	}
	return out, nil
}

func (m *Mock) Add(ctx context.Context, entry ArpEntry) (ArpEntry, error) {
	if m.Fault != nil {
		return ArpEntry{}, m.Fault
	}
	if entry.Mac == BroadcastMac {
		return ArpEntry{}, lnvpserr.Validation("mac must not be the broadcast address")
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.next++
	entry.ID = fmt.Sprintf("mock-%d", m.next)
	m.entries[entry.ID] = entry
	return entry, nil
}

func (m *Mock) Update(ctx context.Context, entry ArpEntry) (ArpEntry, error) {
	if m.Fault != nil {
		return ArpEntry{}, m.Fault
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.entries[entry.ID]; !ok {
		return ArpEntry{}, lnvpserr.NotFound("arp entry %s", entry.ID)
	}
	m.entries[entry.ID] = entry
	return entry, nil
}

func (m *Mock) Remove(ctx context.Context, id string) error {
	if m.Fault != nil {
		return m.Fault
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.entries, id) // remove-of-missing is success
	return nil
}

func (m *Mock) GenerateMac(ctx context.Context, ip, comment string) (ArpEntry, bool, error) {
	if !m.MintsMac {
		return ArpEntry{}, false, nil
	}
	entry, err := m.Add(ctx, ArpEntry{IP: ip, Mac: fmt.Sprintf("02:00:00:00:%02x:%02x", len(m.entries)/256, len(m.entries)%256), Comment: comment})
	return entry, true, err
}
