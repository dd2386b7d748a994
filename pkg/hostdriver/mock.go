package hostdriver

import (
	"bytes"
	"context"
	"crypto/rand"
	"fmt"
	"io"
	"sync"
	"time"

	"github.com/lnvps/lnvpsd/pkg/lnvpserr"
)

// Mock is a test-substitutable Driver that keeps all state in memory.
type Mock struct {
	mu    sync.Mutex
	vms   map[int64]*mockVm
	macs  map[string]bool
	Fault error // when set, every mutating call returns this error
}

type mockVm struct {
	state   VmState
	spec    CreateSpec
	started time.Time
}

// NewMock creates an empty Mock driver.
func NewMock() *Mock {
	return &Mock{vms: make(map[int64]*mockVm), macs: make(map[string]bool)}
}

func (m *Mock) Kind() string { return "mock" }

func (m *Mock) GenerateMAC(ctx context.Context) (string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	for i := 0; i < 16; i++ {
		mac, err := randomLocalMAC()
		if err != nil {
			return "", lnvpserr.Fatal(err, "generating mock mac")
		}
		if !m.macs[mac] {
			m.macs[mac] = true
			return mac, nil
		}
	}
	return "", lnvpserr.CapacityExhausted("exhausted mac address space")
}

func randomLocalMAC() (string, error) {
	buf := make([]byte, 6)
	if _, err := rand.Read(buf); err != nil {
		return "", err
	}
	buf[0] = (buf[0] | 0x02) & 0xfe // locally administered, unicast
	return fmt.Sprintf("%02x:%02x:%02x:%02x:%02x:%02x", buf[0], buf[1], buf[2], buf[3], buf[4], buf[5]), nil
}

func (m *Mock) CreateVm(ctx context.Context, spec CreateSpec) error {
	if m.Fault != nil {
		return m.Fault
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	if v, ok := m.vms[spec.VmID]; ok {
		v.spec = spec
		return nil
	}
	m.vms[spec.VmID] = &mockVm{state: StateStopped, spec: spec}
	return nil
}

func (m *Mock) StartVm(ctx context.Context, vmID int64) error {
	if m.Fault != nil {
		return m.Fault
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	v := m.vm(vmID)
	v.state = StateRunning
	v.started = time.Now()
	return nil
}

func (m *Mock) StopVm(ctx context.Context, vmID int64) error {
	if m.Fault != nil {
		return m.Fault
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.vm(vmID).state = StateStopped
	return nil
}

func (m *Mock) DeleteVm(ctx context.Context, vmID int64) error {
	if m.Fault != nil {
		return m.Fault
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.vms, vmID)
	return nil
}

func (m *Mock) ConfigureVm(ctx context.Context, vmID int64, spec ConfigureSpec) error {
	if m.Fault != nil {
		return m.Fault
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	v := m.vm(vmID)
	v.spec.CPU = spec.CPU
	v.spec.MemoryBytes = spec.MemoryBytes
	v.spec.Network = spec.Network
	return nil
}

func (m *Mock) GetVmState(ctx context.Context, vmID int64) (VmState, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	v, ok := m.vms[vmID]
	if !ok {
		return StateUnknown, nil
	}
	return v.state, nil
}

func (m *Mock) SampleVm(ctx context.Context, vmID int64) (Sample, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	v, ok := m.vms[vmID]
	if !ok {
		return Sample{}, lnvpserr.NotFound("mock vm %d", vmID)
	}
	uptime := time.Duration(0)
	if v.state == StateRunning {
		uptime = time.Since(v.started)
	}
	return Sample{
		CPUPercent:  1.0,
		MemoryBytes: v.spec.MemoryBytes / 4,
		Uptime:      uptime,
		Timestamp:   time.Now(),
	}, nil
}

func (m *Mock) TerminalProxy(ctx context.Context, vmID int64) (io.ReadWriteCloser, error) {
	return nopCloser{bytes.NewBuffer(nil)}, nil
}

// vm returns the mockVm for id, creating it as Unknown->Stopped if absent
// (tolerates calls against a VM the test never explicitly created).
func (m *Mock) vm(id int64) *mockVm {
	v, ok := m.vms[id]
	if !ok {
		v = &mockVm{state: StateStopped}
		m.vms[id] = v
	}
	return v
}

type nopCloser struct{ *bytes.Buffer }

func (nopCloser) Close() error { return nil }
