package routerdriver

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/lnvps/lnvpsd/pkg/lnvpserr"
)

// Mikrotik manages static ARP entries through RouterOS v7's REST API
// (/rest/ip/arp), authenticated with HTTP basic auth over the router's
// configured URL.
type Mikrotik struct {
	BaseURL  string
	Username string
	Password string
	Client   *http.Client
}

// NewMikrotik builds a Mikrotik driver. baseURL is the router's REST root,
// e.g. "https://10.0.0.1".
func NewMikrotik(baseURL, username, password string) *Mikrotik {
	return &Mikrotik{
		BaseURL:  baseURL,
		Username: username,
		Password: password,
		Client:   &http.Client{Timeout: 15 * time.Second},
	}
}

func (m *Mikrotik) Kind() string { return "mikrotik" }

type mikrotikArp struct {
	ID        string `json:".id,omitempty"`
	Address   string `json:"address"`
	MacAddr   string `json:"mac-address"`
	Interface string `json:"interface,omitempty"`
	Comment   string `json:"comment,omitempty"`
}

func (e mikrotikArp) toEntry() ArpEntry {
	return ArpEntry{ID: e.ID, IP: e.Address, Mac: e.MacAddr, Interface: e.Interface, Comment: e.Comment}
}

func (m *Mikrotik) do(ctx context.Context, method, path string, body any, out any) error {
	var reqBody *bytes.Reader
	if body != nil {
		b, err := json.Marshal(body)
		if err != nil {
			return lnvpserr.Fatal(err, "encoding mikrotik request body")
		}
		reqBody = bytes.NewReader(b)
	} else {
		reqBody = bytes.NewReader(nil)
	}

	req, err := http.NewRequestWithContext(ctx, method, m.BaseURL+path, reqBody)
	if err != nil {
		return lnvpserr.Fatal(err, "building mikrotik request")
	}
	req.SetBasicAuth(m.Username, m.Password)
	req.Header.Set("Content-Type", "application/json")

	resp, err := m.Client.Do(req)
	if err != nil {
		return lnvpserr.TransientRemote(err, "calling mikrotik %s %s", method, path)
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusTooManyRequests || resp.StatusCode >= 500 {
		return lnvpserr.TransientRemote(fmt.Errorf("status %d", resp.StatusCode), "mikrotik %s %s", method, path)
	}
	if resp.StatusCode == http.StatusNotFound {
		return lnvpserr.NotFound("mikrotik %s %s", method, path)
	}
	if resp.StatusCode >= 400 {
		return lnvpserr.TerminalRemote(fmt.Errorf("status %d", resp.StatusCode), "mikrotik %s %s", method, path)
	}

	if out != nil {
		if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
			return lnvpserr.TerminalRemote(err, "decoding mikrotik response")
		}
	}
	return nil
}

func (m *Mikrotik) List(ctx context.Context) ([]ArpEntry, error) {
	var entries []mikrotikArp
	if err := m.do(ctx, http.MethodGet, "/rest/ip/arp", nil, &entries); err != nil {
		return nil, err
	}
	out := make([]ArpEntry, len(entries))
	for i, e := range entries {
		out[i] = e.toEntry()
	}
	return out, nil
}

func (m *Mikrotik) Add(ctx context.Context, entry ArpEntry) (ArpEntry, error) {
	if entry.Mac == BroadcastMac {
		return ArpEntry{}, lnvpserr.Validation("mac must not be the broadcast address")
	}
	req := mikrotikArp{Address: entry.IP, MacAddr: entry.Mac, Interface: entry.Interface, Comment: entry.Comment}
	var out mikrotikArp
	if err := m.do(ctx, http.MethodPut, "/rest/ip/arp", req, &out); err != nil {
		return ArpEntry{}, err
	}
	return out.toEntry(), nil
}

func (m *Mikrotik) Update(ctx context.Context, entry ArpEntry) (ArpEntry, error) {
	req := mikrotikArp{Address: entry.IP, MacAddr: entry.Mac, Interface: entry.Interface, Comment: entry.Comment}
	var out mikrotikArp
	path := fmt.Sprintf("/rest/ip/arp/%s", entry.ID)
	if err := m.do(ctx, http.MethodPatch, path, req, &out); err != nil {
		return ArpEntry{}, err
	}
	return out.toEntry(), nil
}

func (m *Mikrotik) Remove(ctx context.Context, id string) error {
	err := m.do(ctx, http.MethodDelete, "/rest/ip/arp/"+id, nil, nil)
	if lnvpserr.Is(err, lnvpserr.KindNotFound) {
		return nil // remove-of-missing is success
	}
	return err
}

// GenerateMac: Mikrotik does not mint addresses.
func (m *Mikrotik) GenerateMac(ctx context.Context, ip, comment string) (ArpEntry, bool, error) {
	return ArpEntry{}, false, nil
}
