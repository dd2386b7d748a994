package routerdriver

import (
	"bytes"
	"context"
	"crypto/sha1" //nolint:gosec // OVH's signature scheme is specified as SHA1, not a choice made here
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"time"

	"github.com/lnvps/lnvpsd/pkg/lnvpserr"
)

// OvhAdditionalIp manages OVH's "additional IP" virtual-MAC feature: OVH
// mints the MAC for an additional IP on request and the "ARP entry" is
// really the dedicated-server virtual-MAC binding. Signs requests per
// OVH's documented HMAC-SHA1 application scheme.
type OvhAdditionalIp struct {
	Endpoint      string // e.g. "https://eu.api.ovh.com/1.0"
	ServiceName   string // dedicated server or service name the IP block belongs to
	AppKey        string
	AppSecret     string
	ConsumerKey   string
	Client        *http.Client
	timeDeltaSecs int64 // server time offset, fetched lazily
}

func NewOvhAdditionalIp(endpoint, serviceName, appKey, appSecret, consumerKey string) *OvhAdditionalIp {
	return &OvhAdditionalIp{
		Endpoint:    endpoint,
		ServiceName: serviceName,
		AppKey:      appKey,
		AppSecret:   appSecret,
		ConsumerKey: consumerKey,
		Client:      &http.Client{Timeout: 30 * time.Second},
	}
}

func (o *OvhAdditionalIp) Kind() string { return "ovh_additional_ip" }

func (o *OvhAdditionalIp) sign(method, url string, body []byte, timestamp int64) string {
	h := sha1.New() //nolint:gosec
	fmt.Fprintf(h, "%s+%s+%s+%s+%s+%d", o.AppSecret, o.ConsumerKey, method, url, body, timestamp)
	return "$1$" + fmt.Sprintf("%x", h.Sum(nil))
}

func (o *OvhAdditionalIp) do(ctx context.Context, method, path string, body any, out any) error {
	var payload []byte
	if body != nil {
		var err error
		payload, err = json.Marshal(body)
		if err != nil {
			return lnvpserr.Fatal(err, "encoding ovh request body")
		}
	}

	fullURL := o.Endpoint + path
	now := time.Now().Unix() + o.timeDeltaSecs

	req, err := http.NewRequestWithContext(ctx, method, fullURL, bytes.NewReader(payload))
	if err != nil {
		return lnvpserr.Fatal(err, "building ovh request")
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("X-Ovh-Application", o.AppKey)
	req.Header.Set("X-Ovh-Consumer", o.ConsumerKey)
	req.Header.Set("X-Ovh-Timestamp", strconv.FormatInt(now, 10))
	req.Header.Set("X-Ovh-Signature", o.sign(method, fullURL, payload, now))

	resp, err := o.Client.Do(req)
	if err != nil {
		return lnvpserr.TransientRemote(err, "calling ovh %s %s", method, path)
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusTooManyRequests || resp.StatusCode >= 500 {
		return lnvpserr.TransientRemote(fmt.Errorf("status %d", resp.StatusCode), "ovh %s %s", method, path)
	}
	if resp.StatusCode == http.StatusNotFound {
		return lnvpserr.NotFound("ovh %s %s", method, path)
	}
	if resp.StatusCode >= 400 {
		b, _ := io.ReadAll(resp.Body)
		return lnvpserr.TerminalRemote(fmt.Errorf("status %d: %s", resp.StatusCode, b), "ovh %s %s", method, path)
	}

	if out != nil {
		if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
			return lnvpserr.TerminalRemote(err, "decoding ovh response")
		}
	}
	return nil
}

// List is unsupported: OVH virtual-MAC bindings are queried per-IP, not
// enumerated. Returns an empty list.
func (o *OvhAdditionalIp) List(ctx context.Context) ([]ArpEntry, error) {
	return nil, nil
}

func (o *OvhAdditionalIp) Add(ctx context.Context, entry ArpEntry) (ArpEntry, error) {
	entry, _, err := o.GenerateMac(ctx, entry.IP, entry.Comment)
	return entry, err
}

func (o *OvhAdditionalIp) Update(ctx context.Context, entry ArpEntry) (ArpEntry, error) {
	return entry, nil // virtual-MAC bindings are immutable once minted
}

func (o *OvhAdditionalIp) Remove(ctx context.Context, id string) error {
	path := fmt.Sprintf("/dedicated/server/%s/virtualMac/%s/virtualAddress/%s", o.ServiceName, id, id)
	err := o.do(ctx, http.MethodDelete, path, nil, nil)
	if lnvpserr.Is(err, lnvpserr.KindNotFound) {
		return nil
	}
	return err
}

type ovhVirtualMacResponse struct {
	VirtualMac string `json:"virtualMac"`
}

// GenerateMac asks OVH to mint (or return the existing) virtual MAC for ip
// on the configured dedicated server.
func (o *OvhAdditionalIp) GenerateMac(ctx context.Context, ip, comment string) (ArpEntry, bool, error) {
	path := fmt.Sprintf("/dedicated/server/%s/virtualMac", o.ServiceName)
	body := map[string]string{"ipAddress": ip, "virtualMacType": "ovh", "name": comment}

	var out ovhVirtualMacResponse
	if err := o.do(ctx, http.MethodPost, path, body, &out); err != nil {
		return ArpEntry{}, true, err
	}
	return ArpEntry{ID: out.VirtualMac, IP: ip, Mac: out.VirtualMac, Comment: comment}, true, nil
}
