package dnsdriver

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net"
	"net/http"
	"time"

	"github.com/lnvps/lnvpsd/pkg/lnvpserr"
)

// RestZone is a generic REST DNS-zone client, the shape most self-hosted
// and cloud DNS control planes expose (PowerDNS, Cloudflare-style APIs).
// Operators point it at a provider-specific BaseURL; the request/response
// shape below matches PowerDNS's zone API.
type RestZone struct {
	BaseURL string
	APIKey  string
	ZoneID  string
	Client  *http.Client
}

func NewRestZone(baseURL, apiKey, zoneID string) *RestZone {
	return &RestZone{BaseURL: baseURL, APIKey: apiKey, ZoneID: zoneID, Client: &http.Client{Timeout: 15 * time.Second}}
}

func (r *RestZone) Kind() string { return "rest" }

type rrsetPatch struct {
	RRSets []rrset `json:"rrsets"`
}

type rrset struct {
	Name       string    `json:"name"`
	Type       string    `json:"type"`
	TTL        int       `json:"ttl"`
	ChangeType string    `json:"changetype"`
	Records    []rrecord `json:"records"`
}

type rrecord struct {
	Content  string `json:"content"`
	Disabled bool   `json:"disabled"`
}

func (r *RestZone) patch(ctx context.Context, name, recordType string, changeType string, content string) error {
	body := rrsetPatch{RRSets: []rrset{{
		Name:       name,
		Type:       recordType,
		TTL:        300,
		ChangeType: changeType,
	}}}
	if changeType == "REPLACE" {
		body.RRSets[0].Records = []rrecord{{Content: content}}
	}

	payload, err := json.Marshal(body)
	if err != nil {
		return lnvpserr.Fatal(err, "encoding dns patch body")
	}

	url := fmt.Sprintf("%s/zones/%s", r.BaseURL, r.ZoneID)
	req, err := http.NewRequestWithContext(ctx, http.MethodPatch, url, bytes.NewReader(payload))
	if err != nil {
		return lnvpserr.Fatal(err, "building dns patch request")
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("X-API-Key", r.APIKey)

	resp, err := r.Client.Do(req)
	if err != nil {
		return lnvpserr.TransientRemote(err, "calling dns api")
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusTooManyRequests || resp.StatusCode >= 500 {
		return lnvpserr.TransientRemote(fmt.Errorf("status %d", resp.StatusCode), "dns api")
	}
	if resp.StatusCode == http.StatusNotFound {
		return lnvpserr.NotFound("dns api %s %s", recordType, name)
	}
	if resp.StatusCode >= 400 {
		return lnvpserr.TerminalRemote(fmt.Errorf("status %d", resp.StatusCode), "dns api")
	}
	return nil
}

func (r *RestZone) AddForward(ctx context.Context, name string, ip net.IP) (string, error) {
	recordType := "A"
	if ip.To4() == nil {
		recordType = "AAAA"
	}
	ref := recordType + ":" + name
	if err := r.patch(ctx, name, recordType, "REPLACE", ip.String()); err != nil {
		return "", err
	}
	return ref, nil
}

func (r *RestZone) DeleteForward(ctx context.Context, ref string) error {
	recordType, name, err := splitRef(ref)
	if err != nil {
		return nil // malformed/unknown ref: treat as already-deleted
	}
	err = r.patch(ctx, name, recordType, "DELETE", "")
	if lnvpserr.Is(err, lnvpserr.KindNotFound) {
		return nil
	}
	return err
}

func (r *RestZone) AddReverse(ctx context.Context, reverseName, target string) (string, error) {
	ref := "PTR:" + reverseName
	if err := r.patch(ctx, reverseName, "PTR", "REPLACE", target); err != nil {
		return "", err
	}
	return ref, nil
}

func (r *RestZone) DeleteReverse(ctx context.Context, ref string) error {
	recordType, name, err := splitRef(ref)
	if err != nil {
		return nil
	}
	err = r.patch(ctx, name, recordType, "DELETE", "")
	if lnvpserr.Is(err, lnvpserr.KindNotFound) {
		return nil
	}
	return err
}

func splitRef(ref string) (recordType, name string, err error) {
	for i := 0; i < len(ref); i++ {
		if ref[i] == ':' {
			return ref[:i], ref[i+1:], nil
		}
	}
	return "", "", fmt.Errorf("malformed dns record ref %q", ref)
}
