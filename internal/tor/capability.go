package tor

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
)

// DefaultCapabilityCheckURL answers {"IsTor": true, "IP": "..."} and tells
// whether the request arrived from a Tor exit.
const DefaultCapabilityCheckURL = "https://check.torproject.org/api/ip"

// CapabilityChecker validates that a client really routes through Tor.
// Reaching the proxy is not enough; the check must see Tor on the far side.
type CapabilityChecker interface {
	Check(ctx context.Context, client *http.Client) error
}

// CheckerFunc adapts a function to CapabilityChecker.
type CheckerFunc func(ctx context.Context, client *http.Client) error

// Check calls f.
func (f CheckerFunc) Check(ctx context.Context, client *http.Client) error {
	return f(ctx, client)
}

// IsTorChecker queries an IsTor JSON endpoint.
type IsTorChecker struct {
	URL string
}

type isTorResponse struct {
	IsTor bool   `json:"IsTor"`
	IP    string `json:"IP"`
}

// Check fetches c.URL through client and fails with ErrProxyNotTor unless
// the endpoint reports IsTor.
func (c IsTorChecker) Check(ctx context.Context, client *http.Client) error {
	endpoint := c.URL
	if endpoint == "" {
		endpoint = DefaultCapabilityCheckURL
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return fmt.Errorf("failed to create capability request: %w", err)
	}
	resp, err := client.Do(req)
	if err != nil {
		return fmt.Errorf("capability check failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("capability check returned HTTP %d", resp.StatusCode)
	}

	var body isTorResponse
	if err := json.NewDecoder(io.LimitReader(resp.Body, 64*1024)).Decode(&body); err != nil {
		return fmt.Errorf("failed to decode capability response: %w", err)
	}
	if !body.IsTor {
		return ErrProxyNotTor
	}
	return nil
}
