package provisioner

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"
)

// InstanceClient talks to a freshly provisioned agent instance: a bounded
// reachability poll followed by an authenticated settings import.
type InstanceClient struct {
	// HTTPClient defaults to http.DefaultClient.
	HTTPClient *http.Client

	// HealthInterval is the fixed sleep between reachability probes.
	HealthInterval time.Duration

	// HealthMaxPolls caps the number of probes.
	HealthMaxPolls int
}

func (c *InstanceClient) client() *http.Client {
	if c.HTTPClient != nil {
		return c.HTTPClient
	}
	return http.DefaultClient
}

// WaitHealthy polls the instance URL until it answers any HTTP status below
// 500, up to HealthMaxPolls probes spaced HealthInterval apart. The loop
// always terminates within the bounded window.
func (c *InstanceClient) WaitHealthy(ctx context.Context, instanceURL string) error {
	interval := c.HealthInterval
	if interval <= 0 {
		interval = 2 * time.Second
	}
	maxPolls := c.HealthMaxPolls
	if maxPolls <= 0 {
		maxPolls = 15
	}

	var lastErr error
	for i := 0; i < maxPolls; i++ {
		if i > 0 {
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-time.After(interval):
			}
		}

		req, err := http.NewRequestWithContext(ctx, http.MethodGet, instanceURL, nil)
		if err != nil {
			return fmt.Errorf("building health request: %w", err)
		}
		resp, err := c.client().Do(req)
		if err != nil {
			lastErr = err
			continue
		}
		io.Copy(io.Discard, resp.Body)
		resp.Body.Close()

		if resp.StatusCode < 500 {
			return nil
		}
		lastErr = fmt.Errorf("instance answered %d", resp.StatusCode)
	}
	return fmt.Errorf("instance did not become healthy after %d polls: %w", maxPolls, lastErr)
}

// ImportSettings pushes the session's runtime configuration into the
// instance over its settings-import endpoint, authenticated with the
// gateway key.
func (c *InstanceClient) ImportSettings(ctx context.Context, instanceURL, gatewayAuthKey string, config json.RawMessage) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost,
		instanceURL+"/api/settings/import", bytes.NewReader(config))
	if err != nil {
		return fmt.Errorf("building settings import request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+gatewayAuthKey)

	resp, err := c.client().Do(req)
	if err != nil {
		return fmt.Errorf("calling settings import: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		return fmt.Errorf("settings import returned %d: %s", resp.StatusCode, bytes.TrimSpace(body))
	}
	return nil
}
