package lineage

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"
)

// Auth schemes for the primary verification backend.
const (
	AuthBearer = "bearer"
	AuthAPIKey = "api_key"
)

// PrimaryClient calls the remote verification backend. Every call is
// bounded by Timeout; exceeding it is treated identically to a backend
// error for fallback-decision purposes.
type PrimaryClient struct {
	// URL is the attestation endpoint.
	URL string

	// AuthScheme is AuthBearer or AuthAPIKey.
	AuthScheme string

	// AuthToken is the credential for the configured scheme.
	AuthToken string

	// Timeout bounds a single verification call. Default 10s.
	Timeout time.Duration

	// HTTPClient defaults to http.DefaultClient.
	HTTPClient *http.Client
}

// Verify submits the receipt to the backend and returns its attestation
// payload, consumed opaquely.
func (c *PrimaryClient) Verify(ctx context.Context, receipt *ExecutionReceipt) (json.RawMessage, error) {
	timeout := c.Timeout
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	body, err := json.Marshal(receipt)
	if err != nil {
		return nil, fmt.Errorf("encoding receipt: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.URL, bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("building verification request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	switch c.AuthScheme {
	case AuthAPIKey:
		req.Header.Set("X-API-Key", c.AuthToken)
	default:
		req.Header.Set("Authorization", "Bearer "+c.AuthToken)
	}

	client := c.HTTPClient
	if client == nil {
		client = http.DefaultClient
	}
	resp, err := client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("calling verification backend: %w", err)
	}
	defer resp.Body.Close()

	payload, err := io.ReadAll(io.LimitReader(resp.Body, 1024*1024))
	if err != nil {
		return nil, fmt.Errorf("reading attestation payload: %w", err)
	}
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("verification backend returned %d: %s", resp.StatusCode, bytes.TrimSpace(payload))
	}
	return json.RawMessage(payload), nil
}
