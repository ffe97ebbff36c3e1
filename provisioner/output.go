package provisioner

import (
	"bytes"
	"encoding/json"
	"fmt"
	"net/url"

	"github.com/agentrail/frontdoor/interfaces"
)

// CommandOutput is the parsed answer of a provisioning command.
type CommandOutput struct {
	InstanceURL string
	VerifyURL   string
	AppID       string
}

// commandResult mirrors the recognized JSON keys of the command contract.
type commandResult struct {
	InstanceURL string `json:"instance_url"`
	URL         string `json:"url"`
	VerifyURL   string `json:"verify_url"`
	AppID       string `json:"app_id"`
}

// ParseCommandOutput interprets a provisioning command's stdout: either a
// bare URL or a JSON object with instance_url/url, optional verify_url and
// app_id. Empty or unrecognized output is a hard failure.
func ParseCommandOutput(raw []byte) (*CommandOutput, error) {
	trimmed := bytes.TrimSpace(raw)
	if len(trimmed) == 0 {
		return nil, interfaces.ErrEmptyOutput
	}

	if trimmed[0] == '{' {
		var res commandResult
		if err := json.Unmarshal(trimmed, &res); err != nil {
			return nil, fmt.Errorf("parsing provisioning command JSON: %w", err)
		}
		instance := res.InstanceURL
		if instance == "" {
			instance = res.URL
		}
		if instance == "" {
			return nil, fmt.Errorf("provisioning command JSON has no instance_url or url: %w", interfaces.ErrEmptyOutput)
		}
		if err := validateInstanceURL(instance); err != nil {
			return nil, err
		}
		return &CommandOutput{InstanceURL: instance, VerifyURL: res.VerifyURL, AppID: res.AppID}, nil
	}

	bare := string(trimmed)
	if err := validateInstanceURL(bare); err != nil {
		return nil, err
	}
	return &CommandOutput{InstanceURL: bare}, nil
}

func validateInstanceURL(raw string) error {
	u, err := url.Parse(raw)
	if err != nil {
		return fmt.Errorf("invalid instance URL %q: %w", raw, err)
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		return fmt.Errorf("invalid instance URL %q: scheme must be http or https", raw)
	}
	if u.Host == "" {
		return fmt.Errorf("invalid instance URL %q: missing host", raw)
	}
	return nil
}
