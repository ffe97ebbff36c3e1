package interfaces

import (
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"
)

// WalletAddress represents an Ethereum account address.
type WalletAddress [20]byte

// NewWalletAddressFromBytes creates a wallet address from a 20-byte slice.
func NewWalletAddressFromBytes(addr []byte) (WalletAddress, error) {
	if len(addr) != 20 {
		return WalletAddress{}, errors.New("invalid address length: must be 20 bytes")
	}

	var res WalletAddress
	copy(res[:], addr)
	return res, nil
}

// NewWalletAddressFromHex parses a 0x-prefixed, 40-character hex wallet
// address. The input is case-insensitive.
func NewWalletAddressFromHex(addr string) (WalletAddress, error) {
	if !strings.HasPrefix(addr, "0x") && !strings.HasPrefix(addr, "0X") {
		return WalletAddress{}, errors.New("invalid wallet address: missing 0x prefix")
	}

	clean := addr[2:]
	if len(clean) != 40 {
		return WalletAddress{}, errors.New("invalid wallet address: hex string must be 40 characters")
	}

	addrBytes, err := hex.DecodeString(strings.ToLower(clean))
	if err != nil {
		return WalletAddress{}, fmt.Errorf("invalid wallet address: %w", err)
	}

	return NewWalletAddressFromBytes(addrBytes)
}

// String returns the lowercased, 0x-prefixed hex representation.
func (addr WalletAddress) String() string {
	return "0x" + hex.EncodeToString(addr[:])
}

// Bytes returns the raw 20-byte address.
func (addr WalletAddress) Bytes() []byte {
	return addr[:]
}

// Equal compares two wallet addresses for equality.
func (addr WalletAddress) Equal(other WalletAddress) bool {
	return addr == other
}

// MarshalText renders the address as lowercased 0x-prefixed hex, so JSON
// encodings carry the canonical form.
func (addr WalletAddress) MarshalText() ([]byte, error) {
	return []byte(addr.String()), nil
}

// UnmarshalText parses the canonical hex form.
func (addr *WalletAddress) UnmarshalText(text []byte) error {
	parsed, err := NewWalletAddressFromHex(string(text))
	if err != nil {
		return err
	}
	*addr = parsed
	return nil
}

// SessionStatus is the lifecycle state of a frontdoor session.
type SessionStatus string

const (
	StatusChallengeIssued    SessionStatus = "challenge_issued"
	StatusVerified           SessionStatus = "verified"
	StatusProvisioning       SessionStatus = "provisioning"
	StatusReady              SessionStatus = "ready"
	StatusFailed             SessionStatus = "failed"
	StatusVerificationFailed SessionStatus = "verification_failed"
	StatusExpired            SessionStatus = "expired"
)

// Terminal reports whether the status admits no further transitions.
func (s SessionStatus) Terminal() bool {
	switch s {
	case StatusReady, StatusFailed, StatusVerificationFailed, StatusExpired:
		return true
	}
	return false
}

// ProvisioningSource identifies which backend produced (or failed to
// produce) a session's instance.
type ProvisioningSource string

const (
	SourceCommand            ProvisioningSource = "command"
	SourceDefaultInstanceURL ProvisioningSource = "default_instance_url"
	SourceUnconfigured       ProvisioningSource = "unconfigured"
	SourceUnknown            ProvisioningSource = "unknown"
)

// VerificationMode distinguishes sessions whose gated actions were attested
// by the primary backend from those that fell back to local signing.
type VerificationMode string

const (
	VerificationModePrimary  VerificationMode = "primary"
	VerificationModeFallback VerificationMode = "fallback"
)

// RunStatus is the lifecycle state of a single provisioning attempt.
type RunStatus string

const (
	RunRunning    RunStatus = "running"
	RunSucceeded  RunStatus = "succeeded"
	RunFailed     RunStatus = "failed"
	RunSuperseded RunStatus = "superseded"
)

// FrontdoorSession is a wallet-bound provisioning session. Exactly one
// version value is the maximum for a wallet at any time; versions never
// decrease, and ExpiresAt is set at creation and never extended.
type FrontdoorSession struct {
	ID                 string
	WalletAddress      WalletAddress
	Version            int64
	Status             SessionStatus
	ChallengeMessage   string
	ConfigJSON         json.RawMessage
	ProvisioningSource ProvisioningSource
	InstanceURL        string
	VerifyURL          string
	ExternalAppID      string
	VerificationMode   VerificationMode
	Error              string
	CreatedAt          time.Time
	UpdatedAt          time.Time
	ExpiresAt          time.Time
}

// ProvisioningRun records one provisioning attempt for a session.
// CompletedAt is nil while the attempt is in flight; at most one run per
// session is in flight at a time.
type ProvisioningRun struct {
	ID            string
	SessionID     string
	AttemptNumber int64
	Status        RunStatus
	ErrorCode     string
	ErrorMessage  string
	InstanceURL   string
	VerifyURL     string
	ExternalAppID string
	StartedAt     time.Time
	CompletedAt   *time.Time
}

// TimelineEvent is one entry in a session's append-only event stream.
// SeqID is assigned per session, strictly increasing and gapless.
type TimelineEvent struct {
	SessionID string
	SeqID     int64
	EventType string
	Status    string
	Detail    string
	Actor     string
	CreatedAt time.Time
}

// VerificationArtifactLink binds a wallet/workspace/module to the lineage
// of one gated action. Rows are append-only; corrections require a new row.
type VerificationArtifactLink struct {
	ID                   string
	WalletAddress        WalletAddress
	Workspace            string
	Module               string
	IntentID             string
	ExecutionReceiptID   string
	VerificationRecordID string
	ChainHash            string
	Status               string
	CreatedAt            time.Time
}
