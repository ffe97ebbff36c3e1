package lineage

import (
	"encoding/json"
	"time"

	"github.com/agentrail/frontdoor/interfaces"
)

// Verification record sources and statuses.
const (
	SourcePrimary  = "primary"
	SourceFallback = "fallback"

	StatusVerified = "verified"
	StatusDegraded = "degraded"
	StatusFailed   = "failed"
)

// IntentSpec describes a gated action before it executes.
type IntentSpec struct {
	Wallet    interfaces.WalletAddress
	Workspace string
	Module    string
	Action    string
	Params    json.RawMessage
}

// IntentEnvelope is the immutable pre-action record of what a gated action
// intends to do.
type IntentEnvelope struct {
	ID        string                   `json:"id"`
	Wallet    interfaces.WalletAddress `json:"wallet_address"`
	Workspace string                   `json:"workspace,omitempty"`
	Module    string                   `json:"module,omitempty"`
	Action    string                   `json:"action"`
	Params    json.RawMessage          `json:"params,omitempty"`
	CreatedAt time.Time                `json:"created_at"`
}

// ExecutionReceipt is the immutable record of what actually happened when
// an intent was executed.
type ExecutionReceipt struct {
	ID         string    `json:"id"`
	IntentID   string    `json:"intent_id"`
	Outcome    string    `json:"outcome"`
	Detail     string    `json:"detail,omitempty"`
	ExecutedAt time.Time `json:"executed_at"`
}

// VerificationRecord attests a receipt, hash-chained to prior records.
// Records are immutable; corrections require a new record.
type VerificationRecord struct {
	ID          string          `json:"id"`
	IntentID    string          `json:"intent_id"`
	ReceiptID   string          `json:"receipt_id"`
	Source      string          `json:"source"`
	Status      string          `json:"status"`
	Attestation json.RawMessage `json:"attestation,omitempty"`
	Signature   string          `json:"signature,omitempty"`
	CreatedAt   time.Time       `json:"created_at"`

	// Chain linkage, computed on append. Not part of the record's
	// canonical bytes.
	PrevChainHash string `json:"prev_chain_hash,omitempty"`
	ChainHash     string `json:"chain_hash,omitempty"`
}

// canonicalReceiptBytes is the deterministic encoding a fallback signature
// covers.
func canonicalReceiptBytes(r *ExecutionReceipt) ([]byte, error) {
	return json.Marshal(r)
}

// canonicalBytes returns the deterministic encoding the chain hash covers:
// the record's content without its chain linkage.
func (r *VerificationRecord) canonicalBytes() ([]byte, error) {
	core := *r
	core.PrevChainHash = ""
	core.ChainHash = ""
	return json.Marshal(&core)
}
