package lineage

import (
	"context"
	"crypto/ecdsa"
	"encoding/hex"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/ethereum/go-ethereum/crypto"
	"github.com/google/uuid"

	"github.com/agentrail/frontdoor/interfaces"
	"github.com/agentrail/frontdoor/profileconfig"
)

// Engine produces and persists the Intent -> Receipt -> VerificationRecord
// chain for gated actions.
type Engine struct {
	store   interfaces.Store
	primary *PrimaryClient // nil when no primary backend is configured
	chain   *ChainLog

	// signingKey is loaded once and read-only for the process lifetime.
	signingKey      *ecdsa.PrivateKey
	fallbackEnabled bool

	log *slog.Logger

	mu       sync.Mutex
	intents  map[string]*IntentEnvelope
	receipts map[string]*ExecutionReceipt
}

// NewEngine creates a lineage engine. primary may be nil (no remote
// backend); signingKey is required when fallback is enabled.
func NewEngine(store interfaces.Store, primary *PrimaryClient, chain *ChainLog, signingKey *ecdsa.PrivateKey, fallbackEnabled bool, log *slog.Logger) (*Engine, error) {
	if fallbackEnabled && signingKey == nil {
		return nil, errors.New("fallback verification enabled without a signing key")
	}
	return &Engine{
		store:           store,
		primary:         primary,
		chain:           chain,
		signingKey:      signingKey,
		fallbackEnabled: fallbackEnabled,
		log:             log,
		intents:         make(map[string]*IntentEnvelope),
		receipts:        make(map[string]*ExecutionReceipt),
	}, nil
}

// RecordIntent creates the immutable pre-action record of a gated action.
func (e *Engine) RecordIntent(ctx context.Context, spec IntentSpec) (*IntentEnvelope, error) {
	if spec.Action == "" {
		return nil, errors.New("intent action is required")
	}

	intent := &IntentEnvelope{
		ID:        uuid.NewString(),
		Wallet:    spec.Wallet,
		Workspace: spec.Workspace,
		Module:    spec.Module,
		Action:    spec.Action,
		Params:    spec.Params,
		CreatedAt: time.Now().UTC(),
	}

	e.mu.Lock()
	e.intents[intent.ID] = intent
	e.mu.Unlock()

	e.log.Debug("Recorded intent", "intent", intent.ID, "action", intent.Action)
	return intent, nil
}

// RecordReceipt seals the outcome of executing an intent. Each intent
// admits exactly one receipt.
func (e *Engine) RecordReceipt(ctx context.Context, intentID, outcome, detail string) (*ExecutionReceipt, error) {
	e.mu.Lock()
	defer e.mu.Unlock()

	if _, ok := e.intents[intentID]; !ok {
		return nil, fmt.Errorf("unknown intent %s", intentID)
	}
	for _, r := range e.receipts {
		if r.IntentID == intentID {
			return nil, fmt.Errorf("intent %s already has receipt %s", intentID, r.ID)
		}
	}

	receipt := &ExecutionReceipt{
		ID:         uuid.NewString(),
		IntentID:   intentID,
		Outcome:    outcome,
		Detail:     detail,
		ExecutedAt: time.Now().UTC(),
	}
	e.receipts[receipt.ID] = receipt
	return receipt, nil
}

// Verify attests a receipt, producing the next VerificationRecord of the
// chain. The backend policy decides the path: primary with optional
// fallback, or fallback-only. When the primary fails and fallback is
// disabled, the action is blocked and no record is minted; an artifact
// link with status failed is still appended for audit.
func (e *Engine) Verify(ctx context.Context, receiptID string, backend profileconfig.VerificationBackend) (*VerificationRecord, error) {
	e.mu.Lock()
	receipt, ok := e.receipts[receiptID]
	var intent *IntentEnvelope
	if ok {
		intent = e.intents[receipt.IntentID]
	}
	e.mu.Unlock()
	if !ok || intent == nil {
		return nil, fmt.Errorf("unknown receipt %s", receiptID)
	}

	record := &VerificationRecord{
		ID:        uuid.NewString(),
		IntentID:  receipt.IntentID,
		ReceiptID: receipt.ID,
		CreatedAt: time.Now().UTC(),
	}

	var primaryErr error
	if backend != profileconfig.BackendFallbackOnly && e.primary != nil {
		attestation, err := e.primary.Verify(ctx, receipt)
		if err == nil {
			record.Source = SourcePrimary
			record.Status = StatusVerified
			record.Attestation = attestation
			return e.seal(ctx, intent, record)
		}
		primaryErr = err
		e.log.Warn("Primary verification failed", "err", err, "receipt", receipt.ID)
	} else if backend != profileconfig.BackendFallbackOnly && e.primary == nil {
		primaryErr = errors.New("no primary verification backend configured")
	}

	// fallback_only skips the primary entirely; config validation has
	// already forced fallback on for that policy.
	if !e.fallbackEnabled && backend != profileconfig.BackendFallbackOnly {
		e.appendLink(ctx, intent, receipt, nil, StatusFailed)
		if primaryErr != nil {
			return nil, fmt.Errorf("%v: %w", primaryErr, interfaces.ErrVerificationUnavailable)
		}
		return nil, interfaces.ErrVerificationUnavailable
	}
	if e.signingKey == nil {
		e.appendLink(ctx, intent, receipt, nil, StatusFailed)
		return nil, interfaces.ErrVerificationUnavailable
	}

	signature, err := e.signReceipt(receipt)
	if err != nil {
		return nil, fmt.Errorf("signing receipt: %w", err)
	}
	record.Source = SourceFallback
	record.Status = StatusDegraded
	record.Signature = signature
	return e.seal(ctx, intent, record)
}

// VerifyChain replays the fallback chain log and checks every stored hash.
func (e *Engine) VerifyChain() error {
	return e.chain.VerifyChain()
}

// seal appends the record to the hash chain and persists its artifact link.
func (e *Engine) seal(ctx context.Context, intent *IntentEnvelope, record *VerificationRecord) (*VerificationRecord, error) {
	if err := e.chain.Append(record); err != nil {
		return nil, fmt.Errorf("appending verification record: %w", err)
	}

	e.mu.Lock()
	receipt := e.receipts[record.ReceiptID]
	e.mu.Unlock()
	e.appendLink(ctx, intent, receipt, record, record.Status)

	e.log.Info("Verification record sealed",
		"record", record.ID, "source", record.Source, "status", record.Status)
	return record, nil
}

// appendLink persists the audit row binding the action's lineage. Link
// failures are logged, not propagated: the chain log is the integrity
// anchor, the relational row is a query surface.
func (e *Engine) appendLink(ctx context.Context, intent *IntentEnvelope, receipt *ExecutionReceipt, record *VerificationRecord, status string) {
	if e.store == nil {
		return
	}
	link := &interfaces.VerificationArtifactLink{
		ID:                 uuid.NewString(),
		WalletAddress:      intent.Wallet,
		Workspace:          intent.Workspace,
		Module:             intent.Module,
		IntentID:           intent.ID,
		ExecutionReceiptID: receipt.ID,
		Status:             status,
	}
	if record != nil {
		link.VerificationRecordID = record.ID
		link.ChainHash = record.ChainHash
	}
	if err := e.store.InsertArtifactLink(ctx, link); err != nil {
		e.log.Error("Failed to insert artifact link", "err", err, "intent", intent.ID)
	}
}

// RecoverFallbackSigner returns the wallet address that produced a
// fallback record's signature over the receipt's canonical bytes.
func RecoverFallbackSigner(receipt *ExecutionReceipt, signatureHex string) (interfaces.WalletAddress, error) {
	canonical, err := canonicalReceiptBytes(receipt)
	if err != nil {
		return interfaces.WalletAddress{}, err
	}
	sig, err := hex.DecodeString(signatureHex)
	if err != nil {
		return interfaces.WalletAddress{}, fmt.Errorf("decoding signature: %w", err)
	}
	pubkey, err := crypto.SigToPub(crypto.Keccak256(canonical), sig)
	if err != nil {
		return interfaces.WalletAddress{}, fmt.Errorf("recovering signer: %w", err)
	}
	return interfaces.NewWalletAddressFromBytes(crypto.PubkeyToAddress(*pubkey).Bytes())
}

// signReceipt signs the canonical receipt bytes with the fallback key.
func (e *Engine) signReceipt(receipt *ExecutionReceipt) (string, error) {
	canonical, err := canonicalReceiptBytes(receipt)
	if err != nil {
		return "", err
	}
	sig, err := crypto.Sign(crypto.Keccak256(canonical), e.signingKey)
	if err != nil {
		return "", err
	}
	return hex.EncodeToString(sig), nil
}
