// Package session implements the frontdoor session lifecycle: challenge
// issuance, wallet-signature verification, config validation and the
// handoff to provisioning.
//
// All state-affecting operations for a single session id are serialized
// through a keyed mutex, so a verify call, a status poll and a provisioning
// completion callback for the same session never race. Expiry is lazy:
// checked on read, not by a timer service.
package session

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/agentrail/frontdoor/cryptoutils"
	"github.com/agentrail/frontdoor/interfaces"
	"github.com/agentrail/frontdoor/profileconfig"
	"github.com/agentrail/frontdoor/timeline"
)

// DefaultChallengeTTL is how long a challenge stays signable.
const DefaultChallengeTTL = 900 * time.Second

// Provisioner starts asynchronous provisioning for a verified session.
// Implementations must not block; progress is observed through session
// status and the timeline.
type Provisioner interface {
	Provision(sess *interfaces.FrontdoorSession)
}

// Config carries the session service's tunables.
type Config struct {
	// PurposeLabel prefixes every challenge message.
	PurposeLabel string

	// ChallengeTTL bounds how long a challenge stays signable. Defaults to
	// DefaultChallengeTTL.
	ChallengeTTL time.Duration

	// DefaultChainID is used when a challenge request omits chain_id.
	DefaultChainID int64
}

// Service owns the session state machine.
type Service struct {
	store       interfaces.Store
	events      *timeline.Log
	provisioner Provisioner
	locks       *keyedMutex
	cfg         Config
	log         *slog.Logger
	now         func() time.Time
}

// New creates a session service. The provisioner is attached separately via
// SetProvisioner because it needs the service's lock discipline to exist
// first.
func New(store interfaces.Store, events *timeline.Log, cfg Config, log *slog.Logger) *Service {
	if cfg.ChallengeTTL <= 0 {
		cfg.ChallengeTTL = DefaultChallengeTTL
	}
	if cfg.PurposeLabel == "" {
		cfg.PurposeLabel = "agentrail frontdoor"
	}
	if cfg.DefaultChainID == 0 {
		cfg.DefaultChainID = 1
	}
	return &Service{
		store:  store,
		events: events,
		locks:  newKeyedMutex(),
		cfg:    cfg,
		log:    log,
		now:    time.Now,
	}
}

// SetProvisioner attaches the provisioning backend invoked after a
// successful verify.
func (s *Service) SetProvisioner(p Provisioner) {
	s.provisioner = p
}

// LockSession acquires the per-session mutex and returns its unlock
// function. The provisioning orchestrator uses this to serialize its
// completion writes with verify and poll operations.
func (s *Service) LockSession(id string) func() {
	return s.locks.Lock(id)
}

// ChallengeTTL returns the configured challenge lifetime.
func (s *Service) ChallengeTTL() time.Duration {
	return s.cfg.ChallengeTTL
}

// Issue mints a fresh single-use challenge for a wallet and allocates a new
// session. A wallet may hold any number of concurrent sessions; versions
// are strictly increasing per wallet.
func (s *Service) Issue(ctx context.Context, wallet interfaces.WalletAddress, chainID int64) (*interfaces.FrontdoorSession, error) {
	if chainID == 0 {
		chainID = s.cfg.DefaultChainID
	}

	nonce, err := cryptoutils.NewNonce()
	if err != nil {
		return nil, err
	}

	now := s.now().UTC()
	sess := &interfaces.FrontdoorSession{
		ID:                 uuid.NewString(),
		WalletAddress:      wallet,
		Status:             interfaces.StatusChallengeIssued,
		ProvisioningSource: interfaces.SourceUnknown,
		CreatedAt:          now,
		UpdatedAt:          now,
		ExpiresAt:          now.Add(s.cfg.ChallengeTTL),
	}
	sess.ChallengeMessage = cryptoutils.ChallengeMessage(
		s.cfg.PurposeLabel, wallet, chainID, sess.ID, nonce, now, sess.ExpiresAt)

	if err := s.store.CreateSession(ctx, sess); err != nil {
		return nil, fmt.Errorf("creating session: %w", err)
	}

	s.events.Append(ctx, sess.ID, "challenge_issued", string(sess.Status),
		fmt.Sprintf("challenge issued for %s on chain %d", wallet, chainID),
		timeline.ActorSystem)

	s.log.Info("Issued challenge",
		"session", sess.ID, "wallet", wallet.String(), "version", sess.Version)
	return sess, nil
}

// Verify consumes a session's single-use challenge. The submitted message
// must be byte-identical to the stored challenge and the recovered signer
// must be the session's wallet; the config must then validate against that
// wallet. Any failure moves the session to a terminal state; the nonce is
// never signable twice.
//
// On success the session transitions challenge_issued -> verified ->
// provisioning and the provisioner is started in the background.
func (s *Service) Verify(ctx context.Context, sessionID string, wallet interfaces.WalletAddress, message string, signature []byte, cfg *profileconfig.RuntimeConfig) (*interfaces.FrontdoorSession, error) {
	unlock := s.locks.Lock(sessionID)
	defer unlock()

	sess, err := s.store.GetSession(ctx, sessionID)
	if err != nil {
		return nil, err
	}

	if expired, err := s.expireIfDue(ctx, sess); expired || err != nil {
		if err != nil {
			return nil, err
		}
		return sess, interfaces.ErrSessionExpired
	}

	if sess.Status != interfaces.StatusChallengeIssued {
		return sess, interfaces.ErrSessionAlreadyVerified
	}

	if !sess.WalletAddress.Equal(wallet) {
		return s.failVerification(ctx, sess, "wallet does not own this session", interfaces.ErrSignatureMismatch)
	}

	if message != sess.ChallengeMessage {
		return s.failVerification(ctx, sess, "submitted message does not match issued challenge", interfaces.ErrChallengeMismatch)
	}

	recovered, err := cryptoutils.RecoverPersonalSignature([]byte(message), signature)
	if err != nil {
		return s.failVerification(ctx, sess, fmt.Sprintf("signature recovery failed: %v", err), interfaces.ErrSignatureMismatch)
	}
	if !recovered.Equal(sess.WalletAddress) {
		return s.failVerification(ctx, sess,
			fmt.Sprintf("recovered signer %s is not session wallet %s", recovered, sess.WalletAddress),
			interfaces.ErrSignatureMismatch)
	}

	validated, fieldErrs := profileconfig.Validate(cfg, sess.WalletAddress)
	if fieldErrs != nil {
		// The signature was valid, so the nonce is consumed; the session
		// still terminates because validation is all-or-nothing.
		if _, err := s.failVerification(ctx, sess, fieldErrs.Error(), nil); err != nil {
			return nil, err
		}
		return sess, fieldErrs
	}

	configJSON, err := json.Marshal(validated)
	if err != nil {
		return nil, fmt.Errorf("serializing validated config: %w", err)
	}

	sess.Status = interfaces.StatusVerified
	sess.ConfigJSON = configJSON
	if err := s.store.UpdateSession(ctx, sess); err != nil {
		return nil, err
	}
	s.events.Append(ctx, sess.ID, "signature_verified", string(sess.Status),
		"wallet signature verified and config accepted", timeline.ActorSystem)

	// verified -> provisioning is automatic.
	sess.Status = interfaces.StatusProvisioning
	if err := s.store.UpdateSession(ctx, sess); err != nil {
		return nil, err
	}
	s.events.Append(ctx, sess.ID, "provisioning_started", string(sess.Status),
		"provisioning handed off to orchestrator", timeline.ActorSystem)

	s.log.Info("Session verified, provisioning started",
		"session", sess.ID, "wallet", sess.WalletAddress.String())

	if s.provisioner != nil {
		s.provisioner.Provision(sess)
	}
	return sess, nil
}

// Get returns the current session state, applying lazy expiry.
func (s *Service) Get(ctx context.Context, sessionID string) (*interfaces.FrontdoorSession, error) {
	unlock := s.locks.Lock(sessionID)
	defer unlock()

	sess, err := s.store.GetSession(ctx, sessionID)
	if err != nil {
		return nil, err
	}
	if _, err := s.expireIfDue(ctx, sess); err != nil {
		return nil, err
	}
	return sess, nil
}

// List returns a wallet's sessions, newest version first, with lazy expiry
// applied to each.
func (s *Service) List(ctx context.Context, wallet interfaces.WalletAddress) ([]*interfaces.FrontdoorSession, error) {
	sessions, err := s.store.ListSessionsByWallet(ctx, wallet)
	if err != nil {
		return nil, err
	}
	for _, sess := range sessions {
		unlock := s.locks.Lock(sess.ID)
		_, err := s.expireIfDue(ctx, sess)
		unlock()
		if err != nil {
			return nil, err
		}
	}
	return sessions, nil
}

// expireIfDue transitions a non-terminal session past its expiry to
// expired. Caller must hold the session lock.
func (s *Service) expireIfDue(ctx context.Context, sess *interfaces.FrontdoorSession) (bool, error) {
	if sess.Status.Terminal() || !s.now().After(sess.ExpiresAt) {
		return false, nil
	}

	sess.Status = interfaces.StatusExpired
	sess.Error = "session expired before reaching a terminal result"
	if err := s.store.UpdateSession(ctx, sess); err != nil {
		return false, err
	}
	s.events.Append(ctx, sess.ID, "session_expired", string(sess.Status),
		sess.Error, timeline.ActorSystem)
	return true, nil
}

// failVerification consumes the challenge and terminates the session.
// Caller must hold the session lock.
func (s *Service) failVerification(ctx context.Context, sess *interfaces.FrontdoorSession, detail string, cause error) (*interfaces.FrontdoorSession, error) {
	sess.Status = interfaces.StatusVerificationFailed
	sess.Error = detail
	if err := s.store.UpdateSession(ctx, sess); err != nil {
		return nil, err
	}
	s.events.Append(ctx, sess.ID, "verification_failed", string(sess.Status),
		detail, timeline.ActorSystem)
	s.log.Warn("Session verification failed", "session", sess.ID, "detail", detail)
	return sess, cause
}
