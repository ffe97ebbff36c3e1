package interfaces

import "errors"

// Session and authentication errors.
var (
	// ErrSessionNotFound indicates the requested session id does not exist.
	ErrSessionNotFound = errors.New("session not found")

	// ErrSessionExpired indicates the session's expiry passed before a
	// terminal result was reached.
	ErrSessionExpired = errors.New("session expired")

	// ErrSessionAlreadyVerified indicates a verify attempt against a session
	// whose single-use challenge was already consumed.
	ErrSessionAlreadyVerified = errors.New("session already verified")

	// ErrSignatureMismatch indicates the recovered signer differs from the
	// session's wallet.
	ErrSignatureMismatch = errors.New("signature mismatch")

	// ErrChallengeMismatch indicates the submitted message is not
	// byte-identical to the session's stored challenge.
	ErrChallengeMismatch = errors.New("challenge message mismatch")
)

// Provisioning errors. Queue conflicts and rate limits are the only
// transient signals; everything else is terminal.
var (
	ErrQueueConflict = errors.New("provisioning queue conflict")
	ErrRateLimited   = errors.New("provisioning rate limited")
	ErrUnconfigured  = errors.New("no provisioning backend configured")
	ErrEmptyOutput   = errors.New("provisioning command produced no usable output")
	ErrRunNotFound   = errors.New("provisioning run not found")
)

// Verification errors.
var (
	// ErrVerificationUnavailable indicates the primary backend failed and
	// fallback is disabled: the gated action is blocked, not allowed.
	ErrVerificationUnavailable = errors.New("verification unavailable: primary failed and fallback disabled")

	// ErrChainDiverged indicates replaying the hash chain did not reproduce
	// the stored chain hashes.
	ErrChainDiverged = errors.New("verification chain diverged")
)
