package interfaces

import "context"

// Store is the persistence contract for the frontdoor service.
//
// Implementations must allocate monotonic counters transactionally:
// CreateSession assigns Version as max(wallet's versions)+1,
// CreateRun assigns AttemptNumber as max(session's attempts)+1 and marks any
// in-flight run superseded, and AppendTimelineEvent assigns SeqID as
// max(session's seq)+1. Each allocation happens in the same transaction as
// the insert so the gapless invariants hold under concurrency.
type Store interface {
	// CreateSession persists a new session, assigning its Version.
	CreateSession(ctx context.Context, sess *FrontdoorSession) error

	// GetSession returns the session by id, or ErrSessionNotFound.
	GetSession(ctx context.Context, id string) (*FrontdoorSession, error)

	// UpdateSession persists the mutable fields of an existing session.
	UpdateSession(ctx context.Context, sess *FrontdoorSession) error

	// ListSessionsByWallet returns all sessions for a wallet, newest
	// version first.
	ListSessionsByWallet(ctx context.Context, wallet WalletAddress) ([]*FrontdoorSession, error)

	// CreateRun persists a new provisioning attempt, assigning its
	// AttemptNumber and superseding any prior in-flight run.
	CreateRun(ctx context.Context, run *ProvisioningRun) error

	// SealRun records the terminal outcome of a run.
	SealRun(ctx context.Context, run *ProvisioningRun) error

	// ListRuns returns a session's runs ordered by attempt number.
	ListRuns(ctx context.Context, sessionID string) ([]*ProvisioningRun, error)

	// AppendTimelineEvent persists an event, assigning and returning its
	// per-session sequence id.
	AppendTimelineEvent(ctx context.Context, ev *TimelineEvent) (int64, error)

	// ListTimelineSince returns all events with SeqID > since, ascending.
	ListTimelineSince(ctx context.Context, sessionID string, since int64) ([]*TimelineEvent, error)

	// InsertArtifactLink appends a verification artifact link row.
	InsertArtifactLink(ctx context.Context, link *VerificationArtifactLink) error

	// ListArtifactLinks returns a wallet's artifact links in insertion order.
	ListArtifactLinks(ctx context.Context, wallet WalletAddress) ([]*VerificationArtifactLink, error)

	// Close releases the underlying database handle.
	Close() error
}
