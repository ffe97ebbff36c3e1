// Package timeline provides the append-only, gaplessly sequenced
// per-session event stream consumed by polling clients.
//
// Sequence ids are allocated transactionally by the store; ordering within
// a session is additionally guaranteed by the single-writer discipline the
// session service enforces around every state transition.
package timeline

import (
	"context"
	"log/slog"

	"github.com/agentrail/frontdoor/interfaces"
)

// Actor labels for timeline events.
const (
	ActorSystem      = "system"
	ActorProvisioner = "provisioner"
	ActorVerifier    = "verifier"
)

// Log appends and reads session timeline events.
type Log struct {
	store interfaces.Store
	log   *slog.Logger
}

// NewLog creates a timeline log over the given store.
func NewLog(store interfaces.Store, log *slog.Logger) *Log {
	return &Log{store: store, log: log}
}

// Append records an event for a session and returns its sequence id.
// Append failures are logged but deliberately do not carry an error into
// the caller's state transition: the timeline is an observability stream,
// not the source of truth for session state.
func (l *Log) Append(ctx context.Context, sessionID, eventType, status, detail, actor string) int64 {
	seq, err := l.store.AppendTimelineEvent(ctx, &interfaces.TimelineEvent{
		SessionID: sessionID,
		EventType: eventType,
		Status:    status,
		Detail:    detail,
		Actor:     actor,
	})
	if err != nil {
		l.log.Error("Failed to append timeline event",
			"err", err, "session", sessionID, "event", eventType)
		return 0
	}
	return seq
}

// ListSince returns all events with seq_id > since for a session, in
// ascending order. This is the only supported consumption mode.
func (l *Log) ListSince(ctx context.Context, sessionID string, since int64) ([]*interfaces.TimelineEvent, error) {
	return l.store.ListTimelineSince(ctx, sessionID, since)
}
