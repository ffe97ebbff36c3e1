package storage

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sync"
	"time"

	_ "modernc.org/sqlite"

	"github.com/agentrail/frontdoor/interfaces"
)

// SQLiteStore implements interfaces.Store over a local SQLite database.
type SQLiteStore struct {
	db  *sql.DB
	log *slog.Logger

	// mu serializes write transactions so MAX+1 counter allocations never
	// interleave between connections.
	mu sync.Mutex
}

// NewSQLiteStore opens (creating if needed) the database at path and
// applies the schema.
func NewSQLiteStore(path string, log *slog.Logger) (*SQLiteStore, error) {
	if dir := filepath.Dir(path); dir != "." {
		if err := os.MkdirAll(dir, 0755); err != nil {
			return nil, fmt.Errorf("creating data directory: %w", err)
		}
	}

	db, err := sql.Open("sqlite", "file:"+path+"?_pragma=journal_mode(WAL)&_pragma=foreign_keys(1)&_pragma=busy_timeout(5000)")
	if err != nil {
		return nil, fmt.Errorf("opening database: %w", err)
	}

	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("pinging database: %w", err)
	}

	if _, err := db.Exec(schema); err != nil {
		db.Close()
		return nil, fmt.Errorf("applying schema: %w", err)
	}

	return &SQLiteStore{db: db, log: log}, nil
}

// Close releases the database handle.
func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

// CreateSession persists a new session, allocating its per-wallet version
// as max(existing versions)+1 within the insert transaction.
func (s *SQLiteStore) CreateSession(ctx context.Context, sess *interfaces.FrontdoorSession) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("beginning transaction: %w", err)
	}
	defer tx.Rollback()

	var version int64
	err = tx.QueryRowContext(ctx,
		`SELECT COALESCE(MAX(version), 0) + 1 FROM frontdoor_sessions WHERE wallet_address = ?`,
		sess.WalletAddress.String()).Scan(&version)
	if err != nil {
		return fmt.Errorf("allocating session version: %w", err)
	}

	_, err = tx.ExecContext(ctx, `
		INSERT INTO frontdoor_sessions (
			id, wallet_address, version, status, challenge_message, config_json,
			provisioning_source, instance_url, verify_url, external_app_id,
			verification_mode, error, created_at, updated_at, expires_at
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		sess.ID, sess.WalletAddress.String(), version, string(sess.Status),
		sess.ChallengeMessage, nullableJSON(sess.ConfigJSON),
		string(sess.ProvisioningSource), sess.InstanceURL, sess.VerifyURL,
		sess.ExternalAppID, string(sess.VerificationMode), sess.Error,
		sess.CreatedAt.UnixNano(), sess.UpdatedAt.UnixNano(), sess.ExpiresAt.UnixNano())
	if err != nil {
		return fmt.Errorf("inserting session: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("committing session insert: %w", err)
	}

	sess.Version = version
	return nil
}

// GetSession returns a session by id.
func (s *SQLiteStore) GetSession(ctx context.Context, id string) (*interfaces.FrontdoorSession, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT id, wallet_address, version, status, challenge_message, config_json,
			provisioning_source, instance_url, verify_url, external_app_id,
			verification_mode, error, created_at, updated_at, expires_at
		FROM frontdoor_sessions WHERE id = ?`, id)
	sess, err := scanSession(row)
	if err == sql.ErrNoRows {
		return nil, interfaces.ErrSessionNotFound
	}
	return sess, err
}

// UpdateSession persists a session's mutable fields.
func (s *SQLiteStore) UpdateSession(ctx context.Context, sess *interfaces.FrontdoorSession) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	sess.UpdatedAt = time.Now().UTC()
	res, err := s.db.ExecContext(ctx, `
		UPDATE frontdoor_sessions SET
			status = ?, config_json = ?, provisioning_source = ?, instance_url = ?,
			verify_url = ?, external_app_id = ?, verification_mode = ?, error = ?,
			updated_at = ?
		WHERE id = ?`,
		string(sess.Status), nullableJSON(sess.ConfigJSON),
		string(sess.ProvisioningSource), sess.InstanceURL, sess.VerifyURL,
		sess.ExternalAppID, string(sess.VerificationMode), sess.Error,
		sess.UpdatedAt.UnixNano(), sess.ID)
	if err != nil {
		return fmt.Errorf("updating session: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return interfaces.ErrSessionNotFound
	}
	return nil
}

// ListSessionsByWallet returns a wallet's sessions, newest version first.
func (s *SQLiteStore) ListSessionsByWallet(ctx context.Context, wallet interfaces.WalletAddress) ([]*interfaces.FrontdoorSession, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, wallet_address, version, status, challenge_message, config_json,
			provisioning_source, instance_url, verify_url, external_app_id,
			verification_mode, error, created_at, updated_at, expires_at
		FROM frontdoor_sessions WHERE wallet_address = ? ORDER BY version DESC`,
		wallet.String())
	if err != nil {
		return nil, fmt.Errorf("querying sessions: %w", err)
	}
	defer rows.Close()

	var sessions []*interfaces.FrontdoorSession
	for rows.Next() {
		sess, err := scanSession(rows)
		if err != nil {
			return nil, err
		}
		sessions = append(sessions, sess)
	}
	return sessions, rows.Err()
}

// CreateRun persists a new provisioning attempt. The attempt number is
// allocated as max(existing attempts)+1 and any prior in-flight run is
// marked superseded, all in one transaction.
func (s *SQLiteStore) CreateRun(ctx context.Context, run *interfaces.ProvisioningRun) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("beginning transaction: %w", err)
	}
	defer tx.Rollback()

	now := time.Now().UTC().UnixNano()
	_, err = tx.ExecContext(ctx, `
		UPDATE provisioning_runs SET status = ?, completed_at = ?
		WHERE session_id = ? AND completed_at IS NULL`,
		string(interfaces.RunSuperseded), now, run.SessionID)
	if err != nil {
		return fmt.Errorf("superseding in-flight run: %w", err)
	}

	var attempt int64
	err = tx.QueryRowContext(ctx,
		`SELECT COALESCE(MAX(attempt_number), 0) + 1 FROM provisioning_runs WHERE session_id = ?`,
		run.SessionID).Scan(&attempt)
	if err != nil {
		return fmt.Errorf("allocating attempt number: %w", err)
	}

	_, err = tx.ExecContext(ctx, `
		INSERT INTO provisioning_runs (
			id, session_id, attempt_number, status, error_code, error_message,
			instance_url, verify_url, external_app_id, started_at, completed_at
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, NULL)`,
		run.ID, run.SessionID, attempt, string(run.Status), run.ErrorCode,
		run.ErrorMessage, run.InstanceURL, run.VerifyURL, run.ExternalAppID,
		run.StartedAt.UnixNano())
	if err != nil {
		return fmt.Errorf("inserting run: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("committing run insert: %w", err)
	}

	run.AttemptNumber = attempt
	return nil
}

// SealRun records a run's terminal outcome.
func (s *SQLiteStore) SealRun(ctx context.Context, run *interfaces.ProvisioningRun) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	completed := time.Now().UTC()
	run.CompletedAt = &completed
	res, err := s.db.ExecContext(ctx, `
		UPDATE provisioning_runs SET
			status = ?, error_code = ?, error_message = ?,
			instance_url = ?, verify_url = ?, external_app_id = ?, completed_at = ?
		WHERE id = ?`,
		string(run.Status), run.ErrorCode, run.ErrorMessage,
		run.InstanceURL, run.VerifyURL, run.ExternalAppID,
		completed.UnixNano(), run.ID)
	if err != nil {
		return fmt.Errorf("sealing run: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return interfaces.ErrRunNotFound
	}
	return nil
}

// ListRuns returns a session's runs ordered by attempt number.
func (s *SQLiteStore) ListRuns(ctx context.Context, sessionID string) ([]*interfaces.ProvisioningRun, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, session_id, attempt_number, status, error_code, error_message,
			instance_url, verify_url, external_app_id, started_at, completed_at
		FROM provisioning_runs WHERE session_id = ? ORDER BY attempt_number`,
		sessionID)
	if err != nil {
		return nil, fmt.Errorf("querying runs: %w", err)
	}
	defer rows.Close()

	var runs []*interfaces.ProvisioningRun
	for rows.Next() {
		var run interfaces.ProvisioningRun
		var status string
		var startedAt int64
		var completedAt sql.NullInt64
		err := rows.Scan(&run.ID, &run.SessionID, &run.AttemptNumber, &status,
			&run.ErrorCode, &run.ErrorMessage, &run.InstanceURL, &run.VerifyURL,
			&run.ExternalAppID, &startedAt, &completedAt)
		if err != nil {
			return nil, fmt.Errorf("scanning run: %w", err)
		}
		run.Status = interfaces.RunStatus(status)
		run.StartedAt = time.Unix(0, startedAt).UTC()
		if completedAt.Valid {
			t := time.Unix(0, completedAt.Int64).UTC()
			run.CompletedAt = &t
		}
		runs = append(runs, &run)
	}
	return runs, rows.Err()
}

// AppendTimelineEvent persists an event, allocating its per-session
// sequence id within the insert transaction.
func (s *SQLiteStore) AppendTimelineEvent(ctx context.Context, ev *interfaces.TimelineEvent) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return 0, fmt.Errorf("beginning transaction: %w", err)
	}
	defer tx.Rollback()

	var seq int64
	err = tx.QueryRowContext(ctx,
		`SELECT COALESCE(MAX(seq_id), 0) + 1 FROM timeline_events WHERE session_id = ?`,
		ev.SessionID).Scan(&seq)
	if err != nil {
		return 0, fmt.Errorf("allocating sequence id: %w", err)
	}

	if ev.CreatedAt.IsZero() {
		ev.CreatedAt = time.Now().UTC()
	}
	_, err = tx.ExecContext(ctx, `
		INSERT INTO timeline_events (session_id, seq_id, event_type, status, detail, actor, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?)`,
		ev.SessionID, seq, ev.EventType, ev.Status, ev.Detail, ev.Actor,
		ev.CreatedAt.UnixNano())
	if err != nil {
		return 0, fmt.Errorf("inserting timeline event: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return 0, fmt.Errorf("committing timeline insert: %w", err)
	}

	ev.SeqID = seq
	return seq, nil
}

// ListTimelineSince returns all of a session's events with seq_id > since,
// in ascending order.
func (s *SQLiteStore) ListTimelineSince(ctx context.Context, sessionID string, since int64) ([]*interfaces.TimelineEvent, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT session_id, seq_id, event_type, status, detail, actor, created_at
		FROM timeline_events WHERE session_id = ? AND seq_id > ? ORDER BY seq_id`,
		sessionID, since)
	if err != nil {
		return nil, fmt.Errorf("querying timeline: %w", err)
	}
	defer rows.Close()

	var events []*interfaces.TimelineEvent
	for rows.Next() {
		var ev interfaces.TimelineEvent
		var createdAt int64
		err := rows.Scan(&ev.SessionID, &ev.SeqID, &ev.EventType, &ev.Status,
			&ev.Detail, &ev.Actor, &createdAt)
		if err != nil {
			return nil, fmt.Errorf("scanning timeline event: %w", err)
		}
		ev.CreatedAt = time.Unix(0, createdAt).UTC()
		events = append(events, &ev)
	}
	return events, rows.Err()
}

// InsertArtifactLink appends a verification artifact link row.
func (s *SQLiteStore) InsertArtifactLink(ctx context.Context, link *interfaces.VerificationArtifactLink) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if link.CreatedAt.IsZero() {
		link.CreatedAt = time.Now().UTC()
	}
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO verification_artifact_links (
			id, wallet_address, workspace, module, intent_id,
			execution_receipt_id, verification_record_id, chain_hash, status, created_at
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		link.ID, link.WalletAddress.String(), link.Workspace, link.Module,
		link.IntentID, link.ExecutionReceiptID, link.VerificationRecordID,
		link.ChainHash, link.Status, link.CreatedAt.UnixNano())
	if err != nil {
		return fmt.Errorf("inserting artifact link: %w", err)
	}
	return nil
}

// ListArtifactLinks returns a wallet's artifact links in insertion order.
func (s *SQLiteStore) ListArtifactLinks(ctx context.Context, wallet interfaces.WalletAddress) ([]*interfaces.VerificationArtifactLink, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, wallet_address, workspace, module, intent_id,
			execution_receipt_id, verification_record_id, chain_hash, status, created_at
		FROM verification_artifact_links WHERE wallet_address = ? ORDER BY created_at, id`,
		wallet.String())
	if err != nil {
		return nil, fmt.Errorf("querying artifact links: %w", err)
	}
	defer rows.Close()

	var links []*interfaces.VerificationArtifactLink
	for rows.Next() {
		var link interfaces.VerificationArtifactLink
		var wallet string
		var createdAt int64
		err := rows.Scan(&link.ID, &wallet, &link.Workspace, &link.Module,
			&link.IntentID, &link.ExecutionReceiptID, &link.VerificationRecordID,
			&link.ChainHash, &link.Status, &createdAt)
		if err != nil {
			return nil, fmt.Errorf("scanning artifact link: %w", err)
		}
		link.WalletAddress, err = interfaces.NewWalletAddressFromHex(wallet)
		if err != nil {
			return nil, fmt.Errorf("parsing stored wallet: %w", err)
		}
		link.CreatedAt = time.Unix(0, createdAt).UTC()
		links = append(links, &link)
	}
	return links, rows.Err()
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanSession(row rowScanner) (*interfaces.FrontdoorSession, error) {
	var sess interfaces.FrontdoorSession
	var wallet, status, source, mode string
	var configJSON sql.NullString
	var createdAt, updatedAt, expiresAt int64

	err := row.Scan(&sess.ID, &wallet, &sess.Version, &status,
		&sess.ChallengeMessage, &configJSON, &source, &sess.InstanceURL,
		&sess.VerifyURL, &sess.ExternalAppID, &mode, &sess.Error,
		&createdAt, &updatedAt, &expiresAt)
	if err != nil {
		return nil, err
	}

	sess.WalletAddress, err = interfaces.NewWalletAddressFromHex(wallet)
	if err != nil {
		return nil, fmt.Errorf("parsing stored wallet: %w", err)
	}
	sess.Status = interfaces.SessionStatus(status)
	sess.ProvisioningSource = interfaces.ProvisioningSource(source)
	sess.VerificationMode = interfaces.VerificationMode(mode)
	if configJSON.Valid {
		sess.ConfigJSON = json.RawMessage(configJSON.String)
	}
	sess.CreatedAt = time.Unix(0, createdAt).UTC()
	sess.UpdatedAt = time.Unix(0, updatedAt).UTC()
	sess.ExpiresAt = time.Unix(0, expiresAt).UTC()
	return &sess, nil
}

func nullableJSON(raw json.RawMessage) any {
	if len(raw) == 0 {
		return nil
	}
	return string(raw)
}
