package storage

const schema = `
CREATE TABLE IF NOT EXISTS frontdoor_sessions (
	id TEXT PRIMARY KEY,
	wallet_address TEXT NOT NULL,
	version INTEGER NOT NULL,
	status TEXT NOT NULL,
	challenge_message TEXT NOT NULL,
	config_json TEXT,
	provisioning_source TEXT NOT NULL DEFAULT 'unknown',
	instance_url TEXT NOT NULL DEFAULT '',
	verify_url TEXT NOT NULL DEFAULT '',
	external_app_id TEXT NOT NULL DEFAULT '',
	verification_mode TEXT NOT NULL DEFAULT '',
	error TEXT NOT NULL DEFAULT '',
	created_at INTEGER NOT NULL,
	updated_at INTEGER NOT NULL,
	expires_at INTEGER NOT NULL,
	UNIQUE(wallet_address, version)
);
CREATE INDEX IF NOT EXISTS idx_sessions_wallet ON frontdoor_sessions(wallet_address);

CREATE TABLE IF NOT EXISTS provisioning_runs (
	id TEXT PRIMARY KEY,
	session_id TEXT NOT NULL REFERENCES frontdoor_sessions(id) ON DELETE CASCADE,
	attempt_number INTEGER NOT NULL,
	status TEXT NOT NULL,
	error_code TEXT NOT NULL DEFAULT '',
	error_message TEXT NOT NULL DEFAULT '',
	instance_url TEXT NOT NULL DEFAULT '',
	verify_url TEXT NOT NULL DEFAULT '',
	external_app_id TEXT NOT NULL DEFAULT '',
	started_at INTEGER NOT NULL,
	completed_at INTEGER,
	UNIQUE(session_id, attempt_number)
);
CREATE INDEX IF NOT EXISTS idx_runs_session ON provisioning_runs(session_id);

CREATE TABLE IF NOT EXISTS verification_artifact_links (
	id TEXT PRIMARY KEY,
	wallet_address TEXT NOT NULL,
	workspace TEXT NOT NULL DEFAULT '',
	module TEXT NOT NULL DEFAULT '',
	intent_id TEXT NOT NULL,
	execution_receipt_id TEXT NOT NULL,
	verification_record_id TEXT NOT NULL DEFAULT '',
	chain_hash TEXT NOT NULL DEFAULT '',
	status TEXT NOT NULL,
	created_at INTEGER NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_links_wallet ON verification_artifact_links(wallet_address);

CREATE TABLE IF NOT EXISTS timeline_events (
	session_id TEXT NOT NULL REFERENCES frontdoor_sessions(id) ON DELETE CASCADE,
	seq_id INTEGER NOT NULL,
	event_type TEXT NOT NULL,
	status TEXT NOT NULL DEFAULT '',
	detail TEXT NOT NULL DEFAULT '',
	actor TEXT NOT NULL DEFAULT '',
	created_at INTEGER NOT NULL,
	PRIMARY KEY(session_id, seq_id)
);
`
