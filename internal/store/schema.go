package store

import "fmt"

// schema is applied on every startup. Statements are idempotent.
var schema = []string{
	`CREATE TABLE IF NOT EXISTS credentials (
		id TEXT PRIMARY KEY,
		name TEXT NOT NULL,
		service_type TEXT NOT NULL,
		active INTEGER NOT NULL DEFAULT 1,
		expires_at TEXT,
		allowed_ips TEXT NOT NULL DEFAULT '[]',
		allowed_domains TEXT NOT NULL DEFAULT '[]',
		rate_limit_per_minute INTEGER NOT NULL DEFAULT 0,
		max_concurrent INTEGER NOT NULL DEFAULT 0,
		probe_url TEXT NOT NULL DEFAULT '',
		last_rotated_at TEXT,
		secret_preview TEXT NOT NULL DEFAULT '',
		emergency TEXT,
		created_at TEXT NOT NULL,
		updated_at TEXT NOT NULL
	)`,
	`CREATE INDEX IF NOT EXISTS idx_credentials_active ON credentials(active)`,

	`CREATE TABLE IF NOT EXISTS audit_log (
		id TEXT PRIMARY KEY,
		credential_id TEXT NOT NULL DEFAULT '',
		action TEXT NOT NULL,
		principal TEXT NOT NULL DEFAULT '',
		success INTEGER NOT NULL,
		error TEXT NOT NULL DEFAULT '',
		metadata TEXT NOT NULL DEFAULT '{}',
		created_at TEXT NOT NULL
	)`,
	`CREATE INDEX IF NOT EXISTS idx_audit_credential ON audit_log(credential_id, created_at)`,
	`CREATE INDEX IF NOT EXISTS idx_audit_created ON audit_log(created_at)`,

	`CREATE TABLE IF NOT EXISTS health_checks (
		id TEXT PRIMARY KEY,
		credential_id TEXT NOT NULL,
		status TEXT NOT NULL,
		latency_ms INTEGER NOT NULL,
		error TEXT NOT NULL DEFAULT '',
		checked_at TEXT NOT NULL
	)`,
	`CREATE INDEX IF NOT EXISTS idx_health_credential ON health_checks(credential_id, checked_at)`,

	`CREATE TABLE IF NOT EXISTS rotation_sessions (
		id TEXT PRIMARY KEY,
		credential_id TEXT NOT NULL,
		status TEXT NOT NULL,
		initiated_by TEXT NOT NULL DEFAULT '',
		grace_period_ms INTEGER NOT NULL DEFAULT 0,
		grace_entered_at TEXT,
		old_secret_preview TEXT NOT NULL DEFAULT '',
		new_secret_preview TEXT NOT NULL DEFAULT '',
		error TEXT NOT NULL DEFAULT '',
		started_at TEXT NOT NULL,
		completed_at TEXT,
		transitions TEXT NOT NULL DEFAULT '[]'
	)`,
	// The partial unique index is the one-active-session invariant: a
	// second claim for the same credential fails at the INSERT.
	`CREATE UNIQUE INDEX IF NOT EXISTS idx_sessions_one_active
		ON rotation_sessions(credential_id)
		WHERE status IN ('in_progress', 'grace_period')`,
	`CREATE INDEX IF NOT EXISTS idx_sessions_credential ON rotation_sessions(credential_id, started_at)`,

	`CREATE TABLE IF NOT EXISTS vault_secrets (
		key TEXT PRIMARY KEY,
		value TEXT NOT NULL,
		updated_at TEXT NOT NULL
	)`,

	`CREATE TABLE IF NOT EXISTS notifications (
		id TEXT PRIMARY KEY,
		type TEXT NOT NULL,
		severity TEXT NOT NULL,
		title TEXT NOT NULL,
		message TEXT NOT NULL,
		credential_id TEXT NOT NULL DEFAULT '',
		recipient TEXT NOT NULL DEFAULT '',
		read INTEGER NOT NULL DEFAULT 0,
		created_at TEXT NOT NULL
	)`,
	`CREATE INDEX IF NOT EXISTS idx_notifications_recipient ON notifications(recipient, created_at)`,
}

// migrate applies the schema. Safe to call on every startup.
func (db *DB) migrate() error {
	for _, stmt := range schema {
		if _, err := db.Writer.Exec(stmt); err != nil {
			return fmt.Errorf("apply schema: %w", err)
		}
	}
	return nil
}
