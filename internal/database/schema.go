package database

import (
	"context"
	"fmt"
)

// schema creates the reputation tables on first run. History rows are only
// ever inserted, matching the append-only contract.
const schema = `
CREATE TABLE IF NOT EXISTS profiles (
	agent_id      TEXT PRIMARY KEY,
	created_at    TIMESTAMPTZ NOT NULL DEFAULT NOW(),
	updated_at    TIMESTAMPTZ NOT NULL DEFAULT NOW(),
	privacy_mode  TEXT NOT NULL DEFAULT 'public',
	stake         DOUBLE PRECISION NOT NULL DEFAULT 0,
	suspended_until TIMESTAMPTZ,
	banned_at     TIMESTAMPTZ,
	corrupted     BOOLEAN NOT NULL DEFAULT FALSE,
	tool_usage    JSONB NOT NULL DEFAULT '{}',
	task_categories JSONB NOT NULL DEFAULT '{}',
	signature_hash TEXT,
	signature_generated_at TIMESTAMPTZ
);

CREATE TABLE IF NOT EXISTS score_history (
	id          BIGSERIAL PRIMARY KEY,
	agent_id    TEXT NOT NULL REFERENCES profiles(agent_id),
	recorded_at TIMESTAMPTZ NOT NULL,
	score       DOUBLE PRECISION NOT NULL,
	tier        TEXT NOT NULL,
	delta       DOUBLE PRECISION NOT NULL,
	trigger     TEXT NOT NULL,
	breakdown   JSONB NOT NULL DEFAULT '{}',
	audit_hash  TEXT NOT NULL DEFAULT ''
);
CREATE INDEX IF NOT EXISTS score_history_agent_idx ON score_history (agent_id, id DESC);

CREATE TABLE IF NOT EXISTS endorsements (
	id          UUID PRIMARY KEY,
	agent_id    TEXT NOT NULL REFERENCES profiles(agent_id),
	endorser_id TEXT NOT NULL,
	public_key  TEXT NOT NULL,
	statement   TEXT NOT NULL,
	signature   TEXT NOT NULL,
	issued_at   TIMESTAMPTZ NOT NULL
);
CREATE INDEX IF NOT EXISTS endorsements_agent_idx ON endorsements (agent_id);

CREATE TABLE IF NOT EXISTS penalties (
	id             UUID PRIMARY KEY,
	agent_id       TEXT NOT NULL REFERENCES profiles(agent_id),
	violation_id   UUID NOT NULL,
	violation_type TEXT NOT NULL,
	severity       TEXT NOT NULL,
	penalty_type   TEXT NOT NULL,
	score_delta    DOUBLE PRECISION NOT NULL,
	stake_slash    DOUBLE PRECISION NOT NULL,
	suspend_until  TIMESTAMPTZ,
	ban            BOOLEAN NOT NULL DEFAULT FALSE,
	evidence       TEXT NOT NULL DEFAULT '',
	detected_at    TIMESTAMPTZ NOT NULL,
	appeal_deadline TIMESTAMPTZ NOT NULL,
	restoration    TEXT NOT NULL DEFAULT '',
	applied_at     TIMESTAMPTZ NOT NULL,
	reversed       BOOLEAN NOT NULL DEFAULT FALSE,
	reversed_at    TIMESTAMPTZ
);
CREATE INDEX IF NOT EXISTS penalties_agent_idx ON penalties (agent_id);
`

// EnsureSchema creates the tables if they do not exist.
func (db *DB) EnsureSchema(ctx context.Context) error {
	if _, err := db.pool.Exec(ctx, schema); err != nil {
		return fmt.Errorf("ensure schema: %w", err)
	}
	return nil
}
