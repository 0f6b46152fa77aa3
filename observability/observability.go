// CLAUDE:SUMMARY SQLite-backed operational records: verification events, HTTP request logs, retention cleanup.
// Package observability records what the gateway did: one row per render
// or verification outcome, one row per HTTP request, all in a dedicated
// SQLite database. Writes never block or fail the request path; a broken
// observability store degrades to slog warnings.
package observability

import (
	"context"
	"database/sql"
	"fmt"
)

// Schema is the complete DDL for the observability tables.
const Schema = `
CREATE TABLE IF NOT EXISTS verification_events (
    event_id    TEXT PRIMARY KEY,
    kind        TEXT NOT NULL,
    mode        TEXT NOT NULL DEFAULT '',
    outcome     TEXT NOT NULL,
    trace_id    TEXT,
    client_id   TEXT,
    duration_ms INTEGER,
    detail      TEXT,
    created_at  INTEGER NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_verification_events_kind
    ON verification_events(kind, created_at DESC);
CREATE INDEX IF NOT EXISTS idx_verification_events_time
    ON verification_events(created_at DESC);

CREATE TABLE IF NOT EXISTS request_logs (
    log_id      TEXT PRIMARY KEY,
    method      TEXT NOT NULL,
    path        TEXT NOT NULL,
    status_code INTEGER NOT NULL,
    duration_ms INTEGER NOT NULL,
    trace_id    TEXT,
    client_id   TEXT,
    remote_addr TEXT,
    created_at  INTEGER NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_request_logs_time ON request_logs(created_at DESC);
`

// Init applies the schema to the given database.
func Init(ctx context.Context, db *sql.DB) error {
	if _, err := db.ExecContext(ctx, Schema); err != nil {
		return fmt.Errorf("observability: init schema: %w", err)
	}
	return nil
}
