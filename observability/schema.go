package observability

import (
	"context"
	"database/sql"
	"fmt"
)

// Schema holds the journal DDL. Apply it with Init or dbopen.WithSchema.
const Schema = `
CREATE TABLE IF NOT EXISTS delivery_events (
    event_id    TEXT PRIMARY KEY,
    kind        TEXT NOT NULL,
    action      TEXT NOT NULL DEFAULT '',
    target      TEXT NOT NULL DEFAULT '',
    via         TEXT NOT NULL DEFAULT '',
    tab         TEXT NOT NULL DEFAULT '',
    trace_id    TEXT NOT NULL DEFAULT '',
    success     INTEGER NOT NULL,
    message     TEXT NOT NULL DEFAULT '',
    duration_ms INTEGER NOT NULL DEFAULT 0,
    created_at  INTEGER NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_delivery_events_created
    ON delivery_events(created_at DESC);
CREATE INDEX IF NOT EXISTS idx_delivery_events_kind
    ON delivery_events(kind, created_at DESC);

CREATE TABLE IF NOT EXISTS daemon_heartbeats (
    heartbeat_id     INTEGER PRIMARY KEY AUTOINCREMENT,
    daemon_name      TEXT NOT NULL,
    hostname         TEXT NOT NULL,
    pid              INTEGER NOT NULL,
    timestamp        INTEGER NOT NULL,
    browser_pages    INTEGER NOT NULL DEFAULT -1,
    goroutines_count INTEGER,
    memory_alloc_mb  REAL
);
CREATE INDEX IF NOT EXISTS idx_daemon_heartbeats_time
    ON daemon_heartbeats(daemon_name, timestamp DESC);
`

// Init applies Schema.
func Init(ctx context.Context, db *sql.DB) error {
	if _, err := db.ExecContext(ctx, Schema); err != nil {
		return fmt.Errorf("observability: init schema: %w", err)
	}
	return nil
}
