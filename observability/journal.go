// Package observability keeps a local journal of what chatdrop did: every
// drop, prompt submission and knowledge upload with its outcome, plus a
// periodic daemon heartbeat. Both live in the same SQLite file as the
// settings.
package observability

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"
	"time"

	"github.com/hazyhaar/chatdrop/idgen"
	"github.com/hazyhaar/chatdrop/kit"
)

// Event kinds.
const (
	KindAttach    = "attach"
	KindSummarize = "summarize"
	KindUpload    = "knowledge_upload"
	KindResolve   = "resolve"
)

// Event is one journal entry.
type Event struct {
	ID         string    `json:"id"`
	Kind       string    `json:"kind"`
	Action     string    `json:"action,omitempty"`
	Target     string    `json:"target,omitempty"`
	Via        string    `json:"via,omitempty"`
	Tab        string    `json:"tab,omitempty"`
	TraceID    string    `json:"trace_id,omitempty"`
	Success    bool      `json:"success"`
	Message    string    `json:"message,omitempty"`
	DurationMs int64     `json:"duration_ms"`
	CreatedAt  time.Time `json:"created_at"`
}

// Journal writes and reads events.
type Journal struct {
	db     *sql.DB
	newID  idgen.Generator
	logger *slog.Logger
}

// Option configures a Journal.
type Option func(*Journal)

// WithIDGenerator sets the event ID generator.
func WithIDGenerator(gen idgen.Generator) Option { return func(j *Journal) { j.newID = gen } }

// WithLogger sets a custom logger.
func WithLogger(l *slog.Logger) Option { return func(j *Journal) { j.logger = l } }

// NewJournal creates a Journal on a database where Schema was applied.
func NewJournal(db *sql.DB, opts ...Option) *Journal {
	j := &Journal{
		db:     db,
		newID:  idgen.Prefixed("evt_", idgen.Default),
		logger: slog.Default(),
	}
	for _, o := range opts {
		o(j)
	}
	return j
}

// Record stores ev. Tab and TraceID default to the kit values carried by
// ctx. A failing journal never fails the operation it describes: errors
// are logged and swallowed.
func (j *Journal) Record(ctx context.Context, ev Event) {
	if ev.ID == "" {
		ev.ID = j.newID()
	}
	if ev.Tab == "" {
		ev.Tab = kit.GetTab(ctx)
	}
	if ev.TraceID == "" {
		ev.TraceID = kit.GetTraceID(ctx)
	}
	if ev.CreatedAt.IsZero() {
		ev.CreatedAt = time.Now()
	}
	_, err := j.db.ExecContext(context.WithoutCancel(ctx), `
		INSERT INTO delivery_events (
			event_id, kind, action, target, via, tab, trace_id, success, message, duration_ms, created_at
		) VALUES (?,?,?,?,?,?,?,?,?,?,?)`,
		ev.ID, ev.Kind, ev.Action, ev.Target, ev.Via, ev.Tab, ev.TraceID, ev.Success, ev.Message,
		ev.DurationMs, ev.CreatedAt.UnixMilli())
	if err != nil {
		j.logger.Error("observability: record event", "error", err, "kind", ev.Kind)
	}
}

// Recent returns up to limit events, newest first. kind filters when set.
func (j *Journal) Recent(ctx context.Context, kind string, limit int) ([]Event, error) {
	if limit <= 0 || limit > 1000 {
		limit = 100
	}
	q := `SELECT event_id, kind, action, target, via, tab, trace_id, success, message, duration_ms, created_at
		FROM delivery_events`
	args := []any{}
	if kind != "" {
		q += ` WHERE kind = ?`
		args = append(args, kind)
	}
	q += ` ORDER BY created_at DESC, event_id DESC LIMIT ?`
	args = append(args, limit)

	rows, err := j.db.QueryContext(ctx, q, args...)
	if err != nil {
		return nil, fmt.Errorf("observability: recent: %w", err)
	}
	defer rows.Close()

	var out []Event
	for rows.Next() {
		var (
			ev Event
			ms int64
		)
		if err := rows.Scan(&ev.ID, &ev.Kind, &ev.Action, &ev.Target, &ev.Via,
			&ev.Tab, &ev.TraceID, &ev.Success, &ev.Message, &ev.DurationMs, &ms); err != nil {
			return nil, fmt.Errorf("observability: scan: %w", err)
		}
		ev.CreatedAt = time.UnixMilli(ms)
		out = append(out, ev)
	}
	return out, rows.Err()
}

// RetentionConfig specifies per-table retention in days. Zero keeps
// everything.
type RetentionConfig struct {
	EventDays      int  `yaml:"event_days"`
	HeartbeatDays  int  `yaml:"heartbeat_days"`
	RunVacuumAfter bool `yaml:"vacuum"`
}

// Cleanup deletes rows past their retention.
func Cleanup(ctx context.Context, db *sql.DB, cfg RetentionConfig) error {
	now := time.Now()
	targets := []struct {
		query  string
		cutoff int64
		days   int
	}{
		{`DELETE FROM delivery_events WHERE created_at < ?`, now.AddDate(0, 0, -cfg.EventDays).UnixMilli(), cfg.EventDays},
		{`DELETE FROM daemon_heartbeats WHERE timestamp < ?`, now.AddDate(0, 0, -cfg.HeartbeatDays).Unix(), cfg.HeartbeatDays},
	}
	for _, t := range targets {
		if t.days <= 0 {
			continue
		}
		if _, err := db.ExecContext(ctx, t.query, t.cutoff); err != nil {
			return fmt.Errorf("observability: cleanup: %w", err)
		}
	}
	if cfg.RunVacuumAfter {
		if _, err := db.ExecContext(ctx, "VACUUM"); err != nil {
			return fmt.Errorf("observability: vacuum: %w", err)
		}
	}
	return nil
}
