package settings

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/hazyhaar/chatdrop/dbopen"
)

// Schema is the DDL for the settings table. Deleted keys stay as rows with
// a NULL value so that their removal carries a revision like any write.
const Schema = `
CREATE TABLE IF NOT EXISTS settings (
    tier  TEXT NOT NULL,
    key   TEXT NOT NULL,
    value TEXT,
    rev   INTEGER NOT NULL,
    PRIMARY KEY (tier, key)
);
CREATE INDEX IF NOT EXISTS idx_settings_rev ON settings(rev);
`

// SQLiteOptions tunes the change poller.
type SQLiteOptions struct {
	// Interval is the polling frequency for writes made by other
	// processes. Default: 1s.
	Interval time.Duration
	// Debounce is the quiet period after an external change before
	// subscribers are notified. Default: 0 (immediate).
	Debounce time.Duration
	Logger   *slog.Logger
}

func (o *SQLiteOptions) defaults() {
	if o.Interval <= 0 {
		o.Interval = time.Second
	}
	if o.Logger == nil {
		o.Logger = slog.Default()
	}
}

// SQLite is a Store persisted in a SQLite database. Writes made through
// this value notify subscribers at once; writes made by another process
// sharing the file are picked up by Run.
type SQLite struct {
	db   *sql.DB
	opts SQLiteOptions

	// syncMu serialises snapshot refreshes.
	syncMu   sync.Mutex
	rev      int64
	snapshot map[Tier]map[string]string

	mu   sync.Mutex
	subs subscribers
}

// NewSQLite applies Schema and loads the current snapshot.
func NewSQLite(ctx context.Context, db *sql.DB, opts SQLiteOptions) (*SQLite, error) {
	opts.defaults()
	if _, err := db.ExecContext(ctx, Schema); err != nil {
		return nil, fmt.Errorf("settings: schema: %w", err)
	}
	s := &SQLite{db: db, opts: opts, snapshot: map[Tier]map[string]string{}}
	if _, err := s.refresh(ctx); err != nil {
		return nil, err
	}
	return s, nil
}

func (s *SQLite) Get(ctx context.Context, tier Tier, keys ...string) (map[string]string, error) {
	out := make(map[string]string, len(keys))
	if len(keys) == 0 {
		return out, nil
	}
	args := make([]any, 0, len(keys)+1)
	args = append(args, string(tier))
	for _, k := range keys {
		args = append(args, k)
	}
	q := `SELECT key, value FROM settings WHERE tier = ? AND value IS NOT NULL AND key IN (?` +
		strings.Repeat(",?", len(keys)-1) + `)`
	rows, err := s.db.QueryContext(ctx, q, args...)
	if err != nil {
		return nil, fmt.Errorf("settings: get: %w", err)
	}
	defer rows.Close()
	for rows.Next() {
		var k, v string
		if err := rows.Scan(&k, &v); err != nil {
			return nil, fmt.Errorf("settings: scan: %w", err)
		}
		out[k] = v
	}
	return out, rows.Err()
}

func (s *SQLite) Set(ctx context.Context, tier Tier, values map[string]string) error {
	if len(values) == 0 {
		return nil
	}
	err := dbopen.RunTx(ctx, s.db, func(tx *sql.Tx) error {
		rev, err := nextRev(ctx, tx)
		if err != nil {
			return err
		}
		for k, v := range values {
			if _, err := tx.ExecContext(ctx, `
				INSERT INTO settings (tier, key, value, rev) VALUES (?, ?, ?, ?)
				ON CONFLICT (tier, key) DO UPDATE SET value = excluded.value, rev = excluded.rev`,
				string(tier), k, v, rev); err != nil {
				return fmt.Errorf("settings: upsert %s: %w", k, err)
			}
		}
		return nil
	})
	if err != nil {
		return err
	}
	return s.publish(ctx)
}

func (s *SQLite) Remove(ctx context.Context, tier Tier, keys ...string) error {
	if len(keys) == 0 {
		return nil
	}
	err := dbopen.RunTx(ctx, s.db, func(tx *sql.Tx) error {
		rev, err := nextRev(ctx, tx)
		if err != nil {
			return err
		}
		for _, k := range keys {
			if _, err := tx.ExecContext(ctx,
				`UPDATE settings SET value = NULL, rev = ? WHERE tier = ? AND key = ? AND value IS NOT NULL`,
				rev, string(tier), k); err != nil {
				return fmt.Errorf("settings: remove %s: %w", k, err)
			}
		}
		return nil
	})
	if err != nil {
		return err
	}
	return s.publish(ctx)
}

func (s *SQLite) Subscribe(fn func(Change)) func() {
	s.mu.Lock()
	id := s.subs.add(fn)
	s.mu.Unlock()
	return func() {
		s.mu.Lock()
		delete(s.subs.fns, id)
		s.mu.Unlock()
	}
}

// Rev returns the highest revision folded into the snapshot.
func (s *SQLite) Rev() int64 {
	s.syncMu.Lock()
	defer s.syncMu.Unlock()
	return s.rev
}

// Run polls for writes made by other processes until ctx is cancelled.
func (s *SQLite) Run(ctx context.Context) {
	log := s.opts.Logger
	ticker := time.NewTicker(s.opts.Interval)
	defer ticker.Stop()

	var debounceTimer *time.Timer
	var debounceCh <-chan time.Time
	pending := int64(-1)

	log.Info("settings: watching", "interval", s.opts.Interval, "debounce", s.opts.Debounce)
	for {
		select {
		case <-ctx.Done():
			if debounceTimer != nil {
				debounceTimer.Stop()
			}
			return

		case <-ticker.C:
			cur, err := s.maxRev(ctx)
			if err != nil {
				log.Warn("settings: version check failed", "error", err)
				continue
			}
			if cur <= s.Rev() || cur == pending {
				continue
			}
			pending = cur
			if s.opts.Debounce <= 0 {
				s.publishLogged(ctx)
				pending = -1
				continue
			}
			if debounceTimer != nil {
				debounceTimer.Stop()
			}
			debounceTimer = time.NewTimer(s.opts.Debounce)
			debounceCh = debounceTimer.C

		case <-debounceCh:
			debounceCh = nil
			s.publishLogged(ctx)
			pending = -1
		}
	}
}

func (s *SQLite) publishLogged(ctx context.Context) {
	if err := s.publish(ctx); err != nil {
		s.opts.Logger.Warn("settings: reload failed", "error", err)
	}
}

// publish folds new revisions into the snapshot and notifies subscribers,
// one Change per tier.
func (s *SQLite) publish(ctx context.Context) error {
	changes, err := s.refresh(ctx)
	if err != nil {
		return err
	}
	s.mu.Lock()
	fns := s.subs.snapshot()
	s.mu.Unlock()
	for _, tier := range []Tier{Synced, Local} {
		if c, ok := changes[tier]; ok {
			notify(fns, c)
		}
	}
	return nil
}

func (s *SQLite) refresh(ctx context.Context) (map[Tier]Change, error) {
	s.syncMu.Lock()
	defer s.syncMu.Unlock()

	rows, err := s.db.QueryContext(ctx,
		`SELECT tier, key, value, rev FROM settings WHERE rev > ? ORDER BY rev`, s.rev)
	if err != nil {
		return nil, fmt.Errorf("settings: refresh: %w", err)
	}
	defer rows.Close()

	changes := make(map[Tier]Change)
	for rows.Next() {
		var (
			tier, key string
			value     sql.NullString
			rev       int64
		)
		if err := rows.Scan(&tier, &key, &value, &rev); err != nil {
			return nil, fmt.Errorf("settings: scan: %w", err)
		}
		t := Tier(tier)
		bucket, ok := s.snapshot[t]
		if !ok {
			bucket = make(map[string]string)
			s.snapshot[t] = bucket
		}
		old, had := bucket[key]
		var d Delta
		switch {
		case !value.Valid && had:
			delete(bucket, key)
			d = Delta{Old: old, Deleted: true}
		case !value.Valid:
			s.rev = max(s.rev, rev)
			continue
		case had && old == value.String:
			s.rev = max(s.rev, rev)
			continue
		default:
			bucket[key] = value.String
			d = Delta{Old: old, New: value.String}
		}
		c, ok := changes[t]
		if !ok {
			c = Change{Tier: t, Deltas: make(map[string]Delta)}
			changes[t] = c
		}
		c.Deltas[key] = d
		s.rev = max(s.rev, rev)
	}
	return changes, rows.Err()
}

func (s *SQLite) maxRev(ctx context.Context) (int64, error) {
	var v int64
	err := s.db.QueryRowContext(ctx, `SELECT COALESCE(MAX(rev), 0) FROM settings`).Scan(&v)
	return v, err
}

func nextRev(ctx context.Context, tx *sql.Tx) (int64, error) {
	var v int64
	if err := tx.QueryRowContext(ctx, `SELECT COALESCE(MAX(rev), 0) + 1 FROM settings`).Scan(&v); err != nil {
		return 0, fmt.Errorf("settings: next rev: %w", err)
	}
	return v, nil
}
