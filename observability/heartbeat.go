package observability

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"
	"os"
	"runtime"
	"time"
)

// PageCounter reports how many browser pages are open, or an error when
// the browser is gone.
type PageCounter func(ctx context.Context) (int, error)

// Heartbeat periodically records that the daemon is alive and whether its
// browser still answers.
type Heartbeat struct {
	db       *sql.DB
	name     string
	hostname string
	pid      int
	interval time.Duration
	pages    PageCounter
	logger   *slog.Logger
	done     chan struct{}
}

// NewHeartbeat creates a writer. pages may be nil.
func NewHeartbeat(db *sql.DB, name string, interval time.Duration, pages PageCounter, logger *slog.Logger) *Heartbeat {
	host, err := os.Hostname()
	if err != nil {
		host = "unknown"
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Heartbeat{
		db:       db,
		name:     name,
		hostname: host,
		pid:      os.Getpid(),
		interval: interval,
		pages:    pages,
		logger:   logger,
		done:     make(chan struct{}),
	}
}

// Run writes one heartbeat immediately, then one per interval until ctx is
// done.
func (h *Heartbeat) Run(ctx context.Context) {
	defer close(h.done)
	ticker := time.NewTicker(h.interval)
	defer ticker.Stop()
	for {
		if err := h.Write(ctx); err != nil {
			h.logger.Warn("observability: heartbeat", "error", err)
		}
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}
	}
}

// Done is closed when Run returns.
func (h *Heartbeat) Done() <-chan struct{} { return h.done }

// Write records a single heartbeat. browser_pages is -1 when the browser
// did not answer.
func (h *Heartbeat) Write(ctx context.Context) error {
	pages := -1
	if h.pages != nil {
		if n, err := h.pages(ctx); err == nil {
			pages = n
		}
	}
	var mem runtime.MemStats
	runtime.ReadMemStats(&mem)
	_, err := h.db.ExecContext(ctx, `
		INSERT INTO daemon_heartbeats (
			daemon_name, hostname, pid, timestamp, browser_pages, goroutines_count, memory_alloc_mb
		) VALUES (?,?,?,?,?,?,?)`,
		h.name, h.hostname, h.pid, time.Now().Unix(), pages,
		runtime.NumGoroutine(), float64(mem.Alloc)/1024/1024)
	if err != nil {
		return fmt.Errorf("insert heartbeat: %w", err)
	}
	return nil
}

// HeartbeatStatus is the latest heartbeat with a staleness verdict.
type HeartbeatStatus struct {
	Name         string    `json:"name"`
	Hostname     string    `json:"hostname"`
	PID          int       `json:"pid"`
	Timestamp    time.Time `json:"timestamp"`
	BrowserPages int       `json:"browser_pages"`
	Alive        bool      `json:"alive"`
}

// LatestHeartbeat returns the newest heartbeat for name, or nil when none
// was written. A beat older than stale marks the daemon as not alive.
func LatestHeartbeat(ctx context.Context, db *sql.DB, name string, stale time.Duration) (*HeartbeatStatus, error) {
	var (
		hs HeartbeatStatus
		ts int64
	)
	err := db.QueryRowContext(ctx, `
		SELECT daemon_name, hostname, pid, timestamp, browser_pages
		FROM daemon_heartbeats WHERE daemon_name = ?
		ORDER BY timestamp DESC, heartbeat_id DESC LIMIT 1`, name).
		Scan(&hs.Name, &hs.Hostname, &hs.PID, &ts, &hs.BrowserPages)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("observability: latest heartbeat: %w", err)
	}
	hs.Timestamp = time.Unix(ts, 0)
	hs.Alive = time.Since(hs.Timestamp) <= stale && hs.BrowserPages >= 0
	return &hs, nil
}
