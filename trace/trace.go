// Package trace logs SQL statements run through the "sqlite-trace" driver,
// a wrapper around modernc.org/sqlite. Statements carry the request's
// kit trace ID, so a slow settings write can be tied to the API call that
// caused it.
//
//	db, _ := sql.Open(trace.DriverName, "chatdrop.db")
//
// dbopen.WithTracing does this for the daemon's database.
package trace

import (
	"database/sql"
	"log/slog"
	"sync/atomic"
	"time"

	sqlite "modernc.org/sqlite"
)

// DriverName is the database/sql driver registered by this package.
const DriverName = "sqlite-trace"

// Config tunes what gets logged.
type Config struct {
	// Slow statements log at Warn. Default 100ms.
	Slow time.Duration
	// Statements faster than Quiet are not logged at all unless they
	// fail. Default 0: everything logs at Debug.
	Quiet  time.Duration
	Logger *slog.Logger
}

var current atomic.Pointer[Config]

// Configure replaces the logging configuration.
func Configure(c Config) {
	if c.Slow <= 0 {
		c.Slow = 100 * time.Millisecond
	}
	if c.Logger == nil {
		c.Logger = slog.Default()
	}
	current.Store(&c)
}

func config() *Config {
	if c := current.Load(); c != nil {
		return c
	}
	Configure(Config{})
	return current.Load()
}

func init() {
	sql.Register(DriverName, &Driver{Driver: &sqlite.Driver{}})
}
