package trace

import (
	"bytes"
	"context"
	"database/sql"
	"encoding/json"
	"log/slog"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/hazyhaar/chatdrop/kit"
)

// syncBuffer guards the log sink; database/sql may log from pool goroutines.
type syncBuffer struct {
	mu sync.Mutex
	b  bytes.Buffer
}

func (s *syncBuffer) Write(p []byte) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.b.Write(p)
}

func (s *syncBuffer) lines() []map[string]any {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []map[string]any
	for _, l := range strings.Split(strings.TrimSpace(s.b.String()), "\n") {
		if l == "" {
			continue
		}
		var m map[string]any
		if json.Unmarshal([]byte(l), &m) == nil {
			out = append(out, m)
		}
	}
	return out
}

func capture(t *testing.T, c Config) *syncBuffer {
	t.Helper()
	buf := &syncBuffer{}
	c.Logger = slog.New(slog.NewJSONHandler(buf, &slog.HandlerOptions{Level: slog.LevelDebug}))
	Configure(c)
	t.Cleanup(func() { Configure(Config{}) })
	return buf
}

func openTraced(t *testing.T) *sql.DB {
	t.Helper()
	db, err := sql.Open(DriverName, ":memory:")
	if err != nil {
		t.Fatal(err)
	}
	db.SetMaxOpenConns(1)
	t.Cleanup(func() { db.Close() })
	return db
}

func TestDriver_LogsWithTraceID(t *testing.T) {
	buf := capture(t, Config{})
	db := openTraced(t)
	ctx := kit.WithTraceID(context.Background(), "tr_abc")

	if _, err := db.ExecContext(ctx, "CREATE TABLE t (\n  k TEXT\n)"); err != nil {
		t.Fatal(err)
	}
	var n int
	if err := db.QueryRowContext(ctx, "SELECT count(*) FROM t").Scan(&n); err != nil {
		t.Fatal(err)
	}

	var sawCreate, sawSelect bool
	for _, l := range buf.lines() {
		if l["trace_id"] != "tr_abc" {
			continue
		}
		switch l["query"] {
		case "CREATE TABLE t ( k TEXT )":
			sawCreate = l["op"] == "Exec"
		case "SELECT count(*) FROM t":
			sawSelect = l["op"] == "Query"
		}
	}
	if !sawCreate || !sawSelect {
		t.Fatalf("log = %v", buf.lines())
	}
}

func TestDriver_ErrorsLogAtError(t *testing.T) {
	buf := capture(t, Config{Quiet: time.Hour})
	db := openTraced(t)

	if _, err := db.Exec("INSERT INTO missing VALUES (1)"); err == nil {
		t.Fatal("expected error")
	}
	lines := buf.lines()
	if len(lines) == 0 || lines[len(lines)-1]["level"] != "ERROR" {
		t.Fatalf("log = %v", lines)
	}
}

func TestDriver_QuietSkipsFastStatements(t *testing.T) {
	buf := capture(t, Config{Quiet: time.Hour, Slow: 2 * time.Hour})
	db := openTraced(t)

	if _, err := db.Exec("PRAGMA data_version"); err != nil {
		t.Fatal(err)
	}
	if _, err := db.Exec("CREATE TABLE q (v INTEGER)"); err != nil {
		t.Fatal(err)
	}
	if lines := buf.lines(); len(lines) != 0 {
		t.Fatalf("expected no logs, got %v", lines)
	}
}

func TestCompact(t *testing.T) {
	if got := compact("SELECT  a,\n\tb\nFROM t"); got != "SELECT a, b FROM t" {
		t.Fatalf("got %q", got)
	}
}
