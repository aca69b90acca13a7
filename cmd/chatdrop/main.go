// Command chatdrop runs the daemon: a Chrome session holding the chat, the
// background endpoint resolver, and the local control API.
package main

import (
	"context"
	"database/sql"
	"errors"
	"flag"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/hazyhaar/chatdrop/acquire"
	"github.com/hazyhaar/chatdrop/background"
	"github.com/hazyhaar/chatdrop/browser"
	"github.com/hazyhaar/chatdrop/completion"
	"github.com/hazyhaar/chatdrop/config"
	"github.com/hazyhaar/chatdrop/dbopen"
	"github.com/hazyhaar/chatdrop/endpoint"
	"github.com/hazyhaar/chatdrop/frame"
	"github.com/hazyhaar/chatdrop/knowledge"
	"github.com/hazyhaar/chatdrop/observability"
	"github.com/hazyhaar/chatdrop/panel"
	"github.com/hazyhaar/chatdrop/probe"
	"github.com/hazyhaar/chatdrop/router"
	"github.com/hazyhaar/chatdrop/server"
	"github.com/hazyhaar/chatdrop/settings"
	"github.com/hazyhaar/chatdrop/trace"
)

var version = "dev"

func main() {
	if err := run(); err != nil {
		slog.Error("chatdrop: fatal", "error", err)
		os.Exit(1)
	}
}

func run() error {
	var (
		configPath = flag.String("config", "", "YAML configuration file")
		listen     = flag.String("listen", "", "control API address (overrides config)")
		dbPath     = flag.String("db", "", "SQLite database path (overrides config)")
		remote     = flag.String("remote", "", "DevTools URL of a running Chrome (overrides config)")
		headful    = flag.Bool("headful", false, "show the browser window")
		logLevel   = flag.String("log-level", "info", "debug, info, warn or error")
	)
	flag.Parse()

	var lvl slog.Level
	if err := lvl.UnmarshalText([]byte(*logLevel)); err != nil {
		return fmt.Errorf("invalid -log-level %q", *logLevel)
	}
	logger := slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{Level: lvl}))
	slog.SetDefault(logger)

	cfg := config.Default()
	if *configPath != "" {
		c, err := config.LoadFile(*configPath)
		if err != nil {
			return err
		}
		cfg = c
	}
	if *listen != "" {
		cfg.Listen = *listen
	}
	if *dbPath != "" {
		cfg.Database = *dbPath
	}
	if *remote != "" {
		cfg.Browser.RemoteURL = *remote
	}
	if *headful {
		cfg.Browser.Headless = false
	}
	if tok := os.Getenv("CHATDROP_TOKEN"); tok != "" {
		cfg.Token = tok
	}
	cfg.Browser.Logger = logger

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	// Storage.
	dbOpts := []dbopen.Option{dbopen.WithMkdirAll()}
	if cfg.SQLTrace.Enabled {
		trace.Configure(trace.Config{Slow: cfg.SQLTrace.Slow, Quiet: cfg.SQLTrace.Quiet, Logger: logger})
		dbOpts = append(dbOpts, dbopen.WithTracing())
	}
	db, err := dbopen.Open(cfg.Database, dbOpts...)
	if err != nil {
		return fmt.Errorf("open database: %w", err)
	}
	defer db.Close()
	if err := observability.Init(ctx, db); err != nil {
		return err
	}
	store, err := settings.NewSQLite(ctx, db, settings.SQLiteOptions{Logger: logger})
	if err != nil {
		return err
	}
	go store.Run(ctx)

	journal := observability.NewJournal(db, observability.WithLogger(logger))
	prober := probe.New(probe.WithTimeout(cfg.Probe.Timeout), probe.WithLogger(logger))

	if seeded, err := cfg.SeedSettings(ctx, store, prober); err != nil {
		return err
	} else if seeded {
		logger.Info("chatdrop: settings seeded from config")
	}

	// Browser.
	mgr := browser.NewManager(cfg.Browser)
	if _, err := mgr.Start(ctx); err != nil {
		return err
	}
	defer mgr.Close()

	// The cookie source closes over session, which needs acq first.
	var session *browser.Session
	acqOpts := []acquire.Option{acquire.WithLogger(logger)}
	if cfg.Acquire.BearerToken != "" {
		acqOpts = append(acqOpts, acquire.WithBearer(cfg.Acquire.BearerToken, cfg.Acquire.BearerHosts...))
	}
	if !cfg.Acquire.NoBrowserCookies {
		acqOpts = append(acqOpts, acquire.WithCookieSource(func(ctx context.Context, rawURL string) ([]*http.Cookie, error) {
			return session.Cookies(ctx, rawURL)
		}))
	}
	acq := acquire.New(acqOpts...)
	session = browser.NewSession(mgr, acq,
		browser.WithLogger(logger),
		browser.WithFrameOptions(
			frame.WithLogger(logger),
			frame.WithDetection(completion.Config{
				Timeout:      cfg.Detection.Timeout,
				PollInterval: cfg.Detection.PollInterval,
				QuietPeriod:  cfg.Detection.QuietPeriod,
			}),
		),
	)
	defer session.Close()

	// Routing.
	rt := router.New(
		router.WithRelay(session),
		router.WithPoster("panel", session),
		router.WithCallTimeout(cfg.Router.CallTimeout),
		router.WithParallelism(cfg.Router.Parallelism),
		router.WithLogger(logger),
	)
	defer rt.Wait()

	resolver := endpoint.NewResolver(store, prober,
		endpoint.WithLogger(logger),
		endpoint.WithNotifier(func(a *endpoint.Active) {
			ev := observability.Event{Kind: observability.KindResolve, Success: a != nil}
			if a != nil {
				ev.Target, ev.Via = a.URL, string(a.Source)
			}
			journal.Record(ctx, ev)
		}),
	)
	worker := background.New(store, resolver, rt, background.WithLogger(logger))
	rt.SetBackground(worker.Handler())
	if err := worker.Start(ctx); err != nil {
		return err
	}
	defer worker.Stop()

	// Panel.
	pnl := panel.New(store, session, rt,
		panel.WithLogger(logger),
		panel.WithAcquirer(acq),
		panel.WithJournal(journal),
		panel.WithMarkdownUploads(cfg.Knowledge.Markdown),
		panel.WithUploadSettle(cfg.Knowledge.Settle),
		panel.WithKnowledgeOptions(
			knowledge.WithHTTPClient(&http.Client{Timeout: cfg.Knowledge.Timeout}),
			knowledge.WithLogger(logger),
		),
	)
	defer pnl.Status().Stop()
	unlisten := rt.Listen(pnl.OnURLChanged(ctx))
	defer unlisten()
	if _, err := pnl.Start(ctx); err != nil {
		logger.Warn("chatdrop: panel start", "error", err)
	}

	// Liveness and retention.
	hb := observability.NewHeartbeat(db, cfg.Name, cfg.Heartbeat.Interval, mgr.PageCount, logger)
	go hb.Run(ctx)
	go retention(ctx, db, cfg.Retention, logger)

	srv := server.New(store, prober, rt, pnl,
		server.WithLogger(logger),
		server.WithToken(cfg.Token),
		server.WithEvents(journal),
		server.WithHeartbeat(db, cfg.Name, cfg.Heartbeat.Stale),
		server.WithVersion(version),
	)
	err = srv.ListenAndServe(ctx, cfg.Listen)
	<-hb.Done()
	if err != nil && !errors.Is(err, context.Canceled) {
		return err
	}
	logger.Info("chatdrop: stopped")
	return nil
}

// retention prunes old journal rows once at start and then daily.
func retention(ctx context.Context, db *sql.DB, cfg observability.RetentionConfig, logger *slog.Logger) {
	t := time.NewTicker(24 * time.Hour)
	defer t.Stop()
	for {
		if err := observability.Cleanup(ctx, db, cfg); err != nil && ctx.Err() == nil {
			logger.Warn("chatdrop: retention cleanup", "error", err)
		}
		select {
		case <-ctx.Done():
			return
		case <-t.C:
		}
	}
}
