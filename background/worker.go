// Package background is the long-lived worker that owns the active
// endpoint. It resolves at startup, re-resolves whenever the configured
// URLs change, broadcasts the outcome, and answers recheck/status requests.
package background

import (
	"context"
	"log/slog"
	"sync"

	"github.com/hazyhaar/chatdrop/endpoint"
	"github.com/hazyhaar/chatdrop/router"
	"github.com/hazyhaar/chatdrop/settings"
)

// Broadcaster is satisfied by *router.Router.
type Broadcaster interface {
	Broadcast(ctx context.Context, msg router.Message)
}

// Worker reacts to settings changes.
type Worker struct {
	store    settings.Store
	resolver *endpoint.Resolver
	bc       Broadcaster
	logger   *slog.Logger

	mu    sync.Mutex
	ctx   context.Context
	unsub func()
	wg    sync.WaitGroup
}

// Option configures a Worker.
type Option func(*Worker)

// WithLogger sets a custom logger.
func WithLogger(l *slog.Logger) Option { return func(w *Worker) { w.logger = l } }

// New creates a Worker. bc may be nil.
func New(store settings.Store, resolver *endpoint.Resolver, bc Broadcaster, opts ...Option) *Worker {
	w := &Worker{store: store, resolver: resolver, bc: bc, logger: slog.Default()}
	for _, o := range opts {
		o(w)
	}
	return w
}

// Start resolves the active endpoint once and subscribes to configuration
// changes. Re-resolutions run on ctx until Stop.
func (w *Worker) Start(ctx context.Context) error {
	w.mu.Lock()
	w.ctx = ctx
	w.mu.Unlock()

	w.logger.Info("background: starting, determining active url")
	active, err := w.resolver.Resolve(ctx)
	if err != nil {
		return err
	}
	if active == nil {
		w.logger.Info("background: no urls configured yet, waiting for initial setup")
	}

	unsub := w.store.Subscribe(w.onChange)
	w.mu.Lock()
	w.unsub = unsub
	w.mu.Unlock()
	return nil
}

// Stop unsubscribes and waits for in-flight resolutions.
func (w *Worker) Stop() {
	w.mu.Lock()
	unsub := w.unsub
	w.unsub = nil
	w.mu.Unlock()
	if unsub != nil {
		unsub()
	}
	w.wg.Wait()
}

// onChange runs on the writer's goroutine; the resolution is moved off it
// because probing can take seconds.
func (w *Worker) onChange(c settings.Change) {
	if c.Tier != settings.Synced || !c.Touches(settings.KeyPrimaryURL, settings.KeyFallbackURL) {
		return
	}
	w.mu.Lock()
	ctx := w.ctx
	stopped := w.unsub == nil
	if !stopped {
		w.wg.Add(1)
	}
	w.mu.Unlock()
	if stopped {
		return
	}

	if firstTimeSetup(c) {
		w.logger.Info("background: first time url setup detected")
	}
	go func() {
		defer w.wg.Done()
		w.logger.Info("background: url settings changed, rechecking")
		active, err := w.resolver.Resolve(ctx)
		if err != nil {
			w.logger.Warn("background: resolve failed", "error", err)
			return
		}
		w.announce(ctx, active)
	}()
}

// firstTimeSetup reports a change where neither URL was set before and at
// least one is set now.
func firstTimeSetup(c settings.Change) bool {
	p, hasP := c.Deltas[settings.KeyPrimaryURL]
	f, hasF := c.Deltas[settings.KeyFallbackURL]
	if (hasP && p.Old != "") || (hasF && f.Old != "") {
		return false
	}
	return (hasP && p.New != "") || (hasF && f.New != "")
}

func (w *Worker) announce(ctx context.Context, active *endpoint.Active) {
	if w.bc == nil {
		return
	}
	p := router.URLSettingsPayload{}
	if active != nil {
		p.NewURL, p.URLSource = active.URL, string(active.Source)
		w.logger.Info("background: active url updated", "url", active.URL, "source", active.Source)
	}
	msg, err := router.NewMessage(router.ActionURLSettingsChanged, p)
	if err != nil {
		w.logger.Warn("background: encode broadcast", "error", err)
		return
	}
	w.bc.Broadcast(ctx, msg)
}

// Mux returns the runtime message dispatcher.
func (w *Worker) Mux() *router.Mux {
	m := router.NewMux()
	m.Handle(router.ActionRecheckURLs, w.recheck)
	m.Handle(router.ActionGetURLStatus, w.status)
	return m
}

// Handler is the background entry point for router.WithBackground.
func (w *Worker) Handler() router.Handler { return w.Mux().Handler(w.logger) }

func (w *Worker) recheck(ctx context.Context, _ router.Message) (router.Reply, error) {
	active, err := w.resolver.Resolve(ctx)
	if err != nil {
		return router.Reply{}, err
	}
	return reply(active), nil
}

func (w *Worker) status(ctx context.Context, _ router.Message) (router.Reply, error) {
	active, err := w.resolver.Current(ctx)
	if err != nil {
		return router.Reply{}, err
	}
	return reply(active), nil
}

func reply(a *endpoint.Active) router.Reply {
	r := router.Reply{Success: true}
	if a != nil {
		r.ActiveURL, r.ActiveURLSource = a.URL, string(a.Source)
	}
	return r
}
