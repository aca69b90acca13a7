// Package router delivers intents between the background worker, the panel
// and every frame of every tab.
//
// The frame that holds the chat composer is not known in advance, so Deliver
// sends the same Message through two transports at once: the privileged
// Relay, which enumerates and addresses frames, and any direct Posters held
// on embedded windows. Each receiving handler answers either success or a
// non-fatal "not the target frame". The first success is authoritative;
// later replies are logged and discarded.
//
//	r := router.New(router.WithRelay(tabs), router.WithPoster("panel", embed))
//	rep, err := r.Deliver(ctx, router.MustMessage(router.ActionDropPDF, payload))
package router

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"
)

// Relay is the privileged transport: it lists frames and targets one.
type Relay interface {
	Frames(ctx context.Context) ([]FrameRef, error)
	Send(ctx context.Context, ref FrameRef, msg Message) (Reply, error)
}

// Poster posts directly into a window the sender holds a reference to.
type Poster interface {
	Post(ctx context.Context, msg Message) (Reply, error)
}

// PosterFunc adapts a function to Poster.
type PosterFunc func(ctx context.Context, msg Message) (Reply, error)

func (f PosterFunc) Post(ctx context.Context, msg Message) (Reply, error) { return f(ctx, msg) }

// Listener receives broadcasts. It must not block.
type Listener func(msg Message)

type namedPoster struct {
	name string
	p    Poster
}

// Router fans messages out across contexts.
type Router struct {
	relay       Relay
	posters     []namedPoster
	background  Handler
	callTimeout time.Duration
	parallelism int
	logger      *slog.Logger

	mu        sync.Mutex
	listeners map[int]Listener
	nextID    int

	inflight sync.WaitGroup
}

// Option configures a Router.
type Option func(*Router)

// WithRelay sets the privileged frame relay.
func WithRelay(r Relay) Option {
	return func(rt *Router) { rt.relay = r }
}

// WithPoster adds a direct-post channel.
func WithPoster(name string, p Poster) Option {
	return func(rt *Router) { rt.posters = append(rt.posters, namedPoster{name: name, p: p}) }
}

// WithBackground sets the handler reached by Send.
func WithBackground(h Handler) Option {
	return func(rt *Router) { rt.background = h }
}

// WithCallTimeout bounds each individual send. Default 35s, longer than
// the upload detector's default timeout.
func WithCallTimeout(d time.Duration) Option {
	return func(rt *Router) { rt.callTimeout = d }
}

// WithParallelism caps concurrent sends per delivery. Default 16.
func WithParallelism(n int) Option {
	return func(rt *Router) { rt.parallelism = n }
}

// WithLogger sets a custom logger.
func WithLogger(l *slog.Logger) Option {
	return func(rt *Router) { rt.logger = l }
}

// New creates a Router.
func New(opts ...Option) *Router {
	r := &Router{
		callTimeout: 35 * time.Second,
		parallelism: 16,
		logger:      slog.Default(),
		listeners:   make(map[int]Listener),
	}
	for _, o := range opts {
		o(r)
	}
	return r
}

// SetBackground installs the background handler after construction, for
// wiring where the worker itself needs the router.
func (r *Router) SetBackground(h Handler) {
	r.mu.Lock()
	r.background = h
	r.mu.Unlock()
}

type outcome struct {
	via   string
	frame FrameRef
	rep   Reply
	err   error
}

// Deliver sends msg to every frame and every poster concurrently and
// returns the first successful reply. A failing target never stops the
// others. When no target succeeds, the returned error is a *DeliveryError
// (or ErrNoTargets) and the Reply carries the most informative failure.
//
// Sends still in flight after the first success keep running in the
// background, bounded by the call timeout; their replies are logged.
// Wait blocks until they are done.
func (r *Router) Deliver(ctx context.Context, msg Message) (Reply, error) {
	var frames []FrameRef
	if r.relay != nil {
		fs, err := r.relay.Frames(ctx)
		if err != nil {
			r.logger.WarnContext(ctx, "router: list frames", "action", msg.Action, "error", err)
		}
		frames = fs
	}
	total := len(frames) + len(r.posters)
	if total == 0 {
		return Reply{Success: false, Message: "No chat frame available"}, ErrNoTargets
	}

	// Sends outlive a satisfied caller; they are bounded by callTimeout.
	base := context.WithoutCancel(ctx)
	results := make(chan outcome, total)

	var g errgroup.Group
	if r.parallelism > 0 {
		g.SetLimit(r.parallelism)
	}
	call := func(via string, ref FrameRef, send func(context.Context) (Reply, error)) {
		g.Go(func() error {
			cctx, cancel := context.WithTimeout(base, r.callTimeout)
			defer cancel()
			rep, err := safeSend(cctx, send)
			results <- outcome{via: via, frame: ref, rep: rep, err: err}
			return nil
		})
	}

	r.inflight.Add(1)
	go func() {
		defer r.inflight.Done()
		for _, ref := range frames {
			call("relay", ref, func(c context.Context) (Reply, error) { return r.relay.Send(c, ref, msg) })
		}
		for _, np := range r.posters {
			call("post:"+np.name, FrameRef{}, func(c context.Context) (Reply, error) { return np.p.Post(c, msg) })
		}
		_ = g.Wait()
		close(results)
	}()

	var (
		last Reply
		errs []error
	)
	for {
		select {
		case o, ok := <-results:
			if !ok {
				return last, &DeliveryError{Action: msg.Action, Attempts: total, Last: last, Errs: errs}
			}
			if o.err != nil {
				r.logger.DebugContext(ctx, "router: target failed",
					"action", msg.Action, "via", o.via, "frame", o.frame.String(), "error", o.err)
				errs = append(errs, o.err)
				continue
			}
			if o.rep.Success {
				o.rep.Via = o.via
				if o.via == "relay" {
					o.rep.Frame = o.frame
				}
				r.drainLate(msg, results)
				return o.rep, nil
			}
			if informative(o.rep, last) {
				last = o.rep
			}
		case <-ctx.Done():
			r.drainLate(msg, results)
			return Reply{Success: false, Message: "Delivery cancelled"}, ctx.Err()
		}
	}
}

// informative prefers a specific failure over the generic frame miss.
func informative(cand, cur Reply) bool {
	if cur.Message == "" {
		return true
	}
	return cur.Message == MsgNotTheFrame && cand.Message != MsgNotTheFrame && cand.Message != ""
}

func (r *Router) drainLate(msg Message, results <-chan outcome) {
	r.inflight.Add(1)
	go func() {
		defer r.inflight.Done()
		for o := range results {
			if o.err == nil && o.rep.Success {
				r.logger.Info("router: late success ignored",
					"action", msg.Action, "id", msg.ID, "via", o.via, "frame", o.frame.String())
			}
		}
	}()
}

func safeSend(ctx context.Context, send func(context.Context) (Reply, error)) (rep Reply, err error) {
	defer func() {
		if p := recover(); p != nil {
			err = errors.New("router: transport panicked")
		}
	}()
	return send(ctx)
}

// Send is the runtime request/reply channel to the background worker.
func (r *Router) Send(ctx context.Context, msg Message) (Reply, error) {
	r.mu.Lock()
	h := r.background
	r.mu.Unlock()
	if h == nil {
		return Reply{}, ErrNoBackground
	}
	ctx, cancel := context.WithTimeout(ctx, r.callTimeout)
	defer cancel()
	return h(ctx, msg)
}

// Listen registers a broadcast listener and returns its removal func.
func (r *Router) Listen(l Listener) func() {
	r.mu.Lock()
	id := r.nextID
	r.nextID++
	r.listeners[id] = l
	r.mu.Unlock()
	return func() {
		r.mu.Lock()
		delete(r.listeners, id)
		r.mu.Unlock()
	}
}

// Broadcast is fire-and-forget: listeners are called synchronously, frames
// are reached in the background and their replies discarded.
func (r *Router) Broadcast(ctx context.Context, msg Message) {
	r.mu.Lock()
	ls := make([]Listener, 0, len(r.listeners))
	for _, l := range r.listeners {
		ls = append(ls, l)
	}
	r.mu.Unlock()
	for _, l := range ls {
		l(msg)
	}

	if r.relay == nil {
		return
	}
	base := context.WithoutCancel(ctx)
	r.inflight.Add(1)
	go func() {
		defer r.inflight.Done()
		cctx, cancel := context.WithTimeout(base, r.callTimeout)
		defer cancel()
		frames, err := r.relay.Frames(cctx)
		if err != nil {
			r.logger.Debug("router: broadcast frames", "action", msg.Action, "error", err)
			return
		}
		var g errgroup.Group
		if r.parallelism > 0 {
			g.SetLimit(r.parallelism)
		}
		for _, ref := range frames {
			g.Go(func() error {
				if _, err := safeSend(cctx, func(c context.Context) (Reply, error) { return r.relay.Send(c, ref, msg) }); err != nil {
					r.logger.Debug("router: broadcast target failed", "frame", ref.String(), "error", err)
				}
				return nil
			})
		}
		_ = g.Wait()
	}()
}

// Wait blocks until background sends and late-reply drains finish.
func (r *Router) Wait() { r.inflight.Wait() }
