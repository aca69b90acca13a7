// Package endpoint decides which configured chat backend URL is active.
//
// A user configures up to two URLs: a primary (typically the LAN address)
// and a fallback (typically a public address). Resolution probes the
// primary and only consults the fallback when the primary does not answer.
// Once anything is configured an active endpoint is always produced: when
// every probe fails the configured URL is kept rather than leaving the
// extension with nothing to load.
package endpoint

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/hazyhaar/chatdrop/settings"
)

// PlaceholderURL is the value shipped as the default primary URL. It is
// treated as "not configured".
const PlaceholderURL = "https://example.com"

// Source says which configured slot produced the active URL.
type Source string

const (
	SourcePrimary  Source = "primary"
	SourceFallback Source = "fallback"
)

// Config is the user's endpoint configuration. Empty means unconfigured.
type Config struct {
	PrimaryURL  string `json:"primaryUrl"`
	FallbackURL string `json:"fallbackUrl"`
}

// HasPrimary reports whether the primary slot holds a real URL.
func (c Config) HasPrimary() bool {
	p := strings.TrimSpace(c.PrimaryURL)
	return p != "" && p != PlaceholderURL
}

// HasFallback reports whether the fallback slot is set.
func (c Config) HasFallback() bool { return strings.TrimSpace(c.FallbackURL) != "" }

// Configured reports whether at least one slot holds a usable URL.
func (c Config) Configured() bool { return c.HasPrimary() || c.HasFallback() }

// Active is the resolved endpoint. Reachable is the probe outcome for URL
// at resolution time; it is not persisted.
type Active struct {
	URL        string    `json:"activeUrl"`
	Source     Source    `json:"activeUrlSource"`
	ResolvedAt time.Time `json:"lastUrlCheck"`
	Reachable  bool      `json:"-"`
}

// Prober is satisfied by *probe.Prober.
type Prober interface {
	ProbablyReachable(ctx context.Context, url string) bool
}

// Decide applies the resolution table. It returns nil only when nothing is
// configured.
//
//	primary set      -> probe primary; reachable -> primary
//	                    else fallback set and reachable -> fallback
//	                    else primary (degraded)
//	only fallback    -> probe fallback; fallback, reachable or not
//	neither          -> nil
func Decide(ctx context.Context, p Prober, cfg Config) *Active {
	primary := strings.TrimSpace(cfg.PrimaryURL)
	fallback := strings.TrimSpace(cfg.FallbackURL)
	now := time.Now()

	switch {
	case cfg.HasPrimary():
		if p.ProbablyReachable(ctx, primary) {
			return &Active{URL: primary, Source: SourcePrimary, ResolvedAt: now, Reachable: true}
		}
		if cfg.HasFallback() && p.ProbablyReachable(ctx, fallback) {
			return &Active{URL: fallback, Source: SourceFallback, ResolvedAt: now, Reachable: true}
		}
		return &Active{URL: primary, Source: SourcePrimary, ResolvedAt: now}
	case cfg.HasFallback():
		ok := p.ProbablyReachable(ctx, fallback)
		return &Active{URL: fallback, Source: SourceFallback, ResolvedAt: now, Reachable: ok}
	default:
		return nil
	}
}

// LoadConfig reads the endpoint configuration from the synced tier.
func LoadConfig(ctx context.Context, store settings.Store) (Config, error) {
	m, err := store.Get(ctx, settings.Synced, settings.KeyPrimaryURL, settings.KeyFallbackURL)
	if err != nil {
		return Config{}, fmt.Errorf("endpoint: load config: %w", err)
	}
	return Config{PrimaryURL: m[settings.KeyPrimaryURL], FallbackURL: m[settings.KeyFallbackURL]}, nil
}

// Resolver runs Decide against the settings store and persists the result.
// There is no lock: two concurrent resolutions both probe and the last
// write wins. Both write a valid Active, so the race is benign.
type Resolver struct {
	store    settings.Store
	prober   Prober
	logger   *slog.Logger
	onChange func(*Active)
}

// Option configures a Resolver.
type Option func(*Resolver)

// WithLogger sets a custom logger.
func WithLogger(l *slog.Logger) Option { return func(r *Resolver) { r.logger = l } }

// WithNotifier registers a callback invoked after every resolution with the
// new Active (nil when cleared).
func WithNotifier(fn func(*Active)) Option { return func(r *Resolver) { r.onChange = fn } }

// NewResolver creates a Resolver.
func NewResolver(store settings.Store, prober Prober, opts ...Option) *Resolver {
	r := &Resolver{store: store, prober: prober, logger: slog.Default()}
	for _, o := range opts {
		o(r)
	}
	return r
}

// Resolve loads the configuration and resolves it.
func (r *Resolver) Resolve(ctx context.Context) (*Active, error) {
	cfg, err := LoadConfig(ctx, r.store)
	if err != nil {
		return nil, err
	}
	return r.ResolveConfig(ctx, cfg)
}

// ResolveConfig resolves an explicit configuration and persists the result
// to the local tier.
func (r *Resolver) ResolveConfig(ctx context.Context, cfg Config) (*Active, error) {
	active := Decide(ctx, r.prober, cfg)
	if active == nil {
		if err := r.store.Remove(ctx, settings.Local, settings.KeyActiveURL, settings.KeyActiveURLSource); err != nil {
			return nil, fmt.Errorf("endpoint: clear active: %w", err)
		}
		r.logger.Info("endpoint: no url configured")
	} else {
		if err := r.store.Set(ctx, settings.Local, map[string]string{
			settings.KeyActiveURL:       active.URL,
			settings.KeyActiveURLSource: string(active.Source),
			settings.KeyLastURLCheck:    active.ResolvedAt.UTC().Format(time.RFC3339Nano),
		}); err != nil {
			return nil, fmt.Errorf("endpoint: persist active: %w", err)
		}
		r.logger.Info("endpoint: resolved", "url", active.URL, "source", active.Source, "reachable", active.Reachable)
	}
	if r.onChange != nil {
		r.onChange(active)
	}
	return active, nil
}

// Current returns the last persisted Active without probing, or nil.
func (r *Resolver) Current(ctx context.Context) (*Active, error) {
	return Current(ctx, r.store)
}

// Current reads the cached Active from the local tier.
func Current(ctx context.Context, store settings.Store) (*Active, error) {
	m, err := store.Get(ctx, settings.Local,
		settings.KeyActiveURL, settings.KeyActiveURLSource, settings.KeyLastURLCheck)
	if err != nil {
		return nil, fmt.Errorf("endpoint: current: %w", err)
	}
	u, ok := m[settings.KeyActiveURL]
	if !ok || u == "" {
		return nil, nil
	}
	a := &Active{URL: u, Source: Source(m[settings.KeyActiveURLSource])}
	if a.Source == "" {
		a.Source = SourcePrimary
	}
	if ts, err := time.Parse(time.RFC3339Nano, m[settings.KeyLastURLCheck]); err == nil {
		a.ResolvedAt = ts
	}
	return a, nil
}
