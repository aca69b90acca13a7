// Package probe answers one question: does anything answer at this URL?
//
// The answer is deliberately coarse. A HEAD request that gets any HTTP
// response, whatever its status, counts as reachable; redirects are not
// followed and the body is never read. Only transport failures (DNS,
// refused, TLS, timeout) count as unreachable. This mirrors what an opaque
// cross-origin request can tell a browser and is enough to choose between
// two backend URLs.
package probe

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"time"
)

// DefaultTimeout bounds a single probe.
const DefaultTimeout = 5 * time.Second

// Prober performs reachability probes.
type Prober struct {
	client  *http.Client
	timeout time.Duration
	ua      string
	logger  *slog.Logger
}

// Option configures a Prober.
type Option func(*Prober)

// WithClient sets a custom HTTP client. Its redirect policy is replaced so
// that the first response is the one observed.
func WithClient(c *http.Client) Option {
	return func(p *Prober) { p.client = c }
}

// WithTimeout overrides DefaultTimeout.
func WithTimeout(d time.Duration) Option {
	return func(p *Prober) { p.timeout = d }
}

// WithLogger sets a custom logger.
func WithLogger(l *slog.Logger) Option {
	return func(p *Prober) { p.logger = l }
}

// New creates a Prober.
func New(opts ...Option) *Prober {
	p := &Prober{
		client:  &http.Client{},
		timeout: DefaultTimeout,
		ua:      "Mozilla/5.0 (compatible; chatdrop/1.0)",
		logger:  slog.Default(),
	}
	for _, o := range opts {
		o(p)
	}
	c := *p.client
	c.CheckRedirect = func(*http.Request, []*http.Request) error { return http.ErrUseLastResponse }
	p.client = &c
	return p
}

// ProbablyReachable reports whether url produced any HTTP response within
// the timeout. It never returns an error: malformed URLs, network errors,
// timeouts and cancellation all read as false.
func (p *Prober) ProbablyReachable(ctx context.Context, url string) bool {
	if url == "" {
		return false
	}
	ctx, cancel := context.WithTimeout(ctx, p.timeout)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodHead, url, nil)
	if err != nil {
		p.logger.Debug("probe: bad url", "url", url, "error", err)
		return false
	}
	req.Header.Set("User-Agent", p.ua)

	start := time.Now()
	resp, err := p.client.Do(req)
	if err != nil {
		reason := "network"
		if errors.Is(err, context.DeadlineExceeded) {
			reason = "timeout"
		}
		p.logger.Info("probe: unreachable", "url", url, "reason", reason, "error", err)
		return false
	}
	resp.Body.Close()
	p.logger.Debug("probe: reachable", "url", url, "status", resp.StatusCode, "elapsed", time.Since(start))
	return true
}
