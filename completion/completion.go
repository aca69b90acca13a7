// Package completion decides when a host page has finished ingesting a
// dropped file, with no signal from the page other than its DOM.
//
// Two producers feed one state machine: an optional mutation observer on
// the page and a fixed-interval poll. Both evaluate the same predicates
// over the page's indicators. The machine resolves exactly once:
//
//	watching --in-progress seen--> active
//	watching|active --completed--> true
//	active --submit enabled, nothing in progress--> true
//	watching --quiet period elapsed--> true   (nothing ever happened)
//	any --timeout or ctx done--> false
//
// Whatever the exit path, the observer is disconnected and every timer is
// stopped before Detect returns.
package completion

import (
	"context"
	"log/slog"
	"time"
)

// Defaults.
const (
	DefaultTimeout      = 30 * time.Second
	DefaultPollInterval = 500 * time.Millisecond
	DefaultQuietPeriod  = 5 * time.Second
)

// InProgressSelectors match elements that signal an upload under way.
var InProgressSelectors = []string{
	`[aria-label*="uploading" i]`,
	`[aria-label*="loading" i]`,
	`.uploading`,
	`.loading`,
	`[class*="upload-progress" i]`,
	`[class*="uploading" i]`,
	`[class*="spinner" i]`,
	`[class*="loader" i]`,
	`div[role="progressbar"]`,
	`svg[class*="animate-spin" i]`,
	`.animate-pulse`,
}

// CompletedSelectors match elements that signal an attached file.
var CompletedSelectors = []string{
	`[aria-label*="attachment" i]`,
	`[aria-label*="file" i]`,
	`[aria-label*="document" i]`,
	`[class*="attachment" i]`,
	`[class*="file-preview" i]`,
	`[class*="file-badge" i]`,
	`[class*="file-chip" i]`,
	`[class*="uploaded" i]`,
	`[data-testid*="attachment" i]`,
	`[data-testid*="file" i]`,
	`img[alt*="uploaded" i]`,
	`img[alt*="attachment" i]`,
	`div[title$=".pdf" i]`,
	`span[title$=".pdf" i]`,
	`div[title$=".html" i]`,
	`span[title$=".html" i]`,
}

// SubmitSelector matches an enabled submit button.
const SubmitSelector = `button[type="submit"]:not([disabled])`

// ObservedAttributes are the attributes whose changes wake the observer,
// in addition to child-list changes anywhere in the body.
var ObservedAttributes = []string{"class", "aria-label", "disabled", "title"}

// Signals is one evaluation of the page. Only visible elements count.
type Signals struct {
	InProgress    bool `json:"in_progress"`
	Completed     bool `json:"completed"`
	SubmitEnabled bool `json:"submit_enabled"`
}

// Indicators evaluates the page.
type Indicators interface {
	Probe(ctx context.Context) (Signals, error)
}

// IndicatorsFunc adapts a function to Indicators.
type IndicatorsFunc func(ctx context.Context) (Signals, error)

func (f IndicatorsFunc) Probe(ctx context.Context) (Signals, error) { return f(ctx) }

// Source produces a notification whenever the page mutates.
type Source interface {
	// Observe starts observing. The channel is never closed by the source
	// while observing; Disconnect stops it.
	Observe(ctx context.Context) (<-chan struct{}, error)
	Disconnect()
}

// Config tunes Detect. Zero values take the defaults.
type Config struct {
	Timeout      time.Duration
	PollInterval time.Duration
	QuietPeriod  time.Duration
	// Source is optional; without it detection relies on polling.
	Source Source
	Logger *slog.Logger
}

func (c *Config) defaults() {
	if c.Timeout <= 0 {
		c.Timeout = DefaultTimeout
	}
	if c.PollInterval <= 0 {
		c.PollInterval = DefaultPollInterval
	}
	if c.QuietPeriod <= 0 {
		c.QuietPeriod = DefaultQuietPeriod
	}
	if c.Logger == nil {
		c.Logger = slog.Default()
	}
}

// session owns the resources of one Detect call.
type session struct {
	start    time.Time
	activity bool
	source   Source
	ticker   *time.Ticker
	quiet    *time.Timer
	deadline *time.Timer
}

// cleanup is safe to call more than once.
func (s *session) cleanup() {
	if s.source != nil {
		s.source.Disconnect()
		s.source = nil
	}
	if s.ticker != nil {
		s.ticker.Stop()
		s.ticker = nil
	}
	if s.quiet != nil {
		s.quiet.Stop()
		s.quiet = nil
	}
	if s.deadline != nil {
		s.deadline.Stop()
		s.deadline = nil
	}
}

// evaluate returns (resolved, result).
func (s *session) evaluate(ctx context.Context, ind Indicators, log *slog.Logger) (bool, bool) {
	sig, err := ind.Probe(ctx)
	if err != nil {
		log.Debug("completion: probe failed", "error", err)
		return false, false
	}
	switch {
	case sig.InProgress:
		if !s.activity {
			log.Debug("completion: upload activity seen", "after", time.Since(s.start))
		}
		s.activity = true
		return false, false
	case sig.Completed:
		return true, true
	case s.activity && sig.SubmitEnabled:
		return true, true
	}
	return false, false
}

// Detect blocks until the upload looks complete (true) or the timeout,
// or ctx, expires (false).
func Detect(ctx context.Context, ind Indicators, cfg Config) bool {
	cfg.defaults()
	log := cfg.Logger

	s := &session{start: time.Now()}
	defer s.cleanup()

	if done, ok := s.evaluate(ctx, ind, log); done {
		log.Info("completion: complete on first check")
		return ok
	}

	var mutations <-chan struct{}
	if cfg.Source != nil {
		ch, err := cfg.Source.Observe(ctx)
		if err != nil {
			log.Warn("completion: observer unavailable, polling only", "error", err)
		} else {
			s.source = cfg.Source
			mutations = ch
		}
	}
	s.ticker = time.NewTicker(cfg.PollInterval)
	s.quiet = time.NewTimer(cfg.QuietPeriod)
	s.deadline = time.NewTimer(cfg.Timeout)

	for {
		select {
		case <-ctx.Done():
			log.Info("completion: cancelled", "elapsed", time.Since(s.start))
			return false

		case <-s.deadline.C:
			log.Warn("completion: timed out", "timeout", cfg.Timeout, "activity", s.activity)
			return false

		case <-s.quiet.C:
			if !s.activity {
				log.Info("completion: no activity, assuming complete", "quiet", cfg.QuietPeriod)
				return true
			}

		case <-s.ticker.C:
			if done, ok := s.evaluate(ctx, ind, log); done {
				log.Info("completion: complete", "via", "poll", "elapsed", time.Since(s.start))
				return ok
			}

		case _, open := <-mutations:
			if !open {
				mutations = nil
				continue
			}
			if done, ok := s.evaluate(ctx, ind, log); done {
				log.Info("completion: complete", "via", "observer", "elapsed", time.Since(s.start))
				return ok
			}
		}
	}
}
