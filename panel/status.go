package panel

import (
	"sync"
	"time"
)

// Banner display durations.
const (
	SuccessTTL = 3 * time.Second
	ErrorTTL   = 10 * time.Second
)

// Banner is the status line shown to the user.
type Banner struct {
	Message string    `json:"message"`
	Error   bool      `json:"error"`
	ShownAt time.Time `json:"shown_at"`
}

// Status holds the current banner. A new message replaces the previous one
// and restarts the dismissal timer.
type Status struct {
	successTTL time.Duration
	errorTTL   time.Duration

	mu     sync.Mutex
	cur    *Banner
	timer  *time.Timer
	gen    uint64
	listen []func(*Banner)
}

// NewStatus creates a Status with the standard durations.
func NewStatus() *Status { return NewStatusTTL(SuccessTTL, ErrorTTL) }

// NewStatusTTL creates a Status with custom durations.
func NewStatusTTL(success, failure time.Duration) *Status {
	return &Status{successTTL: success, errorTTL: failure}
}

// Show displays msg.
func (s *Status) Show(msg string, isErr bool) {
	s.mu.Lock()
	if s.timer != nil {
		s.timer.Stop()
	}
	s.gen++
	gen := s.gen
	b := &Banner{Message: msg, Error: isErr, ShownAt: time.Now()}
	s.cur = b
	ttl := s.successTTL
	if isErr {
		ttl = s.errorTTL
	}
	s.timer = time.AfterFunc(ttl, func() { s.dismiss(gen) })
	ls := append([]func(*Banner){}, s.listen...)
	s.mu.Unlock()

	for _, l := range ls {
		l(b)
	}
}

// Info shows a success banner.
func (s *Status) Info(msg string) { s.Show(msg, false) }

// Fail shows an error banner.
func (s *Status) Fail(msg string) { s.Show(msg, true) }

func (s *Status) dismiss(gen uint64) {
	s.mu.Lock()
	if gen != s.gen {
		s.mu.Unlock()
		return
	}
	s.cur = nil
	s.timer = nil
	ls := append([]func(*Banner){}, s.listen...)
	s.mu.Unlock()
	for _, l := range ls {
		l(nil)
	}
}

// Current returns the visible banner, or nil.
func (s *Status) Current() *Banner {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.cur == nil {
		return nil
	}
	b := *s.cur
	return &b
}

// OnChange registers fn, called with each new banner and with nil on
// dismissal. fn must not block.
func (s *Status) OnChange(fn func(*Banner)) {
	s.mu.Lock()
	s.listen = append(s.listen, fn)
	s.mu.Unlock()
}

// Stop cancels the pending dismissal.
func (s *Status) Stop() {
	s.mu.Lock()
	if s.timer != nil {
		s.timer.Stop()
		s.timer = nil
	}
	s.mu.Unlock()
}
