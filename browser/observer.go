package browser

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/go-rod/rod/lib/proto"

	"github.com/hazyhaar/chatdrop/completion"
)

var bindingSeq atomic.Uint64

// mutationSource forwards MutationObserver callbacks from the page through
// a CDP runtime binding. Bursts collapse into one pending notification.
type mutationSource struct {
	dom     *FrameDOM
	logger  *slog.Logger
	binding string

	mu     sync.Mutex
	cancel context.CancelFunc
	ch     chan struct{}
}

func newMutationSource(d *FrameDOM, logger *slog.Logger) *mutationSource {
	return &mutationSource{
		dom:     d,
		logger:  logger,
		binding: fmt.Sprintf("__chatdrop_mutation_%d", bindingSeq.Add(1)),
	}
}

func (s *mutationSource) Observe(ctx context.Context) (<-chan struct{}, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.ch != nil {
		return s.ch, nil
	}

	page := s.dom.page
	if err := (proto.RuntimeAddBinding{Name: s.binding}).Call(page.Context(ctx)); err != nil {
		return nil, fmt.Errorf("browser: add binding: %w", err)
	}

	lctx, cancel := context.WithCancel(context.WithoutCancel(ctx))
	ch := make(chan struct{}, 1)
	wait := page.Context(lctx).EachEvent(func(e *proto.RuntimeBindingCalled) {
		if e.Name != s.binding {
			return
		}
		s.notify(ch)
	})
	go wait()

	if _, err := s.dom.call(ctx, `(a, b) => window.__chatdrop.observe(a, b)`, completion.ObservedAttributes, s.binding); err != nil {
		cancel()
		s.removeBinding()
		return nil, err
	}
	s.cancel, s.ch = cancel, ch
	return ch, nil
}

func (s *mutationSource) notify(ch chan struct{}) {
	select {
	case ch <- struct{}{}:
	default:
	}
}

func (s *mutationSource) Disconnect() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.cancel == nil {
		return
	}
	s.cancel()
	s.cancel, s.ch = nil, nil

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if _, err := s.dom.call(ctx, `() => window.__chatdrop.disconnect()`); err != nil {
		s.logger.Debug("browser: disconnect observer", "error", err)
	}
	s.removeBinding()
}

func (s *mutationSource) removeBinding() {
	if err := (proto.RuntimeRemoveBinding{Name: s.binding}).Call(s.dom.page); err != nil {
		s.logger.Debug("browser: remove binding", "binding", s.binding, "error", err)
	}
}
