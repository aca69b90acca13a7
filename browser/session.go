package browser

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strings"
	"sync"

	"github.com/go-rod/rod"
	"github.com/go-rod/rod/lib/proto"
	"github.com/go-rod/stealth"

	"github.com/hazyhaar/chatdrop/capture"
	"github.com/hazyhaar/chatdrop/frame"
	"github.com/hazyhaar/chatdrop/panel"
	"github.com/hazyhaar/chatdrop/router"
)

// maxFrameDepth bounds iframe recursion.
const maxFrameDepth = 4

// Session errors.
var (
	ErrNotStarted = errors.New("browser: not started")
	ErrNoChat     = errors.New("browser: chat not loaded")
	ErrNoTab      = errors.New("browser: no active tab")
)

// Session tracks the chat page and the content tabs of one browser. It is
// the panel's panel.Tabs, the router's Relay into the chat's iframes and
// its Poster into the chat's top document.
type Session struct {
	mgr       *Manager
	acq       frame.Acquirer
	frameOpts []frame.Option
	logger    *slog.Logger

	mu      sync.Mutex
	chat    *rod.Page
	chatURL string
	active  *rod.Page
	frames  map[router.FrameRef]*rod.Page
	hijacks []*rod.HijackRouter
}

// SessionOption configures a Session.
type SessionOption func(*Session)

// WithLogger sets a custom logger.
func WithLogger(l *slog.Logger) SessionOption { return func(s *Session) { s.logger = l } }

// WithFrameOptions passes options to every frame handler.
func WithFrameOptions(opts ...frame.Option) SessionOption {
	return func(s *Session) { s.frameOpts = append(s.frameOpts, opts...) }
}

// NewSession creates a Session on mgr. acq serves PDF drops.
func NewSession(mgr *Manager, acq frame.Acquirer, opts ...SessionOption) *Session {
	s := &Session{mgr: mgr, acq: acq, logger: slog.Default()}
	for _, o := range opts {
		o(s)
	}
	mgr.OnRecycle(s.reset)
	return s
}

// reset drops page handles of the previous Chrome and reloads the chat.
func (s *Session) reset(*rod.Browser) {
	s.mu.Lock()
	s.chat, s.active, s.frames, s.hijacks = nil, nil, nil, nil
	chatURL := s.chatURL
	s.mu.Unlock()
	if chatURL == "" {
		return
	}
	go func() {
		if err := s.LoadChat(context.Background(), chatURL); err != nil {
			s.logger.Warn("browser: reload chat after recycle", "error", err)
		}
	}()
}

func (s *Session) newPage() (*rod.Page, error) {
	b := s.mgr.Browser()
	if b == nil {
		return nil, ErrNotStarted
	}
	var (
		page *rod.Page
		err  error
	)
	if s.mgr.cfg.Stealth {
		page, err = stealth.Page(b)
	} else {
		page, err = b.Page(proto.TargetCreateTarget{URL: ""})
	}
	if err != nil {
		return nil, fmt.Errorf("browser: create tab: %w", err)
	}
	return page, nil
}

func (s *Session) navigate(ctx context.Context, page *rod.Page, rawURL string) error {
	navCtx, cancel := context.WithTimeout(ctx, s.mgr.cfg.NavigateTimeout)
	defer cancel()
	if err := page.Context(navCtx).Navigate(rawURL); err != nil {
		return fmt.Errorf("browser: navigate %s: %w", rawURL, err)
	}
	if err := page.Context(navCtx).WaitLoad(); err != nil {
		s.logger.Warn("browser: wait load", "url", rawURL, "error", err)
	}
	return nil
}

func tabOf(page *rod.Page) (panel.Tab, error) {
	info, err := page.Info()
	if err != nil {
		return panel.Tab{}, fmt.Errorf("browser: tab info: %w", err)
	}
	return panel.Tab{ID: string(page.TargetID), URL: info.URL, Title: info.Title}, nil
}

// ActiveTab returns the tab opened last, or any open content tab.
func (s *Session) ActiveTab(ctx context.Context) (panel.Tab, error) {
	s.mu.Lock()
	active, chat := s.active, s.chat
	s.mu.Unlock()
	if active != nil {
		if t, err := tabOf(active); err == nil {
			return t, nil
		}
	}

	b := s.mgr.Browser()
	if b == nil {
		return panel.Tab{}, ErrNotStarted
	}
	pages, err := b.Context(ctx).Pages()
	if err != nil {
		return panel.Tab{}, fmt.Errorf("browser: pages: %w", err)
	}
	for _, p := range pages {
		if chat != nil && p.TargetID == chat.TargetID {
			continue
		}
		t, err := tabOf(p)
		if err != nil || !strings.HasPrefix(t.URL, "http") {
			continue
		}
		return t, nil
	}
	return panel.Tab{}, ErrNoTab
}

// Open loads rawURL in a new tab and makes it the active one.
func (s *Session) Open(ctx context.Context, rawURL string) (panel.Tab, error) {
	page, err := s.newPage()
	if err != nil {
		return panel.Tab{}, err
	}
	var hr *rod.HijackRouter
	if len(s.mgr.cfg.ResourceBlocking) > 0 {
		hr = blockResources(page, s.mgr.cfg.ResourceBlocking)
	}
	if err := s.navigate(ctx, page, rawURL); err != nil {
		if hr != nil {
			_ = hr.Stop()
		}
		_ = page.Close()
		return panel.Tab{}, err
	}
	s.mu.Lock()
	s.active = page
	if hr != nil {
		s.hijacks = append(s.hijacks, hr)
	}
	s.mu.Unlock()
	return tabOf(page)
}

// Snapshot serializes the rendered DOM of the tab with target id tabID.
func (s *Session) Snapshot(ctx context.Context, tabID string) (capture.Page, error) {
	page, err := s.pageByID(ctx, tabID)
	if err != nil {
		return capture.Page{}, err
	}
	title, u, html, err := NewFrameDOM(page, s.logger).snapshot(ctx)
	if err != nil {
		return capture.Page{}, err
	}
	return capture.Page{Title: title, URL: u, HTML: html}, nil
}

func (s *Session) pageByID(ctx context.Context, id string) (*rod.Page, error) {
	b := s.mgr.Browser()
	if b == nil {
		return nil, ErrNotStarted
	}
	pages, err := b.Context(ctx).Pages()
	if err != nil {
		return nil, fmt.Errorf("browser: pages: %w", err)
	}
	for _, p := range pages {
		if string(p.TargetID) == id {
			return p, nil
		}
	}
	return nil, fmt.Errorf("browser: tab %s not found", id)
}

// LoadChat navigates the chat page, creating it on first use.
func (s *Session) LoadChat(ctx context.Context, rawURL string) error {
	s.mu.Lock()
	chat := s.chat
	s.mu.Unlock()
	if chat == nil {
		p, err := s.newPage()
		if err != nil {
			return err
		}
		chat = p
	}
	if err := s.navigate(ctx, chat, rawURL); err != nil {
		return err
	}
	s.mu.Lock()
	s.chat, s.chatURL, s.frames = chat, rawURL, nil
	s.mu.Unlock()
	s.logger.Info("browser: chat loaded", "url", rawURL)
	return nil
}

// Frames lists the iframes of the chat page, depth first.
func (s *Session) Frames(ctx context.Context) ([]router.FrameRef, error) {
	s.mu.Lock()
	chat := s.chat
	s.mu.Unlock()
	if chat == nil {
		return nil, ErrNoChat
	}

	var pages []*rod.Page
	s.collect(ctx, chat, 0, &pages)

	refs := make([]router.FrameRef, len(pages))
	cache := make(map[router.FrameRef]*rod.Page, len(pages))
	for i, p := range pages {
		ref := router.FrameRef{Tab: string(chat.TargetID), Frame: i + 1}
		refs[i] = ref
		cache[ref] = p
	}
	s.mu.Lock()
	s.frames = cache
	s.mu.Unlock()
	return refs, nil
}

func (s *Session) collect(ctx context.Context, page *rod.Page, depth int, out *[]*rod.Page) {
	if depth >= maxFrameDepth {
		return
	}
	els, err := page.Context(ctx).Elements("iframe")
	if err != nil {
		s.logger.Debug("browser: list iframes", "error", err)
		return
	}
	for _, el := range els {
		f, err := el.Frame()
		if err != nil {
			// Cross-process frames are not reachable this way.
			s.logger.Debug("browser: open iframe", "error", err)
			continue
		}
		*out = append(*out, f)
		s.collect(ctx, f, depth+1, out)
	}
}

// Send serves msg in the frame ref names, as listed by the last Frames.
func (s *Session) Send(ctx context.Context, ref router.FrameRef, msg router.Message) (router.Reply, error) {
	s.mu.Lock()
	page := s.frames[ref]
	s.mu.Unlock()
	if page == nil {
		return router.Reply{}, fmt.Errorf("browser: frame %s gone", ref)
	}
	return s.serve(ctx, page, msg)
}

// Post serves msg in the chat's top document.
func (s *Session) Post(ctx context.Context, msg router.Message) (router.Reply, error) {
	s.mu.Lock()
	chat := s.chat
	s.mu.Unlock()
	if chat == nil {
		return router.Reply{}, ErrNoChat
	}
	return s.serve(ctx, chat, msg)
}

func (s *Session) serve(ctx context.Context, page *rod.Page, msg router.Message) (router.Reply, error) {
	h := frame.New(NewFrameDOM(page, s.logger), s.acq, s.frameOpts...)
	return h.Serve(ctx, msg)
}

// Cookies returns the browser's cookies for rawURL so fetches outside the
// browser carry the user's session. Any open page reads the shared jar.
func (s *Session) Cookies(ctx context.Context, rawURL string) ([]*http.Cookie, error) {
	s.mu.Lock()
	page := s.chat
	if page == nil {
		page = s.active
	}
	s.mu.Unlock()
	if page == nil {
		return nil, ErrNoChat
	}
	cs, err := page.Context(ctx).Cookies([]string{rawURL})
	if err != nil {
		return nil, fmt.Errorf("browser: cookies: %w", err)
	}
	return httpCookies(cs), nil
}

func httpCookies(cs []*proto.NetworkCookie) []*http.Cookie {
	out := make([]*http.Cookie, 0, len(cs))
	for _, c := range cs {
		if c == nil || c.Name == "" {
			continue
		}
		out = append(out, &http.Cookie{Name: c.Name, Value: c.Value})
	}
	return out
}

// Close stops request interception. Pages go with the browser.
func (s *Session) Close() {
	s.mu.Lock()
	hs := s.hijacks
	s.hijacks = nil
	s.mu.Unlock()
	for _, h := range hs {
		if err := h.Stop(); err != nil {
			s.logger.Debug("browser: stop hijack", "error", err)
		}
	}
}
