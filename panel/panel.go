// Package panel implements the user-facing flows: attach the current tab
// to the chat, summarize it, and upload it to a knowledge collection.
// Every flow reports through the status banner.
package panel

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/url"
	"path"
	"strings"
	"time"

	"github.com/hazyhaar/chatdrop/acquire"
	"github.com/hazyhaar/chatdrop/capture"
	"github.com/hazyhaar/chatdrop/endpoint"
	"github.com/hazyhaar/chatdrop/kit"
	"github.com/hazyhaar/chatdrop/knowledge"
	"github.com/hazyhaar/chatdrop/observability"
	"github.com/hazyhaar/chatdrop/router"
	"github.com/hazyhaar/chatdrop/settings"
)

// Tab is a browser tab as the panel sees it.
type Tab struct {
	ID    string `json:"id"`
	URL   string `json:"url"`
	Title string `json:"title"`
}

// Tabs is the browser side the panel drives.
type Tabs interface {
	// ActiveTab returns the tab the user is looking at.
	ActiveTab(ctx context.Context) (Tab, error)
	// Open opens rawURL in a new tab and waits for it to load.
	Open(ctx context.Context, rawURL string) (Tab, error)
	// Snapshot serializes the rendered DOM of a tab.
	Snapshot(ctx context.Context, tabID string) (capture.Page, error)
	// LoadChat navigates the embedded chat to rawURL.
	LoadChat(ctx context.Context, rawURL string) error
}

// Transport is satisfied by *router.Router.
type Transport interface {
	Deliver(ctx context.Context, msg router.Message) (router.Reply, error)
	Send(ctx context.Context, msg router.Message) (router.Reply, error)
}

// Acquirer fetches PDFs for knowledge uploads.
type Acquirer interface {
	Acquire(ctx context.Context, rawURL string) (*acquire.Result, error)
}

// Recorder is satisfied by *observability.Journal.
type Recorder interface {
	Record(ctx context.Context, ev observability.Event)
}

// Panel runs the flows.
type Panel struct {
	store     settings.Store
	tabs      Tabs
	transport Transport
	capturer  *capture.Capturer
	acq       Acquirer
	status    *Status
	journal   Recorder
	knowledge []knowledge.Option
	markdown  bool
	settle    time.Duration
	logger    *slog.Logger
}

// Option configures a Panel.
type Option func(*Panel)

// WithLogger sets a custom logger.
func WithLogger(l *slog.Logger) Option { return func(p *Panel) { p.logger = l } }

// WithCapturer overrides the page capturer.
func WithCapturer(c *capture.Capturer) Option { return func(p *Panel) { p.capturer = c } }

// WithAcquirer overrides the PDF acquisition chain.
func WithAcquirer(a Acquirer) Option { return func(p *Panel) { p.acq = a } }

// WithStatus shares a status banner.
func WithStatus(s *Status) Option { return func(p *Panel) { p.status = s } }

// WithJournal records every flow outcome.
func WithJournal(r Recorder) Option { return func(p *Panel) { p.journal = r } }

// WithKnowledgeOptions passes options to every knowledge client.
func WithKnowledgeOptions(opts ...knowledge.Option) Option {
	return func(p *Panel) { p.knowledge = append(p.knowledge, opts...) }
}

// WithMarkdownUploads uploads captured pages as Markdown instead of HTML.
func WithMarkdownUploads(on bool) Option { return func(p *Panel) { p.markdown = on } }

// WithUploadSettle sets the pause between uploading a file and attaching
// it to a collection. Default 1s.
func WithUploadSettle(d time.Duration) Option { return func(p *Panel) { p.settle = d } }

// New creates a Panel.
func New(store settings.Store, tabs Tabs, transport Transport, opts ...Option) *Panel {
	p := &Panel{
		store:     store,
		tabs:      tabs,
		transport: transport,
		settle:    time.Second,
		logger:    slog.Default(),
	}
	for _, o := range opts {
		o(p)
	}
	if p.capturer == nil {
		p.capturer = capture.New(capture.WithLogger(p.logger))
	}
	if p.acq == nil {
		p.acq = acquire.New(acquire.WithLogger(p.logger))
	}
	if p.status == nil {
		p.status = NewStatus()
	}
	return p
}

// Status returns the panel's banner.
func (p *Panel) Status() *Status { return p.status }

// Start asks the background worker to recheck the endpoint and loads the
// chat. A summary left pending by a previous run is submitted.
func (p *Panel) Start(ctx context.Context) (*endpoint.Active, error) {
	rep, err := p.transport.Send(ctx, router.MustMessage(router.ActionRecheckURLs, nil))
	if err != nil {
		p.status.Fail("Could not determine the chat URL")
		return nil, fmt.Errorf("panel: recheck: %w", err)
	}
	if rep.ActiveURL == "" || rep.ActiveURL == endpoint.PlaceholderURL {
		p.status.Fail(errNoEndpoint.Message)
		return nil, errNoEndpoint
	}
	active := &endpoint.Active{URL: rep.ActiveURL, Source: endpoint.Source(rep.ActiveURLSource), ResolvedAt: time.Now()}
	if err := p.tabs.LoadChat(ctx, active.URL); err != nil {
		p.status.Fail("Could not load the chat")
		return active, fmt.Errorf("panel: load chat: %w", err)
	}
	p.status.Info(fmt.Sprintf("Using %s URL", active.Source))

	if pending, _ := settings.Bool(ctx, p.store, settings.Local, settings.KeyPendingSummary); pending {
		p.logger.Info("panel: resuming pending summary")
		if _, err := p.submitSummary(ctx); err != nil {
			p.logger.Warn("panel: resume summary", "error", err)
		}
	}
	return active, nil
}

// OnURLChanged reloads the chat when the background worker announces a new
// active endpoint. Register it with router.Listen.
func (p *Panel) OnURLChanged(ctx context.Context) func(router.Message) {
	return func(msg router.Message) {
		if msg.Action != router.ActionURLSettingsChanged {
			return
		}
		var pl router.URLSettingsPayload
		if err := msg.Decode(&pl); err != nil || pl.NewURL == "" {
			return
		}
		// Listeners must not block the broadcaster.
		go func() {
			if err := p.tabs.LoadChat(ctx, pl.NewURL); err != nil {
				p.logger.Warn("panel: reload chat", "url", pl.NewURL, "error", err)
				return
			}
			p.status.Info(fmt.Sprintf("Switched to %s URL", pl.URLSource))
		}()
	}
}

// Attach drops the tab at rawURL (the active tab when empty) into the
// chat. With summarize set, a summary prompt follows once the upload
// completed.
func (p *Panel) Attach(ctx context.Context, rawURL string, summarize bool) (router.Reply, error) {
	start := time.Now()
	kind := observability.KindAttach
	if summarize {
		kind = observability.KindSummarize
	}
	rep, tab, err := p.attach(ctx, rawURL, summarize)
	if tab.ID != "" {
		ctx = kit.WithTab(ctx, tab.ID)
	}
	if err != nil {
		p.status.Fail(userMessage(err))
		rep = router.Reply{Success: false, Message: userMessage(err)}
	} else if !rep.Success {
		p.status.Fail(rep.Message)
	}
	p.record(ctx, observability.Event{
		Kind: kind, Target: rawURL, Via: rep.Via, Success: err == nil && rep.Success,
		Message: rep.Message, DurationMs: time.Since(start).Milliseconds(),
	})
	return rep, err
}

// Summarize is Attach with a follow-up summary prompt.
func (p *Panel) Summarize(ctx context.Context, rawURL string) (router.Reply, error) {
	return p.Attach(ctx, rawURL, true)
}

// attach returns the tab it worked on, zero when none was found.
func (p *Panel) attach(ctx context.Context, rawURL string, summarize bool) (router.Reply, Tab, error) {
	active, err := endpoint.Current(ctx, p.store)
	if err != nil {
		return router.Reply{}, Tab{}, err
	}
	if active == nil {
		return router.Reply{}, Tab{}, errNoEndpoint
	}
	tab, err := p.tab(ctx, rawURL)
	if err != nil {
		return router.Reply{}, Tab{}, err
	}
	rep, err := p.deliverTab(kit.WithTab(ctx, tab.ID), active, tab, summarize)
	return rep, tab, err
}

func (p *Panel) deliverTab(ctx context.Context, active *endpoint.Active, tab Tab, summarize bool) (router.Reply, error) {
	if summarize {
		if err := p.store.Set(ctx, settings.Local, map[string]string{settings.KeyPendingSummary: settings.FormatBool(true)}); err != nil {
			return router.Reply{}, fmt.Errorf("panel: set pending summary: %w", err)
		}
	}

	var msg router.Message
	switch {
	case acquire.IsPDFURL(tab.URL):
		p.status.Info("Dropping PDF file...")
		msg = router.MustMessage(router.ActionDropPDF, router.DropPDFPayload{PDFURL: tab.URL, FileName: pdfFileName(tab.URL)})
	case acquire.IsYouTubeURL(tab.URL):
		return p.loadYouTube(ctx, active, tab)
	default:
		p.status.Info("Extracting tab HTML...")
		doc, err := p.capture(ctx, tab)
		if err != nil {
			p.clearPending(ctx)
			return router.Reply{}, err
		}
		p.status.Info("Dropping text file...")
		msg = router.MustMessage(router.ActionExecuteAutomation, router.AutomationPayload{
			HTMLContent: doc.HTML, FileName: doc.FileName(), SourceURL: doc.SourceURL,
		})
	}

	rep, err := p.transport.Deliver(ctx, msg)
	if err != nil || !rep.Success {
		p.clearPending(ctx)
		if err != nil && rep.Message == "" {
			return router.Reply{}, fmt.Errorf("panel: deliver: %w", err)
		}
		return rep, nil
	}
	p.status.Info(rep.Message)

	if pending, _ := settings.Bool(ctx, p.store, settings.Local, settings.KeyPendingSummary); pending {
		p.status.Info("Waiting for upload to complete...")
		return p.submitSummary(ctx)
	}
	return rep, nil
}

// loadYouTube hands the video URL to the chat front-end, which fetches the
// transcript itself.
func (p *Panel) loadYouTube(ctx context.Context, active *endpoint.Active, tab Tab) (router.Reply, error) {
	p.clearPending(ctx)
	base, _, _ := strings.Cut(active.URL, "?")
	target := base + "?load-url=" + url.QueryEscape(tab.URL)
	if err := p.tabs.LoadChat(ctx, target); err != nil {
		return router.Reply{}, fmt.Errorf("panel: load youtube: %w", err)
	}
	rep := router.Reply{Success: true, Message: "Loading YouTube content..."}
	p.status.Info(rep.Message)
	return rep, nil
}

func (p *Panel) submitSummary(ctx context.Context) (router.Reply, error) {
	defer p.clearPending(ctx)
	prompt, err := SummaryPrompt(ctx, p.store)
	if err != nil {
		return router.Reply{}, err
	}
	p.status.Info("Submitting prompt...")
	rep, err := p.transport.Deliver(ctx, router.MustMessage(router.ActionSubmitPrompt,
		router.SubmitPromptPayload{Prompt: prompt, WaitForUpload: true}))
	if err != nil && rep.Message == "" {
		return router.Reply{}, fmt.Errorf("panel: submit prompt: %w", err)
	}
	if rep.Success {
		p.status.Info(rep.Message)
	}
	return rep, nil
}

func (p *Panel) clearPending(ctx context.Context) {
	if err := p.store.Remove(ctx, settings.Local, settings.KeyPendingSummary); err != nil {
		p.logger.Warn("panel: clear pending summary", "error", err)
	}
}

func (p *Panel) tab(ctx context.Context, rawURL string) (Tab, error) {
	if rawURL == "" {
		t, err := p.tabs.ActiveTab(ctx)
		if err != nil {
			return Tab{}, fmt.Errorf("panel: no active tab found: %w", err)
		}
		return t, nil
	}
	t, err := p.tabs.Open(ctx, rawURL)
	if err != nil {
		return Tab{}, fmt.Errorf("panel: open %s: %w", rawURL, err)
	}
	return t, nil
}

// capture snapshots and synthesizes a tab. A page without text is a
// ContentExtractionError.
func (p *Panel) capture(ctx context.Context, tab Tab) (*capture.Document, error) {
	page, err := p.tabs.Snapshot(ctx, tab.ID)
	if err != nil {
		return nil, &ContentExtractionError{URL: tab.URL, Err: err}
	}
	doc := p.capturer.Capture(page)
	if doc.Empty() {
		return nil, &ContentExtractionError{URL: tab.URL}
	}
	return doc, nil
}

func (p *Panel) record(ctx context.Context, ev observability.Event) {
	if p.journal != nil {
		p.journal.Record(ctx, ev)
	}
}

// pdfFileName is the last path segment of rawURL, or document.pdf.
func pdfFileName(rawURL string) string {
	u, err := url.Parse(rawURL)
	if err != nil {
		return "document.pdf"
	}
	name := path.Base(u.Path)
	if name == "" || name == "/" || name == "." {
		return "document.pdf"
	}
	if un, err := url.PathUnescape(name); err == nil {
		name = un
	}
	return name
}

// userMessage is the banner text for err.
func userMessage(err error) string {
	var ce *ConfigurationError
	if errors.As(err, &ce) {
		return ce.Message
	}
	var ue *knowledge.UploadError
	if errors.As(err, &ue) {
		return ue.Error()
	}
	var fe *acquire.FetchError
	if errors.As(err, &fe) {
		return acquire.UserMessage(err)
	}
	var xe *ContentExtractionError
	if errors.As(err, &xe) {
		return xe.Error()
	}
	return err.Error()
}
