// Package frame is the handler that runs against every frame of every tab.
//
// Most frames are not the chat composer; they answer "not the target
// frame" and move on. The one frame holding a contenteditable composer
// performs the drop or the prompt submission.
package frame

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/hazyhaar/chatdrop/acquire"
	"github.com/hazyhaar/chatdrop/capture"
	"github.com/hazyhaar/chatdrop/completion"
	"github.com/hazyhaar/chatdrop/dropper"
	"github.com/hazyhaar/chatdrop/router"
)

// SubmitSelectors are tried in order to find the send button.
var SubmitSelectors = []string{
	`button[type="submit"]:not([disabled])`,
	`button[aria-label*="send" i]:not([disabled])`,
	`button[aria-label*="submit" i]:not([disabled])`,
	`button:has(svg[class*="send" i]):not([disabled])`,
	`button:has(svg[class*="submit" i]):not([disabled])`,
	`button:has(svg):not([disabled])`,
	`[role="button"][aria-label*="send" i]:not([disabled])`,
	`[role="button"][aria-label*="submit" i]:not([disabled])`,
}

// Defaults for prompt submission.
const (
	DefaultSettle      = time.Second
	DefaultTypingDelay = 100 * time.Millisecond
)

// DOM is everything the handler needs from one frame.
type DOM interface {
	dropper.Target
	completion.Indicators
	// Observer returns a mutation source for the frame, or nil.
	Observer() completion.Source
	// SetComposerText replaces the composer text and fires input.
	SetComposerText(ctx context.Context, text string) error
	// ClickSubmit clicks the first element matching one of selectors and
	// reports whether one was found.
	ClickSubmit(ctx context.Context, selectors []string) (bool, error)
	// PressEnter dispatches keydown, keypress and keyup for Enter on the
	// composer.
	PressEnter(ctx context.Context) error
}

// Acquirer fetches a document for the PDF path.
type Acquirer interface {
	Acquire(ctx context.Context, rawURL string) (*acquire.Result, error)
}

// Handler serves one frame.
type Handler struct {
	dom      DOM
	acq      Acquirer
	injector *dropper.Injector
	detect   completion.Config
	settle   time.Duration
	typing   time.Duration
	logger   *slog.Logger
	serve    router.Handler
}

// Option configures a Handler.
type Option func(*Handler)

// WithLogger sets a custom logger.
func WithLogger(l *slog.Logger) Option { return func(h *Handler) { h.logger = l } }

// WithInjector overrides the drop injector.
func WithInjector(i *dropper.Injector) Option { return func(h *Handler) { h.injector = i } }

// WithDetection tunes upload-completion detection.
func WithDetection(c completion.Config) Option { return func(h *Handler) { h.detect = c } }

// WithDelays overrides the settle delay after upload and the delay between
// typing and submitting.
func WithDelays(settle, typing time.Duration) Option {
	return func(h *Handler) { h.settle, h.typing = settle, typing }
}

// New creates a Handler for dom. acq serves dropPDFFromUrl.
func New(dom DOM, acq Acquirer, opts ...Option) *Handler {
	h := &Handler{
		dom:    dom,
		acq:    acq,
		settle: DefaultSettle,
		typing: DefaultTypingDelay,
		logger: slog.Default(),
	}
	for _, o := range opts {
		o(h)
	}
	if h.injector == nil {
		h.injector = dropper.New(dropper.WithLogger(h.logger))
	}
	if h.detect.Logger == nil {
		h.detect.Logger = h.logger
	}
	h.serve = h.Mux().Handler(h.logger)
	return h
}

// Mux returns the frame's action dispatcher.
func (h *Handler) Mux() *router.Mux {
	m := router.NewMux()
	m.Handle(router.ActionDropPDF, h.dropPDF)
	m.Handle(router.ActionExecuteAutomation, h.executeAutomation)
	m.Handle(router.ActionSubmitPrompt, h.submitPrompt)
	return m
}

// Serve is the frame entry point: errors and panics become replies.
func (h *Handler) Serve(ctx context.Context, msg router.Message) (router.Reply, error) {
	return h.serve(ctx, msg)
}

// isTarget reports whether this frame holds the composer.
func (h *Handler) isTarget(ctx context.Context) bool {
	ok, err := h.dom.HasEditable(ctx)
	if err != nil {
		h.logger.Debug("frame: editable lookup", "error", err)
		return false
	}
	return ok
}

func notTarget() (router.Reply, error) {
	return router.Reply{Success: false, Message: router.MsgNotTheFrame}, nil
}

func (h *Handler) dropPDF(ctx context.Context, msg router.Message) (router.Reply, error) {
	var p router.DropPDFPayload
	if err := msg.Decode(&p); err != nil {
		return router.Reply{}, err
	}
	if !h.isTarget(ctx) {
		return notTarget()
	}
	name := p.FileName
	if name == "" {
		name = "document.pdf"
	}

	res, err := h.acq.Acquire(ctx, p.PDFURL)
	if err != nil {
		h.logger.Warn("frame: pdf acquisition failed", "url", p.PDFURL, "error", err)
		return router.Reply{Success: false, Message: "Error dropping PDF: " + acquire.UserMessage(err)}, nil
	}
	if res.Placeholder {
		h.logger.Warn("frame: dropping placeholder pdf", "url", p.PDFURL)
	}

	f := dropper.File{Name: name, MIMEType: "application/pdf", Bytes: res.Bytes}
	r, _ := h.injector.Inject(ctx, h.dom, f)
	if !r.Success {
		return router.Reply{Success: false, Message: "Error dropping PDF: " + r.Message}, nil
	}
	return router.Reply{Success: true, Message: fmt.Sprintf("PDF file %q dropped successfully", name)}, nil
}

func (h *Handler) executeAutomation(ctx context.Context, msg router.Message) (router.Reply, error) {
	var p router.AutomationPayload
	if err := msg.Decode(&p); err != nil {
		return router.Reply{}, err
	}
	if !h.isTarget(ctx) {
		return notTarget()
	}
	name := p.FileName
	if name == "" {
		name = "webpage.html"
	}

	content := capture.Clean(p.HTMLContent)
	if content == "" {
		return router.Reply{Success: false, Message: "No content extracted from the tab"}, nil
	}
	h.logger.Debug("frame: dropping page", "file", name, "source", p.SourceURL, "chars", len(content))

	f := dropper.File{Name: name, MIMEType: "text/html", Bytes: []byte(content)}
	r, _ := h.injector.Inject(ctx, h.dom, f)
	if !r.Success {
		return router.Reply{Success: false, Message: r.Message}, nil
	}
	return router.Reply{Success: true, Message: fmt.Sprintf("HTML file %q dropped successfully", name)}, nil
}

func (h *Handler) submitPrompt(ctx context.Context, msg router.Message) (router.Reply, error) {
	var p router.SubmitPromptPayload
	if err := msg.Decode(&p); err != nil {
		return router.Reply{}, err
	}
	if !h.isTarget(ctx) {
		return notTarget()
	}

	if p.WaitForUpload {
		cfg := h.detect
		cfg.Source = h.dom.Observer()
		if !completion.Detect(ctx, h.dom, cfg) {
			h.logger.Warn("frame: upload completion not detected, submitting anyway")
		}
		if err := sleep(ctx, h.settle); err != nil {
			return router.Reply{}, err
		}
	}

	if err := h.dom.SetComposerText(ctx, p.Prompt); err != nil {
		return router.Reply{}, fmt.Errorf("frame: set composer: %w", err)
	}
	if err := sleep(ctx, h.typing); err != nil {
		return router.Reply{}, err
	}

	clicked, err := h.dom.ClickSubmit(ctx, SubmitSelectors)
	if err != nil {
		return router.Reply{}, fmt.Errorf("frame: click submit: %w", err)
	}
	if clicked {
		return router.Reply{Success: true, Message: "Prompt submitted successfully"}, nil
	}
	if err := h.dom.PressEnter(ctx); err != nil {
		return router.Reply{}, fmt.Errorf("frame: press enter: %w", err)
	}
	return router.Reply{Success: true, Message: "Prompt submitted via Enter key"}, nil
}

func sleep(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return nil
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-t.C:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
