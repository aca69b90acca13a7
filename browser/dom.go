package browser

import (
	"context"
	_ "embed"
	"encoding/base64"
	"fmt"
	"log/slog"

	"github.com/go-rod/rod"
	"github.com/go-rod/rod/lib/proto"

	"github.com/hazyhaar/chatdrop/completion"
	"github.com/hazyhaar/chatdrop/dropper"
)

//go:embed page.js
var pageJS string

// FrameDOM drives one frame through the helpers installed by page.js.
// It satisfies frame.DOM.
type FrameDOM struct {
	page   *rod.Page
	logger *slog.Logger
}

// NewFrameDOM wraps a page or an iframe's page.
func NewFrameDOM(page *rod.Page, logger *slog.Logger) *FrameDOM {
	if logger == nil {
		logger = slog.Default()
	}
	return &FrameDOM{page: page, logger: logger}
}

// call installs the helpers if the document was replaced, then evaluates
// js with args.
func (d *FrameDOM) call(ctx context.Context, js string, args ...any) (*proto.RuntimeRemoteObject, error) {
	p := d.page.Context(ctx)
	if _, err := p.Eval(pageJS); err != nil {
		return nil, fmt.Errorf("browser: install helpers: %w", err)
	}
	res, err := p.Eval(js, args...)
	if err != nil {
		return nil, fmt.Errorf("browser: eval: %w", err)
	}
	return res, nil
}

func (d *FrameDOM) HasEditable(ctx context.Context) (bool, error) {
	res, err := d.call(ctx, `() => window.__chatdrop.hasEditable()`)
	if err != nil {
		return false, err
	}
	return res.Value.Bool(), nil
}

func (d *FrameDOM) DropFile(ctx context.Context, f dropper.File) error {
	b64 := base64.StdEncoding.EncodeToString(f.Bytes)
	_, err := d.call(ctx, `(n, m, b) => window.__chatdrop.drop(n, m, b)`, f.Name, f.MIMEType, b64)
	return err
}

func (d *FrameDOM) DispatchInputEvents(ctx context.Context) error {
	_, err := d.call(ctx, `() => window.__chatdrop.inputEvents()`)
	return err
}

func (d *FrameDOM) Probe(ctx context.Context) (completion.Signals, error) {
	var sig completion.Signals
	res, err := d.call(ctx, `(a, b, c) => window.__chatdrop.probe(a, b, c)`,
		completion.InProgressSelectors, completion.CompletedSelectors, completion.SubmitSelector)
	if err != nil {
		return sig, err
	}
	if err := res.Value.Unmarshal(&sig); err != nil {
		return sig, fmt.Errorf("browser: decode signals: %w", err)
	}
	return sig, nil
}

func (d *FrameDOM) Observer() completion.Source {
	return newMutationSource(d, d.logger)
}

func (d *FrameDOM) SetComposerText(ctx context.Context, text string) error {
	_, err := d.call(ctx, `(t) => window.__chatdrop.setText(t)`, text)
	return err
}

func (d *FrameDOM) ClickSubmit(ctx context.Context, selectors []string) (bool, error) {
	res, err := d.call(ctx, `(s) => window.__chatdrop.clickSubmit(s)`, selectors)
	if err != nil {
		return false, err
	}
	return res.Value.Bool(), nil
}

func (d *FrameDOM) PressEnter(ctx context.Context) error {
	_, err := d.call(ctx, `() => window.__chatdrop.pressEnter()`)
	return err
}

// snapshot serializes the rendered document.
func (d *FrameDOM) snapshot(ctx context.Context) (title, url, html string, err error) {
	res, err := d.call(ctx, `() => window.__chatdrop.snapshot()`)
	if err != nil {
		return "", "", "", err
	}
	var v struct {
		Title string `json:"title"`
		URL   string `json:"url"`
		HTML  string `json:"html"`
	}
	if err := res.Value.Unmarshal(&v); err != nil {
		return "", "", "", fmt.Errorf("browser: decode snapshot: %w", err)
	}
	return v.Title, v.URL, v.HTML, nil
}
