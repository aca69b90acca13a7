// Package capture turns a rendered web page into a small, self-contained
// HTML document that can travel as a synthetic file.
//
// The pipeline is: pick the main content region, strip media and active
// content, wrap it in a fixed template with a source backlink, then reduce
// the whole document to printable ASCII. Capture never fails: if any step
// errors or panics, the raw page is passed through ASCIIFallback instead.
package capture

import (
	"errors"
	"fmt"
	"log/slog"
	"strings"

	"github.com/PuerkitoBio/goquery"
	"github.com/microcosm-cc/bluemonday"
	"golang.org/x/net/html"

	"github.com/hazyhaar/chatdrop/horosafe"
)

// MinContentText is the trimmed text length a candidate region must exceed
// to be accepted as the main content.
const MinContentText = 100

// ContentSelectors are tried in order; the first match with enough text
// wins.
var ContentSelectors = []string{
	"main", "article", `[role="main"]`,
	".entry-content", ".post-content", ".content",
	".entry", "#content", ".blog-content",
}

// BoilerplateSelectors are removed from <body> when no content region
// qualifies.
var BoilerplateSelectors = []string{"header", "nav", "footer", "aside", ".sidebar", ".menu"}

// MediaSelectors are deleted, except images carrying alt text which become
// "[Image: alt]".
var MediaSelectors = []string{
	"img", "video", "audio", "iframe", "embed",
	"object", "canvas", "svg", "picture", "source",
}

// ActiveSelectors are removed unconditionally.
const ActiveSelectors = "script, style, link, noscript"

// Page is a serialized rendered DOM.
type Page struct {
	Title string
	URL   string
	HTML  string
}

// Document is the synthesized output.
type Document struct {
	Title     string `json:"title"`
	SourceURL string `json:"source_url"`
	HTML      string `json:"html"`
	// TextLen is the trimmed text length of the extracted region.
	TextLen int `json:"text_len"`
	// Fallback is set when the document came from ASCIIFallback.
	Fallback bool `json:"fallback,omitempty"`
}

// Empty reports whether nothing readable was captured.
func (d *Document) Empty() bool {
	return d == nil || d.TextLen == 0 || strings.TrimSpace(d.HTML) == ""
}

// FileName derives the synthetic file name from the title.
func (d *Document) FileName() string { return d.FileNameExt(".html") }

// FileNameExt is FileName with another extension.
func (d *Document) FileNameExt(ext string) string {
	t := d.Title
	if t == "" {
		t = "webpage"
	}
	return horosafe.FileName(t, ext)
}

// Capturer holds the markup policy applied to extracted regions.
type Capturer struct {
	policy *bluemonday.Policy
	logger *slog.Logger
}

// Option configures a Capturer.
type Option func(*Capturer)

// WithLogger sets a custom logger.
func WithLogger(l *slog.Logger) Option { return func(c *Capturer) { c.logger = l } }

// WithPolicy replaces the default bluemonday UGC policy.
func WithPolicy(p *bluemonday.Policy) Option { return func(c *Capturer) { c.policy = p } }

// New creates a Capturer.
func New(opts ...Option) *Capturer {
	c := &Capturer{policy: bluemonday.UGCPolicy(), logger: slog.Default()}
	for _, o := range opts {
		o(c)
	}
	return c
}

// Capture synthesizes a Document from p. It always returns a document.
func (c *Capturer) Capture(p Page) (doc *Document) {
	defer func() {
		if r := recover(); r != nil {
			doc = c.fallback(p, fmt.Errorf("panic: %v", r))
		}
	}()

	title, body, textLen, err := c.extract(p)
	if err != nil {
		return c.fallback(p, err)
	}
	out := render(title, p.URL, body)
	out = neutralize(Sanitize(out))
	out = EnsureDocument(out)

	c.logger.Debug("capture: synthesized", "url", p.URL, "text_len", textLen, "bytes", len(out))
	return &Document{Title: title, SourceURL: p.URL, HTML: out, TextLen: textLen}
}

func (c *Capturer) fallback(p Page, cause error) *Document {
	c.logger.Warn("capture: falling back to ascii", "url", p.URL, "error", cause)
	title := p.Title
	if title == "" {
		title = "webpage"
	}
	return &Document{
		Title:     title,
		SourceURL: p.URL,
		HTML:      EnsureDocument(neutralize(ASCIIFallback(c.policy.Sanitize(p.HTML)))),
		TextLen:   len(strings.TrimSpace(p.HTML)),
		Fallback:  true,
	}
}

var errNoDocument = errors.New("capture: empty page")

// extract returns the title, the sanitized inner markup of the chosen
// region and its text length.
func (c *Capturer) extract(p Page) (string, string, int, error) {
	if strings.TrimSpace(p.HTML) == "" {
		return "", "", 0, errNoDocument
	}
	doc, err := goquery.NewDocumentFromReader(strings.NewReader(p.HTML))
	if err != nil {
		return "", "", 0, fmt.Errorf("capture: parse: %w", err)
	}

	title := strings.TrimSpace(p.Title)
	if title == "" {
		title = strings.TrimSpace(doc.Find("title").First().Text())
	}
	if title == "" {
		title = "Untitled"
	}

	region := selectRegion(doc)
	stripMedia(region)
	region.Find(ActiveSelectors).Remove()

	textLen := len(strings.TrimSpace(region.Text()))
	inner, err := region.Html()
	if err != nil {
		return "", "", 0, fmt.Errorf("capture: render: %w", err)
	}
	inner = c.policy.Sanitize(inner)
	if textLen == 0 {
		inner = "<p>No content extracted.</p>"
	}
	return title, inner, textLen, nil
}

// selectRegion returns a detached copy of the main content region, or of
// <body> minus boilerplate.
func selectRegion(doc *goquery.Document) *goquery.Selection {
	for _, sel := range ContentSelectors {
		cand := doc.Find(sel).First()
		if cand.Length() > 0 && len(strings.TrimSpace(cand.Text())) > MinContentText {
			return cand.Clone()
		}
	}
	body := doc.Find("body").First()
	if body.Length() == 0 {
		body = doc.Selection
	}
	region := body.Clone()
	region.Find(strings.Join(BoilerplateSelectors, ", ")).Remove()
	return region
}

func stripMedia(region *goquery.Selection) {
	region.Find(strings.Join(MediaSelectors, ", ")).Each(func(_ int, s *goquery.Selection) {
		if goquery.NodeName(s) == "img" {
			if alt := strings.TrimSpace(s.AttrOr("alt", "")); alt != "" {
				s.ReplaceWithNodes(&html.Node{Type: html.TextNode, Data: "[Image: " + alt + "]"})
				return
			}
		}
		s.Remove()
	})
}

// EnsureDocument guarantees a doctype and an <html> root.
func EnsureDocument(s string) string {
	lower := strings.ToLower(s)
	if !strings.Contains(lower, "<html") {
		s = "<html>\n" + s + "\n</html>"
	}
	if !strings.Contains(lower, "<!doctype") {
		s = "<!DOCTYPE html>\n" + s
	}
	return s
}
