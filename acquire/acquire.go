// Package acquire fetches a remote document (typically a PDF) and never
// hands back an empty payload.
//
// The chain has three steps:
//  1. An authenticated GET. A 2xx response with a non-empty body wins.
//  2. When that fails, an opaque HEAD. If anything answers, the resource
//     exists but cannot be read, so a one-page placeholder PDF stands in.
//  3. When nothing answers at all, the error from step 1 is returned,
//     since it is the most informative one.
package acquire

import (
	"bytes"
	"context"
	"encoding/base64"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"net/url"
	"path"
	"strings"
	"time"

	"github.com/pdfcpu/pdfcpu/pkg/api"
	"github.com/pdfcpu/pdfcpu/pkg/pdfcpu/model"

	"github.com/hazyhaar/chatdrop/horosafe"
)

const placeholderPDFBase64 = "JVBERi0xLjEKJeLjz9MKMSAwIG9iago8PAovVHlwZSAvQ2F0YWxvZwovUGFnZXMgMiAwIFIKPj4KZW5kb2JqCjIgMCBvYmoKPDwKL1R5cGUgL1BhZ2VzCi9LaWRzIFszIDAgUl0KL0NvdW50IDEKL01lZGlhQm94IFswIDAgNjEyIDc5Ml0KPj4KZW5kb2JqCjMgMCBvYmoKPDwKL1R5cGUgL1BhZ2UKL1BhcmVudCAyIDAgUgovUmVzb3VyY2VzIDw8Cj4+Cj4+CmVuZG9iagp4cmVmCjAgNAowMDAwMDAwMDAwIDY1NTM1IGYgCjAwMDAwMDAwMDkgMDAwMDAgbiAKMDAwMDAwMDA1OCAwMDAwMCBuIAowMDAwMDAwMTM5IDAwMDAwIG4gCnRyYWlsZXIKPDwKL1NpemUgNAovUm9vdCAxIDAgUgo+PgpzdGFydHhyZWYKMjA4CiUlRU9G"

// PlaceholderPDF returns a fresh copy of the minimal one-page PDF used when
// a document exists but cannot be read.
func PlaceholderPDF() []byte {
	b, err := base64.StdEncoding.DecodeString(placeholderPDFBase64)
	if err != nil {
		panic("acquire: placeholder pdf: " + err.Error())
	}
	return b
}

// ErrEmptyBody is returned by the direct fetch for a zero-length 2xx body.
var ErrEmptyBody = errors.New("acquire: empty body")

// FetchError describes a failed direct fetch.
type FetchError struct {
	URL    string
	Status int // 0 for transport failures
	Err    error
}

func (e *FetchError) Error() string {
	if e.Status != 0 {
		return fmt.Sprintf("acquire: fetch %s: HTTP %d", e.URL, e.Status)
	}
	return fmt.Sprintf("acquire: fetch %s: %v", e.URL, e.Err)
}

func (e *FetchError) Unwrap() error { return e.Err }

// Result is an acquired document.
type Result struct {
	Bytes []byte
	// Placeholder is set when Bytes is the placeholder PDF.
	Placeholder bool
	// Pages is the PDF page count, 0 when the payload is not a parsable PDF.
	Pages       int
	ContentType string
}

// Chain runs the acquisition steps.
type Chain struct {
	client     *http.Client
	token      string
	tokenHosts map[string]bool
	cookies    CookieSource
	maxBody    int64
	logger     *slog.Logger
}

// CookieSource returns the cookies a browser would send to rawURL.
type CookieSource func(ctx context.Context, rawURL string) ([]*http.Cookie, error)

// Option configures a Chain.
type Option func(*Chain)

// WithClient sets a custom HTTP client.
func WithClient(c *http.Client) Option { return func(ch *Chain) { ch.client = c } }

// WithBearer sends an Authorization header on direct fetches to hosts.
// Other hosts never see the token.
func WithBearer(token string, hosts ...string) Option {
	return func(ch *Chain) {
		ch.token = token
		ch.tokenHosts = make(map[string]bool, len(hosts))
		for _, h := range hosts {
			ch.tokenHosts[strings.ToLower(h)] = true
		}
	}
}

// WithCookieSource sends the cookies src returns on the direct fetch,
// typically the browser's cookies for the document URL.
func WithCookieSource(src CookieSource) Option { return func(ch *Chain) { ch.cookies = src } }

// WithMaxBody caps the direct fetch body. Default: horosafe.MaxDocumentBody.
func WithMaxBody(n int64) Option { return func(ch *Chain) { ch.maxBody = n } }

// WithLogger sets a custom logger.
func WithLogger(l *slog.Logger) Option { return func(ch *Chain) { ch.logger = l } }

// New creates a Chain.
func New(opts ...Option) *Chain {
	ch := &Chain{
		client:  &http.Client{Timeout: 60 * time.Second},
		maxBody: horosafe.MaxDocumentBody,
		logger:  slog.Default(),
	}
	for _, o := range opts {
		o(ch)
	}
	return ch
}

// Acquire runs the chain for rawURL. On success Result.Bytes is never
// empty.
func (ch *Chain) Acquire(ctx context.Context, rawURL string) (*Result, error) {
	if err := horosafe.ValidateHTTPURL(rawURL); err != nil {
		return nil, fmt.Errorf("acquire: %w", err)
	}

	data, ctype, firstErr := ch.fetch(ctx, rawURL)
	if firstErr == nil {
		res := &Result{Bytes: data, ContentType: ctype, Pages: PageCount(data)}
		ch.logger.Info("acquire: fetched", "url", rawURL, "bytes", len(data), "pages", res.Pages)
		return res, nil
	}

	ch.logger.Warn("acquire: direct fetch failed, probing", "url", rawURL, "error", firstErr)
	if err := ch.opaque(ctx, rawURL); err != nil {
		ch.logger.Warn("acquire: probe failed", "url", rawURL, "error", err)
		return nil, firstErr
	}

	ch.logger.Info("acquire: using placeholder", "url", rawURL)
	return &Result{Bytes: PlaceholderPDF(), Placeholder: true, Pages: 1, ContentType: "application/pdf"}, nil
}

func (ch *Chain) fetch(ctx context.Context, rawURL string) ([]byte, string, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, rawURL, nil)
	if err != nil {
		return nil, "", &FetchError{URL: rawURL, Err: err}
	}
	req.Header.Set("Accept", "application/pdf,*/*;q=0.8")
	if ch.token != "" && ch.tokenHosts[strings.ToLower(req.URL.Hostname())] {
		req.Header.Set("Authorization", "Bearer "+ch.token)
	}
	if ch.cookies != nil {
		cs, err := ch.cookies(ctx, rawURL)
		if err != nil {
			ch.logger.Debug("acquire: cookies unavailable", "url", rawURL, "error", err)
		}
		for _, c := range cs {
			req.AddCookie(c)
		}
	}

	resp, err := ch.client.Do(req)
	if err != nil {
		return nil, "", &FetchError{URL: rawURL, Err: err}
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return nil, "", &FetchError{URL: rawURL, Status: resp.StatusCode, Err: errors.New(resp.Status)}
	}
	data, err := horosafe.LimitedReadAll(resp.Body, ch.maxBody)
	if err != nil {
		return nil, "", &FetchError{URL: rawURL, Err: err}
	}
	if len(data) == 0 {
		return nil, "", &FetchError{URL: rawURL, Status: 0, Err: ErrEmptyBody}
	}
	return data, resp.Header.Get("Content-Type"), nil
}

// opaque reports nil when anything answers at rawURL. Credentials are not
// sent and the body is not read.
func (ch *Chain) opaque(ctx context.Context, rawURL string) error {
	ctx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()
	req, err := http.NewRequestWithContext(ctx, http.MethodHead, rawURL, nil)
	if err != nil {
		return err
	}
	resp, err := ch.client.Do(req)
	if err != nil {
		return err
	}
	resp.Body.Close()
	return nil
}

// PageCount returns the number of pages of a PDF payload, or 0 if it does
// not parse.
func PageCount(data []byte) (n int) {
	if !bytes.HasPrefix(data, []byte("%PDF")) {
		return 0
	}
	defer func() {
		if recover() != nil {
			n = 0
		}
	}()
	conf := model.NewDefaultConfiguration()
	conf.ValidationMode = model.ValidationRelaxed
	n, err := api.PageCount(bytes.NewReader(data), conf)
	if err != nil {
		return 0
	}
	return n
}

// UserMessage turns an acquisition error into text suitable for a status
// banner.
func UserMessage(err error) string {
	var fe *FetchError
	if errors.As(err, &fe) {
		if errors.Is(fe.Err, ErrEmptyBody) {
			return "PDF is empty."
		}
		return "Could not fetch PDF. It may be protected or require authentication."
	}
	return err.Error()
}

// IsPDFURL reports whether rawURL looks like it points at a PDF: a path
// ending in .pdf, a /pdf/ path segment, or a pdf= query parameter.
func IsPDFURL(rawURL string) bool {
	lower := strings.ToLower(rawURL)
	u, err := url.Parse(lower)
	if err != nil {
		return strings.HasSuffix(lower, ".pdf")
	}
	return path.Ext(u.Path) == ".pdf" ||
		strings.Contains(u.Path, "/pdf/") ||
		u.Query().Has("pdf")
}

// IsYouTubeURL reports whether rawURL is on a YouTube host.
func IsYouTubeURL(rawURL string) bool {
	u, err := url.Parse(rawURL)
	if err != nil {
		return false
	}
	switch strings.ToLower(u.Hostname()) {
	case "youtube.com", "www.youtube.com", "m.youtube.com", "youtu.be", "www.youtu.be":
		return true
	}
	return false
}
