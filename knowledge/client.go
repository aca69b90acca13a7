// Package knowledge is a small client for the chat front-end's knowledge
// REST API: list and create collections, upload files, attach files to a
// collection. Every call carries a static bearer token.
package knowledge

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"mime/multipart"
	"net/http"
	"net/textproto"
	"net/url"
	"strings"
	"time"

	"github.com/hazyhaar/chatdrop/horosafe"
)

// ErrInvalidURL is returned for a base URL that cannot be normalised.
var ErrInvalidURL = errors.New("knowledge: invalid API URL")

// NormalizeBaseURL returns rawURL with an explicit scheme (https when
// missing), without query or fragment, ending in "/". It is idempotent.
//
//	example.com          -> https://example.com/
//	http://host:3000/ui  -> http://host:3000/ui/
func NormalizeBaseURL(rawURL string) (string, error) {
	s := strings.TrimSpace(rawURL)
	if s == "" {
		return "", ErrInvalidURL
	}
	if !strings.Contains(s, "://") {
		s = "https://" + s
	}
	u, err := url.Parse(s)
	if err != nil {
		return "", fmt.Errorf("%w: %v", ErrInvalidURL, err)
	}
	if err := horosafe.ValidateHTTPURL(u.String()); err != nil {
		return "", fmt.Errorf("%w: %v", ErrInvalidURL, err)
	}
	u.RawQuery, u.Fragment, u.RawFragment, u.RawPath = "", "", "", ""
	u.ForceQuery = false
	if !strings.HasSuffix(u.Path, "/") {
		u.Path += "/"
	}
	return u.String(), nil
}

// Collection is a knowledge base.
type Collection struct {
	ID          string `json:"id"`
	Name        string `json:"name"`
	Description string `json:"description"`
}

// CreateRequest is the body of a create call.
type CreateRequest struct {
	Name          string         `json:"name"`
	Description   string         `json:"description"`
	Data          map[string]any `json:"data"`
	AccessControl map[string]any `json:"access_control"`
}

// FileInfo is the server's record of an uploaded file.
type FileInfo struct {
	ID       string         `json:"id"`
	Filename string         `json:"filename"`
	Meta     map[string]any `json:"meta,omitempty"`
}

// UploadError is a non-2xx answer. Detail is the server's "detail" field
// when the body is JSON, the raw body otherwise.
type UploadError struct {
	Op     string
	Status int
	Detail string
}

func (e *UploadError) Error() string {
	return fmt.Sprintf("knowledge: %s failed. Status: %d. Details: %s", e.Op, e.Status, e.Detail)
}

// Client talks to one chat front-end.
type Client struct {
	base   string
	token  string
	http   *http.Client
	logger *slog.Logger
}

// Option configures a Client.
type Option func(*Client)

// WithHTTPClient sets a custom HTTP client.
func WithHTTPClient(h *http.Client) Option { return func(c *Client) { c.http = h } }

// WithLogger sets a custom logger.
func WithLogger(l *slog.Logger) Option { return func(c *Client) { c.logger = l } }

// New creates a Client for baseURL.
func New(baseURL, token string, opts ...Option) (*Client, error) {
	base, err := NormalizeBaseURL(baseURL)
	if err != nil {
		return nil, err
	}
	c := &Client{
		base:   base,
		token:  token,
		http:   &http.Client{Timeout: 120 * time.Second},
		logger: slog.Default(),
	}
	for _, o := range opts {
		o(c)
	}
	return c, nil
}

// BaseURL returns the normalised base URL.
func (c *Client) BaseURL() string { return c.base }

// List returns the collections visible to the token.
func (c *Client) List(ctx context.Context) ([]Collection, error) {
	var out []Collection
	if err := c.doJSON(ctx, "list knowledge", http.MethodGet, "api/v1/knowledge/", nil, &out); err != nil {
		return nil, err
	}
	return out, nil
}

// Create creates a collection. Nil maps are sent as {}.
func (c *Client) Create(ctx context.Context, req CreateRequest) (*Collection, error) {
	if req.Data == nil {
		req.Data = map[string]any{}
	}
	if req.AccessControl == nil {
		req.AccessControl = map[string]any{}
	}
	var out Collection
	if err := c.doJSON(ctx, "create knowledge", http.MethodPost, "api/v1/knowledge/create", req, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// UploadFile uploads data as a multipart "file" field.
func (c *Client) UploadFile(ctx context.Context, name, mimeType string, data []byte) (*FileInfo, error) {
	if len(data) == 0 {
		return nil, fmt.Errorf("knowledge: upload %s: file is empty (0 bytes)", name)
	}

	var body bytes.Buffer
	mw := multipart.NewWriter(&body)
	h := make(textproto.MIMEHeader)
	h.Set("Content-Disposition", fmt.Sprintf(`form-data; name="file"; filename=%q`, name))
	if mimeType == "" {
		mimeType = "application/octet-stream"
	}
	h.Set("Content-Type", mimeType)
	part, err := mw.CreatePart(h)
	if err != nil {
		return nil, fmt.Errorf("knowledge: upload: create part: %w", err)
	}
	if _, err := part.Write(data); err != nil {
		return nil, fmt.Errorf("knowledge: upload: write part: %w", err)
	}
	if err := mw.Close(); err != nil {
		return nil, fmt.Errorf("knowledge: upload: close writer: %w", err)
	}

	c.logger.Info("knowledge: uploading file", "name", name, "bytes", len(data), "mime", mimeType)
	var out FileInfo
	if err := c.do(ctx, "upload file", http.MethodPost, "api/v1/files/", mw.FormDataContentType(), &body, &out); err != nil {
		return nil, err
	}
	if out.ID == "" {
		return nil, fmt.Errorf("knowledge: upload %s: no file id received", name)
	}
	return &out, nil
}

// AddFile attaches an uploaded file to a collection.
func (c *Client) AddFile(ctx context.Context, collectionID, fileID string) (*Collection, error) {
	if err := horosafe.ValidateIdentifier(collectionID); err != nil {
		return nil, fmt.Errorf("knowledge: add file: collection: %w", err)
	}
	var out Collection
	path := "api/v1/knowledge/" + collectionID + "/file/add"
	if err := c.doJSON(ctx, "add file to knowledge", http.MethodPost, path, map[string]string{"file_id": fileID}, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// WorkflowResult is the outcome of CompleteWorkflow.
type WorkflowResult struct {
	Collection *Collection `json:"knowledge"`
	File       *FileInfo   `json:"file"`
	Added      *Collection `json:"add_result"`
}

// CompleteWorkflow creates a collection, uploads data and attaches it.
func (c *Client) CompleteWorkflow(ctx context.Context, name, description, fileName, mimeType string, data []byte) (*WorkflowResult, error) {
	coll, err := c.Create(ctx, CreateRequest{Name: name, Description: description})
	if err != nil {
		return nil, err
	}
	f, err := c.UploadFile(ctx, fileName, mimeType, data)
	if err != nil {
		return nil, err
	}
	added, err := c.AddFile(ctx, coll.ID, f.ID)
	if err != nil {
		return nil, err
	}
	return &WorkflowResult{Collection: coll, File: f, Added: added}, nil
}

func (c *Client) doJSON(ctx context.Context, op, method, path string, in, out any) error {
	var body io.Reader
	ctype := ""
	if in != nil {
		b, err := json.Marshal(in)
		if err != nil {
			return fmt.Errorf("knowledge: %s: encode: %w", op, err)
		}
		body, ctype = bytes.NewReader(b), "application/json"
	}
	return c.do(ctx, op, method, path, ctype, body, out)
}

func (c *Client) do(ctx context.Context, op, method, path, ctype string, body io.Reader, out any) error {
	req, err := http.NewRequestWithContext(ctx, method, c.base+path, body)
	if err != nil {
		return fmt.Errorf("knowledge: %s: new request: %w", op, err)
	}
	req.Header.Set("Authorization", "Bearer "+c.token)
	req.Header.Set("Accept", "application/json")
	if ctype != "" {
		req.Header.Set("Content-Type", ctype)
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return fmt.Errorf("knowledge: %s: %w", op, err)
	}
	defer resp.Body.Close()

	data, err := horosafe.LimitedReadAll(resp.Body, horosafe.MaxResponseBody)
	if err != nil {
		return fmt.Errorf("knowledge: %s: read body: %w", op, err)
	}
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return &UploadError{Op: op, Status: resp.StatusCode, Detail: detail(data)}
	}
	if out == nil {
		return nil
	}
	if err := json.Unmarshal(data, out); err != nil {
		return fmt.Errorf("knowledge: %s: decode: %w", op, err)
	}
	return nil
}

// detail extracts the "detail" field of a JSON error body, falling back to
// the compact JSON, then to the raw text.
func detail(body []byte) string {
	var v map[string]any
	if err := json.Unmarshal(body, &v); err != nil {
		return strings.TrimSpace(string(body))
	}
	if d, ok := v["detail"]; ok && d != nil {
		if s, ok := d.(string); ok {
			return s
		}
		b, _ := json.Marshal(d)
		return string(b)
	}
	b, _ := json.Marshal(v)
	return string(b)
}
