package knowledge

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
)

func TestNormalizeBaseURL(t *testing.T) {
	tests := []struct {
		in, want string
	}{
		{"example.com", "https://example.com/"},
		{"https://example.com", "https://example.com/"},
		{"https://example.com/", "https://example.com/"},
		{"http://10.0.0.5:3000", "http://10.0.0.5:3000/"},
		{"localhost:8080/owui", "https://localhost:8080/owui/"},
		{"  https://chat.local/?tab=1#x ", "https://chat.local/"},
	}
	for _, tt := range tests {
		got, err := NormalizeBaseURL(tt.in)
		if err != nil {
			t.Fatalf("NormalizeBaseURL(%q): %v", tt.in, err)
		}
		if got != tt.want {
			t.Errorf("NormalizeBaseURL(%q) = %q, want %q", tt.in, got, tt.want)
		}
		again, err := NormalizeBaseURL(got)
		if err != nil || again != got {
			t.Errorf("not idempotent: %q -> %q (%v)", got, again, err)
		}
	}

	for _, bad := range []string{"", "   ", "ftp://files.example.com", "https://"} {
		if _, err := NormalizeBaseURL(bad); !errors.Is(err, ErrInvalidURL) {
			t.Errorf("NormalizeBaseURL(%q) err = %v", bad, err)
		}
	}
}

func FuzzNormalizeBaseURL(f *testing.F) {
	for _, s := range []string{"example.com", "http://a/b?c", "a:1/x/"} {
		f.Add(s)
	}
	f.Fuzz(func(t *testing.T, s string) {
		once, err := NormalizeBaseURL(s)
		if err != nil {
			return
		}
		if !strings.HasSuffix(once, "/") || !strings.Contains(once, "://") {
			t.Fatalf("%q -> %q", s, once)
		}
		twice, err := NormalizeBaseURL(once)
		if err != nil || twice != once {
			t.Fatalf("%q -> %q -> %q (%v)", s, once, twice, err)
		}
	})
}

// fakeOWUI records requests and serves the knowledge endpoints.
func fakeOWUI(t *testing.T) *httptest.Server {
	t.Helper()
	mux := http.NewServeMux()
	auth := func(next http.HandlerFunc) http.HandlerFunc {
		return func(w http.ResponseWriter, r *http.Request) {
			if r.Header.Get("Authorization") != "Bearer sk-test" {
				w.WriteHeader(http.StatusUnauthorized)
				_, _ = io.WriteString(w, `{"detail":"Not authenticated"}`)
				return
			}
			next(w, r)
		}
	}
	mux.HandleFunc("GET /api/v1/knowledge/", auth(func(w http.ResponseWriter, r *http.Request) {
		_, _ = io.WriteString(w, `[{"id":"kb1","name":"Docs","description":"d","files":[]}]`)
	}))
	mux.HandleFunc("POST /api/v1/knowledge/create", auth(func(w http.ResponseWriter, r *http.Request) {
		var req CreateRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil || req.Data == nil || req.AccessControl == nil {
			w.WriteHeader(http.StatusBadRequest)
			return
		}
		_ = json.NewEncoder(w).Encode(Collection{ID: "kb2", Name: req.Name, Description: req.Description})
	}))
	mux.HandleFunc("POST /api/v1/files/", auth(func(w http.ResponseWriter, r *http.Request) {
		f, hdr, err := r.FormFile("file")
		if err != nil {
			w.WriteHeader(http.StatusBadRequest)
			_, _ = io.WriteString(w, `{"detail":"missing file"}`)
			return
		}
		defer f.Close()
		b, _ := io.ReadAll(f)
		_ = json.NewEncoder(w).Encode(map[string]any{
			"id": "file-1", "filename": hdr.Filename,
			"meta": map[string]any{"size": len(b), "content_type": hdr.Header.Get("Content-Type")},
		})
	}))
	mux.HandleFunc("POST /api/v1/knowledge/{id}/file/add", auth(func(w http.ResponseWriter, r *http.Request) {
		var body map[string]string
		_ = json.NewDecoder(r.Body).Decode(&body)
		if body["file_id"] == "dup" {
			w.WriteHeader(http.StatusBadRequest)
			_, _ = io.WriteString(w, `{"detail":"Duplicate content detected."}`)
			return
		}
		_ = json.NewEncoder(w).Encode(Collection{ID: r.PathValue("id"), Name: "Docs"})
	}))
	srv := httptest.NewServer(mux)
	t.Cleanup(srv.Close)
	return srv
}

func newClient(t *testing.T, srv *httptest.Server, token string) *Client {
	t.Helper()
	c, err := New(srv.URL, token, WithHTTPClient(srv.Client()))
	if err != nil {
		t.Fatal(err)
	}
	return c
}

func TestClient_List(t *testing.T) {
	c := newClient(t, fakeOWUI(t), "sk-test")
	got, err := c.List(context.Background())
	if err != nil {
		t.Fatal(err)
	}
	if len(got) != 1 || got[0].ID != "kb1" || got[0].Name != "Docs" {
		t.Fatalf("got %+v", got)
	}
}

func TestClient_Unauthorized(t *testing.T) {
	c := newClient(t, fakeOWUI(t), "wrong")
	_, err := c.List(context.Background())
	var ue *UploadError
	if !errors.As(err, &ue) {
		t.Fatalf("err = %v", err)
	}
	if ue.Status != http.StatusUnauthorized || ue.Detail != "Not authenticated" {
		t.Fatalf("ue = %+v", ue)
	}
}

func TestClient_UploadAndAdd(t *testing.T) {
	c := newClient(t, fakeOWUI(t), "sk-test")
	ctx := context.Background()

	f, err := c.UploadFile(ctx, "page.html", "text/html", []byte("<p>hi</p>"))
	if err != nil {
		t.Fatal(err)
	}
	if f.ID != "file-1" || f.Filename != "page.html" {
		t.Fatalf("file = %+v", f)
	}
	coll, err := c.AddFile(ctx, "kb1", f.ID)
	if err != nil || coll.ID != "kb1" {
		t.Fatalf("coll=%+v err=%v", coll, err)
	}

	_, err = c.AddFile(ctx, "kb1", "dup")
	var ue *UploadError
	if !errors.As(err, &ue) || ue.Detail != "Duplicate content detected." {
		t.Fatalf("err = %v", err)
	}
	if _, err := c.AddFile(ctx, "../admin", f.ID); err == nil {
		t.Fatal("expected identifier rejection")
	}
	if _, err := c.UploadFile(ctx, "empty.pdf", "application/pdf", nil); err == nil {
		t.Fatal("expected empty file rejection")
	}
}

func TestClient_CompleteWorkflow(t *testing.T) {
	c := newClient(t, fakeOWUI(t), "sk-test")
	res, err := c.CompleteWorkflow(context.Background(), "Research", "papers", "a.pdf", "application/pdf", []byte("%PDF-1.1"))
	if err != nil {
		t.Fatal(err)
	}
	if res.Collection.ID != "kb2" || res.File.ID != "file-1" || res.Added.ID != "kb2" {
		t.Fatalf("res = %+v", res)
	}
}

func TestDetail(t *testing.T) {
	tests := []struct{ in, want string }{
		{`{"detail":"boom"}`, "boom"},
		{`{"detail":[{"msg":"x"}]}`, `[{"msg":"x"}]`},
		{`{"error":"e"}`, `{"error":"e"}`},
		{"Internal Server Error\n", "Internal Server Error"},
	}
	for _, tt := range tests {
		if got := detail([]byte(tt.in)); got != tt.want {
			t.Errorf("detail(%q) = %q, want %q", tt.in, got, tt.want)
		}
	}
}
