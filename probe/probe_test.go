package probe

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"
)

func TestProbablyReachable_AnyStatus(t *testing.T) {
	for _, status := range []int{200, 204, 301, 401, 404, 500, 503} {
		var method string
		srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			method = r.Method
			if status == 301 {
				w.Header().Set("Location", "http://127.0.0.1:1/")
			}
			w.WriteHeader(status)
		}))
		if !New().ProbablyReachable(context.Background(), srv.URL) {
			t.Errorf("status %d: expected reachable", status)
		}
		if method != http.MethodHead {
			t.Errorf("status %d: method = %q, want HEAD", status, method)
		}
		srv.Close()
	}
}

func TestProbablyReachable_Unreachable(t *testing.T) {
	srv := httptest.NewServer(http.NotFoundHandler())
	url := srv.URL
	srv.Close()

	if New().ProbablyReachable(context.Background(), url) {
		t.Fatal("closed server reported reachable")
	}
}

func TestProbablyReachable_Timeout(t *testing.T) {
	release := make(chan struct{})
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		select {
		case <-release:
		case <-r.Context().Done():
		}
	}))
	defer srv.Close()
	defer close(release)

	start := time.Now()
	if New(WithTimeout(100*time.Millisecond)).ProbablyReachable(context.Background(), srv.URL) {
		t.Fatal("hung server reported reachable")
	}
	if elapsed := time.Since(start); elapsed > 2*time.Second {
		t.Fatalf("probe took %v", elapsed)
	}
}

func TestProbablyReachable_BadInput(t *testing.T) {
	p := New()
	for _, u := range []string{"", "::not a url", "http://"} {
		if p.ProbablyReachable(context.Background(), u) {
			t.Errorf("%q reported reachable", u)
		}
	}
}

func TestProbablyReachable_Cancelled(t *testing.T) {
	srv := httptest.NewServer(http.NotFoundHandler())
	defer srv.Close()

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	if New().ProbablyReachable(ctx, srv.URL) {
		t.Fatal("cancelled probe reported reachable")
	}
}
