package background

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/hazyhaar/chatdrop/endpoint"
	"github.com/hazyhaar/chatdrop/router"
	"github.com/hazyhaar/chatdrop/settings"
)

type upProber map[string]bool

func (p upProber) ProbablyReachable(_ context.Context, url string) bool { return p[url] }

type recorder struct {
	mu   sync.Mutex
	msgs []router.Message
	got  chan struct{}
}

func newRecorder() *recorder { return &recorder{got: make(chan struct{}, 16)} }

func (r *recorder) Broadcast(_ context.Context, msg router.Message) {
	r.mu.Lock()
	r.msgs = append(r.msgs, msg)
	r.mu.Unlock()
	r.got <- struct{}{}
}

func (r *recorder) wait(t *testing.T) router.Message {
	t.Helper()
	select {
	case <-r.got:
	case <-time.After(2 * time.Second):
		t.Fatal("no broadcast")
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.msgs[len(r.msgs)-1]
}

func setup(t *testing.T, reachable upProber) (*settings.Memory, *Worker, *recorder) {
	t.Helper()
	store := settings.NewMemory()
	rec := newRecorder()
	w := New(store, endpoint.NewResolver(store, reachable), rec)
	return store, w, rec
}

func TestWorker_ResolvesOnConfigChange(t *testing.T) {
	ctx := context.Background()
	store, w, rec := setup(t, upProber{"https://public.example.org": true})
	if err := w.Start(ctx); err != nil {
		t.Fatal(err)
	}
	defer w.Stop()

	if a, _ := endpoint.Current(ctx, store); a != nil {
		t.Fatalf("active before setup = %+v", a)
	}

	if err := store.Set(ctx, settings.Synced, map[string]string{
		settings.KeyPrimaryURL:  "https://chat.local",
		settings.KeyFallbackURL: "https://public.example.org",
	}); err != nil {
		t.Fatal(err)
	}
	msg := rec.wait(t)
	if msg.Action != router.ActionURLSettingsChanged {
		t.Fatalf("action = %s", msg.Action)
	}
	var p router.URLSettingsPayload
	if err := msg.Decode(&p); err != nil {
		t.Fatal(err)
	}
	if p.NewURL != "https://public.example.org" || p.URLSource != "fallback" {
		t.Fatalf("payload = %+v", p)
	}
}

func TestWorker_IgnoresUnrelatedChanges(t *testing.T) {
	ctx := context.Background()
	store, w, rec := setup(t, nil)
	if err := w.Start(ctx); err != nil {
		t.Fatal(err)
	}
	_ = store.Set(ctx, settings.Synced, map[string]string{settings.KeySummaryLanguage: "fr"})
	_ = store.Set(ctx, settings.Local, map[string]string{settings.KeyPrimaryURL: "https://x"})
	w.Stop()

	select {
	case <-rec.got:
		t.Fatal("unexpected broadcast")
	default:
	}
}

func TestWorker_RecheckAndStatus(t *testing.T) {
	ctx := context.Background()
	store, w, _ := setup(t, nil)
	_ = store.Set(ctx, settings.Synced, map[string]string{settings.KeyPrimaryURL: "https://chat.local"})
	h := w.Handler()

	rep, err := h(ctx, router.MustMessage(router.ActionGetURLStatus, nil))
	if err != nil || !rep.Success || rep.ActiveURL != "" {
		t.Fatalf("status before recheck: rep=%+v err=%v", rep, err)
	}

	rep, err = h(ctx, router.MustMessage(router.ActionRecheckURLs, nil))
	if err != nil || !rep.Success || rep.ActiveURL != "https://chat.local" || rep.ActiveURLSource != "primary" {
		t.Fatalf("recheck: rep=%+v err=%v", rep, err)
	}

	rep, _ = h(ctx, router.MustMessage(router.ActionGetURLStatus, nil))
	if rep.ActiveURL != "https://chat.local" {
		t.Fatalf("status after recheck: %+v", rep)
	}
}

func TestFirstTimeSetup(t *testing.T) {
	tests := []struct {
		name   string
		deltas map[string]settings.Delta
		want   bool
	}{
		{"primary set from nothing", map[string]settings.Delta{settings.KeyPrimaryURL: {New: "https://a"}}, true},
		{"fallback set from nothing", map[string]settings.Delta{settings.KeyFallbackURL: {New: "https://b"}}, true},
		{"primary changed", map[string]settings.Delta{settings.KeyPrimaryURL: {Old: "https://a", New: "https://c"}}, false},
		{"cleared", map[string]settings.Delta{settings.KeyPrimaryURL: {Old: "https://a", Deleted: true}}, false},
		{"empty to empty", map[string]settings.Delta{settings.KeyPrimaryURL: {}}, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := firstTimeSetup(settings.Change{Tier: settings.Synced, Deltas: tt.deltas}); got != tt.want {
				t.Fatalf("got %v, want %v", got, tt.want)
			}
		})
	}
}
