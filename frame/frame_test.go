package frame

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/hazyhaar/chatdrop/acquire"
	"github.com/hazyhaar/chatdrop/completion"
	"github.com/hazyhaar/chatdrop/dropper"
	"github.com/hazyhaar/chatdrop/router"
)

type fakeDOM struct {
	editable  bool
	hasButton bool

	mu     sync.Mutex
	files  []dropper.File
	text   string
	events []string
}

func (d *fakeDOM) record(ev string) {
	d.mu.Lock()
	d.events = append(d.events, ev)
	d.mu.Unlock()
}

func (d *fakeDOM) snapshot() ([]dropper.File, []string, string) {
	d.mu.Lock()
	defer d.mu.Unlock()
	return append([]dropper.File(nil), d.files...), append([]string(nil), d.events...), d.text
}

func (d *fakeDOM) HasEditable(context.Context) (bool, error) { return d.editable, nil }

func (d *fakeDOM) DropFile(_ context.Context, f dropper.File) error {
	d.mu.Lock()
	d.files = append(d.files, f)
	d.mu.Unlock()
	d.record("drop")
	return nil
}

func (d *fakeDOM) DispatchInputEvents(context.Context) error {
	d.record("input")
	return nil
}

func (d *fakeDOM) Probe(context.Context) (completion.Signals, error) {
	d.record("probe")
	return completion.Signals{Completed: true}, nil
}

func (d *fakeDOM) Observer() completion.Source { return nil }

func (d *fakeDOM) SetComposerText(_ context.Context, text string) error {
	d.mu.Lock()
	d.text = text
	d.mu.Unlock()
	d.record("text")
	return nil
}

func (d *fakeDOM) ClickSubmit(context.Context, []string) (bool, error) {
	if d.hasButton {
		d.record("click")
	}
	return d.hasButton, nil
}

func (d *fakeDOM) PressEnter(context.Context) error {
	d.record("enter")
	return nil
}

type acquirerFunc func(ctx context.Context, u string) (*acquire.Result, error)

func (f acquirerFunc) Acquire(ctx context.Context, u string) (*acquire.Result, error) { return f(ctx, u) }

func noAcquire(context.Context, string) (*acquire.Result, error) {
	return nil, errors.New("unexpected acquire")
}

func serve(t *testing.T, h *Handler, action router.Action, payload any) router.Reply {
	t.Helper()
	rep, err := h.Serve(context.Background(), router.MustMessage(action, payload))
	if err != nil {
		t.Fatalf("Serve(%s): %v", action, err)
	}
	return rep
}

func TestNotTheTargetFrame(t *testing.T) {
	h := New(&fakeDOM{}, acquirerFunc(noAcquire))
	for _, tc := range []struct {
		action  router.Action
		payload any
	}{
		{router.ActionDropPDF, router.DropPDFPayload{PDFURL: "https://x/a.pdf"}},
		{router.ActionExecuteAutomation, router.AutomationPayload{HTMLContent: "<p>x</p>"}},
		{router.ActionSubmitPrompt, router.SubmitPromptPayload{Prompt: "hi"}},
	} {
		rep := serve(t, h, tc.action, tc.payload)
		if rep.Success || rep.Message != router.MsgNotTheFrame {
			t.Errorf("%s: %+v", tc.action, rep)
		}
	}
}

func TestDropPDF_FromServer(t *testing.T) {
	pdf := acquire.PlaceholderPDF()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/pdf")
		_, _ = w.Write(pdf)
	}))
	defer srv.Close()

	dom := &fakeDOM{editable: true}
	h := New(dom, acquire.New(acquire.WithClient(srv.Client())))

	rep := serve(t, h, router.ActionDropPDF, router.DropPDFPayload{PDFURL: srv.URL + "/paper.pdf", FileName: "paper.pdf"})
	if !rep.Success || rep.Message != `PDF file "paper.pdf" dropped successfully` {
		t.Fatalf("reply = %+v", rep)
	}
	files, _, _ := dom.snapshot()
	if len(files) != 1 || files[0].MIMEType != "application/pdf" || len(files[0].Bytes) != len(pdf) {
		t.Fatalf("files = %+v", files)
	}
}

func TestDropPDF_FetchFailure(t *testing.T) {
	dom := &fakeDOM{editable: true}
	h := New(dom, acquirerFunc(func(context.Context, string) (*acquire.Result, error) {
		return nil, &acquire.FetchError{URL: "u", Err: errors.New("connection refused")}
	}))
	rep := serve(t, h, router.ActionDropPDF, router.DropPDFPayload{PDFURL: "https://x/a.pdf"})
	if rep.Success || !strings.Contains(rep.Message, "Could not fetch PDF") {
		t.Fatalf("reply = %+v", rep)
	}
}

func TestExecuteAutomation(t *testing.T) {
	dom := &fakeDOM{editable: true}
	h := New(dom, acquirerFunc(noAcquire))

	rep := serve(t, h, router.ActionExecuteAutomation, router.AutomationPayload{
		HTMLContent: "<html><body><p>café &mdash; ok</p></body></html>",
		SourceURL:   "https://example.org",
	})
	if !rep.Success || !strings.Contains(rep.Message, "webpage.html") {
		t.Fatalf("reply = %+v", rep)
	}
	files, _, _ := dom.snapshot()
	if len(files) != 1 || files[0].MIMEType != "text/html" {
		t.Fatalf("files = %+v", files)
	}
	for _, b := range files[0].Bytes {
		if b > 126 {
			t.Fatalf("non-ASCII byte %d in %q", b, files[0].Bytes)
		}
	}
}

func TestExecuteAutomation_EmptyContentFails(t *testing.T) {
	dom := &fakeDOM{editable: true}
	h := New(dom, acquirerFunc(noAcquire))
	rep := serve(t, h, router.ActionExecuteAutomation, router.AutomationPayload{HTMLContent: "  \n "})
	if rep.Success {
		t.Fatalf("reply = %+v", rep)
	}
	if files, _, _ := dom.snapshot(); len(files) != 0 {
		t.Fatal("empty content was dropped")
	}
}

func TestSubmitPrompt(t *testing.T) {
	for _, tc := range []struct {
		name      string
		button    bool
		wait      bool
		wantLast  string
		wantProbe bool
	}{
		{"button", true, false, "click", false},
		{"enter fallback", false, false, "enter", false},
		{"wait for upload", true, true, "click", true},
	} {
		t.Run(tc.name, func(t *testing.T) {
			dom := &fakeDOM{editable: true, hasButton: tc.button}
			h := New(dom, acquirerFunc(noAcquire), WithDelays(time.Millisecond, time.Millisecond))

			rep := serve(t, h, router.ActionSubmitPrompt, router.SubmitPromptPayload{Prompt: "Summarize this", WaitForUpload: tc.wait})
			if !rep.Success {
				t.Fatalf("reply = %+v", rep)
			}
			_, events, text := dom.snapshot()
			if text != "Summarize this" {
				t.Fatalf("text = %q", text)
			}
			if events[len(events)-1] != tc.wantLast {
				t.Fatalf("events = %v", events)
			}
			if (events[0] == "probe") != tc.wantProbe {
				t.Fatalf("events = %v, probe expected %v", events, tc.wantProbe)
			}
		})
	}
}

func TestSubmitPrompt_Cancelled(t *testing.T) {
	dom := &fakeDOM{editable: true}
	h := New(dom, acquirerFunc(noAcquire), WithDelays(time.Hour, time.Millisecond))
	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()

	rep, err := h.Serve(ctx, router.MustMessage(router.ActionSubmitPrompt, router.SubmitPromptPayload{Prompt: "x", WaitForUpload: true}))
	if err != nil || rep.Success {
		t.Fatalf("rep=%+v err=%v", rep, err)
	}
}
