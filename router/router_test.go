package router

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"go.uber.org/goleak"
)

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m)
}

// fakeRelay answers per frame with a scripted handler.
type fakeRelay struct {
	frames    []FrameRef
	framesErr error
	handle    func(ctx context.Context, ref FrameRef, msg Message) (Reply, error)

	mu   sync.Mutex
	sent []FrameRef
}

func (f *fakeRelay) Frames(context.Context) ([]FrameRef, error) {
	return f.frames, f.framesErr
}

func (f *fakeRelay) Send(ctx context.Context, ref FrameRef, msg Message) (Reply, error) {
	f.mu.Lock()
	f.sent = append(f.sent, ref)
	f.mu.Unlock()
	return f.handle(ctx, ref, msg)
}

func (f *fakeRelay) sentCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.sent)
}

func notTheFrame() (Reply, error) { return Reply{Success: false, Message: MsgNotTheFrame}, nil }

func TestDeliver_FirstSuccessWins(t *testing.T) {
	target := FrameRef{Tab: "t1", Frame: 2}
	relay := &fakeRelay{
		frames: []FrameRef{{Tab: "t1", Frame: 0}, {Tab: "t1", Frame: 1}, target},
		handle: func(_ context.Context, ref FrameRef, _ Message) (Reply, error) {
			if ref == target {
				return Reply{Success: true, Message: "File dropped"}, nil
			}
			return notTheFrame()
		},
	}
	r := New(WithRelay(relay))
	defer r.Wait()

	rep, err := r.Deliver(context.Background(), MustMessage(ActionDropPDF, DropPDFPayload{PDFURL: "https://x/a.pdf", FileName: "a.pdf"}))
	if err != nil {
		t.Fatalf("Deliver: %v", err)
	}
	if !rep.Success || rep.Frame != target || rep.Via != "relay" {
		t.Fatalf("reply = %+v", rep)
	}
}

func TestDeliver_IsolatesFailures(t *testing.T) {
	relay := &fakeRelay{
		frames: []FrameRef{{Tab: "a"}, {Tab: "b"}, {Tab: "c"}},
		handle: func(_ context.Context, ref FrameRef, _ Message) (Reply, error) {
			switch ref.Tab {
			case "a":
				return Reply{}, errors.New("tab closed")
			case "b":
				panic("boom")
			}
			return Reply{Success: true}, nil
		},
	}
	r := New(WithRelay(relay))
	defer r.Wait()

	rep, err := r.Deliver(context.Background(), MustMessage(ActionExecuteAutomation, nil))
	if err != nil || !rep.Success || rep.Frame.Tab != "c" {
		t.Fatalf("rep=%+v err=%v", rep, err)
	}
}

func TestDeliver_PosterAndRelayBothFire(t *testing.T) {
	var posted atomic.Int32
	relay := &fakeRelay{
		frames: []FrameRef{{Tab: "t"}},
		handle: func(context.Context, FrameRef, Message) (Reply, error) { return notTheFrame() },
	}
	poster := PosterFunc(func(context.Context, Message) (Reply, error) {
		posted.Add(1)
		return Reply{Success: true, Message: "posted"}, nil
	})
	r := New(WithRelay(relay), WithPoster("panel", poster))

	rep, err := r.Deliver(context.Background(), MustMessage(ActionSubmitPrompt, SubmitPromptPayload{Prompt: "hi"}))
	if err != nil {
		t.Fatal(err)
	}
	r.Wait()
	if rep.Via != "post:panel" || posted.Load() != 1 || relay.sentCount() != 1 {
		t.Fatalf("rep=%+v posted=%d relay=%d", rep, posted.Load(), relay.sentCount())
	}
}

func TestDeliver_NoSuccess(t *testing.T) {
	relay := &fakeRelay{
		frames: []FrameRef{{Tab: "a"}, {Tab: "b"}},
		handle: func(_ context.Context, ref FrameRef, _ Message) (Reply, error) {
			if ref.Tab == "b" {
				return Reply{Success: false, Message: "PDF is empty."}, nil
			}
			return notTheFrame()
		},
	}
	r := New(WithRelay(relay))
	defer r.Wait()

	rep, err := r.Deliver(context.Background(), MustMessage(ActionDropPDF, nil))
	var de *DeliveryError
	if !errors.As(err, &de) {
		t.Fatalf("err = %v, want *DeliveryError", err)
	}
	if de.Attempts != 2 || rep.Message != "PDF is empty." {
		t.Fatalf("de=%+v rep=%+v", de, rep)
	}
}

func TestDeliver_NoTargets(t *testing.T) {
	r := New()
	_, err := r.Deliver(context.Background(), MustMessage(ActionDropPDF, nil))
	if !errors.Is(err, ErrNoTargets) {
		t.Fatalf("err = %v", err)
	}
}

func TestDeliver_FramesErrorFallsBackToPoster(t *testing.T) {
	relay := &fakeRelay{framesErr: errors.New("cdp gone")}
	r := New(WithRelay(relay), WithPoster("panel", PosterFunc(func(context.Context, Message) (Reply, error) {
		return Reply{Success: true}, nil
	})))
	defer r.Wait()

	rep, err := r.Deliver(context.Background(), MustMessage(ActionDropPDF, nil))
	if err != nil || !rep.Success {
		t.Fatalf("rep=%+v err=%v", rep, err)
	}
}

func TestDeliver_LateRepliesDoNotBlock(t *testing.T) {
	release := make(chan struct{})
	relay := &fakeRelay{
		frames: []FrameRef{{Tab: "fast"}, {Tab: "slow"}},
		handle: func(ctx context.Context, ref FrameRef, _ Message) (Reply, error) {
			if ref.Tab == "slow" {
				select {
				case <-release:
				case <-ctx.Done():
				}
			}
			return Reply{Success: true}, nil
		},
	}
	r := New(WithRelay(relay))

	done := make(chan Reply, 1)
	go func() {
		rep, _ := r.Deliver(context.Background(), MustMessage(ActionDropPDF, nil))
		done <- rep
	}()
	select {
	case rep := <-done:
		if rep.Frame.Tab != "fast" {
			t.Fatalf("winner = %+v", rep)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("Deliver waited for the slow frame")
	}
	close(release)
	r.Wait()
}

func TestDeliver_CallTimeout(t *testing.T) {
	relay := &fakeRelay{
		frames: []FrameRef{{Tab: "hang"}},
		handle: func(ctx context.Context, _ FrameRef, _ Message) (Reply, error) {
			<-ctx.Done()
			return Reply{}, ctx.Err()
		},
	}
	r := New(WithRelay(relay), WithCallTimeout(50*time.Millisecond))
	defer r.Wait()

	_, err := r.Deliver(context.Background(), MustMessage(ActionDropPDF, nil))
	if !errors.Is(err, context.DeadlineExceeded) {
		t.Fatalf("err = %v", err)
	}
}

func TestSend(t *testing.T) {
	r := New()
	if _, err := r.Send(context.Background(), MustMessage(ActionGetURLStatus, nil)); !errors.Is(err, ErrNoBackground) {
		t.Fatalf("err = %v", err)
	}
	r.SetBackground(func(_ context.Context, msg Message) (Reply, error) {
		return Reply{Success: true, ActiveURL: "https://chat.local", ActiveURLSource: "primary"}, nil
	})
	rep, err := r.Send(context.Background(), MustMessage(ActionGetURLStatus, nil))
	if err != nil || rep.ActiveURL != "https://chat.local" {
		t.Fatalf("rep=%+v err=%v", rep, err)
	}
}

func TestBroadcast(t *testing.T) {
	relay := &fakeRelay{
		frames: []FrameRef{{Tab: "a"}, {Tab: "b"}},
		handle: func(context.Context, FrameRef, Message) (Reply, error) { return Reply{}, errors.New("ignored") },
	}
	r := New(WithRelay(relay))

	var got []Message
	stop := r.Listen(func(m Message) { got = append(got, m) })
	r.Broadcast(context.Background(), MustMessage(ActionURLSettingsChanged, URLSettingsPayload{NewURL: "https://a", URLSource: "primary"}))
	stop()
	r.Broadcast(context.Background(), MustMessage(ActionURLSettingsChanged, nil))
	r.Wait()

	if len(got) != 1 {
		t.Fatalf("listener got %d messages, want 1", len(got))
	}
	var p URLSettingsPayload
	if err := got[0].Decode(&p); err != nil || p.NewURL != "https://a" {
		t.Fatalf("payload=%+v err=%v", p, err)
	}
	if relay.sentCount() != 4 {
		t.Fatalf("relay sends = %d, want 4", relay.sentCount())
	}
}

func TestMux(t *testing.T) {
	mux := NewMux()
	mux.Handle(ActionDropPDF, func(context.Context, Message) (Reply, error) {
		return Reply{}, errors.New("fetch failed")
	})
	mux.Handle(ActionSubmitPrompt, func(context.Context, Message) (Reply, error) {
		panic("nil composer")
	})
	h := mux.Handler(nil)

	rep, err := h(context.Background(), MustMessage(ActionDropPDF, nil))
	if err != nil || rep.Success || rep.Message == "" {
		t.Fatalf("error reply: rep=%+v err=%v", rep, err)
	}
	rep, err = h(context.Background(), MustMessage(ActionSubmitPrompt, nil))
	if err != nil || rep.Success {
		t.Fatalf("panic reply: rep=%+v err=%v", rep, err)
	}
	rep, _ = h(context.Background(), Message{Action: "bogus"})
	if rep.Message != "Unknown action: bogus" {
		t.Fatalf("unknown: %+v", rep)
	}
}

func TestMessageDecode(t *testing.T) {
	m := MustMessage(ActionExecuteAutomation, AutomationPayload{HTMLContent: "<p>x</p>", FileName: "x.html", SourceURL: "https://s"})
	if m.ID == "" {
		t.Fatal("empty id")
	}
	var p AutomationPayload
	if err := m.Decode(&p); err != nil || p.FileName != "x.html" {
		t.Fatalf("p=%+v err=%v", p, err)
	}
	if err := (Message{Action: ActionDropPDF}).Decode(&p); err == nil {
		t.Fatal("expected error on empty payload")
	}
}

func TestChainOrder(t *testing.T) {
	var order []string
	mw := func(name string) Middleware {
		return func(next Handler) Handler {
			return func(ctx context.Context, msg Message) (Reply, error) {
				order = append(order, name)
				return next(ctx, msg)
			}
		}
	}
	h := Chain(mw("a"), mw("b"), Timeout(time.Second))(func(ctx context.Context, _ Message) (Reply, error) {
		if _, ok := ctx.Deadline(); !ok {
			t.Error("no deadline")
		}
		return Reply{Success: true}, nil
	})
	_, _ = h(context.Background(), Message{})
	if len(order) != 2 || order[0] != "a" || order[1] != "b" {
		t.Fatalf("order = %v", order)
	}
}
