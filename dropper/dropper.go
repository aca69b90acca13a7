// Package dropper delivers a synthetic file into a chat composer by
// simulating a user dragging it onto the page.
//
// The target page is untrusted and knows nothing about us; the only
// contract is a contenteditable composer that accepts native drop events.
// A frame without such an element is simply not the target.
package dropper

import (
	"context"
	"log/slog"
	"time"
)

// InputEventDelay separates the drop from the follow-up input/change
// events that nudge reactive frameworks into noticing the attachment.
const InputEventDelay = 100 * time.Millisecond

// Messages returned in Result.
const (
	MsgDropped    = "File dropped into chat input"
	MsgNoEditable = "No contenteditable chat input found"
	MsgEmptyFile  = "Refusing to drop an empty file"
	MsgDropFailed = "Drop event failed"
)

// File is a synthetic file built from bytes.
type File struct {
	Name     string `json:"name"`
	MIMEType string `json:"mime_type"`
	Bytes    []byte `json:"-"`
}

// Target is one frame's DOM as seen by the injector.
type Target interface {
	// HasEditable reports whether the frame contains a contenteditable
	// composer.
	HasEditable(ctx context.Context) (bool, error)
	// DropFile focuses the composer and dispatches a bubbling, cancelable
	// drop event carrying f in its DataTransfer.
	DropFile(ctx context.Context, f File) error
	// DispatchInputEvents fires input and change on the composer.
	DispatchInputEvents(ctx context.Context) error
}

// Result is the reply for one injection attempt.
type Result struct {
	Success bool   `json:"success"`
	Message string `json:"message"`
}

// Injector performs drops.
type Injector struct {
	delay  time.Duration
	logger *slog.Logger
}

// Option configures an Injector.
type Option func(*Injector)

// WithLogger sets a custom logger.
func WithLogger(l *slog.Logger) Option { return func(i *Injector) { i.logger = l } }

// WithInputDelay overrides InputEventDelay.
func WithInputDelay(d time.Duration) Option { return func(i *Injector) { i.delay = d } }

// New creates an Injector.
func New(opts ...Option) *Injector {
	i := &Injector{delay: InputEventDelay, logger: slog.Default()}
	for _, o := range opts {
		o(i)
	}
	return i
}

// Inject drops f into t. It reports success as soon as the drop event was
// dispatched; the follow-up input events run afterwards and their failure
// is only logged. The returned channel, if non-nil, closes once they ran.
func (i *Injector) Inject(ctx context.Context, t Target, f File) (Result, <-chan struct{}) {
	ok, err := t.HasEditable(ctx)
	if err != nil {
		i.logger.Debug("dropper: editable lookup failed", "error", err)
		return Result{Success: false, Message: MsgNoEditable}, nil
	}
	if !ok {
		return Result{Success: false, Message: MsgNoEditable}, nil
	}
	if len(f.Bytes) == 0 {
		return Result{Success: false, Message: MsgEmptyFile}, nil
	}

	if err := t.DropFile(ctx, f); err != nil {
		i.logger.Warn("dropper: drop failed", "file", f.Name, "error", err)
		return Result{Success: false, Message: MsgDropFailed + ": " + err.Error()}, nil
	}
	i.logger.Info("dropper: dropped", "file", f.Name, "mime", f.MIMEType, "bytes", len(f.Bytes))

	done := make(chan struct{})
	// The follow-up outlives the request that triggered the drop.
	bg := context.WithoutCancel(ctx)
	time.AfterFunc(i.delay, func() {
		defer close(done)
		if err := t.DispatchInputEvents(bg); err != nil {
			i.logger.Debug("dropper: input events failed", "file", f.Name, "error", err)
		}
	})
	return Result{Success: true, Message: MsgDropped}, done
}
