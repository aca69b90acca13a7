package router

import (
	"context"
	"fmt"
	"log/slog"
	"runtime/debug"
	"time"
)

// Handler processes one Message in a receiving context.
type Handler func(ctx context.Context, msg Message) (Reply, error)

// Middleware wraps a Handler.
type Middleware func(Handler) Handler

// Chain composes middlewares; the first is the outermost.
func Chain(mws ...Middleware) Middleware {
	return func(next Handler) Handler {
		for i := len(mws) - 1; i >= 0; i-- {
			next = mws[i](next)
		}
		return next
	}
}

// Structured converts handler errors into failure replies, so every entry
// point resolves to a Reply.
func Structured() Middleware {
	return func(next Handler) Handler {
		return func(ctx context.Context, msg Message) (Reply, error) {
			rep, err := next(ctx, msg)
			if err != nil {
				return Reply{Success: false, Message: err.Error()}, nil
			}
			return rep, nil
		}
	}
}

// Recovery converts panics into errors.
func Recovery(logger *slog.Logger) Middleware {
	return func(next Handler) Handler {
		return func(ctx context.Context, msg Message) (rep Reply, err error) {
			defer func() {
				if r := recover(); r != nil {
					logger.ErrorContext(ctx, "router: handler panic",
						"action", msg.Action, "panic", r, "stack", string(debug.Stack()))
					err = fmt.Errorf("router: panic in %s: %v", msg.Action, r)
				}
			}()
			return next(ctx, msg)
		}
	}
}

// Timeout bounds handler duration.
func Timeout(d time.Duration) Middleware {
	return func(next Handler) Handler {
		return func(ctx context.Context, msg Message) (Reply, error) {
			ctx, cancel := context.WithTimeout(ctx, d)
			defer cancel()
			return next(ctx, msg)
		}
	}
}

// Logging logs each handled message.
func Logging(logger *slog.Logger) Middleware {
	return func(next Handler) Handler {
		return func(ctx context.Context, msg Message) (Reply, error) {
			start := time.Now()
			rep, err := next(ctx, msg)
			attrs := []any{"action", msg.Action, "id", msg.ID, "duration_ms", time.Since(start).Milliseconds()}
			switch {
			case err != nil:
				logger.WarnContext(ctx, "router: handler failed", append(attrs, "error", err)...)
			case rep.Success:
				logger.DebugContext(ctx, "router: handled", append(attrs, "message", rep.Message)...)
			default:
				logger.DebugContext(ctx, "router: declined", append(attrs, "message", rep.Message)...)
			}
			return rep, err
		}
	}
}

// Mux dispatches by Action.
type Mux struct {
	handlers map[Action]Handler
}

// NewMux creates an empty Mux.
func NewMux() *Mux { return &Mux{handlers: make(map[Action]Handler)} }

// Handle registers h for action.
func (m *Mux) Handle(action Action, h Handler) { m.handlers[action] = h }

// Serve dispatches msg. Unknown actions get a failure reply.
func (m *Mux) Serve(ctx context.Context, msg Message) (Reply, error) {
	h, ok := m.handlers[msg.Action]
	if !ok {
		return Reply{Success: false, Message: fmt.Sprintf("Unknown action: %s", msg.Action)}, nil
	}
	return h(ctx, msg)
}

// Handler returns Serve wrapped in the standard receive chain: logging,
// structured errors, panic recovery.
func (m *Mux) Handler(logger *slog.Logger) Handler {
	if logger == nil {
		logger = slog.Default()
	}
	return Chain(Logging(logger), Structured(), Recovery(logger))(m.Serve)
}
