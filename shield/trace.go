package shield

import (
	"context"
	"log/slog"
	"net/http"

	"github.com/hazyhaar/chatdrop/idgen"
	"github.com/hazyhaar/chatdrop/kit"
)

var traceID = idgen.Prefixed("tr_", idgen.Default)

// TraceID tags each request with a trace ID, echoed in X-Trace-ID, stored
// under kit.TraceIDKey, and attached to a per-request logger. A client
// supplied X-Request-ID is kept as the request ID.
func TraceID(logger *slog.Logger) func(http.Handler) http.Handler {
	if logger == nil {
		logger = slog.Default()
	}
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			id := traceID()
			ctx := kit.WithTraceID(r.Context(), id)
			ctx = kit.WithTransport(ctx, "http")
			w.Header().Set("X-Trace-ID", id)

			attrs := []any{"trace_id", id, "method", r.Method, "path", r.URL.Path}
			if rid := r.Header.Get("X-Request-ID"); rid != "" {
				ctx = kit.WithRequestID(ctx, rid)
				attrs = append(attrs, "request_id", rid)
			}
			l := logger.With(attrs...)
			ctx = context.WithValue(ctx, LoggerKey, l)
			l.Debug("shield: request")

			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}
