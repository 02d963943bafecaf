package observability

import (
	"log/slog"
	"net/http"

	chimiddleware "github.com/go-chi/chi/v5/middleware"
)

// Audit records a security relevant event against the request that caused it.
// attrs must never carry tokens, tickets or patient identifiers.
func Audit(r *http.Request, event string, attrs ...any) {
	ctx := r.Context()
	reqID := chimiddleware.GetReqID(ctx)
	if reqID == "" {
		reqID = r.Header.Get("X-Request-Id")
	}
	fields := make([]any, 0, len(attrs)+4)
	fields = append(fields,
		slog.String("event", event),
		slog.String("route", r.Method+" "+r.URL.Path),
		slog.String("request_id", reqID),
	)
	if origin := r.Header.Get("Origin"); origin != "" {
		fields = append(fields, slog.String("origin", origin))
	}
	slog.InfoContext(ctx, "audit", append(fields, attrs...)...)
}
