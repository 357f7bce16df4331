package middleware

import (
	"log/slog"
	"net/http"

	"github.com/utafrali/orderdesk/pkg/logger"
)

// ViewHeader lets a client name the view a request acts for when the view
// is not part of the URL.
const ViewHeader = "X-View-ID"

// RequestLogger stores a request-scoped logger in the context, enriched with
// correlation_id, view_id, trace_id and span_id. Mount it after
// RequestLogging and Tracing so those fields are already present.
func RequestLogger(base *slog.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			ctx := r.Context()
			if viewID := r.Header.Get(ViewHeader); viewID != "" && logger.ViewIDFromContext(ctx) == "" {
				ctx = logger.WithViewID(ctx, viewID)
			}

			ctx = logger.NewContext(ctx, logger.WithContext(ctx, base))
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}
