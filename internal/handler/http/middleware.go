package http

import (
	"context"
	"log/slog"
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"

	"github.com/utafrali/orderdesk/internal/service"
	"github.com/utafrali/orderdesk/pkg/httputil"
	"github.com/utafrali/orderdesk/pkg/logger"
)

type contextKey string

const viewKey contextKey = "view"

// ContentTypeJSON enforces that requests with a body have Content-Type: application/json.
func ContentTypeJSON(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.ContentLength > 0 || r.Method == http.MethodPost || r.Method == http.MethodPut || r.Method == http.MethodPatch {
			ct := r.Header.Get("Content-Type")
			if ct != "" && !strings.HasPrefix(ct, "application/json") {
				httputil.WriteJSON(w, http.StatusUnsupportedMediaType, httputil.Response{
					Error: &httputil.ErrorResponse{Code: "UNSUPPORTED_MEDIA_TYPE", Message: "Content-Type must be application/json"},
				})
				return
			}
		}
		next.ServeHTTP(w, r)
	})
}

// ViewCtx resolves the {viewId} URL parameter to a mounted view and stores
// it in the request context. Malformed ids are answered with 400, unknown
// views with 404.
func ViewCtx(desk *service.Desk, base *slog.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			id, ok := httputil.ParseUUID(w, chi.URLParam(r, "viewId"))
			if !ok {
				return
			}
			view, err := desk.View(id.String())
			if err != nil {
				httputil.WriteError(w, r, err, base)
				return
			}

			ctx := logger.WithViewID(r.Context(), view.ID)
			ctx = logger.NewContext(ctx, logger.WithContext(ctx, base))
			ctx = context.WithValue(ctx, viewKey, view)
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

func viewFromContext(ctx context.Context) *service.View {
	v, _ := ctx.Value(viewKey).(*service.View)
	return v
}
