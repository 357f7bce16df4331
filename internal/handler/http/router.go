package http

import (
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/utafrali/orderdesk/internal/service"
	"github.com/utafrali/orderdesk/pkg/health"
	"github.com/utafrali/orderdesk/pkg/middleware"
)

// ServiceName labels metrics and spans of the desk API.
const ServiceName = "orderdesk"

// NewRouter creates a chi router with every desk route registered.
func NewRouter(
	desk *service.Desk,
	board *service.OrderBoard,
	healthHandler *health.Handler,
	corsOrigins []string,
	logger *slog.Logger,
) http.Handler {
	r := chi.NewRouter()

	// Global middleware
	r.Use(middleware.Recovery(logger))
	r.Use(middleware.CORS(middleware.DefaultCORSConfig(corsOrigins)))
	r.Use(chimw.Compress(5))
	r.Use(chimw.Timeout(30 * time.Second))
	r.Use(middleware.RequestLogging(logger))
	r.Use(middleware.PrometheusMetrics(ServiceName))
	r.Use(middleware.Tracing(ServiceName))
	r.Use(middleware.RequestLogger(logger))

	// Health check endpoints
	r.Get("/health/live", healthHandler.LivenessHandler())
	r.Get("/health/ready", healthHandler.ReadinessHandler())
	r.Get("/metrics", func(w http.ResponseWriter, r *http.Request) {
		promhttp.Handler().ServeHTTP(w, r)
	})

	catalogHandler := NewCatalogHandler(desk, logger)
	viewHandler := NewViewHandler(desk, logger)
	orderHandler := NewOrderHandler(board, logger)

	r.Route("/api/v1", func(r chi.Router) {
		r.Use(ContentTypeJSON)

		r.Get("/catalog/products", catalogHandler.ListProducts)
		r.Get("/catalog/categories", catalogHandler.ListCategories)

		r.Post("/views", viewHandler.OpenView)
		r.Route("/views/{viewId}", func(r chi.Router) {
			r.Use(ViewCtx(desk, logger))

			r.Delete("/", viewHandler.CloseView)
			r.Get("/order", viewHandler.GetOrder)
			r.Post("/items", viewHandler.AddItem)
			r.Delete("/items", viewHandler.RemoveAll)
			r.Put("/items/{productId}", viewHandler.UpdateItem)
			r.Delete("/items/{productId}", viewHandler.RemoveItem)
			r.Post("/confirm", viewHandler.Confirm)
			r.Get("/notifications", viewHandler.Notifications)
		})

		r.Get("/orders", orderHandler.ListOrders)
		r.Get("/orders/{id}", orderHandler.GetOrder)
		r.Delete("/orders/{id}", orderHandler.FulfilOrder)
	})

	return r
}
