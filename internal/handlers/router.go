package handlers

import (
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	oteltrace "go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"

	"github.com/cartforge/commerce/internal/platform/observability"
	"github.com/cartforge/commerce/internal/platform/requestctx"
)

// RouterDeps carries the handlers mounted on the router.
type RouterDeps struct {
	Health   *HealthHandlers
	Checkout *CheckoutHandlers
	// Logger, when set, is scoped per request with the chi request id and
	// stored in the context for downstream event logging.
	Logger *zap.Logger
}

// NewRouter builds the chi router with the standard middleware stack.
func NewRouter(deps RouterDeps) http.Handler {
	r := chi.NewRouter()

	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Recoverer)
	r.Use(middleware.Timeout(30 * time.Second))
	if deps.Logger != nil {
		r.Use(requestLogger(deps.Logger))
	}

	r.NotFound(func(w http.ResponseWriter, _ *http.Request) {
		writeJSON(w, http.StatusNotFound, map[string]any{"error": "not found"})
	})
	r.MethodNotAllowed(func(w http.ResponseWriter, _ *http.Request) {
		writeJSON(w, http.StatusMethodNotAllowed, map[string]any{"error": "method not allowed"})
	})

	if deps.Health != nil {
		r.Get("/healthz", deps.Health.Healthz)
		r.Get("/readyz", deps.Health.Readyz)
	}
	if deps.Checkout != nil {
		r.Route("/api/v1", deps.Checkout.Routes)
	}

	return r
}

// requestLogger stores a request-scoped logger and trace metadata in the
// context so service event logs carry the request id and trace id.
func requestLogger(base *zap.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			ctx := r.Context()
			logger := base
			if reqID := middleware.GetReqID(ctx); reqID != "" {
				logger = logger.With(zap.String("request_id", reqID))
			}
			if span := oteltrace.SpanContextFromContext(ctx); span.IsValid() {
				info := requestctx.TraceInfo{
					TraceID: span.TraceID().String(),
					SpanID:  span.SpanID().String(),
					Sampled: span.IsSampled(),
				}
				ctx = requestctx.WithTrace(ctx, info)
				logger = logger.With(zap.String("trace_id", info.TraceID))
			}
			ctx = observability.WithLogger(ctx, logger)
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}
