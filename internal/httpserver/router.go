package httpserver

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"
	"go.uber.org/zap"

	"math2image/internal/config"
	"math2image/internal/handlers"
	"math2image/internal/metrics"
	"math2image/internal/middleware"
)

func SetupRouter(
	r *chi.Mux,
	baseLogger *zap.Logger,
	cfg config.ServerConfig,
	equationHandler *handlers.EquationHandler,
	readyz http.HandlerFunc,
) {
	r.Use(metrics.Middleware)

	// base middleware
	r.Use(chimw.RequestID)
	r.Use(chimw.RealIP)

	r.Use(middleware.LoggingContext(baseLogger))
	r.Use(middleware.Recoverer())
	r.Use(middleware.Timeout(cfg.RequestTimeout))
	r.Use(middleware.MaxBodySize(cfg.MaxBodyBytes))

	r.Get("/healthz", handlers.Healthz)
	r.Get("/readyz", readyz)
	r.Handle("/metrics", metrics.Handler())

	// render endpoint; legacy clients post to arbitrary paths
	for _, path := range []string{"/", "/render"} {
		r.Get(path, equationHandler.Render)
		r.Post(path, equationHandler.Render)
	}
	r.NotFound(equationHandler.Render)
	r.MethodNotAllowed(equationHandler.Render)
}
