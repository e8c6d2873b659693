package main

import (
	"context"
	"errors"
	"log"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"

	"math2image/internal/cache"
	"math2image/internal/config"
	"math2image/internal/engine"
	"math2image/internal/equation"
	"math2image/internal/handlers"
	"math2image/internal/httpserver"
	"math2image/internal/images"
	"math2image/internal/markup"
	"math2image/internal/metrics"
	"math2image/pkg/logging/logging"
)

func main() {
	if err := run(); err != nil {
		log.Fatalf("math2image exited with error: %v", err)
	}
}

func run() error {
	// ----- Logger -----
	logger := logging.DefaultLogger()
	defer logger.Sync()

	// ----- Metrics -----
	metrics.Register()

	// ----- Config -----
	cfg, err := config.Load()
	if err != nil {
		return err
	}

	logger.Info("loaded config",
		zap.String("port", cfg.Server.Port),
		zap.String("cache_backend", cfg.Cache.Backend),
		zap.Duration("cache_lifespan", cfg.Cache.Lifespan),
		zap.String("render_engine_url", cfg.Engine.URL),
		zap.String("math_size", cfg.Markup.MathSize),
	)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	// ----- Cache -----
	var store cache.Store
	readyz := handlers.Readyz(nil)

	c, err := cache.New(ctx, cache.Config{
		Backend:      cfg.Cache.Backend,
		RedisURL:     cfg.Cache.RedisURL,
		Prefix:       cfg.Cache.Prefix,
		PingInterval: cfg.Cache.PingInterval,
		MaxEntries:   cfg.Cache.MaxEntries,
	}, logger)
	if err != nil {
		return err
	}
	if c != nil {
		defer c.Close()
		go c.Watch(ctx)
		store = c.Store
		readyz = handlers.Readyz(func() string { return c.Gate.State().String() })
	}

	// ----- Engine -----
	engineClient, err := engine.NewClient(engine.Config{
		BaseURL:    cfg.Engine.URL,
		Timeout:    cfg.Engine.Timeout,
		MaxRetries: cfg.Engine.MaxRetries,
	}, logger)
	if err != nil {
		return err
	}
	defer engineClient.Close()

	fetcher := images.NewHTTPFetcher(images.FetcherConfig{
		Timeout:  cfg.Fetch.Timeout,
		MaxBytes: cfg.Fetch.MaxBytes,
	}, logger)

	normalizer := markup.NewNormalizer(
		engine.NewTeXTranslator(),
		images.NewEmbedder(fetcher, cfg.Markup.ImageDPI),
		cfg.Markup.MathSize,
	)

	// ----- Handlers -----
	svc := equation.NewService(store, normalizer, engineClient, engineClient, cfg.Cache.Lifespan)
	equationHandler := handlers.NewEquationHandler(svc)

	// ----- Router + middleware -----
	r := chi.NewRouter()
	httpserver.SetupRouter(r, logger, cfg.Server, equationHandler, readyz)

	// ----- HTTP server -----
	srv := &http.Server{
		Addr:              ":" + cfg.Server.Port,
		Handler:           r,
		ReadHeaderTimeout: 5 * time.Second,
		ReadTimeout:       15 * time.Second,
		WriteTimeout:      cfg.Server.RequestTimeout + 5*time.Second,
		IdleTimeout:       60 * time.Second,
	}

	logger.Info("starting math2image",
		zap.String("addr", srv.Addr),
		zap.String("cache_backend", cfg.Cache.Backend),
	)

	serveErr := make(chan error, 1)
	go func() {
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			serveErr <- err
		}
		close(serveErr)
	}()

	// ----- Graceful shutdown -----
	select {
	case err := <-serveErr:
		logger.Error("server error", zap.Error(err))
		return err
	case <-ctx.Done():
	}
	logger.Info("shutdown signal received")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Error("server shutdown error", zap.Error(err))
		return err
	}

	logger.Info("server shutdown complete")
	return nil
}
