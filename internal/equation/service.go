// Package equation is the request pipeline: cache lookup, normalization,
// rendering and cache store for one equation.
package equation

import (
	"context"
	"encoding/base64"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/singleflight"

	"math2image/internal/cache"
	"math2image/internal/engine"
	"math2image/internal/markup"
	"math2image/internal/metrics"
	"math2image/internal/svg"
	"math2image/pkg/logging/logging"
)

// Normalizer produces renderable MathML from raw input.
type Normalizer interface {
	Normalize(ctx context.Context, format markup.Format, raw string) (string, error)
}

// Result is a successful response body.
type Result struct {
	ContentType string
	Body        []byte
	CacheHit    bool
}

// Service processes equation requests. A nil store disables caching.
type Service struct {
	store      cache.Store
	normalizer Normalizer
	renderer   engine.Renderer
	rasterizer engine.Rasterizer
	lifespan   time.Duration

	group singleflight.Group
}

func NewService(
	store cache.Store,
	normalizer Normalizer,
	renderer engine.Renderer,
	rasterizer engine.Rasterizer,
	lifespan time.Duration,
) *Service {
	return &Service{
		store:      store,
		normalizer: normalizer,
		renderer:   renderer,
		rasterizer: rasterizer,
		lifespan:   lifespan,
	}
}

// Process answers req from the cache or by rendering it. Cache failures are
// never returned; identical concurrent misses share one render.
func (s *Service) Process(ctx context.Context, req Request) (*Result, error) {
	if err := req.Validate(); err != nil {
		outcome := "invalid"
		if errors.Is(err, ErrMissingEquation) {
			outcome = "missing"
		}
		s.count(outcome, req)
		return nil, err
	}

	key := cache.BuildKey(string(req.Format), req.Equation, req.RefID, string(req.Output)).String()
	ctx = logging.WithFields(ctx, zap.String("cache_key", key))
	logger := logging.L(ctx)

	logger.Info("equation_received",
		zap.String("format", string(req.Format)),
		zap.String("output_format", string(req.Output)),
		logging.Input("equation", req.Equation),
	)

	if res, ok := s.lookup(ctx, key, req.Output); ok {
		s.count("cache_hit", req)
		return res, nil
	}

	// The shared render outlives any single caller so its result still
	// reaches the cache; each engine call and fetch has its own timeout.
	flightCtx := context.WithoutCancel(ctx)
	ch := s.group.DoChan(key, func() (any, error) {
		return s.produce(flightCtx, key, req)
	})

	var res singleflight.Result
	select {
	case res = <-ch:
	case <-ctx.Done():
		logger.Warn("request_abandoned", zap.Error(ctx.Err()))
		s.count("error", req)
		return nil, ctx.Err()
	}

	if res.Shared {
		logger.Debug("render_coalesced")
	}
	if err := res.Err; err != nil {
		var rerr *RenderError
		if errors.As(err, &rerr) {
			s.count("render_error", req)
		} else {
			s.count("error", req)
		}
		return nil, err
	}

	if req.Output == OutputMathML {
		s.count("mathml", req)
	} else {
		s.count("rendered", req)
	}
	return res.Val.(*Result), nil
}

func (s *Service) lookup(ctx context.Context, key string, out OutputFormat) (*Result, bool) {
	if s.store == nil {
		return nil, false
	}
	payload, ok, err := s.store.Get(ctx, key)
	if err != nil || !ok {
		return nil, false
	}
	body, err := base64.StdEncoding.DecodeString(string(payload))
	if err != nil {
		logging.L(ctx).Warn("cache_payload_invalid", zap.Error(err))
		return nil, false
	}
	return &Result{ContentType: out.ContentType(), Body: body, CacheHit: true}, true
}

func (s *Service) produce(ctx context.Context, key string, req Request) (*Result, error) {
	logger := logging.L(ctx)

	mathml, err := s.normalizer.Normalize(ctx, req.Format, req.Equation)
	if err != nil {
		logger.Error("normalize_failed", logging.Input("equation", req.Equation), zap.Error(err))
		return nil, &RenderError{Format: req.Format, Input: req.Equation, Err: err}
	}

	if req.Output == OutputMathML {
		return &Result{ContentType: req.Output.ContentType(), Body: []byte(mathml)}, nil
	}

	body, err := s.render(ctx, mathml, req.Output)
	if err != nil {
		logger.Error("render_failed", logging.Input("mathml", mathml), zap.Error(err))
		return nil, &RenderError{Format: req.Format, Input: mathml, Err: err}
	}
	logger.Info("rendered", zap.Int("bytes", len(body)))

	s.save(ctx, key, body)
	return &Result{ContentType: req.Output.ContentType(), Body: body}, nil
}

// render lays out mathml, retrying once with sanitized markup when the
// engine rejects its structure.
func (s *Service) render(ctx context.Context, mathml string, out OutputFormat) ([]byte, error) {
	roots, err := s.renderer.Render(ctx, mathml)
	if errors.Is(err, engine.ErrStructural) {
		metrics.SanitizeFallbacksTotal.Inc()
		sanitized := markup.Sanitize(mathml)
		logging.L(ctx).Warn("render_fallback_sanitize",
			zap.Error(err),
			logging.Input("sanitized", sanitized),
		)
		roots, err = s.renderer.Render(ctx, sanitized)
	}
	if err != nil {
		return nil, err
	}

	doc, err := svg.Compose(roots)
	if err != nil {
		return nil, err
	}
	if out != OutputPNG {
		return []byte(doc), nil
	}

	png, err := s.rasterizer.Rasterize(ctx, []byte(doc))
	if err != nil {
		return nil, fmt.Errorf("rasterize: %w", err)
	}
	return png, nil
}

func (s *Service) save(ctx context.Context, key string, body []byte) {
	if s.store == nil {
		return
	}
	encoded := base64.StdEncoding.EncodeToString(body)
	if err := s.store.Set(ctx, key, []byte(encoded), s.lifespan); err != nil && !errors.Is(err, cache.ErrDisconnected) {
		logging.L(ctx).Warn("cache_store_failed", zap.Error(err))
	}
}

func (s *Service) count(outcome string, req Request) {
	format, output := "unknown", "unknown"
	if f, ok := markup.ParseFormat(string(req.Format)); ok {
		format = string(f)
	}
	if o, ok := ParseOutputFormat(string(req.Output)); ok {
		output = string(o)
	}
	metrics.EquationsTotal.WithLabelValues(outcome, format, output).Inc()
}
