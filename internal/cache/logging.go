package cache

import (
	"context"
	"errors"
	"time"

	"go.uber.org/zap"

	"math2image/internal/metrics"
	"math2image/pkg/logging/logging"
)

// Instrumented wraps a Store with logging + metrics.
type Instrumented struct {
	inner Store
}

// NewInstrumented returns a store that logs and records metrics.
func NewInstrumented(inner Store) Store {
	return &Instrumented{inner: inner}
}

func (c *Instrumented) Get(ctx context.Context, key string) ([]byte, bool, error) {
	start := time.Now()
	value, ok, err := c.inner.Get(ctx, key)
	latencyMs := float64(time.Since(start).Microseconds()) / 1000.0

	result := "miss"
	switch {
	case errors.Is(err, ErrDisconnected):
		result = "bypass"
	case err != nil:
		result = "error"
	case ok:
		result = "hit"
	}
	metrics.CacheLookupsTotal.WithLabelValues(result).Inc()

	fields := append(keyFields(key),
		zap.String("cache_result", result),
		zap.Float64("latency_ms", latencyMs),
	)

	logger := logging.L(ctx)
	switch result {
	case "bypass":
		logger.Debug("cache_get", fields...)
	case "error":
		logger.Warn("cache_get", append(fields, zap.Error(err))...)
	default:
		logger.Info("cache_get", fields...)
	}

	return value, ok, err
}

func (c *Instrumented) Set(ctx context.Context, key string, value []byte, ttl time.Duration) error {
	start := time.Now()
	err := c.inner.Set(ctx, key, value, ttl)
	latencyMs := float64(time.Since(start).Microseconds()) / 1000.0

	fields := append(keyFields(key),
		zap.Int("bytes", len(value)),
		zap.Duration("ttl", ttl),
		zap.Float64("latency_ms", latencyMs),
	)

	logger := logging.L(ctx)
	switch {
	case errors.Is(err, ErrDisconnected):
		logger.Debug("cache_set_skipped", fields...)
	case err != nil:
		logger.Warn("cache_set", append(fields, zap.Error(err))...)
	default:
		logger.Info("cache_set", fields...)
	}

	return err
}

func keyFields(key string) []zap.Field {
	fields := []zap.Field{zap.String("cache_key", key)}
	if k, ok := ParseKey(key); ok {
		fields = append(fields,
			zap.String("format", k.Format),
			zap.String("refid", k.RefID),
			zap.String("output", k.Output),
		)
	}
	return fields
}
