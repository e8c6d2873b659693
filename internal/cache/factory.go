package cache

import (
	"context"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

const (
	BackendMemory = "memory"
	BackendRedis  = "redis"
	BackendNone   = "none"
)

type Config struct {
	Backend  string
	RedisURL string
	Prefix   string
	// PingInterval is how often a disconnected store is pinged again.
	PingInterval time.Duration
	// MaxEntries bounds the memory backend.
	MaxEntries int
}

// Cache is the assembled cache: the store handed to the service, the gate
// that owns its connection state and a closer for shutdown.
type Cache struct {
	Store Store
	Gate  *Gate

	pinger   Pinger
	interval time.Duration
	close    func() error
}

// New builds the configured backend behind a Gate and the logging decorator.
// A Redis server that is down at startup is not an error: the gate starts
// disconnected and the watcher connects once Redis comes up.
func New(ctx context.Context, cfg Config, logger *zap.Logger) (*Cache, error) {
	switch cfg.Backend {
	case BackendRedis:
		opts, err := redis.ParseURL(cfg.RedisURL)
		if err != nil {
			return nil, fmt.Errorf("parse redis url: %w", err)
		}
		client := redis.NewClient(opts)
		store := NewRedisStore(client, RedisConfig{Prefix: cfg.Prefix})

		gate := NewGate(store, Disconnected, logger)
		AttachGate(client, gate)
		gate.Check(ctx, store)

		return &Cache{
			Store:    NewInstrumented(gate),
			Gate:     gate,
			pinger:   store,
			interval: cfg.PingInterval,
			close:    store.Close,
		}, nil

	case BackendNone:
		return nil, nil

	default:
		store := NewMemoryStore(cfg.MaxEntries)
		gate := NewGate(store, Connected, logger)
		return &Cache{
			Store:    NewInstrumented(gate),
			Gate:     gate,
			pinger:   store,
			interval: cfg.PingInterval,
		}, nil
	}
}

// Watch keeps the gate in sync until ctx is done. Run it in its own goroutine.
func (c *Cache) Watch(ctx context.Context) {
	c.Gate.Watch(ctx, c.pinger, c.interval)
}

func (c *Cache) Close() error {
	if c.close == nil {
		return nil
	}
	return c.close()
}
