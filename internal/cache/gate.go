package cache

import (
	"context"
	"errors"
	"sync/atomic"
	"time"

	"go.uber.org/zap"

	"math2image/internal/metrics"
)

// ErrDisconnected is returned by a Gate while its store is unreachable.
// Callers treat it like any other cache error: as a miss.
var ErrDisconnected = errors.New("cache: store disconnected")

// ConnState is the connection state of a gated store.
type ConnState int32

const (
	Disconnected ConnState = iota
	Connected
)

func (s ConnState) String() string {
	if s == Connected {
		return "connected"
	}
	return "disconnected"
}

// Pinger is implemented by stores that can report their own reachability.
type Pinger interface {
	Ping(ctx context.Context) error
}

// Gate owns the connected/disconnected flag of a store. While disconnected,
// Get and Set do not touch the store at all.
type Gate struct {
	inner  Store
	state  atomic.Int32
	logger *zap.Logger
}

// NewGate wraps inner, starting in the given state.
func NewGate(inner Store, initial ConnState, logger *zap.Logger) *Gate {
	if logger == nil {
		logger = zap.NewNop()
	}
	g := &Gate{inner: inner, logger: logger.Named("cache")}
	g.state.Store(int32(initial))
	metrics.CacheConnected.Set(float64(initial))
	return g
}

// State returns the current connection state.
func (g *Gate) State() ConnState {
	return ConnState(g.state.Load())
}

// SetState flips the flag; transitions are logged once.
func (g *Gate) SetState(s ConnState) {
	old := ConnState(g.state.Swap(int32(s)))
	if old == s {
		return
	}
	metrics.CacheConnected.Set(float64(s))
	if s == Connected {
		g.logger.Info("cache_connected")
	} else {
		g.logger.Warn("cache_disconnected")
	}
}

func (g *Gate) Get(ctx context.Context, key string) ([]byte, bool, error) {
	if g.State() != Connected {
		return nil, false, ErrDisconnected
	}
	return g.inner.Get(ctx, key)
}

func (g *Gate) Set(ctx context.Context, key string, value []byte, ttl time.Duration) error {
	if g.State() != Connected {
		return ErrDisconnected
	}
	return g.inner.Set(ctx, key, value, ttl)
}

// Check pings p once and records the outcome.
func (g *Gate) Check(ctx context.Context, p Pinger) {
	pctx, cancel := context.WithTimeout(ctx, 2*time.Second)
	defer cancel()

	if err := p.Ping(pctx); err != nil {
		g.logger.Debug("cache_ping_failed", zap.Error(err))
		g.SetState(Disconnected)
		return
	}
	g.SetState(Connected)
}

// Watch pings p every interval until ctx is done. This is what brings a
// disconnected gate back: while disconnected nothing else reaches the store.
func (g *Gate) Watch(ctx context.Context, p Pinger, interval time.Duration) {
	if interval <= 0 {
		interval = 5 * time.Second
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			g.Check(ctx, p)
		case <-ctx.Done():
			return
		}
	}
}
