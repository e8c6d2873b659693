package upstream

import (
	"net"
	"net/http"
	"time"

	"golang.org/x/net/http2"
)

// TransportConfig sizes the shared connection pool.
type TransportConfig struct {
	MaxIdleConns        int // default: 100
	MaxIdleConnsPerHost int // default: 16

	// HTTP/2 connection health checks: a connection idle for ReadIdleTimeout
	// is pinged and dropped when no answer arrives within PingTimeout.
	ReadIdleTimeout time.Duration // default: 30s
	PingTimeout     time.Duration // default: 15s
}

// NewTransport creates the pooled transport used for engine calls and
// image downloads. HTTP/2 is negotiated where the server offers it.
func NewTransport(cfg TransportConfig) *http.Transport {
	if cfg.MaxIdleConns <= 0 {
		cfg.MaxIdleConns = 100
	}
	if cfg.MaxIdleConnsPerHost <= 0 {
		cfg.MaxIdleConnsPerHost = 16
	}
	if cfg.ReadIdleTimeout <= 0 {
		cfg.ReadIdleTimeout = 30 * time.Second
	}
	if cfg.PingTimeout <= 0 {
		cfg.PingTimeout = 15 * time.Second
	}

	tr := &http.Transport{
		Proxy: http.ProxyFromEnvironment,
		DialContext: (&net.Dialer{
			Timeout:   10 * time.Second,
			KeepAlive: 30 * time.Second,
		}).DialContext,
		MaxIdleConns:        cfg.MaxIdleConns,
		MaxIdleConnsPerHost: cfg.MaxIdleConnsPerHost,
		IdleConnTimeout:     90 * time.Second,

		TLSHandshakeTimeout:   10 * time.Second,
		ExpectContinueTimeout: 1 * time.Second,
	}
	// Only fails when the transport was already configured for h2.
	if h2, err := http2.ConfigureTransports(tr); err == nil {
		h2.ReadIdleTimeout = cfg.ReadIdleTimeout
		h2.PingTimeout = cfg.PingTimeout
	}
	return tr
}
