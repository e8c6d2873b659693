package images

import (
	"context"
	"errors"
	"fmt"
	"io"
	"mime"
	"net/http"
	"net/url"
	"strings"
	"time"

	"go.uber.org/zap"

	"math2image/internal/upstream"
)

// Resource is a downloaded image.
type Resource struct {
	Data        []byte
	ContentType string
}

// Fetcher downloads a remote image.
type Fetcher interface {
	Fetch(ctx context.Context, rawURL string) (*Resource, error)
}

type FetcherConfig struct {
	Timeout     time.Duration // per-fetch timeout (default: 15s)
	MaxBytes    int64         // response size cap (default: 5 MiB)
	MaxRetries  int           // default: 1
	BaseBackoff time.Duration // default: 100ms

	HTTPClient *http.Client
}

func (c FetcherConfig) withDefaults() FetcherConfig {
	if c.Timeout <= 0 {
		c.Timeout = 15 * time.Second
	}
	if c.MaxBytes <= 0 {
		c.MaxBytes = 5 << 20
	}
	if c.MaxRetries < 0 {
		c.MaxRetries = 0
	} else if c.MaxRetries == 0 {
		c.MaxRetries = 1
	}
	if c.BaseBackoff <= 0 {
		c.BaseBackoff = 100 * time.Millisecond
	}
	return c
}

// HTTPFetcher fetches images over HTTP(S) with retries on transient failures.
type HTTPFetcher struct {
	cfg    FetcherConfig
	client *http.Client
	logger *zap.Logger
}

func NewHTTPFetcher(cfg FetcherConfig, logger *zap.Logger) *HTTPFetcher {
	cfg = cfg.withDefaults()
	if logger == nil {
		logger = zap.NewNop()
	}
	client := cfg.HTTPClient
	if client == nil {
		client = &http.Client{
			Transport: upstream.NewTransport(upstream.TransportConfig{}),
		}
	}
	return &HTTPFetcher{cfg: cfg, client: client, logger: logger.Named("fetch")}
}

var errNotImage = errors.New("response is not an image")

func (f *HTTPFetcher) Fetch(ctx context.Context, rawURL string) (*Resource, error) {
	u, err := url.Parse(rawURL)
	if err != nil {
		return nil, fmt.Errorf("fetch: parse url: %w", err)
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		return nil, fmt.Errorf("fetch: unsupported scheme %q", u.Scheme)
	}

	ctx, cancel := context.WithTimeout(ctx, f.cfg.Timeout)
	defer cancel()

	resp, err := upstream.Do(ctx, f.logger, upstream.RetryPolicy{
		MaxRetries:  f.cfg.MaxRetries,
		BaseBackoff: f.cfg.BaseBackoff,
	}, func(ctx context.Context) (*http.Response, error) {
		req, err := http.NewRequestWithContext(ctx, http.MethodGet, u.String(), nil)
		if err != nil {
			return nil, err
		}
		req.Header.Set("Accept", "image/*")
		return f.client.Do(req)
	})
	if err != nil {
		return nil, fmt.Errorf("fetch %s: %w", u.Redacted(), err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("fetch %s: status %d", u.Redacted(), resp.StatusCode)
	}

	data, err := io.ReadAll(io.LimitReader(resp.Body, f.cfg.MaxBytes+1))
	if err != nil {
		return nil, fmt.Errorf("fetch %s: read body: %w", u.Redacted(), err)
	}
	if int64(len(data)) > f.cfg.MaxBytes {
		return nil, fmt.Errorf("fetch %s: body exceeds %d bytes", u.Redacted(), f.cfg.MaxBytes)
	}

	ct := imageContentType(resp.Header.Get("Content-Type"), data)
	if ct == "" {
		return nil, fmt.Errorf("fetch %s: %w", u.Redacted(), errNotImage)
	}
	return &Resource{Data: data, ContentType: ct}, nil
}

// imageContentType prefers the declared media type and falls back to sniffing.
func imageContentType(header string, data []byte) string {
	if mt, _, err := mime.ParseMediaType(header); err == nil && strings.HasPrefix(mt, "image/") {
		return mt
	}
	if sniffed := http.DetectContentType(data); strings.HasPrefix(sniffed, "image/") {
		return sniffed
	}
	return ""
}
