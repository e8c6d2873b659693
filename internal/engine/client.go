package engine

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"image/png"
	"io"
	"net/http"
	"strings"
	"time"

	"go.uber.org/zap"

	"math2image/internal/metrics"
	"math2image/internal/upstream"
)

const (
	maxRequestSize  = 4 * 1024 * 1024  // MathML/SVG payload sent to the engine
	maxResponseSize = 16 * 1024 * 1024 // SVG/PNG payload accepted back
)

type Config struct {
	// required
	BaseURL string

	Timeout     time.Duration // per-call timeout (default: 30s)
	MaxRetries  int           // retry attempts on transient failures (default: 1)
	BaseBackoff time.Duration // initial backoff (default: 100ms)

	// Custom HTTP client (for testing or special configs)
	HTTPClient *http.Client
}

// Validate checks required fields only.
func (c *Config) Validate() error {
	if c.BaseURL == "" {
		return errors.New("BaseURL is required")
	}
	if !strings.HasPrefix(c.BaseURL, "http://") && !strings.HasPrefix(c.BaseURL, "https://") {
		return fmt.Errorf("BaseURL %q must be an http(s) URL", c.BaseURL)
	}
	return nil
}

// WithDefaults returns a copy of Config with defaults applied.
func (c *Config) WithDefaults() Config {
	cfg := *c
	cfg.BaseURL = strings.TrimRight(cfg.BaseURL, "/")

	if cfg.Timeout <= 0 {
		cfg.Timeout = 30 * time.Second
	}
	if cfg.MaxRetries < 0 {
		cfg.MaxRetries = 0
	} else if cfg.MaxRetries == 0 {
		cfg.MaxRetries = 1
	}
	if cfg.BaseBackoff <= 0 {
		cfg.BaseBackoff = 100 * time.Millisecond
	}
	return cfg
}

// Client talks to the render sidecar: a MathJax-style process that lays out
// MathML as SVG and rasterizes SVG as PNG.
type Client struct {
	cfg        Config
	httpClient *http.Client
	logger     *zap.Logger
}

// NewClient creates an engine client with the given configuration.
func NewClient(cfg Config, logger *zap.Logger) (*Client, error) {
	cfg = cfg.WithDefaults()
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid engine config: %w", err)
	}

	if logger == nil {
		logger = zap.NewNop()
	}

	httpClient := cfg.HTTPClient
	if httpClient == nil {
		httpClient = &http.Client{
			Transport: upstream.NewTransport(upstream.TransportConfig{}),
		}
	}

	return &Client{
		cfg:        cfg,
		httpClient: httpClient,
		logger:     logger.Named("engine"),
	}, nil
}

type renderRequest struct {
	MathML string `json:"mathml"`
}

type renderResponse struct {
	SVG []string `json:"svg"`
}

type rasterizeRequest struct {
	SVG    string `json:"svg"`
	Format string `json:"format"`
}

type errorResponse struct {
	Error struct {
		Type    string `json:"type"`
		Message string `json:"message"`
	} `json:"error"`
}

// Render sends MathML to the engine and returns the SVG roots it produced.
// A 422 response with error type "structural" maps to ErrStructural.
func (c *Client) Render(ctx context.Context, mathml string) ([]string, error) {
	defer metrics.ObserveEngine("render", time.Now())

	resp, err := c.post(ctx, "/v1/render", renderRequest{MathML: mathml})
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, c.decodeError(resp)
	}

	var out renderResponse
	if err := json.NewDecoder(io.LimitReader(resp.Body, maxResponseSize)).Decode(&out); err != nil {
		return nil, fmt.Errorf("engine: decode render response: %w", err)
	}
	if len(out.SVG) == 0 {
		return nil, errors.New("engine: render returned no svg")
	}

	c.logger.Debug("render completed", zap.Int("roots", len(out.SVG)))
	return out.SVG, nil
}

// Rasterize converts a standalone SVG document to PNG bytes.
func (c *Client) Rasterize(ctx context.Context, svg []byte) ([]byte, error) {
	defer metrics.ObserveEngine("rasterize", time.Now())

	resp, err := c.post(ctx, "/v1/rasterize", rasterizeRequest{SVG: string(svg), Format: "png"})
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, c.decodeError(resp)
	}

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseSize))
	if err != nil {
		return nil, fmt.Errorf("engine: read rasterize response: %w", err)
	}

	cfg, err := png.DecodeConfig(bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("engine: rasterizer returned invalid png: %w", err)
	}
	c.logger.Debug("rasterize completed",
		zap.Int("width", cfg.Width),
		zap.Int("height", cfg.Height),
		zap.Int("bytes", len(body)),
	)
	return body, nil
}

func (c *Client) post(parentCtx context.Context, path string, payload any) (*http.Response, error) {
	body, err := json.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("engine: marshal request: %w", err)
	}
	if len(body) > maxRequestSize {
		return nil, fmt.Errorf("engine: request too large (%d bytes, max %d)", len(body), maxRequestSize)
	}

	ctx, cancel := context.WithTimeout(parentCtx, c.cfg.Timeout)
	url := c.cfg.BaseURL + path

	resp, err := upstream.Do(ctx, c.logger, upstream.RetryPolicy{
		MaxRetries:  c.cfg.MaxRetries,
		BaseBackoff: c.cfg.BaseBackoff,
	}, func(ctx context.Context) (*http.Response, error) {
		req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
		if err != nil {
			return nil, fmt.Errorf("engine: build HTTP request: %w", err)
		}
		req.Header.Set("Content-Type", "application/json")
		return c.httpClient.Do(req)
	})
	if err != nil {
		cancel()
		c.logger.Error("engine request failed", zap.String("path", path), zap.Error(err))
		return nil, fmt.Errorf("engine: %s: %w", path, err)
	}

	resp.Body = &cancelOnClose{ReadCloser: resp.Body, cancel: cancel}
	return resp, nil
}

// decodeError maps a non-200 engine response to an error.
func (c *Client) decodeError(resp *http.Response) error {
	body, _ := io.ReadAll(io.LimitReader(resp.Body, 64*1024))

	var perr errorResponse
	if err := json.Unmarshal(body, &perr); err == nil && perr.Error.Message != "" {
		if resp.StatusCode == http.StatusUnprocessableEntity && perr.Error.Type == "structural" {
			return fmt.Errorf("%w: %s", ErrStructural, perr.Error.Message)
		}
		return fmt.Errorf("engine: upstream %d: %s (%s)", resp.StatusCode, perr.Error.Message, perr.Error.Type)
	}

	c.logger.Warn("engine upstream error",
		zap.Int("status", resp.StatusCode),
		zap.String("body", truncate(string(body), 200)),
	)
	return fmt.Errorf("engine: upstream %d: %s", resp.StatusCode, truncate(string(body), 200))
}

// Close releases idle connections.
func (c *Client) Close() error {
	c.httpClient.CloseIdleConnections()
	return nil
}

// cancelOnClose ties the per-call timeout to the response body lifetime.
type cancelOnClose struct {
	io.ReadCloser
	cancel context.CancelFunc
}

func (b *cancelOnClose) Close() error {
	err := b.ReadCloser.Close()
	b.cancel()
	return err
}
