package images

import (
	"bytes"
	"context"
	"encoding/base64"
	"fmt"
	"html"
	"image"
	"regexp"
	"strconv"
	"strings"

	_ "image/gif"
	_ "image/jpeg"
	_ "image/png"

	_ "golang.org/x/image/bmp"
	_ "golang.org/x/image/tiff"
	_ "golang.org/x/image/webp"

	"go.uber.org/zap"

	"math2image/internal/metrics"
	"math2image/pkg/logging/logging"
)

// DefaultDPI is the divisor applied to pixel sizes of embedded images.
const DefaultDPI = 20

// Embedder resolves image placeholders and remote image references.
type Embedder struct {
	fetcher Fetcher
	dpi     int
}

func NewEmbedder(fetcher Fetcher, dpi int) *Embedder {
	if dpi <= 0 {
		dpi = DefaultDPI
	}
	return &Embedder{fetcher: fetcher, dpi: dpi}
}

// Embed replaces the i-th Marker in mathml with a sized mglyph carrying
// imgs[i]. An image that cannot be decoded keeps its marker.
func (e *Embedder) Embed(ctx context.Context, mathml string, imgs []EmbeddedImage) string {
	if len(imgs) == 0 {
		return mathml
	}

	parts := strings.Split(mathml, Marker)
	if len(parts)-1 < len(imgs) {
		logging.L(ctx).Warn("image_markers_missing",
			zap.Int("images", len(imgs)),
			zap.Int("markers", len(parts)-1),
		)
	}

	var b strings.Builder
	b.WriteString(parts[0])
	for i, rest := range parts[1:] {
		if i < len(imgs) {
			glyph, err := e.glyph(imgs[i])
			if err != nil {
				metrics.ImageFailuresTotal.WithLabelValues("inline").Inc()
				logging.L(ctx).Warn("image_embed_failed",
					zap.Int("index", i),
					zap.String("image_format", imgs[i].Format),
					zap.Error(err),
				)
				b.WriteString(Marker)
			} else {
				b.WriteString(glyph)
			}
		} else {
			b.WriteString(Marker)
		}
		b.WriteString(rest)
	}
	return b.String()
}

func (e *Embedder) glyph(img EmbeddedImage) (string, error) {
	data, err := decodeBase64(img.Base64)
	if err != nil {
		return "", fmt.Errorf("decode base64: %w", err)
	}
	cfg, _, err := image.DecodeConfig(bytes.NewReader(data))
	if err != nil {
		return "", fmt.Errorf("read image size: %w", err)
	}
	w := float64(cfg.Width) / float64(e.dpi)
	h := float64(cfg.Height) / float64(e.dpi)

	return `</mrow><mrow><mglyph width="` + formatSize(w) + `" height="` + formatSize(h) +
		`" src="data:image/` + img.Format + `;base64,` + img.Base64 + `"></mglyph></mrow><mrow>`, nil
}

func decodeBase64(s string) ([]byte, error) {
	if data, err := base64.StdEncoding.DecodeString(s); err == nil {
		return data, nil
	}
	return base64.RawStdEncoding.DecodeString(strings.TrimRight(s, "="))
}

func formatSize(v float64) string {
	return strconv.FormatFloat(v, 'f', -1, 64)
}

var remoteGlyph = regexp.MustCompile(`<mglyph\b[^>]*?\bsrc="(https?://[^"]+)"`)

// InlineRemote downloads every distinct remote mglyph source, one at a time,
// and rewrites it as a data URI. Failed downloads keep their URL.
func (e *Embedder) InlineRemote(ctx context.Context, mathml string) string {
	matches := remoteGlyph.FindAllStringSubmatch(mathml, -1)
	if len(matches) == 0 || e.fetcher == nil {
		return mathml
	}

	seen := make(map[string]struct{}, len(matches))
	for _, m := range matches {
		ref := m[1]
		if _, ok := seen[ref]; ok {
			continue
		}
		seen[ref] = struct{}{}

		if err := ctx.Err(); err != nil {
			logging.L(ctx).Warn("image_fetch_skipped", zap.String("url", ref), zap.Error(err))
			continue
		}

		res, err := e.fetcher.Fetch(ctx, html.UnescapeString(ref))
		if err != nil {
			metrics.ImageFailuresTotal.WithLabelValues("remote").Inc()
			logging.L(ctx).Warn("image_fetch_failed", zap.String("url", ref), zap.Error(err))
			continue
		}

		dataURI := "data:" + res.ContentType + ";base64," + base64.StdEncoding.EncodeToString(res.Data)
		mathml = strings.ReplaceAll(mathml, `src="`+ref+`"`, `src="`+dataURI+`"`)
		logging.L(ctx).Debug("image_inlined",
			zap.String("url", ref),
			zap.String("content_type", res.ContentType),
			zap.Int("bytes", len(res.Data)),
		)
	}
	return mathml
}
