package markup

import (
	"context"
	"fmt"
	"strings"

	"go.uber.org/zap"

	"math2image/internal/engine"
	"math2image/internal/images"
	"math2image/pkg/logging/logging"
)

// ImageEmbedder puts extracted and remote images back into MathML.
type ImageEmbedder interface {
	Embed(ctx context.Context, mathml string, imgs []images.EmbeddedImage) string
	InlineRemote(ctx context.Context, mathml string) string
}

// Normalizer runs the full pipeline from raw request input to MathML ready
// for rendering.
type Normalizer struct {
	translator engine.Translator
	embedder   ImageEmbedder
	mathSize   string
}

func NewNormalizer(translator engine.Translator, embedder ImageEmbedder, mathSize string) *Normalizer {
	if mathSize == "" {
		mathSize = DefaultMathSize
	}
	return &Normalizer{
		translator: translator,
		embedder:   embedder,
		mathSize:   mathSize,
	}
}

// Normalize returns MathML with exactly one <math> root. The only error
// source is the TeX translator.
func (n *Normalizer) Normalize(ctx context.Context, format Format, raw string) (string, error) {
	logger := logging.L(ctx)

	var (
		mathml string
		imgs   []images.EmbeddedImage
	)

	switch format {
	case TeX:
		tex := Run(TeXEntityStages, raw)
		tex = Run(TeXQuirkStages, tex)
		tex, imgs = images.Extract(ctx, tex)
		logger.Debug("tex_repaired", logging.Input("tex", tex))

		translated, err := n.translator.Translate(ctx, tex)
		if err != nil {
			return "", fmt.Errorf("translate: %w", err)
		}
		mathml = translated

	case MathML:
		mathml = Run(MathMLEntityStages, raw)

	default:
		return "", fmt.Errorf("unsupported format %q", format)
	}

	mathml = Run(PlaceholderStages, mathml)
	mathml = CompleteStructure(mathml, n.mathSize)

	if n.embedder != nil {
		mathml = n.embedder.Embed(ctx, mathml, imgs)
		mathml = n.embedder.InlineRemote(ctx, mathml)
	}

	mathml = strings.TrimSpace(mathml)
	logger.Debug("markup_normalized",
		zap.String("format", string(format)),
		zap.Int("images", len(imgs)),
		logging.Input("mathml", mathml),
	)
	return mathml, nil
}
