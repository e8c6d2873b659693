// Package images pulls images out of TeX before translation and puts them
// back into the MathML afterwards, inlining remote references on the way.
package images

import (
	"context"
	"regexp"
	"strings"

	"go.uber.org/zap"

	"math2image/pkg/logging/logging"
)

// Placeholder is the private-use glyph that stands in for an extracted image
// while the TeX goes through the translator.
const Placeholder = "\uE000"

// Marker is the MathML element a resolved placeholder is rewritten to.
const Marker = "<mtext>&#xE000;</mtext>"

// EmbeddedImage is an inline base64 image taken from a TeX directive.
type EmbeddedImage struct {
	Format string // e.g. png, jpeg, svg+xml
	Base64 string
}

var (
	dataDirective = regexp.MustCompile(`\\includegraphics(?:\[[^\]]*\])?\{[^}]*?data:image/([A-Za-z0-9.+-]+);base64,([A-Za-z0-9+/=]+)\}`)
	anyDirective  = regexp.MustCompile(`\\includegraphics(?:\[[^\]]*\])?\{[^}]*\}`)
)

// Extract replaces every base64 \includegraphics directive in tex with
// Placeholder and returns the images left to right. Directives that do not
// carry inline data cannot be resolved and are removed.
func Extract(ctx context.Context, tex string) (string, []EmbeddedImage) {
	if !strings.Contains(tex, `\includegraphics`) {
		return tex, nil
	}

	var out []EmbeddedImage
	tex = dataDirective.ReplaceAllStringFunc(tex, func(m string) string {
		sub := dataDirective.FindStringSubmatch(m)
		out = append(out, EmbeddedImage{Format: sub[1], Base64: sub[2]})
		return Placeholder
	})

	if dropped := anyDirective.FindAllString(tex, -1); len(dropped) > 0 {
		for _, d := range dropped {
			logging.L(ctx).Warn("image_directive_dropped",
				logging.Input("directive", d),
			)
		}
		tex = anyDirective.ReplaceAllString(tex, "")
	}

	if len(out) > 0 {
		logging.L(ctx).Debug("images_extracted", zap.Int("count", len(out)))
	}
	return tex, out
}
