// Package engine holds the adapters to the typesetting engine: TeX to MathML
// translation, MathML to SVG rendering and SVG to PNG rasterization.
package engine

import (
	"context"
	"errors"
)

// ErrStructural marks markup the renderer refused to lay out at all.
// It is the only error that triggers the sanitize-and-retry path.
var ErrStructural = errors.New("engine: markup rejected as structurally invalid")

// Translator converts TeX to a MathML fragment.
type Translator interface {
	Translate(ctx context.Context, tex string) (string, error)
}

// Renderer lays out MathML. A single call may yield several independent
// <svg> roots (for example one per line when the engine breaks lines).
type Renderer interface {
	Render(ctx context.Context, mathml string) ([]string, error)
}

// Rasterizer encodes a complete SVG document as PNG.
type Rasterizer interface {
	Rasterize(ctx context.Context, svg []byte) ([]byte, error)
}
