package equation

import (
	"fmt"

	"math2image/internal/markup"
)

// OutputFormat is what the caller wants back.
type OutputFormat string

const (
	OutputSVG    OutputFormat = "svg"
	OutputPNG    OutputFormat = "png"
	OutputMathML OutputFormat = "MathML"
)

func ParseOutputFormat(s string) (OutputFormat, bool) {
	switch OutputFormat(s) {
	case OutputSVG, OutputPNG, OutputMathML:
		return OutputFormat(s), true
	}
	return "", false
}

// ContentType is the response media type for o.
func (o OutputFormat) ContentType() string {
	switch o {
	case OutputPNG:
		return "image/png"
	case OutputMathML:
		return "text/plain"
	default:
		return "image/svg+xml"
	}
}

// Request is one equation to render.
type Request struct {
	Equation string
	Format   markup.Format
	RefID    string
	Output   OutputFormat
}

// Validate reports ErrMissingEquation or ErrInvalidRequest.
func (r Request) Validate() error {
	if r.Equation == "" {
		return ErrMissingEquation
	}
	if _, ok := markup.ParseFormat(string(r.Format)); !ok {
		return fmt.Errorf("%w: unknown format %q", ErrInvalidRequest, r.Format)
	}
	if _, ok := ParseOutputFormat(string(r.Output)); !ok {
		return fmt.Errorf("%w: unknown outputFormat %q", ErrInvalidRequest, r.Output)
	}
	return nil
}
