package equation

import (
	"errors"
	"fmt"

	"math2image/internal/markup"
)

var (
	ErrMissingEquation = errors.New("missing equation")
	ErrInvalidRequest  = errors.New("invalid request")
)

// RenderError is a failure to turn the input into an image, reported to the
// caller together with the markup that failed.
type RenderError struct {
	Format markup.Format
	Input  string
	Err    error
}

func (e *RenderError) Error() string {
	return fmt.Sprintf("%s: %s: %v", e.Format, e.Input, e.Err)
}

func (e *RenderError) Unwrap() error { return e.Err }
