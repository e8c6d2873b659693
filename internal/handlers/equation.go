package handlers

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"mime"
	"net/http"
	"net/url"
	"strings"

	"go.uber.org/zap"

	"math2image/internal/equation"
	"math2image/internal/markup"
	"math2image/pkg/logging/logging"
)

const missingEquationMessage = `Missing "equation" parameter`

// Processor runs one equation request.
type Processor interface {
	Process(ctx context.Context, req equation.Request) (*equation.Result, error)
}

// EquationHandler serves the render endpoint.
type EquationHandler struct {
	svc Processor
}

func NewEquationHandler(svc Processor) *EquationHandler {
	return &EquationHandler{svc: svc}
}

// params are the accepted request fields, including legacy aliases.
type params struct {
	Equation     string `json:"equation"`
	LaTeX        string `json:"latex"`
	MathML       string `json:"mathml"`
	Format       string `json:"format"`
	RefID        string `json:"refid"`
	OutputFormat string `json:"outputFormat"`
	ImageFormat  string `json:"imageFormat"`
}

// Render handles GET and POST requests carrying an equation, as query
// parameters, a form body or a JSON object.
func (h *EquationHandler) Render(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	p, err := readParams(r)
	if err != nil {
		logging.L(ctx).Info("invalid request body", zap.Error(err))
		writeError(w, err.Error())
		return
	}

	res, err := h.svc.Process(ctx, p.request())
	if err != nil {
		h.fail(w, r, err)
		return
	}

	w.Header().Set("Content-Type", res.ContentType)
	if res.CacheHit {
		w.Header().Set("X-Cache", "HIT")
	} else {
		w.Header().Set("X-Cache", "MISS")
	}
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write(res.Body)

	logging.L(ctx).Info("request processed",
		zap.String("content_type", res.ContentType),
		zap.Bool("cache_hit", res.CacheHit),
		zap.Int("bytes", len(res.Body)),
	)
}

func (h *EquationHandler) fail(w http.ResponseWriter, r *http.Request, err error) {
	logger := logging.L(r.Context())

	var rerr *equation.RenderError
	switch {
	case errors.Is(err, equation.ErrMissingEquation):
		// browsers probing / and the favicon are not worth a log line
		if uri := r.URL.RequestURI(); uri != "/" && uri != "/favicon.ico" {
			logger.Info("missing equation", zap.String("uri", logging.Truncate(uri, logging.MaxLoggedInput)))
		}
		writeError(w, missingEquationMessage)

	case errors.Is(err, equation.ErrInvalidRequest):
		logger.Info("invalid request", zap.Error(err))
		writeError(w, err.Error())

	case errors.As(err, &rerr):
		// already logged with full context by the service
		writeError(w, rerr.Error())

	default:
		logger.Error("unexpected error", zap.Error(err))
		writeError(w, "Unexpected error")
	}
}

func writeError(w http.ResponseWriter, msg string) {
	w.Header().Set("Content-Type", "text/plain; charset=utf-8")
	w.WriteHeader(http.StatusNotAcceptable)
	_, _ = io.WriteString(w, msg)
}

func readParams(r *http.Request) (params, error) {
	if r.Method != http.MethodPost {
		return fromValues(r.URL.Query()), nil
	}

	mediaType, _, _ := mime.ParseMediaType(r.Header.Get("Content-Type"))
	switch mediaType {
	case "application/json":
		var p params
		if err := json.NewDecoder(r.Body).Decode(&p); err != nil {
			return params{}, fmt.Errorf("invalid JSON body: %w", err)
		}
		return p, nil

	case "application/x-www-form-urlencoded", "multipart/form-data":
		if err := r.ParseMultipartForm(1 << 20); err != nil && !errors.Is(err, http.ErrNotMultipart) {
			return params{}, fmt.Errorf("invalid form body: %w", err)
		}
		return fromValues(r.Form), nil

	default:
		// untyped bodies are read as a query string
		body, err := io.ReadAll(r.Body)
		if err != nil {
			return params{}, fmt.Errorf("read body: %w", err)
		}
		values, err := url.ParseQuery(strings.TrimSpace(string(body)))
		if err != nil {
			return params{}, fmt.Errorf("invalid form body: %w", err)
		}
		for k, v := range r.URL.Query() {
			if _, ok := values[k]; !ok {
				values[k] = v
			}
		}
		return fromValues(values), nil
	}
}

func fromValues(v url.Values) params {
	return params{
		Equation:     v.Get("equation"),
		LaTeX:        v.Get("latex"),
		MathML:       v.Get("mathml"),
		Format:       v.Get("format"),
		RefID:        v.Get("refid"),
		OutputFormat: v.Get("outputFormat"),
		ImageFormat:  v.Get("imageFormat"),
	}
}

// request resolves aliases and defaults: format MathML, output svg.
func (p params) request() equation.Request {
	eq, format := p.Equation, p.Format
	switch {
	case eq != "":
	case p.LaTeX != "":
		eq = p.LaTeX
		if format == "" {
			format = string(markup.TeX)
		}
	case p.MathML != "":
		eq = p.MathML
		if format == "" {
			format = string(markup.MathML)
		}
	}
	if format == "" {
		format = string(markup.MathML)
	}

	output := p.OutputFormat
	if output == "" {
		output = p.ImageFormat
	}
	if output == "" {
		output = string(equation.OutputSVG)
	}

	return equation.Request{
		Equation: eq,
		Format:   markup.Format(format),
		RefID:    p.RefID,
		Output:   equation.OutputFormat(output),
	}
}
