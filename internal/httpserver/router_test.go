package httpserver

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/go-chi/chi/v5"
	"go.uber.org/zap/zaptest"

	"math2image/internal/config"
	"math2image/internal/equation"
	"math2image/internal/handlers"
)

type stubProcessor struct {
	calls int
}

func (s *stubProcessor) Process(_ context.Context, req equation.Request) (*equation.Result, error) {
	s.calls++
	if req.Equation == "" {
		return nil, equation.ErrMissingEquation
	}
	return &equation.Result{ContentType: "image/svg+xml", Body: []byte("<svg/>")}, nil
}

func newTestRouter(t *testing.T, p *stubProcessor) *chi.Mux {
	r := chi.NewRouter()
	SetupRouter(r, zaptest.NewLogger(t), config.ServerConfig{
		RequestTimeout: time.Second,
		MaxBodyBytes:   64,
	}, handlers.NewEquationHandler(p), handlers.Readyz(func() string { return "connected" }))
	return r
}

func TestRouterServesHealthEndpoints(t *testing.T) {
	r := newTestRouter(t, &stubProcessor{})

	for path, want := range map[string]string{"/healthz": "ok", "/readyz": "cache=connected"} {
		rr := httptest.NewRecorder()
		r.ServeHTTP(rr, httptest.NewRequest(http.MethodGet, path, nil))
		if rr.Code != http.StatusOK || rr.Body.String() != want {
			t.Fatalf("%s = %d %q", path, rr.Code, rr.Body.String())
		}
	}
}

func TestRouterRendersOnAnyPath(t *testing.T) {
	p := &stubProcessor{}
	r := newTestRouter(t, p)

	for _, path := range []string{"/", "/render", "/legacy/endpoint.php"} {
		rr := httptest.NewRecorder()
		r.ServeHTTP(rr, httptest.NewRequest(http.MethodGet, path+"?equation=x", nil))
		if rr.Code != http.StatusOK || rr.Header().Get("Content-Type") != "image/svg+xml" {
			t.Fatalf("%s = %d %q", path, rr.Code, rr.Body.String())
		}
	}
	if p.calls != 3 {
		t.Fatalf("processor calls = %d, want 3", p.calls)
	}
}

func TestRouterFaviconGetsMissingEquation(t *testing.T) {
	r := newTestRouter(t, &stubProcessor{})

	rr := httptest.NewRecorder()
	r.ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/favicon.ico", nil))
	if rr.Code != http.StatusNotAcceptable || rr.Body.String() != `Missing "equation" parameter` {
		t.Fatalf("favicon = %d %q", rr.Code, rr.Body.String())
	}
}

func TestRouterRejectsOversizedBody(t *testing.T) {
	p := &stubProcessor{}
	r := newTestRouter(t, p)

	body := "equation=" + strings.Repeat("x", 200)
	rr := httptest.NewRecorder()
	r.ServeHTTP(rr, httptest.NewRequest(http.MethodPost, "/", strings.NewReader(body)))

	if rr.Code != http.StatusNotAcceptable {
		t.Fatalf("status = %d, want 406", rr.Code)
	}
	if p.calls != 0 {
		t.Fatalf("processor should not run for an oversized body")
	}
}
