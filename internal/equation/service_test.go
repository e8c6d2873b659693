package equation

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"go.uber.org/zap/zaptest"

	"math2image/internal/cache"
	"math2image/internal/engine"
	"math2image/internal/markup"
	"math2image/pkg/logging/logging"
)

const testSVG = `<svg xmlns="http://www.w3.org/2000/svg" viewBox="0 0 10 5"><path d="M0 0"/></svg>`

type fakeRenderer struct {
	mu      sync.Mutex
	inputs  []string
	results []error // consumed in order; nil means success
	release chan struct{}
	calls   atomic.Int32
}

func (f *fakeRenderer) Render(_ context.Context, mathml string) ([]string, error) {
	f.calls.Add(1)
	if f.release != nil {
		<-f.release
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	f.inputs = append(f.inputs, mathml)
	if len(f.results) > 0 {
		err := f.results[0]
		f.results = f.results[1:]
		if err != nil {
			return nil, err
		}
	}
	return []string{testSVG}, nil
}

type fakeRasterizer struct {
	got []byte
	err error
}

func (f *fakeRasterizer) Rasterize(_ context.Context, svg []byte) ([]byte, error) {
	f.got = svg
	if f.err != nil {
		return nil, f.err
	}
	return []byte("\x89PNG fake"), nil
}

func testContext(t *testing.T) context.Context {
	t.Helper()
	return logging.WithLogger(context.Background(), zaptest.NewLogger(t))
}

func newTestService(t *testing.T, store cache.Store, r engine.Renderer, rz engine.Rasterizer) *Service {
	t.Helper()
	return NewService(store, markup.NewNormalizer(nil, nil, ""), r, rz, time.Minute)
}

func mathRequest(output OutputFormat) Request {
	return Request{
		Equation: "<math><mi>x</mi></math>",
		Format:   markup.MathML,
		Output:   output,
	}
}

func TestProcessValidation(t *testing.T) {
	t.Parallel()

	svc := newTestService(t, nil, &fakeRenderer{}, &fakeRasterizer{})
	ctx := testContext(t)

	if _, err := svc.Process(ctx, Request{Format: markup.MathML, Output: OutputSVG}); !errors.Is(err, ErrMissingEquation) {
		t.Fatalf("expected ErrMissingEquation, got %v", err)
	}
	if _, err := svc.Process(ctx, Request{Equation: "x", Format: "LaTeX", Output: OutputSVG}); !errors.Is(err, ErrInvalidRequest) {
		t.Fatalf("expected ErrInvalidRequest for format, got %v", err)
	}
	if _, err := svc.Process(ctx, Request{Equation: "x", Format: markup.TeX, Output: "gif"}); !errors.Is(err, ErrInvalidRequest) {
		t.Fatalf("expected ErrInvalidRequest for output, got %v", err)
	}
}

func TestProcessCachesRenderedImages(t *testing.T) {
	t.Parallel()

	mem := cache.NewMemoryStore(0)
	gate := cache.NewGate(mem, cache.Connected, zaptest.NewLogger(t))

	r := &fakeRenderer{}
	svc := newTestService(t, gate, r, &fakeRasterizer{})
	ctx := testContext(t)

	first, err := svc.Process(ctx, mathRequest(OutputSVG))
	if err != nil {
		t.Fatalf("first Process: %v", err)
	}
	if first.CacheHit || first.ContentType != "image/svg+xml" {
		t.Fatalf("unexpected first result %+v", first)
	}
	if !strings.HasPrefix(string(first.Body), "<?xml") {
		t.Fatalf("expected composed svg document, got %.60s", first.Body)
	}

	second, err := svc.Process(ctx, mathRequest(OutputSVG))
	if err != nil {
		t.Fatalf("second Process: %v", err)
	}
	if !second.CacheHit || string(second.Body) != string(first.Body) {
		t.Fatalf("expected identical cache hit")
	}
	if n := r.calls.Load(); n != 1 {
		t.Fatalf("renderer called %d times, want 1", n)
	}
}

func TestProcessCacheOutageFallsBackToRender(t *testing.T) {
	t.Parallel()

	mem := cache.NewMemoryStore(0)
	gate := cache.NewGate(mem, cache.Connected, zaptest.NewLogger(t))

	r := &fakeRenderer{}
	svc := newTestService(t, gate, r, &fakeRasterizer{})
	ctx := testContext(t)

	if _, err := svc.Process(ctx, mathRequest(OutputSVG)); err != nil {
		t.Fatalf("warm-up Process: %v", err)
	}
	if mem.Len() != 1 {
		t.Fatalf("expected entry in store, have %d", mem.Len())
	}

	gate.SetState(cache.Disconnected)

	res, err := svc.Process(ctx, mathRequest(OutputSVG))
	if err != nil {
		t.Fatalf("Process during outage: %v", err)
	}
	if res.CacheHit {
		t.Fatalf("disconnected cache must not serve hits")
	}
	if n := r.calls.Load(); n != 2 {
		t.Fatalf("expected a full render during the outage, renderer calls = %d", n)
	}
}

func TestProcessMathMLOutputIsNotStored(t *testing.T) {
	t.Parallel()

	mem := cache.NewMemoryStore(0)

	r := &fakeRenderer{}
	svc := newTestService(t, mem, r, &fakeRasterizer{})

	res, err := svc.Process(testContext(t), mathRequest(OutputMathML))
	if err != nil {
		t.Fatalf("Process: %v", err)
	}
	want := `<math><mstyle mathsize="16px"><mtable><mrow><mi>x</mi></mrow></mtable></mstyle></math>`
	if string(res.Body) != want || res.ContentType != "text/plain" {
		t.Fatalf("unexpected MathML result %q (%s)", res.Body, res.ContentType)
	}
	if r.calls.Load() != 0 {
		t.Fatalf("MathML output must not render")
	}
	if mem.Len() != 0 {
		t.Fatalf("MathML output must not be cached")
	}
}

func TestProcessPNG(t *testing.T) {
	t.Parallel()

	rz := &fakeRasterizer{}
	svc := newTestService(t, nil, &fakeRenderer{}, rz)

	res, err := svc.Process(testContext(t), mathRequest(OutputPNG))
	if err != nil {
		t.Fatalf("Process: %v", err)
	}
	if res.ContentType != "image/png" || !strings.HasPrefix(string(res.Body), "\x89PNG") {
		t.Fatalf("unexpected png result %+v", res)
	}
	if !strings.Contains(string(rz.got), "<svg") {
		t.Fatalf("rasterizer did not receive the svg document")
	}
}

func TestProcessSanitizesAfterStructuralRejection(t *testing.T) {
	t.Parallel()

	r := &fakeRenderer{results: []error{engine.ErrStructural}}
	svc := newTestService(t, nil, r, &fakeRasterizer{})

	req := Request{
		Equation: `<math><div><mi>x</mi></div><script>bad()</script></math>`,
		Format:   markup.MathML,
		Output:   OutputSVG,
	}
	if _, err := svc.Process(testContext(t), req); err != nil {
		t.Fatalf("Process: %v", err)
	}
	if len(r.inputs) != 2 {
		t.Fatalf("expected exactly one retry, got %d renders", len(r.inputs))
	}
	if strings.Contains(r.inputs[1], "div") || strings.Contains(r.inputs[1], "script") {
		t.Fatalf("retry was not sanitized: %s", r.inputs[1])
	}
}

func TestProcessRenderError(t *testing.T) {
	t.Parallel()

	structural := fmt.Errorf("%w: Unknown node type: foo", engine.ErrStructural)
	r := &fakeRenderer{results: []error{structural, structural}}
	svc := newTestService(t, nil, r, &fakeRasterizer{})

	_, err := svc.Process(testContext(t), mathRequest(OutputSVG))

	var rerr *RenderError
	if !errors.As(err, &rerr) {
		t.Fatalf("expected *RenderError, got %v", err)
	}
	if rerr.Format != markup.MathML || !strings.Contains(rerr.Error(), "Unknown node type") {
		t.Fatalf("unexpected render error %q", rerr.Error())
	}
	if len(r.inputs) != 2 {
		t.Fatalf("expected exactly two render attempts, got %d", len(r.inputs))
	}
}

func TestProcessNonStructuralErrorIsNotRetried(t *testing.T) {
	t.Parallel()

	r := &fakeRenderer{results: []error{errors.New("engine down")}}
	svc := newTestService(t, nil, r, &fakeRasterizer{})

	if _, err := svc.Process(testContext(t), mathRequest(OutputSVG)); err == nil {
		t.Fatalf("expected error")
	}
	if len(r.inputs) != 1 {
		t.Fatalf("non-structural errors must not trigger sanitation, got %d renders", len(r.inputs))
	}
}

func TestProcessIgnoresCorruptCacheEntry(t *testing.T) {
	t.Parallel()

	mem := cache.NewMemoryStore(0)

	req := mathRequest(OutputSVG)
	key := cache.BuildKey(string(req.Format), req.Equation, req.RefID, string(req.Output)).String()
	if err := mem.Set(context.Background(), key, []byte("%%% not base64"), time.Minute); err != nil {
		t.Fatalf("seed: %v", err)
	}

	r := &fakeRenderer{}
	svc := newTestService(t, mem, r, &fakeRasterizer{})

	res, err := svc.Process(testContext(t), req)
	if err != nil {
		t.Fatalf("Process: %v", err)
	}
	if res.CacheHit || r.calls.Load() != 1 {
		t.Fatalf("corrupt entry should be treated as a miss")
	}
}

func TestProcessCoalescesIdenticalMisses(t *testing.T) {
	t.Parallel()

	r := &fakeRenderer{release: make(chan struct{})}
	svc := newTestService(t, nil, r, &fakeRasterizer{})
	ctx := testContext(t)

	const callers = 4
	var wg sync.WaitGroup
	errs := make(chan error, callers)
	for i := 0; i < callers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := svc.Process(ctx, mathRequest(OutputSVG))
			errs <- err
		}()
	}

	// let every caller join the in-flight render before it completes
	deadline := time.Now().Add(2 * time.Second)
	for r.calls.Load() == 0 && time.Now().Before(deadline) {
		time.Sleep(5 * time.Millisecond)
	}
	time.Sleep(50 * time.Millisecond)
	close(r.release)
	wg.Wait()
	close(errs)

	for err := range errs {
		if err != nil {
			t.Fatalf("Process: %v", err)
		}
	}
	if n := r.calls.Load(); n != 1 {
		t.Fatalf("expected one shared render, got %d", n)
	}
}
