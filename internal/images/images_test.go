package images

import (
	"bytes"
	"context"
	"encoding/base64"
	"errors"
	"image"
	"image/png"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"

	"go.uber.org/zap/zaptest"

	"math2image/pkg/logging/logging"
)

func testContext(t *testing.T) context.Context {
	t.Helper()
	return logging.WithLogger(context.Background(), zaptest.NewLogger(t))
}

func pngBytes(t *testing.T, w, h int) []byte {
	t.Helper()
	var buf bytes.Buffer
	if err := png.Encode(&buf, image.NewRGBA(image.Rect(0, 0, w, h))); err != nil {
		t.Fatalf("encode png: %v", err)
	}
	return buf.Bytes()
}

func TestExtractOrderAndPlaceholders(t *testing.T) {
	t.Parallel()

	a := base64.StdEncoding.EncodeToString([]byte("first"))
	b := base64.StdEncoding.EncodeToString([]byte("second"))
	tex := `x + \includegraphics{data:image/png;base64,` + a + `} = \includegraphics[width=2cm]{data:image/jpeg;base64,` + b + `}`

	out, imgs := Extract(testContext(t), tex)

	if len(imgs) != 2 {
		t.Fatalf("expected 2 images, got %d", len(imgs))
	}
	if imgs[0].Format != "png" || imgs[0].Base64 != a {
		t.Fatalf("first image = %#v", imgs[0])
	}
	if imgs[1].Format != "jpeg" || imgs[1].Base64 != b {
		t.Fatalf("second image = %#v", imgs[1])
	}
	if want := "x + " + Placeholder + " = " + Placeholder; out != want {
		t.Fatalf("Extract text = %q, want %q", out, want)
	}
}

func TestExtractDropsNonDataDirectives(t *testing.T) {
	t.Parallel()

	out, imgs := Extract(testContext(t), `a\includegraphics{figure.png}b`)
	if len(imgs) != 0 {
		t.Fatalf("expected no images, got %d", len(imgs))
	}
	if out != "ab" {
		t.Fatalf("expected directive removed, got %q", out)
	}
}

func TestEmbedSizesByDPI(t *testing.T) {
	t.Parallel()

	data := base64.StdEncoding.EncodeToString(pngBytes(t, 50, 20))
	mathml := "<mrow>" + Marker + "</mrow>"

	out := NewEmbedder(nil, 0).Embed(testContext(t), mathml, []EmbeddedImage{{Format: "png", Base64: data}})

	if strings.Contains(out, Marker) {
		t.Fatalf("marker not replaced: %q", out)
	}
	if !strings.Contains(out, `<mglyph width="2.5" height="1" src="data:image/png;base64,`+data+`"></mglyph>`) {
		t.Fatalf("unexpected glyph: %q", out)
	}
}

func TestEmbedFailureKeepsOwnMarker(t *testing.T) {
	t.Parallel()

	good := base64.StdEncoding.EncodeToString(pngBytes(t, 20, 20))
	mathml := Marker + "|" + Marker

	out := NewEmbedder(nil, 20).Embed(testContext(t), mathml, []EmbeddedImage{
		{Format: "png", Base64: base64.StdEncoding.EncodeToString([]byte("not an image"))},
		{Format: "png", Base64: good},
	})

	left, right, ok := strings.Cut(out, "|")
	if !ok {
		t.Fatalf("separator lost: %q", out)
	}
	if left != Marker {
		t.Fatalf("failed image should keep its marker, got %q", left)
	}
	if !strings.Contains(right, `width="1" height="1"`) {
		t.Fatalf("second image not embedded: %q", right)
	}
}

func TestInlineRemotePartialDegradation(t *testing.T) {
	t.Parallel()

	img := pngBytes(t, 4, 4)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path == "/ok.png" {
			w.Header().Set("Content-Type", "image/png")
			_, _ = w.Write(img)
			return
		}
		http.NotFound(w, r)
	}))
	defer srv.Close()

	missing := srv.URL + "/missing.png"
	mathml := `<math><mglyph width="1" height="1" src="` + srv.URL + `/ok.png"></mglyph>` +
		`<mglyph width="1" height="1" src="` + missing + `"></mglyph></math>`

	e := NewEmbedder(NewHTTPFetcher(FetcherConfig{}, zaptest.NewLogger(t)), 20)
	out := e.InlineRemote(testContext(t), mathml)

	if n := strings.Count(out, `src="data:image/png;base64,`); n != 1 {
		t.Fatalf("expected exactly one inlined image, got %d in %q", n, out)
	}
	if !strings.Contains(out, `src="`+missing+`"`) {
		t.Fatalf("unreachable reference should be untouched: %q", out)
	}
	if !strings.Contains(out, base64.StdEncoding.EncodeToString(img)) {
		t.Fatalf("payload not inlined")
	}
}

type countingFetcher struct {
	mu    sync.Mutex
	calls map[string]int
}

func (f *countingFetcher) Fetch(_ context.Context, rawURL string) (*Resource, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.calls == nil {
		f.calls = map[string]int{}
	}
	f.calls[rawURL]++
	if strings.Contains(rawURL, "broken") {
		return nil, errors.New("boom")
	}
	return &Resource{Data: []byte("gif"), ContentType: "image/gif"}, nil
}

func TestInlineRemoteFetchesEachURLOnce(t *testing.T) {
	t.Parallel()

	f := &countingFetcher{}
	mathml := `<mglyph src="https://a.test/x.gif"/><mglyph src="https://a.test/x.gif"/>` +
		`<mglyph src="https://a.test/broken.gif"/><mglyph src="https://a.test/q?a=1&amp;b=2"/>`

	out := NewEmbedder(f, 20).InlineRemote(testContext(t), mathml)

	if f.calls["https://a.test/x.gif"] != 1 {
		t.Fatalf("duplicate url fetched %d times", f.calls["https://a.test/x.gif"])
	}
	if f.calls["https://a.test/q?a=1&b=2"] != 1 {
		t.Fatalf("escaped url not unescaped before fetch: %v", f.calls)
	}
	if strings.Count(out, "data:image/gif;base64,") != 3 {
		t.Fatalf("expected three data references, got %q", out)
	}
	if !strings.Contains(out, `src="https://a.test/broken.gif"`) {
		t.Fatalf("failed reference should remain: %q", out)
	}
}

func TestHTTPFetcherLimits(t *testing.T) {
	t.Parallel()

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/big":
			w.Header().Set("Content-Type", "image/png")
			_, _ = w.Write(bytes.Repeat([]byte{0}, 64))
		case "/text":
			w.Header().Set("Content-Type", "text/html")
			_, _ = w.Write([]byte("<html></html>"))
		}
	}))
	defer srv.Close()

	f := NewHTTPFetcher(FetcherConfig{MaxBytes: 32}, zaptest.NewLogger(t))
	ctx := context.Background()

	if _, err := f.Fetch(ctx, srv.URL+"/big"); err == nil {
		t.Fatalf("expected size limit error")
	}
	if _, err := f.Fetch(ctx, srv.URL+"/text"); !errors.Is(err, errNotImage) {
		t.Fatalf("expected errNotImage, got %v", err)
	}
	if _, err := f.Fetch(ctx, "file:///etc/passwd"); err == nil {
		t.Fatalf("expected scheme rejection")
	}
}
