package render

import (
	"bytes"
	"context"
	"encoding/binary"
	"errors"
	"hash/crc32"
	"image"
	"image/color"
	"image/png"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/disintegration/imaging"

	qerrors "github.com/matzehuels/quotecard/pkg/errors"
	"github.com/matzehuels/quotecard/pkg/httputil"
	"github.com/matzehuels/quotecard/pkg/observability"
)

func decodePNG(t *testing.T, data []byte) image.Image {
	t.Helper()
	img, err := png.Decode(bytes.NewReader(data))
	if err != nil {
		t.Fatalf("png.Decode() error: %v", err)
	}
	return img
}

func assertColor(t *testing.T, img image.Image, x, y int, want color.RGBA, tolerance int) {
	t.Helper()
	r, g, b, _ := img.At(x, y).RGBA()
	got := [3]int{int(r >> 8), int(g >> 8), int(b >> 8)}
	exp := [3]int{int(want.R), int(want.G), int(want.B)}
	for i := range got {
		if d := got[i] - exp[i]; d > tolerance || d < -tolerance {
			t.Errorf("pixel (%d,%d) = %v, want %v ±%d", x, y, got, exp, tolerance)
			return
		}
	}
}

func TestGenerateExampleQuote(t *testing.T) {
	r := NewRenderer()
	req := Request{
		Content:  "Be yourself; everyone else is already taken.",
		Author:   "Oscar Wilde",
		SiteName: "quotes.example",
	}

	if got := r.Layout(req.Content).FontSize; got != 45 {
		t.Errorf("FontSize = %v, want 45", got)
	}

	// With proportional metrics of about half an em per character the quote
	// fits on one line.
	layout := ComputeLayout(req.Content, func(size float64) Measurer {
		return MeasureFunc(func(s string) float64 { return float64(len([]rune(s))) * size / 2 })
	})
	if len(layout.Lines) != 1 {
		t.Errorf("Lines = %q, want a single line", layout.Lines)
	}

	data, err := r.Generate(context.Background(), req)
	if err != nil {
		t.Fatalf("Generate() error: %v", err)
	}

	img := decodePNG(t, data)
	if b := img.Bounds(); b.Dx() != CanvasWidth || b.Dy() != CanvasHeight {
		t.Fatalf("bounds = %v, want %dx%d", b, CanvasWidth, CanvasHeight)
	}

	// Gradient: top edge is the first stop, bottom edge the second.
	assertColor(t, img, 0, 0, DefaultGradientTop, 2)
	assertColor(t, img, 0, CanvasHeight-1, DefaultGradientBottom, 2)
}

func TestGenerateInvalidRequest(t *testing.T) {
	r := NewRenderer()
	tests := []struct {
		name string
		req  Request
		code qerrors.Code
	}{
		{"empty content", Request{Content: "  ", Author: "A"}, qerrors.ErrCodeInvalidInput},
		{"empty author", Request{Content: "Q"}, qerrors.ErrCodeInvalidInput},
		{"bad url", Request{Content: "Q", Author: "A", BackgroundURL: "ftp://x/y.png"}, qerrors.ErrCodeInvalidURL},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := r.Generate(context.Background(), tt.req)
			if !qerrors.Is(err, tt.code) {
				t.Errorf("Generate() error = %v, want %s", err, tt.code)
			}
		})
	}
}

func TestGenerateWithBackground(t *testing.T) {
	red := imaging.New(200, 100, color.RGBA{255, 0, 0, 255})
	loader := BackgroundLoaderFunc(func(ctx context.Context, url string) (image.Image, error) {
		return red, nil
	})

	r := NewRenderer(WithBackgroundLoader(loader))
	data, err := r.Generate(context.Background(), Request{
		Content:       "Short",
		Author:        "Someone",
		BackgroundURL: "https://img.example/bg.png",
	})
	if err != nil {
		t.Fatalf("Generate() error: %v", err)
	}

	// Cover-fit red under a 50% black overlay.
	assertColor(t, decodePNG(t, data), 2, 2, color.RGBA{127, 0, 0, 255}, 3)
}

type fallbackHooks struct {
	observability.NoopRenderHooks
	urls []string
}

func (h *fallbackHooks) OnBackgroundFallback(_ context.Context, url string, _ error) {
	h.urls = append(h.urls, url)
}

func TestGenerateBackgroundFailureFallsBack(t *testing.T) {
	hooks := &fallbackHooks{}
	observability.SetRenderHooks(hooks)
	defer observability.Reset()

	loader := BackgroundLoaderFunc(func(ctx context.Context, url string) (image.Image, error) {
		return nil, errors.New("connection refused")
	})

	r := NewRenderer(WithBackgroundLoader(loader))
	data, err := r.Generate(context.Background(), Request{
		Content:       "Short",
		Author:        "Someone",
		BackgroundURL: "https://img.example/missing.png",
	})
	if err != nil {
		t.Fatalf("Generate() should not surface background errors, got %v", err)
	}

	assertColor(t, decodePNG(t, data), 0, 0, DefaultGradientTop, 2)
	if len(hooks.urls) != 1 {
		t.Errorf("OnBackgroundFallback calls = %d, want 1", len(hooks.urls))
	}
}

func TestCoverFit(t *testing.T) {
	tests := []struct {
		iw, ih     int
		w, h, x, y int
	}{
		{1080, 1080, 1080, 1080, 0, 0},
		{540, 540, 1080, 1080, 0, 0},
		{2160, 1080, 2160, 1080, -540, 0},
		{100, 400, 1080, 4320, 0, -1620},
	}
	for _, tt := range tests {
		w, h, x, y := CoverFit(tt.iw, tt.ih)
		if w != tt.w || h != tt.h || x != tt.x || y != tt.y {
			t.Errorf("CoverFit(%d, %d) = %d, %d, %d, %d, want %d, %d, %d, %d",
				tt.iw, tt.ih, w, h, x, y, tt.w, tt.h, tt.x, tt.y)
		}
		if w < CanvasWidth || h < CanvasHeight {
			t.Errorf("CoverFit(%d, %d) does not cover the canvas", tt.iw, tt.ih)
		}
	}
}

func TestHTTPBackgroundLoader(t *testing.T) {
	var encoded bytes.Buffer
	if err := png.Encode(&encoded, imaging.New(10, 10, color.White)); err != nil {
		t.Fatal(err)
	}

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path == "/bg.png" {
			w.Header().Set("Content-Type", "image/png")
			w.Write(encoded.Bytes())
			return
		}
		http.NotFound(w, r)
	}))
	defer srv.Close()

	l := &HTTPBackgroundLoader{
		Client: srv.Client(),
		Policy: httputil.Policy{Attempts: 2, Delay: time.Millisecond},
	}

	img, err := l.Load(context.Background(), srv.URL+"/bg.png")
	if err != nil {
		t.Fatalf("Load() error: %v", err)
	}
	if img.Bounds().Dx() != 10 {
		t.Errorf("Load() width = %d, want 10", img.Bounds().Dx())
	}

	_, err = l.Load(context.Background(), srv.URL+"/nope.png")
	if !qerrors.Is(err, qerrors.ErrCodeBackgroundLoad) {
		t.Errorf("Load(missing) error = %v, want BACKGROUND_LOAD_FAILED", err)
	}
}

// pngWithHeaderSize encodes a 1x1 PNG and rewrites its IHDR to claim w×h.
func pngWithHeaderSize(t *testing.T, w, h uint32) []byte {
	t.Helper()
	var buf bytes.Buffer
	if err := png.Encode(&buf, image.NewRGBA(image.Rect(0, 0, 1, 1))); err != nil {
		t.Fatal(err)
	}
	data := buf.Bytes()
	binary.BigEndian.PutUint32(data[16:20], w)
	binary.BigEndian.PutUint32(data[20:24], h)
	binary.BigEndian.PutUint32(data[29:33], crc32.ChecksumIEEE(data[12:29]))
	return data
}

func TestDecodeBackgroundPixelLimit(t *testing.T) {
	small := pngWithHeaderSize(t, 1, 1)
	if _, err := DecodeBackground(small); err != nil {
		t.Fatalf("DecodeBackground(1x1) error: %v", err)
	}

	tests := []struct {
		name string
		data []byte
	}{
		{"huge header", pngWithHeaderSize(t, 100_000, 100_000)},
		{"wide header", pngWithHeaderSize(t, 1<<30, 1)},
		{"garbage", []byte("not an image")},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := DecodeBackground(tt.data)
			if !qerrors.Is(err, qerrors.ErrCodeBackgroundLoad) {
				t.Errorf("DecodeBackground() error = %v, want BACKGROUND_LOAD_FAILED", err)
			}
		})
	}

	prev := MaxBackgroundPixels
	MaxBackgroundPixels = 50
	t.Cleanup(func() { MaxBackgroundPixels = prev })

	var buf bytes.Buffer
	if err := png.Encode(&buf, image.NewRGBA(image.Rect(0, 0, 10, 10))); err != nil {
		t.Fatal(err)
	}
	if _, err := DecodeBackground(buf.Bytes()); !qerrors.Is(err, qerrors.ErrCodeBackgroundLoad) {
		t.Errorf("DecodeBackground(10x10, cap 50) error = %v", err)
	}
}
