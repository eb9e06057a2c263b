package render

import (
	"bytes"
	"context"
	"image"
	"image/color"
	_ "image/gif"
	_ "image/jpeg"
	_ "image/png"
	"math"
	"net/http"
	"time"

	"github.com/disintegration/imaging"
	"github.com/fogleman/gg"
	_ "golang.org/x/image/webp"

	"github.com/matzehuels/quotecard/pkg/errors"
	"github.com/matzehuels/quotecard/pkg/httputil"
)

// BackgroundLoader fetches and decodes a background image.
type BackgroundLoader interface {
	Load(ctx context.Context, url string) (image.Image, error)
}

// BackgroundLoaderFunc adapts a function to BackgroundLoader.
type BackgroundLoaderFunc func(ctx context.Context, url string) (image.Image, error)

func (f BackgroundLoaderFunc) Load(ctx context.Context, url string) (image.Image, error) {
	return f(ctx, url)
}

// HTTPBackgroundLoader downloads backgrounds over HTTP, retrying transient
// failures. PNG, JPEG, GIF and WebP are decoded.
type HTTPBackgroundLoader struct {
	Client   *http.Client
	Policy   httputil.Policy
	MaxBytes int64
}

// NewHTTPBackgroundLoader returns a loader with a 10s client timeout and
// the default retry policy.
func NewHTTPBackgroundLoader() *HTTPBackgroundLoader {
	return &HTTPBackgroundLoader{
		Client:   httputil.NewClient(10 * time.Second),
		Policy:   httputil.DefaultPolicy,
		MaxBytes: httputil.DefaultMaxBytes,
	}
}

// Load implements BackgroundLoader.
func (l *HTTPBackgroundLoader) Load(ctx context.Context, url string) (image.Image, error) {
	if err := errors.ValidateURL(url); err != nil {
		return nil, err
	}
	data, err := l.Fetch(ctx, url)
	if err != nil {
		return nil, err
	}
	return DecodeBackground(data)
}

// Fetch downloads the raw bytes of url.
func (l *HTTPBackgroundLoader) Fetch(ctx context.Context, url string) ([]byte, error) {
	var data []byte
	err := httputil.Retry(ctx, l.Policy, func() error {
		var err error
		data, err = httputil.Fetch(ctx, l.Client, url, l.MaxBytes)
		return err
	})
	if err != nil {
		return nil, errors.Wrap(errors.ErrCodeBackgroundLoad, err, "fetch background")
	}
	return data, nil
}

// MaxBackgroundPixels caps the decoded size of a background image.
var MaxBackgroundPixels = 40_000_000

// DecodeBackground decodes an encoded background image. Headers claiming
// more than MaxBackgroundPixels are rejected before the pixels are read.
func DecodeBackground(data []byte) (image.Image, error) {
	cfg, _, err := image.DecodeConfig(bytes.NewReader(data))
	if err != nil {
		return nil, errors.Wrap(errors.ErrCodeBackgroundLoad, err, "decode background")
	}
	if cfg.Width <= 0 || cfg.Height <= 0 || int64(cfg.Width)*int64(cfg.Height) > int64(MaxBackgroundPixels) {
		return nil, errors.New(errors.ErrCodeBackgroundLoad, "background is %dx%d, over the %d pixel limit",
			cfg.Width, cfg.Height, MaxBackgroundPixels)
	}
	img, _, err := image.Decode(bytes.NewReader(data))
	if err != nil {
		return nil, errors.Wrap(errors.ErrCodeBackgroundLoad, err, "decode background")
	}
	return img, nil
}

// CoverFit returns the size and offset that scale an iw×ih image to cover
// the canvas while keeping its aspect ratio. Offsets are negative when the
// scaled image overflows and is cropped.
func CoverFit(iw, ih int) (w, h, x, y int) {
	scale := math.Max(float64(CanvasWidth)/float64(iw), float64(CanvasHeight)/float64(ih))
	w = int(math.Ceil(float64(iw) * scale))
	h = int(math.Ceil(float64(ih) * scale))
	x = (CanvasWidth - w) / 2
	y = (CanvasHeight - h) / 2
	return w, h, x, y
}

func drawCover(dc *gg.Context, img image.Image) {
	b := img.Bounds()
	w, h, x, y := CoverFit(b.Dx(), b.Dy())
	dc.DrawImage(imaging.Resize(img, w, h, imaging.Lanczos), x, y)

	dc.SetRGBA(0, 0, 0, 0.5)
	dc.DrawRectangle(0, 0, CanvasWidth, CanvasHeight)
	dc.Fill()
}

func drawGradient(dc *gg.Context, top, bottom color.Color) {
	grad := gg.NewLinearGradient(0, 0, 0, CanvasHeight)
	grad.AddColorStop(0, top)
	grad.AddColorStop(1, bottom)
	dc.SetFillStyle(grad)
	dc.DrawRectangle(0, 0, CanvasWidth, CanvasHeight)
	dc.Fill()
}
