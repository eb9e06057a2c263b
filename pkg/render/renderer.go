package render

import (
	"bytes"
	"context"
	"image/color"
	"io"
	"strings"
	"time"

	"github.com/charmbracelet/log"
	"github.com/fogleman/gg"

	"github.com/matzehuels/quotecard/pkg/errors"
	"github.com/matzehuels/quotecard/pkg/fonts"
	"github.com/matzehuels/quotecard/pkg/observability"
)

// Field length limits for a Request.
const (
	MaxAuthorLength   = 200
	MaxSiteNameLength = 100
)

// Default gradient stops (#1a1a2e top, #16213e bottom).
var (
	DefaultGradientTop    = color.RGBA{0x1a, 0x1a, 0x2e, 0xff}
	DefaultGradientBottom = color.RGBA{0x16, 0x21, 0x3e, 0xff}
)

// Request describes one quote card.
type Request struct {
	Content       string `json:"content"`
	Author        string `json:"author"`
	SiteName      string `json:"site_name,omitempty"`
	BackgroundURL string `json:"background_url,omitempty"`
}

// Validate checks the request fields.
func (r Request) Validate() error {
	if err := errors.ValidateText("content", r.Content, errors.MaxContentLength); err != nil {
		return err
	}
	if err := errors.ValidateText("author", r.Author, MaxAuthorLength); err != nil {
		return err
	}
	if r.SiteName != "" {
		if err := errors.ValidateText("site name", r.SiteName, MaxSiteNameLength); err != nil {
			return err
		}
	}
	if r.BackgroundURL != "" {
		return errors.ValidateURL(r.BackgroundURL)
	}
	return nil
}

// Renderer rasterizes quote cards. A Renderer is safe for concurrent use.
type Renderer struct {
	fonts      *fonts.Registry
	fontsErr   error
	background BackgroundLoader
	logger     *log.Logger
	top        color.Color
	bottom     color.Color

	quoteFamily  string
	authorFamily string
	siteFamily   string
}

// Option configures a Renderer.
type Option func(*Renderer)

// WithFonts sets the font registry. Without it the embedded Go fonts are used.
func WithFonts(reg *fonts.Registry) Option { return func(r *Renderer) { r.fonts = reg } }

// WithBackgroundLoader sets how background URLs are loaded.
func WithBackgroundLoader(l BackgroundLoader) Option {
	return func(r *Renderer) { r.background = l }
}

// WithLogger sets the logger.
func WithLogger(l *log.Logger) Option { return func(r *Renderer) { r.logger = l } }

// WithGradient replaces the fallback gradient stops.
func WithGradient(top, bottom color.Color) Option {
	return func(r *Renderer) { r.top, r.bottom = top, bottom }
}

// WithFamilies selects registered font families for the quote, author and
// site name.
func WithFamilies(quote, author, site string) Option {
	return func(r *Renderer) {
		r.quoteFamily, r.authorFamily, r.siteFamily = quote, author, site
	}
}

// NewRenderer creates a Renderer.
func NewRenderer(opts ...Option) *Renderer {
	r := &Renderer{
		logger:       log.NewWithOptions(io.Discard, log.Options{}),
		top:          DefaultGradientTop,
		bottom:       DefaultGradientBottom,
		quoteFamily:  fonts.FamilyRegular,
		authorFamily: fonts.FamilyItalic,
		siteFamily:   fonts.FamilyRegular,
	}
	for _, opt := range opts {
		opt(r)
	}
	if r.background == nil {
		r.background = NewHTTPBackgroundLoader()
	}
	if r.fonts == nil {
		r.fonts, r.fontsErr = fonts.NewRegistry(r.logger)
	}
	return r
}

// Generate renders req onto a CanvasWidth×CanvasHeight PNG.
// Background failures fall back to the gradient and are never returned.
func (r *Renderer) Generate(ctx context.Context, req Request) ([]byte, error) {
	if err := req.Validate(); err != nil {
		return nil, err
	}

	hooks := observability.Render()
	hooks.OnRenderStart(ctx, "generate")
	start := time.Now()

	buf, err := r.generate(ctx, req)

	hooks.OnRenderComplete(ctx, "generate", len(buf), time.Since(start), err)
	return buf, err
}

// Layout computes the text layout Generate would use for content.
func (r *Renderer) Layout(content string) TextLayout {
	return ComputeLayout(content, r.measurer(r.quoteFamily))
}

func (r *Renderer) generate(ctx context.Context, req Request) ([]byte, error) {
	if r.fontsErr != nil {
		return nil, errors.Wrap(errors.ErrCodeRenderFailed, r.fontsErr, "load fonts")
	}

	dc := gg.NewContext(CanvasWidth, CanvasHeight)
	r.drawBackground(ctx, dc, req.BackgroundURL)

	layout := r.Layout(strings.TrimSpace(req.Content))
	p := Place(layout)
	cx := float64(CanvasWidth) / 2

	dc.SetColor(color.White)
	dc.SetFontFace(r.fonts.Face(r.quoteFamily, layout.FontSize))
	for i, line := range layout.Lines {
		dc.DrawStringAnchored(line, cx, p.LineY[i], 0.5, 0.5)
	}

	dc.SetFontFace(r.fonts.Face(r.authorFamily, p.AuthorSize))
	dc.DrawStringAnchored("— "+strings.TrimSpace(req.Author), cx, p.AuthorY, 0.5, 1)

	if site := strings.TrimSpace(req.SiteName); site != "" {
		dc.SetRGBA(1, 1, 1, siteAlpha)
		dc.SetFontFace(r.fonts.Face(r.siteFamily, p.SiteSize))
		dc.DrawStringAnchored(site, cx, p.SiteY, 0.5, 0)
	}

	var buf bytes.Buffer
	if err := dc.EncodePNG(&buf); err != nil {
		return nil, errors.Wrap(errors.ErrCodeRenderFailed, err, "encode png")
	}

	r.logger.Debug("rendered quote",
		"lines", len(layout.Lines),
		"font_size", layout.FontSize,
		"bytes", buf.Len())
	return buf.Bytes(), nil
}

func (r *Renderer) drawBackground(ctx context.Context, dc *gg.Context, url string) {
	if url != "" {
		img, err := r.background.Load(ctx, url)
		if err == nil {
			drawCover(dc, img)
			return
		}
		r.logger.Warn("background unavailable, using gradient", "url", url, "err", err)
		observability.Render().OnBackgroundFallback(ctx, url, err)
	}
	drawGradient(dc, r.top, r.bottom)
}

func (r *Renderer) measurer(family string) func(size float64) Measurer {
	return func(size float64) Measurer {
		return FaceMeasurer{Face: r.fonts.Face(family, size)}
	}
}
