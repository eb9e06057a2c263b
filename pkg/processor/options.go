package processor

import (
	"strings"

	"github.com/matzehuels/quotecard/pkg/cache"
	"github.com/matzehuels/quotecard/pkg/errors"
	"github.com/matzehuels/quotecard/pkg/hosting"
	"github.com/matzehuels/quotecard/pkg/render"
	"github.com/matzehuels/quotecard/pkg/scale"
)

// CanvasFormat is the format Generate produces and the default output.
const CanvasFormat = "png"

// ImageOptions is one image request.
type ImageOptions struct {
	Content       string `json:"content" toml:"content"`
	Author        string `json:"author" toml:"author"`
	SiteName      string `json:"site_name,omitempty" toml:"site_name"`
	BackgroundURL string `json:"background_url,omitempty" toml:"background_url"`

	// Output. Zero width/height mean the canvas size, empty format means png.
	Width        int     `json:"width,omitempty" toml:"width"`
	Height       int     `json:"height,omitempty" toml:"height"`
	Quality      int     `json:"quality,omitempty" toml:"quality"`
	Format       string  `json:"format,omitempty" toml:"format"`
	PixelRatio   float64 `json:"pixel_ratio,omitempty" toml:"pixel_ratio"`
	PreserveText *bool   `json:"preserve_text,omitempty" toml:"preserve_text"`

	Priority int  `json:"priority,omitempty" toml:"priority"`
	Refresh  bool `json:"-" toml:"refresh"` // bypass cache reads
}

// Request returns the render request part of the options.
func (o ImageOptions) Request() render.Request {
	return render.Request{
		Content:       o.Content,
		Author:        o.Author,
		SiteName:      o.SiteName,
		BackgroundURL: o.BackgroundURL,
	}
}

// SetDefaults fills the output size and format.
func (o *ImageOptions) SetDefaults() {
	if o.Width == 0 {
		o.Width = render.CanvasWidth
	}
	if o.Height == 0 {
		o.Height = render.CanvasHeight
	}
	o.Format = strings.ToLower(strings.TrimSpace(o.Format))
	if o.Format == "" {
		o.Format = CanvasFormat
	}
}

// ValidateAndSetDefaults applies defaults and checks the options. The format
// is checked first so unsupported formats fail before any other work.
func (o *ImageOptions) ValidateAndSetDefaults(limits hosting.Limits) error {
	o.SetDefaults()
	if err := limits.ValidateFormat(o.Format); err != nil {
		return err
	}
	if err := errors.ValidateDimensions(o.Width, o.Height, scale.MaxDimension); err != nil {
		return err
	}
	if err := errors.ValidateQuality(o.Quality); err != nil {
		return err
	}
	if o.PixelRatio < 0 {
		return errors.New(errors.ErrCodeInvalidInput, "pixel ratio cannot be negative")
	}
	return o.Request().Validate()
}

// NeedsScaling reports whether the output differs from the rendered canvas.
// Call after SetDefaults.
func (o ImageOptions) NeedsScaling() bool {
	return o.Width != render.CanvasWidth ||
		o.Height != render.CanvasHeight ||
		scale.NormalizeFormat(o.Format) != CanvasFormat ||
		(o.PixelRatio != 0 && o.PixelRatio != 1)
}

func (o ImageOptions) imageKeyOpts() cache.ImageKeyOpts {
	return cache.ImageKeyOpts{
		Content:       o.Content,
		Author:        o.Author,
		SiteName:      o.SiteName,
		BackgroundURL: o.BackgroundURL,
	}
}

func (o ImageOptions) scaledKeyOpts() cache.ScaledKeyOpts {
	preserve := true
	if o.PreserveText != nil {
		preserve = *o.PreserveText
	}
	return cache.ScaledKeyOpts{
		Width:        o.Width,
		Height:       o.Height,
		Format:       scale.NormalizeFormat(o.Format),
		Quality:      o.Quality,
		PixelRatio:   o.PixelRatio,
		PreserveText: preserve,
	}
}

func (o ImageOptions) scaleOptions() *scale.Options {
	return &scale.Options{
		Quality:      o.Quality,
		Format:       o.Format,
		PixelRatio:   o.PixelRatio,
		PreserveText: o.PreserveText,
	}
}

// Blob is a finished image.
type Blob struct {
	Data        []byte
	ContentType string
	Metadata    cache.Metadata
	Cached      bool
}

// ContentType returns the MIME type for an image format.
func ContentType(format string) string {
	switch f := scale.NormalizeFormat(format); f {
	case "":
		return "application/octet-stream"
	default:
		return "image/" + f
	}
}
