// Package scale resizes rendered quote cards for specific devices.
//
// [Scaler.ScaleForDevice] takes an encoded image and a device viewport,
// resolves defaults from the device [Breakpoint] table, letterboxes the
// image into viewport×pixel-ratio pixels and encodes it as png, jpeg, gif or
// webp. Requested formats are validated against the hosting provider's
// limits and the encoder quality is capped by the provider's ceiling.
//
// Results are kept in an expiring LRU keyed by the source hash, target
// size, quality, format, pixel ratio and hosting account.
package scale

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"strconv"
	"sync/atomic"
	"time"

	"github.com/charmbracelet/log"
	"github.com/disintegration/imaging"
	"github.com/hashicorp/golang-lru/v2/expirable"
	_ "golang.org/x/image/webp"

	"github.com/matzehuels/quotecard/pkg/cache"
	"github.com/matzehuels/quotecard/pkg/errors"
	"github.com/matzehuels/quotecard/pkg/hosting"
	"github.com/matzehuels/quotecard/pkg/observability"
)

// Cache defaults.
const (
	DefaultCacheSize = 100
	DefaultCacheTTL  = time.Hour
)

// MaxDimension bounds device width and height.
const MaxDimension = 8192

const cacheNamespace = "scaled"

// Options override breakpoint defaults. Zero values mean "use the default".
type Options struct {
	Quality      int
	Format       string
	PixelRatio   float64
	PreserveText *bool
}

// Result is a scaled image and the parameters it was produced with.
type Result struct {
	Data         []byte
	Width        int
	Height       int
	Format       string
	Quality      int
	PixelRatio   float64
	DeviceType   string
	PreserveText bool
}

// Stats reports result cache activity.
type Stats struct {
	Hits    uint64 `json:"hits"`
	Misses  uint64 `json:"misses"`
	Entries int    `json:"entries"`
}

// Scaler resizes images for devices. It is safe for concurrent use.
type Scaler struct {
	limits    hosting.Limits
	cacheSize int
	cacheTTL  time.Duration
	results   *expirable.LRU[string, *Result]
	logger    *log.Logger

	hits   atomic.Uint64
	misses atomic.Uint64
}

// Option configures a Scaler.
type Option func(*Scaler)

// WithCacheSize sets the maximum number of cached results.
func WithCacheSize(n int) Option { return func(s *Scaler) { s.cacheSize = n } }

// WithCacheTTL sets how long cached results stay valid.
func WithCacheTTL(d time.Duration) Option { return func(s *Scaler) { s.cacheTTL = d } }

// WithLogger sets the logger.
func WithLogger(l *log.Logger) Option { return func(s *Scaler) { s.logger = l } }

// NewScaler creates a Scaler bound to the given hosting limits.
func NewScaler(limits hosting.Limits, opts ...Option) *Scaler {
	s := &Scaler{
		limits:    limits,
		cacheSize: DefaultCacheSize,
		cacheTTL:  DefaultCacheTTL,
		logger:    log.NewWithOptions(io.Discard, log.Options{}),
	}
	for _, opt := range opts {
		opt(s)
	}
	s.results = expirable.NewLRU[string, *Result](max(s.cacheSize, 1), nil, s.cacheTTL)
	return s
}

// Limits returns the hosting limits the scaler enforces.
func (s *Scaler) Limits() hosting.Limits { return s.limits }

// ScaleForDevice scales src for a deviceWidth×deviceHeight viewport and
// returns the encoded bytes.
func (s *Scaler) ScaleForDevice(ctx context.Context, src []byte, deviceWidth, deviceHeight int, opts *Options) ([]byte, error) {
	res, err := s.Scale(ctx, src, deviceWidth, deviceHeight, opts)
	if err != nil {
		return nil, err
	}
	return res.Data, nil
}

// Scale is ScaleForDevice returning the output parameters as well.
func (s *Scaler) Scale(ctx context.Context, src []byte, deviceWidth, deviceHeight int, opts *Options) (*Result, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if deviceWidth <= 0 || deviceHeight <= 0 {
		return nil, errors.New(errors.ErrCodeInvalidInput,
			"device size must be positive, got %dx%d", deviceWidth, deviceHeight)
	}
	if err := errors.ValidateDimensions(deviceWidth, deviceHeight, MaxDimension); err != nil {
		return nil, err
	}
	if len(src) == 0 {
		return nil, errors.New(errors.ErrCodeInvalidInput, "source image is empty")
	}

	p, err := s.resolve(deviceWidth, deviceHeight, opts)
	if err != nil {
		return nil, err
	}

	key := s.cacheKey(src, deviceWidth, deviceHeight, p)
	if res, ok := s.results.Get(key); ok {
		s.hits.Add(1)
		observability.Cache().OnCacheHit(ctx, cacheNamespace)
		return res, nil
	}
	s.misses.Add(1)
	observability.Cache().OnCacheMiss(ctx, cacheNamespace)

	hooks := observability.Render()
	hooks.OnRenderStart(ctx, "scale")
	start := time.Now()

	res, err := s.scale(src, p)

	size := 0
	if res != nil {
		size = len(res.Data)
	}
	hooks.OnRenderComplete(ctx, "scale", size, time.Since(start), err)
	if err != nil {
		return nil, err
	}

	s.results.Add(key, res)
	observability.Cache().OnCacheSet(ctx, cacheNamespace, size)
	s.logger.Debug("scaled image",
		"device", fmt.Sprintf("%dx%d", deviceWidth, deviceHeight),
		"target", fmt.Sprintf("%dx%d", res.Width, res.Height),
		"format", res.Format,
		"quality", res.Quality,
		"bytes", size)
	return res, nil
}

// Stats returns result cache counters.
func (s *Scaler) Stats() Stats {
	return Stats{
		Hits:    s.hits.Load(),
		Misses:  s.misses.Load(),
		Entries: s.results.Len(),
	}
}

// Purge drops every cached result.
func (s *Scaler) Purge() { s.results.Purge() }

// params are fully resolved scaling parameters.
type params struct {
	width, height int
	format        string
	quality       int
	pixelRatio    float64
	preserveText  bool
	deviceType    string
}

// resolve merges explicit options over breakpoint defaults over the global
// defaults, validates the format and applies the quality ceiling.
func (s *Scaler) resolve(w, h int, o *Options) (params, error) {
	bp := ResolveBreakpoint(w, h)

	p := params{
		format:       DefaultFormat,
		quality:      DefaultQuality,
		pixelRatio:   1,
		preserveText: true,
		deviceType:   bp.DeviceType,
	}
	if bp.DefaultFormat != "" {
		p.format = bp.DefaultFormat
	}
	if bp.DefaultQuality > 0 {
		p.quality = bp.DefaultQuality
	}
	if bp.PixelRatio > 0 {
		p.pixelRatio = bp.PixelRatio
	}

	if o != nil {
		if o.Format != "" {
			p.format = o.Format
		}
		if o.Quality > 0 {
			p.quality = o.Quality
		}
		if o.PixelRatio > 0 {
			p.pixelRatio = o.PixelRatio
		}
		if o.PreserveText != nil {
			p.preserveText = *o.PreserveText
		}
	}

	if err := errors.ValidateQuality(p.quality); err != nil {
		return params{}, err
	}
	if err := s.limits.ValidateFormat(p.format); err != nil {
		return params{}, err
	}
	p.format = NormalizeFormat(p.format)

	p.quality = s.limits.CapQuality(p.quality)
	if p.preserveText && p.format == "jpeg" {
		p.quality = s.limits.QualityCeiling()
	}

	p.width = int(float64(w)*p.pixelRatio + 0.5)
	p.height = int(float64(h)*p.pixelRatio + 0.5)
	if err := errors.ValidateDimensions(p.width, p.height, MaxDimension); err != nil {
		return params{}, err
	}
	return p, nil
}

func (s *Scaler) scale(src []byte, p params) (*Result, error) {
	img, err := imaging.Decode(bytes.NewReader(src))
	if err != nil {
		return nil, errors.Wrap(errors.ErrCodeScaleFailed, err, "decode source")
	}

	filter := imaging.Linear
	if p.preserveText {
		filter = imaging.Lanczos
	}
	out := Letterbox(img, p.width, p.height, filter, letterboxColor(p.format))

	data, err := encode(out, p.format, p.quality, p.preserveText)
	if err != nil {
		return nil, errors.Wrap(errors.ErrCodeScaleFailed, err, "encode %s", p.format)
	}

	return &Result{
		Data:         data,
		Width:        p.width,
		Height:       p.height,
		Format:       p.format,
		Quality:      p.quality,
		PixelRatio:   p.pixelRatio,
		DeviceType:   p.deviceType,
		PreserveText: p.preserveText,
	}, nil
}

func (s *Scaler) cacheKey(src []byte, w, h int, p params) string {
	return cache.ShortHash(src) +
		":" + strconv.Itoa(w) + "x" + strconv.Itoa(h) +
		":q" + strconv.Itoa(p.quality) +
		":" + p.format +
		":pr" + strconv.FormatFloat(p.pixelRatio, 'g', -1, 64) +
		":t" + strconv.FormatBool(p.preserveText) +
		":" + s.limits.CloudName
}

func errUnsupportedEncoder(format string) error {
	return errors.New(errors.ErrCodeUnsupported, "no encoder for format %q", format)
}
