// Package processor turns image requests into finished images.
//
// A [Processor] sits in front of a renderer and a scaler. It answers from
// the in-memory cache and an optional second tier before rendering, keeps a
// registry of tracked tasks that are retried with exponential backoff, runs
// batches in bounded chunks and holds work back while the process is under
// memory pressure.
//
//	p := processor.New(renderer, scaler, cache.NewMemory(cache.MemoryOptions{}))
//	p.Start(ctx)
//	defer p.Dispose()
//
//	blob, err := p.ProcessImage(ctx, processor.ImageOptions{
//	    Content: "Simplicity is prerequisite for reliability.",
//	    Author:  "Edsger W. Dijkstra",
//	    Width:   375, Height: 667, Format: "webp",
//	})
package processor

import (
	"bytes"
	"context"
	"image"
	_ "image/gif"
	_ "image/jpeg"
	"image/png"
	"io"
	"sync"
	"sync/atomic"
	"time"

	"github.com/charmbracelet/log"
	"golang.org/x/image/draw"
	_ "golang.org/x/image/webp"

	"github.com/matzehuels/quotecard/pkg/cache"
	"github.com/matzehuels/quotecard/pkg/errors"
	"github.com/matzehuels/quotecard/pkg/hosting"
	"github.com/matzehuels/quotecard/pkg/observability"
	"github.com/matzehuels/quotecard/pkg/render"
	"github.com/matzehuels/quotecard/pkg/scale"
)

// Generator renders a request to a canvas PNG.
type Generator interface {
	Generate(ctx context.Context, req render.Request) ([]byte, error)
}

// Scaler resizes a canvas for a device.
type Scaler interface {
	Scale(ctx context.Context, src []byte, width, height int, opts *scale.Options) (*scale.Result, error)
	Limits() hosting.Limits
}

// Defaults.
const (
	DefaultMaxConcurrent     = 3
	DefaultMaxRetries        = 3
	DefaultRetryDelay        = time.Second
	DefaultMaxMemory         = 512 << 20
	DefaultMemoryThreshold   = 0.8
	DefaultMemoryWaitTimeout = 30 * time.Second
	DefaultSampleInterval    = time.Second
	DefaultCleanupInterval   = 5 * time.Minute

	memoryPollInterval = 100 * time.Millisecond
)

// Processor coordinates rendering, scaling and caching. It is safe for
// concurrent use.
type Processor struct {
	gen     Generator
	scaler  Scaler
	mem     *cache.Memory
	tier    cache.Cache
	tierTTL time.Duration
	keyer   cache.Keyer
	logger  *log.Logger

	maxConcurrent     int
	maxRetries        int
	retryDelay        time.Duration
	maxMemory         uint64
	memoryThreshold   float64
	memoryWaitTimeout time.Duration
	sampleInterval    time.Duration
	cleanupInterval   time.Duration
	sampler           func() uint64

	events observability.Broadcaster

	mu      sync.Mutex
	tasks   map[string]*Task
	results map[string]*Blob // completed task id -> image

	active   atomic.Int64
	memUsage atomic.Uint64

	loopMu   sync.Mutex
	cancel   context.CancelFunc
	loops    sync.WaitGroup
	disposed bool
}

// Option configures a Processor.
type Option func(*Processor)

// WithMaxConcurrent sets the batch chunk size.
func WithMaxConcurrent(n int) Option { return func(p *Processor) { p.maxConcurrent = n } }

// WithMaxRetries sets how often a failing task is retried.
func WithMaxRetries(n int) Option { return func(p *Processor) { p.maxRetries = n } }

// WithRetryDelay sets the base backoff delay.
func WithRetryDelay(d time.Duration) Option { return func(p *Processor) { p.retryDelay = d } }

// WithMaxMemory sets the memory ceiling in bytes.
func WithMaxMemory(n uint64) Option { return func(p *Processor) { p.maxMemory = n } }

// WithMemoryThreshold sets the fraction of the ceiling at which batches wait.
func WithMemoryThreshold(f float64) Option { return func(p *Processor) { p.memoryThreshold = f } }

// WithMemoryWaitTimeout bounds how long CheckMemoryUsage waits.
func WithMemoryWaitTimeout(d time.Duration) Option {
	return func(p *Processor) { p.memoryWaitTimeout = d }
}

// WithSampleInterval sets the memory sampling period.
func WithSampleInterval(d time.Duration) Option { return func(p *Processor) { p.sampleInterval = d } }

// WithCleanupInterval sets the cleanup period.
func WithCleanupInterval(d time.Duration) Option { return func(p *Processor) { p.cleanupInterval = d } }

// WithMemorySampler replaces the heap sampler.
func WithMemorySampler(fn func() uint64) Option { return func(p *Processor) { p.sampler = fn } }

// WithSecondTier adds a byte-level cache behind the memory cache.
// A zero ttl uses cache.TTLImage.
func WithSecondTier(c cache.Cache, ttl time.Duration) Option {
	return func(p *Processor) {
		p.tier = c
		p.tierTTL = ttl
	}
}

// WithKeyer sets the cache key builder.
func WithKeyer(k cache.Keyer) Option { return func(p *Processor) { p.keyer = k } }

// WithLogger sets the logger.
func WithLogger(l *log.Logger) Option { return func(p *Processor) { p.logger = l } }

// New creates a Processor. A nil mem gets a default memory cache.
func New(gen Generator, scaler Scaler, mem *cache.Memory, opts ...Option) *Processor {
	p := &Processor{
		gen:               gen,
		scaler:            scaler,
		mem:               mem,
		maxConcurrent:     DefaultMaxConcurrent,
		maxRetries:        DefaultMaxRetries,
		retryDelay:        DefaultRetryDelay,
		maxMemory:         DefaultMaxMemory,
		memoryThreshold:   DefaultMemoryThreshold,
		memoryWaitTimeout: DefaultMemoryWaitTimeout,
		sampleInterval:    DefaultSampleInterval,
		cleanupInterval:   DefaultCleanupInterval,
		sampler:           HeapSampler,
		tasks:             make(map[string]*Task),
		results:           make(map[string]*Blob),
	}
	for _, opt := range opts {
		opt(p)
	}
	if p.mem == nil {
		p.mem = cache.NewMemory(cache.MemoryOptions{Logger: p.logger})
	}
	if p.tier == nil {
		p.tier = cache.NullCache{}
	}
	if p.tierTTL == 0 {
		p.tierTTL = cache.TTLImage
	}
	if p.keyer == nil {
		p.keyer = cache.NewDefaultKeyer()
	}
	if p.logger == nil {
		p.logger = log.NewWithOptions(io.Discard, log.Options{})
	}
	p.maxConcurrent = max(p.maxConcurrent, 1)
	p.maxRetries = max(p.maxRetries, 0)
	return p
}

// Start launches the memory sampler and the cleanup loop. Calling Start on
// a running or disposed Processor does nothing.
func (p *Processor) Start(ctx context.Context) {
	p.loopMu.Lock()
	defer p.loopMu.Unlock()
	if p.cancel != nil || p.disposed {
		return
	}
	ctx, p.cancel = context.WithCancel(ctx)
	p.loops.Add(2)
	go p.every(ctx, p.sampleInterval, func() { p.sampleMemory() })
	go p.every(ctx, p.cleanupInterval, func() { p.Cleanup() })
}

// Dispose stops the loops, clears the task registry and removes all
// subscribers. It is safe to call more than once.
func (p *Processor) Dispose() {
	p.loopMu.Lock()
	defer p.loopMu.Unlock()
	if p.disposed {
		return
	}
	p.disposed = true
	if p.cancel != nil {
		p.cancel()
		p.loops.Wait()
		p.cancel = nil
	}

	p.mu.Lock()
	clear(p.tasks)
	clear(p.results)
	p.mu.Unlock()
	p.events.RemoveAll()
}

// Subscribe registers s for processor events and returns its unsubscribe.
func (p *Processor) Subscribe(s observability.ProcessorSubscriber) func() {
	return p.events.Subscribe(s)
}

// Memory returns the memory cache.
func (p *Processor) Memory() *cache.Memory { return p.mem }

func (p *Processor) every(ctx context.Context, d time.Duration, fn func()) {
	defer p.loops.Done()
	t := time.NewTicker(d)
	defer t.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-t.C:
			fn()
		}
	}
}

// ===== Untracked path =====

// ProcessImage produces the image described by opts. Cached results are
// returned with Blob.Cached set.
func (p *Processor) ProcessImage(ctx context.Context, opts ImageOptions) (*Blob, error) {
	if err := opts.ValidateAndSetDefaults(p.scaler.Limits()); err != nil {
		return nil, err
	}

	p.active.Add(1)
	defer p.active.Add(-1)

	imageKey := p.keyer.ImageKey(opts.imageKeyOpts())
	if !opts.NeedsScaling() {
		return p.canvas(ctx, opts, imageKey)
	}

	so := opts.scaledKeyOpts()
	size := so.Size()
	tierKey := p.keyer.ScaledKey(imageKey, so)
	if !opts.Refresh {
		if blob, ok := p.lookup(ctx, imageKey, tierKey, size); ok {
			return blob, nil
		}
	}

	canvas, err := p.canvas(ctx, opts, imageKey)
	if err != nil {
		return nil, err
	}

	res, err := p.scaler.Scale(ctx, canvas.Data, opts.Width, opts.Height, opts.scaleOptions())
	if err != nil {
		return nil, err
	}
	meta := cache.Metadata{
		Width:      res.Width,
		Height:     res.Height,
		Format:     res.Format,
		Quality:    res.Quality,
		Size:       len(res.Data),
		Optimized:  true,
		DeviceType: res.DeviceType,
		PixelRatio: res.PixelRatio,
	}
	p.store(ctx, imageKey, tierKey, size, res.Data, meta)

	p.logger.Debug("Scaled image", "size", size, "bytes", len(res.Data))
	return &Blob{Data: res.Data, ContentType: ContentType(res.Format), Metadata: meta}, nil
}

// canvas returns the normalized 1080×1080 PNG for opts, rendering on a miss.
func (p *Processor) canvas(ctx context.Context, opts ImageOptions, imageKey string) (*Blob, error) {
	if !opts.Refresh {
		if blob, ok := p.lookup(ctx, imageKey, imageKey, ""); ok {
			return blob, nil
		}
	}

	p.logger.Info("Rendering quote", "author", opts.Author, "chars", len([]rune(opts.Content)))
	raw, err := p.gen.Generate(ctx, opts.Request())
	if err != nil {
		return nil, err
	}
	data, err := normalize(ctx, raw)
	if err != nil {
		return nil, err
	}

	meta := cache.Metadata{
		Width:  render.CanvasWidth,
		Height: render.CanvasHeight,
		Format: CanvasFormat,
		Size:   len(data),
	}
	p.store(ctx, imageKey, imageKey, "", data, meta)
	return &Blob{Data: data, ContentType: ContentType(CanvasFormat), Metadata: meta}, nil
}

// lookup consults the memory cache, then the second tier. Second-tier hits
// are promoted into memory.
func (p *Processor) lookup(ctx context.Context, memKey, tierKey, size string) (*Blob, bool) {
	if e, ok := p.mem.Get(memKey, sizeArgs(size)...); ok {
		return &Blob{Data: e.Buffer, ContentType: ContentType(e.Metadata.Format), Metadata: e.Metadata, Cached: true}, true
	}

	data, hit, err := p.tier.Get(ctx, tierKey)
	if err != nil {
		p.logger.Warn("Second-tier cache read failed", "key", tierKey, "err", err)
		return nil, false
	}
	if !hit {
		return nil, false
	}
	cfg, format, err := image.DecodeConfig(bytes.NewReader(data))
	if err != nil {
		p.logger.Warn("Discarding unreadable cache entry", "key", tierKey, "err", err)
		_ = p.tier.Delete(ctx, tierKey)
		return nil, false
	}
	meta := cache.Metadata{
		Width:     cfg.Width,
		Height:    cfg.Height,
		Format:    format,
		Size:      len(data),
		Optimized: size != "",
	}
	p.mem.Set(memKey, data, meta, sizeArgs(size)...)
	return &Blob{Data: data, ContentType: ContentType(format), Metadata: meta, Cached: true}, true
}

func (p *Processor) store(ctx context.Context, memKey, tierKey, size string, data []byte, meta cache.Metadata) {
	p.mem.Set(memKey, data, meta, sizeArgs(size)...)
	if err := p.tier.Set(ctx, tierKey, data, p.tierTTL); err != nil {
		p.logger.Warn("Second-tier cache write failed", "key", tierKey, "err", err)
	}
}

func sizeArgs(size string) []string {
	if size == "" {
		return nil
	}
	return []string{size}
}

// normalize redraws a rendered PNG onto a fresh RGBA canvas and re-encodes
// it, so every canvas leaving the processor has the same pixel layout.
func normalize(ctx context.Context, raw []byte) (data []byte, err error) {
	hooks := observability.Render()
	hooks.OnRenderStart(ctx, "normalize")
	start := time.Now()
	defer func() { hooks.OnRenderComplete(ctx, "normalize", len(data), time.Since(start), err) }()

	src, _, err := image.Decode(bytes.NewReader(raw))
	if err != nil {
		return nil, errors.Wrap(errors.ErrCodeRenderFailed, err, "decode rendered image")
	}
	dst := image.NewRGBA(image.Rect(0, 0, render.CanvasWidth, render.CanvasHeight))
	draw.CatmullRom.Scale(dst, dst.Bounds(), src, src.Bounds(), draw.Src, nil)

	var buf bytes.Buffer
	if err := png.Encode(&buf, dst); err != nil {
		return nil, errors.Wrap(errors.ErrCodeRenderFailed, err, "encode canvas")
	}
	return buf.Bytes(), nil
}

// ===== Stats =====

// Stats is a snapshot of processor state.
type Stats struct {
	QueueSize        int               `json:"queue_size"`
	Pending          int               `json:"pending"`
	Processing       int               `json:"processing"`
	Completed        int               `json:"completed"`
	Failed           int               `json:"failed"`
	ActiveProcessing int64             `json:"active_processing"`
	MemoryUsage      uint64            `json:"memory_usage"`
	MaxMemory        uint64            `json:"max_memory"`
	Cache            cache.MemoryStats `json:"cache"`
}

// Stats returns a snapshot of the processor.
func (p *Processor) Stats() Stats {
	s := Stats{
		ActiveProcessing: p.ActiveProcessing(),
		MemoryUsage:      p.CurrentMemoryUsage(),
		MaxMemory:        p.maxMemory,
		Cache:            p.mem.Stats(),
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	s.QueueSize = len(p.tasks)
	for _, t := range p.tasks {
		switch t.Status {
		case StatusPending:
			s.Pending++
		case StatusProcessing:
			s.Processing++
		case StatusCompleted:
			s.Completed++
		case StatusFailed:
			s.Failed++
		}
	}
	return s
}
