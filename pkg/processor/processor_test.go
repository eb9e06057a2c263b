package processor

import (
	"bytes"
	"context"
	"fmt"
	"image"
	"image/color"
	"image/png"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/matzehuels/quotecard/pkg/cache"
	"github.com/matzehuels/quotecard/pkg/errors"
	"github.com/matzehuels/quotecard/pkg/hosting"
	"github.com/matzehuels/quotecard/pkg/observability"
	"github.com/matzehuels/quotecard/pkg/render"
	"github.com/matzehuels/quotecard/pkg/scale"
)

// fakeGenerator renders a small solid PNG and counts calls.
type fakeGenerator struct {
	calls atomic.Int64
	fn    func(n int64) error // optional failure injection, n is the 1-based call
	delay time.Duration

	inflight    atomic.Int64
	maxInflight atomic.Int64
}

func (g *fakeGenerator) Generate(ctx context.Context, req render.Request) ([]byte, error) {
	n := g.calls.Add(1)
	cur := g.inflight.Add(1)
	defer g.inflight.Add(-1)
	for {
		prev := g.maxInflight.Load()
		if cur <= prev || g.maxInflight.CompareAndSwap(prev, cur) {
			break
		}
	}
	if g.delay > 0 {
		time.Sleep(g.delay)
	}
	if g.fn != nil {
		if err := g.fn(n); err != nil {
			return nil, err
		}
	}
	return solidPNG(16, 16, color.RGBA{0x1a, 0x1a, 0x2e, 0xff}), nil
}

func solidPNG(w, h int, c color.Color) []byte {
	img := image.NewRGBA(image.Rect(0, 0, w, h))
	for y := 0; y < h; y++ {
		for x := 0; x < w; x++ {
			img.Set(x, y, c)
		}
	}
	var buf bytes.Buffer
	_ = png.Encode(&buf, img)
	return buf.Bytes()
}

func newTestProcessor(t *testing.T, gen Generator, opts ...Option) *Processor {
	t.Helper()
	p := New(gen, scale.NewScaler(hosting.Default()), cache.NewMemory(cache.MemoryOptions{}), opts...)
	t.Cleanup(p.Dispose)
	return p
}

func quote(i int) ImageOptions {
	return ImageOptions{Content: fmt.Sprintf("Quote number %d", i), Author: "Author"}
}

func TestProcessImageCanvas(t *testing.T) {
	gen := &fakeGenerator{}
	p := newTestProcessor(t, gen)
	ctx := context.Background()

	blob, err := p.ProcessImage(ctx, quote(1))
	if err != nil {
		t.Fatalf("ProcessImage() error: %v", err)
	}
	if blob.Cached {
		t.Error("first call should not be cached")
	}
	if blob.ContentType != "image/png" {
		t.Errorf("ContentType = %q", blob.ContentType)
	}
	cfg, err := png.DecodeConfig(bytes.NewReader(blob.Data))
	if err != nil {
		t.Fatal(err)
	}
	if cfg.Width != render.CanvasWidth || cfg.Height != render.CanvasHeight {
		t.Errorf("canvas = %dx%d, want normalized to %dx%d", cfg.Width, cfg.Height, render.CanvasWidth, render.CanvasHeight)
	}

	again, err := p.ProcessImage(ctx, quote(1))
	if err != nil {
		t.Fatal(err)
	}
	if !again.Cached || !bytes.Equal(again.Data, blob.Data) {
		t.Error("second call should be served from cache")
	}
	if gen.calls.Load() != 1 {
		t.Errorf("Generate called %d times, want 1", gen.calls.Load())
	}
}

func TestProcessImageScaled(t *testing.T) {
	gen := &fakeGenerator{}
	p := newTestProcessor(t, gen)
	ctx := context.Background()

	opts := quote(1)
	opts.Width, opts.Height, opts.Format = 375, 667, "jpg"

	blob, err := p.ProcessImage(ctx, opts)
	if err != nil {
		t.Fatalf("ProcessImage() error: %v", err)
	}
	if blob.ContentType != "image/jpeg" {
		t.Errorf("ContentType = %q, want image/jpeg", blob.ContentType)
	}
	cfg, format, err := image.DecodeConfig(bytes.NewReader(blob.Data))
	if err != nil {
		t.Fatal(err)
	}
	// iPhone SE profile: pixel ratio 2.
	if format != "jpeg" || cfg.Width != 750 || cfg.Height != 1334 {
		t.Errorf("output = %s %dx%d, want jpeg 750x1334", format, cfg.Width, cfg.Height)
	}
	if !blob.Metadata.Optimized || blob.Metadata.DeviceType != scale.DeviceMobile {
		t.Errorf("Metadata = %+v", blob.Metadata)
	}

	if again, _ := p.ProcessImage(ctx, opts); !again.Cached {
		t.Error("same size should be cached")
	}

	other := quote(1)
	other.Width, other.Height, other.Format = 1920, 1080, "webp"
	if _, err := p.ProcessImage(ctx, other); err != nil {
		t.Fatal(err)
	}
	if gen.calls.Load() != 1 {
		t.Errorf("Generate called %d times, want the canvas reused across sizes", gen.calls.Load())
	}

	st := p.Memory().Stats()
	if st.FlatEntries != 1 || st.SizedEntries != 2 {
		t.Errorf("cache stats = %+v, want 1 flat and 2 sized", st)
	}
}

func TestProcessImageRefreshBypassesCache(t *testing.T) {
	gen := &fakeGenerator{}
	p := newTestProcessor(t, gen)
	ctx := context.Background()

	p.ProcessImage(ctx, quote(1))
	opts := quote(1)
	opts.Refresh = true
	blob, err := p.ProcessImage(ctx, opts)
	if err != nil {
		t.Fatal(err)
	}
	if blob.Cached || gen.calls.Load() != 2 {
		t.Errorf("Refresh should re-render, calls = %d", gen.calls.Load())
	}
}

func TestProcessImageValidation(t *testing.T) {
	tests := []struct {
		name string
		mut  func(*ImageOptions)
		code errors.Code
	}{
		{"unsupported format", func(o *ImageOptions) { o.Format = "bmp" }, errors.ErrCodeInvalidFormat},
		{"empty content", func(o *ImageOptions) { o.Content = "  " }, errors.ErrCodeInvalidInput},
		{"negative width", func(o *ImageOptions) { o.Width = -1 }, errors.ErrCodeInvalidInput},
		{"quality out of range", func(o *ImageOptions) { o.Quality = 101 }, errors.ErrCodeInvalidInput},
		{"negative pixel ratio", func(o *ImageOptions) { o.PixelRatio = -2 }, errors.ErrCodeInvalidInput},
		{"bad background", func(o *ImageOptions) { o.BackgroundURL = "ftp://x/y.png" }, errors.ErrCodeInvalidURL},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			gen := &fakeGenerator{}
			p := newTestProcessor(t, gen)
			opts := quote(1)
			tt.mut(&opts)

			_, err := p.ProcessImage(context.Background(), opts)
			if !errors.Is(err, tt.code) {
				t.Errorf("error = %v, want %s", err, tt.code)
			}
			if gen.calls.Load() != 0 {
				t.Error("invalid requests must not reach the renderer")
			}
		})
	}
}

func TestProcessImageSecondTier(t *testing.T) {
	tier, err := cache.NewFileCache(t.TempDir())
	if err != nil {
		t.Fatal(err)
	}
	ctx := context.Background()
	opts := quote(7)
	opts.Width, opts.Height, opts.Format = 500, 500, "png"

	first := newTestProcessor(t, &fakeGenerator{}, WithSecondTier(tier, time.Hour))
	want, err := first.ProcessImage(ctx, opts)
	if err != nil {
		t.Fatal(err)
	}

	gen := &fakeGenerator{}
	second := newTestProcessor(t, gen, WithSecondTier(tier, time.Hour))
	got, err := second.ProcessImage(ctx, opts)
	if err != nil {
		t.Fatal(err)
	}
	if !got.Cached || !bytes.Equal(got.Data, want.Data) {
		t.Error("second processor should be served from the shared tier")
	}
	if gen.calls.Load() != 0 {
		t.Error("tier hit must not render")
	}
	if got.Metadata.Width != want.Metadata.Width || got.Metadata.Format != "png" {
		t.Errorf("recovered metadata = %+v, want %+v", got.Metadata, want.Metadata)
	}
	if !second.Memory().Has(second.keyer.ImageKey(opts.imageKeyOpts()), opts.scaledKeyOpts().Size()) {
		t.Error("tier hit should be promoted into memory")
	}
}

func TestNeedsScaling(t *testing.T) {
	tests := []struct {
		opts ImageOptions
		want bool
	}{
		{ImageOptions{}, false},
		{ImageOptions{Format: "PNG"}, false},
		{ImageOptions{PixelRatio: 1}, false},
		{ImageOptions{Format: "webp"}, true},
		{ImageOptions{Width: 375, Height: 667}, true},
		{ImageOptions{PixelRatio: 2}, true},
	}
	for _, tt := range tests {
		o := tt.opts
		o.SetDefaults()
		if got := o.NeedsScaling(); got != tt.want {
			t.Errorf("NeedsScaling(%+v) = %v, want %v", tt.opts, got, tt.want)
		}
	}
}

func TestContentType(t *testing.T) {
	for format, want := range map[string]string{
		"png": "image/png", "jpg": "image/jpeg", "jpeg": "image/jpeg",
		"gif": "image/gif", "webp": "image/webp",
	} {
		if got := ContentType(format); got != want {
			t.Errorf("ContentType(%q) = %q, want %q", format, got, want)
		}
	}
}

// recorder collects processor events.
type recorder struct {
	observability.NoopProcessorSubscriber
	mu       sync.Mutex
	errs     []observability.TaskErrorEvent
	memory   []observability.MemoryUsageEvent
	cleanups []observability.CleanupEvent
}

func (r *recorder) OnTaskError(e observability.TaskErrorEvent) {
	r.mu.Lock()
	r.errs = append(r.errs, e)
	r.mu.Unlock()
}

func (r *recorder) OnMemoryUsage(e observability.MemoryUsageEvent) {
	r.mu.Lock()
	r.memory = append(r.memory, e)
	r.mu.Unlock()
}

func (r *recorder) OnCleanup(e observability.CleanupEvent) {
	r.mu.Lock()
	r.cleanups = append(r.cleanups, e)
	r.mu.Unlock()
}

func (r *recorder) counts() (int, int, int) {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.errs), len(r.memory), len(r.cleanups)
}

func TestStartDispose(t *testing.T) {
	var samples atomic.Int64
	p := New(&fakeGenerator{}, scale.NewScaler(hosting.Default()), nil,
		WithSampleInterval(5*time.Millisecond),
		WithCleanupInterval(10*time.Millisecond),
		WithMemorySampler(func() uint64 { samples.Add(1); return 1 << 20 }),
	)

	rec := &recorder{}
	p.Subscribe(rec)
	p.Enqueue(quote(1), 0)

	ctx := context.Background()
	p.Start(ctx)
	p.Start(ctx) // no second set of loops

	deadline := time.Now().Add(2 * time.Second)
	for {
		_, mem, clean := rec.counts()
		if mem > 0 && clean > 0 {
			break
		}
		if time.Now().After(deadline) {
			t.Fatalf("loops did not emit events: memory=%d cleanup=%d", mem, clean)
		}
		time.Sleep(5 * time.Millisecond)
	}
	if p.CurrentMemoryUsage() != 1<<20 {
		t.Errorf("CurrentMemoryUsage() = %d", p.CurrentMemoryUsage())
	}

	p.Dispose()
	p.Dispose()

	if p.QueueSize() != 0 {
		t.Error("Dispose should clear the task registry")
	}
	if p.events.Len() != 0 {
		t.Error("Dispose should remove subscribers")
	}
	n := samples.Load()
	time.Sleep(20 * time.Millisecond)
	if samples.Load() != n {
		t.Error("sampler still running after Dispose")
	}

	p.Start(ctx)
	time.Sleep(20 * time.Millisecond)
	if samples.Load() != n {
		t.Error("Start after Dispose must not restart the loops")
	}
}

func TestStats(t *testing.T) {
	p := newTestProcessor(t, &fakeGenerator{})
	ctx := context.Background()

	done := p.Enqueue(quote(1), 0)
	if _, err := p.ProcessTask(ctx, done); err != nil {
		t.Fatal(err)
	}
	p.Enqueue(quote(2), 1)

	st := p.Stats()
	if st.QueueSize != 2 || st.Pending != 1 || st.Completed != 1 {
		t.Errorf("Stats() = %+v", st)
	}
	if st.Cache.FlatEntries != 1 {
		t.Errorf("Stats().Cache = %+v", st.Cache)
	}
}
