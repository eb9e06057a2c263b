package processor

import (
	"bytes"
	"context"
	"image"
	"io"
	"time"

	"github.com/charmbracelet/log"

	"github.com/matzehuels/quotecard/pkg/cache"
	"github.com/matzehuels/quotecard/pkg/errors"
	"github.com/matzehuels/quotecard/pkg/render"
)

// Fetcher downloads raw background bytes.
type Fetcher interface {
	Fetch(ctx context.Context, url string) ([]byte, error)
}

// BackgroundCache is a render.BackgroundLoader that keeps downloaded
// backgrounds in the memory cache's background namespace and, when set, in
// a second tier.
type BackgroundCache struct {
	Fetcher Fetcher
	Memory  *cache.Memory
	Tier    cache.Cache // optional
	TTL     time.Duration
	Keyer   cache.Keyer
	Logger  *log.Logger
}

// NewBackgroundCache wraps f with caching. tier may be nil.
func NewBackgroundCache(f Fetcher, mem *cache.Memory, tier cache.Cache) *BackgroundCache {
	if tier == nil {
		tier = cache.NullCache{}
	}
	return &BackgroundCache{
		Fetcher: f,
		Memory:  mem,
		Tier:    tier,
		TTL:     cache.TTLBackground,
		Keyer:   cache.NewDefaultKeyer(),
		Logger:  log.NewWithOptions(io.Discard, log.Options{}),
	}
}

var _ render.BackgroundLoader = (*BackgroundCache)(nil)

// Load implements render.BackgroundLoader.
func (b *BackgroundCache) Load(ctx context.Context, url string) (image.Image, error) {
	if err := errors.ValidateURL(url); err != nil {
		return nil, err
	}
	data, err := b.bytes(ctx, url)
	if err != nil {
		return nil, err
	}
	return render.DecodeBackground(data)
}

func (b *BackgroundCache) bytes(ctx context.Context, url string) ([]byte, error) {
	if e, ok := b.Memory.GetBackground(url); ok {
		return e.Buffer, nil
	}

	key := b.Keyer.BackgroundKey(url)
	if data, hit, err := b.Tier.Get(ctx, key); err != nil {
		b.Logger.Warn("Background cache read failed", "url", url, "err", err)
	} else if hit {
		b.Memory.SetBackground(url, data, metadataOf(data))
		return data, nil
	}

	data, err := b.Fetcher.Fetch(ctx, url)
	if err != nil {
		return nil, err
	}
	b.Memory.SetBackground(url, data, metadataOf(data))
	if err := b.Tier.Set(ctx, key, data, b.TTL); err != nil {
		b.Logger.Warn("Background cache write failed", "url", url, "err", err)
	}
	return data, nil
}

func metadataOf(data []byte) cache.Metadata {
	meta := cache.Metadata{Size: len(data)}
	if cfg, format, err := image.DecodeConfig(bytes.NewReader(data)); err == nil {
		meta.Width, meta.Height, meta.Format = cfg.Width, cfg.Height, format
	}
	return meta
}
