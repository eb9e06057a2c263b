// Package cache stores rendered quote images.
//
// Two layers are provided:
//
//   - [Memory] is the process-local, bounded store the processor consults
//     first. It keeps three namespaces (exact key, key×size and
//     backgrounds) under one entry budget and one byte budget.
//   - [Cache] is a byte-level second tier shared between processes or
//     runs: [NullCache], [FileCache] for the CLI and [RedisCache] for
//     servers.
//
// Keys for both layers come from a [Keyer], which hashes request fields
// so keys stay short and safe for any backend.
package cache

import (
	"context"
	"fmt"
	"time"
)

// Cache is a byte-level key/value store with per-entry TTL.
type Cache interface {
	// Get returns the value for key. A miss is (nil, false, nil).
	Get(ctx context.Context, key string) ([]byte, bool, error)

	// Set stores data under key. A zero ttl means no expiry.
	Set(ctx context.Context, key string, data []byte, ttl time.Duration) error

	// Delete removes key. Deleting a missing key is not an error.
	Delete(ctx context.Context, key string) error

	// Close releases backend resources.
	Close() error
}

// Default TTLs for second-tier entries.
const (
	TTLImage      = 24 * time.Hour
	TTLBackground = 6 * time.Hour
)

// ImageKeyOpts are the request fields that determine the rendered image.
type ImageKeyOpts struct {
	Content       string
	Author        string
	SiteName      string
	BackgroundURL string
}

// ScaledKeyOpts are the output parameters of a sized variant.
type ScaledKeyOpts struct {
	Width        int
	Height       int
	Format       string
	Quality      int
	PixelRatio   float64
	PreserveText bool
}

// Size returns the sub-key used for sized variants in [Memory].
func (o ScaledKeyOpts) Size() string {
	return fmt.Sprintf("%dx%d:%s:q%d:pr%g:t%t",
		o.Width, o.Height, o.Format, o.Quality, o.PixelRatio, o.PreserveText)
}

// Keyer builds cache keys.
type Keyer interface {
	// ImageKey identifies the canvas image for a request.
	ImageKey(opts ImageKeyOpts) string

	// ScaledKey identifies a sized variant of an image key.
	ScaledKey(imageKey string, opts ScaledKeyOpts) string

	// BackgroundKey identifies a downloaded background.
	BackgroundKey(url string) string
}

// DefaultKeyer is the standard Keyer.
type DefaultKeyer struct{}

// NewDefaultKeyer returns a DefaultKeyer.
func NewDefaultKeyer() Keyer { return DefaultKeyer{} }

func (DefaultKeyer) ImageKey(opts ImageKeyOpts) string {
	return hashKey("image", opts.Content, opts.Author, opts.SiteName, opts.BackgroundURL)
}

func (DefaultKeyer) ScaledKey(imageKey string, opts ScaledKeyOpts) string {
	return "scaled:" + imageKey + ":" + opts.Size()
}

func (DefaultKeyer) BackgroundKey(url string) string {
	return hashKey("background", url)
}
