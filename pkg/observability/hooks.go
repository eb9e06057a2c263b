// Package observability carries instrumentation out of the pipeline
// without tying it to a metrics or tracing backend.
//
// Two kinds of listener exist. Process-wide hooks ([RenderHooks] and
// [CacheHooks]) are installed once with SetRenderHooks and SetCacheHooks and
// called from the renderer, the scaler and the caches:
//
//	observability.Render().OnRenderStart(ctx, "scale")
//	observability.Render().OnRenderComplete(ctx, "scale", len(out), time.Since(start), err)
//
// Processor events are scoped to one processor. A [ProcessorSubscriber]
// registered through Processor.Subscribe only sees task errors, memory
// samples and cleanup runs of that processor.
package observability

import (
	"context"
	"sync/atomic"
	"time"
)

// =============================================================================
// Render Hooks
// =============================================================================

// RenderHooks receives events from the renderer and scaler.
type RenderHooks interface {
	// OnRenderStart records the start of a rendering stage ("generate", "scale", "normalize").
	OnRenderStart(ctx context.Context, stage string)

	// OnRenderComplete records the end of a rendering stage with the output size.
	OnRenderComplete(ctx context.Context, stage string, bytes int, duration time.Duration, err error)

	// OnBackgroundFallback records that a background image could not be used.
	OnBackgroundFallback(ctx context.Context, url string, err error)
}

// =============================================================================
// Cache Hooks
// =============================================================================

// CacheHooks receives lookups and writes of the memory cache and the
// scaler cache.
// Namespace is "flat", "sized", "background" or "scaled".
type CacheHooks interface {
	OnCacheHit(ctx context.Context, namespace string)
	OnCacheMiss(ctx context.Context, namespace string)
	OnCacheSet(ctx context.Context, namespace string, size int)

	// OnCacheEvict records an eviction and its reason ("count", "size", "expired").
	OnCacheEvict(ctx context.Context, namespace string, reason string, size int)
}

// =============================================================================
// No-op
// =============================================================================

// NoopRenderHooks ignores every event.
type NoopRenderHooks struct{}

func (NoopRenderHooks) OnRenderStart(context.Context, string)                               {}
func (NoopRenderHooks) OnRenderComplete(context.Context, string, int, time.Duration, error) {}
func (NoopRenderHooks) OnBackgroundFallback(context.Context, string, error)                 {}

// NoopCacheHooks ignores every event.
type NoopCacheHooks struct{}

func (NoopCacheHooks) OnCacheHit(context.Context, string)                {}
func (NoopCacheHooks) OnCacheMiss(context.Context, string)               {}
func (NoopCacheHooks) OnCacheSet(context.Context, string, int)           {}
func (NoopCacheHooks) OnCacheEvict(context.Context, string, string, int) {}

// =============================================================================
// Registry
// =============================================================================

type registry struct {
	render RenderHooks
	cache  CacheHooks
}

var hooks atomic.Pointer[registry]

func init() { Reset() }

func update(fn func(r *registry)) {
	for {
		old := hooks.Load()
		next := *old
		fn(&next)
		if hooks.CompareAndSwap(old, &next) {
			return
		}
	}
}

// SetRenderHooks installs h. A nil h is ignored.
func SetRenderHooks(h RenderHooks) {
	if h == nil {
		return
	}
	update(func(r *registry) { r.render = h })
}

// SetCacheHooks installs h. A nil h is ignored.
func SetCacheHooks(h CacheHooks) {
	if h == nil {
		return
	}
	update(func(r *registry) { r.cache = h })
}

// Render returns the installed render hooks.
func Render() RenderHooks { return hooks.Load().render }

// Cache returns the installed cache hooks.
func Cache() CacheHooks { return hooks.Load().cache }

// Reset reinstalls the no-op hooks.
func Reset() {
	hooks.Store(&registry{render: NoopRenderHooks{}, cache: NoopCacheHooks{}})
}
