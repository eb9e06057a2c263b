package cli

import (
	"context"
	"time"

	"github.com/charmbracelet/log"

	"github.com/matzehuels/quotecard/pkg/observability"
)

// debugHooks logs render and cache events at debug level.
type debugHooks struct {
	logger *log.Logger
}

func registerDebugHooks(l *log.Logger) {
	h := &debugHooks{logger: l}
	observability.SetRenderHooks(h)
	observability.SetCacheHooks(h)
}

func (h *debugHooks) OnRenderStart(_ context.Context, stage string) {
	h.logger.Debug("render start", "stage", stage)
}

func (h *debugHooks) OnRenderComplete(_ context.Context, stage string, bytes int, d time.Duration, err error) {
	if err != nil {
		h.logger.Debug("render failed", "stage", stage, "took", d.Round(time.Millisecond), "err", err)
		return
	}
	h.logger.Debug("render done", "stage", stage, "size", formatBytes(int64(bytes)), "took", d.Round(time.Millisecond))
}

func (h *debugHooks) OnBackgroundFallback(_ context.Context, url string, err error) {
	h.logger.Warn("background unavailable, using gradient", "url", url, "err", err)
}

func (h *debugHooks) OnCacheHit(_ context.Context, ns string)  { h.logger.Debug("cache hit", "ns", ns) }
func (h *debugHooks) OnCacheMiss(_ context.Context, ns string) { h.logger.Debug("cache miss", "ns", ns) }

func (h *debugHooks) OnCacheSet(_ context.Context, ns string, size int) {
	h.logger.Debug("cache set", "ns", ns, "size", formatBytes(int64(size)))
}

func (h *debugHooks) OnCacheEvict(_ context.Context, ns, reason string, size int) {
	h.logger.Debug("cache evict", "ns", ns, "reason", reason, "size", formatBytes(int64(size)))
}
