package processor

import (
	"context"
	"runtime"
	"time"

	"github.com/matzehuels/quotecard/pkg/observability"
)

// HeapSampler returns the bytes of allocated heap objects.
func HeapSampler() uint64 {
	var m runtime.MemStats
	runtime.ReadMemStats(&m)
	return m.HeapAlloc
}

// CurrentMemoryUsage returns the last sampled memory usage.
func (p *Processor) CurrentMemoryUsage() uint64 { return p.memUsage.Load() }

// ActiveProcessing returns the number of in-flight ProcessImage calls.
func (p *Processor) ActiveProcessing() int64 { return p.active.Load() }

func (p *Processor) sampleMemory() uint64 {
	v := p.sampler()
	p.memUsage.Store(v)
	var pct float64
	if p.maxMemory > 0 {
		pct = float64(v) / float64(p.maxMemory) * 100
	}
	p.events.MemoryUsage(observability.MemoryUsageEvent{
		Current:    v,
		Max:        p.maxMemory,
		Percentage: pct,
	})
	return v
}

func (p *Processor) underThreshold(v uint64) bool {
	return float64(v) < p.memoryThreshold*float64(p.maxMemory)
}

// CheckMemoryUsage blocks while memory usage is at or above the threshold,
// polling every 100ms. It reports whether usage dropped below the threshold.
// When the wait timeout passes or ctx ends it logs a warning and returns
// false so callers proceed anyway.
func (p *Processor) CheckMemoryUsage(ctx context.Context) bool {
	v := p.sampleMemory()
	if p.underThreshold(v) {
		return true
	}

	p.logger.Debug("Waiting for memory", "usage", v, "max", p.maxMemory)
	deadline := time.NewTimer(p.memoryWaitTimeout)
	defer deadline.Stop()
	tick := time.NewTicker(memoryPollInterval)
	defer tick.Stop()

	for {
		select {
		case <-ctx.Done():
			return false
		case <-deadline.C:
			p.logger.Warn("Memory still above threshold, proceeding",
				"usage", p.CurrentMemoryUsage(), "max", p.maxMemory, "waited", p.memoryWaitTimeout)
			return false
		case <-tick.C:
			if p.underThreshold(p.sampleMemory()) {
				return true
			}
		}
	}
}
