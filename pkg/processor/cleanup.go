package processor

import (
	"runtime"

	"github.com/matzehuels/quotecard/pkg/observability"
)

// Cleanup drops finished tasks, sweeps expired cache entries, runs the
// garbage collector and emits a cleanup event. Start runs it periodically.
func (p *Processor) Cleanup() {
	tasks := p.ClearCompletedTasks()
	swept := p.mem.Sweep()
	runtime.GC()
	usage := p.sampleMemory()

	p.logger.Debug("Cleanup", "tasks", tasks, "swept", swept, "memory", usage)
	p.events.Cleanup(observability.CleanupEvent{
		QueueSize:        p.QueueSize(),
		ActiveProcessing: p.ActiveProcessing(),
		MemoryUsage:      usage,
	})
}
