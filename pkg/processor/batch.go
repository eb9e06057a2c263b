package processor

import (
	"context"

	"golang.org/x/sync/errgroup"
)

// BatchItem is the outcome of one batch entry.
type BatchItem struct {
	Index  int
	TaskID string
	Data   []byte
	Err    error
}

// BatchResult splits a batch into successes and failures, each in input
// order.
type BatchResult struct {
	Successful []BatchItem
	Failed     []BatchItem
}

// ProcessBatch runs items as tracked tasks in sequential chunks of
// MaxConcurrent. Memory pressure is checked after each chunk.
func (p *Processor) ProcessBatch(ctx context.Context, items []ImageOptions) BatchResult {
	return p.ProcessBatchFunc(ctx, items, nil)
}

// ProcessBatchFunc is ProcessBatch with a callback invoked as each item
// finishes. The callback may run concurrently.
func (p *Processor) ProcessBatchFunc(ctx context.Context, items []ImageOptions, done func(BatchItem)) BatchResult {
	results := make([]BatchItem, len(items))

	for start := 0; start < len(items); start += p.maxConcurrent {
		end := min(start+p.maxConcurrent, len(items))
		p.logger.Debug("Processing chunk", "from", start, "to", end, "total", len(items))

		var g errgroup.Group
		for i := start; i < end; i++ {
			g.Go(func() error {
				task := p.Enqueue(items[i], items[i].Priority)
				data, err := p.ProcessTask(ctx, task)
				results[i] = BatchItem{Index: i, TaskID: task.ID, Data: data, Err: err}
				if done != nil {
					done(results[i])
				}
				return nil
			})
		}
		_ = g.Wait()

		p.CheckMemoryUsage(ctx)
	}

	var out BatchResult
	for _, r := range results {
		if r.Err != nil {
			out.Failed = append(out.Failed, r)
		} else {
			out.Successful = append(out.Successful, r)
		}
	}
	p.logger.Info("Batch finished", "ok", len(out.Successful), "failed", len(out.Failed))
	return out
}
