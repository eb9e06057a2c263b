package processor

import (
	"context"
	"time"

	"github.com/google/uuid"

	"github.com/matzehuels/quotecard/pkg/errors"
	"github.com/matzehuels/quotecard/pkg/observability"
)

// Status is the lifecycle state of a task.
type Status string

const (
	StatusPending    Status = "pending"
	StatusProcessing Status = "processing"
	StatusCompleted  Status = "completed"
	StatusFailed     Status = "failed"
)

// Terminal reports whether s is completed or failed.
func (s Status) Terminal() bool { return s == StatusCompleted || s == StatusFailed }

// Task is a tracked request.
type Task struct {
	ID          string       `json:"id"`
	Status      Status       `json:"status"`
	Progress    int          `json:"progress"`
	Retries     int          `json:"retries"`
	Err         string       `json:"error,omitempty"` // safe for callers, see errors.UserMessage
	StartTime   time.Time    `json:"start_time"`
	EndTime     time.Time    `json:"end_time,omitzero"`
	MemoryUsage uint64       `json:"memory_usage"`
	Priority    int          `json:"priority"`
	Options     ImageOptions `json:"options"`
}

// Duration is the time between start and end, or zero while running.
func (t Task) Duration() time.Duration {
	if t.EndTime.IsZero() {
		return 0
	}
	return t.EndTime.Sub(t.StartTime)
}

// Enqueue registers a pending task and returns a copy of it.
func (p *Processor) Enqueue(opts ImageOptions, priority int) *Task {
	t := &Task{
		ID:        uuid.NewString(),
		Status:    StatusPending,
		StartTime: time.Now(),
		Priority:  priority,
		Options:   opts,
	}
	p.mu.Lock()
	p.tasks[t.ID] = t
	p.mu.Unlock()

	cp := *t
	return &cp
}

// Task returns a copy of the task with id.
func (p *Processor) Task(id string) (Task, bool) {
	p.mu.Lock()
	defer p.mu.Unlock()
	t, ok := p.tasks[id]
	if !ok {
		return Task{}, false
	}
	return *t, true
}

// UpdateProgress sets a task's progress, clamped to 0..100.
func (p *Processor) UpdateProgress(id string, progress int) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	t, ok := p.tasks[id]
	if !ok {
		return errors.New(errors.ErrCodeTaskNotFound, "task %s not found", id)
	}
	t.Progress = min(max(progress, 0), 100)
	return nil
}

// TaskResult returns the image of a completed task. It stays available
// until the task is cleared.
func (p *Processor) TaskResult(id string) (*Blob, bool) {
	p.mu.Lock()
	defer p.mu.Unlock()
	b, ok := p.results[id]
	if !ok {
		return nil, false
	}
	cp := *b
	return &cp, true
}

// ClearCompletedTasks removes completed and failed tasks, along with their
// results, and returns how many were removed.
func (p *Processor) ClearCompletedTasks() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	n := 0
	for id, t := range p.tasks {
		if t.Status.Terminal() {
			delete(p.tasks, id)
			delete(p.results, id)
			n++
		}
	}
	return n
}

// QueueSize returns the number of registered tasks.
func (p *Processor) QueueSize() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.tasks)
}

// ProcessTask runs a registered task. Transient failures are retried up to
// the configured limit: the task goes back to pending and waits
// RetryDelay*2^(n-1) before retry n. Client errors fail at once. On
// exhaustion the task is marked failed, a task error event is emitted and a
// PROCESSING_FAILED error is returned. The image of a completed task is
// kept for TaskResult.
func (p *Processor) ProcessTask(ctx context.Context, task *Task) ([]byte, error) {
	if task == nil {
		return nil, errors.New(errors.ErrCodeInvalidInput, "task is nil")
	}
	opts, err := p.begin(task.ID, true)
	if err != nil {
		return nil, err
	}
	if err := ctx.Err(); err != nil {
		p.finish(task.ID, StatusFailed, err)
		return nil, err
	}

	for {
		blob, err := p.ProcessImage(ctx, opts)
		if err == nil {
			p.complete(task.ID, blob)
			return blob.Data, nil
		}

		if errors.IsClientError(err) || ctx.Err() != nil {
			p.finish(task.ID, StatusFailed, err)
			return nil, err
		}

		retries, ok := p.nextRetry(task.ID)
		if !ok {
			p.finish(task.ID, StatusFailed, err)
			p.logger.Error("Task failed", "task", task.ID, "retries", retries, "err", err)
			p.events.TaskError(observability.TaskErrorEvent{
				TaskID:  task.ID,
				Error:   err.Error(),
				Retries: retries,
			})
			return nil, errors.Wrap(errors.ErrCodeProcessingFailed, err,
				"task %s failed after %d retries", task.ID, retries)
		}

		delay := p.retryDelay * time.Duration(1<<(retries-1))
		p.logger.Warn("Retrying task", "task", task.ID, "retry", retries, "delay", delay, "err", err)
		if err := sleep(ctx, delay); err != nil {
			p.finish(task.ID, StatusFailed, err)
			return nil, err
		}
		if _, err := p.begin(task.ID, false); err != nil {
			return nil, err
		}
	}
}

// begin moves a task to processing. The first attempt also resets its start
// time and progress.
func (p *Processor) begin(id string, first bool) (ImageOptions, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	t, ok := p.tasks[id]
	if !ok {
		return ImageOptions{}, errors.New(errors.ErrCodeTaskNotFound, "task %s not found", id)
	}
	t.Status = StatusProcessing
	if first {
		t.StartTime = time.Now()
		t.Progress = 0
	}
	return t.Options, nil
}

func (p *Processor) complete(id string, blob *Blob) {
	p.mu.Lock()
	if _, ok := p.tasks[id]; ok {
		p.results[id] = &Blob{Data: blob.Data, ContentType: blob.ContentType, Metadata: blob.Metadata, Cached: true}
	}
	p.mu.Unlock()
	p.finish(id, StatusCompleted, nil)
}

// nextRetry bumps the retry counter and puts the task back to pending. It
// reports false, leaving the task unchanged, once the limit is reached.
func (p *Processor) nextRetry(id string) (int, bool) {
	p.mu.Lock()
	defer p.mu.Unlock()
	t, ok := p.tasks[id]
	if !ok {
		return 0, false
	}
	if t.Retries >= p.maxRetries {
		return t.Retries, false
	}
	t.Retries++
	t.Status = StatusPending
	return t.Retries, true
}

func (p *Processor) finish(id string, status Status, err error) {
	usage := p.CurrentMemoryUsage()
	p.mu.Lock()
	defer p.mu.Unlock()
	t, ok := p.tasks[id]
	if !ok {
		return
	}
	t.Status = status
	t.EndTime = time.Now()
	t.MemoryUsage = usage
	if err != nil {
		t.Err = errors.UserMessage(err)
	} else {
		t.Progress = 100
	}
}

func sleep(ctx context.Context, d time.Duration) error {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}
