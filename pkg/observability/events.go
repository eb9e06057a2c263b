package observability

import "sync"

// TaskErrorEvent is emitted when a tracked task exhausts its retries.
type TaskErrorEvent struct {
	TaskID  string
	Error   string
	Retries int
}

// MemoryUsageEvent is emitted on every memory sample.
type MemoryUsageEvent struct {
	Current    uint64  // sampled heap bytes
	Max        uint64  // configured ceiling
	Percentage float64 // Current/Max*100
}

// CleanupEvent is emitted after each periodic cleanup run.
type CleanupEvent struct {
	QueueSize        int
	ActiveProcessing int64
	MemoryUsage      uint64
}

// ProcessorSubscriber receives processor events. Implementations must not
// block; they are called synchronously from processor goroutines.
type ProcessorSubscriber interface {
	OnTaskError(TaskErrorEvent)
	OnMemoryUsage(MemoryUsageEvent)
	OnCleanup(CleanupEvent)
}

// NoopProcessorSubscriber is a no-op implementation of ProcessorSubscriber.
// Embed it to implement only the events you care about.
type NoopProcessorSubscriber struct{}

func (NoopProcessorSubscriber) OnTaskError(TaskErrorEvent)     {}
func (NoopProcessorSubscriber) OnMemoryUsage(MemoryUsageEvent) {}
func (NoopProcessorSubscriber) OnCleanup(CleanupEvent)         {}

// Broadcaster fans processor events out to registered subscribers.
// The zero value is ready to use.
type Broadcaster struct {
	mu     sync.RWMutex
	nextID int
	subs   map[int]ProcessorSubscriber
}

// Subscribe registers s and returns a function that removes it again.
func (b *Broadcaster) Subscribe(s ProcessorSubscriber) (unsubscribe func()) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.subs == nil {
		b.subs = make(map[int]ProcessorSubscriber)
	}
	id := b.nextID
	b.nextID++
	b.subs[id] = s

	var once sync.Once
	return func() {
		once.Do(func() {
			b.mu.Lock()
			delete(b.subs, id)
			b.mu.Unlock()
		})
	}
}

// Len returns the number of registered subscribers.
func (b *Broadcaster) Len() int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return len(b.subs)
}

// RemoveAll drops every subscriber.
func (b *Broadcaster) RemoveAll() {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.subs = nil
}

// TaskError delivers e to all subscribers.
func (b *Broadcaster) TaskError(e TaskErrorEvent) {
	for _, s := range b.snapshot() {
		s.OnTaskError(e)
	}
}

// MemoryUsage delivers e to all subscribers.
func (b *Broadcaster) MemoryUsage(e MemoryUsageEvent) {
	for _, s := range b.snapshot() {
		s.OnMemoryUsage(e)
	}
}

// Cleanup delivers e to all subscribers.
func (b *Broadcaster) Cleanup(e CleanupEvent) {
	for _, s := range b.snapshot() {
		s.OnCleanup(e)
	}
}

func (b *Broadcaster) snapshot() []ProcessorSubscriber {
	b.mu.RLock()
	defer b.mu.RUnlock()
	out := make([]ProcessorSubscriber, 0, len(b.subs))
	for _, s := range b.subs {
		out = append(out, s)
	}
	return out
}
