package cache

import (
	"bytes"
	"context"
	"fmt"
	"sync"
	"testing"
	"time"
)

// fakeClock is a settable clock for expiry tests.
type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func newFakeClock() *fakeClock {
	return &fakeClock{now: time.Date(2024, 1, 1, 12, 0, 0, 0, time.UTC)}
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	c.now = c.now.Add(d)
	c.mu.Unlock()
}

func TestMemoryRoundTrip(t *testing.T) {
	m := NewMemory(MemoryOptions{})
	buf := []byte("png bytes")

	m.Set("k", buf, Metadata{Width: 1080, Height: 1080, Format: "png"})

	e, ok := m.Get("k")
	if !ok {
		t.Fatal("Get() miss after Set")
	}
	if !bytes.Equal(e.Buffer, buf) {
		t.Errorf("Get() buffer = %q, want %q", e.Buffer, buf)
	}
	if e.Metadata.Size != len(buf) {
		t.Errorf("Metadata.Size = %d, want %d", e.Metadata.Size, len(buf))
	}
	if !m.Has("k") {
		t.Error("Has() = false after Set")
	}
}

func TestMemoryNamespacesAreIndependent(t *testing.T) {
	m := NewMemory(MemoryOptions{})

	m.Set("k", []byte("flat"), Metadata{})
	m.Set("k", []byte("small"), Metadata{}, "375x667")
	m.SetBackground("k", []byte("bg"), Metadata{})

	if e, _ := m.Get("k"); string(e.Buffer) != "flat" {
		t.Errorf("flat = %q", e.Buffer)
	}
	if e, _ := m.Get("k", "375x667"); string(e.Buffer) != "small" {
		t.Errorf("sized = %q", e.Buffer)
	}
	if e, _ := m.GetBackground("k"); string(e.Buffer) != "bg" {
		t.Errorf("background = %q", e.Buffer)
	}
	if _, ok := m.Get("k", "1920x1080"); ok {
		t.Error("unknown size should miss")
	}

	st := m.Stats()
	if st.Entries != 3 || st.FlatEntries != 1 || st.SizedEntries != 1 || st.BackgroundEntries != 1 {
		t.Errorf("Stats() = %+v", st)
	}
	if st.Bytes != int64(len("flat")+len("small")+len("bg")) {
		t.Errorf("Stats().Bytes = %d", st.Bytes)
	}
}

func TestMemoryExpiry(t *testing.T) {
	clock := newFakeClock()
	m := NewMemory(MemoryOptions{MaxAge: time.Hour, Clock: clock.Now})

	m.Set("k", []byte("x"), Metadata{})
	m.SetBackground("bg", []byte("y"), Metadata{})

	clock.Advance(59 * time.Minute)
	if _, ok := m.Get("k"); !ok {
		t.Fatal("entry should still be valid before MaxAge")
	}

	clock.Advance(time.Minute)
	if _, ok := m.Get("k"); ok {
		t.Error("entry should expire at MaxAge")
	}
	if _, ok := m.GetBackground("bg"); ok {
		t.Error("background should expire at MaxAge")
	}
	if st := m.Stats(); st.Entries != 0 || st.Bytes != 0 {
		t.Errorf("expired entries should be removed lazily, Stats() = %+v", st)
	}
}

func TestMemorySweep(t *testing.T) {
	clock := newFakeClock()
	m := NewMemory(MemoryOptions{MaxAge: time.Hour, Clock: clock.Now})

	m.Set("old", []byte("a"), Metadata{})
	m.Set("old", []byte("b"), Metadata{}, "1x1")
	clock.Advance(30 * time.Minute)
	m.Set("new", []byte("c"), Metadata{})
	clock.Advance(45 * time.Minute)

	if n := m.Sweep(); n != 2 {
		t.Errorf("Sweep() = %d, want 2", n)
	}
	if !m.Has("new") {
		t.Error("fresh entry should survive Sweep")
	}
	if st := m.Stats(); st.Entries != 1 || st.Bytes != 1 {
		t.Errorf("Stats() after Sweep = %+v", st)
	}
}

func TestMemoryCountEviction(t *testing.T) {
	const maxEntries = 10
	clock := newFakeClock()
	m := NewMemory(MemoryOptions{MaxEntries: maxEntries, Clock: clock.Now})

	for i := 0; i < maxEntries+5; i++ {
		m.Set(fmt.Sprintf("k%d", i), []byte("x"), Metadata{})
		clock.Advance(time.Second)
	}

	st := m.Stats()
	if st.Entries > maxEntries {
		t.Errorf("Entries = %d, want <= %d", st.Entries, maxEntries)
	}
	// The oldest five are gone, the newest remain.
	for i := 0; i < 5; i++ {
		if m.Has(fmt.Sprintf("k%d", i)) {
			t.Errorf("k%d should have been evicted", i)
		}
	}
	if !m.Has(fmt.Sprintf("k%d", maxEntries+4)) {
		t.Error("newest entry should survive")
	}
}

func TestMemoryCountEvictionSpansNamespaces(t *testing.T) {
	clock := newFakeClock()
	m := NewMemory(MemoryOptions{MaxEntries: 2, Clock: clock.Now})

	m.SetBackground("bg", []byte("x"), Metadata{})
	clock.Advance(time.Second)
	m.Set("k", []byte("x"), Metadata{}, "1x1")
	clock.Advance(time.Second)
	m.Set("k", []byte("x"), Metadata{})

	if _, ok := m.GetBackground("bg"); ok {
		t.Error("oldest entry (background) should be evicted")
	}
	if m.Stats().Entries != 2 {
		t.Errorf("Entries = %d, want 2", m.Stats().Entries)
	}
}

func TestMemorySizeEviction(t *testing.T) {
	const maxSize = 1000
	m := NewMemory(MemoryOptions{MaxSize: maxSize})

	m.Set("small1", make([]byte, 100), Metadata{})
	m.Set("big", make([]byte, 600), Metadata{})
	m.Set("small2", make([]byte, 200), Metadata{})
	m.Set("medium", make([]byte, 300), Metadata{}) // total 1200

	st := m.Stats()
	if st.Bytes > maxSize {
		t.Errorf("Bytes = %d, want <= %d", st.Bytes, maxSize)
	}
	if m.Has("big") {
		t.Error("largest entry should be evicted first")
	}
	for _, k := range []string{"small1", "small2", "medium"} {
		if !m.Has(k) {
			t.Errorf("%s should survive", k)
		}
	}
}

func TestMemoryOverwriteAdjustsSize(t *testing.T) {
	m := NewMemory(MemoryOptions{})
	m.Set("k", make([]byte, 100), Metadata{})
	m.Set("k", make([]byte, 40), Metadata{})

	if st := m.Stats(); st.Entries != 1 || st.Bytes != 40 {
		t.Errorf("Stats() after overwrite = %+v, want 1 entry, 40 bytes", st)
	}
}

func TestMemoryDelete(t *testing.T) {
	m := NewMemory(MemoryOptions{})
	m.Set("k", []byte("a"), Metadata{})
	m.Set("k", []byte("b"), Metadata{}, "s1")
	m.Set("k", []byte("c"), Metadata{}, "s2")

	if !m.Delete("k", "s1") {
		t.Error("Delete(k, s1) = false")
	}
	if m.Has("k", "s1") || !m.Has("k", "s2") {
		t.Error("Delete with size should remove only that variant")
	}

	if !m.Delete("k") {
		t.Error("Delete(k) = false")
	}
	if st := m.Stats(); st.Entries != 0 || st.Bytes != 0 {
		t.Errorf("Delete(k) should remove all variants, Stats() = %+v", st)
	}
	if m.Delete("missing") {
		t.Error("Delete(missing) = true")
	}
}

func TestMemoryClear(t *testing.T) {
	m := NewMemory(MemoryOptions{})
	m.Set("a", []byte("1"), Metadata{})
	m.SetBackground("b", []byte("2"), Metadata{})
	m.Clear()

	if st := m.Stats(); st.Entries != 0 || st.Bytes != 0 {
		t.Errorf("Stats() after Clear = %+v", st)
	}
}

func TestMemoryHitMissCounters(t *testing.T) {
	m := NewMemory(MemoryOptions{})
	m.Set("a", []byte("1"), Metadata{})
	m.Get("a")
	m.Get("b")
	m.GetBackground("c")

	st := m.Stats()
	if st.Hits != 1 || st.Misses != 2 {
		t.Errorf("Hits, Misses = %d, %d, want 1, 2", st.Hits, st.Misses)
	}
}

func TestMemoryStartStop(t *testing.T) {
	clock := newFakeClock()
	m := NewMemory(MemoryOptions{
		MaxAge:        time.Minute,
		SweepInterval: 5 * time.Millisecond,
		Clock:         clock.Now,
	})
	m.Set("k", []byte("x"), Metadata{})
	clock.Advance(2 * time.Minute)

	m.Start(context.Background())
	m.Start(context.Background()) // no second loop

	deadline := time.Now().Add(2 * time.Second)
	for m.Stats().Entries != 0 {
		if time.Now().After(deadline) {
			t.Fatal("periodic sweep did not remove the expired entry")
		}
		time.Sleep(5 * time.Millisecond)
	}

	m.Stop()
	m.Stop() // idempotent
}

func TestMemoryConcurrentAccess(t *testing.T) {
	m := NewMemory(MemoryOptions{MaxEntries: 20, MaxSize: 2000})

	var wg sync.WaitGroup
	for g := 0; g < 8; g++ {
		wg.Add(1)
		go func(g int) {
			defer wg.Done()
			for i := 0; i < 100; i++ {
				key := fmt.Sprintf("k%d", i%30)
				m.Set(key, make([]byte, 50), Metadata{}, fmt.Sprintf("s%d", g%3))
				m.Get(key)
				m.SetBackground(key, make([]byte, 10), Metadata{})
			}
		}(g)
	}
	wg.Wait()

	st := m.Stats()
	if st.Entries > 20 || st.Bytes > 2000 {
		t.Errorf("budgets exceeded under concurrency: %+v", st)
	}
	if st.Entries != st.FlatEntries+st.SizedEntries+st.BackgroundEntries {
		t.Errorf("entry count drifted: %+v", st)
	}
}
