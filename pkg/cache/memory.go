package cache

import (
	"cmp"
	"context"
	"io"
	"slices"
	"sync"
	"time"

	"github.com/charmbracelet/log"

	"github.com/matzehuels/quotecard/pkg/observability"
)

// Memory defaults.
const (
	DefaultMaxAge        = time.Hour
	DefaultMaxEntries    = 100
	DefaultMaxSize       = 100 << 20
	DefaultSweepInterval = 15 * time.Minute
)

// Hook namespaces for the three Memory stores.
const (
	NamespaceFlat       = "flat"
	NamespaceSized      = "sized"
	NamespaceBackground = "background"
)

// Eviction reasons reported to hooks.
const (
	EvictCount   = "count"
	EvictSize    = "size"
	EvictExpired = "expired"
)

// Metadata describes a cached image.
type Metadata struct {
	Width      int     `json:"width"`
	Height     int     `json:"height"`
	Format     string  `json:"format"`
	Quality    int     `json:"quality"`
	Size       int     `json:"size"`
	Optimized  bool    `json:"optimized"`
	DeviceType string  `json:"device_type,omitempty"`
	PixelRatio float64 `json:"pixel_ratio,omitempty"`
}

// Entry is a cached image. Buffer is shared and must not be modified.
type Entry struct {
	Buffer    []byte
	URL       string
	Timestamp time.Time
	Metadata  Metadata

	seq uint64 // insertion order, breaks timestamp ties
}

// MemoryOptions configures a Memory cache. Zero fields take the defaults.
type MemoryOptions struct {
	MaxAge        time.Duration
	MaxEntries    int
	MaxSize       int64
	SweepInterval time.Duration
	Clock         func() time.Time
	Logger        *log.Logger
}

// MemoryStats is a snapshot of a Memory cache.
type MemoryStats struct {
	Entries           int    `json:"entries"`
	FlatEntries       int    `json:"flat_entries"`
	SizedEntries      int    `json:"sized_entries"`
	BackgroundEntries int    `json:"background_entries"`
	Bytes             int64  `json:"bytes"`
	MaxEntries        int    `json:"max_entries"`
	MaxSize           int64  `json:"max_size"`
	Hits              uint64 `json:"hits"`
	Misses            uint64 `json:"misses"`
	Evictions         uint64 `json:"evictions"`
}

// Memory is a bounded in-process image cache with three namespaces: exact
// keys, key×size variants and backgrounds. All namespaces share one entry
// budget and one byte budget. Memory is safe for concurrent use.
type Memory struct {
	maxAge        time.Duration
	maxEntries    int
	maxSize       int64
	sweepInterval time.Duration
	now           func() time.Time
	logger        *log.Logger

	mu          sync.Mutex
	flat        map[string]*Entry
	sized       map[string]map[string]*Entry
	backgrounds map[string]*Entry
	count       int
	bytes       int64
	seq         uint64
	hits        uint64
	misses      uint64
	evictions   uint64

	loopMu sync.Mutex
	cancel context.CancelFunc
	done   chan struct{}
}

// NewMemory creates a Memory cache. Call Start to enable periodic sweeps.
func NewMemory(opts MemoryOptions) *Memory {
	m := &Memory{
		maxAge:        cmp.Or(opts.MaxAge, DefaultMaxAge),
		maxEntries:    cmp.Or(opts.MaxEntries, DefaultMaxEntries),
		maxSize:       cmp.Or(opts.MaxSize, DefaultMaxSize),
		sweepInterval: cmp.Or(opts.SweepInterval, DefaultSweepInterval),
		now:           opts.Clock,
		logger:        opts.Logger,
		flat:          make(map[string]*Entry),
		sized:         make(map[string]map[string]*Entry),
		backgrounds:   make(map[string]*Entry),
	}
	if m.now == nil {
		m.now = time.Now
	}
	if m.logger == nil {
		m.logger = log.NewWithOptions(io.Discard, log.Options{})
	}
	return m
}

// ===== Flat and sized namespaces =====

// Get returns the entry for key, or for the key×size variant when size is
// given. Expired entries are removed and reported as a miss.
func (m *Memory) Get(key string, size ...string) (*Entry, bool) {
	ns := namespaceFor(size)

	m.mu.Lock()
	e, ok := m.lookup(key, size)
	if ok && !m.valid(e) {
		m.remove(key, size)
		m.evictions++
		ok = false
	}
	if ok {
		m.hits++
	} else {
		m.misses++
	}
	m.mu.Unlock()

	hooks := observability.Cache()
	if ok {
		hooks.OnCacheHit(context.Background(), ns)
		return e, true
	}
	hooks.OnCacheMiss(context.Background(), ns)
	return nil, false
}

// Set stores buf under key (or the key×size variant) and then enforces the
// entry and byte budgets.
func (m *Memory) Set(key string, buf []byte, meta Metadata, size ...string) {
	m.mu.Lock()
	m.remove(key, size)
	e := m.newEntry(key, buf, meta)
	if len(size) == 0 {
		m.flat[key] = e
	} else {
		variants := m.sized[key]
		if variants == nil {
			variants = make(map[string]*Entry)
			m.sized[key] = variants
		}
		variants[size[0]] = e
	}
	m.add(e)
	evicted := m.enforce()
	m.mu.Unlock()

	m.report(namespaceFor(size), len(buf), evicted)
}

// Has reports whether a valid entry exists for key (or key×size).
func (m *Memory) Has(key string, size ...string) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	e, ok := m.lookup(key, size)
	if ok && !m.valid(e) {
		m.remove(key, size)
		m.evictions++
		return false
	}
	return ok
}

// Delete removes the key×size variant when size is given; otherwise it
// removes the flat entry and every sized variant of key. It reports whether
// anything was removed.
func (m *Memory) Delete(key string, size ...string) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	if len(size) > 0 {
		return m.remove(key, size)
	}
	removed := m.remove(key, nil)
	for s := range m.sized[key] {
		removed = m.remove(key, []string{s}) || removed
	}
	return removed
}

// ===== Background namespace =====

// SetBackground stores a downloaded background image.
func (m *Memory) SetBackground(url string, buf []byte, meta Metadata) {
	m.mu.Lock()
	if old, ok := m.backgrounds[url]; ok {
		m.sub(old)
		delete(m.backgrounds, url)
	}
	e := m.newEntry(url, buf, meta)
	m.backgrounds[url] = e
	m.add(e)
	evicted := m.enforce()
	m.mu.Unlock()

	m.report(NamespaceBackground, len(buf), evicted)
}

// GetBackground returns a cached background image.
func (m *Memory) GetBackground(url string) (*Entry, bool) {
	m.mu.Lock()
	e, ok := m.backgrounds[url]
	if ok && !m.valid(e) {
		m.sub(e)
		delete(m.backgrounds, url)
		m.evictions++
		ok = false
	}
	if ok {
		m.hits++
	} else {
		m.misses++
	}
	m.mu.Unlock()

	if ok {
		observability.Cache().OnCacheHit(context.Background(), NamespaceBackground)
		return e, true
	}
	observability.Cache().OnCacheMiss(context.Background(), NamespaceBackground)
	return nil, false
}

// ===== Maintenance =====

// Clear removes every entry and resets the counters.
func (m *Memory) Clear() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.flat = make(map[string]*Entry)
	m.sized = make(map[string]map[string]*Entry)
	m.backgrounds = make(map[string]*Entry)
	m.count, m.bytes = 0, 0
	m.hits, m.misses, m.evictions = 0, 0, 0
}

// Stats returns a snapshot of the cache.
func (m *Memory) Stats() MemoryStats {
	m.mu.Lock()
	defer m.mu.Unlock()
	st := MemoryStats{
		Entries:           m.count,
		FlatEntries:       len(m.flat),
		BackgroundEntries: len(m.backgrounds),
		Bytes:             m.bytes,
		MaxEntries:        m.maxEntries,
		MaxSize:           m.maxSize,
		Hits:              m.hits,
		Misses:            m.misses,
		Evictions:         m.evictions,
	}
	for _, variants := range m.sized {
		st.SizedEntries += len(variants)
	}
	return st
}

// Sweep removes every expired entry and returns how many were removed.
func (m *Memory) Sweep() int {
	m.mu.Lock()
	var expired []ref
	for _, r := range m.refs() {
		if !m.valid(r.entry) {
			m.removeRef(r)
			expired = append(expired, r)
		}
	}
	m.evictions += uint64(len(expired))
	m.mu.Unlock()

	hooks := observability.Cache()
	for _, r := range expired {
		hooks.OnCacheEvict(context.Background(), r.namespace(), EvictExpired, len(r.entry.Buffer))
	}
	if len(expired) > 0 {
		m.logger.Debug("swept expired cache entries", "count", len(expired))
	}
	return len(expired)
}

// Start runs Sweep every sweep interval until ctx is done or Stop is
// called. Calling Start on a running cache does nothing.
func (m *Memory) Start(ctx context.Context) {
	m.loopMu.Lock()
	defer m.loopMu.Unlock()
	if m.cancel != nil {
		return
	}
	ctx, m.cancel = context.WithCancel(ctx)
	m.done = make(chan struct{})

	go func(done chan struct{}) {
		defer close(done)
		ticker := time.NewTicker(m.sweepInterval)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				m.Sweep()
			}
		}
	}(m.done)
}

// Stop ends the sweep loop and waits for it to exit. It is idempotent.
func (m *Memory) Stop() {
	m.loopMu.Lock()
	defer m.loopMu.Unlock()
	if m.cancel == nil {
		return
	}
	m.cancel()
	<-m.done
	m.cancel, m.done = nil, nil
}

// ===== Internals (callers hold mu) =====

// ref locates an entry in one of the namespaces.
type ref struct {
	key   string
	size  string // empty for flat entries
	bg    bool
	entry *Entry
}

func (r ref) namespace() string {
	switch {
	case r.bg:
		return NamespaceBackground
	case r.size != "":
		return NamespaceSized
	default:
		return NamespaceFlat
	}
}

func namespaceFor(size []string) string {
	if len(size) > 0 {
		return NamespaceSized
	}
	return NamespaceFlat
}

func (m *Memory) newEntry(url string, buf []byte, meta Metadata) *Entry {
	m.seq++
	meta.Size = len(buf)
	return &Entry{Buffer: buf, URL: url, Timestamp: m.now(), Metadata: meta, seq: m.seq}
}

func (m *Memory) valid(e *Entry) bool {
	return m.now().Sub(e.Timestamp) < m.maxAge
}

func (m *Memory) add(e *Entry) {
	m.count++
	m.bytes += int64(len(e.Buffer))
}

func (m *Memory) sub(e *Entry) {
	m.count--
	m.bytes -= int64(len(e.Buffer))
}

func (m *Memory) lookup(key string, size []string) (*Entry, bool) {
	if len(size) == 0 {
		e, ok := m.flat[key]
		return e, ok
	}
	e, ok := m.sized[key][size[0]]
	return e, ok
}

func (m *Memory) remove(key string, size []string) bool {
	if len(size) == 0 {
		e, ok := m.flat[key]
		if ok {
			m.sub(e)
			delete(m.flat, key)
		}
		return ok
	}
	variants := m.sized[key]
	e, ok := variants[size[0]]
	if !ok {
		return false
	}
	m.sub(e)
	delete(variants, size[0])
	if len(variants) == 0 {
		delete(m.sized, key)
	}
	return true
}

func (m *Memory) removeRef(r ref) {
	switch {
	case r.bg:
		m.sub(r.entry)
		delete(m.backgrounds, r.key)
	case r.size != "":
		m.remove(r.key, []string{r.size})
	default:
		m.remove(r.key, nil)
	}
}

func (m *Memory) refs() []ref {
	out := make([]ref, 0, m.count)
	for k, e := range m.flat {
		out = append(out, ref{key: k, entry: e})
	}
	for k, variants := range m.sized {
		for s, e := range variants {
			out = append(out, ref{key: k, size: s, entry: e})
		}
	}
	for k, e := range m.backgrounds {
		out = append(out, ref{key: k, bg: true, entry: e})
	}
	return out
}

// eviction is one entry removed by enforce.
type eviction struct {
	namespace string
	reason    string
	size      int
}

// enforce evicts oldest entries while over the entry budget, then largest
// entries while over the byte budget.
func (m *Memory) enforce() []eviction {
	var out []eviction

	if m.count > m.maxEntries {
		refs := m.refs()
		slices.SortFunc(refs, func(a, b ref) int {
			if c := a.entry.Timestamp.Compare(b.entry.Timestamp); c != 0 {
				return c
			}
			return cmp.Compare(a.entry.seq, b.entry.seq)
		})
		for _, r := range refs {
			if m.count <= m.maxEntries {
				break
			}
			m.removeRef(r)
			out = append(out, eviction{r.namespace(), EvictCount, len(r.entry.Buffer)})
		}
	}

	if m.bytes > m.maxSize {
		refs := m.refs()
		slices.SortFunc(refs, func(a, b ref) int {
			if c := cmp.Compare(len(b.entry.Buffer), len(a.entry.Buffer)); c != 0 {
				return c
			}
			return cmp.Compare(a.entry.seq, b.entry.seq)
		})
		for _, r := range refs {
			if m.bytes <= m.maxSize {
				break
			}
			m.removeRef(r)
			out = append(out, eviction{r.namespace(), EvictSize, len(r.entry.Buffer)})
		}
	}

	m.evictions += uint64(len(out))
	return out
}

func (m *Memory) report(ns string, size int, evicted []eviction) {
	hooks := observability.Cache()
	ctx := context.Background()
	hooks.OnCacheSet(ctx, ns, size)
	for _, ev := range evicted {
		hooks.OnCacheEvict(ctx, ev.namespace, ev.reason, ev.size)
	}
	if len(evicted) > 0 {
		m.logger.Debug("evicted cache entries", "count", len(evicted))
	}
}
