package quotes

import (
	"context"
	"slices"
	"strings"
	"sync"

	"github.com/google/uuid"
)

// MemorySource keeps quotes in a map. It is safe for concurrent use.
type MemorySource struct {
	mu     sync.RWMutex
	quotes map[string]Quote
}

// NewMemorySource returns a source holding qs. Quotes without an ID get one,
// quotes without a slug are slugged from their author.
func NewMemorySource(qs ...Quote) (*MemorySource, error) {
	s := &MemorySource{quotes: make(map[string]Quote, len(qs))}
	for _, q := range qs {
		if q.Slug == "" {
			q.Slug = Slugify(q.Author)
		}
		if err := s.Put(context.Background(), q); err != nil {
			return nil, err
		}
	}
	return s, nil
}

func (s *MemorySource) Get(ctx context.Context, slug string) (*Quote, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	q, ok := s.quotes[slug]
	if !ok {
		return nil, notFound(slug)
	}
	return &q, nil
}

func (s *MemorySource) List(ctx context.Context, limit int) ([]Quote, error) {
	s.mu.RLock()
	out := make([]Quote, 0, len(s.quotes))
	for _, q := range s.quotes {
		out = append(out, q)
	}
	s.mu.RUnlock()

	slices.SortFunc(out, func(a, b Quote) int { return strings.Compare(a.Slug, b.Slug) })
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (s *MemorySource) Put(ctx context.Context, q Quote) error {
	if err := q.Validate(); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if q.ID == "" {
		if old, ok := s.quotes[q.Slug]; ok {
			q.ID = old.ID
		} else {
			q.ID = uuid.NewString()
		}
	}
	s.quotes[q.Slug] = q
	return nil
}

func (s *MemorySource) Close() error { return nil }
