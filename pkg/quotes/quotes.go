// Package quotes looks up the quotes that cards are rendered from.
//
// A [Source] resolves a quote by slug. [MemorySource] serves a fixed set
// (seeded from configuration or tests) and [MongoSource] reads a MongoDB
// collection. Lookups that find nothing return a QUOTE_NOT_FOUND error.
package quotes

import (
	"context"
	"strings"
	"unicode"

	"github.com/matzehuels/quotecard/pkg/errors"
	"github.com/matzehuels/quotecard/pkg/render"
)

// Quote is a stored quote.
type Quote struct {
	ID            string `json:"id" bson:"_id" toml:"id"`
	Slug          string `json:"slug" bson:"slug" toml:"slug"`
	Content       string `json:"content" bson:"content" toml:"content"`
	Author        string `json:"author" bson:"author" toml:"author"`
	BackgroundURL string `json:"background_url,omitempty" bson:"background_url,omitempty" toml:"background_url"`
}

// Validate checks the quote's text fields and slug.
func (q Quote) Validate() error {
	if q.Slug == "" || q.Slug != Slugify(q.Slug) {
		return errors.New(errors.ErrCodeInvalidInput, "invalid slug %q", q.Slug)
	}
	if err := errors.ValidateText("content", q.Content, errors.MaxContentLength); err != nil {
		return err
	}
	if err := errors.ValidateText("author", q.Author, render.MaxAuthorLength); err != nil {
		return err
	}
	if q.BackgroundURL != "" {
		return errors.ValidateURL(q.BackgroundURL)
	}
	return nil
}

// Source resolves quotes.
type Source interface {
	// Get returns the quote with slug, or a QUOTE_NOT_FOUND error.
	Get(ctx context.Context, slug string) (*Quote, error)

	// List returns up to limit quotes ordered by slug. A limit <= 0 means all.
	List(ctx context.Context, limit int) ([]Quote, error)

	// Put inserts or replaces a quote by slug.
	Put(ctx context.Context, q Quote) error

	// Close releases backend resources.
	Close() error
}

func notFound(slug string) error {
	return errors.New(errors.ErrCodeQuoteNotFound, "quote %q not found", slug)
}

// Slugify lowercases s and collapses every run of non-alphanumeric runes
// into a single dash.
func Slugify(s string) string {
	var b strings.Builder
	dash := false
	for _, r := range strings.ToLower(s) {
		if unicode.IsLetter(r) || unicode.IsDigit(r) {
			if dash && b.Len() > 0 {
				b.WriteByte('-')
			}
			b.WriteRune(r)
			dash = false
			continue
		}
		dash = true
	}
	return b.String()
}
