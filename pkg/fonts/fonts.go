// Package fonts provides font faces for quote rendering.
//
// The Go font family (golang.org/x/image/font/gofont) is embedded into the
// binary and always available. Custom TrueType fonts can be registered by
// family name; registration runs in the background and rendering never waits
// for it. Callers that want the custom font on the very first render call
// [Registry.EnsureReady] before rendering.
package fonts

import (
	"context"
	"fmt"
	"os"
	"sync"

	"github.com/charmbracelet/log"
	"github.com/golang/freetype/truetype"
	"golang.org/x/image/font"
	"golang.org/x/image/font/gofont/gobold"
	"golang.org/x/image/font/gofont/goitalic"
	"golang.org/x/image/font/gofont/goregular"
)

// Fallback family names, always resolvable.
const (
	FamilyRegular = "Go"
	FamilyBold    = "Go Bold"
	FamilyItalic  = "Go Italic"
)

// Parsed embedded fonts (computed once on first access).
var (
	embedded     map[string]*truetype.Font
	embeddedErr  error
	embeddedOnce sync.Once
)

func loadEmbedded() (map[string]*truetype.Font, error) {
	embeddedOnce.Do(func() {
		embedded = make(map[string]*truetype.Font, 3)
		for family, ttf := range map[string][]byte{
			FamilyRegular: goregular.TTF,
			FamilyBold:    gobold.TTF,
			FamilyItalic:  goitalic.TTF,
		} {
			f, err := truetype.Parse(ttf)
			if err != nil {
				embeddedErr = fmt.Errorf("parse embedded font %s: %w", family, err)
				return
			}
			embedded[family] = f
		}
	})
	return embedded, embeddedErr
}

// Registry resolves family names to font faces.
// It is safe for concurrent use.
type Registry struct {
	mu       sync.RWMutex
	custom   map[string]*truetype.Font
	failed   map[string]error
	fallback map[string]string // custom family -> embedded family
	pending  sync.WaitGroup
	logger   *log.Logger
}

// NewRegistry creates a registry backed by the embedded Go fonts.
func NewRegistry(logger *log.Logger) (*Registry, error) {
	if _, err := loadEmbedded(); err != nil {
		return nil, err
	}
	if logger == nil {
		logger = log.Default()
	}
	return &Registry{
		custom:   make(map[string]*truetype.Font),
		failed:   make(map[string]error),
		fallback: make(map[string]string),
		logger:   logger,
	}, nil
}

// Register loads the TrueType file at path under family in the background.
// fallbackFamily is used until (and unless) the load succeeds.
func (r *Registry) Register(ctx context.Context, family, path, fallbackFamily string) {
	r.mu.Lock()
	r.fallback[family] = fallbackFamily
	r.mu.Unlock()

	r.pending.Add(1)
	go func() {
		defer r.pending.Done()
		if ctx.Err() != nil {
			r.markFailed(family, ctx.Err())
			return
		}
		data, err := os.ReadFile(path)
		if err != nil {
			r.markFailed(family, err)
			return
		}
		if err := r.RegisterBytes(family, data); err != nil {
			r.markFailed(family, err)
		}
	}()
}

// RegisterBytes parses ttf synchronously and registers it under family.
func (r *Registry) RegisterBytes(family string, ttf []byte) error {
	f, err := truetype.Parse(ttf)
	if err != nil {
		return fmt.Errorf("parse font %s: %w", family, err)
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	r.custom[family] = f
	delete(r.failed, family)
	r.logger.Debug("registered font", "family", family)
	return nil
}

func (r *Registry) markFailed(family string, err error) {
	r.mu.Lock()
	r.failed[family] = err
	r.mu.Unlock()
	r.logger.Warn("font registration failed, using fallback", "family", family, "err", err)
}

// EnsureReady blocks until every pending registration finished or ctx is done.
func (r *Registry) EnsureReady(ctx context.Context) error {
	done := make(chan struct{})
	go func() {
		r.pending.Wait()
		close(done)
	}()
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Loaded reports whether family resolved to a registered custom font.
func (r *Registry) Loaded(family string) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	_, ok := r.custom[family]
	return ok
}

// Err returns the registration error for family, if any.
func (r *Registry) Err(family string) error {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.failed[family]
}

// Face returns a new face for family at size points (72 DPI, so points are pixels).
// Unknown or not-yet-loaded families resolve to their fallback, and finally
// to FamilyRegular. Faces are not safe for concurrent use; callers get a
// fresh one per call.
func (r *Registry) Face(family string, size float64) font.Face {
	return truetype.NewFace(r.resolve(family), &truetype.Options{
		Size:    size,
		DPI:     72,
		Hinting: font.HintingNone,
	})
}

func (r *Registry) resolve(family string) *truetype.Font {
	emb, _ := loadEmbedded()

	r.mu.RLock()
	defer r.mu.RUnlock()
	if f, ok := r.custom[family]; ok {
		return f
	}
	if f, ok := emb[family]; ok {
		return f
	}
	if fb, ok := r.fallback[family]; ok {
		if f, ok := r.custom[fb]; ok {
			return f
		}
		if f, ok := emb[fb]; ok {
			return f
		}
	}
	return emb[FamilyRegular]
}
