// Package config loads quotecard's TOML configuration.
//
// Every field has a default, so an absent file is valid. [Load] reads the
// file, applies environment overrides and validates the result:
//
//	QUOTECARD_REDIS_ADDR  overrides cache.redis_addr and selects the redis backend
//	QUOTECARD_MONGO_URI   overrides mongo.uri
package config

import (
	"fmt"
	"image/color"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/BurntSushi/toml"

	"github.com/matzehuels/quotecard/pkg/cache"
	"github.com/matzehuels/quotecard/pkg/errors"
	"github.com/matzehuels/quotecard/pkg/hosting"
	"github.com/matzehuels/quotecard/pkg/processor"
	"github.com/matzehuels/quotecard/pkg/quotes"
	"github.com/matzehuels/quotecard/pkg/scale"
)

const appName = "quotecard"

// Environment overrides.
const (
	EnvRedisAddr = "QUOTECARD_REDIS_ADDR"
	EnvMongoURI  = "QUOTECARD_MONGO_URI"
)

// Cache backends.
const (
	BackendNone  = "none"
	BackendFile  = "file"
	BackendRedis = "redis"
)

// Config is the complete configuration.
type Config struct {
	Render    Render         `toml:"render"`
	Fonts     []Font         `toml:"fonts"`
	Scale     Scale          `toml:"scale"`
	Hosting   hosting.Limits `toml:"hosting"`
	Cache     Cache          `toml:"cache"`
	Processor Processor      `toml:"processor"`
	Server    Server         `toml:"server"`
	Mongo     Mongo          `toml:"mongo"`
	Quotes    []quotes.Quote `toml:"quotes"`
}

// Render holds canvas appearance.
type Render struct {
	GradientTop    string        `toml:"gradient_top"`
	GradientBottom string        `toml:"gradient_bottom"`
	QuoteFamily    string        `toml:"quote_family"`
	AuthorFamily   string        `toml:"author_family"`
	SiteFamily     string        `toml:"site_family"`
	SiteName       string        `toml:"site_name"`
	FetchTimeout   time.Duration `toml:"fetch_timeout"`
}

// Font registers a custom font file under a family name.
type Font struct {
	Family   string `toml:"family"`
	Path     string `toml:"path"`
	Fallback string `toml:"fallback"`
}

// Scale configures the scaler's result cache.
type Scale struct {
	CacheSize int           `toml:"cache_size"`
	CacheTTL  time.Duration `toml:"cache_ttl"`
}

// Cache configures the memory cache and the second tier.
type Cache struct {
	Backend       string        `toml:"backend"`
	Dir           string        `toml:"dir"`
	TTL           time.Duration `toml:"ttl"`
	MaxAge        time.Duration `toml:"max_age"`
	MaxEntries    int           `toml:"max_entries"`
	MaxSize       int64         `toml:"max_size"`
	SweepInterval time.Duration `toml:"sweep_interval"`
	RedisAddr     string        `toml:"redis_addr"`
	RedisURL      string        `toml:"redis_url"`
	RedisPassword string        `toml:"redis_password"`
	RedisDB       int           `toml:"redis_db"`
	Prefix        string        `toml:"prefix"`
}

// Processor mirrors the processor options.
type Processor struct {
	MaxConcurrent     int           `toml:"max_concurrent"`
	MaxRetries        int           `toml:"max_retries"`
	RetryDelay        time.Duration `toml:"retry_delay"`
	MaxMemory         uint64        `toml:"max_memory"`
	MemoryThreshold   float64       `toml:"memory_threshold"`
	MemoryWaitTimeout time.Duration `toml:"memory_wait_timeout"`
	SampleInterval    time.Duration `toml:"sample_interval"`
	CleanupInterval   time.Duration `toml:"cleanup_interval"`
}

// Server configures the HTTP server.
type Server struct {
	Addr         string        `toml:"addr"`
	ReadTimeout  time.Duration `toml:"read_timeout"`
	WriteTimeout time.Duration `toml:"write_timeout"`
	CacheControl string        `toml:"cache_control"`
}

// Mongo configures the quote store. An empty URI uses the quotes listed in
// the configuration instead.
type Mongo struct {
	URI        string `toml:"uri"`
	Database   string `toml:"database"`
	Collection string `toml:"collection"`
}

// Default returns the built-in configuration.
func Default() Config {
	return Config{
		Render: Render{
			GradientTop:    "#1a1a2e",
			GradientBottom: "#16213e",
			FetchTimeout:   10 * time.Second,
		},
		Scale: Scale{
			CacheSize: scale.DefaultCacheSize,
			CacheTTL:  scale.DefaultCacheTTL,
		},
		Hosting: hosting.Default(),
		Cache: Cache{
			Backend:       BackendFile,
			TTL:           cache.TTLImage,
			MaxAge:        cache.DefaultMaxAge,
			MaxEntries:    cache.DefaultMaxEntries,
			MaxSize:       cache.DefaultMaxSize,
			SweepInterval: cache.DefaultSweepInterval,
			Prefix:        appName + ":",
		},
		Processor: Processor{
			MaxConcurrent:     processor.DefaultMaxConcurrent,
			MaxRetries:        processor.DefaultMaxRetries,
			RetryDelay:        processor.DefaultRetryDelay,
			MaxMemory:         processor.DefaultMaxMemory,
			MemoryThreshold:   processor.DefaultMemoryThreshold,
			MemoryWaitTimeout: processor.DefaultMemoryWaitTimeout,
			SampleInterval:    processor.DefaultSampleInterval,
			CleanupInterval:   processor.DefaultCleanupInterval,
		},
		Server: Server{
			Addr:         ":8080",
			ReadTimeout:  15 * time.Second,
			WriteTimeout: 60 * time.Second,
			CacheControl: "public, max-age=86400",
		},
		Mongo: Mongo{
			Database:   quotes.DefaultDatabase,
			Collection: quotes.DefaultCollection,
		},
	}
}

// DefaultPath returns $XDG_CONFIG_HOME/quotecard/config.toml, falling back
// to ~/.config.
func DefaultPath() (string, error) {
	if dir := os.Getenv("XDG_CONFIG_HOME"); dir != "" {
		return filepath.Join(dir, appName, "config.toml"), nil
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return "", err
	}
	return filepath.Join(home, ".config", appName, "config.toml"), nil
}

// Load reads path over the defaults. An empty path means DefaultPath, which
// may be missing; an explicit path must exist. Unknown keys are an error.
func Load(path string) (Config, error) {
	cfg := Default()

	explicit := path != ""
	if !explicit {
		p, err := DefaultPath()
		if err != nil {
			return Config{}, fmt.Errorf("config path: %w", err)
		}
		path = p
	}

	if _, err := os.Stat(path); err == nil {
		md, err := toml.DecodeFile(path, &cfg)
		if err != nil {
			return Config{}, fmt.Errorf("parse %s: %w", path, err)
		}
		if undecoded := md.Undecoded(); len(undecoded) > 0 {
			keys := make([]string, len(undecoded))
			for i, k := range undecoded {
				keys[i] = k.String()
			}
			return Config{}, fmt.Errorf("parse %s: unknown keys: %s", path, strings.Join(keys, ", "))
		}
	} else if explicit || !os.IsNotExist(err) {
		return Config{}, fmt.Errorf("read config: %w", err)
	}

	cfg.ApplyEnv(os.Getenv)
	if err := cfg.Validate(); err != nil {
		return Config{}, fmt.Errorf("%s: %w", path, err)
	}
	return cfg, nil
}

// ApplyEnv applies environment overrides read through getenv.
func (c *Config) ApplyEnv(getenv func(string) string) {
	if v := getenv(EnvRedisAddr); v != "" {
		c.Cache.RedisAddr = v
		c.Cache.Backend = BackendRedis
	}
	if v := getenv(EnvMongoURI); v != "" {
		c.Mongo.URI = v
	}
}

// Validate checks value ranges and cross-field constraints.
func (c Config) Validate() error {
	invalid := func(format string, args ...any) error {
		return errors.New(errors.ErrCodeInvalidInput, format, args...)
	}

	if _, err := ParseColor(c.Render.GradientTop); err != nil {
		return err
	}
	if _, err := ParseColor(c.Render.GradientBottom); err != nil {
		return err
	}
	for i, f := range c.Fonts {
		if f.Family == "" || f.Path == "" {
			return invalid("fonts[%d]: family and path are required", i)
		}
	}

	if c.Hosting.MaxFileSize <= 0 {
		return invalid("hosting.max_file_size must be positive")
	}
	if len(c.Hosting.AllFormats()) == 0 {
		return invalid("hosting.allowed_formats is empty")
	}

	switch c.Cache.Backend {
	case BackendNone, BackendFile:
	case BackendRedis:
		if c.Cache.RedisAddr == "" && c.Cache.RedisURL == "" {
			return invalid("cache.backend redis needs redis_addr or redis_url")
		}
		if strings.TrimSpace(c.Cache.Prefix) == "" {
			return invalid("cache.prefix cannot be empty with the redis backend")
		}
	default:
		return invalid("cache.backend %q: want none, file or redis", c.Cache.Backend)
	}
	if c.Cache.MaxEntries < 0 || c.Cache.MaxSize < 0 {
		return invalid("cache limits cannot be negative")
	}

	p := c.Processor
	if p.MaxConcurrent < 1 {
		return invalid("processor.max_concurrent must be at least 1")
	}
	if p.MaxRetries < 0 {
		return invalid("processor.max_retries cannot be negative")
	}
	if p.MemoryThreshold <= 0 || p.MemoryThreshold > 1 {
		return invalid("processor.memory_threshold must be in (0, 1]")
	}

	for i, q := range c.Quotes {
		if q.Slug == "" {
			q.Slug = quotes.Slugify(q.Author)
		}
		if err := q.Validate(); err != nil {
			return fmt.Errorf("quotes[%d]: %w", i, err)
		}
	}
	return nil
}

// ParseColor parses #rgb, #rrggbb or #rrggbbaa.
func ParseColor(s string) (color.RGBA, error) {
	h := strings.TrimPrefix(strings.TrimSpace(s), "#")
	if len(h) == 3 {
		h = string([]byte{h[0], h[0], h[1], h[1], h[2], h[2]})
	}
	if len(h) == 6 {
		h += "ff"
	}
	if len(h) != 8 {
		return color.RGBA{}, errors.New(errors.ErrCodeInvalidInput, "invalid color %q", s)
	}
	v, err := strconv.ParseUint(h, 16, 32)
	if err != nil {
		return color.RGBA{}, errors.Wrap(errors.ErrCodeInvalidInput, err, "invalid color %q", s)
	}
	return color.RGBA{R: uint8(v >> 24), G: uint8(v >> 16), B: uint8(v >> 8), A: uint8(v)}, nil
}
