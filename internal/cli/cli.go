// Package cli implements the quotecard command-line interface.
package cli

import (
	"cmp"
	"context"
	"fmt"
	"io"
	"os"
	"path/filepath"

	"github.com/charmbracelet/log"
	"github.com/spf13/cobra"

	"github.com/matzehuels/quotecard/pkg/buildinfo"
	"github.com/matzehuels/quotecard/pkg/cache"
	"github.com/matzehuels/quotecard/pkg/config"
	"github.com/matzehuels/quotecard/pkg/fonts"
	"github.com/matzehuels/quotecard/pkg/processor"
	"github.com/matzehuels/quotecard/pkg/render"
	"github.com/matzehuels/quotecard/pkg/scale"
)

// =============================================================================
// Constants
// =============================================================================

const (
	// appName is the application name used for directories and display.
	appName = "quotecard"
)

// Log levels exported for use in main.go.
const (
	LogDebug = log.DebugLevel
	LogInfo  = log.InfoLevel
)

// =============================================================================
// CLI - Central CLI State
// =============================================================================

// CLI holds shared state for all commands.
type CLI struct {
	Logger *log.Logger

	configPath string
	config     config.Config
}

// New creates a new CLI instance with a default logger.
func New(w io.Writer, level log.Level) *CLI {
	return &CLI{
		Logger: newLogger(w, level),
		config: config.Default(),
	}
}

// SetLogLevel updates the logger's level.
func (c *CLI) SetLogLevel(level log.Level) {
	c.Logger.SetLevel(level)
}

// RootCommand creates the root cobra command with all subcommands registered.
func (c *CLI) RootCommand() *cobra.Command {
	root := &cobra.Command{
		Use:          appName,
		Short:        "Quotecard renders quotes as device-sized images",
		Long:         `Quotecard renders quotes onto a 1080x1080 canvas and scales the result for phones, tablets and desktops. It runs as a one-shot CLI or as an HTTP server.`,
		Version:      buildinfo.Version,
		SilenceUsage: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			cmd.SetContext(withLogger(cmd.Context(), c.Logger))
			return c.loadConfig()
		},
	}

	root.SetVersionTemplate(buildinfo.Template())
	root.PersistentFlags().StringVar(&c.configPath, "config", "", "config file (default $XDG_CONFIG_HOME/quotecard/config.toml)")

	root.AddCommand(c.renderCommand())
	root.AddCommand(c.scaleCommand())
	root.AddCommand(c.batchCommand())
	root.AddCommand(c.serveCommand())
	root.AddCommand(c.breakpointsCommand())
	root.AddCommand(c.cacheCommand())
	root.AddCommand(c.completionCommand())

	return root
}

func (c *CLI) loadConfig() error {
	cfg, err := config.Load(c.configPath)
	if err != nil {
		return err
	}
	c.config = cfg
	return nil
}

// =============================================================================
// Processor Factory
// =============================================================================

// stack is the wired rendering pipeline for one command invocation.
type stack struct {
	proc   *processor.Processor
	tier   cache.Cache
	logger *log.Logger
}

// Close disposes the processor and releases the second tier.
func (s *stack) Close() {
	if s.proc != nil {
		s.proc.Dispose()
	}
	closeTier(s.logger, s.tier)
}

func closeTier(l *log.Logger, tier cache.Cache) {
	if err := tier.Close(); err != nil {
		l.Warn("close cache", "err", err)
	}
}

// newStack builds renderer, scaler and processor from the loaded config.
// noCache swaps the second tier for a NullCache.
func (c *CLI) newStack(ctx context.Context, noCache bool) (*stack, error) {
	cfg := c.config
	if c.Logger.GetLevel() <= log.DebugLevel {
		registerDebugHooks(c.Logger)
	}

	tier, err := c.newTier(ctx, noCache)
	if err != nil {
		return nil, err
	}

	reg, err := fonts.NewRegistry(c.Logger)
	if err != nil {
		closeTier(c.Logger, tier)
		return nil, fmt.Errorf("load fonts: %w", err)
	}
	for _, f := range cfg.Fonts {
		reg.Register(ctx, f.Family, f.Path, cmp.Or(f.Fallback, fonts.FamilyRegular))
	}
	if err := reg.EnsureReady(ctx); err != nil {
		closeTier(c.Logger, tier)
		return nil, err
	}

	top, err := config.ParseColor(cfg.Render.GradientTop)
	if err != nil {
		closeTier(c.Logger, tier)
		return nil, err
	}
	bottom, err := config.ParseColor(cfg.Render.GradientBottom)
	if err != nil {
		closeTier(c.Logger, tier)
		return nil, err
	}

	mem := cache.NewMemory(cache.MemoryOptions{
		MaxAge:        cfg.Cache.MaxAge,
		MaxEntries:    cfg.Cache.MaxEntries,
		MaxSize:       cfg.Cache.MaxSize,
		SweepInterval: cfg.Cache.SweepInterval,
		Logger:        c.Logger,
	})

	fetcher := render.NewHTTPBackgroundLoader()
	if cfg.Render.FetchTimeout > 0 {
		fetcher.Client.Timeout = cfg.Render.FetchTimeout
	}
	backgrounds := processor.NewBackgroundCache(fetcher, mem, tier)
	backgrounds.Logger = c.Logger

	renderer := render.NewRenderer(
		render.WithFonts(reg),
		render.WithLogger(c.Logger),
		render.WithGradient(top, bottom),
		render.WithFamilies(
			cmp.Or(cfg.Render.QuoteFamily, fonts.FamilyRegular),
			cmp.Or(cfg.Render.AuthorFamily, fonts.FamilyItalic),
			cmp.Or(cfg.Render.SiteFamily, fonts.FamilyRegular),
		),
		render.WithBackgroundLoader(backgrounds),
	)

	scaler := scale.NewScaler(cfg.Hosting,
		scale.WithCacheSize(cfg.Scale.CacheSize),
		scale.WithCacheTTL(cfg.Scale.CacheTTL),
		scale.WithLogger(c.Logger),
	)

	p := cfg.Processor
	proc := processor.New(renderer, scaler, mem,
		processor.WithMaxConcurrent(p.MaxConcurrent),
		processor.WithMaxRetries(p.MaxRetries),
		processor.WithRetryDelay(p.RetryDelay),
		processor.WithMaxMemory(p.MaxMemory),
		processor.WithMemoryThreshold(p.MemoryThreshold),
		processor.WithMemoryWaitTimeout(p.MemoryWaitTimeout),
		processor.WithSampleInterval(p.SampleInterval),
		processor.WithCleanupInterval(p.CleanupInterval),
		processor.WithSecondTier(tier, cfg.Cache.TTL),
		processor.WithKeyer(cache.NewScopedKeyer(nil, "acct:"+cfg.Hosting.CloudName+":")),
		processor.WithLogger(c.Logger),
	)

	return &stack{proc: proc, tier: tier, logger: c.Logger}, nil
}

// newTier opens the configured second-tier cache.
func (c *CLI) newTier(ctx context.Context, noCache bool) (cache.Cache, error) {
	cc := c.config.Cache
	if noCache {
		return cache.NewNullCache(), nil
	}
	switch cc.Backend {
	case config.BackendRedis:
		rc, err := cache.NewRedisCache(ctx, cache.RedisOptions{
			Addr:     cc.RedisAddr,
			URL:      cc.RedisURL,
			Password: cc.RedisPassword,
			DB:       cc.RedisDB,
			Prefix:   cc.Prefix,
		})
		if err != nil {
			return nil, fmt.Errorf("connect redis: %w", err)
		}
		return rc, nil
	case config.BackendFile:
		dir, err := c.cacheDir()
		if err != nil {
			c.Logger.Warn("no cache directory, caching disabled", "err", err)
			return cache.NewNullCache(), nil
		}
		return cache.NewFileCache(dir)
	default:
		return cache.NewNullCache(), nil
	}
}

// =============================================================================
// Paths
// =============================================================================

// cacheDir returns cache.dir from the config or the XDG cache directory
// (~/.cache/quotecard/).
func (c *CLI) cacheDir() (string, error) {
	if c.config.Cache.Dir != "" {
		return c.config.Cache.Dir, nil
	}
	if cacheHome := os.Getenv("XDG_CACHE_HOME"); cacheHome != "" {
		return filepath.Join(cacheHome, appName), nil
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return "", err
	}
	return filepath.Join(home, ".cache", appName), nil
}
