package cli

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/matzehuels/quotecard/pkg/observability"
	"github.com/matzehuels/quotecard/pkg/quotes"
	"github.com/matzehuels/quotecard/pkg/server"
)

// serveCommand creates the serve command for running the HTTP server.
func (c *CLI) serveCommand() *cobra.Command {
	var addr string

	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Serve quote images over HTTP",
		Long: `Start the HTTP server.

Quotes come from MongoDB when mongo.uri (or QUOTECARD_MONGO_URI) is set,
otherwise from the [[quotes]] entries of the config file.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return c.runServe(cmd.Context(), addr)
		},
	}

	cmd.Flags().StringVar(&addr, "addr", "", "listen address (default server.addr)")

	return cmd
}

func (c *CLI) runServe(ctx context.Context, addr string) error {
	cfg := c.config

	src, err := c.newQuoteSource(ctx)
	if err != nil {
		return err
	}
	defer src.Close()

	st, err := c.newStack(ctx, false)
	if err != nil {
		return err
	}
	defer st.Close()

	st.proc.Start(ctx)
	st.proc.Memory().Start(ctx)
	defer st.proc.Memory().Stop()
	unsubscribe := st.proc.Subscribe(&logSubscriber{c: c})
	defer unsubscribe()

	srv := server.New(st.proc, src,
		server.WithSiteName(cfg.Render.SiteName),
		server.WithCacheControl(cfg.Server.CacheControl),
		server.WithTaskConcurrency(cfg.Processor.MaxConcurrent),
		server.WithLogger(c.Logger),
	)

	if addr == "" {
		addr = cfg.Server.Addr
	}
	printInfo("Listening on %s", StyleLink.Render("http://"+displayAddr(addr)))
	printKeyValue("Cache", cfg.Cache.Backend)
	printKeyValue("Quotes", quoteSourceName(cfg.Mongo.URI))
	printNextStep("Try", fmt.Sprintf("curl -o card.png http://%s/render -d '{\"content\":\"Hi\",\"author\":\"Me\"}'", displayAddr(addr)))

	return srv.ListenAndServe(ctx, server.Config{
		Addr:         addr,
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
	})
}

// newQuoteSource opens MongoDB when configured and falls back to the
// configured quote list.
func (c *CLI) newQuoteSource(ctx context.Context) (quotes.Source, error) {
	m := c.config.Mongo
	if m.URI == "" {
		return quotes.NewMemorySource(c.config.Quotes...)
	}

	spinner := newSpinnerWithContext(ctx, "Connecting to MongoDB...")
	spinner.Start()
	src, err := quotes.NewMongoSource(ctx, quotes.MongoOptions{
		URI:        m.URI,
		Database:   m.Database,
		Collection: m.Collection,
		Logger:     c.Logger,
	})
	if err != nil {
		spinner.StopWithError("MongoDB unavailable")
		return nil, err
	}
	spinner.Stop()

	// Seed configured quotes so a fresh database serves something.
	for _, q := range c.config.Quotes {
		if q.Slug == "" {
			q.Slug = quotes.Slugify(q.Author)
		}
		if err := src.Put(ctx, q); err != nil {
			src.Close()
			return nil, fmt.Errorf("seed quote %q: %w", q.Slug, err)
		}
	}
	return src, nil
}

func quoteSourceName(uri string) string {
	if uri == "" {
		return "config"
	}
	return "mongodb"
}

func displayAddr(addr string) string {
	if len(addr) > 0 && addr[0] == ':' {
		return "localhost" + addr
	}
	return addr
}

// logSubscriber forwards processor events to the CLI logger.
type logSubscriber struct {
	c *CLI
}

func (s *logSubscriber) OnTaskError(e observability.TaskErrorEvent) {
	s.c.Logger.Error("task failed", "task", e.TaskID, "retries", e.Retries, "err", e.Error)
}

func (s *logSubscriber) OnMemoryUsage(e observability.MemoryUsageEvent) {
	if e.Percentage >= 80 {
		s.c.Logger.Warn("memory pressure", "used", formatBytes(int64(e.Current)), "pct", fmt.Sprintf("%.0f%%", e.Percentage))
		return
	}
	s.c.Logger.Debug("memory", "used", formatBytes(int64(e.Current)), "pct", fmt.Sprintf("%.0f%%", e.Percentage))
}

func (s *logSubscriber) OnCleanup(e observability.CleanupEvent) {
	s.c.Logger.Debug("cleanup", "queue", e.QueueSize, "active", e.ActiveProcessing,
		"memory", formatBytes(int64(e.MemoryUsage)))
}
