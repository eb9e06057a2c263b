package cli

import (
	"cmp"
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/spf13/cobra"

	"github.com/matzehuels/quotecard/pkg/processor"
	"github.com/matzehuels/quotecard/pkg/quotes"
)

// outputFlags are the sizing flags shared by render, scale and batch.
type outputFlags struct {
	width        int
	height       int
	format       string
	quality      int
	pixelRatio   float64
	preserveText bool
}

func (o *outputFlags) register(cmd *cobra.Command) {
	f := cmd.Flags()
	f.IntVar(&o.width, "width", 0, "device width in CSS pixels (0 keeps the 1080x1080 canvas)")
	f.IntVar(&o.height, "height", 0, "device height in CSS pixels")
	f.StringVarP(&o.format, "format", "f", "", "output format: png, jpeg, webp (default from breakpoint)")
	f.IntVarP(&o.quality, "quality", "q", 0, "encoder quality 1-100 (default from breakpoint)")
	f.Float64Var(&o.pixelRatio, "pixel-ratio", 0, "device pixel ratio (default from breakpoint)")
	f.BoolVar(&o.preserveText, "preserve-text", true, "keep text sharp: lossless webp, 4:4:4 jpeg")
}

// apply copies the flags onto opts. preserve-text only overrides when set.
func (o *outputFlags) apply(cmd *cobra.Command, opts *processor.ImageOptions) {
	opts.Width = o.width
	opts.Height = o.height
	opts.Format = o.format
	opts.Quality = o.quality
	opts.PixelRatio = o.pixelRatio
	if cmd.Flags().Changed("preserve-text") {
		v := o.preserveText
		opts.PreserveText = &v
	}
}

// renderOpts holds the command-line flags for the render command.
type renderOpts struct {
	content    string
	author     string
	site       string
	background string
	slug       string // render a configured quote instead of --content
	output     string
	noCache    bool
	refresh    bool
	out        outputFlags
}

// renderCommand creates the render command for producing a single card.
func (c *CLI) renderCommand() *cobra.Command {
	var opts renderOpts

	cmd := &cobra.Command{
		Use:   "render",
		Short: "Render a quote card",
		Long: `Render a quote onto the 1080x1080 canvas and optionally scale it for a device.

Without --width/--height the canvas is written as PNG. With a viewport the
nearest breakpoint supplies format, quality and pixel ratio unless given.`,
		Example: `  quotecard render --content "Less is more." --author "Mies van der Rohe"
  quotecard render --slug mies --width 390 --height 844 -o mies.webp`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			imgOpts, err := c.resolveRenderOpts(cmd.Context(), opts)
			if err != nil {
				return err
			}
			opts.out.apply(cmd, &imgOpts)
			return c.runRender(cmd.Context(), imgOpts, opts)
		},
	}

	f := cmd.Flags()
	f.StringVar(&opts.content, "content", "", "quote text")
	f.StringVar(&opts.author, "author", "", "quote author")
	f.StringVar(&opts.site, "site", "", "site name shown under the author (default render.site_name)")
	f.StringVar(&opts.background, "background", "", "background image URL")
	f.StringVar(&opts.slug, "slug", "", "render a quote from the config by slug")
	f.StringVarP(&opts.output, "output", "o", "", "output file (default <slug or author>.<format>)")
	f.BoolVar(&opts.noCache, "no-cache", false, "disable the second-tier cache")
	f.BoolVar(&opts.refresh, "refresh", false, "re-render even when cached")
	opts.out.register(cmd)

	return cmd
}

// resolveRenderOpts builds image options from --slug or the quote flags.
func (c *CLI) resolveRenderOpts(ctx context.Context, opts renderOpts) (processor.ImageOptions, error) {
	site := cmp.Or(opts.site, c.config.Render.SiteName)

	if opts.slug != "" {
		src, err := quotes.NewMemorySource(c.config.Quotes...)
		if err != nil {
			return processor.ImageOptions{}, err
		}
		q, err := src.Get(ctx, opts.slug)
		if err != nil {
			return processor.ImageOptions{}, err
		}
		return processor.ImageOptions{
			Content:       q.Content,
			Author:        q.Author,
			SiteName:      site,
			BackgroundURL: cmp.Or(opts.background, q.BackgroundURL),
			Refresh:       opts.refresh,
		}, nil
	}

	if opts.content == "" || opts.author == "" {
		return processor.ImageOptions{}, fmt.Errorf("--content and --author are required (or use --slug)")
	}
	return processor.ImageOptions{
		Content:       opts.content,
		Author:        opts.author,
		SiteName:      site,
		BackgroundURL: opts.background,
		Refresh:       opts.refresh,
	}, nil
}

func (c *CLI) runRender(ctx context.Context, imgOpts processor.ImageOptions, opts renderOpts) error {
	st, err := c.newStack(ctx, opts.noCache)
	if err != nil {
		return err
	}
	defer st.Close()

	spinner := newSpinnerWithContext(ctx, "Rendering...")
	spinner.Start()

	prog := newProgress(loggerFromContext(ctx))
	blob, err := st.proc.ProcessImage(ctx, imgOpts)
	if err != nil {
		spinner.StopWithError("Render failed")
		return err
	}
	spinner.Stop()
	prog.done("Rendered card")

	output := opts.output
	if output == "" {
		output = defaultOutputName(cmp.Or(opts.slug, imgOpts.Author), blob.Metadata.Format)
	}
	if err := writeOutput(output, blob.Data); err != nil {
		return err
	}

	printSuccess("Rendered %q", truncate(imgOpts.Content, 40))
	printImageStats(blob.Metadata.Width, blob.Metadata.Height, blob.Metadata.Format, len(blob.Data), blob.Cached)
	printFile(output)
	return nil
}

// =============================================================================
// Output Helpers
// =============================================================================

// defaultOutputName derives a file name from a slug or author and format.
func defaultOutputName(name, format string) string {
	base := quotes.Slugify(name)
	if base == "" {
		base = "quote"
	}
	return base + "." + extensionFor(format)
}

func extensionFor(format string) string {
	switch strings.ToLower(format) {
	case "jpeg", "jpg":
		return "jpg"
	case "":
		return processor.CanvasFormat
	default:
		return strings.ToLower(format)
	}
}

// writeOutput writes data to path, creating parent directories.
func writeOutput(path string, data []byte) error {
	if dir := filepath.Dir(path); dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return fmt.Errorf("create output dir: %w", err)
		}
	}
	if err := os.WriteFile(path, data, 0o644); err != nil {
		return fmt.Errorf("write output: %w", err)
	}
	return nil
}

func truncate(s string, n int) string {
	r := []rune(s)
	if len(r) <= n {
		return s
	}
	return string(r[:n-1]) + "…"
}
