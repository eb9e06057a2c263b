package cli

import (
	"cmp"
	"context"
	"fmt"
	"path/filepath"
	"sync/atomic"

	"github.com/BurntSushi/toml"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/spf13/cobra"

	"github.com/matzehuels/quotecard/pkg/processor"
	"github.com/matzehuels/quotecard/pkg/quotes"
)

// batchFile is the TOML layout read by the batch command:
//
//	[defaults]
//	width = 390
//	height = 844
//
//	[[cards]]
//	slug = "mies"
//
//	[[cards]]
//	content = "Less is more."
//	author = "Mies van der Rohe"
//	output = "mies-desktop.webp"
//	width = 1920
//	height = 1080
type batchFile struct {
	Defaults processor.ImageOptions `toml:"defaults"`
	Cards    []batchCard            `toml:"cards"`
}

type batchCard struct {
	processor.ImageOptions
	Slug   string `toml:"slug"`
	Output string `toml:"output"`
}

// batchJob is a resolved card ready for the processor.
type batchJob struct {
	opts   processor.ImageOptions
	output string
	label  string
}

// batchOpts holds the command-line flags for the batch command.
type batchOpts struct {
	outDir  string
	tui     bool
	noCache bool
}

// batchCommand creates the batch command for rendering many cards.
func (c *CLI) batchCommand() *cobra.Command {
	var opts batchOpts

	cmd := &cobra.Command{
		Use:   "batch <cards.toml>",
		Short: "Render many cards from a TOML file",
		Long: `Render every [[cards]] entry of a TOML file.

Cards are rendered in chunks of processor.max_concurrent with retries.
Values under [defaults] apply to every card that leaves them unset, and
a card with only a slug takes its quote from the config.`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			jobs, err := c.loadBatch(cmd.Context(), args[0], opts.outDir)
			if err != nil {
				return err
			}
			return c.runBatch(cmd.Context(), jobs, opts)
		},
	}

	cmd.Flags().StringVarP(&opts.outDir, "out-dir", "o", ".", "directory for rendered cards")
	cmd.Flags().BoolVar(&opts.tui, "tui", false, "show an interactive progress table")
	cmd.Flags().BoolVar(&opts.noCache, "no-cache", false, "disable the second-tier cache")

	return cmd
}

// loadBatch parses path and resolves each card against the defaults and
// the configured quotes.
func (c *CLI) loadBatch(ctx context.Context, path, outDir string) ([]batchJob, error) {
	var f batchFile
	md, err := toml.DecodeFile(path, &f)
	if err != nil {
		return nil, fmt.Errorf("parse %s: %w", path, err)
	}
	if undecoded := md.Undecoded(); len(undecoded) > 0 {
		return nil, fmt.Errorf("parse %s: unknown key %s", path, undecoded[0])
	}
	if len(f.Cards) == 0 {
		return nil, fmt.Errorf("%s: no [[cards]] entries", path)
	}

	src, err := quotes.NewMemorySource(c.config.Quotes...)
	if err != nil {
		return nil, err
	}

	jobs := make([]batchJob, len(f.Cards))
	for i, card := range f.Cards {
		opts := mergeDefaults(card.ImageOptions, f.Defaults)
		opts.SiteName = cmp.Or(opts.SiteName, c.config.Render.SiteName)

		if card.Slug != "" && opts.Content == "" {
			q, err := src.Get(ctx, card.Slug)
			if err != nil {
				return nil, fmt.Errorf("cards[%d]: %w", i, err)
			}
			opts.Content = q.Content
			opts.Author = cmp.Or(opts.Author, q.Author)
			opts.BackgroundURL = cmp.Or(opts.BackgroundURL, q.BackgroundURL)
		}

		name := card.Output
		if name == "" {
			name = fmt.Sprintf("%02d-%s", i+1, defaultOutputName(cmp.Or(card.Slug, opts.Author), opts.Format))
		}
		jobs[i] = batchJob{
			opts:   opts,
			output: filepath.Join(outDir, name),
			label:  cmp.Or(card.Slug, truncate(opts.Content, 32)),
		}
	}
	return jobs, nil
}

// mergeDefaults fills the zero fields of o from d.
func mergeDefaults(o, d processor.ImageOptions) processor.ImageOptions {
	o.SiteName = cmp.Or(o.SiteName, d.SiteName)
	o.BackgroundURL = cmp.Or(o.BackgroundURL, d.BackgroundURL)
	o.Width = cmp.Or(o.Width, d.Width)
	o.Height = cmp.Or(o.Height, d.Height)
	o.Quality = cmp.Or(o.Quality, d.Quality)
	o.Format = cmp.Or(o.Format, d.Format)
	o.PixelRatio = cmp.Or(o.PixelRatio, d.PixelRatio)
	o.Priority = cmp.Or(o.Priority, d.Priority)
	if o.PreserveText == nil {
		o.PreserveText = d.PreserveText
	}
	o.Refresh = o.Refresh || d.Refresh
	return o
}

func (c *CLI) runBatch(ctx context.Context, jobs []batchJob, opts batchOpts) error {
	st, err := c.newStack(ctx, opts.noCache)
	if err != nil {
		return err
	}
	defer st.Close()
	st.proc.Start(ctx)

	items := make([]processor.ImageOptions, len(jobs))
	for i, j := range jobs {
		items[i] = j.opts
	}

	prog := newProgress(loggerFromContext(ctx))
	var res processor.BatchResult
	if opts.tui {
		res, err = c.runBatchTUI(ctx, st.proc, jobs, items)
		if err != nil {
			return err
		}
	} else {
		res = c.runBatchSpinner(ctx, st.proc, items)
	}
	if err := ctx.Err(); err != nil {
		return err
	}

	for _, it := range res.Successful {
		if err := writeOutput(jobs[it.Index].output, it.Data); err != nil {
			return err
		}
	}
	prog.done(fmt.Sprintf("Rendered %d cards", len(res.Successful)))

	for _, it := range res.Successful {
		printFile(jobs[it.Index].output)
	}
	for _, it := range res.Failed {
		printError("%s: %v", jobs[it.Index].label, it.Err)
	}
	if len(res.Failed) > 0 {
		printWarning("%d of %d cards failed", len(res.Failed), len(jobs))
		return fmt.Errorf("%d cards failed", len(res.Failed))
	}
	printSuccess("Rendered %s cards", StyleNumber.Render(fmt.Sprint(len(res.Successful))))
	return nil
}

func (c *CLI) runBatchSpinner(ctx context.Context, proc *processor.Processor, items []processor.ImageOptions) processor.BatchResult {
	spinner := newSpinnerWithContext(ctx, fmt.Sprintf("Rendering 0/%d...", len(items)))
	spinner.Start()
	defer spinner.Stop()

	var finished atomic.Int64
	return proc.ProcessBatchFunc(ctx, items, func(it processor.BatchItem) {
		n := finished.Add(1)
		spinner.Update(fmt.Sprintf("Rendering %d/%d...", n, len(items)))
	})
}

func (c *CLI) runBatchTUI(ctx context.Context, proc *processor.Processor, jobs []batchJob, items []processor.ImageOptions) (processor.BatchResult, error) {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	labels := make([]string, len(jobs))
	for i, j := range jobs {
		labels[i] = j.label
	}

	p := tea.NewProgram(newBatchModel(labels, cancel), tea.WithContext(ctx))
	go func() {
		res := proc.ProcessBatchFunc(ctx, items, func(it processor.BatchItem) {
			p.Send(batchItemMsg(it))
		})
		p.Send(batchDoneMsg{result: res})
	}()

	final, err := p.Run()
	if err != nil && ctx.Err() == nil {
		return processor.BatchResult{}, fmt.Errorf("run tui: %w", err)
	}
	m, ok := final.(batchModel)
	if !ok || m.result == nil {
		return processor.BatchResult{}, context.Canceled
	}
	return *m.result, nil
}
