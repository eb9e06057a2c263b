package cli

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/spf13/cobra"

	"github.com/matzehuels/quotecard/pkg/scale"
)

// scaleCommand creates the scale command, which resizes an existing image
// for a device without rendering.
func (c *CLI) scaleCommand() *cobra.Command {
	var out outputFlags
	var output string

	cmd := &cobra.Command{
		Use:   "scale <image>",
		Short: "Scale an image for a device viewport",
		Long: `Scale an existing PNG, JPEG or WebP image for a device viewport.

The image is letterboxed into width x height multiplied by the pixel ratio.
Format, quality and pixel ratio default to the nearest breakpoint.`,
		Example: `  quotecard scale card.png --width 390 --height 844
  quotecard scale card.png --width 1920 --height 1080 -f jpeg -q 80 -o hd.jpg`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			if out.width == 0 || out.height == 0 {
				return fmt.Errorf("--width and --height are required")
			}

			src, err := os.ReadFile(args[0])
			if err != nil {
				return fmt.Errorf("read image: %w", err)
			}

			opts := &scale.Options{
				Format:     out.format,
				Quality:    out.quality,
				PixelRatio: out.pixelRatio,
			}
			if cmd.Flags().Changed("preserve-text") {
				v := out.preserveText
				opts.PreserveText = &v
			}

			scaler := scale.NewScaler(c.config.Hosting, scale.WithLogger(c.Logger))
			prog := newProgress(loggerFromContext(ctx))
			res, err := scaler.Scale(ctx, src, out.width, out.height, opts)
			if err != nil {
				return err
			}
			prog.done("Scaled image")

			if output == "" {
				output = scaledOutputName(args[0], out.width, out.height, res.Format)
			}
			if err := writeOutput(output, res.Data); err != nil {
				return err
			}

			bp := scale.ResolveBreakpoint(out.width, out.height)
			if bp.Known() {
				printSuccess("Scaled for %s", StyleHighlight.Render(bp.Name))
			} else {
				printSuccess("Scaled for %s viewport", res.DeviceType)
			}
			printImageStats(res.Width, res.Height, res.Format, len(res.Data), false)
			printFile(output)
			return nil
		},
	}

	out.register(cmd)
	cmd.Flags().StringVarP(&output, "output", "o", "", "output file (default <input>-<w>x<h>.<format>)")

	return cmd
}

// scaledOutputName derives "<base>-<w>x<h>.<ext>" next to the input.
func scaledOutputName(input string, w, h int, format string) string {
	base := strings.TrimSuffix(input, filepath.Ext(input))
	return fmt.Sprintf("%s-%dx%d.%s", base, w, h, extensionFor(format))
}
