package cli

import (
	"encoding/json"
	"fmt"
	"strconv"

	"github.com/charmbracelet/lipgloss"
	"github.com/charmbracelet/lipgloss/table"
	"github.com/spf13/cobra"

	"github.com/matzehuels/quotecard/pkg/scale"
)

// breakpointsCommand lists the device profiles used for scaling defaults.
func (c *CLI) breakpointsCommand() *cobra.Command {
	var asJSON bool

	cmd := &cobra.Command{
		Use:   "breakpoints",
		Short: "List device breakpoints",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			bps := scale.Breakpoints()
			if asJSON {
				enc := json.NewEncoder(stdout)
				enc.SetIndent("", "  ")
				return enc.Encode(bps)
			}
			fmt.Fprintln(stdout, breakpointTable(bps))
			return nil
		},
	}

	cmd.Flags().BoolVar(&asJSON, "json", false, "print as JSON")

	return cmd
}

func breakpointTable(bps []scale.Breakpoint) string {
	rows := make([][]string, len(bps))
	for i, bp := range bps {
		rows[i] = []string{
			bp.Name,
			fmt.Sprintf("%dx%d", bp.Width, bp.Height),
			strconv.FormatFloat(bp.PixelRatio, 'g', -1, 64),
			bp.DeviceType,
			bp.DefaultFormat,
			strconv.Itoa(bp.DefaultQuality),
		}
	}

	return table.New().
		Border(lipgloss.RoundedBorder()).
		BorderStyle(lipgloss.NewStyle().Foreground(colorDim)).
		Headers("Device", "Viewport", "DPR", "Type", "Format", "Quality").
		Rows(rows...).
		StyleFunc(func(row, col int) lipgloss.Style {
			switch {
			case row == -1:
				return headerStyle
			case col == 0:
				return StyleValue
			case col == 1 || col == 2:
				return StyleNumber
			}
			return StyleDim
		}).
		Render()
}
