package cli

import (
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/charmbracelet/lipgloss"
)

// stdout receives all user-facing output. Tests swap it for a buffer.
var stdout io.Writer = os.Stdout

// =============================================================================
// Palette
// =============================================================================

var (
	colorCyan   = lipgloss.Color("36")
	colorGreen  = lipgloss.Color("35")
	colorYellow = lipgloss.Color("220")
	colorRed    = lipgloss.Color("167")
	colorBlue   = lipgloss.Color("75")
	colorWhite  = lipgloss.Color("255")
	colorGray   = lipgloss.Color("245")
	colorDim    = lipgloss.Color("240")
)

var (
	StyleTitle     = lipgloss.NewStyle().Bold(true).Foreground(colorCyan)
	StyleHighlight = lipgloss.NewStyle().Foreground(colorCyan)
	StyleLink      = lipgloss.NewStyle().Foreground(colorBlue).Underline(true)
	StyleDim       = lipgloss.NewStyle().Foreground(colorDim)
	StyleValue     = lipgloss.NewStyle().Foreground(colorWhite)
	StyleNumber    = lipgloss.NewStyle().Foreground(colorCyan)
	StyleWarning   = lipgloss.NewStyle().Foreground(colorYellow)

	styleKey     = lipgloss.NewStyle().Foreground(colorGray).Width(12)
	styleCommand = lipgloss.NewStyle().Foreground(colorBlue)
	styleSpinner = lipgloss.NewStyle().Foreground(colorCyan)
)

// icon is a status glyph with its color.
type icon struct {
	glyph string
	style lipgloss.Style
}

func (i icon) String() string { return i.style.Render(i.glyph) }

var (
	iconSuccess = icon{"✓", lipgloss.NewStyle().Foreground(colorGreen)}
	iconError   = icon{"✗", lipgloss.NewStyle().Foreground(colorRed)}
	iconWarning = icon{"!", lipgloss.NewStyle().Foreground(colorYellow)}
	iconInfo    = icon{"›", lipgloss.NewStyle().Foreground(colorGray)}
	iconArrow   = icon{"→", StyleDim}

	tagCached = icon{"cached", lipgloss.NewStyle().Foreground(colorGreen)}
	tagFresh  = icon{"fresh", lipgloss.NewStyle().Foreground(colorGray)}
)

// =============================================================================
// Status Lines
// =============================================================================

func printLine(i icon, msg string) {
	fmt.Fprintln(stdout, i.String()+" "+msg)
}

func printSuccess(format string, args ...any) { printLine(iconSuccess, fmt.Sprintf(format, args...)) }
func printError(format string, args ...any)   { printLine(iconError, fmt.Sprintf(format, args...)) }
func printInfo(format string, args ...any)    { printLine(iconInfo, fmt.Sprintf(format, args...)) }

func printWarning(format string, args ...any) {
	printLine(iconWarning, StyleWarning.Render(fmt.Sprintf(format, args...)))
}

// printDetail prints an indented, dimmed line.
func printDetail(format string, args ...any) {
	fmt.Fprintln(stdout, "  "+StyleDim.Render(fmt.Sprintf(format, args...)))
}

// printFile prints a written output path.
func printFile(path string) {
	fmt.Fprintln(stdout, "  "+iconArrow.String()+" "+StyleValue.Render(path))
}

func printKeyValue(key, value string) {
	fmt.Fprintln(stdout, styleKey.Render(key)+" "+StyleValue.Render(value))
}

// printNextStep suggests a follow-up command.
func printNextStep(description, cmd string) {
	fmt.Fprintln(stdout, StyleDim.Render(description+":")+" "+styleCommand.Render(cmd))
}

// =============================================================================
// Image Stats
// =============================================================================

// printImageStats prints "WxH · format · size · cached|fresh".
func printImageStats(width, height int, format string, size int, cached bool) {
	parts := []string{
		StyleDim.Render(fmt.Sprintf("%dx%d", width, height)),
		StyleDim.Render(format),
		StyleDim.Render(formatBytes(int64(size))),
		tagFresh.String(),
	}
	if cached {
		parts[3] = tagCached.String()
	}
	fmt.Fprintln(stdout, "  "+strings.Join(parts, StyleDim.Render(" · ")))
}

// formatBytes renders n with a binary unit suffix.
func formatBytes(n int64) string {
	const unit = 1024
	if n < unit {
		return fmt.Sprintf("%d B", n)
	}
	div, exp := int64(unit), 0
	for v := n / unit; v >= unit; v /= unit {
		div *= unit
		exp++
	}
	return fmt.Sprintf("%.1f %ciB", float64(n)/float64(div), "KMGTPE"[exp])
}
