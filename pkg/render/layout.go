package render

import (
	"strings"
	"unicode/utf8"

	"golang.org/x/image/font"
)

// Canvas geometry in pixels.
const (
	CanvasWidth  = 1080
	CanvasHeight = 1080
	Padding      = 40

	// MaxTextWidth is the widest a wrapped line may measure.
	MaxTextWidth = CanvasWidth - 2*Padding
)

const (
	lineHeightRatio   = 1.5
	authorSizeRatio   = 0.4
	authorOffsetRatio = 0.8
	siteSizeRatio     = 0.25
	siteAlpha         = 0.6
	minFontSize       = 20.0
)

// fontSizes maps content length thresholds to font sizes, smallest
// threshold first. Sizes must not increase down the table.
var fontSizes = []struct {
	maxLen int
	size   float64
}{
	{100, 45},
	{200, 40},
	{300, 36},
	{400, 33},
	{500, 30},
	{750, 28},
	{1000, 25},
}

// FontSizeFor returns the quote font size for content of length characters.
func FontSizeFor(length int) float64 {
	for _, fs := range fontSizes {
		if length <= fs.maxLen {
			return fs.size
		}
	}
	return minFontSize
}

// Measurer reports the rendered width of a string in pixels.
type Measurer interface {
	Measure(s string) float64
}

// MeasureFunc adapts a function to Measurer.
type MeasureFunc func(s string) float64

func (f MeasureFunc) Measure(s string) float64 { return f(s) }

// FaceMeasurer measures with a font face.
type FaceMeasurer struct{ Face font.Face }

func (m FaceMeasurer) Measure(s string) float64 {
	return float64(font.MeasureString(m.Face, s)) / 64
}

// WrapText breaks text into lines greedily so each line measures at most
// maxWidth. A single word wider than maxWidth gets a line of its own and
// overflows.
func WrapText(text string, maxWidth float64, m Measurer) []string {
	var lines []string
	var cur string
	for _, word := range strings.Fields(text) {
		if cur == "" {
			cur = word
			continue
		}
		candidate := cur + " " + word
		if m.Measure(candidate) > maxWidth {
			lines = append(lines, cur)
			cur = word
			continue
		}
		cur = candidate
	}
	if cur != "" {
		lines = append(lines, cur)
	}
	return lines
}

// TextLayout is the wrapped quote block.
type TextLayout struct {
	Lines       []string
	FontSize    float64
	LineHeight  float64
	TotalHeight float64
}

// ComputeLayout picks the font size for content and wraps it to MaxTextWidth.
// measurer returns a Measurer for the quote font at the given size.
func ComputeLayout(content string, measurer func(size float64) Measurer) TextLayout {
	size := FontSizeFor(utf8.RuneCountInString(content))
	lines := WrapText(content, MaxTextWidth, measurer(size))
	lh := size * lineHeightRatio
	return TextLayout{
		Lines:       lines,
		FontSize:    size,
		LineHeight:  lh,
		TotalHeight: float64(len(lines)) * lh,
	}
}

// Placement holds the vertical positions for everything drawn on the canvas.
// Line positions are line centers; AuthorY is the top of the author line;
// SiteY is the baseline-bottom of the site name.
type Placement struct {
	LineY      []float64
	AuthorY    float64
	AuthorSize float64
	SiteY      float64
	SiteSize   float64
}

// Place centers the quote block vertically and positions the attribution
// lines relative to it.
func Place(l TextLayout) Placement {
	top := (CanvasHeight - l.TotalHeight) / 2
	p := Placement{
		LineY:      make([]float64, len(l.Lines)),
		AuthorY:    top + l.TotalHeight + l.FontSize*authorOffsetRatio,
		AuthorSize: l.FontSize * authorSizeRatio,
		SiteY:      CanvasHeight - Padding,
		SiteSize:   l.FontSize * siteSizeRatio,
	}
	for i := range l.Lines {
		p.LineY[i] = top + float64(i)*l.LineHeight + l.LineHeight/2
	}
	return p
}
