package scale

// Device types derived from the viewport width.
const (
	DeviceMobile  = "mobile"
	DeviceTablet  = "tablet"
	DeviceDesktop = "desktop"
)

// Defaults for viewports that match no known device profile.
const (
	fallbackPixelRatio = 1.0
	fallbackFormat     = "webp"
	fallbackQuality    = 85
)

// Global defaults applied beneath breakpoint values.
const (
	DefaultFormat  = "webp"
	DefaultQuality = 90
)

// Breakpoint is a known device profile.
type Breakpoint struct {
	Name           string  `json:"name"`
	Width          int     `json:"width"`
	Height         int     `json:"height"`
	PixelRatio     float64 `json:"pixel_ratio"`
	DefaultFormat  string  `json:"default_format"`
	DefaultQuality int     `json:"default_quality"`
	DeviceType     string  `json:"device_type"`
}

// Known reports whether b came from the profile table.
func (b Breakpoint) Known() bool { return b.Name != "" }

var breakpoints = []Breakpoint{
	{"iPhone SE", 375, 667, 2, "webp", 85, DeviceMobile},
	{"Galaxy S20", 360, 800, 3, "webp", 85, DeviceMobile},
	{"iPhone 13", 390, 844, 3, "webp", 85, DeviceMobile},
	{"Pixel 7", 412, 915, 2.625, "webp", 85, DeviceMobile},
	{"iPhone 13 Pro Max", 428, 926, 3, "webp", 85, DeviceMobile},
	{"iPad Mini", 768, 1024, 2, "webp", 88, DeviceTablet},
	{"iPad Air", 820, 1180, 2, "webp", 88, DeviceTablet},
	{"iPad Pro 12.9", 1024, 1366, 2, "webp", 88, DeviceTablet},
	{"Laptop", 1366, 768, 1, "webp", 90, DeviceDesktop},
	{"MacBook Air", 1440, 900, 2, "webp", 90, DeviceDesktop},
	{"Full HD", 1920, 1080, 1, "webp", 90, DeviceDesktop},
	{"2K", 2560, 1440, 1, "webp", 90, DeviceDesktop},
}

// Breakpoints returns a copy of the device profile table, smallest first.
func Breakpoints() []Breakpoint {
	out := make([]Breakpoint, len(breakpoints))
	copy(out, breakpoints)
	return out
}

// DeviceTypeFor classifies a viewport width.
func DeviceTypeFor(width int) string {
	switch {
	case width < 768:
		return DeviceMobile
	case width < 1280:
		return DeviceTablet
	default:
		return DeviceDesktop
	}
}

// ResolveBreakpoint returns the profile matching width×height exactly, or a
// synthesized one with pixel ratio 1, webp and quality 85.
func ResolveBreakpoint(width, height int) Breakpoint {
	for _, b := range breakpoints {
		if b.Width == width && b.Height == height {
			return b
		}
	}
	return Breakpoint{
		Width:          width,
		Height:         height,
		PixelRatio:     fallbackPixelRatio,
		DefaultFormat:  fallbackFormat,
		DefaultQuality: fallbackQuality,
		DeviceType:     DeviceTypeFor(width),
	}
}
