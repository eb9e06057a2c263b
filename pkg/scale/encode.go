package scale

import (
	"bytes"
	"image"
	"image/color"
	"image/png"
	"math"
	"strings"

	"github.com/disintegration/imaging"
	"github.com/kolesa-team/go-webp/encoder"
	"github.com/kolesa-team/go-webp/webp"
)

// webpLosslessLevel trades encode time for size (0 fastest, 9 smallest).
const webpLosslessLevel = 6

// NormalizeFormat lowercases format and maps "jpg" to "jpeg".
func NormalizeFormat(format string) string {
	f := strings.ToLower(strings.TrimSpace(format))
	if f == "jpg" {
		return "jpeg"
	}
	return f
}

// FitSize returns the largest size with the aspect ratio of sw×sh that fits
// inside tw×th.
func FitSize(sw, sh, tw, th int) (w, h int) {
	scale := math.Min(float64(tw)/float64(sw), float64(th)/float64(sh))
	w = max(1, min(tw, int(math.Round(float64(sw)*scale))))
	h = max(1, min(th, int(math.Round(float64(sh)*scale))))
	return w, h
}

// Letterbox resizes img to fit tw×th without cropping and centers it on a
// canvas filled with bg.
func Letterbox(img image.Image, tw, th int, filter imaging.ResampleFilter, bg color.Color) *image.NRGBA {
	b := img.Bounds()
	w, h := FitSize(b.Dx(), b.Dy(), tw, th)
	resized := imaging.Resize(img, w, h, filter)
	return imaging.PasteCenter(imaging.New(tw, th, bg), resized)
}

// letterboxColor is transparent for formats with alpha and white otherwise.
func letterboxColor(format string) color.Color {
	switch format {
	case "jpeg", "gif":
		return color.White
	default:
		return color.Transparent
	}
}

func encode(img image.Image, format string, quality int, preserveText bool) ([]byte, error) {
	var buf bytes.Buffer
	var err error

	switch format {
	case "png":
		level := png.DefaultCompression
		if preserveText {
			level = png.BestCompression
		}
		err = imaging.Encode(&buf, img, imaging.PNG, imaging.PNGCompressionLevel(level))
	case "jpeg":
		err = imaging.Encode(&buf, img, imaging.JPEG, imaging.JPEGQuality(quality))
	case "gif":
		err = imaging.Encode(&buf, img, imaging.GIF)
	case "webp":
		var opts *encoder.Options
		if preserveText {
			opts, err = encoder.NewLosslessEncoderOptions(encoder.PresetText, webpLosslessLevel)
		} else {
			opts, err = encoder.NewLossyEncoderOptions(encoder.PresetDefault, float32(quality))
		}
		if err == nil {
			err = webp.Encode(&buf, img, opts)
		}
	default:
		return nil, errUnsupportedEncoder(format)
	}
	if err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}
