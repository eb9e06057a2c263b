// Package hosting describes the image-hosting provider's upload policy.
//
// Limits is read-only configuration: the scaler uses it to cap encoder
// quality and to reject formats the provider would not accept.
package hosting

import (
	"slices"
	"strings"

	"github.com/matzehuels/quotecard/pkg/errors"
)

// LargeFileThreshold is the MaxFileSize from which the higher quality
// ceiling applies.
const LargeFileThreshold = 10 << 20

// Quality ceilings derived from MaxFileSize.
const (
	QualityCeilingLarge   = 90
	QualityCeilingDefault = 85
)

// Limits is a hosting provider's upload policy.
type Limits struct {
	Provider       string              `toml:"provider" json:"provider"`
	CloudName      string              `toml:"cloud_name" json:"cloud_name"`
	MaxFileSize    int64               `toml:"max_file_size" json:"max_file_size"`
	AllowedFormats map[string][]string `toml:"allowed_formats" json:"allowed_formats"`
}

// Default returns the limits used when no provider is configured.
func Default() Limits {
	return Limits{
		Provider:    "local",
		CloudName:   "default",
		MaxFileSize: 10 << 20,
		AllowedFormats: map[string][]string{
			"image": {"png", "jpg", "jpeg", "webp", "gif"},
		},
	}
}

// QualityCeiling returns the highest encoder quality the provider's size
// policy allows.
func (l Limits) QualityCeiling() int {
	if l.MaxFileSize >= LargeFileThreshold {
		return QualityCeilingLarge
	}
	return QualityCeilingDefault
}

// CapQuality returns min(q, QualityCeiling()).
func (l Limits) CapQuality(q int) int {
	return min(q, l.QualityCeiling())
}

// AllFormats returns the sorted union of every category's allowed formats.
func (l Limits) AllFormats() []string {
	seen := make(map[string]bool)
	var out []string
	for _, formats := range l.AllowedFormats {
		for _, f := range formats {
			f = strings.ToLower(f)
			if !seen[f] {
				seen[f] = true
				out = append(out, f)
			}
		}
	}
	slices.Sort(out)
	return out
}

// ValidateFormat returns an INVALID_FORMAT error listing the allowed formats
// if format is not accepted by the provider.
func (l Limits) ValidateFormat(format string) error {
	allowed := l.AllFormats()
	if slices.Contains(allowed, strings.ToLower(format)) {
		return nil
	}
	return errors.New(errors.ErrCodeInvalidFormat,
		"invalid format %q, allowed: %s", format, strings.Join(allowed, ", "))
}
