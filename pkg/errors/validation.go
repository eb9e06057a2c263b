package errors

import (
	"net/url"
	"strings"
	"unicode"
)

// MaxContentLength bounds quote text accepted by the renderer.
const MaxContentLength = 5000

// ValidateText validates a free-text field such as quote content or author.
//
// The validation rules are intentionally conservative:
//   - No empty (or whitespace-only) values
//   - No control characters other than newline and tab
//   - Maximum length of maxLen runes
func ValidateText(field, value string, maxLen int) error {
	if strings.TrimSpace(value) == "" {
		return New(ErrCodeInvalidInput, "%s cannot be empty", field)
	}

	if n := len([]rune(value)); n > maxLen {
		return New(ErrCodeInvalidInput, "%s too long (%d characters, max %d)", field, n, maxLen)
	}

	for _, r := range value {
		if r == '\n' || r == '\t' {
			continue
		}
		if unicode.IsControl(r) {
			return New(ErrCodeInvalidInput, "%s contains invalid control characters", field)
		}
	}
	return nil
}

// ValidateURL validates a background image URL.
// It ensures the URL parses, uses http or https, and names a host.
func ValidateURL(rawURL string) error {
	if rawURL == "" {
		return New(ErrCodeInvalidURL, "URL cannot be empty")
	}

	if !strings.HasPrefix(rawURL, "http://") && !strings.HasPrefix(rawURL, "https://") {
		return New(ErrCodeInvalidURL, "URL must use http or https scheme")
	}

	u, err := url.Parse(rawURL)
	if err != nil {
		return Wrap(ErrCodeInvalidURL, err, "URL cannot be parsed")
	}
	if u.Host == "" {
		return New(ErrCodeInvalidURL, "URL must include a host")
	}
	return nil
}

// ValidateDimensions checks a requested output size.
// Zero means "not specified" and is accepted.
func ValidateDimensions(width, height, limit int) error {
	if width < 0 || height < 0 {
		return New(ErrCodeInvalidInput, "dimensions cannot be negative (%dx%d)", width, height)
	}
	if width > limit || height > limit {
		return New(ErrCodeInvalidInput, "dimensions %dx%d exceed limit %d", width, height, limit)
	}
	return nil
}

// ValidateQuality checks a requested encoder quality. Zero means default.
func ValidateQuality(q int) error {
	if q < 0 || q > 100 {
		return New(ErrCodeInvalidInput, "quality must be between 1 and 100, got %d", q)
	}
	return nil
}
