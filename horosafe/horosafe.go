// Package horosafe provides the bounded I/O and input-shaping helpers used
// wherever chatdrop handles bytes or names that came from a web page.
package horosafe

import (
	"errors"
	"fmt"
	"io"
	"net/url"
	"strings"
)

// MaxResponseBody is the default cap for JSON API response reads (1 MiB).
const MaxResponseBody int64 = 1 << 20

// MaxDocumentBody caps fetched documents such as PDFs (64 MiB).
const MaxDocumentBody int64 = 64 << 20

// ErrUnsafeScheme is returned when a URL uses a non-HTTP(S) scheme.
var ErrUnsafeScheme = errors.New("horosafe: only http and https schemes are allowed")

// ErrTooLarge is returned by LimitedReadAll when the limit is exceeded.
var ErrTooLarge = errors.New("horosafe: body too large")

// LimitedReadAll reads at most maxBytes from r. It returns ErrTooLarge if
// the limit is exceeded.
func LimitedReadAll(r io.Reader, maxBytes int64) ([]byte, error) {
	lr := io.LimitReader(r, maxBytes+1)
	data, err := io.ReadAll(lr)
	if err != nil {
		return nil, err
	}
	if int64(len(data)) > maxBytes {
		return nil, fmt.Errorf("%w: exceeds %d bytes", ErrTooLarge, maxBytes)
	}
	return data, nil
}

// ValidateHTTPURL checks that rawURL is absolute, uses http or https and
// has a host. Private addresses are allowed: chat backends commonly live
// on the LAN.
func ValidateHTTPURL(rawURL string) error {
	u, err := url.Parse(rawURL)
	if err != nil {
		return fmt.Errorf("horosafe: invalid URL: %w", err)
	}
	scheme := strings.ToLower(u.Scheme)
	if scheme != "http" && scheme != "https" {
		return ErrUnsafeScheme
	}
	if u.Hostname() == "" {
		return fmt.Errorf("horosafe: URL has no host")
	}
	return nil
}

// MaxFileNameStem bounds the part of a file name FileName derives from
// the title.
const MaxFileNameStem = 100

// FileName turns an arbitrary page title into a file name: every rune that
// is not an ASCII letter or digit becomes '_', the result is cut to
// MaxFileNameStem runes, then ext is appended.
func FileName(title, ext string) string {
	var b strings.Builder
	b.Grow(min(len(title), MaxFileNameStem) + len(ext))
	n := 0
	for _, r := range title {
		if n == MaxFileNameStem {
			break
		}
		if (r >= 'a' && r <= 'z') || (r >= 'A' && r <= 'Z') || (r >= '0' && r <= '9') {
			b.WriteRune(r)
		} else {
			b.WriteByte('_')
		}
		n++
	}
	b.WriteString(ext)
	return b.String()
}

// ValidateIdentifier rejects identifiers unsuitable for URL path segments
// (knowledge collection ids, file ids). Allows alphanumeric, underscore,
// hyphen and dot.
func ValidateIdentifier(s string) error {
	if s == "" {
		return fmt.Errorf("horosafe: identifier must not be empty")
	}
	if len(s) > 256 {
		return fmt.Errorf("horosafe: identifier too long (max 256)")
	}
	for _, r := range s {
		if !isIdentChar(r) {
			return fmt.Errorf("horosafe: invalid character %q in identifier", r)
		}
	}
	return nil
}

func isIdentChar(r rune) bool {
	return (r >= 'a' && r <= 'z') || (r >= 'A' && r <= 'Z') ||
		(r >= '0' && r <= '9') || r == '_' || r == '-' || r == '.'
}
