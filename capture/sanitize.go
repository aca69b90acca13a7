package capture

import (
	"regexp"
	"strconv"
	"strings"
	"unicode/utf8"
)

var (
	entityRe   = regexp.MustCompile(`&#[xX][0-9a-fA-F]+;|&#[0-9]+;|&[a-zA-Z]+;`)
	newlinesRe = regexp.MustCompile(`\n{3,}`)
	spacesRe   = regexp.MustCompile(` {2,}`)
	uEscapeRe  = regexp.MustCompile(`\\u[0-9A-Fa-f]{4}`)
)

var namedEntities = map[string]string{
	"&amp;":    "&",
	"&lt;":     "&lt;",
	"&gt;":     "&gt;",
	"&quot;":   "&quot;",
	"&apos;":   "'",
	"&nbsp;":   " ",
	"&mdash;":  "--",
	"&ndash;":  "-",
	"&rsquo;":  "'",
	"&lsquo;":  "'",
	"&rdquo;":  "&quot;",
	"&ldquo;":  "&quot;",
	"&hellip;": "...",
}

// Sanitize reduces s to printable ASCII plus '\n' so it survives any
// downstream decoder, and it is idempotent.
//
// Order matters:
//  1. CR/CRLF become LF, TAB becomes a space, other control bytes vanish.
//  2. Backslash runs are padded to an even length, so no backslash can be
//     read as an escape introducer. Padding instead of doubling keeps the
//     function idempotent.
//  3. Every non-ASCII code point becomes &#N;.
//  4. Numeric and named entities are resolved to ASCII, repeatedly, until
//     none are left. Anything unknown or non-ASCII resolves to nothing.
//     '<', '>' and '"' resolve to &lt; &gt; &quot; so text never turns
//     back into markup or closes an attribute.
//  5. 3+ newlines become 2, 2+ spaces become 1.
func Sanitize(s string) string {
	s = normalizeControls(s)
	s = padBackslashes(s)
	s = encodeNonASCII(s)
	s = resolveEntities(s)
	s = newlinesRe.ReplaceAllString(s, "\n\n")
	s = spacesRe.ReplaceAllString(s, " ")
	return s
}

// Clean is applied by the receiving frame before a document becomes a
// file: it drops literal \uXXXX escapes, sanitizes and trims.
func Clean(s string) string {
	s = uEscapeRe.ReplaceAllString(s, "")
	return neutralize(strings.TrimSpace(Sanitize(s)))
}

// ASCIIFallback is the last-resort encoding for a document the main path
// could not process: TAB, LF, CR and 32-126 pass through, code points
// from 160 up become &#N;, everything else becomes a space.
func ASCIIFallback(raw string) string {
	var b strings.Builder
	b.Grow(len(raw))
	for _, r := range raw {
		switch {
		case r >= 32 && r <= 126, r == '\t', r == '\n', r == '\r':
			b.WriteRune(r)
		case r >= 160:
			b.WriteString("&#")
			b.WriteString(strconv.Itoa(int(r)))
			b.WriteByte(';')
		default:
			b.WriteByte(' ')
		}
	}
	return b.String()
}

func normalizeControls(s string) string {
	s = strings.ReplaceAll(s, "\r\n", "\n")
	var b strings.Builder
	b.Grow(len(s))
	for i := 0; i < len(s); i++ {
		c := s[i]
		switch {
		case c == '\r':
			b.WriteByte('\n')
		case c == '\t':
			b.WriteByte(' ')
		case c == '\n', c >= 0x20 && c != 0x7f:
			b.WriteByte(c)
		}
	}
	return b.String()
}

func padBackslashes(s string) string {
	if !strings.Contains(s, `\`) {
		return s
	}
	var b strings.Builder
	b.Grow(len(s) + 8)
	run := 0
	for i := 0; i < len(s); i++ {
		if s[i] == '\\' {
			run++
			b.WriteByte('\\')
			continue
		}
		if run%2 == 1 {
			b.WriteByte('\\')
		}
		run = 0
		b.WriteByte(s[i])
	}
	if run%2 == 1 {
		b.WriteByte('\\')
	}
	return b.String()
}

func encodeNonASCII(s string) string {
	ascii := true
	for i := 0; i < len(s); i++ {
		if s[i] >= utf8.RuneSelf {
			ascii = false
			break
		}
	}
	if ascii {
		return s
	}
	var b strings.Builder
	b.Grow(len(s) + 16)
	for _, r := range s {
		if r < utf8.RuneSelf {
			b.WriteRune(r)
			continue
		}
		b.WriteString("&#")
		b.WriteString(strconv.Itoa(int(r)))
		b.WriteByte(';')
	}
	return b.String()
}

// resolveEntities iterates to a fixed point. Every replacement is either
// shorter than the entity it replaces or one of the three markup entities,
// which resolve to themselves, so the loop terminates.
func resolveEntities(s string) string {
	for {
		next := entityRe.ReplaceAllStringFunc(s, resolveEntity)
		if next == s {
			return s
		}
		s = next
	}
}

func resolveEntity(m string) string {
	if !strings.HasPrefix(m, "&#") {
		return namedEntities[m]
	}
	digits, base := m[2:len(m)-1], 10
	if digits[0] == 'x' || digits[0] == 'X' {
		digits, base = digits[1:], 16
	}
	n, err := strconv.ParseInt(digits, base, 32)
	if err != nil {
		return ""
	}
	switch n {
	case 8216, 8217:
		return "'"
	case 8220, 8221, '"':
		return "&quot;"
	case '<':
		return "&lt;"
	case '>':
		return "&gt;"
	case 8211:
		return "-"
	case 8212:
		return "--"
	case 8230:
		return "..."
	case '\t':
		return " "
	case '\n', '\r':
		return "\n"
	case '\\':
		return `\\`
	}
	if n >= 32 && n < 127 {
		return string(rune(n))
	}
	return ""
}

// Tags that must never open in a captured document. The first group is
// banned everywhere; the second only below <body, since the head of the
// template legitimately carries <meta> and <style>.
var (
	bannedTagsRe = regexp.MustCompile(`(?i)<(/?)(script|iframe|object|embed|frame|frameset|base|form)\b`)
	bodyTagsRe   = regexp.MustCompile(`(?i)<(/?)(style|link|meta)\b`)
)

// neutralize rewrites tag openers that entity resolution may have turned
// back into markup ("&lt;script" in page text) into inert text.
func neutralize(s string) string {
	s = bannedTagsRe.ReplaceAllString(s, "[$1$2")
	i := strings.Index(strings.ToLower(s), "<body")
	if i < 0 {
		return bodyTagsRe.ReplaceAllString(s, "[$1$2")
	}
	return s[:i] + bodyTagsRe.ReplaceAllString(s[i:], "[$1$2")
}
