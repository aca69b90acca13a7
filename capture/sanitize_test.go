package capture

import (
	"strings"
	"testing"
)

func TestSanitize(t *testing.T) {
	tests := []struct {
		name, in, want string
	}{
		{"plain", "hello world", "hello world"},
		{"backslash padded", `a\b`, `a\\b`},
		{"even backslashes kept", `a\\b`, `a\\b`},
		{"trailing backslash", `a\`, `a\\`},
		{"smart punctuation", "\u201chi\u201d \u2014 it\u2019s \u2013 ok\u2026", `&quot;hi&quot; -- it's - ok...`},
		{"non-ascii dropped", "caf\u00e9", "caf"},
		{"named entities", "a&amp;b &lt;x&gt; &unknown; &nbsp;z", "a&b &lt;x&gt; z"},
		{"nested entity resolves", "&amp;lt;", "&lt;"},
		{"markup characters stay escaped", "&#60;b&#x3E; &#34;&quot;", "&lt;b&gt; &quot;&quot;"},
		{"numeric entities", "&#65;&#x42;&#8217;&#169;", "AB'"},
		{"numeric backslash", "&#92;", `\\`},
		{"crlf", "a\r\nb\rc", "a\nb\nc"},
		{"tab and controls", "a\tb\x00c\x7f", "a bc"},
		{"newline runs", "x\n\n\n\n\ny", "x\n\ny"},
		{"space runs", "a    b", "a b"},
		{"single newline kept", "a\nb", "a\nb"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := Sanitize(tt.in); got != tt.want {
				t.Fatalf("Sanitize(%q) = %q, want %q", tt.in, got, tt.want)
			}
		})
	}
}

func assertSafe(t *testing.T, in, out string) {
	t.Helper()
	for i := 0; i < len(out); i++ {
		c := out[i]
		if c != '\n' && (c < 32 || c > 126) {
			t.Fatalf("Sanitize(%q) has byte 0x%02x at %d", in, c, i)
		}
	}
	if strings.Contains(out, "\n\n\n") || strings.Contains(out, "  ") {
		t.Fatalf("Sanitize(%q) left whitespace runs: %q", in, out)
	}
	if again := Sanitize(out); again != out {
		t.Fatalf("not idempotent for %q:\n once: %q\ntwice: %q", in, out, again)
	}
}

func FuzzSanitize(f *testing.F) {
	for _, seed := range []string{
		"", `\`, `\\\`, "&amp;amp;amp;", "&#38;#38;", "&#x26;lt;", "\r\r\n\n\n",
		"\u00e9\u2019\U0001F600", "a &#9; b", "&#13;&#10;&#10;", `\&#92;`, "&#0;", "&#x110000;",
		"  \n  \n  ", "\xff\xfe", "&lt;script&gt;",
	} {
		f.Add(seed)
	}
	f.Fuzz(func(t *testing.T, in string) {
		assertSafe(t, in, Sanitize(in))
	})
}

func TestASCIIFallback(t *testing.T) {
	in := "a\tb\x01\u00e9\u0085\r\n~\x7f"
	want := "a\tb &#233; \r\n~ "
	if got := ASCIIFallback(in); got != want {
		t.Fatalf("ASCIIFallback = %q, want %q", got, want)
	}
}

func TestClean(t *testing.T) {
	got := Clean("  \\u00e9x &lt;script&gt;go()&lt;/script&gt;  ")
	if strings.Contains(got, "<script") || strings.Contains(got, "</script") {
		t.Fatalf("Clean left a script tag: %q", got)
	}
	if !strings.HasPrefix(got, "x &lt;script&gt;go()") {
		t.Fatalf("Clean = %q", got)
	}
}

func TestEnsureDocument(t *testing.T) {
	if got := EnsureDocument("<p>x</p>"); got != "<!DOCTYPE html>\n<html>\n<p>x</p>\n</html>" {
		t.Fatalf("got %q", got)
	}
	full := "<!DOCTYPE html>\n<html><body></body></html>"
	if got := EnsureDocument(full); got != full {
		t.Fatalf("complete document changed: %q", got)
	}
}
