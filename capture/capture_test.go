package capture

import (
	"strings"
	"testing"
)

var longText = strings.Repeat("The quick brown fox jumps over the lazy dog. ", 5)

func TestCapture_ImageAltAndScript(t *testing.T) {
	doc := New().Capture(Page{
		Title: "Cats",
		URL:   "https://example.org/cats",
		HTML: `<html><head><title>Cats</title><script>var x = 1;</script></head>
<body><p>Hello</p><img alt="cat" src="c.png"><img src="nope.png"><script>alert(1)</script></body></html>`,
	})
	if !strings.Contains(doc.HTML, "[Image: cat]") {
		t.Fatalf("missing image placeholder:\n%s", doc.HTML)
	}
	if strings.Contains(strings.ToLower(doc.HTML), "<script") {
		t.Fatalf("script survived:\n%s", doc.HTML)
	}
	if strings.Contains(doc.HTML, "nope.png") || strings.Contains(doc.HTML, "<img") {
		t.Fatalf("image survived:\n%s", doc.HTML)
	}
	if doc.Fallback || doc.Empty() {
		t.Fatalf("unexpected fallback/empty: %+v", doc)
	}
}

func TestCapture_MainContentWins(t *testing.T) {
	doc := New().Capture(Page{
		URL: "https://example.org/post",
		HTML: `<html><head><title>Post</title></head><body>
<nav>SITE NAVIGATION</nav>
<main><p>too short</p></main>
<article><h2>Body</h2><p>` + longText + `</p></article>
<footer>FOOTER TEXT</footer></body></html>`,
	})
	if !strings.Contains(doc.HTML, "quick brown fox") {
		t.Fatalf("article text missing:\n%s", doc.HTML)
	}
	if strings.Contains(doc.HTML, "SITE NAVIGATION") || strings.Contains(doc.HTML, "too short") {
		t.Fatalf("wrong region chosen:\n%s", doc.HTML)
	}
	if doc.Title != "Post" {
		t.Fatalf("title = %q", doc.Title)
	}
}

func TestCapture_BodyFallbackStripsBoilerplate(t *testing.T) {
	doc := New().Capture(Page{
		Title: "Page",
		URL:   "https://example.org/",
		HTML: `<body><header>HEAD</header><nav>NAV</nav><div class="menu">MENU</div>
<div><p>Real content</p></div><aside>ASIDE</aside><footer>FOOT</footer></body>`,
	})
	for _, gone := range []string{">HEAD<", "NAV", "MENU", "ASIDE", "FOOT"} {
		if strings.Contains(doc.HTML, gone) {
			t.Errorf("boilerplate %q survived", gone)
		}
	}
	if !strings.Contains(doc.HTML, "Real content") {
		t.Fatalf("content missing:\n%s", doc.HTML)
	}
}

func TestCapture_TemplateAndASCII(t *testing.T) {
	doc := New().Capture(Page{
		Title: "Caf\u00e9 \u201cquotes\u201d",
		URL:   "https://example.org/cafe",
		HTML:  "<body><article><p>" + longText + " na\u00efve \u2014 done</p><p onclick=\"evil()\">x</p></article></body>",
	})
	h := doc.HTML
	if !strings.HasPrefix(h, "<!DOCTYPE html>") {
		t.Fatalf("no doctype: %q", h[:40])
	}
	for _, want := range []string{
		`<meta charset="UTF-8">`,
		`name="viewport"`,
		`<title>Caf &quot;quotes&quot;</title>`,
		`Source: <a href="https://example.org/cafe">https://example.org/cafe</a>`,
		"<main>\n<article>",
		"nave -- done",
	} {
		if !strings.Contains(h, want) {
			t.Errorf("missing %q", want)
		}
	}
	if strings.Contains(h, "onclick") {
		t.Error("event handler attribute survived")
	}
	for i := 0; i < len(h); i++ {
		if c := h[i]; c != '\n' && (c < 32 || c > 126) {
			t.Fatalf("non-printable byte 0x%02x at %d", c, i)
		}
	}
}

func TestCapture_EscapedScriptTextNeutralized(t *testing.T) {
	doc := New().Capture(Page{
		Title: "<script>alert(1)</script>",
		URL:   "https://example.org/x",
		HTML:  `<body><p>&lt;script&gt;alert(1)&lt;/script&gt; and &lt;style&gt;</p></body>`,
	})
	lower := strings.ToLower(doc.HTML)
	if strings.Contains(lower, "<script") {
		t.Fatalf("decoded script tag present:\n%s", doc.HTML)
	}
	if strings.Count(lower, "<style") != 1 {
		t.Fatalf("expected only the template style block:\n%s", doc.HTML)
	}
}

func TestCapture_EscapedMarkupStaysText(t *testing.T) {
	doc := New().Capture(Page{
		Title: "<img src=x onerror=alert(1)>",
		URL:   "https://example.org/x",
		HTML: `<body><p>&lt;img src=x onerror=alert(2)&gt; and ` +
			`&lt;a href="javascript:alert(3)"&gt;x&lt;/a&gt; and ` +
			`<span title="&#8220; onmouseover=alert(4) x=&#8221;">q</span></p></body>`,
	})
	h := doc.HTML
	for _, bad := range []string{"<img", `<a href="javascript`, `" onmouseover`} {
		if strings.Contains(h, bad) {
			t.Errorf("live markup %q in:\n%s", bad, h)
		}
	}
	for _, want := range []string{
		"<title>&lt;img src=x onerror=alert(1)&gt;</title>",
		"&lt;img src=x onerror=alert(2)&gt;",
	} {
		if !strings.Contains(h, want) {
			t.Errorf("missing %q in:\n%s", want, h)
		}
	}

	// The receiving frame cleans the document again before dropping it.
	if again := Clean(h); strings.Contains(again, "<img") || strings.Contains(again, `<a href="javascript`) {
		t.Fatalf("Clean revived markup:\n%s", again)
	}
}

func TestCapture_FallbackAppliesPolicy(t *testing.T) {
	c := New()
	doc := c.fallback(Page{URL: "u", HTML: "<p onclick=\"x()\">caf\u00e9</p><script>bad()</script>"}, errNoDocument)
	if strings.Contains(doc.HTML, "onclick") || strings.Contains(strings.ToLower(doc.HTML), "<script") {
		t.Fatalf("fallback kept active content:\n%s", doc.HTML)
	}
	if !strings.Contains(doc.HTML, "caf&#233;") {
		t.Fatalf("fallback lost text:\n%s", doc.HTML)
	}
}

func TestCapture_EmptyPage(t *testing.T) {
	doc := New().Capture(Page{Title: "", URL: "https://example.org/blank", HTML: ""})
	if !doc.Empty() {
		t.Fatalf("expected empty document: %+v", doc)
	}
	if !strings.HasPrefix(doc.HTML, "<!DOCTYPE html>") {
		t.Fatalf("fallback not wrapped: %q", doc.HTML)
	}

	doc = New().Capture(Page{Title: "t", URL: "u", HTML: "<body><div></div></body>"})
	if !doc.Empty() {
		t.Fatalf("textless page should be empty: %+v", doc)
	}
	if !strings.Contains(doc.HTML, "No content extracted.") {
		t.Fatalf("missing placeholder paragraph:\n%s", doc.HTML)
	}
}

func TestDocument_FileName(t *testing.T) {
	if got := (&Document{Title: "My Page: v2"}).FileName(); got != "My_Page__v2.html" {
		t.Fatalf("got %q", got)
	}
	if got := (&Document{}).FileName(); got != "webpage.html" {
		t.Fatalf("got %q", got)
	}
}

func TestDocument_Markdown(t *testing.T) {
	doc := New().Capture(Page{
		Title: "Notes",
		URL:   "https://example.org/notes",
		HTML:  `<body><article><h2>Section</h2><p>` + longText + `</p><a href="/rel">link</a></article></body>`,
	})
	md, err := doc.Markdown()
	if err != nil {
		t.Fatal(err)
	}
	for _, want := range []string{"# Notes", "## Section", "quick brown fox", "https://example.org/rel"} {
		if !strings.Contains(md, want) {
			t.Errorf("markdown missing %q:\n%s", want, md)
		}
	}
}
