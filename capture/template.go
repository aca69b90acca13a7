package capture

import (
	"html"
	"strings"
)

const pageStyle = `body { font-family: -apple-system, BlinkMacSystemFont, 'Segoe UI', Roboto, sans-serif; line-height: 1.6; max-width: 800px; margin: 0 auto; padding: 20px; }
main { margin-top: 20px; }
article { padding: 20px 0; }
h1, h2, h3, h4, h5, h6 { margin-top: 1.5em; margin-bottom: 0.5em; }
p { margin: 1em 0; }
a { color: #0066cc; }
pre, code { background: #f4f4f4; padding: 2px 4px; border-radius: 3px; }
pre { padding: 10px; overflow-x: auto; }`

// render wraps body in the fixed document template. title and sourceURL
// are escaped; body is trusted markup from the policy.
func render(title, sourceURL, body string) string {
	t := html.EscapeString(title)
	u := html.EscapeString(sourceURL)

	var b strings.Builder
	b.Grow(len(body) + len(pageStyle) + 512)
	b.WriteString("<!DOCTYPE html>\n<html lang=\"en\">\n<head>\n")
	b.WriteString("<meta charset=\"UTF-8\">\n")
	b.WriteString("<meta name=\"viewport\" content=\"width=device-width, initial-scale=1.0\">\n")
	b.WriteString("<title>" + t + "</title>\n")
	b.WriteString("<style>\n" + pageStyle + "\n</style>\n")
	b.WriteString("</head>\n<body>\n<header>\n")
	b.WriteString("<h1>" + t + "</h1>\n")
	b.WriteString("<p>Source: <a href=\"" + u + "\">" + u + "</a></p>\n")
	b.WriteString("</header>\n<main>\n<article>\n")
	b.WriteString(body)
	b.WriteString("\n</article>\n</main>\n</body>\n</html>")
	return b.String()
}
