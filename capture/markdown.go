package capture

import (
	"fmt"

	"github.com/JohannesKaufmann/html-to-markdown/v2/converter"
	"github.com/JohannesKaufmann/html-to-markdown/v2/plugin/base"
	"github.com/JohannesKaufmann/html-to-markdown/v2/plugin/commonmark"
	"github.com/JohannesKaufmann/html-to-markdown/v2/plugin/table"
)

var mdConverter = converter.NewConverter(
	converter.WithPlugins(
		base.NewBasePlugin(),
		commonmark.NewCommonmarkPlugin(),
		table.NewTablePlugin(),
	),
)

// Markdown renders the document as Markdown, resolving relative links
// against the source URL. Knowledge uploads can use it instead of HTML.
func (d *Document) Markdown() (string, error) {
	var (
		md  string
		err error
	)
	if d.SourceURL != "" {
		md, err = mdConverter.ConvertString(d.HTML, converter.WithDomain(d.SourceURL))
	} else {
		md, err = mdConverter.ConvertString(d.HTML)
	}
	if err != nil {
		return "", fmt.Errorf("capture: markdown: %w", err)
	}
	return md, nil
}
