package report

import (
	"bytes"
	"html"
	"html/template"

	"github.com/yuin/goldmark"
	"github.com/yuin/goldmark/extension"
)

var markdownConverter = goldmark.New(
	goldmark.WithExtensions(
		extension.Table,
		extension.Strikethrough,
	),
)

// MarkdownToHTML renders report markdown to an HTML fragment. On converter
// failure the raw text is preserved inside a <pre> block.
func MarkdownToHTML(markdown string) template.HTML {
	if markdown == "" {
		return ""
	}
	var buf bytes.Buffer
	if err := markdownConverter.Convert([]byte(markdown), &buf); err != nil {
		return template.HTML("<pre>" + html.EscapeString(markdown) + "</pre>")
	}
	return template.HTML(buf.String())
}
