package content

import (
	"bytes"
	"html/template"

	"github.com/yuin/goldmark"
	goldmarkHTML "github.com/yuin/goldmark/renderer/html"
)

// Raw HTML in the source is omitted because the unsafe renderer option is not set.
var markdownRenderer = goldmark.New(
	goldmark.WithRendererOptions(
		goldmarkHTML.WithHardWraps(),
	),
)

// RenderMarkdown converts catalog Markdown to HTML safe for templates.
func RenderMarkdown(source string) (template.HTML, error) {
	var buffer bytes.Buffer
	if err := markdownRenderer.Convert([]byte(source), &buffer); err != nil {
		return "", err
	}
	return template.HTML(buffer.String()), nil
}
