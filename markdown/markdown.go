// Package markdown turns stored post and page bodies into safe HTML.
// Markdown bodies go through goldmark; every body, markdown or HTML from
// the editor, is sanitized with a bluemonday UGC policy.
package markdown

import (
	"bytes"
	"html"
	"regexp"
	"strings"

	"github.com/microcosm-cc/bluemonday"
	"github.com/yuin/goldmark"
	"github.com/yuin/goldmark/extension"
	goldhtml "github.com/yuin/goldmark/renderer/html"
)

// Body formats.
const (
	FormatHTML     = "html"
	FormatMarkdown = "markdown"
)

var (
	md = goldmark.New(
		goldmark.WithExtensions(extension.GFM),
		goldmark.WithRendererOptions(goldhtml.WithUnsafe()),
	)
	codeLanguage = regexp.MustCompile(`^language-[\w-]+$`)
	ugc          = newPolicy()
	strict       = bluemonday.StrictPolicy()
)

func newPolicy() *bluemonday.Policy {
	p := bluemonday.UGCPolicy()
	p.AllowAttrs("class").Matching(bluemonday.SpaceSeparatedTokens).OnElements("div", "span", "p", "figure", "img")
	p.AllowAttrs("class").Matching(codeLanguage).OnElements("code")
	p.AllowElements("figure", "figcaption")
	p.AllowAttrs("target").Matching(bluemonday.Paragraph).OnElements("a")
	p.AddTargetBlankToFullyQualifiedLinks(false)
	return p
}

// ValidFormat reports whether f is a known body format.
func ValidFormat(f string) bool {
	return f == FormatHTML || f == FormatMarkdown
}

// Render converts body in the given format to sanitized HTML.
func Render(format, body string) string {
	if format == FormatMarkdown {
		var buf bytes.Buffer
		if err := md.Convert([]byte(body), &buf); err != nil {
			return html.EscapeString(body)
		}
		body = buf.String()
	}
	return Sanitize(body)
}

// Sanitize strips scripts, event handlers and other unsafe markup.
func Sanitize(s string) string {
	return ugc.Sanitize(s)
}

// PlainText returns the text content of an HTML fragment with whitespace
// collapsed.
func PlainText(s string) string {
	text := html.UnescapeString(strict.Sanitize(s))
	return strings.Join(strings.Fields(text), " ")
}

// Excerpt returns the first n words of the rendered body as plain text.
func Excerpt(format, body string, n int) string {
	words := strings.Fields(PlainText(Render(format, body)))
	if len(words) <= n {
		return strings.Join(words, " ")
	}
	return strings.Join(words[:n], " ") + "…"
}
