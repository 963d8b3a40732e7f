package markdown

import (
	"strings"
	"testing"
)

func TestRenderMarkdownHeadings(t *testing.T) {
	tests := []struct {
		input    string
		expected string
	}{
		{"# Heading 1", "<h1>Heading 1</h1>"},
		{"## Heading 2", "<h2>Heading 2</h2>"},
		{"### Heading 3", "<h3>Heading 3</h3>"},
	}
	for _, tt := range tests {
		got := strings.TrimSpace(Render(FormatMarkdown, tt.input))
		if got != tt.expected {
			t.Errorf("Render(%q) = %q, want %q", tt.input, got, tt.expected)
		}
	}
}

func TestRenderMarkdownCodeBlockKeepsLanguage(t *testing.T) {
	got := Render(FormatMarkdown, "```go\nfmt.Println(\"hello\")\n```")
	if !strings.Contains(got, `class="language-go"`) {
		t.Errorf("code block should keep language class: %q", got)
	}
}

func TestSanitizeCodeClassOnlyLanguage(t *testing.T) {
	got := Sanitize(`<code class="language-shell-session">ls</code><code class="btn">x</code>`)
	if !strings.Contains(got, `<code class="language-shell-session">`) {
		t.Errorf("language class dropped: %q", got)
	}
	if strings.Contains(got, "btn") {
		t.Errorf("arbitrary class kept on code: %q", got)
	}
}

func TestRenderStripsScripts(t *testing.T) {
	tests := []struct {
		format string
		input  string
	}{
		{FormatHTML, `<p onclick="x()">hi</p><script>alert(1)</script>`},
		{FormatMarkdown, "hi\n\n<script>alert(1)</script>"},
		{FormatHTML, `<a href="javascript:alert(1)">hi</a>`},
	}
	for _, tt := range tests {
		got := Render(tt.format, tt.input)
		for _, bad := range []string{"<script", "onclick", "javascript:"} {
			if strings.Contains(got, bad) {
				t.Errorf("Render(%s, %q) = %q, should not contain %q", tt.format, tt.input, got, bad)
			}
		}
		if !strings.Contains(got, "hi") {
			t.Errorf("Render(%s, %q) dropped text: %q", tt.format, tt.input, got)
		}
	}
}

func TestRenderHTMLKeepsEditorMarkup(t *testing.T) {
	in := `<figure class="wide"><img src="/public/uploads/2026/01/a.jpg" alt="A"><figcaption>Cap</figcaption></figure>`
	got := Render(FormatHTML, in)
	if !strings.Contains(got, `<figure class="wide">`) || !strings.Contains(got, "<figcaption>Cap</figcaption>") {
		t.Errorf("Render dropped figure markup: %q", got)
	}
}

func TestExcerpt(t *testing.T) {
	got := Excerpt(FormatMarkdown, "**One** two & three four five", 3)
	if got != "One two &…" {
		t.Errorf("Excerpt = %q", got)
	}
	if got := Excerpt(FormatHTML, "<p>short</p>", 10); got != "short" {
		t.Errorf("Excerpt short = %q", got)
	}
}

func TestValidFormat(t *testing.T) {
	if !ValidFormat("html") || !ValidFormat("markdown") || ValidFormat("rst") {
		t.Error("ValidFormat mismatch")
	}
}
