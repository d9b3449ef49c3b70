package narrative

import (
	"bytes"
	"fmt"
	"strings"

	"github.com/yuin/goldmark"
	"github.com/yuin/goldmark/extension"
)

var markdown = goldmark.New(goldmark.WithExtensions(extension.Table))

var markdownEscaper = strings.NewReplacer(
	`\`, `\\`, "`", "\\`", `*`, `\*`, `_`, `\_`, `#`, `\#`, `|`, `\|`, `!`, `\!`,
	`[`, `\[`, `]`, `\]`, `(`, `\(`, `)`, `\)`, `<`, `\<`, `>`, `\>`,
)

// EscapeMarkdown makes visitor-supplied text safe to place inside markdown:
// it renders as the literal characters typed, on a single line.
func EscapeMarkdown(text string) string {
	return markdownEscaper.Replace(strings.Join(strings.Fields(text), " "))
}

// ToMarkdown lays an analysis out as a results-page section.
func ToMarkdown(a *Analysis) string {
	var b strings.Builder
	fmt.Fprintf(&b, "## %s\n\n%s\n", a.Headline, a.Summary)

	if len(a.Insights) > 0 {
		b.WriteString("\n### Key insights\n\n")
		for _, insight := range a.Insights {
			fmt.Fprintf(&b, "- %s\n", insight)
		}
	}

	if len(a.Recommendations) > 0 {
		b.WriteString("\n### Recommended next steps\n\n")
		for i, rec := range a.Recommendations {
			fmt.Fprintf(&b, "%d. %s\n", i+1, rec)
		}
	}

	return b.String()
}

// RenderHTML converts markdown to HTML. Raw HTML in the source is not
// passed through.
func RenderHTML(md string) (string, error) {
	var buf bytes.Buffer
	if err := markdown.Convert([]byte(md), &buf); err != nil {
		return "", err
	}
	return buf.String(), nil
}
