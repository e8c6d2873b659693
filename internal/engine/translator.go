package engine

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"regexp"
	"strings"
	"time"

	treeblood "github.com/wyatt915/goldmark-treeblood"
	"github.com/yuin/goldmark"

	"math2image/internal/metrics"
)

// TeXTranslator converts TeX through goldmark's treeblood extension, which
// turns $$...$$ display math into presentation MathML.
type TeXTranslator struct {
	md goldmark.Markdown
}

func NewTeXTranslator() *TeXTranslator {
	return &TeXTranslator{
		md: goldmark.New(
			goldmark.WithExtensions(
				treeblood.MathML(),
			),
		),
	}
}

// Translate returns one <math> element for tex. Top-level \\ line breaks
// split tex into rows that are translated separately and joined with
// newline <mspace> elements, since the translator renders a bare \\ as an
// operator.
func (t *TeXTranslator) Translate(ctx context.Context, tex string) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}
	defer metrics.ObserveEngine("translate", time.Now())

	rows := splitRows(tex)
	contents := make([]string, 0, len(rows))
	blank := true
	for _, row := range rows {
		// A display block must sit on one line to be picked up as math.
		flat := strings.Join(strings.Fields(row), " ")
		if flat == "" {
			contents = append(contents, "")
			continue
		}
		blank = false

		content, err := t.translateRow(flat)
		if err != nil {
			return "", err
		}
		contents = append(contents, content)
	}
	if blank {
		return "", errors.New("translate: empty TeX input")
	}

	if len(contents) == 1 {
		return `<math display="block">` + contents[0] + "</math>", nil
	}
	var b strings.Builder
	b.WriteString(`<math display="block">`)
	for i, c := range contents {
		if i > 0 {
			b.WriteString(lineBreak)
		}
		b.WriteString("<mrow>" + c + "</mrow>")
	}
	b.WriteString("</math>")
	return b.String(), nil
}

const lineBreak = `<mspace linebreak="newline"/>`

// translateRow converts one line of TeX and returns the presentation
// markup inside its <math> element.
func (t *TeXTranslator) translateRow(flat string) (string, error) {
	// the trailing space keeps an escaped dollar from meeting the closing $$
	source := "$$" + escapeDollars(flat) + " $$"

	var buf bytes.Buffer
	if err := t.md.Convert([]byte(source), &buf); err != nil {
		return "", fmt.Errorf("translate: %w", err)
	}

	mathml, ok := extractMath(buf.String())
	if !ok {
		return "", fmt.Errorf("translate: no MathML produced for %q", truncate(flat, 80))
	}
	return interTagSpace.ReplaceAllString(presentation(mathml), "><"), nil
}

var (
	semanticsOpen = regexp.MustCompile(`<semantics\b[^>]*>`)
	interTagSpace = regexp.MustCompile(`>[ \t]*\n\s*<`)
)

// extractMath cuts the span from the first <math to the last </math>.
func extractMath(html string) (string, bool) {
	start := strings.Index(html, "<math")
	end := strings.LastIndex(html, "</math>")
	if start < 0 || end < start {
		return "", false
	}
	return html[start : end+len("</math>")], true
}

// presentation returns the rendered child of the <semantics> wrapper in a
// <math> element, dropping the TeX annotation. Without a wrapper it returns
// the element's content.
func presentation(mathml string) string {
	inner := mathml
	if i := strings.IndexByte(inner, '>'); i >= 0 {
		inner = inner[i+1:]
	}
	inner = strings.TrimSuffix(inner, "</math>")

	loc := semanticsOpen.FindStringIndex(inner)
	if loc == nil {
		return strings.TrimSpace(inner)
	}
	end := strings.LastIndex(inner, "<annotation")
	if end < loc[1] {
		end = strings.LastIndex(inner, "</semantics>")
	}
	if end < loc[1] {
		return strings.TrimSpace(inner[loc[1]:])
	}
	return strings.TrimSpace(inner[loc[1]:end])
}

// splitRows splits tex at \\ line breaks that sit outside braces and
// \begin...\end environments. An optional [spacing] after a break is dropped.
func splitRows(tex string) []string {
	var rows []string
	depth, env, last := 0, 0, 0

	for i := 0; i < len(tex); i++ {
		switch tex[i] {
		case '{':
			depth++
		case '}':
			if depth > 0 {
				depth--
			}
		case '\\':
			rest := tex[i+1:]
			switch {
			case strings.HasPrefix(rest, `\`):
				if depth > 0 || env > 0 {
					i++
					continue
				}
				rows = append(rows, tex[last:i])
				last = skipSpacing(tex, i+2)
				i = last - 1
			case strings.HasPrefix(rest, "begin{"):
				env++
				i += len("begin")
			case strings.HasPrefix(rest, "end{"):
				if env > 0 {
					env--
				}
				i += len("end")
			default:
				// escaped character or command initial
				i++
			}
		}
	}
	return append(rows, tex[last:])
}

func skipSpacing(tex string, i int) int {
	j := i
	for j < len(tex) && (tex[j] == ' ' || tex[j] == '\t' || tex[j] == '\n') {
		j++
	}
	if j < len(tex) && tex[j] == '[' {
		if k := strings.IndexByte(tex[j:], ']'); k >= 0 {
			return j + k + 1
		}
	}
	return i
}

// escapeDollars escapes every unescaped $ so the text cannot close the
// surrounding $$ display block.
func escapeDollars(tex string) string {
	if !strings.Contains(tex, "$") {
		return tex
	}
	var b strings.Builder
	backslashes := 0
	for i := 0; i < len(tex); i++ {
		c := tex[i]
		if c == '$' && backslashes%2 == 0 {
			b.WriteByte('\\')
		}
		b.WriteByte(c)
		if c == '\\' {
			backslashes++
		} else {
			backslashes = 0
		}
	}
	return b.String()
}

func truncate(s string, maxLen int) string {
	if len(s) <= maxLen {
		return s
	}
	return s[:maxLen] + "..."
}
