package markup

import (
	"bytes"
	"strings"
	"unicode/utf8"

	"golang.org/x/net/html"
	"golang.org/x/net/html/atom"
)

// MaxTextWidth is the longest text run, in runes, Sanitize leaves on one line.
const MaxTextWidth = 80

// htmlOnlyTags are dropped by Sanitize while their content is kept. The set
// covers every tag that makes an HTML parser break out of MathML content.
var htmlOnlyTags = map[string]bool{
	"a": true, "abbr": true, "address": true, "article": true, "aside": true,
	"b": true, "big": true, "blockquote": true, "body": true, "br": true,
	"caption": true, "center": true, "cite": true, "code": true, "col": true,
	"colgroup": true, "dd": true, "del": true, "div": true, "dl": true, "dt": true,
	"em": true, "embed": true, "figure": true, "font": true, "footer": true,
	"form": true, "h1": true, "h2": true, "h3": true, "h4": true, "h5": true,
	"h6": true, "head": true, "header": true, "hr": true, "html": true, "i": true,
	"img": true, "input": true, "ins": true, "kbd": true, "label": true, "li": true,
	"link": true, "listing": true, "main": true, "mark": true, "menu": true,
	"meta": true, "nav": true, "nobr": true, "ol": true, "p": true, "pre": true,
	"q": true, "ruby": true, "s": true, "samp": true, "section": true,
	"small": true, "span": true, "strike": true, "strong": true, "sub": true,
	"sup": true, "table": true, "tbody": true, "td": true, "tfoot": true,
	"th": true, "thead": true, "tr": true, "tt": true, "u": true, "ul": true,
	"var": true, "wbr": true,
}

// droppedBlocks are removed together with their content.
var droppedBlocks = map[string]bool{
	"script": true, "style": true, "title": true, "noscript": true,
	"iframe": true, "object": true, "template": true, "textarea": true,
	"xmp": true, "noembed": true, "noframes": true, "plaintext": true,
}

// emptyAllowed are MathML elements that are meaningful without children.
var emptyAllowed = map[string]bool{
	"math": true, "mspace": true, "mglyph": true, "none": true,
	"mprescripts": true, "malignmark": true, "maligngroup": true,
}

var tokenElements = map[string]bool{
	"mi": true, "mo": true, "mn": true, "mtext": true, "ms": true,
}

// textParents may hold character data directly.
var textParents = map[string]bool{
	"mi": true, "mo": true, "mn": true, "mtext": true, "ms": true,
	"annotation": true,
}

// Sanitize reduces hostile or broken markup to something the renderer can
// lay out: the first <math> element only, no HTML wrappers or scripts, no
// empty leaves and no overlong text runs.
func Sanitize(markup string) string {
	return restructure(strip(markup))
}

// strip keeps the first <math> element and removes everything that is not
// MathML, working on the token stream so broken nesting does not matter.
func strip(markup string) string {
	z := html.NewTokenizer(strings.NewReader(markup))

	var all, span strings.Builder
	sawMath, doneMath := false, false
	depth := 0
	skip := ""

	emit := func(raw []byte) {
		all.Write(raw)
		if sawMath && !doneMath {
			span.Write(raw)
		}
	}

	for {
		tt := z.Next()
		if tt == html.ErrorToken {
			// io.EOF or a tokenizer failure; either way keep what was read
			break
		}
		raw := append([]byte(nil), z.Raw()...)

		switch tt {
		case html.CommentToken, html.DoctypeToken:
			continue

		case html.TextToken:
			if skip == "" {
				emit(raw)
			}

		case html.StartTagToken, html.EndTagToken, html.SelfClosingTagToken:
			name, _ := z.TagName()
			tag := strings.ToLower(string(name))

			if skip != "" {
				if tt == html.EndTagToken && tag == skip {
					skip = ""
				}
				continue
			}
			if droppedBlocks[tag] {
				if tt == html.StartTagToken {
					skip = tag
				}
				continue
			}
			if htmlOnlyTags[tag] {
				continue
			}

			if tag == "math" && !doneMath {
				switch tt {
				case html.StartTagToken:
					sawMath = true
					depth++
				case html.SelfClosingTagToken:
					if !sawMath {
						sawMath = true
						emit(raw)
						doneMath = true
						continue
					}
				case html.EndTagToken:
					if sawMath {
						depth--
						if depth == 0 {
							emit(raw)
							doneMath = true
							continue
						}
					}
				}
			}
			emit(raw)
		}
	}

	if !sawMath {
		return "<math>" + strings.TrimSpace(all.String()) + "</math>"
	}
	out := span.String()
	if !doneMath {
		out += strings.Repeat("</math>", depth)
	}
	return out
}

// restructure parses the stripped markup, prunes empty leaves, wraps long
// text and renders it back.
func restructure(markup string) string {
	body := &html.Node{Type: html.ElementNode, Data: "body", DataAtom: atom.Body}
	nodes, err := html.ParseFragment(strings.NewReader(markup), body)
	if err != nil {
		return markup
	}

	var buf bytes.Buffer
	for _, n := range nodes {
		pruneEmpty(n)
		wrapText(n)
		if n.Type == html.ElementNode || n.Type == html.TextNode {
			if err := html.Render(&buf, n); err != nil {
				return markup
			}
		}
	}
	return strings.TrimSpace(buf.String())
}

// pruneEmpty removes descendants that end up with no content, bottom up.
func pruneEmpty(n *html.Node) {
	for c := n.FirstChild; c != nil; {
		next := c.NextSibling
		switch c.Type {
		case html.ElementNode:
			pruneEmpty(c)
			if !emptyAllowed[c.Data] && isBlank(c) {
				n.RemoveChild(c)
			}
		case html.CommentNode, html.DoctypeNode:
			n.RemoveChild(c)
		}
		c = next
	}
}

func isBlank(n *html.Node) bool {
	for c := n.FirstChild; c != nil; c = c.NextSibling {
		if c.Type != html.TextNode || strings.TrimSpace(c.Data) != "" {
			return false
		}
	}
	return true
}

// wrapText moves stray text into <mtext> and splits every text run longer
// than MaxTextWidth into several token elements separated by line breaks.
func wrapText(n *html.Node) {
	for c := n.FirstChild; c != nil; {
		next := c.NextSibling
		switch {
		case c.Type == html.ElementNode && tokenElements[c.Data] && onlyText(c):
			lines := wrapLines(c.FirstChild.Data, MaxTextWidth)
			if len(lines) > 1 {
				replaceWithLines(n, c, c.Data, c.Namespace, c.Attr, lines)
			}
		case c.Type == html.ElementNode:
			wrapText(c)
		case c.Type == html.TextNode && n.Type == html.ElementNode:
			text := strings.TrimSpace(c.Data)
			switch {
			case text == "":
			case !textParents[n.Data]:
				// left bare by an unwrapped HTML tag
				replaceWithLines(n, c, "mtext", n.Namespace, nil, wrapLines(text, MaxTextWidth))
			default:
				if lines := wrapLines(c.Data, MaxTextWidth); len(lines) > 1 {
					replaceWithLines(n, c, "mtext", n.Namespace, nil, lines)
				}
			}
		}
		c = next
	}
}

func onlyText(n *html.Node) bool {
	return n.FirstChild != nil && n.FirstChild == n.LastChild && n.FirstChild.Type == html.TextNode
}

func replaceWithLines(parent, old *html.Node, tag, ns string, attr []html.Attribute, lines []string) {
	for i, line := range lines {
		if i > 0 {
			parent.InsertBefore(&html.Node{
				Type:      html.ElementNode,
				Data:      "mspace",
				Namespace: ns,
				Attr:      []html.Attribute{{Key: "linebreak", Val: "newline"}},
			}, old)
		}
		el := &html.Node{
			Type:      html.ElementNode,
			Data:      tag,
			Namespace: ns,
			Attr:      append([]html.Attribute(nil), attr...),
		}
		el.AppendChild(&html.Node{Type: html.TextNode, Data: line})
		parent.InsertBefore(el, old)
	}
	parent.RemoveChild(old)
}

// wrapLines breaks s at spaces into lines of at most width runes; words
// longer than width are cut.
func wrapLines(s string, width int) []string {
	if utf8.RuneCountInString(s) <= width {
		return []string{s}
	}

	var lines []string
	var cur []rune
	flush := func() {
		if len(cur) > 0 {
			lines = append(lines, string(cur))
			cur = cur[:0]
		}
	}

	for _, word := range strings.Fields(s) {
		w := []rune(word)
		for len(w) > width {
			flush()
			lines = append(lines, string(w[:width]))
			w = w[width:]
		}
		if len(w) == 0 {
			continue
		}
		switch {
		case len(cur) == 0:
			cur = append(cur, w...)
		case len(cur)+1+len(w) <= width:
			cur = append(cur, ' ')
			cur = append(cur, w...)
		default:
			flush()
			cur = append(cur, w...)
		}
	}
	flush()
	return lines
}
