// Package svg assembles renderer output into one standalone SVG document.
package svg

import (
	"errors"
	"fmt"
	"strconv"
	"strings"

	"github.com/beevik/etree"
)

// Header is prepended to every composed document.
const Header = `<?xml version="1.0" encoding="UTF-8"?>` +
	`<!DOCTYPE svg PUBLIC '-//W3C//DTD SVG 1.1//EN' 'http://www.w3.org/Graphics/SVG/1.1/DTD/svg11.dtd'>`

const (
	svgNS   = "http://www.w3.org/2000/svg"
	xlinkNS = "http://www.w3.org/1999/xlink"
)

var ErrNoRoots = errors.New("svg: renderer produced no <svg> roots")

// Compose joins roots left to right into one document. A single root is
// kept as is. Inline image references are rewritten to xlink:href so the
// result is valid SVG 1.1.
func Compose(roots []string) (string, error) {
	var body string
	switch len(roots) {
	case 0:
		return "", ErrNoRoots
	case 1:
		body = strings.TrimSpace(roots[0])
	default:
		var err error
		if body, err = composeRoots(roots); err != nil {
			return "", err
		}
	}
	return Header + linkInlineImages(body), nil
}

func composeRoots(roots []string) (string, error) {
	composite := etree.NewElement("svg")
	composite.CreateAttr("xmlns", svgNS)
	composite.CreateAttr("xmlns:xlink", xlinkNS)

	defs := etree.NewElement("defs")
	var groups []*etree.Element
	var offset, maxHeight float64

	for i, src := range roots {
		doc := etree.NewDocument()
		if err := doc.ReadFromString(src); err != nil {
			return "", fmt.Errorf("svg: parse root %d: %w", i, err)
		}
		root := doc.Root()
		if root == nil || root.Tag != "svg" {
			return "", fmt.Errorf("svg: root %d is not an <svg> element", i)
		}

		width, height := size(root)
		if height > maxHeight {
			maxHeight = height
		}

		g := etree.NewElement("g")
		g.CreateAttr("transform", "translate("+formatNumber(offset)+", 0)")

		children := append([]etree.Token(nil), root.Child...)
		for _, tok := range children {
			el, ok := tok.(*etree.Element)
			if !ok {
				continue
			}
			if el.Tag == "defs" {
				for _, d := range append([]etree.Token(nil), el.Child...) {
					if _, ok := d.(*etree.Element); ok {
						defs.AddChild(d)
					}
				}
				continue
			}
			g.AddChild(el)
		}
		groups = append(groups, g)
		offset += width
	}

	if len(defs.ChildElements()) > 0 {
		composite.AddChild(defs)
	}
	for _, g := range groups {
		composite.AddChild(g)
	}

	w, h := formatNumber(offset), formatNumber(maxHeight)
	composite.CreateAttr("viewBox", "0 0 "+w+" "+h)
	composite.CreateAttr("width", w)
	composite.CreateAttr("height", h)

	out := etree.NewDocument()
	out.SetRoot(composite)
	return out.WriteToString()
}

// size reads width and height from viewBox, falling back to the width and
// height attributes.
func size(root *etree.Element) (float64, float64) {
	if vb := strings.Fields(strings.ReplaceAll(root.SelectAttrValue("viewBox", ""), ",", " ")); len(vb) == 4 {
		return leadingFloat(vb[2]), leadingFloat(vb[3])
	}
	return leadingFloat(root.SelectAttrValue("width", "")), leadingFloat(root.SelectAttrValue("height", ""))
}

// leadingFloat parses the numeric prefix of s, so "2.5ex" reads as 2.5.
func leadingFloat(s string) float64 {
	s = strings.TrimSpace(s)
	end := 0
	for end < len(s) && strings.IndexByte("+-.0123456789eE", s[end]) >= 0 {
		end++
	}
	for end > 0 {
		if v, err := strconv.ParseFloat(s[:end], 64); err == nil {
			return v
		}
		end--
	}
	return 0
}

func formatNumber(v float64) string {
	return strconv.FormatFloat(v, 'f', -1, 64)
}

// linkInlineImages rewrites bare href data references to xlink:href and
// declares the xlink namespace on the root when it is missing.
func linkInlineImages(doc string) string {
	doc = strings.ReplaceAll(doc, ` href="data:image`, ` xlink:href="data:image`)
	if !strings.Contains(doc, "xlink:") || strings.Contains(doc, "xmlns:xlink") {
		return doc
	}
	i := strings.Index(doc, "<svg")
	if i < 0 {
		return doc
	}
	i += len("<svg")
	return doc[:i] + ` xmlns:xlink="` + xlinkNS + `"` + doc[i:]
}
