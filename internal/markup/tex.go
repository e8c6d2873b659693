package markup

import (
	"regexp"
	"strings"
)

// TeXQuirkStages repair input the translator is known to reject. Order
// matters: the transparent-color forms go longest first and the collapses
// run last.
var TeXQuirkStages = []Stage{
	literal("transparent-color-empty", `\textcolor{transparent}{}`, `\\`),
	literal("transparent-color", `\textcolor{transparent}`, `\\`),
	literal("fraction-typo", `\fra{`, `\frac{`),
	literal("pi-r-superscript", `\pir^`, `\pi r^`),
	literal("times-r-superscript", `\timesr^`, `\times r^`),
	literal("times-s-superscript", `\timess^`, `\times s^`),
	literal("empty-superscript", `^{ }`, ""),
	pattern("dangling-superscript", regexp.MustCompile(`([^\\])\^\s*$`), "${1}^?"),
	{Name: "escape-hash", Apply: escapeHash},
	collapse("collapse-subscripts", "_{_{_{_{_{", "_{_{"),
	collapse("collapse-braces", "}}}}}", "}}"),
}

// escapeHash prefixes every # not already preceded by a backslash.
func escapeHash(s string) string {
	if !strings.Contains(s, "#") {
		return s
	}
	var b strings.Builder
	b.Grow(len(s) + 8)
	for i := 0; i < len(s); i++ {
		if s[i] == '#' && (i == 0 || s[i-1] != '\\') {
			b.WriteByte('\\')
		}
		b.WriteByte(s[i])
	}
	return b.String()
}
