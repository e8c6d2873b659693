// Package markup turns user-supplied TeX or MathML into MathML the renderer
// accepts: entity decoding, TeX quirk repair, translation, structural
// completion, image embedding and, as a last resort, sanitation.
package markup

import (
	"regexp"
	"strings"
)

// Format is the notation an equation is written in.
type Format string

const (
	TeX    Format = "TeX"
	MathML Format = "MathML"
)

// ParseFormat accepts the two format names exactly as clients send them.
func ParseFormat(s string) (Format, bool) {
	switch Format(s) {
	case TeX, MathML:
		return Format(s), true
	}
	return "", false
}

// Stage is a named pure text transform.
type Stage struct {
	Name  string
	Apply func(string) string
}

// Run applies stages in order.
func Run(stages []Stage, s string) string {
	for _, st := range stages {
		s = st.Apply(s)
	}
	return s
}

func literal(name, old, repl string) Stage {
	return Stage{Name: name, Apply: func(s string) string {
		return strings.ReplaceAll(s, old, repl)
	}}
}

func pattern(name string, re *regexp.Regexp, repl string) Stage {
	return Stage{Name: name, Apply: func(s string) string {
		return re.ReplaceAllString(s, repl)
	}}
}

// collapse replaces old with repl until old no longer occurs. repl must be
// shorter than old so every round shrinks the input.
func collapse(name, old, repl string) Stage {
	if len(repl) >= len(old) {
		panic("markup: collapse stage " + name + " would not terminate")
	}
	return Stage{Name: name, Apply: func(s string) string {
		for strings.Contains(s, old) {
			s = strings.ReplaceAll(s, old, repl)
		}
		return s
	}}
}
