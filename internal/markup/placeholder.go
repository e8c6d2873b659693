package markup

import (
	"regexp"

	"math2image/internal/images"
)

var (
	placeholderToken = regexp.MustCompile(`(?i)<(?:mi|mo|mn|mtext|ms)\b[^>]*>\s*(?:\x{E000}|&#xE000;|&#57344;)\s*</(?:mi|mo|mn|mtext|ms)>`)
	markerOnlyRow    = regexp.MustCompile(`<mrow\b[^>]*>\s*` + regexp.QuoteMeta(images.Marker) + `\s*</mrow>`)
	emptyRowBefore   = regexp.MustCompile(`(?:<mrow\b[^>]*>\s*</mrow>|<mrow\b[^>]*/>)\s*(` + regexp.QuoteMeta(images.Marker) + `)`)
	emptyRowAfter    = regexp.MustCompile(`(` + regexp.QuoteMeta(images.Marker) + `)\s*(?:<mrow\b[^>]*>\s*</mrow>|<mrow\b[^>]*/>)`)
)

// PlaceholderStages rewrite whatever token element the translator put the
// image placeholder in to images.Marker, and drop wrappers left around it.
var PlaceholderStages = []Stage{
	pattern("placeholder-token", placeholderToken, images.Marker),
	{Name: "unwrap-marker-rows", Apply: func(s string) string {
		for markerOnlyRow.MatchString(s) {
			s = markerOnlyRow.ReplaceAllString(s, images.Marker)
		}
		return s
	}},
	{Name: "drop-empty-sibling-rows", Apply: func(s string) string {
		for emptyRowBefore.MatchString(s) || emptyRowAfter.MatchString(s) {
			s = emptyRowBefore.ReplaceAllString(s, "$1")
			s = emptyRowAfter.ReplaceAllString(s, "$1")
		}
		return s
	}},
}
