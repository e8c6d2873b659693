package markup

import (
	"regexp"
	"strings"
)

// DefaultMathSize is the font size applied when the markup sets none.
const DefaultMathSize = "16px"

var (
	mathOpen        = regexp.MustCompile(`(?i)<math\b[^>]*>`)
	mathClose       = regexp.MustCompile(`(?i)</math>`)
	mathSelfClosed  = regexp.MustCompile(`(?i)<math\b([^>]*?)\s*/>`)
	mathJoin        = regexp.MustCompile(`(?i)</math>\s*<math\b[^>]*>`)
	hasMathSize     = regexp.MustCompile(`(?i)<mstyle\b[^>]*\bmathsize`)
	rootStyleOpen   = regexp.MustCompile(`(?is)^\s*<math\b[^>]*>\s*<mstyle\b[^>]*>`)
	rootStyleTable  = regexp.MustCompile(`(?is)^\s*<math\b[^>]*>\s*<mstyle\b[^>]*>\s*<mtable\b`)
	rootStyleClose  = regexp.MustCompile(`(?is)</mstyle>\s*</math>\s*$`)
	breakSelfClosed = regexp.MustCompile(`(?is)<mspace\s[^>]*?linebreak="newline"[^>]*?/>`)
	breakPaired     = regexp.MustCompile(`(?is)<mspace\s[^>]*?linebreak="newline"[^>]*>.*?</mspace>`)
	rowTag          = regexp.MustCompile(`(?i)<(/?)mrow\b[^>]*?(/?)>`)
)

// CompleteStructure gives mathml the shape the renderer expects: a single
// <math> root, a sizing <mstyle> directly under it, and an <mtable> of rows
// split at explicit line breaks. Applying it to its own output is a no-op.
func CompleteStructure(mathml, mathSize string) string {
	if mathSize == "" {
		mathSize = DefaultMathSize
	}
	s := strings.TrimSpace(mathml)

	s = mathSelfClosed.ReplaceAllString(s, "<math$1></math>")
	if !mathOpen.MatchString(s) {
		s = "<math>" + s + "</math>"
	}
	s = mathJoin.ReplaceAllString(s, "")

	if !hasMathSize.MatchString(s) {
		loc := mathOpen.FindStringIndex(s)
		closes := mathClose.FindAllStringIndex(s, -1)
		if len(closes) > 0 && closes[len(closes)-1][0] >= loc[1] {
			end := closes[len(closes)-1][0]
			s = s[:loc[1]] + `<mstyle mathsize="` + mathSize + `">` + s[loc[1]:end] + "</mstyle>" + s[end:]
		}
	}

	if rootStyleTable.MatchString(s) {
		return s
	}
	open := rootStyleOpen.FindStringIndex(s)
	closing := rootStyleClose.FindStringIndex(s)
	if open == nil || closing == nil || closing[0] < open[1] {
		// sizing wrapper is not directly under the root; leave the layout alone
		return s
	}

	head, body, tail := s[:open[1]], s[open[1]:closing[0]], s[closing[0]:]
	if isSingleRow(body) {
		body = "<mtable>" + body + "</mtable>"
	} else {
		body = "<mtable><mrow>" + body + "</mrow></mtable>"
	}
	body = breakSelfClosed.ReplaceAllString(body, "</mrow><mrow>")
	body = breakPaired.ReplaceAllString(body, "</mrow><mrow>")

	return head + body + tail
}

// isSingleRow reports whether body is exactly one <mrow> element, the first
// open tag matching the last close tag.
func isSingleRow(body string) bool {
	body = strings.TrimSpace(body)
	if len(body) < 5 || !strings.EqualFold(body[:5], "<mrow") {
		return false
	}
	depth := 0
	for _, m := range rowTag.FindAllStringSubmatchIndex(body, -1) {
		closing := m[3] > m[2]
		selfClosed := m[5] > m[4]
		switch {
		case selfClosed:
			if depth == 0 {
				return false
			}
		case closing:
			depth--
			if depth == 0 {
				return m[1] == len(body)
			}
		default:
			depth++
		}
	}
	return false
}
