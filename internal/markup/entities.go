package markup

import "strings"

var basicEntities = []Stage{
	literal("unescape-gt", "&gt;", ">"),
	literal("unescape-lt", "&lt;", "<"),
	literal("unescape-amp", "&amp;", "&"),
	literal("unescape-quot", "&quot;", `"`),
	literal("unescape-apos", "&#039;", "'"),
}

// TeXEntityStages turn non-breaking spaces into plain spaces and unescape
// the basic HTML entities.
var TeXEntityStages = append([]Stage{
	literal("nbsp-named", "&nbsp;", " "),
	literal("nbsp-decimal", "&#160;", " "),
	literal("nbsp-hex", "&#xa0;", " "),
	literal("nbsp-hex-upper", "&#xA0;", " "),
	literal("nbsp-rune", "\u00a0", " "),
}, basicEntities...)

// MathMLEntityStages unescape a document that arrived fully escaped and
// replace &nbsp;, which XML does not define.
var MathMLEntityStages = []Stage{
	{Name: "unescape-document", Apply: unescapeEscapedDocument},
	literal("nbsp-named", "&nbsp;", "&#160;"),
}

func unescapeEscapedDocument(s string) string {
	if strings.Contains(s, "<math") || !strings.Contains(s, "&lt;math") {
		return s
	}
	return Run(basicEntities, s)
}
