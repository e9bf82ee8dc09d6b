package annotate

import (
	"regexp"

	"github.com/adverant/nexus/keyword-underliner/internal/keywords"
)

const (
	underlineOpen  = "<u style='color:#FF4B4B'>"
	underlineClose = "</u>"
)

// TextSpan is a match of Keyword at [Start, End) byte offsets of the
// original text.
type TextSpan struct {
	Start   int    `json:"start"`
	End     int    `json:"end"`
	Keyword string `json:"keyword"`
}

// Text wraps every case-insensitive occurrence of each keyword in underline
// markup, keeping the matched text's original casing. Keywords are applied
// one after another in set order, each pass running over the output of the
// previous one, so later keywords can match inside markup inserted earlier.
func Text(text string, kw keywords.Set) string {
	for _, k := range kw {
		re := keywordPattern(k)
		text = re.ReplaceAllStringFunc(text, func(m string) string {
			return underlineOpen + m + underlineClose
		})
	}
	return text
}

// TextSpans reports where each keyword occurs in the original text, in set
// order and then by position. Spans of different keywords may overlap.
func TextSpans(text string, kw keywords.Set) []TextSpan {
	var spans []TextSpan
	for _, k := range kw {
		for _, loc := range keywordPattern(k).FindAllStringIndex(text, -1) {
			spans = append(spans, TextSpan{Start: loc[0], End: loc[1], Keyword: k})
		}
	}
	return spans
}

func keywordPattern(k string) *regexp.Regexp {
	return regexp.MustCompile("(?i)" + regexp.QuoteMeta(k))
}
