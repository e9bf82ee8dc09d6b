package annotate

import (
	"reflect"
	"testing"

	"github.com/adverant/nexus/keyword-underliner/internal/keywords"
)

func TestText(t *testing.T) {
	testCases := []struct {
		name     string
		text     string
		keywords string
		want     string
	}{
		{
			name:     "preserves casing",
			text:     "The Cat sat",
			keywords: "cat",
			want:     "The <u style='color:#FF4B4B'>Cat</u> sat",
		},
		{
			name:     "no keywords",
			text:     "abc",
			keywords: "",
			want:     "abc",
		},
		{
			name:     "global replacement",
			text:     "cat CAT cAt",
			keywords: "cat",
			want:     "<u style='color:#FF4B4B'>cat</u> <u style='color:#FF4B4B'>CAT</u> <u style='color:#FF4B4B'>cAt</u>",
		},
		{
			name:     "literal metacharacters",
			text:     "cost is $5.00 (approx) or 5x00",
			keywords: "$5.00, (approx)",
			want:     "cost is <u style='color:#FF4B4B'>$5.00</u> <u style='color:#FF4B4B'>(approx)</u> or 5x00",
		},
		{
			name:     "substring inside words",
			text:     "Concatenate",
			keywords: "cat",
			want:     "Con<u style='color:#FF4B4B'>cat</u>enate",
		},
		{
			name:     "later keyword matches inserted markup",
			text:     "red",
			keywords: "red, color",
			want:     "<u style='<u style='color:#FF4B4B'>color</u>:#FF4B4B'>red</u>",
		},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			if got := Text(tc.text, keywords.Parse(tc.keywords)); got != tc.want {
				t.Fatalf("Text(%q, %q)\n got: %s\nwant: %s", tc.text, tc.keywords, got, tc.want)
			}
		})
	}
}

func TestTextSpans(t *testing.T) {
	spans := TextSpans("Catalog of cats", keywords.Parse("cat, log"))
	want := []TextSpan{
		{Start: 0, End: 3, Keyword: "cat"},
		{Start: 11, End: 14, Keyword: "cat"},
		{Start: 4, End: 7, Keyword: "log"},
	}
	if !reflect.DeepEqual(spans, want) {
		t.Fatalf("TextSpans() = %+v, want %+v", spans, want)
	}
	if spans := TextSpans("abc", nil); spans != nil {
		t.Fatalf("expected no spans, got %+v", spans)
	}
}
