/**
 * Image annotation - underline OCR words that contain a keyword
 *
 * Marks are computed from token boxes and burned into a copy of the
 * detection-order buffer, which is then returned in display order.
 */

package annotate

import (
	"image"
	"image/color"
	"strings"

	"github.com/adverant/nexus/keyword-underliner/internal/imaging"
	"github.com/adverant/nexus/keyword-underliner/internal/keywords"
	"github.com/adverant/nexus/keyword-underliner/internal/ocr"
)

const (
	// MarkOffset is the gap in pixels between a box bottom edge and its mark.
	MarkOffset = 2
	// MarkThickness is the stroke width of a mark in pixels.
	MarkThickness = 4
)

// MarkColor is the underline color.
var MarkColor = color.RGBA{R: 255, A: 255}

// MatchMark is one underline segment.
type MatchMark struct {
	From      image.Point `json:"from"`
	To        image.Point `json:"to"`
	Color     color.RGBA  `json:"-"`
	Thickness int         `json:"thickness"`
	Text      string      `json:"text"`
	Keyword   string      `json:"keyword"`
}

// ImageAnnotation is the outcome of annotating one image.
type ImageAnnotation struct {
	Image   *imaging.Raster
	Marks   []MatchMark
	Matched bool
}

// MarkFor returns the underline for a token box: a horizontal segment
// MarkOffset pixels below the box, spanning its full width.
func MarkFor(box ocr.BoundingBox) MatchMark {
	r := box.Rect()
	y := r.Max.Y + MarkOffset
	return MatchMark{
		From:      image.Pt(r.Min.X, y),
		To:        image.Pt(r.Max.X, y),
		Color:     MarkColor,
		Thickness: MarkThickness,
	}
}

// Marks returns one mark per token whose cleaned text contains a keyword,
// in token order.
func Marks(tokens []ocr.Token, kw keywords.Set) []MatchMark {
	var marks []MatchMark
	for _, tok := range tokens {
		clean := strings.ToLower(strings.TrimSpace(tok.Text))
		if clean == "" {
			continue
		}
		matched, ok := kw.Match(clean)
		if !ok {
			continue
		}
		mark := MarkFor(tok.BoundingBox)
		mark.Text = tok.Text
		mark.Keyword = matched
		marks = append(marks, mark)
	}
	return marks
}

// Image draws the marks for all matching tokens onto a copy of original and
// returns it in display (RGB) order. original is the buffer the token boxes
// are valid for, normally the channel-reordered upload.
func Image(original *imaging.Raster, tokens []ocr.Token, kw keywords.Set) ImageAnnotation {
	canvas := original.Clone()
	marks := Marks(tokens, kw)
	for _, m := range marks {
		Draw(canvas, m)
	}
	return ImageAnnotation{
		Image:   canvas.Reorder(imaging.OrderRGB),
		Marks:   marks,
		Matched: len(marks) > 0,
	}
}

// Draw burns a horizontal mark into r. The stroke covers Thickness rows
// centered on the segment and every column from From.X to To.X inclusive;
// pixels outside r are skipped.
func Draw(r *imaging.Raster, m MatchMark) {
	x0, x1 := m.From.X, m.To.X
	if x0 > x1 {
		x0, x1 = x1, x0
	}
	thickness := m.Thickness
	if thickness < 1 {
		thickness = 1
	}
	top := m.From.Y - thickness/2

	for y := top; y < top+thickness; y++ {
		for x := x0; x <= x1; x++ {
			r.SetRGB(x, y, m.Color)
		}
	}
}
