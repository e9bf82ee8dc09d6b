package annotate

import (
	"bytes"
	"image"
	"image/color"
	"testing"

	"github.com/adverant/nexus/keyword-underliner/internal/imaging"
	"github.com/adverant/nexus/keyword-underliner/internal/keywords"
	"github.com/adverant/nexus/keyword-underliner/internal/ocr"
)

func whiteRaster(w, h int, order imaging.ChannelOrder) *imaging.Raster {
	r := imaging.NewRaster(w, h, order)
	for i := range r.Pix {
		r.Pix[i] = 255
	}
	return r
}

func token(text string, x, y, w, h int) ocr.Token {
	return ocr.Token{Text: text, BoundingBox: ocr.BoundingBox{X: x, Y: y, Width: w, Height: h}}
}

func TestMarkFor(t *testing.T) {
	m := MarkFor(ocr.BoundingBox{X: 10, Y: 20, Width: 30, Height: 8})
	if m.From != image.Pt(10, 30) || m.To != image.Pt(40, 30) {
		t.Fatalf("unexpected segment %v-%v", m.From, m.To)
	}
	if m.Thickness != 4 {
		t.Fatalf("thickness = %d, want 4", m.Thickness)
	}
	if m.Color != (color.RGBA{R: 255, A: 255}) {
		t.Fatalf("unexpected color %v", m.Color)
	}
}

func TestMarks(t *testing.T) {
	tokens := []ocr.Token{
		token("Total:", 0, 0, 20, 10),
		token("   ", 30, 0, 5, 10),
		token("INVOICE", 40, 0, 50, 10),
		token("amount", 100, 0, 40, 10),
		token(" subtotal ", 150, 0, 40, 10),
	}
	marks := Marks(tokens, keywords.Parse("total, invoice"))

	if len(marks) != 3 {
		t.Fatalf("expected 3 marks, got %d", len(marks))
	}
	want := []struct {
		text    string
		keyword string
		x       int
	}{
		{"Total:", "total", 0},
		{"INVOICE", "invoice", 40},
		{" subtotal ", "total", 150},
	}
	for i, w := range want {
		if marks[i].Text != w.text || marks[i].Keyword != w.keyword || marks[i].From.X != w.x {
			t.Errorf("mark %d = %+v, want %+v", i, marks[i], w)
		}
	}
}

func TestMarksOnePerToken(t *testing.T) {
	marks := Marks([]ocr.Token{token("catdog", 5, 5, 10, 10)}, keywords.Parse("cat, dog, catdog"))
	if len(marks) != 1 {
		t.Fatalf("expected exactly one mark for a token matching several keywords, got %d", len(marks))
	}
	if marks[0].Keyword != "cat" {
		t.Fatalf("expected first keyword in set order, got %q", marks[0].Keyword)
	}
}

func TestImageDrawsUnderline(t *testing.T) {
	original := whiteRaster(60, 40, imaging.OrderBGR)
	tokens := []ocr.Token{token("Invoice", 10, 5, 20, 10)}

	ann := Image(original, tokens, keywords.Parse("invoice"))
	if !ann.Matched || len(ann.Marks) != 1 {
		t.Fatalf("expected a single match, got %+v", ann)
	}
	if ann.Image.Order != imaging.OrderRGB {
		t.Fatalf("output order = %v, want RGB", ann.Image.Order)
	}

	// y = 5 + 10 + 2 = 17, stroke rows 15..18, columns 10..30.
	for y := 15; y <= 18; y++ {
		for _, x := range []int{10, 20, 30} {
			r, g, b := ann.Image.RGB(x, y)
			if r != 255 || g != 0 || b != 0 {
				t.Fatalf("pixel (%d,%d) = %d,%d,%d, want red", x, y, r, g, b)
			}
		}
	}
	for _, p := range []image.Point{{10, 14}, {10, 19}, {9, 17}, {31, 17}} {
		r, g, b := ann.Image.RGB(p.X, p.Y)
		if r != 255 || g != 255 || b != 255 {
			t.Fatalf("pixel %v = %d,%d,%d, want untouched white", p, r, g, b)
		}
	}

	for _, v := range original.Pix {
		if v != 255 {
			t.Fatalf("original buffer was modified")
		}
	}
}

func TestImageNoTokens(t *testing.T) {
	original := imaging.FromImage(image.NewRGBA(image.Rect(0, 0, 4, 4)))
	original.SetRGB(1, 1, color.RGBA{R: 1, G: 2, B: 3, A: 255})
	bgr := original.Reorder(imaging.OrderBGR)

	ann := Image(bgr, nil, keywords.Parse("anything"))
	if ann.Matched || len(ann.Marks) != 0 {
		t.Fatalf("expected no match, got %+v", ann)
	}
	if !bytes.Equal(ann.Image.Pix, original.Pix) {
		t.Fatalf("output differs from input beyond color-order conversion")
	}
}

func TestImageNoMatch(t *testing.T) {
	original := whiteRaster(20, 20, imaging.OrderBGR)
	ann := Image(original, []ocr.Token{token("hello", 0, 0, 5, 5)}, keywords.Parse("bye"))
	if ann.Matched {
		t.Fatalf("unexpected match")
	}
}

func TestDrawClipsToImage(t *testing.T) {
	r := whiteRaster(10, 10, imaging.OrderRGB)
	Draw(r, MarkFor(ocr.BoundingBox{X: 5, Y: 5, Width: 20, Height: 3}))

	// y = 10: rows 8..11, only 8 and 9 exist.
	if red, g, _ := r.RGB(9, 9); red != 255 || g != 0 {
		t.Fatalf("expected clipped stroke at (9,9)")
	}
	if _, g, _ := r.RGB(4, 9); g != 255 {
		t.Fatalf("stroke leaked left of box")
	}
}
