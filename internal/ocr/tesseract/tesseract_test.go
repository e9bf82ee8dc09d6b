package tesseract

import (
	"bytes"
	"context"
	"image"
	"image/color"
	"image/draw"
	"image/png"
	"os/exec"
	"strings"
	"testing"

	"golang.org/x/image/font"
	"golang.org/x/image/font/basicfont"
	"golang.org/x/image/math/fixed"

	"github.com/adverant/nexus/keyword-underliner/internal/imaging"
	"github.com/adverant/nexus/keyword-underliner/internal/processor"
)

const renderScale = 4

// ensureTesseractAvailable checks that the tesseract binary is reachable.
func ensureTesseractAvailable(t *testing.T) {
	t.Helper()
	if _, err := exec.LookPath("tesseract"); err != nil {
		t.Skip("tesseract not installed in PATH")
	}
}

// renderWord draws text in basicfont and upscales it so tesseract sees a
// reasonable glyph height. It returns the image and the word's x-range.
func renderWord(t *testing.T, text string) (*image.RGBA, int, int) {
	t.Helper()
	small := image.NewRGBA(image.Rect(0, 0, 90, 24))
	draw.Draw(small, small.Bounds(), &image.Uniform{C: color.White}, image.Point{}, draw.Src)

	d := &font.Drawer{
		Dst:  small,
		Src:  image.Black,
		Face: basicfont.Face7x13,
		Dot:  fixed.P(8, 17),
	}
	width := d.MeasureString(text).Ceil()
	d.DrawString(text)

	b := small.Bounds()
	big := image.NewRGBA(image.Rect(0, 0, b.Dx()*renderScale, b.Dy()*renderScale))
	for y := 0; y < big.Bounds().Dy(); y++ {
		for x := 0; x < big.Bounds().Dx(); x++ {
			big.Set(x, y, small.At(x/renderScale, y/renderScale))
		}
	}
	return big, 8 * renderScale, (8 + width) * renderScale
}

func TestEngineRecognizeWords(t *testing.T) {
	ensureTesseractAvailable(t)

	img, _, _ := renderWord(t, "INVOICE")
	engine := NewEngine(&Config{Languages: []string{"eng"}})

	tokens, err := engine.Recognize(context.Background(), imaging.FromImage(img))
	if err != nil {
		t.Fatalf("Recognize() error = %v", err)
	}
	var texts []string
	for _, tok := range tokens {
		texts = append(texts, tok.Text)
		if tok.BoundingBox.Width <= 0 || tok.BoundingBox.Height <= 0 {
			t.Fatalf("token %q has empty box", tok.Text)
		}
	}
	if !strings.Contains(strings.ToLower(strings.Join(texts, " ")), "invoice") {
		t.Fatalf("unexpected OCR output: %v", texts)
	}
}

func TestNewEngineCopiesVariables(t *testing.T) {
	vars := map[string]string{"tessedit_pageseg_mode": "7"}
	engine := NewEngine(&Config{Variables: vars})
	vars["tessedit_pageseg_mode"] = "3"

	if engine.variables["tessedit_pageseg_mode"] != "7" {
		t.Fatalf("engine variables follow caller map: %v", engine.variables)
	}
	if len(engine.languages) != 1 || engine.languages[0] != "eng" {
		t.Fatalf("unexpected default languages: %v", engine.languages)
	}
}

func TestEngineRecognizeSingleLineMode(t *testing.T) {
	ensureTesseractAvailable(t)

	img, _, _ := renderWord(t, "INVOICE")
	engine := NewEngine(&Config{Variables: map[string]string{"tessedit_pageseg_mode": "7"}})

	tokens, err := engine.Recognize(context.Background(), imaging.FromImage(img))
	if err != nil {
		t.Fatalf("Recognize() error = %v", err)
	}
	if len(tokens) == 0 {
		t.Fatalf("expected tokens in single line mode")
	}
}

func TestEngineRecognizeCanceled(t *testing.T) {
	engine := NewEngine(nil)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	if _, err := engine.Recognize(ctx, imaging.NewRaster(4, 4, imaging.OrderRGB)); err == nil {
		t.Fatalf("expected context error")
	}
}

func TestUnderlineRenderedInvoice(t *testing.T) {
	ensureTesseractAvailable(t)

	img, wordStart, wordEnd := renderWord(t, "INVOICE")
	var buf bytes.Buffer
	if err := png.Encode(&buf, img); err != nil {
		t.Fatalf("encode png: %v", err)
	}

	p, err := processor.NewProcessor(&processor.ProcessorConfig{Engine: NewEngine(nil)})
	if err != nil {
		t.Fatalf("NewProcessor() error = %v", err)
	}

	batch, err := p.ProcessImages(context.Background(), &processor.ImageRequest{
		JobID:    "e2e",
		Images:   []processor.ImageInput{{Name: "invoice.png", Data: buf.Bytes()}},
		Keywords: "invoice",
		Debug:    true,
	})
	if err != nil {
		t.Fatalf("ProcessImages() error = %v", err)
	}

	res := batch.Results[0]
	if !res.Matched {
		t.Fatalf("expected a match, status=%s tokens=%v", res.Status, res.Tokens)
	}
	overlaps := false
	for _, m := range res.Marks {
		if m.From.X <= wordEnd && m.To.X >= wordStart {
			overlaps = true
		}
	}
	if !overlaps {
		t.Fatalf("no mark overlaps word range [%d, %d]: %+v", wordStart, wordEnd, res.Marks)
	}
}
