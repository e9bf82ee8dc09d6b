/**
 * OCR Types - Shared data structures for OCR operations
 *
 * The OCR engine is a black box: one raster in, an ordered list of
 * word tokens with pixel boxes out.
 */

package ocr

import (
	"context"
	"image"
	"time"

	"github.com/adverant/nexus/keyword-underliner/internal/imaging"
)

// BoundingBox represents coordinates of a region in pixels of the buffer
// that was recognized.
type BoundingBox struct {
	X      int
	Y      int
	Width  int
	Height int
}

// Rect converts the box to an image.Rectangle.
func (b BoundingBox) Rect() image.Rectangle {
	return image.Rect(b.X, b.Y, b.X+b.Width, b.Y+b.Height)
}

// BoxFromRect converts an image.Rectangle to a BoundingBox.
func BoxFromRect(r image.Rectangle) BoundingBox {
	return BoundingBox{X: r.Min.X, Y: r.Min.Y, Width: r.Dx(), Height: r.Dy()}
}

// Token is a single recognized word. Text may carry whitespace or
// punctuation artifacts from the engine.
type Token struct {
	Text        string
	Confidence  float64
	BoundingBox BoundingBox
}

// Result represents the OCR output for one image
type Result struct {
	Tokens   []Token
	Engine   string
	Duration time.Duration
}

// Texts returns the raw token texts in order.
func (r *Result) Texts() []string {
	texts := make([]string, len(r.Tokens))
	for i, tok := range r.Tokens {
		texts[i] = tok.Text
	}
	return texts
}

// Engine is the OCR provider contract.
type Engine interface {
	Name() string
	Recognize(ctx context.Context, img *imaging.Raster) ([]Token, error)
}

// Recognize runs engine on img and times the call.
func Recognize(ctx context.Context, engine Engine, img *imaging.Raster) (*Result, error) {
	start := time.Now()
	tokens, err := engine.Recognize(ctx, img)
	if err != nil {
		return nil, err
	}
	return &Result{
		Tokens:   tokens,
		Engine:   engine.Name(),
		Duration: time.Since(start),
	}, nil
}
