/**
 * Tesseract OCR engine
 *
 * Word-level recognition through gosseract. Each call gets its own
 * client, so the engine is safe to share between goroutines.
 */

package tesseract

import (
	"context"
	"fmt"

	"github.com/otiai10/gosseract/v2"

	"github.com/adverant/nexus/keyword-underliner/internal/imaging"
	"github.com/adverant/nexus/keyword-underliner/internal/ocr"
)

// Config holds Tesseract configuration
type Config struct {
	Languages []string
	// Variables are passed to SetVariable, e.g. "tessedit_pageseg_mode".
	Variables map[string]string
}

// Engine implements ocr.Engine using the gosseract client.
type Engine struct {
	languages     []string
	variables     map[string]string
	clientFactory func() *gosseract.Client
}

var _ ocr.Engine = (*Engine)(nil)

// NewEngine creates a new Tesseract engine
func NewEngine(cfg *Config) *Engine {
	if cfg == nil {
		cfg = &Config{}
	}
	langs := cfg.Languages
	if len(langs) == 0 {
		langs = []string{"eng"}
	}
	vars := make(map[string]string, len(cfg.Variables))
	for k, v := range cfg.Variables {
		vars[k] = v
	}

	return &Engine{
		languages:     append([]string(nil), langs...),
		variables:     vars,
		clientFactory: gosseract.NewClient,
	}
}

func (e *Engine) Name() string { return "tesseract" }

// Recognize performs word-level OCR on img. Boxes are relative to img.
func (e *Engine) Recognize(ctx context.Context, img *imaging.Raster) ([]ocr.Token, error) {
	select {
	case <-ctx.Done():
		return nil, ctx.Err()
	default:
	}

	data, err := imaging.EncodePNG(img)
	if err != nil {
		return nil, fmt.Errorf("failed to encode image for tesseract: %w", err)
	}

	client := e.clientFactory()
	defer client.Close()

	if err := client.SetLanguage(e.languages...); err != nil {
		return nil, fmt.Errorf("failed to set languages: %w", err)
	}
	for k, v := range e.variables {
		if err := client.SetVariable(gosseract.SettableVariable(k), v); err != nil {
			return nil, fmt.Errorf("failed to set variable %s: %w", k, err)
		}
	}
	if err := client.SetImageFromBytes(data); err != nil {
		return nil, fmt.Errorf("failed to set image: %w", err)
	}

	boxes, err := client.GetBoundingBoxes(gosseract.RIL_WORD)
	if err != nil {
		return nil, fmt.Errorf("tesseract OCR failed: %w", err)
	}

	tokens := make([]ocr.Token, 0, len(boxes))
	for _, b := range boxes {
		tokens = append(tokens, ocr.Token{
			Text:        b.Word,
			Confidence:  b.Confidence / 100.0,
			BoundingBox: ocr.BoxFromRect(b.Box),
		})
	}
	return tokens, nil
}
