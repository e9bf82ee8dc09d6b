package imaging

import (
	"bytes"
	"errors"
	"fmt"
	"image"
	"image/png"
	"slices"

	// Registered decoders for the accepted upload formats.
	_ "image/jpeg"

	_ "golang.org/x/image/bmp"
	_ "golang.org/x/image/tiff"
)

// SupportedFormats lists the decoder names accepted for uploads.
var SupportedFormats = []string{"png", "jpeg", "bmp", "tiff"}

// ErrUnsupportedFormat is returned when no registered decoder recognizes the
// payload, or the recognized format is not in SupportedFormats.
var ErrUnsupportedFormat = errors.New("unsupported image format")

// TooManyPixelsError is returned when the image header declares more pixels
// than allowed. The payload is not decoded.
type TooManyPixelsError struct {
	Width     int
	Height    int
	MaxPixels int
}

func (e *TooManyPixelsError) Error() string {
	return fmt.Sprintf("image is %dx%d pixels, limit is %d", e.Width, e.Height, e.MaxPixels)
}

// Decode decodes an uploaded image into an RGB raster and reports the
// detected format name. The header is read first; images above maxPixels
// (when positive) are rejected with *TooManyPixelsError before decoding.
func Decode(data []byte, maxPixels int) (*Raster, string, error) {
	if len(data) == 0 {
		return nil, "", fmt.Errorf("decode image: empty payload")
	}

	cfg, format, err := image.DecodeConfig(bytes.NewReader(data))
	if err != nil {
		if errors.Is(err, image.ErrFormat) {
			return nil, "", ErrUnsupportedFormat
		}
		return nil, "", fmt.Errorf("decode image header: %w", err)
	}
	if !slices.Contains(SupportedFormats, format) {
		return nil, "", ErrUnsupportedFormat
	}
	if maxPixels > 0 && int64(cfg.Width)*int64(cfg.Height) > int64(maxPixels) {
		return nil, format, &TooManyPixelsError{Width: cfg.Width, Height: cfg.Height, MaxPixels: maxPixels}
	}

	img, _, err := image.Decode(bytes.NewReader(data))
	if err != nil {
		return nil, "", fmt.Errorf("decode image: %w", err)
	}
	return FromImage(img), format, nil
}

// EncodePNG encodes the raster in display colors.
func EncodePNG(r *Raster) ([]byte, error) {
	var buf bytes.Buffer
	if err := png.Encode(&buf, r.Image()); err != nil {
		return nil, fmt.Errorf("encode png: %w", err)
	}
	return buf.Bytes(), nil
}
