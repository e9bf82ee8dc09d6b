/**
 * Image preprocessing ahead of OCR
 *
 * Fixed enhancement chain: channel reorder -> binary threshold ->
 * colored non-local-means denoise -> 3x3 sharpen. Only pixel values
 * change, never dimensions or positions, so OCR boxes found on the
 * enhanced buffer are valid on the original one.
 */

package imaging

import (
	"context"
	"runtime"
)

const (
	thresholdLevel = 150

	denoiseH              = 10
	denoiseHColor         = 10
	denoiseTemplateWindow = 7
	denoiseSearchWindow   = 21
)

// sharpenKernel is a discrete Laplacian sharpen.
var sharpenKernel = [3][3]int{
	{0, -1, 0},
	{-1, 5, -1},
	{0, -1, 0},
}

// Preprocessor applies the fixed OCR enhancement chain. Its parameters are
// not configurable.
type Preprocessor struct {
	order     ChannelOrder
	threshold uint8
	denoise   denoiseParams
}

// NewPreprocessor returns the preprocessor with the fixed parameters.
func NewPreprocessor() *Preprocessor {
	return &Preprocessor{
		order:     OCROrder,
		threshold: thresholdLevel,
		denoise: denoiseParams{
			h:              denoiseH,
			hColor:         denoiseHColor,
			templateWindow: denoiseTemplateWindow,
			searchWindow:   denoiseSearchWindow,
			workers:        runtime.GOMAXPROCS(0),
		},
	}
}

// Process returns the enhanced copy of src. src is not modified. The
// denoise stage dominates the cost and returns ctx.Err() as soon as ctx is
// done.
func (p *Preprocessor) Process(ctx context.Context, src *Raster) (*Raster, error) {
	out := src.Reorder(p.order)
	Threshold(out, p.threshold)
	out, err := denoiseColored(ctx, out, p.denoise)
	if err != nil {
		return nil, err
	}
	return Sharpen(out), nil
}

// Threshold maps every channel value >= level to 255 and everything else to
// 0, in place.
func Threshold(r *Raster, level uint8) {
	for i, v := range r.Pix {
		if v >= level {
			r.Pix[i] = 255
		} else {
			r.Pix[i] = 0
		}
	}
}

// Sharpen convolves each channel with the sharpen kernel using reflect-101
// borders and saturating arithmetic.
func Sharpen(src *Raster) *Raster {
	out := NewRaster(src.Width, src.Height, src.Order)
	w, h := src.Width, src.Height

	for y := 0; y < h; y++ {
		for x := 0; x < w; x++ {
			for c := 0; c < 3; c++ {
				sum := 0
				for ky := -1; ky <= 1; ky++ {
					sy := reflect101(y+ky, h)
					for kx := -1; kx <= 1; kx++ {
						k := sharpenKernel[ky+1][kx+1]
						if k == 0 {
							continue
						}
						sx := reflect101(x+kx, w)
						sum += k * int(src.Pix[(sy*w+sx)*3+c])
					}
				}
				out.Pix[(y*w+x)*3+c] = saturate(sum)
			}
		}
	}
	return out
}

// reflect101 mirrors i into [0, n) without repeating the edge pixel.
func reflect101(i, n int) int {
	if n == 1 {
		return 0
	}
	for i < 0 || i >= n {
		if i < 0 {
			i = -i
		}
		if i >= n {
			i = 2*n - 2 - i
		}
	}
	return i
}

func saturate(v int) uint8 {
	if v < 0 {
		return 0
	}
	if v > 255 {
		return 255
	}
	return uint8(v)
}

func clampInt(v, lo, hi int) int {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}
