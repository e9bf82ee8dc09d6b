package imaging

import (
	"context"
	"image/color"
	"math"
	"sync"

	"github.com/lucasb-eyer/go-colorful"
)

// denoiseParams holds the colored non-local-means settings.
type denoiseParams struct {
	h              float64 // luminance filter strength
	hColor         float64 // chroma filter strength
	templateWindow int
	searchWindow   int
	workers        int // row bands processed concurrently per search offset
}

// denoiseColored converts src to 8-bit CIELAB, denoises the lightness plane
// with h and the two chroma planes jointly with hColor, then converts back
// to src's channel order. It stops with ctx.Err() once ctx is done.
func denoiseColored(ctx context.Context, src *Raster, p denoiseParams) (*Raster, error) {
	w, h := src.Width, src.Height
	n := w * h
	if n == 0 {
		return src.Clone(), nil
	}

	l := make([]uint8, n)
	a := make([]uint8, n)
	b := make([]uint8, n)

	toLab := make(map[[3]uint8][3]uint8)
	for y := 0; y < h; y++ {
		for x := 0; x < w; x++ {
			cr, cg, cb := src.RGB(x, y)
			key := [3]uint8{cr, cg, cb}
			lab, ok := toLab[key]
			if !ok {
				lab = rgbToLab8(cr, cg, cb)
				toLab[key] = lab
			}
			i := y*w + x
			l[i], a[i], b[i] = lab[0], lab[1], lab[2]
		}
	}

	lOut, err := nlMeans(ctx, [][]uint8{l}, w, h, p.h, p)
	if err != nil {
		return nil, err
	}
	abOut, err := nlMeans(ctx, [][]uint8{a, b}, w, h, p.hColor, p)
	if err != nil {
		return nil, err
	}

	out := NewRaster(w, h, src.Order)
	toRGB := make(map[[3]uint8][3]uint8)
	for y := 0; y < h; y++ {
		for x := 0; x < w; x++ {
			i := y*w + x
			key := [3]uint8{lOut[0][i], abOut[0][i], abOut[1][i]}
			rgb, ok := toRGB[key]
			if !ok {
				rgb = lab8ToRGB(key)
				toRGB[key] = rgb
			}
			out.SetRGB(x, y, rgbaOf(rgb))
		}
	}
	return out, nil
}

// rgbToLab8 maps an sRGB pixel to Lab scaled into bytes: L*255/100, a+128,
// b+128.
func rgbToLab8(r, g, b uint8) [3]uint8 {
	c := colorful.Color{R: float64(r) / 255, G: float64(g) / 255, B: float64(b) / 255}
	ll, aa, bb := c.Lab()
	return [3]uint8{
		roundByte(ll * 255),
		roundByte(aa*100 + 128),
		roundByte(bb*100 + 128),
	}
}

func lab8ToRGB(lab [3]uint8) [3]uint8 {
	c := colorful.Lab(
		float64(lab[0])/255,
		(float64(lab[1])-128)/100,
		(float64(lab[2])-128)/100,
	).Clamped()
	r, g, b := c.RGB255()
	return [3]uint8{r, g, b}
}

// nlMeans runs non-local-means over one group of planes that share weights.
// Patch distance is the mean squared difference over the template window
// (clipped at the image border) and over the planes in the group; the
// weight of a candidate is exp(-d/strength^2). Search offsets that leave the
// image are clamped to the edge. ctx is checked before every search offset.
func nlMeans(ctx context.Context, planes [][]uint8, w, h int, strength float64, p denoiseParams) ([][]uint8, error) {
	n := w * h
	nch := len(planes)
	tr := p.templateWindow / 2
	sr := p.searchWindow / 2
	lut := weightTable(strength)

	sqdiff := make([]int64, n)
	integral := make([]int64, (w+1)*(h+1))
	wsum := make([]float64, n)
	acc := make([][]float64, nch)
	for c := range acc {
		acc[c] = make([]float64, n)
	}

	for dy := -sr; dy <= sr; dy++ {
		for dx := -sr; dx <= sr; dx++ {
			if err := ctx.Err(); err != nil {
				return nil, err
			}

			forRowBands(h, p.workers, func(ya, yb int) {
				for y := ya; y < yb; y++ {
					qy := clampInt(y+dy, 0, h-1)
					for x := 0; x < w; x++ {
						qx := clampInt(x+dx, 0, w-1)
						var d int64
						for c := 0; c < nch; c++ {
							diff := int64(planes[c][y*w+x]) - int64(planes[c][qy*w+qx])
							d += diff * diff
						}
						sqdiff[y*w+x] = d
					}
				}
			})

			buildIntegral(sqdiff, integral, w, h)

			forRowBands(h, p.workers, func(ya, yb int) {
				for y := ya; y < yb; y++ {
					y0, y1 := clampInt(y-tr, 0, h-1), clampInt(y+tr, 0, h-1)
					qy := clampInt(y+dy, 0, h-1)
					for x := 0; x < w; x++ {
						x0, x1 := clampInt(x-tr, 0, w-1), clampInt(x+tr, 0, w-1)
						sum := boxSum(integral, w, x0, y0, x1, y1)
						count := int64((x1-x0+1)*(y1-y0+1)) * int64(nch)
						mean := sum / count
						if mean >= int64(len(lut)) {
							continue
						}
						weight := lut[mean]
						qx := clampInt(x+dx, 0, w-1)
						i := y*w + x
						wsum[i] += weight
						for c := 0; c < nch; c++ {
							acc[c][i] += weight * float64(planes[c][qy*w+qx])
						}
					}
				}
			})
		}
	}

	out := make([][]uint8, nch)
	for c := range out {
		out[c] = make([]uint8, n)
		for i := 0; i < n; i++ {
			out[c][i] = roundByte(acc[c][i] / wsum[i])
		}
	}
	return out, nil
}

// minBandRows keeps small images on a single goroutine.
const minBandRows = 32

// forRowBands splits [0, h) into at most workers contiguous bands and runs fn
// on each concurrently. Bands never share rows.
func forRowBands(h, workers int, fn func(y0, y1 int)) {
	if workers > h/minBandRows {
		workers = h / minBandRows
	}
	if workers <= 1 {
		fn(0, h)
		return
	}

	band := (h + workers - 1) / workers
	var wg sync.WaitGroup
	for y0 := 0; y0 < h; y0 += band {
		y1 := min(y0+band, h)
		wg.Add(1)
		go func() {
			defer wg.Done()
			fn(y0, y1)
		}()
	}
	wg.Wait()
}

// weightTable precomputes exp(-d/strength^2) for integer mean distances
// until the weight becomes negligible.
func weightTable(strength float64) []float64 {
	h2 := strength * strength
	if h2 <= 0 {
		return []float64{1}
	}
	limit := int(math.Ceil(h2 * math.Log(1000)))
	lut := make([]float64, limit+1)
	for d := range lut {
		lut[d] = math.Exp(-float64(d) / h2)
	}
	return lut
}

func buildIntegral(src, integral []int64, w, h int) {
	stride := w + 1
	for y := 0; y < h; y++ {
		var row int64
		for x := 0; x < w; x++ {
			row += src[y*w+x]
			integral[(y+1)*stride+x+1] = integral[y*stride+x+1] + row
		}
	}
}

// boxSum returns the inclusive sum over [x0,x1]x[y0,y1].
func boxSum(integral []int64, w, x0, y0, x1, y1 int) int64 {
	stride := w + 1
	return integral[(y1+1)*stride+x1+1] -
		integral[y0*stride+x1+1] -
		integral[(y1+1)*stride+x0] +
		integral[y0*stride+x0]
}

func roundByte(v float64) uint8 {
	return saturate(int(math.Round(v)))
}

func rgbaOf(c [3]uint8) color.RGBA {
	return color.RGBA{R: c[0], G: c[1], B: c[2], A: 0xff}
}
