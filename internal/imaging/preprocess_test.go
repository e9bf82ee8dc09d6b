package imaging

import (
	"bytes"
	"context"
	"errors"
	"image/color"
	"testing"
)

func mustProcess(t *testing.T, p *Preprocessor, r *Raster) *Raster {
	t.Helper()
	out, err := p.Process(context.Background(), r)
	if err != nil {
		t.Fatalf("Process() error = %v", err)
	}
	return out
}

func TestThreshold(t *testing.T) {
	r := &Raster{Width: 2, Height: 1, Order: OrderRGB, Pix: []uint8{0, 149, 150, 151, 255, 10}}
	Threshold(r, 150)
	want := []uint8{0, 0, 255, 255, 255, 0}
	if !bytes.Equal(r.Pix, want) {
		t.Fatalf("Threshold() = %v, want %v", r.Pix, want)
	}
}

func TestSharpenUniformImageUnchanged(t *testing.T) {
	r := NewRaster(5, 4, OrderRGB)
	for i := range r.Pix {
		r.Pix[i] = 90
	}
	out := Sharpen(r)
	if !bytes.Equal(out.Pix, r.Pix) {
		t.Fatalf("uniform image changed by sharpen")
	}
}

func TestSharpenSaturates(t *testing.T) {
	r := NewRaster(3, 3, OrderRGB)
	r.SetRGB(1, 1, color.RGBA{R: 200, G: 200, B: 200, A: 255})
	out := Sharpen(r)

	if cr, _, _ := out.RGB(1, 1); cr != 255 {
		t.Fatalf("center = %d, want 255", cr)
	}
	if cr, _, _ := out.RGB(1, 0); cr != 0 {
		t.Fatalf("neighbor = %d, want 0", cr)
	}
	if cr, _, _ := out.RGB(0, 0); cr != 0 {
		t.Fatalf("corner = %d, want 0", cr)
	}
}

func TestReflect101(t *testing.T) {
	testCases := []struct{ i, n, want int }{
		{-1, 5, 1},
		{5, 5, 3},
		{0, 5, 0},
		{-1, 1, 0},
		{1, 1, 0},
		{-2, 2, 0},
	}
	for _, tc := range testCases {
		if got := reflect101(tc.i, tc.n); got != tc.want {
			t.Errorf("reflect101(%d, %d) = %d, want %d", tc.i, tc.n, got, tc.want)
		}
	}
}

func mustDenoise(t *testing.T, r *Raster) *Raster {
	t.Helper()
	out, err := denoiseColored(context.Background(), r, denoiseParams{h: 10, hColor: 10, templateWindow: 7, searchWindow: 21})
	if err != nil {
		t.Fatalf("denoiseColored() error = %v", err)
	}
	return out
}

func TestDenoiseSmoothsLowContrastSpeck(t *testing.T) {
	r := NewRaster(15, 15, OrderRGB)
	for i := range r.Pix {
		r.Pix[i] = 128
	}
	r.SetRGB(7, 7, color.RGBA{R: 140, G: 140, B: 140, A: 255})

	out := mustDenoise(t, r)
	cr, _, _ := out.RGB(7, 7)
	if cr > 132 {
		t.Fatalf("speck not smoothed: %d", cr)
	}
	bg, _, _ := out.RGB(0, 0)
	if bg < 124 || bg > 132 {
		t.Fatalf("background drifted: %d", bg)
	}
}

func TestDenoiseKeepsHighContrastEdges(t *testing.T) {
	r := NewRaster(15, 15, OrderRGB)
	for y := 0; y < 15; y++ {
		for x := 0; x < 15; x++ {
			if x >= 7 {
				r.SetRGB(x, y, color.RGBA{R: 255, G: 255, B: 255, A: 255})
			}
		}
	}

	out := mustDenoise(t, r)
	if cr, _, _ := out.RGB(2, 7); cr > 5 {
		t.Fatalf("dark side brightened to %d", cr)
	}
	if cr, _, _ := out.RGB(12, 7); cr < 250 {
		t.Fatalf("bright side darkened to %d", cr)
	}
}

func TestDenoisePreservesSolidColor(t *testing.T) {
	r := NewRaster(6, 6, OrderBGR)
	for y := 0; y < 6; y++ {
		for x := 0; x < 6; x++ {
			r.SetRGB(x, y, color.RGBA{R: 255, A: 255})
		}
	}
	out := mustDenoise(t, r)
	if out.Order != OrderBGR {
		t.Fatalf("order changed to %v", out.Order)
	}
	cr, cg, cb := out.RGB(3, 3)
	if cr < 240 || cg > 20 || cb > 20 {
		t.Fatalf("solid red drifted to %d %d %d", cr, cg, cb)
	}
}

func TestProcessPreservesDimensionsAndInput(t *testing.T) {
	src := FromImage(testImage(12, 9))
	orig := src.Clone()
	p := NewPreprocessor()

	once := mustProcess(t, p, src)
	if !once.SameSize(src) {
		t.Fatalf("Process changed size to %dx%d", once.Width, once.Height)
	}
	if once.Order != OCROrder {
		t.Fatalf("Process output order = %v, want %v", once.Order, OCROrder)
	}
	if !bytes.Equal(src.Pix, orig.Pix) || src.Order != orig.Order {
		t.Fatalf("Process modified its input")
	}

	twice := mustProcess(t, p, once)
	if !twice.SameSize(src) {
		t.Fatalf("second Process changed size to %dx%d", twice.Width, twice.Height)
	}
}

func TestProcessOutputIsBinaryForBinaryScene(t *testing.T) {
	r := NewRaster(10, 10, OrderRGB)
	for i := range r.Pix {
		r.Pix[i] = 240
	}
	out := mustProcess(t, NewPreprocessor(), r)
	for i, v := range out.Pix {
		if v != 255 {
			t.Fatalf("pixel byte %d = %d, want 255 for a bright uniform scene", i, v)
		}
	}
}

func TestProcessEmptyRaster(t *testing.T) {
	out := mustProcess(t, NewPreprocessor(), NewRaster(0, 0, OrderRGB))
	if out.Width != 0 || out.Height != 0 {
		t.Fatalf("unexpected size %dx%d", out.Width, out.Height)
	}
}

func TestProcessStopsOnCanceledContext(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	out, err := NewPreprocessor().Process(ctx, FromImage(testImage(64, 48)))
	if !errors.Is(err, context.Canceled) || out != nil {
		t.Fatalf("expected context.Canceled and no output, got %v", err)
	}
}

func TestDenoiseBandsMatchSingleBand(t *testing.T) {
	src := FromImage(testImage(20, 130))
	Threshold(src, thresholdLevel)

	params := NewPreprocessor().denoise
	params.workers = 1
	single, err := denoiseColored(context.Background(), src, params)
	if err != nil {
		t.Fatalf("denoise: %v", err)
	}
	params.workers = 4
	banded, err := denoiseColored(context.Background(), src, params)
	if err != nil {
		t.Fatalf("denoise: %v", err)
	}
	if !bytes.Equal(single.Pix, banded.Pix) {
		t.Fatalf("row bands changed the denoised output")
	}
}

func TestForRowBandsCoversEveryRowOnce(t *testing.T) {
	for _, tc := range []struct{ h, workers int }{{0, 4}, {10, 4}, {100, 3}, {257, 8}} {
		seen := make([]int, tc.h)
		forRowBands(tc.h, tc.workers, func(y0, y1 int) {
			for y := y0; y < y1; y++ {
				seen[y]++
			}
		})
		for y, n := range seen {
			if n != 1 {
				t.Fatalf("h=%d workers=%d: row %d visited %d times", tc.h, tc.workers, y, n)
			}
		}
	}
}
