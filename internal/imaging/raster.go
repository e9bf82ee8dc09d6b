/**
 * Raster - packed 3-channel pixel buffer shared by the image pipeline
 *
 * Uploaded images are decoded once into a Raster. The preprocessor,
 * the OCR engines and the annotator all work on Rasters, so the channel
 * order a buffer is in is always explicit.
 */

package imaging

import (
	"image"
	"image/color"
)

// ChannelOrder identifies the byte order of the three color channels.
type ChannelOrder int

const (
	// OrderRGB is the display order.
	OrderRGB ChannelOrder = iota
	// OrderBGR is the order the OCR stage and the annotator work in.
	OrderBGR
)

// OCROrder is the channel order images are converted to before detection.
const OCROrder = OrderBGR

func (o ChannelOrder) String() string {
	switch o {
	case OrderRGB:
		return "RGB"
	case OrderBGR:
		return "BGR"
	default:
		return "unknown"
	}
}

// Raster is an 8-bit, 3-channel image stored row-major, three bytes per
// pixel in Order.
type Raster struct {
	Width  int
	Height int
	Order  ChannelOrder
	Pix    []uint8
}

// NewRaster allocates a black raster.
func NewRaster(width, height int, order ChannelOrder) *Raster {
	if width < 0 {
		width = 0
	}
	if height < 0 {
		height = 0
	}
	return &Raster{
		Width:  width,
		Height: height,
		Order:  order,
		Pix:    make([]uint8, width*height*3),
	}
}

// FromImage converts any decoded image to an RGB raster. Alpha is dropped
// without compositing, the same way a plain RGB conversion does.
func FromImage(img image.Image) *Raster {
	b := img.Bounds()
	r := NewRaster(b.Dx(), b.Dy(), OrderRGB)

	if nrgba, ok := img.(*image.NRGBA); ok {
		for y := 0; y < r.Height; y++ {
			row := nrgba.Pix[nrgba.PixOffset(b.Min.X, b.Min.Y+y):]
			for x := 0; x < r.Width; x++ {
				o := r.offset(x, y)
				r.Pix[o] = row[x*4]
				r.Pix[o+1] = row[x*4+1]
				r.Pix[o+2] = row[x*4+2]
			}
		}
		return r
	}

	for y := 0; y < r.Height; y++ {
		for x := 0; x < r.Width; x++ {
			c := color.NRGBAModel.Convert(img.At(b.Min.X+x, b.Min.Y+y)).(color.NRGBA)
			o := r.offset(x, y)
			r.Pix[o] = c.R
			r.Pix[o+1] = c.G
			r.Pix[o+2] = c.B
		}
	}
	return r
}

// Bounds returns the raster rectangle anchored at the origin.
func (r *Raster) Bounds() image.Rectangle {
	return image.Rect(0, 0, r.Width, r.Height)
}

// SameSize reports whether both rasters have identical dimensions.
func (r *Raster) SameSize(o *Raster) bool {
	return r.Width == o.Width && r.Height == o.Height
}

// Clone returns a deep copy.
func (r *Raster) Clone() *Raster {
	return &Raster{
		Width:  r.Width,
		Height: r.Height,
		Order:  r.Order,
		Pix:    append([]uint8(nil), r.Pix...),
	}
}

// Reorder returns a copy of r with its channels permuted into order.
func (r *Raster) Reorder(order ChannelOrder) *Raster {
	out := r.Clone()
	if r.Order == order {
		return out
	}
	for i := 0; i+2 < len(out.Pix); i += 3 {
		out.Pix[i], out.Pix[i+2] = out.Pix[i+2], out.Pix[i]
	}
	out.Order = order
	return out
}

// RGB returns the pixel at (x, y) in display order.
func (r *Raster) RGB(x, y int) (uint8, uint8, uint8) {
	o := r.offset(x, y)
	if r.Order == OrderBGR {
		return r.Pix[o+2], r.Pix[o+1], r.Pix[o]
	}
	return r.Pix[o], r.Pix[o+1], r.Pix[o+2]
}

// SetRGB writes a display-order color at (x, y), honoring the raster order.
// Out-of-bounds writes are ignored.
func (r *Raster) SetRGB(x, y int, c color.RGBA) {
	if x < 0 || y < 0 || x >= r.Width || y >= r.Height {
		return
	}
	o := r.offset(x, y)
	if r.Order == OrderBGR {
		r.Pix[o], r.Pix[o+1], r.Pix[o+2] = c.B, c.G, c.R
		return
	}
	r.Pix[o], r.Pix[o+1], r.Pix[o+2] = c.R, c.G, c.B
}

// Image converts the raster to an opaque *image.RGBA in display colors.
func (r *Raster) Image() *image.RGBA {
	img := image.NewRGBA(r.Bounds())
	for y := 0; y < r.Height; y++ {
		for x := 0; x < r.Width; x++ {
			cr, cg, cb := r.RGB(x, y)
			i := img.PixOffset(x, y)
			img.Pix[i] = cr
			img.Pix[i+1] = cg
			img.Pix[i+2] = cb
			img.Pix[i+3] = 0xff
		}
	}
	return img
}

func (r *Raster) offset(x, y int) int {
	return (y*r.Width + x) * 3
}
