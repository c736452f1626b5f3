// Package rimage defines fixed-size image and float-plane types that cameras
// fill on capture and stereo matchers consume.
package rimage

import (
	"image"
	"image/color"
	"image/jpeg"
	"image/png"
	"os"
	"path/filepath"

	"github.com/pkg/errors"
	"go.viam.com/utils"
)

// Image is a fixed-size 3-channel 8-bit color image. Its dimensions never
// change after construction; captures overwrite the pixel data in place.
type Image struct {
	data          []Color
	width, height int
}

// NewImage returns a black image of the given dimensions.
func NewImage(width, height int) *Image {
	return &Image{
		data:   make([]Color, width*height),
		width:  width,
		height: height,
	}
}

// ConvertImage copies any image.Image into a new Image.
func ConvertImage(img image.Image) *Image {
	if ii, ok := img.(*Image); ok {
		return ii.Clone()
	}
	bounds := img.Bounds()
	out := NewImage(bounds.Dx(), bounds.Dy())
	switch orig := img.(type) {
	case *image.RGBA:
		for y := 0; y < out.height; y++ {
			base := orig.PixOffset(bounds.Min.X, bounds.Min.Y+y)
			for x := 0; x < out.width; x++ {
				p := orig.Pix[base+x*4:]
				out.data[y*out.width+x] = Color{p[0], p[1], p[2]}
			}
		}
	case *image.NRGBA:
		for y := 0; y < out.height; y++ {
			base := orig.PixOffset(bounds.Min.X, bounds.Min.Y+y)
			for x := 0; x < out.width; x++ {
				p := orig.Pix[base+x*4:]
				out.data[y*out.width+x] = Color{p[0], p[1], p[2]}
			}
		}
	default:
		for y := bounds.Min.Y; y < bounds.Max.Y; y++ {
			for x := bounds.Min.X; x < bounds.Max.X; x++ {
				out.data[(y-bounds.Min.Y)*out.width+(x-bounds.Min.X)] = NewColorFromColor(img.At(x, y))
			}
		}
	}
	return out
}

func (i *Image) kxy(x, y int) int {
	return (y * i.width) + x
}

// Width returns the horizontal size in pixels.
func (i *Image) Width() int {
	return i.width
}

// Height returns the vertical size in pixels.
func (i *Image) Height() int {
	return i.height
}

// In reports whether the point is inside the image.
func (i *Image) In(x, y int) bool {
	return x >= 0 && y >= 0 && x < i.width && y < i.height
}

// Bounds implements image.Image.
func (i *Image) Bounds() image.Rectangle {
	return image.Rect(0, 0, i.width, i.height)
}

// ColorModel implements image.Image.
func (i *Image) ColorModel() color.Model {
	return &TheColorModel{}
}

// At implements image.Image.
func (i *Image) At(x, y int) color.Color {
	return i.data[i.kxy(x, y)]
}

// GetXY returns the pixel at (x,y).
func (i *Image) GetXY(x, y int) Color {
	return i.data[i.kxy(x, y)]
}

// Get returns the pixel at p.
func (i *Image) Get(p image.Point) Color {
	return i.data[i.kxy(p.X, p.Y)]
}

// SetXY sets the pixel at (x,y).
func (i *Image) SetXY(x, y int, c Color) {
	i.data[i.kxy(x, y)] = c
}

// Clone returns a deep copy.
func (i *Image) Clone() *Image {
	out := NewImage(i.width, i.height)
	copy(out.data, i.data)
	return out
}

// CopyFrom overwrites the image with src's pixels. The dimensions must match
// exactly; a caller passing a mismatched buffer is a programmer error.
func (i *Image) CopyFrom(src *Image) error {
	if src.width != i.width || src.height != i.height {
		return errors.Errorf("image dimensions don't match copy source: (%d,%d) != (%d,%d)",
			i.width, i.height, src.width, src.height)
	}
	copy(i.data, src.data)
	return nil
}

// Luminance returns a grayscale plane of the image, values in [0,255].
func (i *Image) Luminance() *FloatMap {
	out := NewFloatMap(i.width, i.height)
	for k, c := range i.data {
		out.data[k] = float32(c.Luminance())
	}
	return out
}

// WriteTo writes the image to a file, as PNG or JPEG by extension.
func (i *Image) WriteTo(fn string) (err error) {
	//nolint:gosec
	f, err := os.Create(fn)
	if err != nil {
		return err
	}
	defer utils.UncheckedErrorFunc(f.Close)
	switch filepath.Ext(fn) {
	case ".png":
		return png.Encode(f, i)
	case ".jpg", ".jpeg":
		return jpeg.Encode(f, i, nil)
	}
	return errors.Errorf("unsupported image extension %q", filepath.Ext(fn))
}
