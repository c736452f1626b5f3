package rimage

import (
	"image"
	"math"

	"github.com/pkg/errors"
)

// FloatMap is a fixed-size single-channel float32 plane. It backs depth frames
// (meters), amplitude frames, and disparity maps.
type FloatMap struct {
	data          []float32
	width, height int
}

// NewFloatMap returns a zeroed plane of the given dimensions.
func NewFloatMap(width, height int) *FloatMap {
	return &FloatMap{
		data:   make([]float32, width*height),
		width:  width,
		height: height,
	}
}

// Width returns the horizontal size in pixels.
func (fm *FloatMap) Width() int {
	return fm.width
}

// Height returns the vertical size in pixels.
func (fm *FloatMap) Height() int {
	return fm.height
}

// In reports whether the point is inside the plane.
func (fm *FloatMap) In(x, y int) bool {
	return x >= 0 && y >= 0 && x < fm.width && y < fm.height
}

// Get returns the value at (x,y).
func (fm *FloatMap) Get(x, y int) float32 {
	return fm.data[y*fm.width+x]
}

// Set sets the value at (x,y).
func (fm *FloatMap) Set(x, y int, v float32) {
	fm.data[y*fm.width+x] = v
}

// Fill sets every element to v.
func (fm *FloatMap) Fill(v float32) {
	for k := range fm.data {
		fm.data[k] = v
	}
}

// Clone returns a deep copy.
func (fm *FloatMap) Clone() *FloatMap {
	out := NewFloatMap(fm.width, fm.height)
	copy(out.data, fm.data)
	return out
}

// CopyFrom overwrites the plane with src's values. The dimensions must match
// exactly; a caller passing a mismatched buffer is a programmer error.
func (fm *FloatMap) CopyFrom(src *FloatMap) error {
	if src.width != fm.width || src.height != fm.height {
		return errors.Errorf("plane dimensions don't match copy source: (%d,%d) != (%d,%d)",
			fm.width, fm.height, src.width, src.height)
	}
	copy(fm.data, src.data)
	return nil
}

// MinMax returns the smallest and largest finite values. Non-finite elements
// are skipped; if no element is finite both returns are zero.
func (fm *FloatMap) MinMax() (float32, float32) {
	min := float32(math.Inf(1))
	max := float32(math.Inf(-1))
	found := false
	for _, v := range fm.data {
		v64 := float64(v)
		if math.IsNaN(v64) || math.IsInf(v64, 0) {
			continue
		}
		found = true
		if v < min {
			min = v
		}
		if v > max {
			max = v
		}
	}
	if !found {
		return 0, 0
	}
	return min, max
}

// ToGray renders the plane as an 8-bit grayscale image, scaling the finite
// value range to [0,255]. Non-finite elements render black.
func (fm *FloatMap) ToGray() *image.Gray {
	out := image.NewGray(image.Rect(0, 0, fm.width, fm.height))
	min, max := fm.MinMax()
	span := float64(max - min)
	if span <= 0 {
		span = 1
	}
	for y := 0; y < fm.height; y++ {
		for x := 0; x < fm.width; x++ {
			v := float64(fm.Get(x, y))
			if math.IsNaN(v) || math.IsInf(v, 0) {
				continue
			}
			out.Pix[out.PixOffset(x, y)] = uint8(255 * (v - float64(min)) / span)
		}
	}
	return out
}
