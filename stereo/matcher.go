// Package stereo computes dense disparity maps from rectified image pairs.
//
// All matchers consume grayscale intensity maps of identical shape (left and
// right views after rectification) and write a disparity map in pixels, with
// NaN marking pixels where no reliable match was found. Depth follows from
// disparity through the reprojection matrix of the rectified pair.
package stereo

import (
	"math"

	"github.com/pkg/errors"

	"github.com/youtalk/rgbd/rimage"
)

// Invalid marks a disparity pixel with no reliable match.
var Invalid = float32(math.NaN())

// Matcher computes a disparity map from a rectified grayscale pair.
type Matcher interface {
	// Compute fills out with per-pixel disparities. left, right and out must
	// share the same dimensions.
	Compute(left, right *rimage.FloatMap, out *rimage.FloatMap) error
	// NumDisparities returns the size of the disparity search range.
	NumDisparities() int
}

// Params are the tunables shared by the matching algorithms.
type Params struct {
	// BlockSize is the matching window side; it must be odd and at least 5.
	BlockSize int
	// NumDisparities is the search range [0, NumDisparities); it must be a
	// positive multiple of 16.
	NumDisparities int
	// TextureThreshold rejects windows whose intensity variation is below
	// this value (block matching only).
	TextureThreshold float64
	// UniquenessRatio is the margin, in percent, by which the best match
	// cost must beat the runner-up outside its immediate neighborhood.
	UniquenessRatio int
	// SpeckleWindowSize is the maximum size, in pixels, of a disparity blob
	// to invalidate as noise; 0 disables speckle filtering.
	SpeckleWindowSize int
	// SpeckleRange is the maximum disparity step between neighbors inside
	// one blob.
	SpeckleRange float32
}

// DefaultParams mirrors the usual starting point for VGA-class stereo pairs.
func DefaultParams() Params {
	return Params{
		BlockSize:         9,
		NumDisparities:    64,
		TextureThreshold:  2,
		UniquenessRatio:   10,
		SpeckleWindowSize: 100,
		SpeckleRange:      2,
	}
}

// Validate ensures the parameter set is usable.
func (p *Params) Validate() error {
	if p.BlockSize < 5 || p.BlockSize%2 == 0 {
		return errors.Errorf("block size must be odd and >= 5, got %d", p.BlockSize)
	}
	if p.NumDisparities <= 0 || p.NumDisparities%16 != 0 {
		return errors.Errorf("number of disparities must be a positive multiple of 16, got %d", p.NumDisparities)
	}
	if p.UniquenessRatio < 0 {
		return errors.Errorf("uniqueness ratio must be non-negative, got %d", p.UniquenessRatio)
	}
	if p.SpeckleWindowSize < 0 {
		return errors.Errorf("speckle window size must be non-negative, got %d", p.SpeckleWindowSize)
	}
	return nil
}

// Algorithm names accepted by NewMatcher.
const (
	AlgorithmBM   = "bm"
	AlgorithmSGBM = "sgbm"
	AlgorithmHH   = "hh"
)

// NewMatcher builds the named matcher. "bm" is local block matching, "sgbm"
// is semiglobal matching with horizontal and vertical aggregation paths, and
// "hh" is full-scale semiglobal matching with diagonal paths included.
func NewMatcher(algorithm string, p Params) (Matcher, error) {
	if err := p.Validate(); err != nil {
		return nil, err
	}
	switch algorithm {
	case AlgorithmBM:
		return &BlockMatcher{params: p}, nil
	case AlgorithmSGBM:
		return &SemiGlobalMatcher{params: p, fullScale: false}, nil
	case AlgorithmHH:
		return &SemiGlobalMatcher{params: p, fullScale: true}, nil
	default:
		return nil, errors.Errorf("unknown stereo algorithm %q (want bm, sgbm or hh)", algorithm)
	}
}

func checkShapes(left, right, out *rimage.FloatMap) error {
	if left.Width() != right.Width() || left.Height() != right.Height() {
		return errors.Errorf("left (%dx%d) and right (%dx%d) dimensions differ",
			left.Width(), left.Height(), right.Width(), right.Height())
	}
	if out.Width() != left.Width() || out.Height() != left.Height() {
		return errors.Errorf("output (%dx%d) does not match input (%dx%d)",
			out.Width(), out.Height(), left.Width(), left.Height())
	}
	return nil
}

// subPixel refines an integer disparity with a parabola fit through the cost
// at d-1, d and d+1.
func subPixel(d int, cPrev, cBest, cNext float64) float32 {
	denom := cPrev - 2*cBest + cNext
	if denom <= 0 {
		return float32(d)
	}
	offset := (cPrev - cNext) / (2 * denom)
	if offset < -1 || offset > 1 {
		return float32(d)
	}
	return float32(float64(d) + offset)
}

// passesUniqueness reports whether the best cost beats every candidate
// outside its immediate neighborhood by the configured percentage margin.
func passesUniqueness(costs []float64, best int, ratio int) bool {
	if ratio <= 0 {
		return true
	}
	bestCost := costs[best]
	for d, c := range costs {
		if d >= best-1 && d <= best+1 {
			continue
		}
		if c*100 <= bestCost*float64(100+ratio) {
			return false
		}
	}
	return true
}
