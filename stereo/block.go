package stereo

import (
	"math"

	"github.com/youtalk/rgbd/rimage"
)

// BlockMatcher is a local sum-of-absolute-differences matcher. For every
// left-image window it scans the disparity range along the same scanline of
// the right image and keeps the lowest-cost shift. Windows with too little
// texture and matches that fail the uniqueness margin are invalidated.
type BlockMatcher struct {
	params Params
}

// NumDisparities returns the disparity search range.
func (m *BlockMatcher) NumDisparities() int {
	return m.params.NumDisparities
}

// Compute fills out with disparities for the rectified pair.
func (m *BlockMatcher) Compute(left, right, out *rimage.FloatMap) error {
	if err := checkShapes(left, right, out); err != nil {
		return err
	}
	width, height := left.Width(), left.Height()
	r := m.params.BlockSize / 2
	numDisp := m.params.NumDisparities
	costs := make([]float64, numDisp)

	out.Fill(Invalid)
	for y := r; y < height-r; y++ {
		for x := r; x < width-r; x++ {
			if m.params.TextureThreshold > 0 && m.textureAt(left, x, y) < m.params.TextureThreshold {
				continue
			}

			best := -1
			bestCost := math.Inf(1)
			for d := range costs {
				costs[d] = math.Inf(1)
			}
			for d := 0; d < numDisp; d++ {
				if x-d-r < 0 {
					break
				}
				c := windowSAD(left, right, x, y, d, r)
				costs[d] = c
				if c < bestCost {
					bestCost = c
					best = d
				}
			}
			if best < 0 || !passesUniqueness(costs, best, m.params.UniquenessRatio) {
				continue
			}

			disp := float32(best)
			if best > 0 && best < numDisp-1 && !math.IsInf(costs[best+1], 1) {
				disp = subPixel(best, costs[best-1], costs[best], costs[best+1])
			}
			out.Set(x, y, disp)
		}
	}

	if m.params.SpeckleWindowSize > 0 {
		filterSpeckles(out, m.params.SpeckleWindowSize, m.params.SpeckleRange)
	}
	return nil
}

// textureAt measures the mean absolute horizontal gradient inside the
// matching window, the same signal the disparity search keys on.
func (m *BlockMatcher) textureAt(img *rimage.FloatMap, x, y int) float64 {
	r := m.params.BlockSize / 2
	width := img.Width()
	var sum float64
	for dy := -r; dy <= r; dy++ {
		for dx := -r; dx <= r; dx++ {
			x0 := x + dx - 1
			x1 := x + dx + 1
			if x0 < 0 {
				x0 = 0
			}
			if x1 >= width {
				x1 = width - 1
			}
			sum += math.Abs(float64(img.Get(x1, y+dy) - img.Get(x0, y+dy)))
		}
	}
	area := float64(m.params.BlockSize * m.params.BlockSize)
	return sum / area
}

func windowSAD(left, right *rimage.FloatMap, x, y, d, r int) float64 {
	var sum float64
	for dy := -r; dy <= r; dy++ {
		for dx := -r; dx <= r; dx++ {
			sum += math.Abs(float64(left.Get(x+dx, y+dy) - right.Get(x+dx-d, y+dy)))
		}
	}
	return sum
}
