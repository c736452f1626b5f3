package stereo

import (
	"math"

	"github.com/youtalk/rgbd/rimage"
)

// SemiGlobalMatcher aggregates per-pixel matching costs along scanline paths
// before picking the winning disparity, which regularizes the result across
// low-texture regions a local matcher gives up on. The standard variant
// aggregates along the horizontal and vertical paths; the full-scale variant
// adds the four diagonals at twice the cost in time.
type SemiGlobalMatcher struct {
	params    Params
	fullScale bool
}

// Penalties for disparity steps between neighboring pixels along a path, on
// the scale of a mean absolute intensity difference (0..255).
const (
	penaltySmall = 8.0
	penaltyLarge = 32.0
)

// borderCost stands in for match candidates that fall off the left edge of
// the right image.
const borderCost = 255.0

// NumDisparities returns the disparity search range.
func (m *SemiGlobalMatcher) NumDisparities() int {
	return m.params.NumDisparities
}

// Compute fills out with disparities for the rectified pair.
func (m *SemiGlobalMatcher) Compute(left, right, out *rimage.FloatMap) error {
	if err := checkShapes(left, right, out); err != nil {
		return err
	}
	width, height := left.Width(), left.Height()
	numDisp := m.params.NumDisparities

	cost := m.costVolume(left, right)
	agg := make([]float32, len(cost))

	dirs := [][2]int{{1, 0}, {-1, 0}, {0, 1}, {0, -1}}
	if m.fullScale {
		dirs = append(dirs, [2]int{1, 1}, [2]int{-1, 1}, [2]int{1, -1}, [2]int{-1, -1})
	}
	for _, dir := range dirs {
		aggregatePath(cost, agg, width, height, numDisp, dir[0], dir[1])
	}

	out.Fill(Invalid)
	costs := make([]float64, numDisp)
	for y := 0; y < height; y++ {
		for x := 0; x < width; x++ {
			base := (y*width + x) * numDisp
			best := 0
			for d := 0; d < numDisp; d++ {
				costs[d] = float64(agg[base+d])
				if costs[d] < costs[best] {
					best = d
				}
			}
			// the winning shift must land inside the right image
			if x-best < 0 {
				continue
			}
			if !passesUniqueness(costs, best, m.params.UniquenessRatio) {
				continue
			}
			disp := float32(best)
			if best > 0 && best < numDisp-1 {
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

// costVolume computes the box-filtered absolute-difference cost for every
// pixel and candidate disparity, laid out as [(y*width+x)*numDisp + d].
func (m *SemiGlobalMatcher) costVolume(left, right *rimage.FloatMap) []float32 {
	width, height := left.Width(), left.Height()
	numDisp := m.params.NumDisparities
	r := m.params.BlockSize / 2

	vol := make([]float32, width*height*numDisp)
	plane := make([]float32, width*height)
	for d := 0; d < numDisp; d++ {
		for y := 0; y < height; y++ {
			for x := 0; x < width; x++ {
				if x-d < 0 {
					plane[y*width+x] = borderCost
					continue
				}
				diff := left.Get(x, y) - right.Get(x-d, y)
				if diff < 0 {
					diff = -diff
				}
				plane[y*width+x] = diff
			}
		}
		boxMean(plane, width, height, r)
		for i, v := range plane {
			vol[i*numDisp+d] = v
		}
	}
	return vol
}

// boxMean replaces plane with its mean over a (2r+1)² window, clamping at
// the borders, via separable prefix sums.
func boxMean(plane []float32, width, height, r int) {
	if r == 0 {
		return
	}
	tmp := make([]float32, len(plane))
	// horizontal pass
	for y := 0; y < height; y++ {
		row := plane[y*width : (y+1)*width]
		var sum float32
		for x := -r; x <= r; x++ {
			sum += row[clampIdx(x, width)]
		}
		for x := 0; x < width; x++ {
			tmp[y*width+x] = sum / float32(2*r+1)
			sum += row[clampIdx(x+r+1, width)] - row[clampIdx(x-r, width)]
		}
	}
	// vertical pass
	for x := 0; x < width; x++ {
		var sum float32
		for y := -r; y <= r; y++ {
			sum += tmp[clampIdx(y, height)*width+x]
		}
		for y := 0; y < height; y++ {
			plane[y*width+x] = sum / float32(2*r+1)
			sum += tmp[clampIdx(y+r+1, height)*width+x] - tmp[clampIdx(y-r, height)*width+x]
		}
	}
}

func clampIdx(i, n int) int {
	if i < 0 {
		return 0
	}
	if i >= n {
		return n - 1
	}
	return i
}

// aggregatePath adds the path-aggregated cost along direction (dx, dy) into
// agg. Each path starts at the border pixels facing the direction and the
// recurrence subtracts the previous minimum to keep values bounded.
func aggregatePath(cost, agg []float32, width, height, numDisp, dx, dy int) {
	prev := make([]float32, numDisp)
	cur := make([]float32, numDisp)

	walk := func(x0, y0 int) {
		havePrev := false
		var prevMin float32
		for x, y := x0, y0; x >= 0 && x < width && y >= 0 && y < height; x, y = x+dx, y+dy {
			base := (y*width + x) * numDisp
			if !havePrev {
				minHere := float32(math.Inf(1))
				for d := 0; d < numDisp; d++ {
					v := cost[base+d]
					agg[base+d] += v
					prev[d] = v
					if v < minHere {
						minHere = v
					}
				}
				prevMin = minHere
				havePrev = true
				continue
			}
			minHere := float32(math.Inf(1))
			for d := 0; d < numDisp; d++ {
				best := prev[d]
				if d > 0 {
					if v := prev[d-1] + penaltySmall; v < best {
						best = v
					}
				}
				if d < numDisp-1 {
					if v := prev[d+1] + penaltySmall; v < best {
						best = v
					}
				}
				if v := prevMin + penaltyLarge; v < best {
					best = v
				}
				v := cost[base+d] + best - prevMin
				agg[base+d] += v
				cur[d] = v
				if v < minHere {
					minHere = v
				}
			}
			prev, cur = cur, prev
			prevMin = minHere
		}
	}

	switch {
	case dy == 0 && dx > 0:
		for y := 0; y < height; y++ {
			walk(0, y)
		}
	case dy == 0 && dx < 0:
		for y := 0; y < height; y++ {
			walk(width-1, y)
		}
	case dx == 0 && dy > 0:
		for x := 0; x < width; x++ {
			walk(x, 0)
		}
	case dx == 0 && dy < 0:
		for x := 0; x < width; x++ {
			walk(x, height-1)
		}
	default:
		// diagonal paths start on two borders
		startY := 0
		if dy < 0 {
			startY = height - 1
		}
		for x := 0; x < width; x++ {
			walk(x, startY)
		}
		startX := 0
		if dx < 0 {
			startX = width - 1
		}
		for y := 0; y < height; y++ {
			if y == startY {
				continue
			}
			walk(startX, y)
		}
	}
}
