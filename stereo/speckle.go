package stereo

import (
	"math"

	"github.com/youtalk/rgbd/rimage"
)

// filterSpeckles invalidates connected blobs of disparity smaller than
// maxSize pixels. Two 4-neighbors belong to the same blob when their
// disparities differ by at most maxDiff; small blobs are usually mismatches
// rather than real structure.
func filterSpeckles(disp *rimage.FloatMap, maxSize int, maxDiff float32) {
	width, height := disp.Width(), disp.Height()
	labels := make([]int32, width*height)
	var stack [][2]int

	nextLabel := int32(0)
	for y := 0; y < height; y++ {
		for x := 0; x < width; x++ {
			if labels[y*width+x] != 0 {
				continue
			}
			seed := disp.Get(x, y)
			if float32IsInvalid(seed) {
				continue
			}
			nextLabel++
			stack = append(stack[:0], [2]int{x, y})
			labels[y*width+x] = nextLabel
			var blob [][2]int
			for len(stack) > 0 {
				p := stack[len(stack)-1]
				stack = stack[:len(stack)-1]
				blob = append(blob, p)
				pv := disp.Get(p[0], p[1])
				for _, n := range [4][2]int{{p[0] - 1, p[1]}, {p[0] + 1, p[1]}, {p[0], p[1] - 1}, {p[0], p[1] + 1}} {
					nx, ny := n[0], n[1]
					if nx < 0 || nx >= width || ny < 0 || ny >= height {
						continue
					}
					if labels[ny*width+nx] != 0 {
						continue
					}
					nv := disp.Get(nx, ny)
					if float32IsInvalid(nv) {
						continue
					}
					d := nv - pv
					if d < 0 {
						d = -d
					}
					if d > maxDiff {
						continue
					}
					labels[ny*width+nx] = nextLabel
					stack = append(stack, [2]int{nx, ny})
				}
			}
			if len(blob) <= maxSize {
				for _, p := range blob {
					disp.Set(p[0], p[1], Invalid)
				}
			}
		}
	}
}

func float32IsInvalid(v float32) bool {
	return math.IsNaN(float64(v)) || math.IsInf(float64(v), 0)
}
