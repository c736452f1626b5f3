package transform

import (
	"math"

	"github.com/golang/geo/r3"
	"github.com/pkg/errors"
	"gonum.org/v1/gonum/mat"

	"github.com/youtalk/rgbd/pointcloud"
	"github.com/youtalk/rgbd/rimage"
)

// ReprojectDisparity converts a disparity map into a 3D point cloud using the
// 4x4 reprojection matrix Q from stereo rectification. Pixels with NaN or
// non-positive disparity are omitted, as are reprojected points behind the
// camera or beyond maxDepth (meters; 0 disables the cutoff). If img is
// non-nil and matches the disparity dimensions, points carry the color of
// their source pixel. cloud is reset first; point order is row-major.
func ReprojectDisparity(
	disp *rimage.FloatMap,
	img *rimage.Image,
	q *mat.Dense,
	maxDepth float64,
	cloud *pointcloud.Cloud,
) error {
	if r, c := q.Dims(); r != 4 || c != 4 {
		return errors.Errorf("reprojection matrix must be 4x4, got %dx%d", r, c)
	}
	if img != nil && (img.Width() != disp.Width() || img.Height() != disp.Height()) {
		return errors.Errorf("color and disparity dimensions don't match: (%d,%d) != (%d,%d)",
			img.Width(), img.Height(), disp.Width(), disp.Height())
	}
	cloud.Reset()
	for y := 0; y < disp.Height(); y++ {
		for x := 0; x < disp.Width(); x++ {
			d := float64(disp.Get(x, y))
			if math.IsNaN(d) || math.IsInf(d, 0) || d <= 0 {
				continue
			}
			hx := float64(x)
			hy := float64(y)
			px := q.At(0, 0)*hx + q.At(0, 1)*hy + q.At(0, 2)*d + q.At(0, 3)
			py := q.At(1, 0)*hx + q.At(1, 1)*hy + q.At(1, 2)*d + q.At(1, 3)
			pz := q.At(2, 0)*hx + q.At(2, 1)*hy + q.At(2, 2)*d + q.At(2, 3)
			pw := q.At(3, 0)*hx + q.At(3, 1)*hy + q.At(3, 2)*d + q.At(3, 3)
			if math.Abs(pw) < 1e-12 {
				continue
			}
			vec := r3.Vector{X: px / pw, Y: py / pw, Z: pz / pw}
			var c rimage.Color
			if img != nil {
				c = img.GetXY(x, y)
			}
			appendReprojected(cloud, vec, c.NRGBA(), img != nil, maxDepth)
		}
	}
	return nil
}
