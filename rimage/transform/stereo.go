package transform

import (
	"encoding/json"
	"io"
	"math"
	"os"

	"github.com/golang/geo/r3"
	"github.com/pkg/errors"
	"go.viam.com/utils"
	"gonum.org/v1/gonum/mat"

	"github.com/youtalk/rgbd/rimage"
)

// StereoExtrinsics is the pose of the right camera relative to the left:
// rotation R (3x3, row-major) and translation T (meters). For a typical
// horizontal pair T.X is negative (the baseline).
type StereoExtrinsics struct {
	Rotation    []float64 `json:"r"`
	Translation []float64 `json:"t"`
}

// CheckValid checks the extrinsics for well-formed inputs.
func (ext *StereoExtrinsics) CheckValid() error {
	if ext == nil {
		return errors.New("stereo extrinsics do not exist")
	}
	if len(ext.Rotation) != 9 {
		return errors.Errorf("rotation must have 9 elements, got %d", len(ext.Rotation))
	}
	if len(ext.Translation) != 3 {
		return errors.Errorf("translation must have 3 elements, got %d", len(ext.Translation))
	}
	return nil
}

// NewStereoExtrinsicsFromJSONFile loads stereo extrinsics from a JSON file.
func NewStereoExtrinsicsFromJSONFile(jsonPath string) (*StereoExtrinsics, error) {
	//nolint:gosec
	jsonFile, err := os.Open(jsonPath)
	if err != nil {
		return nil, errors.Wrap(err, "error opening JSON file")
	}
	defer utils.UncheckedErrorFunc(jsonFile.Close)
	byteValue, err := io.ReadAll(jsonFile)
	if err != nil {
		return nil, errors.Wrap(err, "error reading JSON data")
	}
	ext := &StereoExtrinsics{}
	if err := json.Unmarshal(byteValue, ext); err != nil {
		return nil, errors.Wrap(err, "error parsing JSON string")
	}
	if err := ext.CheckValid(); err != nil {
		return nil, err
	}
	return ext, nil
}

// RectifiedCamera is one camera's rectification output: the rotation R from
// the original camera frame to the rectified frame, and the new 3x4
// projection P.
type RectifiedCamera struct {
	R *mat.Dense
	P *mat.Dense
}

// StereoRectification is the result of rectifying a calibrated stereo pair.
// After remapping through the per-camera maps, corresponding scene points lie
// on the same image row and Q reprojects disparity to 3D.
type StereoRectification struct {
	Left, Right RectifiedCamera
	Q           *mat.Dense
}

// rotationVectorFromMatrix converts a rotation matrix to its axis-angle
// vector (Rodrigues) form.
func rotationVectorFromMatrix(r *mat.Dense) r3.Vector {
	trace := r.At(0, 0) + r.At(1, 1) + r.At(2, 2)
	cosTheta := (trace - 1) / 2
	cosTheta = math.Max(-1, math.Min(1, cosTheta))
	theta := math.Acos(cosTheta)
	if theta < 1e-12 {
		return r3.Vector{}
	}
	sinTheta := math.Sin(theta)
	if math.Abs(sinTheta) > 1e-9 {
		scale := theta / (2 * sinTheta)
		return r3.Vector{
			X: (r.At(2, 1) - r.At(1, 2)) * scale,
			Y: (r.At(0, 2) - r.At(2, 0)) * scale,
			Z: (r.At(1, 0) - r.At(0, 1)) * scale,
		}
	}
	// theta near pi: recover axis from the symmetric part
	x := math.Sqrt(math.Max(0, (r.At(0, 0)+1)/2))
	y := math.Sqrt(math.Max(0, (r.At(1, 1)+1)/2))
	z := math.Sqrt(math.Max(0, (r.At(2, 2)+1)/2))
	if r.At(0, 1) < 0 {
		y = -y
	}
	if r.At(0, 2) < 0 {
		z = -z
	}
	return r3.Vector{X: x, Y: y, Z: z}.Mul(theta)
}

// rotationMatrixFromVector converts an axis-angle vector to its rotation
// matrix form.
func rotationMatrixFromVector(v r3.Vector) *mat.Dense {
	theta := v.Norm()
	out := mat.NewDense(3, 3, []float64{1, 0, 0, 0, 1, 0, 0, 0, 1})
	if theta < 1e-12 {
		return out
	}
	axis := v.Mul(1 / theta)
	k := mat.NewDense(3, 3, []float64{
		0, -axis.Z, axis.Y,
		axis.Z, 0, -axis.X,
		-axis.Y, axis.X, 0,
	})
	var k2 mat.Dense
	k2.Mul(k, k)
	sin, cos := math.Sincos(theta)
	for i := 0; i < 3; i++ {
		for j := 0; j < 3; j++ {
			out.Set(i, j, out.At(i, j)+sin*k.At(i, j)+(1-cos)*k2.At(i, j))
		}
	}
	return out
}

func matVec3(m *mat.Dense, v r3.Vector) r3.Vector {
	return r3.Vector{
		X: m.At(0, 0)*v.X + m.At(0, 1)*v.Y + m.At(0, 2)*v.Z,
		Y: m.At(1, 0)*v.X + m.At(1, 1)*v.Y + m.At(1, 2)*v.Z,
		Z: m.At(2, 0)*v.X + m.At(2, 1)*v.Y + m.At(2, 2)*v.Z,
	}
}

// StereoRectify computes zero-disparity (Bouguet) rectification for a
// calibrated horizontal stereo pair. Both cameras are rotated halfway toward
// each other, then about the baseline so epipolar lines become horizontal.
// The shared focal length is the mean of the input vertical focals and the
// shared principal point is the mean of the input principal points.
func StereoRectify(left, right *PinholeCameraIntrinsics, ext *StereoExtrinsics) (*StereoRectification, error) {
	if err := left.CheckValid(); err != nil {
		return nil, err
	}
	if err := right.CheckValid(); err != nil {
		return nil, err
	}
	if err := ext.CheckValid(); err != nil {
		return nil, err
	}

	r := mat.NewDense(3, 3, append([]float64(nil), ext.Rotation...))
	tVec := r3.Vector{X: ext.Translation[0], Y: ext.Translation[1], Z: ext.Translation[2]}
	if tVec.Norm() < 1e-12 {
		return nil, errors.New("stereo baseline is zero")
	}

	// split the inter-camera rotation evenly between the two views
	om := rotationVectorFromMatrix(r)
	rHalf := rotationMatrixFromVector(om.Mul(-0.5))
	t := matVec3(rHalf, tVec)

	if math.Abs(t.X) <= math.Abs(t.Y) {
		return nil, errors.New("vertical stereo pairs are not supported")
	}
	c := t.X
	nt := t.Norm()
	uu := r3.Vector{X: 1}
	if c < 0 {
		uu.X = -1
	}

	// rotate about the axis perpendicular to both the baseline and the x axis
	// so the baseline becomes horizontal
	ww := t.Cross(uu)
	if nw := ww.Norm(); nw > 1e-12 {
		ww = ww.Mul(math.Acos(math.Abs(c)/nt) / nw)
	}
	wR := rotationMatrixFromVector(ww)

	r1 := &mat.Dense{}
	r1.Mul(wR, rHalf.T())
	r2 := &mat.Dense{}
	r2.Mul(wR, rHalf)
	tRect := matVec3(r2, tVec)
	tx := tRect.X

	f := (left.Fy + right.Fy) / 2
	cx := (left.Ppx + right.Ppx) / 2
	cy := (left.Ppy + right.Ppy) / 2

	p1 := mat.NewDense(3, 4, []float64{
		f, 0, cx, 0,
		0, f, cy, 0,
		0, 0, 1, 0,
	})
	p2 := mat.NewDense(3, 4, []float64{
		f, 0, cx, tx * f,
		0, f, cy, 0,
		0, 0, 1, 0,
	})
	q := mat.NewDense(4, 4, []float64{
		1, 0, 0, -cx,
		0, 1, 0, -cy,
		0, 0, 0, f,
		0, 0, -1 / tx, 0,
	})

	return &StereoRectification{
		Left:  RectifiedCamera{R: r1, P: p1},
		Right: RectifiedCamera{R: r2, P: p2},
		Q:     q,
	}, nil
}

// RectificationMap precomputes, for every rectified output pixel, the
// source-image coordinate to sample from (undistort + rotate + project).
type RectificationMap struct {
	width, height int
	mapX, mapY    []float32
}

// NewRectificationMap builds the remap table for one camera of a rectified
// pair. dist may be nil for an undistorted source.
func NewRectificationMap(intr *PinholeCameraIntrinsics, dist *BrownConrady, cam RectifiedCamera) (*RectificationMap, error) {
	if err := intr.CheckValid(); err != nil {
		return nil, err
	}
	rm := &RectificationMap{
		width:  intr.Width,
		height: intr.Height,
		mapX:   make([]float32, intr.Width*intr.Height),
		mapY:   make([]float32, intr.Width*intr.Height),
	}
	f := cam.P.At(0, 0)
	cx := cam.P.At(0, 2)
	cy := cam.P.At(1, 2)
	rInv := cam.R.T()
	for v := 0; v < intr.Height; v++ {
		for u := 0; u < intr.Width; u++ {
			dir := r3.Vector{
				X: (float64(u) - cx) / f,
				Y: (float64(v) - cy) / f,
				Z: 1,
			}
			src := r3.Vector{
				X: rInv.At(0, 0)*dir.X + rInv.At(0, 1)*dir.Y + rInv.At(0, 2)*dir.Z,
				Y: rInv.At(1, 0)*dir.X + rInv.At(1, 1)*dir.Y + rInv.At(1, 2)*dir.Z,
				Z: rInv.At(2, 0)*dir.X + rInv.At(2, 1)*dir.Y + rInv.At(2, 2)*dir.Z,
			}
			x := src.X / src.Z
			y := src.Y / src.Z
			if dist != nil {
				x, y = dist.Transform(x, y)
			}
			k := v*intr.Width + u
			rm.mapX[k] = float32(intr.Fx*x + intr.Ppx)
			rm.mapY[k] = float32(intr.Fy*y + intr.Ppy)
		}
	}
	return rm, nil
}

// Remap resamples src through the map with bilinear interpolation; pixels
// mapping outside src come out black. dst must match the map's dimensions.
func (rm *RectificationMap) Remap(src, dst *rimage.Image) error {
	if dst.Width() != rm.width || dst.Height() != rm.height {
		return errors.Errorf("remap output dimensions don't match map: (%d,%d) != (%d,%d)",
			dst.Width(), dst.Height(), rm.width, rm.height)
	}
	for v := 0; v < rm.height; v++ {
		for u := 0; u < rm.width; u++ {
			k := v*rm.width + u
			dst.SetXY(u, v, bilinearSample(src, float64(rm.mapX[k]), float64(rm.mapY[k])))
		}
	}
	return nil
}

func bilinearSample(img *rimage.Image, x, y float64) rimage.Color {
	x0 := int(math.Floor(x))
	y0 := int(math.Floor(y))
	if x0 < 0 || y0 < 0 || x0+1 >= img.Width() || y0+1 >= img.Height() {
		return rimage.Color{}
	}
	fx := x - float64(x0)
	fy := y - float64(y0)
	c00 := img.GetXY(x0, y0)
	c10 := img.GetXY(x0+1, y0)
	c01 := img.GetXY(x0, y0+1)
	c11 := img.GetXY(x0+1, y0+1)
	lerp := func(a, b, c, d uint8) uint8 {
		top := float64(a)*(1-fx) + float64(b)*fx
		bot := float64(c)*(1-fx) + float64(d)*fx
		return uint8(top*(1-fy) + bot*fy + 0.5)
	}
	return rimage.Color{
		R: lerp(c00.R, c10.R, c01.R, c11.R),
		G: lerp(c00.G, c10.G, c01.G, c11.G),
		B: lerp(c00.B, c10.B, c01.B, c11.B),
	}
}
