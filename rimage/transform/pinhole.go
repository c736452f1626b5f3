// Package transform provides camera calibration models: pinhole projection,
// lens distortion, stereo rectification, and disparity reprojection.
package transform

import (
	"encoding/json"
	"fmt"
	"image/color"
	"io"
	"math"
	"os"

	"github.com/golang/geo/r3"
	"github.com/pkg/errors"
	"go.viam.com/utils"

	"github.com/youtalk/rgbd/pointcloud"
	"github.com/youtalk/rgbd/rimage"
)

// ErrNoIntrinsics is returned when camera intrinsic parameters are missing.
var ErrNoIntrinsics = errors.New("camera intrinsic parameters are not available")

// NewNoIntrinsicsError wraps ErrNoIntrinsics with a reason.
func NewNoIntrinsicsError(msg string) error {
	return errors.Wrap(ErrNoIntrinsics, msg)
}

// PinholeCameraIntrinsics holds the parameters for a perspective projection of
// a 3D scene onto the 2D image plane.
type PinholeCameraIntrinsics struct {
	Width  int     `json:"width_px"`
	Height int     `json:"height_px"`
	Fx     float64 `json:"fx"`
	Fy     float64 `json:"fy"`
	Ppx    float64 `json:"ppx"`
	Ppy    float64 `json:"ppy"`
}

// CheckValid checks the intrinsics for valid inputs.
func (params *PinholeCameraIntrinsics) CheckValid() error {
	if params == nil {
		return NewNoIntrinsicsError("intrinsics do not exist")
	}
	if params.Width <= 0 || params.Height <= 0 {
		return NewNoIntrinsicsError(fmt.Sprintf("invalid size (%d, %d)", params.Width, params.Height))
	}
	if params.Fx <= 0 {
		return NewNoIntrinsicsError(fmt.Sprintf("invalid focal length Fx = %v", params.Fx))
	}
	if params.Fy <= 0 {
		return NewNoIntrinsicsError(fmt.Sprintf("invalid focal length Fy = %v", params.Fy))
	}
	if params.Ppx < 0 {
		return NewNoIntrinsicsError(fmt.Sprintf("invalid principal point Ppx = %v", params.Ppx))
	}
	if params.Ppy < 0 {
		return NewNoIntrinsicsError(fmt.Sprintf("invalid principal point Ppy = %v", params.Ppy))
	}
	return nil
}

// ImagePointTo3DPoint unprojects the pixel (x,y) at the given depth (meters)
// into camera coordinates.
func (params *PinholeCameraIntrinsics) ImagePointTo3DPoint(x, y int, depth float64) r3.Vector {
	return r3.Vector{
		X: (float64(x) - params.Ppx) * depth / params.Fx,
		Y: (float64(y) - params.Ppy) * depth / params.Fy,
		Z: depth,
	}
}

// ProjectPointToPixel projects a 3D camera-frame point onto the image plane.
func (params *PinholeCameraIntrinsics) ProjectPointToPixel(v r3.Vector) (float64, float64) {
	return v.X/v.Z*params.Fx + params.Ppx, v.Y/v.Z*params.Fy + params.Ppy
}

// DepthMapToPointCloud reprojects a depth frame into cloud, in row-major scan
// order. Pixels whose depth is non-positive, non-finite, or beyond maxDepth
// are omitted. If a color image of matching size is given, points carry the
// color of their source pixel. cloud is reset first.
func (params *PinholeCameraIntrinsics) DepthMapToPointCloud(
	depth *rimage.FloatMap,
	img *rimage.Image,
	maxDepth float64,
	cloud *pointcloud.Cloud,
) error {
	if err := params.CheckValid(); err != nil {
		return err
	}
	if depth.Width() != params.Width || depth.Height() != params.Height {
		return errors.Errorf("depth dimensions don't match intrinsics: (%d,%d) != (%d,%d)",
			depth.Width(), depth.Height(), params.Width, params.Height)
	}
	if img != nil && (img.Width() != depth.Width() || img.Height() != depth.Height()) {
		return errors.Errorf("color and depth dimensions don't match: (%d,%d) != (%d,%d)",
			img.Width(), img.Height(), depth.Width(), depth.Height())
	}
	cloud.Reset()
	for y := 0; y < depth.Height(); y++ {
		for x := 0; x < depth.Width(); x++ {
			z := float64(depth.Get(x, y))
			if z <= 0 || math.IsNaN(z) || math.IsInf(z, 0) || (maxDepth > 0 && z > maxDepth) {
				continue
			}
			vec := params.ImagePointTo3DPoint(x, y, z)
			if img != nil {
				cloud.AppendColored(vec, img.GetXY(x, y).NRGBA())
			} else {
				cloud.AppendVector(vec)
			}
		}
	}
	return nil
}

// appendReprojected applies the shared validity filter before appending.
func appendReprojected(cloud *pointcloud.Cloud, vec r3.Vector, c color.NRGBA, hasColor bool, maxDepth float64) {
	if math.IsNaN(vec.X) || math.IsInf(vec.X, 0) ||
		math.IsNaN(vec.Y) || math.IsInf(vec.Y, 0) ||
		math.IsNaN(vec.Z) || math.IsInf(vec.Z, 0) {
		return
	}
	if vec.Z <= 0 || (maxDepth > 0 && vec.Z > maxDepth) {
		return
	}
	if hasColor {
		cloud.AppendColored(vec, c)
	} else {
		cloud.AppendVector(vec)
	}
}

// NewPinholeCameraIntrinsicsFromJSONFile loads intrinsics from a JSON file.
func NewPinholeCameraIntrinsicsFromJSONFile(jsonPath string) (*PinholeCameraIntrinsics, error) {
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
	intrinsics := &PinholeCameraIntrinsics{}
	if err := json.Unmarshal(byteValue, intrinsics); err != nil {
		return nil, errors.Wrap(err, "error parsing JSON string")
	}
	return intrinsics, nil
}
