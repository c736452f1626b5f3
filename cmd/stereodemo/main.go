// Package main runs the stereo depth demo: two color cameras are captured,
// rectified, matched into a disparity map, and reprojected into a colored
// point cloud, with live views served over HTTP.
package main

import (
	"context"
	"fmt"
	"image"
	"image/png"
	"os"
	"strings"
	"time"

	"github.com/disintegration/imaging"
	"github.com/edaniels/golog"
	"github.com/pkg/errors"
	"github.com/urfave/cli/v2"
	goutils "go.viam.com/utils"

	"github.com/youtalk/rgbd/camera"
	"github.com/youtalk/rgbd/camera/fake"
	"github.com/youtalk/rgbd/camera/gige"
	"github.com/youtalk/rgbd/camera/videosource"
	"github.com/youtalk/rgbd/pointcloud"
	"github.com/youtalk/rgbd/rimage"
	"github.com/youtalk/rgbd/rimage/transform"
	"github.com/youtalk/rgbd/stereo"
	"github.com/youtalk/rgbd/viewer"
)

func main() {
	goutils.ContextualMain(mainWithArgs, golog.NewDevelopmentLogger("stereodemo"))
}

func mainWithArgs(ctx context.Context, args []string, logger golog.Logger) error {
	app := &cli.App{
		Name:  "stereodemo",
		Usage: "compute disparity and a point cloud from a stereo camera pair",
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:  "left",
				Usage: "left camera source: fake, a webcam device path, or gige:<host:port>",
				Value: "fake",
			},
			&cli.StringFlag{
				Name:  "right",
				Usage: "right camera source: fake, a webcam device path, or gige:<host:port>",
				Value: "fake",
			},
			&cli.IntFlag{Name: "width", Usage: "camera frame width", Value: 640},
			&cli.IntFlag{Name: "height", Usage: "camera frame height", Value: 480},
			&cli.StringFlag{
				Name:  "algorithm",
				Usage: "stereo matching algorithm: bm, sgbm or hh",
				Value: stereo.AlgorithmBM,
			},
			&cli.IntFlag{Name: "blocksize", Usage: "matching window size (odd, >= 5)", Value: 9},
			&cli.IntFlag{
				Name:  "max-disparity",
				Usage: "disparity search range (positive multiple of 16)",
				Value: 64,
			},
			&cli.Float64Flag{
				Name:  "scale",
				Usage: "downscale factor applied to frames before matching",
				Value: 1,
			},
			&cli.StringFlag{Name: "intrinsics-left", Usage: "left camera intrinsics JSON file"},
			&cli.StringFlag{Name: "intrinsics-right", Usage: "right camera intrinsics JSON file"},
			&cli.StringFlag{Name: "extrinsics", Usage: "stereo extrinsics JSON file"},
			&cli.Float64Flag{
				Name:  "max-depth",
				Usage: "point cloud depth cutoff in meters (0 for none)",
				Value: 0,
			},
			&cli.BoolFlag{
				Name:  "no-display",
				Usage: "process a single frame, write the outputs, and exit",
			},
			&cli.StringFlag{Name: "addr", Usage: "viewer listen address", Value: "localhost:8080"},
			&cli.StringFlag{Name: "disparity-out", Usage: "write the disparity map to this PNG file"},
			&cli.StringFlag{Name: "cloud-out", Usage: "write the point cloud to this PCD file"},
		},
		Action: func(c *cli.Context) error {
			return runDemo(c.Context, c, logger)
		},
	}
	return app.RunContext(ctx, args)
}

// pipeline holds everything the per-frame loop needs.
type pipeline struct {
	left, right camera.Camera
	leftBuf     *rimage.Image
	rightBuf    *rimage.Image

	scale         float64
	width, height int // processing size after scaling

	rect     *transform.StereoRectification
	leftMap  *transform.RectificationMap
	rightMap *transform.RectificationMap

	matcher  stereo.Matcher
	disp     *rimage.FloatMap
	cloud    *pointcloud.Cloud
	maxDepth float64
}

func runDemo(ctx context.Context, c *cli.Context, logger golog.Logger) error {
	p, err := buildPipeline(c, logger)
	if err != nil {
		return err
	}
	defer func() {
		goutils.UncheckedError(p.left.Close(context.Background()))
		goutils.UncheckedError(p.right.Close(context.Background()))
	}()

	if err := p.left.Start(ctx); err != nil {
		return errors.Wrap(err, "starting left camera")
	}
	if err := p.right.Start(ctx); err != nil {
		return errors.Wrap(err, "starting right camera")
	}

	var srv *viewer.Server
	if !c.Bool("no-display") {
		srv = viewer.NewServer(c.String("addr"), logger)
		if err := srv.Start(); err != nil {
			return err
		}
		defer func() {
			goutils.UncheckedError(srv.Close(context.Background()))
		}()
	}

	for {
		if err := p.step(ctx, srv, logger); err != nil {
			return err
		}
		if c.Bool("no-display") {
			break
		}
		if !goutils.SelectContextOrWait(ctx, time.Millisecond) {
			break
		}
	}
	return p.writeOutputs(c.String("disparity-out"), c.String("cloud-out"), logger)
}

func buildPipeline(c *cli.Context, logger golog.Logger) (*pipeline, error) {
	width := c.Int("width")
	height := c.Int("height")
	scale := c.Float64("scale")
	if scale <= 0 || scale > 1 {
		return nil, errors.Errorf("scale must be in (0, 1], got %f", scale)
	}

	left, err := resolveCamera("left", c.String("left"), width, height, logger)
	if err != nil {
		return nil, err
	}
	right, err := resolveCamera("right", c.String("right"), width, height, logger)
	if err != nil {
		return nil, err
	}

	params := stereo.DefaultParams()
	params.BlockSize = c.Int("blocksize")
	params.NumDisparities = c.Int("max-disparity")
	matcher, err := stereo.NewMatcher(c.String("algorithm"), params)
	if err != nil {
		return nil, err
	}

	procWidth := int(float64(width) * scale)
	procHeight := int(float64(height) * scale)
	p := &pipeline{
		left:     left,
		right:    right,
		leftBuf:  rimage.NewImage(width, height),
		rightBuf: rimage.NewImage(width, height),
		scale:    scale,
		width:    procWidth,
		height:   procHeight,
		matcher:  matcher,
		disp:     rimage.NewFloatMap(procWidth, procHeight),
		cloud:    pointcloud.New(),
		maxDepth: c.Float64("max-depth"),
	}

	if err := p.setupRectification(c); err != nil {
		return nil, err
	}
	return p, nil
}

// setupRectification loads the calibration files and precomputes the remap
// tables. Intrinsics and extrinsics must be given together or not at all; a
// point cloud needs them.
func (p *pipeline) setupRectification(c *cli.Context) error {
	leftFile := c.String("intrinsics-left")
	rightFile := c.String("intrinsics-right")
	extFile := c.String("extrinsics")
	have := 0
	for _, f := range []string{leftFile, rightFile, extFile} {
		if f != "" {
			have++
		}
	}
	if have == 0 {
		if c.String("cloud-out") != "" {
			return errors.New("cloud-out requires intrinsics and extrinsics for reprojection")
		}
		return nil
	}
	if have != 3 {
		return errors.New("intrinsics-left, intrinsics-right and extrinsics must be given together")
	}

	leftIntr, err := transform.NewPinholeCameraIntrinsicsFromJSONFile(leftFile)
	if err != nil {
		return errors.Wrap(err, "loading left intrinsics")
	}
	rightIntr, err := transform.NewPinholeCameraIntrinsicsFromJSONFile(rightFile)
	if err != nil {
		return errors.Wrap(err, "loading right intrinsics")
	}
	ext, err := transform.NewStereoExtrinsicsFromJSONFile(extFile)
	if err != nil {
		return errors.Wrap(err, "loading extrinsics")
	}

	scaleIntrinsics(leftIntr, p.scale)
	scaleIntrinsics(rightIntr, p.scale)

	// the remap tables are sized by the intrinsics; a disagreement with the
	// scaled camera frames must fail here, not mid-pipeline
	if err := checkCalibrationSize("left", leftIntr, p.width, p.height); err != nil {
		return err
	}
	if err := checkCalibrationSize("right", rightIntr, p.width, p.height); err != nil {
		return err
	}

	rect, err := transform.StereoRectify(leftIntr, rightIntr, ext)
	if err != nil {
		return err
	}
	leftMap, err := transform.NewRectificationMap(leftIntr, nil, rect.Left)
	if err != nil {
		return err
	}
	rightMap, err := transform.NewRectificationMap(rightIntr, nil, rect.Right)
	if err != nil {
		return err
	}
	p.rect = rect
	p.leftMap = leftMap
	p.rightMap = rightMap
	return nil
}

// checkCalibrationSize verifies the scaled intrinsics cover the frames the
// pipeline will feed through the remap tables.
func checkCalibrationSize(name string, intr *transform.PinholeCameraIntrinsics, width, height int) error {
	if intr.Width != width || intr.Height != height {
		return errors.Errorf(
			"%s intrinsics are for %dx%d frames but the scaled camera frames are %dx%d",
			name, intr.Width, intr.Height, width, height)
	}
	return nil
}

func scaleIntrinsics(intr *transform.PinholeCameraIntrinsics, scale float64) {
	if scale == 1 {
		return
	}
	intr.Width = int(float64(intr.Width) * scale)
	intr.Height = int(float64(intr.Height) * scale)
	intr.Fx *= scale
	intr.Fy *= scale
	intr.Ppx *= scale
	intr.Ppy *= scale
}

// resolveCamera turns a source spec into a camera. "fake" is the synthetic
// camera, "gige:<host:port>" is the industrial camera bridge, anything else
// is a webcam device path.
func resolveCamera(name, spec string, width, height int, logger golog.Logger) (camera.Camera, error) {
	switch {
	case spec == "fake":
		return fake.NewColor(name, width, height), nil
	case strings.HasPrefix(spec, "gige:"):
		return gige.New(name, gige.Config{
			Address: strings.TrimPrefix(spec, "gige:"),
			Width:   width,
			Height:  height,
		}, logger)
	default:
		return videosource.NewWebcam(name, videosource.WebcamConfig{
			Path:   spec,
			Width:  width,
			Height: height,
		}, logger)
	}
}

// step runs one capture-rectify-match-reproject iteration.
func (p *pipeline) step(ctx context.Context, srv *viewer.Server, logger golog.Logger) error {
	if err := p.left.CaptureColor(ctx, p.leftBuf); err != nil {
		return errors.Wrap(err, "capturing left frame")
	}
	if err := p.right.CaptureColor(ctx, p.rightBuf); err != nil {
		return errors.Wrap(err, "capturing right frame")
	}

	leftProc, err := p.preprocess(p.leftBuf, p.leftMap)
	if err != nil {
		return errors.Wrap(err, "rectifying left frame")
	}
	rightProc, err := p.preprocess(p.rightBuf, p.rightMap)
	if err != nil {
		return errors.Wrap(err, "rectifying right frame")
	}

	start := time.Now()
	if err := p.matcher.Compute(leftProc.Luminance(), rightProc.Luminance(), p.disp); err != nil {
		return err
	}
	logger.Debugw("disparity computed", "duration", time.Since(start))

	if p.rect != nil {
		if err := transform.ReprojectDisparity(p.disp, leftProc, p.rect.Q, p.maxDepth, p.cloud); err != nil {
			return err
		}
	}

	if srv != nil {
		if err := srv.Publish("left", leftProc); err != nil {
			return err
		}
		if err := srv.Publish("right", rightProc); err != nil {
			return err
		}
		if err := srv.Publish("disparity", p.disp.ToGray()); err != nil {
			return err
		}
		if p.rect != nil {
			if err := srv.PublishCloud(p.cloud); err != nil {
				return err
			}
		}
	}
	return nil
}

// preprocess downscales a captured frame to the processing size and applies
// rectification when calibration is loaded.
func (p *pipeline) preprocess(img *rimage.Image, rm *transform.RectificationMap) (*rimage.Image, error) {
	scaled := img
	if p.scale != 1 {
		resized := imaging.Resize(img, p.width, p.height, imaging.Lanczos)
		scaled = rimage.ConvertImage(resized)
	}
	if rm == nil {
		return scaled, nil
	}
	rectified := rimage.NewImage(p.width, p.height)
	if err := rm.Remap(scaled, rectified); err != nil {
		return nil, err
	}
	return rectified, nil
}

func (p *pipeline) writeOutputs(dispFile, cloudFile string, logger golog.Logger) error {
	if dispFile != "" {
		if err := writePNG(dispFile, p.disp.ToGray()); err != nil {
			return errors.Wrap(err, "writing disparity map")
		}
		logger.Infow("wrote disparity map", "file", dispFile)
	}
	if cloudFile != "" {
		if err := pointcloud.WriteToFile(p.cloud, cloudFile); err != nil {
			return errors.Wrap(err, "writing point cloud")
		}
		logger.Infow("wrote point cloud", "file", cloudFile, "points", p.cloud.Size())
	}
	return nil
}

func writePNG(fn string, img image.Image) (err error) {
	if !strings.HasSuffix(fn, ".png") {
		return fmt.Errorf("disparity output must be a .png file, got %q", fn)
	}
	//nolint:gosec
	f, err := os.Create(fn)
	if err != nil {
		return err
	}
	defer goutils.UncheckedErrorFunc(f.Close)
	return png.Encode(f, img)
}
