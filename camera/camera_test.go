package camera

import (
	"context"
	"testing"

	"github.com/pkg/errors"
	"go.viam.com/test"

	"github.com/youtalk/rgbd/pointcloud"
	"github.com/youtalk/rgbd/rimage"
	"github.com/youtalk/rgbd/rimage/transform"
)

// stubColor is a minimal in-test color camera.
type stubColor struct {
	name          string
	width, height int
	started       bool
	startCount    int
	closeCount    int
	startErr      error
	fill          rimage.Color
}

func (s *stubColor) Name() string               { return s.name }
func (s *stubColor) ColorSize() (int, int)      { return s.width, s.height }
func (s *stubColor) Close(context.Context) error {
	s.closeCount++
	s.started = false
	return nil
}

func (s *stubColor) Start(context.Context) error {
	s.startCount++
	if s.startErr != nil {
		return s.startErr
	}
	s.started = true
	return nil
}

func (s *stubColor) CaptureColor(_ context.Context, buf *rimage.Image) error {
	if !s.started {
		return &NotStartedError{Device: s.name, Op: "CaptureColor"}
	}
	if err := CheckColorBuffer(s, buf); err != nil {
		return err
	}
	for y := 0; y < s.height; y++ {
		for x := 0; x < s.width; x++ {
			buf.SetXY(x, y, s.fill)
		}
	}
	return nil
}

// stubDepth is a minimal in-test depth sensor with a flat synthetic scene.
type stubDepth struct {
	stubColor
	depthWidth, depthHeight int
	depth                   float32
}

func (s *stubDepth) DepthSize() (int, int) { return s.depthWidth, s.depthHeight }

func (s *stubDepth) CaptureDepth(_ context.Context, buf *rimage.FloatMap) error {
	if !s.started {
		return &NotStartedError{Device: s.name, Op: "CaptureDepth"}
	}
	if err := CheckDepthBuffer(s, "CaptureDepth", buf); err != nil {
		return err
	}
	buf.Fill(s.depth)
	return nil
}

func (s *stubDepth) CaptureAmplitude(_ context.Context, buf *rimage.FloatMap) error {
	if err := CheckDepthBuffer(s, "CaptureAmplitude", buf); err != nil {
		return err
	}
	buf.Fill(1)
	return nil
}

func (s *stubDepth) CaptureVertex(_ context.Context, buf *pointcloud.Cloud) error {
	buf.Reset()
	return nil
}

func (s *stubDepth) CaptureColoredVertex(_ context.Context, buf *pointcloud.Cloud) error {
	buf.Reset()
	return nil
}

func TestErrorTypes(t *testing.T) {
	cause := errors.New("usb gone")
	var err error = &DeviceUnavailableError{Device: "left", Err: cause}
	test.That(t, err.Error(), test.ShouldContainSubstring, `camera "left"`)
	test.That(t, errors.Is(err, cause), test.ShouldBeTrue)

	err = &NotStartedError{Device: "left", Op: "CaptureColor"}
	test.That(t, err.Error(), test.ShouldContainSubstring, "before Start")

	err = &CaptureError{Device: "left", Op: "CaptureColor", Err: cause}
	test.That(t, errors.Is(err, cause), test.ShouldBeTrue)

	err = &ShapeError{Device: "left", Op: "CaptureColor", WantWidth: 640, WantHeight: 480, GotWidth: 320, GotHeight: 240}
	test.That(t, err.Error(), test.ShouldContainSubstring, "(320,240)")
	test.That(t, err.Error(), test.ShouldContainSubstring, "(640,480)")
}

func TestBufferShapeChecks(t *testing.T) {
	cam := &stubColor{name: "c", width: 4, height: 3}
	test.That(t, CheckColorBuffer(cam, rimage.NewImage(4, 3)), test.ShouldBeNil)

	err := CheckColorBuffer(cam, rimage.NewImage(3, 4))
	var shapeErr *ShapeError
	test.That(t, errors.As(err, &shapeErr), test.ShouldBeTrue)

	dcam := &stubDepth{stubColor: stubColor{name: "d", width: 4, height: 3}, depthWidth: 2, depthHeight: 2}
	test.That(t, CheckDepthBuffer(dcam, "CaptureDepth", rimage.NewFloatMap(2, 2)), test.ShouldBeNil)
	test.That(t, CheckDepthBuffer(dcam, "CaptureDepth", rimage.NewFloatMap(4, 3)), test.ShouldNotBeNil)
}

var composedIntrinsics = &transform.PinholeCameraIntrinsics{
	Width: 8, Height: 6, Fx: 10, Fy: 10, Ppx: 4, Ppy: 3,
}

func TestComposedLifecycle(t *testing.T) {
	ctx := context.Background()
	color := &stubColor{name: "color", width: 16, height: 12, fill: rimage.NewColor(5, 6, 7)}
	depth := &stubDepth{
		stubColor:  stubColor{name: "depth", width: 8, height: 6},
		depthWidth: 8, depthHeight: 6, depth: 2,
	}
	cam := NewComposed("rgbd", color, depth, composedIntrinsics, 0)

	// capture before start fails
	err := cam.CaptureColor(ctx, rimage.NewImage(16, 12))
	var notStarted *NotStartedError
	test.That(t, errors.As(err, &notStarted), test.ShouldBeTrue)
	err = cam.CaptureDepth(ctx, rimage.NewFloatMap(8, 6))
	test.That(t, errors.As(err, &notStarted), test.ShouldBeTrue)
	err = cam.CaptureVertex(ctx, pointcloud.New())
	test.That(t, errors.As(err, &notStarted), test.ShouldBeTrue)

	test.That(t, cam.Start(ctx), test.ShouldBeNil)
	test.That(t, color.startCount, test.ShouldEqual, 1)
	test.That(t, depth.startCount, test.ShouldEqual, 1)

	// second start is an error, and does not double-start the devices
	err = cam.Start(ctx)
	var unavailable *DeviceUnavailableError
	test.That(t, errors.As(err, &unavailable), test.ShouldBeTrue)
	test.That(t, color.startCount, test.ShouldEqual, 1)

	buf := rimage.NewImage(16, 12)
	test.That(t, cam.CaptureColor(ctx, buf), test.ShouldBeNil)
	test.That(t, buf.GetXY(3, 3), test.ShouldResemble, rimage.NewColor(5, 6, 7))

	dbuf := rimage.NewFloatMap(8, 6)
	test.That(t, cam.CaptureDepth(ctx, dbuf), test.ShouldBeNil)
	test.That(t, dbuf.Get(0, 0), test.ShouldEqual, float32(2))

	test.That(t, cam.Close(ctx), test.ShouldBeNil)
	test.That(t, color.closeCount, test.ShouldEqual, 1)
	test.That(t, depth.closeCount, test.ShouldEqual, 1)
	// closing again is a no-op
	test.That(t, cam.Close(ctx), test.ShouldBeNil)
	test.That(t, color.closeCount, test.ShouldEqual, 1)
}

func TestComposedVertexCapture(t *testing.T) {
	ctx := context.Background()
	color := &stubColor{name: "color", width: 16, height: 12, fill: rimage.NewColor(200, 100, 50)}
	depth := &stubDepth{
		stubColor:  stubColor{name: "depth", width: 8, height: 6},
		depthWidth: 8, depthHeight: 6, depth: 1.5,
	}
	cam := NewComposed("rgbd", color, depth, composedIntrinsics, 0)
	test.That(t, cam.Start(ctx), test.ShouldBeNil)

	cloud := pointcloud.New()
	test.That(t, cam.CaptureVertex(ctx, cloud), test.ShouldBeNil)
	// every depth pixel is valid, so exactly width*height points
	test.That(t, cloud.Size(), test.ShouldEqual, 8*6)
	test.That(t, cloud.At(0).Position.Z, test.ShouldAlmostEqual, 1.5, 1e-6)

	colored := pointcloud.New()
	test.That(t, cam.CaptureColoredVertex(ctx, colored), test.ShouldBeNil)
	test.That(t, colored.Size(), test.ShouldEqual, cloud.Size())
	test.That(t, colored.At(10).HasColor, test.ShouldBeTrue)
	test.That(t, colored.At(10).Color.R, test.ShouldEqual, uint8(200))
}

func TestComposedDepthStartFailureClosesColor(t *testing.T) {
	ctx := context.Background()
	color := &stubColor{name: "color", width: 16, height: 12}
	depth := &stubDepth{
		stubColor:  stubColor{name: "depth", width: 8, height: 6, startErr: errors.New("sensor offline")},
		depthWidth: 8, depthHeight: 6,
	}
	cam := NewComposed("rgbd", color, depth, nil, 0)

	err := cam.Start(ctx)
	test.That(t, err, test.ShouldNotBeNil)
	test.That(t, errors.Is(err, depth.startErr), test.ShouldBeTrue)
	// the color facet must not be left running after the failed start
	test.That(t, color.closeCount, test.ShouldEqual, 1)
	test.That(t, color.started, test.ShouldBeFalse)

	err = cam.CaptureColor(ctx, rimage.NewImage(16, 12))
	var notStarted *NotStartedError
	test.That(t, errors.As(err, &notStarted), test.ShouldBeTrue)

	// once the depth sensor recovers, a retry starts the color facet exactly
	// one more time
	depth.startErr = nil
	test.That(t, cam.Start(ctx), test.ShouldBeNil)
	test.That(t, color.startCount, test.ShouldEqual, 2)
	test.That(t, depth.started, test.ShouldBeTrue)
	test.That(t, cam.Close(ctx), test.ShouldBeNil)
	test.That(t, color.closeCount, test.ShouldEqual, 2)
}

func TestComposedSharedDeviceStartsOnce(t *testing.T) {
	ctx := context.Background()
	dev := &stubDepth{
		stubColor:  stubColor{name: "tof", width: 8, height: 6},
		depthWidth: 8, depthHeight: 6, depth: 1,
	}
	// the same physical device serves as both facets
	cam := NewComposed("tof", dev, dev, nil, 0)
	test.That(t, cam.Start(ctx), test.ShouldBeNil)
	test.That(t, dev.startCount, test.ShouldEqual, 1)
	test.That(t, cam.Close(ctx), test.ShouldBeNil)
	test.That(t, dev.closeCount, test.ShouldEqual, 1)
}
