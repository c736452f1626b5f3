package videosource

import (
	"context"
	"image"
	"testing"

	"github.com/edaniels/golog"
	driverutils "github.com/pion/mediadevices/pkg/driver"
	"github.com/pion/mediadevices/pkg/io/video"
	"github.com/pion/mediadevices/pkg/prop"
	"github.com/pkg/errors"
	"go.viam.com/test"

	"github.com/youtalk/rgbd/camera"
	"github.com/youtalk/rgbd/rimage"
)

// fakeDriver is an in-test video driver whose stream can be made to fail.
type fakeDriver struct {
	status     driverutils.State
	closeCount int
	props      []prop.Media
	readErr    error
}

func newFakeDriver(width, height int, readErr error) *fakeDriver {
	return &fakeDriver{
		status:  driverutils.StateClosed,
		props:   []prop.Media{{Video: prop.Video{Width: width, Height: height}}},
		readErr: readErr,
	}
}

func (d *fakeDriver) Open() error {
	d.status = driverutils.StateOpened
	return nil
}

func (d *fakeDriver) Close() error {
	d.closeCount++
	d.status = driverutils.StateClosed
	return nil
}

func (d *fakeDriver) Properties() []prop.Media { return d.props }
func (d *fakeDriver) ID() string               { return "fake" }
func (d *fakeDriver) Info() driverutils.Info   { return driverutils.Info{Label: "fake"} }
func (d *fakeDriver) Status() driverutils.State { return d.status }

func (d *fakeDriver) VideoRecord(prop.Media) (video.Reader, error) {
	w := d.props[0].Video.Width
	h := d.props[0].Video.Height
	return video.ReaderFunc(func() (image.Image, func(), error) {
		if d.readErr != nil {
			return nil, func() {}, d.readErr
		}
		return image.NewNRGBA(image.Rect(0, 0, w, h)), func() {}, nil
	}), nil
}

func TestWebcamConfigValidate(t *testing.T) {
	conf := WebcamConfig{Width: 640, Height: 480}
	test.That(t, conf.Validate(), test.ShouldBeNil)

	conf = WebcamConfig{Width: 0, Height: 480}
	test.That(t, conf.Validate(), test.ShouldNotBeNil)

	conf = WebcamConfig{Width: 640, Height: -1}
	test.That(t, conf.Validate(), test.ShouldNotBeNil)

	conf = WebcamConfig{Width: 640, Height: 480, FrameRate: -30}
	test.That(t, conf.Validate(), test.ShouldNotBeNil)
}

func TestWebcamLifecycleWithoutHardware(t *testing.T) {
	logger := golog.NewTestLogger(t)
	cam, err := NewWebcam("cam", WebcamConfig{Width: 640, Height: 480}, logger)
	test.That(t, err, test.ShouldBeNil)
	test.That(t, cam.Name(), test.ShouldEqual, "cam")

	w, h := cam.ColorSize()
	test.That(t, w, test.ShouldEqual, 640)
	test.That(t, h, test.ShouldEqual, 480)

	ctx := context.Background()

	// capture before start
	err = cam.CaptureColor(ctx, rimage.NewImage(640, 480))
	var notStarted *camera.NotStartedError
	test.That(t, errors.As(err, &notStarted), test.ShouldBeTrue)

	// wrong buffer shape is rejected before any device access
	err = cam.CaptureColor(ctx, rimage.NewImage(480, 640))
	var shapeErr *camera.ShapeError
	test.That(t, errors.As(err, &shapeErr), test.ShouldBeTrue)

	// closing an unstarted camera is fine, and start after close fails
	test.That(t, cam.Close(ctx), test.ShouldBeNil)
	err = cam.Start(ctx)
	var unavailable *camera.DeviceUnavailableError
	test.That(t, errors.As(err, &unavailable), test.ShouldBeTrue)
	test.That(t, errors.Is(err, errClosed), test.ShouldBeTrue)
}

func TestWebcamInvalidConfigRejected(t *testing.T) {
	logger := golog.NewTestLogger(t)
	_, err := NewWebcam("cam", WebcamConfig{}, logger)
	test.That(t, err, test.ShouldNotBeNil)
}

func TestStartFailedFirstReadLeavesCameraUnstarted(t *testing.T) {
	ctx := context.Background()
	logger := golog.NewTestLogger(t)
	cam, err := NewWebcam("cam", WebcamConfig{Width: 4, Height: 3}, logger)
	test.That(t, err, test.ShouldBeNil)

	// a stream that dies on the first frame fails Start as unavailable and
	// releases the driver
	readErr := errors.New("stream dead")
	d := newFakeDriver(4, 3, readErr)
	err = cam.startDriver(d)
	var unavailable *camera.DeviceUnavailableError
	test.That(t, errors.As(err, &unavailable), test.ShouldBeTrue)
	test.That(t, errors.Is(err, readErr), test.ShouldBeTrue)
	test.That(t, d.closeCount, test.ShouldEqual, 1)

	// the camera is left unstarted, so a capture reports that instead of
	// dereferencing a frame that never arrived
	err = cam.CaptureColor(ctx, rimage.NewImage(4, 3))
	var notStarted *camera.NotStartedError
	test.That(t, errors.As(err, &notStarted), test.ShouldBeTrue)

	// a healthy driver can still start the same camera afterwards
	test.That(t, cam.startDriver(newFakeDriver(4, 3, nil)), test.ShouldBeNil)
	buf := rimage.NewImage(4, 3)
	test.That(t, cam.CaptureColor(ctx, buf), test.ShouldBeNil)
	test.That(t, cam.Close(ctx), test.ShouldBeNil)
}

func TestStartRejectsUnsupportedResolution(t *testing.T) {
	logger := golog.NewTestLogger(t)
	cam, err := NewWebcam("cam", WebcamConfig{Width: 640, Height: 480}, logger)
	test.That(t, err, test.ShouldBeNil)

	d := newFakeDriver(4, 3, nil)
	err = cam.startDriver(d)
	var unavailable *camera.DeviceUnavailableError
	test.That(t, errors.As(err, &unavailable), test.ShouldBeTrue)
	test.That(t, d.closeCount, test.ShouldEqual, 1)
}
