package gige

import (
	"context"
	"encoding/binary"
	"net"
	"testing"
	"time"

	"github.com/edaniels/golog"
	"github.com/pkg/errors"
	"go.viam.com/test"

	"github.com/youtalk/rgbd/camera"
	"github.com/youtalk/rgbd/rimage"
)

func TestConfigValidate(t *testing.T) {
	conf := Config{Address: "127.0.0.1:4000", Width: 64, Height: 48}
	test.That(t, conf.Validate(), test.ShouldBeNil)

	conf = Config{Width: 64, Height: 48}
	test.That(t, conf.Validate(), test.ShouldNotBeNil)

	conf = Config{Address: "a", Width: 0, Height: 48}
	test.That(t, conf.Validate(), test.ShouldNotBeNil)

	// odd dimensions cannot carry a full RGGB mosaic
	conf = Config{Address: "a", Width: 63, Height: 48}
	test.That(t, conf.Validate(), test.ShouldNotBeNil)
}

func TestDemosaicUniform(t *testing.T) {
	raw := make([]byte, 8*6)
	for i := range raw {
		raw[i] = 100
	}
	img := demosaicRGGB(raw, 8, 6)
	for y := 0; y < 6; y++ {
		for x := 0; x < 8; x++ {
			test.That(t, img.GetXY(x, y), test.ShouldResemble, rimage.NewColor(100, 100, 100))
		}
	}
}

func TestDemosaicChannels(t *testing.T) {
	// a uniformly colored scene: every red site 200, green 100, blue 50
	const w, h = 8, 6
	raw := make([]byte, w*h)
	for y := 0; y < h; y++ {
		for x := 0; x < w; x++ {
			switch {
			case y%2 == 0 && x%2 == 0:
				raw[y*w+x] = 200
			case y%2 == 1 && x%2 == 1:
				raw[y*w+x] = 50
			default:
				raw[y*w+x] = 100
			}
		}
	}
	img := demosaicRGGB(raw, w, h)
	c := img.GetXY(3, 3)
	test.That(t, c, test.ShouldResemble, rimage.NewColor(200, 100, 50))
}

// serveFrames runs a one-connection bridge that sends uniform Bayer frames
// until the connection drops or frameCount frames were sent (0 for no limit).
func serveFrames(t *testing.T, width, height, frameCount int) string {
	t.Helper()
	lis, err := net.Listen("tcp", "127.0.0.1:0")
	test.That(t, err, test.ShouldBeNil)
	t.Cleanup(func() { lis.Close() })

	go func() {
		conn, err := lis.Accept()
		if err != nil {
			return
		}
		defer conn.Close()
		payload := make([]byte, width*height)
		for i := range payload {
			payload[i] = 100
		}
		for n := 0; frameCount == 0 || n < frameCount; n++ {
			if err := binary.Write(conn, binary.BigEndian, uint32(len(payload))); err != nil {
				return
			}
			if _, err := conn.Write(payload); err != nil {
				return
			}
		}
	}()
	return lis.Addr().String()
}

func TestCaptureOverLoopback(t *testing.T) {
	ctx := context.Background()
	logger := golog.NewTestLogger(t)
	addr := serveFrames(t, 16, 12, 0)

	cam, err := New("gige", Config{Address: addr, Width: 16, Height: 12}, logger)
	test.That(t, err, test.ShouldBeNil)

	// capture before start
	err = cam.CaptureColor(ctx, rimage.NewImage(16, 12))
	var notStarted *camera.NotStartedError
	test.That(t, errors.As(err, &notStarted), test.ShouldBeTrue)

	test.That(t, cam.Start(ctx), test.ShouldBeNil)

	buf := rimage.NewImage(16, 12)
	test.That(t, cam.CaptureColor(ctx, buf), test.ShouldBeNil)
	test.That(t, buf.GetXY(8, 6), test.ShouldResemble, rimage.NewColor(100, 100, 100))

	// wrong shape
	err = cam.CaptureColor(ctx, rimage.NewImage(12, 16))
	var shapeErr *camera.ShapeError
	test.That(t, errors.As(err, &shapeErr), test.ShouldBeTrue)

	test.That(t, cam.Close(ctx), test.ShouldBeNil)
	err = cam.CaptureColor(ctx, buf)
	var captureErr *camera.CaptureError
	test.That(t, errors.As(err, &captureErr), test.ShouldBeTrue)
}

func TestDisconnectDetected(t *testing.T) {
	ctx := context.Background()
	logger := golog.NewTestLogger(t)
	addr := serveFrames(t, 16, 12, 1)

	cam, err := New("gige", Config{Address: addr, Width: 16, Height: 12}, logger)
	test.That(t, err, test.ShouldBeNil)
	test.That(t, cam.Start(ctx), test.ShouldBeNil)
	defer func() {
		test.That(t, cam.Close(ctx), test.ShouldBeNil)
	}()

	buf := rimage.NewImage(16, 12)
	deadline := time.Now().Add(5 * time.Second)
	var captureErr *camera.CaptureError
	for time.Now().Before(deadline) {
		if err := cam.CaptureColor(ctx, buf); errors.As(err, &captureErr) {
			break
		}
		time.Sleep(10 * time.Millisecond)
	}
	test.That(t, captureErr, test.ShouldNotBeNil)
	test.That(t, errors.Is(captureErr, errDisconnected), test.ShouldBeTrue)
}

func TestStartUnreachable(t *testing.T) {
	ctx := context.Background()
	logger := golog.NewTestLogger(t)
	cam, err := New("gige", Config{
		Address: "127.0.0.1:1", Width: 16, Height: 12, DialTimeout: 200 * time.Millisecond,
	}, logger)
	test.That(t, err, test.ShouldBeNil)
	err = cam.Start(ctx)
	var unavailable *camera.DeviceUnavailableError
	test.That(t, errors.As(err, &unavailable), test.ShouldBeTrue)
}
