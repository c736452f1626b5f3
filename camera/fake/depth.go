package fake

import (
	"context"
	"math"
	"sync"

	"github.com/youtalk/rgbd/camera"
	"github.com/youtalk/rgbd/pointcloud"
	"github.com/youtalk/rgbd/rimage"
	"github.com/youtalk/rgbd/rimage/transform"
)

// Depth is a fake native depth sensor: the depth-camera variant with no inner
// color camera. Its scene is a flat wall with a sphere bulging out of the
// center; amplitude falls off radially from the optical axis. Color frames
// are synthesized from the amplitude channel, since the sensor has no color
// optics. All captures return the latest (static) frame immediately and
// never block.
type Depth struct {
	name          string
	width, height int
	intrinsics    *transform.PinholeCameraIntrinsics
	maxDepth      float64

	depth     *rimage.FloatMap
	amplitude *rimage.FloatMap

	mu      sync.Mutex
	started bool
	closed  bool
}

const (
	wallDepth    = 2.0
	sphereDepth  = 1.2
	sphereRadius = 0.25
)

// NewDepth returns a fake depth sensor with the given frame size. maxDepth
// bounds vertex validity (0 for no cutoff).
func NewDepth(name string, width, height int, maxDepth float64) *Depth {
	d := &Depth{
		name:   name,
		width:  width,
		height: height,
		intrinsics: &transform.PinholeCameraIntrinsics{
			Width: width, Height: height,
			Fx: float64(width), Fy: float64(width),
			Ppx: float64(width) / 2, Ppy: float64(height) / 2,
		},
		maxDepth: maxDepth,
	}
	d.renderScene()
	return d
}

func (d *Depth) renderScene() {
	d.depth = rimage.NewFloatMap(d.width, d.height)
	d.amplitude = rimage.NewFloatMap(d.width, d.height)
	cx := d.intrinsics.Ppx
	cy := d.intrinsics.Ppy
	maxR := math.Hypot(cx, cy)
	for y := 0; y < d.height; y++ {
		for x := 0; x < d.width; x++ {
			r := math.Hypot(float64(x)-cx, float64(y)-cy) / d.intrinsics.Fx * wallDepth
			z := wallDepth
			if r < sphereRadius {
				z = sphereDepth + sphereRadius - math.Sqrt(sphereRadius*sphereRadius-r*r)
			}
			d.depth.Set(x, y, float32(z))

			pixR := math.Hypot(float64(x)-cx, float64(y)-cy) / maxR
			d.amplitude.Set(x, y, float32(1-0.5*pixR))
		}
	}
}

// Name returns the device name.
func (d *Depth) Name() string {
	return d.name
}

// ColorSize matches DepthSize; the synthesized color frame shares the depth
// sensor's grid.
func (d *Depth) ColorSize() (int, int) {
	return d.width, d.height
}

// DepthSize returns the fixed depth frame dimensions.
func (d *Depth) DepthSize() (int, int) {
	return d.width, d.height
}

// Start activates the sensor. A second Start without Close returns a
// DeviceUnavailableError.
func (d *Depth) Start(ctx context.Context) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.closed {
		return &camera.DeviceUnavailableError{Device: d.name, Err: errClosed}
	}
	if d.started {
		return &camera.DeviceUnavailableError{Device: d.name, Err: errAlreadyStarted}
	}
	d.started = true
	return nil
}

// Close releases the sensor.
func (d *Depth) Close(ctx context.Context) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.closed = true
	d.started = false
	return nil
}

func (d *Depth) checkStarted(op string) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.closed {
		return &camera.CaptureError{Device: d.name, Op: op, Err: errClosed}
	}
	if !d.started {
		return &camera.NotStartedError{Device: d.name, Op: op}
	}
	return nil
}

// CaptureColor synthesizes a grayscale color frame from the amplitude
// channel.
func (d *Depth) CaptureColor(ctx context.Context, buf *rimage.Image) error {
	if err := d.checkStarted("CaptureColor"); err != nil {
		return err
	}
	if err := camera.CheckColorBuffer(d, buf); err != nil {
		return err
	}
	for y := 0; y < d.height; y++ {
		for x := 0; x < d.width; x++ {
			v := uint8(255 * d.amplitude.Get(x, y))
			buf.SetXY(x, y, rimage.NewColor(v, v, v))
		}
	}
	return nil
}

// CaptureDepth copies the latest depth frame (meters) into buf.
func (d *Depth) CaptureDepth(ctx context.Context, buf *rimage.FloatMap) error {
	if err := d.checkStarted("CaptureDepth"); err != nil {
		return err
	}
	if err := camera.CheckDepthBuffer(d, "CaptureDepth", buf); err != nil {
		return err
	}
	return buf.CopyFrom(d.depth)
}

// CaptureAmplitude copies the latest amplitude frame into buf.
func (d *Depth) CaptureAmplitude(ctx context.Context, buf *rimage.FloatMap) error {
	if err := d.checkStarted("CaptureAmplitude"); err != nil {
		return err
	}
	if err := camera.CheckDepthBuffer(d, "CaptureAmplitude", buf); err != nil {
		return err
	}
	return buf.CopyFrom(d.amplitude)
}

// CaptureVertex rebuilds buf with one point per valid depth pixel in
// row-major order; invalid pixels are omitted.
func (d *Depth) CaptureVertex(ctx context.Context, buf *pointcloud.Cloud) error {
	if err := d.checkStarted("CaptureVertex"); err != nil {
		return err
	}
	return d.intrinsics.DepthMapToPointCloud(d.depth, nil, d.maxDepth, buf)
}

// CaptureColoredVertex is CaptureVertex with the synthesized color sampled
// per point; the validity filter is identical.
func (d *Depth) CaptureColoredVertex(ctx context.Context, buf *pointcloud.Cloud) error {
	if err := d.checkStarted("CaptureColoredVertex"); err != nil {
		return err
	}
	img := rimage.NewImage(d.width, d.height)
	if err := d.CaptureColor(ctx, img); err != nil {
		return err
	}
	return d.intrinsics.DepthMapToPointCloud(d.depth, img, d.maxDepth, buf)
}
