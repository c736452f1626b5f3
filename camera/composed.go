package camera

import (
	"context"
	"sync"

	"go.uber.org/multierr"

	"github.com/youtalk/rgbd/pointcloud"
	"github.com/youtalk/rgbd/rimage"
	"github.com/youtalk/rgbd/rimage/transform"
)

// Composed is the wrapping-adapter depth camera variant: it pairs a depth
// sensor with a separately owned color camera behind the single DepthCamera
// interface. The inner color camera may be shared; when the color and depth
// facets are the same physical object, Start and Close happen exactly once.
//
// When depth intrinsics are provided, vertex capture is computed here from
// the depth frame (and the color frame for colored vertices, registered to
// the depth grid by nearest-neighbor resampling — callers needing a real
// alignment do it upstream with calibration data). Without intrinsics,
// vertex capture delegates to the depth facet.
//
// Capture calls block or return cached frames according to the facets they
// delegate to.
type Composed struct {
	name       string
	color      Camera
	depth      DepthCamera
	intrinsics *transform.PinholeCameraIntrinsics
	maxDepth   float64

	mu       sync.Mutex
	started  bool
	colorBuf *rimage.Image
	depthBuf *rimage.FloatMap
}

// NewComposed wraps a color camera and a depth sensor into one device.
// intrinsics is the depth sensor's projection model and may be nil; maxDepth
// (meters) bounds vertex validity, 0 meaning no cutoff.
func NewComposed(
	name string,
	color Camera,
	depth DepthCamera,
	intrinsics *transform.PinholeCameraIntrinsics,
	maxDepth float64,
) *Composed {
	cw, ch := color.ColorSize()
	dw, dh := depth.DepthSize()
	return &Composed{
		name:       name,
		color:      color,
		depth:      depth,
		intrinsics: intrinsics,
		maxDepth:   maxDepth,
		colorBuf:   rimage.NewImage(cw, ch),
		depthBuf:   rimage.NewFloatMap(dw, dh),
	}
}

// Name returns the composed device name.
func (c *Composed) Name() string {
	return c.name
}

// ColorSize returns the inner color camera's frame dimensions.
func (c *Composed) ColorSize() (int, int) {
	return c.color.ColorSize()
}

// DepthSize returns the depth facet's frame dimensions.
func (c *Composed) DepthSize() (int, int) {
	return c.depth.DepthSize()
}

func (c *Composed) sameDevice() bool {
	return Camera(c.depth) == c.color
}

// Start starts each underlying physical device exactly once. Calling Start
// twice returns a DeviceUnavailableError.
func (c *Composed) Start(ctx context.Context) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.started {
		return &DeviceUnavailableError{Device: c.name, Err: errAlreadyStarted}
	}
	if err := c.color.Start(ctx); err != nil {
		return err
	}
	if !c.sameDevice() {
		if err := c.depth.Start(ctx); err != nil {
			// don't leave the color facet running, or a retry would
			// double-start it
			if cerr := c.color.Close(ctx); cerr != nil {
				return multierr.Combine(err, cerr)
			}
			return err
		}
	}
	c.started = true
	return nil
}

// Close releases each underlying device exactly once.
func (c *Composed) Close(ctx context.Context) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if !c.started {
		return nil
	}
	c.started = false
	err := c.color.Close(ctx)
	if !c.sameDevice() {
		if derr := c.depth.Close(ctx); err == nil {
			err = derr
		}
	}
	return err
}

func (c *Composed) checkStarted(op string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if !c.started {
		return &NotStartedError{Device: c.name, Op: op}
	}
	return nil
}

// CaptureColor delegates to the inner color camera.
func (c *Composed) CaptureColor(ctx context.Context, buf *rimage.Image) error {
	if err := c.checkStarted("CaptureColor"); err != nil {
		return err
	}
	return c.color.CaptureColor(ctx, buf)
}

// CaptureDepth delegates to the depth facet.
func (c *Composed) CaptureDepth(ctx context.Context, buf *rimage.FloatMap) error {
	if err := c.checkStarted("CaptureDepth"); err != nil {
		return err
	}
	return c.depth.CaptureDepth(ctx, buf)
}

// CaptureAmplitude delegates to the depth facet.
func (c *Composed) CaptureAmplitude(ctx context.Context, buf *rimage.FloatMap) error {
	if err := c.checkStarted("CaptureAmplitude"); err != nil {
		return err
	}
	return c.depth.CaptureAmplitude(ctx, buf)
}

// CaptureVertex rebuilds buf from the latest depth frame. Invalid depth
// pixels are omitted.
func (c *Composed) CaptureVertex(ctx context.Context, buf *pointcloud.Cloud) error {
	if err := c.checkStarted("CaptureVertex"); err != nil {
		return err
	}
	if c.intrinsics == nil {
		return c.depth.CaptureVertex(ctx, buf)
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	if err := c.depth.CaptureDepth(ctx, c.depthBuf); err != nil {
		return err
	}
	return c.intrinsics.DepthMapToPointCloud(c.depthBuf, nil, c.maxDepth, buf)
}

// CaptureColoredVertex rebuilds buf from the latest depth and color frames.
// The validity filter matches CaptureVertex, so both produce the same number
// of points for identical input frames.
func (c *Composed) CaptureColoredVertex(ctx context.Context, buf *pointcloud.Cloud) error {
	if err := c.checkStarted("CaptureColoredVertex"); err != nil {
		return err
	}
	if c.intrinsics == nil {
		return c.depth.CaptureColoredVertex(ctx, buf)
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	if err := c.color.CaptureColor(ctx, c.colorBuf); err != nil {
		return err
	}
	if err := c.depth.CaptureDepth(ctx, c.depthBuf); err != nil {
		return err
	}
	registered := c.registerColorToDepth()
	return c.intrinsics.DepthMapToPointCloud(c.depthBuf, registered, c.maxDepth, buf)
}

// registerColorToDepth resamples the color frame onto the depth grid with
// nearest-neighbor sampling. Requires mu held.
func (c *Composed) registerColorToDepth() *rimage.Image {
	dw, dh := c.depthBuf.Width(), c.depthBuf.Height()
	cw, ch := c.colorBuf.Width(), c.colorBuf.Height()
	if dw == cw && dh == ch {
		return c.colorBuf
	}
	out := rimage.NewImage(dw, dh)
	for y := 0; y < dh; y++ {
		sy := y * ch / dh
		for x := 0; x < dw; x++ {
			out.SetXY(x, y, c.colorBuf.GetXY(x*cw/dw, sy))
		}
	}
	return out
}
