// Package fake implements simulated cameras with deterministic frames, for
// tests and for running the demo without hardware.
package fake

import (
	"context"
	"sync"
	"time"

	"github.com/pkg/errors"
	goutils "go.viam.com/utils"

	"github.com/youtalk/rgbd/camera"
	"github.com/youtalk/rgbd/rimage"
)

var (
	errClosed         = errors.New("camera has been closed")
	errAlreadyStarted = errors.New("already started")
)

const defaultInterval = 33 * time.Millisecond

// Color is a fake color camera. After Start, a background loop regenerates
// the frame at a fixed cadence and stores it in a mutex-guarded latest-frame
// slot; CaptureColor copies the cached frame and never blocks on frame
// production. A second Start without Close returns a DeviceUnavailableError.
//
// Every frame is a horizontal gradient whose base value advances each tick,
// so consecutive frames differ everywhere and a torn copy is detectable.
type Color struct {
	name          string
	width, height int
	interval      time.Duration

	mu      sync.RWMutex
	frame   *rimage.Image
	seq     uint8
	started bool
	closed  bool

	cancelCtx               context.Context
	cancel                  func()
	activeBackgroundWorkers sync.WaitGroup
}

// NewColor returns a fake color camera with the given frame size.
func NewColor(name string, width, height int) *Color {
	return NewColorWithInterval(name, width, height, defaultInterval)
}

// NewColorWithInterval is NewColor with a custom frame cadence.
func NewColorWithInterval(name string, width, height int, interval time.Duration) *Color {
	cancelCtx, cancel := context.WithCancel(context.Background())
	return &Color{
		name:      name,
		width:     width,
		height:    height,
		interval:  interval,
		cancelCtx: cancelCtx,
		cancel:    cancel,
	}
}

// Name returns the device name.
func (c *Color) Name() string {
	return c.name
}

// ColorSize returns the fixed frame dimensions.
func (c *Color) ColorSize() (int, int) {
	return c.width, c.height
}

// Start begins frame generation.
func (c *Color) Start(ctx context.Context) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return &camera.DeviceUnavailableError{Device: c.name, Err: errClosed}
	}
	if c.started {
		return &camera.DeviceUnavailableError{Device: c.name, Err: errAlreadyStarted}
	}
	c.started = true
	c.frame = c.render(c.seq)

	c.activeBackgroundWorkers.Add(1)
	goutils.ManagedGo(func() {
		for {
			if !goutils.SelectContextOrWait(c.cancelCtx, c.interval) {
				return
			}
			c.mu.Lock()
			c.seq++
			c.frame = c.render(c.seq)
			c.mu.Unlock()
		}
	}, c.activeBackgroundWorkers.Done)
	return nil
}

// render builds one complete frame for the given sequence number.
func (c *Color) render(seq uint8) *rimage.Image {
	img := rimage.NewImage(c.width, c.height)
	for y := 0; y < c.height; y++ {
		for x := 0; x < c.width; x++ {
			v := seq + uint8(x)
			img.SetXY(x, y, rimage.NewColor(v, seq, 255-v))
		}
	}
	return img
}

// CaptureColor copies the latest cached frame into buf.
func (c *Color) CaptureColor(ctx context.Context, buf *rimage.Image) error {
	if err := camera.CheckColorBuffer(c, buf); err != nil {
		return err
	}
	c.mu.RLock()
	defer c.mu.RUnlock()
	if c.closed {
		return &camera.CaptureError{Device: c.name, Op: "CaptureColor", Err: errClosed}
	}
	if !c.started {
		return &camera.NotStartedError{Device: c.name, Op: "CaptureColor"}
	}
	return buf.CopyFrom(c.frame)
}

// Close stops frame generation and releases the camera.
func (c *Color) Close(ctx context.Context) error {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return nil
	}
	c.closed = true
	c.started = false
	c.mu.Unlock()

	c.cancel()
	c.activeBackgroundWorkers.Wait()
	return nil
}
