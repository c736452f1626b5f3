// Package videosource implements a USB webcam color camera on top of the
// platform video-capture drivers.
package videosource

import (
	"context"
	"strings"
	"sync"
	"time"

	"github.com/edaniels/golog"
	driverutils "github.com/pion/mediadevices/pkg/driver"
	mediadevicescamera "github.com/pion/mediadevices/pkg/driver/camera"
	"github.com/pion/mediadevices/pkg/io/video"
	"github.com/pion/mediadevices/pkg/prop"
	"github.com/pkg/errors"
	goutils "go.viam.com/utils"

	"github.com/youtalk/rgbd/camera"
	"github.com/youtalk/rgbd/rimage"
)

var (
	errClosed       = errors.New("camera has been closed")
	errDisconnected = errors.New("camera is disconnected; please try again in a few moments")
)

// WebcamConfig configures a webcam.
type WebcamConfig struct {
	// Path selects a specific video device (e.g. /dev/video0 on Linux); empty
	// means the first available video device.
	Path string `json:"video_path"`
	// Width and Height are the declared frame size. The driver must support
	// it exactly; Start fails otherwise.
	Width  int `json:"width_px"`
	Height int `json:"height_px"`
	// FrameRate is the requested acquisition rate; 0 takes the driver default.
	FrameRate float32 `json:"frame_rate,omitempty"`
}

// Validate ensures all parts of the config are valid.
func (c *WebcamConfig) Validate() error {
	if c.Width <= 0 || c.Height <= 0 {
		return errors.Errorf(
			"got illegal non-positive dimensions for width_px and height_px (%d, %d) fields set for webcam camera",
			c.Width, c.Height)
	}
	if c.FrameRate < 0 {
		return errors.Errorf(
			"got illegal negative frame rate (%.2f) field set for webcam camera", c.FrameRate)
	}
	return nil
}

// Webcam is a generic USB video device. After Start, a dedicated background
// goroutine continuously pulls frames from the driver and keeps only the most
// recent one under a mutex (latest-frame-wins; older undelivered frames are
// dropped). CaptureColor copies the cached frame and never blocks on device
// I/O. Calling Start twice without Close returns a DeviceUnavailableError.
type Webcam struct {
	name   string
	conf   WebcamConfig
	logger golog.Logger

	mu           sync.RWMutex
	latest       *rimage.Image
	reader       video.Reader
	driver       driverutils.Driver
	started      bool
	closed       bool
	disconnected bool

	cancelCtx               context.Context
	cancel                  func()
	activeBackgroundWorkers sync.WaitGroup
}

// NewWebcam returns an unstarted webcam for the given config.
func NewWebcam(name string, conf WebcamConfig, logger golog.Logger) (*Webcam, error) {
	if err := conf.Validate(); err != nil {
		return nil, err
	}
	cancelCtx, cancel := context.WithCancel(context.Background())
	return &Webcam{
		name:      name,
		conf:      conf,
		logger:    logger,
		cancelCtx: cancelCtx,
		cancel:    cancel,
	}, nil
}

// Name returns the device name.
func (c *Webcam) Name() string {
	return c.name
}

// ColorSize returns the configured frame dimensions; Start verifies the
// driver delivers exactly this size.
func (c *Webcam) ColorSize() (int, int) {
	return c.conf.Width, c.conf.Height
}

// findDriver locates a video driver matching the configured path, or the
// first available video device when the path is empty.
func findDriver(path string) (driverutils.Driver, error) {
	mediadevicescamera.Initialize()
	drivers := driverutils.GetManager().Query(driverutils.FilterVideoRecorder())
	if len(drivers) == 0 {
		return nil, errors.New("found no webcams")
	}
	if path == "" {
		return drivers[0], nil
	}
	for _, d := range drivers {
		labels := strings.Split(d.Info().Label, mediadevicescamera.LabelSeparator)
		for _, label := range labels {
			if label == path {
				return d, nil
			}
		}
	}
	return nil, errors.Errorf("no video device found for path %q", path)
}

// selectProp picks the driver media property closest to the requested frame
// geometry.
func (c *Webcam) selectProp(d driverutils.Driver) (prop.Media, error) {
	props := d.Properties()
	if len(props) == 0 {
		return prop.Media{}, errors.Errorf("no media properties for driver %q", d.Info().Label)
	}
	best := props[0]
	bestScore := -1
	for _, p := range props {
		score := 0
		if p.Video.Width == c.conf.Width && p.Video.Height == c.conf.Height {
			score += 2
		}
		if c.conf.FrameRate > 0 && p.Video.FrameRate == c.conf.FrameRate {
			score++
		}
		if score > bestScore {
			bestScore = score
			best = p
		}
	}
	if best.Video.Width != c.conf.Width || best.Video.Height != c.conf.Height {
		return prop.Media{}, errors.Errorf(
			"requested width and height (%dx%d) are not available for this webcam"+
				" (closest driver mode is %dx%d)",
			c.conf.Width, c.conf.Height, best.Video.Width, best.Video.Height)
	}
	return best, nil
}

// Start opens the video device and begins the background acquisition loop.
func (c *Webcam) Start(ctx context.Context) error {
	c.mu.RLock()
	closed := c.closed
	started := c.started
	c.mu.RUnlock()
	if closed {
		return &camera.DeviceUnavailableError{Device: c.name, Err: errClosed}
	}
	if started {
		return &camera.DeviceUnavailableError{Device: c.name, Err: errors.New("already started")}
	}

	d, err := findDriver(c.conf.Path)
	if err != nil {
		return &camera.DeviceUnavailableError{Device: c.name, Err: err}
	}
	return c.startDriver(d)
}

// startDriver opens d, pulls the first frame, and only then commits the
// started state and launches the acquisition loop. A dead or mismatched
// stream fails Start instead of a later capture, and nothing is left
// half-opened.
func (c *Webcam) startDriver(d driverutils.Driver) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return &camera.DeviceUnavailableError{Device: c.name, Err: errClosed}
	}
	if c.started {
		return &camera.DeviceUnavailableError{Device: c.name, Err: errors.New("already started")}
	}

	if d.Status() == driverutils.StateClosed {
		if err := d.Open(); err != nil {
			return &camera.DeviceUnavailableError{Device: c.name, Err: err}
		}
	}
	selected, err := c.selectProp(d)
	if err != nil {
		goutils.UncheckedError(d.Close())
		return &camera.DeviceUnavailableError{Device: c.name, Err: err}
	}
	recorder, ok := d.(driverutils.VideoRecorder)
	if !ok {
		goutils.UncheckedError(d.Close())
		return &camera.DeviceUnavailableError{Device: c.name, Err: errors.New("driver cannot record video")}
	}
	reader, err := recorder.VideoRecord(selected)
	if err != nil {
		goutils.UncheckedError(d.Close())
		return &camera.DeviceUnavailableError{Device: c.name, Err: err}
	}

	frame, err := readFrame(reader)
	if err != nil {
		goutils.UncheckedError(d.Close())
		return &camera.DeviceUnavailableError{Device: c.name, Err: err}
	}

	c.driver = d
	c.reader = reader
	c.latest = frame
	c.started = true
	c.disconnected = false

	c.activeBackgroundWorkers.Add(1)
	goutils.ManagedGo(c.acquireLoop, c.activeBackgroundWorkers.Done)
	return nil
}

// readFrame pulls one frame from the stream and converts it.
func readFrame(reader video.Reader) (*rimage.Image, error) {
	img, release, err := reader.Read()
	if release != nil {
		defer release()
	}
	if err != nil {
		return nil, err
	}
	return rimage.ConvertImage(img), nil
}

// acquireLoop continuously pulls frames so the latest-frame slot tracks the
// device's native cadence regardless of the consumer's demand rate.
func (c *Webcam) acquireLoop() {
	const reconnectWait = 500 * time.Millisecond
	consecutiveFailures := 0
	for {
		if c.cancelCtx.Err() != nil {
			return
		}
		img, release, err := c.reader.Read()
		if err != nil {
			if release != nil {
				release()
			}
			consecutiveFailures++
			if consecutiveFailures >= 5 {
				c.mu.Lock()
				c.disconnected = true
				c.mu.Unlock()
				c.logger.Errorw("camera no longer delivering frames", "camera", c.name, "error", err)
				if !goutils.SelectContextOrWait(c.cancelCtx, reconnectWait) {
					return
				}
			}
			continue
		}
		consecutiveFailures = 0
		frame := rimage.ConvertImage(img)
		if release != nil {
			release()
		}
		c.mu.Lock()
		c.latest = frame
		c.disconnected = false
		c.mu.Unlock()
	}
}

// CaptureColor copies the most recent cached frame into buf.
func (c *Webcam) CaptureColor(ctx context.Context, buf *rimage.Image) error {
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
	if c.disconnected {
		return &camera.CaptureError{Device: c.name, Op: "CaptureColor", Err: errDisconnected}
	}
	return buf.CopyFrom(c.latest)
}

// Close stops acquisition and releases the device.
func (c *Webcam) Close(ctx context.Context) error {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return nil
	}
	c.closed = true
	c.started = false
	d := c.driver
	c.mu.Unlock()

	c.cancel()
	// closing the driver first unblocks a read the background loop may be
	// sitting in
	var err error
	if d != nil {
		err = d.Close()
	}
	c.activeBackgroundWorkers.Wait()
	return err
}
