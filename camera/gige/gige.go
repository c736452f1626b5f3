// Package gige implements a color camera reading raw Bayer frames from an
// industrial camera bridge over TCP. Each frame on the wire is a big-endian
// uint32 payload length followed by width*height bytes of RGGB Bayer data;
// frames are demosaiced to RGB on receipt.
package gige

import (
	"context"
	"encoding/binary"
	"io"
	"net"
	"sync"
	"time"

	"github.com/edaniels/golog"
	"github.com/pkg/errors"
	goutils "go.viam.com/utils"

	"github.com/youtalk/rgbd/camera"
	"github.com/youtalk/rgbd/rimage"
)

var (
	errClosed       = errors.New("camera has been closed")
	errDisconnected = errors.New("camera bridge connection lost")
)

// Config configures a GigE bridge camera.
type Config struct {
	// Address is the host:port of the camera bridge.
	Address string `json:"address"`
	// Width and Height are the Bayer frame dimensions; the bridge must send
	// exactly width*height bytes per frame.
	Width  int `json:"width_px"`
	Height int `json:"height_px"`
	// DialTimeout bounds the initial connection attempt; 0 means 5s.
	DialTimeout time.Duration `json:"dial_timeout,omitempty"`
}

// Validate ensures all parts of the config are valid.
func (c *Config) Validate() error {
	if c.Address == "" {
		return errors.New("address field required for gige camera")
	}
	if c.Width <= 0 || c.Height <= 0 {
		return errors.Errorf(
			"got illegal non-positive dimensions for width_px and height_px (%d, %d) fields set for gige camera",
			c.Width, c.Height)
	}
	if c.Width%2 != 0 || c.Height%2 != 0 {
		return errors.Errorf(
			"gige camera dimensions must be even for RGGB demosaicing, got (%d, %d)",
			c.Width, c.Height)
	}
	return nil
}

// Camera is a GigE bridge camera. After Start, a background goroutine reads
// frames off the TCP stream, demosaics them, and keeps only the most recent
// RGB frame under a mutex. CaptureColor copies the cached frame and never
// blocks on the network.
type Camera struct {
	name   string
	conf   Config
	logger golog.Logger

	mu           sync.RWMutex
	latest       *rimage.Image
	conn         net.Conn
	started      bool
	closed       bool
	disconnected bool

	cancelCtx               context.Context
	cancel                  func()
	activeBackgroundWorkers sync.WaitGroup
}

// New returns an unstarted GigE bridge camera.
func New(name string, conf Config, logger golog.Logger) (*Camera, error) {
	if err := conf.Validate(); err != nil {
		return nil, err
	}
	cancelCtx, cancel := context.WithCancel(context.Background())
	return &Camera{
		name:      name,
		conf:      conf,
		logger:    logger,
		cancelCtx: cancelCtx,
		cancel:    cancel,
	}, nil
}

// Name returns the device name.
func (c *Camera) Name() string {
	return c.name
}

// ColorSize returns the configured frame dimensions.
func (c *Camera) ColorSize() (int, int) {
	return c.conf.Width, c.conf.Height
}

// Start connects to the bridge, reads one frame synchronously, then begins
// the background acquisition loop.
func (c *Camera) Start(ctx context.Context) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return &camera.DeviceUnavailableError{Device: c.name, Err: errClosed}
	}
	if c.started {
		return &camera.DeviceUnavailableError{Device: c.name, Err: errors.New("already started")}
	}

	timeout := c.conf.DialTimeout
	if timeout == 0 {
		timeout = 5 * time.Second
	}
	dialer := net.Dialer{Timeout: timeout}
	conn, err := dialer.DialContext(ctx, "tcp", c.conf.Address)
	if err != nil {
		return &camera.DeviceUnavailableError{Device: c.name, Err: err}
	}

	frame, err := c.readFrame(conn)
	if err != nil {
		goutils.UncheckedError(conn.Close())
		return &camera.DeviceUnavailableError{Device: c.name, Err: err}
	}

	c.conn = conn
	c.latest = frame
	c.started = true
	c.disconnected = false

	c.activeBackgroundWorkers.Add(1)
	goutils.ManagedGo(c.acquireLoop, c.activeBackgroundWorkers.Done)
	return nil
}

// readFrame reads one length-prefixed Bayer frame and demosaics it.
func (c *Camera) readFrame(conn net.Conn) (*rimage.Image, error) {
	var length uint32
	if err := binary.Read(conn, binary.BigEndian, &length); err != nil {
		return nil, errors.Wrap(err, "reading frame header")
	}
	want := uint32(c.conf.Width * c.conf.Height)
	if length != want {
		return nil, errors.Errorf("frame payload length %d does not match %dx%d Bayer frame (%d bytes)",
			length, c.conf.Width, c.conf.Height, want)
	}
	raw := make([]byte, length)
	if _, err := io.ReadFull(conn, raw); err != nil {
		return nil, errors.Wrap(err, "reading frame payload")
	}
	return demosaicRGGB(raw, c.conf.Width, c.conf.Height), nil
}

func (c *Camera) acquireLoop() {
	for {
		if c.cancelCtx.Err() != nil {
			return
		}
		c.mu.RLock()
		conn := c.conn
		c.mu.RUnlock()
		frame, err := c.readFrame(conn)
		if err != nil {
			c.mu.Lock()
			c.disconnected = true
			c.mu.Unlock()
			if c.cancelCtx.Err() == nil {
				c.logger.Errorw("camera bridge stream ended", "camera", c.name, "error", err)
			}
			return
		}
		c.mu.Lock()
		c.latest = frame
		c.mu.Unlock()
	}
}

// CaptureColor copies the most recent demosaiced frame into buf.
func (c *Camera) CaptureColor(ctx context.Context, buf *rimage.Image) error {
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

// Close stops acquisition and drops the connection.
func (c *Camera) Close(ctx context.Context) error {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return nil
	}
	c.closed = true
	c.started = false
	conn := c.conn
	c.mu.Unlock()

	c.cancel()
	if conn != nil {
		goutils.UncheckedError(conn.Close())
	}
	c.activeBackgroundWorkers.Wait()
	return nil
}
