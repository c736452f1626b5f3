// Package camera defines image capturing devices.
//
// A Camera delivers color frames; a DepthCamera additionally delivers depth,
// amplitude, and 3D vertex data. All buffers crossing the interface are
// caller-allocated and must match the dimensions the device reports; capture
// calls overwrite them in place. Every implementation must be started with
// Start before any capture call, and must document whether a capture blocks
// for a new frame or returns the most recent cached one.
package camera

import (
	"context"

	"github.com/youtalk/rgbd/pointcloud"
	"github.com/youtalk/rgbd/rimage"
)

// A Camera is a single physical (or simulated) color image source.
type Camera interface {
	// Name identifies the device for logs and errors.
	Name() string

	// ColorSize returns the fixed color frame dimensions. Valid at any time
	// after construction; never changes for the object's lifetime.
	ColorSize() (width, height int)

	// Start opens the underlying device or stream and begins acquisition.
	// It fails with a DeviceUnavailableError if the device cannot be opened.
	// Calling Start twice without an intervening Close is undefined by this
	// contract; each implementation documents its behavior.
	Start(ctx context.Context) error

	// CaptureColor fills buf with the latest color frame. buf must have
	// exactly the dimensions reported by ColorSize. It fails with a
	// NotStartedError before a successful Start and with a CaptureError on
	// device-level failure. On failure the buffer contents are unspecified.
	CaptureColor(ctx context.Context, buf *rimage.Image) error

	// Close releases the device. The camera cannot be restarted after Close.
	Close(ctx context.Context) error
}

// A DepthCamera is a camera that additionally exposes depth, amplitude, and
// 3D vertex data. Depth capture shares the same activation gate as color
// capture: nothing is valid before Start.
type DepthCamera interface {
	Camera

	// DepthSize returns the fixed depth frame dimensions. It may differ from
	// ColorSize.
	DepthSize() (width, height int)

	// CaptureDepth fills buf with the latest per-pixel range in meters.
	// buf must have exactly the dimensions reported by DepthSize.
	CaptureDepth(ctx context.Context, buf *rimage.FloatMap) error

	// CaptureAmplitude fills buf with the latest per-pixel signal strength.
	// Same shape and failure contract as CaptureDepth.
	CaptureAmplitude(ctx context.Context, buf *rimage.FloatMap) error

	// CaptureVertex resets buf and rebuilds it with one 3D point per valid
	// depth pixel, in row-major scan order. Invalid depth pixels (zero,
	// non-finite, or out of sensor range) are omitted; no emitted point has
	// a non-finite coordinate.
	CaptureVertex(ctx context.Context, buf *pointcloud.Cloud) error

	// CaptureColoredVertex is CaptureVertex with each point carrying a color
	// sampled from the spatially registered color frame. Its output length
	// equals CaptureVertex's under identical input frames.
	CaptureColoredVertex(ctx context.Context, buf *pointcloud.Cloud) error
}

// CheckColorBuffer validates the caller-provided color buffer shape against
// the camera's declared size. A mismatch is a programmer error surfaced
// immediately as a ShapeError.
func CheckColorBuffer(cam Camera, buf *rimage.Image) error {
	w, h := cam.ColorSize()
	if buf.Width() != w || buf.Height() != h {
		return &ShapeError{
			Device: cam.Name(), Op: "CaptureColor",
			WantWidth: w, WantHeight: h,
			GotWidth: buf.Width(), GotHeight: buf.Height(),
		}
	}
	return nil
}

// CheckDepthBuffer validates a caller-provided depth or amplitude buffer
// shape against the camera's declared depth size.
func CheckDepthBuffer(cam DepthCamera, op string, buf *rimage.FloatMap) error {
	w, h := cam.DepthSize()
	if buf.Width() != w || buf.Height() != h {
		return &ShapeError{
			Device: cam.Name(), Op: op,
			WantWidth: w, WantHeight: h,
			GotWidth: buf.Width(), GotHeight: buf.Height(),
		}
	}
	return nil
}
