package camera

import (
	"fmt"

	"github.com/pkg/errors"
)

// errAlreadyStarted reports a second Start without an intervening Close, for
// implementations that define doubled starts as an error.
var errAlreadyStarted = errors.New("already started")

// DeviceUnavailableError is returned by Start when the device is missing,
// busy, or misconfigured. It is not retriable without operator intervention.
type DeviceUnavailableError struct {
	Device string
	Err    error
}

func (e *DeviceUnavailableError) Error() string {
	if e.Err == nil {
		return fmt.Sprintf("camera %q: device unavailable", e.Device)
	}
	return fmt.Sprintf("camera %q: device unavailable: %v", e.Device, e.Err)
}

// Unwrap returns the underlying device error.
func (e *DeviceUnavailableError) Unwrap() error {
	return e.Err
}

// NotStartedError is returned by any capture call issued before a successful
// Start. It is a programmer error; fix the call order.
type NotStartedError struct {
	Device string
	Op     string
}

func (e *NotStartedError) Error() string {
	return fmt.Sprintf("camera %q: %s called before Start", e.Device, e.Op)
}

// CaptureError is returned by a capture call on transient or permanent
// device failure (timeout, disconnect, corrupt frame). Retry policy is the
// caller's decision; the camera does not auto-retry.
type CaptureError struct {
	Device string
	Op     string
	Err    error
}

func (e *CaptureError) Error() string {
	return fmt.Sprintf("camera %q: %s failed: %v", e.Device, e.Op, e.Err)
}

// Unwrap returns the underlying device error.
func (e *CaptureError) Unwrap() error {
	return e.Err
}

// ShapeError reports a caller-provided buffer whose dimensions do not match
// the camera's declared frame size.
type ShapeError struct {
	Device                string
	Op                    string
	WantWidth, WantHeight int
	GotWidth, GotHeight   int
}

func (e *ShapeError) Error() string {
	return fmt.Sprintf("camera %q: %s buffer is (%d,%d), device frame is (%d,%d)",
		e.Device, e.Op, e.GotWidth, e.GotHeight, e.WantWidth, e.WantHeight)
}
