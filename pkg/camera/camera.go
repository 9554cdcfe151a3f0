// Package camera provides camera access and frame capture for the door
// terminal. It wraps an OpenCV video capture device and exposes optional
// focus control for the depth-based liveness stage.
package camera

import (
	"errors"
	"fmt"
	"image"
	"math"
	"time"

	"gocv.io/x/gocv"
)

// ErrCameraNotFound is returned when the camera device cannot be opened.
var ErrCameraNotFound = errors.New("camera device not found")

// ErrCameraNotOpen is returned when capturing from a closed camera.
var ErrCameraNotOpen = errors.New("camera not open")

// ErrNoFrame is returned when no frame could be captured.
var ErrNoFrame = errors.New("failed to capture frame")

// ErrFocusUnsupported is returned when the device has no manual focus
// control.
var ErrFocusUnsupported = errors.New("focus control not supported")

// Device is an exclusively-owned video capture device. It must not be
// shared between concurrent liveness sessions.
type Device struct {
	cap    *gocv.VideoCapture
	mat    gocv.Mat
	device string
	open   bool
}

// NewDevice returns an unopened capture device.
func NewDevice() *Device {
	return &Device{mat: gocv.NewMat()}
}

// Open opens the given device path (e.g. /dev/video0) at the requested
// resolution.
func (d *Device) Open(device string, width, height int) error {
	cap, err := gocv.OpenVideoCapture(device)
	if err != nil {
		return fmt.Errorf("%w: %s", ErrCameraNotFound, device)
	}
	if !cap.IsOpened() {
		cap.Close()
		return fmt.Errorf("%w: %s", ErrCameraNotFound, device)
	}

	cap.Set(gocv.VideoCaptureFrameWidth, float64(width))
	cap.Set(gocv.VideoCaptureFrameHeight, float64(height))

	d.cap = cap
	d.device = device
	d.open = true
	return nil
}

// Capture reads one frame and returns its pixels with the capture time.
// The returned image is freshly decoded from the scratch buffer and is
// owned by the caller.
func (d *Device) Capture() (image.Image, time.Time, error) {
	if !d.open {
		return nil, time.Time{}, ErrCameraNotOpen
	}
	if ok := d.cap.Read(&d.mat); !ok || d.mat.Empty() {
		return nil, time.Time{}, ErrNoFrame
	}
	img, err := d.mat.ToImage()
	if err != nil {
		return nil, time.Time{}, fmt.Errorf("%w: %v", ErrNoFrame, err)
	}
	return img, time.Now(), nil
}

// Warmup discards frames for the given duration so exposure and white
// balance settle before analysis starts.
func (d *Device) Warmup(duration time.Duration) {
	deadline := time.Now().Add(duration)
	for time.Now().Before(deadline) {
		if !d.open {
			return
		}
		d.cap.Read(&d.mat)
	}
}

// SupportsFocus reports whether the device exposes a manual focus
// control. It probes by writing the current value back and checking the
// readback is sane.
func (d *Device) SupportsFocus() bool {
	if !d.open {
		return false
	}
	current := d.cap.Get(gocv.VideoCaptureFocus)
	if current < 0 {
		return false
	}
	d.cap.Set(gocv.VideoCaptureFocus, current)
	readback := d.cap.Get(gocv.VideoCaptureFocus)
	return math.Abs(readback-current) < 1.0
}

// Focus returns the current focus setting.
func (d *Device) Focus() (float64, error) {
	if !d.open {
		return 0, ErrCameraNotOpen
	}
	v := d.cap.Get(gocv.VideoCaptureFocus)
	if v < 0 {
		return 0, ErrFocusUnsupported
	}
	return v, nil
}

// SetFocus sets the manual focus value.
func (d *Device) SetFocus(value float64) error {
	if !d.open {
		return ErrCameraNotOpen
	}
	d.cap.Set(gocv.VideoCaptureFocus, value)
	return nil
}

// AutoFocus reports whether autofocus is currently enabled.
func (d *Device) AutoFocus() (bool, error) {
	if !d.open {
		return false, ErrCameraNotOpen
	}
	return d.cap.Get(gocv.VideoCaptureAutoFocus) > 0, nil
}

// SetAutoFocus enables or disables autofocus.
func (d *Device) SetAutoFocus(enabled bool) error {
	if !d.open {
		return ErrCameraNotOpen
	}
	v := 0.0
	if enabled {
		v = 1.0
	}
	d.cap.Set(gocv.VideoCaptureAutoFocus, v)
	return nil
}

// Resolution returns the configured capture resolution.
func (d *Device) Resolution() (int, int) {
	if !d.open {
		return 0, 0
	}
	return int(d.cap.Get(gocv.VideoCaptureFrameWidth)),
		int(d.cap.Get(gocv.VideoCaptureFrameHeight))
}

// Close releases the device and its scratch buffers.
func (d *Device) Close() error {
	if !d.open {
		return nil
	}
	d.open = false
	d.mat.Close()
	return d.cap.Close()
}
