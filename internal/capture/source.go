// Package capture drives biometric enrollment: acquiring an image from a
// camera or an uploaded file, previewing it, and submitting it upstream. A
// Session owns at most one ImageSource at a time and releases it on every
// exit path.
package capture

import (
	"bytes"
	"context"
	"image"
	"sync"

	"faceconsole/internal/faults"
)

// Mode names the image source variant.
type Mode string

const (
	ModeCamera Mode = "camera"
	ModeUpload Mode = "upload"
)

// DefaultFilename is used when a captured image has no original name.
const DefaultFilename = "face.jpg"

// Image is a still ready for preview and submission. Data holds the original
// encoded bytes; the console never re-encodes.
type Image struct {
	Data     []byte
	Filename string
	Width    int
	Height   int
}

// ImageSource produces a single enrollment image.
type ImageSource interface {
	// Acquire readies the source. For cameras this opens the device.
	Acquire(ctx context.Context) error
	// Capture produces the image. Camera sources grab the latest frame,
	// upload sources return the validated file.
	Capture(ctx context.Context) (Image, error)
	// Release frees whatever Acquire held. Safe to call more than once.
	Release() error
	Mode() Mode
}

// Device is an open camera handle delivering encoded frames.
type Device interface {
	// Frame returns the most recent frame, blocking until one is
	// available or ctx ends.
	Frame(ctx context.Context) ([]byte, error)
	Close() error
}

// DeviceOpener opens a camera. Implementations must refuse a second open
// while a handle is outstanding.
type DeviceOpener interface {
	Open(ctx context.Context) (Device, error)
}

// CameraSource adapts a Device into an ImageSource.
type CameraSource struct {
	opener DeviceOpener

	mu  sync.Mutex
	dev Device
}

func NewCameraSource(opener DeviceOpener) *CameraSource {
	return &CameraSource{opener: opener}
}

func (c *CameraSource) Mode() Mode { return ModeCamera }

func (c *CameraSource) Acquire(ctx context.Context) error {
	c.mu.Lock()
	if c.dev != nil {
		c.mu.Unlock()
		return nil
	}
	c.mu.Unlock()

	dev, err := c.opener.Open(ctx)
	if err != nil {
		if faults.KindOf(err) != faults.Unclassified {
			return err
		}
		return faults.Wrap(faults.DeviceNotReady, "camera unavailable", err)
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	if c.dev != nil {
		// Released-and-reacquired race; keep the first handle.
		dev.Close()
		return nil
	}
	c.dev = dev
	return nil
}

func (c *CameraSource) Capture(ctx context.Context) (Image, error) {
	c.mu.Lock()
	dev := c.dev
	c.mu.Unlock()
	if dev == nil {
		return Image{}, faults.New(faults.DeviceNotReady, "camera is not running")
	}

	frame, err := dev.Frame(ctx)
	if err != nil {
		if faults.KindOf(err) != faults.Unclassified {
			return Image{}, err
		}
		return Image{}, faults.Wrap(faults.DeviceNotReady, "no frame from camera", err)
	}

	cfg, _, err := image.DecodeConfig(bytes.NewReader(frame))
	if err != nil {
		return Image{}, faults.Wrap(faults.ImageDecodeFailure, "camera frame is not a valid image", err)
	}
	return Image{Data: frame, Filename: DefaultFilename, Width: cfg.Width, Height: cfg.Height}, nil
}

func (c *CameraSource) Release() error {
	c.mu.Lock()
	dev := c.dev
	c.dev = nil
	c.mu.Unlock()
	if dev == nil {
		return nil
	}
	return dev.Close()
}
