// Package driver defines the capture boundary: sources that deliver raw frames
// to a callback, and the optional camera controls some of them support.
package driver

import (
	"context"
	"errors"

	"github.com/webdro/pocketcam/pkg/frame"
)

// ErrNotSupported is returned by a control the source can't honor.
var ErrNotSupported = errors.New("driver: not supported")

type OpenCloser interface {
	Open() error
	Close() error
}

type Infoer interface {
	Info() Info
}

// Info describes a source.
type Info struct {
	Label      string
	DeviceType DeviceType
}

// Property is the capture configuration a source is built with. Sources may
// deliver a different size when the device can't match it; every RawFrame
// carries its real dimensions.
type Property struct {
	Width, Height int
	FrameRate     float32
}

// FrameFunc receives every captured frame, serially. The frame and its planes
// are only valid until the call returns.
type FrameFunc func(f *frame.RawFrame)

// VideoRecorder delivers frames to onFrame until ctx is done or capture fails.
// It returns nil when stopped through ctx.
type VideoRecorder interface {
	Capture(ctx context.Context, onFrame FrameFunc) error
}

// Source is an openable frame producer.
type Source interface {
	OpenCloser
	Infoer
	VideoRecorder
}

// Controller is implemented by sources with camera controls.
type Controller interface {
	// SetZoom sets the zoom as a ratio of the supported range, 0 to 1.
	SetZoom(ratio float64) error
	// Focus triggers a single autofocus pass.
	Focus() error
	// SetTorch turns the light on or off.
	SetTorch(on bool) error
}

// Driver is a Source tracked by the Manager.
type Driver interface {
	Source
	ID() string
	Status() State
}
