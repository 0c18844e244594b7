package frame

import (
	"errors"
	"time"
)

var (
	// ErrUnsupportedFormat is returned when a frame is not a recognized 4:2:0
	// planar or semi-planar layout.
	ErrUnsupportedFormat = errors.New("frame: unsupported format")
	// ErrInvalidDimensions is returned for frames with a non-positive size.
	ErrInvalidDimensions = errors.New("frame: invalid dimensions")
)

// Plane is one image plane as handed out by a capture source. Sample (row, col)
// lives at Data[row*RowStride+col*PixelStride].
type Plane struct {
	Data        []byte
	RowStride   int
	PixelStride int
}

// RawFrame is a captured, uncompressed frame. Sources may reuse the plane
// buffers once the frame callback returns, so consumers copy out of them.
type RawFrame struct {
	Width     int
	Height    int
	Format    Format
	Planes    []Plane
	Timestamp time.Duration
}

// NV21 is a Y plane followed by interleaved V,U samples at half resolution.
type NV21 []byte

// NV21Size returns the length of an NV21 buffer for the given dimensions.
func NV21Size(width, height int) int {
	ySize := width * height
	return ySize + ySize/2
}
