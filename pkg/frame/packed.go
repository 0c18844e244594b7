package frame

import "fmt"

// FromPacked exposes a buffer holding one frame in a packed or semi-planar
// layout as a RawFrame whose planes are views into b. stride is the bytes per
// luma line, zero for tightly packed. Nothing is copied.
//
// YUY2 becomes a FormatYUV420888 frame: luma with a pixel stride of 2 and
// chroma with a pixel stride of 4 that skips every other line, which lets
// Repack subsample 4:2:2 down to 4:2:0. UYVY is handled the same way.
//
// MJPEG keeps the whole buffer as its only plane for Repack to decode.
func FromPacked(format Format, b []byte, width, height, stride int) (*RawFrame, error) {
	if width <= 0 || height <= 0 {
		return nil, fmt.Errorf("%w: %dx%d", ErrInvalidDimensions, width, height)
	}
	if stride <= 0 {
		stride = width
		if format == FormatYUY2 || format == FormatUYVY {
			stride = 2 * width
		}
	}

	f := &RawFrame{Width: width, Height: height, Format: format}
	ySize := stride * height
	short := func() error {
		return fmt.Errorf("frame: %s buffer of %d bytes too short for %dx%d", format, len(b), width, height)
	}

	switch format {
	case FormatI420:
		f.Planes = []Plane{{Data: b, RowStride: stride, PixelStride: 1}}
	case FormatNV12, FormatNV21:
		if len(b) < ySize {
			return nil, short()
		}
		f.Planes = []Plane{
			{Data: b[:ySize], RowStride: stride, PixelStride: 1},
			{Data: b[ySize:], RowStride: stride, PixelStride: 2},
		}
	case FormatYUY2:
		// Y0 U Y1 V
		if len(b) < 4 {
			return nil, short()
		}
		f.Format = FormatYUV420888
		f.Planes = []Plane{
			{Data: b, RowStride: stride, PixelStride: 2},
			{Data: b[1:], RowStride: 2 * stride, PixelStride: 4},
			{Data: b[3:], RowStride: 2 * stride, PixelStride: 4},
		}
	case FormatUYVY:
		// U Y0 V Y1
		if len(b) < 4 {
			return nil, short()
		}
		f.Format = FormatYUV420888
		f.Planes = []Plane{
			{Data: b[1:], RowStride: stride, PixelStride: 2},
			{Data: b, RowStride: 2 * stride, PixelStride: 4},
			{Data: b[2:], RowStride: 2 * stride, PixelStride: 4},
		}
	case FormatMJPEG:
		if len(b) == 0 {
			return nil, short()
		}
		f.Planes = []Plane{{Data: b}}
	default:
		return nil, fmt.Errorf("%w: %s", ErrUnsupportedFormat, format)
	}
	return f, nil
}
