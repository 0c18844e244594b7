package frame

import (
	"fmt"
	"image"
)

// YCbCr de-interleaves the chroma of b into a 4:2:0 image. Luma is shared
// with b, so b must not change while the image is in use.
func (b NV21) YCbCr(width, height int) (*image.YCbCr, error) {
	if width <= 0 || height <= 0 {
		return nil, fmt.Errorf("%w: %dx%d", ErrInvalidDimensions, width, height)
	}

	yi := width * height
	ci := NV21Size(width, height)
	if ci > len(b) {
		return nil, fmt.Errorf("frame length (%d) less than expected (%d)", len(b), ci)
	}

	cw, ch := (width+1)/2, (height+1)/2
	cb := make([]byte, cw*ch)
	cr := make([]byte, cw*ch)
	if width%2 != 0 || height%2 != 0 {
		for i := range cb {
			cb[i], cr[i] = 128, 128
		}
	}

	pos := yi
	for row := 0; row < height/2; row++ {
		for col := 0; col < width/2; col++ {
			cr[row*cw+col] = b[pos]
			cb[row*cw+col] = b[pos+1]
			pos += 2
		}
	}

	return &image.YCbCr{
		Y:              b[:yi],
		YStride:        width,
		Cb:             cb,
		Cr:             cr,
		CStride:        cw,
		SubsampleRatio: image.YCbCrSubsampleRatio420,
		Rect:           image.Rect(0, 0, width, height),
	}, nil
}
