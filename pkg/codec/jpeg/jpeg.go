// Package jpeg compresses frames into the JPEG images the MJPEG stream carries.
package jpeg

import (
	"bytes"
	"image"
	gojpeg "image/jpeg"
	"sync/atomic"

	"golang.org/x/image/draw"

	"github.com/webdro/pocketcam/pkg/frame"
)

const (
	MinQuality     = 10
	MaxQuality     = 100
	DefaultQuality = 60
)

// Clamp limits q to [MinQuality, MaxQuality].
func Clamp(q int) int {
	switch {
	case q < MinQuality:
		return MinQuality
	case q > MaxQuality:
		return MaxQuality
	}
	return q
}

// Compressor encodes images at an adjustable quality. Quality may be changed
// while another goroutine is compressing; the next frame picks it up.
type Compressor struct {
	quality  atomic.Int32
	maxWidth int
	scaler   draw.Scaler

	// sizeHint remembers the last output size to presize the next buffer.
	sizeHint atomic.Int64
}

// NewCompressor returns a compressor at quality (clamped). Frames wider than a
// positive maxWidth are downscaled first, keeping the aspect ratio.
func NewCompressor(quality, maxWidth int) *Compressor {
	c := &Compressor{
		maxWidth: maxWidth,
		scaler:   draw.ApproxBiLinear,
	}
	c.quality.Store(int32(Clamp(quality)))
	return c
}

// Quality returns the current quality.
func (c *Compressor) Quality() int {
	return int(c.quality.Load())
}

// SetQuality clamps q, applies it and returns the applied value.
func (c *Compressor) SetQuality(q int) int {
	q = Clamp(q)
	c.quality.Store(int32(q))
	return q
}

// Compress encodes img as a baseline JPEG.
func (c *Compressor) Compress(img image.Image) ([]byte, error) {
	img = c.scale(img)

	var buf bytes.Buffer
	buf.Grow(int(c.sizeHint.Load()))
	if err := gojpeg.Encode(&buf, img, &gojpeg.Options{Quality: c.Quality()}); err != nil {
		return nil, err
	}
	c.sizeHint.Store(int64(buf.Len()))
	return buf.Bytes(), nil
}

// CompressNV21 encodes an NV21 buffer of the given dimensions.
func (c *Compressor) CompressNV21(b frame.NV21, width, height int) ([]byte, error) {
	img, err := b.YCbCr(width, height)
	if err != nil {
		return nil, err
	}
	return c.Compress(img)
}

func (c *Compressor) scale(img image.Image) image.Image {
	bounds := img.Bounds()
	if c.maxWidth <= 0 || bounds.Dx() <= c.maxWidth {
		return img
	}
	width := c.maxWidth &^ 1
	if width < 2 {
		width = 2
	}
	height := (bounds.Dy()*width/bounds.Dx() + 1) &^ 1
	if height < 2 {
		height = 2
	}

	src, ok := img.(*image.YCbCr)
	if !ok || src.SubsampleRatio != image.YCbCrSubsampleRatio420 || bounds.Min != (image.Point{}) {
		dst := image.NewRGBA(image.Rect(0, 0, width, height))
		c.scaler.Scale(dst, dst.Bounds(), img, bounds, draw.Src, nil)
		return dst
	}

	// Scale each plane on its own, which keeps the image in 4:2:0 and skips
	// a round trip through RGB.
	dst := image.NewYCbCr(image.Rect(0, 0, width, height), image.YCbCrSubsampleRatio420)
	cw, ch := (bounds.Dx()+1)/2, (bounds.Dy()+1)/2
	planes := []struct {
		src, dst             []byte
		srcStride, dstStride int
		srcRect, dstRect     image.Rectangle
	}{
		{src.Y, dst.Y, src.YStride, dst.YStride, image.Rect(0, 0, bounds.Dx(), bounds.Dy()), image.Rect(0, 0, width, height)},
		{src.Cb, dst.Cb, src.CStride, dst.CStride, image.Rect(0, 0, cw, ch), image.Rect(0, 0, width/2, height/2)},
		{src.Cr, dst.Cr, src.CStride, dst.CStride, image.Rect(0, 0, cw, ch), image.Rect(0, 0, width/2, height/2)},
	}
	for _, p := range planes {
		c.scaler.Scale(
			&image.Gray{Pix: p.dst, Stride: p.dstStride, Rect: p.dstRect},
			p.dstRect,
			&image.Gray{Pix: p.src, Stride: p.srcStride, Rect: p.srcRect},
			p.srcRect,
			draw.Src, nil,
		)
	}
	return dst
}
