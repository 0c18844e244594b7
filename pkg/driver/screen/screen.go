// Package screen captures a display as a video source.
package screen

import (
	"context"
	"errors"
	"fmt"
	"image"
	"image/color"
	"strconv"
	"sync"
	"time"

	"github.com/kbinani/screenshot"
	"golang.org/x/image/draw"

	"github.com/webdro/pocketcam/pkg/driver"
	"github.com/webdro/pocketcam/pkg/frame"
)

// Name is the kind the source is registered under.
const Name = "screen"

var errNotOpened = errors.New("screen: not opened")

func init() {
	driver.Manager.Register(Name, driver.Screen, func(device string, p driver.Property) (driver.Source, error) {
		index := 0
		if device != "" {
			i, err := strconv.Atoi(device)
			if err != nil {
				return nil, fmt.Errorf("screen: display index %q: %w", device, err)
			}
			index = i
		}
		return newScreen(index, p)
	})
}

type screen struct {
	displayIndex int
	p            driver.Property

	mu     sync.Mutex
	doneCh chan struct{}
}

func newScreen(displayIndex int, p driver.Property) (*screen, error) {
	if n := screenshot.NumActiveDisplays(); displayIndex < 0 || displayIndex >= n {
		return nil, fmt.Errorf("screen: display %d not found, %d active", displayIndex, n)
	}
	if p.FrameRate <= 0 {
		p.FrameRate = 10
	}
	return &screen{displayIndex: displayIndex, p: p}, nil
}

func (s *screen) Open() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.doneCh = make(chan struct{})
	return nil
}

func (s *screen) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.doneCh != nil {
		select {
		case <-s.doneCh:
		default:
			close(s.doneCh)
		}
	}
	return nil
}

func (s *screen) Info() driver.Info {
	return driver.Info{Label: fmt.Sprint(s.displayIndex), DeviceType: driver.Screen}
}

func (s *screen) Capture(ctx context.Context, onFrame driver.FrameFunc) error {
	s.mu.Lock()
	done := s.doneCh
	s.mu.Unlock()
	if done == nil {
		return errNotOpened
	}

	bounds := screenshot.GetDisplayBounds(s.displayIndex)
	width, height := s.p.Width, s.p.Height
	if width <= 0 || height <= 0 {
		width, height = bounds.Dx(), bounds.Dy()
	}
	width, height = width&^1, height&^1
	if width == 0 || height == 0 {
		return fmt.Errorf("screen: display %d has no usable size", s.displayIndex)
	}

	var scaled *image.RGBA
	if width != bounds.Dx() || height != bounds.Dy() {
		scaled = image.NewRGBA(image.Rect(0, 0, width, height))
	}
	i420 := make([]byte, width*height*3/2)

	tick := time.NewTicker(time.Duration(float32(time.Second) / s.p.FrameRate))
	defer tick.Stop()
	start := time.Now()

	for {
		select {
		case <-ctx.Done():
			return nil
		case <-done:
			return nil
		case now := <-tick.C:
			img, err := screenshot.CaptureRect(bounds)
			if err != nil {
				return err
			}
			src := img
			if scaled != nil {
				draw.ApproxBiLinear.Scale(scaled, scaled.Bounds(), img, img.Bounds(), draw.Src, nil)
				src = scaled
			}
			rgbaToI420(i420, src)

			onFrame(&frame.RawFrame{
				Width:     width,
				Height:    height,
				Format:    frame.FormatI420,
				Planes:    []frame.Plane{{Data: i420, RowStride: width, PixelStride: 1}},
				Timestamp: now.Sub(start),
			})
		}
	}
}

// rgbaToI420 converts the even-sized top-left of img into dst, averaging each
// 2x2 block for chroma.
func rgbaToI420(dst []byte, img *image.RGBA) {
	b := img.Bounds()
	width, height := b.Dx()&^1, b.Dy()&^1
	ySize := width * height
	cw := width / 2
	cb, cr := dst[ySize:ySize+ySize/4], dst[ySize+ySize/4:]

	for y := 0; y < height; y += 2 {
		for x := 0; x < width; x += 2 {
			var sumR, sumG, sumB int
			for dy := 0; dy < 2; dy++ {
				for dx := 0; dx < 2; dx++ {
					i := img.PixOffset(b.Min.X+x+dx, b.Min.Y+y+dy)
					r, g, bl := img.Pix[i], img.Pix[i+1], img.Pix[i+2]
					luma, _, _ := color.RGBToYCbCr(r, g, bl)
					dst[(y+dy)*width+x+dx] = luma
					sumR, sumG, sumB = sumR+int(r), sumG+int(g), sumB+int(bl)
				}
			}
			_, u, v := color.RGBToYCbCr(uint8(sumR/4), uint8(sumG/4), uint8(sumB/4))
			k := (y/2)*cw + x/2
			cb[k], cr[k] = u, v
		}
	}
}
