// Package videotest provides a synthetic color bar source. Frames are handed
// out the way phone cameras do: a padded luma plane and interleaved chroma
// exposed as two views with a pixel stride of 2.
package videotest

import (
	"context"
	"errors"
	"fmt"
	"image"
	"image/color"
	"math/rand"
	"sync"
	"time"

	"golang.org/x/image/font"
	"golang.org/x/image/font/basicfont"
	"golang.org/x/image/math/fixed"

	"github.com/webdro/pocketcam/pkg/driver"
	"github.com/webdro/pocketcam/pkg/frame"
)

// Name is the kind the source is registered under.
const Name = "videotest"

var errNotOpened = errors.New("videotest: source is not opened")

// rowAlign pads every row, like camera HALs do.
const rowAlign = 64

func init() {
	driver.Manager.Register(Name, driver.Synthetic, func(_ string, p driver.Property) (driver.Source, error) {
		return New(p)
	})
}

type dummy struct {
	p driver.Property

	mu     sync.Mutex
	closed chan struct{}
}

// New returns a color bar source of p.Width x p.Height at p.FrameRate.
func New(p driver.Property) (driver.Source, error) {
	if p.Width <= 0 || p.Height <= 0 || p.Width%2 != 0 || p.Height%2 != 0 {
		return nil, fmt.Errorf("videotest: invalid size %dx%d", p.Width, p.Height)
	}
	if p.FrameRate <= 0 {
		p.FrameRate = 30
	}
	return &dummy{p: p}, nil
}

func (d *dummy) Open() error {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.closed = make(chan struct{})
	return nil
}

func (d *dummy) Close() error {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.closed != nil {
		select {
		case <-d.closed:
		default:
			close(d.closed)
		}
	}
	return nil
}

func (d *dummy) Info() driver.Info {
	return driver.Info{Label: "VideoTest", DeviceType: driver.Synthetic}
}

func (d *dummy) Capture(ctx context.Context, onFrame driver.FrameFunc) error {
	width, height := d.p.Width, d.p.Height
	stride := (width + rowAlign - 1) / rowAlign * rowAlign

	colors := [][3]byte{
		{235, 128, 128},
		{210, 16, 146},
		{170, 166, 16},
		{145, 54, 34},
		{107, 202, 222},
		{82, 90, 240},
		{41, 240, 110},
	}

	// yy holds luma; vu holds the chroma rows interleaved V,U like NV21, each
	// row stride bytes long. The last row stops short, as it does on devices.
	yy := make([]byte, stride*height)
	vu := make([]byte, stride*(height/2-1)+width)
	yyBase := make([]byte, len(yy))
	vuBase := make([]byte, len(vu))

	hColorBarEnd := height * 3 / 4
	wGradationEnd := width * 5 / 7
	for y := 0; y < height; y++ {
		for x := 0; x < width; x++ {
			var luma, cb, cr byte = 0, 128, 128
			switch {
			case y < hColorBarEnd:
				// Color bar
				c := colors[x*7/width]
				luma, cb, cr = uint8(uint16(c[0])*75/100), c[1], c[2]
			case x < wGradationEnd:
				// Gray gradation
				luma = uint8(x * 255 / wGradationEnd)
			}
			yyBase[y*stride+x] = luma
			if y%2 == 0 && x%2 == 0 {
				i := (y/2)*stride + x
				vuBase[i], vuBase[i+1] = cr, cb
			}
		}
	}

	random := rand.New(rand.NewSource(0))
	tick := time.NewTicker(time.Duration(float32(time.Second) / d.p.FrameRate))
	defer tick.Stop()
	start := time.Now()
	d.mu.Lock()
	closed := d.closed
	d.mu.Unlock()
	if closed == nil {
		return errNotOpened
	}

	for {
		select {
		case <-ctx.Done():
			return nil
		case <-closed:
			return nil
		case now := <-tick.C:
			copy(yy, yyBase)
			copy(vu, vuBase)
			for y := hColorBarEnd; y < height; y++ {
				for x := wGradationEnd; x < width; x++ {
					// Noise
					yy[y*stride+x] = uint8(random.Int31n(2) * 255)
				}
			}
			drawClock(yy, width, height, stride, now)

			onFrame(&frame.RawFrame{
				Width:  width,
				Height: height,
				Format: frame.FormatYUV420888,
				Planes: []frame.Plane{
					{Data: yy, RowStride: stride, PixelStride: 1},
					{Data: vu[1:], RowStride: stride, PixelStride: 2},
					{Data: vu, RowStride: stride, PixelStride: 2},
				},
				Timestamp: now.Sub(start),
			})
		}
	}
}

// drawClock writes the wall clock into the bottom left corner of the luma
// plane, so a frozen stream is easy to spot.
func drawClock(yy []byte, width, height, stride int, now time.Time) {
	face := basicfont.Face7x13
	d := &font.Drawer{
		Dst: &image.Gray{
			Pix:    yy,
			Stride: stride,
			Rect:   image.Rect(0, 0, width, height),
		},
		Src:  image.NewUniform(color.Gray{Y: 255}),
		Face: face,
		Dot:  fixed.P(2, height-face.Descent-1),
	}
	d.DrawString(now.Format("15:04:05.000"))
}
