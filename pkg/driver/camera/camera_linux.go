//go:build linux

package camera

import (
	"context"
	"errors"
	"fmt"
	"math"
	"sync"

	"github.com/blackjack/webcam"

	ilogging "github.com/webdro/pocketcam/internal/logging"
	"github.com/webdro/pocketcam/pkg/driver"
)

const (
	maxEmptyFrameCount = 5
	waitTimeoutSeconds = 5
)

var (
	errReadTimeout = errors.New("read timeout")
	errEmptyFrame  = errors.New("empty frame")
	errNotOpened   = errors.New("camera: not opened")
)

var logger = ilogging.NewLogger("driver/camera")

func init() {
	driver.Manager.Register(Name, driver.Camera, func(device string, p driver.Property) (driver.Source, error) {
		return newCamera(devicePath(device), p), nil
	})
}

// Camera implementation using v4l2
// Reference: https://linuxtv.org/downloads/v4l-dvb-apis/uapi/v4l/videodev.html#videodev
type camera struct {
	path string
	p    driver.Property

	// mutex guards cam; StopStreaming frees the mmap buffers, so it must not
	// run while a frame is being handed out.
	mutex sync.Mutex
	cam   *webcam.Webcam
}

func newCamera(path string, p driver.Property) *camera {
	return &camera{path: path, p: p}
}

func (c *camera) Open() error {
	cam, err := webcam.Open(c.path)
	if err != nil {
		return fmt.Errorf("camera: failed to open %s: %w", c.path, err)
	}

	c.mutex.Lock()
	c.cam = cam
	c.mutex.Unlock()
	return nil
}

func (c *camera) Close() error {
	c.mutex.Lock()
	defer c.mutex.Unlock()

	if c.cam == nil {
		return nil
	}
	err := c.cam.Close()
	c.cam = nil
	return err
}

func (c *camera) Info() driver.Info {
	return driver.Info{Label: c.path, DeviceType: driver.Camera}
}

func (c *camera) pixelFormat(cam *webcam.Webcam) (webcam.PixelFormat, error) {
	supported := cam.GetSupportedFormats()
	for _, f := range preferredFormats {
		if _, ok := supported[webcam.PixelFormat(f)]; ok {
			return webcam.PixelFormat(f), nil
		}
	}
	names := make([]string, 0, len(supported))
	for _, name := range supported {
		names = append(names, name)
	}
	return 0, fmt.Errorf("camera: %s offers no usable pixel format, only %v", c.path, names)
}

func (c *camera) Capture(ctx context.Context, onFrame driver.FrameFunc) error {
	c.mutex.Lock()
	cam := c.cam
	if cam == nil {
		c.mutex.Unlock()
		return errNotOpened
	}

	pf, err := c.pixelFormat(cam)
	if err != nil {
		c.mutex.Unlock()
		return err
	}
	pf, width, height, err := cam.SetImageFormat(pf, uint32(c.p.Width), uint32(c.p.Height))
	if err != nil {
		c.mutex.Unlock()
		return fmt.Errorf("camera: failed to set format: %w", err)
	}
	if c.p.FrameRate > 0 {
		if err := cam.SetFramerate(c.p.FrameRate); err != nil {
			logger.Debugf("%s: frame rate %v not applied: %v", c.path, c.p.FrameRate, err)
		}
	}
	if err := cam.StartStreaming(); err != nil {
		c.mutex.Unlock()
		return fmt.Errorf("camera: failed to start streaming: %w", err)
	}
	c.mutex.Unlock()
	logger.Infof("%s streaming %s %dx%d", c.path, fourcc(uint32(pf)), width, height)

	defer func() {
		c.mutex.Lock()
		defer c.mutex.Unlock()
		if c.cam == cam {
			_ = cam.StopStreaming()
		}
	}()

	var buf []byte
	empty := 0
	for ctx.Err() == nil {
		err := cam.WaitForFrame(waitTimeoutSeconds)
		switch err.(type) {
		case nil:
		case *webcam.Timeout:
			return errReadTimeout
		default:
			if ctx.Err() != nil {
				return nil
			}
			// Camera has been closed.
			return err
		}

		c.mutex.Lock()
		if c.cam != cam {
			c.mutex.Unlock()
			return nil
		}
		b, err := cam.ReadFrame()
		if err != nil {
			c.mutex.Unlock()
			return err
		}
		if len(b) == 0 {
			c.mutex.Unlock()
			if empty++; empty > maxEmptyFrameCount {
				return errEmptyFrame
			}
			continue
		}
		empty = 0

		// move the memory from mmap to Go, the driver reuses the buffer as
		// soon as the next frame is queued.
		if len(b) > len(buf) {
			buf = make([]byte, len(b))
		}
		n := copy(buf, b)
		c.mutex.Unlock()

		f, err := planes(uint32(pf), buf[:n], int(width), int(height), 0)
		if err != nil {
			return err
		}
		onFrame(f)
	}
	return nil
}

func (c *camera) control(id webcam.ControlID) (*webcam.Webcam, webcam.Control, error) {
	c.mutex.Lock()
	cam := c.cam
	c.mutex.Unlock()
	if cam == nil {
		return nil, webcam.Control{}, errNotOpened
	}

	ctrl, ok := cam.GetControls()[id]
	if !ok {
		return nil, webcam.Control{}, driver.ErrNotSupported
	}
	return cam, ctrl, nil
}

func (c *camera) SetZoom(ratio float64) error {
	cam, ctrl, err := c.control(cidZoomAbsolute)
	if err != nil {
		return err
	}
	ratio = math.Max(0, math.Min(1, ratio))
	value := ctrl.Min + int32(math.Round(ratio*float64(ctrl.Max-ctrl.Min)))
	return cam.SetControl(cidZoomAbsolute, value)
}

func (c *camera) Focus() error {
	if cam, _, err := c.control(cidAutoFocusStart); err == nil {
		return cam.SetControl(cidAutoFocusStart, 1)
	}

	// Without a one-shot trigger, restart continuous autofocus.
	cam, _, err := c.control(cidFocusAuto)
	if err != nil {
		return err
	}
	if err := cam.SetControl(cidFocusAuto, 0); err != nil {
		return err
	}
	return cam.SetControl(cidFocusAuto, 1)
}

func (c *camera) SetTorch(on bool) error {
	cam, _, err := c.control(cidFlashLEDMode)
	if err != nil {
		return err
	}
	mode := int32(flashLEDModeNone)
	if on {
		mode = flashLEDModeTorch
	}
	return cam.SetControl(cidFlashLEDMode, mode)
}
