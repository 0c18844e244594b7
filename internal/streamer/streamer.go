// Package streamer connects a capture source to the frame bus and the video
// pipeline: every frame is repacked to NV21 once, compressed to JPEG for the
// MJPEG clients and submitted to the H.264 encoder.
package streamer

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/pion/logging"

	ilogging "github.com/webdro/pocketcam/internal/logging"
	"github.com/webdro/pocketcam/pkg/codec/jpeg"
	"github.com/webdro/pocketcam/pkg/driver"
	"github.com/webdro/pocketcam/pkg/frame"
	"github.com/webdro/pocketcam/pkg/framebus"
)

// DefaultRetryDelay is the pause before reopening a source that failed.
const DefaultRetryDelay = 2 * time.Second

// ErrNoSource is returned by controls while no source is capturing.
var ErrNoSource = errors.New("streamer: no active source")

// VideoSink takes NV21 frames of the given size for encoding. VideoSupervisor
// implements it.
type VideoSink interface {
	Submit(buf frame.NV21, width, height int) bool
}

// OpenFunc builds the source for a device.
type OpenFunc func(kind, device string, p driver.Property) (driver.Driver, error)

// Config describes the sources the streamer captures from.
type Config struct {
	// Kind is a driver kind registered with driver.Manager.
	Kind string
	// Devices are cycled through by Switch. The first one is captured first.
	Devices  []string
	Property driver.Property
	// MaxFrameRate drops frames arriving faster than this, zero for no limit.
	MaxFrameRate float32
	// RetryDelay defaults to DefaultRetryDelay.
	RetryDelay time.Duration
	// Open defaults to driver.Manager.New.
	Open OpenFunc
}

// Stats is a snapshot of the streamer counters.
type Stats struct {
	Source         string `json:"source"`
	Device         string `json:"device"`
	Capturing      bool   `json:"capturing"`
	Frames         uint64 `json:"frames"`
	Skipped        uint64 `json:"skipped"`
	Throttled      uint64 `json:"throttled"`
	CompressErrors uint64 `json:"compressErrors"`
	VideoSubmitted uint64 `json:"videoSubmitted"`
	Quality        int    `json:"quality"`
}

// Streamer owns the capture loop.
type Streamer struct {
	cfg   Config
	bus   *framebus.Bus
	jpeg  *jpeg.Compressor
	video VideoSink
	limit *throttle
	log   logging.LeveledLogger

	mu       sync.Mutex
	device   int
	current  driver.Driver
	cancel   context.CancelFunc
	switched bool

	frames         atomic.Uint64
	skipped        atomic.Uint64
	throttled      atomic.Uint64
	compressErrors atomic.Uint64
	videoSubmitted atomic.Uint64
}

// New returns a streamer publishing to bus. video may be nil.
func New(cfg Config, bus *framebus.Bus, c *jpeg.Compressor, video VideoSink) *Streamer {
	if cfg.RetryDelay <= 0 {
		cfg.RetryDelay = DefaultRetryDelay
	}
	if cfg.Open == nil {
		cfg.Open = driver.Manager.New
	}
	if len(cfg.Devices) == 0 {
		cfg.Devices = []string{""}
	}
	return &Streamer{
		cfg:   cfg,
		bus:   bus,
		jpeg:  c,
		video: video,
		limit: newThrottle(cfg.MaxFrameRate),
		log:   ilogging.NewLogger("streamer"),
	}
}

// OnFrame handles one captured frame. Frames over MaxFrameRate are dropped and
// frames that can't be repacked are skipped; capture goes on.
func (s *Streamer) OnFrame(f *frame.RawFrame) {
	if !s.limit.allow(time.Now()) {
		s.throttled.Add(1)
		return
	}
	// Decoded MJPEG carries the image size, which may differ from the one the
	// camera reported.
	f, err := frame.Decode(f)
	if err != nil {
		s.skip(err)
		return
	}
	nv21, err := frame.Repack(f)
	if err != nil {
		s.skip(err)
		return
	}
	s.frames.Add(1)

	if b, err := s.jpeg.CompressNV21(nv21, f.Width, f.Height); err != nil {
		s.compressErrors.Add(1)
		s.log.Warnf("failed to compress frame: %v", err)
	} else {
		s.bus.Publish(b)
	}

	if s.video != nil && s.video.Submit(nv21, f.Width, f.Height) {
		s.videoSubmitted.Add(1)
	}
}

func (s *Streamer) skip(err error) {
	if s.skipped.Add(1) == 1 {
		s.log.Warnf("skipping frame: %v", err)
	} else {
		s.log.Debugf("skipping frame: %v", err)
	}
}

// Run captures until ctx is done, reopening the source after failures and
// moving to the next device after Switch.
func (s *Streamer) Run(ctx context.Context) error {
	for {
		err := s.captureOnce(ctx)
		if ctx.Err() != nil {
			return nil
		}

		s.mu.Lock()
		switched := s.switched
		s.switched = false
		s.mu.Unlock()
		if switched {
			continue
		}

		if err != nil {
			s.log.Errorf("capture from %s failed: %v", s.deviceName(), err)
		} else {
			s.log.Infof("capture from %s ended", s.deviceName())
		}
		select {
		case <-ctx.Done():
			return nil
		case <-time.After(s.cfg.RetryDelay):
		}
	}
}

func (s *Streamer) captureOnce(ctx context.Context) error {
	s.mu.Lock()
	device := s.cfg.Devices[s.device]
	s.mu.Unlock()

	d, err := s.cfg.Open(s.cfg.Kind, device, s.cfg.Property)
	if err != nil {
		return err
	}
	if err := d.Open(); err != nil {
		return fmt.Errorf("open %s: %w", d.Info().Label, err)
	}

	captureCtx, cancel := context.WithCancel(ctx)
	defer cancel()

	s.mu.Lock()
	s.current = d
	s.cancel = cancel
	s.mu.Unlock()
	s.log.Infof("capturing from %s (%s)", d.Info().Label, d.ID())

	err = d.Capture(captureCtx, s.OnFrame)

	s.mu.Lock()
	s.current = nil
	s.cancel = nil
	s.mu.Unlock()

	if cerr := d.Close(); cerr != nil {
		s.log.Warnf("failed to close %s: %v", d.Info().Label, cerr)
	}
	return err
}

// Switch moves capture to the next configured device and returns its name.
// With a single device it returns driver.ErrNotSupported.
func (s *Streamer) Switch() (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if len(s.cfg.Devices) < 2 {
		return "", driver.ErrNotSupported
	}
	s.device = (s.device + 1) % len(s.cfg.Devices)
	next := s.cfg.Devices[s.device]
	if s.cancel != nil {
		s.switched = true
		s.cancel()
	}
	s.log.Infof("switching to %s", next)
	return next, nil
}

// SetZoom forwards to the current source.
func (s *Streamer) SetZoom(ratio float64) error {
	if ratio < 0 || ratio > 1 {
		return fmt.Errorf("streamer: zoom %v out of range [0, 1]", ratio)
	}
	return s.control(func(c driver.Controller) error { return c.SetZoom(ratio) })
}

// Focus forwards to the current source.
func (s *Streamer) Focus() error {
	return s.control(driver.Controller.Focus)
}

// SetTorch forwards to the current source.
func (s *Streamer) SetTorch(on bool) error {
	return s.control(func(c driver.Controller) error { return c.SetTorch(on) })
}

func (s *Streamer) control(fn func(driver.Controller) error) error {
	s.mu.Lock()
	d := s.current
	s.mu.Unlock()

	if d == nil {
		return ErrNoSource
	}
	c, ok := driver.ControllerOf(d)
	if !ok {
		return driver.ErrNotSupported
	}
	return fn(c)
}

// SetQuality changes the JPEG quality for the next frame and returns the
// clamped value.
func (s *Streamer) SetQuality(q int) int {
	q = s.jpeg.SetQuality(q)
	s.log.Infof("jpeg quality set to %d", q)
	return q
}

// Stats returns a snapshot of the counters.
func (s *Streamer) Stats() Stats {
	s.mu.Lock()
	capturing := s.current != nil
	s.mu.Unlock()

	return Stats{
		Source:         s.cfg.Kind,
		Device:         s.deviceName(),
		Capturing:      capturing,
		Frames:         s.frames.Load(),
		Skipped:        s.skipped.Load(),
		Throttled:      s.throttled.Load(),
		CompressErrors: s.compressErrors.Load(),
		VideoSubmitted: s.videoSubmitted.Load(),
		Quality:        s.jpeg.Quality(),
	}
}

func (s *Streamer) deviceName() string {
	s.mu.Lock()
	defer s.mu.Unlock()

	if d := s.cfg.Devices[s.device]; d != "" {
		return d
	}
	return s.cfg.Kind
}
