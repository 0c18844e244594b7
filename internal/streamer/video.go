package streamer

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"github.com/pion/logging"

	ilogging "github.com/webdro/pocketcam/internal/logging"
	"github.com/webdro/pocketcam/pkg/codec"
	"github.com/webdro/pocketcam/pkg/frame"
)

// VideoPipeline is the part of videostream.Pipeline the supervisor drives.
type VideoPipeline interface {
	Start(s codec.VideoSetting) error
	Stop() error
	Done() <-chan struct{}
	Submit(buf frame.NV21) bool
}

// VideoSupervisor keeps a video session available: after a client leaves it
// throws the closed session away and starts a fresh one. The pipeline itself
// never retries.
//
// The encoder is sized after the frames it is fed. The first session starts
// with the first submitted frame, and a frame of another size replaces the
// running session with one of the new size.
type VideoSupervisor struct {
	Pipeline VideoPipeline
	// Setting gives the bit rate, frame rate and key frame interval. Width and
	// Height are taken from the frames.
	Setting     codec.VideoSetting
	AutoRestart bool
	// RetryDelay is the pause after a failed Start, DefaultRetryDelay when zero.
	RetryDelay time.Duration

	log      logging.LeveledLogger
	initOnce sync.Once
	sizes    chan frameSize
	// active is the packed size of the running session, zero without one.
	active   atomic.Uint64
	resized  atomic.Uint64
	restarts atomic.Uint64
}

// VideoStats is a snapshot of the supervisor counters.
type VideoStats struct {
	Width    int    `json:"width"`
	Height   int    `json:"height"`
	Restarts uint64 `json:"restarts"`
	// Resized counts frames dropped because they didn't fit the session.
	Resized uint64 `json:"resized"`
}

type frameSize uint64

func packSize(width, height int) frameSize {
	return frameSize(uint64(uint32(width))<<32 | uint64(uint32(height)))
}

func (f frameSize) dims() (int, int) {
	return int(uint32(f >> 32)), int(uint32(f))
}

func (v *VideoSupervisor) init() {
	v.initOnce.Do(func() {
		v.sizes = make(chan frameSize, 1)
		if v.log == nil {
			v.log = ilogging.NewLogger("streamer/video")
		}
	})
}

// Submit passes a frame to the running session. A frame whose size differs
// from the session's is dropped and makes Run rebuild the session.
func (v *VideoSupervisor) Submit(buf frame.NV21, width, height int) bool {
	v.init()

	size := packSize(width, height)
	if frameSize(v.active.Load()) != size {
		v.resized.Add(1)
		select {
		case v.sizes <- size:
		default:
		}
		return false
	}
	return v.Pipeline.Submit(buf)
}

// Stats returns a snapshot of the counters.
func (v *VideoSupervisor) Stats() VideoStats {
	w, h := frameSize(v.active.Load()).dims()
	return VideoStats{
		Width:    w,
		Height:   h,
		Restarts: v.restarts.Load(),
		Resized:  v.resized.Load(),
	}
}

// latest drains the pending size notification, if any.
func (v *VideoSupervisor) latest(size frameSize) frameSize {
	select {
	case size = <-v.sizes:
	default:
	}
	return size
}

func (v *VideoSupervisor) stop() {
	v.active.Store(0)
	if err := v.Pipeline.Stop(); err != nil {
		v.log.Warnf("failed to stop video pipeline: %v", err)
	}
}

// Run waits for the first frame, then starts the pipeline and supervises it
// until ctx is done, then stops it.
func (v *VideoSupervisor) Run(ctx context.Context) error {
	v.init()
	retry := v.RetryDelay
	if retry <= 0 {
		retry = DefaultRetryDelay
	}
	defer v.stop()

	var size frameSize
	select {
	case <-ctx.Done():
		return nil
	case size = <-v.sizes:
	}

	setting := v.Setting
session:
	for {
		size = v.latest(size)
		setting.Width, setting.Height = size.dims()
		if err := v.Pipeline.Start(setting); err != nil {
			v.log.Errorf("failed to start %dx%d video pipeline: %v", setting.Width, setting.Height, err)
			if !v.AutoRestart {
				return err
			}
			select {
			case <-ctx.Done():
				return nil
			case <-time.After(retry):
				continue
			}
		}
		v.active.Store(uint64(size))

	wait:
		for {
			select {
			case <-ctx.Done():
				return nil
			case next := <-v.sizes:
				if next == size {
					continue
				}
				w, h := next.dims()
				v.log.Infof("frame size changed from %dx%d to %dx%d, restarting the video session",
					setting.Width, setting.Height, w, h)
				v.stop()
				v.restarts.Add(1)
				size = next
				continue session
			case <-v.Pipeline.Done():
				break wait
			}
		}

		if !v.AutoRestart {
			v.log.Infof("video session closed")
			<-ctx.Done()
			return nil
		}
		v.log.Infof("video session closed, waiting for the next client")
		v.stop()
		v.restarts.Add(1)
	}
}
