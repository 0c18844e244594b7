// Package ffmpeg encodes NV21 frames to H.264 by piping them through an ffmpeg
// process. Raw frames go to the process stdin, an Annex-B elementary stream
// comes back on stdout.
//
// The ffmpeg binary has to be on PATH, or Params.Path must point at it.
package ffmpeg

import (
	"bufio"
	"errors"
	"fmt"
	"io"
	"os"
	"os/exec"
	"sync"
	"sync/atomic"
	"time"

	"github.com/pion/logging"

	ilogging "github.com/webdro/pocketcam/internal/logging"
	"github.com/webdro/pocketcam/pkg/codec"
	"github.com/webdro/pocketcam/pkg/frame"
)

// Name is the name the encoder is registered under.
const Name = "ffmpeg"

const stopTimeout = 3 * time.Second

var logger = ilogging.NewLogger("codec/ffmpeg")

func init() {
	codec.Register(Name, DefaultParams().BuildVideoEncoder)
}

type encoder struct {
	cmd       *exec.Cmd
	stdin     io.WriteCloser
	frameSize int
	frameDur  time.Duration

	in   chan []byte
	out  chan codec.AccessUnit
	done chan struct{}

	wg        sync.WaitGroup
	mu        sync.Mutex
	err       error
	closeOnce sync.Once
	stopOnce  sync.Once
	closeErr  error
	log       logging.LeveledLogger

	sizeWarned atomic.Bool
}

func newEncoder(p Params, s codec.VideoSetting) (*encoder, error) {
	if err := s.Validate(); err != nil {
		return nil, err
	}
	args, err := p.Args(s)
	if err != nil {
		return nil, err
	}

	cmd := exec.Command(p.path(), args...)
	stdin, err := cmd.StdinPipe()
	if err != nil {
		return nil, err
	}
	stdout, err := cmd.StdoutPipe()
	if err != nil {
		return nil, err
	}
	stderr, err := cmd.StderrPipe()
	if err != nil {
		return nil, err
	}
	aus, err := codec.NewAccessUnitReader(stdout)
	if err != nil {
		return nil, err
	}

	if err := cmd.Start(); err != nil {
		return nil, fmt.Errorf("ffmpeg: failed to start %s: %w", p.path(), err)
	}
	logger.Debugf("started %s %v", p.path(), args)

	e := &encoder{
		cmd:       cmd,
		stdin:     stdin,
		frameSize: frame.NV21Size(s.Width, s.Height),
		frameDur:  time.Duration(float64(time.Second) / float64(s.FrameRate)),
		in:        make(chan []byte, p.inputSlots()),
		out:       make(chan codec.AccessUnit, p.outputSlots()),
		done:      make(chan struct{}),
		log:       logger,
	}

	e.wg.Add(3)
	go e.writeLoop()
	go e.readLoop(aus)
	go e.logLoop(stderr)
	return e, nil
}

func (e *encoder) writeLoop() {
	defer e.wg.Done()
	defer e.stdin.Close()

	for {
		select {
		case <-e.done:
			return
		case buf := <-e.in:
			if _, err := e.stdin.Write(buf); err != nil {
				e.fail(fmt.Errorf("ffmpeg: failed to write frame: %w", err))
				return
			}
		}
	}
}

func (e *encoder) readLoop(aus *codec.AccessUnitReader) {
	defer e.wg.Done()

	var n int64
	for {
		au, err := aus.Next()
		if err != nil {
			if errors.Is(err, io.EOF) {
				err = codec.ErrEncoderClosed
			}
			e.fail(err)
			return
		}
		au.Timestamp = time.Duration(n) * e.frameDur
		n++

		select {
		case e.out <- au:
		case <-e.done:
			return
		}
	}
}

func (e *encoder) logLoop(stderr io.Reader) {
	defer e.wg.Done()

	scanner := bufio.NewScanner(stderr)
	for scanner.Scan() {
		e.log.Debugf("(stderr) %s", scanner.Text())
	}
}

// fail records the first error and stops the encoder.
func (e *encoder) fail(err error) {
	e.mu.Lock()
	if e.err == nil {
		e.err = err
	}
	e.mu.Unlock()
	e.stop()
}

func (e *encoder) stop() {
	e.stopOnce.Do(func() { close(e.done) })
}

func (e *encoder) failure() error {
	e.mu.Lock()
	defer e.mu.Unlock()

	if e.err == nil || errors.Is(e.err, codec.ErrEncoderClosed) {
		return codec.ErrEncoderClosed
	}
	return fmt.Errorf("%w: %v", codec.ErrEncoderClosed, e.err)
}

func (e *encoder) SubmitInput(buf []byte, _ time.Duration, wait time.Duration) bool {
	if len(buf) != e.frameSize {
		if e.sizeWarned.CompareAndSwap(false, true) {
			e.log.Warnf("dropping frames of %d bytes, expected %d", len(buf), e.frameSize)
		}
		return false
	}

	select {
	case <-e.done:
		return false
	default:
	}

	if wait <= 0 {
		select {
		case e.in <- buf:
			return true
		default:
			return false
		}
	}

	timer := time.NewTimer(wait)
	defer timer.Stop()
	select {
	case e.in <- buf:
		return true
	case <-timer.C:
		return false
	case <-e.done:
		return false
	}
}

func (e *encoder) PollOutput(timeout time.Duration) (codec.AccessUnit, bool, error) {
	select {
	case au := <-e.out:
		return au, true, nil
	default:
	}

	select {
	case <-e.done:
		return codec.AccessUnit{}, false, e.failure()
	default:
	}

	timer := time.NewTimer(timeout)
	defer timer.Stop()
	select {
	case au := <-e.out:
		return au, true, nil
	case <-timer.C:
		return codec.AccessUnit{}, false, nil
	case <-e.done:
		return codec.AccessUnit{}, false, e.failure()
	}
}

// Close stops the process, first politely and then by force, and waits for the
// pipe goroutines. It is safe to call more than once.
func (e *encoder) Close() error {
	e.closeOnce.Do(func() {
		e.stop()
		_ = e.cmd.Process.Signal(os.Interrupt)

		exited := make(chan struct{})
		go func() {
			e.wg.Wait()
			close(exited)
		}()
		select {
		case <-exited:
		case <-time.After(stopTimeout):
			e.log.Warnf("process did not stop within %v, killing it", stopTimeout)
			if err := e.cmd.Process.Kill(); err != nil {
				e.closeErr = err
			}
			<-exited
		}

		// An interrupted ffmpeg exits non-zero; that is the expected outcome here.
		var exitErr *exec.ExitError
		if err := e.cmd.Wait(); err != nil && !errors.As(err, &exitErr) && e.closeErr == nil {
			e.closeErr = err
		}
	})
	return e.closeErr
}
