package cmdsource

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"time"

	"github.com/webdro/pocketcam/pkg/driver"
	"github.com/webdro/pocketcam/pkg/frame"
)

// Name is the kind the source is registered under.
const Name = "command"

// DefaultReadTimeout bounds the wait for one frame.
const DefaultReadTimeout = 10 * time.Second

func init() {
	driver.Manager.Register(Name, driver.Command, func(device string, p driver.Property) (driver.Source, error) {
		return NewVideoCmdSource(device, frame.FormatI420, p, DefaultReadTimeout)
	})
}

type videoCmdSource struct {
	cmdSource
	format frame.Format
	p      driver.Property
}

// NewVideoCmdSource runs command on Capture and reads frames of format, sized
// p.Width x p.Height, from its stdout.
func NewVideoCmdSource(command string, format frame.Format, p driver.Property, readTimeout time.Duration) (driver.Source, error) {
	if _, ok := frame.FrameSizeMap[format]; !ok {
		return nil, fmt.Errorf("%w: %s", errUnsupportedFormat, format)
	}
	if p.Width <= 0 || p.Height <= 0 {
		return nil, fmt.Errorf("%w: %dx%d", frame.ErrInvalidDimensions, p.Width, p.Height)
	}
	src, err := newCmdSource(command, readTimeout)
	if err != nil {
		return nil, err
	}
	return &videoCmdSource{cmdSource: src, format: format, p: p}, nil
}

func (c *videoCmdSource) Info() driver.Info {
	return driver.Info{Label: c.cmdArgs[0], DeviceType: driver.Command}
}

func (c *videoCmdSource) Capture(ctx context.Context, onFrame driver.FrameFunc) (err error) {
	cmd, err := c.command(propertyEnv(c.p, string(c.format))...)
	if err != nil {
		return err
	}
	defer func() {
		if stopErr := c.release(cmd); err == nil {
			err = stopErr
		}
	}()

	frameSize := int(frame.FrameSizeMap[c.format](c.p.Width, c.p.Height))

	// get the command's standard error
	stdErr, err := cmd.StderrPipe()
	if err != nil {
		return err
	}
	// get the command's standard output
	stdOut, err := cmd.StdoutPipe()
	if err != nil {
		return err
	}

	// start the command
	if err := cmd.Start(); err != nil {
		return fmt.Errorf("cmdsource: failed to start %s: %w", c.cmdArgs[0], err)
	}

	// send standard error to the logs prefixed with (<command> stderr)
	go func() {
		stderrPrefix := fmt.Sprintf("(%s stderr): ", c.cmdArgs[0])
		scanner := bufio.NewScanner(stdErr)
		for scanner.Scan() {
			logger.Debug(stderrPrefix + scanner.Text())
		}
	}()

	type result struct {
		buf []byte
		err error
	}
	// One buffer is filled by the reader while the other is handed to onFrame.
	free := make(chan []byte, 2)
	free <- make([]byte, frameSize)
	free <- make([]byte, frameSize)
	results := make(chan result)
	quit := make(chan struct{})
	defer close(quit)
	go func() {
		for {
			var buf []byte
			select {
			case buf = <-free:
			case <-quit:
				return
			}
			_, err := io.ReadFull(stdOut, buf)
			select {
			case results <- result{buf, err}:
			case <-quit:
				return
			}
			if err != nil {
				return
			}
		}
	}()

	start := time.Now()
	for {
		select {
		case <-ctx.Done():
			return nil
		case <-time.After(c.readTimeout):
			return errReadTimeout
		case r := <-results:
			if errors.Is(r.err, io.EOF) || errors.Is(r.err, io.ErrUnexpectedEOF) || errors.Is(r.err, os.ErrClosed) {
				// The command ended or was closed.
				return nil
			}
			if r.err != nil {
				return r.err
			}

			f, err := frame.FromPacked(c.format, r.buf, c.p.Width, c.p.Height, 0)
			if err != nil {
				return err
			}
			f.Timestamp = time.Since(start)
			onFrame(f)
			free <- r.buf
		}
	}
}
