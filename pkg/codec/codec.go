// Package codec defines the encoder capability the video pipeline is built on,
// together with helpers shared by encoder implementations.
package codec

import (
	"errors"
	"fmt"
	"time"
)

var (
	// ErrEncoderClosed is returned by an encoder that has been closed or whose
	// backend has gone away.
	ErrEncoderClosed = errors.New("codec: encoder closed")
	// ErrUnknownEncoder is returned when no builder is registered under a name.
	ErrUnknownEncoder = errors.New("codec: unknown video encoder")
	// ErrInvalidSetting is returned when a VideoSetting can't be used to build
	// an encoder.
	ErrInvalidSetting = errors.New("codec: invalid video setting")
)

// VideoSetting is the configuration an encoder is built with.
type VideoSetting struct {
	Width, Height int
	// BitRate in bits per second
	BitRate   int
	FrameRate float32
	// KeyFrameInterval in frames
	KeyFrameInterval int
}

// Validate reports whether s describes a usable H.264 stream.
func (s VideoSetting) Validate() error {
	switch {
	case s.Width <= 0 || s.Height <= 0:
		return fmt.Errorf("%w: dimensions %dx%d", ErrInvalidSetting, s.Width, s.Height)
	case s.Width%2 != 0 || s.Height%2 != 0:
		return fmt.Errorf("%w: odd dimensions %dx%d", ErrInvalidSetting, s.Width, s.Height)
	case s.BitRate <= 0:
		return fmt.Errorf("%w: bit rate %d", ErrInvalidSetting, s.BitRate)
	case s.FrameRate <= 0:
		return fmt.Errorf("%w: frame rate %v", ErrInvalidSetting, s.FrameRate)
	case s.KeyFrameInterval <= 0:
		return fmt.Errorf("%w: key frame interval %d", ErrInvalidSetting, s.KeyFrameInterval)
	}
	return nil
}

// AccessUnit is one encoded picture as Annex-B bytes, every NAL unit prefixed
// with a 4-byte start code. Codec configuration (SPS/PPS) travels in-band in
// front of key frames.
type AccessUnit struct {
	Data      []byte
	KeyFrame  bool
	Timestamp time.Duration
}

// VideoEncoder accepts NV21 frames and produces H.264 access units. The input
// and output sides are decoupled: one goroutine may submit while another polls.
type VideoEncoder interface {
	// SubmitInput queues buf for encoding, waiting at most wait for room. It
	// reports whether the frame was accepted; a rejected frame is dropped by
	// the caller. buf must not be modified after a successful submit.
	SubmitInput(buf []byte, timestamp time.Duration, wait time.Duration) bool
	// PollOutput waits at most timeout for the next access unit. ok is false
	// when nothing was ready in time. A non-nil error means the encoder will
	// never produce output again.
	PollOutput(timeout time.Duration) (au AccessUnit, ok bool, err error)
	Close() error
}

// VideoEncoderBuilder creates a running encoder for s.
type VideoEncoderBuilder func(s VideoSetting) (VideoEncoder, error)
