// Package mjpeg serves a framebus as a multipart/x-mixed-replace JPEG stream.
package mjpeg

import (
	"context"
	"errors"
	"io"
	"strconv"
	"sync"

	"github.com/webdro/pocketcam/pkg/framebus"
)

const (
	// Boundary separates the parts of the stream.
	Boundary = "frame"
	// ContentType is the response content type of a stream.
	ContentType = "multipart/x-mixed-replace; boundary=" + Boundary
)

var partTrailer = []byte("\r\n\r\n")

// Packet frames one JPEG as a multipart part:
//
//	--frame\r\nContent-Type: image/jpeg\r\nContent-Length: N\r\n\r\n<N bytes>\r\n\r\n
func Packet(jpeg []byte) []byte {
	header := "--" + Boundary + "\r\nContent-Type: image/jpeg\r\nContent-Length: " +
		strconv.Itoa(len(jpeg)) + "\r\n\r\n"

	p := make([]byte, 0, len(header)+len(jpeg)+len(partTrailer))
	p = append(p, header...)
	p = append(p, jpeg...)
	p = append(p, partTrailer...)
	return p
}

// Session is the pull side of one streaming client. It turns the frames offered
// by a bus into consecutive multipart packets. Any failure closes the session
// and removes it from the bus; a session is never restarted.
type Session struct {
	ctx context.Context
	sub *framebus.Subscriber

	// packet and off form the cursor used by Read.
	packet []byte
	off    int

	closeOnce sync.Once
}

// NewSession subscribes to bus. ctx bounds the blocking done by Read.
func NewSession(ctx context.Context, bus *framebus.Bus) *Session {
	return &Session{
		ctx: ctx,
		sub: bus.Subscribe(),
	}
}

// ID returns the identifier of the underlying subscriber.
func (s *Session) ID() string {
	return s.sub.ID()
}

// NextChunk blocks until a frame is available and returns it framed as a
// multipart packet.
func (s *Session) NextChunk(ctx context.Context) ([]byte, error) {
	jpeg, err := s.sub.Next(ctx)
	if err != nil {
		s.Close()
		return nil, err
	}
	return Packet(jpeg), nil
}

// Read implements io.Reader over the stream of packets. It returns io.EOF once
// the session is closed.
func (s *Session) Read(p []byte) (int, error) {
	if s.off >= len(s.packet) {
		packet, err := s.NextChunk(s.ctx)
		if err != nil {
			if errors.Is(err, framebus.ErrClosed) {
				return 0, io.EOF
			}
			return 0, err
		}
		s.packet, s.off = packet, 0
	}

	n := copy(p, s.packet[s.off:])
	s.off += n
	return n, nil
}

// Close marks the session inactive and unsubscribes it. It is safe to call
// more than once.
func (s *Session) Close() error {
	s.closeOnce.Do(s.sub.Close)
	return nil
}
