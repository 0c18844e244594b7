package videostream

import (
	"errors"
	"net"
	"sync"
	"sync/atomic"
	"time"

	"github.com/webdro/pocketcam/pkg/codec"
)

type session struct {
	p        *Pipeline
	setting  codec.VideoSetting
	encoder  codec.VideoEncoder
	listener net.Listener
	started  time.Time

	// alive is cleared by shutdown; the session goroutines check it before and
	// after every bounded wait.
	alive atomic.Bool
	// released is set once the client side is gone, by failure or shutdown.
	released atomic.Bool
	// mismatchLogged limits the wrong frame size warning to one per session.
	mismatchLogged atomic.Bool

	connMu sync.Mutex
	conn   net.Conn

	wg       sync.WaitGroup
	done     chan struct{}
	doneOnce sync.Once
}

func newSession(p *Pipeline, s codec.VideoSetting, enc codec.VideoEncoder, ln net.Listener) *session {
	sess := &session{
		p:        p,
		setting:  s,
		encoder:  enc,
		listener: ln,
		started:  time.Now(),
		done:     make(chan struct{}),
	}
	sess.alive.Store(true)
	return sess
}

func (s *session) live() bool {
	return s.alive.Load()
}

func (s *session) acceptLoop() {
	defer s.wg.Done()

	for {
		conn, err := s.listener.Accept()
		if err != nil {
			if s.live() && !s.released.Load() {
				s.p.log.Errorf("accept failed: %v", err)
				s.fail(WaitingForClient)
			}
			return
		}

		if !s.attach(conn) {
			s.p.rejected.Add(1)
			s.p.log.Warnf("rejecting video client %s: already streaming to %s", conn.RemoteAddr(), s.clientAddr())
			_ = conn.Close()
			continue
		}

		s.p.log.Infof("video client %s connected", conn.RemoteAddr())
		s.wg.Add(1)
		go s.drainLoop(conn)
	}
}

// attach makes conn the session's client. Only the first connection wins.
func (s *session) attach(conn net.Conn) bool {
	s.connMu.Lock()
	defer s.connMu.Unlock()

	if s.conn != nil || s.released.Load() {
		return false
	}
	if !s.p.transition(s, WaitingForClient, Streaming) {
		return false
	}
	s.conn = conn
	return true
}

func (s *session) clientAddr() string {
	s.connMu.Lock()
	defer s.connMu.Unlock()

	if s.conn == nil {
		return ""
	}
	return s.conn.RemoteAddr().String()
}

func (s *session) drainLoop(conn net.Conn) {
	defer s.wg.Done()

	for {
		if !s.live() {
			return
		}
		au, ok, err := s.encoder.PollOutput(s.p.cfg.PollTimeout)
		if !s.live() {
			return
		}
		if err != nil {
			s.p.log.Errorf("encoder stopped producing: %v", err)
			s.fail(Streaming)
			return
		}
		if !ok {
			continue
		}

		if wt := s.p.cfg.WriteTimeout; wt > 0 {
			if err := conn.SetWriteDeadline(time.Now().Add(wt)); err != nil {
				s.p.log.Warnf("failed to set write deadline: %v", err)
			}
		}
		n, err := conn.Write(au.Data)
		s.p.bytesSent.Add(uint64(n))
		s.p.bitrate.AddFrame(n, time.Now())
		if err != nil {
			s.p.log.Warnf("video client %s gone: %v", conn.RemoteAddr(), err)
			s.fail(Streaming)
			return
		}

		s.p.accessUnits.Add(1)
		if au.KeyFrame {
			s.p.keyFrames.Add(1)
		}
	}
}

// fail moves the session to Closed and releases the client side. The encoder
// keeps running until Stop.
func (s *session) fail(from State) {
	s.p.transition(s, from, Closed)
	s.release()
	s.doneOnce.Do(func() { close(s.done) })
}

// release closes the listener and the client connection.
func (s *session) release() error {
	if s.released.Swap(true) {
		return nil
	}

	err := s.listener.Close()
	s.connMu.Lock()
	if s.conn != nil {
		if cerr := s.conn.Close(); cerr != nil && err == nil {
			err = cerr
		}
	}
	s.connMu.Unlock()
	return err
}

func (s *session) shutdown() error {
	s.alive.Store(false)

	err := s.release()
	if errors.Is(err, net.ErrClosed) {
		err = nil
	}
	if cerr := s.encoder.Close(); cerr != nil && err == nil {
		err = cerr
	}
	s.wg.Wait()
	s.doneOnce.Do(func() { close(s.done) })
	return err
}
