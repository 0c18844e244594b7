// Package videostream pushes H.264 produced from submitted NV21 frames to a
// single TCP client as a raw Annex-B byte stream.
package videostream

import (
	"net"
	"sync"
	"sync/atomic"
	"time"

	"github.com/pion/logging"

	ilogging "github.com/webdro/pocketcam/internal/logging"
	"github.com/webdro/pocketcam/pkg/codec"
	"github.com/webdro/pocketcam/pkg/frame"
)

const (
	DefaultAddr          = ":8081"
	DefaultSubmitTimeout = 10 * time.Millisecond
	DefaultPollTimeout   = 10 * time.Millisecond

	bitrateWindow = 2 * time.Second
)

// Config describes how sessions are built.
type Config struct {
	// Addr is the TCP listen address.
	Addr string
	// Encoder names a registered codec.VideoEncoderBuilder. Builder, when set,
	// takes precedence.
	Encoder string
	Builder codec.VideoEncoderBuilder
	// SubmitTimeout bounds the wait for a free encoder input slot.
	SubmitTimeout time.Duration
	// PollTimeout bounds each wait for encoder output.
	PollTimeout time.Duration
	// WriteTimeout bounds each socket write, zero disables it.
	WriteTimeout time.Duration
}

// Stats is a snapshot of pipeline counters. Counters accumulate across
// sessions.
type Stats struct {
	State           string `json:"state"`
	Client          string `json:"client,omitempty"`
	Sessions        uint64 `json:"sessions"`
	Submitted       uint64 `json:"submitted"`
	Dropped         uint64 `json:"dropped"`
	Mismatched      uint64 `json:"mismatched"`
	AccessUnits     uint64 `json:"accessUnits"`
	KeyFrames       uint64 `json:"keyFrames"`
	BytesSent       uint64 `json:"bytesSent"`
	RejectedClients uint64 `json:"rejectedClients"`
	// BitRate is the bits per second sent over the last two seconds.
	BitRate float64 `json:"bitRate"`
}

// Pipeline owns at most one session at a time: an encoder, a listener and at
// most one client connection. Sessions are never reused; Stop discards one and
// Start builds the next from scratch.
type Pipeline struct {
	cfg Config
	log logging.LeveledLogger

	// mu serializes Start and Stop. Submit and the session goroutines never
	// take it.
	mu      sync.Mutex
	state   atomic.Int32
	session atomic.Pointer[session]

	sessions    atomic.Uint64
	submitted   atomic.Uint64
	dropped     atomic.Uint64
	mismatched  atomic.Uint64
	accessUnits atomic.Uint64
	keyFrames   atomic.Uint64
	bytesSent   atomic.Uint64
	rejected    atomic.Uint64
	bitrate     *codec.BitrateTracker
}

// New returns an Idle pipeline.
func New(cfg Config) *Pipeline {
	if cfg.Addr == "" {
		cfg.Addr = DefaultAddr
	}
	if cfg.SubmitTimeout <= 0 {
		cfg.SubmitTimeout = DefaultSubmitTimeout
	}
	if cfg.PollTimeout <= 0 {
		cfg.PollTimeout = DefaultPollTimeout
	}
	return &Pipeline{
		cfg:     cfg,
		log:     ilogging.NewLogger("videostream"),
		bitrate: codec.NewBitrateTracker(bitrateWindow),
	}
}

// State returns the current state.
func (p *Pipeline) State() State {
	return State(p.state.Load())
}

// Start builds a fresh encoder for s, starts listening and waits for a client
// in the background. A failure leaves the pipeline Idle.
func (p *Pipeline) Start(s codec.VideoSetting) error {
	p.mu.Lock()
	defer p.mu.Unlock()

	if !p.state.CompareAndSwap(int32(Idle), int32(Configuring)) {
		return ErrNotIdle
	}

	builder := p.cfg.Builder
	if builder == nil {
		b, err := codec.Lookup(p.cfg.Encoder)
		if err != nil {
			p.state.Store(int32(Idle))
			return &ConfigurationError{Op: "encoder", Err: err}
		}
		builder = b
	}

	enc, err := builder(s)
	if err != nil {
		p.state.Store(int32(Idle))
		return &ConfigurationError{Op: "encoder", Err: err}
	}

	ln, err := net.Listen("tcp", p.cfg.Addr)
	if err != nil {
		if cerr := enc.Close(); cerr != nil {
			p.log.Warnf("failed to close encoder: %v", cerr)
		}
		p.state.Store(int32(Idle))
		return &ConfigurationError{Op: "listen", Err: err}
	}

	sess := newSession(p, s, enc, ln)
	p.session.Store(sess)
	p.sessions.Add(1)
	p.state.Store(int32(WaitingForClient))
	p.log.Infof("listening for a video client on %s (%dx%d@%v, %d bps)",
		ln.Addr(), s.Width, s.Height, s.FrameRate, s.BitRate)

	sess.wg.Add(1)
	go sess.acceptLoop()
	return nil
}

// Submit hands buf to the encoder without blocking longer than the submit
// timeout. It reports whether the encoder took the frame. Outside of a live
// session, and for frames not sized for the session encoder, it returns false.
func (p *Pipeline) Submit(buf frame.NV21) bool {
	sess := p.session.Load()
	if sess == nil || !sess.live() {
		return false
	}
	switch p.State() {
	case WaitingForClient, Streaming:
	default:
		return false
	}

	if want := frame.NV21Size(sess.setting.Width, sess.setting.Height); len(buf) != want {
		p.mismatched.Add(1)
		if sess.mismatchLogged.CompareAndSwap(false, true) {
			p.log.Warnf("dropping frames of %d bytes, the %dx%d encoder takes %d",
				len(buf), sess.setting.Width, sess.setting.Height, want)
		}
		return false
	}
	if !sess.encoder.SubmitInput(buf, time.Since(sess.started), p.cfg.SubmitTimeout) {
		p.dropped.Add(1)
		return false
	}
	p.submitted.Add(1)
	return true
}

// Stop releases the session, if any, and returns to Idle. It is safe to call
// from any state and concurrently with Submit.
func (p *Pipeline) Stop() error {
	p.mu.Lock()
	defer p.mu.Unlock()

	sess := p.session.Swap(nil)
	if sess == nil {
		p.state.Store(int32(Idle))
		return nil
	}

	err := sess.shutdown()
	p.state.Store(int32(Idle))
	p.log.Infof("video session stopped")
	return err
}

// Addr returns the listening address of the current session, nil when there is
// none.
func (p *Pipeline) Addr() net.Addr {
	if sess := p.session.Load(); sess != nil {
		return sess.listener.Addr()
	}
	return nil
}

// Done returns a channel closed once the current session is Closed or stopped.
// Without a session the returned channel is already closed.
func (p *Pipeline) Done() <-chan struct{} {
	if sess := p.session.Load(); sess != nil {
		return sess.done
	}
	ch := make(chan struct{})
	close(ch)
	return ch
}

// Stats returns a snapshot of the counters.
func (p *Pipeline) Stats() Stats {
	st := Stats{
		State:           p.State().String(),
		Sessions:        p.sessions.Load(),
		Submitted:       p.submitted.Load(),
		Dropped:         p.dropped.Load(),
		Mismatched:      p.mismatched.Load(),
		AccessUnits:     p.accessUnits.Load(),
		KeyFrames:       p.keyFrames.Load(),
		BytesSent:       p.bytesSent.Load(),
		RejectedClients: p.rejected.Load(),
		BitRate:         p.bitrate.GetBitrate(),
	}
	if sess := p.session.Load(); sess != nil {
		st.Client = sess.clientAddr()
	}
	return st
}

// transition moves the state from -> to unless the session is no longer the
// live one.
func (p *Pipeline) transition(sess *session, from, to State) bool {
	if !sess.live() || p.session.Load() != sess {
		return false
	}
	return p.state.CompareAndSwap(int32(from), int32(to))
}
