package videostream

import (
	"bytes"
	"context"
	"errors"
	"io"
	"math/rand"
	"net"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/webdro/pocketcam/pkg/codec"
	"github.com/webdro/pocketcam/pkg/frame"
	"github.com/webdro/pocketcam/pkg/framebus"
	"github.com/webdro/pocketcam/pkg/mjpeg"
)

var testSetting = codec.VideoSetting{
	Width:            4,
	Height:           2,
	BitRate:          100000,
	FrameRate:        30,
	KeyFrameInterval: 30,
}

// fakeEncoder hands out queued access units, optionally inventing new ones
// forever, and records every submitted frame.
type fakeEncoder struct {
	mu     sync.Mutex
	inputs [][]byte

	refuse    atomic.Bool
	out       chan codec.AccessUnit
	endless   []byte
	maxJitter time.Duration

	closed    chan struct{}
	closeOnce sync.Once
}

func newFakeEncoder(aus ...codec.AccessUnit) *fakeEncoder {
	e := &fakeEncoder{
		out:    make(chan codec.AccessUnit, len(aus)+1),
		closed: make(chan struct{}),
	}
	for _, au := range aus {
		e.out <- au
	}
	return e
}

func (e *fakeEncoder) SubmitInput(buf []byte, _ time.Duration, _ time.Duration) bool {
	select {
	case <-e.closed:
		return false
	default:
	}
	if e.refuse.Load() {
		return false
	}
	e.mu.Lock()
	e.inputs = append(e.inputs, buf)
	e.mu.Unlock()
	return true
}

func (e *fakeEncoder) PollOutput(timeout time.Duration) (codec.AccessUnit, bool, error) {
	if e.maxJitter > 0 {
		time.Sleep(time.Duration(rand.Int63n(int64(e.maxJitter))))
	}
	if e.endless != nil {
		select {
		case <-e.closed:
			return codec.AccessUnit{}, false, codec.ErrEncoderClosed
		default:
			return codec.AccessUnit{Data: e.endless}, true, nil
		}
	}

	timer := time.NewTimer(timeout)
	defer timer.Stop()
	select {
	case au := <-e.out:
		return au, true, nil
	case <-timer.C:
		return codec.AccessUnit{}, false, nil
	case <-e.closed:
		return codec.AccessUnit{}, false, codec.ErrEncoderClosed
	}
}

func (e *fakeEncoder) Close() error {
	e.closeOnce.Do(func() { close(e.closed) })
	return nil
}

func (e *fakeEncoder) isClosed() bool {
	select {
	case <-e.closed:
		return true
	default:
		return false
	}
}

func (e *fakeEncoder) submitted() int {
	e.mu.Lock()
	defer e.mu.Unlock()
	return len(e.inputs)
}

func newTestPipeline(encoders ...*fakeEncoder) (*Pipeline, *atomic.Int32) {
	var built atomic.Int32
	p := New(Config{
		Addr: "127.0.0.1:0",
		Builder: func(s codec.VideoSetting) (codec.VideoEncoder, error) {
			n := int(built.Add(1)) - 1
			if n >= len(encoders) {
				return nil, errors.New("no more encoders")
			}
			return encoders[n], nil
		},
		WriteTimeout: time.Second,
	})
	return p, &built
}

func dial(t *testing.T, p *Pipeline) net.Conn {
	t.Helper()
	conn, err := net.Dial("tcp", p.Addr().String())
	require.NoError(t, err)
	return conn
}

func waitState(t *testing.T, p *Pipeline, want State) {
	t.Helper()
	require.Eventually(t, func() bool { return p.State() == want }, 2*time.Second, time.Millisecond,
		"state is %v, want %v", p.State(), want)
}

func nv21() frame.NV21 {
	return make(frame.NV21, frame.NV21Size(testSetting.Width, testSetting.Height))
}

func TestSubmitWhileIdle(t *testing.T) {
	p, built := newTestPipeline()

	assert.Equal(t, Idle, p.State())
	assert.False(t, p.Submit(nv21()))
	assert.False(t, p.Submit(nil))
	assert.Nil(t, p.Addr())
	assert.NoError(t, p.Stop())
	assert.Equal(t, Idle, p.State())
	assert.Zero(t, built.Load())

	select {
	case <-p.Done():
	default:
		t.Error("Done must be closed without a session")
	}
}

func TestStartTwice(t *testing.T) {
	p, _ := newTestPipeline(newFakeEncoder(), newFakeEncoder())
	require.NoError(t, p.Start(testSetting))
	defer p.Stop()

	assert.ErrorIs(t, p.Start(testSetting), ErrNotIdle)
	assert.Equal(t, WaitingForClient, p.State())
}

func TestConfigurationError(t *testing.T) {
	t.Run("Encoder", func(t *testing.T) {
		p, _ := newTestPipeline()
		err := p.Start(testSetting)

		var cerr *ConfigurationError
		require.True(t, errors.As(err, &cerr), "got %v", err)
		assert.Equal(t, "encoder", cerr.Op)
		assert.Equal(t, Idle, p.State())
	})
	t.Run("UnknownEncoder", func(t *testing.T) {
		p := New(Config{Addr: "127.0.0.1:0", Encoder: "does-not-exist"})
		err := p.Start(testSetting)
		assert.ErrorIs(t, err, codec.ErrUnknownEncoder)
		assert.Equal(t, Idle, p.State())
	})
	t.Run("Listen", func(t *testing.T) {
		taken, err := net.Listen("tcp", "127.0.0.1:0")
		require.NoError(t, err)
		defer taken.Close()

		enc := newFakeEncoder()
		p := New(Config{
			Addr:    taken.Addr().String(),
			Builder: func(codec.VideoSetting) (codec.VideoEncoder, error) { return enc, nil },
		})
		err = p.Start(testSetting)

		var cerr *ConfigurationError
		require.True(t, errors.As(err, &cerr), "got %v", err)
		assert.Equal(t, "listen", cerr.Op)
		assert.Equal(t, Idle, p.State())
		assert.True(t, enc.isClosed(), "the encoder of a failed start must be released")
	})
}

func TestSubmitBeforeClient(t *testing.T) {
	enc := newFakeEncoder()
	p, _ := newTestPipeline(enc)
	require.NoError(t, p.Start(testSetting))
	defer p.Stop()

	assert.Equal(t, WaitingForClient, p.State())
	assert.True(t, p.Submit(nv21()))
	assert.Equal(t, 1, enc.submitted())

	enc.refuse.Store(true)
	assert.False(t, p.Submit(nv21()), "a full encoder drops the frame")
	stats := p.Stats()
	assert.Equal(t, uint64(1), stats.Submitted)
	assert.Equal(t, uint64(1), stats.Dropped)
}

func TestSubmitWrongSize(t *testing.T) {
	enc := newFakeEncoder()
	p, _ := newTestPipeline(enc)
	require.NoError(t, p.Start(testSetting))
	defer p.Stop()

	big := make(frame.NV21, frame.NV21Size(8, 4))
	for i := 0; i < 3; i++ {
		assert.False(t, p.Submit(big))
	}
	assert.True(t, p.Submit(nv21()))

	assert.Equal(t, 1, enc.submitted(), "wrongly sized frames never reach the encoder")
	stats := p.Stats()
	assert.Equal(t, uint64(3), stats.Mismatched)
	assert.Zero(t, stats.Dropped)
	assert.Equal(t, uint64(1), stats.Submitted)
}

func TestDrainOrder(t *testing.T) {
	o1 := codec.AccessUnit{Data: []byte{0, 0, 0, 1, 0x67, 0x01}, KeyFrame: true}
	o2 := codec.AccessUnit{Data: []byte{0, 0, 0, 1, 0x41, 0x02}}
	o3 := codec.AccessUnit{Data: []byte{0, 0, 0, 1, 0x41, 0x03}}
	enc := newFakeEncoder(o1, o2, o3)
	enc.maxJitter = 15 * time.Millisecond

	p, _ := newTestPipeline(enc)
	require.NoError(t, p.Start(testSetting))
	defer p.Stop()

	conn := dial(t, p)
	defer conn.Close()
	waitState(t, p, Streaming)

	want := bytes.Join([][]byte{o1.Data, o2.Data, o3.Data}, nil)
	got := make([]byte, len(want))
	require.NoError(t, conn.SetReadDeadline(time.Now().Add(2*time.Second)))
	_, err := io.ReadFull(conn, got)
	require.NoError(t, err)
	assert.Equal(t, want, got, "access units must reach the client in emission order")

	require.Eventually(t, func() bool { return p.Stats().AccessUnits == 3 }, time.Second, time.Millisecond)
	stats := p.Stats()
	assert.Equal(t, uint64(1), stats.KeyFrames)
	assert.Equal(t, uint64(len(want)), stats.BytesSent)
	assert.Equal(t, conn.LocalAddr().String(), stats.Client)
}

func TestSocketFailureLeavesMJPEGRunning(t *testing.T) {
	enc := newFakeEncoder()
	enc.endless = bytes.Repeat([]byte{0xAB}, 64*1024)

	p, _ := newTestPipeline(enc)
	require.NoError(t, p.Start(testSetting))
	defer p.Stop()

	bus := framebus.New()
	session := mjpeg.NewSession(context.Background(), bus)
	defer session.Close()

	conn := dial(t, p)
	waitState(t, p, Streaming)
	require.NoError(t, conn.Close())

	select {
	case <-p.Done():
	case <-time.After(5 * time.Second):
		t.Fatal("video session did not notice the lost client")
	}
	assert.Equal(t, Closed, p.State())
	assert.False(t, enc.isClosed(), "the encoder keeps running until Stop")

	assert.NotPanics(t, func() {
		assert.False(t, p.Submit(nv21()))
	})

	for i := 0; i < 3; i++ {
		bus.Publish([]byte{byte(i)})
		ctx, cancel := context.WithTimeout(context.Background(), time.Second)
		chunk, err := session.NextChunk(ctx)
		cancel()
		require.NoError(t, err)
		assert.Equal(t, mjpeg.Packet([]byte{byte(i)}), chunk)
	}

	require.NoError(t, p.Stop())
	assert.Equal(t, Idle, p.State())
	assert.True(t, enc.isClosed())
}

func TestRestart(t *testing.T) {
	first := newFakeEncoder()
	second := newFakeEncoder(codec.AccessUnit{Data: []byte{0, 0, 0, 1, 0x65}, KeyFrame: true})
	p, built := newTestPipeline(first, second)

	require.NoError(t, p.Start(testSetting))
	firstAddr := p.Addr().String()
	conn := dial(t, p)
	waitState(t, p, Streaming)
	require.True(t, p.Submit(nv21()))

	require.NoError(t, p.Stop())
	assert.Equal(t, Idle, p.State())
	assert.True(t, first.isClosed())
	conn.Close()

	_, err := net.DialTimeout("tcp", firstAddr, 100*time.Millisecond)
	assert.Error(t, err, "the old listener must be released")

	require.NoError(t, p.Start(testSetting))
	defer p.Stop()
	assert.Equal(t, int32(2), built.Load())
	assert.Equal(t, WaitingForClient, p.State())
	assert.Zero(t, second.submitted(), "frames do not survive a restart")

	conn = dial(t, p)
	defer conn.Close()
	got := make([]byte, 5)
	require.NoError(t, conn.SetReadDeadline(time.Now().Add(2*time.Second)))
	_, err = io.ReadFull(conn, got)
	require.NoError(t, err)
	assert.Equal(t, []byte{0, 0, 0, 1, 0x65}, got)
	assert.Equal(t, uint64(2), p.Stats().Sessions)
}

func TestSecondClientRejected(t *testing.T) {
	enc := newFakeEncoder()
	enc.endless = []byte{0, 0, 0, 1, 0x41, 0x9a}

	p, _ := newTestPipeline(enc)
	require.NoError(t, p.Start(testSetting))
	defer p.Stop()

	first := dial(t, p)
	defer first.Close()
	waitState(t, p, Streaming)

	second := dial(t, p)
	defer second.Close()
	require.NoError(t, second.SetReadDeadline(time.Now().Add(2*time.Second)))
	n, err := second.Read(make([]byte, 16))
	assert.Zero(t, n)
	require.Error(t, err)
	var netErr net.Error
	if errors.As(err, &netErr) {
		assert.False(t, netErr.Timeout(), "the second client must be turned away, not left hanging")
	}
	require.Eventually(t, func() bool { return p.Stats().RejectedClients == 1 }, time.Second, time.Millisecond)

	require.NoError(t, first.SetReadDeadline(time.Now().Add(2*time.Second)))
	_, err = io.ReadFull(first, make([]byte, 64))
	assert.NoError(t, err, "the first client keeps streaming")
	assert.Equal(t, Streaming, p.State())
}

func TestStopDuringDrain(t *testing.T) {
	enc := newFakeEncoder()
	enc.endless = []byte{0, 0, 0, 1, 0x41}

	p, _ := newTestPipeline(enc)
	require.NoError(t, p.Start(testSetting))

	conn := dial(t, p)
	defer conn.Close()
	waitState(t, p, Streaming)
	go io.Copy(io.Discard, conn)

	var wg sync.WaitGroup
	stop := make(chan struct{})
	wg.Add(1)
	go func() {
		defer wg.Done()
		for {
			select {
			case <-stop:
				return
			default:
				p.Submit(nv21())
			}
		}
	}()

	time.Sleep(20 * time.Millisecond)
	done := make(chan error, 1)
	go func() { done <- p.Stop() }()
	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(2 * time.Second):
		t.Fatal("Stop blocked on an in-flight drain")
	}
	close(stop)
	wg.Wait()

	assert.Equal(t, Idle, p.State())
	assert.False(t, p.Submit(nv21()))
}

func TestStateString(t *testing.T) {
	for s, want := range map[State]string{
		Idle:             "idle",
		Configuring:      "configuring",
		WaitingForClient: "waiting",
		Streaming:        "streaming",
		Closed:           "closed",
		State(42):        "state(42)",
	} {
		assert.Equal(t, want, s.String())
	}
}
