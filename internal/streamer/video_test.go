package streamer

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/webdro/pocketcam/pkg/codec"
	"github.com/webdro/pocketcam/pkg/frame"
)

type pipelineMock struct {
	mu        sync.Mutex
	starts    int
	stops     int
	failures  int
	submitted int
	settings  []codec.VideoSetting
	done      chan struct{}
}

func (p *pipelineMock) Start(s codec.VideoSetting) error {
	p.mu.Lock()
	defer p.mu.Unlock()

	p.starts++
	p.settings = append(p.settings, s)
	if p.failures > 0 {
		p.failures--
		return errors.New("address already in use")
	}
	p.done = make(chan struct{})
	return nil
}

func (p *pipelineMock) Stop() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.stops++
	return nil
}

func (p *pipelineMock) Done() <-chan struct{} {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.done
}

func (p *pipelineMock) Submit(frame.NV21) bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.submitted++
	return true
}

func (p *pipelineMock) lastSetting() codec.VideoSetting {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.settings[len(p.settings)-1]
}

// disconnect closes the current session the way a client leaving does.
func (p *pipelineMock) disconnect() {
	p.mu.Lock()
	defer p.mu.Unlock()
	close(p.done)
}

func (p *pipelineMock) counts() (int, int) {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.starts, p.stops
}

func feed(v *VideoSupervisor, width, height int) bool {
	return v.Submit(make(frame.NV21, frame.NV21Size(width, height)), width, height)
}

func superviseInBackground(t *testing.T, v *VideoSupervisor) (context.CancelFunc, <-chan error) {
	t.Helper()

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- v.Run(ctx) }()
	t.Cleanup(cancel)
	return cancel, done
}

func TestVideoSupervisorRestarts(t *testing.T) {
	p := &pipelineMock{}
	v := &VideoSupervisor{Pipeline: p, AutoRestart: true}
	cancel, done := superviseInBackground(t, v)
	feed(v, 16, 8)

	require.Eventually(t, func() bool { s, _ := p.counts(); return s == 1 }, time.Second, time.Millisecond)
	p.disconnect()
	require.Eventually(t, func() bool { s, _ := p.counts(); return s == 2 }, time.Second, time.Millisecond)
	p.disconnect()
	require.Eventually(t, func() bool { s, _ := p.counts(); return s == 3 }, time.Second, time.Millisecond)

	cancel()
	require.NoError(t, <-done)

	starts, stops := p.counts()
	assert.Equal(t, 3, starts)
	assert.Equal(t, 3, stops, "every session is stopped before the next one starts, the last on exit")
}

func TestVideoSupervisorNoRestart(t *testing.T) {
	p := &pipelineMock{}
	v := &VideoSupervisor{Pipeline: p}
	cancel, done := superviseInBackground(t, v)
	feed(v, 16, 8)

	require.Eventually(t, func() bool { s, _ := p.counts(); return s == 1 }, time.Second, time.Millisecond)
	p.disconnect()
	time.Sleep(20 * time.Millisecond)

	starts, stops := p.counts()
	assert.Equal(t, 1, starts)
	assert.Zero(t, stops, "a closed session stays around until shutdown")

	cancel()
	require.NoError(t, <-done)
	_, stops = p.counts()
	assert.Equal(t, 1, stops)
}

func TestVideoSupervisorStartFailure(t *testing.T) {
	p := &pipelineMock{failures: 1}
	v := &VideoSupervisor{Pipeline: p}
	_, done := superviseInBackground(t, v)
	feed(v, 16, 8)

	select {
	case err := <-done:
		assert.Error(t, err)
	case <-time.After(time.Second):
		t.Fatal("Run didn't give up")
	}
}

func TestVideoSupervisorRetriesStart(t *testing.T) {
	p := &pipelineMock{failures: 2}
	v := &VideoSupervisor{
		Pipeline:    p,
		AutoRestart: true,
		RetryDelay:  time.Millisecond,
	}
	cancel, done := superviseInBackground(t, v)
	feed(v, 16, 8)

	require.Eventually(t, func() bool { s, _ := p.counts(); return s == 3 }, time.Second, time.Millisecond)
	cancel()
	require.NoError(t, <-done)
}

func TestVideoSupervisorWaitsForFrame(t *testing.T) {
	p := &pipelineMock{}
	v := &VideoSupervisor{
		Pipeline: p,
		Setting:  codec.VideoSetting{Width: 640, Height: 480, BitRate: 500000, FrameRate: 30, KeyFrameInterval: 30},
	}
	cancel, done := superviseInBackground(t, v)

	time.Sleep(20 * time.Millisecond)
	starts, _ := p.counts()
	assert.Zero(t, starts, "nothing to size the encoder after yet")

	assert.False(t, feed(v, 16, 8), "the first frame only sizes the session")
	require.Eventually(t, func() bool { return v.Stats().Width == 16 }, time.Second, time.Millisecond)
	assert.Equal(t, codec.VideoSetting{Width: 16, Height: 8, BitRate: 500000, FrameRate: 30, KeyFrameInterval: 30}, p.lastSetting())

	cancel()
	require.NoError(t, <-done)
}

func TestVideoSupervisorFollowsFrameSize(t *testing.T) {
	p := &pipelineMock{}
	v := &VideoSupervisor{Pipeline: p}
	cancel, done := superviseInBackground(t, v)

	feed(v, 16, 8)
	require.Eventually(t, func() bool { return v.Stats().Width == 16 }, time.Second, time.Millisecond)
	assert.True(t, feed(v, 16, 8))

	// The source switched to a device with a bigger picture.
	assert.False(t, feed(v, 32, 16))
	require.Eventually(t, func() bool { return v.Stats().Width == 32 }, time.Second, time.Millisecond)
	assert.True(t, feed(v, 32, 16))

	starts, stops := p.counts()
	assert.Equal(t, 2, starts)
	assert.Equal(t, 1, stops)
	setting := p.lastSetting()
	assert.Equal(t, 32, setting.Width)
	assert.Equal(t, 16, setting.Height)

	st := v.Stats()
	assert.Equal(t, VideoStats{Width: 32, Height: 16, Restarts: 1, Resized: 2}, st)
	p.mu.Lock()
	assert.Equal(t, 2, p.submitted)
	p.mu.Unlock()

	cancel()
	require.NoError(t, <-done)
	assert.Zero(t, v.Stats().Width)
}
