package videotest

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/webdro/pocketcam/pkg/driver"
	"github.com/webdro/pocketcam/pkg/frame"
)

func TestCapture(t *testing.T) {
	src, err := New(driver.Property{Width: 64, Height: 48, FrameRate: 100})
	require.NoError(t, err)
	require.NoError(t, src.Open())
	defer src.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()

	var frames []frame.NV21
	var last time.Duration
	err = src.Capture(ctx, func(f *frame.RawFrame) {
		assert.Equal(t, frame.FormatYUV420888, f.Format)
		assert.Len(t, f.Planes, 3)
		assert.Greater(t, f.Planes[0].RowStride, f.Width, "rows are padded")
		assert.GreaterOrEqual(t, f.Timestamp, last)
		last = f.Timestamp

		out, err := frame.Repack(f)
		require.NoError(t, err)
		frames = append(frames, out)
		if len(frames) == 3 {
			cancel()
		}
	})
	require.NoError(t, err)
	require.Len(t, frames, 3)

	ySize := 64 * 48
	out := frames[0]
	assert.Len(t, out, frame.NV21Size(64, 48))
	assert.Equal(t, byte(235*75/100), out[0], "white bar luma")
	// x=10 falls in the yellow bar: Cb 16, Cr 146.
	assert.Equal(t, byte(146), out[ySize+2*5], "V")
	assert.Equal(t, byte(16), out[ySize+2*5+1], "U")
	// Last chroma sample of the last row is still inside the short buffer.
	assert.Equal(t, byte(128), out[len(out)-1])
}

func TestCaptureClock(t *testing.T) {
	const width, height = 320, 240
	src, err := New(driver.Property{Width: width, Height: height, FrameRate: 100})
	require.NoError(t, err)
	require.NoError(t, src.Open())
	defer src.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()

	var out frame.NV21
	err = src.Capture(ctx, func(f *frame.RawFrame) {
		out, err = frame.Repack(f)
		cancel()
	})
	require.NoError(t, err)
	require.NotNil(t, out)

	// The gradation below the bars never reaches full white, the clock does.
	white := 0
	for y := height - 13; y < height; y++ {
		for x := 0; x < width*5/7; x++ {
			if out[y*width+x] == 255 {
				white++
			}
		}
	}
	assert.NotZero(t, white)
}

func TestCaptureStopsOnClose(t *testing.T) {
	src, err := New(driver.Property{Width: 16, Height: 16, FrameRate: 50})
	require.NoError(t, err)
	require.NoError(t, src.Open())

	done := make(chan error, 1)
	go func() {
		done <- src.Capture(context.Background(), func(*frame.RawFrame) {})
	}()
	time.Sleep(30 * time.Millisecond)
	require.NoError(t, src.Close())

	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(time.Second):
		t.Fatal("Capture kept running after Close")
	}
}

func TestRegistered(t *testing.T) {
	d, err := driver.Manager.New(Name, "", driver.Property{Width: 32, Height: 24})
	require.NoError(t, err)
	assert.Equal(t, driver.Synthetic, d.Info().DeviceType)

	_, err = New(driver.Property{Width: 31, Height: 24})
	assert.Error(t, err)
}
