package codec

import (
	"sync"
	"time"
)

// BitrateTracker measures the bit rate of the last windowSize worth of data.
// It is safe for concurrent use.
type BitrateTracker struct {
	windowSize time.Duration

	mu     sync.Mutex
	buffer []int
	times  []time.Time
	total  uint64
}

func NewBitrateTracker(windowSize time.Duration) *BitrateTracker {
	return &BitrateTracker{
		windowSize: windowSize,
	}
}

func (bt *BitrateTracker) AddFrame(sizeBytes int, timestamp time.Time) {
	bt.mu.Lock()
	defer bt.mu.Unlock()

	bt.buffer = append(bt.buffer, sizeBytes)
	bt.times = append(bt.times, timestamp)
	bt.total += uint64(sizeBytes)

	// Remove old entries outside the window
	cutoff := timestamp.Add(-bt.windowSize)
	i := 0
	for ; i < len(bt.times); i++ {
		if bt.times[i].After(cutoff) {
			break
		}
	}
	bt.buffer = bt.buffer[i:]
	bt.times = bt.times[i:]
}

// GetBitrate returns bits per second over the current window.
func (bt *BitrateTracker) GetBitrate() float64 {
	bt.mu.Lock()
	defer bt.mu.Unlock()

	if len(bt.times) < 2 {
		return 0
	}
	totalBytes := 0
	for _, b := range bt.buffer {
		totalBytes += b
	}
	duration := bt.times[len(bt.times)-1].Sub(bt.times[0]).Seconds()
	if duration <= 0 {
		return 0
	}
	return float64(totalBytes*8) / duration
}

// TotalBytes returns everything ever added, window or not.
func (bt *BitrateTracker) TotalBytes() uint64 {
	bt.mu.Lock()
	defer bt.mu.Unlock()
	return bt.total
}

// Reset forgets all samples.
func (bt *BitrateTracker) Reset() {
	bt.mu.Lock()
	defer bt.mu.Unlock()

	bt.buffer = bt.buffer[:0]
	bt.times = bt.times[:0]
	bt.total = 0
}
