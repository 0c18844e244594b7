package streamer

import "time"

// throttle drops frames that arrive faster than a given rate. It is only used
// from the capture goroutine.
type throttle struct {
	interval time.Duration
	next     time.Time
}

// newThrottle returns nil, which lets every frame through, for rate <= 0.
func newThrottle(rate float32) *throttle {
	if rate <= 0 {
		return nil
	}
	return &throttle{interval: time.Duration(float64(time.Second) / float64(rate))}
}

func (t *throttle) allow(now time.Time) bool {
	if t == nil {
		return true
	}
	if now.Before(t.next) {
		return false
	}
	t.next = t.next.Add(t.interval)
	// After a stall, restart the cadence instead of letting a burst through.
	if t.next.Before(now) {
		t.next = now.Add(t.interval)
	}
	return true
}
