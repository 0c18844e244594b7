// Package codec holds helpers for inspecting encoded streams.
package codec

import (
	"errors"
	"io"
	"time"
)

// Measurement is the result of reading a stream for a while.
type Measurement struct {
	Bytes   int
	Elapsed time.Duration
}

// BitRate returns the average bits per second.
func (m Measurement) BitRate() float64 {
	if m.Elapsed <= 0 {
		return 0
	}
	return float64(m.Bytes*8) / m.Elapsed.Seconds()
}

// MeasureBitRate reads r as fast as possible for dur, or until EOF, and reports
// how much came through.
func MeasureBitRate(r io.Reader, dur time.Duration) (Measurement, error) {
	var m Measurement
	buf := make([]byte, 4096)
	start := time.Now()
	now := start
	end := now.Add(dur)
	for now.Before(end) {
		n, err := r.Read(buf)
		m.Bytes += n
		if err != nil {
			if errors.Is(err, io.EOF) {
				break
			}
			m.Elapsed = time.Since(start)
			return m, err
		}
		now = time.Now()
	}

	m.Elapsed = time.Since(start)
	return m, nil
}
