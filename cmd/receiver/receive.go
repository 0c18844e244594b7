package main

import (
	"context"
	"errors"
	"fmt"
	"image"
	"image/jpeg"
	"io"
	"os"
	"path/filepath"
	"time"

	"github.com/mattn/go-mjpeg"

	"github.com/webdro/pocketcam/pkg/codec"
)

type videoStats struct {
	AccessUnits int
	KeyFrames   int
	Bytes       uint64
	BitRate     float64
}

func (s videoStats) String() string {
	return fmt.Sprintf("%d access units, %d key frames, %d bytes, %.0f bps",
		s.AccessUnits, s.KeyFrames, s.Bytes, s.BitRate)
}

// receiveVideo splits r into access units until EOF or limit units, copying
// the raw stream to out when it isn't nil.
func receiveVideo(r io.Reader, out io.Writer, limit int, interval time.Duration, report func(videoStats)) (videoStats, error) {
	if out != nil {
		r = io.TeeReader(r, out)
	}
	var st videoStats
	aur, err := codec.NewAccessUnitReader(r)
	if err != nil {
		return st, err
	}
	tracker := codec.NewBitrateTracker(interval)

	last := time.Now()
	for limit <= 0 || st.AccessUnits < limit {
		au, err := aur.Next()
		if err != nil {
			st.Bytes, st.BitRate = tracker.TotalBytes(), tracker.GetBitrate()
			if errors.Is(err, io.EOF) {
				return st, nil
			}
			return st, err
		}

		now := time.Now()
		tracker.AddFrame(len(au.Data), now)
		st.AccessUnits++
		if au.KeyFrame {
			st.KeyFrames++
		}
		if interval > 0 && now.Sub(last) >= interval {
			last = now
			st.Bytes, st.BitRate = tracker.TotalBytes(), tracker.GetBitrate()
			report(st)
		}
	}
	st.Bytes, st.BitRate = tracker.TotalBytes(), tracker.GetBitrate()
	return st, nil
}

type mjpegStats struct {
	Frames int
	Size   image.Point
}

func (s mjpegStats) String() string {
	return fmt.Sprintf("%d frames of %dx%d", s.Frames, s.Size.X, s.Size.Y)
}

// receiveMJPEG decodes the multipart stream at url and keeps the latest frame
// in snapshot, replacing the file atomically.
func receiveMJPEG(ctx context.Context, url, snapshot string, limit int, interval time.Duration, report func(mjpegStats)) (mjpegStats, error) {
	var st mjpegStats
	dec, err := mjpeg.NewDecoderFromURL(url)
	if err != nil {
		return st, err
	}

	last := time.Now()
	for limit <= 0 || st.Frames < limit {
		if ctx.Err() != nil {
			return st, nil
		}
		img, err := dec.Decode()
		if err != nil {
			if errors.Is(err, io.EOF) {
				return st, nil
			}
			return st, err
		}
		st.Frames++
		st.Size = img.Bounds().Size()

		if snapshot != "" {
			if err := saveJPEG(snapshot, img); err != nil {
				return st, err
			}
		}
		if now := time.Now(); interval > 0 && now.Sub(last) >= interval {
			last = now
			report(st)
		}
	}
	return st, nil
}

func saveJPEG(path string, img image.Image) error {
	tmp, err := os.CreateTemp(filepath.Dir(path), ".snapshot-*.jpg")
	if err != nil {
		return err
	}
	defer os.Remove(tmp.Name())

	if err := jpeg.Encode(tmp, img, &jpeg.Options{Quality: 90}); err != nil {
		tmp.Close()
		return err
	}
	if err := tmp.Close(); err != nil {
		return err
	}
	return os.Rename(tmp.Name(), path)
}
