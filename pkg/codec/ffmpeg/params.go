package ffmpeg

import (
	"fmt"
	"strconv"

	"github.com/google/shlex"

	"github.com/webdro/pocketcam/pkg/codec"
)

// Params configures the ffmpeg process.
type Params struct {
	// Path to the ffmpeg binary, "ffmpeg" when empty.
	Path string
	// Codec is the value of -c:v, libx264 when empty.
	Codec string
	// Preset is passed as -preset when set.
	Preset string
	// ExtraArgs are inserted in front of the output options, split the way a
	// shell would.
	ExtraArgs string
	// InputSlots is how many frames may wait for the process before
	// SubmitInput starts waiting.
	InputSlots int
	// OutputSlots is how many access units may wait for PollOutput.
	OutputSlots int
}

// DefaultParams returns software H.264 tuned for latency.
func DefaultParams() Params {
	return Params{
		Path:        "ffmpeg",
		Codec:       "libx264",
		Preset:      "ultrafast",
		InputSlots:  2,
		OutputSlots: 8,
	}
}

// BuildVideoEncoder starts an ffmpeg process for s.
func (p Params) BuildVideoEncoder(s codec.VideoSetting) (codec.VideoEncoder, error) {
	return newEncoder(p, s)
}

// Args returns the ffmpeg command line for s, without the binary.
func (p Params) Args(s codec.VideoSetting) ([]string, error) {
	extra, err := shlex.Split(p.ExtraArgs)
	if err != nil {
		return nil, fmt.Errorf("ffmpeg: invalid extra args %q: %w", p.ExtraArgs, err)
	}

	videoCodec := p.Codec
	if videoCodec == "" {
		videoCodec = "libx264"
	}
	bitRate := strconv.Itoa(s.BitRate)

	args := []string{
		"-hide_banner", "-nostdin", "-loglevel", "warning",
		"-f", "rawvideo",
		"-pix_fmt", "nv21",
		"-video_size", fmt.Sprintf("%dx%d", s.Width, s.Height),
		"-framerate", strconv.FormatFloat(float64(s.FrameRate), 'f', -1, 32),
		"-i", "pipe:0",
		"-an",
		"-c:v", videoCodec,
	}
	if p.Preset != "" {
		args = append(args, "-preset", p.Preset)
	}
	if videoCodec == "libx264" {
		args = append(args, "-tune", "zerolatency", "-profile:v", "baseline")
	}
	args = append(args,
		"-pix_fmt", "yuv420p",
		"-b:v", bitRate,
		"-maxrate", bitRate,
		"-bufsize", bitRate,
		"-g", strconv.Itoa(s.KeyFrameInterval),
		"-bf", "0",
	)
	args = append(args, extra...)
	// dump_extra repeats SPS/PPS in front of every key frame so a client that
	// joins late can start decoding at the next one.
	args = append(args, "-bsf:v", "dump_extra", "-f", "h264", "pipe:1")
	return args, nil
}

func (p Params) path() string {
	if p.Path == "" {
		return "ffmpeg"
	}
	return p.Path
}

func (p Params) inputSlots() int {
	if p.InputSlots <= 0 {
		return 1
	}
	return p.InputSlots
}

func (p Params) outputSlots() int {
	if p.OutputSlots <= 0 {
		return 1
	}
	return p.OutputSlots
}
