// Package config reads the server configuration from the environment and an
// optional .env file.
package config

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/google/shlex"
	"github.com/joho/godotenv"
)

// Config is the server configuration.
type Config struct {
	HTTPAddr  string
	VideoAddr string

	Source        string
	CameraDevices []string
	Command       string // command line of the command source
	Width         int
	Height        int
	FrameRate     float64
	MaxFrameRate  float64

	JPEGQuality  int
	JPEGMaxWidth int

	VideoEnabled     bool
	VideoAutoRestart bool
	Encoder          string
	BitRate          int
	KeyFrameInterval int // frames
	FFmpegPath       string
	FFmpegCodec      string
	FFmpegArgs       string
	SubmitTimeout    time.Duration
	PollTimeout      time.Duration
	WriteTimeout     time.Duration

	LogLevel      string
	StatsSchedule string
}

// Load reads envFile when it exists, then the environment. Variables already
// set in the environment win over the file.
func Load(envFile string) (*Config, error) {
	if envFile != "" {
		if err := godotenv.Load(envFile); err != nil && !errors.Is(err, fs.ErrNotExist) {
			return nil, fmt.Errorf("config: %s: %w", envFile, err)
		}
	}

	frameRate := getEnvAsFloat("FRAME_RATE", 30)

	c := &Config{
		HTTPAddr:  getEnv("HTTP_ADDR", ":8080"),
		VideoAddr: getEnv("VIDEO_ADDR", ":8081"),

		Source:        getEnv("SOURCE", "videotest"),
		CameraDevices: getEnvAsList("CAMERA_DEVICES", []string{"/dev/video0"}),
		Command:       getEnv("COMMAND", ""),
		Width:         getEnvAsInt("WIDTH", 640),
		Height:        getEnvAsInt("HEIGHT", 480),
		FrameRate:     frameRate,
		MaxFrameRate:  getEnvAsFloat("MAX_FRAME_RATE", 0),

		JPEGQuality:  getEnvAsInt("JPEG_QUALITY", 60),
		JPEGMaxWidth: getEnvAsInt("JPEG_MAX_WIDTH", 0),

		VideoEnabled:     getEnvAsBool("VIDEO_ENABLED", true),
		VideoAutoRestart: getEnvAsBool("VIDEO_AUTO_RESTART", true),
		Encoder:          getEnv("ENCODER", "ffmpeg"),
		BitRate:          getEnvAsInt("BITRATE", 2000000),
		KeyFrameInterval: getEnvAsInt("KEYFRAME_INTERVAL", int(frameRate+0.5)), // one second
		FFmpegPath:       getEnv("FFMPEG_PATH", "ffmpeg"),
		FFmpegCodec:      getEnv("FFMPEG_CODEC", "libx264"),
		FFmpegArgs:       getEnv("FFMPEG_ARGS", ""),
		SubmitTimeout:    getEnvAsDuration("SUBMIT_TIMEOUT", 10*time.Millisecond),
		PollTimeout:      getEnvAsDuration("POLL_TIMEOUT", 10*time.Millisecond),
		WriteTimeout:     getEnvAsDuration("WRITE_TIMEOUT", 5*time.Second),

		LogLevel:      getEnv("LOG_LEVEL", "info"),
		StatsSchedule: getEnv("STATS_SCHEDULE", "@every 30s"),
	}
	if err := c.Validate(); err != nil {
		return nil, err
	}
	return c, nil
}

// Validate checks the values Load can't fix up by itself.
func (c *Config) Validate() error {
	var errs []error
	if c.Width <= 0 || c.Height <= 0 || c.Width%2 != 0 || c.Height%2 != 0 {
		errs = append(errs, fmt.Errorf("size %dx%d must be positive and even", c.Width, c.Height))
	}
	if c.FrameRate <= 0 {
		errs = append(errs, fmt.Errorf("frame rate %v must be positive", c.FrameRate))
	}
	if c.MaxFrameRate < 0 {
		errs = append(errs, fmt.Errorf("max frame rate %v must not be negative", c.MaxFrameRate))
	}
	if c.Source == "" {
		errs = append(errs, errors.New("source is empty"))
	}
	if c.Source == "camera" && len(c.CameraDevices) == 0 {
		errs = append(errs, errors.New("camera source needs at least one device"))
	}
	if c.Source == "command" && c.Command == "" {
		errs = append(errs, errors.New("command source needs COMMAND"))
	}
	if _, err := shlex.Split(c.FFmpegArgs); err != nil {
		errs = append(errs, fmt.Errorf("ffmpeg args: %w", err))
	}
	if c.VideoEnabled {
		if c.BitRate <= 0 {
			errs = append(errs, fmt.Errorf("bitrate %d must be positive", c.BitRate))
		}
		if c.KeyFrameInterval <= 0 {
			errs = append(errs, fmt.Errorf("keyframe interval %d must be positive", c.KeyFrameInterval))
		}
	}
	if err := errors.Join(errs...); err != nil {
		return fmt.Errorf("config: %w", err)
	}
	return nil
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvAsInt(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if intValue, err := strconv.Atoi(value); err == nil {
			return intValue
		}
	}
	return defaultValue
}

func getEnvAsFloat(key string, defaultValue float64) float64 {
	if value := os.Getenv(key); value != "" {
		if floatValue, err := strconv.ParseFloat(value, 64); err == nil {
			return floatValue
		}
	}
	return defaultValue
}

func getEnvAsBool(key string, defaultValue bool) bool {
	if value := os.Getenv(key); value != "" {
		if boolValue, err := strconv.ParseBool(value); err == nil {
			return boolValue
		}
	}
	return defaultValue
}

func getEnvAsDuration(key string, defaultValue time.Duration) time.Duration {
	if value := os.Getenv(key); value != "" {
		if d, err := time.ParseDuration(value); err == nil {
			return d
		}
	}
	return defaultValue
}

func getEnvAsList(key string, defaultValue []string) []string {
	value := os.Getenv(key)
	if value == "" {
		return defaultValue
	}
	var list []string
	for _, item := range strings.Split(value, ",") {
		if item = strings.TrimSpace(item); item != "" {
			list = append(list, item)
		}
	}
	return list
}
