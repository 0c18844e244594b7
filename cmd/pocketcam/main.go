// Command pocketcam captures from one source and serves it as an MJPEG stream
// over HTTP and, optionally, as raw H.264 to one TCP client.
//
// Configuration comes from the environment and an optional .env file; see
// internal/config for the variables.
package main

import (
	"context"
	"fmt"
	"io"
	"os"
	"os/signal"
	"slices"
	"sync"
	"syscall"

	rconfig "github.com/Luzifer/rconfig/v2"

	"github.com/webdro/pocketcam/internal/config"
	ilogging "github.com/webdro/pocketcam/internal/logging"
	"github.com/webdro/pocketcam/internal/server"
	"github.com/webdro/pocketcam/internal/stats"
	"github.com/webdro/pocketcam/internal/streamer"
	"github.com/webdro/pocketcam/pkg/codec"
	"github.com/webdro/pocketcam/pkg/codec/ffmpeg"
	"github.com/webdro/pocketcam/pkg/codec/jpeg"
	"github.com/webdro/pocketcam/pkg/driver"
	"github.com/webdro/pocketcam/pkg/framebus"
	"github.com/webdro/pocketcam/pkg/videostream"

	// Sources register themselves with driver.Manager.
	_ "github.com/webdro/pocketcam/pkg/driver/camera"
	_ "github.com/webdro/pocketcam/pkg/driver/cmdsource"
	_ "github.com/webdro/pocketcam/pkg/driver/screen"
	_ "github.com/webdro/pocketcam/pkg/driver/videotest"
)

var (
	flags = struct {
		Env     string `flag:"env" default:".env" description:"Environment file read before the environment"`
		Sources bool   `flag:"list-sources" default:"false" description:"List the registered sources and encoders and exit"`
	}{}

	log = ilogging.NewLogger("pocketcam")
)

func main() {
	if err := rconfig.ParseAndValidate(&flags); err != nil {
		fmt.Fprintf(os.Stderr, "Unable to parse commandline options: %s\n", err)
		os.Exit(2)
	}
	if flags.Sources {
		listKinds(os.Stdout)
		return
	}

	cfg, err := config.Load(flags.Env)
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(2)
	}
	if err := ilogging.SetLevel(cfg.LogLevel); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(2)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, cfg); err != nil {
		log.Errorf("%v", err)
		os.Exit(1)
	}
}

func run(ctx context.Context, cfg *config.Config) error {
	codec.Register(ffmpeg.Name, encoderParams(cfg).BuildVideoEncoder)
	if err := checkKinds(cfg); err != nil {
		return err
	}

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	bus := framebus.New()
	defer bus.Close()

	reporter := stats.NewReporter()
	reporter.Add("mjpeg", func() any { return bus.Stats() })

	var (
		wg    sync.WaitGroup
		video streamer.VideoSink
	)
	if cfg.VideoEnabled {
		pipeline := videostream.New(videostream.Config{
			Addr:          cfg.VideoAddr,
			Encoder:       cfg.Encoder,
			SubmitTimeout: cfg.SubmitTimeout,
			PollTimeout:   cfg.PollTimeout,
			WriteTimeout:  cfg.WriteTimeout,
		})
		supervisor := &streamer.VideoSupervisor{
			Pipeline:    pipeline,
			Setting:     videoSetting(cfg),
			AutoRestart: cfg.VideoAutoRestart,
		}
		video = supervisor
		reporter.Add("video", func() any { return pipeline.Stats() })
		reporter.Add("videoSession", func() any { return supervisor.Stats() })
		wg.Add(1)
		go func() {
			defer wg.Done()
			if err := supervisor.Run(ctx); err != nil {
				log.Errorf("video stream disabled: %v", err)
			}
		}()
	}

	s := streamer.New(streamer.Config{
		Kind:         cfg.Source,
		Devices:      sourceDevices(cfg),
		MaxFrameRate: float32(cfg.MaxFrameRate),
		Property: driver.Property{
			Width:     cfg.Width,
			Height:    cfg.Height,
			FrameRate: float32(cfg.FrameRate),
		},
	}, bus, jpeg.NewCompressor(cfg.JPEGQuality, cfg.JPEGMaxWidth), video)
	reporter.Add("source", func() any { return s.Stats() })

	wg.Add(1)
	go func() {
		defer wg.Done()
		if err := s.Run(ctx); err != nil {
			log.Errorf("capture stopped: %v", err)
			cancel()
		}
	}()

	if err := reporter.Start(cfg.StatsSchedule); err != nil {
		cancel()
		wg.Wait()
		return err
	}
	defer reporter.Stop()

	srv := server.New(server.Config{
		Bus:          bus,
		Controls:     s,
		Stats:        reporter.Snapshot,
		WriteTimeout: cfg.WriteTimeout,
	})
	log.Infof("serving %s source on %s", cfg.Source, cfg.HTTPAddr)
	err := srv.ListenAndServe(ctx, cfg.HTTPAddr)

	cancel()
	wg.Wait()
	return err
}

// listKinds prints the registered sources and encoders.
func listKinds(w io.Writer) {
	fmt.Fprintln(w, "sources:")
	for _, kind := range driver.Manager.Kinds(nil) {
		fmt.Fprintf(w, "  %s\n", kind)
	}
	fmt.Fprintln(w, "encoders:")
	for _, name := range codec.Names() {
		fmt.Fprintf(w, "  %s\n", name)
	}
}

// checkKinds fails early on a source or encoder nothing registered.
func checkKinds(cfg *config.Config) error {
	if !slices.Contains(driver.Manager.Kinds(nil), cfg.Source) {
		return fmt.Errorf("unknown source %q, have %v", cfg.Source, driver.Manager.Kinds(nil))
	}
	if cfg.VideoEnabled {
		if _, err := codec.Lookup(cfg.Encoder); err != nil {
			return err
		}
	}
	return nil
}

// encoderParams builds the ffmpeg parameters from the configuration.
func encoderParams(cfg *config.Config) ffmpeg.Params {
	p := ffmpeg.DefaultParams()
	p.Path = cfg.FFmpegPath
	p.Codec = cfg.FFmpegCodec
	p.ExtraArgs = cfg.FFmpegArgs
	// ultrafast is an x264 preset; hardware encoders name theirs differently.
	if p.Codec != "libx264" {
		p.Preset = ""
	}
	return p
}

// videoSetting is the encoder template. The supervisor replaces the size with
// the one of the captured frames.
func videoSetting(cfg *config.Config) codec.VideoSetting {
	return codec.VideoSetting{
		Width:            cfg.Width,
		Height:           cfg.Height,
		BitRate:          cfg.BitRate,
		FrameRate:        float32(cfg.FrameRate),
		KeyFrameInterval: cfg.KeyFrameInterval,
	}
}

// sourceDevices lists the devices Switch cycles through.
func sourceDevices(cfg *config.Config) []string {
	switch cfg.Source {
	case "camera":
		return cfg.CameraDevices
	case "command":
		return []string{cfg.Command}
	default:
		return nil
	}
}
