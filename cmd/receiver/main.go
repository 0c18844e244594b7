// Command receiver connects to a pocketcam server. By default it reads the
// H.264 stream from the video port, optionally saving it, and logs what it
// gets; with -mjpeg it reads the MJPEG stream and keeps the latest frame on
// disk.
package main

import (
	"context"
	"fmt"
	"io"
	"net"
	"os"
	"os/signal"
	"syscall"
	"time"

	rconfig "github.com/Luzifer/rconfig/v2"

	icodec "github.com/webdro/pocketcam/internal/codec"
	ilogging "github.com/webdro/pocketcam/internal/logging"
)

var (
	cfg = struct {
		Addr     string        `flag:"addr,a" default:"127.0.0.1:8081" description:"Address of the video port"`
		Output   string        `flag:"output,o" default:"" description:"Write the Annex-B stream to this file, - for stdout"`
		MJPEG    string        `flag:"mjpeg" default:"" description:"Read this MJPEG URL instead of the video port"`
		Snapshot string        `flag:"snapshot" default:"latest.jpg" description:"Where -mjpeg keeps the latest frame"`
		Measure  time.Duration `flag:"measure" default:"0s" description:"Only measure the video bit rate for this long"`
		Limit    int           `flag:"limit,n" default:"0" description:"Stop after this many access units or frames, 0 for no limit"`
		Interval time.Duration `flag:"interval" default:"5s" description:"How often to log statistics"`
		LogLevel string        `flag:"log-level" default:"info" description:"Log level (disabled, error, warn, info, debug, trace)"`
	}{}

	log = ilogging.NewLogger("receiver")
)

func main() {
	if err := rconfig.ParseAndValidate(&cfg); err != nil {
		fmt.Fprintf(os.Stderr, "Unable to parse commandline options: %s\n", err)
		os.Exit(2)
	}
	if err := ilogging.SetLevel(cfg.LogLevel); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(2)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	var err error
	switch {
	case cfg.MJPEG != "":
		err = runMJPEG(ctx)
	case cfg.Measure > 0:
		err = runMeasure(ctx)
	default:
		err = runVideo(ctx)
	}
	if err != nil && ctx.Err() == nil {
		log.Errorf("%v", err)
		os.Exit(1)
	}
}

func dial(ctx context.Context) (net.Conn, error) {
	var d net.Dialer
	conn, err := d.DialContext(ctx, "tcp", cfg.Addr)
	if err != nil {
		return nil, err
	}
	// Unblock reads on shutdown.
	go func() {
		<-ctx.Done()
		conn.Close()
	}()
	log.Infof("connected to %s", conn.RemoteAddr())
	return conn, nil
}

func runVideo(ctx context.Context) error {
	conn, err := dial(ctx)
	if err != nil {
		return err
	}
	defer conn.Close()

	var out io.Writer
	switch cfg.Output {
	case "":
	case "-":
		out = os.Stdout
	default:
		f, err := os.Create(cfg.Output)
		if err != nil {
			return err
		}
		defer f.Close()
		out = f
	}

	st, err := receiveVideo(conn, out, cfg.Limit, cfg.Interval, func(st videoStats) {
		log.Infof("%s", st)
	})
	log.Infof("done: %s", st)
	return err
}

func runMeasure(ctx context.Context) error {
	conn, err := dial(ctx)
	if err != nil {
		return err
	}
	defer conn.Close()

	m, err := icodec.MeasureBitRate(conn, cfg.Measure)
	if err != nil {
		return err
	}
	log.Infof("%d bytes in %v: %.0f bps", m.Bytes, m.Elapsed.Round(time.Millisecond), m.BitRate())
	return nil
}

func runMJPEG(ctx context.Context) error {
	st, err := receiveMJPEG(ctx, cfg.MJPEG, cfg.Snapshot, cfg.Limit, cfg.Interval, func(st mjpegStats) {
		log.Infof("%s", st)
	})
	log.Infof("done: %s", st)
	return err
}
