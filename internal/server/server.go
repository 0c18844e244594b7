// Package server is the HTTP side: the MJPEG stream, a websocket JPEG push,
// snapshots and the camera control API.
package server

import (
	"context"
	_ "embed"
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
	"github.com/pion/logging"

	ilogging "github.com/webdro/pocketcam/internal/logging"
	"github.com/webdro/pocketcam/internal/streamer"
	"github.com/webdro/pocketcam/pkg/codec/jpeg"
	"github.com/webdro/pocketcam/pkg/driver"
	"github.com/webdro/pocketcam/pkg/framebus"
	"github.com/webdro/pocketcam/pkg/mjpeg"
)

//go:embed static/index.html
var indexHTML []byte

const shutdownTimeout = 5 * time.Second

// Controls is what the control API drives. streamer.Streamer implements it.
type Controls interface {
	Switch() (string, error)
	SetZoom(ratio float64) error
	Focus() error
	SetTorch(on bool) error
	SetQuality(q int) int
}

// Config wires the server to the rest of the process.
type Config struct {
	Bus      *framebus.Bus
	Controls Controls
	// Stats feeds /api/stats.
	Stats func() map[string]any
	// WriteTimeout bounds each write to a streaming client.
	WriteTimeout time.Duration
}

// Server serves the HTTP routes.
type Server struct {
	cfg      Config
	router   *gin.Engine
	upgrader websocket.Upgrader
	log      logging.LeveledLogger
}

// New builds the router.
func New(cfg Config) *Server {
	s := &Server{
		cfg: cfg,
		upgrader: websocket.Upgrader{
			CheckOrigin: func(r *http.Request) bool { return true },
		},
		log: ilogging.NewLogger("server"),
	}

	router := gin.New()
	router.Use(gin.Recovery(), s.requestLogger())

	router.GET("/", s.index)
	router.GET("/status", s.status)
	router.GET("/stream", gin.WrapH(mjpeg.NewHandler(cfg.Bus, cfg.WriteTimeout)))
	router.GET("/ws", s.websocket)
	router.GET("/snapshot.jpg", s.snapshot)

	api := router.Group("/api")
	api.GET("/switch", s.switchCamera)
	api.GET("/flash", s.flash)
	api.GET("/focus", s.focus)
	api.GET("/zoom", s.zoom)
	api.GET("/quality", s.quality)
	api.GET("/stats", s.stats)

	s.router = router
	return s
}

// Handler returns the router.
func (s *Server) Handler() http.Handler {
	return s.router
}

// ListenAndServe serves on addr until ctx is done.
func (s *Server) ListenAndServe(ctx context.Context, addr string) error {
	srv := &http.Server{
		Addr:              addr,
		Handler:           s.router,
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		s.log.Infof("serving http on %s", addr)
		errCh <- srv.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	// Streaming handlers only return once their clients go, so Shutdown
	// usually times out and Close cuts them off.
	if err := srv.Shutdown(shutdownCtx); err != nil {
		s.log.Debugf("shutdown: %v", err)
		_ = srv.Close()
	}
	if err := <-errCh; !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

func (s *Server) requestLogger() gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()
		s.log.Debugf("%s %s %d %v %s", c.Request.Method, c.Request.URL.Path, c.Writer.Status(), time.Since(start), c.ClientIP())
	}
}

func (s *Server) index(c *gin.Context) {
	c.Data(http.StatusOK, "text/html; charset=utf-8", indexHTML)
}

func (s *Server) status(c *gin.Context) {
	c.String(http.StatusOK, "Running: %t", s.cfg.Bus.HasFrame())
}

func (s *Server) snapshot(c *gin.Context) {
	b := s.cfg.Bus.Current()
	if b == nil {
		c.String(http.StatusServiceUnavailable, "No frame yet")
		return
	}
	c.Header("Cache-Control", "no-cache, no-store, must-revalidate")
	c.Data(http.StatusOK, "image/jpeg", b)
}

func (s *Server) switchCamera(c *gin.Context) {
	device, err := s.cfg.Controls.Switch()
	if err != nil {
		s.controlError(c, err)
		return
	}
	s.log.Infof("switched to %s", device)
	c.String(http.StatusOK, "OK")
}

func (s *Server) flash(c *gin.Context) {
	on, _ := strconv.ParseBool(c.Query("on"))
	if err := s.cfg.Controls.SetTorch(on); err != nil {
		s.controlError(c, err)
		return
	}
	c.String(http.StatusOK, "OK")
}

func (s *Server) focus(c *gin.Context) {
	if err := s.cfg.Controls.Focus(); err != nil {
		s.controlError(c, err)
		return
	}
	c.String(http.StatusOK, "OK")
}

func (s *Server) zoom(c *gin.Context) {
	ratio, err := strconv.ParseFloat(c.DefaultQuery("val", "0"), 64)
	if err != nil {
		c.String(http.StatusBadRequest, "Invalid zoom: %v", err)
		return
	}
	if err := s.cfg.Controls.SetZoom(ratio); err != nil {
		s.controlError(c, err)
		return
	}
	c.String(http.StatusOK, "OK")
}

func (s *Server) quality(c *gin.Context) {
	q, err := strconv.Atoi(c.Query("val"))
	if err != nil {
		q = jpeg.DefaultQuality
	}
	s.cfg.Controls.SetQuality(q)
	c.String(http.StatusOK, "OK")
}

func (s *Server) stats(c *gin.Context) {
	if s.cfg.Stats == nil {
		c.JSON(http.StatusOK, gin.H{})
		return
	}
	c.JSON(http.StatusOK, s.cfg.Stats())
}

func (s *Server) controlError(c *gin.Context, err error) {
	switch {
	case errors.Is(err, driver.ErrNotSupported):
		c.String(http.StatusNotImplemented, "Not supported by this source")
	case errors.Is(err, streamer.ErrNoSource):
		c.String(http.StatusServiceUnavailable, "No active source")
	default:
		s.log.Warnf("%s failed: %v", c.Request.URL.Path, err)
		c.String(http.StatusBadRequest, "%v", err)
	}
}
