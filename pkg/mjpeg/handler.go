package mjpeg

import (
	"errors"
	"net/http"
	"time"

	"github.com/pion/logging"

	ilogging "github.com/webdro/pocketcam/internal/logging"
	"github.com/webdro/pocketcam/pkg/framebus"
)

type handler struct {
	bus          *framebus.Bus
	writeTimeout time.Duration
	log          logging.LeveledLogger
}

// NewHandler returns an http.Handler streaming bus to every client as MJPEG.
// A positive writeTimeout bounds each part write so a stalled client gets
// dropped instead of pinning its goroutine forever.
func NewHandler(bus *framebus.Bus, writeTimeout time.Duration) http.Handler {
	return &handler{
		bus:          bus,
		writeTimeout: writeTimeout,
		log:          ilogging.NewLogger("mjpeg"),
	}
}

func (h *handler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	session := NewSession(ctx, h.bus)
	defer session.Close()

	header := w.Header()
	header.Set("Content-Type", ContentType)
	header.Set("Cache-Control", "no-cache, no-store, must-revalidate")
	header.Set("Pragma", "no-cache")
	header.Set("Expires", "0")
	w.WriteHeader(http.StatusOK)

	rc := http.NewResponseController(w)
	flusher, _ := w.(http.Flusher)
	if flusher != nil {
		flusher.Flush()
	}

	h.log.Debugf("client %s connected, session %s", r.RemoteAddr, session.ID())

	for {
		chunk, err := session.NextChunk(ctx)
		if err != nil {
			h.log.Debugf("session %s ended: %v", session.ID(), err)
			return
		}

		if h.writeTimeout > 0 {
			if err := rc.SetWriteDeadline(time.Now().Add(h.writeTimeout)); err != nil && !errors.Is(err, http.ErrNotSupported) {
				h.log.Warnf("session %s: failed to set write deadline: %v", session.ID(), err)
			}
		}

		if _, err := w.Write(chunk); err != nil {
			h.log.Debugf("session %s: client %s gone: %v", session.ID(), r.RemoteAddr, err)
			return
		}
		if flusher != nil {
			flusher.Flush()
		}
	}
}
