package server

import (
	"context"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
)

const (
	pongWait   = 60 * time.Second
	pingPeriod = pongWait * 9 / 10
)

// websocket pushes every frame from the bus as one binary message. Like the
// MJPEG stream, a slow client only gets the latest frame.
func (s *Server) websocket(c *gin.Context) {
	conn, err := s.upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		s.log.Warnf("websocket upgrade error: %v", err)
		return
	}
	defer conn.Close()

	sub := s.cfg.Bus.Subscribe()
	defer s.cfg.Bus.Unsubscribe(sub)
	s.log.Debugf("websocket viewer %s connected, subscriber %s", conn.RemoteAddr(), sub.ID())

	ctx, cancel := context.WithCancel(c.Request.Context())
	defer cancel()

	// Viewers don't send anything but control frames; reading keeps the pong
	// handler running and notices the close.
	conn.SetReadLimit(512)
	_ = conn.SetReadDeadline(time.Now().Add(pongWait))
	conn.SetPongHandler(func(string) error {
		return conn.SetReadDeadline(time.Now().Add(pongWait))
	})
	go func() {
		defer cancel()
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	}()

	frames := make(chan []byte)
	go func() {
		defer close(frames)
		for {
			b, err := sub.Next(ctx)
			if err != nil {
				return
			}
			select {
			case frames <- b:
			case <-ctx.Done():
				return
			}
		}
	}()

	ping := time.NewTicker(pingPeriod)
	defer ping.Stop()
	for {
		select {
		case b, ok := <-frames:
			if !ok {
				return
			}
			if err := s.write(conn, websocket.BinaryMessage, b); err != nil {
				s.log.Debugf("websocket viewer %s gone: %v", conn.RemoteAddr(), err)
				return
			}
		case <-ping.C:
			if err := s.write(conn, websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}

func (s *Server) write(conn *websocket.Conn, messageType int, data []byte) error {
	if s.cfg.WriteTimeout > 0 {
		_ = conn.SetWriteDeadline(time.Now().Add(s.cfg.WriteTimeout))
	}
	return conn.WriteMessage(messageType, data)
}
