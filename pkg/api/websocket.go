package api

import (
	"encoding/json"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"

	"github.com/bizyhq/bizy/pkg/events"
)

const (
	// writeWait bounds a single websocket write.
	writeWait = 10 * time.Second

	// pingInterval keeps idle connections alive through proxies.
	pingInterval = 30 * time.Second
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin: func(r *http.Request) bool {
		return true
	},
}

// handleEventStream upgrades the connection and streams bus events to the
// client as JSON. The optional ?type= query restricts the stream to one
// event type; the default is everything.
func (s *Server) handleEventStream(c *gin.Context) {
	eventType := c.Query("type")
	if eventType == "" {
		eventType = events.Wildcard
	}

	conn, err := upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		s.logger.Error().Err(err).Msg("Failed to upgrade websocket connection")
		return
	}
	defer func() { _ = conn.Close() }()

	s.logger.Info().
		Str("event_type", eventType).
		Str("client", c.ClientIP()).
		Msg("Websocket stream established")

	stream, cancel := s.bus.Subscribe(eventType)
	defer cancel()

	// Reader goroutine: detects client close. The stream endpoint is
	// write-only, so anything received other than control frames is
	// ignored.
	done := make(chan struct{})
	go func() {
		defer close(done)
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	}()

	ticker := time.NewTicker(pingInterval)
	defer ticker.Stop()

	ctx := c.Request.Context()
	for {
		select {
		case <-ctx.Done():
			return
		case <-done:
			return
		case <-ticker.C:
			_ = conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		case event, ok := <-stream:
			if !ok {
				return
			}
			data, err := json.Marshal(event)
			if err != nil {
				s.logger.Error().Err(err).Msg("Failed to marshal event")
				continue
			}
			_ = conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := conn.WriteMessage(websocket.TextMessage, data); err != nil {
				return
			}
		}
	}
}
