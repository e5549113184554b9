package server

import (
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"

	"github.com/stateflow/stateflow/pkg/events"
	"github.com/stateflow/stateflow/pkg/models"
)

const (
	wsWriteTimeout = 10 * time.Second
	wsBufferSize   = 64
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin:     func(r *http.Request) bool { return true },
}

// streamEvents bridges the event bus to a WebSocket client. Every bus
// event is delivered as a JSON frame; a client that cannot keep up is
// dropped.
func (s *Server) streamEvents(c *gin.Context) {
	if s.bus == nil {
		c.JSON(http.StatusNotImplemented, gin.H{"error": "event stream not configured"})
		return
	}

	conn, err := upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		s.log.Warn("websocket upgrade failed", "error", err)
		return
	}

	send := make(chan *models.Event, wsBufferSize)
	overflow := make(chan struct{}, 1)

	sub := s.bus.On(events.WildcardType, func(event *models.Event) {
		select {
		case send <- event:
		default:
			select {
			case overflow <- struct{}{}:
			default:
			}
		}
	})

	done := make(chan struct{})
	// Reader: only to observe client close.
	go func() {
		defer close(done)
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	}()

	defer func() {
		sub.Cancel()
		conn.Close()
	}()

	for {
		select {
		case event := <-send:
			conn.SetWriteDeadline(time.Now().Add(wsWriteTimeout))
			if err := conn.WriteJSON(event); err != nil {
				return
			}
		case <-overflow:
			s.log.Warn("dropping slow websocket client")
			return
		case <-done:
			return
		case <-c.Request.Context().Done():
			return
		}
	}
}
