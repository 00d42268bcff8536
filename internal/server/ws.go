package server

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"

	"github.com/silkcast-dev/silkcast-go-stream-server/internal/logger"
	"github.com/silkcast-dev/silkcast-go-stream-server/internal/stream"
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 64 * 1024,
	CheckOrigin:     func(*http.Request) bool { return true },
}

// handleWS streams frames over a WebSocket. The attach half runs before the
// upgrade so parameter and capture errors still arrive as JSON.
func (s *Server) handleWS(c *gin.Context) {
	sess, p, ok := s.attach(c)
	if !ok {
		return
	}
	defer s.detach(sess)

	conn, err := upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		logger.WarnF("websocket upgrade failed: %v", err)
		return
	}
	stream.ServeWS(conn, sess, p, s.factory)
}
