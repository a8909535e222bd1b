package transport

import (
	"net/http"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"github.com/chatd-io/chatd/internal/v1/logging"
	"github.com/chatd-io/chatd/internal/v1/types"
)

// ServeWs returns a gin handler that upgrades the request and runs the same
// client loop the TCP adapter uses, one JSON frame per text message.
// allowedOrigins is a comma-separated list; empty allows any origin.
func ServeWs(d types.Dispatcher, allowedOrigins string) gin.HandlerFunc {
	upgrader := websocket.Upgrader{
		ReadBufferSize:  4096,
		WriteBufferSize: 4096,
		CheckOrigin:     originChecker(allowedOrigins),
	}

	return func(c *gin.Context) {
		conn, err := upgrader.Upgrade(c.Writer, c.Request, nil)
		if err != nil {
			logging.Warn(c.Request.Context(), "WebSocket upgrade failed", zap.Error(err))
			return
		}
		newClient(&wsConn{conn: conn}, d).run()
	}
}

func originChecker(allowedOrigins string) func(r *http.Request) bool {
	if allowedOrigins == "" {
		return func(*http.Request) bool { return true }
	}
	allowed := make(map[string]bool)
	for _, o := range strings.Split(allowedOrigins, ",") {
		allowed[strings.TrimSpace(o)] = true
	}
	return func(r *http.Request) bool {
		origin := r.Header.Get("Origin")
		return origin == "" || allowed[origin] || allowed["*"]
	}
}

// wsConn frames a gorilla connection as one frame per text message.
type wsConn struct {
	conn *websocket.Conn
}

func (w *wsConn) ReadFrame() ([]byte, error) {
	for {
		messageType, data, err := w.conn.ReadMessage()
		if err != nil {
			return nil, err
		}
		if messageType != websocket.TextMessage {
			continue
		}
		return data, nil
	}
}

func (w *wsConn) WriteFrame(data []byte) error {
	_ = w.conn.SetWriteDeadline(time.Now().Add(writeWait))
	return w.conn.WriteMessage(websocket.TextMessage, data)
}

func (w *wsConn) Close() error {
	err := w.conn.WriteControl(websocket.CloseMessage,
		websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""),
		time.Now().Add(time.Second))
	if err != nil && err != websocket.ErrCloseSent {
		logging.GetLogger().Debug("Close handshake skipped", zap.Error(err))
	}
	return w.conn.Close()
}
