package hub

import (
	"context"
	"errors"

	"github.com/coder/websocket"
	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"jobinbox/contracts/ws"
)

const readLimit = 64 << 10

// wsConn adapts a coder/websocket connection to Conn.
type wsConn struct {
	c *websocket.Conn
}

func (w *wsConn) Send(ctx context.Context, data []byte) error {
	return w.c.Write(ctx, websocket.MessageText, data)
}

func (w *wsConn) Ping(ctx context.Context) error {
	return w.c.Ping(ctx)
}

func (w *wsConn) Close(reason string) error {
	return w.c.Close(websocket.StatusPolicyViolation, reason)
}

// ServeWS upgrades the request and runs the read loop until the client goes
// away. A token query parameter authenticates right after the upgrade.
func (h *Hub) ServeWS(originPatterns []string) gin.HandlerFunc {
	return func(c *gin.Context) {
		conn, err := websocket.Accept(c.Writer, c.Request, &websocket.AcceptOptions{
			OriginPatterns: originPatterns,
		})
		if err != nil {
			h.logger.Warn("WebSocket upgrade failed", zap.Error(err))
			return
		}
		conn.SetReadLimit(readLimit)

		id := SessionID(uuid.NewString())
		h.Register(id, &wsConn{c: conn})
		defer h.Unregister(id)

		h.logger.Info("WebSocket connected", zap.String("session_id", string(id)), zap.String("remote", c.ClientIP()))

		if token := c.Query("token"); token != "" {
			if owner, err := h.auth(ws.AuthRequest{Type: ws.TypeAuth, Token: token}); err == nil {
				h.Authenticate(id, owner)
			}
		}

		ctx := c.Request.Context()
		for {
			typ, data, err := conn.Read(ctx)
			if err != nil {
				status := websocket.CloseStatus(err)
				if status == websocket.StatusNormalClosure || status == websocket.StatusGoingAway || errors.Is(err, context.Canceled) {
					h.logger.Info("WebSocket closed", zap.String("session_id", string(id)))
				} else {
					h.logger.Warn("WebSocket read error", zap.String("session_id", string(id)), zap.Error(err))
				}
				_ = conn.CloseNow()
				return
			}
			if typ != websocket.MessageText {
				continue
			}
			h.HandleMessage(id, data)
		}
	}
}
