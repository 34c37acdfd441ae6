package handler

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"jobinbox/contracts/ws"
	"jobinbox/internal/hub"
	"jobinbox/pkg/logger"
)

type AdminHandler struct {
	hub    *hub.Hub
	logger *zap.Logger
}

func NewAdminHandler(h *hub.Hub, logger *zap.Logger) *AdminHandler {
	return &AdminHandler{
		hub:    h,
		logger: logger,
	}
}

// Broadcast 向所有已认证连接广播消息
// POST /admin/broadcast
func (h *AdminHandler) Broadcast(c *gin.Context) {
	var req struct {
		Message string `json:"message" binding:"required"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "message required"})
		return
	}

	delivered := h.hub.Broadcast(c.Request.Context(), ws.BroadcastPayload{Type: ws.TypeBroadcast, Message: req.Message})
	logger.WithTrace(c.Request.Context(), h.logger).Info("Admin broadcast sent",
		zap.String("by", c.GetString(ContextOwner)),
		zap.Int("delivered", delivered),
	)
	c.JSON(http.StatusOK, gin.H{
		"status":    "sent",
		"delivered": delivered,
	})
}

// Connections 当前连接情况
// GET /admin/connections
func (h *AdminHandler) Connections(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{
		"count":  h.hub.Count(),
		"owners": h.hub.ConnectedOwners(),
	})
}
