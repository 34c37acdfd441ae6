package handler

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"jobinbox/internal/service"
	"jobinbox/pkg/logger"
)

type PushHandler struct {
	ingress *service.IngressService
	logger  *zap.Logger
}

func NewPushHandler(ingress *service.IngressService, logger *zap.Logger) *PushHandler {
	return &PushHandler{
		ingress: ingress,
		logger:  logger,
	}
}

// Push handles POST /pubsub/push. Every request is acknowledged with 204 so
// Pub/Sub does not redeliver; processing happens off the request path.
func (h *PushHandler) Push(c *gin.Context) {
	var env service.PushEnvelope
	if err := c.ShouldBindJSON(&env); err != nil {
		logger.WithTrace(c.Request.Context(), h.logger).Warn("Invalid push envelope", zap.Error(err))
		c.Status(http.StatusNoContent)
		return
	}
	h.ingress.Accept(c.Request.Context(), env)
	c.Status(http.StatusNoContent)
}
