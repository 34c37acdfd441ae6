package httpserver

import (
	"context"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"

	"jobinbox/internal/handler"
	"jobinbox/internal/hub"
	"jobinbox/pkg/otel"
	"jobinbox/pkg/rbac"
)

// Pinger 就绪检查的依赖
type Pinger interface {
	Ping(ctx context.Context) error
}

type Handlers struct {
	Auth  *handler.AuthHandler
	Email *handler.EmailHandler
	Push  *handler.PushHandler
	Admin *handler.AdminHandler
	Hub   *hub.Hub
}

type Options struct {
	JWTSecret      string
	Authz          *rbac.Authorizer
	OriginPatterns []string
	// 名称 -> 依赖，未配置的后端不出现
	Ready map[string]Pinger
}

type Router struct {
	Engine *gin.Engine
}

func NewRouter(h Handlers, opts Options, logger *zap.Logger) *Router {
	r := gin.New()
	r.Use(gin.Recovery(), TraceMiddleware(), otel.GinMiddleware(), MetricsMiddleware())

	// Health endpoints
	r.GET("/healthz", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "ok", "timestamp": time.Now().UTC()})
	})
	r.HEAD("/healthz", func(c *gin.Context) {
		c.Status(http.StatusOK)
	})
	r.GET("/readyz", func(c *gin.Context) {
		ctx, cancel := context.WithTimeout(c.Request.Context(), time.Second)
		defer cancel()

		for name, p := range opts.Ready {
			if err := p.Ping(ctx); err != nil {
				c.JSON(http.StatusServiceUnavailable, gin.H{"status": name + "_not_ready", "error": err.Error()})
				return
			}
		}
		c.JSON(http.StatusOK, gin.H{"status": "ready", "connections": h.Hub.Count()})
	})
	r.GET("/metrics", gin.WrapH(promhttp.Handler()))

	// Public
	r.GET("/auth/google", h.Auth.GoogleLogin)
	r.GET("/auth/google/callback", h.Auth.Callback)
	r.POST("/auth/logout", h.Auth.Logout)
	r.GET("/api/emails/categories", h.Email.Categories)
	r.POST("/pubsub/push", h.Push.Push)
	r.GET("/ws", h.Hub.ServeWS(opts.OriginPatterns))

	// Protected
	auth := r.Group("/")
	auth.Use(AuthMiddleware(opts.JWTSecret, opts.Authz, logger))
	{
		auth.GET("/auth/me", h.Auth.Me)

		emails := auth.Group("/api/emails")
		emails.GET("", RequirePermission(opts.Authz, rbac.PermissionReadEmail), h.Email.List)
		emails.GET("/:id", RequirePermission(opts.Authz, rbac.PermissionReadEmail), h.Email.Get)
		emails.POST("/categorize-batch", RequirePermission(opts.Authz, rbac.PermissionCategorizeEmail), h.Email.CategorizeBatch)
		emails.POST("/:id/categorize", RequirePermission(opts.Authz, rbac.PermissionCategorizeEmail), h.Email.Categorize)
		emails.POST("/:id/set-category", RequirePermission(opts.Authz, rbac.PermissionCategorizeEmail), h.Email.SetCategory)
		emails.POST("/:id/toggle-complete", RequirePermission(opts.Authz, rbac.PermissionCategorizeEmail), h.Email.ToggleComplete)

		admin := auth.Group("/admin")
		admin.POST("/broadcast", RequirePermission(opts.Authz, rbac.PermissionBroadcast), h.Admin.Broadcast)
		admin.GET("/connections", RequirePermission(opts.Authz, rbac.PermissionViewConnections), h.Admin.Connections)
	}

	return &Router{Engine: r}
}

func (r *Router) Handler() http.Handler {
	return r.Engine
}

// PingFunc 把函数适配为 Pinger
type PingFunc func(ctx context.Context) error

func (f PingFunc) Ping(ctx context.Context) error { return f(ctx) }
