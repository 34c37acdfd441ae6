package handler

import (
	"errors"
	"net/http"
	"net/url"
	"strings"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"jobinbox/internal/service"
	"jobinbox/pkg/logger"
)

const stateCookie = "oauth_state"

type AuthHandler struct {
	auth        *service.AuthService
	frontendURL string
	secure      bool
	logger      *zap.Logger
}

// NewAuthHandler secure 控制 state cookie 的 Secure 属性
func NewAuthHandler(auth *service.AuthService, frontendURL string, secure bool, logger *zap.Logger) *AuthHandler {
	return &AuthHandler{
		auth:        auth,
		frontendURL: strings.TrimRight(frontendURL, "/"),
		secure:      secure,
		logger:      logger,
	}
}

// GoogleLogin handles GET /auth/google
func (h *AuthHandler) GoogleLogin(c *gin.Context) {
	state := uuid.NewString()
	c.SetSameSite(http.SameSiteLaxMode)
	c.SetCookie(stateCookie, state, 600, "/auth", "", h.secure, true)
	c.Redirect(http.StatusFound, h.auth.AuthURL(state))
}

// Callback handles GET /auth/google/callback and redirects to the frontend
// with the session token, or with an error code.
func (h *AuthHandler) Callback(c *gin.Context) {
	log := logger.WithTrace(c.Request.Context(), h.logger)

	if c.Query("error") != "" {
		log.Warn("Google consent denied", zap.String("error", c.Query("error")))
		h.redirectError(c, "access_denied")
		return
	}
	expected, err := c.Cookie(stateCookie)
	if err != nil || expected == "" || expected != c.Query("state") {
		log.Warn("OAuth state mismatch")
		h.redirectError(c, "invalid_state")
		return
	}
	c.SetCookie(stateCookie, "", -1, "/auth", "", h.secure, true)

	res, err := h.auth.Login(c.Request.Context(), c.Query("code"))
	if errors.Is(err, service.ErrMissingCode) {
		h.redirectError(c, "no_code")
		return
	}
	if err != nil {
		log.Error("OAuth callback failed", zap.Error(err))
		h.redirectError(c, "auth_failed")
		return
	}

	// token 放在 fragment 中，不会出现在服务端日志里
	c.Redirect(http.StatusFound, h.frontendURL+"/dashboard#token="+url.QueryEscape(res.Token))
}

// Me handles GET /auth/me
func (h *AuthHandler) Me(c *gin.Context) {
	email, ok := owner(c)
	if !ok {
		return
	}
	me := h.auth.Me(c.Request.Context(), email)
	c.JSON(http.StatusOK, gin.H{
		"authenticated": true,
		"user": gin.H{
			"email":   me.Email,
			"name":    me.Name,
			"picture": me.Picture,
			"role":    me.Role,
		},
		"completedActions": me.CompletedActions,
	})
}

// Logout handles POST /auth/logout. Session tokens are stateless, the client
// discards its copy.
func (h *AuthHandler) Logout(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"success": true})
}

func (h *AuthHandler) redirectError(c *gin.Context, code string) {
	c.Redirect(http.StatusFound, h.frontendURL+"?error="+url.QueryEscape(code))
}
