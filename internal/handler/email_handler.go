package handler

import (
	"errors"
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"jobinbox/internal/credential"
	"jobinbox/internal/service"
	"jobinbox/internal/taxonomy"
	"jobinbox/pkg/logger"
	"jobinbox/pkg/util"
)

type EmailHandler struct {
	emails *service.EmailService
	creds  credential.Store
	logger *zap.Logger
}

func NewEmailHandler(emails *service.EmailService, creds credential.Store, logger *zap.Logger) *EmailHandler {
	return &EmailHandler{
		emails: emails,
		creds:  creds,
		logger: logger,
	}
}

// credential 读取当前用户的邮箱凭证，未连接时返回 401
func (h *EmailHandler) credential(c *gin.Context) (*credential.Credential, bool) {
	email, ok := owner(c)
	if !ok {
		return nil, false
	}
	cred, err := h.creds.Get(c.Request.Context(), email)
	if err != nil {
		if !errors.Is(err, credential.ErrNotFound) {
			logger.WithTrace(c.Request.Context(), h.logger).Error("Credential lookup failed",
				zap.String("owner", email),
				zap.Error(err),
			)
		}
		c.JSON(http.StatusUnauthorized, gin.H{"error": "Mailbox not connected"})
		return nil, false
	}
	return cred, true
}

func (h *EmailHandler) fail(c *gin.Context, msg string, err error) {
	_, errType := util.IsRetryableError(err)
	logger.WithTrace(c.Request.Context(), h.logger).Error(msg,
		zap.String("owner", c.GetString(ContextOwner)),
		zap.String("error_type", errType),
		zap.Error(err),
	)
	c.JSON(http.StatusInternalServerError, gin.H{"error": msg})
}

// Categories handles GET /api/emails/categories
func (h *EmailHandler) Categories(c *gin.Context) {
	out := make(map[taxonomy.Category]taxonomy.Info)
	for _, info := range h.emails.Categories() {
		out[info.Key] = info
	}
	c.JSON(http.StatusOK, out)
}

// List handles GET /api/emails?maxResults=50&pageToken=&filterJobs=true
func (h *EmailHandler) List(c *gin.Context) {
	cred, ok := h.credential(c)
	if !ok {
		return
	}
	max, _ := strconv.Atoi(c.DefaultQuery("maxResults", strconv.Itoa(service.DefaultListMax)))
	filter, err := strconv.ParseBool(c.DefaultQuery("filterJobs", "true"))
	if err != nil {
		filter = true
	}

	res, err := h.emails.List(c.Request.Context(), *cred, service.ListParams{
		Max:        max,
		PageToken:  c.Query("pageToken"),
		FilterJobs: filter,
	})
	if err != nil {
		h.fail(c, "Failed to fetch emails", err)
		return
	}
	c.JSON(http.StatusOK, res)
}

// Get handles GET /api/emails/:id
func (h *EmailHandler) Get(c *gin.Context) {
	cred, ok := h.credential(c)
	if !ok {
		return
	}
	res, err := h.emails.Get(c.Request.Context(), *cred, c.Param("id"))
	if err != nil {
		h.fail(c, "Failed to fetch email", err)
		return
	}
	c.JSON(http.StatusOK, res)
}

// Categorize handles POST /api/emails/:id/categorize?force=true
func (h *EmailHandler) Categorize(c *gin.Context) {
	cred, ok := h.credential(c)
	if !ok {
		return
	}
	force, _ := strconv.ParseBool(c.Query("force"))
	res, err := h.emails.Categorize(c.Request.Context(), *cred, c.Param("id"), force)
	if err != nil {
		h.fail(c, "Failed to categorize email", err)
		return
	}
	c.JSON(http.StatusOK, res)
}

// CategorizeBatch handles POST /api/emails/categorize-batch
func (h *EmailHandler) CategorizeBatch(c *gin.Context) {
	var req struct {
		EmailIDs []string `json:"emailIds"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "emailIds array required"})
		return
	}
	if len(req.EmailIDs) == 0 {
		c.JSON(http.StatusBadRequest, gin.H{"error": service.ErrEmptyBatch.Error()})
		return
	}
	cred, ok := h.credential(c)
	if !ok {
		return
	}
	res, err := h.emails.CategorizeBatch(c.Request.Context(), *cred, req.EmailIDs)
	if err != nil {
		h.fail(c, "Failed to categorize emails", err)
		return
	}
	c.JSON(http.StatusOK, res)
}

// SetCategory handles POST /api/emails/:id/set-category
func (h *EmailHandler) SetCategory(c *gin.Context) {
	email, ok := owner(c)
	if !ok {
		return
	}
	var req struct {
		Category string `json:"category" binding:"required"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid category"})
		return
	}

	res, err := h.emails.SetCategory(c.Request.Context(), email, c.Param("id"), req.Category)
	switch {
	case errors.Is(err, taxonomy.ErrInvalidCategory):
		c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid category"})
	case errors.Is(err, service.ErrStoreUnavailable):
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": "Database not connected"})
	case err != nil:
		h.fail(c, "Failed to set category", err)
	default:
		c.JSON(http.StatusOK, gin.H{
			"success":      true,
			"emailId":      res.EmailID,
			"category":     res.Category,
			"categoryInfo": res.CategoryInfo,
			"confidence":   res.Confidence,
			"manual":       res.Manual,
		})
	}
}

// ToggleComplete handles POST /api/emails/:id/toggle-complete
func (h *EmailHandler) ToggleComplete(c *gin.Context) {
	email, ok := owner(c)
	if !ok {
		return
	}
	res, err := h.emails.ToggleComplete(c.Request.Context(), email, c.Param("id"))
	switch {
	case errors.Is(err, service.ErrStoreUnavailable):
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": "Database not connected"})
	case errors.Is(err, service.ErrNotFound):
		c.JSON(http.StatusNotFound, gin.H{"error": "Email not categorized"})
	case errors.Is(err, service.ErrNotActionable):
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
	case err != nil:
		h.fail(c, "Failed to toggle complete status", err)
	default:
		c.JSON(http.StatusOK, res)
	}
}
