package handler

import (
	"net/http"

	"github.com/gin-gonic/gin"
)

// gin.Context 中的键
const (
	ContextOwner = "owner"
	ContextRole  = "role"
)

// owner 读取认证中间件写入的邮箱
func owner(c *gin.Context) (string, bool) {
	email := c.GetString(ContextOwner)
	if email == "" {
		c.JSON(http.StatusUnauthorized, gin.H{"error": "Not authenticated"})
		return "", false
	}
	return email, true
}
