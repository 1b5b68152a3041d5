// Package handler 包含了处理 HTTP 请求的控制器逻辑。
package handler

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"

	"ollama-chat-go/internal/service"
)

// defaultMessagesPath 是越权访问时的重定向目标。
const defaultMessagesPath = "/api/v1/conversations/default/messages"

// writeError 将业务错误映射为 HTTP 响应。
func writeError(c *gin.Context, err error) {
	var ve *service.ValidationError
	switch {
	case errors.As(err, &ve):
		c.JSON(http.StatusBadRequest, gin.H{"code": http.StatusBadRequest, "message": "invalid_" + ve.Field, "data": gin.H{"reason": ve.Reason}})
	case errors.Is(err, service.ErrDuplicate):
		c.JSON(http.StatusConflict, gin.H{"code": http.StatusConflict, "message": "用户名或邮箱已存在", "data": nil})
	case errors.Is(err, service.ErrWrongPassword):
		c.JSON(http.StatusUnauthorized, gin.H{"code": http.StatusUnauthorized, "message": "当前密码不正确", "data": nil})
	case errors.Is(err, service.ErrAuth):
		c.JSON(http.StatusUnauthorized, gin.H{"code": http.StatusUnauthorized, "message": "无效的凭证", "data": nil})
	case errors.Is(err, service.ErrOwnership):
		c.Redirect(http.StatusSeeOther, defaultMessagesPath)
	case errors.Is(err, service.ErrBackendUnavailable):
		c.JSON(http.StatusServiceUnavailable, gin.H{"code": http.StatusServiceUnavailable, "message": "ollama_not_running", "data": nil})
	default:
		c.JSON(http.StatusInternalServerError, gin.H{"code": http.StatusInternalServerError, "message": "server_error", "data": nil})
	}
}

func ok(c *gin.Context, data interface{}) {
	c.JSON(http.StatusOK, gin.H{"code": http.StatusOK, "message": "success", "data": data})
}

func badRequest(c *gin.Context, message string) {
	c.JSON(http.StatusBadRequest, gin.H{"code": http.StatusBadRequest, "message": message, "data": nil})
}
