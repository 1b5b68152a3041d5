// Package middleware 提供了处理 HTTP 请求的中间件。
package middleware

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"ollama-chat-go/internal/model"
	"ollama-chat-go/internal/service"
	"ollama-chat-go/pkg/session"
)

// Gin 上下文中保存的键。
const (
	ContextSession  = "session"
	ContextIdentity = "identity"
)

// Session 从 cookie 中加载会话并存入 Gin 的上下文。
func Session(mgr *session.Manager) gin.HandlerFunc {
	return func(c *gin.Context) {
		c.Set(ContextSession, mgr.Load(c.Writer, c.Request))
		c.Next()
	}
}

// SessionFrom 返回当前请求的会话；Session 中间件未运行时返回一个空会话。
func SessionFrom(c *gin.Context) service.Session {
	if v, ok := c.Get(ContextSession); ok {
		if s, ok := v.(service.Session); ok {
			return s
		}
	}
	return &nopSession{}
}

// IdentityFrom 返回 ResolveIdentity 或 AuthMiddleware 解析出的身份。
func IdentityFrom(c *gin.Context) model.Identity {
	return c.MustGet(ContextIdentity).(model.Identity)
}

// ResolveIdentity 解析请求身份（已登录或匿名）并存入上下文。
func ResolveIdentity(resolver service.IdentityResolver) gin.HandlerFunc {
	return func(c *gin.Context) {
		ident, err := resolver.Resolve(c.Request.Context(), SessionFrom(c))
		if err != nil {
			c.AbortWithStatusJSON(http.StatusInternalServerError, gin.H{"code": http.StatusInternalServerError, "message": "server_error", "data": nil})
			return
		}
		c.Set(ContextIdentity, ident)
		c.Next()
	}
}

// AuthMiddleware 创建一个 Gin 中间件，要求请求来自已登录用户。
func AuthMiddleware(resolver service.IdentityResolver) gin.HandlerFunc {
	return func(c *gin.Context) {
		ident, err := resolver.Resolve(c.Request.Context(), SessionFrom(c))
		if err != nil {
			c.AbortWithStatusJSON(http.StatusInternalServerError, gin.H{"code": http.StatusInternalServerError, "message": "server_error", "data": nil})
			return
		}
		if !ident.IsAuthenticated() {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"code": http.StatusUnauthorized, "message": "请先登录", "data": nil})
			return
		}
		c.Set(ContextIdentity, ident)
		c.Next()
	}
}

type nopSession struct{ v interface{} }

func (s *nopSession) Value() interface{}     { return s.v }
func (s *nopSession) SetValue(v interface{}) { s.v = v }
func (s *nopSession) Clear()                 { s.v = nil }
