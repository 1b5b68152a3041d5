package middleware

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"ollama-chat-go/pkg/log"
	"ollama-chat-go/pkg/metrics"
	"ollama-chat-go/pkg/ratelimit"
)

// RateLimit 按客户端地址限流。
func RateLimit(limiter ratelimit.Limiter) gin.HandlerFunc {
	return func(c *gin.Context) {
		ip := c.ClientIP()
		if !limiter.TryAcquire(c.Request.Context(), ip) {
			metrics.RateLimited.Inc()
			log.Warnf("请求被限流, clientIP: %s, path: %s", ip, c.Request.URL.Path)
			c.AbortWithStatusJSON(http.StatusTooManyRequests, gin.H{
				"code":    http.StatusTooManyRequests,
				"message": "rate_limit_exceeded",
				"data":    nil,
			})
			return
		}
		c.Next()
	}
}
