package handler

import (
	"net/http"
	"time"

	"github.com/gin-gonic/gin"

	"ollama-chat-go/internal/service"
	"ollama-chat-go/pkg/llm"
	"ollama-chat-go/pkg/log"
)

// HealthHandler 报告推理服务的连通性与可用模型。
type HealthHandler struct {
	llmClient llm.Client
	models    service.ModelPolicy
}

// NewHealthHandler 创建一个新的 HealthHandler。
func NewHealthHandler(llmClient llm.Client, models service.ModelPolicy) *HealthHandler {
	return &HealthHandler{llmClient: llmClient, models: models}
}

// Health 推理服务不可达时返回 503。
func (h *HealthHandler) Health(c *gin.Context) {
	if !h.llmClient.CheckConnection(c.Request.Context()) {
		c.JSON(http.StatusServiceUnavailable, gin.H{"code": http.StatusServiceUnavailable, "message": "ollama_not_running", "data": gin.H{"status": "unhealthy"}})
		return
	}
	ok(c, gin.H{"status": "healthy", "timestamp": time.Now().UTC()})
}

// Status 总是返回 200，data 中标明推理服务是否在线。
func (h *HealthHandler) Status(c *gin.Context) {
	ok(c, gin.H{
		"ollama_running": h.llmClient.CheckConnection(c.Request.Context()),
		"default_model":  h.models.Default,
		"timestamp":      time.Now().UTC(),
	})
}

// Models 返回推理服务已安装的模型；不可达或为空时退回到配置的允许列表。
func (h *HealthHandler) Models(c *gin.Context) {
	models, err := h.llmClient.ListModels(c.Request.Context())
	if err != nil {
		log.Warnf("[HealthHandler] 获取模型列表失败: %v", err)
	}
	if len(models) == 0 {
		models = h.models.Allowed
	}
	ok(c, gin.H{"models": models, "default": h.models.Default})
}
