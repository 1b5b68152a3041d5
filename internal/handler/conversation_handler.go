package handler

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"ollama-chat-go/internal/middleware"
	"ollama-chat-go/internal/service"
	"ollama-chat-go/pkg/log"
)

// ConversationHandler 处理与对话相关的 API 请求，全部以请求身份为作用域。
type ConversationHandler struct {
	service service.ConversationService
}

// NewConversationHandler 创建一个新的 ConversationHandler。
func NewConversationHandler(service service.ConversationService) *ConversationHandler {
	return &ConversationHandler{service: service}
}

// GetConversations 处理获取对话列表的请求，最近活跃的在前。
func (h *ConversationHandler) GetConversations(c *gin.Context) {
	convs, err := h.service.List(c.Request.Context(), middleware.IdentityFrom(c))
	if err != nil {
		writeError(c, err)
		return
	}
	ok(c, convs)
}

// NewConversationRequest 定义了新建对话 API 的请求体结构。
type NewConversationRequest struct {
	Model string `json:"model"`
}

// CreateConversation 生成一个新的空对话。
func (h *ConversationHandler) CreateConversation(c *gin.Context) {
	var req NewConversationRequest
	// 请求体可选
	_ = c.ShouldBindJSON(&req)

	conv, err := h.service.New(c.Request.Context(), middleware.IdentityFrom(c), req.Model)
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusCreated, gin.H{"code": http.StatusCreated, "message": "success", "data": conv})
}

// GetMessages 返回一个对话的消息。哨兵 default 解析为最近的对话。
func (h *ConversationHandler) GetMessages(c *gin.Context) {
	view, err := h.service.Messages(c.Request.Context(), middleware.IdentityFrom(c), c.Param("id"))
	if err != nil {
		writeError(c, err)
		return
	}
	ok(c, view)
}

// DeleteConversation 删除当前身份的一个对话。
func (h *ConversationHandler) DeleteConversation(c *gin.Context) {
	ident := middleware.IdentityFrom(c)
	id := c.Param("id")
	if err := h.service.Delete(c.Request.Context(), ident, id); err != nil {
		if !service.IsValidation(err) {
			log.Warnf("DeleteConversation: failed, owner: %s, conversationID: %s, error: %v", ident.OwnerID(), id, err)
		}
		writeError(c, err)
		return
	}
	ok(c, gin.H{"conversation_id": id})
}

// ClearConversations 清空当前身份的全部对话。
func (h *ConversationHandler) ClearConversations(c *gin.Context) {
	n, err := h.service.ClearAll(c.Request.Context(), middleware.IdentityFrom(c))
	if err != nil {
		writeError(c, err)
		return
	}
	ok(c, gin.H{"deleted": n})
}
