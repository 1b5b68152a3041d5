package handler

import (
	"strconv"

	"github.com/gin-gonic/gin"

	"ollama-chat-go/internal/middleware"
	"ollama-chat-go/internal/service"
	"ollama-chat-go/pkg/log"
)

// SearchHandler 结构体定义了历史消息搜索的处理器。
type SearchHandler struct {
	conversationService service.ConversationService
}

// NewSearchHandler 创建一个新的 SearchHandler 实例。
func NewSearchHandler(conversationService service.ConversationService) *SearchHandler {
	return &SearchHandler{conversationService: conversationService}
}

// Search 在当前身份的历史消息中检索关键字。
func (h *SearchHandler) Search(c *gin.Context) {
	query := c.Query("q")
	if query == "" {
		log.Warnf("[SearchHandler] 搜索请求失败: q 参数为空")
		badRequest(c, "invalid_q")
		return
	}
	size, err := strconv.Atoi(c.DefaultQuery("size", "10"))
	if err != nil || size <= 0 {
		size = 10
	}

	ident := middleware.IdentityFrom(c)
	results, err := h.conversationService.Search(c.Request.Context(), ident, query, size)
	if err != nil {
		writeError(c, err)
		return
	}

	log.Infof("[SearchHandler] 搜索成功, owner: %s, 返回 %d 条结果", ident.OwnerID(), len(results))
	ok(c, results)
}
