package handler

import (
	"encoding/json"
	"errors"
	"net/http"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"

	"ollama-chat-go/internal/middleware"
	"ollama-chat-go/internal/model"
	"ollama-chat-go/internal/service"
	"ollama-chat-go/pkg/log"
	"ollama-chat-go/pkg/metrics"
	"ollama-chat-go/pkg/ratelimit"
)

var (
	upgrader = websocket.Upgrader{
		CheckOrigin: func(r *http.Request) bool {
			return true // 允许所有来源
		},
	}
)

// ChatHandler 负责处理聊天请求，包括普通 HTTP 与 WebSocket 流式两种方式。
type ChatHandler struct {
	chatService service.ChatService
	limiter     ratelimit.Limiter
}

// NewChatHandler 创建一个新的 ChatHandler。limiter 用于 WebSocket 上的逐条限流。
func NewChatHandler(chatService service.ChatService, limiter ratelimit.Limiter) *ChatHandler {
	return &ChatHandler{chatService: chatService, limiter: limiter}
}

// Chat 处理一次完整的聊天请求，返回完整回复。
func (h *ChatHandler) Chat(c *gin.Context) {
	var req service.ChatRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, "invalid_message")
		return
	}

	result, err := h.chatService.Chat(c.Request.Context(), middleware.SessionFrom(c), req)
	if err != nil {
		if !service.IsValidation(err) && !errors.Is(err, service.ErrOwnership) {
			log.Errorf("[ChatHandler] 聊天失败, clientIP: %s, error: %v", c.ClientIP(), err)
		}
		writeError(c, err)
		return
	}
	ok(c, result)
}

// Stream 处理一个传入的 WebSocket 连接。每个文本帧是一条 JSON 聊天请求。
func (h *ChatHandler) Stream(c *gin.Context) {
	sess := middleware.SessionFrom(c)
	clientIP := c.ClientIP()

	conn, err := upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		log.Error("WebSocket 升级失败", err)
		return
	}
	defer conn.Close()

	log.Infof("WebSocket 连接已建立, clientIP: %s", clientIP)

	for {
		_, message, err := conn.ReadMessage()
		if err != nil {
			if !websocket.IsCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
				log.Warnf("从 WebSocket 读取消息失败: %v", err)
			}
			break
		}

		req := parseStreamRequest(message)

		if h.limiter != nil && !h.limiter.TryAcquire(c.Request.Context(), clientIP) {
			metrics.RateLimited.Inc()
			if writeFrame(conn, gin.H{"error": "rate_limit_exceeded"}) != nil {
				break
			}
			continue
		}

		// 调用 ChatService 处理完整的流式逻辑，成功时由服务发送 completion 通知
		if _, err := h.chatService.StreamChat(c.Request.Context(), sess, req, conn); err != nil {
			frame := gin.H{"error": streamErrorFlag(err)}
			if errors.Is(err, service.ErrOwnership) {
				frame["conversation_id"] = model.DefaultConversationID
			}
			if !service.IsValidation(err) && !errors.Is(err, service.ErrOwnership) {
				log.Errorf("处理流式响应失败: %v", err)
			}
			if writeFrame(conn, frame) != nil {
				break
			}
			// 错误时也发送 completion 通知
			if writeFrame(conn, gin.H{
				"type":      "completion",
				"status":    "error",
				"timestamp": time.Now().UnixMilli(),
			}) != nil {
				break
			}
		}
	}
}

// parseStreamRequest 兼容纯文本帧：非 JSON 的帧整体作为消息内容。
func parseStreamRequest(message []byte) service.ChatRequest {
	var req service.ChatRequest
	trimmed := strings.TrimSpace(string(message))
	if strings.HasPrefix(trimmed, "{") && json.Unmarshal(message, &req) == nil {
		return req
	}
	return service.ChatRequest{Message: string(message)}
}

func streamErrorFlag(err error) string {
	var ve *service.ValidationError
	switch {
	case errors.As(err, &ve):
		return "invalid_" + ve.Field
	case errors.Is(err, service.ErrOwnership):
		return "redirect"
	case errors.Is(err, service.ErrBackendUnavailable):
		return "ollama_not_running"
	default:
		return "server_error"
	}
}

func writeFrame(conn *websocket.Conn, v interface{}) error {
	b, err := json.Marshal(v)
	if err != nil {
		return err
	}
	return conn.WriteMessage(websocket.TextMessage, b)
}
