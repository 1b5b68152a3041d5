package model

import "time"

// MessageDocument 代表存储在 Elasticsearch 中的消息文档。
type MessageDocument struct {
	DocID          string    `json:"doc_id"` // conversationId + messageId
	MessageID      uint      `json:"message_id"`
	ConversationID string    `json:"conversation_id"`
	OwnerID        string    `json:"owner_id"`
	Role           string    `json:"role"`
	Content        string    `json:"content"`
	Model          string    `json:"model"`
	Timestamp      time.Time `json:"timestamp"`
}

// SearchHit 定义了返回给前端的历史搜索结果。
type SearchHit struct {
	ConversationID string    `json:"conversationId"`
	MessageID      uint      `json:"messageId"`
	Role           string    `json:"role"`
	Content        string    `json:"content"`
	Timestamp      time.Time `json:"timestamp"`
	Score          float64   `json:"score"`
}
