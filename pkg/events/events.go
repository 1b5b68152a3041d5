// Package events defines the chat events that are sent to Kafka.
package events

import (
	"time"

	"github.com/google/uuid"
)

// EventType 区分事件种类。
type EventType string

const (
	TypeMessageAppended     EventType = "message_appended"
	TypeConversationDeleted EventType = "conversation_deleted"
)

// ChatEvent represents a persisted message or a deleted conversation.
type ChatEvent struct {
	EventID        string    `json:"event_id"`
	Type           EventType `json:"type"`
	ConversationID string    `json:"conversation_id"`
	OwnerID        string    `json:"owner_id"`
	MessageID      uint      `json:"message_id,omitempty"`
	Role           string    `json:"role,omitempty"`
	Content        string    `json:"content,omitempty"`
	Model          string    `json:"model,omitempty"`
	Timestamp      time.Time `json:"timestamp"`
}

// NewMessageEvent 构造一条消息写入事件。
func NewMessageEvent(conversationID, ownerID string, messageID uint, role, content, model string, ts time.Time) ChatEvent {
	return ChatEvent{
		EventID:        uuid.NewString(),
		Type:           TypeMessageAppended,
		ConversationID: conversationID,
		OwnerID:        ownerID,
		MessageID:      messageID,
		Role:           role,
		Content:        content,
		Model:          model,
		Timestamp:      ts,
	}
}

// NewConversationDeletedEvent 构造一条对话删除事件。
func NewConversationDeletedEvent(conversationID, ownerID string) ChatEvent {
	return ChatEvent{
		EventID:        uuid.NewString(),
		Type:           TypeConversationDeleted,
		ConversationID: conversationID,
		OwnerID:        ownerID,
		Timestamp:      time.Now().UTC(),
	}
}
