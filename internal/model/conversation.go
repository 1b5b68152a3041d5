package model

import "time"

const (
	RoleUser      = "user"
	RoleAssistant = "assistant"

	// DefaultConversationID 是哨兵对话 ID，表示“使用最近的对话或新建一个”。
	DefaultConversationID = "default"
)

// Conversation 对应于 conversations 表，归属于唯一的身份字符串。
type Conversation struct {
	ID             uint      `gorm:"primaryKey" json:"-"`
	UserID         string    `gorm:"type:varchar(100);index;not null" json:"userId"`
	ConversationID string    `gorm:"type:varchar(100);uniqueIndex;not null" json:"conversationId"`
	Title          string    `gorm:"type:varchar(255)" json:"title"`
	Model          string    `gorm:"type:varchar(100)" json:"model"`
	CreatedAt      time.Time `json:"createdAt"`
	UpdatedAt      time.Time `gorm:"index" json:"updatedAt"`
}

// TableName 指定了此模型在数据库中对应的表名。
func (Conversation) TableName() string {
	return "conversations"
}

// Message 对应于 messages 表，按时间戳升序构成对话历史。
type Message struct {
	ID             uint      `gorm:"primaryKey" json:"id"`
	ConversationID string    `gorm:"type:varchar(100);index:idx_messages_conv_ts,priority:1;not null" json:"conversationId"`
	Role           string    `gorm:"type:varchar(20);not null" json:"role"` // "user" 或 "assistant"
	Content        string    `gorm:"type:text;not null" json:"content"`
	Model          string    `gorm:"type:varchar(100)" json:"model,omitempty"`
	Timestamp      time.Time `gorm:"index:idx_messages_conv_ts,priority:2" json:"timestamp"`
}

// TableName 指定了此模型在数据库中对应的表名。
func (Message) TableName() string {
	return "messages"
}

// ConversationExport 是导出文件中的单个对话。
type ConversationExport struct {
	ConversationID string          `json:"conversation_id"`
	Title          string          `json:"title"`
	Model          string          `json:"model"`
	CreatedAt      LocalTime       `json:"created_at"`
	UpdatedAt      LocalTime       `json:"updated_at"`
	Messages       []MessageExport `json:"messages"`
}

// MessageExport 是导出文件中的单条消息。
type MessageExport struct {
	Role      string    `json:"role"`
	Content   string    `json:"content"`
	Model     string    `json:"model"`
	Timestamp LocalTime `json:"timestamp"`
}

// IdentityExport 是 chatdb export 输出的根结构。
type IdentityExport struct {
	UserID        string               `json:"user_id"`
	Username      string               `json:"username"`
	CreatedAt     LocalTime            `json:"created_at"`
	LastActive    LocalTime            `json:"last_active"`
	Conversations []ConversationExport `json:"conversations"`
}

// StoreStats 汇总了存储中的记录数。
type StoreStats struct {
	Users         int64 `json:"users"`
	Conversations int64 `json:"conversations"`
	Messages      int64 `json:"messages"`
	ActiveUsers   int64 `json:"active_users"`
}
