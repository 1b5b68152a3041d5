package repository

import (
	"context"
	"errors"
	"strings"
	"time"
	"unicode/utf8"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"ollama-chat-go/internal/model"
	"ollama-chat-go/pkg/log"
)

// titleMaxRunes 是由首条用户消息生成的对话标题的最大长度。
const titleMaxRunes = 50

// ConversationRepository 定义了身份、对话与消息的持久化操作，所有对话都以归属身份字符串为作用域。
type ConversationRepository interface {
	// Transaction 在一个数据库事务中执行 fn，fn 返回错误时整体回滚。
	Transaction(ctx context.Context, fn func(repo ConversationRepository) error) error

	GetOrCreateIdentity(ctx context.Context, userID, displayName string) (string, error)
	GetIdentity(ctx context.Context, userID string) (*model.ChatUser, error)

	CreateConversation(ctx context.Context, ownerID, conversationID, modelName string) bool
	GetConversation(ctx context.Context, conversationID string) (*model.Conversation, error)
	LatestConversation(ctx context.Context, ownerID string) (*model.Conversation, error)
	ListConversations(ctx context.Context, ownerID string) ([]model.Conversation, error)
	IsOwnedBy(ctx context.Context, conversationID, ownerID string) (bool, error)
	DeleteConversation(ctx context.Context, conversationID string) error
	ClearAll(ctx context.Context, ownerID string) ([]string, error)

	AppendMessage(ctx context.Context, conversationID, role, content, modelName string) (*model.Message, error)
	ListMessages(ctx context.Context, conversationID string, limit int) ([]model.Message, error)
	DeleteMessage(ctx context.Context, messageID uint) error
	// RestoreConversation 把对话的标题与 updated_at 写回到给定的值。
	RestoreConversation(ctx context.Context, conversationID, title string, updatedAt time.Time) error
	SearchMessages(ctx context.Context, ownerID, query string, limit int) ([]model.SearchHit, error)

	Stats(ctx context.Context, activeSince time.Time) (model.StoreStats, error)
	ExportIdentity(ctx context.Context, userID string) (*model.IdentityExport, error)
	CleanupInactive(ctx context.Context, before time.Time) (int64, error)
}

type conversationRepository struct {
	db *gorm.DB
}

// NewConversationRepository 创建一个新的 ConversationRepository 实例。
func NewConversationRepository(db *gorm.DB) ConversationRepository {
	return &conversationRepository{db: db}
}

func (r *conversationRepository) Transaction(ctx context.Context, fn func(repo ConversationRepository) error) error {
	return r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		return fn(&conversationRepository{db: tx})
	})
}

// GetOrCreateIdentity 幂等地写入身份记录；已存在时刷新 last_active。
func (r *conversationRepository) GetOrCreateIdentity(ctx context.Context, userID, displayName string) (string, error) {
	now := time.Now().UTC()
	user := model.ChatUser{
		UserID:     userID,
		Username:   displayName,
		CreatedAt:  now,
		LastActive: now,
	}
	err := r.db.WithContext(ctx).Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "user_id"}},
		DoUpdates: clause.Assignments(map[string]interface{}{"last_active": now}),
	}).Create(&user).Error
	if err != nil {
		log.Errorf("写入身份记录失败, userID: %s, error: %v", userID, err)
		return "", err
	}
	return userID, nil
}

func (r *conversationRepository) GetIdentity(ctx context.Context, userID string) (*model.ChatUser, error) {
	var user model.ChatUser
	if err := r.db.WithContext(ctx).Where("user_id = ?", userID).First(&user).Error; err != nil {
		return nil, translate(err)
	}
	return &user, nil
}

// CreateConversation 创建一个对话。写入失败（包括约束冲突）时记录日志并返回 false，调用方必须检查返回值。
func (r *conversationRepository) CreateConversation(ctx context.Context, ownerID, conversationID, modelName string) bool {
	now := time.Now().UTC()
	conv := model.Conversation{
		UserID:         ownerID,
		ConversationID: conversationID,
		Model:          modelName,
		CreatedAt:      now,
		UpdatedAt:      now,
	}
	if err := r.db.WithContext(ctx).Create(&conv).Error; err != nil {
		log.Errorf("创建对话失败, conversationID: %s, owner: %s, error: %v", conversationID, ownerID, err)
		return false
	}
	return true
}

func (r *conversationRepository) GetConversation(ctx context.Context, conversationID string) (*model.Conversation, error) {
	var conv model.Conversation
	if err := r.db.WithContext(ctx).Where("conversation_id = ?", conversationID).First(&conv).Error; err != nil {
		return nil, translate(err)
	}
	return &conv, nil
}

// LatestConversation 返回该身份最近活跃的对话。
func (r *conversationRepository) LatestConversation(ctx context.Context, ownerID string) (*model.Conversation, error) {
	var conv model.Conversation
	err := r.db.WithContext(ctx).
		Where("user_id = ?", ownerID).
		Order("updated_at DESC").Order("id DESC").
		First(&conv).Error
	if err != nil {
		return nil, translate(err)
	}
	return &conv, nil
}

// ListConversations 按 updated_at 倒序返回该身份的所有对话。
func (r *conversationRepository) ListConversations(ctx context.Context, ownerID string) ([]model.Conversation, error) {
	var convs []model.Conversation
	err := r.db.WithContext(ctx).
		Where("user_id = ?", ownerID).
		Order("updated_at DESC").Order("id DESC").
		Find(&convs).Error
	if err != nil {
		return nil, err
	}
	return convs, nil
}

func (r *conversationRepository) IsOwnedBy(ctx context.Context, conversationID, ownerID string) (bool, error) {
	var count int64
	err := r.db.WithContext(ctx).Model(&model.Conversation{}).
		Where("conversation_id = ? AND user_id = ?", conversationID, ownerID).
		Count(&count).Error
	if err != nil {
		return false, err
	}
	return count > 0, nil
}

// DeleteConversation 先删除消息再删除对话。删除不存在的对话不是错误。
func (r *conversationRepository) DeleteConversation(ctx context.Context, conversationID string) error {
	return r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Where("conversation_id = ?", conversationID).Delete(&model.Message{}).Error; err != nil {
			return err
		}
		return tx.Where("conversation_id = ?", conversationID).Delete(&model.Conversation{}).Error
	})
}

// ClearAll 删除该身份名下所有对话及其消息，返回被删除的对话 ID。
func (r *conversationRepository) ClearAll(ctx context.Context, ownerID string) ([]string, error) {
	var ids []string
	err := r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Model(&model.Conversation{}).Where("user_id = ?", ownerID).Pluck("conversation_id", &ids).Error; err != nil {
			return err
		}
		if len(ids) == 0 {
			return nil
		}
		if err := tx.Where("conversation_id IN ?", ids).Delete(&model.Message{}).Error; err != nil {
			return err
		}
		return tx.Where("user_id = ?", ownerID).Delete(&model.Conversation{}).Error
	})
	if err != nil {
		return nil, err
	}
	return ids, nil
}

// AppendMessage 在一个事务中写入消息并刷新对话的 updated_at。
// 对话还没有标题时，用首条用户消息的前 50 个字符作为标题。
func (r *conversationRepository) AppendMessage(ctx context.Context, conversationID, role, content, modelName string) (*model.Message, error) {
	msg := model.Message{
		ConversationID: conversationID,
		Role:           role,
		Content:        content,
		Model:          modelName,
		Timestamp:      time.Now().UTC(),
	}
	err := r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var conv model.Conversation
		if err := tx.Where("conversation_id = ?", conversationID).First(&conv).Error; err != nil {
			return translate(err)
		}
		if err := tx.Create(&msg).Error; err != nil {
			return err
		}
		fields := map[string]interface{}{"updated_at": msg.Timestamp}
		if conv.Title == "" && role == model.RoleUser {
			fields["title"] = truncateRunes(content, titleMaxRunes)
		}
		return tx.Model(&model.Conversation{}).Where("conversation_id = ?", conversationID).Updates(fields).Error
	})
	if err != nil {
		return nil, err
	}
	return &msg, nil
}

// ListMessages 返回最近的 limit 条消息，按时间升序排列。limit <= 0 时返回全部。
func (r *conversationRepository) ListMessages(ctx context.Context, conversationID string, limit int) ([]model.Message, error) {
	var msgs []model.Message
	q := r.db.WithContext(ctx).
		Where("conversation_id = ?", conversationID).
		Order("timestamp DESC").Order("id DESC")
	if limit > 0 {
		q = q.Limit(limit)
	}
	if err := q.Find(&msgs).Error; err != nil {
		return nil, err
	}
	// 倒序取出的结果需要翻转为时间升序
	for i, j := 0, len(msgs)-1; i < j; i, j = i+1, j-1 {
		msgs[i], msgs[j] = msgs[j], msgs[i]
	}
	return msgs, nil
}

func (r *conversationRepository) DeleteMessage(ctx context.Context, messageID uint) error {
	return r.db.WithContext(ctx).Delete(&model.Message{}, messageID).Error
}

func (r *conversationRepository) RestoreConversation(ctx context.Context, conversationID, title string, updatedAt time.Time) error {
	return r.db.WithContext(ctx).Model(&model.Conversation{}).
		Where("conversation_id = ?", conversationID).
		Updates(map[string]interface{}{"title": title, "updated_at": updatedAt}).Error
}

// SearchMessages 在该身份名下的消息中做不区分大小写的子串匹配，最新的在前。
func (r *conversationRepository) SearchMessages(ctx context.Context, ownerID, query string, limit int) ([]model.SearchHit, error) {
	var msgs []model.Message
	pattern := "%" + escapeLike(strings.ToLower(query)) + "%"
	err := r.db.WithContext(ctx).
		Select("messages.*").
		Joins("JOIN conversations ON conversations.conversation_id = messages.conversation_id").
		Where("conversations.user_id = ? AND LOWER(messages.content) LIKE ? ESCAPE '!'", ownerID, pattern).
		Order("messages.timestamp DESC").
		Limit(limit).
		Find(&msgs).Error
	if err != nil {
		return nil, err
	}
	hits := make([]model.SearchHit, 0, len(msgs))
	for _, m := range msgs {
		hits = append(hits, model.SearchHit{
			ConversationID: m.ConversationID,
			MessageID:      m.ID,
			Role:           m.Role,
			Content:        m.Content,
			Timestamp:      m.Timestamp,
		})
	}
	return hits, nil
}

func escapeLike(s string) string {
	return strings.NewReplacer("!", "!!", "%", "!%", "_", "!_").Replace(s)
}

// Stats 汇总各表记录数；activeSince 之后活跃的身份计入 ActiveUsers。
func (r *conversationRepository) Stats(ctx context.Context, activeSince time.Time) (model.StoreStats, error) {
	var stats model.StoreStats
	db := r.db.WithContext(ctx)
	if err := db.Model(&model.ChatUser{}).Count(&stats.Users).Error; err != nil {
		return stats, err
	}
	if err := db.Model(&model.Conversation{}).Count(&stats.Conversations).Error; err != nil {
		return stats, err
	}
	if err := db.Model(&model.Message{}).Count(&stats.Messages).Error; err != nil {
		return stats, err
	}
	if err := db.Model(&model.ChatUser{}).Where("last_active > ?", activeSince.UTC()).Count(&stats.ActiveUsers).Error; err != nil {
		return stats, err
	}
	return stats, nil
}

// ExportIdentity 导出一个身份及其全部对话，对话按 updated_at 倒序，消息按时间升序。
func (r *conversationRepository) ExportIdentity(ctx context.Context, userID string) (*model.IdentityExport, error) {
	user, err := r.GetIdentity(ctx, userID)
	if err != nil {
		return nil, err
	}
	convs, err := r.ListConversations(ctx, userID)
	if err != nil {
		return nil, err
	}

	export := &model.IdentityExport{
		UserID:        user.UserID,
		Username:      user.Username,
		CreatedAt:     model.LocalTime(user.CreatedAt),
		LastActive:    model.LocalTime(user.LastActive),
		Conversations: make([]model.ConversationExport, 0, len(convs)),
	}
	for _, c := range convs {
		msgs, err := r.ListMessages(ctx, c.ConversationID, 0)
		if err != nil {
			return nil, err
		}
		ce := model.ConversationExport{
			ConversationID: c.ConversationID,
			Title:          c.Title,
			Model:          c.Model,
			CreatedAt:      model.LocalTime(c.CreatedAt),
			UpdatedAt:      model.LocalTime(c.UpdatedAt),
			Messages:       make([]model.MessageExport, 0, len(msgs)),
		}
		for _, m := range msgs {
			ce.Messages = append(ce.Messages, model.MessageExport{
				Role:      m.Role,
				Content:   m.Content,
				Model:     m.Model,
				Timestamp: model.LocalTime(m.Timestamp),
			})
		}
		export.Conversations = append(export.Conversations, ce)
	}
	return export, nil
}

// CleanupInactive 删除 before 之前不再活跃的身份及其对话与消息，返回删除的身份数。
func (r *conversationRepository) CleanupInactive(ctx context.Context, before time.Time) (int64, error) {
	var removed int64
	err := r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var userIDs []string
		if err := tx.Model(&model.ChatUser{}).Where("last_active < ?", before.UTC()).Pluck("user_id", &userIDs).Error; err != nil {
			return err
		}
		if len(userIDs) == 0 {
			return nil
		}
		var convIDs []string
		if err := tx.Model(&model.Conversation{}).Where("user_id IN ?", userIDs).Pluck("conversation_id", &convIDs).Error; err != nil {
			return err
		}
		if len(convIDs) > 0 {
			if err := tx.Where("conversation_id IN ?", convIDs).Delete(&model.Message{}).Error; err != nil {
				return err
			}
			if err := tx.Where("conversation_id IN ?", convIDs).Delete(&model.Conversation{}).Error; err != nil {
				return err
			}
		}
		res := tx.Where("user_id IN ?", userIDs).Delete(&model.ChatUser{})
		if res.Error != nil {
			return res.Error
		}
		removed = res.RowsAffected
		return nil
	})
	return removed, err
}

func truncateRunes(s string, n int) string {
	if utf8.RuneCountInString(s) <= n {
		return s
	}
	runes := []rune(s)
	return string(runes[:n])
}

// IsNotFound 判断错误是否表示记录不存在。
func IsNotFound(err error) bool {
	return errors.Is(err, ErrNotFound)
}
