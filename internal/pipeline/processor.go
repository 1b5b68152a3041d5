// Package pipeline 定义了聊天事件进入搜索索引的处理流程。
package pipeline

import (
	"context"
	"errors"
	"fmt"

	"ollama-chat-go/internal/model"
	"ollama-chat-go/internal/repository"
	"ollama-chat-go/pkg/events"
	"ollama-chat-go/pkg/log"
)

// Indexer 是消息索引的写入端。
type Indexer interface {
	IndexMessage(ctx context.Context, doc model.MessageDocument) error
	DeleteByConversation(ctx context.Context, conversationID string) error
}

// Processor 封装了事件处理的所有依赖和逻辑。
type Processor struct {
	indexer  Indexer
	convRepo repository.ConversationRepository
}

// NewProcessor 创建一个新的 Processor 实例。
func NewProcessor(indexer Indexer, convRepo repository.ConversationRepository) *Processor {
	return &Processor{indexer: indexer, convRepo: convRepo}
}

// Process 是事件处理的主函数。
func (p *Processor) Process(ctx context.Context, event events.ChatEvent) error {
	log.Infof("[Processor] 开始处理事件, EventID: %s, Type: %s, ConversationID: %s", event.EventID, event.Type, event.ConversationID)

	switch event.Type {
	case events.TypeMessageAppended:
		return p.indexMessage(ctx, event)
	case events.TypeConversationDeleted:
		if err := p.indexer.DeleteByConversation(ctx, event.ConversationID); err != nil {
			log.Errorf("[Processor] 删除对话索引失败, ConversationID: %s, Error: %v", event.ConversationID, err)
			return fmt.Errorf("删除对话索引失败: %w", err)
		}
		log.Infof("[Processor] 对话索引已删除, ConversationID: %s", event.ConversationID)
		return nil
	default:
		log.Warnf("[Processor] 未知的事件类型 '%s', 已忽略", event.Type)
		return nil
	}
}

func (p *Processor) indexMessage(ctx context.Context, event events.ChatEvent) error {
	// 1. 确认对话仍然存在；补偿删除后到达的旧事件直接丢弃
	conv, err := p.convRepo.GetConversation(ctx, event.ConversationID)
	if errors.Is(err, repository.ErrNotFound) {
		log.Warnf("[Processor] 对话已不存在, 跳过索引, ConversationID: %s", event.ConversationID)
		return nil
	}
	if err != nil {
		return fmt.Errorf("查询对话失败: %w", err)
	}

	// 2. 归属以数据库为准
	doc := model.MessageDocument{
		DocID:          fmt.Sprintf("%s_%d", event.ConversationID, event.MessageID),
		MessageID:      event.MessageID,
		ConversationID: event.ConversationID,
		OwnerID:        conv.UserID,
		Role:           event.Role,
		Content:        event.Content,
		Model:          event.Model,
		Timestamp:      event.Timestamp,
	}
	if conv.UserID != event.OwnerID {
		log.Warnf("[Processor] 事件 owner 与对话不一致, EventID: %s, event: %s, stored: %s", event.EventID, event.OwnerID, conv.UserID)
	}

	// 3. 索引到 Elasticsearch
	if err := p.indexer.IndexMessage(ctx, doc); err != nil {
		log.Errorf("[Processor] 索引消息失败, DocID: %s, Error: %v", doc.DocID, err)
		return fmt.Errorf("索引消息到 Elasticsearch 失败: %w", err)
	}
	log.Infof("[Processor] 消息索引成功, DocID: %s", doc.DocID)
	return nil
}
