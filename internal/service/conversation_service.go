package service

import (
	"context"
	"errors"
	"strings"
	"time"

	"ollama-chat-go/internal/model"
	"ollama-chat-go/internal/repository"
	"ollama-chat-go/pkg/events"
	"ollama-chat-go/pkg/kafka"
	"ollama-chat-go/pkg/log"
)

// MessageSearcher 在某个身份的历史消息中做全文检索。
type MessageSearcher interface {
	Search(ctx context.Context, ownerID, query string, size int) ([]model.SearchHit, error)
}

// ConversationView 是某个对话及其消息。
type ConversationView struct {
	ConversationID string          `json:"conversation_id"`
	Messages       []model.Message `json:"messages"`
}

// ConversationService 定义了对话历史的查询与管理操作，全部以请求身份为作用域。
type ConversationService interface {
	List(ctx context.Context, ident model.Identity) ([]model.Conversation, error)
	// Messages 返回对话消息。哨兵 ID 解析为该身份最近的对话；不属于该身份的对话返回 ErrOwnership。
	Messages(ctx context.Context, ident model.Identity, conversationID string) (*ConversationView, error)
	New(ctx context.Context, ident model.Identity, modelName string) (*model.Conversation, error)
	Delete(ctx context.Context, ident model.Identity, conversationID string) error
	ClearAll(ctx context.Context, ident model.Identity) (int, error)
	Search(ctx context.Context, ident model.Identity, query string, size int) ([]model.SearchHit, error)
}

type conversationService struct {
	convRepo  repository.ConversationRepository
	searcher  MessageSearcher
	publisher kafka.Publisher
	models    ModelPolicy
}

// NewConversationService 创建一个新的 ConversationService 实例。
// searcher 为 nil 时退回到数据库内的关键字匹配。
func NewConversationService(convRepo repository.ConversationRepository, searcher MessageSearcher, publisher kafka.Publisher, models ModelPolicy) ConversationService {
	if searcher == nil {
		searcher = &storeSearcher{convRepo: convRepo}
	}
	if publisher == nil {
		publisher = kafka.NopPublisher{}
	}
	return &conversationService{convRepo: convRepo, searcher: searcher, publisher: publisher, models: models}
}

func (s *conversationService) List(ctx context.Context, ident model.Identity) ([]model.Conversation, error) {
	convs, err := s.convRepo.ListConversations(ctx, ident.OwnerID())
	if err != nil {
		log.Errorf("[ConversationService] 查询对话列表失败, owner: %s, error: %v", ident.OwnerID(), err)
		return nil, storageErr("list conversations", err)
	}
	return convs, nil
}

func (s *conversationService) Messages(ctx context.Context, ident model.Identity, conversationID string) (*ConversationView, error) {
	owner := ident.OwnerID()
	conversationID = NormalizeConversationID(conversationID)

	if conversationID == model.DefaultConversationID {
		latest, err := s.convRepo.LatestConversation(ctx, owner)
		if errors.Is(err, repository.ErrNotFound) {
			return &ConversationView{ConversationID: model.DefaultConversationID, Messages: []model.Message{}}, nil
		}
		if err != nil {
			log.Errorf("[ConversationService] 查询最近对话失败, owner: %s, error: %v", owner, err)
			return nil, storageErr("latest conversation", err)
		}
		conversationID = latest.ConversationID
	} else {
		owned, err := s.convRepo.IsOwnedBy(ctx, conversationID, owner)
		if err != nil {
			log.Errorf("[ConversationService] 校验对话归属失败, conversationID: %s, error: %v", conversationID, err)
			return nil, storageErr("check ownership", err)
		}
		if !owned {
			return nil, ErrOwnership
		}
	}

	msgs, err := s.convRepo.ListMessages(ctx, conversationID, 0)
	if err != nil {
		log.Errorf("[ConversationService] 查询消息失败, conversationID: %s, error: %v", conversationID, err)
		return nil, storageErr("list messages", err)
	}
	return &ConversationView{ConversationID: conversationID, Messages: msgs}, nil
}

// New 为该身份生成一个新的空对话。
func (s *conversationService) New(ctx context.Context, ident model.Identity, modelName string) (*model.Conversation, error) {
	id := newConversationID()
	if !s.convRepo.CreateConversation(ctx, ident.OwnerID(), id, s.models.Normalize(modelName)) {
		return nil, storageErr("create conversation", errors.New("insert failed"))
	}
	conv, err := s.convRepo.GetConversation(ctx, id)
	if err != nil {
		return nil, storageErr("get conversation", err)
	}
	return conv, nil
}

// Delete 删除该身份的一个对话。对话不存在时视为成功。
func (s *conversationService) Delete(ctx context.Context, ident model.Identity, conversationID string) error {
	if !ValidConversationID(conversationID) {
		return invalid("conversation_id", "malformed")
	}
	conv, err := s.convRepo.GetConversation(ctx, conversationID)
	if errors.Is(err, repository.ErrNotFound) {
		return nil
	}
	if err != nil {
		return storageErr("get conversation", err)
	}
	if conv.UserID != ident.OwnerID() {
		return ErrOwnership
	}
	if err := s.convRepo.DeleteConversation(ctx, conversationID); err != nil {
		log.Errorf("[ConversationService] 删除对话失败, conversationID: %s, error: %v", conversationID, err)
		return storageErr("delete conversation", err)
	}
	s.publishDeleted(conversationID, ident.OwnerID())
	return nil
}

// ClearAll 清空该身份的所有对话，返回删除的对话数。
func (s *conversationService) ClearAll(ctx context.Context, ident model.Identity) (int, error) {
	ids, err := s.convRepo.ClearAll(ctx, ident.OwnerID())
	if err != nil {
		log.Errorf("[ConversationService] 清空对话失败, owner: %s, error: %v", ident.OwnerID(), err)
		return 0, storageErr("clear conversations", err)
	}
	for _, id := range ids {
		s.publishDeleted(id, ident.OwnerID())
	}
	return len(ids), nil
}

// Search 检索结果总是限定在请求身份名下。
func (s *conversationService) Search(ctx context.Context, ident model.Identity, query string, size int) ([]model.SearchHit, error) {
	query, err := ValidateText("q", query, 200)
	if err != nil {
		return nil, err
	}
	if size <= 0 || size > 50 {
		size = 10
	}
	hits, err := s.searcher.Search(ctx, ident.OwnerID(), query, size)
	if err != nil {
		log.Errorf("[ConversationService] 搜索失败, owner: %s, error: %v", ident.OwnerID(), err)
		return nil, storageErr("search", err)
	}
	return hits, nil
}

func (s *conversationService) publishDeleted(conversationID, owner string) {
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	if err := s.publisher.Publish(ctx, events.NewConversationDeletedEvent(conversationID, owner)); err != nil {
		log.Warnf("[ConversationService] 发布删除事件失败, conversationID: %s, error: %v", conversationID, err)
	}
}

// storeSearcher 在未启用 Elasticsearch 时，用数据库关键字匹配实现检索。
type storeSearcher struct {
	convRepo repository.ConversationRepository
}

func (s *storeSearcher) Search(ctx context.Context, ownerID, query string, size int) ([]model.SearchHit, error) {
	return s.convRepo.SearchMessages(ctx, ownerID, strings.TrimSpace(query), size)
}
