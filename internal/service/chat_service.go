package service

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"

	"ollama-chat-go/internal/config"
	"ollama-chat-go/internal/model"
	"ollama-chat-go/internal/repository"
	"ollama-chat-go/pkg/events"
	"ollama-chat-go/pkg/kafka"
	"ollama-chat-go/pkg/llm"
	"ollama-chat-go/pkg/log"
	"ollama-chat-go/pkg/metrics"
)

// ChatOptions 是聊天编排的可配置部分。
type ChatOptions struct {
	Models           ModelPolicy
	MaxMessageLength int
	HistoryWindow    int
	SystemPrompt     string
}

// ChatOptionsFromConfig 从全局配置构造 ChatOptions。
func ChatOptionsFromConfig(cfg config.Config) ChatOptions {
	return ChatOptions{
		Models:           ModelPolicy{Default: cfg.Ollama.DefaultModel, Allowed: cfg.Ollama.AllowedModels},
		MaxMessageLength: cfg.Chat.MaxMessageLength,
		HistoryWindow:    cfg.Ollama.Prompt.HistoryWindow,
		SystemPrompt:     cfg.Ollama.Prompt.System,
	}
}

// ChatRequest 是一条入站聊天消息。
type ChatRequest struct {
	Message        string `json:"message"`
	ConversationID string `json:"conversation_id"`
	Model          string `json:"model"`
}

// ChatResult 是一次成功编排的结果。
type ChatResult struct {
	Identity         model.Identity `json:"-"`
	ConversationID   string         `json:"conversation_id"`
	Model            string         `json:"model"`
	Reply            string         `json:"reply"`
	UserMessage      *model.Message `json:"user_message"`
	AssistantMessage *model.Message `json:"assistant_message"`
}

// ChatService 定义了聊天操作的接口。
type ChatService interface {
	// Chat 解析身份、校验输入、持久化用户消息，调用推理服务并持久化助手回复。
	Chat(ctx context.Context, sess Session, req ChatRequest) (*ChatResult, error)
	// StreamChat 与 Chat 相同，但把回复分块写入 writer，完成后才持久化助手回复。
	StreamChat(ctx context.Context, sess Session, req ChatRequest, writer llm.MessageWriter) (*ChatResult, error)
}

type chatService struct {
	resolver  IdentityResolver
	convRepo  repository.ConversationRepository
	llmClient llm.Client
	publisher kafka.Publisher
	opts      ChatOptions
}

// NewChatService 创建一个新的 ChatService 实例。
func NewChatService(
	resolver IdentityResolver,
	convRepo repository.ConversationRepository,
	llmClient llm.Client,
	publisher kafka.Publisher,
	opts ChatOptions,
) ChatService {
	if publisher == nil {
		publisher = kafka.NopPublisher{}
	}
	return &chatService{
		resolver:  resolver,
		convRepo:  convRepo,
		llmClient: llmClient,
		publisher: publisher,
		opts:      opts,
	}
}

// turn 保存一次编排在调用推理服务之前的状态。
type turn struct {
	identity       model.Identity
	conversationID string
	model          string
	message        string
	created        bool
	// 已有对话在写入用户消息之前的标题与 updated_at，失败时写回
	prevTitle     string
	prevUpdatedAt time.Time
	userMessage   *model.Message
	prompt        string
}

func (s *chatService) Chat(ctx context.Context, sess Session, req ChatRequest) (*ChatResult, error) {
	t, err := s.begin(ctx, sess, req)
	if err != nil {
		return nil, err
	}

	// 6. 调用推理服务（单次尝试，不重试）
	start := time.Now()
	reply, err := s.llmClient.Generate(ctx, llm.GenerateRequest{Model: t.model, Prompt: t.prompt, System: s.opts.SystemPrompt})
	metrics.InferenceSeconds.Observe(time.Since(start).Seconds())
	if err != nil {
		return nil, s.abort(ctx, t, err)
	}

	return s.finish(ctx, t, reply)
}

func (s *chatService) StreamChat(ctx context.Context, sess Session, req ChatRequest, writer llm.MessageWriter) (*ChatResult, error) {
	t, err := s.begin(ctx, sess, req)
	if err != nil {
		return nil, err
	}

	start := time.Now()
	stream, err := s.llmClient.StreamGenerate(ctx, llm.GenerateRequest{Model: t.model, Prompt: t.prompt, System: s.opts.SystemPrompt})
	if err != nil {
		metrics.InferenceSeconds.Observe(time.Since(start).Seconds())
		return nil, s.abort(ctx, t, err)
	}
	defer stream.Close()

	// 拦截 websocket writer 以捕获完整答案，并包装为 JSON 分块
	answer := &strings.Builder{}
	interceptor := &wsWriterInterceptor{conn: writer, writer: answer}
	for {
		chunk, err := stream.Recv()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			metrics.InferenceSeconds.Observe(time.Since(start).Seconds())
			return nil, s.abort(ctx, t, err)
		}
		interceptor.WriteMessage(websocket.TextMessage, []byte(chunk))
	}
	metrics.InferenceSeconds.Observe(time.Since(start).Seconds())

	result, err := s.finish(ctx, t, strings.TrimSpace(answer.String()))
	if err != nil {
		return nil, err
	}
	sendCompletion(writer, result.ConversationID)
	return result, nil
}

// begin 执行编排中调用推理服务之前的步骤。
func (s *chatService) begin(ctx context.Context, sess Session, req ChatRequest) (*turn, error) {
	// 1. 解析身份
	ident, err := s.resolver.Resolve(ctx, sess)
	if err != nil {
		metrics.ChatRequests.WithLabelValues("error").Inc()
		return nil, err
	}

	// 2. 校验输入：消息非法直接拒绝，对话 ID 与模型回退到默认值
	message, err := ValidateText("message", req.Message, s.opts.MaxMessageLength)
	if err != nil {
		metrics.ChatRequests.WithLabelValues("invalid").Inc()
		return nil, err
	}
	t := &turn{
		identity:       ident,
		conversationID: NormalizeConversationID(req.ConversationID),
		model:          s.opts.Models.Normalize(req.Model),
		message:        message,
	}

	// 3. 推理服务不可达时不做任何写入
	if !s.llmClient.CheckConnection(ctx) {
		metrics.ChatRequests.WithLabelValues("unavailable").Inc()
		return nil, ErrBackendUnavailable
	}

	// 4. 确认对话归属，或为哨兵 ID 生成新对话
	owner := ident.OwnerID()
	if t.conversationID == model.DefaultConversationID {
		t.conversationID = newConversationID()
		t.created = true
	} else {
		conv, err := s.convRepo.GetConversation(ctx, t.conversationID)
		switch {
		case err == nil:
			if conv.UserID != owner {
				metrics.ChatRequests.WithLabelValues("ownership").Inc()
				log.Warnf("[ChatService] 拒绝访问不属于当前身份的对话, conversationID: %s, requester: %s", t.conversationID, owner)
				return nil, ErrOwnership
			}
			t.prevTitle = conv.Title
			t.prevUpdatedAt = conv.UpdatedAt
		case errors.Is(err, repository.ErrNotFound):
			// 调用方自选的新 ID，归属于当前身份
			t.created = true
		default:
			metrics.ChatRequests.WithLabelValues("error").Inc()
			log.Errorf("[ChatService] 查询对话失败, conversationID: %s, error: %v", t.conversationID, err)
			return nil, storageErr("get conversation", err)
		}
	}

	// 5. 创建对话（如需要）并写入用户消息，两者在同一事务中
	err = s.convRepo.Transaction(ctx, func(tx repository.ConversationRepository) error {
		if t.created && !tx.CreateConversation(ctx, owner, t.conversationID, t.model) {
			return errors.New("create conversation failed")
		}
		msg, err := tx.AppendMessage(ctx, t.conversationID, model.RoleUser, message, "")
		if err != nil {
			return err
		}
		t.userMessage = msg
		return nil
	})
	if err != nil {
		metrics.ChatRequests.WithLabelValues("error").Inc()
		log.Errorf("[ChatService] 写入用户消息失败, conversationID: %s, error: %v", t.conversationID, err)
		return nil, storageErr("persist user message", err)
	}
	s.publish(events.NewMessageEvent(t.conversationID, owner, t.userMessage.ID, model.RoleUser, message, "", t.userMessage.Timestamp))

	// 6. 用最近的历史构建提示词
	history, err := s.recentHistory(ctx, t)
	if err != nil {
		log.Warnf("[ChatService] 加载历史失败，仅使用当前消息, conversationID: %s, error: %v", t.conversationID, err)
	}
	t.prompt = BuildPrompt(history, message)
	return t, nil
}

// recentHistory 返回刚写入的用户消息之前的最近若干条消息，按时间升序。
func (s *chatService) recentHistory(ctx context.Context, t *turn) ([]model.Message, error) {
	if s.opts.HistoryWindow <= 0 {
		return nil, nil
	}
	msgs, err := s.convRepo.ListMessages(ctx, t.conversationID, s.opts.HistoryWindow+1)
	if err != nil {
		return nil, err
	}
	if n := len(msgs); n > 0 && msgs[n-1].ID == t.userMessage.ID {
		msgs = msgs[:n-1]
	}
	if len(msgs) > s.opts.HistoryWindow {
		msgs = msgs[len(msgs)-s.opts.HistoryWindow:]
	}
	return msgs, nil
}

// BuildPrompt 按 "role: content" 渲染历史，再拼接当前用户消息。
func BuildPrompt(history []model.Message, message string) string {
	lines := make([]string, 0, len(history))
	for _, m := range history {
		lines = append(lines, fmt.Sprintf("%s: %s", m.Role, m.Content))
	}
	return fmt.Sprintf("%s\n\nUser: %s\nAssistant:", strings.Join(lines, "\n"), message)
}

// abort 在推理失败后撤销本次请求写入的数据，不留下半截对话。
func (s *chatService) abort(ctx context.Context, t *turn, cause error) error {
	metrics.ChatRequests.WithLabelValues("unavailable").Inc()
	log.Errorf("[ChatService] 推理调用失败, conversationID: %s, model: %s, error: %v", t.conversationID, t.model, cause)

	cleanupCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 5*time.Second)
	defer cancel()
	if t.created {
		if err := s.convRepo.DeleteConversation(cleanupCtx, t.conversationID); err != nil {
			log.Errorf("[ChatService] 撤销新建对话失败, conversationID: %s, error: %v", t.conversationID, err)
		}
		s.publish(events.NewConversationDeletedEvent(t.conversationID, t.identity.OwnerID()))
	} else {
		err := s.convRepo.Transaction(cleanupCtx, func(tx repository.ConversationRepository) error {
			if err := tx.DeleteMessage(cleanupCtx, t.userMessage.ID); err != nil {
				return err
			}
			return tx.RestoreConversation(cleanupCtx, t.conversationID, t.prevTitle, t.prevUpdatedAt)
		})
		if err != nil {
			log.Errorf("[ChatService] 撤销用户消息失败, messageID: %d, error: %v", t.userMessage.ID, err)
		}
	}
	return fmt.Errorf("%w: %v", ErrBackendUnavailable, cause)
}

// finish 持久化助手回复。
func (s *chatService) finish(ctx context.Context, t *turn, reply string) (*ChatResult, error) {
	// 7. 写入助手消息，并标记使用的模型
	msg, err := s.convRepo.AppendMessage(ctx, t.conversationID, model.RoleAssistant, reply, t.model)
	if err != nil {
		metrics.ChatRequests.WithLabelValues("error").Inc()
		log.Errorf("[ChatService] 写入助手消息失败, conversationID: %s, error: %v", t.conversationID, err)
		return nil, storageErr("persist assistant message", err)
	}
	s.publish(events.NewMessageEvent(t.conversationID, t.identity.OwnerID(), msg.ID, model.RoleAssistant, reply, t.model, msg.Timestamp))
	metrics.ChatRequests.WithLabelValues("ok").Inc()

	return &ChatResult{
		Identity:         t.identity,
		ConversationID:   t.conversationID,
		Model:            t.model,
		Reply:            reply,
		UserMessage:      t.userMessage,
		AssistantMessage: msg,
	}, nil
}

// publish 发布事件，失败只记录日志。
func (s *chatService) publish(event events.ChatEvent) {
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	if err := s.publisher.Publish(ctx, event); err != nil {
		log.Warnf("[ChatService] 发布聊天事件失败, type: %s, conversationID: %s, error: %v", event.Type, event.ConversationID, err)
	}
}

func newConversationID() string {
	return "chat_" + strings.ReplaceAll(uuid.NewString(), "-", "")
}

// wsWriterInterceptor 是对 websocket 连接的封装，用于捕获写入的消息。
// 客户端断开后继续累积回复，只是不再下发。
type wsWriterInterceptor struct {
	conn   llm.MessageWriter
	writer *strings.Builder
	closed bool
}

// WriteMessage 满足 llm.MessageWriter 接口。
func (w *wsWriterInterceptor) WriteMessage(messageType int, data []byte) error {
	w.writer.Write(data)
	if w.closed || w.conn == nil {
		return nil
	}
	// 将原始分块包装成 {"chunk":"..."}
	payload := map[string]string{"chunk": string(data)}
	b, _ := json.Marshal(payload)
	if err := w.conn.WriteMessage(messageType, b); err != nil {
		log.Warnf("[ChatService] 下发分块失败，停止推送: %v", err)
		w.closed = true
	}
	return nil
}

// sendCompletion 发送完成通知 JSON
func sendCompletion(ws llm.MessageWriter, conversationID string) {
	if ws == nil {
		return
	}
	notif := map[string]interface{}{
		"type":            "completion",
		"status":          "finished",
		"conversation_id": conversationID,
		"timestamp":       time.Now().UnixMilli(),
	}
	b, _ := json.Marshal(notif)
	_ = ws.WriteMessage(websocket.TextMessage, b)
}
