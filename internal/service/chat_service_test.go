package service

import (
	"context"
	"encoding/json"
	"errors"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"ollama-chat-go/internal/model"
	"ollama-chat-go/pkg/events"
	"ollama-chat-go/pkg/llm"
)

func TestChatService_SentinelMintsConversation(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	_, sess := f.register(t, "alice")

	res, err := f.chat.Chat(ctx, sess, ChatRequest{Message: "  Hello  ", ConversationID: "default", Model: "llama3:latest"})
	require.NoError(t, err)
	assert.True(t, strings.HasPrefix(res.ConversationID, "chat_"))
	assert.True(t, ValidConversationID(res.ConversationID))
	assert.Equal(t, "llama3:latest", res.Model)
	assert.Equal(t, "Hi there!", res.Reply)

	msgs, err := f.convs.ListMessages(ctx, res.ConversationID, 0)
	require.NoError(t, err)
	require.Len(t, msgs, 2)
	assert.Equal(t, model.RoleUser, msgs[0].Role)
	assert.Equal(t, "Hello", msgs[0].Content)
	assert.Equal(t, model.RoleAssistant, msgs[1].Role)
	assert.Equal(t, "llama3:latest", msgs[1].Model)

	owned, err := f.convs.IsOwnedBy(ctx, res.ConversationID, res.Identity.OwnerID())
	require.NoError(t, err)
	assert.True(t, owned)

	assert.Equal(t, "\n\nUser: Hello\nAssistant:", f.llm.lastPrompt())
	assert.Len(t, f.publisher.ofType(events.TypeMessageAppended), 2)
}

func TestChatService_PromptUsesRecentHistoryWindow(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	_, sess := f.register(t, "alice")

	res, err := f.chat.Chat(ctx, sess, ChatRequest{Message: "first", ConversationID: "default"})
	require.NoError(t, err)
	f.llm.reply = "second answer"
	_, err = f.chat.Chat(ctx, sess, ChatRequest{Message: "second", ConversationID: res.ConversationID})
	require.NoError(t, err)
	_, err = f.chat.Chat(ctx, sess, ChatRequest{Message: "third", ConversationID: res.ConversationID})
	require.NoError(t, err)

	assert.Equal(t, "user: second\nassistant: second answer\n\nUser: third\nAssistant:", f.llm.lastPrompt())
	f.llm.mu.Lock()
	assert.Equal(t, "You are helpful.", f.llm.requests[0].System)
	assert.Equal(t, "phi3:latest", f.llm.requests[0].Model)
	f.llm.mu.Unlock()
}

func TestChatService_InvalidConversationIDFallsBackToSentinel(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)

	res, err := f.chat.Chat(ctx, &memSession{}, ChatRequest{Message: "hi", ConversationID: "../etc", Model: "unknown-model"})
	require.NoError(t, err)
	assert.NotEqual(t, "../etc", res.ConversationID)
	assert.True(t, strings.HasPrefix(res.ConversationID, "chat_"))
	assert.Equal(t, "phi3:latest", res.Model)

	_, err = f.convs.GetConversation(ctx, "../etc")
	assert.Error(t, err)
}

func TestChatService_InvalidMessageRejectedBeforeMutation(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)

	for _, msg := range []string{"", "   ", strings.Repeat("x", 1001), "<script>alert(1)</script>"} {
		_, err := f.chat.Chat(ctx, &memSession{}, ChatRequest{Message: msg})
		require.Error(t, err)
		var ve *ValidationError
		assert.True(t, errors.As(err, &ve))
		assert.Equal(t, "message", ve.Field)
	}
	convs, msgs := f.countRows(t)
	assert.Zero(t, convs)
	assert.Zero(t, msgs)
	assert.Empty(t, f.llm.requests)
}

func TestChatService_BackendUnreachableCreatesNothing(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	f.llm.down = true
	_, sess := f.register(t, "alice")

	_, err := f.chat.Chat(ctx, sess, ChatRequest{Message: "hello", ConversationID: "default"})
	assert.ErrorIs(t, err, ErrBackendUnavailable)
	_, err = f.chat.Chat(ctx, sess, ChatRequest{Message: "hello", ConversationID: "my-chat"})
	assert.ErrorIs(t, err, ErrBackendUnavailable)

	convs, msgs := f.countRows(t)
	assert.Zero(t, convs)
	assert.Zero(t, msgs)
	assert.Empty(t, f.publisher.events)
}

func TestChatService_GenerateFailureRollsBack(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	_, sess := f.register(t, "alice")

	res, err := f.chat.Chat(ctx, sess, ChatRequest{Message: "hello", ConversationID: "default"})
	require.NoError(t, err)

	f.llm.err = llm.ErrUnavailable
	_, err = f.chat.Chat(ctx, sess, ChatRequest{Message: "will fail", ConversationID: res.ConversationID})
	assert.ErrorIs(t, err, ErrBackendUnavailable)
	msgs, err := f.convs.ListMessages(ctx, res.ConversationID, 0)
	require.NoError(t, err)
	assert.Len(t, msgs, 2)

	_, err = f.chat.Chat(ctx, sess, ChatRequest{Message: "will fail", ConversationID: "default"})
	assert.ErrorIs(t, err, ErrBackendUnavailable)
	convs, total := f.countRows(t)
	assert.Equal(t, 1, convs)
	assert.Equal(t, 2, total)
}

func TestChatService_GenerateFailureKeepsEmptyConversationUntouched(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	_, sess := f.register(t, "alice")
	ident, err := f.resolver.Resolve(ctx, sess)
	require.NoError(t, err)

	conv, err := f.convSvc.New(ctx, ident, "")
	require.NoError(t, err)
	before, err := f.convs.GetConversation(ctx, conv.ConversationID)
	require.NoError(t, err)

	f.llm.err = llm.ErrUnavailable
	_, err = f.chat.Chat(ctx, sess, ChatRequest{Message: "first words", ConversationID: conv.ConversationID})
	assert.ErrorIs(t, err, ErrBackendUnavailable)

	after, err := f.convs.GetConversation(ctx, conv.ConversationID)
	require.NoError(t, err)
	assert.Equal(t, before.Title, after.Title)
	assert.Empty(t, after.Title)
	assert.True(t, before.UpdatedAt.Equal(after.UpdatedAt), "updated_at %v -> %v", before.UpdatedAt, after.UpdatedAt)
	msgs, err := f.convs.ListMessages(ctx, conv.ConversationID, 0)
	require.NoError(t, err)
	assert.Empty(t, msgs)

	// 之后成功的请求仍按首条消息生成标题
	f.llm.err = nil
	_, err = f.chat.Chat(ctx, sess, ChatRequest{Message: "second try", ConversationID: conv.ConversationID})
	require.NoError(t, err)
	after, err = f.convs.GetConversation(ctx, conv.ConversationID)
	require.NoError(t, err)
	assert.Equal(t, "second try", after.Title)
}

func TestChatService_OwnershipViolation(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	_, alice := f.register(t, "alice")
	_, bob := f.register(t, "bob")

	res, err := f.chat.Chat(ctx, alice, ChatRequest{Message: "alice secret", ConversationID: "default"})
	require.NoError(t, err)

	_, err = f.chat.Chat(ctx, bob, ChatRequest{Message: "let me in", ConversationID: res.ConversationID})
	assert.ErrorIs(t, err, ErrOwnership)

	msgs, err := f.convs.ListMessages(ctx, res.ConversationID, 0)
	require.NoError(t, err)
	assert.Len(t, msgs, 2)

	// 匿名请求同样无法访问
	_, err = f.chat.Chat(ctx, &memSession{}, ChatRequest{Message: "hi", ConversationID: res.ConversationID})
	assert.ErrorIs(t, err, ErrOwnership)
}

func TestChatService_CallerChosenIDIsCreated(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	_, sess := f.register(t, "alice")

	res, err := f.chat.Chat(ctx, sess, ChatRequest{Message: "hi", ConversationID: "my-notes_1"})
	require.NoError(t, err)
	assert.Equal(t, "my-notes_1", res.ConversationID)

	conv, err := f.convs.GetConversation(ctx, "my-notes_1")
	require.NoError(t, err)
	assert.Equal(t, res.Identity.OwnerID(), conv.UserID)
	assert.Equal(t, "hi", conv.Title)
}

func TestChatService_PublishFailureDoesNotFailChat(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	f.publisher.err = errors.New("broker down")

	_, err := f.chat.Chat(ctx, &memSession{}, ChatRequest{Message: "hi"})
	assert.NoError(t, err)
}

func TestChatService_StreamChat(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	f.llm.chunks = []string{"Hel", "lo", " world"}
	_, sess := f.register(t, "alice")

	w := &frameRecorder{}
	res, err := f.chat.StreamChat(ctx, sess, ChatRequest{Message: "hi", ConversationID: "default"}, w)
	require.NoError(t, err)
	assert.Equal(t, "Hello world", res.Reply)

	require.Len(t, w.frames, 4)
	var chunk map[string]string
	require.NoError(t, json.Unmarshal([]byte(w.frames[0]), &chunk))
	assert.Equal(t, "Hel", chunk["chunk"])
	var done map[string]interface{}
	require.NoError(t, json.Unmarshal([]byte(w.frames[3]), &done))
	assert.Equal(t, "completion", done["type"])
	assert.Equal(t, res.ConversationID, done["conversation_id"])

	msgs, err := f.convs.ListMessages(ctx, res.ConversationID, 0)
	require.NoError(t, err)
	require.Len(t, msgs, 2)
	assert.Equal(t, "Hello world", msgs[1].Content)
}

func TestChatService_StreamChatKeepsAnswerWhenClientLeaves(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	f.llm.chunks = []string{"a", "b", "c"}

	w := &frameRecorder{failAt: 2}
	res, err := f.chat.StreamChat(ctx, &memSession{}, ChatRequest{Message: "hi"}, w)
	require.NoError(t, err)
	assert.Equal(t, "abc", res.Reply)
	assert.Len(t, w.frames, 1)
}

func TestBuildPrompt(t *testing.T) {
	history := []model.Message{
		{Role: model.RoleUser, Content: "q1"},
		{Role: model.RoleAssistant, Content: "a1"},
	}
	assert.Equal(t, "user: q1\nassistant: a1\n\nUser: q2\nAssistant:", BuildPrompt(history, "q2"))
	assert.Equal(t, "\n\nUser: q\nAssistant:", BuildPrompt(nil, "q"))
}
