package service

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"ollama-chat-go/internal/model"
	"ollama-chat-go/pkg/events"
)

func TestConversationService_MessagesEnforcesOwnership(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	_, alice := f.register(t, "alice")
	_, bob := f.register(t, "bob")

	res, err := f.chat.Chat(ctx, alice, ChatRequest{Message: "private"})
	require.NoError(t, err)
	aliceID, err := f.resolver.Resolve(ctx, alice)
	require.NoError(t, err)
	bobID, err := f.resolver.Resolve(ctx, bob)
	require.NoError(t, err)

	view, err := f.convSvc.Messages(ctx, aliceID, res.ConversationID)
	require.NoError(t, err)
	assert.Len(t, view.Messages, 2)

	view, err = f.convSvc.Messages(ctx, bobID, res.ConversationID)
	assert.ErrorIs(t, err, ErrOwnership)
	assert.Nil(t, view)
}

func TestConversationService_SentinelResolvesToLatest(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	_, alice := f.register(t, "alice")
	ident, err := f.resolver.Resolve(ctx, alice)
	require.NoError(t, err)

	view, err := f.convSvc.Messages(ctx, ident, "default")
	require.NoError(t, err)
	assert.Equal(t, model.DefaultConversationID, view.ConversationID)
	assert.Empty(t, view.Messages)

	_, err = f.chat.Chat(ctx, alice, ChatRequest{Message: "one"})
	require.NoError(t, err)
	second, err := f.chat.Chat(ctx, alice, ChatRequest{Message: "two"})
	require.NoError(t, err)

	view, err = f.convSvc.Messages(ctx, ident, "default")
	require.NoError(t, err)
	assert.Equal(t, second.ConversationID, view.ConversationID)

	// 非法 ID 同样回退到哨兵
	view, err = f.convSvc.Messages(ctx, ident, "../etc")
	require.NoError(t, err)
	assert.Equal(t, second.ConversationID, view.ConversationID)
}

func TestConversationService_NewListDelete(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	_, alice := f.register(t, "alice")
	_, bob := f.register(t, "bob")
	aliceID, _ := f.resolver.Resolve(ctx, alice)
	bobID, _ := f.resolver.Resolve(ctx, bob)

	conv, err := f.convSvc.New(ctx, aliceID, "nope")
	require.NoError(t, err)
	assert.Equal(t, "phi3:latest", conv.Model)

	list, err := f.convSvc.List(ctx, aliceID)
	require.NoError(t, err)
	require.Len(t, list, 1)

	assert.ErrorIs(t, f.convSvc.Delete(ctx, bobID, conv.ConversationID), ErrOwnership)
	require.NoError(t, f.convSvc.Delete(ctx, aliceID, conv.ConversationID))
	require.NoError(t, f.convSvc.Delete(ctx, aliceID, conv.ConversationID))
	assert.True(t, IsValidation(f.convSvc.Delete(ctx, aliceID, "../etc")))

	list, err = f.convSvc.List(ctx, aliceID)
	require.NoError(t, err)
	assert.Empty(t, list)
	assert.Len(t, f.publisher.ofType(events.TypeConversationDeleted), 1)
}

func TestConversationService_ClearAllOnlyTouchesOwner(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	_, alice := f.register(t, "alice")
	_, bob := f.register(t, "bob")
	aliceID, _ := f.resolver.Resolve(ctx, alice)
	bobID, _ := f.resolver.Resolve(ctx, bob)

	for i := 0; i < 2; i++ {
		_, err := f.chat.Chat(ctx, alice, ChatRequest{Message: "a"})
		require.NoError(t, err)
	}
	bobRes, err := f.chat.Chat(ctx, bob, ChatRequest{Message: "b"})
	require.NoError(t, err)

	n, err := f.convSvc.ClearAll(ctx, aliceID)
	require.NoError(t, err)
	assert.Equal(t, 2, n)

	list, err := f.convSvc.List(ctx, aliceID)
	require.NoError(t, err)
	assert.Empty(t, list)
	convs, msgs := f.countRows(t)
	assert.Equal(t, 1, convs)
	assert.Equal(t, 2, msgs)

	view, err := f.convSvc.Messages(ctx, bobID, bobRes.ConversationID)
	require.NoError(t, err)
	assert.Len(t, view.Messages, 2)
}

func TestConversationService_SearchIsScoped(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	_, alice := f.register(t, "alice")
	_, bob := f.register(t, "bob")
	aliceID, _ := f.resolver.Resolve(ctx, alice)

	_, err := f.chat.Chat(ctx, alice, ChatRequest{Message: "golang generics"})
	require.NoError(t, err)
	_, err = f.chat.Chat(ctx, bob, ChatRequest{Message: "golang for bob"})
	require.NoError(t, err)

	hits, err := f.convSvc.Search(ctx, aliceID, "GOLANG", 10)
	require.NoError(t, err)
	require.Len(t, hits, 1)
	assert.Equal(t, "golang generics", hits[0].Content)

	_, err = f.convSvc.Search(ctx, aliceID, " ", 10)
	assert.True(t, IsValidation(err))
}
