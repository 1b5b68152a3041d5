package pipeline

import (
	"context"
	"errors"
	"fmt"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"ollama-chat-go/internal/model"
	"ollama-chat-go/internal/repository"
	"ollama-chat-go/pkg/database"
	"ollama-chat-go/pkg/events"
)

type fakeIndexer struct {
	docs    []model.MessageDocument
	deleted []string
	err     error
}

func (f *fakeIndexer) IndexMessage(_ context.Context, doc model.MessageDocument) error {
	if f.err != nil {
		return f.err
	}
	f.docs = append(f.docs, doc)
	return nil
}

func (f *fakeIndexer) DeleteByConversation(_ context.Context, id string) error {
	if f.err != nil {
		return f.err
	}
	f.deleted = append(f.deleted, id)
	return nil
}

func newRepo(t *testing.T) repository.ConversationRepository {
	t.Helper()
	db, err := database.Open(database.DriverSQLite, filepath.Join(t.TempDir(), "pipeline.db"))
	require.NoError(t, err)
	t.Cleanup(func() { database.Close(db) })
	return repository.NewConversationRepository(db)
}

func TestProcess_IndexesMessageWithStoredOwner(t *testing.T) {
	ctx := context.Background()
	repo := newRepo(t)
	require.True(t, repo.CreateConversation(ctx, "auth_user_1", "chat_a", "phi3:latest"))
	msg, err := repo.AppendMessage(ctx, "chat_a", model.RoleUser, "hello", "")
	require.NoError(t, err)

	idx := &fakeIndexer{}
	p := NewProcessor(idx, repo)
	ev := events.NewMessageEvent("chat_a", "auth_user_1", msg.ID, model.RoleUser, "hello", "", msg.Timestamp)
	require.NoError(t, p.Process(ctx, ev))

	require.Len(t, idx.docs, 1)
	assert.Equal(t, "auth_user_1", idx.docs[0].OwnerID)
	assert.Equal(t, "hello", idx.docs[0].Content)
	assert.Equal(t, fmt.Sprintf("chat_a_%d", msg.ID), idx.docs[0].DocID)
}

func TestProcess_SkipsDeletedConversation(t *testing.T) {
	idx := &fakeIndexer{}
	p := NewProcessor(idx, newRepo(t))
	ev := events.NewMessageEvent("chat_gone", "auth_user_1", 1, model.RoleUser, "hello", "", time.Now().UTC())
	require.NoError(t, p.Process(context.Background(), ev))
	assert.Empty(t, idx.docs)
}

func TestProcess_DeleteEvent(t *testing.T) {
	idx := &fakeIndexer{}
	p := NewProcessor(idx, newRepo(t))
	require.NoError(t, p.Process(context.Background(), events.NewConversationDeletedEvent("chat_a", "auth_user_1")))
	assert.Equal(t, []string{"chat_a"}, idx.deleted)
}

func TestProcess_IndexerErrorIsReturned(t *testing.T) {
	idx := &fakeIndexer{err: errors.New("es down")}
	p := NewProcessor(idx, newRepo(t))
	err := p.Process(context.Background(), events.NewConversationDeletedEvent("chat_a", "auth_user_1"))
	assert.Error(t, err)
}
