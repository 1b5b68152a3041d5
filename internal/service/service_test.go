package service

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"golang.org/x/crypto/bcrypt"

	"ollama-chat-go/internal/repository"
	"ollama-chat-go/pkg/database"
	"ollama-chat-go/pkg/events"
	"ollama-chat-go/pkg/hash"
	"ollama-chat-go/pkg/llm"
)

// memSession 是测试用的会话。
type memSession struct {
	value   interface{}
	cleared int
}

func (s *memSession) Value() interface{}     { return s.value }
func (s *memSession) SetValue(v interface{}) { s.value = v }
func (s *memSession) Clear()                 { s.value = nil; s.cleared++ }

// fakeLLM 是测试用的推理服务。
type fakeLLM struct {
	mu       sync.Mutex
	down     bool
	reply    string
	chunks   []string
	err      error
	requests []llm.GenerateRequest
}

func (f *fakeLLM) CheckConnection(context.Context) bool { return !f.down }

func (f *fakeLLM) ListModels(context.Context) ([]string, error) {
	if f.down {
		return nil, llm.ErrUnavailable
	}
	return []string{"phi3:latest"}, nil
}

func (f *fakeLLM) Generate(_ context.Context, req llm.GenerateRequest) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.requests = append(f.requests, req)
	if f.err != nil {
		return "", f.err
	}
	return f.reply, nil
}

func (f *fakeLLM) StreamGenerate(_ context.Context, req llm.GenerateRequest) (*llm.Stream, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.requests = append(f.requests, req)
	if f.err != nil {
		return nil, f.err
	}
	var sb strings.Builder
	for _, c := range f.chunks {
		b, _ := json.Marshal(map[string]interface{}{"response": c, "done": false})
		sb.Write(b)
		sb.WriteByte('\n')
	}
	sb.WriteString(`{"response":"","done":true}` + "\n")
	return llm.NewStream(io.NopCloser(strings.NewReader(sb.String()))), nil
}

func (f *fakeLLM) lastPrompt() string {
	f.mu.Lock()
	defer f.mu.Unlock()
	if len(f.requests) == 0 {
		return ""
	}
	return f.requests[len(f.requests)-1].Prompt
}

// recordingPublisher 记录发布的事件。
type recordingPublisher struct {
	mu     sync.Mutex
	events []events.ChatEvent
	err    error
}

func (p *recordingPublisher) Publish(_ context.Context, e events.ChatEvent) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.events = append(p.events, e)
	return p.err
}

func (p *recordingPublisher) Close() error { return nil }

func (p *recordingPublisher) ofType(t events.EventType) []events.ChatEvent {
	p.mu.Lock()
	defer p.mu.Unlock()
	var out []events.ChatEvent
	for _, e := range p.events {
		if e.Type == t {
			out = append(out, e)
		}
	}
	return out
}

// frameRecorder 记录写入 websocket 的帧。
type frameRecorder struct {
	frames []string
	failAt int
}

func (w *frameRecorder) WriteMessage(_ int, data []byte) error {
	if w.failAt > 0 && len(w.frames)+1 >= w.failAt {
		return errors.New("client gone")
	}
	w.frames = append(w.frames, string(data))
	return nil
}

type fixture struct {
	creds     repository.CredentialRepository
	convs     repository.ConversationRepository
	verifier  *hash.Verifier
	auth      AuthService
	resolver  IdentityResolver
	llm       *fakeLLM
	publisher *recordingPublisher
	chat      ChatService
	convSvc   ConversationService
}

var testModels = ModelPolicy{Default: "phi3:latest", Allowed: []string{"phi3:latest", "deepseek-r1:1.5b", "llama3:latest"}}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	db, err := database.Open(database.DriverSQLite, filepath.Join(t.TempDir(), "chat.db"))
	require.NoError(t, err)
	t.Cleanup(func() { database.Close(db) })

	f := &fixture{
		creds:     repository.NewCredentialRepository(db),
		convs:     repository.NewConversationRepository(db),
		verifier:  hash.NewVerifierWithCost(bcrypt.MinCost),
		llm:       &fakeLLM{reply: "Hi there!"},
		publisher: &recordingPublisher{},
	}
	f.auth = NewAuthService(f.creds, f.verifier)
	f.resolver = NewIdentityResolver(f.creds, f.convs)
	f.chat = NewChatService(f.resolver, f.convs, f.llm, f.publisher, ChatOptions{
		Models:           testModels,
		MaxMessageLength: 1000,
		HistoryWindow:    2,
		SystemPrompt:     "You are helpful.",
	})
	f.convSvc = NewConversationService(f.convs, nil, f.publisher, testModels)
	return f
}

// register 注册一个用户并返回已登录的会话。
func (f *fixture) register(t *testing.T, username string) (uint, *memSession) {
	t.Helper()
	id, err := f.auth.Register(context.Background(), RegisterInput{
		Username:        username,
		Email:           fmt.Sprintf("%s@x.com", username),
		Password:        "secret1",
		ConfirmPassword: "secret1",
	})
	require.NoError(t, err)
	sess := &memSession{}
	f.resolver.Login(sess, id)
	return id, sess
}

func (f *fixture) countRows(t *testing.T) (conversations, messages int) {
	t.Helper()
	stats, err := f.convs.Stats(context.Background(), time.Time{})
	require.NoError(t, err)
	return int(stats.Conversations), int(stats.Messages)
}
