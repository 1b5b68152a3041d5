package kafka

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"ollama-chat-go/pkg/events"
)

// flakyProcessor 前 failures 次调用返回错误。
type flakyProcessor struct {
	failures int
	calls    int
}

func (p *flakyProcessor) Process(context.Context, events.ChatEvent) error {
	p.calls++
	if p.calls <= p.failures {
		return errors.New("index unavailable")
	}
	return nil
}

func TestProcessWithRetry_RetriesInPlaceUntilSuccess(t *testing.T) {
	p := &flakyProcessor{failures: 2}
	err := processWithRetry(context.Background(), p, nil, events.ChatEvent{EventID: "e1"}, 0)
	require.NoError(t, err)
	assert.Equal(t, 3, p.calls)
}

func TestProcessWithRetry_GivesUpAfterMaxAttempts(t *testing.T) {
	p := &flakyProcessor{failures: 10}
	err := processWithRetry(context.Background(), p, nil, events.ChatEvent{EventID: "e2"}, 0)
	assert.ErrorIs(t, err, ErrGaveUp)
	assert.Contains(t, err.Error(), "index unavailable")
	assert.Equal(t, maxAttempts, p.calls)
}

func TestProcessWithRetry_StopsWhenContextCancelled(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	p := &flakyProcessor{failures: 10}
	err := processWithRetry(ctx, p, nil, events.ChatEvent{EventID: "e3"}, time.Hour)
	assert.ErrorIs(t, err, context.Canceled)
	assert.Equal(t, 1, p.calls)
}

func TestBrokersSplitsAndTrims(t *testing.T) {
	assert.Equal(t, []string{"a:9092", "b:9092"}, brokers(" a:9092, ,b:9092 "))
	assert.Empty(t, brokers(""))
}
