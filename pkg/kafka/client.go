// Package kafka 提供了与 Kafka 消息队列交互的功能。
package kafka

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/go-redis/redis/v8"
	"github.com/segmentio/kafka-go"

	"ollama-chat-go/internal/config"
	"ollama-chat-go/pkg/events"
	"ollama-chat-go/pkg/log"
)

// maxAttempts 是同一事件的最大处理次数，超过后提交 offset 放弃。
const maxAttempts = 3

// retryBackoff 是两次重试之间的基础等待时间，按已失败次数线性增长。
const retryBackoff = 500 * time.Millisecond

// ErrGaveUp 表示事件已达到最大处理次数。
var ErrGaveUp = errors.New("event processing gave up")

// EventProcessor defines the interface for any service that can process a chat event.
// This decouples the Kafka consumer from the concrete pipeline implementation.
type EventProcessor interface {
	Process(ctx context.Context, event events.ChatEvent) error
}

// Publisher 发布聊天事件。发布失败只影响搜索索引，不影响聊天本身。
type Publisher interface {
	Publish(ctx context.Context, event events.ChatEvent) error
	Close() error
}

type writerPublisher struct {
	writer *kafka.Writer
}

// NewPublisher 根据配置创建发布者；未启用 Kafka 时返回 NopPublisher。
func NewPublisher(cfg config.KafkaConfig) Publisher {
	if !cfg.Enabled || cfg.Brokers == "" {
		return NopPublisher{}
	}
	w := &kafka.Writer{
		Addr:         kafka.TCP(brokers(cfg.Brokers)...),
		Topic:        cfg.Topic,
		Balancer:     &kafka.Hash{},
		BatchTimeout: 50 * time.Millisecond,
	}
	log.Info("Kafka 生产者初始化成功")
	return &writerPublisher{writer: w}
}

// Publish 以对话 ID 为 key 发送事件，保证同一对话内事件有序。
func (p *writerPublisher) Publish(ctx context.Context, event events.ChatEvent) error {
	value, err := json.Marshal(event)
	if err != nil {
		return err
	}
	return p.writer.WriteMessages(ctx, kafka.Message{
		Key:   []byte(event.ConversationID),
		Value: value,
	})
}

func (p *writerPublisher) Close() error {
	return p.writer.Close()
}

// NopPublisher 丢弃所有事件。
type NopPublisher struct{}

func (NopPublisher) Publish(context.Context, events.ChatEvent) error { return nil }
func (NopPublisher) Close() error                                    { return nil }

func brokers(list string) []string {
	var out []string
	for _, b := range strings.Split(list, ",") {
		if b = strings.TrimSpace(b); b != "" {
			out = append(out, b)
		}
	}
	return out
}

// StartConsumer 启动一个 Kafka 消费者来处理聊天事件，直到 ctx 被取消。
// rdb 用于跨重启记录失败次数，可以为 nil。
func StartConsumer(ctx context.Context, cfg config.KafkaConfig, processor EventProcessor, rdb *redis.Client) {
	r := kafka.NewReader(kafka.ReaderConfig{
		Brokers:  brokers(cfg.Brokers),
		Topic:    cfg.Topic,
		GroupID:  cfg.GroupID,
		MinBytes: 1,
		MaxBytes: 10e6, // 10MB
	})

	log.Infof("Kafka 消费者已启动，正在监听主题 '%s'", cfg.Topic)

	for {
		m, err := r.FetchMessage(ctx)
		if err != nil {
			if ctx.Err() == nil {
				log.Error("从 Kafka 读取消息失败", err)
			}
			break
		}

		var event events.ChatEvent
		if err := json.Unmarshal(m.Value, &event); err != nil {
			log.Errorf("无法解析 Kafka 消息: %v, value: %s", err, string(m.Value))
			// 消息格式错误，直接提交，避免阻塞队列
			commit(ctx, r, m)
			continue
		}

		// 在当前位置重试，处理完成或放弃后才提交 offset
		if err := processWithRetry(ctx, processor, rdb, event, retryBackoff); err != nil {
			if ctx.Err() != nil {
				// 未提交的消息会在重启后重新投递
				break
			}
			log.Errorf("聊天事件处理失败，提交 offset 跳过: EventID=%s, Type=%s, Error: %v", event.EventID, event.Type, err)
		}
		commit(ctx, r, m)
	}

	if err := r.Close(); err != nil {
		log.Errorf("关闭 Kafka 消费者失败: %v", err)
	}
	log.Info("Kafka 消费者已停止")
}

// processWithRetry 就地处理事件，失败时最多尝试 maxAttempts 次。
// rdb 非空时失败次数记录在 Redis 中，进程重启后重新投递的事件继续累计。
func processWithRetry(ctx context.Context, processor EventProcessor, rdb *redis.Client, event events.ChatEvent, backoff time.Duration) error {
	key := fmt.Sprintf("kafka:attempts:%s", event.EventID)
	attempts := 0
	if rdb != nil {
		if n, err := rdb.Get(ctx, key).Int(); err == nil {
			attempts = n
		}
	}

	var lastErr error
	for attempts < maxAttempts {
		lastErr = processor.Process(ctx, event)
		if lastErr == nil {
			if rdb != nil {
				_ = rdb.Del(ctx, key).Err()
			}
			return nil
		}
		attempts++
		log.Warnf("处理聊天事件失败(%d/%d): EventID=%s, Type=%s, Error: %v", attempts, maxAttempts, event.EventID, event.Type, lastErr)
		if rdb != nil {
			_ = rdb.Set(ctx, key, attempts, 24*time.Hour).Err()
		}
		if attempts >= maxAttempts {
			break
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(backoff * time.Duration(attempts)):
		}
	}

	if rdb != nil {
		_ = rdb.Del(ctx, key).Err()
	}
	if lastErr == nil {
		return ErrGaveUp
	}
	return fmt.Errorf("%w: %v", ErrGaveUp, lastErr)
}

func commit(ctx context.Context, r *kafka.Reader, m kafka.Message) {
	if err := r.CommitMessages(ctx, m); err != nil {
		log.Errorf("提交 Kafka 消息 offset 失败: %v", err)
	}
}
