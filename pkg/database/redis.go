package database

import (
	"context"
	"fmt"

	"github.com/go-redis/redis/v8"

	"ollama-chat-go/pkg/log"
)

var RDB *redis.Client

// InitRedis 初始化 Redis 客户端连接。addr 为空时返回 nil，调用方改用进程内实现。
func InitRedis(addr, password string, db int) (*redis.Client, error) {
	if addr == "" {
		log.Info("未配置 Redis，使用进程内限流与会话吊销")
		return nil, nil
	}
	client := redis.NewClient(&redis.Options{
		Addr:     addr,
		Password: password,
		DB:       db,
	})

	// 测试连接
	if err := client.Ping(context.Background()).Err(); err != nil {
		return nil, fmt.Errorf("failed to connect to redis: %w", err)
	}
	RDB = client

	log.Info("Redis client connected successfully")
	return client, nil
}
