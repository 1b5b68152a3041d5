// Package config 负责加载和管理应用程序的配置。
package config

import (
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/viper"
)

// 全局配置变量，存储从配置文件加载的所有设置。
var Conf Config

// Config 是整个应用程序的配置结构体，与 config.yaml 文件结构对应。
type Config struct {
	Server        ServerConfig        `mapstructure:"server"`
	Database      DatabaseConfig      `mapstructure:"database"`
	Session       SessionConfig       `mapstructure:"session"`
	Log           LogConfig           `mapstructure:"log"`
	Ollama        OllamaConfig        `mapstructure:"ollama"`
	Chat          ChatConfig          `mapstructure:"chat"`
	Kafka         KafkaConfig         `mapstructure:"kafka"`
	Elasticsearch ElasticsearchConfig `mapstructure:"elasticsearch"`
	MinIO         MinIOConfig         `mapstructure:"minio"`
}

// ServerConfig 存储服务器相关的配置。
type ServerConfig struct {
	Port         string `mapstructure:"port"`
	Mode         string `mapstructure:"mode"`
	ReadTimeout  int    `mapstructure:"read_timeout_seconds"`
	WriteTimeout int    `mapstructure:"write_timeout_seconds"`
}

// DatabaseConfig 存储所有数据库连接的配置。
type DatabaseConfig struct {
	// Driver 取值 sqlite 或 mysql。
	Driver string      `mapstructure:"driver"`
	DSN    string      `mapstructure:"dsn"`
	Redis  RedisConfig `mapstructure:"redis"`
}

// RedisConfig 存储 Redis 的配置。Addr 为空时使用进程内实现。
type RedisConfig struct {
	Addr     string `mapstructure:"addr"`
	Password string `mapstructure:"password"`
	DB       int    `mapstructure:"db"`
}

// SessionConfig 存储会话 cookie 相关的配置。
type SessionConfig struct {
	Secret       string `mapstructure:"secret"`
	CookieName   string `mapstructure:"cookie_name"`
	MaxAgeHours  int    `mapstructure:"max_age_hours"`
	Secure       bool   `mapstructure:"secure"`
	CookieDomain string `mapstructure:"cookie_domain"`
}

// LogConfig 存储日志相关的配置。
type LogConfig struct {
	Level      string `mapstructure:"level"`
	Format     string `mapstructure:"format"`
	OutputPath string `mapstructure:"output_path"`
}

// OllamaConfig 存储本地推理服务相关的配置。
type OllamaConfig struct {
	BaseURL        string                 `mapstructure:"base_url"`
	DefaultModel   string                 `mapstructure:"default_model"`
	AllowedModels  []string               `mapstructure:"allowed_models"`
	TimeoutSeconds int                    `mapstructure:"timeout_seconds"`
	CheckSeconds   int                    `mapstructure:"check_timeout_seconds"`
	Generation     OllamaGenerationConfig `mapstructure:"generation"`
	Prompt         OllamaPromptConfig     `mapstructure:"prompt"`
}

// OllamaGenerationConfig 配置生成相关参数。
type OllamaGenerationConfig struct {
	Temperature float64  `mapstructure:"temperature"`
	TopP        float64  `mapstructure:"top_p"`
	TopK        int      `mapstructure:"top_k"`
	NumPredict  int      `mapstructure:"num_predict"`
	Stop        []string `mapstructure:"stop"`
}

// OllamaPromptConfig 配置系统提示与历史窗口。
type OllamaPromptConfig struct {
	System        string `mapstructure:"system"`
	HistoryWindow int    `mapstructure:"history_window"`
}

// Timeout 返回单次推理调用的超时时间。
func (c OllamaConfig) Timeout() time.Duration {
	return time.Duration(c.TimeoutSeconds) * time.Second
}

// CheckTimeout 返回连通性检查的超时时间。
func (c OllamaConfig) CheckTimeout() time.Duration {
	return time.Duration(c.CheckSeconds) * time.Second
}

// ChatConfig 存储聊天输入校验与限流相关的配置。
type ChatConfig struct {
	MaxMessageLength int             `mapstructure:"max_message_length"`
	RateLimit        RateLimitConfig `mapstructure:"rate_limit"`
}

// RateLimitConfig 配置按客户端地址的滑动窗口限流。
type RateLimitConfig struct {
	MaxRequests   int `mapstructure:"max_requests"`
	WindowSeconds int `mapstructure:"window_seconds"`
}

// Window 返回限流窗口长度。
func (c RateLimitConfig) Window() time.Duration {
	return time.Duration(c.WindowSeconds) * time.Second
}

// KafkaConfig 存储 Kafka 相关的配置。
type KafkaConfig struct {
	Enabled bool   `mapstructure:"enabled"`
	Brokers string `mapstructure:"brokers"`
	Topic   string `mapstructure:"topic"`
	GroupID string `mapstructure:"group_id"`
}

// ElasticsearchConfig 存储 Elasticsearch 相关的配置。
type ElasticsearchConfig struct {
	Enabled   bool   `mapstructure:"enabled"`
	Addresses string `mapstructure:"addresses"`
	Username  string `mapstructure:"username"`
	Password  string `mapstructure:"password"`
	IndexName string `mapstructure:"index_name"`
}

// MinIOConfig 存储 MinIO 对象存储的配置。
type MinIOConfig struct {
	Endpoint        string `mapstructure:"endpoint"`
	AccessKeyID     string `mapstructure:"access_key_id"`
	SecretAccessKey string `mapstructure:"secret_access_key"`
	UseSSL          bool   `mapstructure:"use_ssl"`
	BucketName      string `mapstructure:"bucket_name"`
}

// 旧版部署直接使用的环境变量，保持兼容。
var envBindings = map[string]string{
	"ollama.base_url":       "OLLAMA_BASE_URL",
	"ollama.default_model":  "DEFAULT_MODEL",
	"database.dsn":          "DATABASE_PATH",
	"database.driver":       "DATABASE_DRIVER",
	"database.redis.addr":   "REDIS_ADDR",
	"session.secret":        "SECRET_KEY",
	"server.port":           "PORT",
	"kafka.brokers":         "KAFKA_BROKERS",
	"elasticsearch.enabled": "ES_ENABLED",
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("server.port", "5000")
	v.SetDefault("server.mode", "release")
	v.SetDefault("server.read_timeout_seconds", 30)
	v.SetDefault("server.write_timeout_seconds", 120)

	v.SetDefault("database.driver", "sqlite")
	v.SetDefault("database.dsn", "chatbot.db")

	v.SetDefault("session.cookie_name", "chat_session")
	v.SetDefault("session.max_age_hours", 24*7)

	v.SetDefault("log.level", "info")
	v.SetDefault("log.format", "json")

	v.SetDefault("ollama.base_url", "http://localhost:11434")
	v.SetDefault("ollama.default_model", "phi3:latest")
	v.SetDefault("ollama.allowed_models", []string{"phi3:latest", "deepseek-r1:1.5b", "llama3:latest"})
	v.SetDefault("ollama.timeout_seconds", 60)
	v.SetDefault("ollama.check_timeout_seconds", 5)
	v.SetDefault("ollama.generation.temperature", 0.7)
	v.SetDefault("ollama.generation.top_p", 0.9)
	v.SetDefault("ollama.generation.top_k", 40)
	v.SetDefault("ollama.generation.num_predict", 256)
	v.SetDefault("ollama.generation.stop", []string{"User:", "Human:", "Assistant:", "AI:"})
	v.SetDefault("ollama.prompt.system", "You are a friendly and helpful AI assistant. Respond naturally to any question or topic. Be conversational, helpful, and engaging. You can discuss anything from casual conversation to technical topics.")
	v.SetDefault("ollama.prompt.history_window", 2)

	v.SetDefault("chat.max_message_length", 1000)
	v.SetDefault("chat.rate_limit.max_requests", 5)
	v.SetDefault("chat.rate_limit.window_seconds", 60)

	v.SetDefault("kafka.topic", "chat-messages")
	v.SetDefault("kafka.group_id", "ollama-chat-indexer")
	v.SetDefault("elasticsearch.index_name", "chat_messages")
	v.SetDefault("minio.bucket_name", "chat-backups")
}

// Load 从指定路径读取 YAML 配置；文件不存在时仅使用默认值与环境变量。
func Load(configPath string) (Config, error) {
	// .env 文件是可选的
	if err := godotenv.Load(); err != nil && !errors.Is(err, os.ErrNotExist) {
		return Config{}, fmt.Errorf("读取 .env 文件失败: %w", err)
	}

	v := viper.New()
	setDefaults(v)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()
	for key, env := range envBindings {
		if err := v.BindEnv(key, env); err != nil {
			return Config{}, fmt.Errorf("绑定环境变量 %s 失败: %w", env, err)
		}
	}

	if configPath != "" {
		v.SetConfigFile(configPath)
		v.SetConfigType("yaml")
		if err := v.ReadInConfig(); err != nil {
			if _, statErr := os.Stat(configPath); !errors.Is(statErr, os.ErrNotExist) {
				return Config{}, fmt.Errorf("读取配置文件失败: %w", err)
			}
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return Config{}, fmt.Errorf("无法将配置解析到结构体中: %w", err)
	}
	return cfg, nil
}

// Init 初始化配置加载，并将结果写入全局变量 Conf。失败时 panic。
func Init(configPath string) {
	cfg, err := Load(configPath)
	if err != nil {
		panic(err)
	}
	Conf = cfg
}
