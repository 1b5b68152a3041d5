// Package main 是应用程序的入口点。
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"

	"ollama-chat-go/internal/config"
	"ollama-chat-go/internal/handler"
	"ollama-chat-go/internal/middleware"
	"ollama-chat-go/internal/pipeline"
	"ollama-chat-go/internal/repository"
	"ollama-chat-go/internal/service"
	"ollama-chat-go/pkg/database"
	"ollama-chat-go/pkg/es"
	"ollama-chat-go/pkg/hash"
	"ollama-chat-go/pkg/kafka"
	"ollama-chat-go/pkg/llm"
	"ollama-chat-go/pkg/log"
	"ollama-chat-go/pkg/ratelimit"
	"ollama-chat-go/pkg/session"
)

func main() {
	configPath := flag.String("config", "./configs/config.yaml", "配置文件路径")
	flag.Parse()

	// 1. 初始化配置
	config.Init(*configPath)
	cfg := config.Conf

	// 2. 初始化日志记录器
	log.Init(cfg.Log.Level, cfg.Log.Format, cfg.Log.OutputPath)
	defer log.Sync() // 确保在程序退出时刷新所有缓冲的日志条目
	log.Info("日志记录器初始化成功")

	if cfg.Session.Secret == "" {
		cfg.Session.Secret = session.GenerateRandomString(16)
		log.Warnf("未配置 session.secret，已生成临时密钥，重启后现有会话将失效")
	}

	// 3. 初始化数据库和 Redis
	database.Init(cfg.Database.Driver, cfg.Database.DSN)
	defer database.Close(database.DB)
	rdb, err := database.InitRedis(cfg.Database.Redis.Addr, cfg.Database.Redis.Password, cfg.Database.Redis.DB)
	if err != nil {
		log.Fatal("Redis 初始化失败", err)
	}

	// 4. 初始化 Repository
	credentialRepo := repository.NewCredentialRepository(database.DB)
	conversationRepo := repository.NewConversationRepository(database.DB)

	// 5. 初始化可选组件：Kafka 事件、Elasticsearch 索引
	publisher := kafka.NewPublisher(cfg.Kafka)
	defer publisher.Close()

	var searcher service.MessageSearcher
	var index *es.MessageIndex
	if cfg.Elasticsearch.Enabled {
		index, err = es.InitES(cfg.Elasticsearch)
		if err != nil {
			log.Errorf("es 初始化失败, 退回数据库搜索: %v", err)
			index = nil
		} else {
			searcher = index
		}
	}

	// 6. 初始化 Service (依赖注入)
	llmClient := llm.NewClient(cfg.Ollama)
	if !llmClient.CheckConnection(context.Background()) {
		log.Warnf("Ollama 服务 %s 当前不可达，聊天请求将返回 503 直到其恢复", cfg.Ollama.BaseURL)
	}
	opts := service.ChatOptionsFromConfig(cfg)
	resolver := service.NewIdentityResolver(credentialRepo, conversationRepo)
	authService := service.NewAuthService(credentialRepo, hash.NewVerifier())
	chatService := service.NewChatService(resolver, conversationRepo, llmClient, publisher, opts)
	conversationService := service.NewConversationService(conversationRepo, searcher, publisher, opts.Models)

	var revoker session.Revoker
	if rdb != nil {
		revoker = session.NewRedisRevoker(rdb)
	}
	sessions := session.NewManager(cfg.Session, revoker)
	limiter := ratelimit.New(rdb, cfg.Chat.RateLimit.MaxRequests, cfg.Chat.RateLimit.Window())

	// 7. 启动后台 Kafka 消费者，把聊天事件写入搜索索引
	consumerCtx, stopConsumer := context.WithCancel(context.Background())
	var wg sync.WaitGroup
	if cfg.Kafka.Enabled && index != nil {
		processor := pipeline.NewProcessor(index, conversationRepo)
		wg.Add(1)
		go func() {
			defer wg.Done()
			kafka.StartConsumer(consumerCtx, cfg.Kafka, processor, rdb)
		}()
	}

	// 8. 设置 Gin 模式并创建路由引擎
	gin.SetMode(cfg.Server.Mode)
	r := gin.New() // 使用 New() 创建一个不带默认中间件的引擎
	// 添加我们自定义的日志中间件和 Gin 的 Recovery 中间件
	r.Use(middleware.RequestLogger(), gin.Recovery())

	// 9. 注册路由
	handler.RegisterRoutes(r, handler.Deps{
		Sessions:            sessions,
		Resolver:            resolver,
		AuthService:         authService,
		ChatService:         chatService,
		ConversationService: conversationService,
		LLMClient:           llmClient,
		Models:              opts.Models,
		Limiter:             limiter,
	})

	// 启动 HTTP 服务器并实现优雅停机
	srv := &http.Server{
		Addr:        fmt.Sprintf(":%s", cfg.Server.Port),
		Handler:     r,
		ReadTimeout: time.Duration(cfg.Server.ReadTimeout) * time.Second,
		// 写超时需覆盖一次完整推理
		WriteTimeout: time.Duration(cfg.Server.WriteTimeout) * time.Second,
	}

	go func() {
		log.Infof("服务启动于 %s, 模型: %s", srv.Addr, opts.Models.Default)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Fatalf("HTTP 服务监听失败: %s\n", err)
		}
	}()

	// 等待中断信号以实现优雅停机
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit
	log.Info("接收到停机信号，正在关闭服务...")

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	// 关闭 HTTP 服务器
	if err := srv.Shutdown(ctx); err != nil {
		log.Errorf("HTTP 服务器关闭失败: %v", err)
	}

	stopConsumer()
	wg.Wait()
	if rdb != nil {
		_ = rdb.Close()
	}
	log.Info("服务已优雅关闭")
}
