package handler

import (
	"github.com/gin-gonic/gin"

	"ollama-chat-go/internal/middleware"
	"ollama-chat-go/internal/service"
	"ollama-chat-go/pkg/llm"
	"ollama-chat-go/pkg/metrics"
	"ollama-chat-go/pkg/ratelimit"
	"ollama-chat-go/pkg/session"
)

// Deps 汇总了注册路由所需的依赖。
type Deps struct {
	Sessions            *session.Manager
	Resolver            service.IdentityResolver
	AuthService         service.AuthService
	ChatService         service.ChatService
	ConversationService service.ConversationService
	LLMClient           llm.Client
	Models              service.ModelPolicy
	Limiter             ratelimit.Limiter
}

// RegisterRoutes 在引擎上注册全部路由。
func RegisterRoutes(r *gin.Engine, d Deps) {
	userHandler := NewUserHandler(d.AuthService, d.Resolver)
	conversationHandler := NewConversationHandler(d.ConversationService)
	searchHandler := NewSearchHandler(d.ConversationService)
	chatHandler := NewChatHandler(d.ChatService, d.Limiter)
	healthHandler := NewHealthHandler(d.LLMClient, d.Models)

	r.GET("/metrics", gin.WrapH(metrics.Handler()))

	api := r.Group("/api")
	{
		api.GET("/health", healthHandler.Health)
		api.GET("/status", healthHandler.Status)
		api.GET("/models", healthHandler.Models)
	}

	apiV1 := r.Group("/api/v1")
	apiV1.Use(middleware.Session(d.Sessions))
	{
		users := apiV1.Group("/users")
		{
			// 无需认证的路由 (公开访问)
			users.POST("/register", userHandler.Register)
			users.POST("/login", userHandler.Login)
			users.POST("/logout", userHandler.Logout)

			// 需要认证的路由 (仅限登录用户访问)
			authed := users.Group("/")
			authed.Use(middleware.AuthMiddleware(d.Resolver))
			{
				authed.GET("/me", userHandler.GetProfile)
				authed.PUT("/me", userHandler.UpdateProfile)
				authed.PUT("/me/password", userHandler.ChangePassword)
			}
		}

		// Conversation 路由组，匿名身份同样可用
		conversations := apiV1.Group("/conversations")
		conversations.Use(middleware.ResolveIdentity(d.Resolver))
		{
			conversations.GET("", conversationHandler.GetConversations)
			conversations.POST("", conversationHandler.CreateConversation)
			conversations.DELETE("", conversationHandler.ClearConversations)
			conversations.GET("/search", searchHandler.Search)
			conversations.GET("/:id/messages", conversationHandler.GetMessages)
			conversations.DELETE("/:id", conversationHandler.DeleteConversation)
		}

		chat := apiV1.Group("/chat")
		{
			chat.POST("", middleware.RateLimit(d.Limiter), chatHandler.Chat)
			chat.GET("/stream", chatHandler.Stream)
		}
	}
}
