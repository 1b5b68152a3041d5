package handler

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"ollama-chat-go/internal/middleware"
	"ollama-chat-go/internal/model"
	"ollama-chat-go/internal/service"
	"ollama-chat-go/pkg/log"
)

// UserHandler 负责处理注册、登录以及个人资料相关的 API 请求。
type UserHandler struct {
	authService service.AuthService
	resolver    service.IdentityResolver
}

// NewUserHandler 创建一个新的 UserHandler 实例。
func NewUserHandler(authService service.AuthService, resolver service.IdentityResolver) *UserHandler {
	return &UserHandler{authService: authService, resolver: resolver}
}

// Register 处理用户注册请求。
func (h *UserHandler) Register(c *gin.Context) {
	var req service.RegisterInput
	if err := c.ShouldBindJSON(&req); err != nil {
		log.Warnf("Register: Invalid request payload, error: %v", err)
		badRequest(c, "无效的请求负载")
		return
	}

	id, err := h.authService.Register(c.Request.Context(), req)
	if err != nil {
		log.Warnf("Register: User registration failed for '%s', error: %v", req.Username, err)
		writeError(c, err)
		return
	}

	log.Infof("User '%s' registered successfully", req.Username)
	c.JSON(http.StatusOK, gin.H{
		"code":    http.StatusOK,
		"message": "User registered successfully",
		"data":    gin.H{"id": id},
	})
}

// LoginRequest 定义了用户登录 API 的请求体结构。
type LoginRequest struct {
	Username string `json:"username" binding:"required"`
	Password string `json:"password" binding:"required"`
}

// Login 处理用户登录请求。成功后会话中写入已登录引用。
func (h *UserHandler) Login(c *gin.Context) {
	var req LoginRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		log.Warnf("Login: Invalid request payload, error: %v", err)
		badRequest(c, "无效的请求负载：用户名和密码不能为空")
		return
	}

	cred, err := h.authService.Login(c.Request.Context(), req.Username, req.Password)
	if err != nil {
		log.Warnf("Login: User authentication failed for '%s'", req.Username)
		writeError(c, err)
		return
	}
	h.resolver.Login(middleware.SessionFrom(c), cred.ID)

	log.Infof("User '%s' logged in successfully", cred.Username)
	c.JSON(http.StatusOK, gin.H{
		"code":    http.StatusOK,
		"message": "Login successful",
		"data":    gin.H{"id": cred.ID, "username": cred.Username},
	})
}

// Logout 清除会话。未登录时也返回成功。
func (h *UserHandler) Logout(c *gin.Context) {
	h.resolver.Logout(middleware.SessionFrom(c))
	c.JSON(http.StatusOK, gin.H{"code": http.StatusOK, "message": "登出成功", "data": nil})
}

// GetProfile 获取当前登录用户的个人信息。
func (h *UserHandler) GetProfile(c *gin.Context) {
	ident := middleware.IdentityFrom(c)
	user, err := h.authService.GetUser(c.Request.Context(), ident.CredentialID)
	if err != nil {
		writeError(c, err)
		return
	}
	ok(c, user)
}

// UpdateProfile 部分更新个人资料，只覆盖请求中出现的字段。
func (h *UserHandler) UpdateProfile(c *gin.Context) {
	var req model.ProfileUpdate
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, "无效的请求负载")
		return
	}
	ident := middleware.IdentityFrom(c)
	user, err := h.authService.UpdateProfile(c.Request.Context(), ident.CredentialID, req)
	if err != nil {
		log.Warnf("UpdateProfile: failed for user %d, error: %v", ident.CredentialID, err)
		writeError(c, err)
		return
	}
	ok(c, user)
}

// ChangePasswordRequest 定义了修改密码 API 的请求体结构。
type ChangePasswordRequest struct {
	OldPassword string `json:"old_password" binding:"required"`
	NewPassword string `json:"new_password" binding:"required"`
}

// ChangePassword 校验旧密码后修改密码。
func (h *UserHandler) ChangePassword(c *gin.Context) {
	var req ChangePasswordRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, "无效的请求负载")
		return
	}
	ident := middleware.IdentityFrom(c)
	if err := h.authService.ChangePassword(c.Request.Context(), ident.CredentialID, req.OldPassword, req.NewPassword); err != nil {
		log.Warnf("ChangePassword: failed for user %d, error: %v", ident.CredentialID, err)
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"code": http.StatusOK, "message": "密码修改成功", "data": nil})
}
