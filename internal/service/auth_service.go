package service

import (
	"context"
	"errors"
	"strings"
	"time"

	"ollama-chat-go/internal/model"
	"ollama-chat-go/internal/repository"
	"ollama-chat-go/pkg/hash"
	"ollama-chat-go/pkg/log"
	"ollama-chat-go/pkg/metrics"
)

const (
	maxUsernameLength = 50
	maxEmailLength    = 100
	minPasswordLength = 6
)

// RegisterInput 是注册表单。
type RegisterInput struct {
	Username        string `json:"username"`
	Email           string `json:"email"`
	Password        string `json:"password"`
	ConfirmPassword string `json:"confirm_password"`
}

// AuthService 接口定义了所有与凭证相关的业务操作。
type AuthService interface {
	Register(ctx context.Context, in RegisterInput) (uint, error)
	Login(ctx context.Context, username, password string) (*model.Credential, error)
	GetUser(ctx context.Context, id uint) (*model.User, error)
	UpdateProfile(ctx context.Context, id uint, update model.ProfileUpdate) (*model.User, error)
	ChangePassword(ctx context.Context, id uint, oldPassword, newPassword string) error
	Deactivate(ctx context.Context, username string) error
}

type authService struct {
	credRepo repository.CredentialRepository
	verifier *hash.Verifier
}

// NewAuthService 创建一个新的 AuthService 实例。
func NewAuthService(credRepo repository.CredentialRepository, verifier *hash.Verifier) AuthService {
	return &authService{credRepo: credRepo, verifier: verifier}
}

// Register 处理用户注册的业务逻辑。
func (s *authService) Register(ctx context.Context, in RegisterInput) (uint, error) {
	// 1. 校验输入
	username, err := ValidateText("username", in.Username, maxUsernameLength)
	if err != nil {
		return 0, err
	}
	email, err := ValidateText("email", in.Email, maxEmailLength)
	if err != nil {
		return 0, err
	}
	if !ValidEmail(email) {
		return 0, invalid("email", "malformed address")
	}
	password := strings.TrimSpace(in.Password)
	if err := validatePassword(password); err != nil {
		return 0, err
	}
	if password != strings.TrimSpace(in.ConfirmPassword) {
		return 0, invalid("confirm_password", "passwords do not match")
	}

	// 2. 使用当前方案哈希密码
	hashed, err := s.verifier.Hash(password)
	if err != nil {
		return 0, invalid("password", err.Error())
	}

	// 3. 凭证与资料在同一事务中写入
	cred := &model.Credential{
		Username:     username,
		Email:        email,
		PasswordHash: hashed,
	}
	if err := s.credRepo.Register(ctx, cred, username); err != nil {
		if errors.Is(err, repository.ErrDuplicate) {
			return 0, ErrDuplicate
		}
		log.Errorf("[AuthService] 注册用户失败, username: %s, error: %v", username, err)
		return 0, storageErr("register", err)
	}
	log.Infof("[AuthService] 新用户注册成功, username: %s, id: %d", username, cred.ID)
	return cred.ID, nil
}

func validatePassword(password string) error {
	if len([]rune(password)) < minPasswordLength {
		return invalid("password", "must be at least 6 characters")
	}
	if len(password) > hash.MaxPasswordBytes {
		return invalid("password", "must be at most 72 bytes")
	}
	return nil
}

// Login 处理用户登录的业务逻辑。
// 用户不存在与密码错误返回同一个 ErrInvalidCredentials。遗留方案匹配成功时同步迁移为 bcrypt，迁移失败则登录失败。
func (s *authService) Login(ctx context.Context, username, password string) (*model.Credential, error) {
	// 1. 查找用户
	cred, err := s.credRepo.FindByUsername(ctx, strings.TrimSpace(username))
	if err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			res := s.verifier.Reject(strings.TrimSpace(password))
			metrics.PasswordVerifications.WithLabelValues(res.Provenance).Inc()
			return nil, ErrInvalidCredentials
		}
		log.Errorf("[AuthService] 查询用户失败, username: %s, error: %v", username, err)
		return nil, storageErr("find credential", err)
	}

	// 2. 验证密码
	password = strings.TrimSpace(password)
	res := s.verifier.Verify(cred.PasswordHash, password)
	metrics.PasswordVerifications.WithLabelValues(res.Provenance).Inc()
	if !res.Matched {
		return nil, ErrInvalidCredentials
	}

	// 3. 遗留方案：重新哈希并覆盖存储值
	if res.NeedsRehash {
		newHash, err := s.verifier.Hash(password)
		if err != nil {
			log.Errorf("[AuthService] 迁移密码哈希失败, userID: %d, error: %v", cred.ID, err)
			return nil, ErrInvalidCredentials
		}
		if err := s.credRepo.UpdatePasswordHash(ctx, cred.ID, newHash); err != nil {
			log.Errorf("[AuthService] 写入迁移后的密码哈希失败, userID: %d, error: %v", cred.ID, err)
			return nil, ErrInvalidCredentials
		}
		cred.PasswordHash = newHash
		log.Infow("password migrated", "userID", cred.ID, "from", string(res.Scheme), "provenance", res.Provenance)
	}

	// 4. 更新最后登录时间
	now := time.Now().UTC()
	if err := s.credRepo.UpdateLastLogin(ctx, cred.ID, now); err != nil {
		log.Errorf("[AuthService] 更新最后登录时间失败, userID: %d, error: %v", cred.ID, err)
		return nil, storageErr("update last login", err)
	}
	cred.LastLogin = now
	return cred, nil
}

// GetUser 返回激活用户的凭证与资料视图。
func (s *authService) GetUser(ctx context.Context, id uint) (*model.User, error) {
	user, err := s.credRepo.GetUser(ctx, id)
	if err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			return nil, ErrUserNotFound
		}
		log.Errorf("[AuthService] 查询用户资料失败, userID: %d, error: %v", id, err)
		return nil, storageErr("get user", err)
	}
	return user, nil
}

// UpdateProfile 部分更新用户资料，只覆盖提供的字段。
func (s *authService) UpdateProfile(ctx context.Context, id uint, update model.ProfileUpdate) (*model.User, error) {
	if update.DisplayName != nil {
		name, err := ValidateText("display_name", *update.DisplayName, 100)
		if err != nil {
			return nil, err
		}
		update.DisplayName = &name
	}
	if update.AvatarURL != nil && *update.AvatarURL != "" {
		url, err := ValidateText("avatar_url", *update.AvatarURL, 255)
		if err != nil {
			return nil, err
		}
		update.AvatarURL = &url
	}
	if !update.IsEmpty() {
		if _, err := s.GetUser(ctx, id); err != nil {
			return nil, err
		}
		if err := s.credRepo.UpdateProfile(ctx, id, update); err != nil {
			if errors.Is(err, repository.ErrNotFound) {
				return nil, ErrUserNotFound
			}
			log.Errorf("[AuthService] 更新用户资料失败, userID: %d, error: %v", id, err)
			return nil, storageErr("update profile", err)
		}
	}
	return s.GetUser(ctx, id)
}

// ChangePassword 先通过校验器确认旧密码，再写入新的 bcrypt 哈希。
func (s *authService) ChangePassword(ctx context.Context, id uint, oldPassword, newPassword string) error {
	// 1. 查找用户
	cred, err := s.credRepo.FindByID(ctx, id)
	if err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			return ErrUserNotFound
		}
		log.Errorf("[AuthService] 查询用户失败, userID: %d, error: %v", id, err)
		return storageErr("find credential", err)
	}

	// 2. 校验旧密码（两种方案均可）
	if !s.verifier.Verify(cred.PasswordHash, strings.TrimSpace(oldPassword)).Matched {
		return ErrWrongPassword
	}

	// 3. 写入新密码
	newPassword = strings.TrimSpace(newPassword)
	if err := validatePassword(newPassword); err != nil {
		return err
	}
	hashed, err := s.verifier.Hash(newPassword)
	if err != nil {
		return invalid("password", err.Error())
	}
	if err := s.credRepo.UpdatePasswordHash(ctx, id, hashed); err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			return ErrUserNotFound
		}
		log.Errorf("[AuthService] 修改密码失败, userID: %d, error: %v", id, err)
		return storageErr("update password", err)
	}
	return nil
}

// Deactivate 按用户名软停用凭证。
func (s *authService) Deactivate(ctx context.Context, username string) error {
	cred, err := s.credRepo.FindByUsername(ctx, username)
	if err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			return ErrUserNotFound
		}
		return storageErr("find credential", err)
	}
	if err := s.credRepo.Deactivate(ctx, cred.ID); err != nil {
		return storageErr("deactivate", err)
	}
	log.Infof("[AuthService] 用户已停用, username: %s, id: %d", username, cred.ID)
	return nil
}
