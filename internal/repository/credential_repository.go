package repository

import (
	"context"
	"time"

	"gorm.io/gorm"

	"ollama-chat-go/internal/model"
)

// CredentialRepository 接口定义了登录凭证与用户资料的持久化操作。
// 除 Register 外，所有查询只返回处于激活状态的凭证。
type CredentialRepository interface {
	Register(ctx context.Context, cred *model.Credential, displayName string) error
	FindByUsername(ctx context.Context, username string) (*model.Credential, error)
	FindByID(ctx context.Context, id uint) (*model.Credential, error)
	GetUser(ctx context.Context, id uint) (*model.User, error)
	UpdateLastLogin(ctx context.Context, id uint, at time.Time) error
	UpdatePasswordHash(ctx context.Context, id uint, passwordHash string) error
	UpdateProfile(ctx context.Context, id uint, update model.ProfileUpdate) error
	Deactivate(ctx context.Context, id uint) error
}

// credentialRepository 是 CredentialRepository 接口的 GORM 实现。
type credentialRepository struct {
	db *gorm.DB
}

// NewCredentialRepository 创建一个新的 CredentialRepository 实例。
func NewCredentialRepository(db *gorm.DB) CredentialRepository {
	return &credentialRepository{db: db}
}

// Register 在同一个事务中写入凭证与资料。
// 用户名或邮箱已被激活凭证占用时返回 ErrDuplicate，且不写入任何行。
func (r *credentialRepository) Register(ctx context.Context, cred *model.Credential, displayName string) error {
	return r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var count int64
		err := tx.Model(&model.Credential{}).
			Where("is_active = ? AND (username = ? OR email = ?)", true, cred.Username, cred.Email).
			Count(&count).Error
		if err != nil {
			return err
		}
		if count > 0 {
			return ErrDuplicate
		}

		cred.IsActive = true
		if err := tx.Create(cred).Error; err != nil {
			return translate(err)
		}
		profile := model.Profile{
			UserID:      cred.ID,
			DisplayName: displayName,
			Preferences: "{}",
			UpdatedAt:   cred.CreatedAt,
		}
		return translate(tx.Create(&profile).Error)
	})
}

// FindByUsername 根据用户名查找激活的凭证。
func (r *credentialRepository) FindByUsername(ctx context.Context, username string) (*model.Credential, error) {
	var cred model.Credential
	err := r.db.WithContext(ctx).Where("username = ? AND is_active = ?", username, true).First(&cred).Error
	if err != nil {
		return nil, translate(err)
	}
	return &cred, nil
}

// FindByID 根据 ID 查找激活的凭证。
func (r *credentialRepository) FindByID(ctx context.Context, id uint) (*model.Credential, error) {
	var cred model.Credential
	err := r.db.WithContext(ctx).Where("id = ? AND is_active = ?", id, true).First(&cred).Error
	if err != nil {
		return nil, translate(err)
	}
	return &cred, nil
}

// GetUser 返回凭证与资料的联合视图。
func (r *credentialRepository) GetUser(ctx context.Context, id uint) (*model.User, error) {
	var user model.User
	err := r.db.WithContext(ctx).
		Table("users_auth AS a").
		Select("a.id, a.username, a.email, a.created_at, a.last_login, "+
			"COALESCE(p.display_name, '') AS display_name, COALESCE(p.avatar_url, '') AS avatar_url, COALESCE(p.preferences, '') AS preferences").
		Joins("LEFT JOIN user_profiles AS p ON p.user_id = a.id").
		Where("a.id = ? AND a.is_active = ?", id, true).
		Take(&user).Error
	if err != nil {
		return nil, translate(err)
	}
	return &user, nil
}

// UpdateLastLogin 更新最后登录时间。
func (r *credentialRepository) UpdateLastLogin(ctx context.Context, id uint, at time.Time) error {
	return r.updateCredential(ctx, id, "last_login", at.UTC())
}

// UpdatePasswordHash 覆盖存储的密码哈希。
func (r *credentialRepository) UpdatePasswordHash(ctx context.Context, id uint, passwordHash string) error {
	return r.updateCredential(ctx, id, "password_hash", passwordHash)
}

// Deactivate 软停用凭证，凭证行本身不会被删除。
func (r *credentialRepository) Deactivate(ctx context.Context, id uint) error {
	return r.updateCredential(ctx, id, "is_active", false)
}

func (r *credentialRepository) updateCredential(ctx context.Context, id uint, column string, value interface{}) error {
	res := r.db.WithContext(ctx).Model(&model.Credential{}).
		Where("id = ? AND is_active = ?", id, true).
		Update(column, value)
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 0 {
		return ErrNotFound
	}
	return nil
}

// UpdateProfile 只覆盖 update 中提供的字段，未提供的字段保留原值。
func (r *credentialRepository) UpdateProfile(ctx context.Context, id uint, update model.ProfileUpdate) error {
	fields := map[string]interface{}{"updated_at": time.Now().UTC()}
	if update.DisplayName != nil {
		fields["display_name"] = *update.DisplayName
	}
	if update.AvatarURL != nil {
		fields["avatar_url"] = *update.AvatarURL
	}
	if update.Preferences != nil {
		fields["preferences"] = *update.Preferences
	}

	res := r.db.WithContext(ctx).Model(&model.Profile{}).Where("user_id = ?", id).Updates(fields)
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 0 {
		return ErrNotFound
	}
	return nil
}
