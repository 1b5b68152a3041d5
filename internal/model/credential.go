// Package model 定义了与数据库表对应的 Go 结构体。
package model

import "time"

// Credential 对应于 users_auth 表，保存登录凭证。
// 凭证不会被物理删除，只会通过 IsActive 软停用。
type Credential struct {
	ID           uint      `gorm:"primaryKey" json:"id"`
	Username     string    `gorm:"type:varchar(50);uniqueIndex;not null" json:"username"`
	Email        string    `gorm:"type:varchar(100);uniqueIndex;not null" json:"email"`
	PasswordHash string    `gorm:"type:varchar(255);not null" json:"-"`
	CreatedAt    time.Time `gorm:"autoCreateTime" json:"createdAt"`
	LastLogin    time.Time `json:"lastLogin"`
	IsActive     bool      `gorm:"not null;default:true;index" json:"isActive"`
}

// TableName 指定了此模型在数据库中对应的表名。
func (Credential) TableName() string {
	return "users_auth"
}

// Profile 对应于 user_profiles 表，与 Credential 一对一。
type Profile struct {
	ID          uint      `gorm:"primaryKey" json:"-"`
	UserID      uint      `gorm:"uniqueIndex;not null" json:"userId"`
	DisplayName string    `gorm:"type:varchar(100)" json:"displayName"`
	AvatarURL   string    `gorm:"type:varchar(255)" json:"avatarUrl"`
	Preferences string    `gorm:"type:text" json:"preferences"` // 不透明的偏好设置 JSON
	CreatedAt   time.Time `gorm:"autoCreateTime" json:"createdAt"`
	UpdatedAt   time.Time `json:"updatedAt"`
}

// TableName 指定了此模型在数据库中对应的表名。
func (Profile) TableName() string {
	return "user_profiles"
}

// ProfileUpdate 描述一次部分更新：只有非 nil 的字段会被覆盖。
type ProfileUpdate struct {
	DisplayName *string `json:"displayName"`
	AvatarURL   *string `json:"avatarUrl"`
	Preferences *string `json:"preferences"`
}

// IsEmpty 判断本次更新是否没有携带任何字段。
func (u ProfileUpdate) IsEmpty() bool {
	return u.DisplayName == nil && u.AvatarURL == nil && u.Preferences == nil
}

// User 是凭证与资料的联合视图，用于个人信息接口。
type User struct {
	ID          uint      `json:"id"`
	Username    string    `json:"username"`
	Email       string    `json:"email"`
	CreatedAt   time.Time `json:"createdAt"`
	LastLogin   time.Time `json:"lastLogin"`
	DisplayName string    `json:"displayName"`
	AvatarURL   string    `json:"avatarUrl"`
	Preferences string    `json:"preferences"`
}
