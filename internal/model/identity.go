package model

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"
)

const (
	// AuthOwnerPrefix 是已认证身份在会话与对话归属中使用的前缀。
	AuthOwnerPrefix = "auth_user_"
	// AnonOwnerPrefix 是匿名身份的前缀。
	AnonOwnerPrefix = "anon_user_"
)

// IdentityKind 区分已认证身份与匿名身份。
type IdentityKind int

const (
	IdentityAnonymous IdentityKind = iota
	IdentityAuthenticated
)

func (k IdentityKind) String() string {
	if k == IdentityAuthenticated {
		return "authenticated"
	}
	return "anonymous"
}

// Identity 是发起请求的逻辑主体：Authenticated{CredentialID} 或 Anonymous{EphemeralID}。
type Identity struct {
	Kind         IdentityKind
	CredentialID uint
	EphemeralID  string
	Username     string
}

// AuthenticatedIdentity 构造一个已认证身份。
func AuthenticatedIdentity(credentialID uint, username string) Identity {
	return Identity{Kind: IdentityAuthenticated, CredentialID: credentialID, Username: username}
}

// NewAnonymousIdentity 基于当前时间与进程号生成匿名身份，唯一性只是尽力而为。
func NewAnonymousIdentity(now time.Time) Identity {
	return Identity{
		Kind:        IdentityAnonymous,
		EphemeralID: fmt.Sprintf("%s%d_%d", AnonOwnerPrefix, now.UnixNano(), os.Getpid()),
	}
}

// IsAuthenticated 判断是否为已认证身份。
func (i Identity) IsAuthenticated() bool {
	return i.Kind == IdentityAuthenticated
}

// OwnerID 返回对话存储中使用的身份字符串。
func (i Identity) OwnerID() string {
	if i.IsAuthenticated() {
		return AuthOwnerRef(i.CredentialID)
	}
	return i.EphemeralID
}

// DisplayName 返回写入身份表的展示名。
func (i Identity) DisplayName() string {
	if i.IsAuthenticated() && i.Username != "" {
		return i.Username
	}
	id := i.OwnerID()
	short := strings.TrimPrefix(id, AnonOwnerPrefix)
	if len(short) > 8 {
		short = short[:8]
	}
	return "User_" + short
}

// AuthOwnerRef 返回带前缀的已认证会话引用，例如 auth_user_12。
func AuthOwnerRef(credentialID uint) string {
	return AuthOwnerPrefix + strconv.FormatUint(uint64(credentialID), 10)
}

// ChatUser 对应于 users 表，记录出现过的身份（含匿名身份）。
type ChatUser struct {
	ID         uint      `gorm:"primaryKey" json:"-"`
	UserID     string    `gorm:"type:varchar(100);uniqueIndex;not null" json:"userId"`
	Username   string    `gorm:"type:varchar(100)" json:"username"`
	CreatedAt  time.Time `gorm:"autoCreateTime" json:"createdAt"`
	LastActive time.Time `gorm:"index" json:"lastActive"`
}

// TableName 指定了此模型在数据库中对应的表名。
func (ChatUser) TableName() string {
	return "users"
}
