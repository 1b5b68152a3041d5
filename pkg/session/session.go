// Package session 提供了基于签名 cookie 的会话，会话值以 JWT 的形式保存在浏览器中。
package session

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"

	"ollama-chat-go/internal/config"
	"ollama-chat-go/pkg/log"
)

// ErrRevoked 表示会话已在登出时被吊销。
var ErrRevoked = errors.New("session revoked")

// Claims 定义了会话 cookie 中保存的数据。Ref 是不透明的会话引用。
type Claims struct {
	Ref interface{} `json:"ref,omitempty"`
	jwt.RegisteredClaims
}

// Manager 负责会话 token 的签发、校验与吊销。
type Manager struct {
	secretKey []byte
	maxAge    time.Duration
	cookie    string
	secure    bool
	domain    string
	revoker   Revoker
}

// NewManager 创建一个新的 Manager 实例。revoker 为 nil 时使用进程内实现。
func NewManager(cfg config.SessionConfig, revoker Revoker) *Manager {
	if revoker == nil {
		revoker = NewMemoryRevoker()
	}
	name := cfg.CookieName
	if name == "" {
		name = "chat_session"
	}
	return &Manager{
		secretKey: []byte(cfg.Secret),
		maxAge:    time.Duration(cfg.MaxAgeHours) * time.Hour,
		cookie:    name,
		secure:    cfg.Secure,
		domain:    cfg.CookieDomain,
		revoker:   revoker,
	}
}

// Encode 为给定的会话引用签发一个新的 token。
func (m *Manager) Encode(ref interface{}) (string, *Claims, error) {
	now := time.Now()
	claims := &Claims{
		Ref: ref,
		RegisteredClaims: jwt.RegisteredClaims{
			ID:        uuid.NewString(),
			ExpiresAt: jwt.NewNumericDate(now.Add(m.maxAge)),
			IssuedAt:  jwt.NewNumericDate(now),
			NotBefore: jwt.NewNumericDate(now),
		},
	}
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	signed, err := token.SignedString(m.secretKey)
	if err != nil {
		return "", nil, err
	}
	return signed, claims, nil
}

// Decode 验证给定的 token 字符串，并检查是否已被吊销。
// 数字形式的引用解码为 json.Number。
func (m *Manager) Decode(ctx context.Context, tokenString string) (*Claims, error) {
	token, err := jwt.ParseWithClaims(tokenString, &Claims{}, func(token *jwt.Token) (interface{}, error) {
		// 检查签名方法是否为 HMAC
		if _, ok := token.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, errors.New("unexpected signing method")
		}
		return m.secretKey, nil
	}, jwt.WithJSONNumber())
	if err != nil {
		return nil, err
	}

	claims, ok := token.Claims.(*Claims)
	if !ok || !token.Valid {
		return nil, errors.New("invalid token")
	}
	if claims.ID != "" && m.revoker.IsRevoked(ctx, claims.ID) {
		return nil, ErrRevoked
	}
	return claims, nil
}

// Load 从请求中读取会话。cookie 缺失、签名无效或已吊销时返回空会话。
func (m *Manager) Load(w http.ResponseWriter, r *http.Request) *CookieSession {
	s := &CookieSession{manager: m, w: w, ctx: r.Context()}
	c, err := r.Cookie(m.cookie)
	if err != nil || c.Value == "" {
		return s
	}
	claims, err := m.Decode(r.Context(), c.Value)
	if err != nil {
		log.Debugf("忽略无效的会话 cookie: %v", err)
		return s
	}
	s.claims = claims
	return s
}

// CookieSession 是单个请求的会话视图，修改会立即写入 Set-Cookie。
type CookieSession struct {
	manager *Manager
	w       http.ResponseWriter
	ctx     context.Context
	claims  *Claims
}

// Value 返回会话引用；没有会话时返回 nil。
func (s *CookieSession) Value() interface{} {
	if s.claims == nil {
		return nil
	}
	return s.claims.Ref
}

// SetValue 签发新的 token 并写入 cookie，旧 token 被吊销。
func (s *CookieSession) SetValue(v interface{}) {
	s.revokeCurrent()
	signed, claims, err := s.manager.Encode(v)
	if err != nil {
		log.Errorf("签发会话 token 失败: %v", err)
		return
	}
	s.claims = claims
	http.SetCookie(s.w, s.manager.newCookie(signed, int(s.manager.maxAge.Seconds())))
}

// Clear 吊销当前 token 并删除 cookie。
func (s *CookieSession) Clear() {
	s.revokeCurrent()
	s.claims = nil
	http.SetCookie(s.w, s.manager.newCookie("", -1))
}

func (s *CookieSession) revokeCurrent() {
	if s.claims == nil || s.claims.ID == "" || s.claims.ExpiresAt == nil {
		return
	}
	if err := s.manager.revoker.Revoke(s.ctx, s.claims.ID, s.claims.ExpiresAt.Time); err != nil {
		log.Warnf("吊销会话失败, jti: %s, error: %v", s.claims.ID, err)
	}
}

func (m *Manager) newCookie(value string, maxAge int) *http.Cookie {
	return &http.Cookie{
		Name:     m.cookie,
		Value:    value,
		Path:     "/",
		Domain:   m.domain,
		MaxAge:   maxAge,
		Secure:   m.secure,
		HttpOnly: true,
		SameSite: http.SameSiteLaxMode,
	}
}

// GenerateRandomString generates a random hex string of a given length.
func GenerateRandomString(length int) string {
	bytes := make([]byte, length)
	if _, err := rand.Read(bytes); err != nil {
		// Fallback to a less random string on error
		return fmt.Sprintf("fallback%d", time.Now().UnixNano())
	}
	return hex.EncodeToString(bytes)
}
