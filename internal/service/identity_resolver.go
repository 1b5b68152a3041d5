package service

import (
	"context"
	"encoding/json"
	"errors"
	"math"
	"strconv"
	"strings"
	"time"

	"ollama-chat-go/internal/model"
	"ollama-chat-go/internal/repository"
	"ollama-chat-go/pkg/log"
)

// Session 是传输层提供的每客户端会话值。
type Session interface {
	// Value 返回会话中保存的原始引用；不存在时返回 nil。
	Value() interface{}
	SetValue(v interface{})
	Clear()
}

// IdentityResolver 将会话值解析为请求身份。
type IdentityResolver interface {
	Resolve(ctx context.Context, sess Session) (model.Identity, error)
	// Login 把已认证身份以带前缀的形式写入会话。
	Login(sess Session, credentialID uint)
	Logout(sess Session)
}

// sessionRef 是会话值归一化后的形态。
type sessionRef struct {
	credentialID uint
	legacy       bool
	ok           bool
}

// parseSessionRef 把会话中可能出现的几种形态归一化：
// "auth_user_N" 带前缀引用、旧版的裸整数引用，其余形态一律视为无效。
func parseSessionRef(v interface{}) sessionRef {
	switch ref := v.(type) {
	case string:
		if !strings.HasPrefix(ref, model.AuthOwnerPrefix) {
			return sessionRef{}
		}
		id, err := strconv.ParseUint(strings.TrimPrefix(ref, model.AuthOwnerPrefix), 10, 64)
		if err != nil || id == 0 {
			return sessionRef{}
		}
		return sessionRef{credentialID: uint(id), ok: true}
	case int:
		return legacyRef(int64(ref))
	case int64:
		return legacyRef(ref)
	case uint:
		return legacyRef(int64(ref))
	case float64:
		// JSON 解码后的整数
		if ref != math.Trunc(ref) || ref > math.MaxInt64 {
			return sessionRef{}
		}
		return legacyRef(int64(ref))
	case json.Number:
		n, err := ref.Int64()
		if err != nil {
			return sessionRef{}
		}
		return legacyRef(n)
	default:
		return sessionRef{}
	}
}

func legacyRef(n int64) sessionRef {
	if n <= 0 {
		return sessionRef{}
	}
	return sessionRef{credentialID: uint(n), legacy: true, ok: true}
}

type identityResolver struct {
	credRepo repository.CredentialRepository
	convRepo repository.ConversationRepository
	now      func() time.Time
}

// NewIdentityResolver 创建一个新的 IdentityResolver 实例。
func NewIdentityResolver(credRepo repository.CredentialRepository, convRepo repository.ConversationRepository) IdentityResolver {
	return &identityResolver{credRepo: credRepo, convRepo: convRepo, now: time.Now}
}

// Resolve 解析会话身份。
// 匿名身份每次请求都重新生成，并且不会写回会话。
func (r *identityResolver) Resolve(ctx context.Context, sess Session) (model.Identity, error) {
	if raw := sess.Value(); raw != nil {
		ref := parseSessionRef(raw)
		if !ref.ok {
			// 无法识别的会话值（例如残留的匿名标记）直接丢弃
			sess.Clear()
		} else {
			cred, err := r.credRepo.FindByID(ctx, ref.credentialID)
			switch {
			case err == nil:
				if ref.legacy {
					sess.SetValue(model.AuthOwnerRef(cred.ID))
				}
				ident := model.AuthenticatedIdentity(cred.ID, cred.Username)
				r.register(ctx, ident)
				return ident, nil
			case errors.Is(err, repository.ErrNotFound):
				// 凭证已删除或已停用，按未登录处理
				sess.Clear()
			default:
				log.Errorf("[IdentityResolver] 查询会话用户失败, credentialID: %d, error: %v", ref.credentialID, err)
				return model.Identity{}, storageErr("resolve identity", err)
			}
		}
	}

	ident := model.NewAnonymousIdentity(r.now())
	r.register(ctx, ident)
	return ident, nil
}

// register 在身份表中登记身份。登记失败不影响本次请求。
func (r *identityResolver) register(ctx context.Context, ident model.Identity) {
	if _, err := r.convRepo.GetOrCreateIdentity(ctx, ident.OwnerID(), ident.DisplayName()); err != nil {
		log.Warnf("[IdentityResolver] 登记身份失败, id: %s, error: %v", ident.OwnerID(), err)
	}
}

func (r *identityResolver) Login(sess Session, credentialID uint) {
	sess.SetValue(model.AuthOwnerRef(credentialID))
}

func (r *identityResolver) Logout(sess Session) {
	sess.Clear()
}
