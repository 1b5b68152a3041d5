// Package hash 提供密码哈希与多方案校验。
//
// 系统中同时存在两种哈希方案：bcrypt（当前方案）与遗留的无盐 SHA-256 十六进制摘要（只做校验）。
// Verifier 按顺序尝试各方案，第一个匹配的方案胜出；如果匹配的不是当前方案，结果会要求重新哈希。
package hash

import (
	"crypto/sha256"
	"crypto/subtle"
	"encoding/hex"
	"errors"
	"strings"
	"sync"

	"golang.org/x/crypto/bcrypt"
)

// Scheme 标识一种密码哈希方案。
type Scheme string

const (
	SchemeBcrypt       Scheme = "bcrypt"
	SchemeLegacySHA256 Scheme = "sha256"
	SchemeUnknown      Scheme = "unknown"
)

// Provenance 标记一次成功校验的来源，用于日志与指标。
const (
	ProvenanceModern   = "modern"
	ProvenanceMigrated = "migrated"
	ProvenanceFailed   = "failed"
)

// MaxPasswordBytes 是 bcrypt 接受的最大输入长度。
const MaxPasswordBytes = 72

// ErrPasswordTooLong 表示密码超出了 bcrypt 的输入上限。
var ErrPasswordTooLong = errors.New("password exceeds 72 bytes")

// Strategy 是单一哈希方案的校验策略。
type Strategy interface {
	Scheme() Scheme
	// Recognizes 判断存储的哈希是否属于本方案的格式。
	Recognizes(stored string) bool
	Verify(stored, password string) bool
}

type bcryptStrategy struct{}

func (bcryptStrategy) Scheme() Scheme { return SchemeBcrypt }

func (bcryptStrategy) Recognizes(stored string) bool {
	_, err := bcrypt.Cost([]byte(stored))
	return err == nil
}

func (bcryptStrategy) Verify(stored, password string) bool {
	return bcrypt.CompareHashAndPassword([]byte(stored), []byte(password)) == nil
}

type legacySHA256Strategy struct{}

func (legacySHA256Strategy) Scheme() Scheme { return SchemeLegacySHA256 }

func (legacySHA256Strategy) Recognizes(stored string) bool {
	if len(stored) != sha256.Size*2 {
		return false
	}
	_, err := hex.DecodeString(stored)
	return err == nil
}

func (s legacySHA256Strategy) Verify(stored, password string) bool {
	if !s.Recognizes(stored) {
		return false
	}
	expected := LegacyDigest(password)
	return subtle.ConstantTimeCompare([]byte(strings.ToLower(stored)), []byte(expected)) == 1
}

// LegacyDigest 计算遗留方案的十六进制摘要，仅用于校验与测试数据构造。
func LegacyDigest(password string) string {
	sum := sha256.Sum256([]byte(password))
	return hex.EncodeToString(sum[:])
}

// Result 是一次校验的结果。
type Result struct {
	Matched     bool
	Scheme      Scheme
	NeedsRehash bool
	Provenance  string
}

// Verifier 按顺序尝试各校验策略，第一个匹配的策略胜出。
type Verifier struct {
	strategies []Strategy
	cost       int

	dummyOnce sync.Once
	dummy     []byte
}

// NewVerifier 创建一个默认的校验器：先 bcrypt，后遗留 SHA-256。
func NewVerifier() *Verifier {
	return &Verifier{
		strategies: []Strategy{bcryptStrategy{}, legacySHA256Strategy{}},
		cost:       bcrypt.DefaultCost,
	}
}

// NewVerifierWithCost 创建一个使用指定 bcrypt cost 的校验器，测试中用较小的 cost 加速。
func NewVerifierWithCost(cost int) *Verifier {
	v := NewVerifier()
	v.cost = cost
	return v
}

// Hash 使用当前方案对密码进行哈希。
func (v *Verifier) Hash(password string) (string, error) {
	if len(password) > MaxPasswordBytes {
		return "", ErrPasswordTooLong
	}
	hashed, err := bcrypt.GenerateFromPassword([]byte(password), v.cost)
	if err != nil {
		return "", err
	}
	return string(hashed), nil
}

// Verify 依次用每个策略校验密码。
// 非当前方案匹配时 NeedsRehash 为 true，Provenance 为 migrated。
func (v *Verifier) Verify(stored, password string) Result {
	for i, s := range v.strategies {
		if !s.Verify(stored, password) {
			continue
		}
		if i == 0 {
			return Result{Matched: true, Scheme: s.Scheme(), Provenance: ProvenanceModern}
		}
		return Result{Matched: true, Scheme: s.Scheme(), NeedsRehash: true, Provenance: ProvenanceMigrated}
	}
	return Result{Scheme: v.DetectScheme(stored), Provenance: ProvenanceFailed}
}

// Reject 用与真实校验相同的 bcrypt 开销比较一个占位哈希，然后返回失败结果。
// 用户不存在时调用，使其耗时与密码错误时一致。
func (v *Verifier) Reject(password string) Result {
	_ = bcrypt.CompareHashAndPassword(v.dummyHash(), []byte(password))
	return Result{Scheme: SchemeUnknown, Provenance: ProvenanceFailed}
}

func (v *Verifier) dummyHash() []byte {
	v.dummyOnce.Do(func() {
		hashed, err := bcrypt.GenerateFromPassword([]byte("placeholder-password"), v.cost)
		if err != nil {
			// 只有 cost 非法时才会出错，此时退回默认 cost
			hashed, _ = bcrypt.GenerateFromPassword([]byte("placeholder-password"), bcrypt.DefaultCost)
		}
		v.dummy = hashed
	})
	return v.dummy
}

// DetectScheme 根据存储格式判断哈希所属的方案。
func (v *Verifier) DetectScheme(stored string) Scheme {
	for _, s := range v.strategies {
		if s.Recognizes(stored) {
			return s.Scheme()
		}
	}
	return SchemeUnknown
}
