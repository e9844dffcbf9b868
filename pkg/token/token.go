// Package token は署名付きトークン（JWT）の発行と検証を提供する。
//
// アクセス、メール確認、パスワードリセットの3種類のトークンを扱う。
// すべて同一の共有シークレットとHMACアルゴリズムで署名し、種類ごとに
// 有効期限とクレーム構成が異なる。種類はkindクレームとして埋め込み、
// 検証時に呼び出し側が期待する種類と一致しなければ無効とする。
package token

import (
	"errors"
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

// Kind はトークンの種類。
type Kind string

const (
	// KindAccess はログイン後のAPIアクセス用トークン。
	KindAccess Kind = "access"
	// KindEmailVerification はメールアドレス確認用トークン。
	KindEmailVerification Kind = "email_verification"
	// KindPasswordReset はパスワードリセット用トークン。
	KindPasswordReset Kind = "password_reset"
)

// 種類ごとの有効期限。
const (
	AccessTTL            = 30 * time.Minute
	EmailVerificationTTL = 24 * time.Hour
	PasswordResetTTL     = 1 * time.Hour
)

// ErrInvalidToken は署名不一致、形式不正、期限切れ、種類不一致のいずれかを表す。
var ErrInvalidToken = errors.New("トークンが無効です")

// Claims はトークンのペイロード。
type Claims struct {
	jwt.RegisteredClaims
	// UserID はメール確認トークンにのみ含まれるユーザーID。
	UserID string `json:"user_id,omitempty"`
	// Kind はトークンの種類。
	Kind Kind `json:"kind"`
}

// Email はsubjectに格納されたメールアドレスを返す。
func (c *Claims) Email() string {
	return c.Subject
}

// Manager はトークンの発行と検証を行う。
type Manager struct {
	// secret は署名用の共有シークレット。
	secret []byte
	// method は署名アルゴリズム。
	method jwt.SigningMethod
	// now は現在時刻の取得関数。テストで差し替える。
	now func() time.Time
}

// Option はManagerの設定関数。
type Option func(*Manager)

// WithClock は現在時刻の取得関数を差し替える。
func WithClock(now func() time.Time) Option {
	return func(m *Manager) {
		m.now = now
	}
}

// NewManager は新しいManagerを生成する。
// algorithmにはHS256、HS384、HS512のいずれかを指定する。
func NewManager(secret, algorithm string, opts ...Option) (*Manager, error) {
	if secret == "" {
		return nil, errors.New("署名シークレットが空です")
	}
	if algorithm == "" {
		algorithm = jwt.SigningMethodHS256.Alg()
	}
	method, ok := jwt.GetSigningMethod(algorithm).(*jwt.SigningMethodHMAC)
	if !ok {
		return nil, fmt.Errorf("サポートしていない署名アルゴリズムです: %s", algorithm)
	}

	m := &Manager{
		secret: []byte(secret),
		method: method,
		now:    time.Now,
	}
	for _, opt := range opts {
		opt(m)
	}
	return m, nil
}

// TTL は種類ごとの有効期限を返す。
func TTL(kind Kind) (time.Duration, error) {
	switch kind {
	case KindAccess:
		return AccessTTL, nil
	case KindEmailVerification:
		return EmailVerificationTTL, nil
	case KindPasswordReset:
		return PasswordResetTTL, nil
	default:
		return 0, fmt.Errorf("未知のトークン種類です: %s", kind)
	}
}

// Issue は指定種類のトークンを発行する。
// claimsのSubjectとUserIDのみを使用し、有効期限と種類はここで設定する。
func (m *Manager) Issue(kind Kind, subject, userID string) (string, error) {
	ttl, err := TTL(kind)
	if err != nil {
		return "", err
	}

	now := m.now()
	claims := Claims{
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   subject,
			ExpiresAt: jwt.NewNumericDate(now.Add(ttl)),
			IssuedAt:  jwt.NewNumericDate(now),
		},
		UserID: userID,
		Kind:   kind,
	}

	signed, err := jwt.NewWithClaims(m.method, claims).SignedString(m.secret)
	if err != nil {
		return "", fmt.Errorf("トークンの署名に失敗: %w", err)
	}
	return signed, nil
}

// Verify はトークンを検証し、クレームを返す。
// 失敗時は常に ErrInvalidToken をラップして返す。
func (m *Manager) Verify(kind Kind, tokenString string) (*Claims, error) {
	claims := &Claims{}
	token, err := jwt.ParseWithClaims(tokenString, claims, func(_ *jwt.Token) (any, error) {
		return m.secret, nil
	},
		jwt.WithValidMethods([]string{m.method.Alg()}),
		jwt.WithExpirationRequired(),
		jwt.WithTimeFunc(m.now),
	)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidToken, err)
	}
	if !token.Valid {
		return nil, ErrInvalidToken
	}
	if claims.Kind != kind {
		return nil, fmt.Errorf("%w: 種類が一致しません（want=%s, got=%s）", ErrInvalidToken, kind, claims.Kind)
	}
	return claims, nil
}
