// Package password はbcryptによるパスワードハッシュの生成と照合を提供する。
package password

import (
	"errors"
	"fmt"

	"golang.org/x/crypto/bcrypt"
)

// ErrTooLong はbcryptが扱えない長さ（72バイト超）のパスワードを表す。
var ErrTooLong = errors.New("パスワードが長すぎます（72バイト以内）")

// Hasher はパスワードの一方向ハッシュと照合を行う。
type Hasher interface {
	// Hash は平文パスワードからハッシュを生成する。
	Hash(plain string) (string, error)
	// Verify は平文パスワードがハッシュと一致するかを判定する。
	Verify(plain, digest string) bool
}

// Bcrypt はbcryptを使用するHasher実装。
type Bcrypt struct {
	// cost はbcryptのコストパラメータ。
	cost int
}

var _ Hasher = (*Bcrypt)(nil)

// NewBcrypt は指定コストのBcryptを生成する。
// 範囲外のコストはbcrypt.DefaultCostに置き換える。
func NewBcrypt(cost int) *Bcrypt {
	if cost < bcrypt.MinCost || cost > bcrypt.MaxCost {
		cost = bcrypt.DefaultCost
	}
	return &Bcrypt{cost: cost}
}

// Hash は平文パスワードからソルト付きハッシュを生成する。
func (b *Bcrypt) Hash(plain string) (string, error) {
	if len(plain) > 72 {
		return "", ErrTooLong
	}
	digest, err := bcrypt.GenerateFromPassword([]byte(plain), b.cost)
	if err != nil {
		return "", fmt.Errorf("パスワードハッシュの生成に失敗: %w", err)
	}
	return string(digest), nil
}

// Verify は平文パスワードがハッシュと一致するかを判定する。
func (b *Bcrypt) Verify(plain, digest string) bool {
	return bcrypt.CompareHashAndPassword([]byte(digest), []byte(plain)) == nil
}
