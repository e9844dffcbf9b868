// Package model はアカウント管理のドメインモデルを定義する。
package model

import (
	"fmt"
	"time"
)

// DateLayout は生年月日の入出力形式（YYYY-MM-DD）。
const DateLayout = "2006-01-02"

// ProviderLocal はパスワード認証で登録されたユーザーのプロバイダ。
const ProviderLocal = "local"

// Gender はユーザーの性別。
type Gender string

const (
	// GenderMale は男性。
	GenderMale Gender = "male"
	// GenderFemale は女性。
	GenderFemale Gender = "female"
	// GenderOther はその他。
	GenderOther Gender = "other"
)

// Valid は定義済みの値かどうかを判定する。
func (g Gender) Valid() bool {
	switch g {
	case GenderMale, GenderFemale, GenderOther:
		return true
	default:
		return false
	}
}

// User は認証サービスが管理するユーザー。
// ユーザー名とメールアドレスはそれぞれ一意。IsVerifiedはfalseからtrueにのみ変化する。
type User struct {
	// ID はストアが採番する一意識別子。
	ID string
	// Username はログインに使えるユーザー名。
	Username string
	// Email はログインと通知に使うメールアドレス。
	Email string
	// PasswordHash はbcryptハッシュ。
	PasswordHash string
	// FirstName は名。
	FirstName string
	// LastName は姓。
	LastName string
	// Gender は性別。
	Gender Gender
	// DateOfBirth は生年月日（時刻部分は常にUTCの0時）。
	DateOfBirth time.Time
	// CreatedAt は登録日時。
	CreatedAt time.Time
	// IsActive はアカウントが有効かどうか。
	IsActive bool
	// IsVerified はメールアドレスが確認済みかどうか。
	IsVerified bool
	// Provider は認証プロバイダ。
	Provider string
}

// UserPatch はユーザーの部分更新内容。nilのフィールドは更新しない。
type UserPatch struct {
	FirstName    *string
	LastName     *string
	Gender       *Gender
	DateOfBirth  *time.Time
	PasswordHash *string
	IsVerified   *bool
}

// Empty は更新対象のフィールドが1つも無いかを判定する。
func (p UserPatch) Empty() bool {
	return p.FirstName == nil && p.LastName == nil && p.Gender == nil &&
		p.DateOfBirth == nil && p.PasswordHash == nil && p.IsVerified == nil
}

// ParseDate はYYYY-MM-DD形式の日付を解析する。
func ParseDate(s string) (time.Time, error) {
	d, err := time.Parse(DateLayout, s)
	if err != nil {
		return time.Time{}, fmt.Errorf("日付はYYYY-MM-DD形式で指定してください: %q", s)
	}
	return d, nil
}

// FormatDate は日付をYYYY-MM-DD形式に整形する。
func FormatDate(t time.Time) string {
	return t.Format(DateLayout)
}
