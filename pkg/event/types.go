// Package event はアカウントのライフサイクルで発生するイベントを定義する。
//
// identityワークフローはイベントを発行するだけで、メール送信などの
// 副作用はnotificationディスパッチャがイベントを受け取って非同期に実行する。
package event

import (
	"encoding/json"
	"time"
)

// AggregateType はイベントの対象となるエンティティの種類を表す。
type AggregateType string

const (
	// AggregateTypeUser はユーザーエンティティを表す。
	AggregateTypeUser AggregateType = "User"
)

// Type はイベントの種類を表す。
type Type string

const (
	// TypeVerificationRequested はユーザー登録後にメールアドレス確認が要求されたことを表す。
	TypeVerificationRequested Type = "VerificationRequested"
	// TypePasswordResetRequested はパスワードリセットが要求されたことを表す。
	TypePasswordResetRequested Type = "PasswordResetRequested"
)

// Event はアカウントに関する不変のイベントレコードを表す。
type Event struct {
	// ID はイベントの一意識別子（UUID）。
	ID string `json:"id"`
	// AggregateID は対象エンティティの識別子。
	AggregateID string `json:"aggregate_id"`
	// AggregateType は対象エンティティの種類。
	AggregateType AggregateType `json:"aggregate_type"`
	// EventType はイベントの種類。
	EventType Type `json:"event_type"`
	// Data はイベント固有のデータ（JSON形式）。
	Data json.RawMessage `json:"data"`
	// CreatedAt はイベントが作成された日時。
	CreatedAt time.Time `json:"created_at"`
}

// VerificationRequestedData はVerificationRequestedイベントのデータ。
type VerificationRequestedData struct {
	// Email は確認メールの送信先。
	Email string `json:"email"`
	// UserID は登録されたユーザーのID。
	UserID string `json:"user_id"`
	// Token はメール確認トークン。
	Token string `json:"token"`
}

// PasswordResetRequestedData はPasswordResetRequestedイベントのデータ。
type PasswordResetRequestedData struct {
	// Email はリセットメールの送信先。
	Email string `json:"email"`
	// Token はパスワードリセットトークン。
	Token string `json:"token"`
}
