// Package apperr はサービス全体で使用する型付きエラーを提供する。
//
// ワークフロー層は失敗を Error として返し、HTTP境界では Status で
// ステータスコードへ一箇所で変換する。内部原因（Err）はログにのみ出力し、
// レスポンスボディには Message だけを載せる。
package apperr

import (
	"errors"
	"fmt"
	"net/http"
)

// Code はエラーの分類コード。
type Code string

const (
	// CodeBadRequest は入力値の不正（日付形式、未知のサービス名など）を表す。
	CodeBadRequest Code = "BAD_REQUEST"
	// CodeUnauthorized は認証情報の不一致やBearerトークンの欠落・無効を表す。
	CodeUnauthorized Code = "UNAUTHORIZED"
	// CodeForbidden はメール未確認アカウントでのログインを表す。
	CodeForbidden Code = "FORBIDDEN"
	// CodeNotFound は対象のユーザーやカートのアイテムが存在しないことを表す。
	CodeNotFound Code = "NOT_FOUND"
	// CodeConflict はユーザー名またはメールアドレスの重複を表す。
	CodeConflict Code = "CONFLICT"
	// CodeInvalidToken はメール確認・パスワードリセット用トークンの検証失敗を表す。
	CodeInvalidToken Code = "INVALID_TOKEN"
	// CodeNoChange はプロフィール更新で変更が発生しなかったことを表す。
	CodeNoChange Code = "NO_CHANGE"
	// CodeServiceUnavailable は転送先サービスに接続できないことを表す。
	CodeServiceUnavailable Code = "SERVICE_UNAVAILABLE"
	// CodeInternal は想定外の内部エラーを表す。
	CodeInternal Code = "INTERNAL"
)

// statusByCode はエラーコードとHTTPステータスの対応表。
var statusByCode = map[Code]int{
	CodeBadRequest:         http.StatusBadRequest,
	CodeUnauthorized:       http.StatusUnauthorized,
	CodeForbidden:          http.StatusForbidden,
	CodeNotFound:           http.StatusNotFound,
	CodeConflict:           http.StatusBadRequest,
	CodeInvalidToken:       http.StatusBadRequest,
	CodeNoChange:           http.StatusBadRequest,
	CodeServiceUnavailable: http.StatusServiceUnavailable,
	CodeInternal:           http.StatusInternalServerError,
}

// internalMessage は型なしエラーに対して返す汎用メッセージ。
const internalMessage = "内部サーバーエラーが発生しました"

// Error は分類コード付きのエラー。
type Error struct {
	// Code はエラーの分類。
	Code Code
	// Message は利用者に返しても安全なメッセージ。
	Message string
	// Err は内部原因。ログ出力専用。
	Err error
}

// Error はerrorインターフェースを実装する。
func (e *Error) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("[%s] %s: %v", e.Code, e.Message, e.Err)
	}
	return fmt.Sprintf("[%s] %s", e.Code, e.Message)
}

// Unwrap は内部原因を返す。
func (e *Error) Unwrap() error {
	return e.Err
}

// New は内部原因を持たないエラーを生成する。
func New(code Code, message string) *Error {
	return &Error{Code: code, Message: message}
}

// Wrap は内部原因を保持したエラーを生成する。
func Wrap(code Code, message string, err error) *Error {
	return &Error{Code: code, Message: message, Err: err}
}

// Internal は内部原因を包んだ500系エラーを生成する。
func Internal(err error) *Error {
	return Wrap(CodeInternal, internalMessage, err)
}

// As はerrに含まれる *Error を取り出す。
func As(err error) (*Error, bool) {
	var appErr *Error
	if errors.As(err, &appErr) {
		return appErr, true
	}
	return nil, false
}

// CodeOf はerrの分類コードを返す。型なしエラーは CodeInternal とみなす。
func CodeOf(err error) Code {
	if appErr, ok := As(err); ok {
		return appErr.Code
	}
	return CodeInternal
}

// Is はerrが指定コードの *Error かどうかを判定する。
func Is(err error, code Code) bool {
	return err != nil && CodeOf(err) == code
}

// Status はerrに対応するHTTPステータスコードを返す。
func Status(err error) int {
	if status, ok := statusByCode[CodeOf(err)]; ok {
		return status
	}
	return http.StatusInternalServerError
}

// PublicMessage は利用者向けのメッセージを返す。
// 型なしエラーの内容は決して外部に出さない。
func PublicMessage(err error) string {
	if appErr, ok := As(err); ok && appErr.Message != "" {
		return appErr.Message
	}
	return internalMessage
}
