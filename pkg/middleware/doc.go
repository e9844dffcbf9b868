// Package middleware はGinベースのHTTP APIで使用する共通ミドルウェアを提供する。
//
// Bearerトークンの検証（署名鍵によるローカル検証と認証サービスへの委譲）、
// アクセスログ、パニックリカバリ、CORS設定、型付きエラーのレスポンス変換など、
// gateway、auth、cartの各サービスで共通して使用する処理を含む。
package middleware
