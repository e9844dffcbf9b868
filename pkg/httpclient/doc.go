// Package httpclient はGatewayから転送先サービスへリクエストを中継するHTTPクライアントを提供する。
//
// リダイレクトは追跡せず3xx応答をそのまま呼び出し元に返す。
// 接続拒否・名前解決失敗・タイムアウトなどの接続レベルの失敗は
// IsConnectionError で判別できる。
package httpclient
