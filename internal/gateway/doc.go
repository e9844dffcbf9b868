// Package gateway はAPI Gatewayサービスの内部実装を提供する。
//
// クライアントからの /{service}/{path} 形式のリクエストを、サービスレジストリで
// 解決した内部サービスへそのまま転送する。認証やビジネスロジックは持たず、
// ヘッダー・クエリ・ボディを変更せずに中継し、転送先の応答をそのまま返す。
// 転送先に接続できない場合は503、それ以外の中継失敗は500として返す。
package gateway
