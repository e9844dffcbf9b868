// Package cart はショッピングカートサービスを提供する。
//
// カートはユーザーIDごとに1つ存在し、初回参照時に空の状態で作成される。
// アイテム追加時は書籍サービスから価格とタイトルを取得して保存する。
// アクセストークンの検証は認証サービスの/meに委譲する。
package cart
