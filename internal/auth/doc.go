// Package auth は認証サービスのHTTPサーバーを提供する。
//
// ユーザー登録、ログイン、メールアドレス確認、パスワードリセット、
// プロフィールの参照・更新をHTTPで公開する。処理はidentity.Serviceに委譲し、
// このパッケージはリクエストの検証とレスポンスの整形のみを行う。
package auth
