// Package store はユーザー資格情報の永続化を提供する。
//
// Store はSQLite（単体運用・テスト用）とMongoDB（本番運用）の2実装を持ち、
// Open が設定に応じて接続先を選択する。更新系の操作は実際に値が変化した
// 件数を返し、変化が無い場合は0を返す。
package store

import (
	"context"
	"errors"

	"github.com/nao1215/bookshop/internal/model"
)

var (
	// ErrNotFound は対象ユーザーが存在しないことを表す。
	ErrNotFound = errors.New("ユーザーが見つかりません")
	// ErrDuplicate はユーザー名またはメールアドレスの一意制約違反を表す。
	ErrDuplicate = errors.New("ユーザー名またはメールアドレスが既に登録されています")
)

// Store はユーザー資格情報ストアの操作を定義する。
type Store interface {
	// FindByEmail はメールアドレスでユーザーを取得する。存在しない場合は ErrNotFound。
	FindByEmail(ctx context.Context, email string) (*model.User, error)
	// FindByUsername はユーザー名でユーザーを取得する。存在しない場合は ErrNotFound。
	FindByUsername(ctx context.Context, username string) (*model.User, error)
	// FindByID はIDでユーザーを取得する。存在しない場合は ErrNotFound。
	FindByID(ctx context.Context, id string) (*model.User, error)
	// ExistsByUsernameOrEmail はユーザー名またはメールアドレスが使用済みかを判定する。
	ExistsByUsernameOrEmail(ctx context.Context, username, email string) (bool, error)
	// Insert はユーザーを登録し、採番したIDを設定して返す。
	Insert(ctx context.Context, user *model.User) (*model.User, error)
	// UpdateByID はIDで指定したユーザーを部分更新し、変更件数を返す。
	UpdateByID(ctx context.Context, id string, patch model.UserPatch) (int64, error)
	// UpdateByEmail はメールアドレスで指定したユーザーを部分更新し、変更件数を返す。
	UpdateByEmail(ctx context.Context, email string, patch model.UserPatch) (int64, error)
	// Ping は接続の疎通を確認する。
	Ping(ctx context.Context) error
	// Close は接続を閉じる。
	Close(ctx context.Context) error
}
