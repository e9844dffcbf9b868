package store

import (
	"context"
	"database/sql"
	"embed"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"
	_ "modernc.org/sqlite"

	"github.com/nao1215/bookshop/internal/model"
	"github.com/nao1215/bookshop/pkg/migration"
)

//go:embed migrations/*.sql
var migrationsFS embed.FS

// userColumns はSELECTで取得するカラムの並び。scanUserと対応する。
const userColumns = `id, username, email, password_hash, first_name, last_name, gender,
	date_of_birth, created_at, is_active, is_verified, provider`

// SQLite はSQLiteを使用するStore実装。
type SQLite struct {
	// db はSQLiteデータベース接続。
	db *sql.DB
}

var _ Store = (*SQLite)(nil)

// OpenSQLite はSQLiteデータベースを開き、マイグレーションを適用する。
// pathに":memory:"を指定するとインメモリDBになる。
func OpenSQLite(ctx context.Context, path string, logger *zap.Logger) (*SQLite, error) {
	dsn := path
	if path != ":memory:" {
		dsn = "file:" + path + "?_pragma=journal_mode(WAL)&_pragma=busy_timeout(5000)"
	}
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("データベース接続に失敗: %w", err)
	}
	// インメモリDBは接続ごとに別のDBになるため接続を1本に固定する
	if path == ":memory:" {
		db.SetMaxOpenConns(1)
	}

	if err := db.PingContext(ctx); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("データベースの疎通確認に失敗: %w", err)
	}
	if err := migration.Run(ctx, db, migrationsFS, "migrations", logger); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("マイグレーションに失敗: %w", err)
	}
	return &SQLite{db: db}, nil
}

// FindByEmail はメールアドレスでユーザーを取得する。
func (s *SQLite) FindByEmail(ctx context.Context, email string) (*model.User, error) {
	return s.findOne(ctx, "email", email)
}

// FindByUsername はユーザー名でユーザーを取得する。
func (s *SQLite) FindByUsername(ctx context.Context, username string) (*model.User, error) {
	return s.findOne(ctx, "username", username)
}

// FindByID はIDでユーザーを取得する。
func (s *SQLite) FindByID(ctx context.Context, id string) (*model.User, error) {
	return s.findOne(ctx, "id", id)
}

func (s *SQLite) findOne(ctx context.Context, column, value string) (*model.User, error) {
	// columnは呼び出し元の定数のみ
	row := s.db.QueryRowContext(ctx,
		"SELECT "+userColumns+" FROM users WHERE "+column+" = ?", value)
	user, err := scanUser(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("ユーザーの取得に失敗: %w", err)
	}
	return user, nil
}

// ExistsByUsernameOrEmail はユーザー名またはメールアドレスが使用済みかを判定する。
func (s *SQLite) ExistsByUsernameOrEmail(ctx context.Context, username, email string) (bool, error) {
	var exists bool
	err := s.db.QueryRowContext(ctx,
		"SELECT EXISTS(SELECT 1 FROM users WHERE username = ? OR email = ?)",
		username, email,
	).Scan(&exists)
	if err != nil {
		return false, fmt.Errorf("重複確認に失敗: %w", err)
	}
	return exists, nil
}

// Insert はユーザーを登録する。IDはUUIDで採番する。
func (s *SQLite) Insert(ctx context.Context, user *model.User) (*model.User, error) {
	created := *user
	created.ID = uuid.New().String()
	if created.CreatedAt.IsZero() {
		created.CreatedAt = time.Now().UTC()
	}

	_, err := s.db.ExecContext(ctx,
		`INSERT INTO users (`+userColumns+`)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		created.ID,
		created.Username,
		created.Email,
		created.PasswordHash,
		created.FirstName,
		created.LastName,
		string(created.Gender),
		model.FormatDate(created.DateOfBirth),
		created.CreatedAt.UTC().Format(time.RFC3339Nano),
		created.IsActive,
		created.IsVerified,
		created.Provider,
	)
	if err != nil {
		if strings.Contains(err.Error(), "UNIQUE constraint failed") {
			return nil, ErrDuplicate
		}
		return nil, fmt.Errorf("ユーザーの登録に失敗: %w", err)
	}
	return &created, nil
}

// UpdateByID はIDで指定したユーザーを部分更新する。
func (s *SQLite) UpdateByID(ctx context.Context, id string, patch model.UserPatch) (int64, error) {
	return s.update(ctx, "id", id, patch)
}

// UpdateByEmail はメールアドレスで指定したユーザーを部分更新する。
func (s *SQLite) UpdateByEmail(ctx context.Context, email string, patch model.UserPatch) (int64, error) {
	return s.update(ctx, "email", email, patch)
}

// update は値が変化する行のみを更新し、変更件数を返す。
func (s *SQLite) update(ctx context.Context, column, value string, patch model.UserPatch) (int64, error) {
	fields := patchFields(patch)
	if len(fields) == 0 {
		return 0, nil
	}

	sets := make([]string, 0, len(fields))
	changed := make([]string, 0, len(fields))
	setArgs := make([]any, 0, len(fields))
	changedArgs := make([]any, 0, len(fields))
	for _, f := range fields {
		sets = append(sets, f.column+" = ?")
		changed = append(changed, f.column+" IS NOT ?")
		setArgs = append(setArgs, f.value)
		changedArgs = append(changedArgs, f.value)
	}

	query := "UPDATE users SET " + strings.Join(sets, ", ") +
		" WHERE " + column + " = ? AND (" + strings.Join(changed, " OR ") + ")"
	args := append(setArgs, value)
	args = append(args, changedArgs...)

	result, err := s.db.ExecContext(ctx, query, args...)
	if err != nil {
		return 0, fmt.Errorf("ユーザーの更新に失敗: %w", err)
	}
	n, err := result.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("更新件数の取得に失敗: %w", err)
	}
	return n, nil
}

// Ping は接続の疎通を確認する。
func (s *SQLite) Ping(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

// Close は接続を閉じる。
func (s *SQLite) Close(_ context.Context) error {
	return s.db.Close()
}

type field struct {
	column string
	value  any
}

// patchFields はパッチのうち値を持つフィールドをカラム名と値の組に変換する。
func patchFields(patch model.UserPatch) []field {
	var a []field
	if patch.FirstName != nil {
		a = append(a, field{"first_name", *patch.FirstName})
	}
	if patch.LastName != nil {
		a = append(a, field{"last_name", *patch.LastName})
	}
	if patch.Gender != nil {
		a = append(a, field{"gender", string(*patch.Gender)})
	}
	if patch.DateOfBirth != nil {
		a = append(a, field{"date_of_birth", model.FormatDate(*patch.DateOfBirth)})
	}
	if patch.PasswordHash != nil {
		a = append(a, field{"password_hash", *patch.PasswordHash})
	}
	if patch.IsVerified != nil {
		a = append(a, field{"is_verified", *patch.IsVerified})
	}
	return a
}

// rowScanner は*sql.Rowと*sql.Rowsの共通インターフェース。
type rowScanner interface {
	Scan(dest ...any) error
}

func scanUser(row rowScanner) (*model.User, error) {
	var (
		u         model.User
		gender    string
		dob       string
		createdAt string
	)
	err := row.Scan(
		&u.ID,
		&u.Username,
		&u.Email,
		&u.PasswordHash,
		&u.FirstName,
		&u.LastName,
		&gender,
		&dob,
		&createdAt,
		&u.IsActive,
		&u.IsVerified,
		&u.Provider,
	)
	if err != nil {
		return nil, err
	}

	u.Gender = model.Gender(gender)
	if u.DateOfBirth, err = model.ParseDate(dob); err != nil {
		return nil, err
	}
	if u.CreatedAt, err = time.Parse(time.RFC3339Nano, createdAt); err != nil {
		return nil, fmt.Errorf("登録日時の解析に失敗: %w", err)
	}
	return &u, nil
}
