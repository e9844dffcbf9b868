package cart

import (
	"context"
	"database/sql"
	"embed"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"
	_ "modernc.org/sqlite"

	"github.com/nao1215/bookshop/pkg/migration"
)

//go:embed migrations/*.sql
var migrationsFS embed.FS

// SQLite はSQLiteを使用するStore実装。
type SQLite struct {
	db *sql.DB
}

var _ Store = (*SQLite)(nil)

// OpenSQLite はSQLiteデータベースを開き、マイグレーションを適用する。
// pathに":memory:"を指定するとインメモリDBになる。
func OpenSQLite(ctx context.Context, path string, logger *zap.Logger) (*SQLite, error) {
	dsn := path
	if path != ":memory:" {
		dsn = "file:" + path + "?_pragma=journal_mode(WAL)&_pragma=busy_timeout(5000)&_pragma=foreign_keys(1)"
	}
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("データベース接続に失敗: %w", err)
	}
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

// Get はユーザーのカートをアイテムの追加順で取得する。
func (s *SQLite) Get(ctx context.Context, userID string) (*Cart, error) {
	var (
		c                    Cart
		createdAt, updatedAt string
	)
	err := s.db.QueryRowContext(ctx,
		"SELECT id, user_id, created_at, updated_at FROM carts WHERE user_id = ?", userID,
	).Scan(&c.ID, &c.UserID, &createdAt, &updatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("カートの取得に失敗: %w", err)
	}
	if c.CreatedAt, err = time.Parse(time.RFC3339Nano, createdAt); err != nil {
		return nil, fmt.Errorf("作成日時の解析に失敗: %w", err)
	}
	if c.UpdatedAt, err = time.Parse(time.RFC3339Nano, updatedAt); err != nil {
		return nil, fmt.Errorf("更新日時の解析に失敗: %w", err)
	}

	rows, err := s.db.QueryContext(ctx,
		`SELECT id, book_id, quantity, price, title, image_url
		 FROM cart_items WHERE cart_id = ? ORDER BY position`, c.ID)
	if err != nil {
		return nil, fmt.Errorf("カートアイテムの取得に失敗: %w", err)
	}
	defer func() { _ = rows.Close() }()

	c.Items = []Item{}
	for rows.Next() {
		var item Item
		if err := rows.Scan(&item.ID, &item.BookID, &item.Quantity, &item.Price, &item.Title, &item.ImageURL); err != nil {
			return nil, fmt.Errorf("カートアイテムの読み込みに失敗: %w", err)
		}
		c.Items = append(c.Items, item)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("カートアイテムの読み込みに失敗: %w", err)
	}
	return &c, nil
}

// Save はカートとアイテムを1トランザクションで置き換える。
func (s *SQLite) Save(ctx context.Context, c *Cart) error {
	if c.ID == "" {
		c.ID = uuid.New().String()
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("トランザクションの開始に失敗: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	_, err = tx.ExecContext(ctx,
		`INSERT INTO carts (id, user_id, created_at, updated_at) VALUES (?, ?, ?, ?)
		 ON CONFLICT(user_id) DO UPDATE SET updated_at = excluded.updated_at`,
		c.ID, c.UserID,
		c.CreatedAt.UTC().Format(time.RFC3339Nano),
		c.UpdatedAt.UTC().Format(time.RFC3339Nano),
	)
	if err != nil {
		return fmt.Errorf("カートの保存に失敗: %w", err)
	}
	if _, err := tx.ExecContext(ctx, "DELETE FROM cart_items WHERE cart_id = ?", c.ID); err != nil {
		return fmt.Errorf("カートアイテムの削除に失敗: %w", err)
	}
	for i, item := range c.Items {
		_, err := tx.ExecContext(ctx,
			`INSERT INTO cart_items (id, cart_id, position, book_id, quantity, price, title, image_url)
			 VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
			item.ID, c.ID, i, item.BookID, item.Quantity, item.Price, item.Title, item.ImageURL,
		)
		if err != nil {
			return fmt.Errorf("カートアイテムの保存に失敗: %w", err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("トランザクションのコミットに失敗: %w", err)
	}
	return nil
}

// Ping は接続の疎通を確認する。
func (s *SQLite) Ping(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

// Close は接続を閉じる。
func (s *SQLite) Close(_ context.Context) error {
	return s.db.Close()
}
