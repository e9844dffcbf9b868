package cart

import (
	"context"
	"errors"
	"time"
)

// ErrNotFound はユーザーのカートがまだ作成されていないことを表す。
var ErrNotFound = errors.New("カートが見つかりません")

// Cart はユーザーのショッピングカート。
type Cart struct {
	ID        string    `json:"id"`
	UserID    string    `json:"userId"`
	Items     []Item    `json:"items"`
	CreatedAt time.Time `json:"createdAt"`
	UpdatedAt time.Time `json:"updatedAt"`
}

// Item はカート内の1行。価格とタイトルは追加時点の書籍情報を保持する。
type Item struct {
	ID       string  `json:"id"`
	BookID   string  `json:"bookId"`
	Quantity int     `json:"quantity"`
	Price    float64 `json:"price"`
	Title    string  `json:"title"`
	ImageURL string  `json:"imageUrl"`
}

// itemIndex はIDが一致するアイテムの位置を返す。存在しない場合は-1。
func (c *Cart) itemIndex(itemID string) int {
	for i, item := range c.Items {
		if item.ID == itemID {
			return i
		}
	}
	return -1
}

// Store はカートの永続化を行う。
type Store interface {
	// Get はユーザーのカートを取得する。存在しない場合は ErrNotFound。
	Get(ctx context.Context, userID string) (*Cart, error)
	// Save はカートをユーザーIDをキーに丸ごと保存する。IDが空の場合は採番して設定する。
	Save(ctx context.Context, cart *Cart) error
	// Ping は接続の疎通を確認する。
	Ping(ctx context.Context) error
	// Close は接続を閉じる。
	Close(ctx context.Context) error
}
