package cart

import (
	"context"
	"errors"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/nao1215/bookshop/pkg/apperr"
)

// Service はカート操作のワークフロー。
// 読み込みから保存までを直列化し、同一ユーザーへの同時更新で変更が失われないようにする。
type Service struct {
	store   Store
	catalog Catalog
	logger  *zap.Logger
	mu      sync.Mutex
	now     func() time.Time
}

// NewService はServiceを生成する。
func NewService(st Store, catalog Catalog, logger *zap.Logger) *Service {
	return &Service{
		store:   st,
		catalog: catalog,
		logger:  logger,
		now:     func() time.Time { return time.Now().UTC() },
	}
}

// Get はユーザーのカートを返す。存在しない場合は空のカートを作成して返す。
func (s *Service) Get(ctx context.Context, userID string) (*Cart, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.load(ctx, userID)
}

// AddItem は書籍をカートに追加する。同じ書籍が既にある場合は数量を加算し、その行を返す。
func (s *Service) AddItem(ctx context.Context, userID, bookID string, quantity int) (*Item, error) {
	bookID = strings.TrimSpace(bookID)
	if bookID == "" {
		return nil, apperr.New(apperr.CodeBadRequest, "書籍IDを指定してください")
	}
	if err := validateQuantity(quantity); err != nil {
		return nil, err
	}

	book, err := s.catalog.Book(ctx, bookID)
	if err != nil {
		return nil, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	c, err := s.load(ctx, userID)
	if err != nil {
		return nil, err
	}

	idx := -1
	for i, item := range c.Items {
		if item.BookID == bookID {
			idx = i
			break
		}
	}
	if idx >= 0 {
		c.Items[idx].Quantity += quantity
	} else {
		c.Items = append(c.Items, Item{
			ID:       uuid.New().String(),
			BookID:   bookID,
			Quantity: quantity,
			Price:    book.Price,
			Title:    book.Title,
			ImageURL: book.ImageURL,
		})
		idx = len(c.Items) - 1
	}

	if err := s.save(ctx, c); err != nil {
		return nil, err
	}
	item := c.Items[idx]
	s.logger.Info("カートに書籍を追加しました",
		zap.String("user_id", userID),
		zap.String("book_id", bookID),
		zap.Int("quantity", item.Quantity),
	)
	return &item, nil
}

// UpdateItem はアイテムの数量を置き換える。
func (s *Service) UpdateItem(ctx context.Context, userID, itemID string, quantity int) error {
	if err := validateItemID(itemID); err != nil {
		return err
	}
	if err := validateQuantity(quantity); err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	c, err := s.load(ctx, userID)
	if err != nil {
		return err
	}
	idx := c.itemIndex(itemID)
	if idx < 0 {
		return errItemNotFound()
	}
	c.Items[idx].Quantity = quantity
	return s.save(ctx, c)
}

// RemoveItem はアイテムをカートから削除する。
func (s *Service) RemoveItem(ctx context.Context, userID, itemID string) error {
	if err := validateItemID(itemID); err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	c, err := s.load(ctx, userID)
	if err != nil {
		return err
	}
	idx := c.itemIndex(itemID)
	if idx < 0 {
		return errItemNotFound()
	}
	c.Items = append(c.Items[:idx], c.Items[idx+1:]...)
	return s.save(ctx, c)
}

// Clear はカートのアイテムをすべて削除する。カート自体は残す。
func (s *Service) Clear(ctx context.Context, userID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	c, err := s.load(ctx, userID)
	if err != nil {
		return err
	}
	c.Items = []Item{}
	return s.save(ctx, c)
}

// load はカートを取得し、存在しない場合は空のカートを保存して返す。呼び出し側でmuを保持すること。
func (s *Service) load(ctx context.Context, userID string) (*Cart, error) {
	c, err := s.store.Get(ctx, userID)
	if err == nil {
		return c, nil
	}
	if !errors.Is(err, ErrNotFound) {
		return nil, apperr.Internal(err)
	}

	now := s.now()
	c = &Cart{UserID: userID, Items: []Item{}, CreatedAt: now, UpdatedAt: now}
	if err := s.store.Save(ctx, c); err != nil {
		return nil, apperr.Internal(err)
	}
	s.logger.Info("カートを作成しました", zap.String("user_id", userID), zap.String("cart_id", c.ID))
	return c, nil
}

func (s *Service) save(ctx context.Context, c *Cart) error {
	c.UpdatedAt = s.now()
	if err := s.store.Save(ctx, c); err != nil {
		return apperr.Internal(err)
	}
	return nil
}

func validateQuantity(quantity int) error {
	if quantity < 1 {
		return apperr.New(apperr.CodeBadRequest, "数量は1以上を指定してください")
	}
	return nil
}

func validateItemID(itemID string) error {
	if _, err := uuid.Parse(itemID); err != nil {
		return apperr.Wrap(apperr.CodeBadRequest, "アイテムIDが不正です", err)
	}
	return nil
}

func errItemNotFound() error {
	return apperr.New(apperr.CodeNotFound, "カートに該当するアイテムがありません")
}
