package cart

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/bson/primitive"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"

	"github.com/nao1215/bookshop/internal/store"
)

// cartsCollection はカートを格納するコレクション名。
const cartsCollection = "carts"

type cartDocument struct {
	ID        primitive.ObjectID `bson:"_id"`
	UserID    string             `bson:"userId"`
	Items     []itemDocument     `bson:"items"`
	CreatedAt time.Time          `bson:"createdAt"`
	UpdatedAt time.Time          `bson:"updatedAt"`
}

type itemDocument struct {
	ID       string  `bson:"_id"`
	BookID   string  `bson:"bookId"`
	Quantity int     `bson:"quantity"`
	Price    float64 `bson:"price"`
	Title    string  `bson:"title"`
	ImageURL string  `bson:"imageUrl"`
}

func (d *cartDocument) toCart() *Cart {
	items := make([]Item, 0, len(d.Items))
	for _, it := range d.Items {
		items = append(items, Item(it))
	}
	return &Cart{
		ID:        d.ID.Hex(),
		UserID:    d.UserID,
		Items:     items,
		CreatedAt: d.CreatedAt.UTC(),
		UpdatedAt: d.UpdatedAt.UTC(),
	}
}

// Mongo はMongoDBを使用するStore実装。
type Mongo struct {
	client *mongo.Client
	carts  *mongo.Collection
}

var _ Store = (*Mongo)(nil)

// OpenMongo はMongoDBへ接続し、ユーザーIDの一意インデックスを作成する。
func OpenMongo(ctx context.Context, uri, database string) (*Mongo, error) {
	client, err := store.ConnectMongo(ctx, uri)
	if err != nil {
		return nil, err
	}

	carts := client.Database(database).Collection(cartsCollection)
	_, err = carts.Indexes().CreateOne(ctx, mongo.IndexModel{
		Keys:    bson.D{{Key: "userId", Value: 1}},
		Options: options.Index().SetUnique(true),
	})
	if err != nil {
		_ = client.Disconnect(ctx)
		return nil, fmt.Errorf("インデックスの作成に失敗: %w", err)
	}
	return newMongo(client, carts), nil
}

func newMongo(client *mongo.Client, carts *mongo.Collection) *Mongo {
	return &Mongo{client: client, carts: carts}
}

// Get はユーザーのカートを取得する。
func (m *Mongo) Get(ctx context.Context, userID string) (*Cart, error) {
	var doc cartDocument
	err := m.carts.FindOne(ctx, bson.M{"userId": userID}).Decode(&doc)
	if errors.Is(err, mongo.ErrNoDocuments) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("カートの取得に失敗: %w", err)
	}
	return doc.toCart(), nil
}

// Save はユーザーIDをキーにカートドキュメントを置き換える。存在しない場合は作成する。
func (m *Mongo) Save(ctx context.Context, c *Cart) error {
	oid := primitive.NewObjectID()
	if c.ID != "" {
		var err error
		if oid, err = primitive.ObjectIDFromHex(c.ID); err != nil {
			return fmt.Errorf("カートIDが不正です: %w", err)
		}
	}

	doc := cartDocument{
		ID:        oid,
		UserID:    c.UserID,
		Items:     make([]itemDocument, 0, len(c.Items)),
		CreatedAt: c.CreatedAt.UTC(),
		UpdatedAt: c.UpdatedAt.UTC(),
	}
	for _, it := range c.Items {
		doc.Items = append(doc.Items, itemDocument(it))
	}

	_, err := m.carts.ReplaceOne(ctx, bson.M{"userId": c.UserID}, doc, options.Replace().SetUpsert(true))
	if err != nil {
		return fmt.Errorf("カートの保存に失敗: %w", err)
	}
	c.ID = oid.Hex()
	return nil
}

// Ping は接続の疎通を確認する。
func (m *Mongo) Ping(ctx context.Context) error {
	return m.client.Ping(ctx, nil)
}

// Close は接続を閉じる。
func (m *Mongo) Close(ctx context.Context) error {
	return m.client.Disconnect(ctx)
}
