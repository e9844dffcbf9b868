package store

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/bson/primitive"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"

	"github.com/nao1215/bookshop/internal/model"
)

// usersCollection はユーザーを格納するコレクション名。
const usersCollection = "users_collection"

// userDocument はMongoDBに保存するユーザードキュメント。
type userDocument struct {
	ID           primitive.ObjectID `bson:"_id,omitempty"`
	Username     string             `bson:"username"`
	Email        string             `bson:"email"`
	PasswordHash string             `bson:"password_hash"`
	FirstName    string             `bson:"first_name"`
	LastName     string             `bson:"last_name"`
	Gender       string             `bson:"gender"`
	DateOfBirth  string             `bson:"date_of_birth"`
	CreatedAt    time.Time          `bson:"created_at"`
	IsActive     bool               `bson:"is_active"`
	IsVerified   bool               `bson:"is_verified"`
	Provider     string             `bson:"provider"`
}

func (d *userDocument) toModel() (*model.User, error) {
	dob, err := model.ParseDate(d.DateOfBirth)
	if err != nil {
		return nil, err
	}
	return &model.User{
		ID:           d.ID.Hex(),
		Username:     d.Username,
		Email:        d.Email,
		PasswordHash: d.PasswordHash,
		FirstName:    d.FirstName,
		LastName:     d.LastName,
		Gender:       model.Gender(d.Gender),
		DateOfBirth:  dob,
		CreatedAt:    d.CreatedAt.UTC(),
		IsActive:     d.IsActive,
		IsVerified:   d.IsVerified,
		Provider:     d.Provider,
	}, nil
}

// Mongo はMongoDBを使用するStore実装。
type Mongo struct {
	// client はMongoDBクライアント。
	client *mongo.Client
	// users はユーザーコレクション。
	users *mongo.Collection
}

var _ Store = (*Mongo)(nil)

// OpenMongo はMongoDBへ接続し、一意インデックスを作成する。
func OpenMongo(ctx context.Context, uri, database string) (*Mongo, error) {
	client, err := ConnectMongo(ctx, uri)
	if err != nil {
		return nil, err
	}

	users := client.Database(database).Collection(usersCollection)
	_, err = users.Indexes().CreateMany(ctx, []mongo.IndexModel{
		{Keys: bson.D{{Key: "username", Value: 1}}, Options: options.Index().SetUnique(true)},
		{Keys: bson.D{{Key: "email", Value: 1}}, Options: options.Index().SetUnique(true)},
	})
	if err != nil {
		_ = client.Disconnect(ctx)
		return nil, fmt.Errorf("インデックスの作成に失敗: %w", err)
	}

	return newMongo(client, users), nil
}

// ConnectMongo は接続プールを設定したMongoDBクライアントを生成し、疎通を確認する。
func ConnectMongo(ctx context.Context, uri string) (*mongo.Client, error) {
	opts := options.Client().ApplyURI(uri).
		SetMaxPoolSize(100).
		SetMinPoolSize(5).
		SetMaxConnIdleTime(5 * time.Minute).
		SetRetryWrites(true).
		SetRetryReads(true)

	client, err := mongo.Connect(ctx, opts)
	if err != nil {
		return nil, fmt.Errorf("MongoDBへの接続に失敗: %w", err)
	}
	if err := client.Ping(ctx, nil); err != nil {
		_ = client.Disconnect(ctx)
		return nil, fmt.Errorf("MongoDBの疎通確認に失敗: %w", err)
	}
	return client, nil
}

func newMongo(client *mongo.Client, users *mongo.Collection) *Mongo {
	return &Mongo{client: client, users: users}
}

// FindByEmail はメールアドレスでユーザーを取得する。
func (m *Mongo) FindByEmail(ctx context.Context, email string) (*model.User, error) {
	return m.findOne(ctx, bson.M{"email": email})
}

// FindByUsername はユーザー名でユーザーを取得する。
func (m *Mongo) FindByUsername(ctx context.Context, username string) (*model.User, error) {
	return m.findOne(ctx, bson.M{"username": username})
}

// FindByID はIDでユーザーを取得する。ObjectIDとして解釈できないIDは ErrNotFound。
func (m *Mongo) FindByID(ctx context.Context, id string) (*model.User, error) {
	oid, err := primitive.ObjectIDFromHex(id)
	if err != nil {
		return nil, ErrNotFound
	}
	return m.findOne(ctx, bson.M{"_id": oid})
}

func (m *Mongo) findOne(ctx context.Context, filter bson.M) (*model.User, error) {
	var doc userDocument
	err := m.users.FindOne(ctx, filter).Decode(&doc)
	if errors.Is(err, mongo.ErrNoDocuments) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("ユーザーの取得に失敗: %w", err)
	}
	return doc.toModel()
}

// ExistsByUsernameOrEmail はユーザー名またはメールアドレスが使用済みかを判定する。
func (m *Mongo) ExistsByUsernameOrEmail(ctx context.Context, username, email string) (bool, error) {
	n, err := m.users.CountDocuments(ctx, bson.M{"$or": bson.A{
		bson.M{"username": username},
		bson.M{"email": email},
	}}, options.Count().SetLimit(1))
	if err != nil {
		return false, fmt.Errorf("重複確認に失敗: %w", err)
	}
	return n > 0, nil
}

// Insert はユーザーを登録する。IDはObjectIDで採番する。
func (m *Mongo) Insert(ctx context.Context, user *model.User) (*model.User, error) {
	created := *user
	if created.CreatedAt.IsZero() {
		created.CreatedAt = time.Now().UTC()
	}
	doc := userDocument{
		ID:           primitive.NewObjectID(),
		Username:     created.Username,
		Email:        created.Email,
		PasswordHash: created.PasswordHash,
		FirstName:    created.FirstName,
		LastName:     created.LastName,
		Gender:       string(created.Gender),
		DateOfBirth:  model.FormatDate(created.DateOfBirth),
		CreatedAt:    created.CreatedAt,
		IsActive:     created.IsActive,
		IsVerified:   created.IsVerified,
		Provider:     created.Provider,
	}
	if _, err := m.users.InsertOne(ctx, doc); err != nil {
		if mongo.IsDuplicateKeyError(err) {
			return nil, ErrDuplicate
		}
		return nil, fmt.Errorf("ユーザーの登録に失敗: %w", err)
	}
	created.ID = doc.ID.Hex()
	return &created, nil
}

// UpdateByID はIDで指定したユーザーを部分更新する。
func (m *Mongo) UpdateByID(ctx context.Context, id string, patch model.UserPatch) (int64, error) {
	oid, err := primitive.ObjectIDFromHex(id)
	if err != nil {
		return 0, nil
	}
	return m.update(ctx, bson.M{"_id": oid}, patch)
}

// UpdateByEmail はメールアドレスで指定したユーザーを部分更新する。
func (m *Mongo) UpdateByEmail(ctx context.Context, email string, patch model.UserPatch) (int64, error) {
	return m.update(ctx, bson.M{"email": email}, patch)
}

// update は$setで部分更新し、MongoDBが報告する変更件数を返す。
// 値が同一の場合ModifiedCountは0になる。
func (m *Mongo) update(ctx context.Context, filter bson.M, patch model.UserPatch) (int64, error) {
	set := bsonSet(patch)
	if len(set) == 0 {
		return 0, nil
	}
	result, err := m.users.UpdateOne(ctx, filter, bson.M{"$set": set})
	if err != nil {
		return 0, fmt.Errorf("ユーザーの更新に失敗: %w", err)
	}
	return result.ModifiedCount, nil
}

// Ping は接続の疎通を確認する。
func (m *Mongo) Ping(ctx context.Context) error {
	return m.client.Ping(ctx, nil)
}

// Close は接続を閉じる。
func (m *Mongo) Close(ctx context.Context) error {
	return m.client.Disconnect(ctx)
}

func bsonSet(patch model.UserPatch) bson.M {
	set := bson.M{}
	for _, f := range patchFields(patch) {
		set[f.column] = f.value
	}
	return set
}
