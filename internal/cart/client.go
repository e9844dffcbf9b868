package cart

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"strings"

	"github.com/nao1215/bookshop/pkg/apperr"
	"github.com/nao1215/bookshop/pkg/httpclient"
	"github.com/nao1215/bookshop/pkg/middleware"
)

// Book はカートに追加する書籍の情報。
type Book struct {
	ID       string  `json:"_id"`
	Title    string  `json:"title"`
	Author   string  `json:"author"`
	Price    float64 `json:"price"`
	ImageURL string  `json:"imageUrl"`
}

// Catalog は書籍情報を取得する。
type Catalog interface {
	// Book はIDで書籍を取得する。
	Book(ctx context.Context, id string) (*Book, error)
}

// BookClient は書籍サービスのHTTPクライアント。
type BookClient struct {
	baseURL string
	client  *httpclient.Client
}

var _ Catalog = (*BookClient)(nil)

// NewBookClient は書籍サービスのベースURLを指定してクライアントを生成する。
func NewBookClient(baseURL string, client *httpclient.Client) *BookClient {
	return &BookClient{baseURL: strings.TrimRight(baseURL, "/"), client: client}
}

// Book は GET {baseURL}/{id} で書籍を取得する。
// 404はNotFound、400はBadRequest、接続失敗とそれ以外の応答はServiceUnavailableを返す。
func (b *BookClient) Book(ctx context.Context, id string) (*Book, error) {
	resp, err := b.client.Do(ctx, http.MethodGet, b.baseURL+"/"+url.PathEscape(id), nil, nil)
	if err != nil {
		if httpclient.IsConnectionError(err) {
			return nil, apperr.Wrap(apperr.CodeServiceUnavailable, "書籍サービスに接続できません", err)
		}
		return nil, apperr.Internal(err)
	}

	switch resp.StatusCode {
	case http.StatusOK:
	case http.StatusNotFound:
		return nil, apperr.New(apperr.CodeNotFound, "書籍が見つかりません")
	case http.StatusBadRequest:
		return nil, apperr.New(apperr.CodeBadRequest, "書籍IDが不正です")
	default:
		return nil, apperr.Wrap(apperr.CodeServiceUnavailable, "書籍情報を取得できません",
			fmt.Errorf("書籍サービスがステータス%dを返しました", resp.StatusCode))
	}

	var body struct {
		Success bool `json:"success"`
		Data    Book `json:"data"`
	}
	if err := json.Unmarshal(resp.Body, &body); err != nil {
		return nil, apperr.Internal(fmt.Errorf("書籍レスポンスの解析に失敗: %w", err))
	}
	if !body.Success {
		return nil, apperr.Wrap(apperr.CodeServiceUnavailable, "書籍情報を取得できません",
			errors.New("書籍サービスが失敗を返しました"))
	}
	return &body.Data, nil
}

// AuthClient は認証サービスの/meでアクセストークンの持ち主を確認する。
type AuthClient struct {
	baseURL string
	client  *httpclient.Client
}

var _ middleware.IdentityResolver = (*AuthClient)(nil)

// NewAuthClient は認証サービスのベースURLを指定してクライアントを生成する。
func NewAuthClient(baseURL string, client *httpclient.Client) *AuthClient {
	return &AuthClient{baseURL: strings.TrimRight(baseURL, "/"), client: client}
}

// ResolveUserID はトークンを付けて GET {baseURL}/me を呼び出し、応答のidを返す。
// 200以外の応答は無効なトークンとして扱う。
func (a *AuthClient) ResolveUserID(ctx context.Context, bearerToken string) (string, error) {
	header := http.Header{"Authorization": {"Bearer " + bearerToken}}
	resp, err := a.client.Do(ctx, http.MethodGet, a.baseURL+"/me", header, nil)
	if err != nil {
		if httpclient.IsConnectionError(err) {
			return "", apperr.Wrap(apperr.CodeServiceUnavailable, "認証サービスに接続できません", err)
		}
		return "", apperr.Internal(err)
	}
	if resp.StatusCode != http.StatusOK {
		return "", apperr.Wrap(apperr.CodeUnauthorized, "トークンが無効です",
			fmt.Errorf("認証サービスがステータス%dを返しました", resp.StatusCode))
	}

	var me struct {
		ID string `json:"id"`
	}
	if err := json.Unmarshal(resp.Body, &me); err != nil {
		return "", apperr.Internal(fmt.Errorf("ユーザー情報の解析に失敗: %w", err))
	}
	if me.ID == "" {
		return "", apperr.New(apperr.CodeUnauthorized, "ユーザーIDを取得できません")
	}
	return me.ID, nil
}
