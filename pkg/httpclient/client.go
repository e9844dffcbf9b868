package httpclient

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"time"
)

// DefaultTimeout は転送1回あたりのデフォルトタイムアウト。
const DefaultTimeout = 30 * time.Second

// Client は転送先サービスへの中継用HTTPクライアント。
type Client struct {
	// httpClient は内部で使用するHTTPクライアント。
	httpClient *http.Client
}

// Response は転送先から受け取った応答。ボディは読み込み済み。
type Response struct {
	// StatusCode はHTTPステータスコード。
	StatusCode int
	// Header は応答ヘッダー。
	Header http.Header
	// Body は応答ボディ。
	Body []byte
}

// New はタイムアウトを指定してクライアントを生成する。
// timeoutが0以下の場合は DefaultTimeout を使用する。
func New(timeout time.Duration) *Client {
	if timeout <= 0 {
		timeout = DefaultTimeout
	}
	return &Client{
		httpClient: &http.Client{
			Timeout: timeout,
			// リダイレクトは追跡せず応答をそのまま返す
			CheckRedirect: func(*http.Request, []*http.Request) error {
				return http.ErrUseLastResponse
			},
		},
	}
}

// Do は指定URLへリクエストを送信し、応答ボディを読み切って返す。
// headerはそのままコピーして送信する。
func (c *Client) Do(ctx context.Context, method, url string, header http.Header, body io.Reader) (*Response, error) {
	req, err := http.NewRequestWithContext(ctx, method, url, body)
	if err != nil {
		return nil, fmt.Errorf("HTTPリクエストの作成に失敗: %w", err)
	}
	for key, values := range header {
		for _, v := range values {
			req.Header.Add(key, v)
		}
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("HTTPリクエストの送信に失敗: %w", err)
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("レスポンスボディの読み込みに失敗: %w", err)
	}

	return &Response{
		StatusCode: resp.StatusCode,
		Header:     resp.Header,
		Body:       respBody,
	}, nil
}

// IsConnectionError はerrが接続レベルの失敗（接続拒否、名前解決失敗、タイムアウト）かを判定する。
// URLの解釈失敗や呼び出し元によるキャンセルは接続失敗として扱わない。
func IsConnectionError(err error) bool {
	if err == nil || errors.Is(err, context.Canceled) {
		return false
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return true
	}
	var opErr *net.OpError
	if errors.As(err, &opErr) {
		return true
	}
	var dnsErr *net.DNSError
	if errors.As(err, &dnsErr) {
		return true
	}
	var netErr net.Error
	return errors.As(err, &netErr) && netErr.Timeout()
}
