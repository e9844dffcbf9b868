package gateway

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"mime"
	"net/http"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/nao1215/bookshop/internal/metrics"
	"github.com/nao1215/bookshop/internal/registry"
	"github.com/nao1215/bookshop/pkg/apperr"
	"github.com/nao1215/bookshop/pkg/httpclient"
)

// Resolver はサービス名から転送先のベースURLを解決する。
type Resolver interface {
	Resolve(name string) (string, error)
}

// Request は転送対象のリクエスト。
type Request struct {
	// Service はパス先頭のサービス名。
	Service string
	// Path はサービス名より後ろのエスケープ済みパス（先頭のスラッシュなし）。
	Path string
	// Method はHTTPメソッド。
	Method string
	// Header は呼び出し元のリクエストヘッダー。
	Header http.Header
	// RawQuery はエンコード済みのクエリ文字列。
	RawQuery string
	// Body はリクエストボディ。
	Body []byte
}

// Response は呼び出し元へ返す応答。
type Response struct {
	// StatusCode はHTTPステータスコード。
	StatusCode int
	// Header は呼び出し元へ返すヘッダー。フレーミング系ヘッダーは含まない。
	Header http.Header
	// ContentType は応答のContent-Type。
	ContentType string
	// Body は応答ボディ。
	Body []byte
}

// preflightHeaders はOPTIONSリクエストに返すCORSヘッダー。
var preflightHeaders = map[string]string{
	"Access-Control-Allow-Origin":  "*",
	"Access-Control-Allow-Methods": "GET, POST, PUT, DELETE, OPTIONS, PATCH",
	"Access-Control-Allow-Headers": "*",
	"Access-Control-Max-Age":       "3600",
}

// framingHeaders はレスポンスライターが管理するため転送しないヘッダー。
var framingHeaders = map[string]struct{}{
	"Content-Length":      {},
	"Transfer-Encoding":   {},
	"Connection":          {},
	"Keep-Alive":          {},
	"Proxy-Authenticate":  {},
	"Proxy-Authorization": {},
	"Te":                  {},
	"Trailer":             {},
	"Upgrade":             {},
}

// Dispatcher はリクエストを内部サービスへ転送する。
type Dispatcher struct {
	resolver Resolver
	client   *httpclient.Client
	logger   *zap.Logger
	recorder metrics.ProxyRecorder
}

// NewDispatcher は新しいDispatcherを生成する。recorderがnilの場合はメトリクスを記録しない。
func NewDispatcher(resolver Resolver, client *httpclient.Client, logger *zap.Logger, recorder metrics.ProxyRecorder) *Dispatcher {
	if recorder == nil {
		recorder = metrics.Nop{}
	}
	return &Dispatcher{
		resolver: resolver,
		client:   client,
		logger:   logger,
		recorder: recorder,
	}
}

// Forward はリクエストを転送先サービスへ中継し、応答を返す。
// 未登録のサービス名はBadRequest、接続失敗はServiceUnavailable、
// それ以外の失敗はInternalのapperr.Errorを返す。
func (d *Dispatcher) Forward(ctx context.Context, req Request) (*Response, error) {
	baseURL, err := d.resolver.Resolve(req.Service)
	if err != nil {
		d.recorder.RecordProxyFailure(req.Service, metrics.ReasonUnknownService)
		if errors.Is(err, registry.ErrNotFound) {
			return nil, apperr.Wrap(apperr.CodeBadRequest, "不明なサービスです", err)
		}
		return nil, apperr.Internal(err)
	}

	if req.Method == http.MethodOptions {
		header := make(http.Header, len(preflightHeaders))
		for k, v := range preflightHeaders {
			header.Set(k, v)
		}
		return &Response{StatusCode: http.StatusNoContent, Header: header}, nil
	}

	target := baseURL + "/" + req.Path
	if req.RawQuery != "" {
		target += "?" + req.RawQuery
	}

	d.logger.Debug("リクエストを転送します",
		zap.String("service", req.Service),
		zap.String("method", req.Method),
		zap.String("url", target),
	)

	start := time.Now()
	resp, err := d.client.Do(ctx, req.Method, target, req.Header, bytes.NewReader(req.Body))
	if err != nil {
		if httpclient.IsConnectionError(err) {
			d.recorder.RecordProxyFailure(req.Service, metrics.ReasonConnection)
			d.logger.Error("転送先サービスに接続できません", zap.String("service", req.Service), zap.Error(err))
			return nil, apperr.Wrap(apperr.CodeServiceUnavailable,
				fmt.Sprintf("サービス %s に接続できません", req.Service), err)
		}
		d.recorder.RecordProxyFailure(req.Service, metrics.ReasonInternal)
		return nil, apperr.Internal(fmt.Errorf("%sへの転送に失敗: %w", req.Service, err))
	}
	d.recorder.RecordProxy(req.Service, resp.StatusCode, time.Since(start))

	return buildResponse(resp), nil
}

// buildResponse は転送先の応答からContent-Typeに応じて応答を組み立てる。
// JSONはデコードして再エンコードし、デコードできない場合はそのまま返す。
// それ以外の形式はバイト列をそのまま返す。
func buildResponse(resp *httpclient.Response) *Response {
	header := make(http.Header, len(resp.Header))
	for k, v := range resp.Header {
		if _, skip := framingHeaders[http.CanonicalHeaderKey(k)]; skip {
			continue
		}
		header[k] = append([]string(nil), v...)
	}

	contentType := resp.Header.Get("Content-Type")
	body := resp.Body
	if isJSON(contentType) {
		if reencoded, ok := reencodeJSON(body); ok {
			body = reencoded
		}
	}

	return &Response{
		StatusCode:  resp.StatusCode,
		Header:      header,
		ContentType: contentType,
		Body:        body,
	}
}

func isJSON(contentType string) bool {
	mediaType, _, err := mime.ParseMediaType(contentType)
	if err != nil {
		return strings.Contains(contentType, "application/json")
	}
	return mediaType == "application/json"
}

// reencodeJSON はJSONを正規化して返す。数値は精度を保つためjson.Numberとして扱う。
func reencodeJSON(body []byte) ([]byte, bool) {
	dec := json.NewDecoder(bytes.NewReader(body))
	dec.UseNumber()
	var v any
	if err := dec.Decode(&v); err != nil {
		return nil, false
	}
	if dec.More() {
		return nil, false
	}
	var buf bytes.Buffer
	enc := json.NewEncoder(&buf)
	enc.SetEscapeHTML(false)
	if err := enc.Encode(v); err != nil {
		return nil, false
	}
	return bytes.TrimSuffix(buf.Bytes(), []byte("\n")), true
}
