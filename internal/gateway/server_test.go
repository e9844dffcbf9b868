package gateway

import (
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"go.uber.org/zap"

	"github.com/nao1215/bookshop/internal/metrics"
	"github.com/nao1215/bookshop/internal/registry"
	"github.com/nao1215/bookshop/pkg/httpclient"
)

func init() {
	gin.SetMode(gin.TestMode)
}

// newTestServerWithBackend はモックバックエンドサービスを持つテスト用Gatewayサーバーを生成する。
// backendHandlerで指定したハンドラが "auth" サービスとして応答する。
func newTestServerWithBackend(t *testing.T, backendHandler http.HandlerFunc) *Server {
	t.Helper()

	backend := httptest.NewServer(backendHandler)
	t.Cleanup(backend.Close)

	reg, err := registry.New(map[string]string{"auth": backend.URL})
	if err != nil {
		t.Fatalf("レジストリの生成に失敗: %v", err)
	}
	promReg := prometheus.NewRegistry()
	collector := metrics.NewCollector(promReg)
	d := NewDispatcher(reg, httpclient.New(time.Second), zap.NewNop(), collector)

	return NewServer(Config{Port: "0", Forwarder: d, Logger: zap.NewNop(), Gatherer: promReg})
}

func TestHandleProxy(t *testing.T) {
	t.Parallel()

	t.Run("バックエンドの応答をステータスとヘッダーごと返すこと", func(t *testing.T) {
		t.Parallel()

		s := newTestServerWithBackend(t, func(w http.ResponseWriter, r *http.Request) {
			if r.URL.Path != "/login" || r.URL.RawQuery != "next=%2Fme" {
				http.Error(w, "unexpected "+r.URL.String(), http.StatusTeapot)
				return
			}
			w.Header().Set("Content-Type", "application/json")
			w.Header().Set("X-Request-Served-By", "auth")
			w.WriteHeader(http.StatusUnauthorized)
			_, _ = io.WriteString(w, `{"error":"認証に失敗しました","code":"UNAUTHORIZED"}`)
		})

		w := httptest.NewRecorder()
		req := httptest.NewRequest(http.MethodPost, "/auth/login?next=%2Fme", strings.NewReader(`{"email":"bob"}`))
		req.Header.Set("Content-Type", "application/json")
		s.Handler().ServeHTTP(w, req)

		if w.Code != http.StatusUnauthorized {
			t.Fatalf("ステータスコード: got %d, want %d (%s)", w.Code, http.StatusUnauthorized, w.Body.String())
		}
		if w.Header().Get("X-Request-Served-By") != "auth" {
			t.Error("バックエンドのヘッダーが返されていない")
		}
		var body map[string]string
		if err := json.Unmarshal(w.Body.Bytes(), &body); err != nil {
			t.Fatalf("レスポンスのパースに失敗: %v", err)
		}
		if body["code"] != "UNAUTHORIZED" {
			t.Errorf("code: got %q", body["code"])
		}
	})

	t.Run("HTMLの応答をそのまま返すこと", func(t *testing.T) {
		t.Parallel()

		const page = "<html><body>確認しました</body></html>"
		s := newTestServerWithBackend(t, func(w http.ResponseWriter, _ *http.Request) {
			w.Header().Set("Content-Type", "text/html; charset=utf-8")
			_, _ = io.WriteString(w, page)
		})

		w := httptest.NewRecorder()
		s.Handler().ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/auth/verify-email?user_id=1&token=t", nil))

		if w.Code != http.StatusOK || w.Body.String() != page {
			t.Errorf("応答: got %d %q", w.Code, w.Body.String())
		}
		if !strings.HasPrefix(w.Header().Get("Content-Type"), "text/html") {
			t.Errorf("Content-Type: got %q", w.Header().Get("Content-Type"))
		}
		if w.Header().Get("Content-Security-Policy") == "" {
			t.Error("Content-Security-Policyが付与されていない")
		}
	})

	t.Run("未登録のサービスは400を返すこと", func(t *testing.T) {
		t.Parallel()

		s := newTestServerWithBackend(t, func(http.ResponseWriter, *http.Request) {
			t.Error("バックエンドが呼び出された")
		})

		w := httptest.NewRecorder()
		s.Handler().ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/payments/charge", nil))

		if w.Code != http.StatusBadRequest {
			t.Errorf("ステータスコード: got %d, want %d", w.Code, http.StatusBadRequest)
		}
	})

	t.Run("OPTIONSはバックエンドを呼ばずに204を返すこと", func(t *testing.T) {
		t.Parallel()

		s := newTestServerWithBackend(t, func(http.ResponseWriter, *http.Request) {
			t.Error("バックエンドが呼び出された")
		})

		w := httptest.NewRecorder()
		s.Handler().ServeHTTP(w, httptest.NewRequest(http.MethodOptions, "/auth/login", nil))

		if w.Code != http.StatusNoContent {
			t.Errorf("ステータスコード: got %d, want %d", w.Code, http.StatusNoContent)
		}
		if w.Header().Get("Access-Control-Max-Age") != "3600" {
			t.Errorf("Access-Control-Max-Age: got %q", w.Header().Get("Access-Control-Max-Age"))
		}
	})

	t.Run("エスケープされたパスをデコードせずに転送すること", func(t *testing.T) {
		t.Parallel()

		s := newTestServerWithBackend(t, func(w http.ResponseWriter, r *http.Request) {
			_, _ = io.WriteString(w, r.URL.EscapedPath()+"|"+r.URL.RawQuery)
		})

		tests := map[string]string{
			"/auth/a%3Fb?x=1":        "/a%3Fb|x=1",
			"/auth/books/a%2Fb/item": "/books/a%2Fb/item|",
			"/auth/a%25zz":           "/a%25zz|",
			"/auth/":                 "/|",
		}
		for target, want := range tests {
			w := httptest.NewRecorder()
			s.Handler().ServeHTTP(w, httptest.NewRequest(http.MethodGet, target, nil))
			if w.Body.String() != want {
				t.Errorf("%s: got %q, want %q", target, w.Body.String(), want)
			}
		}
	})

	t.Run("PATCHとDELETEも転送されること", func(t *testing.T) {
		t.Parallel()

		s := newTestServerWithBackend(t, func(w http.ResponseWriter, r *http.Request) {
			_, _ = io.WriteString(w, r.Method)
		})

		for _, method := range []string{http.MethodPatch, http.MethodDelete, http.MethodPut} {
			w := httptest.NewRecorder()
			s.Handler().ServeHTTP(w, httptest.NewRequest(method, "/auth/me", nil))
			if w.Body.String() != method {
				t.Errorf("%s: got %q", method, w.Body.String())
			}
		}
	})
}

func TestGatewayHealthCheck(t *testing.T) {
	t.Parallel()

	s := newTestServerWithBackend(t, func(http.ResponseWriter, *http.Request) {})

	w := httptest.NewRecorder()
	s.Handler().ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/health", nil))

	if w.Code != http.StatusOK {
		t.Errorf("ステータスコード: got %d, want %d", w.Code, http.StatusOK)
	}
	var body map[string]string
	if err := json.Unmarshal(w.Body.Bytes(), &body); err != nil {
		t.Fatalf("レスポンスのパースに失敗: %v", err)
	}
	if body["status"] != "ok" || body["service"] != "api-gateway" {
		t.Errorf("レスポンス: got %v", body)
	}
}

func TestGatewayMetrics(t *testing.T) {
	t.Parallel()

	s := newTestServerWithBackend(t, func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusAccepted)
	})

	s.Handler().ServeHTTP(httptest.NewRecorder(), httptest.NewRequest(http.MethodGet, "/auth/ping", nil))

	w := httptest.NewRecorder()
	s.Handler().ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/metrics", nil))

	if w.Code != http.StatusOK {
		t.Fatalf("ステータスコード: got %d, want %d", w.Code, http.StatusOK)
	}
	if !strings.Contains(w.Body.String(), `bookshop_gateway_requests_total{code="202",service="auth"} 1`) {
		t.Errorf("転送件数のメトリクスが出力されていない:\n%s", w.Body.String())
	}
}
