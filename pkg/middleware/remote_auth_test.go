package middleware

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/nao1215/bookshop/pkg/apperr"
)

// stubResolver は固定の結果を返すIdentityResolver。
type stubResolver struct {
	userID string
	err    error
	got    string
}

func (r *stubResolver) ResolveUserID(_ context.Context, bearerToken string) (string, error) {
	r.got = bearerToken
	return r.userID, r.err
}

// TestRemoteAuth はRemoteAuthミドルウェアを検証する。
func TestRemoteAuth(t *testing.T) {
	t.Parallel()

	serve := func(resolver IdentityResolver, authorization string) (*httptest.ResponseRecorder, string) {
		var captured string
		router := gin.New()
		router.Use(RemoteAuth(resolver, zap.NewNop()))
		router.GET("/", func(c *gin.Context) {
			captured = GetUserID(c)
			c.Status(http.StatusOK)
		})

		req := httptest.NewRequest(http.MethodGet, "/", nil)
		if authorization != "" {
			req.Header.Set("Authorization", authorization)
		}
		w := httptest.NewRecorder()
		router.ServeHTTP(w, req)
		return w, captured
	}

	decode := func(t *testing.T, w *httptest.ResponseRecorder) map[string]string {
		t.Helper()
		var body map[string]string
		if err := json.Unmarshal(w.Body.Bytes(), &body); err != nil {
			t.Fatalf("レスポンスボディのパースに失敗: %v", err)
		}
		return body
	}

	t.Run("認証サービスが返したユーザーIDをコンテキストに設定すること", func(t *testing.T) {
		t.Parallel()

		resolver := &stubResolver{userID: "user-1"}
		w, captured := serve(resolver, "Bearer abc")

		if w.Code != http.StatusOK {
			t.Errorf("ステータスコード = %d, want %d", w.Code, http.StatusOK)
		}
		if captured != "user-1" {
			t.Errorf("user_id = %q, want %q", captured, "user-1")
		}
		if resolver.got != "abc" {
			t.Errorf("問い合わせたトークン = %q, want %q", resolver.got, "abc")
		}
	})

	t.Run("Authorizationヘッダーが無い場合は問い合わせずに401が返ること", func(t *testing.T) {
		t.Parallel()

		resolver := &stubResolver{userID: "user-1"}
		w, _ := serve(resolver, "")

		if w.Code != http.StatusUnauthorized {
			t.Errorf("ステータスコード = %d, want %d", w.Code, http.StatusUnauthorized)
		}
		if body := decode(t, w); body["code"] != "UNAUTHORIZED" {
			t.Errorf("code = %q, want %q", body["code"], "UNAUTHORIZED")
		}
		if resolver.got != "" {
			t.Error("認証サービスに問い合わせている")
		}
	})

	t.Run("Bearer以外の形式は401が返ること", func(t *testing.T) {
		t.Parallel()

		w, _ := serve(&stubResolver{userID: "user-1"}, "Basic dXNlcjpwYXNz")
		if w.Code != http.StatusUnauthorized {
			t.Errorf("ステータスコード = %d, want %d", w.Code, http.StatusUnauthorized)
		}
	})

	t.Run("型なしの検証失敗は401として扱うこと", func(t *testing.T) {
		t.Parallel()

		w, _ := serve(&stubResolver{err: errors.New("invalid token")}, "Bearer abc")
		if w.Code != http.StatusUnauthorized {
			t.Errorf("ステータスコード = %d, want %d", w.Code, http.StatusUnauthorized)
		}
		if body := decode(t, w); body["error"] != "トークンが無効です" {
			t.Errorf("error = %q", body["error"])
		}
	})

	t.Run("認証サービスに接続できない場合はそのコードで応答すること", func(t *testing.T) {
		t.Parallel()

		err := apperr.New(apperr.CodeServiceUnavailable, "認証サービスに接続できません")
		w, _ := serve(&stubResolver{err: err}, "Bearer abc")
		if w.Code != http.StatusServiceUnavailable {
			t.Errorf("ステータスコード = %d, want %d", w.Code, http.StatusServiceUnavailable)
		}
	})
}
