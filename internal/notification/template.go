package notification

import (
	"bytes"
	"embed"
	"fmt"
	"html/template"
	"net/url"

	"github.com/nao1215/bookshop/pkg/event"
)

//go:embed templates/*.html
var templateFS embed.FS

// 件名。
const (
	subjectVerification  = "メールアドレスの確認"
	subjectPasswordReset = "パスワード再設定のご案内"
)

// Renderer はイベントからメール本文を生成する。
type Renderer struct {
	// baseURL はリンクの起点となる公開URL。
	baseURL string
	// templates は埋め込みテンプレート。
	templates *template.Template
}

// NewRenderer はリンクの起点となる公開URLを指定してRendererを生成する。
func NewRenderer(baseURL string) (*Renderer, error) {
	tmpl, err := template.ParseFS(templateFS, "templates/*.html")
	if err != nil {
		return nil, fmt.Errorf("メールテンプレートの読み込みに失敗: %w", err)
	}
	return &Renderer{baseURL: baseURL, templates: tmpl}, nil
}

// Render はイベントに対応するメールを生成する。
func (r *Renderer) Render(ev *event.Event) (*Message, error) {
	switch ev.EventType {
	case event.TypeVerificationRequested:
		data, err := event.DecodeData[event.VerificationRequestedData](ev)
		if err != nil {
			return nil, err
		}
		q := url.Values{}
		q.Set("user_id", data.UserID)
		q.Set("token", data.Token)
		link := r.baseURL + "/api/auth/verify-email?" + q.Encode()
		return r.render(data.Email, subjectVerification, "verification.html", link)

	case event.TypePasswordResetRequested:
		data, err := event.DecodeData[event.PasswordResetRequestedData](ev)
		if err != nil {
			return nil, err
		}
		link := r.baseURL + "/api/auth/reset-password?token=" + url.QueryEscape(data.Token)
		return r.render(data.Email, subjectPasswordReset, "password_reset.html", link)

	default:
		return nil, fmt.Errorf("未対応のイベント種別です: %s", ev.EventType)
	}
}

func (r *Renderer) render(to, subject, name, link string) (*Message, error) {
	var buf bytes.Buffer
	if err := r.templates.ExecuteTemplate(&buf, name, struct{ Link string }{Link: link}); err != nil {
		return nil, fmt.Errorf("メール本文の生成に失敗: %w", err)
	}
	return &Message{To: to, Subject: subject, HTMLBody: buf.String()}, nil
}
