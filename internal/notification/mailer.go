package notification

import (
	"context"
	"fmt"
	"time"

	"github.com/wneessen/go-mail"
	"go.uber.org/zap"
)

// senderName は送信者の表示名。
const senderName = "BookShop 認証サービス"

// Message は送信するメール。
type Message struct {
	// To は宛先メールアドレス。
	To string
	// Subject は件名。
	Subject string
	// HTMLBody はHTML形式の本文。
	HTMLBody string
}

// Mailer はメールを送信する。
type Mailer interface {
	Send(ctx context.Context, msg *Message) error
}

// SMTPConfig はSMTP送信の設定。
type SMTPConfig struct {
	Host     string
	Port     int
	Username string
	Password string
	// StartTLS はSTARTTLSを必須にする。
	StartTLS bool
	// SSLTLS は接続開始時からTLSを使用する。
	SSLTLS bool
	// Timeout は接続と送信のタイムアウト。
	Timeout time.Duration
}

// SMTPMailer はSMTPでメールを送信するMailer実装。
type SMTPMailer struct {
	cfg SMTPConfig
}

var _ Mailer = (*SMTPMailer)(nil)

// NewSMTPMailer はSMTPMailerを生成する。
func NewSMTPMailer(cfg SMTPConfig) *SMTPMailer {
	if cfg.Timeout <= 0 {
		cfg.Timeout = 30 * time.Second
	}
	return &SMTPMailer{cfg: cfg}
}

// Send はメールを1通送信する。接続は送信ごとに確立する。
func (m *SMTPMailer) Send(ctx context.Context, msg *Message) error {
	email := mail.NewMsg()
	if err := email.FromFormat(senderName, m.cfg.Username); err != nil {
		return fmt.Errorf("送信元アドレスが不正です: %w", err)
	}
	if err := email.To(msg.To); err != nil {
		return fmt.Errorf("宛先アドレスが不正です: %w", err)
	}
	email.Subject(msg.Subject)
	email.SetBodyString(mail.TypeTextHTML, msg.HTMLBody)

	client, err := mail.NewClient(m.cfg.Host, m.clientOptions()...)
	if err != nil {
		return fmt.Errorf("SMTPクライアントの生成に失敗: %w", err)
	}
	if err := client.DialAndSendWithContext(ctx, email); err != nil {
		return fmt.Errorf("メール送信に失敗: %w", err)
	}
	return nil
}

func (m *SMTPMailer) clientOptions() []mail.Option {
	opts := []mail.Option{
		mail.WithPort(m.cfg.Port),
		mail.WithSMTPAuth(mail.SMTPAuthPlain),
		mail.WithUsername(m.cfg.Username),
		mail.WithPassword(m.cfg.Password),
		mail.WithTimeout(m.cfg.Timeout),
	}
	switch {
	case m.cfg.SSLTLS:
		opts = append(opts, mail.WithSSL())
	case m.cfg.StartTLS:
		opts = append(opts, mail.WithTLSPolicy(mail.TLSMandatory))
	default:
		opts = append(opts, mail.WithTLSPolicy(mail.NoTLS))
	}
	return opts
}

// LogMailer は送信せずにログへ記録するMailer実装。
// SMTPの認証情報が未設定の環境で使用する。
type LogMailer struct {
	logger *zap.Logger
}

var _ Mailer = (*LogMailer)(nil)

// NewLogMailer はLogMailerを生成する。
func NewLogMailer(logger *zap.Logger) *LogMailer {
	return &LogMailer{logger: logger}
}

// Send はメールの宛先と件名をログに記録する。
func (m *LogMailer) Send(_ context.Context, msg *Message) error {
	m.logger.Warn("メール送信は無効です。送信予定のメールを記録します",
		zap.String("to", msg.To),
		zap.String("subject", msg.Subject),
	)
	return nil
}
