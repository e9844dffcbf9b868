// Package config は環境変数からサービスの設定を読み込む。
// 設定は起動時に1回だけ読み込み、以後はイミュータブルとして扱う。
package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// DevJWTSecret はJWT_SECRET_KEY未設定時に使用する開発用シークレット。
const DevJWTSecret = "dev-secret-key"

// Log はロガーの設定。
type Log struct {
	Level  string
	Format string
}

// Gateway はAPI Gatewayの設定。
type Gateway struct {
	// Port はリッスンポート。
	Port string
	// Services はサービス名と転送先ベースURLの対応表。
	Services map[string]string
	// ProxyTimeout は転送先への1リクエストあたりのタイムアウト。
	ProxyTimeout time.Duration
	// Log はロガーの設定。
	Log Log
}

// servicesFile はSERVICES_FILEで指定するYAMLファイルの形式。
type servicesFile struct {
	Services map[string]string `yaml:"services"`
}

// LoadGateway は環境変数からGatewayの設定を読み込む。
// SERVICES_FILEが指定されている場合は、その内容で環境変数の対応表を上書き・追加する。
func LoadGateway() (*Gateway, error) {
	cfg := &Gateway{
		Port: getEnvOr("PORT", "8000"),
		Services: map[string]string{
			"auth": getEnvOr("AUTH_SERVICE_URL", "http://auth-service:8001"),
			"book": getEnvOr("BOOK_SERVICE_URL", "http://book-service:8002"),
			"cart": getEnvOr("CART_SERVICE_URL", "http://cart-service:8003"),
		},
		ProxyTimeout: getEnvDuration("PROXY_TIMEOUT", 30*time.Second),
		Log:          loadLog(),
	}

	if path := os.Getenv("SERVICES_FILE"); path != "" {
		overlay, err := readServicesFile(path)
		if err != nil {
			return nil, err
		}
		for name, url := range overlay {
			cfg.Services[name] = url
		}
	}
	return cfg, nil
}

func readServicesFile(path string) (map[string]string, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("サービス定義ファイルの読み込みに失敗: %w", err)
	}
	var f servicesFile
	if err := yaml.Unmarshal(data, &f); err != nil {
		return nil, fmt.Errorf("サービス定義ファイルの解析に失敗: %w", err)
	}
	return f.Services, nil
}

// Store は資格情報ストアの設定。
type Store struct {
	MongoURL        string
	MongoDatabase   string
	SQLitePath      string
	ConnectAttempts int
	BackoffInitial  time.Duration
	BackoffMax      time.Duration
}

// JWT はトークン署名の設定。
type JWT struct {
	Secret    string
	Algorithm string
	// DevSecret はシークレットが未設定で開発用の値を使用している場合にtrue。
	DevSecret bool
}

// Mail はメール送信の設定。
type Mail struct {
	Server   string
	Port     int
	Sender   string
	Password string
	StartTLS bool
	SSLTLS   bool
}

// Enabled は送信に必要な認証情報が揃っているかを判定する。
func (m Mail) Enabled() bool {
	return m.Sender != "" && m.Password != ""
}

// Notify は通知ワーカーの設定。
type Notify struct {
	Workers   int
	QueueSize int
}

// Auth は認証サービスの設定。
type Auth struct {
	// Port はリッスンポート。
	Port string
	// BaseURL はメール本文のリンクに使う公開URL（Gateway経由）。
	BaseURL string
	// BcryptCost はパスワードハッシュのコスト。
	BcryptCost int
	// CORSAllowedOrigins はCORSで許可するオリジン。
	CORSAllowedOrigins []string
	Store              Store
	JWT                JWT
	Mail               Mail
	Notify             Notify
	Log                Log
}

// LoadAuth は環境変数から認証サービスの設定を読み込む。
func LoadAuth() (*Auth, error) {
	secret := os.Getenv("JWT_SECRET_KEY")
	devSecret := secret == ""
	if devSecret {
		secret = DevJWTSecret
	}

	cfg := &Auth{
		Port:               getEnvOr("PORT", "8001"),
		BaseURL:            strings.TrimRight(getEnvOr("BASE_URL", "http://localhost:8000"), "/"),
		BcryptCost:         getEnvInt("BCRYPT_COST", 10),
		CORSAllowedOrigins: splitList(getEnvOr("CORS_ALLOWED_ORIGINS", "*")),
		Store: Store{
			MongoURL:        os.Getenv("MONGODB_URL"),
			MongoDatabase:   getEnvOr("MONGODB_DATABASE", "auth_db"),
			SQLitePath:      getEnvOr("SQLITE_PATH", "/data/auth.db"),
			ConnectAttempts: getEnvInt("STORE_CONNECT_ATTEMPTS", 5),
			BackoffInitial:  getEnvDuration("STORE_BACKOFF_INITIAL", 4*time.Second),
			BackoffMax:      getEnvDuration("STORE_BACKOFF_MAX", 10*time.Second),
		},
		JWT: JWT{
			Secret:    secret,
			Algorithm: getEnvOr("JWT_ALGORITHM", "HS256"),
			DevSecret: devSecret,
		},
		Mail: Mail{
			Server:   getEnvOr("SMTP_SERVER", "smtp.gmail.com"),
			Port:     getEnvInt("SMTP_PORT", 587),
			Sender:   os.Getenv("SENDER_EMAIL"),
			Password: os.Getenv("SENDER_PASSWORD"),
			StartTLS: getEnvBool("MAIL_STARTTLS", true),
			SSLTLS:   getEnvBool("MAIL_SSL_TLS", false),
		},
		Notify: Notify{
			Workers:   getEnvInt("NOTIFY_WORKERS", 2),
			QueueSize: getEnvInt("NOTIFY_QUEUE_SIZE", 100),
		},
		Log: loadLog(),
	}

	if cfg.Notify.Workers < 1 {
		return nil, fmt.Errorf("NOTIFY_WORKERSは1以上を指定してください: %d", cfg.Notify.Workers)
	}
	if cfg.Notify.QueueSize < 1 {
		return nil, fmt.Errorf("NOTIFY_QUEUE_SIZEは1以上を指定してください: %d", cfg.Notify.QueueSize)
	}
	return cfg, nil
}

// Cart はカートサービスの設定。
type Cart struct {
	// Port はリッスンポート。
	Port string
	// AuthServiceURL はトークン検証に使う認証サービスのベースURL。
	AuthServiceURL string
	// BookServiceURL は書籍情報を取得する書籍サービスのベースURL。
	BookServiceURL string
	// UpstreamTimeout は認証・書籍サービスへの1リクエストあたりのタイムアウト。
	UpstreamTimeout time.Duration
	Store           Store
	Log             Log
}

// LoadCart は環境変数からカートサービスの設定を読み込む。
func LoadCart() (*Cart, error) {
	cfg := &Cart{
		Port:            getEnvOr("PORT", "8003"),
		AuthServiceURL:  strings.TrimRight(getEnvOr("AUTH_SERVICE_URL", "http://auth-service:8001"), "/"),
		BookServiceURL:  strings.TrimRight(getEnvOr("BOOK_SERVICE_URL", "http://book-service:8002"), "/"),
		UpstreamTimeout: getEnvDuration("UPSTREAM_TIMEOUT", 10*time.Second),
		Store: Store{
			MongoURL:        getEnvOr("MONGODB_URL", os.Getenv("MONGODB_URI")),
			MongoDatabase:   getEnvOr("MONGODB_DATABASE", getEnvOr("MONGODB_DB", "bookshop")),
			SQLitePath:      getEnvOr("SQLITE_PATH", "/data/cart.db"),
			ConnectAttempts: getEnvInt("STORE_CONNECT_ATTEMPTS", 5),
			BackoffInitial:  getEnvDuration("STORE_BACKOFF_INITIAL", 4*time.Second),
			BackoffMax:      getEnvDuration("STORE_BACKOFF_MAX", 10*time.Second),
		},
		Log: loadLog(),
	}

	if cfg.UpstreamTimeout <= 0 {
		return nil, fmt.Errorf("UPSTREAM_TIMEOUTは正の値を指定してください: %s", cfg.UpstreamTimeout)
	}
	return cfg, nil
}

func loadLog() Log {
	return Log{
		Level:  getEnvOr("LOG_LEVEL", "info"),
		Format: getEnvOr("LOG_FORMAT", "json"),
	}
}

// getEnvOr は環境変数を取得し、未設定の場合はデフォルト値を返す。
func getEnvOr(key, defaultValue string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return defaultValue
}

func getEnvInt(key string, defaultVal int) int {
	v := os.Getenv(key)
	if v == "" {
		return defaultVal
	}
	i, err := strconv.Atoi(v)
	if err != nil {
		return defaultVal
	}
	return i
}

func getEnvDuration(key string, defaultVal time.Duration) time.Duration {
	v := os.Getenv(key)
	if v == "" {
		return defaultVal
	}
	d, err := time.ParseDuration(v)
	if err != nil {
		return defaultVal
	}
	return d
}

func getEnvBool(key string, defaultVal bool) bool {
	v := os.Getenv(key)
	if v == "" {
		return defaultVal
	}
	b, err := strconv.ParseBool(v)
	if err != nil {
		return defaultVal
	}
	return b
}

// splitList はカンマ区切りの値を分割し、空要素を除く。
func splitList(v string) []string {
	var out []string
	for _, s := range strings.Split(v, ",") {
		if s = strings.TrimSpace(s); s != "" {
			out = append(out, s)
		}
	}
	return out
}
