package store

import (
	"context"
	"fmt"
	"time"

	"github.com/cenkalti/backoff/v4"
	"go.uber.org/zap"
)

// Config はストアの接続設定。
type Config struct {
	// MongoURL が設定されている場合はMongoDBを使用する。
	MongoURL string
	// MongoDatabase はMongoDBのデータベース名。
	MongoDatabase string
	// SQLitePath はMongoURLが空の場合に使用するSQLiteのファイルパス。
	SQLitePath string
	// ConnectAttempts は接続の最大試行回数。
	ConnectAttempts int
	// BackoffInitial は再試行の初回待機時間。
	BackoffInitial time.Duration
	// BackoffMax は再試行の最大待機時間。
	BackoffMax time.Duration
}

// Open は設定に応じたストアへ接続する。
// 接続に失敗した場合は指数バックオフで ConnectAttempts 回まで試行する。
func Open(ctx context.Context, cfg Config, logger *zap.Logger) (Store, error) {
	return Connect(ctx, cfg, logger, func() (Store, error) {
		if cfg.MongoURL != "" {
			return OpenMongo(ctx, cfg.MongoURL, cfg.MongoDatabase)
		}
		return OpenSQLite(ctx, cfg.SQLitePath, logger)
	})
}

// Connect はconnectが成功するまで指数バックオフで ConnectAttempts 回まで試行する。
// 接続先はcfg.MongoURLの有無でログに記録する。
func Connect[T any](ctx context.Context, cfg Config, logger *zap.Logger, connect func() (T, error)) (T, error) {
	var conn T
	attempt := 0
	operation := func() error {
		attempt++
		c, err := connect()
		if err != nil {
			return err
		}
		conn = c
		return nil
	}
	notify := func(err error, wait time.Duration) {
		logger.Warn("ストアへの接続に失敗しました。再試行します",
			zap.Int("attempt", attempt),
			zap.Duration("wait", wait),
			zap.Error(err),
		)
	}

	if err := backoff.RetryNotify(operation, newBackOff(ctx, cfg), notify); err != nil {
		var zero T
		return zero, fmt.Errorf("ストアへの接続に失敗（%d回試行）: %w", attempt, err)
	}

	backend := "sqlite"
	if cfg.MongoURL != "" {
		backend = "mongodb"
	}
	logger.Info("ストアに接続しました", zap.String("backend", backend), zap.Int("attempt", attempt))
	return conn, nil
}

// newBackOff は試行回数と待機時間に上限を持つ指数バックオフを生成する。
func newBackOff(ctx context.Context, cfg Config) backoff.BackOff {
	attempts := cfg.ConnectAttempts
	if attempts < 1 {
		attempts = 1
	}
	b := backoff.NewExponentialBackOff()
	if cfg.BackoffInitial > 0 {
		b.InitialInterval = cfg.BackoffInitial
	}
	if cfg.BackoffMax > 0 {
		b.MaxInterval = cfg.BackoffMax
	}
	b.MaxElapsedTime = 0
	return backoff.WithContext(backoff.WithMaxRetries(b, uint64(attempts-1)), ctx)
}
