// カートサービスのエントリポイント。
// ログイン中のユーザーのショッピングカートを管理する。アクセストークンの検証は
// 認証サービスに、書籍の価格とタイトルの取得は書籍サービスに問い合わせる。
package main

import (
	"context"
	"log"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"go.uber.org/zap"

	"github.com/nao1215/bookshop/internal/cart"
	"github.com/nao1215/bookshop/internal/config"
	"github.com/nao1215/bookshop/internal/store"
	"github.com/nao1215/bookshop/pkg/httpclient"
	"github.com/nao1215/bookshop/pkg/logging"
)

// shutdownTimeout はストア切断に許す時間。
const shutdownTimeout = 10 * time.Second

func main() {
	cfg, err := config.LoadCart()
	if err != nil {
		log.Fatalf("設定の読み込みに失敗: %v", err)
	}

	logger, err := logging.New(logging.Config{
		Level:   cfg.Log.Level,
		Format:  cfg.Log.Format,
		Service: "cart-service",
	})
	if err != nil {
		log.Fatalf("ロガーの初期化に失敗: %v", err)
	}
	defer func() { _ = logger.Sync() }()

	if err := run(cfg, logger); err != nil {
		logger.Fatal("カートサービスの起動に失敗", zap.Error(err))
	}
}

func run(cfg *config.Cart, logger *zap.Logger) error {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	storeCfg := store.Config{
		MongoURL:        cfg.Store.MongoURL,
		MongoDatabase:   cfg.Store.MongoDatabase,
		SQLitePath:      cfg.Store.SQLitePath,
		ConnectAttempts: cfg.Store.ConnectAttempts,
		BackoffInitial:  cfg.Store.BackoffInitial,
		BackoffMax:      cfg.Store.BackoffMax,
	}
	st, err := store.Connect(ctx, storeCfg, logger, func() (cart.Store, error) {
		if storeCfg.MongoURL != "" {
			return cart.OpenMongo(ctx, storeCfg.MongoURL, storeCfg.MongoDatabase)
		}
		return cart.OpenSQLite(ctx, storeCfg.SQLitePath, logger)
	})
	if err != nil {
		return err
	}
	defer func() {
		closeCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		if err := st.Close(closeCtx); err != nil {
			logger.Error("ストアの切断に失敗しました", zap.Error(err))
		}
	}()

	promReg := prometheus.NewRegistry()
	promReg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))

	client := httpclient.New(cfg.UpstreamTimeout)
	svc := cart.NewService(st, cart.NewBookClient(cfg.BookServiceURL, client), logger)
	server := cart.NewServer(cart.Config{
		Port:     cfg.Port,
		Service:  svc,
		Store:    st,
		Identity: cart.NewAuthClient(cfg.AuthServiceURL, client),
		Logger:   logger,
		Gatherer: promReg,
	})

	logger.Info("カートサービスを起動します",
		zap.String("port", cfg.Port),
		zap.String("auth_service_url", cfg.AuthServiceURL),
		zap.String("book_service_url", cfg.BookServiceURL),
	)
	if err := server.Run(ctx); err != nil {
		return err
	}
	logger.Info("カートサービスを停止しました")
	return nil
}
