// API Gatewayサービスのエントリポイント。
// /{service}/{path} 形式のリクエストを、設定されたサービス対応表に従って
// 内部サービスへそのまま転送する。外部からアクセス可能な唯一のサービスとなる。
package main

import (
	"context"
	"log"
	"os"
	"os/signal"
	"syscall"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"go.uber.org/zap"

	"github.com/nao1215/bookshop/internal/config"
	"github.com/nao1215/bookshop/internal/gateway"
	"github.com/nao1215/bookshop/internal/metrics"
	"github.com/nao1215/bookshop/internal/registry"
	"github.com/nao1215/bookshop/pkg/httpclient"
	"github.com/nao1215/bookshop/pkg/logging"
)

func main() {
	cfg, err := config.LoadGateway()
	if err != nil {
		log.Fatalf("設定の読み込みに失敗: %v", err)
	}

	logger, err := logging.New(logging.Config{
		Level:   cfg.Log.Level,
		Format:  cfg.Log.Format,
		Service: "api-gateway",
	})
	if err != nil {
		log.Fatalf("ロガーの初期化に失敗: %v", err)
	}
	defer func() { _ = logger.Sync() }()

	if err := run(cfg, logger); err != nil {
		logger.Fatal("Gatewayサービスの起動に失敗", zap.Error(err))
	}
}

func run(cfg *config.Gateway, logger *zap.Logger) error {
	reg, err := registry.New(cfg.Services)
	if err != nil {
		return err
	}

	promReg := prometheus.NewRegistry()
	promReg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	collector := metrics.NewCollector(promReg)

	dispatcher := gateway.NewDispatcher(reg, httpclient.New(cfg.ProxyTimeout), logger, collector)
	server := gateway.NewServer(gateway.Config{
		Port:      cfg.Port,
		Forwarder: dispatcher,
		Logger:    logger,
		Gatherer:  promReg,
	})

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	for _, name := range reg.Names() {
		base, _ := reg.Resolve(name)
		logger.Info("転送先サービスを登録しました", zap.String("name", name), zap.String("url", base))
	}
	logger.Info("Gatewayサービスを起動します", zap.String("port", cfg.Port))
	if err := server.Run(ctx); err != nil {
		return err
	}
	logger.Info("Gatewayサービスを停止しました")
	return nil
}
