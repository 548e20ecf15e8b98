// Gatewayサービスのエントリポイント。
// 外部に公開する唯一の入口として、JWTの検証とレート制限を行い各サービスに転送する。
package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	_ "github.com/joho/godotenv/autoload"

	"github.com/nao1215/cambiacromos/internal/gateway"
	"github.com/nao1215/cambiacromos/pkg/config"
	"github.com/nao1215/cambiacromos/pkg/logging"
)

func main() {
	if err := run(); err != nil {
		fmt.Fprintf(os.Stderr, "Gatewayサービスの起動に失敗: %v\n", err)
		os.Exit(1)
	}
}

func run() error {
	var cfg gateway.Config
	if err := config.Load(&cfg); err != nil {
		return err
	}

	zl, err := logging.New("gateway", cfg.LogLevel)
	if err != nil {
		return err
	}
	defer func() { _ = zl.Sync() }()
	logger := zl.Sugar()

	s, err := gateway.NewServer(cfg, logger)
	if err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	logger.Infof("Gatewayサービスを起動します: :%s", cfg.Port)
	return s.Run(ctx)
}
