// 通知サービスのエントリポイント。
// バックエンドで作成された通知を取り込み、整形済みの通知一覧とSSEによる配信を提供する。
package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	_ "github.com/joho/godotenv/autoload"

	"github.com/nao1215/cambiacromos/internal/notification"
	"github.com/nao1215/cambiacromos/pkg/config"
	"github.com/nao1215/cambiacromos/pkg/logging"
)

func main() {
	if err := run(); err != nil {
		fmt.Fprintf(os.Stderr, "通知サービスの起動に失敗: %v\n", err)
		os.Exit(1)
	}
}

func run() error {
	var cfg notification.Config
	if err := config.Load(&cfg); err != nil {
		return err
	}

	zl, err := logging.New("notification", cfg.LogLevel)
	if err != nil {
		return err
	}
	defer func() { _ = zl.Sync() }()
	logger := zl.Sugar()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	sqlDB, err := notification.OpenDB(ctx, cfg.DBPath, logger)
	if err != nil {
		return err
	}
	defer func() { _ = sqlDB.Close() }()

	logger.Infof("通知サービスを起動します: :%s", cfg.Port)
	return notification.NewServer(cfg, sqlDB, logger).Run(ctx)
}
