// アルバムサービスのエントリポイント。
// コレクション・プロフィール・出品の変更を楽観的に反映し、失敗時はロールバックしてSSEで通知する。
package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	_ "github.com/joho/godotenv/autoload"

	"github.com/nao1215/cambiacromos/internal/album"
	"github.com/nao1215/cambiacromos/pkg/config"
	"github.com/nao1215/cambiacromos/pkg/httpclient"
	"github.com/nao1215/cambiacromos/pkg/logging"
	"github.com/nao1215/cambiacromos/pkg/supabase"
)

func main() {
	if err := run(); err != nil {
		fmt.Fprintf(os.Stderr, "アルバムサービスの起動に失敗: %v\n", err)
		os.Exit(1)
	}
}

func run() error {
	var cfg album.Config
	if err := config.Load(&cfg); err != nil {
		return err
	}

	zl, err := logging.New("album", cfg.LogLevel)
	if err != nil {
		return err
	}
	defer func() { _ = zl.Sync() }()
	logger := zl.Sugar()

	client, err := supabase.New(cfg.SupabaseURL, cfg.SupabaseAnonKey, httpclient.WithTimeout(cfg.RemoteTimeout))
	if err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	logger.Infof("アルバムサービスを起動します: :%s", cfg.Port)
	return album.NewServer(cfg, album.NewSupabaseFactory(client), logger).Run(ctx)
}
