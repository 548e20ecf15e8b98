// メール中継サービスのエントリポイント。
// 管理者の一斉メールと通知メールを送信APIに中継する。
package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	_ "github.com/joho/godotenv/autoload"

	"github.com/nao1215/cambiacromos/internal/mailer"
	"github.com/nao1215/cambiacromos/pkg/config"
	"github.com/nao1215/cambiacromos/pkg/email"
	"github.com/nao1215/cambiacromos/pkg/logging"
	"github.com/nao1215/cambiacromos/pkg/supabase"
)

func main() {
	if err := run(); err != nil {
		fmt.Fprintf(os.Stderr, "メール中継サービスの起動に失敗: %v\n", err)
		os.Exit(1)
	}
}

func run() error {
	var cfg mailer.Config
	if err := config.Load(&cfg); err != nil {
		return err
	}

	zl, err := logging.New("mailer", cfg.LogLevel)
	if err != nil {
		return err
	}
	defer func() { _ = zl.Sync() }()
	logger := zl.Sugar()

	client, err := supabase.New(cfg.SupabaseURL, cfg.SupabaseServiceKey)
	if err != nil {
		return err
	}
	sender := email.New(cfg.EmailAPIKey, cfg.EmailAPIURL)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	logger.Infof("メール中継サービスを起動します: :%s", cfg.Port)
	return mailer.NewServer(cfg, sender, mailer.NewSupabaseDirectory(client), logger).Run(ctx)
}
