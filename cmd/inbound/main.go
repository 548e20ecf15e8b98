// 受信メール中継サービスのエントリポイント。
// 受信メールのWebhookを検証し、登録された転送先に中継する。
package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	_ "github.com/joho/godotenv/autoload"

	"github.com/nao1215/cambiacromos/internal/inbound"
	"github.com/nao1215/cambiacromos/pkg/config"
	"github.com/nao1215/cambiacromos/pkg/email"
	"github.com/nao1215/cambiacromos/pkg/logging"
	"github.com/nao1215/cambiacromos/pkg/supabase"
)

func main() {
	if err := run(); err != nil {
		fmt.Fprintf(os.Stderr, "受信メール中継サービスの起動に失敗: %v\n", err)
		os.Exit(1)
	}
}

func run() error {
	var cfg inbound.Config
	if err := config.Load(&cfg); err != nil {
		return err
	}

	zl, err := logging.New("inbound", cfg.LogLevel)
	if err != nil {
		return err
	}
	defer func() { _ = zl.Sync() }()
	logger := zl.Sugar()

	verifier, err := inbound.NewVerifier(cfg.WebhookSecret, cfg.SignatureTolerance)
	if err != nil {
		return err
	}
	client, err := supabase.New(cfg.SupabaseURL, cfg.SupabaseServiceKey)
	if err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	var deduper inbound.Deduper = inbound.NewMemoryDeduper()
	if cfg.RedisAddr != "" {
		rd, err := inbound.NewRedisDeduper(ctx, cfg.RedisAddr, cfg.RedisPassword, cfg.RedisDB)
		if err != nil {
			logger.Warnf("Redisに接続できないためメモリで重複判定します: %v", err)
		} else {
			defer func() { _ = rd.Close() }()
			deduper = rd
			logger.Infof("重複判定にRedisを使用します: %s", cfg.RedisAddr)
		}
	}

	forwarder := inbound.NewForwarder(email.New(cfg.EmailAPIKey, cfg.EmailAPIURL), cfg.From, cfg.ForwardConcurrency)
	store := inbound.NewSupabaseStore(client, cfg.ArchiveBucket)

	logger.Infof("受信メール中継サービスを起動します: :%s", cfg.Port)
	return inbound.NewServer(cfg, verifier, deduper, store, forwarder, logger).Run(ctx)
}
