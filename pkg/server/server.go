// Package server はHTTPサーバーと付随するバックグラウンド処理の起動と停止をまとめる。
package server

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
)

// Task はサーバーと並行して動かすバックグラウンド処理。ctxが終了したら戻ること。
type Task func(ctx context.Context) error

// OnShutdown はctxが終了したときにfnを呼ぶTask。
// HTTPサーバーの停止と同時に呼ばれるため、SSEなど長く続く接続を終わらせるのに使う。
func OnShutdown(fn func()) Task {
	return func(ctx context.Context) error {
		<-ctx.Done()
		fn()
		return nil
	}
}

// Run はaddrでHTTPサーバーを起動し、tasksと一緒にctxが終了するまで動かす。
// いずれかが失敗した場合は残りを停止してそのエラーを返す。
func Run(ctx context.Context, addr string, handler http.Handler, logger *zap.SugaredLogger, tasks ...Task) error {
	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return fmt.Errorf("リッスンに失敗: %w", err)
	}
	return Serve(ctx, ln, handler, logger, tasks...)
}

// Serve はリスナーを受け取るRun。テストで空きポートを使う場合に利用する。
func Serve(ctx context.Context, ln net.Listener, handler http.Handler, logger *zap.SugaredLogger, tasks ...Task) error {
	httpServer := &http.Server{
		Handler:           handler,
		ReadHeaderTimeout: 10 * time.Second,
	}

	g, gctx := errgroup.WithContext(ctx)

	for _, task := range tasks {
		g.Go(func() error { return task(gctx) })
	}

	g.Go(func() error {
		logger.Infof("HTTPサーバーを起動します: %s", ln.Addr())
		if err := httpServer.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("HTTPサーバーエラー: %w", err)
		}
		return nil
	})

	g.Go(func() error {
		<-gctx.Done()
		logger.Info("サーバーを停止します")

		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		if err := httpServer.Shutdown(shutdownCtx); err != nil {
			logger.Errorf("HTTPサーバーの停止に失敗: %v", err)
		}
		return nil
	})

	if err := g.Wait(); err != nil {
		return err
	}
	logger.Info("サーバーを停止しました")
	return nil
}
