// Package logging はサービス共通の構造化ロガーを提供する。
//
// 本番ではJSON形式、LOG_FORMAT=console のときは開発向けの人間が読みやすい形式で出力する。
// 各ログには service フィールドが付与される。
package logging

import (
	"fmt"
	"os"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// New はサービス名を付与したzapロガーを生成する。
// levelには "debug", "info", "warn", "error" のいずれかを指定する。空文字はinfo扱い。
func New(service, level string) (*zap.Logger, error) {
	cfg := zap.NewProductionConfig()
	if os.Getenv("LOG_FORMAT") == "console" {
		cfg = zap.NewDevelopmentConfig()
	}

	if level != "" {
		lvl, err := zapcore.ParseLevel(level)
		if err != nil {
			return nil, fmt.Errorf("ログレベルの解析に失敗: %w", err)
		}
		cfg.Level = zap.NewAtomicLevelAt(lvl)
	}
	cfg.EncoderConfig.TimeKey = "time"
	cfg.EncoderConfig.EncodeTime = zapcore.ISO8601TimeEncoder

	logger, err := cfg.Build()
	if err != nil {
		return nil, fmt.Errorf("ロガーの構築に失敗: %w", err)
	}
	return logger.With(zap.String("service", service)), nil
}

// Nop は何も出力しないロガーを返す。
func Nop() *zap.SugaredLogger {
	return zap.NewNop().Sugar()
}
