// Package config は環境変数からサービス設定を読み込む。
//
// 設定構造体のフィールドには envdecode のタグ（例: `env:"PORT,default=8086"`）を付ける。
// 構造体が Validator を実装していれば、読み込み後に検証する。
package config

import (
	"errors"
	"fmt"

	"github.com/joeshaw/envdecode"
)

// Validator は設定の検証インターフェース。
type Validator interface {
	Validate() error
}

// Load は環境変数をtargetにデコードし、Validatorを実装していれば検証する。
func Load[T any](target *T) error {
	if err := envdecode.Decode(target); err != nil && !errors.Is(err, envdecode.ErrNoTargetFieldsAreSet) {
		return fmt.Errorf("環境変数の読み込みに失敗: %w", err)
	}

	if v, ok := any(target).(Validator); ok {
		if err := v.Validate(); err != nil {
			return fmt.Errorf("設定の検証に失敗: %w", err)
		}
	}
	return nil
}
