package checklist

import (
	"fmt"
	"os"

	validation "github.com/go-ozzo/ozzo-validation/v4"
	"github.com/go-ozzo/ozzo-validation/v4/is"
	"gopkg.in/yaml.v3"
)

// Manifest はテンプレートの登録情報。チェックリストにない項目を補う。
type Manifest struct {
	// TemplateID は登録するテンプレートのID。
	TemplateID int64 `yaml:"template_id"`
	// AuthorID はテンプレートの作成者（ユーザーID）。
	AuthorID string `yaml:"author_id"`
	// Title はテンプレート名。空の場合はチェックリストのタイトルを使う。
	Title string `yaml:"title"`
	// Slug はURL用の識別子。空の場合はタイトルから生成する。
	Slug string `yaml:"slug"`
	// Description は説明文。
	Description string `yaml:"description"`
	// ImageURL は表紙画像のURL。
	ImageURL string `yaml:"image_url"`
	// IsPublic は公開テンプレートかどうか。
	IsPublic bool `yaml:"is_public"`
}

// LoadManifest はYAMLのマニフェストを読み込む。${VAR}形式の環境変数を展開する。
func LoadManifest(path string) (Manifest, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return Manifest{}, fmt.Errorf("マニフェストの読み込みに失敗 %s: %w", path, err)
	}
	return ParseManifest(data)
}

// ParseManifest はYAMLのマニフェストを解析して検証する。
func ParseManifest(data []byte) (Manifest, error) {
	var m Manifest
	if err := yaml.Unmarshal([]byte(os.ExpandEnv(string(data))), &m); err != nil {
		return Manifest{}, fmt.Errorf("マニフェストの解析に失敗: %w", err)
	}
	if err := m.Validate(); err != nil {
		return Manifest{}, fmt.Errorf("マニフェストの検証に失敗: %w", err)
	}
	return m, nil
}

// Validate はマニフェストを検証する。
func (m Manifest) Validate() error {
	return validation.ValidateStruct(&m,
		validation.Field(&m.TemplateID, validation.Required, validation.Min(int64(1))),
		validation.Field(&m.AuthorID, validation.Required, is.UUID),
		validation.Field(&m.ImageURL, is.URL),
	)
}
