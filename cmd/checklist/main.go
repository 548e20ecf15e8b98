// チェックリストのJSONからテンプレート登録用のSQLを生成するコマンド。
package main

import (
	"context"
	"fmt"
	"io"
	"os"

	_ "github.com/joho/godotenv/autoload"
	"github.com/urfave/cli/v3"

	"github.com/nao1215/cambiacromos/internal/checklist"
	"github.com/nao1215/cambiacromos/pkg/logging"
)

func run(_ context.Context, cmd *cli.Command) error {
	logger := logging.Nop()
	if cmd.Bool("verbose") {
		zl, err := logging.New("checklist", "debug")
		if err != nil {
			return err
		}
		defer func() { _ = zl.Sync() }()
		logger = zl.Sugar()
	}

	data, err := os.ReadFile(cmd.String("input"))
	if err != nil {
		return fmt.Errorf("チェックリストの読み込みに失敗: %w", err)
	}
	list, err := checklist.Parse(data)
	if err != nil {
		return err
	}
	manifest, err := checklist.LoadManifest(cmd.String("manifest"))
	if err != nil {
		return err
	}
	logger.Infof("チェックリストを読み込みました: title=%s, pages=%d, slots=%d", list.Title, len(list.Pages), list.TotalSlots())

	var w io.Writer = os.Stdout
	if out := cmd.String("output"); out != "" && out != "-" {
		f, err := os.Create(out)
		if err != nil {
			return fmt.Errorf("出力ファイルの作成に失敗: %w", err)
		}
		defer f.Close()
		w = f
	}

	if err := checklist.Generate(w, manifest, list); err != nil {
		return fmt.Errorf("SQLの生成に失敗: %w", err)
	}
	logger.Infof("SQLを生成しました: template_id=%d", manifest.TemplateID)
	return nil
}

func main() {
	cmd := &cli.Command{
		Name:   "checklist",
		Usage:  "Genera las sentencias SQL de una plantilla a partir de un checklist en JSON",
		Action: run,
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:     "input",
				Aliases:  []string{"i"},
				Usage:    "Ruta del checklist en JSON",
				Required: true,
			},
			&cli.StringFlag{
				Name:        "manifest",
				Aliases:     []string{"m"},
				Usage:       "Ruta del manifiesto YAML de la plantilla",
				DefaultText: "checklist.yaml",
				Value:       "checklist.yaml",
				Sources:     cli.EnvVars("CHECKLIST_MANIFEST"),
			},
			&cli.StringFlag{
				Name:    "output",
				Aliases: []string{"o"},
				Usage:   "Fichero de salida (por defecto, la salida estándar)",
			},
			&cli.BoolFlag{
				Name:  "verbose",
				Usage: "Muestra el progreso en la salida de errores",
			},
		},
	}

	if err := cmd.Run(context.Background(), os.Args); err != nil {
		fmt.Fprintf(os.Stderr, "checklist: %v\n", err)
		os.Exit(1)
	}
}
