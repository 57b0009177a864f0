package main

import (
	"context"
	"log"
	"os"
	"os/signal"
	"syscall"

	"github.com/urfave/cli/v3"

	"github.com/jinford/policy-rag/cmd/policy-rag/commands"
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	envFlag := &cli.StringFlag{
		Name:  "env",
		Usage: "環境変数ファイルパス",
		Value: ".env",
	}

	app := &cli.Command{
		Name:  "policy-rag",
		Usage: "医療保険ドキュメント向け RAG 質問応答システム",
		Commands: []*cli.Command{
			{
				Name:  "ingest",
				Usage: "PDF取り込みコマンド（管理者向け）",
				Commands: []*cli.Command{
					{
						Name:  "file",
						Usage: "1つのPDFを取り込む",
						Flags: []cli.Flag{
							envFlag,
							&cli.StringFlag{
								Name:     "path",
								Usage:    "PDFファイルパス",
								Required: true,
							},
							&cli.BoolFlag{
								Name:  "skip-existing",
								Usage: "処理済みの文書をスキップする",
							},
						},
						Action: commands.IngestFileAction,
					},
					{
						Name:  "bulk",
						Usage: "ディレクトリ内の全PDFを取り込む",
						Flags: []cli.Flag{
							envFlag,
							&cli.StringFlag{
								Name:     "dir",
								Usage:    "PDFディレクトリパス",
								Required: true,
							},
							&cli.BoolFlag{
								Name:  "skip-existing",
								Usage: "処理済みの文書をスキップする",
							},
						},
						Action: commands.IngestBulkAction,
					},
				},
			},
			{
				Name:  "docs",
				Usage: "文書管理コマンド",
				Commands: []*cli.Command{
					{
						Name:   "list",
						Usage:  "質問対象にできる文書の一覧を表示",
						Flags:  []cli.Flag{envFlag},
						Action: commands.DocsListAction,
					},
				},
			},
			{
				Name:      "ask",
				Usage:     "文書に質問し、引用付きの回答を受け取る",
				ArgsUsage: "<question>",
				Flags: []cli.Flag{
					envFlag,
					&cli.StringFlag{
						Name:  "doc",
						Usage: "対象文書のステム名（省略時は全文書を横断）",
					},
					&cli.BoolFlag{
						Name:  "show-sources",
						Usage: "引用元の詳細を表示する",
					},
				},
				Action: commands.AskAction,
			},
			{
				Name:  "index",
				Usage: "インデックス管理コマンド",
				Commands: []*cli.Command{
					{
						Name:  "verify",
						Usage: "インデックスペアの整合性を検証",
						Flags: []cli.Flag{
							envFlag,
							&cli.StringFlag{
								Name:  "doc",
								Usage: "対象文書のステム名（省略時は全ペア）",
							},
						},
						Action: commands.IndexVerifyAction,
					},
				},
			},
		},
	}

	if err := app.Run(ctx, os.Args); err != nil {
		log.Fatal(err)
	}
}
