package commands

import (
	"context"
	"fmt"
	"os"
	"text/tabwriter"

	"github.com/urfave/cli/v3"
)

// DocsListAction は質問対象にできる文書の一覧を表示するコマンドのアクション
func DocsListAction(ctx context.Context, cmd *cli.Command) error {
	envFile := cmd.String("env")

	appCtx, err := NewAppContext(ctx, envFile)
	if err != nil {
		return err
	}

	svc, err := appCtx.NewQueryService()
	if err != nil {
		return err
	}

	docs, err := svc.ListDocuments(ctx)
	if err != nil {
		return err
	}

	if len(docs) == 0 {
		fmt.Println("利用可能な文書がありません。先に ingest コマンドでPDFを取り込んでください。")
		return nil
	}

	w := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
	fmt.Fprintln(w, "NAME\tSTEM")
	for _, doc := range docs {
		fmt.Fprintf(w, "%s\t%s\n", doc.DisplayName, doc.Stem)
	}
	return w.Flush()
}
