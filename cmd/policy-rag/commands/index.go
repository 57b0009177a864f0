package commands

import (
	"context"
	"fmt"
	"os"
	"text/tabwriter"

	"github.com/urfave/cli/v3"
)

// IndexVerifyAction はインデックスペアの整合性を検証するコマンドのアクション
//
// 壊れたインデックスは使用不能・再構築が必要として報告する。修復は行わない。
func IndexVerifyAction(ctx context.Context, cmd *cli.Command) error {
	docStem := cmd.String("doc")
	envFile := cmd.String("env")

	appCtx, err := NewAppContext(ctx, envFile)
	if err != nil {
		return err
	}

	svc, err := appCtx.NewQueryService()
	if err != nil {
		return err
	}

	results, err := svc.Verify(ctx, docStem)
	if err != nil {
		return err
	}

	if len(results) == 0 {
		fmt.Println("検証対象のインデックスがありません。")
		return nil
	}

	w := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
	fmt.Fprintln(w, "STEM\tSTATUS\tCHUNKS\tDETAIL")

	var corrupt int
	for _, r := range results {
		if r.Err != nil {
			corrupt++
			fmt.Fprintf(w, "%s\tunusable\t-\t%s\n", r.Stem, r.Err.Error())
		} else {
			fmt.Fprintf(w, "%s\tok\t%d\t-\n", r.Stem, r.Chunks)
		}
	}
	w.Flush()

	if corrupt > 0 {
		return fmt.Errorf("%d件のインデックスが使用不能です（再取り込みで再構築してください）", corrupt)
	}
	return nil
}
