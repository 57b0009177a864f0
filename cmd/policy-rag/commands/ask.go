package commands

import (
	"context"
	"fmt"

	"github.com/urfave/cli/v3"
)

// AskAction は質問に対する引用付きの回答を表示するコマンドのアクション
func AskAction(ctx context.Context, cmd *cli.Command) error {
	question := cmd.Args().First()
	if question == "" {
		return fmt.Errorf("質問を指定してください (例: policy-rag ask \"What is the deductible?\")")
	}

	docStem := cmd.String("doc")
	showSources := cmd.Bool("show-sources")
	envFile := cmd.String("env")

	appCtx, err := NewAppContext(ctx, envFile)
	if err != nil {
		return err
	}

	svc, err := appCtx.NewQueryService()
	if err != nil {
		return err
	}

	answer, err := svc.Ask(ctx, question, docStem)
	if err != nil {
		return err
	}

	fmt.Println(answer.Text)

	if showSources {
		fmt.Println("\nSources:")
		for _, citation := range answer.Citations {
			fmt.Printf("  [%s] %s (page %d, score %.4f)\n", citation.Marker, citation.Document, citation.Page, citation.Score)
			fmt.Printf("      %s\n", citation.Preview)
		}
	}

	return nil
}
