package commands

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"text/tabwriter"

	"github.com/urfave/cli/v3"

	"github.com/jinford/policy-rag/pkg/models"
)

// IngestFileAction は1つのPDFを取り込むコマンドのアクション
func IngestFileAction(ctx context.Context, cmd *cli.Command) error {
	path := cmd.String("path")
	skipExisting := cmd.Bool("skip-existing")
	envFile := cmd.String("env")

	appCtx, err := NewAppContext(ctx, envFile)
	if err != nil {
		return err
	}

	pipeline, err := appCtx.NewPipeline()
	if err != nil {
		return err
	}

	slog.Info("PDF取り込みを開始", "path", path)

	result := pipeline.IngestFile(ctx, path, skipExisting)
	if result.Err != nil {
		return fmt.Errorf("取り込みに失敗: %w", result.Err)
	}

	printIngestResults([]models.IngestResult{result})
	return nil
}

// IngestBulkAction はディレクトリ内の全PDFを取り込むコマンドのアクション
func IngestBulkAction(ctx context.Context, cmd *cli.Command) error {
	dir := cmd.String("dir")
	skipExisting := cmd.Bool("skip-existing")
	envFile := cmd.String("env")

	appCtx, err := NewAppContext(ctx, envFile)
	if err != nil {
		return err
	}

	pipeline, err := appCtx.NewPipeline()
	if err != nil {
		return err
	}

	slog.Info("一括取り込みを開始", "dir", dir)

	results, err := pipeline.IngestDir(ctx, dir, skipExisting)
	if err != nil {
		return err
	}

	printIngestResults(results)

	var failed int
	for _, result := range results {
		if result.Status == models.IngestStatusFailed {
			failed++
		}
	}
	if failed > 0 {
		return fmt.Errorf("%d件のファイルの取り込みに失敗", failed)
	}
	return nil
}

// printIngestResults はファイルごとの取り込み結果を表形式で出力する
func printIngestResults(results []models.IngestResult) {
	w := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
	fmt.Fprintln(w, "FILE\tSTATUS\tPAGES\tCHUNKS\tDETAIL")

	var processed, skipped, failed int
	for _, r := range results {
		detail := "-"
		switch r.Status {
		case models.IngestStatusProcessed:
			processed++
			detail = r.VectorKey
		case models.IngestStatusSkipped:
			skipped++
			detail = "already processed"
		case models.IngestStatusFailed:
			failed++
			if r.Err != nil {
				detail = r.Err.Error()
			}
		}
		fmt.Fprintf(w, "%s\t%s\t%d\t%d\t%s\n", r.OriginalFilename, r.Status, r.Pages, r.Chunks, detail)
	}
	w.Flush()

	fmt.Printf("\nprocessed: %d, skipped: %d, failed: %d\n", processed, skipped, failed)
}
