package ingest

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/google/uuid"

	"github.com/jinford/policy-rag/pkg/models"
	"github.com/jinford/policy-rag/pkg/objectstore"
	"github.com/jinford/policy-rag/pkg/pdf"
	"github.com/jinford/policy-rag/pkg/vectorindex"
)

// CombinedStem は全文書を横断する結合インデックスのステム名です
const CombinedStem = "combined"

// Extractor はPDFから文書を取り出します
type Extractor interface {
	Extract(path string) (*models.Document, error)
}

// Chunker は文書をチャンクに分割します
type Chunker interface {
	Split(doc *models.Document) ([]models.Chunk, error)
}

// Embedder はテキスト列をベクトル化します
type Embedder interface {
	BatchEmbed(ctx context.Context, texts []string) ([][]float32, error)
	Model() string
	Dimension() int
}

// Store はインデックスアーティファクトの永続化先です
type Store interface {
	IndexExists(ctx context.Context, stem string) (bool, error)
	UploadIndex(ctx context.Context, dir, stem string) (objectstore.IndexRef, error)
	DownloadIndex(ctx context.Context, dir, stem string) error
}

// Pipeline はPDFの取り込みフローを実行します
//
// 1文書ずつ、抽出 → 分割 → ベクトル化 → インデックス構築 → スクラッチ保存 →
// アップロード → 結合インデックス更新 の順で完了させます。
// ローカルのスクラッチファイルは使い捨てで、耐久性の境界はオブジェクトストアです。
type Pipeline struct {
	extractor  Extractor
	chunker    Chunker
	embedder   Embedder
	store      Store
	scratchDir string
}

// New は新しいPipelineを作成します
// scratchDirが空の場合はos.TempDir()を使用します
func New(extractor Extractor, chunker Chunker, embedder Embedder, store Store, scratchDir string) (*Pipeline, error) {
	if extractor == nil || chunker == nil || embedder == nil || store == nil {
		return nil, fmt.Errorf("all pipeline dependencies must be non-nil")
	}
	if scratchDir == "" {
		scratchDir = os.TempDir()
	}

	return &Pipeline{
		extractor:  extractor,
		chunker:    chunker,
		embedder:   embedder,
		store:      store,
		scratchDir: scratchDir,
	}, nil
}

// IngestFile は1つのPDFを取り込みます
//
// skipExistingがtrueで、ステムに対応するインデックスペアが既に存在する場合は
// 処理せずにskippedとして返します。falseの場合は既存のインデックスを置き換え、
// 結合インデックス内の当該文書のエントリだけを差し替えます。
func (p *Pipeline) IngestFile(ctx context.Context, path string, skipExisting bool) models.IngestResult {
	originalFilename := filepath.Base(path)
	stem := pdf.NormalizeName(originalFilename)

	result := models.IngestResult{
		Document:         stem,
		OriginalFilename: originalFilename,
		Status:           models.IngestStatusFailed,
	}

	if skipExisting {
		exists, err := p.store.IndexExists(ctx, stem)
		if err != nil {
			result.Err = fmt.Errorf("failed to check for existing index: %w", err)
			return result
		}
		if exists {
			slog.Info("skipping already processed document", "document", stem)
			result.Status = models.IngestStatusSkipped
			result.VectorKey = vectorindex.VectorKey(stem)
			result.MetaKey = vectorindex.MetaKey(stem)
			return result
		}
	}

	doc, err := p.extractor.Extract(path)
	if err != nil {
		result.Err = fmt.Errorf("failed to extract text: %w", err)
		return result
	}
	result.Pages = len(doc.Pages)

	chunks, err := p.chunker.Split(doc)
	if err != nil {
		result.Err = fmt.Errorf("failed to chunk document: %w", err)
		return result
	}
	if len(chunks) == 0 {
		result.Err = fmt.Errorf("document produced no chunks")
		return result
	}
	result.Chunks = len(chunks)

	texts := make([]string, len(chunks))
	for i, chunk := range chunks {
		texts[i] = chunk.Text
	}

	vectors, err := p.embedder.BatchEmbed(ctx, texts)
	if err != nil {
		result.Err = fmt.Errorf("failed to embed chunks: %w", err)
		return result
	}

	idx, err := vectorindex.Build(p.embedder.Model(), p.embedder.Dimension(), chunks, vectors)
	if err != nil {
		result.Err = fmt.Errorf("failed to build index: %w", err)
		return result
	}

	// 取り込みごとにリクエストIDを振り、スクラッチの衝突を避ける
	requestID := uuid.New().String()
	workDir := filepath.Join(p.scratchDir, "policy-rag-"+requestID)
	if err := os.MkdirAll(workDir, 0o755); err != nil {
		result.Err = fmt.Errorf("failed to create scratch directory: %w", err)
		return result
	}
	defer os.RemoveAll(workDir)

	if err := idx.Save(workDir, stem); err != nil {
		result.Err = fmt.Errorf("failed to save index artifacts: %w", err)
		return result
	}

	ref, err := p.store.UploadIndex(ctx, workDir, stem)
	if err != nil {
		result.Err = fmt.Errorf("failed to upload index artifacts: %w", err)
		return result
	}
	result.VectorKey = ref.VectorKey
	result.MetaKey = ref.MetaKey

	if err := p.updateCombined(ctx, workDir, stem, idx); err != nil {
		result.Err = fmt.Errorf("failed to update combined index: %w", err)
		return result
	}

	slog.Info("document ingested",
		"document", stem,
		"pages", result.Pages,
		"chunks", result.Chunks,
	)

	result.Status = models.IngestStatusProcessed
	return result
}

// IngestDir はディレクトリ内のすべてのPDFを1つずつ取り込みます
//
// 文書ごとに独立した結果を記録します。ある文書の失敗が後続の文書の
// 処理を中断したり壊したりすることはありません。
func (p *Pipeline) IngestDir(ctx context.Context, dir string, skipExisting bool) ([]models.IngestResult, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, fmt.Errorf("failed to read directory: %w", err)
	}

	var paths []string
	for _, entry := range entries {
		if entry.IsDir() {
			continue
		}
		if strings.EqualFold(filepath.Ext(entry.Name()), ".pdf") {
			paths = append(paths, filepath.Join(dir, entry.Name()))
		}
	}
	sort.Strings(paths)

	if len(paths) == 0 {
		return nil, fmt.Errorf("no PDF files found in %s", dir)
	}

	results := make([]models.IngestResult, 0, len(paths))
	for _, path := range paths {
		if err := ctx.Err(); err != nil {
			return results, err
		}

		result := p.IngestFile(ctx, path, skipExisting)
		if result.Err != nil {
			slog.Error("failed to ingest document",
				"file", result.OriginalFilename,
				"error", result.Err,
			)
		}
		results = append(results, result)
	}

	return results, nil
}

// updateCombined は結合インデックス内の当該文書のエントリを差し替えます
//
// 既存の結合インデックスを取得し、同じ文書の旧エントリを取り除いてから
// 文書別インデックスをMergeで取り込みます。他の文書のベクトルとチャンクは
// 変更されません。Mergeがモデル識別子を検証するため、結合インデックスが
// 記録するモデルと異なるモデルのベクトルはErrModelMismatchで拒否されます
// （次元が同じでもモデルが違えば類似度スコアは黙って壊れるため）。
func (p *Pipeline) updateCombined(ctx context.Context, workDir string, stem string, docIdx *vectorindex.Index) error {
	combined, err := p.loadCombined(ctx, workDir)
	if err != nil {
		return err
	}

	combined.RemoveDocument(stem)
	if err := combined.Merge(docIdx); err != nil {
		return err
	}

	if err := combined.Save(workDir, CombinedStem); err != nil {
		return err
	}
	if _, err := p.store.UploadIndex(ctx, workDir, CombinedStem); err != nil {
		return err
	}
	return nil
}

// loadCombined は結合インデックスを取得します（存在しなければ空で開始）
func (p *Pipeline) loadCombined(ctx context.Context, workDir string) (*vectorindex.Index, error) {
	exists, err := p.store.IndexExists(ctx, CombinedStem)
	if err != nil {
		return nil, err
	}
	if !exists {
		return vectorindex.New(p.embedder.Model(), p.embedder.Dimension())
	}

	if err := p.store.DownloadIndex(ctx, workDir, CombinedStem); err != nil {
		return nil, err
	}

	combined, err := vectorindex.Load(workDir, CombinedStem)
	if err != nil {
		// 壊れた結合インデックスは修復せず、そのまま報告する
		if errors.Is(err, vectorindex.ErrCorruptIndex) {
			return nil, fmt.Errorf("combined index is corrupt and must be rebuilt: %w", err)
		}
		return nil, err
	}
	return combined, nil
}
