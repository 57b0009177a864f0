package ingest

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jinford/policy-rag/pkg/chunker"
	"github.com/jinford/policy-rag/pkg/models"
	"github.com/jinford/policy-rag/pkg/objectstore"
	"github.com/jinford/policy-rag/pkg/vectorindex"
)

// fakeExtractor はファイル名ごとに固定の文書を返します
type fakeExtractor struct {
	docs  map[string]*models.Document
	calls int
}

func (f *fakeExtractor) Extract(path string) (*models.Document, error) {
	f.calls++
	doc, ok := f.docs[filepath.Base(path)]
	if !ok {
		return nil, errors.New("no extractable text found in PDF")
	}
	return doc, nil
}

// fakeEmbedder はテキスト長から決定的なベクトルを生成します
type fakeEmbedder struct {
	model     string
	dimension int
}

func (f *fakeEmbedder) BatchEmbed(_ context.Context, texts []string) ([][]float32, error) {
	vectors := make([][]float32, len(texts))
	for i, text := range texts {
		vec := make([]float32, f.dimension)
		for j := range vec {
			vec[j] = float32(len(text)+i+j) / 100
		}
		vectors[i] = vec
	}
	return vectors, nil
}

func (f *fakeEmbedder) Model() string  { return f.model }
func (f *fakeEmbedder) Dimension() int { return f.dimension }

// fakeStore はバケットをmapで模したStore実装です
type fakeStore struct {
	objects map[string][]byte
}

func newFakeStore() *fakeStore {
	return &fakeStore{objects: make(map[string][]byte)}
}

func (f *fakeStore) IndexExists(_ context.Context, stem string) (bool, error) {
	_, vecOK := f.objects[vectorindex.VectorKey(stem)]
	_, metaOK := f.objects[vectorindex.MetaKey(stem)]
	return vecOK && metaOK, nil
}

func (f *fakeStore) UploadIndex(_ context.Context, dir, stem string) (objectstore.IndexRef, error) {
	ref := objectstore.IndexRef{
		Stem:      stem,
		VectorKey: vectorindex.VectorKey(stem),
		MetaKey:   vectorindex.MetaKey(stem),
	}
	for _, key := range []string{ref.VectorKey, ref.MetaKey} {
		data, err := os.ReadFile(filepath.Join(dir, key))
		if err != nil {
			return objectstore.IndexRef{}, err
		}
		f.objects[key] = data
	}
	return ref, nil
}

func (f *fakeStore) DownloadIndex(_ context.Context, dir, stem string) error {
	for _, key := range []string{vectorindex.VectorKey(stem), vectorindex.MetaKey(stem)} {
		data, ok := f.objects[key]
		if !ok {
			return fmt.Errorf("key not found: %s", key)
		}
		if err := os.WriteFile(filepath.Join(dir, key), data, 0o644); err != nil {
			return err
		}
	}
	return nil
}

// loadCombinedIndex はフェイクストア上の結合インデックスを復元します
func (f *fakeStore) loadCombinedIndex(t *testing.T) *vectorindex.Index {
	t.Helper()
	idx, err := vectorindex.Decode(
		f.objects[vectorindex.VectorKey(CombinedStem)],
		f.objects[vectorindex.MetaKey(CombinedStem)],
	)
	require.NoError(t, err)
	return idx
}

func testDocument(name string, pageTexts ...string) *models.Document {
	pages := make([]models.Page, len(pageTexts))
	for i, text := range pageTexts {
		pages[i] = models.Page{Number: i, Text: text}
	}
	return &models.Document{
		Name:             name,
		OriginalFilename: name + ".pdf",
		Pages:            pages,
	}
}

func newTestPipeline(t *testing.T, extractor *fakeExtractor, store *fakeStore) *Pipeline {
	t.Helper()
	return newTestPipelineWithEmbedder(t, extractor, store, &fakeEmbedder{model: "test-model", dimension: 4})
}

func newTestPipelineWithEmbedder(t *testing.T, extractor *fakeExtractor, store *fakeStore, emb *fakeEmbedder) *Pipeline {
	t.Helper()
	ch, err := chunker.New(100, 20)
	require.NoError(t, err)

	p, err := New(extractor, ch, emb, store, t.TempDir())
	require.NoError(t, err)
	return p
}

func TestIngestFile_Success(t *testing.T) {
	store := newFakeStore()
	extractor := &fakeExtractor{docs: map[string]*models.Document{
		"Health Policy.pdf": testDocument("Health_Policy", "coverage begins after 30 days", "dental is excluded"),
	}}
	p := newTestPipeline(t, extractor, store)

	result := p.IngestFile(context.Background(), "/tmp/Health Policy.pdf", false)
	require.NoError(t, result.Err)

	assert.Equal(t, models.IngestStatusProcessed, result.Status)
	assert.Equal(t, "Health_Policy", result.Document)
	assert.Equal(t, "Health Policy.pdf", result.OriginalFilename)
	assert.Equal(t, 2, result.Pages)
	assert.Equal(t, 2, result.Chunks)
	assert.Equal(t, "Health_Policy.vec", result.VectorKey)
	assert.Equal(t, "Health_Policy.meta.json", result.MetaKey)

	// 文書別と結合の両方のペアがアップロードされる
	exists, err := store.IndexExists(context.Background(), "Health_Policy")
	require.NoError(t, err)
	assert.True(t, exists)

	combined := store.loadCombinedIndex(t)
	assert.Equal(t, 2, combined.Len())
	assert.Equal(t, []string{"Health_Policy"}, combined.Documents())
}

func TestIngestFile_SkipExisting(t *testing.T) {
	store := newFakeStore()
	store.objects["Health_Policy.vec"] = []byte("v")
	store.objects["Health_Policy.meta.json"] = []byte("m")

	extractor := &fakeExtractor{docs: map[string]*models.Document{}}
	p := newTestPipeline(t, extractor, store)

	result := p.IngestFile(context.Background(), "/tmp/Health Policy.pdf", true)
	require.NoError(t, result.Err)

	assert.Equal(t, models.IngestStatusSkipped, result.Status)
	// 既存文書は抽出処理まで到達しない
	assert.Zero(t, extractor.calls)
}

func TestIngestFile_ExtractionFailure(t *testing.T) {
	store := newFakeStore()
	extractor := &fakeExtractor{docs: map[string]*models.Document{}}
	p := newTestPipeline(t, extractor, store)

	result := p.IngestFile(context.Background(), "/tmp/broken.pdf", false)

	assert.Equal(t, models.IngestStatusFailed, result.Status)
	assert.Error(t, result.Err)
	// 失敗した文書のアーティファクトはアップロードされない
	assert.Empty(t, store.objects)
}

func TestIngestFile_ReingestReplacesOnlyThatDocument(t *testing.T) {
	store := newFakeStore()
	extractor := &fakeExtractor{docs: map[string]*models.Document{
		"doc_a.pdf": testDocument("doc_a", "original text for document a"),
		"doc_b.pdf": testDocument("doc_b", "text for document b"),
	}}
	p := newTestPipeline(t, extractor, store)
	ctx := context.Background()

	require.NoError(t, p.IngestFile(ctx, "/tmp/doc_a.pdf", false).Err)
	require.NoError(t, p.IngestFile(ctx, "/tmp/doc_b.pdf", false).Err)

	// 再取り込み前のdoc_bのエントリを控えておく
	before := store.loadCombinedIndex(t)
	var beforeB []models.Chunk
	var beforeBVecs [][]float32
	for i := 0; i < before.Len(); i++ {
		chunk, vec := before.At(i)
		if chunk.Document == "doc_b" {
			beforeB = append(beforeB, chunk)
			beforeBVecs = append(beforeBVecs, vec)
		}
	}
	require.NotEmpty(t, beforeB)

	// doc_aを編集して再取り込み
	extractor.docs["doc_a.pdf"] = testDocument("doc_a", "revised text for document a after editing")
	require.NoError(t, p.IngestFile(ctx, "/tmp/doc_a.pdf", false).Err)

	after := store.loadCombinedIndex(t)
	var afterB []models.Chunk
	var afterBVecs [][]float32
	var afterA []models.Chunk
	for i := 0; i < after.Len(); i++ {
		chunk, vec := after.At(i)
		switch chunk.Document {
		case "doc_b":
			afterB = append(afterB, chunk)
			afterBVecs = append(afterBVecs, vec)
		case "doc_a":
			afterA = append(afterA, chunk)
		}
	}

	// doc_bのチャンクとベクトルは再取り込みの前後で一致する
	assert.Equal(t, beforeB, afterB)
	assert.Equal(t, beforeBVecs, afterBVecs)

	// doc_aは新しい内容に置き換わっている
	require.NotEmpty(t, afterA)
	for _, chunk := range afterA {
		assert.Contains(t, chunk.Text, "revised")
	}
}

func TestIngestFile_RejectsDifferentModelInCombinedIndex(t *testing.T) {
	store := newFakeStore()
	extractor := &fakeExtractor{docs: map[string]*models.Document{
		"doc_a.pdf": testDocument("doc_a", "text for document a"),
		"doc_b.pdf": testDocument("doc_b", "text for document b"),
	}}
	ctx := context.Background()

	pa := newTestPipelineWithEmbedder(t, extractor, store, &fakeEmbedder{model: "model-a", dimension: 4})
	require.NoError(t, pa.IngestFile(ctx, "/tmp/doc_a.pdf", false).Err)

	// 同じ次元でもモデルが違うベクトルは結合インデックスに混入できない
	pb := newTestPipelineWithEmbedder(t, extractor, store, &fakeEmbedder{model: "model-b", dimension: 4})
	result := pb.IngestFile(ctx, "/tmp/doc_b.pdf", false)

	require.Error(t, result.Err)
	assert.ErrorIs(t, result.Err, vectorindex.ErrModelMismatch)
	assert.Equal(t, models.IngestStatusFailed, result.Status)

	// 結合インデックスはmodel-aのエントリのまま壊れていない
	combined := store.loadCombinedIndex(t)
	assert.Equal(t, "model-a", combined.Model())
	assert.Equal(t, []string{"doc_a"}, combined.Documents())
}

func TestIngestDir_FailureIsolation(t *testing.T) {
	dir := t.TempDir()
	for _, name := range []string{"broken.pdf", "good.pdf", "notes.txt"} {
		require.NoError(t, os.WriteFile(filepath.Join(dir, name), []byte("stub"), 0o644))
	}

	store := newFakeStore()
	extractor := &fakeExtractor{docs: map[string]*models.Document{
		"good.pdf": testDocument("good", "some insurance policy text"),
	}}
	p := newTestPipeline(t, extractor, store)

	results, err := p.IngestDir(context.Background(), dir, false)
	require.NoError(t, err)

	// PDF以外のファイルは対象外
	require.Len(t, results, 2)

	assert.Equal(t, "broken.pdf", results[0].OriginalFilename)
	assert.Equal(t, models.IngestStatusFailed, results[0].Status)
	assert.Error(t, results[0].Err)

	// 先行文書の失敗は後続文書の処理を妨げない
	assert.Equal(t, "good.pdf", results[1].OriginalFilename)
	assert.Equal(t, models.IngestStatusProcessed, results[1].Status)
	require.NoError(t, results[1].Err)
}

func TestIngestDir_NoPDFs(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, "notes.txt"), []byte("x"), 0o644))

	p := newTestPipeline(t, &fakeExtractor{}, newFakeStore())

	_, err := p.IngestDir(context.Background(), dir, false)
	assert.Error(t, err)
}
