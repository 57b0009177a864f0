package vectorindex

import (
	"encoding/binary"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jinford/policy-rag/pkg/models"
)

const testModel = "text-embedding-3-small"

func testChunk(doc string, page, ordinal int, text string) models.Chunk {
	return models.Chunk{Document: doc, Page: page, Ordinal: ordinal, Text: text}
}

func TestBuildRejectsLengthMismatch(t *testing.T) {
	chunks := []models.Chunk{testChunk("a", 0, 0, "one")}
	vectors := [][]float32{{1, 0}, {0, 1}}

	_, err := Build(testModel, 2, chunks, vectors)
	assert.ErrorIs(t, err, ErrDimensionMismatch)
}

func TestBuildRejectsMixedDimensions(t *testing.T) {
	chunks := []models.Chunk{
		testChunk("a", 0, 0, "one"),
		testChunk("a", 0, 1, "two"),
	}
	vectors := [][]float32{{1, 0}, {0, 1, 0}}

	_, err := Build(testModel, 2, chunks, vectors)
	assert.ErrorIs(t, err, ErrDimensionMismatch)
}

func TestMergeRejectsDifferentModel(t *testing.T) {
	a, err := Build(testModel, 2, []models.Chunk{testChunk("a", 0, 0, "one")}, [][]float32{{1, 0}})
	require.NoError(t, err)
	b, err := Build("other-model", 2, []models.Chunk{testChunk("b", 0, 0, "two")}, [][]float32{{0, 1}})
	require.NoError(t, err)

	err = a.Merge(b)
	assert.ErrorIs(t, err, ErrModelMismatch)
}

func TestSearchOrdersByDescendingSimilarity(t *testing.T) {
	chunks := []models.Chunk{
		testChunk("a", 0, 0, "deductible"),
		testChunk("a", 3, 1, "copay"),
	}
	// クエリ {1,0} に対して1件目が最も近い
	vectors := [][]float32{{1, 0}, {0, 1}}

	idx, err := Build(testModel, 2, chunks, vectors)
	require.NoError(t, err)

	results, err := idx.Search([]float32{1, 0}, 2)
	require.NoError(t, err)
	require.Len(t, results, 2)

	assert.Equal(t, "deductible", results[0].Chunk.Text)
	assert.Equal(t, "copay", results[1].Chunk.Text)
	assert.Greater(t, results[0].Score, results[1].Score)
}

func TestSearchClampsKToIndexSize(t *testing.T) {
	idx, err := Build(testModel, 2,
		[]models.Chunk{testChunk("a", 0, 0, "only")},
		[][]float32{{1, 0}},
	)
	require.NoError(t, err)

	// kがインデックスサイズを超えてもエラーにならず全件が返る
	results, err := idx.Search([]float32{1, 0}, 10)
	require.NoError(t, err)
	assert.Len(t, results, 1)
}

func TestSearchBreaksTiesByInsertionOrder(t *testing.T) {
	chunks := []models.Chunk{
		testChunk("a", 0, 0, "first"),
		testChunk("a", 1, 1, "second"),
		testChunk("a", 2, 2, "third"),
	}
	// 1件目と3件目が同一ベクトル（スコア同点）
	vectors := [][]float32{{1, 0}, {0, 1}, {1, 0}}

	idx, err := Build(testModel, 2, chunks, vectors)
	require.NoError(t, err)

	results, err := idx.Search([]float32{1, 0}, 3)
	require.NoError(t, err)

	// 同点のときは挿入順が早いチャンクが勝つ
	assert.Equal(t, "first", results[0].Chunk.Text)
	assert.Equal(t, "third", results[1].Chunk.Text)
	assert.Equal(t, "second", results[2].Chunk.Text)
}

func TestSearchRejectsWrongQueryDimension(t *testing.T) {
	idx, err := Build(testModel, 2,
		[]models.Chunk{testChunk("a", 0, 0, "only")},
		[][]float32{{1, 0}},
	)
	require.NoError(t, err)

	_, err = idx.Search([]float32{1, 0, 0}, 1)
	assert.ErrorIs(t, err, ErrDimensionMismatch)
}

func TestSaveLoadRoundTrip(t *testing.T) {
	dir := t.TempDir()

	chunks := []models.Chunk{
		testChunk("policy_a", 0, 0, "a deductible is the amount you pay"),
		testChunk("policy_a", 3, 1, "a copay is a fixed fee"),
		testChunk("policy_b", 1, 0, "out of pocket maximum"),
	}
	vectors := [][]float32{
		{0.25, -1.5, 3.125},
		{0.5, 0.0625, -2.75},
		{1, 2, 3},
	}

	idx, err := Build(testModel, 3, chunks, vectors)
	require.NoError(t, err)
	require.NoError(t, idx.Save(dir, "combined"))

	loaded, err := Load(dir, "combined")
	require.NoError(t, err)

	// ペア数・順序・ベクトル値がすべて往復保存で保たれる
	require.Equal(t, idx.Len(), loaded.Len())
	assert.Equal(t, testModel, loaded.Model())
	assert.Equal(t, 3, loaded.Dimension())
	for i := 0; i < idx.Len(); i++ {
		wantChunk, wantVec := idx.At(i)
		gotChunk, gotVec := loaded.At(i)
		assert.Equal(t, wantChunk, gotChunk)
		assert.Equal(t, wantVec, gotVec)
	}
}

func TestLoadDetectsCountMismatch(t *testing.T) {
	dir := t.TempDir()

	idx, err := Build(testModel, 2,
		[]models.Chunk{
			testChunk("a", 0, 0, "one"),
			testChunk("a", 0, 1, "two"),
		},
		[][]float32{{1, 0}, {0, 1}},
	)
	require.NoError(t, err)
	require.NoError(t, idx.Save(dir, "doc"))

	// メタデータ側だけチャンクを1件に減らした壊れたペアを作る
	smaller, err := Build(testModel, 2,
		[]models.Chunk{testChunk("a", 0, 0, "one")},
		[][]float32{{1, 0}},
	)
	require.NoError(t, err)
	meta, err := smaller.encodeMeta()
	require.NoError(t, err)
	require.NoError(t, os.WriteFile(filepath.Join(dir, MetaKey("doc")), meta, 0o644))

	_, err = Load(dir, "doc")
	assert.ErrorIs(t, err, ErrCorruptIndex)
}

func TestLoadDetectsTruncatedVectorArtifact(t *testing.T) {
	dir := t.TempDir()

	idx, err := Build(testModel, 4,
		[]models.Chunk{testChunk("a", 0, 0, "one")},
		[][]float32{{1, 2, 3, 4}},
	)
	require.NoError(t, err)
	require.NoError(t, idx.Save(dir, "doc"))

	vecPath := filepath.Join(dir, VectorKey("doc"))
	data, err := os.ReadFile(vecPath)
	require.NoError(t, err)
	require.NoError(t, os.WriteFile(vecPath, data[:len(data)-5], 0o644))

	_, err = Load(dir, "doc")
	assert.ErrorIs(t, err, ErrCorruptIndex)
}

func TestDecodeRejectsOversizedHeaderCounts(t *testing.T) {
	idx, err := Build(testModel, 2,
		[]models.Chunk{testChunk("a", 0, 0, "one")},
		[][]float32{{1, 0}},
	)
	require.NoError(t, err)

	vecData, err := idx.encodeVectors()
	require.NoError(t, err)
	metaData, err := idx.encodeMeta()
	require.NoError(t, err)

	// ヘッダのcountフィールド（ベクトルデータ直前の4バイト）を巨大な値に書き換える
	// 実データ長との突き合わせで、確保が走る前にErrCorruptIndexになる
	countOffset := len(vecData) - 2*4 - 4
	binary.LittleEndian.PutUint32(vecData[countOffset:], 1<<30)

	_, err = Decode(vecData, metaData)
	assert.ErrorIs(t, err, ErrCorruptIndex)
}

func TestLoadRejectsGarbage(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, VectorKey("doc")), []byte("not an index"), 0o644))
	require.NoError(t, os.WriteFile(filepath.Join(dir, MetaKey("doc")), []byte("{}"), 0o644))

	_, err := Load(dir, "doc")
	assert.ErrorIs(t, err, ErrCorruptIndex)
}

func TestRemoveDocumentPreservesOtherEntries(t *testing.T) {
	chunksA := []models.Chunk{
		testChunk("doc_a", 0, 0, "a0"),
		testChunk("doc_a", 3, 1, "a1"),
	}
	chunksB := []models.Chunk{
		testChunk("doc_b", 0, 0, "b0"),
	}
	vecA := [][]float32{{1, 0}, {0.5, 0.5}}
	vecB := [][]float32{{0, 1}}

	idx, err := Build(testModel, 2, chunksA, vecA)
	require.NoError(t, err)
	require.NoError(t, idx.Add(chunksB, vecB))

	removed := idx.RemoveDocument("doc_a")
	assert.Equal(t, 2, removed)
	require.Equal(t, 1, idx.Len())

	// doc_bのエントリはベクトルも含めて一切変わらない
	gotChunk, gotVec := idx.At(0)
	assert.Equal(t, chunksB[0], gotChunk)
	assert.Equal(t, vecB[0], gotVec)

	// 再取り込み: doc_aの新しいチャンクを追加しても位置対応が保たれる
	newChunks := []models.Chunk{testChunk("doc_a", 3, 0, "a edited")}
	newVecs := [][]float32{{0.9, 0.1}}
	require.NoError(t, idx.Add(newChunks, newVecs))

	assert.Equal(t, []string{"doc_b", "doc_a"}, idx.Documents())
}

func TestSaveEmptyIndexRoundTrips(t *testing.T) {
	dir := t.TempDir()

	idx, err := New(testModel, 2)
	require.NoError(t, err)
	require.NoError(t, idx.Save(dir, "empty"))

	loaded, err := Load(dir, "empty")
	require.NoError(t, err)
	assert.Equal(t, 0, loaded.Len())
	assert.Equal(t, testModel, loaded.Model())
}
