package vectorindex

import (
	"fmt"
	"math"
	"sort"

	"github.com/jinford/policy-rag/pkg/models"
)

// Index は (Embeddingベクトル, チャンク) ペアの順序付きコレクションです
// i番目のベクトルはi番目のチャンクに対応し、この整列が崩れたインデックスは
// 使用不能（ErrCorruptIndex）として扱われます
// どのEmbeddingモデルがベクトルを生成したかを記録しており、
// 異なるモデルのベクトルの混入はErrModelMismatchで拒否されます
type Index struct {
	model     string
	dimension int
	vectors   [][]float32
	chunks    []models.Chunk
}

// New は空のIndexを作成します
func New(model string, dimension int) (*Index, error) {
	if model == "" {
		return nil, fmt.Errorf("embedding model must not be empty")
	}
	if dimension <= 0 {
		return nil, fmt.Errorf("dimension must be positive, got %d", dimension)
	}
	return &Index{
		model:     model,
		dimension: dimension,
	}, nil
}

// Build はチャンクとベクトルのペアからIndexを構築します
func Build(model string, dimension int, chunks []models.Chunk, vectors [][]float32) (*Index, error) {
	idx, err := New(model, dimension)
	if err != nil {
		return nil, err
	}
	if err := idx.Add(chunks, vectors); err != nil {
		return nil, err
	}
	return idx, nil
}

// Add はチャンクとベクトルのペアを末尾に追加します
// 既存エントリと位置対応はそのまま保たれます
// len(chunks) != len(vectors) または次元の不一致はErrDimensionMismatchになります
func (idx *Index) Add(chunks []models.Chunk, vectors [][]float32) error {
	if len(chunks) != len(vectors) {
		return fmt.Errorf("%w: %d chunks but %d vectors", ErrDimensionMismatch, len(chunks), len(vectors))
	}

	for i, vec := range vectors {
		if len(vec) != idx.dimension {
			return fmt.Errorf("%w: vector %d has dimension %d, index requires %d",
				ErrDimensionMismatch, i, len(vec), idx.dimension)
		}
	}

	idx.chunks = append(idx.chunks, chunks...)
	idx.vectors = append(idx.vectors, vectors...)
	return nil
}

// Merge は別のIndexの全エントリを末尾に追加します
// モデル識別子が一致しない場合はErrModelMismatchになります
func (idx *Index) Merge(other *Index) error {
	if other == nil {
		return nil
	}
	if other.model != idx.model {
		return fmt.Errorf("%w: index built with %q, merging %q", ErrModelMismatch, idx.model, other.model)
	}
	return idx.Add(other.chunks, other.vectors)
}

// Search はクエリベクトルに対する上位k件をコサイン類似度の降順で返します
// kがインデックスサイズを超える場合は全件を返します（エラーにはなりません）
// スコアが同点の場合は挿入順が早いチャンクが優先されます
func (idx *Index) Search(query []float32, k int) ([]models.ScoredChunk, error) {
	if len(query) != idx.dimension {
		return nil, fmt.Errorf("%w: query has dimension %d, index requires %d",
			ErrDimensionMismatch, len(query), idx.dimension)
	}

	if k <= 0 {
		return nil, fmt.Errorf("k must be positive, got %d", k)
	}
	if k > len(idx.chunks) {
		k = len(idx.chunks)
	}

	scored := make([]models.ScoredChunk, len(idx.chunks))
	for i, vec := range idx.vectors {
		scored[i] = models.ScoredChunk{
			Chunk: idx.chunks[i],
			Score: cosineSimilarity(query, vec),
		}
	}

	// 安定ソートにより同点時は挿入順が保たれる
	sort.SliceStable(scored, func(i, j int) bool {
		return scored[i].Score > scored[j].Score
	})

	return scored[:k], nil
}

// RemoveDocument は指定文書のエントリをすべて削除し、削除件数を返します
// 他の文書のエントリ（ベクトルを含む）には一切手を触れません
// 再取り込み時に対象文書分だけを差し替えるために使います
func (idx *Index) RemoveDocument(document string) int {
	removed := 0
	chunks := idx.chunks[:0]
	vectors := idx.vectors[:0]

	for i, chunk := range idx.chunks {
		if chunk.Document == document {
			removed++
			continue
		}
		chunks = append(chunks, chunk)
		vectors = append(vectors, idx.vectors[i])
	}

	idx.chunks = chunks
	idx.vectors = vectors
	return removed
}

// Len はエントリ数を返します
func (idx *Index) Len() int {
	return len(idx.chunks)
}

// Model はベクトルを生成したEmbeddingモデルの識別子を返します
func (idx *Index) Model() string {
	return idx.model
}

// Dimension はベクトル次元数を返します
func (idx *Index) Dimension() int {
	return idx.dimension
}

// Documents は含まれる文書名を挿入順（初出順）で返します
func (idx *Index) Documents() []string {
	seen := make(map[string]bool)
	var names []string
	for _, chunk := range idx.chunks {
		if !seen[chunk.Document] {
			seen[chunk.Document] = true
			names = append(names, chunk.Document)
		}
	}
	return names
}

// At はi番目の (チャンク, ベクトル) ペアを返します
func (idx *Index) At(i int) (models.Chunk, []float32) {
	return idx.chunks[i], idx.vectors[i]
}

// cosineSimilarity は2つのベクトルのコサイン類似度を返します
// どちらかがゼロベクトルの場合は0を返します
func cosineSimilarity(a, b []float32) float64 {
	var dot, normA, normB float64
	for i := range a {
		dot += float64(a[i]) * float64(b[i])
		normA += float64(a[i]) * float64(a[i])
		normB += float64(b[i]) * float64(b[i])
	}
	if normA == 0 || normB == 0 {
		return 0
	}
	return dot / (math.Sqrt(normA) * math.Sqrt(normB))
}
