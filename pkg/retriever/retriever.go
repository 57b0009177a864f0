package retriever

import (
	"fmt"
	"sort"

	"github.com/jinford/policy-rag/pkg/models"
	"github.com/jinford/policy-rag/pkg/vectorindex"
)

// Retriever はクエリベクトルに対する近傍チャンク検索を提供します
//
// 順序規約: 結果は常にコサイン類似度の降順です（スコアが大きいほど類似）
// この規約は単一インデックス検索と複数インデックス横断検索で共通です
type Retriever struct{}

// New は新しいRetrieverを作成します
func New() *Retriever {
	return &Retriever{}
}

// Query は単一インデックスから上位k件を返します
// kがインデックスサイズを超える場合は全件が返ります
// チャンクの出典メタデータ（文書名・ページ番号）は結果にそのまま保持されます
func (r *Retriever) Query(idx *vectorindex.Index, queryVec []float32, k int) ([]models.ScoredChunk, error) {
	if idx == nil {
		return nil, fmt.Errorf("index is nil")
	}
	return idx.Search(queryVec, k)
}

// QueryAll は複数のインデックスを横断して大域の上位k件を返します
//
// 各インデックスから上位k件の候補を取り、同一のスコア指標で併合したうえで
// 大域の上位k件を選び直します。インデックスごとの結果を単純連結すると
// 件数や順序が単一インデックス検索と食い違うため、必ず再選択します
// 同点時はインデックスの並び順、次いで挿入順で決まります
func (r *Retriever) QueryAll(indexes []*vectorindex.Index, queryVec []float32, k int) ([]models.ScoredChunk, error) {
	if len(indexes) == 0 {
		return nil, fmt.Errorf("no indexes to query")
	}

	var candidates []models.ScoredChunk
	for _, idx := range indexes {
		if idx == nil {
			continue
		}
		results, err := idx.Search(queryVec, k)
		if err != nil {
			return nil, err
		}
		candidates = append(candidates, results...)
	}

	// 安定ソート: 同点は候補の並び（インデックス順→挿入順）が保たれる
	sort.SliceStable(candidates, func(i, j int) bool {
		return candidates[i].Score > candidates[j].Score
	})

	if k > len(candidates) {
		k = len(candidates)
	}
	return candidates[:k], nil
}
