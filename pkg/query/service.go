package query

import (
	"context"
	"errors"
	"fmt"
	"sort"

	"github.com/jinford/policy-rag/pkg/composer"
	"github.com/jinford/policy-rag/pkg/ingest"
	"github.com/jinford/policy-rag/pkg/models"
	"github.com/jinford/policy-rag/pkg/objectstore"
	"github.com/jinford/policy-rag/pkg/pdf"
	"github.com/jinford/policy-rag/pkg/retriever"
	"github.com/jinford/policy-rag/pkg/vectorindex"
)

// ErrDocumentNotFound は指定された文書のインデックスが存在しない場合のエラー
var ErrDocumentNotFound = errors.New("document not found: no index pair exists for the given name")

// Embedder は質問文をベクトル化します
// Modelはクエリベクトルとインデックスのモデル識別子の突き合わせに使います
type Embedder interface {
	Embed(ctx context.Context, text string) ([]float32, error)
	Model() string
}

// Composer は検索結果から引用付きの回答を生成します
type Composer interface {
	Compose(ctx context.Context, question string, chunks []models.ScoredChunk) (composer.Answer, error)
}

// Store はインデックスアーティファクトの取得元です
type Store interface {
	Get(ctx context.Context, key string) ([]byte, error)
	ListIndexRefs(ctx context.Context) ([]objectstore.IndexRef, error)
}

// DocumentInfo は質問対象として選択できる文書の情報です
type DocumentInfo struct {
	// Stem はインデックスのステム（正規化済み文書名）
	Stem string

	// DisplayName は一覧表示用に整形した名前
	DisplayName string
}

// VerifyResult は1つのインデックスペアの整合性検証の結果です
type VerifyResult struct {
	Stem string

	// Chunks は正常に読み込めた場合のチャンク数
	Chunks int

	// Err が非nilの場合、このインデックスは使用不能で再構築が必要です
	Err error
}

// Service は質問応答のユーザー側フローを実行します
//
// 文書を1つ選ぶか、結合コーパス全体を対象に質問し、
// 引用付きの回答を受け取ります。
type Service struct {
	store     Store
	embedder  Embedder
	retriever *retriever.Retriever
	composer  Composer
	topK      int
}

// New は新しいServiceを作成します
func New(store Store, embedder Embedder, comp Composer, topK int) (*Service, error) {
	if store == nil || embedder == nil || comp == nil {
		return nil, fmt.Errorf("all service dependencies must be non-nil")
	}
	if topK <= 0 {
		return nil, fmt.Errorf("top-k must be positive, got %d", topK)
	}

	return &Service{
		store:     store,
		embedder:  embedder,
		retriever: retriever.New(),
		composer:  comp,
		topK:      topK,
	}, nil
}

// Ask は質問に対する引用付きの回答を返します
//
// docStemを指定するとその文書のみを、空文字列の場合は結合コーパス全体を
// 検索対象にします。
func (s *Service) Ask(ctx context.Context, question, docStem string) (composer.Answer, error) {
	queryVec, err := s.embedder.Embed(ctx, question)
	if err != nil {
		return composer.Answer{}, fmt.Errorf("failed to embed question: %w", err)
	}

	var scored []models.ScoredChunk
	if docStem == "" {
		scored, err = s.searchCombined(ctx, queryVec)
	} else {
		scored, err = s.searchDocument(ctx, docStem, queryVec)
	}
	if err != nil {
		return composer.Answer{}, err
	}

	return s.composer.Compose(ctx, question, scored)
}

// searchDocument は1つの文書のインデックスから上位k件を取得します
func (s *Service) searchDocument(ctx context.Context, stem string, queryVec []float32) ([]models.ScoredChunk, error) {
	idx, err := s.loadIndexForQuery(ctx, stem)
	if err != nil {
		return nil, err
	}

	scored, err := s.retriever.Query(idx, queryVec, s.topK)
	if err != nil {
		return nil, fmt.Errorf("failed to search index: %w", err)
	}
	return scored, nil
}

// searchCombined は結合コーパス全体から上位k件を取得します
//
// 永続化された結合インデックスがあればそれを使い、まだ構築されていない場合は
// 文書別インデックスを横断して大域の上位k件を選び直します。
// どちらの経路でも件数と順序の規約は単一インデックス検索と一致します。
func (s *Service) searchCombined(ctx context.Context, queryVec []float32) ([]models.ScoredChunk, error) {
	idx, err := s.loadIndexForQuery(ctx, ingest.CombinedStem)
	if err == nil {
		scored, err := s.retriever.Query(idx, queryVec, s.topK)
		if err != nil {
			return nil, fmt.Errorf("failed to search combined index: %w", err)
		}
		return scored, nil
	}
	if !errors.Is(err, ErrDocumentNotFound) {
		return nil, err
	}

	refs, err := s.store.ListIndexRefs(ctx)
	if err != nil {
		return nil, err
	}

	var indexes []*vectorindex.Index
	for _, ref := range refs {
		docIdx, err := s.loadIndexForQuery(ctx, ref.Stem)
		if err != nil {
			return nil, err
		}
		indexes = append(indexes, docIdx)
	}
	if len(indexes) == 0 {
		return nil, fmt.Errorf("%w: no documents have been ingested", ErrDocumentNotFound)
	}

	scored, err := s.retriever.QueryAll(indexes, queryVec, s.topK)
	if err != nil {
		return nil, fmt.Errorf("failed to search document indexes: %w", err)
	}
	return scored, nil
}

// ListDocuments は質問対象として選択できる文書の一覧を表示名順で返します
// 結合インデックスは文書ではないため一覧から除外します
func (s *Service) ListDocuments(ctx context.Context) ([]DocumentInfo, error) {
	refs, err := s.store.ListIndexRefs(ctx)
	if err != nil {
		return nil, err
	}

	var docs []DocumentInfo
	for _, ref := range refs {
		if ref.Stem == ingest.CombinedStem {
			continue
		}
		docs = append(docs, DocumentInfo{
			Stem:        ref.Stem,
			DisplayName: pdf.DisplayName(ref.Stem),
		})
	}

	sort.Slice(docs, func(i, j int) bool {
		return docs[i].DisplayName < docs[j].DisplayName
	})
	return docs, nil
}

// Verify はインデックスペアの整合性を検証します
//
// stemを指定するとそのペアのみ、空文字列の場合はバケット内の全ペアを
// 検証します。壊れたインデックスは修復せず、使用不能として報告します。
func (s *Service) Verify(ctx context.Context, stem string) ([]VerifyResult, error) {
	var stems []string
	if stem != "" {
		stems = []string{stem}
	} else {
		refs, err := s.store.ListIndexRefs(ctx)
		if err != nil {
			return nil, err
		}
		for _, ref := range refs {
			stems = append(stems, ref.Stem)
		}
	}

	results := make([]VerifyResult, 0, len(stems))
	for _, st := range stems {
		result := VerifyResult{Stem: st}
		idx, err := s.loadIndex(ctx, st)
		if err != nil {
			result.Err = err
		} else {
			result.Chunks = idx.Len()
		}
		results = append(results, result)
	}
	return results, nil
}

// loadIndexForQuery はインデックスを復元し、クエリベクトルを生成するモデルと
// インデックスが記録するモデルの一致を検証します
// モデルが違えば類似度スコアは黙って壊れるため、検索には使わせません
func (s *Service) loadIndexForQuery(ctx context.Context, stem string) (*vectorindex.Index, error) {
	idx, err := s.loadIndex(ctx, stem)
	if err != nil {
		return nil, err
	}

	if idx.Model() != s.embedder.Model() {
		return nil, fmt.Errorf("%w: index %s was built with model %q but queries are embedded with %q",
			vectorindex.ErrModelMismatch, stem, idx.Model(), s.embedder.Model())
	}
	return idx, nil
}

// loadIndex はストアからインデックスペアを取得して復元します
func (s *Service) loadIndex(ctx context.Context, stem string) (*vectorindex.Index, error) {
	vecData, err := s.store.Get(ctx, vectorindex.VectorKey(stem))
	if err != nil {
		return nil, fmt.Errorf("%w: %s", ErrDocumentNotFound, stem)
	}
	metaData, err := s.store.Get(ctx, vectorindex.MetaKey(stem))
	if err != nil {
		return nil, fmt.Errorf("%w: %s", ErrDocumentNotFound, stem)
	}

	idx, err := vectorindex.Decode(vecData, metaData)
	if err != nil {
		return nil, fmt.Errorf("failed to decode index %s: %w", stem, err)
	}
	return idx, nil
}
