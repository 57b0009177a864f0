package commands

import (
	"context"
	"fmt"

	"github.com/jinford/policy-rag/internal/platform/logger"
	"github.com/jinford/policy-rag/pkg/chunker"
	"github.com/jinford/policy-rag/pkg/composer"
	"github.com/jinford/policy-rag/pkg/config"
	"github.com/jinford/policy-rag/pkg/embedder"
	"github.com/jinford/policy-rag/pkg/ingest"
	"github.com/jinford/policy-rag/pkg/objectstore"
	"github.com/jinford/policy-rag/pkg/pdf"
	"github.com/jinford/policy-rag/pkg/query"
	"github.com/jinford/policy-rag/pkg/retry"
)

// AppContext はコマンド実行に必要な共通コンテキストを保持する
type AppContext struct {
	Config   *config.Config
	Store    *objectstore.Store
	Embedder *embedder.Embedder
}

// NewAppContext は設定を読み込み、外部クライアントを初期化して AppContext を作成する
func NewAppContext(ctx context.Context, envFile string) (*AppContext, error) {
	cfg, err := config.Load(envFile)
	if err != nil {
		return nil, fmt.Errorf("設定の読み込みに失敗: %w", err)
	}

	// ロガーの初期化
	logger.New(logger.DefaultConfig())

	store, err := objectstore.New(ctx, cfg.AWS)
	if err != nil {
		return nil, fmt.Errorf("オブジェクトストアの初期化に失敗: %w", err)
	}

	policy := retry.NewPolicy(cfg.Retry.MaxAttempts, cfg.Retry.BaseBackoff, cfg.Retry.MaxBackoff)
	emb, err := embedder.New(cfg.OpenAI.APIKey, cfg.OpenAI.EmbeddingModel, cfg.OpenAI.EmbeddingDimension, policy)
	if err != nil {
		return nil, fmt.Errorf("Embeddingクライアントの初期化に失敗: %w", err)
	}

	return &AppContext{
		Config:   cfg,
		Store:    store,
		Embedder: emb,
	}, nil
}

// NewPipeline は取り込みパイプラインを組み立てる
func (ac *AppContext) NewPipeline() (*ingest.Pipeline, error) {
	ch, err := chunker.New(ac.Config.Chunking.MaxLength, ac.Config.Chunking.Overlap)
	if err != nil {
		return nil, err
	}

	return ingest.New(pdf.NewExtractor(), ch, ac.Embedder, ac.Store, ac.Config.ScratchDir)
}

// NewQueryService は質問応答サービスを組み立てる
func (ac *AppContext) NewQueryService() (*query.Service, error) {
	llm, err := composer.NewOpenAIClient(ac.Config.OpenAI.APIKey, ac.Config.OpenAI.GenerationModel)
	if err != nil {
		return nil, err
	}

	counter, err := composer.NewTiktokenCounter()
	if err != nil {
		return nil, err
	}

	comp, err := composer.New(llm, counter, ac.Config.Query.MaxContextTokens)
	if err != nil {
		return nil, err
	}

	return query.New(ac.Store, ac.Embedder, comp, ac.Config.Query.TopK)
}
