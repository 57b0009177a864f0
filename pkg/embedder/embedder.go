package embedder

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/openai/openai-go/v3"
	"github.com/openai/openai-go/v3/option"

	"github.com/jinford/policy-rag/pkg/retry"
)

const (
	// MaxBatchSize は1回のAPI呼び出しに含める最大テキスト数
	// 大きな文書でもラウンドトリップ数がチャンク数に比例しないよう分割します
	MaxBatchSize = 100

	// MaxInputRunes は1テキストあたりの最大入力長（文字数）
	// これを超える入力はAPIへ送らずErrInvalidInputで弾きます
	MaxInputRunes = 30000

	// requestTimeout は1回のAPI呼び出しのタイムアウト
	// ハングしたリモート呼び出しに対する唯一の上限です
	requestTimeout = 60 * time.Second
)

// Embedder はテキストをEmbeddingベクトルに変換するゲートウェイです
// 1つのEmbedderが返すベクトルはすべて同一モデル・同一次元です
// モデルを混ぜると類似度スコアが黙って壊れるため、モデル識別子は
// インデックス側にも記録されます（vectorindex.Index参照）
type Embedder struct {
	client    openai.Client
	model     string
	dimension int
	policy    retry.Policy
}

// New は新しいEmbedderを作成します
// 追加のoptsはAPIキーの後に適用されるため、HTTPクライアントの
// 差し替えなどでデフォルトを上書きできます
func New(apiKey, model string, dimension int, policy retry.Policy, opts ...option.RequestOption) (*Embedder, error) {
	if apiKey == "" {
		return nil, ErrAPIKeyNotSet
	}

	clientOpts := append([]option.RequestOption{option.WithAPIKey(apiKey)}, opts...)
	client := openai.NewClient(clientOpts...)

	return &Embedder{
		client:    client,
		model:     model,
		dimension: dimension,
		policy:    policy,
	}, nil
}

// Embed は単一テキストのEmbeddingを生成します
func (e *Embedder) Embed(ctx context.Context, text string) ([]float32, error) {
	vectors, err := e.BatchEmbed(ctx, []string{text})
	if err != nil {
		return nil, err
	}
	if len(vectors) == 0 {
		return nil, fmt.Errorf("no embeddings generated")
	}
	return vectors[0], nil
}

// BatchEmbed は複数テキストのEmbeddingを生成します
// 出力の順序は入力の順序と一致します
// MaxBatchSizeを超える入力は内部で複数のAPI呼び出しに分割されます
// レート制限はリトライポリシーに従って再試行し、使い切ったらエラーを返します
func (e *Embedder) BatchEmbed(ctx context.Context, texts []string) ([][]float32, error) {
	if len(texts) == 0 {
		return nil, fmt.Errorf("%w: no texts provided", ErrInvalidInput)
	}

	// API呼び出し前に入力を検証する（空テキストは課金対象の呼び出しまで進めない）
	for i, text := range texts {
		if text == "" {
			return nil, fmt.Errorf("%w: text at index %d is empty", ErrInvalidInput, i)
		}
		if len([]rune(text)) > MaxInputRunes {
			return nil, fmt.Errorf("%w: text at index %d exceeds %d characters", ErrInvalidInput, i, MaxInputRunes)
		}
	}

	vectors := make([][]float32, 0, len(texts))
	for start := 0; start < len(texts); start += MaxBatchSize {
		end := start + MaxBatchSize
		if end > len(texts) {
			end = len(texts)
		}

		batch, err := e.embedBatch(ctx, texts[start:end])
		if err != nil {
			return nil, err
		}
		vectors = append(vectors, batch...)
	}

	return vectors, nil
}

// embedBatch は1バッチ分（MaxBatchSize以下）のEmbeddingをリトライ付きで生成します
func (e *Embedder) embedBatch(ctx context.Context, texts []string) ([][]float32, error) {
	var vectors [][]float32

	err := e.policy.Do(ctx, func(ctx context.Context) error {
		ctx, cancel := context.WithTimeout(ctx, requestTimeout)
		defer cancel()

		batch, err := e.callAPI(ctx, texts)
		if err != nil {
			return err
		}
		vectors = batch
		return nil
	}, func(err error) bool {
		return errors.Is(err, ErrRateLimited)
	})
	if err != nil {
		return nil, err
	}

	if len(vectors) != len(texts) {
		return nil, fmt.Errorf("embedding count mismatch: got %d vectors for %d texts", len(vectors), len(texts))
	}

	return vectors, nil
}

// callAPI はOpenAI Embeddings APIを1回呼び出します
func (e *Embedder) callAPI(ctx context.Context, texts []string) ([][]float32, error) {
	params := openai.EmbeddingNewParams{
		Model: openai.EmbeddingModel(e.model),
	}

	// Input を設定（単一または配列）
	if len(texts) == 1 {
		params.Input = openai.EmbeddingNewParamsInputUnion{
			OfString: openai.String(texts[0]),
		}
	} else {
		params.Input = openai.EmbeddingNewParamsInputUnion{
			OfArrayOfStrings: texts,
		}
	}

	// dimensionパラメータを追加（text-embedding-3-smallなどで有効）
	if e.dimension > 0 {
		params.Dimensions = openai.Int(int64(e.dimension))
	}

	resp, err := e.client.Embeddings.New(ctx, params)
	if err != nil {
		return nil, classifyAPIError(err)
	}

	// レスポンスからベクトルを抽出（float64からfloat32に変換）
	vectors := make([][]float32, 0, len(resp.Data))
	for _, data := range resp.Data {
		vector := make([]float32, len(data.Embedding))
		for i, v := range data.Embedding {
			vector[i] = float32(v)
		}
		vectors = append(vectors, vector)
	}

	return vectors, nil
}

// Model はEmbeddingモデルの識別子を返します
func (e *Embedder) Model() string {
	return e.model
}

// Dimension はEmbeddingベクトルの次元数を返します
func (e *Embedder) Dimension() int {
	return e.dimension
}

// classifyAPIError はOpenAI SDKのエラーを本パッケージのエラー分類に変換します
func classifyAPIError(err error) error {
	var apiErr *openai.Error
	if errors.As(err, &apiErr) {
		return classifyStatus(apiErr.StatusCode, err)
	}
	return fmt.Errorf("embedding API call failed: %w", err)
}

// classifyStatus はHTTPステータスコードをエラー分類に対応付けます
// 429は再試行可能、403/404はモデル未有効化でありオペレータ対応が必要です
func classifyStatus(status int, cause error) error {
	switch status {
	case 429:
		return fmt.Errorf("%w: %w", ErrRateLimited, cause)
	case 403, 404:
		return fmt.Errorf("%w: %w", ErrModelUnavailable, cause)
	default:
		return fmt.Errorf("embedding API call failed (status %d): %w", status, cause)
	}
}
