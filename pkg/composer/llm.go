package composer

import (
	"context"
	"fmt"
	"time"

	"github.com/openai/openai-go/v3"
	"github.com/openai/openai-go/v3/option"
	"github.com/openai/openai-go/v3/shared"
)

const (
	// requestTimeout は生成APIの1回の呼び出しに適用するタイムアウト
	requestTimeout = 120 * time.Second

	// defaultTemperature は回答生成のサンプリング温度
	// 根拠付きの事実回答が目的なので低めに固定します
	defaultTemperature = 0.2
)

// LLMClient は回答生成のためのLLM呼び出しを抽象化します
type LLMClient interface {
	// Complete はプロンプトに対する応答テキストを返します
	Complete(ctx context.Context, prompt string) (string, error)
}

// OpenAIClient はOpenAI Chat Completions APIによるLLMClient実装です
type OpenAIClient struct {
	client openai.Client
	model  string
}

// NewOpenAIClient は新しいOpenAIClientを作成します
func NewOpenAIClient(apiKey, model string) (*OpenAIClient, error) {
	if apiKey == "" {
		return nil, fmt.Errorf("OpenAI API key not set: please set OPENAI_API_KEY environment variable")
	}

	return &OpenAIClient{
		client: openai.NewClient(option.WithAPIKey(apiKey)),
		model:  model,
	}, nil
}

// Complete はChat Completions APIで応答を生成します
// 生成の失敗はリトライせずErrGenerationFailedとして返します
func (c *OpenAIClient) Complete(ctx context.Context, prompt string) (string, error) {
	ctx, cancel := context.WithTimeout(ctx, requestTimeout)
	defer cancel()

	params := openai.ChatCompletionNewParams{
		Model: shared.ChatModel(c.model),
		Messages: []openai.ChatCompletionMessageParamUnion{
			openai.UserMessage(prompt),
		},
		Temperature: openai.Float(defaultTemperature),
	}

	completion, err := c.client.Chat.Completions.New(ctx, params)
	if err != nil {
		return "", fmt.Errorf("%w: %v", ErrGenerationFailed, err)
	}

	if len(completion.Choices) == 0 {
		return "", fmt.Errorf("%w: no completion choices returned", ErrGenerationFailed)
	}

	return completion.Choices[0].Message.Content, nil
}

var _ LLMClient = (*OpenAIClient)(nil)
