package config

import (
	"fmt"
	"os"
	"strconv"
	"time"

	"github.com/joho/godotenv"
)

// Config はアプリケーション全体の設定を保持します
// プロセス起動時に一度だけ構築し、必要なコンポーネントへ参照で渡します
type Config struct {
	// AWS設定（オブジェクトストア用）
	AWS AWSConfig

	// OpenAI設定（Embeddings + 回答生成用）
	OpenAI OpenAIConfig

	// チャンク分割設定
	Chunking ChunkingConfig

	// 検索・回答生成設定
	Query QueryConfig

	// リトライポリシー設定
	Retry RetryConfig

	// ScratchDir はローカル一時ファイルの置き場所
	// ここに書かれるファイルは使い捨てで、正しさはオブジェクトストア側が保証します
	ScratchDir string
}

// AWSConfig はオブジェクトストア（S3）の接続設定
// 認証情報はSDKのデフォルトチェーン（環境変数、共有設定ファイル等）から解決されます
type AWSConfig struct {
	Region string
	Bucket string
}

// OpenAIConfig はOpenAI API設定
type OpenAIConfig struct {
	APIKey             string
	EmbeddingModel     string
	EmbeddingDimension int
	GenerationModel    string
}

// ChunkingConfig はテキスト分割のパラメータ
type ChunkingConfig struct {
	// MaxLength はチャンクの最大長（文字数）
	MaxLength int

	// Overlap は隣接チャンク間の重なり（文字数）
	Overlap int
}

// QueryConfig は検索と回答生成のパラメータ
type QueryConfig struct {
	// TopK は検索で返す近傍チャンク数
	TopK int

	// MaxContextTokens はLLMへ渡すコンテキストのトークン上限
	MaxContextTokens int
}

// RetryConfig は一時的な失敗に対する有界リトライポリシー
type RetryConfig struct {
	MaxAttempts int
	BaseBackoff time.Duration
	MaxBackoff  time.Duration
}

// Load は環境変数または.envファイルから設定を読み込みます
func Load(envFilePath string) (*Config, error) {
	// .envファイルが存在する場合は読み込む
	if envFilePath != "" {
		if err := godotenv.Load(envFilePath); err != nil {
			// ファイルが存在しない場合はエラーとしない（環境変数のみで動作可能）
			if !os.IsNotExist(err) {
				return nil, fmt.Errorf("failed to load .env file: %w", err)
			}
		}
	}

	cfg := &Config{
		AWS: AWSConfig{
			Region: getEnv("AWS_REGION", getEnv("AWS_DEFAULT_REGION", "us-east-1")),
			Bucket: getEnv("BUCKET_NAME", ""),
		},
		OpenAI: OpenAIConfig{
			APIKey:             getEnv("OPENAI_API_KEY", ""),
			EmbeddingModel:     getEnv("EMBEDDING_MODEL", "text-embedding-3-small"),
			EmbeddingDimension: getEnvAsInt("EMBEDDING_DIMENSION", 1536),
			GenerationModel:    getEnv("GENERATION_MODEL", "gpt-4o-mini"),
		},
		Chunking: ChunkingConfig{
			MaxLength: getEnvAsInt("CHUNK_MAX_LENGTH", 1000),
			Overlap:   getEnvAsInt("CHUNK_OVERLAP", 200),
		},
		Query: QueryConfig{
			TopK:             getEnvAsInt("TOP_K", 3),
			MaxContextTokens: getEnvAsInt("MAX_CONTEXT_TOKENS", 8000),
		},
		Retry: RetryConfig{
			MaxAttempts: getEnvAsInt("RETRY_MAX_ATTEMPTS", 3),
			BaseBackoff: getEnvAsDuration("RETRY_BASE_BACKOFF", 2*time.Second),
			MaxBackoff:  getEnvAsDuration("RETRY_MAX_BACKOFF", 32*time.Second),
		},
		ScratchDir: getEnv("SCRATCH_DIR", os.TempDir()),
	}

	if err := cfg.validate(); err != nil {
		return nil, err
	}

	return cfg, nil
}

// validate は設定値の整合性を検証します
func (c *Config) validate() error {
	if c.Chunking.MaxLength <= 0 {
		return fmt.Errorf("CHUNK_MAX_LENGTH must be positive, got %d", c.Chunking.MaxLength)
	}
	if c.Chunking.Overlap <= 0 {
		return fmt.Errorf("CHUNK_OVERLAP must be positive, got %d", c.Chunking.Overlap)
	}
	if c.Chunking.Overlap >= c.Chunking.MaxLength {
		return fmt.Errorf("CHUNK_OVERLAP (%d) must be smaller than CHUNK_MAX_LENGTH (%d)",
			c.Chunking.Overlap, c.Chunking.MaxLength)
	}
	if c.Query.TopK <= 0 {
		return fmt.Errorf("TOP_K must be positive, got %d", c.Query.TopK)
	}
	if c.Retry.MaxAttempts <= 0 {
		return fmt.Errorf("RETRY_MAX_ATTEMPTS must be positive, got %d", c.Retry.MaxAttempts)
	}
	return nil
}

// getEnv は環境変数を取得し、存在しない場合はデフォルト値を返します
func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

// getEnvAsInt は環境変数を整数として取得します
func getEnvAsInt(key string, defaultValue int) int {
	valueStr := os.Getenv(key)
	if valueStr == "" {
		return defaultValue
	}
	value, err := strconv.Atoi(valueStr)
	if err != nil {
		return defaultValue
	}
	return value
}

// getEnvAsDuration は環境変数をtime.Durationとして取得します
func getEnvAsDuration(key string, defaultValue time.Duration) time.Duration {
	valueStr := os.Getenv(key)
	if valueStr == "" {
		return defaultValue
	}
	value, err := time.ParseDuration(valueStr)
	if err != nil {
		return defaultValue
	}
	return value
}
