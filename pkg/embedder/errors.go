package embedder

import "errors"

var (
	// ErrAPIKeyNotSet はAPIキーが設定されていない場合のエラー
	ErrAPIKeyNotSet = errors.New("OpenAI API key not set")

	// ErrRateLimited はレート制限を受けた場合のエラー
	// 呼び出し側は有界バックオフでの再試行対象として扱います
	ErrRateLimited = errors.New("embedding API rate limited")

	// ErrModelUnavailable はモデルが利用できない場合のエラー
	// リージョンやモデルの有効化が必要なケースであり、再試行しても成功しません
	ErrModelUnavailable = errors.New("embedding model not available")

	// ErrInvalidInput は空または長すぎる入力に対するエラー
	ErrInvalidInput = errors.New("invalid embedding input")
)
