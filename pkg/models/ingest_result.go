package models

// IngestStatus は1ファイルの取り込み結果の状態です
type IngestStatus string

const (
	// IngestStatusProcessed は取り込みに成功した状態
	IngestStatusProcessed IngestStatus = "processed"

	// IngestStatusSkipped は既存のインデックスがあり処理を省略した状態
	IngestStatusSkipped IngestStatus = "skipped"

	// IngestStatusFailed は取り込みに失敗した状態
	IngestStatusFailed IngestStatus = "failed"
)

// IngestResult は1ファイルの取り込み結果です
// 一括取り込みではファイルごとに独立した結果が記録されます
type IngestResult struct {
	// Document は正規化済みの文書名（インデックスのステム）
	Document string `json:"document"`

	// OriginalFilename は元のファイル名
	OriginalFilename string `json:"original_filename"`

	// Status は取り込み結果の状態
	Status IngestStatus `json:"status"`

	// Pages は抽出されたページ数
	Pages int `json:"pages"`

	// Chunks は生成されたチャンク数
	Chunks int `json:"chunks"`

	// VectorKey / MetaKey はアップロードされたアーティファクトのキー
	VectorKey string `json:"vector_key,omitempty"`
	MetaKey   string `json:"meta_key,omitempty"`

	// Err は失敗の原因（成功時はnil）
	Err error `json:"-"`
}

// Citation は回答内のマーカーと出所の対応です
type Citation struct {
	// Marker は回答本文中の参照ID（S1, S2, ...）
	Marker string `json:"marker"`

	// Document は正規化済みの文書名
	Document string `json:"document"`

	// Page は0始まりのページ番号
	Page int `json:"page"`

	// Preview はチャンク本文の先頭部分
	Preview string `json:"preview"`

	// Score は検索時のコサイン類似度
	Score float64 `json:"score"`
}
