package models

// Document は取り込まれた1つのPDF文書を表します
type Document struct {
	// Name は正規化済みの文書名（拡張子なし、インデックスのステムに使用）
	Name string

	// OriginalFilename はアップロード時の元のファイル名
	OriginalFilename string

	// Pages は抽出されたページの一覧（ページ番号順）
	Pages []Page
}

// Page は文書内の1ページです
type Page struct {
	// Number は0始まりのページ番号
	Number int

	// Text はページから抽出されたプレーンテキスト
	Text string
}

// Chunk は文書から切り出された検索単位のテキスト片です
// 出所（文書・ページ・順序）を常に保持し、引用の解決に使われます
type Chunk struct {
	// Document は正規化済みの文書名
	Document string `json:"document"`

	// Page は0始まりのページ番号
	Page int `json:"page"`

	// Ordinal は文書内でのチャンクの通し番号
	Ordinal int `json:"ordinal"`

	// Text はチャンク本文
	Text string `json:"text"`
}

// ScoredChunk は検索スコア付きのチャンクです
type ScoredChunk struct {
	Chunk Chunk

	// Score はクエリベクトルとのコサイン類似度
	Score float64
}
