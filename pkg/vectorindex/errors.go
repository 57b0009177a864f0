package vectorindex

import "errors"

var (
	// ErrDimensionMismatch はベクトル次元の不一致に対するエラー
	// 黙って修復すると意味的に誤った近傍が返るため、検出時は必ず失敗させます
	ErrDimensionMismatch = errors.New("vector dimension mismatch")

	// ErrModelMismatch は異なるEmbeddingモデルのベクトルを混ぜようとした場合のエラー
	// モデルが異なるベクトルは比較不能で、類似度スコアが黙って壊れます
	ErrModelMismatch = errors.New("embedding model mismatch")

	// ErrCorruptIndex は2つのコンパニオンアーティファクトの整合性が取れない場合のエラー
	// 該当インデックスは使用不能であり、元文書からの再構築が必要です
	ErrCorruptIndex = errors.New("corrupt index")
)
