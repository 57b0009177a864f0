package composer

import "errors"

var (
	// ErrContextTooLarge は最上位のチャンク1件だけでトークン予算を超える場合のエラー
	ErrContextTooLarge = errors.New("context too large: top-ranked chunk alone exceeds the token budget")

	// ErrGenerationFailed は回答生成の失敗を表すエラー
	// 生成の失敗はリトライせず、そのまま呼び出し元へ返します
	ErrGenerationFailed = errors.New("answer generation failed")

	// ErrNoContext は検索結果が空で回答を構成できない場合のエラー
	ErrNoContext = errors.New("no context: retrieval returned no chunks")
)
