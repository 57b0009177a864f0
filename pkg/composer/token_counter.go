package composer

import (
	"fmt"

	"github.com/pkoukk/tiktoken-go"
)

// TokenCounter はコンテキスト予算の管理に使うトークンカウンタです
type TokenCounter interface {
	// CountTokens はテキストのトークン数を返します
	CountTokens(text string) int
}

// TiktokenCounter はtiktokenによるTokenCounter実装です
type TiktokenCounter struct {
	encoding *tiktoken.Tiktoken
}

// NewTiktokenCounter は新しいTiktokenCounterを作成します
// cl100k_baseエンコーディングを使用します
func NewTiktokenCounter() (*TiktokenCounter, error) {
	encoding, err := tiktoken.GetEncoding("cl100k_base")
	if err != nil {
		return nil, fmt.Errorf("failed to get tiktoken encoding: %w", err)
	}

	return &TiktokenCounter{
		encoding: encoding,
	}, nil
}

// CountTokens はテキストのトークン数をカウントします
func (tc *TiktokenCounter) CountTokens(text string) int {
	if tc.encoding == nil {
		return 0
	}
	tokens := tc.encoding.Encode(text, nil, nil)
	return len(tokens)
}

var _ TokenCounter = (*TiktokenCounter)(nil)
