package chunker

import (
	"fmt"
	"strings"

	"github.com/jinford/policy-rag/pkg/models"
)

// Chunker はページ分割済みテキストを固定長・固定オーバーラップのチャンクに分割します
// 同じ入力に対して常に同じチャンク列を返すため、再取り込みは冪等になります
type Chunker struct {
	// maxLength はチャンクの最大長（文字数）
	maxLength int

	// overlap は隣接チャンク間の重なり（文字数）
	overlap int
}

// New は新しいChunkerを作成します
// overlap は maxLength より小さい正の値でなければなりません
func New(maxLength, overlap int) (*Chunker, error) {
	if maxLength <= 0 {
		return nil, fmt.Errorf("chunk max length must be positive, got %d", maxLength)
	}
	if overlap <= 0 {
		return nil, fmt.Errorf("chunk overlap must be positive, got %d", overlap)
	}
	if overlap >= maxLength {
		return nil, fmt.Errorf("chunk overlap (%d) must be smaller than max length (%d)", overlap, maxLength)
	}

	return &Chunker{
		maxLength: maxLength,
		overlap:   overlap,
	}, nil
}

// Split は文書の全ページをチャンク化します
// 各チャンクは生成元ページのページ番号をそのまま保持します
// オーバーラップ領域は同一ページ内でのみ作られるため、ページ帰属が失われることはありません
// Ordinalは文書全体での通し番号です
func (c *Chunker) Split(doc *models.Document) ([]models.Chunk, error) {
	if doc == nil {
		return nil, fmt.Errorf("document is nil")
	}
	if doc.Name == "" {
		return nil, fmt.Errorf("document name is empty")
	}

	var chunks []models.Chunk
	ordinal := 0

	for _, page := range doc.Pages {
		for _, text := range c.splitPage(page.Text) {
			chunks = append(chunks, models.Chunk{
				Document: doc.Name,
				Page:     page.Number,
				Ordinal:  ordinal,
				Text:     text,
			})
			ordinal++
		}
	}

	return chunks, nil
}

// splitPage は1ページ分のテキストをオーバーラップ付きの固定長ウィンドウに分割します
// maxLengthより短いページはそのまま1チャンクになります
// 末尾の残りがオーバーラップ幅より短くても、最終チャンクとして必ず出力されます
func (c *Chunker) splitPage(text string) []string {
	// 空白のみのページはチャンクを生成しない
	if strings.TrimSpace(text) == "" {
		return nil
	}

	runes := []rune(text)
	if len(runes) <= c.maxLength {
		return []string{text}
	}

	step := c.maxLength - c.overlap

	var pieces []string
	for start := 0; start < len(runes); start += step {
		end := start + c.maxLength
		if end >= len(runes) {
			// 最終チャンク: 残り全部を出力して終了
			pieces = append(pieces, string(runes[start:]))
			break
		}
		pieces = append(pieces, string(runes[start:end]))
	}

	return pieces
}

// MaxLength はチャンクの最大長を返します
func (c *Chunker) MaxLength() int {
	return c.maxLength
}

// Overlap はオーバーラップ幅を返します
func (c *Chunker) Overlap() int {
	return c.overlap
}
