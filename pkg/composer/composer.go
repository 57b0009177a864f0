package composer

import (
	"context"
	"fmt"
	"strings"

	"github.com/jinford/policy-rag/pkg/models"
)

// previewLength は引用プレビューの最大文字数（rune単位）
const previewLength = 150

// Composer は検索結果から引用付きの回答を構成します
//
// マーカー（S1, S2, ...）はLLM呼び出しの前に検索ランク順で確定します。
// LLMの応答内容によってマーカーの割り当てが変わることはありません。
type Composer struct {
	llm       LLMClient
	counter   TokenCounter
	maxTokens int
}

// Answer は生成された回答と、コンテキストに採用されたソースの一覧です
type Answer struct {
	// Text はLLMが生成した回答本文
	Text string

	// Citations はコンテキストに採用されたチャンクの引用情報（ランク順）
	// 回答本文中の[S1]などのマーカーはこの一覧のMarkerに対応します
	Citations []models.Citation
}

// New は新しいComposerを作成します
// maxTokensはコンテキストセクション全体に許すトークン予算です
func New(llm LLMClient, counter TokenCounter, maxTokens int) (*Composer, error) {
	if llm == nil {
		return nil, fmt.Errorf("LLM client must not be nil")
	}
	if counter == nil {
		return nil, fmt.Errorf("token counter must not be nil")
	}
	if maxTokens <= 0 {
		return nil, fmt.Errorf("max context tokens must be positive, got %d", maxTokens)
	}

	return &Composer{
		llm:       llm,
		counter:   counter,
		maxTokens: maxTokens,
	}, nil
}

// Compose は質問と検索結果から引用付きの回答を生成します
//
// コンテキストがトークン予算を超える場合はランクの低いチャンクから順に
// 落とします。最上位のチャンク1件だけで予算を超える場合は
// ErrContextTooLargeを返します。
func (c *Composer) Compose(ctx context.Context, question string, chunks []models.ScoredChunk) (Answer, error) {
	if strings.TrimSpace(question) == "" {
		return Answer{}, fmt.Errorf("question must not be empty")
	}
	if len(chunks) == 0 {
		return Answer{}, ErrNoContext
	}

	sections, citations, err := c.buildSections(chunks)
	if err != nil {
		return Answer{}, err
	}

	prompt := buildPrompt(question, sections)

	text, err := c.llm.Complete(ctx, prompt)
	if err != nil {
		return Answer{}, err
	}

	return Answer{
		Text:      text,
		Citations: citations,
	}, nil
}

// buildSections はトークン予算内に収まるセクションと対応する引用を構築します
// マーカーは採用されたチャンクに対してランク順でS1から振り直します
func (c *Composer) buildSections(chunks []models.ScoredChunk) ([]string, []models.Citation, error) {
	var sections []string
	var citations []models.Citation
	usedTokens := 0

	for _, scored := range chunks {
		marker := fmt.Sprintf("S%d", len(sections)+1)
		section := formatSection(marker, scored.Chunk)

		sectionTokens := c.counter.CountTokens(section)
		if usedTokens+sectionTokens > c.maxTokens {
			if len(sections) == 0 {
				return nil, nil, fmt.Errorf("%w: chunk requires %d tokens but budget is %d", ErrContextTooLarge, sectionTokens, c.maxTokens)
			}
			// ランクの低いチャンクから落とすので、ここで打ち切る
			break
		}

		usedTokens += sectionTokens
		sections = append(sections, section)
		citations = append(citations, models.Citation{
			Marker:   marker,
			Document: scored.Chunk.Document,
			Page:     scored.Chunk.Page,
			Preview:  preview(scored.Chunk.Text),
			Score:    scored.Score,
		})
	}

	return sections, citations, nil
}

// preview は引用表示用にテキストの先頭部分を切り出します
func preview(text string) string {
	runes := []rune(strings.TrimSpace(text))
	if len(runes) <= previewLength {
		return string(runes)
	}
	return string(runes[:previewLength]) + "..."
}
