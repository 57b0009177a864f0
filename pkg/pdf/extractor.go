package pdf

import (
	"errors"
	"fmt"
	"path/filepath"
	"strings"

	"github.com/ledongthuc/pdf"

	"github.com/jinford/policy-rag/pkg/models"
)

var (
	// ErrNoExtractableText はどのページからもテキストを抽出できなかった場合のエラー
	// 対象ファイルは取り込み対象外として報告され、バッチ全体は継続します
	ErrNoExtractableText = errors.New("no extractable text in PDF")
)

// Extractor はPDFファイルからページ単位のテキストを抽出します
type Extractor struct{}

// NewExtractor は新しいExtractorを作成します
func NewExtractor() *Extractor {
	return &Extractor{}
}

// Extract はPDFを開き、ページ順にプレーンテキストを抽出してDocumentを返します
// ページ番号は0始まりです
// テキストの取れないページも空テキストのまま保持し、ページ番号の対応を崩しません
// 全ページが空の場合はErrNoExtractableTextを返します
func (e *Extractor) Extract(path string) (*models.Document, error) {
	f, reader, err := pdf.Open(path)
	if err != nil {
		return nil, fmt.Errorf("failed to open PDF %s: %w", filepath.Base(path), err)
	}
	defer f.Close()

	total := reader.NumPage()
	if total == 0 {
		return nil, fmt.Errorf("%w: %s has no pages", ErrNoExtractableText, filepath.Base(path))
	}

	pages := make([]models.Page, 0, total)
	hasText := false

	for i := 1; i <= total; i++ {
		page := reader.Page(i)

		text := extractPageText(page)

		if strings.TrimSpace(text) != "" {
			hasText = true
		}

		pages = append(pages, models.Page{
			Number: i - 1,
			Text:   text,
		})
	}

	if !hasText {
		return nil, fmt.Errorf("%w: %s", ErrNoExtractableText, filepath.Base(path))
	}

	original := filepath.Base(path)
	return &models.Document{
		Name:             NormalizeName(original),
		OriginalFilename: original,
		Pages:            pages,
	}, nil
}

// extractPageText は1ページ分のプレーンテキストを取り出します
// 抽出に失敗したページは空テキストとして扱い、残りのページの処理を止めません
// pdfライブラリは壊れたコンテンツストリームでpanicすることがあるため回復します
func extractPageText(page pdf.Page) (text string) {
	defer func() {
		if r := recover(); r != nil {
			text = ""
		}
	}()

	if page.V.IsNull() {
		return ""
	}

	extracted, err := page.GetPlainText(nil)
	if err != nil {
		return ""
	}
	return extracted
}

// NormalizeName はファイル名をオブジェクトストアのキーのステムとして使える形に正規化します
// 拡張子を落とし、空白をアンダースコアに変換し、括弧を取り除きます
func NormalizeName(filename string) string {
	name := strings.TrimSuffix(filename, filepath.Ext(filename))
	name = strings.ReplaceAll(name, " ", "_")
	name = strings.ReplaceAll(name, "(", "")
	name = strings.ReplaceAll(name, ")", "")
	return name
}

// DisplayName はステムから選択UI向けの表示名を組み立てます
// アンダースコアとハイフンを空白に戻し、単語の先頭を大文字にします
func DisplayName(stem string) string {
	name := strings.ReplaceAll(stem, "_", " ")
	name = strings.ReplaceAll(name, "-", " ")

	words := strings.Fields(name)
	for i, w := range words {
		runes := []rune(w)
		runes[0] = []rune(strings.ToUpper(string(runes[0])))[0]
		words[i] = string(runes)
	}
	return strings.Join(words, " ")
}
