package composer

import (
	"fmt"
	"strings"

	"github.com/jinford/policy-rag/pkg/models"
)

// systemInstructions は回答の根拠付けと安全性を指示するルールです
// 回答は常に提供コンテキストに限定し、引用マーカーの使用を義務付けます
const systemInstructions = "You are a helpful assistant for healthcare insurance documents. " +
	"Follow these rules strictly: \n" +
	"- Ground every answer ONLY in the provided Context sections.\n" +
	"- If the answer is not in context, say you don't know and suggest checking the policy documents.\n" +
	"- Include inline citations using the section IDs like [S1], [S2] wherever specific facts are used.\n" +
	"- Be concise, neutral, and precise. Avoid speculation or fabrication.\n" +
	"- Do not provide legal, medical, or financial advice. Provide informational guidance only.\n" +
	"- Do not output secrets, credentials, or personal data.\n" +
	"- If the user asks for actions that could cause harm or are outside scope, refuse briefly and provide safer alternatives.\n" +
	"- Prefer bullet lists for multi-part answers.\n"

// formatSection は1件のチャンクをマーカー付きセクションに整形します
//
// フォーマット:
//
//	[S1]
//	<チャンク本文>
//	(Source: <文書名>, page <ページ番号>)
func formatSection(marker string, chunk models.Chunk) string {
	return fmt.Sprintf("[%s]\n%s\n(Source: %s, page %d)", marker, strings.TrimSpace(chunk.Text), chunk.Document, chunk.Page)
}

// buildPrompt は指示・コンテキストセクション・質問をまとめた最終プロンプトを構築します
func buildPrompt(question string, sections []string) string {
	var builder strings.Builder

	builder.WriteString(systemInstructions)
	builder.WriteString("\n\n")
	builder.WriteString("Context sections (use for grounding and citations):\n\n")
	builder.WriteString(strings.Join(sections, "\n\n"))
	builder.WriteString("\n\n")
	builder.WriteString(fmt.Sprintf("Question: %s\n\n", question))
	builder.WriteString("Answer with citations like [S1], [S2]. If unknown, say you don't know.")

	return builder.String()
}
