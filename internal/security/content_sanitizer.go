package security

import (
	"github.com/microcosm-cc/bluemonday"
)

// ContentSanitizer は保存前の記事本文HTMLをサニタイズする。
// プロバイダから受け取る本文は信頼できないため、許可リストにある
// 段落・強調・リスト・引用・リンクのみを残す。画像は記事の画像URLフィールドで扱うため除去する。
type ContentSanitizer struct {
	policy *bluemonday.Policy
}

// NewContentSanitizer はContentSanitizerを生成する。
func NewContentSanitizer() *ContentSanitizer {
	p := bluemonday.NewPolicy()

	p.AllowElements(
		"p", "br", "ul", "ol", "li",
		"blockquote", "strong", "em", "b", "i",
	)

	p.AllowAttrs("href").OnElements("a")
	p.AllowStandardURLs()
	p.AllowRelativeURLs(false)
	p.AddTargetBlankToFullyQualifiedLinks(true)
	p.RequireNoReferrerOnLinks(true)

	return &ContentSanitizer{policy: p}
}

// Sanitize はHTMLをサニタイズする。空文字列には空文字列を返し、同一入力には同一出力を返す。
func (s *ContentSanitizer) Sanitize(rawHTML string) string {
	if rawHTML == "" {
		return ""
	}
	return s.policy.Sanitize(rawHTML)
}
