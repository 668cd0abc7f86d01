package article

import (
	"strings"

	"golang.org/x/net/html"
)

// skipTextTags はテキスト抽出時に中身を無視する要素。
var skipTextTags = map[string]bool{
	"script":   true,
	"style":    true,
	"noscript": true,
	"template": true,
}

// PlainText はHTML断片からテキストのみを抽出し、連続する空白を1つにまとめる。
// HTMLを含まない文字列はエンティティ展開と空白の正規化のみ行われる。
func PlainText(s string) string {
	if s == "" {
		return ""
	}

	tokenizer := html.NewTokenizer(strings.NewReader(s))
	var b strings.Builder
	skipDepth := 0

	for {
		switch tokenizer.Next() {
		case html.ErrorToken:
			return strings.Join(strings.Fields(b.String()), " ")
		case html.StartTagToken:
			name, _ := tokenizer.TagName()
			if skipTextTags[string(name)] {
				skipDepth++
			}
			b.WriteByte(' ')
		case html.EndTagToken:
			name, _ := tokenizer.TagName()
			if skipTextTags[string(name)] && skipDepth > 0 {
				skipDepth--
			}
			b.WriteByte(' ')
		case html.SelfClosingTagToken:
			b.WriteByte(' ')
		case html.TextToken:
			if skipDepth == 0 {
				b.Write(tokenizer.Text())
			}
		}
	}
}

// TruncateRunes は文字列を先頭max文字（rune単位）に切り詰める。
func TruncateRunes(s string, max int) string {
	if max <= 0 {
		return ""
	}
	runes := []rune(s)
	if len(runes) <= max {
		return s
	}
	return string(runes[:max])
}

// Ellipsize は文字列がmax文字を超える場合、先頭max-3文字に"..."を付けて返す。
func Ellipsize(s string, max int) string {
	runes := []rune(s)
	if len(runes) <= max {
		return s
	}
	if max <= 3 {
		return string(runes[:max])
	}
	return string(runes[:max-3]) + "..."
}

// RuneLen は文字数（rune単位）を返す。
func RuneLen(s string) int {
	return len([]rune(s))
}
