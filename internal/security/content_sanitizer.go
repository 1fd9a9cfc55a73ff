// Package security はアプリケーションのセキュリティ機能を提供する。
//
// ContentSanitizer は投稿本文のHTMLを表示前にサニタイズし、
// 一覧表示用のプレーンテキスト抜粋を生成する。
package security

import (
	"regexp"
	"strings"
	"unicode/utf8"

	"github.com/microcosm-cc/bluemonday"
	"golang.org/x/net/html"
)

// httpsURL はimgのsrcとして許可するURLの形式。
var httpsURL = regexp.MustCompile(`^https://`)

// ContentSanitizer は投稿本文のサニタイズ機能を提供する。
// bluemondayのポリシーはスレッドセーフなため、1インスタンスを全リクエストで共有する。
type ContentSanitizer struct {
	policy *bluemonday.Policy
}

// NewContentSanitizer はContentSanitizerを生成する。
// ポリシーの内容:
//   - 許可タグ: p, br, h2, h3, ul, ol, li, blockquote, pre, code, strong, em, a, img
//   - aタグ: httpsまたはhttpの絶対URLのみ、target="_blank" と rel="noopener noreferrer" を付与
//   - imgのsrc属性: httpsスキームのみ許可
func NewContentSanitizer() *ContentSanitizer {
	p := bluemonday.NewPolicy()

	p.AllowElements(
		"p", "br", "h2", "h3", "ul", "ol", "li",
		"blockquote", "pre", "code",
		"strong", "em",
	)

	p.AllowAttrs("href").OnElements("a")
	p.AllowRelativeURLs(false)
	p.AddTargetBlankToFullyQualifiedLinks(true)
	p.RequireNoReferrerOnLinks(true)

	p.AllowURLSchemes("http", "https")

	p.AllowAttrs("alt").OnElements("img")
	p.AllowAttrs("src").Matching(httpsURL).OnElements("img")

	return &ContentSanitizer{policy: p}
}

// Sanitize は投稿本文のHTMLをサニタイズして安全なHTMLを返す。
// 同一入力に対して常に同一出力を返す。
func (s *ContentSanitizer) Sanitize(rawHTML string) string {
	return s.policy.Sanitize(rawHTML)
}

// Excerpt はHTMLからテキストノードだけを取り出し、maxRunes文字で切り詰めた抜粋を返す。
// 連続する空白は1つにまとめる。切り詰めた場合は末尾に "…" を付ける。
func (s *ContentSanitizer) Excerpt(rawHTML string, maxRunes int) string {
	var b strings.Builder
	z := html.NewTokenizer(strings.NewReader(rawHTML))
	skip := 0

loop:
	for {
		tt := z.Next()
		switch tt {
		case html.ErrorToken:
			break loop
		case html.StartTagToken, html.SelfClosingTagToken:
			name, _ := z.TagName()
			if tt == html.StartTagToken && isInvisibleTag(name) {
				skip++
			}
			if isBlockTag(name) {
				b.WriteByte(' ')
			}
		case html.EndTagToken:
			name, _ := z.TagName()
			if isInvisibleTag(name) && skip > 0 {
				skip--
			}
			if isBlockTag(name) {
				b.WriteByte(' ')
			}
		case html.TextToken:
			if skip == 0 {
				b.Write(z.Text())
			}
		}
	}

	text := strings.Join(strings.Fields(b.String()), " ")
	if maxRunes <= 0 || utf8.RuneCountInString(text) <= maxRunes {
		return text
	}
	runes := []rune(text)
	return strings.TrimSpace(string(runes[:maxRunes])) + "…"
}

// isInvisibleTag は本文として表示しない要素かどうかを判定する。
func isInvisibleTag(name []byte) bool {
	switch string(name) {
	case "script", "style":
		return true
	default:
		return false
	}
}

// isBlockTag は前後に区切りを入れるべきブロック要素かどうかを判定する。
func isBlockTag(name []byte) bool {
	switch string(name) {
	case "p", "br", "div", "li", "h1", "h2", "h3", "h4", "blockquote", "pre", "tr":
		return true
	default:
		return false
	}
}
