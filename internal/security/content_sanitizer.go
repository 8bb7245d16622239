package security

import (
	"strings"

	"github.com/microcosm-cc/bluemonday"
)

// ContentSanitizerService は出品者入力のサニタイズ機能のインターフェースを定義する。
// オークションのタイトル・説明とユーザーのnymは保存前に必ず通す。
type ContentSanitizerService interface {
	// SanitizeText はプレーンテキストフィールドからHTMLを完全に除去する。
	// タイトル・nymなど、マークアップを一切含まないフィールドに使用する。
	// 前後の空白も除去する。同一入力に対して常に同一出力を返す（冪等）。
	SanitizeText(raw string) string

	// SanitizeDescription はオークション説明をサニタイズして安全なHTMLを返す。
	// 基本的な整形タグ（p, br, ul, ol, li, blockquote, strong, em, a）のみを通過させ、
	// script, iframe, styleタグおよびon*イベント属性を除去する。
	// aタグにはtarget="_blank"とrel="noopener noreferrer"が自動付与される。
	SanitizeDescription(raw string) string
}

// contentSanitizer はContentSanitizerServiceの実装。
// bluemondayのポリシーを保持し、スレッドセーフにサニタイズ処理を行う。
type contentSanitizer struct {
	strict      *bluemonday.Policy
	description *bluemonday.Policy
}

// NewContentSanitizer はContentSanitizerServiceの新しいインスタンスを生成する。
func NewContentSanitizer() *contentSanitizer {
	description := bluemonday.NewPolicy()

	// 説明文に許可する整形タグ。許可リストに含めないタグは自動的に除去される。
	// on*イベント属性はbluemondayのデフォルトで許可されない。
	description.AllowElements(
		"p", "br", "ul", "ol", "li",
		"blockquote", "strong", "em",
	)

	// aタグ:
	// - href属性を許可、相対URLは不許可
	// - target="_blank"とrel="noreferrer noopener"を強制付与
	description.AllowAttrs("href").OnElements("a")
	description.AllowStandardURLs()
	description.AllowRelativeURLs(false)
	description.AddTargetBlankToFullyQualifiedLinks(true)
	description.RequireNoReferrerOnLinks(true)

	return &contentSanitizer{
		strict:      bluemonday.StrictPolicy(),
		description: description,
	}
}

// SanitizeText はプレーンテキストフィールドからHTMLを完全に除去する。
func (s *contentSanitizer) SanitizeText(raw string) string {
	return strings.TrimSpace(s.strict.Sanitize(raw))
}

// SanitizeDescription はオークション説明をサニタイズして安全なHTMLを返す。
func (s *contentSanitizer) SanitizeDescription(raw string) string {
	return strings.TrimSpace(s.description.Sanitize(raw))
}
