// Package security はアプリケーションのセキュリティ機能を提供する。
//
// TextSanitizer はピンのタイトルやタグなど平文として扱う入力から
// マークアップを除去する。bluemondayのStrictPolicyを使用し、
// すべてのタグを取り除いてテキストのみを残す。
package security

import (
	"html"
	"strings"

	"github.com/microcosm-cc/bluemonday"
)

// TextSanitizerService は平文フィールドのサニタイズ機能のインターフェースを定義する。
type TextSanitizerService interface {
	// Sanitize はタグを除去し、前後の空白を取り除いた平文を返す。
	// script, styleタグは内容ごと除去される。
	// 同一入力に対して常に同一出力を返す（冪等）。
	Sanitize(raw string) string
	// SanitizeAll は各要素にSanitizeを適用した新しいスライスを返す。
	SanitizeAll(values []string) []string
}

// TextSanitizer はTextSanitizerServiceの実装。
// bluemonday.Policyはスレッドセーフなため共有して使用できる。
type TextSanitizer struct {
	policy *bluemonday.Policy
}

// NewTextSanitizer はStrictPolicyを保持するTextSanitizerを生成する。
func NewTextSanitizer() *TextSanitizer {
	return &TextSanitizer{
		policy: bluemonday.StrictPolicy(),
	}
}

// Sanitize はタグを除去した平文を返す。
// bluemondayがエスケープした文字実体参照は元の文字に戻す。
func (s *TextSanitizer) Sanitize(raw string) string {
	if raw == "" {
		return ""
	}
	return strings.TrimSpace(html.UnescapeString(s.policy.Sanitize(raw)))
}

// SanitizeAll はスライスの各要素をサニタイズした新しいスライスを返す。
func (s *TextSanitizer) SanitizeAll(values []string) []string {
	out := make([]string, len(values))
	for i, v := range values {
		out[i] = s.Sanitize(v)
	}
	return out
}

var _ TextSanitizerService = (*TextSanitizer)(nil)
