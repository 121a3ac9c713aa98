// Package security はアプリケーションのセキュリティ機能を提供する。
//
// MessageSanitizer は上流（コントラクト、RPC、検証コントラクト）から受け取ったエラーメッセージを
// クライアントに返す前に無害化する。bluemondayのStrictPolicyですべてのタグを除去し、
// 制御文字を取り除いたうえで長さを制限する。
package security

import (
	"html"
	"strings"
	"unicode"
	"unicode/utf8"

	"github.com/microcosm-cc/bluemonday"
)

// DefaultMaxMessageLength はサニタイズ後のメッセージの最大文字数。
const DefaultMaxMessageLength = 256

// MessageSanitizer はエラーメッセージのサニタイズ機能のインターフェースを定義する。
type MessageSanitizer interface {
	// Sanitize はメッセージからHTMLタグと制御文字を除去し、最大長で切り詰める。
	// 空文字列の入力には空文字列を返す。
	Sanitize(message string) string
}

// messageSanitizer はMessageSanitizerの実装。
// bluemondayのポリシーはスレッドセーフ。
type messageSanitizer struct {
	policy *bluemonday.Policy
	maxLen int
}

// NewMessageSanitizer はMessageSanitizerの新しいインスタンスを生成する。
// maxLenが0以下の場合はDefaultMaxMessageLengthを使用する。
func NewMessageSanitizer(maxLen int) *messageSanitizer {
	if maxLen <= 0 {
		maxLen = DefaultMaxMessageLength
	}
	return &messageSanitizer{
		policy: bluemonday.StrictPolicy(),
		maxLen: maxLen,
	}
}

// Sanitize はMessageSanitizerインターフェースを実装する。
func (s *messageSanitizer) Sanitize(message string) string {
	if message == "" {
		return ""
	}

	// StrictPolicyは出力をHTMLエスケープする。返す先はJSONなのでエンティティを元の文字に戻す
	cleaned := html.UnescapeString(s.policy.Sanitize(message))

	// 改行やタブを含む制御文字は空白に置き換え、連続する空白をまとめる
	cleaned = strings.Map(func(r rune) rune {
		if unicode.IsControl(r) {
			return ' '
		}
		return r
	}, cleaned)
	cleaned = strings.Join(strings.Fields(cleaned), " ")

	if utf8.RuneCountInString(cleaned) > s.maxLen {
		runes := []rune(cleaned)
		cleaned = string(runes[:s.maxLen-1]) + "…"
	}
	return cleaned
}
