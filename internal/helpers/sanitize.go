// Package helpers cleans free text that arrives from chat clients.
package helpers

import (
	"html"
	"strings"
	"sync"
	"unicode/utf8"

	"github.com/microcosm-cc/bluemonday"
)

// MaxMessageRunes bounds a single chat message after cleaning.
const MaxMessageRunes = 2000

var (
	strictPolicyOnce sync.Once
	strictPolicy     *bluemonday.Policy
)

// StrictHTMLPolicy returns a singleton bluemonday policy that strips every HTML
// element and attribute.
func StrictHTMLPolicy() *bluemonday.Policy {
	strictPolicyOnce.Do(func() {
		strictPolicy = bluemonday.StrictPolicy()
	})
	return strictPolicy
}

// SanitizeHTMLStrict removes every HTML tag from s while stripping leading and
// trailing whitespace. Entities are left escaped.
func SanitizeHTMLStrict(s string) string {
	s = strings.TrimSpace(s)
	if s == "" {
		return ""
	}
	return strings.TrimSpace(StrictHTMLPolicy().Sanitize(s))
}

// SanitizeMessage turns a chat message into plain text: markup and script
// bodies are removed, entities are decoded so "don't" survives, runs of
// whitespace collapse to one space and the result is capped at
// MaxMessageRunes.
func SanitizeMessage(s string) string {
	s = html.UnescapeString(SanitizeHTMLStrict(s))
	s = strings.Join(strings.Fields(s), " ")
	if utf8.RuneCountInString(s) > MaxMessageRunes {
		s = string([]rune(s)[:MaxMessageRunes])
	}
	return s
}
