// ABOUTME: Message text cleanup before persistence
// ABOUTME: Trims, strips script tags and inline handlers, and enforces a rune limit

package conversation

import (
	"errors"
	"regexp"
	"strings"
	"unicode/utf8"
)

// DefaultMaxTextLength is the longest accepted message text, in runes.
const DefaultMaxTextLength = 8000

var (
	errTextTooLong = errors.New("message exceeds maximum length")

	scriptTagRegex = regexp.MustCompile(`(?is)<script[^>]*>.*?</script\s*>`)
	htmlTagRegex   = regexp.MustCompile(`<[a-zA-Z][^<>]*>`)
	// Handler attributes only count inside a tag; prose like "one = 2" is left alone.
	onEventRegex = regexp.MustCompile(`(?i)[\s/]+on\w+\s*=\s*("[^"]*"|'[^']*'|[^\s>]*)`)
)

// sanitizeText returns the cleaned text. An empty result is allowed; the
// caller decides whether the message still has content.
func sanitizeText(text string, maxLen int) (string, error) {
	text = strings.TrimSpace(text)
	if text == "" {
		return "", nil
	}
	if maxLen > 0 && utf8.RuneCountInString(text) > maxLen {
		return "", errTextTooLong
	}

	text = scriptTagRegex.ReplaceAllString(text, "")
	text = htmlTagRegex.ReplaceAllStringFunc(text, func(tag string) string {
		return onEventRegex.ReplaceAllString(tag, "")
	})
	return strings.TrimSpace(text), nil
}
