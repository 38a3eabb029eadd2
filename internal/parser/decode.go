package parser

import (
	"fmt"
	"net/url"
	"regexp"
	"strings"
	"unicode/utf8"
)

var hexEscapeRegex = regexp.MustCompile(`\\x([0-9A-Fa-f]{2})`)

// DecodeEscapes turns the escaped payload segment of a log line into plain text.
// Literal '%' characters are protected first, then every \xHH escape becomes
// %HH and the whole string is percent-decoded. Multi-byte sequences must decode
// to valid UTF-8.
func DecodeEscapes(s string) (string, error) {
	escaped := strings.ReplaceAll(s, "%", "%25")
	escaped = hexEscapeRegex.ReplaceAllStringFunc(escaped, func(match string) string {
		return "%" + strings.ToUpper(match[2:])
	})

	decoded, err := url.PathUnescape(escaped)
	if err != nil {
		return "", fmt.Errorf("failed to percent-decode payload: %w", err)
	}
	if !utf8.ValidString(decoded) {
		return "", fmt.Errorf("payload decodes to invalid UTF-8")
	}
	return decoded, nil
}
