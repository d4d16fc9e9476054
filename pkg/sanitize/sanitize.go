package sanitize

import (
	"strings"
	"unicode"
	"unicode/utf8"
)

// MessageBody normalizes a chat message body before it is fanned out:
// surrounding whitespace is trimmed, control characters other than newline
// and tab are stripped, and invalid UTF-8 sequences are dropped. The text
// itself is left intact; rendering concerns belong to the clients.
func MessageBody(body string) string {
	if !utf8.ValidString(body) {
		body = strings.ToValidUTF8(body, "")
	}

	var b strings.Builder
	b.Grow(len(body))
	for _, r := range body {
		if unicode.IsControl(r) && r != '\n' && r != '\t' {
			continue
		}
		b.WriteRune(r)
	}
	return strings.TrimSpace(b.String())
}

// DisplayName normalizes an identity display name for embedding in relayed
// payloads: control characters and line breaks are removed outright.
func DisplayName(name string) string {
	if !utf8.ValidString(name) {
		name = strings.ToValidUTF8(name, "")
	}

	var b strings.Builder
	b.Grow(len(name))
	for _, r := range name {
		if unicode.IsControl(r) {
			continue
		}
		b.WriteRune(r)
	}
	return strings.TrimSpace(b.String())
}
