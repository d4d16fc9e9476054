package sanitize

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestMessageBody(t *testing.T) {
	assert.Equal(t, "hello", MessageBody("  hello  "))
	assert.Equal(t, "line one\nline two", MessageBody("line one\nline two"))
	assert.Equal(t, "ab", MessageBody("a\x00b\x1b"))
	assert.Equal(t, "", MessageBody("   \x00  "))
	assert.Equal(t, "café ☕", MessageBody("café ☕"))
}

func TestMessageBodyDropsInvalidUTF8(t *testing.T) {
	assert.Equal(t, "ok", MessageBody("ok\xff\xfe"))
}

func TestDisplayName(t *testing.T) {
	assert.Equal(t, "Coach Anna", DisplayName(" Coach Anna "))
	assert.Equal(t, "CoachAnna", DisplayName("Coach\nAnna"))
}
