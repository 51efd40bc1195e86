package telegram

import (
	"strings"
	"testing"
)

func TestSplitMessageShort(t *testing.T) {
	parts := SplitMessage("💬 X: **hello**\n↪️ Host <https://youtu.be/abc>")
	if len(parts) != 1 {
		t.Fatalf("parts = %d, want 1", len(parts))
	}
}

func TestSplitMessageEmpty(t *testing.T) {
	if parts := SplitMessage("  \n "); parts != nil {
		t.Fatalf("parts = %v, want nil", parts)
	}
}

func TestSplitMessagePrefersNewline(t *testing.T) {
	first := strings.Repeat("a", messageLimit-10)
	second := strings.Repeat("b", 50)
	parts := SplitMessage(first + "\n" + second)
	if len(parts) != 2 {
		t.Fatalf("parts = %d, want 2", len(parts))
	}
	if parts[0] != first || parts[1] != second {
		t.Fatalf("split did not respect newline boundary")
	}
}

func TestSplitMessageHardBreak(t *testing.T) {
	text := strings.Repeat("x", messageLimit*2+5)
	parts := SplitMessage(text)
	if len(parts) != 3 {
		t.Fatalf("parts = %d, want 3", len(parts))
	}
	for _, p := range parts {
		if len([]rune(p)) > messageLimit {
			t.Fatalf("chunk over limit: %d", len([]rune(p)))
		}
	}
}
