package telegram

import (
	"strings"
	"testing"
)

func TestSplitByBytes(t *testing.T) {
	text := strings.Repeat("ab", 5) + "é"
	parts := splitByBytes(text, 4)

	if strings.Join(parts, "") != text {
		t.Errorf("parts do not reassemble: %q", parts)
	}
	for _, p := range parts {
		if len(p) > 4 {
			t.Errorf("part %q longer than 4 bytes", p)
		}
	}
}

func TestTruncateByBytesKeepsRunesWhole(t *testing.T) {
	got := truncateByBytes("aéé", 4)
	if got != "aé" {
		t.Errorf("truncateByBytes() = %q, want %q", got, "aé")
	}
	if got := truncateByBytes("short", 10); got != "short" {
		t.Errorf("truncateByBytes(short) = %q", got)
	}
}
