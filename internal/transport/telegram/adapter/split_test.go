package adapter

import (
	"strings"
	"testing"
)

func TestSplitTelegramTextShortPassthrough(t *testing.T) {
	t.Parallel()
	got := splitTelegramText("hello", 10)
	if len(got) != 1 || got[0] != "hello" {
		t.Fatalf("got %v", got)
	}
}

func TestSplitTelegramTextPrefersNewlines(t *testing.T) {
	t.Parallel()
	text := strings.Repeat("a", 8) + "\n" + strings.Repeat("b", 8)
	got := splitTelegramText(text, 10)
	if len(got) != 2 {
		t.Fatalf("expected 2 chunks, got %v", got)
	}
	if got[0] != strings.Repeat("a", 8) || got[1] != strings.Repeat("b", 8) {
		t.Fatalf("split did not land on the newline: %v", got)
	}
}

func TestSplitTelegramTextHardSplit(t *testing.T) {
	t.Parallel()
	text := strings.Repeat("x", 25)
	got := splitTelegramText(text, 10)
	if len(got) != 3 {
		t.Fatalf("expected 3 chunks, got %d: %v", len(got), got)
	}
	var total int
	for _, c := range got {
		if len(c) > 10 {
			t.Fatalf("chunk over limit: %q", c)
		}
		total += len(c)
	}
	if total != 25 {
		t.Fatalf("characters lost: %d", total)
	}
}
