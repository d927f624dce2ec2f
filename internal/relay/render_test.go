package relay

import (
	"testing"
	"time"
)

func TestFormatEventTime(t *testing.T) {
	t.Parallel()
	oslo, err := time.LoadLocation("Europe/Oslo")
	if err != nil {
		t.Fatalf("LoadLocation: %v", err)
	}
	// 2023-11-14 22:13:20 UTC is 23:13:20 in Oslo (CET, UTC+1)
	if got := formatEventTime(1700000000, oslo); got != "23:13:20" {
		t.Fatalf("got %q, want %q", got, "23:13:20")
	}
	if got := formatEventTime(1700000000, time.UTC); got != "22:13:20" {
		t.Fatalf("got %q, want %q", got, "22:13:20")
	}
}

func TestRenderTitle(t *testing.T) {
	t.Parallel()
	cases := []struct {
		kind  string
		clock string
		want  string
	}{
		{"in", "23:13:20", "Pépito is back home! (23:13:20)"},
		{"out", "08:01:02", "Pépito is out! (08:01:02)"},
		{"napping", "12:00:00", "Pépito is napping! (12:00:00)"},
	}
	for _, c := range cases {
		if got := renderTitle(c.kind, c.clock); got != c.want {
			t.Fatalf("renderTitle(%q, %q) = %q, want %q", c.kind, c.clock, got, c.want)
		}
	}
}
