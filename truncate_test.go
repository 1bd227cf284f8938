package spacebot

import (
	"strings"
	"testing"
	"unicode/utf8"
)

func TestTruncateOutputUnderLimit(t *testing.T) {
	in := "short output"
	if got := TruncateOutput(in, 100); got != in {
		t.Errorf("expected unchanged output, got %q", got)
	}
}

func TestTruncateOutputCapsBytes(t *testing.T) {
	in := strings.Repeat("a", 1000)
	got := TruncateOutput(in, 100)
	if !strings.Contains(got, "[output truncated") {
		t.Errorf("expected truncation notice, got %q", got)
	}
	// Total size is the cap plus a constant-size notice.
	if len(got) > 100+200 {
		t.Errorf("truncated output too large: %d bytes", len(got))
	}
}

func TestTruncateOutputRespectsRuneBoundaries(t *testing.T) {
	// Multi-byte runes positioned so a naive byte cut would split one.
	in := strings.Repeat("héllo wörld ", 100)
	for _, max := range []int{10, 11, 12, 13, 50, 99} {
		got := TruncateOutput(in, max)
		if !utf8.ValidString(got) {
			t.Errorf("max=%d: truncated output is not valid UTF-8", max)
		}
	}
}

func TestTruncateOutputNoticeReportsSizes(t *testing.T) {
	in := strings.Repeat("x", 300)
	got := TruncateOutput(in, 200)
	if !strings.Contains(got, "200 of 300 bytes") {
		t.Errorf("expected size report in notice, got %q", got)
	}
}
