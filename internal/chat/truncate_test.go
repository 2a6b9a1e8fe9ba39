// ABOUTME: Tests for display truncation of tool payloads.
// ABOUTME: Checks rune-safe string capping, list summarization, and input immutability.

package chat

import (
	"strings"
	"testing"
	"unicode/utf8"
)

func TestTruncateStringAtLimit(t *testing.T) {
	exact := strings.Repeat("a", displayTextLimit)
	if got := truncateString(exact); got != exact {
		t.Errorf("string at the limit should pass through unchanged")
	}

	over := strings.Repeat("a", displayTextLimit+1)
	got := truncateString(over)
	if !strings.HasSuffix(got, truncationMarker) {
		t.Errorf("truncated string missing marker: %q", got[len(got)-30:])
	}
	if want := displayTextLimit + len(truncationMarker); len(got) != want {
		t.Errorf("truncated length = %d, want %d", len(got), want)
	}
}

func TestTruncateStringIsRuneSafe(t *testing.T) {
	over := strings.Repeat("é", displayTextLimit+100)
	got := truncateString(over)
	if !utf8.ValidString(got) {
		t.Fatalf("truncation split a multibyte rune")
	}
	kept := strings.TrimSuffix(got, truncationMarker)
	if n := utf8.RuneCountInString(kept); n != displayTextLimit {
		t.Errorf("kept %d runes, want %d", n, displayTextLimit)
	}
}

func TestTruncateValueSummarizesLists(t *testing.T) {
	got := truncateValue([]any{"a", "b", "c"})
	if got != "[3 items]" {
		t.Errorf("list summary = %v, want [3 items]", got)
	}

	got = truncateValue([]any{})
	if got != "[0 items]" {
		t.Errorf("empty list summary = %v, want [0 items]", got)
	}
}

func TestTruncateValueRecursesIntoMaps(t *testing.T) {
	long := strings.Repeat("x", displayTextLimit+50)
	in := map[string]any{
		"notes":   long,
		"recipes": []any{"one", "two"},
		"count":   2,
		"nested":  map[string]any{"deep": long},
	}

	out, ok := truncateValue(in).(map[string]any)
	if !ok {
		t.Fatalf("map should stay a map, got %T", truncateValue(in))
	}

	if s, _ := out["notes"].(string); !strings.HasSuffix(s, truncationMarker) {
		t.Errorf("long string value not truncated")
	}
	if out["recipes"] != "[2 items]" {
		t.Errorf("list value = %v, want [2 items]", out["recipes"])
	}
	if out["count"] != 2 {
		t.Errorf("scalar value changed: %v", out["count"])
	}
	nested, _ := out["nested"].(map[string]any)
	if s, _ := nested["deep"].(string); !strings.HasSuffix(s, truncationMarker) {
		t.Errorf("nested string value not truncated")
	}
}

func TestTruncateMapLeavesInputUntouched(t *testing.T) {
	long := strings.Repeat("x", displayTextLimit+50)
	in := map[string]any{
		"notes": long,
		"tags":  []any{"a", "b"},
	}

	_ = truncateMap(in)

	if s, _ := in["notes"].(string); len(s) != len(long) {
		t.Errorf("input map was modified: notes length %d", len(s))
	}
	if _, ok := in["tags"].([]any); !ok {
		t.Errorf("input map was modified: tags is %T", in["tags"])
	}
}
