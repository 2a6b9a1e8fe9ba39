// ABOUTME: Display-safe truncation for outbound tool payloads.
// ABOUTME: Audit copies are never shortened; only the wire rendering is.

package chat

import "fmt"

// displayTextLimit is the per-string rune budget for outbound tool payloads.
const displayTextLimit = 2000

// truncationMarker is appended to any string shortened for display.
const truncationMarker = "... [truncated]"

// truncateString caps a string at displayTextLimit runes, appending the
// marker when shortened.
func truncateString(s string) string {
	runes := []rune(s)
	if len(runes) <= displayTextLimit {
		return s
	}
	return string(runes[:displayTextLimit]) + truncationMarker
}

// truncateValue applies display truncation recursively: long strings are
// shortened, lists collapse to an item-count summary, nested maps are
// walked. Scalars pass through.
func truncateValue(v any) any {
	switch val := v.(type) {
	case string:
		return truncateString(val)
	case []any:
		return fmt.Sprintf("[%d items]", len(val))
	case map[string]any:
		return truncateMap(val)
	default:
		return v
	}
}

// truncateMap returns a display-safe copy. The input map is never modified;
// the durable audit row keeps the original.
func truncateMap(m map[string]any) map[string]any {
	if m == nil {
		return nil
	}
	out := make(map[string]any, len(m))
	for k, v := range m {
		out[k] = truncateValue(v)
	}
	return out
}
