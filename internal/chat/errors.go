// ABOUTME: Maps upstream provider failures onto canned user-facing messages.
// ABOUTME: Raw provider faults never reach the push stream.

package chat

import "strings"

// Canned user-facing failure messages. Matching is case-insensitive over the
// upstream error text; the first match wins.
const (
	msgRateLimited = "The assistant is rate limited right now. Please try again in a moment."
	msgOverloaded  = "The assistant is temporarily overloaded. Please try again in a moment."
	msgTimeout     = "The assistant took too long to respond. Please try again."
	msgBadResponse = "The assistant returned an unexpected response. Please try again."
	msgNetwork     = "The assistant could not be reached. Please check the connection and try again."
	msgGeneric     = "Something went wrong while generating a response. Please try again."
)

// classifyTurnError maps a turn failure to a short machine code plus the
// canned message sent to clients.
func classifyTurnError(err error) (code, message string) {
	text := strings.ToLower(err.Error())
	switch {
	case strings.Contains(text, "rate limit") || strings.Contains(text, "rate_limit") || strings.Contains(text, "429"):
		return "rate_limited", msgRateLimited
	case strings.Contains(text, "overloaded") || strings.Contains(text, "529"):
		return "overloaded", msgOverloaded
	case strings.Contains(text, "timeout") || strings.Contains(text, "timed out") || strings.Contains(text, "deadline exceeded"):
		return "timeout", msgTimeout
	case strings.Contains(text, "unexpected response") || strings.Contains(text, "invalid response") || strings.Contains(text, "validation"):
		return "bad_response", msgBadResponse
	case strings.Contains(text, "connection refused") || strings.Contains(text, "no such host") || strings.Contains(text, "network") || strings.Contains(text, "broken pipe"):
		return "network", msgNetwork
	default:
		return "turn_failed", msgGeneric
	}
}
