// ABOUTME: Tests for the turn failure classifier.
// ABOUTME: Raw provider error text must map to stable codes and canned messages.

package chat

import (
	"errors"
	"testing"
)

func TestClassifyTurnError(t *testing.T) {
	cases := []struct {
		name     string
		err      error
		wantCode string
		wantMsg  string
	}{
		{"rate limit text", errors.New("anthropic: rate limit exceeded"), "rate_limited", msgRateLimited},
		{"429 status", errors.New("POST /v1/messages: 429 Too Many Requests"), "rate_limited", msgRateLimited},
		{"overloaded", errors.New("Overloaded"), "overloaded", msgOverloaded},
		{"deadline", errors.New("context deadline exceeded"), "timeout", msgTimeout},
		{"timed out", errors.New("request timed out after 2m0s"), "timeout", msgTimeout},
		{"validation", errors.New("response validation failed"), "bad_response", msgBadResponse},
		{"connection refused", errors.New("dial tcp 127.0.0.1:443: connection refused"), "network", msgNetwork},
		{"no such host", errors.New("lookup api.example.com: no such host"), "network", msgNetwork},
		{"unclassified", errors.New("something odd happened"), "turn_failed", msgGeneric},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			code, msg := classifyTurnError(tc.err)
			if code != tc.wantCode {
				t.Errorf("code = %q, want %q", code, tc.wantCode)
			}
			if msg != tc.wantMsg {
				t.Errorf("message = %q, want %q", msg, tc.wantMsg)
			}
		})
	}
}

func TestClassifyTurnErrorNeverLeaksUpstreamText(t *testing.T) {
	upstream := errors.New("api key sk-ant-private-000 rejected")
	_, msg := classifyTurnError(upstream)
	if msg != msgGeneric {
		t.Errorf("message = %q, want the generic canned message", msg)
	}
}
