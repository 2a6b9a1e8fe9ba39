// ABOUTME: Trusted time resolution and history assembly for one assistant turn.
// ABOUTME: Client clocks are advisory; skew past the tolerance falls back to server time.

package chat

import (
	"context"
	"time"

	"github.com/larderhq/larder-gateway/internal/assistant"
	"github.com/larderhq/larder-gateway/internal/store"
)

// MaxSkew is how far a client-supplied clock may drift from server time
// before it is discarded. It covers every real timezone offset plus a full
// day of clock error; anything past it is a broken clock.
const MaxSkew = 36 * time.Hour

// HistoryLimit caps how many recent messages are replayed to the provider.
const HistoryLimit = 50

// naiveDatetimeLayout accepts client datetimes without a zone suffix; they
// are interpreted in the resolved timezone.
const naiveDatetimeLayout = "2006-01-02T15:04:05"

// ClientContext is the advisory clock a client may attach to a stream
// request.
type ClientContext struct {
	CurrentDatetime string `json:"current_datetime"`
	UserTimezone    string `json:"user_timezone"`
}

// ResolveClientTime turns the advisory client clock into the trusted turn
// time. The timezone falls back to UTC when missing or unknown. The datetime
// falls back to server time when missing, unparsable, or more than MaxSkew
// from the server clock. The returned time is expressed in the resolved
// location.
func ResolveClientTime(clientDatetime, userTimezone string, serverNow time.Time) (time.Time, *time.Location) {
	loc := time.UTC
	if userTimezone != "" {
		if parsed, err := time.LoadLocation(userTimezone); err == nil {
			loc = parsed
		}
	}

	fallback := serverNow.In(loc)
	if clientDatetime == "" {
		return fallback, loc
	}

	clientTime, err := time.Parse(time.RFC3339, clientDatetime)
	if err != nil {
		clientTime, err = time.ParseInLocation(naiveDatetimeLayout, clientDatetime, loc)
	}
	if err != nil {
		return fallback, loc
	}

	skew := clientTime.Sub(serverNow)
	if skew < 0 {
		skew = -skew
	}
	if skew > MaxSkew {
		return fallback, loc
	}
	return clientTime.In(loc), loc
}

// BuildHistory loads up to HistoryLimit recent messages and converts them to
// provider turns, oldest first. Messages with no extractable text, and roles
// other than user/assistant, are skipped rather than replayed.
func BuildHistory(ctx context.Context, s store.Store, conversationID, ownerID string) ([]assistant.Turn, error) {
	msgs, err := s.RecentMessages(ctx, conversationID, ownerID, HistoryLimit)
	if err != nil {
		return nil, err
	}

	turns := make([]assistant.Turn, 0, len(msgs))
	for _, msg := range msgs {
		if msg.Role != store.RoleUser && msg.Role != store.RoleAssistant {
			continue
		}
		text := msg.TextContent()
		if text == "" {
			continue
		}
		turns = append(turns, assistant.Turn{Role: string(msg.Role), Text: text})
	}
	return turns, nil
}
