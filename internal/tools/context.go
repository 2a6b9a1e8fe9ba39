// ABOUTME: Context carrier for the resolved turn time.
// ABOUTME: Lets time-aware tools answer in the user's clock instead of the server's.

package tools

import (
	"context"
	"time"
)

// turnClockKey is the key type for storing the resolved turn time in context.
type turnClockKey struct{}

// WithTurnClock attaches the resolved turn time (already shifted into the
// user's timezone) to the context for time-aware tools.
func WithTurnClock(ctx context.Context, t time.Time) context.Context {
	return context.WithValue(ctx, turnClockKey{}, t)
}

// TurnClockFromContext retrieves the resolved turn time, reporting whether
// one was attached.
func TurnClockFromContext(ctx context.Context) (time.Time, bool) {
	t, ok := ctx.Value(turnClockKey{}).(time.Time)
	return t, ok
}
