// ABOUTME: Thread-safe guard enforcing one active turn per conversation.
// ABOUTME: TTL sweep frees entries left behind by crashed or abandoned turns.

package turnguard

import (
	"log/slog"
	"sync"
	"time"
)

// Guard tracks which conversations currently have a streaming turn in
// flight. A conversation can hold at most one turn at a time; a second
// stream request while the first is running gets rejected.
type Guard struct {
	mu     sync.Mutex
	active map[string]time.Time
	ttl    time.Duration
	logger *slog.Logger
	done   chan struct{}
	closed bool
}

// New creates a guard with the given TTL. A background goroutine frees
// entries older than the TTL, so a turn that died without releasing its
// slot cannot wedge the conversation forever.
func New(ttl time.Duration) *Guard {
	g := &Guard{
		active: make(map[string]time.Time),
		ttl:    ttl,
		logger: slog.Default().With("component", "turnguard"),
		done:   make(chan struct{}),
	}
	go g.sweep()
	return g
}

// TryAcquire claims the conversation's turn slot. Returns false if another
// turn is already running for the conversation.
func (g *Guard) TryAcquire(conversationID string) bool {
	g.mu.Lock()
	defer g.mu.Unlock()

	if at, ok := g.active[conversationID]; ok && time.Since(at) < g.ttl {
		return false
	}
	g.active[conversationID] = time.Now()
	return true
}

// Release frees the conversation's turn slot. Safe to call when the slot
// was never held or has already been swept.
func (g *Guard) Release(conversationID string) {
	g.mu.Lock()
	defer g.mu.Unlock()
	delete(g.active, conversationID)
}

// Active reports whether the conversation currently holds a live turn slot.
func (g *Guard) Active(conversationID string) bool {
	g.mu.Lock()
	defer g.mu.Unlock()

	at, ok := g.active[conversationID]
	return ok && time.Since(at) < g.ttl
}

// sweep runs in a background goroutine, periodically removing expired entries.
func (g *Guard) sweep() {
	ticker := time.NewTicker(time.Minute)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			g.runSweep()
		case <-g.done:
			return
		}
	}
}

// runSweep frees all turn slots older than the TTL.
func (g *Guard) runSweep() {
	g.mu.Lock()
	defer g.mu.Unlock()

	now := time.Now()
	for id, at := range g.active {
		if now.Sub(at) > g.ttl {
			delete(g.active, id)
			g.logger.Warn("freed abandoned turn slot", "conversation_id", id, "held_for", now.Sub(at))
		}
	}
}

// Close stops the background sweep goroutine. It is safe to call multiple times.
func (g *Guard) Close() {
	g.mu.Lock()
	defer g.mu.Unlock()

	if !g.closed {
		close(g.done)
		g.closed = true
	}
}
