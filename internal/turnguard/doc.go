// Package turnguard enforces the one-active-turn-per-conversation rule
// using a time-bounded in-memory set, so concurrent stream requests for
// the same conversation are rejected instead of interleaving.
package turnguard
