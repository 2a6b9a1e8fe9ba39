// Package chat orchestrates assistant turns over the push stream.
//
// # Turn Lifecycle
//
// Service.StreamTurn runs one turn end to end: acquire the per-conversation
// turn guard, persist the user message and an assistant placeholder, build
// the provider's history and time context, run the provider, translate its
// events onto the push stream, and finalize the placeholder into the
// completed assistant message. On failure the placeholder is marked failed
// (never deleted) and the client receives a canned error event. Every
// stream, successful or not, ends with a done frame.
//
// # Translation
//
// The Translator converts assistant events into protocol events plus durable
// records. Tool results are audited in full before the client sees anything;
// only the outbound copy is display-truncated. Tool results may embed a card
// or a proposed action, which become blocks on the final message (and, for
// proposals, a pending action row awaiting confirmation).
//
// # Trusted Time
//
// Clients may send their local clock so the assistant reasons in the user's
// timezone, but the server verifies it: unparsable values and clocks more
// than 36 hours from server time are replaced by server time.
package chat
