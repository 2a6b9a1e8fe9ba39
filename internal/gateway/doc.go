// ABOUTME: Package documentation for the gateway HTTP surface.
// ABOUTME: Explains routes, the push stream, auth modes, and server lifecycle.

// Package gateway wires the larder-gateway server together and fronts it
// with an HTTP API.
//
// # Routes
//
//	GET    /api/conversations                     list conversations (limit/offset)
//	DELETE /api/conversations/{id}                delete a conversation and its children
//	GET    /api/conversations/{id}/messages       chronological messages (limit/before_id)
//	POST   /api/conversations/{id}/stream         run a turn, streaming NDJSON events
//	GET    /api/conversations/{id}/actions        list pending actions (status filter)
//	POST   /api/actions/{id}/accept               confirm and execute a pending action
//	POST   /api/actions/{id}/cancel               decline a pending action
//	GET    /health, /health/ready                 liveness and store readiness
//	GET    /docs, /docs/{topic}                   embedded documentation
//
// # Push stream
//
// The stream endpoint answers with application/x-ndjson: one protocol.Event
// envelope per line, flushed per event, in production order. A conversation
// with a turn already running answers 409 before any bytes of the stream.
// Once streaming starts, failures travel in-band as error events and every
// stream ends with a done frame.
//
// # Auth
//
// With auth.jwt_secret configured, /api routes require a bearer token and
// every store operation is scoped to the token's owner. Without it, all
// requests share one anonymous owner; health and docs are always open.
//
// # Lifecycle
//
// The server listens on TCP by default, or joins a tailnet via tsnet when
// tailscale.enabled is set (plain :80, cert-file HTTPS on :443, or public
// Funnel). Shutdown drains HTTP with a fresh 5 second context, then closes
// the tailscale node, the turn guard, and the store.
package gateway
