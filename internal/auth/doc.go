// Package auth provides authentication for larder-gateway.
//
// # Authentication
//
// API clients authenticate with JWT bearer tokens signed with HS256 using
// the configured jwt_secret. The token's "sub" claim is the owner id; every
// conversation, message, tool call, and pending action in the store is
// scoped to it, so the token is the only identity the gateway needs.
//
// When no jwt_secret is configured the gateway runs open and attaches the
// shared AnonymousOwner id to every request. That mode is for single-user
// local development only.
//
// # Request Context
//
// Middleware attaches an AuthContext to the request context:
//
//	mux.Handle("/api/", auth.HTTPAuthMiddleware(verifier)(apiHandler))
//
// Handlers retrieve it with FromContext:
//
//	authCtx := auth.FromContext(r.Context())
//	conv, err := store.GetConversation(ctx, id, authCtx.OwnerID)
//
// # Token Management
//
// Tokens are minted by the bootstrap command:
//
//	verifier := auth.NewJWTVerifier(secret)
//	token, err := verifier.Generate(ownerID, 30*24*time.Hour)
package auth
