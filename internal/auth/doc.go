// Package auth resolves the signed-in user's session for backend calls.
//
// # Sessions
//
// A Session is an access token plus the claims the inbox needs from it: the
// user id (the JWT "sub" claim) and the expiry. Sends and loads are rejected
// locally when no valid session is available.
//
// # Providers
//
//   - StaticProvider: a fixed token, typically from configuration
//   - FileProvider: an environment variable first, then a token file; both
//     are re-read on every call so a refreshed token is picked up
//
// When a JWT secret is configured the token signature is verified (HS256);
// otherwise the claims are read without verification, which is what a client
// that does not hold the signing key has to do. The backend enforces access
// on its side either way.
package auth
