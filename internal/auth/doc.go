// Package auth issues and verifies the access tokens that guard the
// gateway's REST and WebSocket surfaces.
//
// Tokens are HS256 JWTs signed with the configured shared secret. The
// subject names the caller; an optional issuer is checked when configured.
// Each token carries a random ID so individual tokens can be told apart in
// logs.
package auth
