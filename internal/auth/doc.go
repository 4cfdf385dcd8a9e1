// Package auth authenticates chat users for relay-gateway.
//
// # Tokens
//
// Users present an HS256 JWT whose "sub" claim is their user ID. The token is
// read from the accessToken cookie first and the Authorization: Bearer header
// second. Tokens are minted by the operator CLI:
//
//	relay-gateway token --user <id> --ttl 8h
//
// Validating passwords is not this package's job.
//
// # Middleware
//
// Authenticator.Middleware rejects a request when:
//
//   - no token is present (401)
//   - the token was revoked at logout (401)
//   - the token fails verification or has expired (401)
//   - the user no longer exists (404)
//   - the account is locked (403)
//
// Otherwise the AuthContext is attached and handlers call FromContext.
//
// # Revocation
//
// Blacklist stores logged-out tokens in the cache backend under
// blacklist:<token> until the token's own exp, or for one hour when the token
// carries no exp claim.
package auth
