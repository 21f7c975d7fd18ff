// Package auth resolves the bearer credential used by the chat client.
//
// The client never verifies signatures; it only possesses a token issued at
// login. Resolve turns a Provider into a Credential and fails locally, before
// any network call:
//
//   - no provider or an empty token: syncerr.ErrMissingCredential
//   - a JWT whose "exp" has passed: syncerr.ErrRejected
//
// Opaque tokens are passed through unchanged. For JWTs the "sub" claim is
// exposed as Credential.Subject so callers can default the local user id.
//
// Providers:
//
//	auth.Static(token)
//	auth.EnvFile{EnvVar: "CHATSYNC_TOKEN", Path: auth.DefaultTokenPath()}
package auth
