// Package auth implements delegated tenant authentication for scheduler-gateway.
//
// # Credentials
//
// A request carries at most three credential inputs:
//
//   - x-api-key: the account's secret API key (management plane)
//   - nettu-account: an account id (user plane)
//   - Authorization: Bearer <token>, a user token for that account
//
// Resolve classifies them into exactly one Credential. The API key wins
// over everything else; an account id without a token is an account-scoped
// anonymous request; no material at all is anonymous.
//
// # User Tokens
//
// Account holders sign user tokens with their own RSA private key. The
// gateway only ever sees the public half, registered with SetPublicKey.
// Tokens must declare RS256; anything else is rejected before the key is
// used. Claims:
//
//	{
//	  "sub": "user-1",              // or "userId"
//	  "iat": 1700000000,
//	  "exp": 1700003600,            // required, strictly in the future
//	  "schedulerPolicy": {"allow": ["CreateCalendar"]}
//	}
//
// "*" in the allow list grants every operation. There is no prefix matching
// and no deny list; a token with a non-empty "reject" list is refused.
//
// # Revocation
//
// There is no token registry. Replacing or removing an account's key
// invalidates every token signed under the old key, because each
// verification reads the key slot afresh.
//
// # Rejections
//
// Every rejection is an *AuthError with a Reason for logs and metrics.
// Callers see one of three outcomes:
//
//   - unauthenticated: HTTP 401, gRPC Unauthenticated
//   - forbidden: HTTP 403, gRPC PermissionDenied
//   - unavailable: HTTP 503, gRPC Unavailable (key store failure only)
package auth
