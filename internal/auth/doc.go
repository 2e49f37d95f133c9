// Package auth holds the two trust decisions vpsbot makes.
//
// # Role Gate
//
// Check compares the roles a requester holds with the configured authorized
// roles. The request is allowed only when the two sets intersect; an empty
// authorized set denies everyone.
//
//	d := auth.Check(requesterRoles, cfg.Authorization.AuthorizedRoles)
//	if !d.Allowed {
//		return d.Err() // wraps ErrAuthorizationDenied
//	}
//
// # Webhook Tokens
//
// WebhookSigner issues short-lived HS256 JWTs for audit webhook deliveries. Each
// token names the record it was issued for and carries a digest of the request
// body, so a receiver holding the shared secret can verify both origin and
// content:
//
//	recordID, digest, err := signer.Verify(bearer)
package auth
