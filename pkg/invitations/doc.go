// Package invitations issues and redeems organization invitations.
//
// An invitation token has the form tgi_<base64url(32 random bytes)>. Only
// its SHA-256 hash is stored, so a leaked database does not leak usable
// tokens. The plaintext token is returned once, from Issue.
//
// Redemption is a single store transaction that locks the invitation row,
// re-checks it, admits the principal and marks the invitation accepted.
// Of several concurrent redemptions of one token exactly one succeeds; the
// others fail with auth.ErrAlreadyUsed.
//
// # Usage Example
//
//	svc := invitations.NewService(store, resolver, invitations.DefaultConfig(), logger)
//
//	issued, err := svc.IssueFor(ctx, ownerID, "acme", "new@example.com", orgs.RoleMember)
//	// deliver issued.Token out of band
//
//	membership, err := svc.Redeem(ctx, issued.Token, principal)
package invitations
