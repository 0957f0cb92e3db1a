// Package auth is the identity boundary of tenantgate.
//
// # Overview
//
// The identity provider is external: it authenticates people and hands the
// application a signed token. This package turns that token into a
// Principal for every request and never decides what the principal may do.
//
//	resolver := auth.ChainResolver{
//		auth.NewSessionResolver(cfg.Auth.SessionSecret),
//		oidcResolver,
//	}
//	router.Use(auth.Middleware(resolver, logger))
//
// Handlers read the caller with auth.PrincipalFromContext. A nil principal
// means the request is anonymous.
//
// # Registration
//
// Registrar creates local accounts. Only the first-run bootstrap flow uses
// it; everyday sign-up belongs to the identity provider.
//
// # Tokens
//
// TokenGenerator produces 256-bit bearer tokens (invitation links). The
// plaintext is returned once; only its SHA-256 hash is stored.
//
//	token, hash, err := auth.NewInvitationTokenGenerator().Generate()
//	// token: tgi_<base64url(32 random bytes)>
//
// # Errors
//
// errors.go defines the sentinel errors every other package wraps, and
// ReasonOf, which maps any error onto the machine-readable reason sent to
// clients. Unknown errors become store_unavailable so nothing unexpected is
// treated as success.
package auth
