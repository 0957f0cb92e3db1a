package auth

import (
	"errors"
	"net/http"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

// DefaultSessionCookie is the cookie carrying the session token
const DefaultSessionCookie = "tg_session"

// SessionClaims are the claims of a session token minted by the identity
// provider.
type SessionClaims struct {
	Email         string           `json:"email"`
	EmailVerified bool             `json:"email_verified"`
	AuthTime      *jwt.NumericDate `json:"auth_time,omitempty"`
	jwt.RegisteredClaims
}

// SessionResolver validates HS256 session tokens taken from the bearer
// header or the session cookie.
type SessionResolver struct {
	secret     []byte
	cookieName string
	issuer     string
	now        func() time.Time
}

// SessionOption configures a SessionResolver
type SessionOption func(*SessionResolver)

// WithSessionCookie overrides the cookie name
func WithSessionCookie(name string) SessionOption {
	return func(s *SessionResolver) { s.cookieName = name }
}

// WithSessionIssuer requires the iss claim to match
func WithSessionIssuer(issuer string) SessionOption {
	return func(s *SessionResolver) { s.issuer = issuer }
}

// NewSessionResolver creates a resolver for tokens signed with secret
func NewSessionResolver(secret string, opts ...SessionOption) *SessionResolver {
	s := &SessionResolver{
		secret:     []byte(secret),
		cookieName: DefaultSessionCookie,
		now:        time.Now,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Resolve implements Resolver. Missing, malformed or expired tokens yield an
// anonymous request rather than an error.
func (s *SessionResolver) Resolve(r *http.Request) (*Principal, error) {
	raw := bearerToken(r)
	if raw == "" {
		if c, err := r.Cookie(s.cookieName); err == nil {
			raw = c.Value
		}
	}
	if raw == "" {
		return nil, nil
	}

	claims, err := s.Parse(raw)
	if err != nil {
		return nil, nil
	}

	p := &Principal{
		ID:            claims.Subject,
		Email:         claims.Email,
		EmailVerified: claims.EmailVerified,
	}
	if claims.IssuedAt != nil {
		p.CreatedAt = claims.IssuedAt.Time
	}
	if claims.AuthTime != nil {
		t := claims.AuthTime.Time
		p.LastSignInAt = &t
	}
	return p, nil
}

// Parse validates a session token and returns its claims
func (s *SessionResolver) Parse(raw string) (*SessionClaims, error) {
	parserOpts := []jwt.ParserOption{
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithTimeFunc(s.now),
		jwt.WithExpirationRequired(),
	}
	if s.issuer != "" {
		parserOpts = append(parserOpts, jwt.WithIssuer(s.issuer))
	}

	token, err := jwt.ParseWithClaims(raw, &SessionClaims{}, func(t *jwt.Token) (interface{}, error) {
		return s.secret, nil
	}, parserOpts...)
	if err != nil {
		return nil, ErrInvalidToken
	}

	claims, ok := token.Claims.(*SessionClaims)
	if !ok || !token.Valid {
		return nil, ErrInvalidToken
	}
	if claims.Subject == "" {
		return nil, errors.Join(ErrInvalidToken, errors.New("missing subject"))
	}
	return claims, nil
}
