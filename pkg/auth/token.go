package auth

import (
	"crypto/rand"
	"crypto/sha256"
	"encoding/base64"
	"encoding/hex"
	"fmt"
	"strings"
)

const (
	// InvitationTokenPrefix identifies invitation tokens
	InvitationTokenPrefix = "tgi_"
	// TokenLength is the number of random bytes (32 bytes = 256 bits)
	TokenLength = 32
)

// TokenGenerator generates and validates opaque bearer tokens.
// Only the SHA-256 hash of a token is ever persisted.
type TokenGenerator struct {
	prefix string
}

// NewTokenGenerator creates a token generator for the given prefix
func NewTokenGenerator(prefix string) *TokenGenerator {
	return &TokenGenerator{prefix: prefix}
}

// NewInvitationTokenGenerator creates the generator used for invitations
func NewInvitationTokenGenerator() *TokenGenerator {
	return NewTokenGenerator(InvitationTokenPrefix)
}

// Generate creates a new token.
// Format: <prefix><base64url(32 random bytes)>
func (tg *TokenGenerator) Generate() (token string, tokenHash string, err error) {
	randomBytes := make([]byte, TokenLength)
	if _, err := rand.Read(randomBytes); err != nil {
		return "", "", fmt.Errorf("failed to generate random bytes: %w", err)
	}

	token = tg.prefix + base64.RawURLEncoding.EncodeToString(randomBytes)
	return token, tg.Hash(token), nil
}

// Hash computes the SHA-256 hex digest used for lookup
func (tg *TokenGenerator) Hash(token string) string {
	hash := sha256.Sum256([]byte(token))
	return hex.EncodeToString(hash[:])
}

// ValidateFormat checks prefix, encoding and length without touching storage
func (tg *TokenGenerator) ValidateFormat(token string) error {
	if !strings.HasPrefix(token, tg.prefix) {
		return fmt.Errorf("%w: token must start with %q", ErrInvalidToken, tg.prefix)
	}

	encodedPart := strings.TrimPrefix(token, tg.prefix)
	raw, err := base64.RawURLEncoding.DecodeString(encodedPart)
	if err != nil {
		return fmt.Errorf("%w: invalid token encoding", ErrInvalidToken)
	}
	if len(raw) != TokenLength {
		return fmt.Errorf("%w: token has wrong length", ErrInvalidToken)
	}

	return nil
}

// Display returns a short, non-secret form of the token for logs
func (tg *TokenGenerator) Display(token string) string {
	encodedPart := strings.TrimPrefix(token, tg.prefix)
	if len(encodedPart) >= 8 {
		return tg.prefix + encodedPart[:8] + "..."
	}
	return tg.prefix + "..."
}
