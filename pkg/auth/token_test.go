package auth

import (
	"errors"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestTokenGenerator_Generate(t *testing.T) {
	tg := NewInvitationTokenGenerator()

	token, tokenHash, err := tg.Generate()
	require.NoError(t, err)

	assert.True(t, strings.HasPrefix(token, InvitationTokenPrefix))
	assert.Len(t, tokenHash, 64)
	assert.Equal(t, tg.Hash(token), tokenHash)
	assert.NotContains(t, tokenHash, token)
	assert.NoError(t, tg.ValidateFormat(token))
}

func TestTokenGenerator_Uniqueness(t *testing.T) {
	tg := NewInvitationTokenGenerator()
	seen := make(map[string]struct{})

	for i := 0; i < 200; i++ {
		token, _, err := tg.Generate()
		require.NoError(t, err)
		_, dup := seen[token]
		require.False(t, dup, "duplicate token generated")
		seen[token] = struct{}{}
	}
}

func TestTokenGenerator_ValidateFormat(t *testing.T) {
	tg := NewInvitationTokenGenerator()
	valid, _, err := tg.Generate()
	require.NoError(t, err)

	tests := []struct {
		name  string
		token string
		ok    bool
	}{
		{"valid", valid, true},
		{"empty", "", false},
		{"wrong prefix", "tgs_" + strings.TrimPrefix(valid, InvitationTokenPrefix), false},
		{"prefix only", InvitationTokenPrefix, false},
		{"bad encoding", InvitationTokenPrefix + "!!!not-base64!!!", false},
		{"too short", InvitationTokenPrefix + "abcd", false},
		{"truncated", valid[:len(valid)-2], false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := tg.ValidateFormat(tt.token)
			if tt.ok {
				assert.NoError(t, err)
				return
			}
			assert.True(t, errors.Is(err, ErrInvalidToken), "got %v", err)
		})
	}
}

func TestTokenGenerator_Display(t *testing.T) {
	tg := NewInvitationTokenGenerator()
	token, _, err := tg.Generate()
	require.NoError(t, err)

	display := tg.Display(token)
	assert.True(t, strings.HasPrefix(display, InvitationTokenPrefix))
	assert.True(t, strings.HasSuffix(display, "..."))
	assert.Less(t, len(display), len(token))
	assert.Equal(t, "tgi_...", tg.Display("tgi_ab"))
}
