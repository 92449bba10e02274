package auth

import (
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestVerifierRoundTrip(t *testing.T) {
	v := NewVerifier("secret", "collab")
	token, err := v.Issue(Identity{UserID: "u1", Email: "ana@example.com", Name: "Ana"}, time.Hour)
	require.NoError(t, err)

	id, err := v.Verify(token)
	require.NoError(t, err)
	require.Equal(t, "u1", id.UserID)
	require.Equal(t, "Ana", id.Name)
}

func TestVerifierRejectsWrongSecret(t *testing.T) {
	token, err := NewVerifier("other", "").Issue(Identity{UserID: "u1"}, time.Hour)
	require.NoError(t, err)

	_, err = NewVerifier("secret", "").Verify(token)
	require.True(t, errors.Is(err, ErrInvalidToken))
}

func TestVerifierExpired(t *testing.T) {
	v := NewVerifier("secret", "")
	v.now = func() time.Time { return time.Now().Add(-2 * time.Hour) }
	token, err := v.Issue(Identity{UserID: "u1"}, time.Hour)
	require.NoError(t, err)

	v.now = time.Now
	_, err = v.Verify(token)
	require.ErrorIs(t, err, ErrExpiredToken)
}

func TestVerifierEmpty(t *testing.T) {
	_, err := NewVerifier("secret", "").Verify("")
	require.ErrorIs(t, err, ErrInvalidToken)
}
