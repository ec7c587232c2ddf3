package auth

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/eldtechnologies/greenhub/internal/models"
)

func TestJWTVerifier_IssueAndVerify(t *testing.T) {
	v := NewJWTVerifier("test-secret", "greenhub")

	token, err := v.Issue(42, models.RoleAdmin, "Ada", time.Minute)
	require.NoError(t, err)

	p, err := v.Verify(token)
	require.NoError(t, err)
	assert.Equal(t, int64(42), p.ID)
	assert.Equal(t, models.RoleAdmin, p.Role)
	assert.True(t, p.IsAdmin())
}

func TestJWTVerifier_DefaultsRole(t *testing.T) {
	v := NewJWTVerifier("test-secret", "")

	token, err := v.Issue(7, "", "", time.Minute)
	require.NoError(t, err)

	p, err := v.Verify(token)
	require.NoError(t, err)
	assert.Equal(t, models.RoleUser, p.Role)
	assert.False(t, p.IsAdmin())
}

func TestJWTVerifier_Expired(t *testing.T) {
	v := NewJWTVerifier("test-secret", "")

	token, err := v.Issue(1, models.RoleUser, "", -time.Minute)
	require.NoError(t, err)

	_, err = v.Verify(token)
	assert.ErrorIs(t, err, ErrExpiredToken)
}

func TestJWTVerifier_Rejects(t *testing.T) {
	v := NewJWTVerifier("test-secret", "greenhub")

	otherSecret, err := NewJWTVerifier("other-secret", "greenhub").Issue(1, models.RoleUser, "", time.Minute)
	require.NoError(t, err)
	otherIssuer, err := NewJWTVerifier("test-secret", "someone-else").Issue(1, models.RoleUser, "", time.Minute)
	require.NoError(t, err)
	badSubject, err := v.Issue(0, models.RoleUser, "", time.Minute)
	require.NoError(t, err)

	tests := []struct {
		name  string
		token string
	}{
		{"empty token", ""},
		{"random string", "not.a.valid.token"},
		{"malformed jwt", "eyJhbGciOiJIUzI1NiIsInR5cCI6IkpXVCJ9.invalid"},
		{"wrong secret", otherSecret},
		{"wrong issuer", otherIssuer},
		{"non-positive subject", badSubject},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := v.Verify(tt.token)
			assert.ErrorIs(t, err, ErrInvalidToken)
		})
	}
}
