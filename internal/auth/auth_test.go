package auth

import (
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/stretchr/testify/require"
)

const testSecret = "test-secret"

func signToken(t *testing.T, claims jwt.MapClaims) string {
	t.Helper()
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	signed, err := token.SignedString([]byte(testSecret))
	require.NoError(t, err)
	return signed
}

func TestParseValidToken(t *testing.T) {
	token := signToken(t, jwt.MapClaims{
		"sub":    "user-1",
		"iss":    "i5e.identity",
		"exp":    time.Now().Add(time.Hour).Unix(),
		"scopes": []string{ScopeActivitiesRead, ScopeActivitiesWrite},
	})

	claims, err := Parse(token, Config{Secret: testSecret, Issuer: "i5e.identity"})
	require.NoError(t, err)
	require.Equal(t, "user-1", claims.Subject)
	require.True(t, claims.HasScope(ScopeActivitiesRead))
	require.True(t, claims.HasScope(ScopeActivitiesWrite))
	require.False(t, claims.HasScope("admin"))
}

func TestParseScopesAsSpaceDelimitedString(t *testing.T) {
	token := signToken(t, jwt.MapClaims{
		"sub":    "user-1",
		"iss":    "i5e.identity",
		"exp":    time.Now().Add(time.Hour).Unix(),
		"scopes": "activities:read activities:write",
	})

	claims, err := Parse(token, Config{Secret: testSecret, Issuer: "i5e.identity"})
	require.NoError(t, err)
	require.True(t, claims.HasScope(ScopeActivitiesRead))
}

func TestParseRejectsWrongIssuer(t *testing.T) {
	token := signToken(t, jwt.MapClaims{
		"sub": "user-1",
		"iss": "someone-else",
		"exp": time.Now().Add(time.Hour).Unix(),
	})

	_, err := Parse(token, Config{Secret: testSecret, Issuer: "i5e.identity"})
	require.ErrorIs(t, err, ErrInvalidToken)
}

func TestParseRejectsExpiredToken(t *testing.T) {
	token := signToken(t, jwt.MapClaims{
		"sub": "user-1",
		"iss": "i5e.identity",
		"exp": time.Now().Add(-time.Hour).Unix(),
	})

	_, err := Parse(token, Config{Secret: testSecret, Issuer: "i5e.identity"})
	require.ErrorIs(t, err, ErrInvalidToken)
}

func TestParseRejectsMissingSubject(t *testing.T) {
	token := signToken(t, jwt.MapClaims{
		"iss": "i5e.identity",
		"exp": time.Now().Add(time.Hour).Unix(),
	})

	_, err := Parse(token, Config{Secret: testSecret, Issuer: "i5e.identity"})
	require.ErrorIs(t, err, ErrInvalidToken)
}

func TestParseMissingToken(t *testing.T) {
	_, err := Parse("  ", Config{Secret: testSecret, Issuer: "i5e.identity"})
	require.ErrorIs(t, err, ErrMissingToken)
}
