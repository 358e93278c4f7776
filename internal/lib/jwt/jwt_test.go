package jwt

import (
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const (
	accessSecret  = "access-secret"
	refreshSecret = "refresh-secret"
)

func TestIssueVerify(t *testing.T) {
	now := time.Now()

	token, expiresAt, err := Issue("user-1", "alice@example.com", accessSecret, 15*time.Minute, now)
	require.NoError(t, err)
	require.NotEmpty(t, token)
	assert.Equal(t, now.Truncate(time.Second).Add(15*time.Minute), expiresAt)

	claims, err := Verify(token, accessSecret, now)
	require.NoError(t, err)
	assert.Equal(t, "user-1", claims.Subject)
	assert.Equal(t, "alice@example.com", claims.Email)
	assert.NotEmpty(t, claims.ID)
	assert.Equal(t, expiresAt.Unix(), claims.ExpiresAt.Unix())
}

func TestIssue_UniquePerCall(t *testing.T) {
	now := time.Now()

	a, _, err := Issue("user-1", "alice@example.com", refreshSecret, time.Hour, now)
	require.NoError(t, err)
	b, _, err := Issue("user-1", "alice@example.com", refreshSecret, time.Hour, now)
	require.NoError(t, err)

	assert.NotEqual(t, a, b)
}

func TestIssue_EmptySecret(t *testing.T) {
	_, _, err := Issue("user-1", "alice@example.com", "", time.Hour, time.Now())
	require.Error(t, err)
}

func TestVerify_Failures(t *testing.T) {
	now := time.Now()

	valid, _, err := Issue("user-1", "alice@example.com", accessSecret, 15*time.Minute, now)
	require.NoError(t, err)

	noSubject, err := jwt.NewWithClaims(jwt.SigningMethodHS256, Claims{
		RegisteredClaims: jwt.RegisteredClaims{ExpiresAt: jwt.NewNumericDate(now.Add(time.Hour))},
	}).SignedString([]byte(accessSecret))
	require.NoError(t, err)

	noExpiry, err := jwt.NewWithClaims(jwt.SigningMethodHS256, Claims{
		RegisteredClaims: jwt.RegisteredClaims{Subject: "user-1"},
	}).SignedString([]byte(accessSecret))
	require.NoError(t, err)

	otherAlg, err := jwt.NewWithClaims(jwt.SigningMethodHS512, Claims{
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   "user-1",
			ExpiresAt: jwt.NewNumericDate(now.Add(time.Hour)),
		},
	}).SignedString([]byte(accessSecret))
	require.NoError(t, err)

	tests := []struct {
		name   string
		token  string
		secret string
		at     time.Time
	}{
		{name: "empty token", token: "", secret: accessSecret, at: now},
		{name: "garbage", token: "not.a.jwt", secret: accessSecret, at: now},
		{name: "wrong secret", token: valid, secret: refreshSecret, at: now},
		{name: "expired", token: valid, secret: accessSecret, at: now.Add(16 * time.Minute)},
		{name: "tampered", token: valid + "x", secret: accessSecret, at: now},
		{name: "missing subject", token: noSubject, secret: accessSecret, at: now},
		{name: "missing expiry", token: noExpiry, secret: accessSecret, at: now},
		{name: "unexpected algorithm", token: otherAlg, secret: accessSecret, at: now},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			claims, err := Verify(tt.token, tt.secret, tt.at)
			assert.Nil(t, claims)
			assert.Equal(t, ErrInvalidToken, err)
		})
	}
}
