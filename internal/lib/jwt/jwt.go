package jwt

import (
	"errors"
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
)

// ErrInvalidToken is the only error Verify returns, whether the token is
// expired, malformed or badly signed.
var ErrInvalidToken = errors.New("invalid token")

// Claims is the signed payload of both access and refresh tokens.
type Claims struct {
	Email string `json:"email"`
	jwt.RegisteredClaims
}

// Issue signs a token for subject valid for ttl from now. The returned expiry
// is the exact value embedded in the token, so callers persisting it never
// drift from what was signed.
func Issue(
	subject string,
	email string,
	secret string,
	ttl time.Duration,
	now time.Time,
) (token string, expiresAt time.Time, err error) {
	const op = "jwt.Issue"

	if secret == "" {
		return "", time.Time{}, fmt.Errorf("%s: empty secret", op)
	}

	// NumericDate has second precision.
	issuedAt := now.Truncate(time.Second)
	expiresAt = issuedAt.Add(ttl)

	claims := Claims{
		Email: email,
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   subject,
			ID:        uuid.NewString(),
			IssuedAt:  jwt.NewNumericDate(issuedAt),
			ExpiresAt: jwt.NewNumericDate(expiresAt),
		},
	}

	token, err = jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString([]byte(secret))
	if err != nil {
		return "", time.Time{}, fmt.Errorf("%s: %w", op, err)
	}

	return token, expiresAt, nil
}

// Verify checks the signature and expiry of tokenString against secret at now.
func Verify(tokenString string, secret string, now time.Time) (*Claims, error) {
	if tokenString == "" || secret == "" {
		return nil, ErrInvalidToken
	}

	claims := &Claims{}
	token, err := jwt.ParseWithClaims(tokenString, claims, func(t *jwt.Token) (interface{}, error) {
		if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method: %v", t.Header["alg"])
		}
		return []byte(secret), nil
	},
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithExpirationRequired(),
		jwt.WithTimeFunc(func() time.Time { return now }),
	)
	if err != nil || !token.Valid {
		return nil, ErrInvalidToken
	}

	if claims.Subject == "" {
		return nil, ErrInvalidToken
	}

	return claims, nil
}
