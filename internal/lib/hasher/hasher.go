// Package hasher hashes and verifies user passwords with bcrypt.
package hasher

import (
	"errors"
	"fmt"

	"golang.org/x/crypto/bcrypt"
)

// Cost is the bcrypt work factor.
const Cost = 10

// MaxPasswordLen is the longest input bcrypt accepts.
const MaxPasswordLen = 72

var ErrInvalidInput = errors.New("invalid password input")

// Hash returns a salted bcrypt hash of password.
func Hash(password string) ([]byte, error) {
	const op = "hasher.Hash"

	if password == "" || len(password) > MaxPasswordLen {
		return nil, fmt.Errorf("%s: %w", op, ErrInvalidInput)
	}

	hash, err := bcrypt.GenerateFromPassword([]byte(password), Cost)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}

	return hash, nil
}

// Verify reports whether password matches hash. A malformed hash is reported
// as a mismatch.
func Verify(password string, hash []byte) bool {
	return bcrypt.CompareHashAndPassword(hash, []byte(password)) == nil
}
