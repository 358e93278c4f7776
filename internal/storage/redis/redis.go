// Package redis keeps refresh tokens in Redis. Each token is a hash that
// expires together with the token itself, revoked or not, so reuse of a
// rotated token stays detectable for its whole lifetime.
package redis

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/redis/go-redis/v9"

	"authsvc/internal/domain/models"
	"authsvc/internal/storage"
)

const (
	tokenPrefix     = "refresh_token:"
	userTokenPrefix = "refresh_tokens:user:"
)

// KEYS[1] token key, KEYS[2] user set key
// ARGV: token hash, user id, created_at ms, expires_at ms, revoked, now ms
// The user set lives as long as its longest-lived token; its expiry only grows.
var saveScript = redis.NewScript(`
if redis.call('EXISTS', KEYS[1]) == 1 then
	return 0
end
redis.call('HSET', KEYS[1], 'user_id', ARGV[2], 'created_at', ARGV[3], 'expires_at', ARGV[4], 'revoked', ARGV[5])
redis.call('PEXPIREAT', KEYS[1], ARGV[4])
redis.call('SADD', KEYS[2], ARGV[1])
local ttl = redis.call('PTTL', KEYS[2])
if ttl < 0 or tonumber(ARGV[4]) - tonumber(ARGV[6]) > ttl then
	redis.call('PEXPIREAT', KEYS[2], ARGV[4])
end
return 1
`)

// KEYS[1] token key. Returns -1 missing, 0 already revoked, 1 revoked now.
var revokeScript = redis.NewScript(`
if redis.call('EXISTS', KEYS[1]) == 0 then
	return -1
end
if redis.call('HGET', KEYS[1], 'revoked') == '1' then
	return 0
end
redis.call('HSET', KEYS[1], 'revoked', '1')
return 1
`)

type Storage struct {
	client *redis.Client
}

// New connects to Redis at addr and verifies the connection.
func New(ctx context.Context, addr, password string, db int) (*Storage, error) {
	const op = "storage.redis.New"

	client := redis.NewClient(&redis.Options{
		Addr:     addr,
		Password: password,
		DB:       db,
	})

	if err := client.Ping(ctx).Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("%s: ping: %w", op, err)
	}

	return &Storage{client: client}, nil
}

func (s *Storage) Close() error {
	return s.client.Close()
}

func (s *Storage) SaveRefreshToken(ctx context.Context, token models.RefreshToken) error {
	const op = "storage.redis.SaveRefreshToken"

	now := time.Now().UTC()
	createdAt := token.CreatedAt
	if createdAt.IsZero() {
		createdAt = now
	}

	revoked := "0"
	if token.Revoked {
		revoked = "1"
	}

	created, err := saveScript.Run(ctx, s.client,
		[]string{tokenPrefix + token.TokenHash, userTokenPrefix + token.UserID},
		token.TokenHash, token.UserID, createdAt.UnixMilli(), token.ExpiresAt.UnixMilli(), revoked, now.UnixMilli(),
	).Int()
	if err != nil {
		return fmt.Errorf("%s: %w", op, err)
	}
	if created == 0 {
		return fmt.Errorf("%s: %w", op, storage.ErrTokenExists)
	}

	return nil
}

// RefreshToken returns the token row regardless of its revoked flag.
func (s *Storage) RefreshToken(ctx context.Context, tokenHash string) (*models.RefreshToken, error) {
	const op = "storage.redis.RefreshToken"

	fields, err := s.client.HGetAll(ctx, tokenPrefix+tokenHash).Result()
	if err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}
	if len(fields) == 0 {
		return nil, fmt.Errorf("%s: %w", op, storage.ErrTokenNotFound)
	}

	token, err := decodeToken(tokenHash, fields)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}

	return token, nil
}

func (s *Storage) RevokeRefreshToken(ctx context.Context, tokenHash string) error {
	const op = "storage.redis.RevokeRefreshToken"

	res, err := revokeScript.Run(ctx, s.client, []string{tokenPrefix + tokenHash}).Int()
	if err != nil {
		return fmt.Errorf("%s: %w", op, err)
	}

	switch res {
	case 1:
		return nil
	case 0:
		return fmt.Errorf("%s: %w", op, storage.ErrTokenRevoked)
	default:
		return fmt.Errorf("%s: %w", op, storage.ErrTokenNotFound)
	}
}

func (s *Storage) RevokeUserRefreshTokens(ctx context.Context, userID string) (int64, error) {
	const op = "storage.redis.RevokeUserRefreshTokens"

	hashes, err := s.client.SMembers(ctx, userTokenPrefix+userID).Result()
	if err != nil {
		return 0, fmt.Errorf("%s: %w", op, err)
	}

	var n int64
	for _, hash := range hashes {
		res, err := revokeScript.Run(ctx, s.client, []string{tokenPrefix + hash}).Int()
		if err != nil {
			return n, fmt.Errorf("%s: %w", op, err)
		}
		if res == 1 {
			n++
		}
	}

	return n, nil
}

var errCorruptToken = errors.New("corrupt refresh token record")

func decodeToken(tokenHash string, fields map[string]string) (*models.RefreshToken, error) {
	createdAt, err := strconv.ParseInt(fields["created_at"], 10, 64)
	if err != nil {
		return nil, errCorruptToken
	}
	expiresAt, err := strconv.ParseInt(fields["expires_at"], 10, 64)
	if err != nil {
		return nil, errCorruptToken
	}

	return &models.RefreshToken{
		TokenHash: tokenHash,
		UserID:    fields["user_id"],
		CreatedAt: time.UnixMilli(createdAt).UTC(),
		ExpiresAt: time.UnixMilli(expiresAt).UTC(),
		Revoked:   fields["revoked"] == "1",
	}, nil
}
