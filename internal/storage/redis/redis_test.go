package redis

import (
	"context"
	"strconv"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"authsvc/internal/domain/models"
	"authsvc/internal/storage"
)

func TestDecodeToken(t *testing.T) {
	expires := time.Now().Add(time.Hour).Truncate(time.Millisecond).UTC()

	token, err := decodeToken("h1", map[string]string{
		"user_id":    "u1",
		"created_at": "1700000000000",
		"expires_at": strconv.FormatInt(expires.UnixMilli(), 10),
		"revoked":    "1",
	})
	require.NoError(t, err)
	assert.Equal(t, "h1", token.TokenHash)
	assert.Equal(t, "u1", token.UserID)
	assert.True(t, token.Revoked)
	assert.True(t, expires.Equal(token.ExpiresAt))

	_, err = decodeToken("h1", map[string]string{"user_id": "u1", "created_at": "x"})
	require.ErrorIs(t, err, errCorruptToken)
}

func newTestStorage(t *testing.T) (*Storage, *miniredis.Miniredis) {
	t.Helper()

	mr := miniredis.RunT(t)
	s, err := New(context.Background(), mr.Addr(), "", 0)
	require.NoError(t, err)
	t.Cleanup(func() { _ = s.Close() })

	return s, mr
}

func TestStorage(t *testing.T) {
	ctx := context.Background()
	s, _ := newTestStorage(t)

	userID := uuid.NewString()
	hash := uuid.NewString()
	expires := time.Now().Add(time.Minute)

	require.NoError(t, s.SaveRefreshToken(ctx, models.RefreshToken{TokenHash: hash, UserID: userID, ExpiresAt: expires}))
	require.ErrorIs(t, s.SaveRefreshToken(ctx, models.RefreshToken{TokenHash: hash, UserID: userID, ExpiresAt: expires}), storage.ErrTokenExists)

	got, err := s.RefreshToken(ctx, hash)
	require.NoError(t, err)
	assert.Equal(t, userID, got.UserID)
	assert.False(t, got.Revoked)

	require.NoError(t, s.RevokeRefreshToken(ctx, hash))
	require.ErrorIs(t, s.RevokeRefreshToken(ctx, hash), storage.ErrTokenRevoked)
	require.ErrorIs(t, s.RevokeRefreshToken(ctx, uuid.NewString()), storage.ErrTokenNotFound)

	got, err = s.RefreshToken(ctx, hash)
	require.NoError(t, err)
	assert.True(t, got.Revoked)

	second := uuid.NewString()
	require.NoError(t, s.SaveRefreshToken(ctx, models.RefreshToken{TokenHash: second, UserID: userID, ExpiresAt: expires}))

	n, err := s.RevokeUserRefreshTokens(ctx, userID)
	require.NoError(t, err)
	assert.Equal(t, int64(1), n)

	_, err = s.RefreshToken(ctx, uuid.NewString())
	require.ErrorIs(t, err, storage.ErrTokenNotFound)
}

func TestRefreshToken_ExpiresWithRecord(t *testing.T) {
	ctx := context.Background()
	s, mr := newTestStorage(t)

	hash := uuid.NewString()
	require.NoError(t, s.SaveRefreshToken(ctx, models.RefreshToken{
		TokenHash: hash,
		UserID:    "u",
		ExpiresAt: time.Now().Add(time.Minute),
	}))
	require.NoError(t, s.RevokeRefreshToken(ctx, hash))

	mr.FastForward(2 * time.Minute)

	_, err := s.RefreshToken(ctx, hash)
	require.ErrorIs(t, err, storage.ErrTokenNotFound)
	require.ErrorIs(t, s.RevokeRefreshToken(ctx, hash), storage.ErrTokenNotFound)
}

func TestRevokeUserRefreshTokens_ShorterTokenKeepsUserSet(t *testing.T) {
	ctx := context.Background()
	s, mr := newTestStorage(t)

	now := time.Now()
	require.NoError(t, s.SaveRefreshToken(ctx, models.RefreshToken{TokenHash: "a", UserID: "u", ExpiresAt: now.Add(7 * 24 * time.Hour)}))
	require.NoError(t, s.SaveRefreshToken(ctx, models.RefreshToken{TokenHash: "b", UserID: "u", ExpiresAt: now.Add(time.Hour)}))

	assert.Greater(t, mr.TTL(userTokenPrefix+"u"), 24*time.Hour)

	mr.FastForward(2 * time.Hour)

	n, err := s.RevokeUserRefreshTokens(ctx, "u")
	require.NoError(t, err)
	assert.Equal(t, int64(1), n)

	got, err := s.RefreshToken(ctx, "a")
	require.NoError(t, err)
	assert.True(t, got.Revoked)

	_, err = s.RefreshToken(ctx, "b")
	require.ErrorIs(t, err, storage.ErrTokenNotFound)
}

func TestSaveRefreshToken_LongerTokenExtendsUserSet(t *testing.T) {
	ctx := context.Background()
	s, mr := newTestStorage(t)

	now := time.Now()
	require.NoError(t, s.SaveRefreshToken(ctx, models.RefreshToken{TokenHash: "a", UserID: "u", ExpiresAt: now.Add(time.Hour)}))
	assert.LessOrEqual(t, mr.TTL(userTokenPrefix+"u"), time.Hour)

	require.NoError(t, s.SaveRefreshToken(ctx, models.RefreshToken{TokenHash: "b", UserID: "u", ExpiresAt: now.Add(48 * time.Hour)}))
	assert.Greater(t, mr.TTL(userTokenPrefix+"u"), 24*time.Hour)

	mr.FastForward(2 * time.Hour)

	n, err := s.RevokeUserRefreshTokens(ctx, "u")
	require.NoError(t, err)
	assert.Equal(t, int64(1), n)
}
