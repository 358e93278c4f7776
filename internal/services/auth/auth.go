package auth

import (
	"context"
	"crypto/sha256"
	"encoding/base64"
	"errors"
	"fmt"
	"log/slog"
	"net/mail"
	"strings"
	"sync"
	"time"

	"authsvc/internal/config"
	"authsvc/internal/domain/models"
	"authsvc/internal/lib/hasher"
	"authsvc/internal/lib/jwt"
	"authsvc/internal/lib/sl"
	"authsvc/internal/storage"
)

const minPasswordLen = 6

type Auth struct {
	log           *slog.Logger
	userSaver     UserSaver
	userProvider  UserProvider
	tokenProvider RefreshTokenProvider
	tokens        config.TokensConfig
	now           func() time.Time

	// dummyHash is compared against when the email is unknown, so that a
	// miss costs the same bcrypt round as a wrong password.
	dummyHash []byte
}

type UserSaver interface {
	// SaveUser persists user under a new id. It must return
	// storage.ErrUserExists when the email is taken, atomically with the insert.
	SaveUser(ctx context.Context, user models.User) (*models.User, error)
}

type UserProvider interface {
	// User looks a user up by normalized email, password hash included.
	User(ctx context.Context, email string) (*models.User, error)
	UserByID(ctx context.Context, userID string) (*models.User, error)
	Users(ctx context.Context) ([]models.User, error)
}

type RefreshTokenProvider interface {
	SaveRefreshToken(ctx context.Context, token models.RefreshToken) error
	// RefreshToken must return revoked rows too.
	RefreshToken(ctx context.Context, tokenHash string) (*models.RefreshToken, error)
	// RevokeRefreshToken must fail with storage.ErrTokenRevoked when the row
	// is already revoked.
	RevokeRefreshToken(ctx context.Context, tokenHash string) error
	RevokeUserRefreshTokens(ctx context.Context, userID string) (int64, error)
}

var sharedDummyHash = sync.OnceValue(func() []byte {
	h, err := hasher.Hash("not-a-real-password")
	if err != nil {
		panic(err)
	}
	return h
})

// New returns a new instance of the Auth service.
func New(
	log *slog.Logger,
	userSaver UserSaver,
	userProvider UserProvider,
	tokenProvider RefreshTokenProvider,
	tokens config.TokensConfig,
) *Auth {
	return &Auth{
		log:           log,
		userSaver:     userSaver,
		userProvider:  userProvider,
		tokenProvider: tokenProvider,
		tokens:        tokens,
		now:           time.Now,
		dummyHash:     sharedDummyHash(),
	}
}

// Register creates a user with the default role and returns its view.
func (a *Auth) Register(
	ctx context.Context,
	email string,
	password string,
	firstName string,
	lastName string,
) (models.UserView, error) {
	const op = "auth.Register"

	email = normalizeEmail(email)
	log := a.log.With(
		slog.String("op", op),
		slog.String("email", email),
	)
	log.Info("registering user")

	if err := validateEmail(email); err != nil {
		return models.UserView{}, fmt.Errorf("%s: %w", op, err)
	}
	if len(password) < minPasswordLen || len(password) > hasher.MaxPasswordLen {
		return models.UserView{}, fmt.Errorf("%s: %w", op, ErrInvalidPassword)
	}

	_, err := a.userProvider.User(ctx, email)
	switch {
	case err == nil:
		log.Warn("user already exists")
		return models.UserView{}, fmt.Errorf("%s: %w", op, ErrEmailTaken)
	case !errors.Is(err, storage.ErrUserNotFound):
		log.Error("failed to look up user", sl.Err(err))
		return models.UserView{}, unavailable(op, err)
	}

	passHash, err := hasher.Hash(password)
	if err != nil {
		log.Error("failed to generate password hash", sl.Err(err))
		return models.UserView{}, fmt.Errorf("%s: %w", op, ErrInvalidPassword)
	}

	user, err := a.userSaver.SaveUser(ctx, models.User{
		Email:     email,
		PassHash:  passHash,
		FirstName: strings.TrimSpace(firstName),
		LastName:  strings.TrimSpace(lastName),
		IsActive:  true,
		Roles:     []string{models.DefaultRole},
	})
	if err != nil {
		if errors.Is(err, storage.ErrUserExists) {
			// lost a race against a concurrent registration
			log.Warn("user already exists", sl.Err(err))
			return models.UserView{}, fmt.Errorf("%s: %w", op, ErrEmailTaken)
		}
		log.Error("failed to save user", sl.Err(err))
		return models.UserView{}, unavailable(op, err)
	}

	log.Info("user registered", slog.String("userID", user.ID))

	return user.View(), nil
}

// Login checks the credentials and issues a new token pair. Unknown email,
// wrong password and inactive account fail with the same error.
func (a *Auth) Login(
	ctx context.Context,
	email string,
	password string,
) (models.TokenPair, models.UserView, error) {
	const op = "auth.Login"

	email = normalizeEmail(email)
	log := a.log.With(slog.String("op", op))
	log.Info("login request", slog.String("email", email))

	user, err := a.userProvider.User(ctx, email)
	if err != nil {
		if errors.Is(err, storage.ErrUserNotFound) {
			hasher.Verify(password, a.dummyHash)
			log.Warn("user not found")
			return models.TokenPair{}, models.UserView{}, fmt.Errorf("%s: %w", op, ErrInvalidCredentials)
		}
		log.Error("failed to get user", sl.Err(err))
		return models.TokenPair{}, models.UserView{}, unavailable(op, err)
	}

	if !hasher.Verify(password, user.PassHash) {
		log.Warn("invalid password", slog.String("userID", user.ID))
		return models.TokenPair{}, models.UserView{}, fmt.Errorf("%s: %w", op, ErrInvalidCredentials)
	}

	if !user.IsActive {
		log.Warn("inactive user", slog.String("userID", user.ID))
		return models.TokenPair{}, models.UserView{}, fmt.Errorf("%s: %w", op, ErrInvalidCredentials)
	}

	pair, err := a.issueTokens(ctx, user.ID, user.Email)
	if err != nil {
		log.Error("failed to issue tokens", sl.Err(err))
		return models.TokenPair{}, models.UserView{}, fmt.Errorf("%s: %w", op, err)
	}

	log.Info("user logged in", slog.String("userID", user.ID))

	return pair, user.View(), nil
}

// Refresh exchanges a valid refresh token for a new pair. The presented token
// is revoked before the new pair is returned, so each token works once.
func (a *Auth) Refresh(ctx context.Context, refreshToken string) (models.TokenPair, error) {
	const op = "auth.Refresh"

	log := a.log.With(slog.String("op", op))
	log.Info("refresh request")

	if refreshToken == "" {
		return models.TokenPair{}, fmt.Errorf("%s: %w", op, ErrInvalidRefreshToken)
	}

	tokenHash := a.hashRefreshToken(refreshToken)

	record, err := a.tokenProvider.RefreshToken(ctx, tokenHash)
	if err != nil {
		if errors.Is(err, storage.ErrTokenNotFound) {
			log.Warn("refresh token not found")
			return models.TokenPair{}, fmt.Errorf("%s: %w", op, ErrInvalidRefreshToken)
		}
		log.Error("failed to get refresh token", sl.Err(err))
		return models.TokenPair{}, unavailable(op, err)
	}

	if record.Revoked {
		log.Warn("revoked refresh token presented", slog.String("userID", record.UserID))
		if a.tokens.RevokeFamilyOnReuse {
			a.revokeFamily(ctx, log, record.UserID)
		}
		return models.TokenPair{}, fmt.Errorf("%s: %w", op, ErrInvalidRefreshToken)
	}

	now := a.now()
	if !record.Usable(now) {
		log.Warn("refresh token expired", slog.String("userID", record.UserID))
		return models.TokenPair{}, fmt.Errorf("%s: %w", op, ErrRefreshTokenExpired)
	}

	claims, err := jwt.Verify(refreshToken, a.tokens.RefreshSecret, now)
	if err != nil || claims.Subject != record.UserID {
		log.Warn("refresh token failed verification", slog.String("userID", record.UserID))
		return models.TokenPair{}, fmt.Errorf("%s: %w", op, ErrInvalidRefreshToken)
	}

	if err := a.tokenProvider.RevokeRefreshToken(ctx, tokenHash); err != nil {
		if errors.Is(err, storage.ErrTokenRevoked) || errors.Is(err, storage.ErrTokenNotFound) {
			log.Warn("refresh token consumed concurrently", slog.String("userID", record.UserID))
			return models.TokenPair{}, fmt.Errorf("%s: %w", op, ErrInvalidRefreshToken)
		}
		log.Error("failed to revoke refresh token", sl.Err(err))
		return models.TokenPair{}, unavailable(op, err)
	}

	pair, err := a.issueTokens(ctx, claims.Subject, claims.Email)
	if err != nil {
		log.Error("failed to issue tokens", sl.Err(err))
		return models.TokenPair{}, fmt.Errorf("%s: %w", op, err)
	}

	log.Info("tokens refreshed", slog.String("userID", claims.Subject))

	return pair, nil
}

// Logout revokes a single refresh token.
func (a *Auth) Logout(ctx context.Context, refreshToken string) error {
	const op = "auth.Logout"

	log := a.log.With(slog.String("op", op))
	log.Info("logout request")

	if refreshToken == "" {
		return fmt.Errorf("%s: %w", op, ErrInvalidRefreshToken)
	}

	if err := a.tokenProvider.RevokeRefreshToken(ctx, a.hashRefreshToken(refreshToken)); err != nil {
		if errors.Is(err, storage.ErrTokenRevoked) || errors.Is(err, storage.ErrTokenNotFound) {
			log.Warn("unknown or revoked refresh token")
			return fmt.Errorf("%s: %w", op, ErrInvalidRefreshToken)
		}
		log.Error("failed to revoke refresh token", sl.Err(err))
		return unavailable(op, err)
	}

	log.Info("refresh token revoked")

	return nil
}

// LogoutAll revokes every outstanding refresh token of the user and returns
// how many were revoked.
func (a *Auth) LogoutAll(ctx context.Context, userID string) (int64, error) {
	const op = "auth.LogoutAll"

	log := a.log.With(
		slog.String("op", op),
		slog.String("userID", userID),
	)

	n, err := a.tokenProvider.RevokeUserRefreshTokens(ctx, userID)
	if err != nil {
		log.Error("failed to revoke refresh tokens", sl.Err(err))
		return 0, unavailable(op, err)
	}

	log.Info("refresh tokens revoked", slog.Int64("count", n))

	return n, nil
}

// User returns the view of the user with the given id.
func (a *Auth) User(ctx context.Context, userID string) (models.UserView, error) {
	const op = "auth.User"

	user, err := a.userProvider.UserByID(ctx, userID)
	if err != nil {
		if errors.Is(err, storage.ErrUserNotFound) {
			return models.UserView{}, fmt.Errorf("%s: %w", op, ErrUserNotFound)
		}
		a.log.Error("failed to get user", slog.String("op", op), sl.Err(err))
		return models.UserView{}, unavailable(op, err)
	}

	return user.View(), nil
}

// ListUsers returns the views of all users.
func (a *Auth) ListUsers(ctx context.Context) ([]models.UserView, error) {
	const op = "auth.ListUsers"

	users, err := a.userProvider.Users(ctx)
	if err != nil {
		a.log.Error("failed to list users", slog.String("op", op), sl.Err(err))
		return nil, unavailable(op, err)
	}

	views := make([]models.UserView, 0, len(users))
	for i := range users {
		views = append(views, users[i].View())
	}

	return views, nil
}

// issueTokens signs both tokens from a single instant and persists the
// refresh row with the expiry the signer embedded, so the two cannot drift.
func (a *Auth) issueTokens(ctx context.Context, userID, email string) (models.TokenPair, error) {
	now := a.now()

	accessToken, accessExpiresAt, err := jwt.Issue(userID, email, a.tokens.AccessSecret, a.tokens.AccessTTL, now)
	if err != nil {
		return models.TokenPair{}, fmt.Errorf("access token: %w", err)
	}

	refreshToken, refreshExpiresAt, err := jwt.Issue(userID, email, a.tokens.RefreshSecret, a.tokens.RefreshTTL, now)
	if err != nil {
		return models.TokenPair{}, fmt.Errorf("refresh token: %w", err)
	}

	err = a.tokenProvider.SaveRefreshToken(ctx, models.RefreshToken{
		TokenHash: a.hashRefreshToken(refreshToken),
		UserID:    userID,
		CreatedAt: now.UTC(),
		ExpiresAt: refreshExpiresAt.UTC(),
	})
	if err != nil {
		return models.TokenPair{}, fmt.Errorf("%w: save refresh token: %w", ErrUnavailable, err)
	}

	return models.TokenPair{
		AccessToken:      accessToken,
		RefreshToken:     refreshToken,
		AccessExpiresAt:  accessExpiresAt,
		RefreshExpiresAt: refreshExpiresAt,
	}, nil
}

func (a *Auth) revokeFamily(ctx context.Context, log *slog.Logger, userID string) {
	n, err := a.tokenProvider.RevokeUserRefreshTokens(ctx, userID)
	if err != nil {
		log.Error("failed to revoke token family", sl.Err(err))
		return
	}
	log.Warn("token family revoked after reuse", slog.String("userID", userID), slog.Int64("count", n))
}

// hashRefreshToken computes the SHA-256 digest of the token with pepper; only
// the digest is stored.
func (a *Auth) hashRefreshToken(token string) string {
	h := sha256.New()
	h.Write([]byte(token + a.tokens.RefreshPepper))
	return base64.RawURLEncoding.EncodeToString(h.Sum(nil))
}

func normalizeEmail(email string) string {
	return strings.ToLower(strings.TrimSpace(email))
}

func validateEmail(email string) error {
	addr, err := mail.ParseAddress(email)
	if err != nil || addr.Address != email {
		return ErrInvalidEmail
	}
	return nil
}

func unavailable(op string, err error) error {
	return fmt.Errorf("%s: %w: %w", op, ErrUnavailable, err)
}
